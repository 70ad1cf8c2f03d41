package storage

import (
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage is a SQLite storage backend.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStorage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init creates the necessary tables.
func (s *SQLiteStorage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS contexts (
			name TEXT PRIMARY KEY,
			data TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);
	`)
	return err
}

func (s *SQLiteStorage) Store(d *ContextData) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO contexts (name, data) VALUES (?, ?)`, d.Name, string(d.Data))
	return err
}

func (s *SQLiteStorage) Load(name string) (*ContextData, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM contexts WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, err
	}
	return &ContextData{Name: name, Data: []byte(data)}, nil
}

func (s *SQLiteStorage) Delete(name string) error {
	_, err := s.db.Exec("DELETE FROM contexts WHERE name = ?", name)
	return err
}

func (s *SQLiteStorage) List() ([]string, error) {
	return listNames(s.db, "SELECT name FROM contexts ORDER BY name")
}

func (s *SQLiteStorage) Exists(name string) bool {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM contexts WHERE name = ?", name).Scan(&count)
	return err == nil && count > 0
}

func (s *SQLiteStorage) NextID() (int64, error) {
	return readNextID(s.db, "SELECT value FROM meta WHERE key = 'next_id'")
}

func (s *SQLiteStorage) Clear() error {
	_, err := s.db.Exec("DELETE FROM contexts; DELETE FROM meta;")
	return err
}

func (s *SQLiteStorage) BeginTransaction() (Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	return &sqliteTransaction{tx: tx}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// sqliteTransaction implements Transaction for SQLite.
type sqliteTransaction struct {
	tx *sql.Tx
}

func (t *sqliteTransaction) Store(d *ContextData) error {
	_, err := t.tx.Exec(`INSERT OR REPLACE INTO contexts (name, data) VALUES (?, ?)`, d.Name, string(d.Data))
	return err
}

func (t *sqliteTransaction) Delete(name string) error {
	_, err := t.tx.Exec("DELETE FROM contexts WHERE name = ?", name)
	return err
}

func (t *sqliteTransaction) SetNextID(id int64) error {
	_, err := t.tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('next_id', ?)`, id)
	return err
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

func listNames(db *sql.DB, query string) ([]string, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func readNextID(db *sql.DB, query string) (int64, error) {
	var id int64
	err := db.QueryRow(query).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}
