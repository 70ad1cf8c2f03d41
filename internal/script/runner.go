// Package script runs Lua scripts against a data access client. Scripts see
// a global "data" table:
//
//	data.contexts()                      -> { {id=, name=, title=}, ... }
//	data.context(name)                   -> {name=, title=, collections={...}}
//	data.records(name)                   -> { {attr=value, ...}, ... }
//	data.insert(name, items)             -> { id, ... }
//	data.update(name, caseID, values)
//	data.delete(name, caseID)
//	data.replace(name, collections, items)
//	data.log(message)
//
// Failed operations raise a Lua error; wrap calls in pcall to handle them.
package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/zot/codata/internal/config"
	"github.com/zot/codata/internal/model"
)

// Data is the access surface scripts use. *client.Client implements it.
type Data interface {
	ListContexts(ctx context.Context) ([]model.ContextInfo, error)
	GetContext(ctx context.Context, name string) (*model.Context, error)
	GetData(ctx context.Context, name string) ([]model.Record, error)
	InsertItems(ctx context.Context, name string, items []model.Record) ([]int64, error)
	UpdateCase(ctx context.Context, name string, id int64, values map[string]any) error
	DeleteCase(ctx context.Context, name string, id int64) error
	ReplaceCollections(ctx context.Context, name string, requested []model.Collection, items []model.Record) error
}

// Runner executes scripts one at a time, each in a fresh Lua state.
type Runner struct {
	config *config.Config
	data   Data
	mu     sync.Mutex
	runs   int
}

// NewRunner creates a runner over data.
func NewRunner(cfg *config.Config, data Data) *Runner {
	return &Runner{config: cfg, data: data}
}

// Runs returns how many scripts have been started.
func (r *Runner) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// RunFile reads and runs a script file.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return r.Run(ctx, filepath.Base(path), string(code))
}

// Run executes code. ctx bounds every data call the script makes.
func (r *Runner) Run(ctx context.Context, name, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	L.SetGlobal("data", r.dataTable(L, ctx))

	fn, err := L.Load(strings.NewReader(code), name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	r.config.Log(2, "Script %s finished", name)
	return nil
}

func (r *Runner) dataTable(L *lua.LState, ctx context.Context) *lua.LTable {
	tbl := L.NewTable()
	fns := map[string]lua.LGFunction{
		"contexts": func(L *lua.LState) int {
			infos, err := r.data.ListContexts(ctx)
			return pushResult(L, infos, err)
		},
		"context": func(L *lua.LState) int {
			dc, err := r.data.GetContext(ctx, L.CheckString(1))
			return pushResult(L, dc, err)
		},
		"records": func(L *lua.LState) int {
			records, err := r.data.GetData(ctx, L.CheckString(1))
			if records == nil {
				records = []model.Record{}
			}
			return pushResult(L, records, err)
		},
		"insert": func(L *lua.LState) int {
			name := L.CheckString(1)
			var items []model.Record
			if err := fromLua(L.CheckTable(2), &items); err != nil {
				L.ArgError(2, err.Error())
			}
			ids, err := r.data.InsertItems(ctx, name, items)
			if ids == nil {
				ids = []int64{}
			}
			return pushResult(L, ids, err)
		},
		"update": func(L *lua.LState) int {
			name := L.CheckString(1)
			id := L.CheckInt64(2)
			var values map[string]any
			if err := fromLua(L.CheckTable(3), &values); err != nil {
				L.ArgError(3, err.Error())
			}
			return pushResult(L, nil, r.data.UpdateCase(ctx, name, id, values))
		},
		"delete": func(L *lua.LState) int {
			return pushResult(L, nil, r.data.DeleteCase(ctx, L.CheckString(1), L.CheckInt64(2)))
		},
		"replace": func(L *lua.LState) int {
			name := L.CheckString(1)
			var colls []model.Collection
			if err := fromLua(L.CheckTable(2), &colls); err != nil {
				L.ArgError(2, err.Error())
			}
			var items []model.Record
			if L.GetTop() >= 3 {
				if err := fromLua(L.CheckTable(3), &items); err != nil {
					L.ArgError(3, err.Error())
				}
			}
			return pushResult(L, nil, r.data.ReplaceCollections(ctx, name, colls, items))
		},
		"log": func(L *lua.LState) int {
			r.config.Log(0, "[lua] %s", L.ToStringMeta(L.Get(1)).String())
			return 0
		},
	}
	for name, fn := range fns {
		L.SetField(tbl, name, L.NewFunction(fn))
	}
	return tbl
}

// pushResult raises err as a Lua error, or pushes value (nothing for nil).
func pushResult(L *lua.LState, value any, err error) int {
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if value == nil {
		return 0
	}
	lv, err := toLua(L, value)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(lv)
	return 1
}
