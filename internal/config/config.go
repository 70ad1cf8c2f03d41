// Package config handles configuration loading from CLI flags, environment
// variables, and TOML files.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Config holds all configuration settings.
type Config struct {
	Client  ClientConfig  `toml:"client"`
	Host    HostConfig    `toml:"host"`
	Storage StorageConfig `toml:"storage"`
	Script  ScriptConfig  `toml:"script"`
	Logging LoggingConfig `toml:"logging"`

	// Args holds the positional arguments left after flag parsing.
	Args []string `toml:"-"`

	logOutput io.Writer
	logger    *slog.Logger
	logOnce   sync.Once
}

// ClientConfig says how to reach a host.
type ClientConfig struct {
	URL     string   `toml:"url"`     // websocket URL, e.g. ws://localhost:8000/ws
	Socket  string   `toml:"socket"`  // packet socket path; used when URL is empty
	Timeout Duration `toml:"timeout"` // per-call deadline (0 = wait forever)
}

// HostConfig holds host simulator settings.
type HostConfig struct {
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	Socket   string   `toml:"socket"`   // packet socket path ("" = disabled)
	Debounce Duration `toml:"debounce"` // notification batching window
}

// StorageConfig holds storage-related settings.
type StorageConfig struct {
	Type string `toml:"type"` // "memory", "sqlite", "postgresql"
	Path string `toml:"path"` // SQLite file path
	URL  string `toml:"url"`  // PostgreSQL connection URL
}

// ScriptConfig holds Lua script settings.
type ScriptConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `toml:"level"`     // "debug", "info", "warn", "error"
	Verbosity int    `toml:"verbosity"` // 0=errors, 1=connections, 2=messages, 3=cache, 4=payloads
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] == 'v' && strings.Trim(arg[1:], "v") == "" {
			for range arg[1:] {
				result = append(result, "-v")
			}
			continue
		}
		result = append(result, arg)
	}
	return result
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			URL: "ws://127.0.0.1:8000/ws",
		},
		Host: HostConfig{
			Host:     "127.0.0.1",
			Port:     8000,
			Debounce: Duration(10 * time.Millisecond),
		},
		Storage: StorageConfig{
			Type: "memory",
			Path: "codata.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultSocketPath returns the platform-specific default packet socket path.
func DefaultSocketPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\codata`
	}
	return "/tmp/codata.sock"
}

// Load loads configuration from CLI flags, environment variables, and a TOML
// file. Priority: CLI flags > env vars > TOML file > defaults.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet("codata", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "codata.toml", "TOML configuration file")

	// Client flags
	url := fs.String("url", "", "Host websocket URL")
	socket := fs.String("socket", "", "Host packet socket path (instead of --url)")
	timeout := fs.Duration("timeout", 0, "Per-call deadline (0 = wait forever)")

	// Host flags
	host := fs.String("host", "", "Host simulator listen address")
	port := fs.Int("port", 0, "Host simulator listen port")
	hostSocket := fs.String("host-socket", "", "Host simulator packet socket path")
	debounce := fs.Duration("debounce", 0, "Notification batching window")

	// Storage flags
	storage := fs.String("storage", "", "Storage type: memory, sqlite, postgresql")
	storagePath := fs.String("storage-path", "", "SQLite database path")
	storageURL := fs.String("storage-url", "", "PostgreSQL connection URL")

	// Script flags
	watch := fs.Bool("watch", false, "Re-run the script when it changes")

	// Logging flags
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.loadTOML(*configPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *url != "" {
		cfg.Client.URL = *url
	}
	if *socket != "" {
		cfg.Client.Socket = *socket
		if !set["url"] {
			cfg.Client.URL = ""
		}
	}
	if set["timeout"] {
		cfg.Client.Timeout = Duration(*timeout)
	}
	if *host != "" {
		cfg.Host.Host = *host
	}
	if set["port"] {
		cfg.Host.Port = *port
	}
	if *hostSocket != "" {
		cfg.Host.Socket = *hostSocket
	}
	if set["debounce"] {
		cfg.Host.Debounce = Duration(*debounce)
	}
	if *storage != "" {
		cfg.Storage.Type = *storage
	}
	if *storagePath != "" {
		cfg.Storage.Path = *storagePath
	}
	if *storageURL != "" {
		cfg.Storage.URL = *storageURL
	}
	if set["watch"] {
		cfg.Script.Watch = *watch
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	cfg.Args = fs.Args()
	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies CODATA_* environment variable overrides.
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"CODATA_URL":          &c.Client.URL,
		"CODATA_SOCKET":       &c.Client.Socket,
		"CODATA_HOST":         &c.Host.Host,
		"CODATA_HOST_SOCKET":  &c.Host.Socket,
		"CODATA_STORAGE":      &c.Storage.Type,
		"CODATA_STORAGE_PATH": &c.Storage.Path,
		"CODATA_STORAGE_URL":  &c.Storage.URL,
		"CODATA_SCRIPT":       &c.Script.Path,
		"CODATA_LOG_LEVEL":    &c.Logging.Level,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CODATA_PORT":      &c.Host.Port,
		"CODATA_VERBOSITY": &c.Logging.Verbosity,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"CODATA_TIMEOUT":  &c.Client.Timeout,
		"CODATA_DEBOUNCE": &c.Host.Debounce,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = Duration(d)
		}
	}

	if v := os.Getenv("CODATA_WATCH"); v != "" {
		c.Script.Watch = v == "true" || v == "1"
	}
	return nil
}

// Verbosity returns the configured verbosity level (0-4).
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}

// SetLogOutput redirects logging; it must be called before the first Log.
func (c *Config) SetLogOutput(w io.Writer) {
	c.logOutput = w
}

// Logger returns the process logger: tint-formatted, colored when writing
// to a terminal.
func (c *Config) Logger() *slog.Logger {
	c.logOnce.Do(func() {
		c.logger = NewLogger(c.logOutput, c.slogLevel())
	})
	return c.logger
}

// NewLogger builds a tint logger on w (stderr when nil).
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	noColor := true
	if w == nil {
		w = colorable.NewColorable(os.Stderr)
		noColor = !isatty.IsTerminal(os.Stderr.Fd())
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))
}

func (c *Config) slogLevel() slog.Level {
	if c.Logging.Verbosity >= 3 {
		return slog.LevelDebug
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Log writes a message if level is within the configured verbosity.
// Level 0 messages are always written.
func (c *Config) Log(level int, format string, args ...any) {
	if level > c.Logging.Verbosity {
		return
	}
	c.Logger().Info(fmt.Sprintf(format, args...), "v", level)
}
