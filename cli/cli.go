// Package cli provides the command-line interface for codata.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"fmt"
	"io"
	"os"
)

// Version is the codata release.
const Version = "0.1.0"

// Output streams, replaceable in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	if len(args) < 1 {
		printHelp(hooks)
		return 1
	}

	command := args[0]
	cmdArgs := args[1:]

	if hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "host":
		return runHost(cmdArgs)
	case "contexts", "context", "records", "insert", "update", "delete", "replace",
		"create-context", "delete-context":
		return runDataCommand(command, cmdArgs)
	case "watch":
		return runWatch(cmdArgs)
	case "script":
		return runScript(cmdArgs)
	case "mcp":
		return runMCP(cmdArgs)
	case "help", "-h", "--help":
		printHelp(hooks)
		return 0
	case "version", "--version":
		printVersion(hooks)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printHelp(hooks)
		return 1
	}
}

func printHelp(hooks *Hooks) {
	fmt.Fprintln(stdout, `codata - client for a hierarchical data store

Usage: codata <command> [options] [arguments]

Host Commands:
  host            Run a local host (websocket /ws, optional packet socket)

Data Commands:
  contexts                        List data contexts
  context NAME                    Show a context's collections
  records NAME                    Show a context's flattened records
  create-context NAME COLLECTIONS_JSON [TITLE]
                                  Create a context
  delete-context NAME             Delete a context
  insert NAME ITEMS_JSON          Insert records, e.g. '[{"name":"cat"}]'
  update NAME CASE_ID VALUES_JSON Set values of one case
  delete NAME CASE_ID             Delete a case and its descendants
  replace NAME COLLECTIONS_JSON [ITEMS_JSON]
                                  Replace the collection hierarchy and data
  watch [NAME...]                 Print change events until interrupted
  script FILE                     Run a Lua script against the host
  mcp                             Serve MCP tools on stdio

Client Options (before arguments):
  --url           Host websocket URL (default: ws://127.0.0.1:8000/ws)
  --socket        Host packet socket path (instead of --url)
  --timeout       Per-call deadline (default: none)
  --watch         With script: re-run when the file changes
  -v, -vv, -vvv   Verbosity

Host Options:
  --host          Listen address (default: 127.0.0.1)
  --port          Listen port (default: 8000)
  --host-socket   Packet socket path (default: disabled)
  --debounce      Notification batching window (default: 10ms)
  --storage       Storage type: memory, sqlite, postgresql
  --storage-path  SQLite database path
  --storage-url   PostgreSQL connection URL
  --log-level     Log level: debug, info, warn, error

Configuration is read from codata.toml (--config) and CODATA_* variables;
flags take priority.

Examples:
  codata host --port 8000 --storage sqlite
  codata records Mammals
  codata create-context Mammals '[{"name":"animals","attrs":[{"name":"name"}]}]'
  codata contexts --socket /tmp/codata.sock
  codata replace Mammals '[{"name":"orders","attrs":[{"name":"order"}]},{"name":"animals"}]'`)

	if hooks != nil && hooks.CustomHelp != nil {
		fmt.Fprintln(stdout, hooks.CustomHelp())
	}
}

func printVersion(hooks *Hooks) {
	fmt.Fprintf(stdout, "codata v%s\n", Version)
	if hooks != nil && hooks.CustomVersion != nil {
		fmt.Fprintln(stdout, hooks.CustomVersion())
	}
}
