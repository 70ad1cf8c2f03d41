package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zot/codata/internal/config"
	"github.com/zot/codata/internal/host"
)

// capture redirects command output for the duration of a test.
func capture(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	oldOut, oldErr := stdout, stderr
	stdout, stderr = out, errOut
	t.Cleanup(func() { stdout, stderr = oldOut, oldErr })
	return out, errOut
}

func startHost(t *testing.T) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SetLogOutput(io.Discard)
	cfg.Host.Port = 0
	cfg.Host.Debounce = 0
	srv, err := host.New(cfg)
	require.NoError(t, err)
	url, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return url
}

func TestVersionAndHelp(t *testing.T) {
	out, _ := capture(t)
	assert.Equal(t, 0, Run([]string{"version"}))
	assert.Contains(t, out.String(), "codata v"+Version)

	out.Reset()
	assert.Equal(t, 0, Run([]string{"help"}))
	assert.Contains(t, out.String(), "replace NAME COLLECTIONS_JSON")

	assert.Equal(t, 1, Run(nil))
}

func TestUnknownCommand(t *testing.T) {
	_, errOut := capture(t)
	assert.Equal(t, 1, Run([]string{"frobnicate"}))
	assert.Contains(t, errOut.String(), "Unknown command: frobnicate")
}

func TestHooks(t *testing.T) {
	out, _ := capture(t)
	hooks := &Hooks{
		BeforeDispatch: func(command string, args []string) (bool, int) {
			if command == "ping" {
				fmt.Fprintln(stdout, "pong", len(args))
				return true, 7
			}
			return false, 0
		},
		CustomVersion: func() string { return "extended" },
	}
	assert.Equal(t, 7, RunWithHooks([]string{"ping", "a", "b"}, hooks))
	assert.Equal(t, "pong 2\n", out.String())

	out.Reset()
	assert.Equal(t, 0, RunWithHooks([]string{"version"}, hooks))
	assert.Contains(t, out.String(), "extended")
}

func TestDataCommands(t *testing.T) {
	url := startHost(t)
	out, errOut := capture(t)
	run := func(args ...string) string {
		t.Helper()
		out.Reset()
		cmd := append([]string{args[0], "-url", url}, args[1:]...)
		require.Equal(t, 0, Run(cmd), "%v: %s", args, errOut.String())
		return out.String()
	}

	assert.JSONEq(t, `[]`, run("contexts"))

	run("create-context", "family",
		`[{"name":"parents","attrs":[{"name":"last"}]},{"name":"children","attrs":[{"name":"first"}]}]`,
		"The Family")
	assert.Contains(t, run("contexts"), `"The Family"`)
	assert.Contains(t, run("context", "family"), `"children"`)

	var ids []int64
	require.NoError(t, json.Unmarshal([]byte(run("insert", "family",
		`[{"last":"Smith","first":"Ann"},{"last":"Smith","first":"Bob"}]`)), &ids))
	require.Len(t, ids, 2)

	records := run("records", "family")
	assert.Contains(t, records, `"Ann"`)
	assert.Contains(t, records, `"Bob"`)

	run("update", "family", fmt.Sprint(ids[0]), `{"first":"Anne"}`)
	assert.Contains(t, run("records", "family"), `"Anne"`)

	run("delete", "family", fmt.Sprint(ids[1]))
	assert.NotContains(t, run("records", "family"), `"Bob"`)

	run("replace", "family", `[{"name":"people","attrs":[{"name":"first"},{"name":"last"}]}]`,
		`[{"first":"Cy","last":"Jones"}]`)
	ctxJSON := run("context", "family")
	assert.Contains(t, ctxJSON, `"people"`)
	assert.NotContains(t, ctxJSON, `"parents"`)
	assert.Contains(t, run("records", "family"), `"Cy"`)

	run("delete-context", "family")
	assert.JSONEq(t, `[]`, run("contexts"))
}

func TestDataCommandErrors(t *testing.T) {
	url := startHost(t)
	_, errOut := capture(t)

	assert.Equal(t, 1, Run([]string{"update", "-url", url, "family"}))
	assert.Contains(t, errOut.String(), "update needs 3 argument(s)")

	errOut.Reset()
	assert.Equal(t, 1, Run([]string{"delete", "-url", url, "family", "zero"}))
	assert.Contains(t, errOut.String(), `invalid case id "zero"`)

	errOut.Reset()
	assert.Equal(t, 1, Run([]string{"insert", "-url", url, "family", "{"}))
	assert.Contains(t, errOut.String(), "invalid items JSON")

	errOut.Reset()
	assert.Equal(t, 1, Run([]string{"context", "-url", url, "missing"}))
	assert.True(t, strings.HasPrefix(errOut.String(), "Error: "))
}
