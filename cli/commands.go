package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/zot/codata/internal/client"
	"github.com/zot/codata/internal/config"
	"github.com/zot/codata/internal/host"
	"github.com/zot/codata/internal/mcp"
	"github.com/zot/codata/internal/model"
	"github.com/zot/codata/internal/script"
	"github.com/zot/codata/internal/transport"
)

// interrupted returns a context cancelled on SIGINT or SIGTERM.
func interrupted() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadConfig(args []string) (*config.Config, bool) {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return nil, false
	}
	return cfg, true
}

// connect dials the configured host: the websocket URL when set, otherwise
// the packet socket.
func connect(ctx context.Context, cfg *config.Config) (*client.Client, *transport.Conn, error) {
	var conn *transport.Conn
	var err error
	switch {
	case cfg.Client.URL != "":
		conn, err = transport.DialWebSocket(ctx, cfg.Client.URL, cfg.Logger())
	case cfg.Client.Socket != "":
		conn, err = transport.DialPacket(ctx, "unix", cfg.Client.Socket, cfg.Logger())
	default:
		err = errors.New("no host configured: set --url or --socket")
	}
	if err != nil {
		return nil, nil, err
	}
	c := client.New(conn,
		client.WithTimeout(cfg.Client.Timeout.Duration()),
		client.WithLogger(cfg.Logger()))
	return c, conn, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}

func runHost(args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	srv, err := host.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating host: %v\n", err)
		return 1
	}
	url, err := srv.Start()
	if err != nil {
		fmt.Fprintf(stderr, "Error starting host: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "codata host on %s\n", url)
	if _, addr := srv.SocketAddr(); addr != "" {
		fmt.Fprintf(stdout, "packet socket on %s\n", addr)
	}

	ctx, stop := interrupted()
	defer stop()
	<-ctx.Done()
	cfg.Log(0, "Shutting down host")
	if err := srv.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(stderr, "Error during shutdown: %v\n", err)
		return 1
	}
	return 0
}

// runDataCommand runs one read or write against the host and prints the result.
func runDataCommand(command string, args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	ctx, stop := interrupted()
	defer stop()

	c, conn, err := connect(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error connecting: %v\n", err)
		return 1
	}
	defer conn.Close()
	defer c.Close()

	if err := dataCommand(ctx, c, command, cfg.Args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func dataCommand(ctx context.Context, c *client.Client, command string, args []string) error {
	need := map[string]int{
		"contexts": 0, "context": 1, "records": 1, "insert": 2,
		"update": 3, "delete": 2, "replace": 2,
		"create-context": 2, "delete-context": 1,
	}[command]
	if len(args) < need {
		return fmt.Errorf("%s needs %d argument(s), got %d", command, need, len(args))
	}

	switch command {
	case "contexts":
		infos, err := c.ListContexts(ctx)
		if err != nil {
			return err
		}
		if infos == nil {
			infos = []model.ContextInfo{}
		}
		return printJSON(infos)
	case "context":
		dc, err := c.GetContext(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(dc)
	case "records":
		records, err := c.GetData(ctx, args[0])
		if err != nil {
			return err
		}
		if records == nil {
			records = []model.Record{}
		}
		return printJSON(records)
	case "create-context":
		dc := &model.Context{Name: args[0]}
		if len(args) > 2 {
			dc.Title = args[2]
		}
		if err := decodeArg("collections", args[1], &dc.Collections); err != nil {
			return err
		}
		return c.CreateContext(ctx, dc)
	case "delete-context":
		return c.DeleteContext(ctx, args[0])
	case "insert":
		var items []model.Record
		if err := decodeArg("items", args[1], &items); err != nil {
			return err
		}
		ids, err := c.InsertItems(ctx, args[0], items)
		if err != nil {
			return err
		}
		return printJSON(ids)
	case "update":
		id, err := parseCaseID(args[1])
		if err != nil {
			return err
		}
		var values map[string]any
		if err := decodeArg("values", args[2], &values); err != nil {
			return err
		}
		return c.UpdateCase(ctx, args[0], id, values)
	case "delete":
		id, err := parseCaseID(args[1])
		if err != nil {
			return err
		}
		return c.DeleteCase(ctx, args[0], id)
	case "replace":
		var colls []model.Collection
		if err := decodeArg("collections", args[1], &colls); err != nil {
			return err
		}
		var items []model.Record
		if len(args) > 2 {
			if err := decodeArg("items", args[2], &items); err != nil {
				return err
			}
		}
		return c.ReplaceCollections(ctx, args[0], colls, items)
	}
	return fmt.Errorf("unknown data command %q", command)
}

func decodeArg(name, arg string, v any) error {
	if err := json.Unmarshal([]byte(arg), v); err != nil {
		return fmt.Errorf("invalid %s JSON: %w", name, err)
	}
	return nil
}

func parseCaseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid case id %q", arg)
	}
	return id, nil
}

// runWatch prints a line for each change notification until interrupted or
// the connection drops.
func runWatch(args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	ctx, stop := interrupted()
	defer stop()

	c, conn, err := connect(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error connecting: %v\n", err)
		return 1
	}
	defer conn.Close()
	defer c.Close()

	watch(c, cfg.Args)
	select {
	case <-ctx.Done():
	case <-conn.Done():
		fmt.Fprintln(stderr, "Connection closed")
		return 1
	}
	return 0
}

// watch registers printing listeners; with no names it watches the context
// list and every context already on the host.
func watch(c *client.Client, names []string) {
	if len(names) == 0 {
		c.OnContextListChange(func() { fmt.Fprintln(stdout, "contexts changed") })
		infos, err := c.ListContexts(context.Background())
		if err == nil {
			for _, info := range infos {
				names = append(names, info.Name)
			}
		}
	}
	for _, name := range names {
		c.OnContextChange(name, func() { fmt.Fprintf(stdout, "context %s changed\n", name) })
	}
}

func runScript(args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	path := cfg.Script.Path
	if len(cfg.Args) > 0 {
		path = cfg.Args[0]
	}
	if path == "" {
		fmt.Fprintln(stderr, "Error: script needs a FILE")
		return 1
	}
	ctx, stop := interrupted()
	defer stop()

	c, conn, err := connect(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error connecting: %v\n", err)
		return 1
	}
	defer conn.Close()
	defer c.Close()

	runner := script.NewRunner(cfg, c)
	err = runner.RunFile(ctx, path)
	if !cfg.Script.Watch {
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	if err != nil {
		cfg.Log(0, "%v", err)
	}

	loader, err := script.NewHotLoader(cfg, path, func(p string) {
		if err := runner.RunFile(ctx, p); err != nil {
			cfg.Log(0, "%v", err)
		}
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error watching %s: %v\n", path, err)
		return 1
	}
	if err := loader.Start(); err != nil {
		fmt.Fprintf(stderr, "Error watching %s: %v\n", path, err)
		return 1
	}
	defer loader.Stop()

	select {
	case <-ctx.Done():
	case <-conn.Done():
		fmt.Fprintln(stderr, "Connection closed")
		return 1
	}
	return 0
}

func runMCP(args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	ctx, stop := interrupted()
	defer stop()

	c, conn, err := connect(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error connecting: %v\n", err)
		return 1
	}
	defer conn.Close()
	defer c.Close()

	if err := mcp.NewServer(cfg, c, Version).ServeStdio(); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}
	return 0
}
