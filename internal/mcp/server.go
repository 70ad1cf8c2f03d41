// Package mcp exposes data access operations as MCP tools, so an AI agent
// can read and edit contexts through the same client as the command line.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/zot/codata/internal/config"
	"github.com/zot/codata/internal/model"
)

// Data is the access surface the tools use. *client.Client implements it.
type Data interface {
	ListContexts(ctx context.Context) ([]model.ContextInfo, error)
	GetContext(ctx context.Context, name string) (*model.Context, error)
	GetData(ctx context.Context, name string) ([]model.Record, error)
	InsertItems(ctx context.Context, name string, items []model.Record) ([]int64, error)
	UpdateCase(ctx context.Context, name string, id int64, values map[string]any) error
	DeleteCase(ctx context.Context, name string, id int64) error
	ReplaceCollections(ctx context.Context, name string, requested []model.Collection, items []model.Record) error
}

// Server wraps an MCP server whose tools call Data.
type Server struct {
	config *config.Config
	data   Data
	mcp    *server.MCPServer
}

// NewServer creates the MCP server and registers its tools.
func NewServer(cfg *config.Config, data Data, version string) *Server {
	s := &Server{
		config: cfg,
		data:   data,
		mcp:    server.NewMCPServer("codata", version, server.WithToolCapabilities(false), server.WithRecovery()),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP on stdin and stdout until stdin closes.
func (s *Server) ServeStdio() error {
	s.config.Log(1, "MCP server on stdio")
	return server.ServeStdio(s.mcp)
}

func contextArg() mcpgo.ToolOption {
	return mcpgo.WithString("context", mcpgo.Required(), mcpgo.Description("Name of the data context"))
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcpgo.NewTool("list_contexts",
		mcpgo.WithDescription("List the data contexts on the host"),
	), s.listContexts)

	s.mcp.AddTool(mcpgo.NewTool("get_context",
		mcpgo.WithDescription("Get a context's collections, root first, with their attributes"),
		contextArg(),
	), s.getContext)

	s.mcp.AddTool(mcpgo.NewTool("get_records",
		mcpgo.WithDescription("Get a context's data as flat records, one per leaf case"),
		contextArg(),
	), s.getRecords)

	s.mcp.AddTool(mcpgo.NewTool("insert_items",
		mcpgo.WithDescription("Insert flat records; the host splits them into cases"),
		contextArg(),
		mcpgo.WithArray("items", mcpgo.Required(), mcpgo.Description("Records as attribute/value objects"),
			mcpgo.Items(map[string]any{"type": "object"})),
	), s.insertItems)

	s.mcp.AddTool(mcpgo.NewTool("update_case",
		mcpgo.WithDescription("Set attribute values of one case"),
		contextArg(),
		mcpgo.WithNumber("id", mcpgo.Required(), mcpgo.Description("Case id")),
		mcpgo.WithObject("values", mcpgo.Required(), mcpgo.Description("Attribute values to set")),
	), s.updateCase)

	s.mcp.AddTool(mcpgo.NewTool("delete_case",
		mcpgo.WithDescription("Delete one case and its descendants"),
		contextArg(),
		mcpgo.WithNumber("id", mcpgo.Required(), mcpgo.Description("Case id")),
	), s.deleteCase)

	s.mcp.AddTool(mcpgo.NewTool("replace_collections",
		mcpgo.WithDescription("Replace a context's collection hierarchy and data. "+
			"If the collections already match, the items are only inserted."),
		contextArg(),
		mcpgo.WithArray("collections", mcpgo.Required(),
			mcpgo.Description(`Collections root first, e.g. [{"name":"orders","attrs":[{"name":"order"}]}]`),
			mcpgo.Items(map[string]any{"type": "object"})),
		mcpgo.WithArray("items", mcpgo.Description("Records to insert after the change"),
			mcpgo.Items(map[string]any{"type": "object"})),
	), s.replaceCollections)
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcpgo.NewToolResultText(string(data)), nil
}

func errorResult(err error) (*mcpgo.CallToolResult, error) {
	return mcpgo.NewToolResultError(err.Error()), nil
}

// decodeArg decodes an argument into v through its JSON form.
func decodeArg(req mcpgo.CallToolRequest, name string, v any) error {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("argument %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("argument %s: %w", name, err)
	}
	return nil
}

func caseID(req mcpgo.CallToolRequest) (int64, error) {
	id, err := req.RequireFloat("id")
	if err != nil {
		return 0, err
	}
	if id != float64(int64(id)) || id <= 0 {
		return 0, fmt.Errorf("invalid case id %v", id)
	}
	return int64(id), nil
}

func (s *Server) listContexts(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	infos, err := s.data.ListContexts(ctx)
	if err != nil {
		return errorResult(err)
	}
	if infos == nil {
		infos = []model.ContextInfo{}
	}
	return jsonResult(infos)
}

func (s *Server) getContext(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	name, err := req.RequireString("context")
	if err != nil {
		return errorResult(err)
	}
	dc, err := s.data.GetContext(ctx, name)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(dc)
}

func (s *Server) getRecords(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	name, err := req.RequireString("context")
	if err != nil {
		return errorResult(err)
	}
	records, err := s.data.GetData(ctx, name)
	if err != nil {
		return errorResult(err)
	}
	if records == nil {
		records = []model.Record{}
	}
	return jsonResult(records)
}

func (s *Server) insertItems(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	name, err := req.RequireString("context")
	if err != nil {
		return errorResult(err)
	}
	var items []model.Record
	if err := decodeArg(req, "items", &items); err != nil {
		return errorResult(err)
	}
	ids, err := s.data.InsertItems(ctx, name, items)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"inserted": len(items), "ids": ids})
}

func (s *Server) updateCase(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	name, err := req.RequireString("context")
	if err != nil {
		return errorResult(err)
	}
	id, err := caseID(req)
	if err != nil {
		return errorResult(err)
	}
	var values map[string]any
	if err := decodeArg(req, "values", &values); err != nil {
		return errorResult(err)
	}
	if err := s.data.UpdateCase(ctx, name, id, values); err != nil {
		return errorResult(err)
	}
	return mcpgo.NewToolResultText(fmt.Sprintf("updated case %d", id)), nil
}

func (s *Server) deleteCase(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	name, err := req.RequireString("context")
	if err != nil {
		return errorResult(err)
	}
	id, err := caseID(req)
	if err != nil {
		return errorResult(err)
	}
	if err := s.data.DeleteCase(ctx, name, id); err != nil {
		return errorResult(err)
	}
	return mcpgo.NewToolResultText(fmt.Sprintf("deleted case %d", id)), nil
}

func (s *Server) replaceCollections(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	name, err := req.RequireString("context")
	if err != nil {
		return errorResult(err)
	}
	var colls []model.Collection
	if err := decodeArg(req, "collections", &colls); err != nil {
		return errorResult(err)
	}
	var items []model.Record
	if err := decodeArg(req, "items", &items); err != nil {
		return errorResult(err)
	}
	if err := s.data.ReplaceCollections(ctx, name, colls, items); err != nil {
		return errorResult(err)
	}
	return mcpgo.NewToolResultText(fmt.Sprintf("replaced collections of %s with %v", name, model.CollectionNames(colls))), nil
}
