// Package admin exposes read-only introspection over a running bridge
// endpoint: a chi-routed JSON surface for humans/dashboards, and an
// mcp-go stdio tool for agent-facing tooling (SPEC_FULL §4.7,
// supplementing the distilled spec which is silent on operability).
//
// Grounded on gohab's server.MCPServer (server/mcp.go) for the
// ServeStdio wiring, and server.Coordinator's list_devices tool
// (server/coordinator.go) for the tool-registration shape; the JSON
// routes follow server/web.go's chi handler style, minus HTML
// templating since this surface is machine-facing.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/relaybridge/wsbridge/endpoint"
	"github.com/relaybridge/wsbridge/registry"
	"github.com/relaybridge/wsbridge/transport"
)

// ConnectionView is the JSON-safe projection of one registry.Entry.
type ConnectionView struct {
	Handle   string    `json:"handle"`
	State    string    `json:"state"`
	OpenedAt time.Time `json:"opened_at"`
}

// Surface wires the registry and endpoint into both an HTTP router and
// an MCP tool server.
type Surface struct {
	reg *registry.Registry
	ep  *endpoint.Endpoint
}

func New(reg *registry.Registry, ep *endpoint.Endpoint) *Surface {
	return &Surface{reg: reg, ep: ep}
}

// Router returns a chi.Router mountable under any prefix: GET
// /connections lists every tracked connection, GET /routes lists the
// endpoint's topic/service routing tables and pending-call count.
func (s *Surface) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/connections", s.handleConnections)
	r.Get("/connections/{handle}", s.handleConnection)
	r.Get("/routes", s.handleRoutes)
	return r
}

func (s *Surface) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ep.Snapshot())
}

func (s *Surface) handleConnections(w http.ResponseWriter, r *http.Request) {
	entries := s.reg.List()
	out := make([]ConnectionView, 0, len(entries))
	for _, e := range entries {
		out = append(out, ConnectionView{Handle: string(e.Handle), State: e.State.String(), OpenedAt: e.OpenedAt})
	}
	writeJSON(w, out)
}

func (s *Surface) handleConnection(w http.ResponseWriter, r *http.Request) {
	handle := transport.Handle(chi.URLParam(r, "handle"))
	e, ok := s.reg.Get(handle)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, ConnectionView{Handle: string(e.Handle), State: e.State.String(), OpenedAt: e.OpenedAt})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// MCPServer builds an mcp-go server exposing "list_connections" (raw
// transport-level connection state) and "list_routes" (the endpoint's
// topic/service routing tables and pending-call count) to an agent
// host — grounded on gohab's server/mcp.go "list_devices" tool,
// repurposed from devices to connections and routes.
func (s *Surface) MCPServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("wsbridge admin", "1.0.0")

	listConnections := mcp.NewTool("list_connections",
		mcp.WithDescription("List every connection currently tracked by this bridge endpoint"))
	srv.AddTool(listConnections, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries := s.reg.List()
		out := make([]ConnectionView, 0, len(entries))
		for _, e := range entries {
			out = append(out, ConnectionView{Handle: string(e.Handle), State: e.State.String(), OpenedAt: e.OpenedAt})
		}
		return jsonToolResult(out)
	})

	listRoutes := mcp.NewTool("list_routes",
		mcp.WithDescription("List subscribed/advertised topics, provided/proxied services, and the pending call-ledger size"))
	srv.AddTool(listRoutes, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonToolResult(s.ep.Snapshot())
	})

	return srv
}

func jsonToolResult(v any) (*mcp.CallToolResult, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(body)}}}, nil
}

// ServeStdio runs the MCP tool server over stdio until it exits.
func (s *Surface) ServeStdio() error {
	slog.Info("admin: starting stdio MCP server")
	defer slog.Info("admin: stdio MCP server stopped")
	return mcpserver.ServeStdio(s.MCPServer())
}
