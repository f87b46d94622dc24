// Package mcp exposes the matching engine over the Model Context Protocol.
//
// Two tool surfaces exist: the engine surface (match, explain, and the
// read-only introspection tools an LLM host calls inline) and the studio
// surface (catalog administration, gated by the studio scope). A process
// serves exactly one surface, selected by the composition root.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/sponsorlabs/placemint/internal/analytics"
	"github.com/sponsorlabs/placemint/internal/audit"
	"github.com/sponsorlabs/placemint/internal/auth"
	"github.com/sponsorlabs/placemint/internal/fault"
	"github.com/sponsorlabs/placemint/internal/index"
	"github.com/sponsorlabs/placemint/internal/ingest"
	"github.com/sponsorlabs/placemint/internal/model"
)

// Version is reported through the MCP handshake and capabilities tool.
const Version = "0.1.0"

// Matcher is the slice of the match pipeline the engine surface calls.
// Both the plain and the result-cached service satisfy it.
type Matcher interface {
	Match(ctx context.Context, req model.MatchRequest) (model.MatchResponse, model.AuditTrace, error)
	Explain(ctx context.Context, matchID string) (model.AuditTrace, error)
}

// Deps are the collaborators behind the tool surfaces. Engine servers
// need Matcher, Index, Audit; studio servers need Ingest. Analytics may
// be nil on both, which disables reporting and pacing-derived metrics.
type Deps struct {
	Matcher    Matcher
	Ingest     *ingest.Service
	Index      index.Index
	Analytics  *analytics.Store
	Audit      *audit.Store
	EmbedStats func() (hits, misses uint64)
	Logger     *slog.Logger

	// MaxTopK is advertised through campaigns_capabilities and used to
	// compute the effective top_k in campaigns_validate. Zero means
	// model.MaxTopK.
	MaxTopK int
}

// Server wraps the MCP server with one of Placemint's tool surfaces.
type Server struct {
	mcpServer *mcpserver.MCPServer
	matcher   Matcher
	ingest    *ingest.Service
	index     index.Index
	analytics *analytics.Store
	audit     *audit.Store
	stats     func() (hits, misses uint64)
	scope     auth.Scope
	logger    *slog.Logger
	maxTopK   int
}

// NewEngineServer builds the read-only engine surface.
func NewEngineServer(deps Deps, scope auth.Scope) *Server {
	s := newServer(deps, scope, "placemint-engine")
	s.registerEngineTools()
	return s
}

// NewStudioServer builds the administrative surface. Every tool checks
// the studio scope at call time.
func NewStudioServer(deps Deps, scope auth.Scope) *Server {
	s := newServer(deps, scope, "placemint-studio")
	s.registerStudioTools()
	return s
}

func newServer(deps Deps, scope auth.Scope, name string) *Server {
	if deps.MaxTopK <= 0 {
		deps.MaxTopK = model.MaxTopK
	}
	s := &Server{
		matcher:   deps.Matcher,
		ingest:    deps.Ingest,
		index:     deps.Index,
		analytics: deps.Analytics,
		audit:     deps.Audit,
		stats:     deps.EmbedStats,
		scope:     scope,
		logger:    deps.Logger,
		maxTopK:   deps.MaxTopK,
	}
	s.mcpServer = mcpserver.NewMCPServer(
		name,
		Version,
		mcpserver.WithToolCapabilities(true),
	)
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving the tool surface over stdin/stdout.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

// requireStudio returns a permission-denied envelope when the granted
// scope does not cover the studio surface, nil otherwise.
func (s *Server) requireStudio() *mcplib.CallToolResult {
	if err := auth.RequireScope(s.scope, auth.ScopeStudio); err != nil {
		return faultResult(err)
	}
	return nil
}

// faultResult renders a typed error as the tool error envelope. The kind
// is machine-readable so callers branch without parsing messages.
func faultResult(err error) *mcplib.CallToolResult {
	payload, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"kind":    string(fault.KindOf(err)),
			"message": err.Error(),
		},
	})
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(payload)},
		},
		IsError: true,
	}
}

// jsonResult renders a successful tool payload.
func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return faultResult(fault.Wrap(fault.Internal, "mcp: encode result", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
