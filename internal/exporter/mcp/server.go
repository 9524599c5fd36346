// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sustainable-computing-io/thor/internal/correlation"
	"github.com/sustainable-computing-io/thor/internal/distributor"
	"github.com/sustainable-computing-io/thor/internal/service"
	"github.com/sustainable-computing-io/thor/internal/session"
	"github.com/sustainable-computing-io/thor/internal/version"
)

type (
	APIRegistry interface {
		Register(endpoint, summary, description string, handler http.Handler) error
	}

	// EnergyStore answers point in time energy queries
	EnergyStore interface {
		Lookup(t time.Time) (correlation.TimedSnapshot, error)
		Latest() (correlation.TimedSnapshot, bool)
	}

	EnergyUnitProvider interface {
		EnergyUnit() (float64, error)
	}

	ObserverLister interface {
		List() []distributor.ObserverInfo
	}

	SessionLister interface {
		Sessions() []session.Session
	}
)

// Sources are what the MCP tools query; Observers and Sessions may be nil
type Sources struct {
	Store     EnergyStore
	Hardware  EnergyUnitProvider
	Observers ObserverLister
	Sessions  SessionLister
}

// Server exposes energy queries to MCP clients
type Server struct {
	logger *slog.Logger
	src    Sources
	server *mcp.Server

	apiRegistry APIRegistry
	useHTTP     bool
	httpPath    string
	transport   string // "stdio", "sse", "streamable"
}

var (
	_ service.Initializer = (*Server)(nil)
	_ service.Runner      = (*Server)(nil)
)

// Option defines functional options for MCP server configuration
type Option func(*Server)

// WithSSETransport serves MCP over Server-Sent Events on path
func WithSSETransport(apiRegistry APIRegistry, path string) Option {
	return func(s *Server) {
		s.useHTTP = true
		s.apiRegistry = apiRegistry
		s.httpPath = path
		s.transport = "sse"
	}
}

// WithStreamableHTTP serves MCP over streamable HTTP on path
func WithStreamableHTTP(apiRegistry APIRegistry, path string) Option {
	return func(s *Server) {
		s.useHTTP = true
		s.apiRegistry = apiRegistry
		s.httpPath = path
		s.transport = "streamable"
	}
}

// NewServer creates a new MCP server; without an HTTP option it serves stdio
func NewServer(src Sources, logger *slog.Logger, options ...Option) *Server {
	v := version.Info().Version
	if v == "" {
		v = "dev"
	}

	s := &Server{
		logger:    logger.With("service", "mcp"),
		src:       src,
		server:    mcp.NewServer(&mcp.Implementation{Name: "thor", Version: v}, nil),
		httpPath:  "/mcp",
		transport: "stdio",
	}
	for _, option := range options {
		option(s)
	}

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "latest_measurement",
		Description: "Energy counters of the most recent sample in joules",
	}, s.handleLatestMeasurement)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_energy_at",
		Description: "Energy counters in joules of the sample current at a unix millisecond timestamp",
	}, s.handleGetEnergyAt)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "energy_between",
		Description: "Energy consumed per domain between two unix millisecond timestamps",
	}, s.handleEnergyBetween)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_observers",
		Description: "Observers currently receiving correlated events",
	}, s.handleListObservers)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_sessions",
		Description: "Processes under test being built, run or drained",
	}, s.handleListSessions)
}

func (s *Server) Init() error {
	s.logger.Info("Initializing MCP server", "transport", s.transport, "path", s.httpPath)
	if !s.useHTTP {
		return nil
	}

	getServer := func(*http.Request) *mcp.Server { return s.server }
	var handler http.Handler
	switch s.transport {
	case "streamable":
		handler = mcp.NewStreamableHTTPHandler(getServer, nil)
	default:
		handler = mcp.NewSSEHandler(getServer)
	}

	return s.apiRegistry.Register(s.httpPath, "MCP Server",
		"Model Context Protocol tools for querying energy measurements", handler)
}

// Name implements the Service interface
func (s *Server) Name() string {
	return "mcp"
}

// Run serves stdio until ctx is done; over HTTP requests are served by the
// API server and Run only waits
func (s *Server) Run(ctx context.Context) error {
	if s.useHTTP {
		<-ctx.Done()
		return nil
	}

	s.logger.Info("MCP server starting with stdio transport")
	return s.server.Run(ctx, mcp.NewStdioTransport())
}
