// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/exporter-toolkit/web"

	"github.com/sustainable-computing-io/thor/internal/service"
)

// DefaultListenAddress serves metrics, probes and MCP
const DefaultListenAddress = ":28283"

// APIService defines the interface for the HTTP server providing API endpoints
type APIService interface {
	service.Service
	Register(endpoint, summary, description string, handler http.Handler) error
}

// APIServer serves every registered endpoint on the configured addresses,
// with TLS and authentication taken from an optional exporter-toolkit web
// config file
type APIServer struct {
	logger *slog.Logger

	listenAddrs []string
	webConfig   string

	server *http.Server
	mux    *http.ServeMux

	mu                  sync.Mutex
	endpoints           map[string]bool
	endpointDescription string
}

var (
	_ APIService          = (*APIServer)(nil)
	_ service.Initializer = (*APIServer)(nil)
	_ service.Runner      = (*APIServer)(nil)
	_ service.Shutdowner  = (*APIServer)(nil)
)

type Opts struct {
	logger      *slog.Logger
	listenAddrs []string
	webConfig   string
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the APIServer
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithListenAddress sets the addresses the APIServer listens on
func WithListenAddress(addrs []string) OptionFn {
	return func(o *Opts) {
		o.listenAddrs = addrs
	}
}

// WithWebConfig sets the path of the exporter-toolkit web config file
func WithWebConfig(path string) OptionFn {
	return func(o *Opts) {
		o.webConfig = path
	}
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:      slog.Default(),
		listenAddrs: []string{DefaultListenAddress},
	}
}

// NewAPIServer creates a new APIServer instance
func NewAPIServer(applyOpts ...OptionFn) *APIServer {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	mux := http.NewServeMux()
	return &APIServer{
		logger:      opts.logger.With("service", "api-server"),
		listenAddrs: opts.listenAddrs,
		webConfig:   opts.webConfig,
		mux:         mux,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		endpoints: make(map[string]bool),
	}
}

func (s *APIServer) Name() string {
	return "api-server"
}

func (s *APIServer) Init() error {
	s.logger.Info("Initializing thor API server", "addresses", s.listenAddrs)
	if len(s.listenAddrs) == 0 {
		return fmt.Errorf("no listening address provided")
	}

	// landing page listing every registered endpoint
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		s.mu.Lock()
		endpoints := s.endpointDescription
		s.mu.Unlock()

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, err := w.Write(fmt.Appendf([]byte{}, `<html>
<head><title>Thor</title></head>
<body>
<h1>Thor Energy Correlation Service</h1>
<p>Available endpoints:</p>
<ul>
	%s
</ul>
</body>
</html>`,
			endpoints))
		if err != nil {
			s.logger.Error("failed to write landing page", "error", err)
		}
	})

	return nil
}

func (s *APIServer) Run(ctx context.Context) error {
	s.logger.Info("Running thor API server")
	flags := &web.FlagConfig{
		WebListenAddresses: &s.listenAddrs,
		WebConfigFile:      &s.webConfig,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- web.ListenAndServe(s.server, flags, s.logger)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server on context done")
		return nil

	case err := <-errCh:
		s.logger.Error("API server returned an error", "error", err)
		return err
	}
}

func (s *APIServer) Shutdown() error {
	s.logger.Info("shutting down API server on request")

	// NOTE: ensure http server shuts down within 5 seconds
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Register adds handler for endpoint and lists it on the landing page. An
// endpoint can only be registered once.
func (s *APIServer) Register(endpoint, summary, description string, handler http.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endpoints[endpoint] {
		return fmt.Errorf("endpoint %s already registered", endpoint)
	}
	s.endpoints[endpoint] = true
	s.mux.Handle(endpoint, handler)
	s.endpointDescription += fmt.Sprintf("<li> <a href=\"%s\"> %s </a> %s </li>\n",
		endpoint, html.EscapeString(summary), html.EscapeString(description))

	s.logger.Debug("Endpoint Registered", "endpoint", endpoint)
	return nil
}
