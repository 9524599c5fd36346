// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestNewAPIServer(t *testing.T) {
	s := NewAPIServer()
	assert.Equal(t, "api-server", s.Name())
	assert.Equal(t, []string{DefaultListenAddress}, s.listenAddrs)
	assert.Empty(t, s.webConfig)

	s = NewAPIServer(
		WithLogger(slog.Default().With("test", "custom")),
		WithListenAddress([]string{":8080", ":8081"}),
		WithWebConfig("/etc/thor/web.yaml"),
	)
	assert.Equal(t, []string{":8080", ":8081"}, s.listenAddrs)
	assert.Equal(t, "/etc/thor/web.yaml", s.webConfig)
}

func TestAPIServerInitWithoutAddress(t *testing.T) {
	s := NewAPIServer(WithListenAddress(nil))
	assert.ErrorContains(t, s.Init(), "no listening address provided")
}

func TestAPIServerRegister(t *testing.T) {
	s := NewAPIServer()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	require.NoError(t, s.Register("/metrics", "Metrics", "Prometheus <metrics>", ok))
	require.NoError(t, s.Register("/mcp", "MCP", "Model Context Protocol", ok))
	assert.ErrorContains(t, s.Register("/metrics", "Metrics", "again", ok), "already registered")

	assert.Contains(t, s.endpointDescription, "/metrics")
	assert.Contains(t, s.endpointDescription, "Prometheus &lt;metrics&gt;")
	assert.Contains(t, s.endpointDescription, "/mcp")

	_, pattern := s.mux.Handler(&http.Request{URL: &url.URL{Path: "/mcp"}})
	assert.Equal(t, "/mcp", pattern)
}

func TestAPIServerRunStopsOnContextDone(t *testing.T) {
	s := NewAPIServer(WithListenAddress([]string{freeAddr(t)}))
	require.NoError(t, s.Init())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.NoError(t, s.Run(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "Run blocks until ctx is done")
	assert.NoError(t, s.Shutdown())
}

func TestAPIServerPortConflict(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	s := NewAPIServer(WithListenAddress([]string{l.Addr().String()}))
	require.NoError(t, s.Init())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = s.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use")
}

func TestAPIServerInvalidWebConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "web.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tls_server_config: [not, a, map]\n"), 0o600))

	s := NewAPIServer(WithListenAddress([]string{freeAddr(t)}), WithWebConfig(path))
	require.NoError(t, s.Init())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.Error(t, s.Run(ctx))
}

func TestAPIServerLandingPage(t *testing.T) {
	addr := freeAddr(t)
	s := NewAPIServer(WithListenAddress([]string{addr}))
	require.NoError(t, s.Init())
	require.NoError(t, s.Register("/probe/livez", "Liveness Probe", "Returns 200 while live",
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errCh)
		assert.NoError(t, s.Shutdown())
	})

	client := &http.Client{Timeout: 500 * time.Millisecond}
	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = client.Get(fmt.Sprintf("http://%s/", addr))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<h1>Thor Energy Correlation Service</h1>")
	assert.Contains(t, string(body), "/probe/livez")
	assert.Contains(t, string(body), "Returns 200 while live")

	notFound, err := client.Get(fmt.Sprintf("http://%s/nothing", addr))
	require.NoError(t, err)
	_ = notFound.Body.Close()
	assert.Equal(t, http.StatusNotFound, notFound.StatusCode)
}
