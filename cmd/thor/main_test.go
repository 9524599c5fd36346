// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/thor/config"
	"github.com/sustainable-computing-io/thor/internal/device"
	"github.com/sustainable-computing-io/thor/internal/service"
)

func TestParseArgsAndConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := parseArgsAndConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, config.VendorAuto, cfg.Rapl.Vendor)
		assert.Equal(t, "info", cfg.Log.Level)
	})

	t.Run("flags override files", func(t *testing.T) {
		dir := t.TempDir()
		base := filepath.Join(dir, "base.yaml")
		override := filepath.Join(dir, "override.yaml")
		require.NoError(t, os.WriteFile(base, []byte("rapl:\n  vendor: intel\nlog:\n  level: warn\n"), 0o600))
		require.NoError(t, os.WriteFile(override, []byte("rapl:\n  vendor: amd\n"), 0o600))

		cfg, err := parseArgsAndConfig([]string{
			"--config.file=" + base,
			"--config.file=" + override,
			"--log.level=debug",
		})
		require.NoError(t, err)
		assert.Equal(t, config.VendorAMD, cfg.Rapl.Vendor)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := parseArgsAndConfig([]string{"--config.file=" + filepath.Join(t.TempDir(), "nope.yaml")})
		assert.Error(t, err)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := parseArgsAndConfig([]string{"--no-such-flag"})
		assert.Error(t, err)
	})
}

func TestDomainsFor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rapl.Intel.PP1 = ptr.To(false)
	cfg.Rapl.AMD.Core = ptr.To(false)

	assert.Equal(t, device.Domains{PP0: true, Pkg: true, DRAM: true}, domainsFor(cfg, device.VendorIntel))
	assert.Equal(t, device.Domains{Pkg: true}, domainsFor(cfg, device.VendorAMD))
	assert.Equal(t, device.Domains{}, domainsFor(cfg, device.Vendor("arm")))
}

func TestResolveVendor(t *testing.T) {
	cfg := config.DefaultConfig()

	cfg.Rapl.Vendor = config.VendorIntel
	v, err := resolveVendor(cfg)
	require.NoError(t, err)
	assert.Equal(t, device.VendorIntel, v)

	cfg.Rapl.Vendor = config.VendorAMD
	v, err = resolveVendor(cfg)
	require.NoError(t, err)
	assert.Equal(t, device.VendorAMD, v)

	cfg.Rapl.Vendor = config.VendorAuto
	cfg.Host.ProcFS = filepath.Join(t.TempDir(), "missing")
	_, err = resolveVendor(cfg)
	assert.Error(t, err)
}

func TestCreateServices(t *testing.T) {
	log := slog.New(slog.DiscardHandler)

	cfg := config.DefaultConfig()
	cfg.Rapl.Vendor = config.VendorIntel
	cfg.Dev.FakeRegisters.Enabled = ptr.To(true)

	hw, err := createHardware(log, cfg)
	require.NoError(t, err)
	assert.Equal(t, device.VendorIntel, hw.Vendor())

	t.Run("defaults", func(t *testing.T) {
		services, err := createServices(log, cfg, hw)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"api-server", "sampler", "correlation", "distributor", "listener", "session",
			"health-probe", "prometheus", "signal-handler",
		}, service.Names(services))
	})

	t.Run("everything enabled", func(t *testing.T) {
		all := *cfg
		all.Exporter.Stdout.Enabled = ptr.To(true)
		all.Exporter.MCP.Enabled = ptr.To(true)
		all.Debug.Pprof.Enabled = ptr.To(true)

		services, err := createServices(log, &all, hw)
		require.NoError(t, err)
		names := service.Names(services)
		assert.Len(t, names, 12)
		assert.Contains(t, names, "stdout")
		assert.Contains(t, names, "pprof")
		assert.Contains(t, names, "mcp")
	})

	t.Run("prometheus disabled", func(t *testing.T) {
		noProm := *cfg
		noProm.Exporter.Prometheus.Enabled = ptr.To(false)

		services, err := createServices(log, &noProm, hw)
		require.NoError(t, err)
		assert.NotContains(t, service.Names(services), "prometheus")
	})
}
