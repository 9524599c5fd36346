// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/thor/config"
	"github.com/sustainable-computing-io/thor/internal/correlation"
	"github.com/sustainable-computing-io/thor/internal/device"
	"github.com/sustainable-computing-io/thor/internal/distributor"
	"github.com/sustainable-computing-io/thor/internal/exporter/mcp"
	"github.com/sustainable-computing-io/thor/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/thor/internal/exporter/prometheus/collector"
	"github.com/sustainable-computing-io/thor/internal/exporter/stdout"
	"github.com/sustainable-computing-io/thor/internal/listener"
	"github.com/sustainable-computing-io/thor/internal/logger"
	"github.com/sustainable-computing-io/thor/internal/protocol"
	"github.com/sustainable-computing-io/thor/internal/queue"
	"github.com/sustainable-computing-io/thor/internal/sampler"
	"github.com/sustainable-computing-io/thor/internal/server"
	"github.com/sustainable-computing-io/thor/internal/service"
	"github.com/sustainable-computing-io/thor/internal/session"
	"github.com/sustainable-computing-io/thor/internal/version"
)

func main() {
	// parse args and config and exit with error if there is an error
	cfg, err := parseArgsAndConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logVersionInfo(log)
	printConfigInfo(log, cfg)

	if err := run(log, cfg); err != nil {
		log.Error("thor terminated with an error", "error", err)
		os.Exit(1)
	}
	log.Info("Graceful shutdown completed")
}

func run(log *slog.Logger, cfg *config.Config) error {
	hw, err := createHardware(log, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			log.Warn("failed to close register reader", "error", err)
		}
	}()

	services, err := createServices(log, cfg, hw)
	if err != nil {
		return fmt.Errorf("failed to create services: %w", err)
	}

	if err := service.Init(log, services); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	log.Info("Starting thor")
	return service.Run(context.Background(), log, services)
}

func logVersionInfo(log *slog.Logger) {
	v := version.Info()
	log.Info("thor version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig(args []string) (*config.Config, error) {
	const appName = "thor"
	app := kingpin.New(appName, "Correlates process events with RAPL energy counters and streams the pairs to observers.")
	app.Version(version.Info().String())

	configFiles := app.Flag("config.file", "Path to YAML configuration file; repeat to layer files").Strings()
	updateConfig := config.RegisterFlags(app)
	if _, err := app.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if len(*configFiles) > 0 {
		loaded, err := config.FromFiles(*configFiles...)
		if err != nil {
			return nil, fmt.Errorf("error loading config files: %w", err)
		}
		cfg = loaded
	}

	// command line flags override config file settings
	if err := updateConfig(cfg); err != nil {
		return nil, fmt.Errorf("error applying command line flags: %w", err)
	}
	return cfg, nil
}

func printConfigInfo(log *slog.Logger, cfg *config.Config) {
	if !log.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Printf(`
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

// resolveVendor maps the configured vendor to a register layout, reading
// cpuinfo when the vendor is auto
func resolveVendor(cfg *config.Config) (device.Vendor, error) {
	switch cfg.Rapl.Vendor {
	case config.VendorIntel:
		return device.VendorIntel, nil
	case config.VendorAMD:
		return device.VendorAMD, nil
	default:
		return device.DetectVendor(cfg.Host.ProcFS)
	}
}

func domainsFor(cfg *config.Config, v device.Vendor) device.Domains {
	switch v {
	case device.VendorIntel:
		intel := cfg.Rapl.Intel
		return device.Domains{
			PP0:  ptr.Deref(intel.PP0, false),
			PP1:  ptr.Deref(intel.PP1, false),
			Pkg:  ptr.Deref(intel.Pkg, false),
			DRAM: ptr.Deref(intel.DRAM, false),
		}
	case device.VendorAMD:
		return device.Domains{
			Pkg:  ptr.Deref(cfg.Rapl.AMD.Pkg, false),
			Core: ptr.Deref(cfg.Rapl.AMD.Core, false),
		}
	}
	return device.Domains{}
}

func createHardware(log *slog.Logger, cfg *config.Config) (*device.HardwareContext, error) {
	vendor, err := resolveVendor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to determine cpu vendor: %w", err)
	}
	layout, err := device.LayoutFor(vendor)
	if err != nil {
		return nil, err
	}

	var reader device.RegisterReader
	if ptr.Deref(cfg.Dev.FakeRegisters.Enabled, false) {
		log.Warn("Using fake register reader; energy values are synthetic")
		reader = device.NewFakeRegisterReader(layout, device.WithFakeLogger(log))
	} else {
		reader = device.NewMSRReader(cfg.Host.DevCPU, cfg.Host.CPU, log)
	}

	return device.NewHardwareContext(reader, layout, domainsFor(cfg, vendor), log), nil
}

func createServices(log *slog.Logger, cfg *config.Config, hw *device.HardwareContext) ([]service.Service, error) {
	log.Debug("Creating all services")

	samples := queue.New[correlation.Sample](0)
	events := queue.New[protocol.ProbeEvent](0)

	smp := sampler.NewSampler(hw, samples,
		sampler.WithLogger(log),
		sampler.WithInterval(cfg.Sampler.Interval),
	)
	store := correlation.NewStore(samples,
		correlation.WithLogger(log),
		correlation.WithInterval(cfg.Sampler.Interval),
		correlation.WithMaxSampleAge(cfg.Sampler.MaxSampleAge),
	)
	observers := distributor.NewObserverSet(
		cfg.Distributor.WriteTimeout,
		cfg.Distributor.BlockingThreshold,
		log, nil,
	)

	distOpts := []distributor.OptionFn{
		distributor.WithLogger(log),
		distributor.WithCycle(cfg.Distributor.Cycle),
		distributor.WithMaxPendingStart(cfg.Distributor.MaxPendingStart),
		distributor.WithMaxCarry(cfg.Distributor.MaxCarry),
	}
	var sinks []service.Service
	if ptr.Deref(cfg.Exporter.Stdout.Enabled, false) {
		out := stdout.NewExporter(stdout.WithLogger(log))
		distOpts = append(distOpts, distributor.WithSinks(out))
		sinks = append(sinks, out)
	}
	dist := distributor.NewDistributor(events, store, hw, observers, distOpts...)

	sessions := session.NewManager(
		session.NewGitBuilder(cfg.Session.WorkDir, log),
		events, observers,
		session.WithLogger(log),
		session.WithPollInterval(cfg.Session.PollInterval),
	)
	lst := listener.NewListener(events, observers,
		listener.WithLogger(log),
		listener.WithAddress(cfg.Listener.Address),
		listener.WithHandshakeTimeout(cfg.Listener.HandshakeTimeout),
		listener.WithSessions(sessions),
	)

	apiServer := server.NewAPIServer(
		server.WithLogger(log),
		server.WithListenAddress(cfg.Web.ListenAddresses),
		server.WithWebConfig(cfg.Web.Config),
	)

	pipeline := []service.Service{smp, store, dist, lst, sessions}

	// NOTE: the api server must be initialized before anything that registers
	// endpoints on it
	services := []service.Service{apiServer}
	services = append(services, pipeline...)
	services = append(services, sinks...)
	services = append(services, server.NewHealthProbe(apiServer, pipeline, log))

	if ptr.Deref(cfg.Debug.Pprof.Enabled, false) {
		services = append(services, server.NewPprof(apiServer))
	}

	if ptr.Deref(cfg.Exporter.Prometheus.Enabled, false) {
		collectors, err := prometheus.CreateCollectors(prometheus.Deps{
			Sources: collector.Sources{
				Sampler:     smp,
				Store:       store,
				Distributor: dist,
				Listener:    lst,
				Observers:   observers,
				Sessions:    sessions,
			},
			Store:    store,
			Hardware: hw,
			Vendor:   string(hw.Vendor()),
			ProcFS:   cfg.Host.ProcFS,
			CPU:      cfg.Host.CPU,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus collectors: %w", err)
		}
		services = append(services, prometheus.NewExporter(apiServer,
			prometheus.WithLogger(log),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
			prometheus.WithCollectors(collectors),
		))
	}

	if ptr.Deref(cfg.Exporter.MCP.Enabled, false) {
		services = append(services, mcp.NewServer(mcp.Sources{
			Store:     store,
			Hardware:  hw,
			Observers: observers,
			Sessions:  sessions,
		}, log, mcp.WithStreamableHTTP(apiServer, cfg.Exporter.MCP.Path)))
	}

	services = append(services, service.NewSignalHandler(log, os.Interrupt, syscall.SIGTERM))
	return services, nil
}
