// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	Host struct {
		ProcFS string `yaml:"procfs"`
		// DevCPU is the MSR device path template; %d is replaced by the cpu index
		DevCPU string `yaml:"devCPU"`
		CPU    int    `yaml:"cpu"`
	}

	IntelDomains struct {
		PP0  *bool `yaml:"pp0"`
		PP1  *bool `yaml:"pp1"`
		Pkg  *bool `yaml:"pkg"`
		DRAM *bool `yaml:"dram"`
	}

	AMDDomains struct {
		Core *bool `yaml:"core"`
		Pkg  *bool `yaml:"pkg"`
	}

	// Rapl selects the cpu vendor and the energy domains read on each sample
	Rapl struct {
		Vendor string       `yaml:"vendor"` // auto, intel or amd
		Intel  IntelDomains `yaml:"intel"`
		AMD    AMDDomains   `yaml:"amd"`
	}

	Sampler struct {
		Interval     time.Duration `yaml:"interval"`
		MaxSampleAge time.Duration `yaml:"maxSampleAge"`
	}

	Distributor struct {
		Cycle             time.Duration `yaml:"cycle"`
		WriteTimeout      time.Duration `yaml:"writeTimeout"`
		BlockingThreshold int           `yaml:"blockingThreshold"` // bytes
		MaxPendingStart   time.Duration `yaml:"maxPendingStart"`
		MaxCarry          time.Duration `yaml:"maxCarry"`
	}

	Listener struct {
		Address          string        `yaml:"address"`
		HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	}

	Session struct {
		PollInterval time.Duration `yaml:"pollInterval"`
		WorkDir      string        `yaml:"workDir"`
	}

	// Exporter configuration
	StdoutExporter struct {
		Enabled *bool `yaml:"enabled"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
	}

	MCPExporter struct {
		Enabled *bool  `yaml:"enabled"`
		Path    string `yaml:"path"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
		MCP        MCPExporter        `yaml:"mcp"`
	}

	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	// Debug configuration
	PprofDebug struct {
		Enabled *bool `yaml:"enabled"`
	}

	Debug struct {
		Pprof PprofDebug `yaml:"pprof"`
	}

	// Development mode settings; disabled by default
	Dev struct {
		FakeRegisters struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"fake-registers"`
	}

	Config struct {
		Log         Log         `yaml:"log"`
		Host        Host        `yaml:"host"`
		Rapl        Rapl        `yaml:"rapl"`
		Sampler     Sampler     `yaml:"sampler"`
		Distributor Distributor `yaml:"distributor"`
		Listener    Listener    `yaml:"listener"`
		Session     Session     `yaml:"session"`
		Exporter    Exporter    `yaml:"exporter"`
		Web         Web         `yaml:"web"`
		Debug       Debug       `yaml:"debug"`
		Dev         Dev         `yaml:"dev"` // WARN: do not expose dev settings as flags
	}
)

type SkipValidation int

const (
	SkipHostValidation SkipValidation = 1
)

const (
	VendorAuto  = "auto"
	VendorIntel = "intel"
	VendorAMD   = "amd"
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostProcFSFlag = "host.procfs"
	HostDevCPUFlag = "host.dev-cpu"
	HostCPUFlag    = "host.cpu"

	RaplVendorFlag = "rapl.vendor"
	RaplDomains    = "rapl.domains" // not a flag

	SamplerIntervalFlag     = "sampler.interval"
	SamplerMaxSampleAgeFlag = "sampler.max-sample-age"

	DistributorCycleFlag             = "distributor.cycle"
	DistributorWriteTimeoutFlag      = "distributor.write-timeout"
	DistributorBlockingThresholdFlag = "distributor.blocking-threshold"
	DistributorMaxPendingStartFlag   = "distributor.max-pending-start"
	DistributorMaxCarryFlag          = "distributor.max-carry"

	ListenerAddressFlag          = "listener.address"
	ListenerHandshakeTimeoutFlag = "listener.handshake-timeout"

	SessionPollIntervalFlag = "session.poll-interval"
	SessionWorkDirFlag      = "session.work-dir"

	pprofEnabledFlag = "debug.pprof"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	// Exporters
	ExporterStdoutEnabledFlag = "exporter.stdout"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"

	ExporterMCPEnabledFlag = "exporter.mcp"
	ExporterMCPPath        = "exporter.mcp.path" // not a flag

// WARN:  dev settings shouldn't be exposed as flags as flags are intended for end users
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			ProcFS: "/proc",
			DevCPU: "/dev/cpu/%d/msr",
			CPU:    0,
		},
		Rapl: Rapl{
			Vendor: VendorAuto,
			Intel: IntelDomains{
				PP0:  ptr.To(true),
				PP1:  ptr.To(true),
				Pkg:  ptr.To(true),
				DRAM: ptr.To(true),
			},
			AMD: AMDDomains{
				Core: ptr.To(true),
				Pkg:  ptr.To(true),
			},
		},
		Sampler: Sampler{
			Interval:     time.Millisecond,
			MaxSampleAge: 60 * time.Second,
		},
		Distributor: Distributor{
			Cycle:             250 * time.Millisecond,
			WriteTimeout:      50 * time.Millisecond,
			BlockingThreshold: 1 << 20,
			MaxPendingStart:   10 * time.Minute,
			MaxCarry:          5 * time.Second,
		},
		Listener: Listener{
			Address:          ":6969",
			HandshakeTimeout: 2 * time.Second,
		},
		Session: Session{
			PollInterval: time.Second,
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled: ptr.To(false),
			},
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(true),
				DebugCollectors: []string{"go"},
			},
			MCP: MCPExporter{
				Enabled: ptr.To(false),
				Path:    "/mcp",
			},
		},
		Debug: Debug{
			Pprof: PprofDebug{
				Enabled: ptr.To(false),
			},
		},
		Web: Web{
			ListenAddresses: []string{":28283"},
		},
	}

	cfg.Dev.FakeRegisters.Enabled = ptr.To(false)
	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (cfg *Config, errRet error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil && errRet == nil {
			errRet = err
		}
	}()

	return Load(file)
}

// FromFiles merges the given files in order over the defaults, later files
// overriding earlier ones, and validates the result
func FromFiles(paths ...string) (*Config, error) {
	layers := make([]Layer, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		layers = append(layers, Layer{Source: p, Data: data})
	}

	cfg, err := MergeLayers(nil, layers...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	// host
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").ExistingDir()
	hostDevCPU := app.Flag(HostDevCPUFlag, "MSR device path template, %d is the cpu index").Default("/dev/cpu/%d/msr").String()
	hostCPU := app.Flag(HostCPUFlag, "Index of the cpu whose registers are sampled").Default("0").Int()

	raplVendor := app.Flag(RaplVendorFlag, "CPU vendor register layout: auto, intel or amd").Default(VendorAuto).Enum(VendorAuto, VendorIntel, VendorAMD)

	// sampling and distribution
	samplerInterval := app.Flag(SamplerIntervalFlag, "Interval between two register samples").Default("1ms").Duration()
	samplerMaxAge := app.Flag(SamplerMaxSampleAgeFlag, "How long samples are kept for correlation").Default("60s").Duration()

	distCycle := app.Flag(DistributorCycleFlag, "Interval between two distribution cycles").Default("250ms").Duration()
	distWriteTimeout := app.Flag(DistributorWriteTimeoutFlag, "Write deadline for small batches sent to observers").Default("50ms").Duration()
	distBlocking := app.Flag(DistributorBlockingThresholdFlag, "Batches larger than this many bytes are written without deadline").Default("1048576").Int()
	distMaxPending := app.Flag(DistributorMaxPendingStartFlag, "How long a Start waits for its Stop").Default("10m").Duration()
	distMaxCarry := app.Flag(DistributorMaxCarryFlag, "How long an event waits for a sample covering its timestamp").Default("5s").Duration()

	listenerAddress := app.Flag(ListenerAddressFlag, "TCP address for event sources and observers").Default(":6969").String()
	listenerHandshake := app.Flag(ListenerHandshakeTimeoutFlag, "Time allowed for a peer to identify itself").Default("2s").Duration()

	sessionPoll := app.Flag(SessionPollIntervalFlag, "Interval at which a finished process under test is checked for pending events").Default("1s").Duration()
	sessionWorkDir := app.Flag(SessionWorkDirFlag, "Directory repositories are cloned into; empty for the system temp dir").Default("").String()

	enablePprof := app.Flag(pprofEnabledFlag, "Enable pprof debug endpoints").Default("false").Bool()
	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(":28283").Strings()

	// exporters
	stdoutExporterEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("false").Bool()
	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("true").Bool()
	mcpExporterEnabled := app.Flag(ExporterMCPEnabledFlag, "Enable MCP query tools").Default("false").Bool()

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}
		if flagsSet[HostDevCPUFlag] {
			cfg.Host.DevCPU = *hostDevCPU
		}
		if flagsSet[HostCPUFlag] {
			cfg.Host.CPU = *hostCPU
		}
		if flagsSet[RaplVendorFlag] {
			cfg.Rapl.Vendor = *raplVendor
		}

		if flagsSet[SamplerIntervalFlag] {
			cfg.Sampler.Interval = *samplerInterval
		}
		if flagsSet[SamplerMaxSampleAgeFlag] {
			cfg.Sampler.MaxSampleAge = *samplerMaxAge
		}

		if flagsSet[DistributorCycleFlag] {
			cfg.Distributor.Cycle = *distCycle
		}
		if flagsSet[DistributorWriteTimeoutFlag] {
			cfg.Distributor.WriteTimeout = *distWriteTimeout
		}
		if flagsSet[DistributorBlockingThresholdFlag] {
			cfg.Distributor.BlockingThreshold = *distBlocking
		}
		if flagsSet[DistributorMaxPendingStartFlag] {
			cfg.Distributor.MaxPendingStart = *distMaxPending
		}
		if flagsSet[DistributorMaxCarryFlag] {
			cfg.Distributor.MaxCarry = *distMaxCarry
		}

		if flagsSet[ListenerAddressFlag] {
			cfg.Listener.Address = *listenerAddress
		}
		if flagsSet[ListenerHandshakeTimeoutFlag] {
			cfg.Listener.HandshakeTimeout = *listenerHandshake
		}

		if flagsSet[SessionPollIntervalFlag] {
			cfg.Session.PollInterval = *sessionPoll
		}
		if flagsSet[SessionWorkDirFlag] {
			cfg.Session.WorkDir = *sessionWorkDir
		}

		if flagsSet[pprofEnabledFlag] {
			cfg.Debug.Pprof.Enabled = enablePprof
		}
		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}
		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutExporterEnabled
		}
		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}
		if flagsSet[ExporterMCPEnabledFlag] {
			cfg.Exporter.MCP.Enabled = mcpExporterEnabled
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)
	c.Host.DevCPU = strings.TrimSpace(c.Host.DevCPU)
	c.Rapl.Vendor = strings.ToLower(strings.TrimSpace(c.Rapl.Vendor))
	if c.Rapl.Vendor == "" {
		c.Rapl.Vendor = VendorAuto
	}
	c.Listener.Address = strings.TrimSpace(c.Listener.Address)
	c.Session.WorkDir = strings.TrimSpace(c.Session.WorkDir)
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}

	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
	c.Exporter.MCP.Path = strings.TrimSpace(c.Exporter.MCP.Path)
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level
		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}

	{ // Validate host settings
		if _, skip := validationSkipped[SkipHostValidation]; !skip {
			if err := canReadDir(c.Host.ProcFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s ", c.Host.ProcFS, err.Error()))
			}
		}
		if strings.Count(c.Host.DevCPU, "%d") != 1 {
			errs = append(errs, fmt.Sprintf("invalid msr device path %q: must contain exactly one %%d", c.Host.DevCPU))
		}
		if c.Host.CPU < 0 {
			errs = append(errs, fmt.Sprintf("invalid cpu index: %d can't be negative", c.Host.CPU))
		}
	}
	{ // RAPL
		switch c.Rapl.Vendor {
		case VendorAuto, VendorIntel, VendorAMD:
		default:
			errs = append(errs, fmt.Sprintf("invalid rapl vendor: %s", c.Rapl.Vendor))
		}
		intel := c.Rapl.Intel
		if !ptr.Deref(intel.Pkg, false) && !ptr.Deref(intel.PP0, false) &&
			!ptr.Deref(intel.PP1, false) && !ptr.Deref(intel.DRAM, false) {
			errs = append(errs, "at least one intel rapl domain must be enabled")
		}
		if !ptr.Deref(c.Rapl.AMD.Pkg, false) && !ptr.Deref(c.Rapl.AMD.Core, false) {
			errs = append(errs, "at least one amd rapl domain must be enabled")
		}
	}
	{ // Sampler
		if c.Sampler.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid sampler interval: %s must be positive", c.Sampler.Interval))
		}
		if c.Sampler.MaxSampleAge < c.Sampler.Interval {
			errs = append(errs, fmt.Sprintf("invalid sampler max sample age: %s is shorter than the interval %s",
				c.Sampler.MaxSampleAge, c.Sampler.Interval))
		}
	}
	{ // Distributor
		if c.Distributor.Cycle <= 0 {
			errs = append(errs, fmt.Sprintf("invalid distributor cycle: %s must be positive", c.Distributor.Cycle))
		}
		if c.Distributor.WriteTimeout <= 0 {
			errs = append(errs, fmt.Sprintf("invalid distributor write timeout: %s must be positive", c.Distributor.WriteTimeout))
		}
		if c.Distributor.BlockingThreshold < 0 {
			errs = append(errs, fmt.Sprintf("invalid distributor blocking threshold: %d can't be negative", c.Distributor.BlockingThreshold))
		}
		if c.Distributor.MaxPendingStart <= 0 {
			errs = append(errs, fmt.Sprintf("invalid distributor max pending start: %s must be positive", c.Distributor.MaxPendingStart))
		}
		if c.Distributor.MaxCarry < 0 {
			errs = append(errs, fmt.Sprintf("invalid distributor max carry: %s can't be negative", c.Distributor.MaxCarry))
		}
		if c.Distributor.MaxCarry >= c.Sampler.MaxSampleAge {
			errs = append(errs, fmt.Sprintf("invalid distributor max carry: %s must be shorter than the sampler max sample age %s",
				c.Distributor.MaxCarry, c.Sampler.MaxSampleAge))
		}
	}
	{ // Listener
		if err := validateListenAddress(c.Listener.Address); err != nil {
			errs = append(errs, fmt.Sprintf("invalid listener address %q: %s", c.Listener.Address, err.Error()))
		}
		if c.Listener.HandshakeTimeout <= 0 {
			errs = append(errs, fmt.Sprintf("invalid listener handshake timeout: %s must be positive", c.Listener.HandshakeTimeout))
		}
	}
	{ // Session
		if c.Session.PollInterval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid session poll interval: %s must be positive", c.Session.PollInterval))
		}
		if c.Session.WorkDir != "" {
			if err := canReadDir(c.Session.WorkDir); err != nil {
				errs = append(errs, fmt.Sprintf("invalid session work dir: %s: %s", c.Session.WorkDir, err.Error()))
			}
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
	}
	{ // Web listen addresses
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if addr == "" {
				errs = append(errs, "web listen address cannot be empty")
				continue
			}
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}
	{ // MCP
		if ptr.Deref(c.Exporter.MCP.Enabled, false) && !strings.HasPrefix(c.Exporter.MCP.Path, "/") {
			errs = append(errs, fmt.Sprintf("invalid mcp path %q: must start with /", c.Exporter.MCP.Path))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	if err != nil && err != io.EOF {
		return err
	}

	return nil
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()
	buf := make([]byte, 8)
	_, err = f.Read(buf)
	if err != nil {
		return err
	}

	return nil
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	// host can be empty for listening on all interfaces
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	return validatePort(port)
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostProcFSFlag, c.Host.ProcFS},
		{HostDevCPUFlag, c.Host.DevCPU},
		{HostCPUFlag, strconv.Itoa(c.Host.CPU)},
		{RaplVendorFlag, c.Rapl.Vendor},
		{RaplDomains, c.Domains()},
		{SamplerIntervalFlag, c.Sampler.Interval.String()},
		{SamplerMaxSampleAgeFlag, c.Sampler.MaxSampleAge.String()},
		{DistributorCycleFlag, c.Distributor.Cycle.String()},
		{DistributorWriteTimeoutFlag, c.Distributor.WriteTimeout.String()},
		{DistributorBlockingThresholdFlag, strconv.Itoa(c.Distributor.BlockingThreshold)},
		{DistributorMaxPendingStartFlag, c.Distributor.MaxPendingStart.String()},
		{DistributorMaxCarryFlag, c.Distributor.MaxCarry.String()},
		{ListenerAddressFlag, c.Listener.Address},
		{ListenerHandshakeTimeoutFlag, c.Listener.HandshakeTimeout.String()},
		{SessionPollIntervalFlag, c.Session.PollInterval.String()},
		{SessionWorkDirFlag, c.Session.WorkDir},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Stdout.Enabled, false))},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Prometheus.Enabled, false))},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
		{ExporterMCPEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.MCP.Enabled, false))},
		{ExporterMCPPath, c.Exporter.MCP.Path},
		{pprofEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Debug.Pprof.Enabled, false))},
		{WebListenAddressFlag, strings.Join(c.Web.ListenAddresses, ", ")},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}

// Domains lists the enabled rapl domains as vendor.domain
func (c *Config) Domains() string {
	var enabled []string
	add := func(name string, on *bool) {
		if ptr.Deref(on, false) {
			enabled = append(enabled, name)
		}
	}
	add("intel.pp0", c.Rapl.Intel.PP0)
	add("intel.pp1", c.Rapl.Intel.PP1)
	add("intel.pkg", c.Rapl.Intel.Pkg)
	add("intel.dram", c.Rapl.Intel.DRAM)
	add("amd.core", c.Rapl.AMD.Core)
	add("amd.pkg", c.Rapl.AMD.Pkg)
	return strings.Join(enabled, ",")
}
