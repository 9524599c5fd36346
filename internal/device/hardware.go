// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/procfs"
)

// HardwareContext owns the process wide hardware state: the register reader,
// the one time platform setup and the lazily decoded energy unit. It is
// created once at startup and shared by pointer with every component.
type HardwareContext struct {
	logger  *slog.Logger
	reader  RegisterReader
	layout  Layout
	domains Domains

	initOnce sync.Once
	initErr  error

	unitOnce  sync.Once
	powerUnit PowerUnit
	unitErr   error
}

// NewHardwareContext creates the context for the given vendor layout
func NewHardwareContext(reader RegisterReader, layout Layout, domains Domains, logger *slog.Logger) *HardwareContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &HardwareContext{
		logger:  logger.With("service", "hardware"),
		reader:  reader,
		layout:  layout,
		domains: domains,
	}
}

func (h *HardwareContext) Vendor() Vendor {
	return h.layout.Vendor()
}

func (h *HardwareContext) Layout() Layout {
	return h.layout
}

// Init runs the platform setup of the register reader exactly once, no
// matter how many goroutines call it. A failed setup is not retried.
func (h *HardwareContext) Init() error {
	h.initOnce.Do(func() {
		h.logger.Info("Initializing register access", "reader", h.reader.Name(), "vendor", h.layout.Vendor())
		if err := h.reader.Init(); err != nil {
			h.initErr = fmt.Errorf("platform init failed: %w", err)
		}
	})
	return h.initErr
}

// PowerUnit returns the decoded power unit register, read on first use only
func (h *HardwareContext) PowerUnit() (PowerUnit, error) {
	h.unitOnce.Do(func() {
		if err := h.Init(); err != nil {
			h.unitErr = err
			return
		}
		raw, err := h.reader.Read(h.layout.PowerUnitAddress())
		if err != nil {
			h.unitErr = fmt.Errorf("%w: power unit (0x%x): %w", ErrRegisterRead, h.layout.PowerUnitAddress(), err)
			return
		}
		h.powerUnit = DecodePowerUnit(raw)
		h.logger.Info("Decoded power unit",
			"raw", fmt.Sprintf("0x%x", raw),
			"energy_status_units", h.powerUnit.EnergyStatusUnits,
			"energy_unit_j", h.powerUnit.EnergyUnit())
	})
	return h.powerUnit, h.unitErr
}

// EnergyUnit returns joules per counter tick
func (h *HardwareContext) EnergyUnit() (float64, error) {
	pu, err := h.PowerUnit()
	if err != nil {
		return 0, err
	}
	return pu.EnergyUnit(), nil
}

// ReadSnapshot reads all enabled counters of the active vendor
func (h *HardwareContext) ReadSnapshot() (Registers, error) {
	if err := h.Init(); err != nil {
		return Registers{}, err
	}
	return h.layout.Read(h.reader, h.domains)
}

func (h *HardwareContext) Close() error {
	return h.reader.Close()
}

// DetectVendor determines the cpu vendor from cpuinfo of the given procfs mount
func DetectVendor(procfsPath string) (Vendor, error) {
	fs, err := procfs.NewFS(procfsPath)
	if err != nil {
		return "", fmt.Errorf("failed to open procfs %s: %w", procfsPath, err)
	}

	cpus, err := fs.CPUInfo()
	if err != nil {
		return "", fmt.Errorf("failed to read cpuinfo: %w", err)
	}
	if len(cpus) == 0 {
		return "", fmt.Errorf("cpuinfo lists no cpus")
	}

	return vendorFromID(cpus[0].VendorID)
}

func vendorFromID(id string) (Vendor, error) {
	switch strings.TrimSpace(id) {
	case "GenuineIntel":
		return VendorIntel, nil
	case "AuthenticAMD", "HygonGenuine":
		return VendorAMD, nil
	}
	return "", fmt.Errorf("unsupported cpu vendor id %q", id)
}
