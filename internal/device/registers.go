// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
)

// Vendor identifies the register layout of the CPU the daemon runs on
type Vendor string

const (
	VendorIntel Vendor = "intel"
	VendorAMD   Vendor = "amd"
)

type Domain = string

const (
	DomainPackage Domain = "pkg"
	DomainPP0     Domain = "pp0"  // Power Plane 0 - processor cores
	DomainPP1     Domain = "pp1"  // Power Plane 1 - uncore (e.g., integrated GPU)
	DomainDRAM    Domain = "dram" // memory
	DomainCore    Domain = "core" // AMD core energy
)

// Intel RAPL MSR addresses
const (
	IntelMSRPowerUnit       uint64 = 0x606
	IntelMSRPkgEnergyStatus uint64 = 0x611
	IntelMSRPP0EnergyStatus uint64 = 0x639
	IntelMSRPP1EnergyStatus uint64 = 0x641
	IntelMSRDRAMEnergyStat  uint64 = 0x619
)

// AMD RAPL MSR addresses
const (
	AMDMSRPowerUnit       uint64 = 0xC0010299
	AMDMSRCoreEnergy      uint64 = 0xC001029A
	AMDMSRPkgEnergyStatus uint64 = 0xC001029B
)

// ErrRegisterRead is returned (wrapped) whenever a register cannot be read
var ErrRegisterRead = errors.New("register read failed")

// IntelRegisters holds raw counter values of the Intel energy domains
type IntelRegisters struct {
	PP0  uint64 `json:"pp0"`
	PP1  uint64 `json:"pp1"`
	Pkg  uint64 `json:"pkg"`
	DRAM uint64 `json:"dram"`
}

// AMDRegisters holds raw counter values of the AMD energy domains
type AMDRegisters struct {
	Core uint64 `json:"core"`
	Pkg  uint64 `json:"pkg"`
}

// Registers is a snapshot of all energy counters of one vendor.
// Exactly one of Intel or AMD is set and it always matches Vendor.
type Registers struct {
	Vendor Vendor          `json:"vendor"`
	Intel  *IntelRegisters `json:"intel,omitempty"`
	AMD    *AMDRegisters   `json:"amd,omitempty"`
}

// Pkg returns the package counter of the active variant
func (r Registers) Pkg() uint64 {
	switch {
	case r.Intel != nil:
		return r.Intel.Pkg
	case r.AMD != nil:
		return r.AMD.Pkg
	}
	return 0
}

// Validate checks that exactly the variant named by Vendor is present
func (r Registers) Validate() error {
	switch r.Vendor {
	case VendorIntel:
		if r.Intel == nil || r.AMD != nil {
			return fmt.Errorf("intel snapshot must carry only intel registers")
		}
	case VendorAMD:
		if r.AMD == nil || r.Intel != nil {
			return fmt.Errorf("amd snapshot must carry only amd registers")
		}
	default:
		return fmt.Errorf("unknown vendor %q", r.Vendor)
	}
	return nil
}

// PowerUnit is the decoded RAPL power unit register.
//
//	bits [0:4)   power units
//	bits [4:8)   reserved
//	bits [8:12)  energy status units (joule exponent)
//	bits [12:15) reserved
//	bits [15:19) time units
//	bits [19:64) reserved
type PowerUnit struct {
	PowerUnits        uint8
	EnergyStatusUnits uint8
	TimeUnits         uint8
}

// DecodePowerUnit extracts the bit fields of a raw power unit register
func DecodePowerUnit(raw uint64) PowerUnit {
	return PowerUnit{
		PowerUnits:        uint8(raw & 0xF),
		EnergyStatusUnits: uint8((raw >> 8) & 0xF),
		TimeUnits:         uint8((raw >> 15) & 0xF),
	}
}

// EnergyUnit returns joules per counter tick, 0.5^EnergyStatusUnits
func (p PowerUnit) EnergyUnit() float64 {
	return 1.0 / float64(uint64(1)<<p.EnergyStatusUnits)
}

// Domains selects the energy domains that are read on each sample.
// Domains of the other vendor are ignored.
type Domains struct {
	PP0  bool
	PP1  bool
	Pkg  bool
	DRAM bool
	Core bool
}

// AllDomains enables every domain of both vendors
func AllDomains() Domains {
	return Domains{PP0: true, PP1: true, Pkg: true, DRAM: true, Core: true}
}

type counter struct {
	domain  Domain
	address uint64
	enabled func(Domains) bool
	set     func(*Registers, uint64)
}

// Layout is the register address table of one vendor
type Layout struct {
	vendor    Vendor
	powerUnit uint64
	counters  []counter
}

var intelLayout = Layout{
	vendor:    VendorIntel,
	powerUnit: IntelMSRPowerUnit,
	counters: []counter{
		{DomainPP0, IntelMSRPP0EnergyStatus, func(d Domains) bool { return d.PP0 }, func(r *Registers, v uint64) { r.Intel.PP0 = v }},
		{DomainPP1, IntelMSRPP1EnergyStatus, func(d Domains) bool { return d.PP1 }, func(r *Registers, v uint64) { r.Intel.PP1 = v }},
		{DomainPackage, IntelMSRPkgEnergyStatus, func(d Domains) bool { return d.Pkg }, func(r *Registers, v uint64) { r.Intel.Pkg = v }},
		{DomainDRAM, IntelMSRDRAMEnergyStat, func(d Domains) bool { return d.DRAM }, func(r *Registers, v uint64) { r.Intel.DRAM = v }},
	},
}

var amdLayout = Layout{
	vendor:    VendorAMD,
	powerUnit: AMDMSRPowerUnit,
	counters: []counter{
		{DomainCore, AMDMSRCoreEnergy, func(d Domains) bool { return d.Core }, func(r *Registers, v uint64) { r.AMD.Core = v }},
		{DomainPackage, AMDMSRPkgEnergyStatus, func(d Domains) bool { return d.Pkg }, func(r *Registers, v uint64) { r.AMD.Pkg = v }},
	},
}

// LayoutFor returns the register table of the given vendor
func LayoutFor(v Vendor) (Layout, error) {
	switch v {
	case VendorIntel:
		return intelLayout, nil
	case VendorAMD:
		return amdLayout, nil
	}
	return Layout{}, fmt.Errorf("unsupported cpu vendor %q", v)
}

func (l Layout) Vendor() Vendor {
	return l.vendor
}

// PowerUnitAddress returns the address of the power unit register
func (l Layout) PowerUnitAddress() uint64 {
	return l.powerUnit
}

// Addresses returns the counter addresses read for the enabled domains
func (l Layout) Addresses(d Domains) map[Domain]uint64 {
	ret := make(map[Domain]uint64, len(l.counters))
	for _, c := range l.counters {
		if c.enabled(d) {
			ret[c.domain] = c.address
		}
	}
	return ret
}

func (l Layout) empty() Registers {
	r := Registers{Vendor: l.vendor}
	switch l.vendor {
	case VendorIntel:
		r.Intel = &IntelRegisters{}
	case VendorAMD:
		r.AMD = &AMDRegisters{}
	}
	return r
}

// Read reads every enabled counter of the layout. If any read fails the
// whole snapshot fails; partial snapshots are never returned.
func (l Layout) Read(reader RegisterReader, d Domains) (Registers, error) {
	r := l.empty()
	for _, c := range l.counters {
		if !c.enabled(d) {
			continue
		}
		v, err := reader.Read(c.address)
		if err != nil {
			return Registers{}, fmt.Errorf("%w: %s (0x%x): %w", ErrRegisterRead, c.domain, c.address, err)
		}
		c.set(&r, v)
	}
	return r, nil
}
