// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"math"
)

// IntelJoules holds Intel domain energy in joules
type IntelJoules struct {
	PP0  float64 `json:"pp0"`
	PP1  float64 `json:"pp1"`
	Pkg  float64 `json:"pkg"`
	DRAM float64 `json:"dram"`
}

// AMDJoules holds AMD domain energy in joules
type AMDJoules struct {
	Core float64 `json:"core"`
	Pkg  float64 `json:"pkg"`
}

// Joules is the joule counterpart of Registers
type Joules struct {
	Vendor Vendor       `json:"vendor"`
	Intel  *IntelJoules `json:"intel,omitempty"`
	AMD    *AMDJoules   `json:"amd,omitempty"`
}

// Pkg returns the package energy of the active variant
func (j Joules) Pkg() float64 {
	switch {
	case j.Intel != nil:
		return j.Intel.Pkg
	case j.AMD != nil:
		return j.AMD.Pkg
	}
	return 0
}

// ByDomain returns the energy of every domain of the active variant keyed by
// domain name
func (j Joules) ByDomain() map[Domain]float64 {
	switch {
	case j.Intel != nil:
		return map[Domain]float64{
			DomainPackage: j.Intel.Pkg,
			DomainPP0:     j.Intel.PP0,
			DomainPP1:     j.Intel.PP1,
			DomainDRAM:    j.Intel.DRAM,
		}
	case j.AMD != nil:
		return map[Domain]float64{
			DomainPackage: j.AMD.Pkg,
			DomainCore:    j.AMD.Core,
		}
	}
	return map[Domain]float64{}
}

func (j Joules) String() string {
	switch {
	case j.Intel != nil:
		return fmt.Sprintf("pkg=%.4fJ pp0=%.4fJ pp1=%.4fJ dram=%.4fJ", j.Intel.Pkg, j.Intel.PP0, j.Intel.PP1, j.Intel.DRAM)
	case j.AMD != nil:
		return fmt.Sprintf("pkg=%.4fJ core=%.4fJ", j.AMD.Pkg, j.AMD.Core)
	}
	return "none"
}

// ToJoules scales every raw counter of r by unit
func ToJoules(r Registers, unit float64) Joules {
	j := Joules{Vendor: r.Vendor}
	switch {
	case r.Intel != nil:
		j.Intel = &IntelJoules{
			PP0:  float64(r.Intel.PP0) * unit,
			PP1:  float64(r.Intel.PP1) * unit,
			Pkg:  float64(r.Intel.Pkg) * unit,
			DRAM: float64(r.Intel.DRAM) * unit,
		}
	case r.AMD != nil:
		j.AMD = &AMDJoules{
			Core: float64(r.AMD.Core) * unit,
			Pkg:  float64(r.AMD.Pkg) * unit,
		}
	}
	return j
}

// DeltaJoules returns the energy consumed between prev and curr in joules.
// Counters are physically 32 bits wide; a decrease is treated as exactly
// one wraparound between the two readings.
func DeltaJoules(prev, curr Registers, unit float64) (Joules, error) {
	if prev.Vendor != curr.Vendor {
		return Joules{}, fmt.Errorf("cannot compute delta between %q and %q snapshots", prev.Vendor, curr.Vendor)
	}

	j := Joules{Vendor: curr.Vendor}
	switch curr.Vendor {
	case VendorIntel:
		if prev.Intel == nil || curr.Intel == nil {
			return Joules{}, fmt.Errorf("intel snapshot without intel registers")
		}
		p, c := prev.Intel, curr.Intel
		j.Intel = &IntelJoules{
			PP0:  float64(CounterDelta(p.PP0, c.PP0)) * unit,
			PP1:  float64(CounterDelta(p.PP1, c.PP1)) * unit,
			Pkg:  float64(CounterDelta(p.Pkg, c.Pkg)) * unit,
			DRAM: float64(CounterDelta(p.DRAM, c.DRAM)) * unit,
		}
	case VendorAMD:
		if prev.AMD == nil || curr.AMD == nil {
			return Joules{}, fmt.Errorf("amd snapshot without amd registers")
		}
		p, c := prev.AMD, curr.AMD
		j.AMD = &AMDJoules{
			Core: float64(CounterDelta(p.Core, c.Core)) * unit,
			Pkg:  float64(CounterDelta(p.Pkg, c.Pkg)) * unit,
		}
	default:
		return Joules{}, fmt.Errorf("unknown vendor %q", curr.Vendor)
	}
	return j, nil
}

// CounterDelta returns the number of ticks between two readings of a 32-bit
// energy counter exposed as 64 bits
func CounterDelta(prev, curr uint64) uint64 {
	if curr >= prev {
		return curr - prev
	}
	// wrapped: distance from prev to 2^32 plus curr
	return (math.MaxUint32 - uint64(uint32(prev))) + uint64(uint32(curr)) + 1
}
