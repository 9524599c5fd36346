// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"sort"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/sustainable-computing-io/thor/internal/correlation"
	"github.com/sustainable-computing-io/thor/internal/device"
)

// LatestSnapshot returns the newest indexed energy sample
type LatestSnapshot interface {
	Latest() (correlation.TimedSnapshot, bool)
}

// EnergyUnitProvider returns joules per counter tick
type EnergyUnitProvider interface {
	EnergyUnit() (float64, error)
}

// EnergyCollector exposes the most recent register snapshot in joules.
// Counters are 32 bits wide so the values restart from zero on every
// wraparound; thor_rapl_package_wraparounds_total counts those.
type EnergyCollector struct {
	logger *slog.Logger
	store  LatestSnapshot
	hw     EnergyUnitProvider

	counterDesc    *prom.Desc
	wrapDesc       *prom.Desc
	timestampDesc  *prom.Desc
	energyUnitDesc *prom.Desc
}

var _ prom.Collector = (*EnergyCollector)(nil)

func NewEnergyCollector(store LatestSnapshot, hw EnergyUnitProvider, logger *slog.Logger) *EnergyCollector {
	return &EnergyCollector{
		logger: logger.With("collector", "energy"),
		store:  store,
		hw:     hw,
		counterDesc: prom.NewDesc(
			prom.BuildFQName(thorNS, "rapl", "counter_joules"),
			"Energy counter of a RAPL domain at the latest sample, in joules",
			[]string{"vendor", "domain"}, nil,
		),
		wrapDesc: prom.NewDesc(
			prom.BuildFQName(thorNS, "rapl", "package_wraparounds_total"),
			"Package counter wraparounds observed up to the latest sample",
			[]string{"vendor"}, nil,
		),
		timestampDesc: prom.NewDesc(
			prom.BuildFQName(thorNS, "rapl", "sample_timestamp_seconds"),
			"Time the latest sample was taken",
			nil, nil,
		),
		energyUnitDesc: prom.NewDesc(
			prom.BuildFQName(thorNS, "rapl", "energy_unit_joules"),
			"Joules per counter tick decoded from the power unit register",
			nil, nil,
		),
	}
}

func (c *EnergyCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.counterDesc
	ch <- c.wrapDesc
	ch <- c.timestampDesc
	ch <- c.energyUnitDesc
}

func (c *EnergyCollector) Collect(ch chan<- prom.Metric) {
	unit, err := c.hw.EnergyUnit()
	if err != nil {
		c.logger.Error("Failed to read energy unit", "error", err)
		return
	}
	ch <- prom.MustNewConstMetric(c.energyUnitDesc, prom.GaugeValue, unit)

	snap, ok := c.store.Latest()
	if !ok {
		return
	}

	vendor := string(snap.Registers.Vendor)
	byDomain := device.ToJoules(snap.Registers, unit).ByDomain()
	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	for _, d := range domains {
		ch <- prom.MustNewConstMetric(c.counterDesc, prom.GaugeValue, byDomain[d], vendor, d)
	}
	ch <- prom.MustNewConstMetric(c.wrapDesc, prom.CounterValue, float64(snap.Overflows), vendor)
	ch <- prom.MustNewConstMetric(c.timestampDesc, prom.GaugeValue,
		float64(snap.Timestamp.UnixNano())/1e9)
}
