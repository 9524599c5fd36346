// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/sustainable-computing-io/thor/internal/version"
)

const thorNS = "thor"

// buildInfoCollector reports the running daemon build together with the
// register layout it samples, so a dashboard can tell an intel pp0 series
// from an amd core one without scraping the node
type buildInfoCollector struct {
	desc   *prom.Desc
	labels []string
}

// NewBuildInfoCollector creates the thor_build_info collector. vendor is the
// rapl layout in use, intel or amd.
func NewBuildInfoCollector(vendor string) prom.Collector {
	info := version.Info()
	ver := info.Version
	if ver == "" {
		ver = "dev"
	}
	return &buildInfoCollector{
		desc: prom.NewDesc(
			prom.BuildFQName(thorNS, "build", "info"),
			"Constant 1 labelled with the thor build and the sampled rapl vendor",
			[]string{"version", "revision", "branch", "goversion", "arch", "rapl_vendor"},
			nil,
		),
		labels: []string{ver, info.GitCommit, info.GitBranch, info.GoVersion, info.GoArch, vendor},
	}
}

func (c *buildInfoCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

func (c *buildInfoCollector) Collect(ch chan<- prom.Metric) {
	ch <- prom.MustNewConstMetric(c.desc, prom.GaugeValue, 1, c.labels...)
}
