// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"strconv"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
)

// cpuInfoReader returns the parsed /proc/cpuinfo
type cpuInfoReader func() ([]procfs.CPUInfo, error)

// cpuInfoCollector exposes the CPU whose registers are sampled, so that
// energy figures can be told apart by vendor and model on dashboards
type cpuInfoCollector struct {
	sync.Mutex

	read cpuInfoReader
	cpu  int
	desc *prom.Desc
}

// NewCPUInfoCollector creates a collector reporting the sampled cpu from
// the procfs mounted at procPath
func NewCPUInfoCollector(procPath string, cpu int) (*cpuInfoCollector, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	return newCPUInfoCollector(fs.CPUInfo, cpu), nil
}

func newCPUInfoCollector(read cpuInfoReader, cpu int) *cpuInfoCollector {
	return &cpuInfoCollector{
		read: read,
		cpu:  cpu,
		desc: prom.NewDesc(
			prom.BuildFQName(thorNS, "node", "cpu_info"),
			"The cpu whose energy registers are sampled",
			[]string{"processor", "vendor_id", "model_name", "physical_id", "core_id"},
			nil,
		),
	}
}

func (c *cpuInfoCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

func (c *cpuInfoCollector) Collect(ch chan<- prom.Metric) {
	c.Lock()
	defer c.Unlock()

	infos, err := c.read()
	if err != nil {
		return
	}
	for _, ci := range infos {
		if int(ci.Processor) != c.cpu {
			continue
		}
		ch <- prom.MustNewConstMetric(
			c.desc,
			prom.GaugeValue,
			1,
			strconv.FormatUint(uint64(ci.Processor), 10),
			ci.VendorID,
			ci.ModelName,
			ci.PhysicalID,
			ci.CoreID,
		)
	}
}
