// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sustainable-computing-io/thor/internal/distributor"
	"github.com/sustainable-computing-io/thor/internal/service"
)

// Exporter prints every distributed batch as a table
type Exporter struct {
	logger *slog.Logger

	mu  sync.Mutex
	out io.WriteCloser
}

var (
	_ distributor.BatchSink = (*Exporter)(nil)
	_ service.Shutdowner    = (*Exporter)(nil)
)

type Opts struct {
	logger *slog.Logger
	out    io.WriteCloser
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		out:    os.Stdout,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func NewExporter(applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger: opts.logger.With("service", "stdout"),
		out:    opts.out,
	}
}

// Write renders b; batches from consecutive cycles never interleave
func (e *Exporter) Write(b distributor.Batch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return WriteBatch(e.out, b)
}

// Header is the column set written by WriteBatch
var Header = []string{"ID", "PID", "TID", "Op", "Event (ms)", "Sample", "Pkg (J)", "Delta Pkg (J)", "Duration (ms)", "Wraps"}

// Row formats one packet in Header order
func Row(p distributor.Packet) []string {
	delta, duration := "-", "-"
	if p.Delta != nil {
		delta = fmt.Sprintf("%.4f", p.Delta.Pkg())
		duration = strconv.FormatUint(p.DurationMillis, 10)
	}
	return []string{
		p.Event.ID,
		strconv.FormatUint(uint64(p.Event.ProcessID), 10),
		strconv.FormatUint(p.Event.ThreadID, 10),
		p.Event.Operation.String(),
		strconv.FormatUint(p.Event.Timestamp, 10),
		p.SampleTime.UTC().Format("15:04:05.000"),
		fmt.Sprintf("%.4f", p.Joules.Pkg()),
		delta,
		duration,
		strconv.FormatUint(uint64(p.Overflows), 10),
	}
}

// WriteBatch renders b as a table on out
func WriteBatch(out io.Writer, b distributor.Batch) error {
	if len(b) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(b))
	for _, p := range b {
		rows = append(rows, Row(p))
	}

	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header(Header)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func (e *Exporter) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.out == os.Stdout {
		return nil
	}
	return e.out.Close()
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}
