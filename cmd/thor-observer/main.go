// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/sustainable-computing-io/thor/internal/client"
	"github.com/sustainable-computing-io/thor/internal/distributor"
	"github.com/sustainable-computing-io/thor/internal/exporter/stdout"
	"github.com/sustainable-computing-io/thor/internal/logger"
	"github.com/sustainable-computing-io/thor/internal/version"
)

type options struct {
	address    string
	repository string
	format     string
	output     string
	logLevel   string
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(opts.logLevel, "text", os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, opts); err != nil {
		log.Error("observer terminated with an error", "error", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, error) {
	app := kingpin.New("thor-observer", "Receives correlated energy batches from a thor daemon.")
	app.Version(version.Info().String())

	var o options
	app.Flag("address", "Daemon address").Default("localhost:6969").StringVar(&o.address)
	app.Flag("repository", "Git repository the daemon builds and runs for this observer").Default("").StringVar(&o.repository)
	app.Flag("format", "Output format").Default("table").EnumVar(&o.format, "table", "csv")
	app.Flag("output", "Output file; - writes to stdout").Default("-").StringVar(&o.output)
	app.Flag("log.level", "Logging level: debug, info, warn, error").Default("info").EnumVar(&o.logLevel, "debug", "info", "warn", "error")

	if _, err := app.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// newSink returns the batch writer for format
func newSink(format string, out io.Writer) distributor.BatchSink {
	if format == "csv" {
		return client.NewCSVWriter(out)
	}
	return tableSink{out: out}
}

type tableSink struct {
	out io.Writer
}

func (tableSink) Name() string { return "table" }

func (t tableSink) Write(b distributor.Batch) error {
	return stdout.WriteBatch(t.out, b)
}

func run(ctx context.Context, log *slog.Logger, o options) error {
	out, err := openOutput(o.output)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	defer out.Close()

	obs, err := client.DialObserver(ctx, o.address, o.repository)
	if err != nil {
		return err
	}
	log.Info("Connected to thor", "address", o.address, "repository", o.repository)

	go func() {
		<-ctx.Done()
		_ = obs.Close()
	}()

	return receive(ctx, log, obs, newSink(o.format, out))
}

type batchSource interface {
	Next() (distributor.Batch, error)
}

// receive writes batches until the daemon disconnects or ctx is cancelled
func receive(ctx context.Context, log *slog.Logger, src batchSource, sink distributor.BatchSink) error {
	for {
		batch, err := src.Next()
		switch {
		case errors.Is(err, io.EOF):
			log.Info("Daemon closed the connection")
			return nil
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}

		log.Debug("Received batch", "packets", len(batch))
		if err := sink.Write(batch); err != nil {
			return fmt.Errorf("failed to write batch: %w", err)
		}
	}
}
