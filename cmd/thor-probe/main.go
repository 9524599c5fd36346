// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/thor/internal/client"
	"github.com/sustainable-computing-io/thor/internal/logger"
	"github.com/sustainable-computing-io/thor/internal/version"
)

type options struct {
	address  string
	prefix   string
	count    int
	work     time.Duration
	pause    time.Duration
	logLevel string
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

	// Start and Stop carry the OS thread id; keep it stable for every pair
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	src, err := client.DialEventSource(ctx, opts.address)
	if err != nil {
		log.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer src.Close()

	if err := probe(ctx, log, src, clock.RealClock{}, opts); err != nil {
		log.Error("probe terminated with an error", "error", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, error) {
	app := kingpin.New("thor-probe", "Sends synthetic start and stop events to a thor daemon.")
	app.Version(version.Info().String())

	var o options
	app.Flag("address", "Daemon address").Default("localhost:6969").StringVar(&o.address)
	app.Flag("id.prefix", "Prefix of generated event ids; a random one is used when empty").Default("").StringVar(&o.prefix)
	app.Flag("count", "Number of start/stop pairs to send").Default("10").IntVar(&o.count)
	app.Flag("work", "Time between a start and its stop").Default("50ms").DurationVar(&o.work)
	app.Flag("pause", "Time between pairs").Default("10ms").DurationVar(&o.pause)
	app.Flag("log.level", "Logging level: debug, info, warn, error").Default("info").EnumVar(&o.logLevel, "debug", "info", "warn", "error")

	if _, err := app.Parse(args); err != nil {
		return options{}, err
	}
	if o.count < 1 {
		return options{}, fmt.Errorf("invalid count %d: must be positive", o.count)
	}
	if o.prefix == "" {
		o.prefix = uuid.NewString()[:8]
	}
	return o, nil
}

type eventSender interface {
	Start(id string) error
	Stop(id string) error
}

// probe sends count start/stop pairs, each bracketing work of the given
// duration
func probe(ctx context.Context, log *slog.Logger, src eventSender, clk clock.Clock, o options) error {
	for i := range o.count {
		id := fmt.Sprintf("%s-%d", o.prefix, i)
		if err := src.Start(id); err != nil {
			return fmt.Errorf("failed to send start %s: %w", id, err)
		}
		if err := sleep(ctx, clk, o.work); err != nil {
			return err
		}
		if err := src.Stop(id); err != nil {
			return fmt.Errorf("failed to send stop %s: %w", id, err)
		}
		log.Debug("Sent event pair", "id", id)

		if i < o.count-1 {
			if err := sleep(ctx, clk, o.pause); err != nil {
				return err
			}
		}
	}
	log.Info("Sent all event pairs", "count", o.count)
	return nil
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}
