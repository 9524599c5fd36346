// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sustainable-computing-io/thor/internal/correlation"
	"github.com/sustainable-computing-io/thor/internal/device"
	"github.com/sustainable-computing-io/thor/internal/distributor"
	"github.com/sustainable-computing-io/thor/internal/session"
)

type LatestMeasurementParams struct{}

type GetEnergyAtParams struct {
	Timestamp int64 `json:"timestamp_ms" jsonschema:"Unix time in milliseconds"`
}

type EnergyBetweenParams struct {
	Start int64 `json:"start_ms" jsonschema:"Unix time in milliseconds of the first reading"`
	End   int64 `json:"end_ms" jsonschema:"Unix time in milliseconds of the second reading"`
}

type ListObserversParams struct{}

type ListSessionsParams struct{}

// Measurement is one sample converted to joules
type Measurement struct {
	Vendor     device.Vendor             `json:"vendor"`
	SampleTime time.Time                 `json:"sample_time"`
	Overflows  uint32                    `json:"overflow_count"`
	Joules     map[device.Domain]float64 `json:"joules"`
}

// EnergyDelta is the energy consumed between two samples
type EnergyDelta struct {
	Vendor         device.Vendor             `json:"vendor"`
	Start          time.Time                 `json:"start_sample_time"`
	End            time.Time                 `json:"end_sample_time"`
	DurationMillis int64                     `json:"duration_ms"`
	Joules         map[device.Domain]float64 `json:"joules"`
	AveragePkgW    float64                   `json:"average_pkg_watts,omitempty"`
}

func (s *Server) handleLatestMeasurement(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[LatestMeasurementParams]) (*mcp.CallToolResultFor[any], error) {
	snap, ok := s.src.Store.Latest()
	if !ok {
		return nil, fmt.Errorf("no sample has been taken yet")
	}
	m, err := s.measurement(snap)
	if err != nil {
		return nil, err
	}
	return jsonResult(m)
}

func (s *Server) handleGetEnergyAt(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[GetEnergyAtParams]) (*mcp.CallToolResultFor[any], error) {
	s.logger.Debug("Handling get_energy_at request", "timestamp_ms", params.Arguments.Timestamp)

	snap, err := s.src.Store.Lookup(time.UnixMilli(params.Arguments.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("lookup at %d failed: %w", params.Arguments.Timestamp, err)
	}
	m, err := s.measurement(snap)
	if err != nil {
		return nil, err
	}
	return jsonResult(m)
}

func (s *Server) handleEnergyBetween(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[EnergyBetweenParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	s.logger.Debug("Handling energy_between request", "start_ms", args.Start, "end_ms", args.End)
	if args.End < args.Start {
		return nil, fmt.Errorf("end_ms %d is before start_ms %d", args.End, args.Start)
	}

	start, err := s.src.Store.Lookup(time.UnixMilli(args.Start))
	if err != nil {
		return nil, fmt.Errorf("lookup at %d failed: %w", args.Start, err)
	}
	end, err := s.src.Store.Lookup(time.UnixMilli(args.End))
	if err != nil {
		return nil, fmt.Errorf("lookup at %d failed: %w", args.End, err)
	}

	delta, err := energyDelta(start, end, s.src.Hardware)
	if err != nil {
		return nil, err
	}
	return jsonResult(delta)
}

func (s *Server) handleListObservers(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[ListObserversParams]) (*mcp.CallToolResultFor[any], error) {
	observers := []distributor.ObserverInfo{}
	if s.src.Observers != nil {
		observers = append(observers, s.src.Observers.List()...)
	}
	return jsonResult(observers)
}

func (s *Server) handleListSessions(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[ListSessionsParams]) (*mcp.CallToolResultFor[any], error) {
	sessions := []session.Session{}
	if s.src.Sessions != nil {
		sessions = append(sessions, s.src.Sessions.Sessions()...)
	}
	return jsonResult(sessions)
}

func (s *Server) measurement(snap correlation.TimedSnapshot) (Measurement, error) {
	unit, err := s.src.Hardware.EnergyUnit()
	if err != nil {
		return Measurement{}, fmt.Errorf("failed to read energy unit: %w", err)
	}
	return Measurement{
		Vendor:     snap.Registers.Vendor,
		SampleTime: snap.Timestamp,
		Overflows:  snap.Overflows,
		Joules:     device.ToJoules(snap.Registers, unit).ByDomain(),
	}, nil
}

// energyDelta converts the counter difference between two snapshots. The
// package domain accounts for every wraparound counted by the store; the
// other domains assume at most one.
func energyDelta(start, end correlation.TimedSnapshot, hw EnergyUnitProvider) (EnergyDelta, error) {
	unit, err := hw.EnergyUnit()
	if err != nil {
		return EnergyDelta{}, fmt.Errorf("failed to read energy unit: %w", err)
	}

	j, err := device.DeltaJoules(start.Registers, end.Registers, unit)
	if err != nil {
		return EnergyDelta{}, err
	}

	wraps := uint64(end.Overflows - start.Overflows)
	pkgTicks := wraps<<32 + end.Registers.Pkg() - start.Registers.Pkg()
	pkg := float64(pkgTicks) * unit
	switch {
	case j.Intel != nil:
		j.Intel.Pkg = pkg
	case j.AMD != nil:
		j.AMD.Pkg = pkg
	}

	d := EnergyDelta{
		Vendor:         end.Registers.Vendor,
		Start:          start.Timestamp,
		End:            end.Timestamp,
		DurationMillis: end.Timestamp.Sub(start.Timestamp).Milliseconds(),
		Joules:         j.ByDomain(),
	}
	if secs := end.Timestamp.Sub(start.Timestamp).Seconds(); secs > 0 {
		d.AveragePkgW = pkg / secs
	}
	return d, nil
}

func jsonResult(v any) (*mcp.CallToolResultFor[any], error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil
}
