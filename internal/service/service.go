// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package service defines the lifecycle shared by the daemon's components:
// the sampler, listener and distributor run in the background, the session
// manager only needs shutting down, and the API server does both.
package service

import "context"

// Service is the interface that all services must implement
type Service interface {
	// Name returns the name of the service
	Name() string
}

// Initializer is implemented by services needing setup before any service runs
type Initializer interface {
	Service
	Init() error
}

// Runner is implemented by services with a background loop
type Runner interface {
	Service
	// Run blocks until ctx is cancelled or the service fails
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services holding resources to release
type Shutdowner interface {
	Service
	// Shutdown shuts down the service
	Shutdown() error
}

// Names returns the names of services in order
func Names(services []Service) []string {
	names := make([]string, 0, len(services))
	for _, s := range services {
		names = append(names, s.Name())
	}
	return names
}

// LiveChecker is implemented by services able to report whether they are
// still making progress
type LiveChecker interface {
	Service
	IsLive() bool
}

// ReadyChecker is implemented by services able to report whether they can
// serve requests
type ReadyChecker interface {
	Service
	IsReady() bool
}
