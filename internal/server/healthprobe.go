// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sustainable-computing-io/thor/internal/service"
)

// HealthProbe serves liveness and readiness endpoints backed by every
// service implementing service.LiveChecker or service.ReadyChecker
type HealthProbe struct {
	logger    *slog.Logger
	apiServer APIService
	services  []service.Service
}

// ServiceHealth is the state of one checked service
type ServiceHealth struct {
	Name  string `json:"name"`
	Live  *bool  `json:"live,omitempty"`
	Ready *bool  `json:"ready,omitempty"`
}

// HealthStatus is the body of both probe responses
type HealthStatus struct {
	Status   string          `json:"status"` // "ok" or "unhealthy"
	Services []ServiceHealth `json:"services"`
}

var _ service.Initializer = (*HealthProbe)(nil)

// NewHealthProbe creates a HealthProbe checking services
func NewHealthProbe(apiServer APIService, services []service.Service, logger *slog.Logger) *HealthProbe {
	return &HealthProbe{
		logger:    logger.With("service", "health-probe"),
		apiServer: apiServer,
		services:  services,
	}
}

func (h *HealthProbe) Name() string {
	return "health-probe"
}

func (h *HealthProbe) Init() error {
	if err := h.apiServer.Register("/probe/livez", "Liveness Probe",
		"Returns 200 while the sampler and distributor make progress",
		http.HandlerFunc(h.handleLiveness)); err != nil {
		return err
	}

	if err := h.apiServer.Register("/probe/readyz", "Readiness Probe",
		"Returns 200 once samples are indexed and peers are accepted",
		http.HandlerFunc(h.handleReadiness)); err != nil {
		return err
	}

	h.logger.Info("Health probe endpoints registered", "services", len(h.services))
	return nil
}

func (h *HealthProbe) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	status := HealthStatus{Status: "ok", Services: []ServiceHealth{}}
	for _, svc := range h.services {
		checker, ok := svc.(service.LiveChecker)
		if !ok {
			continue
		}
		live := checker.IsLive()
		status.Services = append(status.Services, ServiceHealth{Name: svc.Name(), Live: &live})
		if !live {
			status.Status = "unhealthy"
		}
	}
	h.respond(w, status)
}

func (h *HealthProbe) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	status := HealthStatus{Status: "ok", Services: []ServiceHealth{}}
	for _, svc := range h.services {
		checker, ok := svc.(service.ReadyChecker)
		if !ok {
			continue
		}
		ready := checker.IsReady()
		status.Services = append(status.Services, ServiceHealth{Name: svc.Name(), Ready: &ready})
		if !ready {
			status.Status = "unhealthy"
		}
	}
	h.respond(w, status)
}

func (h *HealthProbe) respond(w http.ResponseWriter, status HealthStatus) {
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
		h.logger.Debug("Health check failed", "services", status.Services)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Error("failed to encode health status", "error", err)
	}
}
