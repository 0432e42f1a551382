package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quayside-labs/swapsentinel/internal/domain"
	"github.com/quayside-labs/swapsentinel/internal/monitor"
)

// MonitorService defines the control-plane methods the monitor handler
// requires from the scheduling loop.
type MonitorService interface {
	Start() error
	Stop() error
	Status() monitor.Status
	ForceTick(ctx context.Context) error
	Simulate(ctx context.Context, price float64) ([]domain.SimulationResult, error)
	Config() monitor.Params
	UpdateConfig(patch monitor.ParamsPatch) (monitor.Params, error)
}

// MonitorHandler serves the operator control plane.
type MonitorHandler struct {
	mon    MonitorService
	logger *slog.Logger
}

// NewMonitorHandler creates a MonitorHandler.
func NewMonitorHandler(mon MonitorService, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{
		mon:    mon,
		logger: logger,
	}
}

// paramsResponse renders monitor.Params with human-readable durations.
type paramsResponse struct {
	PollInterval            string `json:"poll_interval"`
	MaxConcurrentExecutions int    `json:"max_concurrent_executions"`
	ExecutionTimeout        string `json:"execution_timeout"`
	RecoveryGrace           string `json:"recovery_grace"`
	RecoveryEveryTicks      int    `json:"recovery_every_ticks"`
}

func renderParams(p monitor.Params) paramsResponse {
	return paramsResponse{
		PollInterval:            p.PollInterval.String(),
		MaxConcurrentExecutions: p.MaxConcurrentExecutions,
		ExecutionTimeout:        p.ExecutionTimeout.String(),
		RecoveryGrace:           p.RecoveryGrace.String(),
		RecoveryEveryTicks:      p.RecoveryEveryTicks,
	}
}

// paramsPatchRequest accepts duration fields as strings like "15s".
type paramsPatchRequest struct {
	PollInterval            *string `json:"poll_interval,omitempty"`
	MaxConcurrentExecutions *int    `json:"max_concurrent_executions,omitempty"`
	ExecutionTimeout        *string `json:"execution_timeout,omitempty"`
	RecoveryGrace           *string `json:"recovery_grace,omitempty"`
	RecoveryEveryTicks      *int    `json:"recovery_every_ticks,omitempty"`
}

func (r paramsPatchRequest) toPatch() (monitor.ParamsPatch, error) {
	patch := monitor.ParamsPatch{
		MaxConcurrentExecutions: r.MaxConcurrentExecutions,
		RecoveryEveryTicks:      r.RecoveryEveryTicks,
	}
	parse := func(s *string) (*time.Duration, error) {
		if s == nil {
			return nil, nil
		}
		d, err := time.ParseDuration(*s)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}
	var err error
	if patch.PollInterval, err = parse(r.PollInterval); err != nil {
		return patch, err
	}
	if patch.ExecutionTimeout, err = parse(r.ExecutionTimeout); err != nil {
		return patch, err
	}
	if patch.RecoveryGrace, err = parse(r.RecoveryGrace); err != nil {
		return patch, err
	}
	return patch, nil
}

// GetStatus reports the loop state and counters.
// GET /api/monitor/status
func (h *MonitorHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mon.Status())
}

// Start launches the scheduling loop.
// POST /api/monitor/start
func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.mon.Start(); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "monitor already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: start monitor failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start monitor")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// Stop halts the scheduling loop.
// POST /api/monitor/stop
func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.mon.Stop(); err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			writeError(w, http.StatusConflict, "monitor not running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: stop monitor failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to stop monitor")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// ForceTick runs one evaluation pass immediately.
// POST /api/monitor/tick
func (h *MonitorHandler) ForceTick(w http.ResponseWriter, r *http.Request) {
	if err := h.mon.ForceTick(r.Context()); err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			writeError(w, http.StatusConflict, "monitor not running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: force tick failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to force tick")
		return
	}
	writeJSON(w, http.StatusOK, h.mon.Status())
}

// simulateRequest carries the hypothetical price for a dry run.
type simulateRequest struct {
	Price float64 `json:"price"`
}

// simulateResponse wraps the simulation results.
type simulateResponse struct {
	Price   float64                   `json:"price"`
	Results []domain.SimulationResult `json:"results"`
}

// Simulate evaluates all active orders against a hypothetical price without
// executing anything.
// POST /api/monitor/simulate
func (h *MonitorHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	results, err := h.mon.Simulate(r.Context(), req.Price)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOrder) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: simulate failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to simulate")
		return
	}

	if results == nil {
		results = []domain.SimulationResult{}
	}
	writeJSON(w, http.StatusOK, simulateResponse{Price: req.Price, Results: results})
}

// GetConfig returns the current loop parameters.
// GET /api/monitor/config
func (h *MonitorHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, renderParams(h.mon.Config()))
}

// UpdateConfig applies a partial parameter update.
// PATCH /api/monitor/config
func (h *MonitorHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req paramsPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	patch, err := req.toPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid duration: "+err.Error())
		return
	}

	updated, err := h.mon.UpdateConfig(patch)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOrder) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: update config failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update config")
		return
	}

	writeJSON(w, http.StatusOK, renderParams(updated))
}
