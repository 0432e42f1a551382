package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside-labs/swapsentinel/internal/domain"
	"github.com/quayside-labs/swapsentinel/internal/monitor"
)

type stubMonitor struct {
	startErr  error
	stopErr   error
	tickErr   error
	simErr    error
	updateErr error
	status    monitor.Status
	params    monitor.Params
	results   []domain.SimulationResult
	patched   monitor.ParamsPatch
}

func (s *stubMonitor) Start() error           { return s.startErr }
func (s *stubMonitor) Stop() error            { return s.stopErr }
func (s *stubMonitor) Status() monitor.Status { return s.status }
func (s *stubMonitor) Config() monitor.Params { return s.params }

func (s *stubMonitor) ForceTick(context.Context) error { return s.tickErr }

func (s *stubMonitor) Simulate(context.Context, float64) ([]domain.SimulationResult, error) {
	return s.results, s.simErr
}

func (s *stubMonitor) UpdateConfig(patch monitor.ParamsPatch) (monitor.Params, error) {
	s.patched = patch
	if s.updateErr != nil {
		return s.params, s.updateErr
	}
	next := s.params
	if patch.PollInterval != nil {
		next.PollInterval = *patch.PollInterval
	}
	return next, nil
}

func testParams() monitor.Params {
	return monitor.Params{
		PollInterval:            15 * time.Second,
		MaxConcurrentExecutions: 5,
		ExecutionTimeout:        45 * time.Second,
		RecoveryGrace:           5 * time.Minute,
		RecoveryEveryTicks:      20,
	}
}

func TestMonitorStartHandler(t *testing.T) {
	h := NewMonitorHandler(&stubMonitor{}, testLogger())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/monitor/start", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"started"}`, rec.Body.String())
}

func TestMonitorStartConflict(t *testing.T) {
	h := NewMonitorHandler(&stubMonitor{startErr: domain.ErrAlreadyRunning}, testLogger())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/monitor/start", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMonitorStopConflict(t *testing.T) {
	h := NewMonitorHandler(&stubMonitor{stopErr: domain.ErrNotRunning}, testLogger())

	rec := httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/monitor/stop", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMonitorStatusHandler(t *testing.T) {
	h := NewMonitorHandler(&stubMonitor{status: monitor.Status{
		Running:    true,
		LastPrice:  0.12,
		TotalTicks: 7,
	}}, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/monitor/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var got monitor.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Running)
	assert.Equal(t, uint64(7), got.TotalTicks)
}

func TestMonitorForceTickNotRunning(t *testing.T) {
	h := NewMonitorHandler(&stubMonitor{tickErr: domain.ErrNotRunning}, testLogger())

	rec := httptest.NewRecorder()
	h.ForceTick(rec, httptest.NewRequest(http.MethodPost, "/api/monitor/tick", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMonitorSimulateHandler(t *testing.T) {
	h := NewMonitorHandler(&stubMonitor{results: []domain.SimulationResult{
		{OrderID: "o1", Pair: "WETH/USDC", Condition: "above", Threshold: 0.10, WouldFire: true},
	}}, testLogger())

	rec := httptest.NewRecorder()
	h.Simulate(rec, httptest.NewRequest(http.MethodPost, "/api/monitor/simulate",
		strings.NewReader(`{"price":0.12}`)))

	assert.Equal(t, http.StatusOK, rec.Code)

	var got simulateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 0.12, got.Price)
	require.Len(t, got.Results, 1)
	assert.True(t, got.Results[0].WouldFire)
}

func TestMonitorSimulateInvalidPrice(t *testing.T) {
	h := NewMonitorHandler(&stubMonitor{
		simErr: &domain.ValidationError{Reason: "simulation price must be > 0"},
	}, testLogger())

	rec := httptest.NewRecorder()
	h.Simulate(rec, httptest.NewRequest(http.MethodPost, "/api/monitor/simulate",
		strings.NewReader(`{"price":-1}`)))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMonitorGetConfigHandler(t *testing.T) {
	h := NewMonitorHandler(&stubMonitor{params: testParams()}, testLogger())

	rec := httptest.NewRecorder()
	h.GetConfig(rec, httptest.NewRequest(http.MethodGet, "/api/monitor/config", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var got paramsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "15s", got.PollInterval)
	assert.Equal(t, 5, got.MaxConcurrentExecutions)
}

func TestMonitorUpdateConfigHandler(t *testing.T) {
	stub := &stubMonitor{params: testParams()}
	h := NewMonitorHandler(stub, testLogger())

	rec := httptest.NewRecorder()
	h.UpdateConfig(rec, httptest.NewRequest(http.MethodPatch, "/api/monitor/config",
		strings.NewReader(`{"poll_interval":"30s"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, stub.patched.PollInterval)
	assert.Equal(t, 30*time.Second, *stub.patched.PollInterval)

	var got paramsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "30s", got.PollInterval)
}

func TestMonitorUpdateConfigBadDuration(t *testing.T) {
	h := NewMonitorHandler(&stubMonitor{params: testParams()}, testLogger())

	rec := httptest.NewRecorder()
	h.UpdateConfig(rec, httptest.NewRequest(http.MethodPatch, "/api/monitor/config",
		strings.NewReader(`{"poll_interval":"soon"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitorUpdateConfigRejected(t *testing.T) {
	h := NewMonitorHandler(&stubMonitor{
		params:    testParams(),
		updateErr: &domain.ValidationError{Reason: "poll_interval must be > 0"},
	}, testLogger())

	rec := httptest.NewRecorder()
	h.UpdateConfig(rec, httptest.NewRequest(http.MethodPatch, "/api/monitor/config",
		strings.NewReader(`{"poll_interval":"0s"}`)))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
