package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livefeed/src/feed"
	"livefeed/src/model"
	"livefeed/src/pipeline"
	"livefeed/src/poller"
)

type mockMarket struct {
	ticks        map[string]model.Tick
	status       model.ConnectionStatus
	reconnectErr error
	reconnects   int
}

func (m *mockMarket) Snapshot(name string) (model.Tick, bool) {
	t, ok := m.ticks[name]
	return t, ok
}

func (m *mockMarket) Snapshots() map[string]model.Tick { return m.ticks }

func (m *mockMarket) Status() model.ConnectionStatus { return m.status }

func (m *mockMarket) Reconnect() error {
	m.reconnects++
	return m.reconnectErr
}

type mockRefresher struct {
	tick model.Tick
	err  error
	name string
}

func (m *mockRefresher) FetchNow(_ context.Context, name string) (model.Tick, error) {
	m.name = name
	return m.tick, m.err
}

type mockControl struct {
	subscribed   []string
	unsubscribed []string
	err          error
}

func (m *mockControl) Subscribe(_ context.Context, name string) (model.Instrument, error) {
	if m.err != nil {
		return model.Instrument{}, m.err
	}
	m.subscribed = append(m.subscribed, name)
	return model.Instrument{Name: name, Exchange: "MCX", Token: "454819"}, nil
}

func (m *mockControl) Unsubscribe(_ context.Context, name string) error {
	if m.err != nil {
		return m.err
	}
	m.unsubscribed = append(m.unsubscribed, name)
	return nil
}

type mockPipeline struct {
	events   []model.PipelineEvent
	limit    int
	mode     model.ExecutionMode
	modeErr  error
	resets   int
	closed   []model.Trade
	closeErr error
}

func (m *mockPipeline) AuditTrail(limit int) []model.PipelineEvent {
	m.limit = limit
	return m.events
}
func (m *mockPipeline) AgentStatuses() []model.AgentStatus {
	return []model.AgentStatus{{Name: pipeline.AgentRisk, Status: model.AgentStatusBlocked}}
}
func (m *mockPipeline) Trades() []model.Trade { return m.closed }
func (m *mockPipeline) RiskMetrics() model.RiskMetrics {
	return model.RiskMetrics{TotalCapital: decimal.NewFromInt(100000), Blocked: true}
}
func (m *mockPipeline) Mode() model.ExecutionMode { return m.mode }
func (m *mockPipeline) SetMode(mode model.ExecutionMode) error {
	if m.modeErr != nil {
		return m.modeErr
	}
	m.mode = mode
	return nil
}
func (m *mockPipeline) ResetRisk() model.RiskMetrics {
	m.resets++
	return model.RiskMetrics{TotalCapital: decimal.NewFromInt(100000)}
}
func (m *mockPipeline) SquareOffAll(_ context.Context, _ map[string]model.Tick) ([]model.Trade, error) {
	return m.closed, m.closeErr
}

// withName routes through chi so URL params resolve.
func withName(method, pattern, target string, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestGetSnapshotHandler(t *testing.T) {
	m := &mockMarket{ticks: map[string]model.Tick{"GOLD": {Instrument: "GOLD", LastPrice: 62000, Freshness: model.FreshnessLive}}}

	rr := withName(http.MethodGet, "/snapshots/{name}", "/snapshots/gold", GetSnapshotHandler(m), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var tick model.Tick
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tick))
	assert.Equal(t, 62000.0, tick.LastPrice)
	assert.Equal(t, model.FreshnessLive, tick.Freshness)

	rr = withName(http.MethodGet, "/snapshots/{name}", "/snapshots/SILVER", GetSnapshotHandler(m), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetSnapshotsAndStatus(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m := &mockMarket{
		ticks:  map[string]model.Tick{"GOLD": {Instrument: "GOLD", LastPrice: 62000}},
		status: model.ConnectionStatus{State: model.StateConnected, LastUpdate: &now, Protocol: "v2"},
	}

	rr := httptest.NewRecorder()
	GetSnapshotsHandler(m).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"GOLD"`)

	rr = httptest.NewRecorder()
	GetConnectionStatusHandler(m).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	var status model.ConnectionStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, model.StateConnected, status.State)
	assert.True(t, now.Equal(*status.LastUpdate))
}

func TestReconnectHandler(t *testing.T) {
	m := &mockMarket{}
	rr := httptest.NewRecorder()
	ReconnectHandler(m).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, m.reconnects)

	m.reconnectErr = feed.ErrNotRunning
	rr = httptest.NewRecorder()
	ReconnectHandler(m).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRefreshSnapshotHandler(t *testing.T) {
	tests := []struct {
		name string
		tick model.Tick
		err  error
		code int
	}{
		{"ok", model.Tick{Instrument: "GOLD", LastPrice: 1}, nil, http.StatusOK},
		{"unknown", model.Tick{}, fmt.Errorf("%w: GOLD", poller.ErrUnknownInstrument), http.StatusNotFound},
		{"auth", model.Tick{}, model.ErrAuthentication, http.StatusServiceUnavailable},
		{"superseded", model.Tick{Instrument: "GOLD", LastPrice: 1}, errors.New("older than cached"), http.StatusOK},
		{"no data", model.Tick{}, poller.ErrNoData, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockRefresher{tick: tt.tick, err: tt.err}
			rr := withName(http.MethodPost, "/snapshots/{name}/refresh", "/snapshots/gold/refresh", RefreshSnapshotHandler(p), "")
			assert.Equal(t, tt.code, rr.Code)
			assert.Equal(t, "GOLD", p.name)
		})
	}
}

func TestSubscribeInstrumentHandler(t *testing.T) {
	c := &mockControl{}

	rr := httptest.NewRecorder()
	SubscribeInstrumentHandler(c).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"gold"}`)))
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, []string{"GOLD"}, c.subscribed)

	rr = httptest.NewRecorder()
	SubscribeInstrumentHandler(c).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"symbol":"gold"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	c.err = fmt.Errorf("%w: ZINC", model.ErrResolution)
	rr = httptest.NewRecorder()
	SubscribeInstrumentHandler(c).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"zinc"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestUnsubscribeInstrumentHandler(t *testing.T) {
	c := &mockControl{}
	rr := withName(http.MethodDelete, "/instruments/{name}", "/instruments/gold", UnsubscribeInstrumentHandler(c), "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"GOLD"}, c.unsubscribed)

	c.err = fmt.Errorf("%w: not tracked", model.ErrSubscription)
	rr = withName(http.MethodDelete, "/instruments/{name}", "/instruments/gold", UnsubscribeInstrumentHandler(c), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetAuditTrailHandler(t *testing.T) {
	p := &mockPipeline{events: []model.PipelineEvent{{Agent: pipeline.AgentContext}}}

	rr := httptest.NewRecorder()
	GetAuditTrailHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 50, p.limit)

	rr = httptest.NewRecorder()
	GetAuditTrailHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit?limit=5", nil))
	assert.Equal(t, 5, p.limit)

	rr = httptest.NewRecorder()
	GetAuditTrailHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSetExecutionModeHandler(t *testing.T) {
	p := &mockPipeline{mode: model.ModeSimulation}

	rr := httptest.NewRecorder()
	SetExecutionModeHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":"paper"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.ModePaper, p.mode)
	assert.JSONEq(t, `{"mode":"PAPER","previous_mode":"SIMULATION"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	SetExecutionModeHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":"turbo"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	p.modeErr = pipeline.ErrLiveUnavailable
	rr = httptest.NewRecorder()
	SetExecutionModeHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":"REAL"}`)))
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	assert.Equal(t, model.ModePaper, p.mode)
}

func TestRiskHandlers(t *testing.T) {
	p := &mockPipeline{mode: model.ModePaper}

	rr := httptest.NewRecorder()
	GetRiskMetricsHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["blocked"])
	assert.Equal(t, "PAPER", body["execution_mode"])

	rr = httptest.NewRecorder()
	ResetRiskHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, p.resets)

	rr = httptest.NewRecorder()
	GetAgentStatusesHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rr.Body.String(), model.AgentStatusBlocked)
}

func TestSquareOffHandler(t *testing.T) {
	p := &mockPipeline{closed: []model.Trade{{ID: "SIM-001", Status: model.TradeStatusClosed}}}
	m := &mockMarket{}

	rr := httptest.NewRecorder()
	SquareOffHandler(p, m).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "SIM-001")

	p.closeErr = errors.New("broker down")
	rr = httptest.NewRecorder()
	SquareOffHandler(p, m).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}
