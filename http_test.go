package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/thom899g/autonomous-trading-hypothesis-generator/store"
)

type fakeStore struct {
	strategies map[string]store.StrategyMetadata
	backtests  map[string]store.BacktestResult
	states     map[string]store.RunState
	heartbeats []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		strategies: make(map[string]store.StrategyMetadata),
		backtests:  make(map[string]store.BacktestResult),
		states:     make(map[string]store.RunState),
	}
}

func (f *fakeStore) SaveStrategy(ctx context.Context, m store.StrategyMetadata) error {
	if _, err := store.ParseStrategyStatus(string(m.Status)); err != nil {
		return err
	}
	f.strategies[m.StrategyId] = m
	return nil
}

func (f *fakeStore) GetStrategy(ctx context.Context, id string) (*store.StrategyMetadata, error) {
	m, ok := f.strategies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (f *fakeStore) UpdateStrategyStatus(ctx context.Context, id string, st store.StrategyStatus) error {
	m, ok := f.strategies[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Status = st
	f.strategies[id] = m
	return nil
}

func (f *fakeStore) UpdateStrategyMetrics(ctx context.Context, id string, metrics store.StrategyMetrics) error {
	m, ok := f.strategies[id]
	if !ok {
		return store.ErrNotFound
	}
	if metrics.SharpeRatio.Valid {
		m.SharpeRatio = metrics.SharpeRatio
	}
	if metrics.WinRate.Valid {
		m.WinRate = metrics.WinRate
	}
	f.strategies[id] = m
	return nil
}

func (f *fakeStore) ListStrategies(ctx context.Context) ([]store.StrategyMetadata, error) {
	var ms []store.StrategyMetadata
	for _, m := range f.strategies {
		ms = append(ms, m)
	}
	return ms, nil
}

func (f *fakeStore) ListStrategiesByStatus(ctx context.Context, st store.StrategyStatus) ([]store.StrategyMetadata, error) {
	var ms []store.StrategyMetadata
	for _, m := range f.strategies {
		if m.Status == st {
			ms = append(ms, m)
		}
	}
	return ms, nil
}

func (f *fakeStore) DeleteStrategy(ctx context.Context, id string) error {
	delete(f.strategies, id)
	return nil
}

func (f *fakeStore) SaveBacktestResult(ctx context.Context, r store.BacktestResult) error {
	f.backtests[r.BacktestId] = r
	return nil
}

func (f *fakeStore) GetBacktestResult(ctx context.Context, id string) (*store.BacktestResult, error) {
	r, ok := f.backtests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (f *fakeStore) ListBacktestResults(ctx context.Context, strategyId string, limit int) ([]store.BacktestResult, error) {
	var rs []store.BacktestResult
	for _, r := range f.backtests {
		if r.StrategyId == strategyId {
			rs = append(rs, r)
		}
	}
	if limit > 0 && len(rs) > limit {
		rs = rs[:limit]
	}
	return rs, nil
}

func (f *fakeStore) SetRunState(ctx context.Context, st store.RunState) error {
	f.states[st.StrategyId] = st
	return nil
}

func (f *fakeStore) GetRunState(ctx context.Context, id string) (*store.RunState, error) {
	st, ok := f.states[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (f *fakeStore) Heartbeat(ctx context.Context, id string) error {
	if _, ok := f.states[id]; !ok {
		return store.ErrNotFound
	}
	f.heartbeats = append(f.heartbeats, id)
	return nil
}

func (f *fakeStore) ListRunningStates(ctx context.Context) ([]store.RunState, error) {
	var sts []store.RunState
	for _, st := range f.states {
		if st.Running {
			sts = append(sts, st)
		}
	}
	return sts, nil
}

func (f *fakeStore) DeleteRunState(ctx context.Context, id string) error {
	delete(f.states, id)
	return nil
}

type fakeSender struct {
	sentCh chan string
}

func (f *fakeSender) Send(chatId int64, text string) {
	f.sentCh <- text
}

func newTestHandler(f *fakeStore) *httpHandler {
	return &httpHandler{
		logger: log.New(io.Discard, "", 0),
		store:  f,
	}
}

func TestStrategiesEndpoint(t *testing.T) {
	f := newFakeStore()
	h := newTestHandler(f)
	router := h.router()

	// POST with defaults applied
	body := `{"strategy_id": "strat-001", "name": "mean reversion BTC", "description": "hourly"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/strategies", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expect '%d', but got '%d' (%s)", http.StatusOK, rec.Code, rec.Body.String())
	}
	saved, ok := f.strategies["strat-001"]
	if !ok {
		t.Fatalf("expect strategy to be saved")
	}
	if saved.Status != store.STATUS_GENERATED {
		t.Errorf("expect default status 'generated', but got '%s'", saved.Status)
	}
	if saved.CreatedAt.IsZero() || saved.UpdatedAt.IsZero() {
		t.Errorf("expect timestamps to be filled in, but got '%v'/'%v'", saved.CreatedAt, saved.UpdatedAt)
	}

	// GET list
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/strategies", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expect '%d', but got '%d'", http.StatusOK, rec.Code)
	}
	var ms []store.StrategyMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &ms); err != nil {
		t.Fatalf("expect JSON list, but got '%v'", err)
	}
	if len(ms) != 1 || ms[0].StrategyId != "strat-001" {
		t.Errorf("expect 1 strategy 'strat-001', but got '%+v'", ms)
	}

	// GET with a bad status filter
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/strategies?status=paused", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expect '%d', but got '%d'", http.StatusBadRequest, rec.Code)
	}

	// POST with a broken payload
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/strategies", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expect '%d', but got '%d'", http.StatusBadRequest, rec.Code)
	}

	// Unsupported method
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/strategies", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expect '%d', but got '%d'", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestStrategyEndpoint(t *testing.T) {
	f := newFakeStore()
	f.strategies["strat-001"] = store.StrategyMetadata{
		StrategyId: "strat-001",
		Name:       "mean reversion BTC",
		Status:     store.STATUS_BACKTESTED,
	}
	h := newTestHandler(f)
	router := h.router()

	testcases := []struct {
		title        string
		method       string
		target       string
		expectedCode int
	}{
		{title: "get existing", method: http.MethodGet, target: "/strategy?strategy_id=strat-001", expectedCode: http.StatusOK},
		{title: "get missing", method: http.MethodGet, target: "/strategy?strategy_id=strat-404", expectedCode: http.StatusNotFound},
		{title: "missing param", method: http.MethodGet, target: "/strategy", expectedCode: http.StatusBadRequest},
		{title: "delete", method: http.MethodDelete, target: "/strategy?strategy_id=strat-001", expectedCode: http.StatusOK},
		{title: "unsupported method", method: http.MethodPost, target: "/strategy?strategy_id=strat-001", expectedCode: http.StatusMethodNotAllowed},
	}

	for _, tc := range testcases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, nil))
		if rec.Code != tc.expectedCode {
			t.Errorf("TestStrategyEndpoint case '%s' - expect '%d', but got '%d'", tc.title, tc.expectedCode, rec.Code)
		}
	}

	if _, ok := f.strategies["strat-001"]; ok {
		t.Errorf("expect strategy to be deleted")
	}
}

func TestStrategyStatusEndpoint(t *testing.T) {
	f := newFakeStore()
	f.strategies["strat-001"] = store.StrategyMetadata{
		StrategyId: "strat-001",
		Status:     store.STATUS_BACKTESTED,
	}
	sender := &fakeSender{sentCh: make(chan string, 1)}
	h := newTestHandler(f)
	h.setSender(sender, 42)
	router := h.router()

	body := `{"strategy_id": "strat-001", "status": "live_paper"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/strategy/status", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expect '%d', but got '%d' (%s)", http.StatusOK, rec.Code, rec.Body.String())
	}
	if f.strategies["strat-001"].Status != store.STATUS_LIVE_PAPER {
		t.Errorf("expect status 'live_paper', but got '%s'", f.strategies["strat-001"].Status)
	}

	select {
	case text := <-sender.sentCh:
		if !strings.Contains(text, "live_paper") {
			t.Errorf("expect notification to mention the new status, but got '%s'", text)
		}
	case <-time.After(time.Second):
		t.Errorf("expect a notification to be sent")
	}

	// Status value outside the enum
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/strategy/status", strings.NewReader(`{"strategy_id": "strat-001", "status": "paused"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expect '%d', but got '%d'", http.StatusBadRequest, rec.Code)
	}

	// Unknown strategy
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/strategy/status", strings.NewReader(`{"strategy_id": "strat-404", "status": "archived"}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expect '%d', but got '%d'", http.StatusNotFound, rec.Code)
	}
}

func TestStrategyMetricsEndpoint(t *testing.T) {
	f := newFakeStore()
	f.strategies["strat-001"] = store.StrategyMetadata{
		StrategyId: "strat-001",
		Status:     store.STATUS_BACKTESTED,
	}
	h := newTestHandler(f)
	router := h.router()

	body := `{"strategy_id": "strat-001", "sharpe_ratio": 1.85, "win_rate": 0.57}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/strategy/metrics", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expect '%d', but got '%d' (%s)", http.StatusOK, rec.Code, rec.Body.String())
	}

	m := f.strategies["strat-001"]
	if !m.SharpeRatio.Valid {
		t.Errorf("expect sharpe_ratio to be set")
	}
	if !m.WinRate.Valid {
		t.Errorf("expect win_rate to be set")
	}
	if m.MaxDrawdown.Valid {
		t.Errorf("expect max_drawdown to stay unset")
	}
}

func TestRunStateEndpoint(t *testing.T) {
	f := newFakeStore()
	h := newTestHandler(f)
	router := h.router()

	// PUT a running state
	body := `{"strategy_id": "strat-001", "running": true, "mode": "paper"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/state", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expect '%d', but got '%d' (%s)", http.StatusOK, rec.Code, rec.Body.String())
	}

	// Heartbeat it
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/state?strategy_id=strat-001", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expect '%d', but got '%d'", http.StatusOK, rec.Code)
	}
	if len(f.heartbeats) != 1 || f.heartbeats[0] != "strat-001" {
		t.Errorf("expect a heartbeat for 'strat-001', but got '%v'", f.heartbeats)
	}

	// Running listing
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state/running", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expect '%d', but got '%d'", http.StatusOK, rec.Code)
	}
	var sts []store.RunState
	if err := json.Unmarshal(rec.Body.Bytes(), &sts); err != nil {
		t.Fatalf("expect JSON list, but got '%v'", err)
	}
	if len(sts) != 1 || sts[0].StrategyId != "strat-001" {
		t.Errorf("expect 1 running state for 'strat-001', but got '%+v'", sts)
	}

	// Heartbeat for an unknown strategy
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/state?strategy_id=strat-404", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expect '%d', but got '%d'", http.StatusNotFound, rec.Code)
	}

	// DELETE it
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/state?strategy_id=strat-001", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expect '%d', but got '%d'", http.StatusOK, rec.Code)
	}
	if _, ok := f.states["strat-001"]; ok {
		t.Errorf("expect run state to be deleted")
	}
}

func TestBacktestsEndpoint(t *testing.T) {
	f := newFakeStore()
	h := newTestHandler(f)
	router := h.router()

	body := `{
		"backtest_id": "bt-001",
		"strategy_id": "strat-001",
		"started_at": "2025-04-01T00:00:00Z",
		"completed_at": "2025-04-01T00:42:00Z",
		"initial_balance": "10000",
		"final_balance": "11523.87",
		"total_trades": 137,
		"win_rate": 0.62
	}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/backtests", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expect '%d', but got '%d' (%s)", http.StatusOK, rec.Code, rec.Body.String())
	}
	if _, ok := f.backtests["bt-001"]; !ok {
		t.Fatalf("expect backtest to be saved")
	}

	// List by strategy
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backtests?strategy_id=strat-001", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expect '%d', but got '%d'", http.StatusOK, rec.Code)
	}
	var rs []store.BacktestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &rs); err != nil {
		t.Fatalf("expect JSON list, but got '%v'", err)
	}
	if len(rs) != 1 || !rs[0].FinalBalance.Equal(f.backtests["bt-001"].FinalBalance) {
		t.Errorf("expect the saved backtest, but got '%+v'", rs)
	}

	// Single result
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backtests?backtest_id=bt-001", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expect '%d', but got '%d'", http.StatusOK, rec.Code)
	}

	// Missing both params
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backtests", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expect '%d', but got '%d'", http.StatusBadRequest, rec.Code)
	}

	// Bad limit
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backtests?strategy_id=strat-001&limit=ten", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expect '%d', but got '%d'", http.StatusBadRequest, rec.Code)
	}
}

// Every error response shows up in the log, not only the 5xx ones
func TestWriteErrorLogsAllCodes(t *testing.T) {
	testcases := []struct {
		title string
		code  int
	}{
		{title: "bad request", code: http.StatusBadRequest},
		{title: "not found", code: http.StatusNotFound},
		{title: "internal error", code: http.StatusInternalServerError},
	}

	for _, tc := range testcases {
		var buf bytes.Buffer
		h := &httpHandler{logger: log.New(&buf, "", 0)}
		rec := httptest.NewRecorder()
		h.writeError(rec, tc.code, errors.New("strategy 'strat-404' went missing"))

		if rec.Code != tc.code {
			t.Errorf("TestWriteErrorLogsAllCodes case '%s' - expect '%d', but got '%d'", tc.title, tc.code, rec.Code)
		}
		logged := buf.String()
		if !strings.Contains(logged, "[ERROR]") || !strings.Contains(logged, "strat-404") {
			t.Errorf("TestWriteErrorLogsAllCodes case '%s' - expect an [ERROR] log line, but got '%s'", tc.title, logged)
		}
	}
}
