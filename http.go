package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/thom899g/autonomous-trading-hypothesis-generator/message"
	"github.com/thom899g/autonomous-trading-hypothesis-generator/store"
)

const (
	HTTP_SERVER_SHUTDOWN_TIMEOUT = 30
)

// strategyStore is what the handlers need from the store, narrowed so
// handlers can be tested without a Firestore connection
type strategyStore interface {
	SaveStrategy(context.Context, store.StrategyMetadata) error
	GetStrategy(context.Context, string) (*store.StrategyMetadata, error)
	UpdateStrategyStatus(context.Context, string, store.StrategyStatus) error
	UpdateStrategyMetrics(context.Context, string, store.StrategyMetrics) error
	ListStrategies(context.Context) ([]store.StrategyMetadata, error)
	ListStrategiesByStatus(context.Context, store.StrategyStatus) ([]store.StrategyMetadata, error)
	DeleteStrategy(context.Context, string) error

	SaveBacktestResult(context.Context, store.BacktestResult) error
	GetBacktestResult(context.Context, string) (*store.BacktestResult, error)
	ListBacktestResults(context.Context, string, int) ([]store.BacktestResult, error)

	SetRunState(context.Context, store.RunState) error
	GetRunState(context.Context, string) (*store.RunState, error)
	Heartbeat(context.Context, string) error
	ListRunningStates(context.Context) ([]store.RunState, error)
	DeleteRunState(context.Context, string) error
}

type httpHandler struct {
	server *http.Server
	logger *log.Logger
	store  strategyStore

	// Message sender for status change notifications
	sender message.Messenger
	chatId int64
}

func newHttpHandler(l *log.Logger) *httpHandler {
	port := viper.GetString("HTTP_PORT")
	if port == "" {
		l.Fatalf("[http] port is empty")
	}
	addr := fmt.Sprintf("127.0.0.1:%s", port)
	server := &http.Server{
		Addr:         addr,
		ErrorLog:     l,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return &httpHandler{
		logger: l,
		server: server,
	}
}

func (h *httpHandler) setStore(s strategyStore) {
	h.store = s
}

func (h *httpHandler) setSender(m message.Messenger, chatId int64) {
	h.sender = m
	h.chatId = chatId
}

func (h *httpHandler) startHttpServer() {
	h.server.Handler = h.router()

	h.logger.Printf("[http] Server is listening '%s'", h.server.Addr)
	if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		h.logger.Fatalf("[http] Could not listen on %s: %v\n", h.server.Addr, err)
	}
}

func (h *httpHandler) router() *http.ServeMux {
	router := http.NewServeMux()
	router.HandleFunc("/ping", h.ping)
	router.HandleFunc("/status", h.status)
	router.HandleFunc("/strategies", h.strategies)
	router.HandleFunc("/strategy", h.strategy)
	router.HandleFunc("/strategy/status", h.strategyStatus)
	router.HandleFunc("/strategy/metrics", h.strategyMetrics)
	router.HandleFunc("/backtests", h.backtests)
	router.HandleFunc("/state", h.runState)
	router.HandleFunc("/state/running", h.runningStates)
	return router
}

func (h *httpHandler) shutdown() {
	h.logger.Println("[http] Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*time.Duration(HTTP_SERVER_SHUTDOWN_TIMEOUT))
	defer cancel()

	if err := h.server.Shutdown(ctx); err != nil {
		h.logger.Printf("[http] Could not gracefully shutdown the server: %v\n", err)
	}
}

func (h *httpHandler) ping(w http.ResponseWriter, req *http.Request) {
	fmt.Fprintf(w, "pong")
}

func (h *httpHandler) status(w http.ResponseWriter, req *http.Request) {
	fmt.Fprintf(w, "goroutine num: %d", runtime.NumGoroutine())
}

// GET  /strategies            list all, optional ?status= filter
// POST /strategies            save a strategy document
func (h *httpHandler) strategies(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		var (
			ms  []store.StrategyMetadata
			err error
		)
		if raw := req.URL.Query().Get("status"); raw != "" {
			var st store.StrategyStatus
			st, err = store.ParseStrategyStatus(raw)
			if err != nil {
				h.writeError(w, http.StatusBadRequest, err)
				return
			}
			ms, err = h.store.ListStrategiesByStatus(req.Context(), st)
		} else {
			ms, err = h.store.ListStrategies(req.Context())
		}
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, err)
			return
		}
		h.writeJSON(w, http.StatusOK, ms)

	case http.MethodPost:
		var m store.StrategyMetadata
		if err := json.NewDecoder(req.Body).Decode(&m); err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
			return
		}
		if m.StrategyId == "" {
			h.writeError(w, http.StatusBadRequest, errors.New("'strategy_id' is missing"))
			return
		}
		now := time.Now().UTC()
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		if m.Status == "" {
			m.Status = store.STATUS_GENERATED
		} else if _, err := store.ParseStrategyStatus(string(m.Status)); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.store.SaveStrategy(req.Context(), m); err != nil {
			h.writeStoreError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"strategy_id": m.StrategyId})

	default:
		h.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// GET    /strategy?strategy_id=
// DELETE /strategy?strategy_id=
func (h *httpHandler) strategy(w http.ResponseWriter, req *http.Request) {
	strategyId := req.URL.Query().Get("strategy_id")
	if strategyId == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("'strategy_id' is missing"))
		return
	}

	switch req.Method {
	case http.MethodGet:
		m, err := h.store.GetStrategy(req.Context(), strategyId)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, m)

	case http.MethodDelete:
		if err := h.store.DeleteStrategy(req.Context(), strategyId); err != nil {
			h.writeStoreError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"strategy_id": strategyId})

	default:
		h.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// POST /strategy/status  {"strategy_id": "...", "status": "..."}
func (h *httpHandler) strategyStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var payload struct {
		StrategyId string `json:"strategy_id"`
		Status     string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	if payload.StrategyId == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("'strategy_id' is missing"))
		return
	}
	newStatus, err := store.ParseStrategyStatus(payload.Status)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.store.UpdateStrategyStatus(req.Context(), payload.StrategyId, newStatus); err != nil {
		h.writeStoreError(w, err)
		return
	}

	if h.sender != nil {
		text := fmt.Sprintf("[Info] strategy '%s' is now '%s'", payload.StrategyId, newStatus)
		go h.sender.Send(h.chatId, text)
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"strategy_id": payload.StrategyId, "status": string(newStatus)})
}

// POST /strategy/metrics  {"strategy_id": "...", "sharpe_ratio": 1.2, ...}
func (h *httpHandler) strategyMetrics(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var payload struct {
		StrategyId  string              `json:"strategy_id"`
		SharpeRatio decimal.NullDecimal `json:"sharpe_ratio"`
		MaxDrawdown decimal.NullDecimal `json:"max_drawdown"`
		WinRate     decimal.NullDecimal `json:"win_rate"`
		TotalReturn decimal.NullDecimal `json:"total_return"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	if payload.StrategyId == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("'strategy_id' is missing"))
		return
	}
	if !payload.SharpeRatio.Valid && !payload.MaxDrawdown.Valid && !payload.WinRate.Valid && !payload.TotalReturn.Valid {
		h.writeError(w, http.StatusBadRequest, errors.New("no metrics to update"))
		return
	}

	metrics := store.StrategyMetrics{
		SharpeRatio: payload.SharpeRatio,
		MaxDrawdown: payload.MaxDrawdown,
		WinRate:     payload.WinRate,
		TotalReturn: payload.TotalReturn,
	}
	if err := h.store.UpdateStrategyMetrics(req.Context(), payload.StrategyId, metrics); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"strategy_id": payload.StrategyId})
}

// GET  /backtests?strategy_id=&limit=     latest first
// GET  /backtests?backtest_id=            single result
// POST /backtests                         save a backtest result
func (h *httpHandler) backtests(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		if backtestId := req.URL.Query().Get("backtest_id"); backtestId != "" {
			r, err := h.store.GetBacktestResult(req.Context(), backtestId)
			if err != nil {
				h.writeStoreError(w, err)
				return
			}
			h.writeJSON(w, http.StatusOK, r)
			return
		}

		strategyId := req.URL.Query().Get("strategy_id")
		if strategyId == "" {
			h.writeError(w, http.StatusBadRequest, errors.New("'strategy_id' is missing"))
			return
		}
		limit := 0
		if raw := req.URL.Query().Get("limit"); raw != "" {
			var err error
			if limit, err = strconv.Atoi(raw); err != nil {
				h.writeError(w, http.StatusBadRequest, errors.New("'limit' is not a number"))
				return
			}
		}
		rs, err := h.store.ListBacktestResults(req.Context(), strategyId, limit)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, err)
			return
		}
		h.writeJSON(w, http.StatusOK, rs)

	case http.MethodPost:
		var r store.BacktestResult
		if err := json.NewDecoder(req.Body).Decode(&r); err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
			return
		}
		if r.BacktestId == "" {
			h.writeError(w, http.StatusBadRequest, errors.New("'backtest_id' is missing"))
			return
		}
		if r.StrategyId == "" {
			h.writeError(w, http.StatusBadRequest, errors.New("'strategy_id' is missing"))
			return
		}
		if err := h.store.SaveBacktestResult(req.Context(), r); err != nil {
			h.writeStoreError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"backtest_id": r.BacktestId})

	default:
		h.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// GET    /state?strategy_id=
// PUT    /state                 set the run state document
// POST   /state?strategy_id=&heartbeat=1   bump the heartbeat only
// DELETE /state?strategy_id=
func (h *httpHandler) runState(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		strategyId := req.URL.Query().Get("strategy_id")
		if strategyId == "" {
			h.writeError(w, http.StatusBadRequest, errors.New("'strategy_id' is missing"))
			return
		}
		st, err := h.store.GetRunState(req.Context(), strategyId)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, st)

	case http.MethodPut:
		var st store.RunState
		if err := json.NewDecoder(req.Body).Decode(&st); err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
			return
		}
		if st.StrategyId == "" {
			h.writeError(w, http.StatusBadRequest, errors.New("'strategy_id' is missing"))
			return
		}
		if _, err := store.ParseRunMode(string(st.Mode)); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.store.SetRunState(req.Context(), st); err != nil {
			h.writeStoreError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"strategy_id": st.StrategyId})

	case http.MethodPost:
		strategyId := req.URL.Query().Get("strategy_id")
		if strategyId == "" {
			h.writeError(w, http.StatusBadRequest, errors.New("'strategy_id' is missing"))
			return
		}
		if err := h.store.Heartbeat(req.Context(), strategyId); err != nil {
			h.writeStoreError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"strategy_id": strategyId})

	case http.MethodDelete:
		strategyId := req.URL.Query().Get("strategy_id")
		if strategyId == "" {
			h.writeError(w, http.StatusBadRequest, errors.New("'strategy_id' is missing"))
			return
		}
		if err := h.store.DeleteRunState(req.Context(), strategyId); err != nil {
			h.writeStoreError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"strategy_id": strategyId})

	default:
		h.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// GET /state/running
func (h *httpHandler) runningStates(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	sts, err := h.store.ListRunningStates(req.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sts)
}

func (h *httpHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Printf("[http] [ERROR] failed to write response: %v\n", err)
	}
}

func (h *httpHandler) writeError(w http.ResponseWriter, code int, err error) {
	h.logger.Printf("[http] [ERROR] %d - %v\n", code, err)
	h.writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeStoreError translates store errors to response codes
func (h *httpHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.writeError(w, http.StatusInternalServerError, err)
	}
}
