package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type BacktestResult struct {
	BacktestId  string    `json:"backtest_id"`
	StrategyId  string    `json:"strategy_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Money amounts, stored as strings
	InitialBalance decimal.Decimal `json:"initial_balance"`
	FinalBalance   decimal.Decimal `json:"final_balance"`

	TotalTrades int64 `json:"total_trades"`

	SharpeRatio decimal.NullDecimal `json:"sharpe_ratio"`
	MaxDrawdown decimal.NullDecimal `json:"max_drawdown"`
	WinRate     decimal.NullDecimal `json:"win_rate"`
	TotalReturn decimal.NullDecimal `json:"total_return"`

	// Strategy params the run was executed with
	Params map[string]interface{} `json:"params,omitempty"`
}

func (r BacktestResult) toDocument() map[string]interface{} {
	data := map[string]interface{}{
		"backtest_id":     r.BacktestId,
		"strategy_id":     r.StrategyId,
		"started_at":      r.StartedAt.UTC().Format(ISO8601_LAYOUT),
		"completed_at":    r.CompletedAt.UTC().Format(ISO8601_LAYOUT),
		"initial_balance": r.InitialBalance.String(),
		"final_balance":   r.FinalBalance.String(),
		"total_trades":    r.TotalTrades,
	}
	putMetric(data, "sharpe_ratio", r.SharpeRatio)
	putMetric(data, "max_drawdown", r.MaxDrawdown)
	putMetric(data, "win_rate", r.WinRate)
	putMetric(data, "total_return", r.TotalReturn)
	if r.Params != nil {
		data["params"] = r.Params
	}
	return data
}

func backtestFromDocument(data map[string]interface{}) (r BacktestResult, err error) {
	if r.BacktestId, err = stringField(data, "backtest_id"); err != nil {
		return
	}
	if r.StrategyId, err = stringField(data, "strategy_id"); err != nil {
		return
	}
	if r.StartedAt, err = timeField(data, "started_at"); err != nil {
		return
	}
	if r.CompletedAt, err = timeField(data, "completed_at"); err != nil {
		return
	}
	if r.InitialBalance, err = decimalField(data, "initial_balance"); err != nil {
		return
	}
	if r.FinalBalance, err = decimalField(data, "final_balance"); err != nil {
		return
	}
	if r.TotalTrades, err = int64Field(data, "total_trades"); err != nil {
		return
	}
	if r.SharpeRatio, err = metricField(data, "sharpe_ratio"); err != nil {
		return
	}
	if r.MaxDrawdown, err = metricField(data, "max_drawdown"); err != nil {
		return
	}
	if r.WinRate, err = metricField(data, "win_rate"); err != nil {
		return
	}
	if r.TotalReturn, err = metricField(data, "total_return"); err != nil {
		return
	}
	r.Params, err = mapField(data, "params")
	return
}

func (s *Store) SaveBacktestResult(ctx context.Context, r BacktestResult) error {
	if r.BacktestId == "" {
		return errors.New("'backtest_id' is missing")
	}
	if r.StrategyId == "" {
		return errors.New("'strategy_id' is missing")
	}
	ref := s.Client.Collection(COLLECTION_BACKTESTS).Doc(r.BacktestId)
	if _, err := ref.Set(ctx, r.toDocument()); err != nil {
		return fmt.Errorf("failed to save backtest '%s': %w", r.BacktestId, err)
	}
	s.logf("[store] backtest '%s' of strategy '%s' saved", r.BacktestId, r.StrategyId)
	return nil
}

func (s *Store) GetBacktestResult(ctx context.Context, backtestId string) (*BacktestResult, error) {
	snap, err := s.Client.Collection(COLLECTION_BACKTESTS).Doc(backtestId).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backtest '%s': %w", backtestId, err)
	}
	r, err := backtestFromDocument(snap.Data())
	if err != nil {
		return nil, fmt.Errorf("backtest '%s' is malformed: %w", backtestId, err)
	}
	return &r, nil
}

// ListBacktestResults returns the latest runs of a strategy, newest first.
// limit <= 0 means no limit.
func (s *Store) ListBacktestResults(ctx context.Context, strategyId string, limit int) ([]BacktestResult, error) {
	query := s.Client.Collection(COLLECTION_BACKTESTS).
		Where("strategy_id", "==", strategyId).
		OrderBy("completed_at", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var rs []BacktestResult
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list backtests of strategy '%s': %w", strategyId, err)
		}
		r, err := backtestFromDocument(snap.Data())
		if err != nil {
			s.logf("[store] [ERROR] skipping malformed backtest '%s': %v", snap.Ref.ID, err)
			continue
		}
		rs = append(rs, r)
	}
	return rs, nil
}
