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

var ErrNotFound = errors.New("document not found")

type StrategyStatus string

const (
	STATUS_GENERATED       StrategyStatus = "generated"
	STATUS_BACKTESTING     StrategyStatus = "backtesting"
	STATUS_BACKTESTED      StrategyStatus = "backtested"
	STATUS_LIVE_PAPER      StrategyStatus = "live_paper"
	STATUS_LIVE_PRODUCTION StrategyStatus = "live_production"
	STATUS_ARCHIVED        StrategyStatus = "archived"
)

func ParseStrategyStatus(s string) (StrategyStatus, error) {
	switch StrategyStatus(s) {
	case STATUS_GENERATED, STATUS_BACKTESTING, STATUS_BACKTESTED, STATUS_LIVE_PAPER, STATUS_LIVE_PRODUCTION, STATUS_ARCHIVED:
		return StrategyStatus(s), nil
	}
	return "", fmt.Errorf("strategy status '%s' not supported", s)
}

type StrategyMetadata struct {
	StrategyId  string         `json:"strategy_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      StrategyStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	// Performance metrics, unset until a backtest fills them in
	SharpeRatio decimal.NullDecimal `json:"sharpe_ratio"`
	MaxDrawdown decimal.NullDecimal `json:"max_drawdown"`
	WinRate     decimal.NullDecimal `json:"win_rate"`
	TotalReturn decimal.NullDecimal `json:"total_return"`
}

// Timestamps are stored as ISO-8601 strings, not Firestore timestamps, so
// documents stay readable by the other ecosystem processes as-is.
func (m StrategyMetadata) toDocument() map[string]interface{} {
	data := map[string]interface{}{
		"strategy_id": m.StrategyId,
		"name":        m.Name,
		"description": m.Description,
		"status":      string(m.Status),
		"created_at":  m.CreatedAt.UTC().Format(ISO8601_LAYOUT),
		"updated_at":  m.UpdatedAt.UTC().Format(ISO8601_LAYOUT),
	}
	putMetric(data, "sharpe_ratio", m.SharpeRatio)
	putMetric(data, "max_drawdown", m.MaxDrawdown)
	putMetric(data, "win_rate", m.WinRate)
	putMetric(data, "total_return", m.TotalReturn)
	return data
}

func strategyFromDocument(data map[string]interface{}) (m StrategyMetadata, err error) {
	if m.StrategyId, err = stringField(data, "strategy_id"); err != nil {
		return
	}
	if m.Name, err = stringField(data, "name"); err != nil {
		return
	}
	if m.Description, err = stringField(data, "description"); err != nil {
		return
	}
	rawStatus, err := stringField(data, "status")
	if err != nil {
		return
	}
	if m.Status, err = ParseStrategyStatus(rawStatus); err != nil {
		return
	}
	if m.CreatedAt, err = timeField(data, "created_at"); err != nil {
		return
	}
	if m.UpdatedAt, err = timeField(data, "updated_at"); err != nil {
		return
	}
	if m.SharpeRatio, err = metricField(data, "sharpe_ratio"); err != nil {
		return
	}
	if m.MaxDrawdown, err = metricField(data, "max_drawdown"); err != nil {
		return
	}
	if m.WinRate, err = metricField(data, "win_rate"); err != nil {
		return
	}
	m.TotalReturn, err = metricField(data, "total_return")
	return
}

func (s *Store) SaveStrategy(ctx context.Context, m StrategyMetadata) error {
	if m.StrategyId == "" {
		return errors.New("'strategy_id' is missing")
	}
	if _, err := ParseStrategyStatus(string(m.Status)); err != nil {
		return err
	}
	ref := s.Client.Collection(COLLECTION_STRATEGIES).Doc(m.StrategyId)
	if _, err := ref.Set(ctx, m.toDocument()); err != nil {
		return fmt.Errorf("failed to save strategy '%s': %w", m.StrategyId, err)
	}
	s.logf("[store] strategy '%s' saved", m.StrategyId)
	return nil
}

func (s *Store) GetStrategy(ctx context.Context, strategyId string) (*StrategyMetadata, error) {
	snap, err := s.Client.Collection(COLLECTION_STRATEGIES).Doc(strategyId).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy '%s': %w", strategyId, err)
	}
	m, err := strategyFromDocument(snap.Data())
	if err != nil {
		return nil, fmt.Errorf("strategy '%s' is malformed: %w", strategyId, err)
	}
	return &m, nil
}

func (s *Store) UpdateStrategyStatus(ctx context.Context, strategyId string, newStatus StrategyStatus) error {
	if _, err := ParseStrategyStatus(string(newStatus)); err != nil {
		return err
	}
	ref := s.Client.Collection(COLLECTION_STRATEGIES).Doc(strategyId)
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "status", Value: string(newStatus)},
		{Path: "updated_at", Value: time.Now().UTC().Format(ISO8601_LAYOUT)},
	})
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update status of strategy '%s': %w", strategyId, err)
	}
	s.logf("[store] strategy '%s' status changed to '%s'", strategyId, newStatus)
	return nil
}

// StrategyMetrics carries a partial metrics update, only valid fields are
// written.
type StrategyMetrics struct {
	SharpeRatio decimal.NullDecimal `json:"sharpe_ratio"`
	MaxDrawdown decimal.NullDecimal `json:"max_drawdown"`
	WinRate     decimal.NullDecimal `json:"win_rate"`
	TotalReturn decimal.NullDecimal `json:"total_return"`
}

func (s *Store) UpdateStrategyMetrics(ctx context.Context, strategyId string, metrics StrategyMetrics) error {
	updates := []firestore.Update{
		{Path: "updated_at", Value: time.Now().UTC().Format(ISO8601_LAYOUT)},
	}
	updates = appendMetricUpdate(updates, "sharpe_ratio", metrics.SharpeRatio)
	updates = appendMetricUpdate(updates, "max_drawdown", metrics.MaxDrawdown)
	updates = appendMetricUpdate(updates, "win_rate", metrics.WinRate)
	updates = appendMetricUpdate(updates, "total_return", metrics.TotalReturn)
	if len(updates) == 1 {
		return errors.New("no metrics to update")
	}

	ref := s.Client.Collection(COLLECTION_STRATEGIES).Doc(strategyId)
	_, err := ref.Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update metrics of strategy '%s': %w", strategyId, err)
	}
	s.logf("[store] strategy '%s' metrics updated", strategyId)
	return nil
}

func (s *Store) ListStrategies(ctx context.Context) ([]StrategyMetadata, error) {
	return s.collectStrategies(ctx, s.strategiesQuery().Documents(ctx))
}

func (s *Store) ListStrategiesByStatus(ctx context.Context, st StrategyStatus) ([]StrategyMetadata, error) {
	if _, err := ParseStrategyStatus(string(st)); err != nil {
		return nil, err
	}
	return s.collectStrategies(ctx, s.strategiesByStatusQuery(st).Documents(ctx))
}

// Both listings come back newest first. The filtered one needs the
// composite index on (status, created_at DESC).
func (s *Store) strategiesQuery() firestore.Query {
	return s.Client.Collection(COLLECTION_STRATEGIES).OrderBy("created_at", firestore.Desc)
}

func (s *Store) strategiesByStatusQuery(st StrategyStatus) firestore.Query {
	return s.Client.Collection(COLLECTION_STRATEGIES).
		Where("status", "==", string(st)).
		OrderBy("created_at", firestore.Desc)
}

func (s *Store) DeleteStrategy(ctx context.Context, strategyId string) error {
	// Firestore deletes are idempotent, a missing document is not an error
	_, err := s.Client.Collection(COLLECTION_STRATEGIES).Doc(strategyId).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete strategy '%s': %w", strategyId, err)
	}
	s.logf("[store] strategy '%s' deleted", strategyId)
	return nil
}

func (s *Store) collectStrategies(ctx context.Context, iter *firestore.DocumentIterator) ([]StrategyMetadata, error) {
	defer iter.Stop()
	var ms []StrategyMetadata
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list strategies: %w", err)
		}
		m, err := strategyFromDocument(snap.Data())
		if err != nil {
			// Skip malformed documents instead of failing the whole listing
			s.logf("[store] [ERROR] skipping malformed strategy '%s': %v", snap.Ref.ID, err)
			continue
		}
		ms = append(ms, m)
	}
	return ms, nil
}
