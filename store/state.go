package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type RunMode string

const (
	RUN_MODE_PAPER      RunMode = "paper"
	RUN_MODE_PRODUCTION RunMode = "production"
)

func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(s) {
	case RUN_MODE_PAPER, RUN_MODE_PRODUCTION:
		return RunMode(s), nil
	}
	return "", fmt.Errorf("run mode '%s' not supported", s)
}

// RunState is the live heartbeat document a strategy runner keeps while it
// executes, one document per strategy.
type RunState struct {
	StrategyId    string                 `json:"strategy_id"`
	Running       bool                   `json:"running"`
	Mode          RunMode                `json:"mode"`
	Position      map[string]interface{} `json:"position,omitempty"`
	LastHeartbeat time.Time              `json:"last_heartbeat"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Stale reports whether the runner stopped heartbeating before the cutoff.
func (st RunState) Stale(now time.Time, maxAge time.Duration) bool {
	return st.Running && now.Sub(st.LastHeartbeat) > maxAge
}

func (st RunState) toDocument() map[string]interface{} {
	data := map[string]interface{}{
		"strategy_id":    st.StrategyId,
		"running":        st.Running,
		"mode":           string(st.Mode),
		"last_heartbeat": st.LastHeartbeat.UTC().Format(ISO8601_LAYOUT),
		"updated_at":     st.UpdatedAt.UTC().Format(ISO8601_LAYOUT),
	}
	if st.Position != nil {
		data["position"] = st.Position
	}
	return data
}

func runStateFromDocument(data map[string]interface{}) (st RunState, err error) {
	if st.StrategyId, err = stringField(data, "strategy_id"); err != nil {
		return
	}
	if st.Running, err = boolField(data, "running"); err != nil {
		return
	}
	rawMode, err := stringField(data, "mode")
	if err != nil {
		return
	}
	if st.Mode, err = ParseRunMode(rawMode); err != nil {
		return
	}
	if st.Position, err = mapField(data, "position"); err != nil {
		return
	}
	if st.LastHeartbeat, err = timeField(data, "last_heartbeat"); err != nil {
		return
	}
	st.UpdatedAt, err = timeField(data, "updated_at")
	return
}

func (s *Store) SetRunState(ctx context.Context, st RunState) error {
	if st.StrategyId == "" {
		return errors.New("'strategy_id' is missing")
	}
	if _, err := ParseRunMode(string(st.Mode)); err != nil {
		return err
	}
	now := time.Now().UTC()
	if st.LastHeartbeat.IsZero() {
		st.LastHeartbeat = now
	}
	st.UpdatedAt = now

	ref := s.Client.Collection(COLLECTION_RUN_STATE).Doc(st.StrategyId)
	if _, err := ref.Set(ctx, st.toDocument()); err != nil {
		return fmt.Errorf("failed to set run state of strategy '%s': %w", st.StrategyId, err)
	}
	s.logf("[store] run state of strategy '%s' set (running: %t, mode: %s)", st.StrategyId, st.Running, st.Mode)
	return nil
}

func (s *Store) GetRunState(ctx context.Context, strategyId string) (*RunState, error) {
	snap, err := s.Client.Collection(COLLECTION_RUN_STATE).Doc(strategyId).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run state of strategy '%s': %w", strategyId, err)
	}
	st, err := runStateFromDocument(snap.Data())
	if err != nil {
		return nil, fmt.Errorf("run state of strategy '%s' is malformed: %w", strategyId, err)
	}
	return &st, nil
}

// Heartbeat bumps last_heartbeat only, cheap enough to call every tick.
func (s *Store) Heartbeat(ctx context.Context, strategyId string) error {
	ref := s.Client.Collection(COLLECTION_RUN_STATE).Doc(strategyId)
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "last_heartbeat", Value: time.Now().UTC().Format(ISO8601_LAYOUT)},
	})
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to heartbeat strategy '%s': %w", strategyId, err)
	}
	return nil
}

func (s *Store) ListRunningStates(ctx context.Context) ([]RunState, error) {
	iter := s.Client.Collection(COLLECTION_RUN_STATE).Where("running", "==", true).Documents(ctx)
	defer iter.Stop()

	var sts []RunState
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list running states: %w", err)
		}
		st, err := runStateFromDocument(snap.Data())
		if err != nil {
			s.logf("[store] [ERROR] skipping malformed run state '%s': %v", snap.Ref.ID, err)
			continue
		}
		sts = append(sts, st)
	}
	return sts, nil
}

func (s *Store) DeleteRunState(ctx context.Context, strategyId string) error {
	_, err := s.Client.Collection(COLLECTION_RUN_STATE).Doc(strategyId).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete run state of strategy '%s': %w", strategyId, err)
	}
	s.logf("[store] run state of strategy '%s' deleted", strategyId)
	return nil
}
