package store

import (
	"context"
	"fmt"
	"log"
	"sync"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

const (
	COLLECTION_STRATEGIES = "strategies"
	COLLECTION_BACKTESTS  = "backtest_results"
	COLLECTION_RUN_STATE  = "strategy_state"
)

type Store struct {
	Client *firestore.Client

	logger *log.Logger
}

var (
	instance     *Store
	instanceErr  error
	instanceOnce sync.Once
)

// Instance returns the process-wide store. The first call initializes the
// Firestore client from environment credentials, later calls reuse it.
func Instance(ctx context.Context) (*Store, error) {
	instanceOnce.Do(func() {
		cfg, err := ConfigFromEnv()
		if err != nil {
			instanceErr = err
			return
		}
		instance, instanceErr = New(ctx, cfg)
	})
	return instance, instanceErr
}

func New(ctx context.Context, cfg FirebaseConfig) (*Store, error) {
	credJSON, err := cfg.serviceAccountJSON()
	if err != nil {
		return nil, err
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectId}, option.WithCredentialsJSON(credJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firestore client: %w", err)
	}

	return &Store{Client: client}, nil
}

func (s *Store) SetLogger(l *log.Logger) {
	s.logger = l
}

func (s *Store) Close() error {
	return s.Client.Close()
}

func (s *Store) logf(format string, v ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}
