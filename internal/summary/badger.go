package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"yuzu/meeting/internal/types"
)

var ErrClosed = errors.New("summary store closed")

// Sink receives the finalized transcript when a meeting ends.
type Sink interface {
	SaveSummary(ctx context.Context, s types.Summary) error
}

// Store keeps meeting summaries in BadgerDB.
type Store struct {
	db  *badger.DB
	log *zap.Logger
}

// Open opens (or creates) a badger directory at path. An empty path keeps
// everything in memory.
func Open(path string, logger *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open summary store: %w", err)
	}
	return New(db, logger), nil
}

func New(db *badger.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, log: logger.With(zap.String("component", "summary"))}
}

// SaveSummary persists s under "summary:{scenario}:{ended_at_padded}:{uuid}"
// so a prefix scan per scenario returns summaries in time order.
func (s *Store) SaveSummary(ctx context.Context, sum types.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	if sum.EndedAt.IsZero() {
		sum.EndedAt = time.Now().UTC()
	}
	key := fmt.Sprintf("summary:%s:%019d:%s", sum.ScenarioID, sum.EndedAt.UnixNano(), uuid.New())
	b, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), b)
	}); err != nil {
		metricSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("save summary: %w", err)
	}
	metricSaves.WithLabelValues("ok").Inc()
	s.log.Info("summary saved",
		zap.String("session_id", sum.SessionID),
		zap.String("scenario_id", sum.ScenarioID),
		zap.Int("messages", len(sum.Messages)))
	return nil
}

// List returns up to limit summaries, newest first. An empty scenarioID lists
// every scenario; limit <= 0 means no limit.
func (s *Store) List(scenarioID string, limit int) ([]types.Summary, error) {
	prefix := []byte("summary:")
	if scenarioID != "" {
		prefix = []byte(fmt.Sprintf("summary:%s:", scenarioID))
	}
	var out []types.Summary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= seek.
		seek := append(append([]byte(nil), prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) == limit {
				break
			}
			var sum types.Summary
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &sum)
			}); err != nil {
				return err
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ping reports whether the store can serve reads.
func (s *Store) Ping() error {
	if s.db.IsClosed() {
		return ErrClosed
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

func (s *Store) Close() error {
	return s.db.Close()
}
