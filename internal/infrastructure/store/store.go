// Package store holds the published evaluation state, optionally snapshotted
// to a bbolt database so it survives restarts.
package store

import (
	"context"
	"encoding/json"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/formloop/formloop/internal/domain/evaluation"
	"github.com/formloop/formloop/internal/logger"
	"github.com/formloop/formloop/internal/ports"
)

var bucketEvaluation = []byte("evaluation")

// Store is an in-memory evaluation state container with replace and
// per-form merge publish semantics.
type Store struct {
	log ports.Logger
	db  *bolt.DB

	mu    sync.RWMutex
	state map[string]evaluation.EvaluationOutput
}

// Option configures a Store.
type Option func(*Store)

// WithLogger injects a logger.
func WithLogger(log ports.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		log:   logger.NewNoOp(),
		state: make(map[string]evaluation.EvaluationOutput),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a store backed by the bbolt database at path, rehydrating any
// previously persisted state.
func Open(path string, opts ...Option) (*Store, error) {
	s := New(opts...)

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, evaluation.NewInternalError("open state database", err)
	}
	s.db = db

	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketEvaluation)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, v []byte) error {
			var out evaluation.EvaluationOutput
			if err := json.Unmarshal(v, &out); err != nil {
				// A corrupt row is skipped, not fatal: the next publish
				// overwrites it.
				s.log.Warn(context.Background(), "skipping corrupt persisted form state",
					"form_id", string(k), "error", err)
				return nil
			}
			s.state[string(k)] = out
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, evaluation.NewInternalError("load persisted state", err)
	}

	if len(s.state) > 0 {
		s.log.Info(context.Background(), "rehydrated evaluation state", "forms", len(s.state))
	}
	return s, nil
}

// Close releases the underlying database, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Snapshot returns a deep copy of the aggregate evaluation state.
func (s *Store) Snapshot(ctx context.Context) (map[string]evaluation.EvaluationOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, evaluation.NewCancelledError("snapshot cancelled", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]evaluation.EvaluationOutput, len(s.state))
	for formID, out := range s.state {
		snapshot[formID] = out.Clone()
	}
	return snapshot, nil
}

// Replace swaps the aggregate state wholesale.
func (s *Store) Replace(ctx context.Context, state map[string]evaluation.EvaluationOutput) error {
	if err := ctx.Err(); err != nil {
		return evaluation.NewCancelledError("replace cancelled", err)
	}

	next := make(map[string]evaluation.EvaluationOutput, len(state))
	for formID, out := range state {
		next[formID] = out.Clone()
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	s.persistAll(ctx, next)
	return nil
}

// MergeForm merges the supplied output into a single form's state, leaving
// every other form untouched.
func (s *Store) MergeForm(ctx context.Context, formID string, out evaluation.EvaluationOutput) error {
	if err := ctx.Err(); err != nil {
		return evaluation.NewCancelledError("merge cancelled", err)
	}
	if formID == "" {
		return evaluation.NewValidationError("form id is empty", nil)
	}

	s.mu.Lock()
	existing, ok := s.state[formID]
	if !ok {
		existing = make(evaluation.EvaluationOutput, len(out))
		s.state[formID] = existing
	}
	for key, cond := range out {
		existing[key] = cond.Clone()
	}
	merged := existing.Clone()
	s.mu.Unlock()

	s.persistForm(ctx, formID, merged)
	return nil
}

// FormState returns a copy of one form's published evaluation output.
func (s *Store) FormState(ctx context.Context, formID string) (evaluation.EvaluationOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, ok := s.state[formID]
	if !ok {
		return nil, false
	}
	return out.Clone(), true
}

// persistAll rewrites the persisted snapshot to match state exactly.
// Persistence failures are logged, never surfaced: the in-memory state is
// authoritative.
func (s *Store) persistAll(ctx context.Context, state map[string]evaluation.EvaluationOutput) {
	if s.db == nil {
		return
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketEvaluation); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		bucket, err := tx.CreateBucket(bucketEvaluation)
		if err != nil {
			return err
		}
		for formID, out := range state {
			encoded, err := json.Marshal(out)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(formID), encoded); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error(ctx, "failed to persist evaluation state", "error", err)
	}
}

func (s *Store) persistForm(ctx context.Context, formID string, out evaluation.EvaluationOutput) {
	if s.db == nil {
		return
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketEvaluation)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(formID), encoded)
	})
	if err != nil {
		s.log.Error(ctx, "failed to persist form state", "form_id", formID, "error", err)
	}
}

var _ ports.StateStore = (*Store)(nil)
