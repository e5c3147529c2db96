package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/ports"
)

// ResultStore is the append-only result log. The dispatcher is its only writer;
// readers always get a copy. An optional journal mirrors every append.
type ResultStore struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	journal ports.ResultJournal
	results []domain.Result
	seq     int64
}

// NewResultStore creates an in-memory store. journal may be nil.
func NewResultStore(logger *slog.Logger, journal ports.ResultJournal) *ResultStore {
	return &ResultStore{
		logger:  logger,
		journal: journal,
	}
}

// Load hydrates the log from the journal. It is meant to run once at startup.
func (s *ResultStore) Load(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}

	stored, err := s.journal.ListResults(ctx)
	if err != nil {
		return fmt.Errorf("failed to load results from journal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = stored
	for _, r := range stored {
		if r.Seq > s.seq {
			s.seq = r.Seq
		}
	}
	s.logger.Info("result log loaded", "count", len(stored), "last_seq", s.seq)
	return nil
}

// Append assigns the next sequence number to r and stores it.
func (s *ResultStore) Append(ctx context.Context, r domain.Result) domain.Result {
	s.mu.Lock()
	s.seq++
	r.Seq = s.seq
	s.results = append(s.results, r)
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.AppendResult(ctx, r); err != nil {
			s.logger.Error("failed to journal result", "seq", r.Seq, "job_id", r.JobID, "error", err)
		}
	}
	return r
}

// Snapshot returns every result in completion order.
func (s *ResultStore) Snapshot() []domain.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Result, len(s.results))
	copy(out, s.results)
	return out
}

// Tail returns the newest n results, oldest first. n <= 0 means all.
func (s *ResultStore) Tail(n int) []domain.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n > 0 && n < len(s.results) {
		start = len(s.results) - n
	}
	out := make([]domain.Result, len(s.results)-start)
	copy(out, s.results[start:])
	return out
}

func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Clear empties the log. Sequence numbers keep increasing afterwards.
func (s *ResultStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.results = nil
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.ClearResults(ctx); err != nil {
			return fmt.Errorf("failed to clear result journal: %w", err)
		}
	}
	return nil
}
