package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ledger_scanner/metrics"
	"ledger_scanner/models"
	"ledger_scanner/utils"
)

// Sink persists a full snapshot of the results. Every write replaces what the
// sink held before.
type Sink interface {
	Name() string
	Write(ctx context.Context, snapshot map[string]models.AccountStats) error
}

// ResultStore maps account address to stats. A later Put for the same address
// replaces the earlier one.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]models.AccountStats
	sinks   []Sink
}

func NewResultStore(sinks ...Sink) *ResultStore {
	return &ResultStore{
		results: make(map[string]models.AccountStats),
		sinks:   sinks,
	}
}

func (s *ResultStore) Put(address string, stats models.AccountStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[address] = stats
}

func (s *ResultStore) Get(address string) (models.AccountStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.results[address]
	return stats, ok
}

// Merge copies every entry of prior into the store.
func (s *ResultStore) Merge(prior map[string]models.AccountStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, stats := range prior {
		s.results[addr] = stats
	}
}

func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Snapshot returns a copy of the current mapping.
func (s *ResultStore) Snapshot() map[string]models.AccountStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.AccountStats, len(s.results))
	for addr, stats := range s.results {
		out[addr] = stats
	}
	return out
}

// Checkpoint writes the current snapshot to every sink. A failing sink does
// not stop the others.
func (s *ResultStore) Checkpoint(ctx context.Context) error {
	snapshot := s.Snapshot()

	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, snapshot); err != nil {
			metrics.CheckpointsTotal.WithLabelValues(sink.Name(), "error").Inc()
			utils.Error(err, "Checkpoint failed", "sink", sink.Name(), "accounts", len(snapshot))
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		metrics.CheckpointsTotal.WithLabelValues(sink.Name(), "ok").Inc()
	}
	utils.Logger.Debugw("Checkpoint written", "accounts", len(snapshot), "sinks", len(s.sinks))
	return errors.Join(errs...)
}
