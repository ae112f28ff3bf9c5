// Package store provides the concurrent, address-indexed transaction store.
package store

import (
	"iter"
	"sync"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
)

// Store holds every appended record in append order plus sender and receiver indices.
//
// A single write lock covers the chronological list and both indices, so a
// reader never sees a record in one view but not the others. Readers copy a
// slice header under the read lock and iterate without holding it: slices are
// append-only and elements below the captured length are never rewritten.
type Store struct {
	mu         sync.RWMutex
	records    []*domain.TransactionRecord
	byHash     map[string]*domain.TransactionRecord
	bySender   map[string][]*domain.TransactionRecord
	byReceiver map[string][]*domain.TransactionRecord
	senders    []string
	receivers  []string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		byHash:     make(map[string]*domain.TransactionRecord),
		bySender:   make(map[string][]*domain.TransactionRecord),
		byReceiver: make(map[string][]*domain.TransactionRecord),
	}
}

// Append validates rec, stamps its sequence number and adds it to all views.
// Duplicate or malformed records are rejected with a *domain.DataIntegrityError
// and leave the store unchanged.
func (s *Store) Append(rec domain.TransactionRecord) error {
	rec.Hash = domain.NormalizeAddress(rec.Hash)
	rec.From = domain.NormalizeAddress(rec.From)
	rec.To = domain.NormalizeAddress(rec.To)

	if err := rec.Validate(); err != nil {
		metrics.AppendRejected.WithLabelValues("malformed").Inc()
		return &domain.DataIntegrityError{Hash: rec.Hash, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[rec.Hash]; ok {
		metrics.AppendRejected.WithLabelValues("duplicate").Inc()
		return &domain.DataIntegrityError{Hash: rec.Hash, Err: domain.ErrDuplicateRecord}
	}

	rec.Seq = uint64(len(s.records)) + 1
	stored := &rec

	s.records = append(s.records, stored)
	s.byHash[stored.Hash] = stored

	if _, ok := s.bySender[stored.From]; !ok {
		s.senders = append(s.senders, stored.From)
	}
	s.bySender[stored.From] = append(s.bySender[stored.From], stored)

	if stored.HasReceiver() {
		if _, ok := s.byReceiver[stored.To]; !ok {
			s.receivers = append(s.receivers, stored.To)
		}
		s.byReceiver[stored.To] = append(s.byReceiver[stored.To], stored)
	}

	metrics.StoreRecords.Set(float64(len(s.records)))
	return nil
}

// RecordsFor yields the records of address in role, in append order.
// The snapshot is taken when iteration starts.
func (s *Store) RecordsFor(address string, role domain.Role) iter.Seq[*domain.TransactionRecord] {
	address = domain.NormalizeAddress(address)
	return func(yield func(*domain.TransactionRecord) bool) {
		s.mu.RLock()
		var snapshot []*domain.TransactionRecord
		switch role {
		case domain.RoleSender:
			snapshot = s.bySender[address]
		case domain.RoleReceiver:
			snapshot = s.byReceiver[address]
		}
		s.mu.RUnlock()

		for _, rec := range snapshot {
			if !yield(rec) {
				return
			}
		}
	}
}

// AllRecords yields every record in append order.
func (s *Store) AllRecords() iter.Seq[*domain.TransactionRecord] {
	return func(yield func(*domain.TransactionRecord) bool) {
		s.mu.RLock()
		snapshot := s.records
		s.mu.RUnlock()

		for _, rec := range snapshot {
			if !yield(rec) {
				return
			}
		}
	}
}

// Addresses returns every address seen in role, in order of first appearance.
func (s *Store) Addresses(role domain.Role) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var src []string
	switch role {
	case domain.RoleSender:
		src = s.senders
	case domain.RoleReceiver:
		src = s.receivers
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Get returns the record with the given hash.
func (s *Store) Get(hash string) (*domain.TransactionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byHash[domain.NormalizeAddress(hash)]
	return rec, ok
}

// Contains reports whether a record with hash is stored.
func (s *Store) Contains(hash string) bool {
	_, ok := s.Get(hash)
	return ok
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stats summarizes the store contents.
type Stats struct {
	Records   int `json:"records"`
	Senders   int `json:"senders"`
	Receivers int `json:"receivers"`
}

// Stats returns the current record and address counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Records:   len(s.records),
		Senders:   len(s.senders),
		Receivers: len(s.receivers),
	}
}
