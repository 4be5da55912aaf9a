package flow

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu       sync.Mutex
	byKey    map[string]*Attempt
	byFlowID map[string]*Attempt
	steps    map[string][]ProcessingStep
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:    make(map[string]*Attempt),
		byFlowID: make(map[string]*Attempt),
		steps:    make(map[string][]ProcessingStep),
	}
}

// Begin inserts a new attempt or returns the existing one for the key.
func (s *MemoryStore) Begin(_ context.Context, idempotencyKey, flowID, email string, amount float64) (Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[idempotencyKey]; ok {
		if existing.Email != email {
			return Attempt{}, false, ErrIdempotencyConflict
		}
		return *existing, false, nil
	}

	attempt := &Attempt{
		FlowID:         flowID,
		IdempotencyKey: idempotencyKey,
		Email:          email,
		Amount:         amount,
		Status:         OutcomeRunning,
	}
	s.byKey[idempotencyKey] = attempt
	s.byFlowID[flowID] = attempt
	return *attempt, true, nil
}

// AttachCharge records the charge created for a flow.
func (s *MemoryStore) AttachCharge(_ context.Context, flowID, chargeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt, ok := s.byFlowID[flowID]; ok {
		attempt.ChargeID = chargeID
	}
	return nil
}

// SetStatus updates the attempt's outcome.
func (s *MemoryStore) SetStatus(_ context.Context, flowID string, status Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt, ok := s.byFlowID[flowID]; ok {
		attempt.Status = status
	}
	return nil
}

// FindByCharge returns the attempt that owns a charge, if any.
func (s *MemoryStore) FindByCharge(_ context.Context, chargeID string) (Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, attempt := range s.byFlowID {
		if attempt.ChargeID == chargeID {
			return *attempt, true, nil
		}
	}
	return Attempt{}, false, nil
}

// AddStep appends a step record.
func (s *MemoryStore) AddStep(_ context.Context, flowID string, step ProcessingStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[flowID] = append(s.steps[flowID], step)
	return nil
}

// Steps returns the recorded steps of a flow.
func (s *MemoryStore) Steps(flowID string) []ProcessingStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProcessingStep, len(s.steps[flowID]))
	copy(out, s.steps[flowID])
	return out
}

// MemoryFallbackStore is an in-process FallbackStore. It also serves the
// webhook consumer's pending lookups in dev mode.
type MemoryFallbackStore struct {
	mu      sync.Mutex
	records map[string]FallbackRecord
}

// NewMemoryFallbackStore constructs an empty MemoryFallbackStore.
func NewMemoryFallbackStore() *MemoryFallbackStore {
	return &MemoryFallbackStore{records: make(map[string]FallbackRecord)}
}

// Store upserts a record keyed by charge id.
func (s *MemoryFallbackStore) Store(_ context.Context, rec FallbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.ChargeID]; ok {
		rec.Attempts = existing.Attempts + 1
	}
	s.records[rec.ChargeID] = rec
	return nil
}

// Pending returns the unresolved record for a charge, if any.
func (s *MemoryFallbackStore) Pending(_ context.Context, chargeID string) (FallbackRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[chargeID]
	return rec, ok, nil
}

// Resolve removes the record for a charge.
func (s *MemoryFallbackStore) Resolve(_ context.Context, chargeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, chargeID)
	return nil
}

// Len reports the number of unresolved records.
func (s *MemoryFallbackStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
