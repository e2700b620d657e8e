package repository

import (
	"context"
	"sync"

	"herbitect/clock"
	"herbitect/model"
)

// MemoryOTPStore is a process-local store for development and tests. Its own
// clock plays the role of the server timestamp.
type MemoryOTPStore struct {
	mu      sync.RWMutex
	records map[string]model.OTPRecord
	clock   clock.Clocker
}

func NewMemoryOTPStore(c clock.Clocker) *MemoryOTPStore {
	if c == nil {
		c = clock.New()
	}
	return &MemoryOTPStore{
		records: make(map[string]model.OTPRecord),
		clock:   c,
	}
}

func (s *MemoryOTPStore) Put(ctx context.Context, email, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[email] = model.OTPRecord{Email: email, Code: code, IssuedAt: s.clock.Now()}
	return nil
}

func (s *MemoryOTPStore) Get(ctx context.Context, email string) (*model.OTPRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[email]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryOTPStore) Delete(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, email)
	return nil
}

// Len is the number of stored records.
func (s *MemoryOTPStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
