// Package memory is an in-memory report destination used in tests and
// local runs without Google credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"bilancio/internal/services"
)

type Store struct {
	mu      sync.Mutex
	reports []services.BudgetReport
}

func New() *Store {
	return &Store{}
}

// WriteReport stores the report and returns a synthetic reference.
func (s *Store) WriteReport(_ context.Context, r services.BudgetReport) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return fmt.Sprintf("mem:%d", len(s.reports)), nil
}

// Reports returns a copy of everything written so far.
func (s *Store) Reports() []services.BudgetReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]services.BudgetReport(nil), s.reports...)
}
