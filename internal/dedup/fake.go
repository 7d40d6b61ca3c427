package dedup

import (
	"context"
	"sync"

	"dsr.gov.ph/registry/internal/domain"
)

// Static is a Finder returning a canned result. It counts calls so tests can
// assert the engine was or was not consulted.
type Static struct {
	mu     sync.Mutex
	Result domain.DeduplicationResult
	Err    error
	calls  int
}

// NewStatic returns a Static that always answers ACCEPT.
func NewStatic() *Static {
	return &Static{Result: domain.DeduplicationResult{
		Recommendation: domain.RecommendAccept,
		Candidates:     []domain.MatchCandidate{},
	}}
}

// FindDuplicates returns the canned result.
func (s *Static) FindDuplicates(_ context.Context, dataType domain.DataType, payload domain.Payload) (domain.DeduplicationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	r := s.Result
	r.BlockingKeys = BlockingKeys(dataType, payload)
	return r, s.Err
}

// Calls reports how many times FindDuplicates ran.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
