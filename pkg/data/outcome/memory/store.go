package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/code-payments/code-test-client/pkg/data/outcome"
	"github.com/code-payments/code-test-client/pkg/database/query"
	domain "github.com/code-payments/code-test-client/pkg/outcome"
)

type store struct {
	mu      sync.Mutex
	last    uint64
	records []*outcome.Record
}

// New returns a new in memory outcome.Store
func New() outcome.Store {
	return &store{}
}

// Put implements outcome.Store.Put
func (s *store) Put(_ context.Context, data *outcome.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.findByAttemptId(data.AttemptId); item != nil {
		return outcome.ErrAlreadyExists
	}

	s.last++
	data.Id = s.last
	data.CreatedAt = time.Now()

	cloned := data.Clone()
	s.records = append(s.records, &cloned)

	return nil
}

// Get implements outcome.Store.Get
func (s *store) Get(_ context.Context, attemptId string) (*outcome.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findByAttemptId(attemptId)
	if item == nil {
		return nil, outcome.ErrNotFound
	}

	cloned := item.Clone()
	return &cloned, nil
}

// CountByKind implements outcome.Store.CountByKind
func (s *store) CountByKind(_ context.Context, kind domain.Kind) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return uint64(len(s.findByKind(kind))), nil
}

// GetAllByKind implements outcome.Store.GetAllByKind
func (s *store) GetAllByKind(_ context.Context, kind domain.Kind, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*outcome.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.filter(s.findByKind(kind), cursor, limit, direction)
	if len(items) == 0 {
		return nil, outcome.ErrNotFound
	}
	return cloneSlice(items), nil
}

func (s *store) findByAttemptId(attemptId string) *outcome.Record {
	for _, item := range s.records {
		if item.AttemptId == attemptId {
			return item
		}
	}
	return nil
}

func (s *store) findByKind(kind domain.Kind) []*outcome.Record {
	var res []*outcome.Record
	for _, item := range s.records {
		if item.Kind == kind {
			res = append(res, item)
		}
	}
	return res
}

func (s *store) filter(items []*outcome.Record, cursor query.Cursor, limit uint64, direction query.Ordering) []*outcome.Record {
	var start uint64
	if direction == query.Descending {
		start = s.last + 1
	}
	if len(cursor) > 0 {
		start = cursor.ToUint64()
	}

	var res []*outcome.Record
	for _, item := range items {
		if item.Id > start && direction == query.Ascending {
			res = append(res, item)
		}
		if item.Id < start && direction == query.Descending {
			res = append(res, item)
		}
	}

	if direction == query.Descending {
		sort.Slice(res, func(i, j int) bool {
			return res[i].Id > res[j].Id
		})
	}

	if limit > 0 && uint64(len(res)) > limit {
		return res[:limit]
	}
	return res
}

func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = 0
	s.records = nil
}

func cloneSlice(items []*outcome.Record) []*outcome.Record {
	var res []*outcome.Record
	for _, item := range items {
		cloned := item.Clone()
		res = append(res, &cloned)
	}
	return res
}
