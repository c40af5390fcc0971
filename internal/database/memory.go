package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

// MemoryStore keeps records in process memory. It serves as the store when
// PostgreSQL is unavailable and in tests. Records do not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	queries  map[string]*models.Query
	feedback []models.Feedback
	users    map[string]*models.User
	catalog  map[string]models.ModelDescriptor
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queries: make(map[string]*models.Query),
		users:   make(map[string]*models.User),
		catalog: make(map[string]models.ModelDescriptor),
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// CreateQuery stores a copy of q.
func (s *MemoryStore) CreateQuery(_ context.Context, q *models.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queries[q.ID]; exists {
		return fmt.Errorf("inserting query: duplicate id %q", q.ID)
	}
	s.queries[q.ID] = q.Clone()
	return nil
}

// UpdateQuery replaces the stored record with a copy of q.
func (s *MemoryStore) UpdateQuery(_ context.Context, q *models.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[q.ID]; !ok {
		return fmt.Errorf("query %q: %w", q.ID, ErrNotFound)
	}
	s.queries[q.ID] = q.Clone()
	return nil
}

// GetQuery returns a copy of the stored record.
func (s *MemoryStore) GetQuery(_ context.Context, id string) (*models.Query, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queries[id]
	if !ok {
		return nil, fmt.Errorf("query %q: %w", id, ErrNotFound)
	}
	return q.Clone(), nil
}

// ListQueriesByStatus returns up to limit queries in the given status, oldest first.
func (s *MemoryStore) ListQueriesByStatus(_ context.Context, status models.QueryStatus, limit int) ([]models.Query, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Query
	for _, q := range s.queries {
		if q.Status == status {
			out = append(out, *q.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

// RecentQueries returns the most recent N queries.
func (s *MemoryStore) RecentQueries(_ context.Context, limit int) ([]models.Query, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Query, 0, len(s.queries))
	for _, q := range s.queries {
		out = append(out, *q.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

// CountQueries returns the number of stored queries.
func (s *MemoryStore) CountQueries(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.queries)), nil
}

// SumQueryCost returns the total actual cost of completed queries, in cents.
func (s *MemoryStore) SumQueryCost(_ context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	for _, q := range s.queries {
		if q.Status == models.StatusCompleted && q.ActualCostCents != nil {
			sum += *q.ActualCostCents
		}
	}
	return sum, nil
}

// CreateFeedback stores a feedback entry.
func (s *MemoryStore) CreateFeedback(_ context.Context, f *models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, *f)
	return nil
}

// ListFeedback returns the most recent N feedback entries.
func (s *MemoryStore) ListFeedback(_ context.Context, limit int) ([]models.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Feedback, len(s.feedback))
	copy(out, s.feedback)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

// CreateUser stores a new user.
func (s *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.ID]; exists {
		return fmt.Errorf("inserting user: duplicate id %q", u.ID)
	}
	c := *u
	s.users[u.ID] = &c
	return nil
}

// GetUser retrieves a user by id.
func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	c := *u
	return &c, nil
}

// UpdateUserRole sets a user's role and active flag and returns the updated user.
func (s *MemoryStore) UpdateUserRole(_ context.Context, id string, role models.UserRole, isActive bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	u.Role = role
	u.IsActive = isActive
	u.UpdatedAt = time.Now().UTC()
	c := *u
	return &c, nil
}

// SeedModels inserts catalog entries that do not exist yet.
func (s *MemoryStore) SeedModels(_ context.Context, catalog []models.ModelDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range catalog {
		if _, exists := s.catalog[m.Name]; !exists {
			s.catalog[m.Name] = m
		}
	}
	return nil
}

// ListModels returns the model catalog sorted by name.
func (s *MemoryStore) ListModels(_ context.Context) ([]models.ModelDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ModelDescriptor, 0, len(s.catalog))
	for _, m := range s.catalog {
		m.Capabilities = append([]string(nil), m.Capabilities...)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertModel creates or replaces a catalog entry.
func (s *MemoryStore) UpsertModel(_ context.Context, m models.ModelDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[m.Name] = m
	return nil
}

// SetModelAvailability updates a model's availability flag.
func (s *MemoryStore) SetModelAvailability(_ context.Context, name string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.catalog[name]
	if !ok {
		return fmt.Errorf("model %q: %w", name, ErrNotFound)
	}
	m.Available = available
	s.catalog[name] = m
	return nil
}
