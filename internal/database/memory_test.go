package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

func newQuery(id string, created time.Time) *models.Query {
	return &models.Query{
		ID: id, Text: "hello", UserID: "u1",
		Status: models.StatusSubmitted, CreatedAt: created, UpdatedAt: created,
	}
}

func TestMemoryStoreQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	q := newQuery("q1", time.Now())
	require.NoError(t, s.CreateQuery(ctx, q))
	assert.Error(t, s.CreateQuery(ctx, q), "duplicate id must be rejected")

	got, err := s.GetQuery(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)

	// mutating the returned copy must not change the stored record
	got.Text = "changed"
	again, _ := s.GetQuery(ctx, "q1")
	assert.Equal(t, "hello", again.Text)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetQuery(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateQuery(ctx, newQuery("missing", time.Now()))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpdateUserRole(ctx, "missing", models.RoleAdmin, true)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.SetModelAvailability(ctx, "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCostAggregates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	cost := func(v float64) *float64 { return &v }
	now := time.Now()

	done := newQuery("a", now)
	require.NoError(t, s.CreateQuery(ctx, done))
	done.Status = models.StatusCompleted
	done.ActualCostCents = cost(120)
	require.NoError(t, s.UpdateQuery(ctx, done))

	done2 := newQuery("b", now)
	require.NoError(t, s.CreateQuery(ctx, done2))
	done2.Status = models.StatusCompleted
	done2.ActualCostCents = cost(30)
	require.NoError(t, s.UpdateQuery(ctx, done2))

	require.NoError(t, s.CreateQuery(ctx, newQuery("c", now)))

	n, err := s.CountQueries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	sum, err := s.SumQueryCost(ctx)
	require.NoError(t, err)
	assert.Equal(t, 150.0, sum)
}

func TestMemoryStoreListings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	for i, id := range []string{"first", "second", "third"} {
		q := newQuery(id, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.CreateQuery(ctx, q))
	}
	routed, _ := s.GetQuery(ctx, "second")
	routed.Status = models.StatusRouted
	require.NoError(t, s.UpdateQuery(ctx, routed))

	recent, err := s.RecentQueries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].ID)

	byStatus, err := s.ListQueriesByStatus(ctx, models.StatusSubmitted, 0)
	require.NoError(t, err)
	require.Len(t, byStatus, 2)
	assert.Equal(t, "first", byStatus[0].ID)
	assert.Equal(t, "third", byStatus[1].ID)
}

func TestMemoryStoreFeedback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	require.NoError(t, s.CreateFeedback(ctx, &models.Feedback{ID: "f1", Content: "old", CreatedAt: base}))
	require.NoError(t, s.CreateFeedback(ctx, &models.Feedback{ID: "f2", Content: "new", UserID: "u1", CreatedAt: base.Add(time.Minute)}))

	list, err := s.ListFeedback(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "f2", list[0].ID)
	assert.Equal(t, "u1", list[0].UserID)
}

func TestMemoryStoreUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateUser(ctx, &models.User{ID: "u1", Email: "a@example.com", Role: models.RoleUser, IsActive: true}))

	u, err := s.UpdateUserRole(ctx, "u1", models.RoleFinance, false)
	require.NoError(t, err)
	assert.Equal(t, models.RoleFinance, u.Role)
	assert.False(t, u.IsActive)

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleFinance, got.Role)
}

func TestMemoryStoreCatalog(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SeedModels(ctx, []models.ModelDescriptor{
		{Name: "b", Available: true},
		{Name: "a", Available: true},
	}))
	require.NoError(t, s.SetModelAvailability(ctx, "a", false))

	// reseeding must not override runtime changes
	require.NoError(t, s.SeedModels(ctx, []models.ModelDescriptor{{Name: "a", Available: true}}))

	list, err := s.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.False(t, list[0].Available)

	require.NoError(t, s.UpsertModel(ctx, models.ModelDescriptor{Name: "a", Available: true, CostPerQueryCents: 7}))
	list, _ = s.ListModels(ctx)
	assert.True(t, list[0].Available)
	assert.Equal(t, 7.0, list[0].CostPerQueryCents)
}
