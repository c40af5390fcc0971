package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

const queryColumns = `
	id, query_text, user_id, COALESCE(session_id, ''), complexity_score,
	COALESCE(complexity_category, ''), COALESCE(routed_model, ''),
	reserved_cost_cents, actual_cost_cents, latency_ms, status, response,
	COALESCE(failure_reason, ''), created_at, updated_at`

func scanQuery(row pgx.Row) (*models.Query, error) {
	var q models.Query
	var category, status string
	if err := row.Scan(
		&q.ID, &q.Text, &q.UserID, &q.SessionID, &q.ComplexityScore,
		&category, &q.RoutedModel,
		&q.ReservedCostCents, &q.ActualCostCents, &q.LatencyMs, &status, &q.Response,
		&q.FailureReason, &q.CreatedAt, &q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	q.ComplexityCategory = models.ComplexityCategory(category)
	q.Status = models.QueryStatus(status)
	return &q, nil
}

// CreateQuery stores a new query record.
func (db *DB) CreateQuery(ctx context.Context, q *models.Query) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO queries (id, query_text, user_id, session_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`, q.ID, q.Text, q.UserID, q.SessionID, string(q.Status), q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting query: %w", err)
	}
	return nil
}

// UpdateQuery writes every mutable column of q.
func (db *DB) UpdateQuery(ctx context.Context, q *models.Query) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE queries SET
			complexity_score = $2,
			complexity_category = NULLIF($3, ''),
			routed_model = NULLIF($4, ''),
			reserved_cost_cents = $5,
			actual_cost_cents = $6,
			latency_ms = $7,
			status = $8,
			response = $9,
			failure_reason = NULLIF($10, ''),
			updated_at = $11
		WHERE id = $1
	`, q.ID, q.ComplexityScore, string(q.ComplexityCategory), q.RoutedModel,
		q.ReservedCostCents, q.ActualCostCents, q.LatencyMs, string(q.Status), q.Response,
		q.FailureReason, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating query %q: %w", q.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("query %q: %w", q.ID, ErrNotFound)
	}
	return nil
}

// GetQuery retrieves a query by id.
func (db *DB) GetQuery(ctx context.Context, id string) (*models.Query, error) {
	q, err := scanQuery(db.Pool.QueryRow(ctx, `SELECT `+queryColumns+` FROM queries WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "query", id)
	}
	return q, nil
}

// ListQueriesByStatus returns up to limit queries in the given status, oldest first.
func (db *DB) ListQueriesByStatus(ctx context.Context, status models.QueryStatus, limit int) ([]models.Query, error) {
	return db.listQueries(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		string(status), limit)
}

// RecentQueries returns the most recent N queries.
func (db *DB) RecentQueries(ctx context.Context, limit int) ([]models.Query, error) {
	return db.listQueries(ctx,
		`SELECT `+queryColumns+` FROM queries ORDER BY created_at DESC LIMIT $1`, limit)
}

func (db *DB) listQueries(ctx context.Context, sql string, args ...interface{}) ([]models.Query, error) {
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying queries: %w", err)
	}
	defer rows.Close()

	var results []models.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning query: %w", err)
		}
		results = append(results, *q)
	}
	return results, rows.Err()
}

// CountQueries returns the total number of queries ever submitted.
func (db *DB) CountQueries(ctx context.Context) (int64, error) {
	var n int64
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM queries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting queries: %w", err)
	}
	return n, nil
}

// SumQueryCost returns the total actual cost of completed queries, in cents.
func (db *DB) SumQueryCost(ctx context.Context) (float64, error) {
	var sum float64
	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(actual_cost_cents), 0) FROM queries WHERE status = $1
	`, string(models.StatusCompleted)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("summing query cost: %w", err)
	}
	return sum, nil
}

// CreateFeedback stores a feedback entry.
func (db *DB) CreateFeedback(ctx context.Context, f *models.Feedback) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO feedback (id, user_id, query_id, content, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)
	`, f.ID, f.UserID, f.QueryID, f.Content, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	return nil
}

// ListFeedback returns the most recent N feedback entries.
func (db *DB) ListFeedback(ctx context.Context, limit int) ([]models.Feedback, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, COALESCE(user_id, ''), COALESCE(query_id, ''), content, created_at
		FROM feedback ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer rows.Close()

	var results []models.Feedback
	for rows.Next() {
		var f models.Feedback
		if err := rows.Scan(&f.ID, &f.UserID, &f.QueryID, &f.Content, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning feedback: %w", err)
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

// CreateUser stores a new user.
func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO users (id, email, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, string(u.Role), u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.UserRole(role)
	return &u, nil
}

// GetUser retrieves a user by id.
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(db.Pool.QueryRow(ctx, `
		SELECT id, email, role, is_active, created_at, updated_at FROM users WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

// UpdateUserRole sets a user's role and active flag and returns the updated user.
func (db *DB) UpdateUserRole(ctx context.Context, id string, role models.UserRole, isActive bool) (*models.User, error) {
	u, err := scanUser(db.Pool.QueryRow(ctx, `
		UPDATE users SET role = $2, is_active = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id, email, role, is_active, created_at, updated_at
	`, id, string(role), isActive))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

// ListModels returns the model catalog.
func (db *DB) ListModels(ctx context.Context) ([]models.ModelDescriptor, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT name, provider, endpoint, cost_per_query_cents, average_latency_ms,
		       capabilities, available, input_per_m_token_cents, output_per_m_token_cents
		FROM ai_models ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying models: %w", err)
	}
	defer rows.Close()

	var results []models.ModelDescriptor
	for rows.Next() {
		var m models.ModelDescriptor
		var provider string
		if err := rows.Scan(
			&m.Name, &provider, &m.Endpoint, &m.CostPerQueryCents, &m.AverageLatencyMs,
			&m.Capabilities, &m.Available, &m.InputPerMTokenCents, &m.OutputPerMTokenCents,
		); err != nil {
			return nil, fmt.Errorf("scanning model: %w", err)
		}
		m.Provider = models.LLMProvider(provider)
		results = append(results, m)
	}
	return results, rows.Err()
}

// UpsertModel creates or replaces a catalog entry.
func (db *DB) UpsertModel(ctx context.Context, m models.ModelDescriptor) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO ai_models (
			name, provider, endpoint, cost_per_query_cents, average_latency_ms,
			capabilities, available, input_per_m_token_cents, output_per_m_token_cents
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (name) DO UPDATE
		SET provider = EXCLUDED.provider,
		    endpoint = EXCLUDED.endpoint,
		    cost_per_query_cents = EXCLUDED.cost_per_query_cents,
		    average_latency_ms = EXCLUDED.average_latency_ms,
		    capabilities = EXCLUDED.capabilities,
		    available = EXCLUDED.available,
		    input_per_m_token_cents = EXCLUDED.input_per_m_token_cents,
		    output_per_m_token_cents = EXCLUDED.output_per_m_token_cents,
		    updated_at = NOW()
	`, m.Name, string(m.Provider), m.Endpoint, m.CostPerQueryCents, m.AverageLatencyMs,
		capabilitiesOrEmpty(m.Capabilities), m.Available, m.InputPerMTokenCents, m.OutputPerMTokenCents)
	if err != nil {
		return fmt.Errorf("upserting model %s: %w", m.Name, err)
	}
	return nil
}

// SetModelAvailability persists a model's availability flag.
func (db *DB) SetModelAvailability(ctx context.Context, name string, available bool) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE ai_models SET available = $2, updated_at = NOW() WHERE name = $1
	`, name, available)
	if err != nil {
		return fmt.Errorf("updating model %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("model %q: %w", name, ErrNotFound)
	}
	return nil
}
