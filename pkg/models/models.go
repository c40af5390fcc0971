// Package models defines the core data structures used across the prompt router.
package models

import "time"

// LLMProvider represents a supported inference provider.
type LLMProvider string

const (
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderGemini    LLMProvider = "gemini"
	ProviderLocal     LLMProvider = "local"
)

// QueryStatus is the lifecycle state of a query.
type QueryStatus string

const (
	StatusSubmitted QueryStatus = "submitted"
	StatusAnalyzed  QueryStatus = "analyzed"
	StatusRouted    QueryStatus = "routed"
	StatusCompleted QueryStatus = "completed"
	StatusFailed    QueryStatus = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s QueryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ComplexityCategory buckets a complexity score.
type ComplexityCategory string

const (
	ComplexityLow    ComplexityCategory = "Low"
	ComplexityMedium ComplexityCategory = "Medium"
	ComplexityHigh   ComplexityCategory = "High"
)

// Query is a single unit of work routed through the system.
// Nullable columns are pointers so "not yet set" survives a round trip through the store.
type Query struct {
	ID                 string             `json:"id" db:"id"`
	Text               string             `json:"query_text" db:"query_text"`
	UserID             string             `json:"user_id" db:"user_id"`
	SessionID          string             `json:"session_id,omitempty" db:"session_id"`
	ComplexityScore    *float64           `json:"complexity_score,omitempty" db:"complexity_score"`
	ComplexityCategory ComplexityCategory `json:"complexity_category,omitempty" db:"complexity_category"`
	RoutedModel        string             `json:"routed_model,omitempty" db:"routed_model"`
	ReservedCostCents  *float64           `json:"reserved_cost_cents,omitempty" db:"reserved_cost_cents"`
	ActualCostCents    *float64           `json:"actual_cost_cents,omitempty" db:"actual_cost_cents"`
	LatencyMs          *float64           `json:"latency_ms,omitempty" db:"latency_ms"`
	Status             QueryStatus        `json:"status" db:"status"`
	Response           *string            `json:"response,omitempty" db:"response"`
	FailureReason      string             `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of q.
func (q *Query) Clone() *Query {
	c := *q
	c.ComplexityScore = cloneFloat(q.ComplexityScore)
	c.ReservedCostCents = cloneFloat(q.ReservedCostCents)
	c.ActualCostCents = cloneFloat(q.ActualCostCents)
	c.LatencyMs = cloneFloat(q.LatencyMs)
	if q.Response != nil {
		r := *q.Response
		c.Response = &r
	}
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// ModelDescriptor describes a candidate inference model.
// Everything except Available is fixed for the lifetime of a catalog entry.
type ModelDescriptor struct {
	Name                 string      `json:"name" db:"name"`
	Provider             LLMProvider `json:"provider" db:"provider"`
	Endpoint             string      `json:"endpoint,omitempty" db:"endpoint"`
	CostPerQueryCents    float64     `json:"cost_per_query_cents" db:"cost_per_query_cents"`
	AverageLatencyMs     float64     `json:"average_latency_ms" db:"average_latency_ms"`
	Capabilities         []string    `json:"capabilities" db:"capabilities"`
	Available            bool        `json:"available" db:"available"`
	InputPerMTokenCents  float64     `json:"input_per_m_token_cents,omitempty" db:"input_per_m_token_cents"`
	OutputPerMTokenCents float64     `json:"output_per_m_token_cents,omitempty" db:"output_per_m_token_cents"`
}

// Feedback is free-text feedback about the system, optionally tied to a user and query.
type Feedback struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id,omitempty" db:"user_id"`
	QueryID   string    `json:"query_id,omitempty" db:"query_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// UserRole is the administrative role of an account.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleFinance UserRole = "finance"
	RoleUser    UserRole = "user"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleFinance, RoleUser:
		return true
	}
	return false
}

// User is an account that submits queries or administers the system.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Role      UserRole  `json:"role" db:"role"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
