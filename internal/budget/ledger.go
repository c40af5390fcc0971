// Package budget implements the hard monthly spending cap for routed queries.
//
// The Ledger is the single owner of budget state. A reservation moves cents
// from "available" to "committed"; settlement releases the commitment and
// books the actual cost as "settled"; release returns a commitment unused.
// All mutations are serialized on one mutex that is never held across I/O.
package budget

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/metrics"
)

// Alert messages reported by Snapshot.
const (
	AlertBelowThreshold = "Remaining budget is below threshold."
	AlertOverCap        = "Spend exceeds monthly cap."
)

var (
	// ErrBudgetExhausted means the reservation would push spend above the cap.
	ErrBudgetExhausted = errors.New("budget: monthly cap would be exceeded")

	// ErrInvalidAmount is returned for negative, NaN or infinite amounts.
	ErrInvalidAmount = errors.New("budget: amount must be finite and non-negative")

	// ErrAlreadyClosed is returned when a reservation is settled or released twice.
	ErrAlreadyClosed = errors.New("budget: reservation already settled or released")

	// ErrUnknownReservation is returned for tokens this ledger never issued.
	ErrUnknownReservation = errors.New("budget: unknown reservation")
)

// Token identifies one reservation. It is issued by TryReserve and must be
// passed back to exactly one of Settle or Release.
type Token struct {
	ID          string  `json:"id"`
	AmountCents float64 `json:"amount_cents"`
	Period      uint64  `json:"period"`
}

// Config holds the ledger limits.
type Config struct {
	MonthlyCapCents     float64
	AlertThresholdCents float64
}

// Snapshot is a consistent read of the ledger at one instant.
type Snapshot struct {
	MonthlyCapCents  float64   `json:"monthly_cap_cents"`
	CommittedCents   float64   `json:"committed_cents"`
	SettledCents     float64   `json:"settled_cents"`
	RemainingCents   float64   `json:"remaining_cents"`
	OpenReservations int       `json:"open_reservations"`
	Period           uint64    `json:"period"`
	PeriodStart      time.Time `json:"period_start"`
	Alerts           []string  `json:"alerts"`
}

// Ledger tracks committed and settled spend against a monthly cap.
type Ledger struct {
	mu          sync.Mutex
	capCents    decimal.Decimal
	threshold   decimal.Decimal
	committed   decimal.Decimal
	settled     decimal.Decimal
	open        map[string]decimal.Decimal // reservation id -> reserved cents
	closed      map[string]struct{}        // settled or released in this period
	period      uint64
	periodStart time.Time
	now         func() time.Time
}

// NewLedger creates a Ledger with zero committed and settled spend.
func NewLedger(cfg Config) *Ledger {
	l := &Ledger{
		capCents:  decimal.NewFromFloat(cfg.MonthlyCapCents),
		threshold: decimal.NewFromFloat(cfg.AlertThresholdCents),
		committed: decimal.Zero,
		settled:   decimal.Zero,
		open:      make(map[string]decimal.Decimal),
		closed:    make(map[string]struct{}),
		period:    1,
		now:       time.Now,
	}
	l.periodStart = PeriodStart(l.now())
	metrics.BudgetCapCents.Set(cfg.MonthlyCapCents)
	l.publishLocked()
	return l
}

// TryReserve atomically holds amountCents against the cap. It returns
// ErrBudgetExhausted, without side effects, when committed + settled + amount
// would exceed the cap.
func (l *Ledger) TryReserve(amountCents float64) (Token, error) {
	if !validAmount(amountCents) {
		return Token{}, ErrInvalidAmount
	}
	amount := decimal.NewFromFloat(amountCents)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.committed.Add(l.settled).Add(amount).GreaterThan(l.capCents) {
		metrics.BudgetRejections.Inc()
		return Token{}, ErrBudgetExhausted
	}

	id := uuid.New().String()
	l.open[id] = amount
	l.committed = l.committed.Add(amount)
	l.publishLocked()

	return Token{ID: id, AmountCents: amountCents, Period: l.period}, nil
}

// Settle converts a reservation into final spend. Committed drops by exactly
// the reserved amount and settled grows by exactly actualCents. Settlement is
// never rejected for exceeding the cap; the overrun is alerted instead.
func (l *Ledger) Settle(token Token, actualCents float64) error {
	if !validAmount(actualCents) {
		return ErrInvalidAmount
	}
	actual := decimal.NewFromFloat(actualCents)

	l.mu.Lock()
	if err := l.closeLocked(token); err != nil {
		l.mu.Unlock()
		return l.violation("settle", token, err)
	}
	l.settled = l.settled.Add(actual)
	over := l.committed.Add(l.settled).GreaterThan(l.capCents)
	l.publishLocked()
	l.mu.Unlock()

	if over {
		metrics.BudgetOverruns.Inc()
		log.Warn().
			Str("reservation", token.ID).
			Float64("reserved_cents", token.AmountCents).
			Float64("actual_cents", actualCents).
			Msg("budget: settlement exceeded monthly cap")
	}
	return nil
}

// Charge books spend that has no reservation behind it, such as a provider
// call that finished after its reservation was reaped. Like Settle it is
// never rejected for exceeding the cap.
func (l *Ledger) Charge(actualCents float64) error {
	if !validAmount(actualCents) {
		return ErrInvalidAmount
	}
	actual := decimal.NewFromFloat(actualCents)

	l.mu.Lock()
	l.settled = l.settled.Add(actual)
	over := l.committed.Add(l.settled).GreaterThan(l.capCents)
	l.publishLocked()
	l.mu.Unlock()

	if over {
		metrics.BudgetOverruns.Inc()
		log.Warn().Float64("actual_cents", actualCents).Msg("budget: unreserved charge exceeded monthly cap")
	}
	return nil
}

// Release returns an unused reservation to the available budget without
// touching settled spend.
func (l *Ledger) Release(token Token) error {
	l.mu.Lock()
	err := l.closeLocked(token)
	if err == nil {
		l.publishLocked()
	}
	l.mu.Unlock()

	if err != nil {
		return l.violation("release", token, err)
	}
	return nil
}

// closeLocked removes token from the open set and drops its commitment.
// Tokens from an earlier period are accepted; their commitment was already
// cleared by Reset. Must be called with l.mu held.
func (l *Ledger) closeLocked(token Token) error {
	if _, done := l.closed[token.ID]; done {
		return ErrAlreadyClosed
	}
	amount, ok := l.open[token.ID]
	switch {
	case ok:
		delete(l.open, token.ID)
		l.committed = l.committed.Sub(amount)
	case token.ID != "" && token.Period < l.period:
		// stale token from before the last reset
	default:
		return ErrUnknownReservation
	}
	l.closed[token.ID] = struct{}{}
	return nil
}

// violation logs and counts a reservation protocol error.
func (l *Ledger) violation(op string, token Token, err error) error {
	kind := "unknown"
	if errors.Is(err, ErrAlreadyClosed) {
		kind = "already_closed"
	}
	metrics.LedgerViolations.WithLabelValues(kind).Inc()
	log.Error().
		Str("op", op).
		Str("reservation", token.ID).
		Err(err).
		Msg("budget: reservation protocol violation")
	return fmt.Errorf("%s reservation %q: %w", op, token.ID, err)
}

// Snapshot returns committed, settled and remaining spend plus any alerts.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() Snapshot {
	remaining := l.capCents.Sub(l.committed).Sub(l.settled)

	alerts := []string{}
	if remaining.LessThan(l.threshold) {
		alerts = append(alerts, AlertBelowThreshold)
	}
	if remaining.IsNegative() {
		alerts = append(alerts, AlertOverCap)
	}

	return Snapshot{
		MonthlyCapCents:  l.capCents.InexactFloat64(),
		CommittedCents:   l.committed.InexactFloat64(),
		SettledCents:     l.settled.InexactFloat64(),
		RemainingCents:   remaining.InexactFloat64(),
		OpenReservations: len(l.open),
		Period:           l.period,
		PeriodStart:      l.periodStart,
		Alerts:           alerts,
	}
}

// Reset starts a new budget period: committed and settled both drop to zero
// atomically. Reservations still in flight become stale; settling one books
// its actual cost into the new period.
func (l *Ledger) Reset() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.committed = decimal.Zero
	l.settled = decimal.Zero
	l.open = make(map[string]decimal.Decimal)
	l.closed = make(map[string]struct{})
	l.period++
	l.periodStart = PeriodStart(l.now())
	l.publishLocked()

	log.Info().Uint64("period", l.period).Msg("budget: ledger reset for new period")
	return l.snapshotLocked()
}

// Restore seeds settled spend, typically from a checkpoint taken before a
// restart. Open reservations do not survive a restart and are not restored.
func (l *Ledger) Restore(settledCents float64) error {
	if !validAmount(settledCents) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.settled = decimal.NewFromFloat(settledCents)
	l.publishLocked()
	return nil
}

// publishLocked mirrors the counters into Prometheus. Must be called with l.mu held.
func (l *Ledger) publishLocked() {
	metrics.BudgetCommittedCents.Set(l.committed.InexactFloat64())
	metrics.BudgetSettledCents.Set(l.settled.InexactFloat64())
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// PeriodStart returns the first instant of the calendar month containing t, in UTC.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextPeriodStart returns the first instant of the month after t, in UTC.
func NextPeriodStart(t time.Time) time.Time {
	return PeriodStart(t).AddDate(0, 1, 0)
}
