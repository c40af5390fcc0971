package budget

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Checkpointer persists ledger snapshots outside the process.
type Checkpointer interface {
	SaveLedger(ctx context.Context, snap Snapshot) error
	LoadLedger(ctx context.Context) (*Snapshot, error)
}

// JSONStore is a key-value store holding JSON documents, such as pkg/cache.
type JSONStore interface {
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, v interface{}) (bool, error)
}

// checkpointKey holds the latest ledger snapshot.
const checkpointKey = "budget:ledger"

// checkpointTTL outlives a budget period so a restart early in a month still
// finds the previous month's snapshot and can tell it apart.
const checkpointTTL = 40 * 24 * time.Hour

// KVCheckpointer stores ledger snapshots in a JSONStore.
type KVCheckpointer struct {
	Store JSONStore
}

// SaveLedger implements Checkpointer.
func (k KVCheckpointer) SaveLedger(ctx context.Context, snap Snapshot) error {
	return k.Store.SetJSON(ctx, checkpointKey, snap, checkpointTTL)
}

// LoadLedger implements Checkpointer. It returns nil when no checkpoint exists.
func (k KVCheckpointer) LoadLedger(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	found, err := k.Store.GetJSON(ctx, checkpointKey, &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

// RestoreFrom seeds l from the last checkpoint if it belongs to the current
// period. A missing or older checkpoint leaves l untouched.
func RestoreFrom(ctx context.Context, l *Ledger, cp Checkpointer) error {
	snap, err := cp.LoadLedger(ctx)
	if err != nil || snap == nil {
		return err
	}
	current := l.Snapshot().PeriodStart
	if !snap.PeriodStart.Equal(current) {
		log.Info().
			Time("checkpoint_period", snap.PeriodStart).
			Time("current_period", current).
			Msg("budget: ignoring checkpoint from a previous period")
		return nil
	}
	// Open reservations died with the previous process; only settled spend carries over.
	return l.Restore(snap.SettledCents)
}

// RunCheckpoints saves a snapshot every interval until ctx is cancelled, then
// writes one final snapshot.
func RunCheckpoints(ctx context.Context, l *Ledger, cp Checkpointer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := cp.SaveLedger(saveCtx, l.Snapshot()); err != nil {
				log.Warn().Err(err).Msg("budget: final checkpoint failed")
			}
			cancel()
			return
		case <-ticker.C:
			saveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := cp.SaveLedger(saveCtx, l.Snapshot()); err != nil {
				log.Warn().Err(err).Msg("budget: checkpoint failed")
			}
			cancel()
		}
	}
}

// RunPeriodRollover resets l at each calendar month boundary (UTC) until ctx
// is cancelled.
func RunPeriodRollover(ctx context.Context, l *Ledger) {
	for {
		wait := time.Until(NextPeriodStart(time.Now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			l.Reset()
		}
	}
}
