package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

// orphanScanLimit caps how many routed records RecoverOrphans handles per call.
const orphanScanLimit = 1000

// Reap fails every routed query whose reservation deadline is before now and
// releases its reservation. It returns the number of queries failed.
func (m *Manager) Reap(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	var expired []string
	for id, res := range m.inflight {
		if now.After(res.deadline) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	reaped := 0
	for _, id := range expired {
		if m.reapOne(ctx, id, now) {
			reaped++
		}
	}
	return reaped
}

func (m *Manager) reapOne(ctx context.Context, id string, now time.Time) bool {
	unlock := m.locks.Lock(id)
	defer unlock()

	// Completion may have won the race since the scan.
	m.mu.Lock()
	res, ok := m.inflight[id]
	m.mu.Unlock()
	if !ok || !now.After(res.deadline) {
		return false
	}

	q, err := m.store.GetQuery(ctx, id)
	if err != nil {
		// Release anyway; the reservation must not outlive its deadline.
		if res, ok := m.take(id); ok {
			if relErr := m.ledger.Release(res.token); relErr != nil {
				log.Error().Err(relErr).Str("query_id", id).Msg("lifecycle: reaper release failed")
			}
		}
		log.Error().Err(err).Str("query_id", id).Msg("lifecycle: reaper could not load query")
		return true
	}

	if err := m.failLocked(ctx, q, ReasonReservationExpired); err != nil {
		log.Error().Err(err).Str("query_id", id).Msg("lifecycle: reaper could not persist failure")
	}
	metrics.ReservationsReaped.Inc()
	log.Warn().
		Str("query_id", id).
		Str("model", res.model.Name).
		Time("deadline", res.deadline).
		Msg("lifecycle: routed query timed out, reservation released")
	return true
}

// Run reaps expired reservations every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(ctx, m.now()); n > 0 {
				log.Info().Int("reaped", n).Msg("lifecycle: reaper pass complete")
			}
		}
	}
}

// RecoverOrphans fails routed queries left behind by a previous process.
// Their reservations died with it, so there is nothing to release; this only
// brings the records to a terminal state. Call it once at startup, before
// serving traffic.
func (m *Manager) RecoverOrphans(ctx context.Context) (int, error) {
	routed, err := m.store.ListQueriesByStatus(ctx, models.StatusRouted, orphanScanLimit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range routed {
		id := routed[i].ID
		m.mu.Lock()
		_, live := m.inflight[id]
		m.mu.Unlock()
		if live {
			continue
		}

		unlock := m.locks.Lock(id)
		q, err := m.load(ctx, id, models.StatusRouted)
		if err == nil {
			err = m.failLocked(ctx, q, ReasonOrphaned)
		}
		unlock()
		if err != nil {
			log.Warn().Err(err).Str("query_id", id).Msg("lifecycle: could not recover orphaned query")
			continue
		}
		recovered++
	}
	if recovered > 0 {
		log.Info().Int("recovered", recovered).Msg("lifecycle: failed orphaned routed queries")
	}
	return recovered, nil
}
