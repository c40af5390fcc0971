// Package registry holds the catalog of models available for routing.
//
// Readers get an immutable snapshot through an atomic pointer, so allocation
// never waits on a catalog refresh or an availability flip. Writers build a
// new snapshot and publish it in one store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

// ErrUnknownModel is returned when a model name is not in the catalog.
var ErrUnknownModel = errors.New("registry: unknown model")

// Catalog is the external source of model descriptors.
type Catalog interface {
	ListModels(ctx context.Context) ([]models.ModelDescriptor, error)
}

type snapshot struct {
	models    []models.ModelDescriptor // sorted by name
	byName    map[string]int
	version   uint64
	refreshed time.Time
}

// Registry is a read-mostly, versioned view of the model catalog.
type Registry struct {
	catalog Catalog
	writeMu sync.Mutex // serializes writers only
	current atomic.Pointer[snapshot]
}

// New creates a Registry seeded with the given descriptors. catalog may be nil
// when the seed is the only source.
func New(catalog Catalog, seed []models.ModelDescriptor) *Registry {
	r := &Registry{catalog: catalog}
	r.current.Store(buildSnapshot(seed, 1))
	return r
}

func buildSnapshot(descs []models.ModelDescriptor, version uint64) *snapshot {
	list := make([]models.ModelDescriptor, len(descs))
	for i, d := range descs {
		list[i] = clone(d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	byName := make(map[string]int, len(list))
	for i, d := range list {
		byName[d.Name] = i
	}
	return &snapshot{models: list, byName: byName, version: version, refreshed: time.Now()}
}

// Snapshot returns a copy of every descriptor, sorted by name.
func (r *Registry) Snapshot() []models.ModelDescriptor {
	snap := r.current.Load()
	out := make([]models.ModelDescriptor, len(snap.models))
	for i, d := range snap.models {
		out[i] = clone(d)
	}
	return out
}

// clone copies d so callers never share the snapshot's Capabilities array.
func clone(d models.ModelDescriptor) models.ModelDescriptor {
	if d.Capabilities != nil {
		d.Capabilities = append([]string(nil), d.Capabilities...)
	}
	return d
}

// Version increases every time a new snapshot is published.
func (r *Registry) Version() uint64 {
	return r.current.Load().version
}

// Get looks up a single descriptor by name.
func (r *Registry) Get(name string) (models.ModelDescriptor, bool) {
	snap := r.current.Load()
	i, ok := snap.byName[name]
	if !ok {
		return models.ModelDescriptor{}, false
	}
	return clone(snap.models[i]), true
}

// AvailableCount returns how many models are currently marked available.
func (r *Registry) AvailableCount() int {
	n := 0
	for _, m := range r.current.Load().models {
		if m.Available {
			n++
		}
	}
	return n
}

// Refresh replaces the snapshot with the catalog's current contents.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.catalog == nil {
		return nil
	}
	descs, err := r.catalog.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("registry: listing models: %w", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	next := buildSnapshot(descs, r.current.Load().version+1)
	r.current.Store(next)
	return nil
}

// SetAvailability flips the availability flag of one model.
func (r *Registry) SetAvailability(name string, available bool) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.current.Load()
	i, ok := cur.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	if cur.models[i].Available == available {
		return nil
	}

	descs := make([]models.ModelDescriptor, len(cur.models))
	copy(descs, cur.models)
	descs[i].Available = available
	r.current.Store(buildSnapshot(descs, cur.version+1))

	log.Info().Str("model", name).Bool("available", available).Msg("registry: availability changed")
	return nil
}

// Run refreshes the registry every interval until ctx is cancelled. Failed
// refreshes keep serving the previous snapshot.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.catalog == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := r.Refresh(refreshCtx); err != nil {
				log.Warn().Err(err).Msg("registry: refresh failed, keeping previous snapshot")
			}
			cancel()
		}
	}
}
