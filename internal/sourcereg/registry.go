// Package sourcereg is the Source Registry (C1): the authoritative list of
// configured sources, their types, and schema summaries. The Registry is
// the sole mutator of Source entries; every other component reads a
// lock-free snapshot.
//
// When Config.Redis is set, New joins a Pulse replicated map named after
// Config.Name. The source snapshot itself stays in process: it is not
// written to or read from that map, so a Replace on one node is not seen
// by other nodes. Per-source health pings can be coordinated across nodes
// through a Pulse distributed ticker (see the health subpackage).
package sourcereg

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
	"github.com/queryorch/orchestrator/internal/telemetry"
)

type (
	// Registry implements C1. Reads are lock-free against an atomically
	// held snapshot; writes build a new snapshot and swap it in, so readers
	// never observe a half-updated registry.
	Registry struct {
		snapshot atomic.Pointer[snapshot]
		sourceMap *rmap.Map // nil unless clustered via Config.Redis
		logger    telemetry.Logger
	}

	// Config configures the registry.
	Config struct {
		// Sources is the initial set of configured sources, read once at
		// startup. Two sources sharing an ID, or a source missing a
		// required field, fails New with ConfigInvalid.
		Sources []model.Source
		// Redis, when set, makes New join a Pulse replicated map named
		// "<Name>:sources" (released by Close). The source snapshot is not
		// replicated through it.
		Redis *redis.Client
		// Name derives the Pulse resource name when Redis is set. Defaults
		// to "sourcereg".
		Name string
		// Logger receives registry diagnostics. Defaults to a noop logger.
		Logger telemetry.Logger
	}

	snapshot struct {
		bySource map[string]model.Source
		ordered  []model.Source
		byKind   map[model.SourceKind][]model.Source
	}
)

// New constructs a Registry from the given configuration, validating the
// initial source set and optionally joining a Pulse replicated map for
// cross-node replication.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	snap, err := buildSnapshot(cfg.Sources)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	r := &Registry{logger: logger}
	r.snapshot.Store(snap)

	if cfg.Redis != nil {
		name := cfg.Name
		if name == "" {
			name = "sourcereg"
		}
		sm, err := rmap.Join(ctx, name+":sources", cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("join source map: %w", err)
		}
		r.sourceMap = sm
		logger.Info(ctx, "source registry joined replicated map", "name", name)
	}

	return r, nil
}

// buildSnapshot validates and indexes a source set, enforcing the
// ConfigInvalid rules from spec §4.1: no duplicate IDs, no missing
// required fields.
func buildSnapshot(sources []model.Source) (*snapshot, error) {
	snap := &snapshot{
		bySource: make(map[string]model.Source, len(sources)),
		byKind:   make(map[model.SourceKind][]model.Source),
	}
	for _, s := range sources {
		if s.ID == "" {
			return nil, orcherrors.New(orcherrors.ConfigInvalid, "source missing required id")
		}
		if s.Kind == "" {
			return nil, orcherrors.Newf(orcherrors.ConfigInvalid, "source %q missing required kind", s.ID)
		}
		if _, dup := snap.bySource[s.ID]; dup {
			return nil, orcherrors.Newf(orcherrors.ConfigInvalid, "duplicate source id %q", s.ID)
		}
		snap.bySource[s.ID] = s
		snap.ordered = append(snap.ordered, s)
		snap.byKind[s.Kind] = append(snap.byKind[s.Kind], s)
	}
	return snap, nil
}

// List returns every configured source in registration order.
func (r *Registry) List() []model.Source {
	snap := r.snapshot.Load()
	out := make([]model.Source, len(snap.ordered))
	copy(out, snap.ordered)
	return out
}

// Get returns the source with the given id, or NotFound.
func (r *Registry) Get(id string) (model.Source, error) {
	snap := r.snapshot.Load()
	s, ok := snap.bySource[id]
	if !ok {
		return model.Source{}, orcherrors.Newf(orcherrors.NotFound, "source %q not registered", id)
	}
	return s, nil
}

// ByKind returns every source of the given kind.
func (r *Registry) ByKind(kind model.SourceKind) []model.Source {
	snap := r.snapshot.Load()
	srcs := snap.byKind[kind]
	out := make([]model.Source, len(srcs))
	copy(out, srcs)
	return out
}

// SchemaSummary returns the schema summary for a source, or NotFound.
func (r *Registry) SchemaSummary(id string) (model.SchemaSummary, error) {
	s, err := r.Get(id)
	if err != nil {
		return model.SchemaSummary{}, err
	}
	return s.SchemaSummary, nil
}

// SourcesFor filters the registry by a per-session allowlist, supporting
// the workspace-isolation invariant: a deployment that wants to restrict
// which sources a session's classifier/planner may consider passes a
// non-nil allow set. A nil allow set means no restriction.
func (r *Registry) SourcesFor(allow map[string]bool) []model.Source {
	all := r.List()
	if allow == nil {
		return all
	}
	out := make([]model.Source, 0, len(all))
	for _, s := range all {
		if allow[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// Replace atomically swaps in a new source set, re-validating it first.
// Readers in flight continue to see the prior snapshot; only subsequent
// calls observe the update (hot-swap, per spec §4.1).
func (r *Registry) Replace(ctx context.Context, sources []model.Source) error {
	snap, err := buildSnapshot(sources)
	if err != nil {
		return err
	}
	r.snapshot.Store(snap)
	if r.sourceMap != nil {
		r.logger.Info(ctx, "source registry snapshot replaced", "count", len(sources), "at", time.Now().UTC())
	}
	return nil
}

// Close releases resources held for cluster replication, if any.
func (r *Registry) Close() {
	if r.sourceMap != nil {
		r.sourceMap.Close()
	}
}
