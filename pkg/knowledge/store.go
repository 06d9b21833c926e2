// Package knowledge composes the triple store, query cache, and version
// ledger into the shared, async-safe knowledge store used by agents and the
// workflow engine.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicholaskb/semant/pkg/graph"
	"github.com/nicholaskb/semant/pkg/telemetry"
)

// Store is the single entry point for add/remove/query/rollback. One
// process-wide instance is created at startup and passed by reference.
//
// Writes are serialized through the store-wide write lock; reads share it.
// Matching cache entries are evicted inside the write critical section, so a
// write is never acknowledged before dependent cached results are gone.
type Store struct {
	mu      sync.RWMutex
	graph   *graph.TripleStore
	cache   *graph.QueryCache
	ledger  *graph.Ledger
	persist *SQLiteLedger

	metrics *telemetry.StoreMetrics
	tracer  trace.Tracer
}

// Option configures a Store.
type Option func(*options)

type options struct {
	cacheSize    int
	cacheTTL     time.Duration
	historyLimit int
	persist      *SQLiteLedger
	metrics      *telemetry.StoreMetrics
}

// WithCacheSize bounds the number of cached query results.
func WithCacheSize(size int) Option {
	return func(o *options) { o.cacheSize = size }
}

// WithCacheTTL bounds the freshness window of cached query results.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.cacheTTL = ttl }
}

// WithHistoryLimit bounds the retained version history (0 = unbounded).
func WithHistoryLimit(limit int) Option {
	return func(o *options) { o.historyLimit = limit }
}

// WithPersistence attaches a SQLite ledger. Prior history is replayed so a
// restarted process resumes with the same graph.
func WithPersistence(p *SQLiteLedger) Option {
	return func(o *options) { o.persist = p }
}

// WithMetrics attaches store metrics.
func WithMetrics(m *telemetry.StoreMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewStore creates a knowledge store, replaying persisted history when a
// SQLite ledger is attached.
func NewStore(opts ...Option) (*Store, error) {
	o := &options{
		cacheSize:    1024,
		cacheTTL:     time.Minute,
		historyLimit: 1000,
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Store{
		graph:   graph.NewTripleStore(),
		cache:   graph.NewQueryCache(o.cacheSize, o.cacheTTL),
		ledger:  graph.NewLedger(o.historyLimit),
		persist: o.persist,
		metrics: o.metrics,
		tracer:  otel.Tracer("semant/knowledge"),
	}

	if s.persist != nil {
		versions, err := s.persist.LoadVersions(context.Background())
		if err != nil {
			return nil, fmt.Errorf("replay persisted ledger: %w", err)
		}
		for _, v := range versions {
			for _, t := range v.Removed {
				if _, err := s.graph.Remove(t); err != nil {
					return nil, fmt.Errorf("replay version %d: %w", v.ID, err)
				}
			}
			for _, t := range v.Added {
				if _, err := s.graph.Add(t); err != nil {
					return nil, fmt.Errorf("replay version %d: %w", v.ID, err)
				}
			}
		}
		s.ledger.Restore(versions)
	}

	return s, nil
}

// Add inserts a triple if absent, updating indices, evicting dependent cache
// entries, and appending a version delta. Adding an existing triple is a
// successful no-op. All effects are all-or-nothing.
func (s *Store) Add(ctx context.Context, subject, predicate string, object graph.Term) error {
	ctx, span := s.tracer.Start(ctx, "Knowledge.Add", trace.WithAttributes(
		attribute.String("subject", subject),
		attribute.String("predicate", predicate),
	))
	defer span.End()

	t := graph.Triple{Subject: subject, Predicate: predicate, Object: object}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed, err := s.graph.Add(t)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if err := s.commitLocked(ctx, []graph.Triple{t}, nil, ""); err != nil {
		// Undo the in-memory mutation so the failed write leaves no trace.
		s.graph.Remove(t) //nolint:errcheck // triple was just validated
		return err
	}

	s.cache.InvalidateWrite(subject, predicate)
	s.metrics.RecordAdd(ctx)
	slog.DebugContext(ctx, "knowledge.add",
		slog.String("subject", subject),
		slog.String("predicate", predicate),
		slog.Uint64("version", s.ledger.Latest()),
	)
	return nil
}

// Remove deletes a triple if present, with the same index/cache/version
// effects as Add. Removing an absent triple is a successful no-op.
func (s *Store) Remove(ctx context.Context, subject, predicate string, object graph.Term) error {
	ctx, span := s.tracer.Start(ctx, "Knowledge.Remove", trace.WithAttributes(
		attribute.String("subject", subject),
		attribute.String("predicate", predicate),
	))
	defer span.End()

	t := graph.Triple{Subject: subject, Predicate: predicate, Object: object}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed, err := s.graph.Remove(t)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if err := s.commitLocked(ctx, nil, []graph.Triple{t}, ""); err != nil {
		s.graph.Add(t) //nolint:errcheck
		return err
	}

	s.cache.InvalidateWrite(subject, predicate)
	s.metrics.RecordRemove(ctx)
	return nil
}

// Update atomically replaces an existing fact: the old triple is removed and
// the new one added as a single version delta under one lock acquisition.
func (s *Store) Update(ctx context.Context, old, updated graph.Triple) error {
	ctx, span := s.tracer.Start(ctx, "Knowledge.Update")
	defer span.End()

	if err := old.Validate(); err != nil {
		return err
	}
	if err := updated.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed, _ := s.graph.Remove(old)
	added, _ := s.graph.Add(updated)
	if !removed && !added {
		return nil
	}

	var addList, removeList []graph.Triple
	if added {
		addList = []graph.Triple{updated}
	}
	if removed {
		removeList = []graph.Triple{old}
	}
	if err := s.commitLocked(ctx, addList, removeList, ""); err != nil {
		if added {
			s.graph.Remove(updated) //nolint:errcheck
		}
		if removed {
			s.graph.Add(old) //nolint:errcheck
		}
		return err
	}

	s.cache.InvalidateWrite(old.Subject, old.Predicate)
	s.cache.InvalidateWrite(updated.Subject, updated.Predicate)
	return nil
}

// Query consults the cache first; on a miss it executes against the indices,
// stores the result with its dependency fingerprint, and returns it.
func (s *Store) Query(ctx context.Context, q graph.Query) (graph.ResultSet, error) {
	ctx, span := s.tracer.Start(ctx, "Knowledge.Query")
	defer span.End()

	if err := q.Validate(); err != nil {
		return graph.ResultSet{}, err
	}
	key := q.Canonical()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if rs, ok := s.cache.Get(key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		s.metrics.RecordCacheHit(ctx)
		return rs, nil
	}

	rs, err := graph.Execute(s.graph, q)
	if err != nil {
		return graph.ResultSet{}, err
	}
	// Insert while still holding the read lock: a writer cannot interleave,
	// so a stale result can never land after its invalidating write.
	s.cache.Put(key, rs, q.Fingerprint())
	s.metrics.RecordCacheMiss(ctx)
	return rs, nil
}

// QueryString parses the SELECT subset and executes it.
func (s *Store) QueryString(ctx context.Context, query string) (graph.ResultSet, error) {
	q, err := graph.ParseSelect(query)
	if err != nil {
		return graph.ResultSet{}, err
	}
	return s.Query(ctx, q)
}

// Contains reports membership of an exact triple.
func (s *Store) Contains(t graph.Triple) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Contains(t)
}

// Len returns the number of stored triples.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Len()
}

// SnapshotVersion returns the current version id.
func (s *Store) SnapshotVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Latest()
}

// History returns the retained version history, oldest first.
func (s *Store) History() []graph.Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Versions()
}

// Rollback applies inverse deltas down to the target version and records the
// result as a new forward version, so history shows the rollback happened.
// Fails with VersionNotFound when the target predates the retained horizon.
func (s *Store) Rollback(ctx context.Context, to uint64) error {
	ctx, span := s.tracer.Start(ctx, "Knowledge.Rollback", trace.WithAttributes(
		attribute.Int64("target", int64(to)),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	deltas, err := s.ledger.DeltasAfter(to)
	if err != nil {
		return err
	}

	// Track one final disposition per triple: a triple that flips both ways
	// while unwinding (added then removed in the range, or vice versa)
	// cancels out and must not appear in the recorded delta at all, or a
	// boot-time replay of the ledger would diverge from this graph.
	type flip struct {
		t       graph.Triple
		initial bool
		final   bool
	}
	flips := make(map[string]*flip)
	record := func(t graph.Triple, present bool) {
		k := t.Key()
		if f, ok := flips[k]; ok {
			f.final = present
			return
		}
		flips[k] = &flip{t: t, initial: !present, final: present}
	}
	for _, v := range deltas {
		for _, t := range v.Added {
			if removed, _ := s.graph.Remove(t); removed {
				record(t, false)
			}
		}
		for _, t := range v.Removed {
			if added, _ := s.graph.Add(t); added {
				record(t, true)
			}
		}
	}
	var netAdded, netRemoved []graph.Triple
	for _, f := range flips {
		switch {
		case !f.initial && f.final:
			netAdded = append(netAdded, f.t)
		case f.initial && !f.final:
			netRemoved = append(netRemoved, f.t)
		}
	}

	note := fmt.Sprintf("rollback to version %d", to)
	if err := s.commitLocked(ctx, netAdded, netRemoved, note); err != nil {
		// Undo: re-apply the original deltas oldest first.
		for i := len(netAdded) - 1; i >= 0; i-- {
			s.graph.Remove(netAdded[i]) //nolint:errcheck
		}
		for i := len(netRemoved) - 1; i >= 0; i-- {
			s.graph.Add(netRemoved[i]) //nolint:errcheck
		}
		return err
	}

	// Rollback can touch arbitrary subjects; drop everything.
	s.cache.Purge()
	s.metrics.RecordRollback(ctx)
	slog.InfoContext(ctx, "knowledge.rollback",
		slog.Uint64("target", to),
		slog.Uint64("new_version", s.ledger.Latest()),
	)
	return nil
}

// commitLocked appends the delta to the ledger and persists it. Persistence
// runs first so a storage failure leaves the ledger untouched; the caller
// undoes the graph mutation.
func (s *Store) commitLocked(ctx context.Context, added, removed []graph.Triple, note string) error {
	if s.persist != nil {
		v := graph.Version{
			ID:      s.ledger.NextID(),
			Added:   added,
			Removed: removed,
			Note:    note,
			At:      time.Now().UTC(),
		}
		if err := s.persist.SaveVersion(ctx, v); err != nil {
			return err
		}
	}
	s.ledger.Append(added, removed, note)
	return nil
}
