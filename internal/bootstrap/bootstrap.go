// Package bootstrap runs database initialization at process start: it
// provisions collections, settings and indexes, reconciles TTL and text
// indexes and the per-language location values, and exposes the outcome as
// a ready signal.
package bootstrap

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daap14/bookcars/internal/database"
	"github.com/daap14/bookcars/internal/reconciler"
	"github.com/daap14/bookcars/internal/schema"
)

// Connection reports whether the database connection is open.
type Connection interface {
	IsConnected() bool
}

// Store is everything initialization reads and writes.
type Store interface {
	reconciler.SchemaStore
	reconciler.SettingStore
	reconciler.TranslationStore
}

// Options configures an Initializer.
type Options struct {
	Descriptors []schema.CollectionDescriptor
	Translation reconciler.TranslationOptions
	// Metrics are created when nil.
	Metrics *Metrics
}

// Status is a snapshot of the initialization state.
type Status struct {
	Connected    bool
	Ready        bool
	Runs         int
	LastRun      time.Time
	LastDuration time.Duration
}

// Initializer runs the initialization steps in order and folds their
// outcome into a single ready flag.
type Initializer struct {
	conn         Connection
	store        Store
	descriptors  []schema.CollectionDescriptor
	provisioner  *reconciler.Provisioner
	textIndexes  *reconciler.TextIndexReconciler
	ttl          *reconciler.TTLReconciler
	translations *reconciler.TranslationReconciler
	metrics      *Metrics

	ready atomic.Bool

	mu           sync.Mutex
	runs         int
	lastRun      time.Time
	lastDuration time.Duration
}

// New creates a new Initializer.
func New(conn Connection, store Store, opts Options) *Initializer {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Initializer{
		conn:         conn,
		store:        store,
		descriptors:  opts.Descriptors,
		provisioner:  reconciler.NewProvisioner(store),
		textIndexes:  reconciler.NewTextIndexReconciler(store),
		ttl:          reconciler.NewTTLReconciler(store),
		translations: reconciler.NewTranslationReconciler(store, opts.Translation),
		metrics:      metrics,
	}
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Initialize runs every step and reports whether all of them succeeded.
// Failures are logged and do not undo earlier steps; later steps still run
// unless the database became unreachable. When createIndexes is false,
// declared and text indexes are left alone.
func (i *Initializer) Initialize(ctx context.Context, createIndexes bool) bool {
	start := time.Now()
	ok := i.run(ctx, createIndexes)
	elapsed := time.Since(start)

	i.ready.Store(ok)

	i.mu.Lock()
	i.runs++
	i.lastRun = start
	i.lastDuration = elapsed
	i.mu.Unlock()

	result := "success"
	if !ok {
		result = "failure"
	}
	i.metrics.Runs.WithLabelValues(result).Inc()
	i.metrics.Duration.Observe(elapsed.Seconds())
	if ok {
		i.metrics.Ready.Set(1)
	} else {
		i.metrics.Ready.Set(0)
	}

	slog.Info("database initialization finished", "success", ok, "duration", elapsed.String())
	return ok
}

func (i *Initializer) run(ctx context.Context, createIndexes bool) bool {
	if !i.conn.IsConnected() {
		slog.Error("database initialization skipped: connection not ready")
		return false
	}

	steps := []step{
		{name: "provision collections", run: func(ctx context.Context) error {
			res, err := i.provisioner.EnsureAll(ctx, i.descriptors, createIndexes)
			i.metrics.CollectionsCreated.Add(float64(res.CollectionsCreated))
			i.metrics.IndexesCreated.Add(float64(res.IndexesCreated))
			return err
		}},
		{name: "ensure settings", run: func(ctx context.Context) error {
			return reconciler.EnsureSettings(ctx, i.store)
		}},
		{name: "reconcile text indexes", run: func(ctx context.Context) error {
			if !createIndexes {
				return nil
			}
			return i.textIndexes.EnsureAll(ctx, i.descriptors)
		}},
		{name: "reconcile TTL indexes", run: func(ctx context.Context) error {
			changed, err := i.ttl.EnsureAll(ctx, i.descriptors)
			for _, collection := range changed {
				i.metrics.TTLUpdates.WithLabelValues(collection).Inc()
			}
			return err
		}},
		{name: "reconcile translations", run: func(ctx context.Context) error {
			report, err := i.translations.ReconcileAll(ctx)
			if report != nil {
				i.metrics.TranslationValues.WithLabelValues("backfilled").Add(float64(report.Backfilled))
				i.metrics.TranslationValues.WithLabelValues("deduplicated").Add(float64(report.Deduplicated))
				i.metrics.TranslationValues.WithLabelValues("pruned").Add(float64(report.Pruned))
				i.metrics.TranslationValues.WithLabelValues("orphaned").Add(float64(report.Orphans))
				i.metrics.TranslationFailures.Add(float64(len(report.Failed)))
			}
			return err
		}},
	}

	ok := true
	for _, s := range steps {
		err := s.run(ctx)
		if err == nil {
			continue
		}

		ok = false
		slog.Error("database initialization step failed", "step", s.name, "error", err)
		if database.IsUnavailable(err) {
			slog.Error("database unavailable, remaining initialization steps skipped", "step", s.name)
			return false
		}
	}
	return ok
}

// Ready reports whether the most recent Initialize succeeded.
func (i *Initializer) Ready() bool {
	return i.ready.Load()
}

// Status returns a snapshot of the initialization state.
func (i *Initializer) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Status{
		Connected:    i.conn.IsConnected(),
		Ready:        i.ready.Load(),
		Runs:         i.runs,
		LastRun:      i.lastRun,
		LastDuration: i.lastDuration,
	}
}

// Start re-runs initialization every interval, without index creation, so
// drift introduced by other deployments sharing the database converges
// without a restart. It blocks until ctx is cancelled.
func (i *Initializer) Start(ctx context.Context, interval time.Duration) {
	slog.Info("database resync started", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("database resync stopped")
			return
		case <-ticker.C:
			i.Initialize(ctx, false)
		}
	}
}
