package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/daap14/bookcars/internal/database"
	"github.com/daap14/bookcars/internal/schema"
)

// TTLReconciler keeps expiry indexes in line with the configured durations.
type TTLReconciler struct {
	store SchemaStore
}

// NewTTLReconciler creates a new TTLReconciler.
func NewTTLReconciler(store SchemaStore) *TTLReconciler {
	return &TTLReconciler{store: store}
}

// CheckAndUpdateTTL creates the TTL index when missing and replaces it when
// its expireAfterSeconds differs from spec.Seconds. It reports whether the
// index was created or replaced.
//
// Replacement drops then recreates; documents are not expired between the
// two steps.
func (r *TTLReconciler) CheckAndUpdateTTL(ctx context.Context, collection string, spec schema.TTLSpec) (bool, error) {
	indexes, err := r.store.ListIndexes(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("checking TTL index %s on %s: %w", spec.IndexName, collection, err)
	}

	current, ok := findIndex(indexes, spec.IndexName)
	switch {
	case !ok:
		slog.Info("creating TTL index",
			"collection", collection,
			"index", spec.IndexName,
			"expireAfterSeconds", spec.Seconds,
		)

	case current.ExpireAfterSeconds != nil && *current.ExpireAfterSeconds == spec.Seconds:
		return false, nil

	default:
		var previous any = "none"
		if current.ExpireAfterSeconds != nil {
			previous = *current.ExpireAfterSeconds
		}
		slog.Info("updating TTL index",
			"collection", collection,
			"index", spec.IndexName,
			"from", previous,
			"to", spec.Seconds,
		)

		if err := r.store.DropIndex(ctx, collection, spec.IndexName); err != nil {
			if !errors.Is(err, database.ErrIndexNotFound) {
				slog.Error("dropping TTL index failed", "collection", collection, "index", spec.IndexName, "error", err)
				return false, err
			}
			slog.Warn("TTL index already dropped", "collection", collection, "index", spec.IndexName)
		}
	}

	if err := r.store.CreateIndexes(ctx, collection, []schema.IndexSpec{spec.Index()}); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureAll reconciles the TTL index of every descriptor that declares one,
// concurrently. It returns the collections whose index changed.
func (r *TTLReconciler) EnsureAll(ctx context.Context, descriptors []schema.CollectionDescriptor) ([]string, error) {
	var (
		mu      sync.Mutex
		changed []string
		errs    error
	)

	g := new(errgroup.Group)
	g.SetLimit(defaultConcurrency)

	for _, d := range descriptors {
		d := d
		if d.TTL == nil {
			continue
		}
		g.Go(func() error {
			updated, err := r.CheckAndUpdateTTL(ctx, d.Name, *d.TTL)

			mu.Lock()
			defer mu.Unlock()
			if updated {
				changed = append(changed, d.Name)
			}
			if err != nil {
				slog.Error("TTL reconciliation failed", "collection", d.Name, "index", d.TTL.IndexName, "error", err)
				errs = multierr.Append(errs, err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return changed, errs
}
