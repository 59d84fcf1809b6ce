package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/daap14/bookcars/internal/database"
	"github.com/daap14/bookcars/internal/schema"
)

// TextIndexReconciler keeps language-neutral full-text indexes in place.
type TextIndexReconciler struct {
	store SchemaStore
}

// NewTextIndexReconciler creates a new TextIndexReconciler.
func NewTextIndexReconciler(store SchemaStore) *TextIndexReconciler {
	return &TextIndexReconciler{store: store}
}

// EnsureTextIndex creates the text index when missing and recreates it when
// its language options drifted. A failing creation is logged and ignored,
// since servers without text search must still start.
func (r *TextIndexReconciler) EnsureTextIndex(ctx context.Context, collection string, spec schema.TextIndexSpec) error {
	indexes, err := r.store.ListIndexes(ctx, collection)
	if err != nil {
		return fmt.Errorf("checking text index %s on %s: %w", spec.IndexName, collection, err)
	}

	if current, ok := findIndex(indexes, spec.IndexName); ok {
		if spec.Matches(current) {
			return nil
		}

		slog.Info("recreating text index with new options",
			"collection", collection,
			"index", spec.IndexName,
			"defaultLanguage", current.DefaultLanguage,
			"languageOverride", current.LanguageOverride,
		)
		if err := r.store.DropIndex(ctx, collection, spec.IndexName); err != nil && !errors.Is(err, database.ErrIndexNotFound) {
			return err
		}
	}

	if err := r.store.CreateIndexes(ctx, collection, []schema.IndexSpec{spec.Index()}); err != nil {
		if database.IsUnavailable(err) {
			return err
		}
		slog.Warn("text index could not be created; search falls back to regular queries",
			"collection", collection,
			"index", spec.IndexName,
			"error", err,
		)
		return nil
	}

	slog.Info("text index created", "collection", collection, "index", spec.IndexName)
	return nil
}

// EnsureAll reconciles the text index of every descriptor that declares one.
func (r *TextIndexReconciler) EnsureAll(ctx context.Context, descriptors []schema.CollectionDescriptor) error {
	var errs error
	for _, d := range descriptors {
		if d.Text == nil {
			continue
		}
		if err := r.EnsureTextIndex(ctx, d.Name, *d.Text); err != nil {
			slog.Error("text index reconciliation failed", "collection", d.Name, "index", d.Text.IndexName, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
