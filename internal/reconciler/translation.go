package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/daap14/bookcars/internal/database"
	"github.com/daap14/bookcars/internal/schema"
)

// DefaultBatchSize bounds how many values are pruned per query and delete.
const DefaultBatchSize = 1000

// DefaultOrphanGrace is how old an unreferenced value must be before it is
// deleted. Writers insert a value before the document referencing it.
const DefaultOrphanGrace = 10 * time.Minute

// TranslationOptions configures a TranslationReconciler.
type TranslationOptions struct {
	// Languages are the supported language codes.
	Languages []string
	// SourceLanguage is the language missing values are copied from.
	SourceLanguage string
	// BatchSize defaults to DefaultBatchSize when zero.
	BatchSize int
	// Collections default to schema.TranslatableCollections when empty.
	Collections []string
	// OrphanGrace defaults to DefaultOrphanGrace when zero.
	OrphanGrace time.Duration
}

// EntityRef identifies one document of a translatable collection.
type EntityRef struct {
	Collection string
	ID         primitive.ObjectID
}

func (e EntityRef) String() string {
	return e.Collection + "/" + e.ID.Hex()
}

// TranslationReport summarises a reconciliation pass.
type TranslationReport struct {
	Backfilled   int
	Deduplicated int
	Pruned       int64
	Orphans      int64
	Batches      int
	// Retained values are in an unsupported language but stay referenced by
	// a document that could not be detached from them.
	Retained int
	// Skipped have no value in the source language.
	Skipped []EntityRef
	// Failed could not be fully reconciled; the pass went on without them.
	Failed []EntityRef
}

func (r *TranslationReport) fail(ref EntityRef, op string, err error) {
	slog.Error("translation reconciliation failed for entity",
		"collection", ref.Collection,
		"id", ref.ID.Hex(),
		"operation", op,
		"error", err,
	)
	if !slices.Contains(r.Failed, ref) {
		r.Failed = append(r.Failed, ref)
	}
}

// TranslationReconciler guarantees that every translatable document with a
// source-language value has exactly one value per supported language.
type TranslationReconciler struct {
	store TranslationStore
	opts  TranslationOptions
}

// NewTranslationReconciler creates a new TranslationReconciler.
func NewTranslationReconciler(store TranslationStore, opts TranslationOptions) *TranslationReconciler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if len(opts.Collections) == 0 {
		opts.Collections = schema.TranslatableCollections
	}
	if opts.OrphanGrace <= 0 {
		opts.OrphanGrace = DefaultOrphanGrace
	}
	return &TranslationReconciler{store: store, opts: opts}
}

// ReconcileAll backfills every collection, then prunes values in unsupported
// languages and values no document references. Per-document failures are
// recorded in the report; an error is returned only when the pass could not
// run to completion.
func (r *TranslationReconciler) ReconcileAll(ctx context.Context) (*TranslationReport, error) {
	report := &TranslationReport{}

	for _, collection := range r.opts.Collections {
		if err := r.backfill(ctx, collection, report); err != nil {
			return report, fmt.Errorf("backfilling %s: %w", collection, err)
		}
	}

	if err := r.prune(ctx, report); err != nil {
		return report, fmt.Errorf("pruning unsupported languages: %w", err)
	}

	if err := r.pruneOrphans(ctx, report); err != nil {
		return report, fmt.Errorf("pruning orphan values: %w", err)
	}

	slog.Info("translations reconciled",
		"backfilled", report.Backfilled,
		"deduplicated", report.Deduplicated,
		"pruned", report.Pruned,
		"orphans", report.Orphans,
		"retained", report.Retained,
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)
	return report, nil
}

func (r *TranslationReconciler) backfill(ctx context.Context, collection string, report *TranslationReport) error {
	entities, err := r.store.ListEntities(ctx, collection)
	if err != nil {
		return err
	}

	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.backfillEntity(ctx, EntityRef{Collection: collection, ID: entity.ID}, entity.Values, report); err != nil {
			return err
		}
	}
	return nil
}

// backfillEntity returns an error only when the database became unavailable.
func (r *TranslationReconciler) backfillEntity(ctx context.Context, ref EntityRef, valueIDs []primitive.ObjectID, report *TranslationReport) error {
	values, err := r.store.FindValues(ctx, valueIDs)
	if err != nil {
		if database.IsUnavailable(err) {
			return err
		}
		report.fail(ref, "find values", err)
		return nil
	}

	// Follow the document's reference order so the first value of a
	// language is the one kept.
	byID := make(map[primitive.ObjectID]schema.LocationValue, len(values))
	for _, v := range values {
		byID[v.ID] = v
	}

	// kept drops repeated references to one id and every value of a
	// language after the first.
	var (
		source  *schema.LocationValue
		present = map[string]bool{}
		seen    = map[primitive.ObjectID]bool{}
		kept    = make([]primitive.ObjectID, 0, len(valueIDs))
	)
	for _, id := range valueIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		v, ok := byID[id]
		if !ok {
			kept = append(kept, id)
			continue
		}
		if present[v.Language] {
			continue
		}
		present[v.Language] = true
		kept = append(kept, id)
		if v.Language == r.opts.SourceLanguage {
			source = &v
		}
	}

	if source == nil {
		slog.Info("no source language value, skipping backfill",
			"collection", ref.Collection,
			"id", ref.ID.Hex(),
			"language", r.opts.SourceLanguage,
		)
		report.Skipped = append(report.Skipped, ref)
		return nil
	}

	if removed := len(valueIDs) - len(kept); removed > 0 {
		// Values no longer referenced are deleted by the orphan pass.
		if err := r.store.ReplaceValues(ctx, ref.Collection, ref.ID, valueIDs, kept); err != nil {
			if database.IsUnavailable(err) {
				return err
			}
			report.fail(ref, "detach duplicates", err)
		} else {
			report.Deduplicated += removed
		}
	}

	for _, lang := range r.opts.Languages {
		if present[lang] {
			continue
		}

		v := &schema.LocationValue{Language: lang, Value: source.Value}
		if err := r.store.InsertValue(ctx, v); err != nil {
			if database.IsUnavailable(err) {
				return err
			}
			report.fail(ref, "insert value", err)
			continue
		}

		if err := r.store.PushValue(ctx, ref.Collection, ref.ID, v.ID); err != nil {
			if database.IsUnavailable(err) {
				return err
			}
			report.fail(ref, "attach value", err)
			continue
		}

		report.Backfilled++
	}
	return nil
}

// prune deletes values whose language is no longer supported, one batch at
// a time, after detaching them from every document referencing them. Values
// still referenced by a document that failed to detach are left in place.
func (r *TranslationReconciler) prune(ctx context.Context, report *TranslationReport) error {
	var retained []primitive.ObjectID
	defer func() {
		report.Retained = len(retained)
		if len(retained) > 0 {
			slog.Warn("unsupported language values kept while still referenced", "count", len(retained))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ids, err := r.store.FindValueIDsNotIn(ctx, r.opts.Languages, retained, r.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		failed, err := r.detach(ctx, ids, report)
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			retained = append(retained, failed...)
			ids = slices.DeleteFunc(ids, func(id primitive.ObjectID) bool { return slices.Contains(failed, id) })
			if len(ids) == 0 {
				continue
			}
		}

		deleted, err := r.store.DeleteValues(ctx, ids)
		if err != nil {
			return err
		}
		report.Pruned += deleted
		report.Batches++
		slog.Info("pruned unsupported language values", "batch", report.Batches, "deleted", deleted)

		if deleted == 0 {
			// Nothing was removed, so the next query would return the same ids.
			return fmt.Errorf("batch of %d values could not be deleted", len(ids))
		}
	}
}

// detach pulls ids from every document referencing them. It returns the ids
// a document still references because its update failed.
func (r *TranslationReconciler) detach(ctx context.Context, ids []primitive.ObjectID, report *TranslationReport) ([]primitive.ObjectID, error) {
	var failed []primitive.ObjectID
	for _, collection := range r.opts.Collections {
		entities, err := r.store.FindEntitiesReferencing(ctx, collection, ids)
		if err != nil {
			return nil, err
		}

		for _, entity := range entities {
			ref := EntityRef{Collection: collection, ID: entity.ID}
			referenced := slices.DeleteFunc(slices.Clone(entity.Values), func(id primitive.ObjectID) bool {
				return !slices.Contains(ids, id)
			})
			if err := r.store.PullValues(ctx, collection, entity.ID, referenced); err != nil {
				if database.IsUnavailable(err) {
					return nil, err
				}
				report.fail(ref, "detach unsupported values", err)
				for _, id := range referenced {
					if !slices.Contains(failed, id) {
						failed = append(failed, id)
					}
				}
			}
		}
	}
	return failed, nil
}

// pruneOrphans deletes values that no translatable document references.
// Only values created before the grace period are considered, and each
// candidate batch is checked again just before it is deleted, so a value
// whose document is being written concurrently survives.
func (r *TranslationReconciler) pruneOrphans(ctx context.Context, report *TranslationReport) error {
	cutoff := primitive.NewObjectIDFromTimestamp(time.Now().Add(-r.opts.OrphanGrace))

	referenced := map[primitive.ObjectID]struct{}{}
	for _, collection := range r.opts.Collections {
		entities, err := r.store.ListEntities(ctx, collection)
		if err != nil {
			return err
		}
		for _, e := range entities {
			for _, id := range e.Values {
				referenced[id] = struct{}{}
			}
		}
	}

	after := primitive.NilObjectID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ids, err := r.store.ScanValueIDs(ctx, after, cutoff, r.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		after = ids[len(ids)-1]

		var orphans []primitive.ObjectID
		for _, id := range ids {
			if _, ok := referenced[id]; !ok {
				orphans = append(orphans, id)
			}
		}
		if len(orphans) == 0 {
			continue
		}

		orphans, err = r.unreferenced(ctx, orphans)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			continue
		}

		deleted, err := r.store.DeleteValues(ctx, orphans)
		if err != nil {
			return err
		}
		report.Orphans += deleted
		slog.Info("pruned orphan values", "deleted", deleted)
	}
}

// unreferenced returns the ids no document references at the time of the call.
func (r *TranslationReconciler) unreferenced(ctx context.Context, ids []primitive.ObjectID) ([]primitive.ObjectID, error) {
	for _, collection := range r.opts.Collections {
		entities, err := r.store.FindEntitiesReferencing(ctx, collection, ids)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			ids = slices.DeleteFunc(ids, func(id primitive.ObjectID) bool { return slices.Contains(e.Values, id) })
		}
		if len(ids) == 0 {
			break
		}
	}
	return ids, nil
}
