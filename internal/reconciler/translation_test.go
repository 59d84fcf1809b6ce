package reconciler_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/daap14/bookcars/internal/database"
	"github.com/daap14/bookcars/internal/database/memstore"
	"github.com/daap14/bookcars/internal/reconciler"
	"github.com/daap14/bookcars/internal/schema"
)

func translationOpts(languages ...string) reconciler.TranslationOptions {
	return reconciler.TranslationOptions{Languages: languages, SourceLanguage: "en"}
}

// languagesOf returns the language of every value an entity references, in
// reference order.
func languagesOf(t *testing.T, store *memstore.Store, collection string, id primitive.ObjectID) []string {
	t.Helper()
	e, ok := store.Entity(collection, id)
	require.True(t, ok, "entity %s/%s not found", collection, id.Hex())

	langs := make([]string, 0, len(e.Values))
	for _, vid := range e.Values {
		v, ok := store.Value(vid)
		require.True(t, ok, "entity references missing value %s", vid.Hex())
		langs = append(langs, v.Language)
	}
	return langs
}

func valueFor(t *testing.T, store *memstore.Store, collection string, id primitive.ObjectID, language string) string {
	t.Helper()
	e, ok := store.Entity(collection, id)
	require.True(t, ok)
	for _, vid := range e.Values {
		if v, ok := store.Value(vid); ok && v.Language == language {
			return v.Value
		}
	}
	t.Fatalf("no %s value on %s/%s", language, collection, id.Hex())
	return ""
}

func TestReconcileAll_AddsLanguageAndRemovesUnsupported(t *testing.T) {
	// Arrange: a location with en and de values; supported languages are now en and fr.
	store := memstore.New()
	en := store.AddValue("en", "Paris")
	de := store.AddValue("de", "Paris (de)")
	loc := store.AddEntity(schema.CollLocations, en, de)
	r := reconciler.NewTranslationReconciler(store, translationOpts("en", "fr"))

	// Act
	report, err := r.ReconcileAll(context.Background())

	// Assert
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"en", "fr"}, languagesOf(t, store, schema.CollLocations, loc))
	assert.Equal(t, "Paris", valueFor(t, store, schema.CollLocations, loc, "fr"))
	_, ok := store.Value(de)
	assert.False(t, ok, "unsupported value must be deleted")
	assert.Zero(t, store.ValueCount("de"))
	assert.Equal(t, 1, report.Backfilled)
	assert.Equal(t, int64(1), report.Pruned)
	assert.Empty(t, report.Failed)
}

func TestReconcileAll_CompletesEveryTranslatableCollection(t *testing.T) {
	store := memstore.New()
	loc := store.AddEntity(schema.CollLocations, store.AddValue("en", "Lyon"))
	country := store.AddEntity(schema.CollCountries, store.AddValue("en", "France"), store.AddValue("fr", "France"))
	spot := store.AddEntity(schema.CollParkingSpots, store.AddValue("en", "Gate 4"))
	r := reconciler.NewTranslationReconciler(store, translationOpts("en", "fr", "es"))

	report, err := r.ReconcileAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5, report.Backfilled)
	for _, tc := range []struct {
		collection string
		id         primitive.ObjectID
	}{
		{schema.CollLocations, loc},
		{schema.CollCountries, country},
		{schema.CollParkingSpots, spot},
	} {
		assert.ElementsMatch(t, []string{"en", "fr", "es"}, languagesOf(t, store, tc.collection, tc.id), tc.collection)
	}
	assert.Equal(t, "Gate 4", valueFor(t, store, schema.CollParkingSpots, spot, "es"))
}

func TestReconcileAll_SkipsEntityWithoutSourceValue(t *testing.T) {
	store := memstore.New()
	fr := store.AddValue("fr", "Marseille")
	loc := store.AddEntity(schema.CollLocations, fr)
	r := reconciler.NewTranslationReconciler(store, translationOpts("en", "fr"))

	report, err := r.ReconcileAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"fr"}, languagesOf(t, store, schema.CollLocations, loc))
	assert.Equal(t, []reconciler.EntityRef{{Collection: schema.CollLocations, ID: loc}}, report.Skipped)
	assert.Zero(t, store.Counters().ValuesInserted)
}

func TestReconcileAll_PrunesInBatches(t *testing.T) {
	// Arrange: 1001 values in a dropped language and a batch size of 1000.
	store := memstore.New()
	ids := make([]primitive.ObjectID, 0, 1001)
	for i := 0; i < 1001; i++ {
		ids = append(ids, store.AddValue("de", "x"))
	}
	en := store.AddValue("en", "Berlin")
	loc := store.AddEntity(schema.CollLocations, append([]primitive.ObjectID{en}, ids[:10]...)...)
	r := reconciler.NewTranslationReconciler(store, reconciler.TranslationOptions{
		Languages:      []string{"en"},
		SourceLanguage: "en",
		BatchSize:      1000,
	})

	// Act
	report, err := r.ReconcileAll(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(1001), report.Pruned)
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 2, store.Counters().DeleteBatches)
	assert.Zero(t, store.ValueCount("de"))
	assert.Equal(t, []string{"en"}, languagesOf(t, store, schema.CollLocations, loc))
}

func TestReconcileAll_DetachesDuplicateLanguageValues(t *testing.T) {
	store := memstore.New()
	first := store.AddValue("en", "Nice")
	dup := store.AddValue("en", "Nice airport")
	fr := store.AddValue("fr", "Nice")
	loc := store.AddEntity(schema.CollLocations, first, dup, fr)
	r := reconciler.NewTranslationReconciler(store, translationOpts("en", "fr"))

	report, err := r.ReconcileAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Deduplicated)
	assert.Equal(t, int64(1), report.Orphans)
	e, _ := store.Entity(schema.CollLocations, loc)
	assert.Equal(t, []primitive.ObjectID{first, fr}, e.Values)
	_, ok := store.Value(dup)
	assert.False(t, ok)
}

func TestReconcileAll_CollapsesRepeatedReference(t *testing.T) {
	// Arrange: the same en value is referenced twice.
	store := memstore.New()
	en := store.AddValue("en", "Biarritz")
	fr := store.AddValue("fr", "Biarritz")
	loc := store.AddEntity(schema.CollLocations, en, en, fr)
	r := reconciler.NewTranslationReconciler(store, translationOpts("en", "fr"))

	// Act
	report, err := r.ReconcileAll(context.Background())

	// Assert
	require.NoError(t, err)
	e, _ := store.Entity(schema.CollLocations, loc)
	assert.Equal(t, []primitive.ObjectID{en, fr}, e.Values)
	_, ok := store.Value(en)
	assert.True(t, ok, "the referenced value must survive")
	assert.Equal(t, 1, report.Deduplicated)
	assert.Zero(t, report.Orphans)
	assert.Zero(t, report.Backfilled)
}

func TestReconcileAll_DeduplicationLosesRaceWithWriter(t *testing.T) {
	store := memstore.New()
	first := store.AddValue("en", "Nice")
	dup := store.AddValue("en", "Nice airport")
	loc := store.AddEntity(schema.CollLocations, first, dup)
	store.SetHook(func(op, target string) error {
		if op == memstore.OpReplaceValues && target == loc.Hex() {
			return database.ErrValuesChanged
		}
		return nil
	})
	r := reconciler.NewTranslationReconciler(store, translationOpts("en", "fr"))

	report, err := r.ReconcileAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []reconciler.EntityRef{{Collection: schema.CollLocations, ID: loc}}, report.Failed)
	assert.Zero(t, report.Deduplicated)
	assert.Equal(t, []string{"en", "en", "fr"}, languagesOf(t, store, schema.CollLocations, loc))
	_, ok := store.Value(dup)
	assert.True(t, ok, "a value still referenced is never deleted")
}

func TestReconcileAll_EntityFailureDoesNotStopPass(t *testing.T) {
	// Arrange: attaching values to one location fails.
	store := memstore.New()
	broken := store.AddEntity(schema.CollLocations, store.AddValue("en", "Nantes"))
	healthy := store.AddEntity(schema.CollLocations, store.AddValue("en", "Lille"))
	store.SetHook(func(op, target string) error {
		if op == memstore.OpPushValue && target == broken.Hex() {
			return errors.New("document failed validation")
		}
		return nil
	})
	r := reconciler.NewTranslationReconciler(store, translationOpts("en", "fr", "es"))

	// Act
	report, err := r.ReconcileAll(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []reconciler.EntityRef{{Collection: schema.CollLocations, ID: broken}}, report.Failed)
	assert.ElementsMatch(t, []string{"en", "fr", "es"}, languagesOf(t, store, schema.CollLocations, healthy))
	assert.Equal(t, []string{"en"}, languagesOf(t, store, schema.CollLocations, broken))
	// The values inserted for the broken entity were never attached, and are
	// too recent to be deleted as orphans by this pass.
	assert.Zero(t, report.Orphans)
	assert.Equal(t, 6, store.ValueCount(""))
}

func TestReconcileAll_Idempotent(t *testing.T) {
	store := memstore.New()
	store.AddEntity(schema.CollLocations, store.AddValue("en", "Rennes"), store.AddValue("it", "Rennes"))
	store.AddEntity(schema.CollCountries, store.AddValue("en", "Spain"))
	r := reconciler.NewTranslationReconciler(store, translationOpts("en", "fr"))

	_, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)
	store.ResetCounters()

	report, err := r.ReconcileAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, &reconciler.TranslationReport{}, report)
	assert.Equal(t, memstore.Counters{}, store.Counters())
}

func TestReconcileAll_DeletesOrphanValues(t *testing.T) {
	store := memstore.New()
	orphan := store.AddValue("en", "Nowhere")
	en := store.AddValue("en", "Toulouse")
	store.AddEntity(schema.CollLocations, en)
	r := reconciler.NewTranslationReconciler(store, translationOpts("en"))

	report, err := r.ReconcileAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Orphans)
	_, ok := store.Value(orphan)
	assert.False(t, ok)
	_, ok = store.Value(en)
	assert.True(t, ok)
}

// racingStore runs onScan once, just before the first orphan scan, to stand
// in for writers active during the pass.
type racingStore struct {
	*memstore.Store
	once   sync.Once
	onScan func()
}

func (s *racingStore) ScanValueIDs(ctx context.Context, after, before primitive.ObjectID, limit int) ([]primitive.ObjectID, error) {
	s.once.Do(s.onScan)
	return s.Store.ScanValueIDs(ctx, after, before, limit)
}

func TestReconcileAll_KeepsValuesWrittenDuringOrphanScan(t *testing.T) {
	// Arrange: once the referenced ids are collected, one writer attaches an
	// existing value to a new location and another stores a value whose
	// location is not written yet.
	store := memstore.New()
	store.AddEntity(schema.CollLocations, store.AddValue("en", "Paris"))

	var attached, pending primitive.ObjectID
	racing := &racingStore{Store: store, onScan: func() {
		attached = store.AddValue("en", "Nice")
		store.AddEntity(schema.CollLocations, attached)

		v := &schema.LocationValue{Language: "en", Value: "Cannes"}
		require.NoError(t, store.InsertValue(context.Background(), v))
		pending = v.ID
	}}
	r := reconciler.NewTranslationReconciler(racing, translationOpts("en"))

	// Act
	report, err := r.ReconcileAll(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Zero(t, report.Orphans)
	_, ok := store.Value(attached)
	assert.True(t, ok, "a value referenced before deletion must survive")
	_, ok = store.Value(pending)
	assert.True(t, ok, "a value younger than the grace period must survive")
}

func TestReconcileAll_KeepsUnsupportedValueWhenDetachFails(t *testing.T) {
	// Arrange: a location cannot be updated, so its de value stays referenced.
	store := memstore.New()
	de := store.AddValue("de", "Lyon")
	stuck := store.AddEntity(schema.CollLocations, store.AddValue("en", "Lyon"), de)
	unreferenced := store.AddValue("de", "Ulm")
	store.SetHook(func(op, target string) error {
		if op == memstore.OpPullValues && target == stuck.Hex() {
			return errors.New("document failed validation")
		}
		return nil
	})
	r := reconciler.NewTranslationReconciler(store, translationOpts("en"))

	// Act
	report, err := r.ReconcileAll(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []reconciler.EntityRef{{Collection: schema.CollLocations, ID: stuck}}, report.Failed)
	assert.Equal(t, 1, report.Retained)
	assert.Equal(t, int64(1), report.Pruned)
	_, ok := store.Value(de)
	assert.True(t, ok, "a value still referenced is never deleted")
	_, ok = store.Value(unreferenced)
	assert.False(t, ok)
	assert.Equal(t, []string{"en", "de"}, languagesOf(t, store, schema.CollLocations, stuck))
}

func TestReconcileAll_ListEntitiesFailure(t *testing.T) {
	store := memstore.New()
	store.AddEntity(schema.CollLocations, store.AddValue("en", "Paris"))
	errBoom := errors.New("cursor killed")
	store.SetHook(func(op, target string) error {
		if op == memstore.OpListEntities && target == schema.CollCountries {
			return errBoom
		}
		return nil
	})
	r := reconciler.NewTranslationReconciler(store, translationOpts("en", "fr"))

	report, err := r.ReconcileAll(context.Background())

	assert.ErrorIs(t, err, errBoom)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Backfilled, "collections before the failure are still reconciled")
}

func TestReconcileAll_Disconnected(t *testing.T) {
	store := memstore.New()
	store.AddEntity(schema.CollLocations, store.AddValue("en", "Paris"))
	store.Disconnect()
	r := reconciler.NewTranslationReconciler(store, translationOpts("en", "fr"))

	_, err := r.ReconcileAll(context.Background())

	assert.ErrorIs(t, err, database.ErrNotConnected)
	assert.True(t, database.IsUnavailable(err))
}

func TestReconcileAll_UnavailableDuringBackfillIsFatal(t *testing.T) {
	store := memstore.New()
	store.AddEntity(schema.CollLocations, store.AddValue("en", "Paris"))
	store.SetHook(func(op, _ string) error {
		if op == memstore.OpInsertValue {
			return database.ErrNotConnected
		}
		return nil
	})
	r := reconciler.NewTranslationReconciler(store, translationOpts("en", "fr"))

	report, err := r.ReconcileAll(context.Background())

	assert.ErrorIs(t, err, database.ErrNotConnected)
	assert.Empty(t, report.Failed)
}

func TestEntityRef_String(t *testing.T) {
	id := primitive.NewObjectID()
	ref := reconciler.EntityRef{Collection: schema.CollCountries, ID: id}

	assert.Equal(t, "countries/"+id.Hex(), ref.String())
}
