package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/daap14/bookcars/internal/schema"
)

// Store implements the schema, settings and translation stores on top of
// the Manager's database.
type Store struct {
	manager *Manager
}

// NewStore creates a Store backed by the given Manager.
func NewStore(m *Manager) *Store {
	return &Store{manager: m}
}

func (s *Store) collection(name string) (*mongo.Collection, error) {
	db, err := s.manager.Database()
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// CollectionNames lists the collections of the database.
func (s *Store) CollectionNames(ctx context.Context) ([]string, error) {
	db, err := s.manager.Database()
	if err != nil {
		return nil, err
	}
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return names, nil
}

// CreateCollection creates a collection with an optional validator. A
// collection created concurrently by someone else is not an error.
func (s *Store) CreateCollection(ctx context.Context, name string, validator bson.M) error {
	db, err := s.manager.Database()
	if err != nil {
		return err
	}

	opts := options.CreateCollection()
	if validator != nil {
		opts.SetValidator(validator).
			SetValidationLevel("moderate").
			SetValidationAction("warn")
	}

	if err := db.CreateCollection(ctx, name, opts); err != nil {
		if hasErrorCode(err, codeNamespaceExists) {
			return nil
		}
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// ListIndexes returns the indexes of a collection.
func (s *Store) ListIndexes(ctx context.Context, collection string) ([]schema.IndexInfo, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		if hasErrorCode(err, codeNamespaceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing indexes of %s: %w", collection, err)
	}

	var indexes []schema.IndexInfo
	if err := cursor.All(ctx, &indexes); err != nil {
		return nil, fmt.Errorf("reading indexes of %s: %w", collection, err)
	}
	return indexes, nil
}

// CreateIndexes creates the given indexes.
func (s *Store) CreateIndexes(ctx context.Context, collection string, specs []schema.IndexSpec) error {
	if len(specs) == 0 {
		return nil
	}

	coll, err := s.collection(collection)
	if err != nil {
		return err
	}

	models := make([]mongo.IndexModel, 0, len(specs))
	for _, spec := range specs {
		models = append(models, indexModel(spec))
	}

	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("creating indexes on %s: %w", collection, err)
	}
	return nil
}

// DropIndex drops an index by name. It returns ErrIndexNotFound when the
// index or its collection does not exist.
func (s *Store) DropIndex(ctx context.Context, collection, name string) error {
	coll, err := s.collection(collection)
	if err != nil {
		return err
	}

	if _, err := coll.Indexes().DropOne(ctx, name); err != nil {
		if hasErrorCode(err, codeIndexNotFound) || hasErrorCode(err, codeNamespaceNotFound) {
			return fmt.Errorf("dropping index %s on %s: %w", name, collection, ErrIndexNotFound)
		}
		return fmt.Errorf("dropping index %s on %s: %w", name, collection, err)
	}
	return nil
}

func indexModel(spec schema.IndexSpec) mongo.IndexModel {
	opts := options.Index().SetName(spec.Name)
	if spec.Unique {
		opts.SetUnique(true)
	}
	if spec.Sparse {
		opts.SetSparse(true)
	}
	if spec.ExpireAfterSeconds != nil {
		opts.SetExpireAfterSeconds(*spec.ExpireAfterSeconds)
	}
	if spec.DefaultLanguage != "" {
		opts.SetDefaultLanguage(spec.DefaultLanguage)
	}
	if spec.LanguageOverride != "" {
		opts.SetLanguageOverride(spec.LanguageOverride)
	}
	if len(spec.Weights) > 0 {
		opts.SetWeights(spec.Weights)
	}
	return mongo.IndexModel{Keys: spec.Keys, Options: opts}
}

// EnsureSetting inserts the default settings document when the collection
// holds none. It never modifies an existing document.
func (s *Store) EnsureSetting(ctx context.Context, defaults schema.Setting) (bool, error) {
	coll, err := s.collection(schema.CollSettings)
	if err != nil {
		return false, err
	}

	res, err := coll.UpdateOne(ctx,
		bson.D{},
		bson.D{{Key: "$setOnInsert", Value: defaults}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("upserting settings: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

// ListEntities returns the id and value references of every document in a
// translatable collection.
func (s *Store) ListEntities(ctx context.Context, collection string) ([]schema.TranslatableEntity, error) {
	return s.findEntities(ctx, collection, bson.D{})
}

// FindEntitiesReferencing returns documents of a translatable collection that
// reference any of the given values.
func (s *Store) FindEntitiesReferencing(ctx context.Context, collection string, valueIDs []primitive.ObjectID) ([]schema.TranslatableEntity, error) {
	return s.findEntities(ctx, collection, bson.D{{Key: "values", Value: bson.D{{Key: "$in", Value: valueIDs}}}})
}

func (s *Store) findEntities(ctx context.Context, collection string, filter bson.D) ([]schema.TranslatableEntity, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	cursor, err := coll.Find(ctx, filter, options.Find().SetProjection(bson.D{{Key: "values", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	var entities []schema.TranslatableEntity
	if err := cursor.All(ctx, &entities); err != nil {
		return nil, fmt.Errorf("reading %s: %w", collection, err)
	}
	return entities, nil
}

// FindValues returns the values with the given ids. Missing ids are ignored.
func (s *Store) FindValues(ctx context.Context, ids []primitive.ObjectID) ([]schema.LocationValue, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	coll, err := s.collection(schema.CollLocationValues)
	if err != nil {
		return nil, err
	}

	cursor, err := coll.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return nil, fmt.Errorf("querying values: %w", err)
	}

	var values []schema.LocationValue
	if err := cursor.All(ctx, &values); err != nil {
		return nil, fmt.Errorf("reading values: %w", err)
	}
	return values, nil
}

// InsertValue stores a new value, assigning its id when unset.
func (s *Store) InsertValue(ctx context.Context, v *schema.LocationValue) error {
	coll, err := s.collection(schema.CollLocationValues)
	if err != nil {
		return err
	}

	if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	if _, err := coll.InsertOne(ctx, v); err != nil {
		return fmt.Errorf("inserting %s value: %w", v.Language, err)
	}
	return nil
}

// PushValue appends a value reference to a document.
func (s *Store) PushValue(ctx context.Context, collection string, entityID, valueID primitive.ObjectID) error {
	return s.updateEntity(ctx, collection, entityID, bson.D{{Key: "$push", Value: bson.D{{Key: "values", Value: valueID}}}})
}

// PullValues removes value references from a document.
func (s *Store) PullValues(ctx context.Context, collection string, entityID primitive.ObjectID, valueIDs []primitive.ObjectID) error {
	return s.updateEntity(ctx, collection, entityID, bson.D{{Key: "$pull", Value: bson.D{
		{Key: "values", Value: bson.D{{Key: "$in", Value: valueIDs}}},
	}}})
}

// ReplaceValues sets a document's value references to replacement, provided
// they still equal current. It returns ErrValuesChanged otherwise.
func (s *Store) ReplaceValues(ctx context.Context, collection string, entityID primitive.ObjectID, current, replacement []primitive.ObjectID) error {
	coll, err := s.collection(collection)
	if err != nil {
		return err
	}

	res, err := coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: entityID}, {Key: "values", Value: current}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "values", Value: replacement}}}},
	)
	if err != nil {
		return fmt.Errorf("updating %s %s: %w", collection, entityID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("updating %s %s: %w", collection, entityID.Hex(), ErrValuesChanged)
	}
	return nil
}

func (s *Store) updateEntity(ctx context.Context, collection string, entityID primitive.ObjectID, update bson.D) error {
	coll, err := s.collection(collection)
	if err != nil {
		return err
	}

	res, err := coll.UpdateByID(ctx, entityID, update)
	if err != nil {
		return fmt.Errorf("updating %s %s: %w", collection, entityID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("updating %s %s: %w", collection, entityID.Hex(), mongo.ErrNoDocuments)
	}
	return nil
}

// FindValueIDsNotIn returns up to limit ids of values whose language is not
// one of languages, leaving out the ids in exclude.
func (s *Store) FindValueIDsNotIn(ctx context.Context, languages []string, exclude []primitive.ObjectID, limit int) ([]primitive.ObjectID, error) {
	filter := bson.D{{Key: "language", Value: bson.D{{Key: "$nin", Value: languages}}}}
	if len(exclude) > 0 {
		filter = append(filter, bson.E{Key: "_id", Value: bson.D{{Key: "$nin", Value: exclude}}})
	}
	return s.findValueIDs(ctx, filter, limit)
}

// ScanValueIDs returns up to limit value ids in the open range (after,
// before), in id order.
func (s *Store) ScanValueIDs(ctx context.Context, after, before primitive.ObjectID, limit int) ([]primitive.ObjectID, error) {
	return s.findValueIDs(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: after}, {Key: "$lt", Value: before}}}},
		limit,
	)
}

func (s *Store) findValueIDs(ctx context.Context, filter bson.D, limit int) ([]primitive.ObjectID, error) {
	coll, err := s.collection(schema.CollLocationValues)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetProjection(bson.D{{Key: "_id", Value: 1}}).
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying value ids: %w", err)
	}

	var docs []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reading value ids: %w", err)
	}

	ids := make([]primitive.ObjectID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// DeleteValues deletes the values with the given ids.
func (s *Store) DeleteValues(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	coll, err := s.collection(schema.CollLocationValues)
	if err != nil {
		return 0, err
	}

	res, err := coll.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return 0, fmt.Errorf("deleting values: %w", err)
	}
	return res.DeletedCount, nil
}
