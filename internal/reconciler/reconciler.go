// Package reconciler converges the database towards the declared schema:
// collections and their indexes, TTL and text indexes, the settings document
// and the per-language values of locations, countries and parking spots.
//
// Every reconciler is idempotent so a failed startup can simply be re-run.
package reconciler

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/daap14/bookcars/internal/schema"
)

// defaultConcurrency bounds the per-collection fan-out.
const defaultConcurrency = 8

// SchemaStore manages collections and indexes.
type SchemaStore interface {
	CollectionNames(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string, validator bson.M) error
	ListIndexes(ctx context.Context, collection string) ([]schema.IndexInfo, error)
	CreateIndexes(ctx context.Context, collection string, specs []schema.IndexSpec) error
	DropIndex(ctx context.Context, collection, name string) error
}

// SettingStore manages the settings document.
type SettingStore interface {
	EnsureSetting(ctx context.Context, defaults schema.Setting) (bool, error)
}

// TranslationStore reads and writes LocationValue rows and the references
// translatable documents hold to them.
type TranslationStore interface {
	ListEntities(ctx context.Context, collection string) ([]schema.TranslatableEntity, error)
	FindEntitiesReferencing(ctx context.Context, collection string, valueIDs []primitive.ObjectID) ([]schema.TranslatableEntity, error)
	FindValues(ctx context.Context, ids []primitive.ObjectID) ([]schema.LocationValue, error)
	InsertValue(ctx context.Context, v *schema.LocationValue) error
	PushValue(ctx context.Context, collection string, entityID, valueID primitive.ObjectID) error
	PullValues(ctx context.Context, collection string, entityID primitive.ObjectID, valueIDs []primitive.ObjectID) error
	ReplaceValues(ctx context.Context, collection string, entityID primitive.ObjectID, current, replacement []primitive.ObjectID) error
	FindValueIDsNotIn(ctx context.Context, languages []string, exclude []primitive.ObjectID, limit int) ([]primitive.ObjectID, error)
	ScanValueIDs(ctx context.Context, after, before primitive.ObjectID, limit int) ([]primitive.ObjectID, error)
	DeleteValues(ctx context.Context, ids []primitive.ObjectID) (int64, error)
}

func findIndex(indexes []schema.IndexInfo, name string) (schema.IndexInfo, bool) {
	for _, idx := range indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return schema.IndexInfo{}, false
}
