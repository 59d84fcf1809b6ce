// Package memstore is an in-memory stand-in for database.Store, used to test
// the reconcilers without a MongoDB server. It mimics the server behaviours
// the reconcilers depend on: implicit _id_ indexes, index option conflicts,
// not-found errors on drop and ErrNotConnected while disconnected.
package memstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/daap14/bookcars/internal/database"
	"github.com/daap14/bookcars/internal/schema"
)

// Operation names passed to the failure hook.
const (
	OpCollectionNames   = "CollectionNames"
	OpCreateCollection  = "CreateCollection"
	OpListIndexes       = "ListIndexes"
	OpCreateIndexes     = "CreateIndexes"
	OpDropIndex         = "DropIndex"
	OpEnsureSetting     = "EnsureSetting"
	OpListEntities      = "ListEntities"
	OpFindReferencing   = "FindEntitiesReferencing"
	OpFindValues        = "FindValues"
	OpInsertValue       = "InsertValue"
	OpPushValue         = "PushValue"
	OpPullValues        = "PullValues"
	OpReplaceValues     = "ReplaceValues"
	OpFindValueIDsNotIn = "FindValueIDsNotIn"
	OpScanValueIDs      = "ScanValueIDs"
	OpDeleteValues      = "DeleteValues"
)

// ErrIndexOptionsConflict mirrors the server rejecting an index whose name
// exists with other options.
var ErrIndexOptionsConflict = errors.New("index options conflict")

// Hook may fail an operation. target is the collection name or, for entity
// updates, the entity id in hex.
type Hook func(op, target string) error

// Counters records mutating calls.
type Counters struct {
	CollectionsCreated int
	IndexesCreated     int
	IndexesDropped     int
	ValuesInserted     int
	DeleteBatches      int
}

type collection struct {
	validator bson.M
	indexes   []schema.IndexInfo
}

// Store is an in-memory database.
type Store struct {
	mu          sync.Mutex
	connected   bool
	hook        Hook
	collections map[string]*collection
	entities    map[string][]*schema.TranslatableEntity
	values      map[primitive.ObjectID]schema.LocationValue
	settings    []schema.Setting
	counters    Counters
}

// New returns an empty, connected Store.
func New() *Store {
	return &Store{
		connected:   true,
		collections: map[string]*collection{},
		entities:    map[string][]*schema.TranslatableEntity{},
		values:      map[primitive.ObjectID]schema.LocationValue{},
	}
}

// SetHook installs a failure hook; nil removes it.
func (s *Store) SetHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// Disconnect makes every operation fail with database.ErrNotConnected.
func (s *Store) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// Reconnect undoes Disconnect.
func (s *Store) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
}

// IsConnected reports the simulated connection state.
func (s *Store) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Counters returns a snapshot of the mutation counters.
func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// ResetCounters zeroes the mutation counters.
func (s *Store) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = Counters{}
}

// check must be called with mu held.
func (s *Store) check(op, target string) error {
	if !s.connected {
		return database.ErrNotConnected
	}
	if s.hook != nil {
		return s.hook(op, target)
	}
	return nil
}

func (s *Store) ensureCollection(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{indexes: []schema.IndexInfo{{Name: "_id_", Keys: bson.D{{Key: "_id", Value: 1}}}}}
		s.collections[name] = c
	}
	return c
}

// CollectionNames lists the collections.
func (s *Store) CollectionNames(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpCollectionNames, ""); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateCollection creates a collection; an existing one is left untouched.
func (s *Store) CreateCollection(_ context.Context, name string, validator bson.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpCreateCollection, name); err != nil {
		return err
	}

	if _, ok := s.collections[name]; ok {
		return nil
	}
	s.ensureCollection(name).validator = validator
	s.counters.CollectionsCreated++
	return nil
}

// Validator returns the validator a collection was created with.
func (s *Store) Validator(name string) bson.M {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c.validator
	}
	return nil
}

// ListIndexes lists a collection's indexes; a missing collection has none.
func (s *Store) ListIndexes(_ context.Context, name string) ([]schema.IndexInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpListIndexes, name); err != nil {
		return nil, err
	}

	c, ok := s.collections[name]
	if !ok {
		return nil, nil
	}
	return slices.Clone(c.indexes), nil
}

// Indexes returns a collection's indexes without going through the hook.
func (s *Store) Indexes(name string) []schema.IndexInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return slices.Clone(c.indexes)
	}
	return nil
}

// PutIndex seeds an index as if created by an earlier deployment.
func (s *Store) PutIndex(name string, spec schema.IndexSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.ensureCollection(name)
	c.indexes = append(c.indexes, toInfo(spec))
}

// CreateIndexes creates the indexes, implicitly creating the collection.
// An identical index is a no-op; same name with other options conflicts.
func (s *Store) CreateIndexes(_ context.Context, name string, specs []schema.IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpCreateIndexes, name); err != nil {
		return err
	}

	c := s.ensureCollection(name)
	for _, spec := range specs {
		info := toInfo(spec)
		i := slices.IndexFunc(c.indexes, func(x schema.IndexInfo) bool { return x.Name == spec.Name })
		if i >= 0 {
			if !reflect.DeepEqual(c.indexes[i], info) {
				return fmt.Errorf("creating index %s on %s: %w", spec.Name, name, ErrIndexOptionsConflict)
			}
			continue
		}
		c.indexes = append(c.indexes, info)
		s.counters.IndexesCreated++
	}
	return nil
}

// DropIndex drops an index by name.
func (s *Store) DropIndex(_ context.Context, name, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpDropIndex, name); err != nil {
		return err
	}

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("dropping index %s on %s: %w", index, name, database.ErrIndexNotFound)
	}
	i := slices.IndexFunc(c.indexes, func(x schema.IndexInfo) bool { return x.Name == index })
	if i < 0 {
		return fmt.Errorf("dropping index %s on %s: %w", index, name, database.ErrIndexNotFound)
	}
	c.indexes = slices.Delete(c.indexes, i, i+1)
	s.counters.IndexesDropped++
	return nil
}

func toInfo(spec schema.IndexSpec) schema.IndexInfo {
	info := schema.IndexInfo{
		Name:             spec.Name,
		Keys:             spec.Keys,
		Unique:           spec.Unique,
		Sparse:           spec.Sparse,
		DefaultLanguage:  spec.DefaultLanguage,
		LanguageOverride: spec.LanguageOverride,
	}
	if spec.ExpireAfterSeconds != nil {
		seconds := *spec.ExpireAfterSeconds
		info.ExpireAfterSeconds = &seconds
	}
	return info
}

// EnsureSetting stores defaults when no settings document exists.
func (s *Store) EnsureSetting(_ context.Context, defaults schema.Setting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpEnsureSetting, schema.CollSettings); err != nil {
		return false, err
	}

	s.ensureCollection(schema.CollSettings)
	if len(s.settings) > 0 {
		return false, nil
	}
	defaults.ID = primitive.NewObjectID()
	s.settings = append(s.settings, defaults)
	return true, nil
}

// Settings returns the stored settings documents.
func (s *Store) Settings() []schema.Setting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.settings)
}

// SeedAge is how far in the past AddValue dates the ids it assigns.
const SeedAge = time.Hour

// AddValue stores a value as if written by an earlier deployment, SeedAge
// ago, and returns its id.
func (s *Store) AddValue(language, value string) primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := primitive.NewObjectID()
	binary.BigEndian.PutUint32(id[:4], uint32(time.Now().Add(-SeedAge).Unix()))
	s.values[id] = schema.LocationValue{ID: id, Language: language, Value: value}
	return id
}

// AddEntity stores a document in a translatable collection referencing the
// given values, and returns its id.
func (s *Store) AddEntity(name string, valueIDs ...primitive.ObjectID) primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCollection(name)
	id := primitive.NewObjectID()
	s.entities[name] = append(s.entities[name], &schema.TranslatableEntity{ID: id, Values: slices.Clone(valueIDs)})
	return id
}

// Entity returns a document of a translatable collection.
func (s *Store) Entity(name string, id primitive.ObjectID) (schema.TranslatableEntity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.findEntity(name, id); e != nil {
		return schema.TranslatableEntity{ID: e.ID, Values: slices.Clone(e.Values)}, true
	}
	return schema.TranslatableEntity{}, false
}

// Value returns a stored value.
func (s *Store) Value(id primitive.ObjectID) (schema.LocationValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[id]
	return v, ok
}

// ValueCount returns how many values are stored, optionally only those in language.
func (s *Store) ValueCount(language string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if language == "" {
		return len(s.values)
	}
	n := 0
	for _, v := range s.values {
		if v.Language == language {
			n++
		}
	}
	return n
}

func (s *Store) findEntity(name string, id primitive.ObjectID) *schema.TranslatableEntity {
	for _, e := range s.entities[name] {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func cloneEntities(in []*schema.TranslatableEntity, keep func(*schema.TranslatableEntity) bool) []schema.TranslatableEntity {
	out := make([]schema.TranslatableEntity, 0, len(in))
	for _, e := range in {
		if keep(e) {
			out = append(out, schema.TranslatableEntity{ID: e.ID, Values: slices.Clone(e.Values)})
		}
	}
	return out
}

// ListEntities lists every document of a translatable collection.
func (s *Store) ListEntities(_ context.Context, name string) ([]schema.TranslatableEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpListEntities, name); err != nil {
		return nil, err
	}
	return cloneEntities(s.entities[name], func(*schema.TranslatableEntity) bool { return true }), nil
}

// FindEntitiesReferencing lists documents referencing any of the values.
func (s *Store) FindEntitiesReferencing(_ context.Context, name string, valueIDs []primitive.ObjectID) ([]schema.TranslatableEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpFindReferencing, name); err != nil {
		return nil, err
	}
	return cloneEntities(s.entities[name], func(e *schema.TranslatableEntity) bool {
		return slices.ContainsFunc(e.Values, func(id primitive.ObjectID) bool { return slices.Contains(valueIDs, id) })
	}), nil
}

// FindValues returns the stored values among ids.
func (s *Store) FindValues(_ context.Context, ids []primitive.ObjectID) ([]schema.LocationValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpFindValues, schema.CollLocationValues); err != nil {
		return nil, err
	}

	var out []schema.LocationValue
	for _, id := range ids {
		if v, ok := s.values[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// InsertValue stores a value, assigning its id when unset.
func (s *Store) InsertValue(_ context.Context, v *schema.LocationValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpInsertValue, schema.CollLocationValues); err != nil {
		return err
	}

	if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	s.values[v.ID] = *v
	s.counters.ValuesInserted++
	return nil
}

// PushValue appends a value reference to a document.
func (s *Store) PushValue(_ context.Context, name string, entityID, valueID primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpPushValue, entityID.Hex()); err != nil {
		return err
	}

	e := s.findEntity(name, entityID)
	if e == nil {
		return fmt.Errorf("updating %s %s: document not found", name, entityID.Hex())
	}
	e.Values = append(e.Values, valueID)
	return nil
}

// PullValues removes value references from a document.
func (s *Store) PullValues(_ context.Context, name string, entityID primitive.ObjectID, valueIDs []primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpPullValues, entityID.Hex()); err != nil {
		return err
	}

	e := s.findEntity(name, entityID)
	if e == nil {
		return fmt.Errorf("updating %s %s: document not found", name, entityID.Hex())
	}
	e.Values = slices.DeleteFunc(e.Values, func(id primitive.ObjectID) bool { return slices.Contains(valueIDs, id) })
	return nil
}

// ReplaceValues sets a document's value references when they still equal
// current, failing with database.ErrValuesChanged otherwise.
func (s *Store) ReplaceValues(_ context.Context, name string, entityID primitive.ObjectID, current, replacement []primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpReplaceValues, entityID.Hex()); err != nil {
		return err
	}

	e := s.findEntity(name, entityID)
	if e == nil || !slices.Equal(e.Values, current) {
		return fmt.Errorf("updating %s %s: %w", name, entityID.Hex(), database.ErrValuesChanged)
	}
	e.Values = slices.Clone(replacement)
	return nil
}

func (s *Store) sortedValueIDs(keep func(schema.LocationValue) bool, limit int) []primitive.ObjectID {
	var ids []primitive.ObjectID
	for id, v := range s.values {
		if keep(v) {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b primitive.ObjectID) int { return slices.Compare(a[:], b[:]) })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// FindValueIDsNotIn returns up to limit ids of values outside languages,
// skipping the ids in exclude.
func (s *Store) FindValueIDsNotIn(_ context.Context, languages []string, exclude []primitive.ObjectID, limit int) ([]primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpFindValueIDsNotIn, schema.CollLocationValues); err != nil {
		return nil, err
	}
	return s.sortedValueIDs(func(v schema.LocationValue) bool {
		return !slices.Contains(languages, v.Language) && !slices.Contains(exclude, v.ID)
	}, limit), nil
}

// ScanValueIDs returns up to limit value ids between after and before.
func (s *Store) ScanValueIDs(_ context.Context, after, before primitive.ObjectID, limit int) ([]primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpScanValueIDs, schema.CollLocationValues); err != nil {
		return nil, err
	}
	return s.sortedValueIDs(func(v schema.LocationValue) bool {
		return slices.Compare(v.ID[:], after[:]) > 0 && slices.Compare(v.ID[:], before[:]) < 0
	}, limit), nil
}

// DeleteValues deletes values by id.
func (s *Store) DeleteValues(_ context.Context, ids []primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpDeleteValues, schema.CollLocationValues); err != nil {
		return 0, err
	}

	var n int64
	for _, id := range ids {
		if _, ok := s.values[id]; ok {
			delete(s.values, id)
			n++
		}
	}
	s.counters.DeleteBatches++
	return n, nil
}
