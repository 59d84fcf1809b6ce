// Package schema declares the collections of the booking platform as plain
// data: their fields, their indexes and the TTL and text indexes that are
// reconciled separately at startup.
package schema

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Text index options that disable stemming and the per-document language
// field, so search behaves the same whatever the row's language.
const (
	TextDefaultLanguage  = "none"
	TextLanguageOverride = "_none"
)

// ExpireAtField is the date field TTL indexes are declared on.
const ExpireAtField = "expireAt"

// Field describes one document field for the collection validator.
type Field struct {
	Name     string
	BSONType string
	Required bool
}

// IndexSpec describes an index to create.
type IndexSpec struct {
	Keys               bson.D
	Name               string
	Unique             bool
	Sparse             bool
	ExpireAfterSeconds *int32
	DefaultLanguage    string
	LanguageOverride   string
	Weights            bson.D
}

// IsTTL reports whether the index expires documents.
func (s IndexSpec) IsTTL() bool {
	return s.ExpireAfterSeconds != nil
}

// Matches reports whether an existing index has the keys and the unique and
// sparse options of s.
func (s IndexSpec) Matches(info IndexInfo) bool {
	if info.Unique != s.Unique || info.Sparse != s.Sparse || len(info.Keys) != len(s.Keys) {
		return false
	}
	for i, k := range s.Keys {
		if info.Keys[i].Key != k.Key || !sameDirection(info.Keys[i].Value, k.Value) {
			return false
		}
	}
	return true
}

// sameDirection compares index key values. The server reports numeric
// directions as int32 or float64 whatever type they were created with.
func sameDirection(a, b any) bool {
	fa, aok := direction(a)
	fb, bok := direction(b)
	if aok && bok {
		return fa == fb
	}
	return a == b
}

func direction(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// IndexInfo is an index as reported by the server.
type IndexInfo struct {
	Name               string `bson:"name"`
	Keys               bson.D `bson:"key"`
	Unique             bool   `bson:"unique,omitempty"`
	Sparse             bool   `bson:"sparse,omitempty"`
	ExpireAfterSeconds *int32 `bson:"expireAfterSeconds,omitempty"`
	DefaultLanguage    string `bson:"default_language,omitempty"`
	LanguageOverride   string `bson:"language_override,omitempty"`
}

// TTLSpec describes the expiry index of a time-bounded collection.
type TTLSpec struct {
	Field     string
	IndexName string
	Seconds   int32
}

// Index returns the index that enforces the TTL.
func (t TTLSpec) Index() IndexSpec {
	seconds := t.Seconds
	return IndexSpec{
		Keys:               bson.D{{Key: t.Field, Value: 1}},
		Name:               t.IndexName,
		ExpireAfterSeconds: &seconds,
	}
}

// TextIndexSpec describes a full-text index on a single field.
type TextIndexSpec struct {
	Field            string
	IndexName        string
	DefaultLanguage  string
	LanguageOverride string
}

// Index returns the text index to create.
func (t TextIndexSpec) Index() IndexSpec {
	return IndexSpec{
		Keys:             bson.D{{Key: t.Field, Value: "text"}},
		Name:             t.IndexName,
		DefaultLanguage:  t.DefaultLanguage,
		LanguageOverride: t.LanguageOverride,
		Weights:          bson.D{{Key: t.Field, Value: 1}},
	}
}

// Matches reports whether an existing index carries the desired options.
func (t TextIndexSpec) Matches(info IndexInfo) bool {
	return info.DefaultLanguage == t.DefaultLanguage && info.LanguageOverride == t.LanguageOverride
}

// CollectionDescriptor declares one collection.
type CollectionDescriptor struct {
	Name    string
	Fields  []Field
	Indexes []IndexSpec
	Text    *TextIndexSpec
	TTL     *TTLSpec
}

// Validator builds a $jsonSchema validator from the declared fields. It
// returns nil when no fields are declared.
func (d CollectionDescriptor) Validator() bson.M {
	if len(d.Fields) == 0 {
		return nil
	}

	required := make([]string, 0, len(d.Fields))
	properties := bson.M{}
	for _, f := range d.Fields {
		properties[f.Name] = bson.M{"bsonType": f.BSONType}
		if f.Required {
			required = append(required, f.Name)
		}
	}

	jsonSchema := bson.M{
		"bsonType":   "object",
		"properties": properties,
	}
	if len(required) > 0 {
		jsonSchema["required"] = required
	}
	return bson.M{"$jsonSchema": jsonSchema}
}
