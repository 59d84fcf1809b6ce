package schema

import "go.mongodb.org/mongo-driver/bson/primitive"

// LocationValue is one language's display text of a location, country or
// parking spot.
type LocationValue struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	Language string             `bson:"language"`
	Value    string             `bson:"value"`
}

// TranslatableEntity is the part of a location, country or parking spot the
// translation reconciler reads: its ordered LocationValue references.
type TranslatableEntity struct {
	ID     primitive.ObjectID   `bson:"_id"`
	Values []primitive.ObjectID `bson:"values"`
}

// Setting is the single platform settings document.
type Setting struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty"`
	MinPickupHours       int                `bson:"minPickupHours"`
	MinRentalHours       int                `bson:"minRentalHours"`
	MinPickupDropoffHour int                `bson:"minPickupDropoffHour"`
	MaxPickupDropoffHour int                `bson:"maxPickupDropoffHour"`
}

// DefaultSetting returns the settings written when none exist.
func DefaultSetting() Setting {
	return Setting{
		MinPickupHours:       1,
		MinRentalHours:       1,
		MinPickupDropoffHour: 7,
		MaxPickupDropoffHour: 23,
	}
}
