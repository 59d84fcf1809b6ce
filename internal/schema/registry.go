package schema

import "go.mongodb.org/mongo-driver/bson"

// Collection names.
const (
	CollAdditionalDrivers    = "additionaldrivers"
	CollBankDetails          = "bankdetails"
	CollBookings             = "bookings"
	CollCars                 = "cars"
	CollCountries            = "countries"
	CollDateBasedPrices      = "datebasedprices"
	CollLocations            = "locations"
	CollLocationValues       = "locationvalues"
	CollNotificationCounters = "notificationcounters"
	CollNotifications        = "notifications"
	CollParkingSpots         = "parkingspots"
	CollPushTokens           = "pushtokens"
	CollSettings             = "settings"
	CollTokens               = "tokens"
	CollUsers                = "users"
)

// TTLIndexName is the name the server gives an ascending index on expireAt.
const TTLIndexName = ExpireAtField + "_1"

// TranslatableCollections are the collections whose documents reference
// LocationValue rows.
var TranslatableCollections = []string{CollLocations, CollCountries, CollParkingSpots}

// Durations holds the configured expiry of time-bounded collections, in seconds.
type Durations struct {
	Booking int32
	User    int32
	Token   int32
}

func index(name string, unique bool, keys ...bson.E) IndexSpec {
	return IndexSpec{Keys: bson.D(keys), Name: name, Unique: unique}
}

func ttl(seconds int32) *TTLSpec {
	return &TTLSpec{Field: ExpireAtField, IndexName: TTLIndexName, Seconds: seconds}
}

func text(field string) *TextIndexSpec {
	return &TextIndexSpec{
		Field:            field,
		IndexName:        field + "_text",
		DefaultLanguage:  TextDefaultLanguage,
		LanguageOverride: TextLanguageOverride,
	}
}

// Registry returns every collection of the platform.
func Registry(d Durations) []CollectionDescriptor {
	return []CollectionDescriptor{
		{
			Name: CollAdditionalDrivers,
			Fields: []Field{
				{Name: "fullName", BSONType: "string", Required: true},
				{Name: "email", BSONType: "string", Required: true},
				{Name: "phone", BSONType: "string", Required: true},
				{Name: "birthDate", BSONType: "date", Required: true},
			},
			Indexes: []IndexSpec{
				index("email_1", false, bson.E{Key: "email", Value: 1}),
			},
		},
		{
			Name: CollBankDetails,
			Fields: []Field{
				{Name: "accountHolder", BSONType: "string", Required: true},
				{Name: "bankName", BSONType: "string", Required: true},
				{Name: "iban", BSONType: "string", Required: true},
				{Name: "swiftBic", BSONType: "string", Required: true},
				{Name: "showBankDetailsPage", BSONType: "bool"},
			},
		},
		{
			Name: CollBookings,
			Fields: []Field{
				{Name: "supplier", BSONType: "objectId", Required: true},
				{Name: "car", BSONType: "objectId", Required: true},
				{Name: "driver", BSONType: "objectId", Required: true},
				{Name: "pickupLocation", BSONType: "objectId", Required: true},
				{Name: "dropOffLocation", BSONType: "objectId", Required: true},
				{Name: "from", BSONType: "date", Required: true},
				{Name: "to", BSONType: "date", Required: true},
				{Name: "status", BSONType: "string", Required: true},
				{Name: "price", BSONType: "number"},
				{Name: "sessionId", BSONType: "string"},
				{Name: ExpireAtField, BSONType: "date"},
			},
			Indexes: []IndexSpec{
				index("supplier_1", false, bson.E{Key: "supplier", Value: 1}),
				index("car_1", false, bson.E{Key: "car", Value: 1}),
				index("driver_1", false, bson.E{Key: "driver", Value: 1}),
				index("pickupLocation_1", false, bson.E{Key: "pickupLocation", Value: 1}),
				index("dropOffLocation_1", false, bson.E{Key: "dropOffLocation", Value: 1}),
				index("status_1", false, bson.E{Key: "status", Value: 1}),
				index("supplier_1_status_1_from_-1", false,
					bson.E{Key: "supplier", Value: 1}, bson.E{Key: "status", Value: 1}, bson.E{Key: "from", Value: -1}),
				{Keys: bson.D{{Key: "sessionId", Value: 1}}, Name: "sessionId_1", Sparse: true},
			},
			TTL: ttl(d.Booking),
		},
		{
			Name: CollCars,
			Fields: []Field{
				{Name: "name", BSONType: "string", Required: true},
				{Name: "supplier", BSONType: "objectId", Required: true},
				{Name: "locations", BSONType: "array", Required: true},
				{Name: "dailyPrice", BSONType: "number", Required: true},
				{Name: "available", BSONType: "bool"},
				{Name: "type", BSONType: "string"},
				{Name: "gearbox", BSONType: "string"},
			},
			Indexes: []IndexSpec{
				index("supplier_1", false, bson.E{Key: "supplier", Value: 1}),
				index("locations_1", false, bson.E{Key: "locations", Value: 1}),
				index("available_1_dailyPrice_1", false,
					bson.E{Key: "available", Value: 1}, bson.E{Key: "dailyPrice", Value: 1}),
				index("type_1_gearbox_1", false, bson.E{Key: "type", Value: 1}, bson.E{Key: "gearbox", Value: 1}),
			},
			Text: text("name"),
		},
		{
			Name: CollCountries,
			Fields: []Field{
				{Name: "values", BSONType: "array", Required: true},
				{Name: "supplier", BSONType: "objectId"},
			},
			Indexes: []IndexSpec{
				index("values_1", false, bson.E{Key: "values", Value: 1}),
			},
		},
		{
			Name: CollDateBasedPrices,
			Fields: []Field{
				{Name: "startDate", BSONType: "date", Required: true},
				{Name: "endDate", BSONType: "date", Required: true},
				{Name: "dailyPrice", BSONType: "number", Required: true},
			},
			Indexes: []IndexSpec{
				index("startDate_1_endDate_1", false,
					bson.E{Key: "startDate", Value: 1}, bson.E{Key: "endDate", Value: 1}),
			},
		},
		{
			Name: CollLocations,
			Fields: []Field{
				{Name: "country", BSONType: "objectId", Required: true},
				{Name: "values", BSONType: "array", Required: true},
				{Name: "latitude", BSONType: "number"},
				{Name: "longitude", BSONType: "number"},
				{Name: "parkingSpots", BSONType: "array"},
				{Name: "supplier", BSONType: "objectId"},
			},
			Indexes: []IndexSpec{
				index("values_1", false, bson.E{Key: "values", Value: 1}),
				index("country_1", false, bson.E{Key: "country", Value: 1}),
				index("supplier_1", false, bson.E{Key: "supplier", Value: 1}),
			},
		},
		{
			Name: CollLocationValues,
			Fields: []Field{
				{Name: "language", BSONType: "string", Required: true},
				{Name: "value", BSONType: "string", Required: true},
			},
			Indexes: []IndexSpec{
				index("language_1", false, bson.E{Key: "language", Value: 1}),
			},
			Text: text("value"),
		},
		{
			Name: CollNotificationCounters,
			Fields: []Field{
				{Name: "user", BSONType: "objectId", Required: true},
				{Name: "count", BSONType: "number"},
			},
			Indexes: []IndexSpec{
				index("user_1", true, bson.E{Key: "user", Value: 1}),
			},
		},
		{
			Name: CollNotifications,
			Fields: []Field{
				{Name: "user", BSONType: "objectId", Required: true},
				{Name: "message", BSONType: "string", Required: true},
				{Name: "booking", BSONType: "objectId"},
				{Name: "isRead", BSONType: "bool"},
			},
			Indexes: []IndexSpec{
				index("user_1_createdAt_-1", false, bson.E{Key: "user", Value: 1}, bson.E{Key: "createdAt", Value: -1}),
				index("booking_1", false, bson.E{Key: "booking", Value: 1}),
			},
		},
		{
			Name: CollParkingSpots,
			Fields: []Field{
				{Name: "values", BSONType: "array", Required: true},
				{Name: "latitude", BSONType: "number", Required: true},
				{Name: "longitude", BSONType: "number", Required: true},
			},
			Indexes: []IndexSpec{
				index("values_1", false, bson.E{Key: "values", Value: 1}),
			},
		},
		{
			Name: CollPushTokens,
			Fields: []Field{
				{Name: "user", BSONType: "objectId", Required: true},
				{Name: "token", BSONType: "string", Required: true},
			},
			Indexes: []IndexSpec{
				index("user_1", true, bson.E{Key: "user", Value: 1}),
			},
		},
		{
			Name: CollSettings,
			Fields: []Field{
				{Name: "minPickupHours", BSONType: "number", Required: true},
				{Name: "minRentalHours", BSONType: "number", Required: true},
				{Name: "minPickupDropoffHour", BSONType: "number"},
				{Name: "maxPickupDropoffHour", BSONType: "number"},
			},
		},
		{
			Name: CollTokens,
			Fields: []Field{
				{Name: "user", BSONType: "objectId", Required: true},
				{Name: "token", BSONType: "string", Required: true},
				{Name: ExpireAtField, BSONType: "date"},
			},
			Indexes: []IndexSpec{
				index("user_1", false, bson.E{Key: "user", Value: 1}),
				index("token_1", false, bson.E{Key: "token", Value: 1}),
			},
			TTL: ttl(d.Token),
		},
		{
			Name: CollUsers,
			Fields: []Field{
				{Name: "email", BSONType: "string", Required: true},
				{Name: "fullName", BSONType: "string", Required: true},
				{Name: "type", BSONType: "string"},
				{Name: "language", BSONType: "string"},
				{Name: "verified", BSONType: "bool"},
				{Name: "active", BSONType: "bool"},
				{Name: ExpireAtField, BSONType: "date"},
			},
			Indexes: []IndexSpec{
				index("email_1", true, bson.E{Key: "email", Value: 1}),
				index("type_1", false, bson.E{Key: "type", Value: 1}),
			},
			TTL: ttl(d.User),
		},
	}
}
