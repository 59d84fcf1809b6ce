package database

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrNotConnected is returned by every store operation while the Manager is closed.
var ErrNotConnected = errors.New("database not connected")

// ErrIndexNotFound is returned when dropping an index that does not exist.
var ErrIndexNotFound = errors.New("index not found")

// ErrValuesChanged is returned when a document's value references were
// modified between being read and being replaced.
var ErrValuesChanged = errors.New("document values changed concurrently")

// Server error codes the store translates.
const (
	codeNamespaceNotFound = 26
	codeIndexNotFound     = 27
	codeNamespaceExists   = 48
)

func hasErrorCode(err error, code int) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(code)
}

// IsUnavailable reports whether err means the database cannot be reached at
// all, as opposed to a single operation being rejected.
func IsUnavailable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotConnected),
		errors.Is(err, mongo.ErrClientDisconnected),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}
