package reconciler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/bookcars/internal/database"
	"github.com/daap14/bookcars/internal/database/memstore"
	"github.com/daap14/bookcars/internal/reconciler"
)

func TestEnsureSettings_CreatesOnce(t *testing.T) {
	store := memstore.New()

	require.NoError(t, reconciler.EnsureSettings(context.Background(), store))
	require.NoError(t, reconciler.EnsureSettings(context.Background(), store))

	settings := store.Settings()
	require.Len(t, settings, 1)
	assert.Equal(t, 1, settings[0].MinPickupHours)
	assert.Equal(t, 1, settings[0].MinRentalHours)
	assert.Equal(t, 7, settings[0].MinPickupDropoffHour)
	assert.Equal(t, 23, settings[0].MaxPickupDropoffHour)
}

func TestEnsureSettings_Disconnected(t *testing.T) {
	store := memstore.New()
	store.Disconnect()

	err := reconciler.EnsureSettings(context.Background(), store)

	assert.ErrorIs(t, err, database.ErrNotConnected)
	assert.Empty(t, store.Settings())
}
