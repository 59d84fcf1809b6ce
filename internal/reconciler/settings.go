package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/daap14/bookcars/internal/schema"
)

// EnsureSettings creates the settings document with default values when
// none exists. Existing settings are never modified.
func EnsureSettings(ctx context.Context, store SettingStore) error {
	created, err := store.EnsureSetting(ctx, schema.DefaultSetting())
	if err != nil {
		return fmt.Errorf("ensuring settings: %w", err)
	}
	if created {
		slog.Info("default settings created", "collection", schema.CollSettings)
	}
	return nil
}
