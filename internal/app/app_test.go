package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"rental-service/config"
	"rental-service/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = util.InitLogger("test")
}

func memoryConfig(seed string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{URL: "memory://"},
		Catalog:  config.CatalogConfig{SeedFile: seed},
	}
}

func TestStartup_SeedsAndReconciles(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(seed, []byte("products:\n  - name: Drill\n    quantity: 3\n    daily_price: \"9.90\"\n"), 0o600))

	a, err := New(memoryConfig(seed), Options{})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Migrate(ctx))
	require.NoError(t, a.Startup(ctx))
	// a second start only updates
	require.NoError(t, a.Startup(ctx))

	products, err := a.Inventory.ListProducts(ctx, true)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, 3, products[0].TotalUnits)
	assert.NoError(t, a.Ready(ctx))
	assert.Nil(t, a.Telegram)
	assert.Nil(t, a.Actions)
}

func TestStartup_MissingSeedFile(t *testing.T) {
	a, err := New(memoryConfig(filepath.Join(t.TempDir(), "none.yaml")), Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.Error(t, a.Startup(context.Background()))
}
