package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"planet-fetch/planet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{planet.DefaultItemType}, cfg.Search.ItemTypes)
	assert.Equal(t, 1.0, cfg.Search.CloudCover)
	assert.Equal(t, "2000-01-01", cfg.Search.DateGreaterThan)
	assert.Equal(t, planet.PermissionAssetsDownload, cfg.Search.Permission)
	assert.Equal(t, "./result.json", cfg.Search.Output)
	assert.Equal(t, planet.DefaultAssetType, cfg.Download.AssetType)
	assert.Equal(t, 5*time.Second, cfg.Activation.PollInterval.D())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planet-fetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
search:
  item_types: [PSScene4Band, REOrthoTile]
  cloud_cover: 0.2
  date_greater_than: "2017-12-01"
  date_less_than: "2017-12-31"
download:
  directory: /data
  workers: 2
activation:
  poll_interval: 30s
  max_wait: 1h
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"PSScene4Band", "REOrthoTile"}, cfg.Search.ItemTypes)
	assert.Equal(t, 0.2, cfg.Search.CloudCover)
	assert.Equal(t, "2017-12-31", cfg.Search.DateLessThan)
	assert.Equal(t, "/data", cfg.Download.Directory)
	assert.Equal(t, 2, cfg.Download.Workers)
	assert.Equal(t, 30*time.Second, cfg.Activation.PollInterval.D())
	assert.Equal(t, time.Hour, cfg.Activation.MaxWait.D())

	// untouched keys keep their defaults
	assert.Equal(t, planet.DefaultAssetType, cfg.Download.AssetType)
	assert.Equal(t, 5, cfg.Activation.MaxPollErrors)
	assert.True(t, cfg.Download.Ledger)

	t.Run("bad duration", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("activation:\n  poll_interval: soon\n"), 0o644))
		_, err := LoadFromFile(bad)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PLANET_FETCH_ITEM_TYPES", "PSScene4Band, REOrthoTile")
	t.Setenv("PLANET_FETCH_CLOUD_COVER", "0.3")
	t.Setenv("PLANET_FETCH_WORKERS", "8")
	t.Setenv("PLANET_FETCH_POLL_INTERVAL", "2s")
	t.Setenv("PLANET_FETCH_PAGE_SIZE", "100")
	t.Setenv("PLANET_FETCH_RETRY_ATTEMPTS", "not-a-number")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, []string{"PSScene4Band", "REOrthoTile"}, cfg.Search.ItemTypes)
	assert.Equal(t, 0.3, cfg.Search.CloudCover)
	assert.Equal(t, 8, cfg.Download.Workers)
	assert.Equal(t, 2*time.Second, cfg.Activation.PollInterval.D())
	assert.Equal(t, 100, cfg.Search.PageSize)
	assert.Equal(t, 5, cfg.Retry.Attempts, "malformed tuning values are ignored")

	t.Setenv("PLANET_FETCH_WORKERS", "many")
	cfg = Default()
	assert.Error(t, cfg.LoadFromEnv())
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PF_DOTENV_TEST=from-file\n"), 0o644))
	t.Setenv("PF_DOTENV_TEST", "")
	os.Unsetenv("PF_DOTENV_TEST")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("PF_DOTENV_TEST"))
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"no item types": func(c *Config) { c.Search.ItemTypes = nil },
		"no workers":    func(c *Config) { c.Download.Workers = 0 },
		"no asset type": func(c *Config) { c.Download.AssetType = "" },
		"no rate":       func(c *Config) { c.RateLimit = 0 },
		"no poll":       func(c *Config) { c.Activation.PollInterval = 0 },
		"no attempts":   func(c *Config) { c.Retry.Attempts = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList("a, b,,c "))
	assert.Empty(t, SplitList(" , "))
}
