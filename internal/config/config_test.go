package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no townpick.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.Data.Dir)
	assert.Equal(t, "AMTOVZ_CSV_LV95.csv", cfg.Data.Registry.File)
	assert.Equal(t, "swissBOUNDARIES3D_1_5_TLM_HOHEITSGEBIET.shp", cfg.Data.Boundaries.File)
	assert.Equal(t, "population.xlsx", cfg.Data.Population.File)
	assert.Contains(t, cfg.Data.Registry.URL, "data.geo.admin.ch")
	assert.InDelta(t, 10000.0, cfg.Pick.SeparationM, 0.001)
	assert.True(t, cfg.Pick.Coverage)
	assert.Equal(t, "rank", cfg.Pick.Order)
	assert.Equal(t, "json", cfg.Pick.Format)
	assert.Equal(t, 60, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, "townpick/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "townpick.db", cfg.Store.DatabaseURL)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "https://api3.geo.admin.ch", cfg.GeoAdmin.BaseURL)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.05, cfg.Monitoring.UnassignedRateThreshold, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
data:
  dir: /var/lib/townpick
pick:
  separation_m: 5000
  order: position
store:
  driver: postgres
  database_url: postgres://localhost/townpick
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "townpick.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/townpick", cfg.Data.Dir)
	assert.InDelta(t, 5000.0, cfg.Pick.SeparationM, 0.001)
	assert.Equal(t, "position", cfg.Pick.Order)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/townpick", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, "json", cfg.Pick.Format)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "townpick.yaml"), []byte(yaml), 0644))

	t.Setenv("TOWNPICK_STORE_DRIVER", "postgres")
	t.Setenv("TOWNPICK_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("TOWNPICK_SERVER_ADDR", ":3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Server.Addr)
}

func TestLoadExplicitConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0644))

	t.Setenv("TOWNPICK_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestLoadExplicitConfigPathMissing(t *testing.T) {
	t.Setenv("TOWNPICK_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestDataPaths(t *testing.T) {
	d := DataConfig{
		Dir:        "/data",
		Registry:   DatasetConfig{File: "reg.csv"},
		Boundaries: DatasetConfig{File: "bounds.shp"},
		Population: DatasetConfig{File: "pop.xlsx"},
	}
	assert.Equal(t, filepath.Join("/data", "reg.csv"), d.RegistryPath())
	assert.Equal(t, filepath.Join("/data", "bounds.shp"), d.BoundariesPath())
	assert.Equal(t, filepath.Join("/data", "pop.xlsx"), d.PopulationPath())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Pick.SeparationM = 10000
	cfg.Pick.Order = "rank"
	cfg.Pick.Format = "json"
	cfg.Fetch.TimeoutSecs = 60
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "townpick.db"
	cfg.Server.Addr = ":8080"
	cfg.Data.Registry.URL = "https://example.com/registry.zip"
	cfg.Data.Boundaries.URL = "https://example.com/bounds.zip"
	cfg.Data.Population.URL = "https://example.com/pop.xlsx"
	return cfg
}

func TestValidatePick_Valid(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("pick"))
}

func TestValidatePick_NegativeSeparation(t *testing.T) {
	cfg := validDefaults()
	cfg.Pick.SeparationM = -1

	err := cfg.Validate("pick")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pick.separation_m must be >= 0")
}

func TestValidatePick_BadOrder(t *testing.T) {
	cfg := validDefaults()
	cfg.Pick.Order = "alphabetical"

	err := cfg.Validate("pick")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pick.order")
}

func TestValidatePick_BadFormat(t *testing.T) {
	cfg := validDefaults()
	cfg.Pick.Format = "xml"

	err := cfg.Validate("pick")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pick.format")
}

func TestValidateFetch_MissingURLs(t *testing.T) {
	cfg := validDefaults()
	cfg.Data.Registry.URL = ""
	cfg.Data.Population.URL = ""

	err := cfg.Validate("fetch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "data.registry.url is required")
	assert.Contains(t, err.Error(), "data.population.url is required")
	assert.NotContains(t, err.Error(), "data.boundaries.url")
}

func TestValidateFetch_ZeroTimeout(t *testing.T) {
	cfg := validDefaults()
	cfg.Fetch.TimeoutSecs = 0

	err := cfg.Validate("fetch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fetch.timeout_secs must be > 0")
}

func TestValidateServe_Valid(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_MissingAddr(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Addr = ""

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.addr is required")
}

func TestValidateServe_BadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateRuns_MissingDatabaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("runs")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
