package config

import (
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsnark/charms/internal/sandbox"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "charms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.True(t, cfg.Metering)
	assert.Equal(t, sandbox.DefaultMaxFuel, cfg.MaxFuel)
	assert.Equal(t, 1, cfg.Parallelism)
	assert.False(t, cfg.Mock)
	assert.Equal(t, BackendMock, cfg.Prover.Backend)
	assert.Equal(t, uint64(500), cfg.Fee.Rate)
	assert.Equal(t, uint64(1000), cfg.Fee.Base)
	assert.Equal(t, "mainnet", cfg.Network)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
parallelism: 4
mock: true
metering: false
db: cache.db
prover:
  backend: remote
  address: localhost:9000
fee:
  rate: 100
`)
	t.Setenv("CHARMS_FEE_BASE", "7")
	t.Setenv("CHARMS_PARALLELISM", "2")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Parallelism, "environment overrides the file")
	assert.True(t, cfg.Mock)
	assert.False(t, cfg.Metering)
	assert.Equal(t, "cache.db", cfg.DB)
	assert.Equal(t, Prover{Backend: BackendRemote, Address: "localhost:9000"}, cfg.Prover)
	assert.Equal(t, uint64(100), cfg.Fee.Rate)
	assert.Equal(t, uint64(7), cfg.Fee.Base)
}

func TestDefaultFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "charms.yaml"), []byte("log_level: debug\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	tests := []struct {
		name string
		body string
	}{
		{"zero fuel", "max_fuel: 0"},
		{"zero parallelism", "parallelism: 0"},
		{"unmetered production", "metering: false"},
		{"unknown backend", "prover:\n  backend: sp1"},
		{"remote without address", "prover:\n  backend: remote"},
		{"unknown network", "network: moon"},
		{"bad log level", "log_level: loud"},
		{"bad fee address", "fee:\n  address: nope"},
		{"fee address on wrong network", "network: testnet\nfee:\n  address: bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(New(), writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestFee(t *testing.T) {
	f := Fee{Rate: 500, Base: 1000}
	assert.Zero(t, f.Amount(5_000_000), "no fee without an address")

	f.Address = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	assert.Equal(t, uint64(1000), f.Amount(0))
	assert.Equal(t, uint64(1000), f.Amount(1999))
	assert.Equal(t, uint64(1001), f.Amount(2000))
	assert.Equal(t, uint64(3500), f.Amount(5_000_000))

	script, err := f.PkScript("mainnet")
	require.NoError(t, err)
	assert.Equal(t, "0014751e76e8199196d454941c45d1b3a323f1433bd6", hex.EncodeToString(script))

	_, err = f.PkScript("regtest")
	assert.Error(t, err)
}
