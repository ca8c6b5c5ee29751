package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/shielded"
)

func custody(t *testing.T) string {
	t.Helper()
	k, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	return k.Address().String()
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "poold.yaml")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poold.yaml")
	cfg := DefaultConfig()
	cfg.CustodyAddress = custody(t)
	cfg.Genesis = []GenesisAccount{{Address: cfg.CustodyAddress, Amount: 1_000}}
	cfg.Log.Level = "debug"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.NoError(t, loaded.Validate())
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poold.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: 0.0.0.0:9000\n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Equal(t, DefaultConfig().VerifierCacheSize, cfg.VerifierCacheSize)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.CustodyAddress = custody(t)
		return c
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"no custody":     func(c *Config) { c.CustodyAddress = "" },
		"bad level":      func(c *Config) { c.Log.Level = "verbose" },
		"zero timeout":   func(c *Config) { c.TimeoutSeconds = 0 },
		"negative cache": func(c *Config) { c.VerifierCacheSize = -1 },
		"zero genesis": func(c *Config) {
			c.Genesis = []GenesisAccount{{Address: c.CustodyAddress}}
		},
		"no rate limit": func(c *Config) { c.RateLimit.Burst = 0 },
		"no client cap": func(c *Config) { c.RateLimit.MaxClients = 0 },
	}
	for name, mutate := range cases {
		c := valid()
		mutate(c)
		assert.Error(t, c.Validate(), name)
	}
}
