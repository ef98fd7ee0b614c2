package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/fourgrep/internal/gram"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	for _, k := range []string{EnvCacheDir, EnvNgramChars, EnvNgramCharBits, EnvWorkers, EnvCodec, EnvLogLevel} {
		t.Setenv(k, "")
	}
	return home
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, gram.DefaultChars, cfg.NgramChars)
	assert.Equal(t, gram.DefaultCharBits, cfg.NgramCharBits)
	assert.Equal(t, "zstd", cfg.Codec)

	want, err := DefaultCacheDir()
	require.NoError(t, err)
	assert.Equal(t, want, cfg.CacheDir)

	p, err := cfg.Params()
	require.NoError(t, err)
	assert.Equal(t, gram.DefaultParams(), p)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	home := isolate(t)

	cfg, err := DefaultConfig()
	require.NoError(t, err)
	cfg.CacheDir = "~/grepcache"
	cfg.NgramChars = 4
	cfg.Workers = 3
	require.NoError(t, Save(cfg))

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "grepcache"), got.CacheDir)
	assert.Equal(t, 4, got.NgramChars)
	assert.Equal(t, 3, got.Workers)
}

func TestEnvOverridesFile(t *testing.T) {
	home := isolate(t)

	cfg, err := DefaultConfig()
	require.NoError(t, err)
	cfg.Codec = "none"
	require.NoError(t, Save(cfg))

	require.NoError(t, os.WriteFile(filepath.Join(home, ".fourgrep", ".env"),
		[]byte("FOURGREP_NGRAM_CHAR_BITS=5\nFOURGREP_CODEC=zstd\n"), 0o600))
	t.Setenv(EnvCodec, "lz4")
	t.Setenv(EnvCacheDir, "/tmp/elsewhere")

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "lz4", got.Codec, "process env beats dotenv")
	assert.Equal(t, 5, got.NgramCharBits, "dotenv beats file")
	assert.Equal(t, "/tmp/elsewhere", got.CacheDir)
}

func TestInvalidEnvNumber(t *testing.T) {
	isolate(t)
	t.Setenv(EnvWorkers, "many")

	_, err := Load()
	assert.ErrorContains(t, err, EnvWorkers)
}

func TestInvalidParams(t *testing.T) {
	cfg := &Config{NgramChars: 8, NgramCharBits: 8}
	_, err := cfg.Params()
	assert.ErrorIs(t, err, gram.ErrInvalidParams)
}

func TestInvalidYAML(t *testing.T) {
	home := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".fourgrep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".fourgrep", "fourgrep.yaml"), []byte("ngram_chars: [oops"), 0o644))

	_, err := Load()
	assert.ErrorContains(t, err, "invalid YAML")
}
