package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withDotEnv points HOME at a temp dir and, when content is non-empty,
// writes it to ~/.fourgrep/.env. It returns the .env path.
func withDotEnv(t *testing.T, content string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfgDir := filepath.Join(home, ".fourgrep")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	p := filepath.Join(cfgDir, ".env")
	if content != "" {
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return p
}

func TestLoadDotEnv_NotExist(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	m, err := LoadDotEnv()
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	withDotEnv(t, "# comment\nA=1\nB=two\nC=\"quoted value\"\n")

	m, err := LoadDotEnv()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "two", "C": "quoted value"}, m)
}

func TestGetConfigValue_EnvOverridesDotEnv(t *testing.T) {
	withDotEnv(t, "K=fromdotenv\n")
	t.Setenv("K", "fromenv")

	v, err := GetConfigValue("K")
	require.NoError(t, err)
	assert.Equal(t, "fromenv", v)
}

func TestEnsureDotEnvTemplate_DoesNotOverwrite(t *testing.T) {
	p := withDotEnv(t, "FOURGREP_CODEC=lz4\n")

	require.NoError(t, EnsureDotEnvTemplate())
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "FOURGREP_CODEC=lz4\n", string(b), "template must not overwrite an existing file")
}

func TestEnsureDotEnvTemplate_CreatesWhenMissing(t *testing.T) {
	p := withDotEnv(t, "")

	require.NoError(t, EnsureDotEnvTemplate())
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), EnvCacheDir)
}
