package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kamusis/fourgrep/internal/gram"
)

// Environment variables that override the config file.
const (
	EnvCacheDir      = "FOURGREP_CACHE_DIR"
	EnvNgramChars    = "FOURGREP_NGRAM_CHARS"
	EnvNgramCharBits = "FOURGREP_NGRAM_CHAR_BITS"
	EnvWorkers       = "FOURGREP_WORKERS"
	EnvCodec         = "FOURGREP_CODEC"
	EnvLogLevel      = "FOURGREP_LOG_LEVEL"
)

// Config is the in-memory representation of ~/.fourgrep/fourgrep.yaml.
type Config struct {
	CacheDir      string `yaml:"cache_dir"`
	NgramChars    int    `yaml:"ngram_chars"`
	NgramCharBits int    `yaml:"ngram_char_bits"`
	Workers       int    `yaml:"workers,omitempty"`
	Codec         string `yaml:"codec,omitempty"`
	LogLevel      string `yaml:"log_level,omitempty"`
	LogFormat     string `yaml:"log_format,omitempty"`
}

// Dir returns the absolute path to ~/.fourgrep/.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".fourgrep"), nil
}

// ConfigPath returns the absolute path to ~/.fourgrep/fourgrep.yaml.
func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "fourgrep.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// DefaultCacheDir returns the per-user cache root, <user cache dir>/fourgrep.
func DefaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user cache directory: %w", err)
	}
	return filepath.Join(base, "fourgrep"), nil
}

// DefaultConfig returns the default Config written on first fourgrep init.
func DefaultConfig() (*Config, error) {
	cacheDir, err := DefaultCacheDir()
	if err != nil {
		return nil, err
	}
	return &Config{
		CacheDir:      cacheDir,
		NgramChars:    gram.DefaultChars,
		NgramCharBits: gram.DefaultCharBits,
		Codec:         "zstd",
		LogLevel:      "warn",
		LogFormat:     "text",
	}, nil
}

// Load reads ~/.fourgrep/fourgrep.yaml over the defaults. A missing file is
// not an error. Environment overrides are applied afterwards.
func Load() (*Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.CacheDir, err = ExpandPath(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the process environment, falling back to
// ~/.fourgrep/.env.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) error {
		v, err := GetConfigValue(key)
		if err != nil {
			return err
		}
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
		return nil
	}
	num := func(key string, dst *int) error {
		var s string
		if err := str(key, &s); err != nil || s == "" {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", key, s, err)
		}
		*dst = n
		return nil
	}

	for _, apply := range []func() error{
		func() error { return str(EnvCacheDir, &c.CacheDir) },
		func() error { return num(EnvNgramChars, &c.NgramChars) },
		func() error { return num(EnvNgramCharBits, &c.NgramCharBits) },
		func() error { return num(EnvWorkers, &c.Workers) },
		func() error { return str(EnvCodec, &c.Codec) },
		func() error { return str(EnvLogLevel, &c.LogLevel) },
	} {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}

// Params returns the n-gram parameters, validated.
func (c *Config) Params() (gram.Params, error) {
	p := gram.Params{Chars: c.NgramChars, CharBits: c.NgramCharBits}
	if err := p.Validate(); err != nil {
		return gram.Params{}, err
	}
	return p, nil
}

// Save marshals cfg and writes it to ~/.fourgrep/fourgrep.yaml.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", filepath.Dir(path), err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}
