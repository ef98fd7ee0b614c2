package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kamusis/fourgrep/internal/bitmap"
	"github.com/kamusis/fourgrep/internal/config"
	"github.com/kamusis/fourgrep/internal/gram"
	"github.com/kamusis/fourgrep/internal/logging"
	"github.com/kamusis/fourgrep/internal/store"
)

// runEnv is the resolved configuration of one invocation: config file,
// then environment, then flags.
type runEnv struct {
	cfg    *config.Config
	params gram.Params
	codec  bitmap.Codec
	log    *slog.Logger
}

func loadEnv() (*runEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagCacheDir != "" {
		if cfg.CacheDir, err = config.ExpandPath(flagCacheDir); err != nil {
			return nil, err
		}
	}
	if flagWorkers > 0 {
		cfg.Workers = flagWorkers
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("no cache directory configured (set cache_dir, %s or --cache-dir)", config.EnvCacheDir)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	params, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	codec, err := bitmap.ParseCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return &runEnv{
		cfg:    cfg,
		params: params,
		codec:  codec,
		log:    logging.New(os.Stderr, level, logging.Format(cfg.LogFormat)),
	}, nil
}

func (e *runEnv) storeOptions() store.Options {
	return store.Options{Codec: e.codec, Logger: e.log}
}

func (e *runEnv) openStore() (*store.Store, error) {
	s, err := store.Open(e.cfg.CacheDir, e.params, e.storeOptions())
	if err != nil {
		return nil, fmt.Errorf("cannot open cache: %w", err)
	}
	return s, nil
}
