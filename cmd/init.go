package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamusis/fourgrep/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config and create the cache root",
	Long: `Create ~/.fourgrep/ with a default fourgrep.yaml and a .env template,
then create and stamp the cache root. Existing files are left untouched.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	// ── 1. Resolve ~/.fourgrep directory ──────────────────────────────────────
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	printOK("", fmt.Sprintf("config directory ready: %s", dir))

	// ── 2. Write fourgrep.yaml if missing ─────────────────────────────────────
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg, err := config.DefaultConfig()
		if err != nil {
			return err
		}
		if err := config.Save(cfg); err != nil {
			return err
		}
		printOK("", fmt.Sprintf("config written: %s", cfgPath))
	} else {
		printSkip("", fmt.Sprintf("config already exists: %s", cfgPath))
	}

	// ── 3. Write .env template if missing ─────────────────────────────────────
	if err := config.EnsureDotEnvTemplate(); err != nil {
		return err
	}
	envPath, _ := config.DotEnvPath()
	printOK("", fmt.Sprintf("overrides file ready: %s", envPath))

	// ── 4. Create and stamp the cache root ────────────────────────────────────
	env, err := loadEnv()
	if err != nil {
		return err
	}
	s, err := env.openStore()
	if err != nil {
		return err
	}
	printOK("", fmt.Sprintf("cache root ready: %s (%s, %s)", s.Root(), s.Params(), env.codec))
	return nil
}
