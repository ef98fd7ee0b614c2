package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kamusis/fourgrep/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the bitmap cache",
}

var cacheStatCmd = &cobra.Command{
	Use:   "stat",
	Short: "Show what the cache root holds",
	Args:  cobra.NoArgs,
	RunE:  runCacheStat,
}

var cachePackCmd = &cobra.Command{
	Use:   "pack",
	Short: "Consolidate loose entries into per-shard pack files",
	Long: `Merge every loose cache entry into its shard's pack file.

Entries for deleted files and invalidated entries are dropped. Packing is
safe to run while other fourgrep processes use the cache.`,
	Args: cobra.NoArgs,
	RunE: runCachePack,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cache entry and re-stamp the root with the current n-gram settings",
	Long: `Delete every cache entry.

This is required after changing ngram_chars or ngram_char_bits: bitmaps
built with other settings cannot be compared with new queries.`,
	Args: cobra.NoArgs,
	RunE: runCacheClear,
}

var cacheVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Decode every entry and remove corrupt ones",
	Args:  cobra.NoArgs,
	RunE:  runCacheVerify,
}

func init() {
	cacheCmd.AddCommand(cacheStatCmd, cachePackCmd, cacheClearCmd, cacheVerifyCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStat(_ *cobra.Command, _ []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	s, err := env.openStore()
	if err != nil {
		return err
	}
	st, err := s.Stats()
	if err != nil {
		return err
	}

	printSection("fourgrep cache")
	printInfo("", fmt.Sprintf("root:    %s", s.Root()))
	printInfo("", fmt.Sprintf("n-gram:  %s (%s per bitmap)", s.Params(), humanBytes(int64(s.Params().BitmapBytes()))))
	printInfo("", fmt.Sprintf("codec:   %s", env.codec))
	printInfo("", numbers.Sprintf("shards:  %d", st.Shards))
	printInfo("", numbers.Sprintf("loose:   %d (%d invalidated)", st.Loose, st.Tombstones))
	printInfo("", numbers.Sprintf("packed:  %d in %d pack(s)", st.Packed, st.Packs))
	printInfo("", fmt.Sprintf("size:    %s", humanBytes(st.Bytes)))
	return nil
}

func runCachePack(_ *cobra.Command, _ []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	s, err := env.openStore()
	if err != nil {
		return err
	}
	st, err := s.Pack()
	if err != nil {
		return err
	}
	printOK("", numbers.Sprintf("packed %d entries across %d shard(s)", st.Packed, st.Shards))
	if st.Dropped > 0 {
		printInfo("", numbers.Sprintf("dropped %d entries for deleted or invalidated files", st.Dropped))
	}
	return nil
}

func runCacheClear(_ *cobra.Command, _ []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	s, err := store.Recreate(env.cfg.CacheDir, env.params, env.storeOptions())
	if err != nil {
		return fmt.Errorf("cannot clear cache: %w", err)
	}
	printOK("", fmt.Sprintf("cache cleared: %s (%s)", s.Root(), s.Params()))
	return nil
}

func runCacheVerify(_ *cobra.Command, _ []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	s, err := env.openStore()
	if err != nil {
		return err
	}
	rep, err := s.Verify()
	if err != nil {
		return err
	}
	printOK("", numbers.Sprintf("%d entries decoded", rep.Entries))
	if rep.Corrupt > 0 {
		printWarn("", numbers.Sprintf("%d corrupt entries removed", rep.Corrupt))
	}
	if rep.Stale > 0 {
		printInfo("", numbers.Sprintf("%d entries are stale and will be rebuilt on next use", rep.Stale))
	}
	if rep.Orphaned > 0 {
		printInfo("", numbers.Sprintf("%d entries belong to deleted files (run 'fourgrep cache pack')", rep.Orphaned))
	}
	return nil
}
