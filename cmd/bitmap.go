package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamusis/fourgrep/internal/bitmap"
)

var flagBitmapOut string

var bitmapCmd = &cobra.Command{
	Use:   "bitmap FILE",
	Short: "Write the raw n-gram bitmap of FILE",
	Long: `Build the n-gram bitmap of FILE and write it uncompressed: 2^(N*B) bits,
bit i stored in byte i/8 at position i%8. The cache is not touched.`,
	Args: cobra.ExactArgs(1),
	RunE: runBitmap,
}

func init() {
	bitmapCmd.Flags().StringVarP(&flagBitmapOut, "output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(bitmapCmd)
}

func runBitmap(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", args[0], err)
	}
	defer f.Close()
	bm, err := bitmap.FromReader(env.params, f)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", args[0], err)
	}

	if flagBitmapOut != "" {
		return writeRawFile(flagBitmapOut, bm)
	}
	w := bufio.NewWriter(cmd.OutOrStdout())
	if err := bm.WriteRaw(w); err != nil {
		return err
	}
	return w.Flush()
}

func writeRawFile(path string, bm *bitmap.Bitmap) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	w := bufio.NewWriter(out)
	if err := bm.WriteRaw(w); err != nil {
		_ = out.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return out.Close()
}
