package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kamusis/fourgrep/internal/bitmap"
	"github.com/kamusis/fourgrep/internal/gram"
)

var flagCombineOut string

var combineCmd = &cobra.Command{
	Use:   "combine -o OUT FILE...",
	Short: "OR raw bitmaps together",
	Long: `Read raw bitmaps written by 'fourgrep bitmap' and write their union to OUT.
A combined bitmap answers "could any of these files match?" in one test.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCombine,
}

func init() {
	combineCmd.Flags().StringVarP(&flagCombineOut, "output", "o", "", "output file (required)")
	_ = combineCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(combineCmd)
}

func runCombine(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	bms := make([]*bitmap.Bitmap, len(args))
	var g errgroup.Group
	g.SetLimit(4)
	for i, path := range args {
		g.Go(func() error {
			bm, err := readRawFile(env.params, path)
			if err != nil {
				return err
			}
			bms[i] = bm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	union, err := bitmap.Combine(cmd.Context(), bms...)
	if err != nil {
		return err
	}
	if err := writeRawFile(flagCombineOut, union); err != nil {
		return err
	}
	printOK("", numbers.Sprintf("combined %d bitmap(s) into %s (%d bits set)", len(bms), flagCombineOut, union.Count()))
	return nil
}

func readRawFile(p gram.Params, path string) (*bitmap.Bitmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()
	bm, err := bitmap.ReadRaw(p, bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("cannot read bitmap %s: %w", path, err)
	}
	return bm, nil
}
