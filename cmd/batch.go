package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ccpvault00/isyntax2tiff/internal/batch"
)

var batchCmd = &cobra.Command{
	Use:   "batch INPUT_DIR OUTPUT_DIR",
	Short: "Convert every iSyntax file in a directory",
	Long: `Convert all iSyntax files found in INPUT_DIR into OUTPUT_DIR.

Outputs that already exist are skipped, so an interrupted batch can be
resumed by running the same command again.

Examples:
  # Convert a directory, two files at a time
  isyntax2tiff batch /data/slides /data/tiff

  # Four parallel files, lossless, reconvert everything
  isyntax2tiff batch /data/slides /data/tiff --file-workers 4 --compression lzw --no-skip-existing`,
	Args: cobra.ExactArgs(2),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Int("file-workers", 2, "number of files to convert in parallel")
	batchCmd.Flags().StringSlice("extensions", batch.DefaultExtensions, "file extensions to scan for")
	batchCmd.Flags().Bool("no-skip-existing", false, "convert files even if the output already exists")
	batchCmd.Flags().Bool("no-progress", false, "disable the progress bar")

	viper.BindPFlag("batch.file-workers", batchCmd.Flags().Lookup("file-workers"))
	viper.BindPFlag("batch.extensions", batchCmd.Flags().Lookup("extensions"))
	viper.BindPFlag("batch.no-skip-existing", batchCmd.Flags().Lookup("no-skip-existing"))
	viper.BindPFlag("batch.no-progress", batchCmd.Flags().Lookup("no-progress"))
}

func runBatch(cmd *cobra.Command, args []string) error {
	opts, err := conversionOptions()
	if err != nil {
		return err
	}

	cfg := batch.Config{
		FileWorkers:  viper.GetInt("batch.file-workers"),
		Extensions:   viper.GetStringSlice("batch.extensions"),
		SkipExisting: !viper.GetBool("batch.no-skip-existing"),
		Progress:     !viper.GetBool("batch.no-progress"),
		Convert:      opts,
	}

	log := logrus.WithField("component", "batch")
	results, err := batch.Run(cmd.Context(), log, args[0], args[1], cfg)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(results))
	}
	return nil
}
