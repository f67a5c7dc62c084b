// Package batch converts every iSyntax file in a directory, a bounded
// number of files at a time. A single file failing is recorded and
// does not stop the rest of the batch.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/ccpvault00/isyntax2tiff/internal/convert"
)

// DefaultExtensions are the container suffixes scanned for.
var DefaultExtensions = []string{".isyntax", ".i2syntax"}

// Config controls a batch run.
type Config struct {
	// FileWorkers caps how many files convert in parallel.
	FileWorkers int
	// Extensions filters the input scan; empty means DefaultExtensions.
	Extensions []string
	// SkipExisting leaves files alone whose output already exists.
	SkipExisting bool
	// Progress renders a terminal progress bar.
	Progress bool

	Convert convert.Options
}

// FileResult records the outcome for one input file.
type FileResult struct {
	Input    string
	Output   string
	Skipped  bool
	Err      error
	Duration time.Duration
	Result   *convert.Result
}

// Discover lists matching files in dir, sorted by name.
func Discover(dir string, extensions []string) ([]string, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("batch: scan %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range extensions {
			if ext == want {
				files = append(files, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

var underscoreRuns = regexp.MustCompile(`_+`)

// OutputName derives the output filename for an input path. Characters
// that upset downstream filesystems and tools are flattened to
// underscores, so "S114-99047-A-PAX8(MRQ50).isyntax" becomes
// "S114-99047-A-PAX8_MRQ50.tiff".
func OutputName(inputPath string) string {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	replacer := strings.NewReplacer(
		"(", "_", ")", "_", "[", "_", "]", "_", "{", "_", "}", "_",
		"<", "_", ">", "_", "|", "_", "&", "_", ";", "_", "*", "_",
		"?", "_", `"`, "_", "'", "_", " ", "_",
	)
	stem = replacer.Replace(stem)
	stem = underscoreRuns.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "_")
	return stem + ".tiff"
}

// Run converts every discovered file in inputDir into outputDir and
// returns the per-file outcomes in input order.
func Run(ctx context.Context, log *logrus.Entry, inputDir, outputDir string, cfg Config) ([]FileResult, error) {
	if cfg.FileWorkers <= 0 {
		cfg.FileWorkers = 2
	}

	files, err := Discover(inputDir, cfg.Extensions)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("batch: no iSyntax files in %s", inputDir)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("batch: create %s: %w", outputDir, err)
	}
	log.Infof("batch: %d files, %d file workers", len(files), cfg.FileWorkers)

	var bar *pb.ProgressBar
	if cfg.Progress {
		bar = pb.StartNew(len(files))
		defer bar.Finish()
	}

	results := make([]FileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.FileWorkers)
	for i, input := range files {
		i, input := i, input
		g.Go(func() error {
			defer func() {
				if bar != nil {
					bar.Increment()
				}
			}()
			output := filepath.Join(outputDir, OutputName(input))
			results[i] = convertOne(gctx, log, input, output, cfg)
			return nil
		})
	}
	g.Wait()

	summarize(log, results)
	return results, nil
}

func convertOne(ctx context.Context, log *logrus.Entry, input, output string, cfg Config) FileResult {
	started := time.Now()
	fr := FileResult{Input: input, Output: output}

	if cfg.SkipExisting {
		if _, err := os.Stat(output); err == nil {
			fr.Skipped = true
			log.Infof("skipping %s, output exists", filepath.Base(input))
			return fr
		}
	}

	res, err := convert.Run(ctx, log.WithField("file", filepath.Base(input)), input, output, cfg.Convert)
	fr.Duration = time.Since(started)
	fr.Result = res
	if err != nil {
		fr.Err = err
		log.WithError(err).Errorf("failed to convert %s", filepath.Base(input))
	}
	return fr
}

func summarize(log *logrus.Entry, results []FileResult) {
	var ok, skipped, failed int
	var total time.Duration
	for _, r := range results {
		total += r.Duration
		switch {
		case r.Skipped:
			skipped++
		case r.Err != nil:
			failed++
		default:
			ok++
		}
	}
	log.Infof("batch done: %d converted, %d skipped, %d failed, %s conversion time",
		ok, skipped, failed, total.Round(time.Second))
	for _, r := range results {
		if r.Err != nil {
			log.Errorf("  %s: %v", filepath.Base(r.Input), r.Err)
		}
	}
}
