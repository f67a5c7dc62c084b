// Package convert drives a whole conversion: open the region source,
// plan and fetch the base level, derive the pyramid, and serialize the
// container plus optional extras.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccpvault00/isyntax2tiff/internal/philips"
	"github.com/ccpvault00/isyntax2tiff/internal/pyramid"
	"github.com/ccpvault00/isyntax2tiff/internal/raster"
	"github.com/ccpvault00/isyntax2tiff/pkg/isyntax"
	"github.com/ccpvault00/isyntax2tiff/pkg/pyrtiff"
)

// Options configures one conversion. Zero values fall back to the
// defaults below.
type Options struct {
	TileSize     int
	MaxWorkers   int
	BatchSize    int
	BatchTimeout time.Duration
	Fill         uint8
	Codec        pyrtiff.Codec
	Quality      int
	PyramidFloor int

	// Pyramid512 additionally writes "<stem>_512.tiff" tiled at 512.
	Pyramid512 bool
	// XMLSidecar writes the DPUfsImport metadata document next to the
	// output.
	XMLSidecar bool
}

const (
	DefaultTileSize = 1024
	DefaultQuality  = 80
)

func (o Options) withDefaults() Options {
	if o.TileSize <= 0 {
		o.TileSize = DefaultTileSize
	}
	if o.Quality <= 0 {
		o.Quality = DefaultQuality
	}
	if o.Codec == "" {
		o.Codec = pyrtiff.CodecJPEG
	}
	if o.PyramidFloor <= 0 {
		o.PyramidFloor = pyramid.DefaultFloor
	}
	return o
}

// Result summarizes a finished conversion.
type Result struct {
	Width         int
	Height        int
	Levels        int
	DegradedTiles int
	// Fallback is set when the pyramidal write failed and the output
	// holds only the base level.
	Fallback bool
	Outputs  []string
	Duration time.Duration
}

// Run converts one file. The source handle is closed on every path.
func Run(ctx context.Context, log *logrus.Entry, inputPath, outputPath string, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	started := time.Now()

	src, err := isyntax.Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if !hasImage(src, isyntax.KindWSI) {
		return nil, fmt.Errorf("convert %s: no WSI sub-image", inputPath)
	}

	dims, err := src.DimensionRanges(0)
	if err != nil {
		return nil, err
	}
	if _, err := raster.Level(dims[0], dims[1]); err != nil {
		return nil, err
	}
	width, err := raster.PixelLength(dims[0])
	if err != nil {
		return nil, err
	}
	height, err := raster.PixelLength(dims[1])
	if err != nil {
		return nil, err
	}
	log.Infof("source %s: %dx%d, %d levels", filepath.Base(inputPath), width, height, src.NumLevels())

	patches, err := raster.Plan(dims, opts.TileSize, opts.TileSize)
	if err != nil {
		return nil, err
	}
	canvas := raster.NewCanvas(width, height, opts.Fill)

	fetcher := raster.NewFetcher(src, log, raster.FetchConfig{
		BatchSize:    opts.BatchSize,
		MaxWorkers:   opts.MaxWorkers,
		BatchTimeout: opts.BatchTimeout,
		Fill:         [3]uint8{opts.Fill, opts.Fill, opts.Fill},
	})
	degraded, err := fetcher.Run(ctx, patches, canvas, opts.TileSize, opts.TileSize)
	if err != nil {
		return nil, err
	}
	if degraded > 0 {
		log.Warnf("%d of %d tiles left at fill color", degraded, len(patches))
	}

	levels := pyramid.Generate(canvas, opts.PyramidFloor)
	log.Infof("pyramid: %d levels, floor %d", len(levels), opts.PyramidFloor)

	spacingX, _ := src.PixelSpacing()
	ppcm := 0.0
	if spacingX > 0 {
		ppcm = 10000 / spacingX
	}

	macroRaw, macro := loadAssociated(src, isyntax.KindMacro, log)
	labelRaw, label := loadAssociated(src, isyntax.KindLabel, log)

	res := &Result{
		Width:         width,
		Height:        height,
		Levels:        len(levels),
		DegradedTiles: degraded,
	}

	if err := writeContainer(outputPath, levels, macro, label, ppcm, opts.TileSize, opts); err != nil {
		log.WithError(err).Warn("pyramidal write failed, retrying with base level only")
		// The retry drops the auxiliary directories too; they may be
		// what failed.
		if ferr := writeContainer(outputPath, levels[:1], nil, nil, ppcm, opts.TileSize, opts); ferr != nil {
			return nil, ferr
		}
		res.Fallback = true
		res.Levels = 1
	}
	res.Outputs = append(res.Outputs, outputPath)

	if opts.Pyramid512 {
		p512 := siblingPath(outputPath, "_512", ".tiff")
		levels512 := pyramid.Generate(canvas, 512)
		if err := writeContainer(p512, levels512, macro, label, ppcm, 512, opts); err != nil {
			return nil, err
		}
		res.Outputs = append(res.Outputs, p512)
	}

	if opts.XMLSidecar {
		doc := philips.Document{
			SourceFile:     filepath.Base(inputPath),
			Width:          width,
			Height:         height,
			PixelSpacingMM: spacingX / 1000,
			Quality:        opts.Quality,
			Macro:          macroRaw,
			Label:          labelRaw,
		}
		for _, lvl := range levels {
			doc.Levels = append(doc.Levels, philips.Level{Width: lvl.Width, Height: lvl.Height})
		}
		xmlPath := siblingPath(outputPath, "", ".xml")
		if err := os.WriteFile(xmlPath, []byte(doc.Render()), 0o644); err != nil {
			return nil, fmt.Errorf("convert: write sidecar: %w", err)
		}
		res.Outputs = append(res.Outputs, xmlPath)
	}

	res.Duration = time.Since(started)
	if res.Fallback {
		log.Warnf("converted %s with degraded output in %s", filepath.Base(inputPath), res.Duration.Round(time.Millisecond))
	} else {
		log.Infof("converted %s in %s", filepath.Base(inputPath), res.Duration.Round(time.Millisecond))
	}
	return res, nil
}

func hasImage(src isyntax.Source, kind isyntax.ImageKind) bool {
	for _, k := range src.Images() {
		if k == kind {
			return true
		}
	}
	return false
}

// loadAssociated returns the raw encoded payload and its decoded
// raster. A missing or undecodable sub-image is logged and omitted
// rather than failing the conversion.
func loadAssociated(src isyntax.Source, kind isyntax.ImageKind, log *logrus.Entry) ([]byte, *raster.Image) {
	if !hasImage(src, kind) {
		return nil, nil
	}
	raw, err := src.AssociatedImage(kind)
	if err != nil {
		log.WithError(err).Warnf("%s unavailable, omitting", kind)
		return nil, nil
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		log.WithError(err).Warnf("%s payload undecodable, omitting", kind)
		return nil, nil
	}
	b := img.Bounds()
	out := raster.NewImage(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := (y*b.Dx() + x) * raster.Channels
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(bl >> 8)
		}
	}
	return raw, out
}

// writeContainer is a variable so tests can stand in a failing writer.
var writeContainer = func(path string, levels []*raster.Image, macro, label *raster.Image, ppcm float64, tileSize int, opts Options) error {
	w, err := pyrtiff.NewWriter(path)
	if err != nil {
		return err
	}
	defer w.Close()

	for i, lvl := range levels {
		cfg := pyrtiff.DirConfig{
			Reduced:  i > 0,
			TileSize: tileSize,
			Codec:    opts.Codec,
			Quality:  opts.Quality,
		}
		if ppcm > 0 {
			cfg.PixelsPerCM = ppcm / float64(uint64(1)<<uint(i))
		}
		if err := w.AppendTiled(lvl, cfg); err != nil {
			return err
		}
	}
	aux := []struct {
		img  *raster.Image
		desc string
	}{{macro, "Macro"}, {label, "Label"}}
	for _, a := range aux {
		if a.img == nil {
			continue
		}
		cfg := pyrtiff.DirConfig{
			Reduced:     true,
			Codec:       opts.Codec,
			Quality:     opts.Quality,
			Description: a.desc,
		}
		if err := w.AppendStripped(a.img, cfg); err != nil {
			return err
		}
	}
	return w.Finalize()
}

// siblingPath swaps the extension of path and appends suffix to the
// stem, keeping the directory.
func siblingPath(path, suffix, ext string) string {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	return stem + suffix + ext
}
