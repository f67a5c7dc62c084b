package raster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ccpvault00/isyntax2tiff/pkg/isyntax"
)

// FetchConfig bounds the fetch pipeline.
type FetchConfig struct {
	// BatchSize patches are requested from the source at a time.
	BatchSize int
	// MaxWorkers caps concurrently running assembly jobs.
	MaxWorkers int
	// BatchTimeout bounds how long a batch may go without any region
	// becoming ready.
	BatchTimeout time.Duration
	// Fill is the background color for uncovered areas.
	Fill [3]uint8
}

// Fetcher drains planned patches from a region source into a canvas.
// The driving loop is single-goroutine; assembly runs on a worker pool
// whose admission gate blocks submission once MaxWorkers jobs are in
// flight.
type Fetcher struct {
	src  isyntax.Source
	log  *logrus.Entry
	cfg  FetchConfig
	gate *semaphore.Weighted
}

// NewFetcher creates a fetcher over an open source.
func NewFetcher(src isyntax.Source, log *logrus.Entry, cfg FetchConfig) *Fetcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 250
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Minute
	}
	return &Fetcher{
		src:  src,
		log:  log,
		cfg:  cfg,
		gate: semaphore.NewWeighted(int64(cfg.MaxWorkers)),
	}
}

// Run fetches every patch and assembles it into the canvas. Regions are
// dispatched in readiness order and placed by grid cell, never by
// request order. A single tile's failure is logged and leaves its
// rectangle at the fill color; Run reports how many tiles degraded that
// way. Run returns only after every submitted assembly job finished.
func (f *Fetcher) Run(ctx context.Context, patches []isyntax.Patch, canvas *Image, tileWidth, tileHeight int) (int, error) {
	var wg sync.WaitGroup
	var degraded atomic.Int64
	defer wg.Wait()

	// Ready regions identify themselves only by their coordinate
	// range, so index the grid by request origin.
	byOrigin := make(map[[2]int]isyntax.Patch, len(patches))
	for _, p := range patches {
		byOrigin[[2]int{p.XStart, p.YStart}] = p
	}

	for start, batchNo := 0, 0; start < len(patches); start, batchNo = start+f.cfg.BatchSize, batchNo+1 {
		batch := patches[start:min(start+f.cfg.BatchSize, len(patches))]
		pending, err := f.src.RequestRegions(batch, f.cfg.Fill)
		if err != nil {
			return int(degraded.Load()), err
		}
		f.log.Debugf("batch %d: %d regions requested", batchNo, len(batch))

		for pending.Remaining() > 0 {
			// Fresh deadline per wait: a batch that keeps yielding
			// regions never times out, only a stalled one does.
			wctx, cancel := context.WithTimeout(ctx, f.cfg.BatchTimeout)
			ready, err := pending.WaitAny(wctx)
			cancel()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
					return int(degraded.Load()), &isyntax.TimeoutError{Batch: batchNo, Wait: f.cfg.BatchTimeout}
				}
				return int(degraded.Load()), err
			}
			for _, region := range ready {
				x0, _, y0, _, _ := region.Range()
				patch, ok := byOrigin[[2]int{x0, y0}]
				if !ok {
					degraded.Add(1)
					f.log.Warnf("region at (%d,%d) matches no requested patch", x0, y0)
					continue
				}
				if err := f.gate.Acquire(ctx, 1); err != nil {
					return int(degraded.Load()), err
				}
				wg.Add(1)
				go func(region isyntax.Region, patch isyntax.Patch) {
					defer wg.Done()
					defer f.gate.Release(1)
					if err := AssembleRegion(canvas, region, patch, tileWidth, tileHeight); err != nil {
						degraded.Add(1)
						f.log.WithError(err).Warnf("tile (%d,%d) left at fill color", patch.TileX, patch.TileY)
					}
				}(region, patch)
			}
		}
	}

	wg.Wait()
	return int(degraded.Load()), nil
}
