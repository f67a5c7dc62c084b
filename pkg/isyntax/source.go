// Package isyntax models the capability surface of a Philips iSyntax
// region source. The actual vendor SDK is an external binding registered
// at startup; this package only defines the contract the conversion
// pipeline consumes, the two SDK dialect adapters, and a synthetic
// in-memory source for tests and demos.
package isyntax

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ImageKind identifies a sub-image embedded in an iSyntax container.
type ImageKind string

const (
	KindWSI   ImageKind = "WSI"
	KindMacro ImageKind = "MACROIMAGE"
	KindLabel ImageKind = "LABELIMAGE"
)

// DimensionRange describes one axis of a resolution level in source
// coordinates: start, step and end. Step is 2^level; the axis spans
// (End-Start)/Step pixels.
type DimensionRange struct {
	Start int
	Step  int
	End   int
}

// Patch is a rectangular region request in source coordinates plus the
// destination grid cell it maps to. Patches are immutable once planned
// and consumed exactly once by the fetch scheduler.
type Patch struct {
	XStart, XEnd int
	YStart, YEnd int
	Level        int
	TileX, TileY int
}

// Region is one fetched region of a batch request.
type Region interface {
	// Range returns the realized source-coordinate range. The end
	// coordinates are inclusive, so the realized pixel width is
	// 1 + (xEnd-xStart)/step.
	Range() (xStart, xEnd, yStart, yEnd, level int)

	// Read fills buf with interleaved RGB samples. buf must hold
	// width*height*3 bytes for the realized pixel size.
	Read(buf []byte) error
}

// PendingSet tracks the outstanding regions of one batch request.
type PendingSet interface {
	// WaitAny blocks until at least one region of the set is ready and
	// returns the ready regions, removing them from the set. Readiness
	// order is unrelated to request order.
	WaitAny(ctx context.Context) ([]Region, error)

	// Remaining reports how many regions have not yet been returned.
	Remaining() int
}

// Source is an open iSyntax file. Implementations are safe for use from
// the single fetch-driving goroutine; Region.Read may be called
// concurrently from assembly workers.
type Source interface {
	// Images lists the sub-images present in the container.
	Images() []ImageKind

	// NumLevels reports the number of derived resolution levels of the
	// WSI sub-image.
	NumLevels() int

	// DimensionRanges returns the x and y axis ranges of the WSI
	// sub-image at the given level.
	DimensionRanges(level int) ([2]DimensionRange, error)

	// PixelSpacing returns the level-0 pixel size in micrometers.
	PixelSpacing() (x, y float64)

	// AssociatedImage returns the encoded payload (typically JPEG) of a
	// macro or label sub-image.
	AssociatedImage(kind ImageKind) ([]byte, error)

	// RequestRegions issues one multi-region request. Absent coverage is
	// rendered in the fill color.
	RequestRegions(patches []Patch, fill [3]uint8) (PendingSet, error)

	Close() error
}

// SourceError reports a failure at the external region source. It is
// fatal for the whole file.
type SourceError struct {
	Path string
	Op   string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("isyntax: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// TimeoutError reports an expired wait-any deadline. An unresponsive
// source would otherwise hang the conversion indefinitely.
type TimeoutError struct {
	Batch int
	Wait  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("isyntax: batch %d not ready after %s", e.Batch, e.Wait)
}

// openBinding is installed by an SDK binding via RegisterBinding. The
// returned handle is probed for its dialect in Open.
var openBinding func(path string) (any, error)

// RegisterBinding installs the vendor SDK binding used by Open. The
// binding's handles must satisfy either LegacyHandle or Handle.
func RegisterBinding(open func(path string) (any, error)) {
	openBinding = open
}

// Open opens an iSyntax file and selects the SDK dialect once, based on
// what the returned handle supports. No call site needs to care about
// the dialect afterwards.
//
// Paths of the form "synthetic:WxH" open a deterministic in-memory
// source instead; this needs no SDK and exists for tests and demos.
func Open(path string) (Source, error) {
	if strings.HasPrefix(path, syntheticScheme) {
		return openSynthetic(path)
	}
	if openBinding == nil {
		return nil, &SourceError{Path: path, Op: "open", Err: fmt.Errorf("no SDK binding registered")}
	}
	h, err := openBinding(path)
	if err != nil {
		return nil, &SourceError{Path: path, Op: "open", Err: err}
	}
	switch h := h.(type) {
	case Handle:
		return newSource(h), nil
	case LegacyHandle:
		return newLegacySource(h), nil
	default:
		return nil, &SourceError{Path: path, Op: "open", Err: fmt.Errorf("binding handle %T matches no known SDK dialect", h)}
	}
}
