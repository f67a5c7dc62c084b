// Package raster turns a level of an iSyntax region source into one
// contiguous full-resolution RGB raster: it validates the level
// geometry, partitions it into a patch grid, drives batched region
// fetches under a bounded worker pool and assembles the returned
// samples into a shared canvas.
package raster

import (
	"fmt"
	"math/bits"

	"github.com/ccpvault00/isyntax2tiff/pkg/isyntax"
)

// ConfigError reports inconsistent level geometry. It is fatal and
// surfaces before any fetch work starts.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "raster: " + e.Reason }

// PixelLength returns the pixel extent of one axis. The source range
// must divide evenly by its step.
func PixelLength(r isyntax.DimensionRange) (int, error) {
	if r.Step <= 0 {
		return 0, &ConfigError{fmt.Sprintf("axis step %d is not positive", r.Step)}
	}
	span := r.End - r.Start
	if span < 0 || span%r.Step != 0 {
		return 0, &ConfigError{fmt.Sprintf("(%d - %d) / %d leaves a remainder", r.End, r.Start, r.Step)}
	}
	return span / r.Step, nil
}

// Level verifies that both axis steps agree and are a power of two, and
// returns log2(step).
func Level(x, y isyntax.DimensionRange) (int, error) {
	if x.Step != y.Step {
		return 0, &ConfigError{fmt.Sprintf("axis steps %d and %d disagree", x.Step, y.Step)}
	}
	if x.Step <= 0 || x.Step&(x.Step-1) != 0 {
		return 0, &ConfigError{fmt.Sprintf("axis step %d is not a power of two", x.Step)}
	}
	return bits.TrailingZeros(uint(x.Step)), nil
}
