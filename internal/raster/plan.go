package raster

import (
	"fmt"

	"github.com/ccpvault00/isyntax2tiff/pkg/isyntax"
)

// Plan partitions a resolution level into a tile grid and returns the
// region requests covering it, row-major. The grid cells are disjoint
// in canvas coordinates, which is what makes lock-free concurrent
// canvas writes safe downstream; edge tiles are clipped to the true
// image boundary instead of overrunning it.
func Plan(dims [2]isyntax.DimensionRange, tileWidth, tileHeight int) ([]isyntax.Patch, error) {
	if tileWidth <= 0 || tileHeight <= 0 {
		return nil, &ConfigError{fmt.Sprintf("tile size %dx%d is not positive", tileWidth, tileHeight)}
	}
	level, err := Level(dims[0], dims[1])
	if err != nil {
		return nil, err
	}
	width, err := PixelLength(dims[0])
	if err != nil {
		return nil, err
	}
	height, err := PixelLength(dims[1])
	if err != nil {
		return nil, err
	}

	step := dims[0].Step
	tilesX := (width + tileWidth - 1) / tileWidth
	tilesY := (height + tileHeight - 1) / tileHeight
	spanX := tileWidth * step
	spanY := tileHeight * step

	patches := make([]isyntax.Patch, 0, tilesX*tilesY)
	for y := 0; y < tilesY; y++ {
		yStart := dims[1].Start + y*spanY
		// Source coordinates address pixels inclusively, hence the
		// trailing -step on both the nominal and the clipped end.
		yEnd := min(yStart+spanY-step, dims[1].End-step)
		for x := 0; x < tilesX; x++ {
			xStart := dims[0].Start + x*spanX
			xEnd := min(xStart+spanX-step, dims[0].End-step)
			patches = append(patches, isyntax.Patch{
				XStart: xStart, XEnd: xEnd,
				YStart: yStart, YEnd: yEnd,
				Level: level,
				TileX: x, TileY: y,
			})
		}
	}
	return patches, nil
}
