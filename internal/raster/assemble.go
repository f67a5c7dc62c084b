package raster

import (
	"fmt"

	"github.com/ccpvault00/isyntax2tiff/pkg/isyntax"
)

// AssembleRegion reads a fetched region and writes it into the canvas
// at the offset derived from its grid cell. The realized region size is
// taken from the returned coordinate range, which can be smaller than
// the nominal tile size on the last row and column. A failure here is a
// per-tile matter: the caller logs it and leaves the cell at fill
// color.
func AssembleRegion(canvas *Image, region isyntax.Region, patch isyntax.Patch, tileWidth, tileHeight int) error {
	xStart, xEnd, yStart, yEnd, level := region.Range()
	step := 1 << level
	width := 1 + (xEnd-xStart)/step
	height := 1 + (yEnd-yStart)/step
	if width <= 0 || height <= 0 {
		return fmt.Errorf("region (%d,%d) has realized size %dx%d", patch.TileX, patch.TileY, width, height)
	}

	buf := make([]byte, width*height*Channels)
	if err := region.Read(buf); err != nil {
		return fmt.Errorf("read region (%d,%d): %w", patch.TileX, patch.TileY, err)
	}

	// The source's native layout wants de-interleaving before any
	// reshape; split into channel planes, then recombine row-major
	// while copying into place.
	planes := makePlanar(buf, width, height)

	x0 := patch.TileX * tileWidth
	y0 := patch.TileY * tileHeight
	maxX := min(x0+width, canvas.Width)
	maxY := min(y0+height, canvas.Height)
	for y := y0; y < maxY; y++ {
		row := (y - y0) * width
		dst := (y*canvas.Width + x0) * Channels
		for x := x0; x < maxX; x++ {
			src := row + (x - x0)
			canvas.Pix[dst] = planes[0][src]
			canvas.Pix[dst+1] = planes[1][src]
			canvas.Pix[dst+2] = planes[2][src]
			dst += Channels
		}
	}
	return nil
}

// makePlanar splits interleaved RGB samples into three channel planes.
func makePlanar(pix []byte, width, height int) [3][]byte {
	n := width * height
	var planes [3][]byte
	for c := 0; c < Channels; c++ {
		planes[c] = make([]byte, n)
		for i := 0; i < n; i++ {
			planes[c][i] = pix[i*Channels+c]
		}
	}
	return planes
}
