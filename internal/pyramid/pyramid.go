// Package pyramid derives the reduced-resolution level sequence of a
// pyramidal image from its full-resolution raster.
package pyramid

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/ccpvault00/isyntax2tiff/internal/raster"
)

const (
	// DefaultFloor is the practical stopping threshold: no accepted
	// level is smaller than this in either dimension.
	DefaultFloor = 512
	// MinFloor is the hard lower bound a configured floor is clamped
	// to.
	MinFloor = 256
)

// Generate returns the level sequence, finest first. Level 0 is the
// source raster itself, unmodified; each following level halves both
// dimensions of its predecessor with a Catmull-Rom kernel. Generation
// stops before the first level that would drop below the floor in
// either dimension.
func Generate(src *raster.Image, floor int) []*raster.Image {
	if floor < MinFloor {
		floor = MinFloor
	}
	levels := []*raster.Image{src}
	cur := toRGBA(src)
	for {
		w := cur.Rect.Dx() / 2
		h := cur.Rect.Dy() / 2
		if w < floor || h < floor {
			break
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Rect, cur, cur.Rect, draw.Src, nil)
		levels = append(levels, fromRGBA(dst))
		cur = dst
	}
	return levels
}

func toRGBA(im *raster.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	si, di := 0, 0
	for p := 0; p < im.Width*im.Height; p++ {
		out.Pix[di] = im.Pix[si]
		out.Pix[di+1] = im.Pix[si+1]
		out.Pix[di+2] = im.Pix[si+2]
		out.Pix[di+3] = 0xff
		si += 3
		di += 4
	}
	return out
}

func fromRGBA(im *image.RGBA) *raster.Image {
	w, h := im.Rect.Dx(), im.Rect.Dy()
	out := raster.NewImage(w, h)
	di := 0
	for y := 0; y < h; y++ {
		si := im.PixOffset(0, y)
		for x := 0; x < w; x++ {
			out.Pix[di] = im.Pix[si]
			out.Pix[di+1] = im.Pix[si+1]
			out.Pix[di+2] = im.Pix[si+2]
			si += 4
			di += 3
		}
	}
	return out
}
