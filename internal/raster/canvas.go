package raster

import (
	"image"
	"image/color"
)

// Channels is the fixed sample count per pixel. The pipeline is RGB
// throughout.
const Channels = 3

// Image is a row-major, channel-interleaved RGB raster. It implements
// image.Image so encoders can consume it directly.
type Image struct {
	Pix    []byte
	Width  int
	Height int
}

// NewImage allocates a zeroed raster.
func NewImage(width, height int) *Image {
	return &Image{
		Pix:    make([]byte, width*height*Channels),
		Width:  width,
		Height: height,
	}
}

// NewCanvas allocates the shared full-resolution canvas, pre-filled
// with the background color. Fetch workers each mutate a disjoint
// rectangle of it, so no locking is involved.
func NewCanvas(width, height int, fill uint8) *Image {
	c := NewImage(width, height)
	if fill != 0 {
		for i := range c.Pix {
			c.Pix[i] = fill
		}
	}
	return c
}

func (im *Image) ColorModel() color.Model { return color.RGBAModel }

func (im *Image) Bounds() image.Rectangle { return image.Rect(0, 0, im.Width, im.Height) }

func (im *Image) At(x, y int) color.Color {
	i := (y*im.Width + x) * Channels
	return color.RGBA{im.Pix[i], im.Pix[i+1], im.Pix[i+2], 0xff}
}

// RGBAt avoids the color.Color boxing of At on hot paths.
func (im *Image) RGBAt(x, y int) [3]uint8 {
	i := (y*im.Width + x) * Channels
	return [3]uint8{im.Pix[i], im.Pix[i+1], im.Pix[i+2]}
}
