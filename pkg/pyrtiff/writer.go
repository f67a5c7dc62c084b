// Package pyrtiff writes pyramidal BigTIFF containers: a chain of
// tiled directories holding the resolution pyramid, base level first,
// followed by optional strip-layout associated images. Tile data is
// streamed to the file as it is encoded; the directory chain is
// emitted on Finalize and the header patched to point at it.
package pyrtiff

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/ccpvault00/isyntax2tiff/internal/raster"
)

// WriteError reports a container assembly failure.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("pyrtiff: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// DirConfig describes one directory to append.
type DirConfig struct {
	// Reduced flags the directory as a reduced-resolution subfile.
	// Exactly the first directory of a pyramid leaves this false.
	Reduced bool
	// TileSize is the internal tile edge for AppendTiled.
	TileSize int
	Codec    Codec
	// Quality applies to the JPEG codec only.
	Quality int
	// PixelsPerCM emits resolution tags when positive. Associated
	// images leave it zero.
	PixelsPerCM float64
	// Description becomes the ImageDescription tag when non-empty.
	Description string
}

const bigtiffHeaderSize = 16

// Writer assembles one BigTIFF file.
type Writer struct {
	path      string
	f         *os.File
	offset    uint64
	dirs      []*ifd
	finalized bool

	// Software is stamped on the first directory.
	Software string
}

// NewWriter creates the output file and reserves the header.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &WriteError{Path: path, Op: "create", Err: err}
	}
	w := &Writer{path: path, f: f, Software: "isyntax2tiff"}

	var header [bigtiffHeaderSize]byte
	copy(header[0:], "II")
	binary.LittleEndian.PutUint16(header[2:], 43)
	binary.LittleEndian.PutUint16(header[4:], 8)
	binary.LittleEndian.PutUint16(header[6:], 0)
	// First-IFD offset stays zero until Finalize knows it.
	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		return nil, &WriteError{Path: path, Op: "write header", Err: err}
	}
	w.offset = bigtiffHeaderSize
	return w, nil
}

// AppendTiled appends a tile-layout directory for img.
func (w *Writer) AppendTiled(img *raster.Image, cfg DirConfig) error {
	if cfg.TileSize <= 0 {
		return &WriteError{Path: w.path, Op: "append", Err: fmt.Errorf("tile size %d", cfg.TileSize)}
	}
	ts := cfg.TileSize
	tilesX := (img.Width + ts - 1) / ts
	tilesY := (img.Height + ts - 1) / ts

	offsets := make([]uint64, 0, tilesX*tilesY)
	counts := make([]uint64, 0, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			block := tileBlock(img, tx*ts, ty*ts, ts)
			data, err := encodeBlock(cfg.Codec, cfg.Quality, block)
			if err != nil {
				return &WriteError{Path: w.path, Op: "encode tile", Err: err}
			}
			off, err := w.writeData(data)
			if err != nil {
				return err
			}
			offsets = append(offsets, off)
			counts = append(counts, uint64(len(data)))
		}
	}

	d := w.newDir(img, cfg)
	d.addShorts(tagTileWidth, uint16(ts))
	d.addShorts(tagTileLength, uint16(ts))
	d.addLong8s(tagTileOffsets, offsets)
	d.addLong8s(tagTileByteCounts, counts)
	w.dirs = append(w.dirs, d)
	return nil
}

// AppendStripped appends a single-strip directory, the thumbnail-style
// layout downstream consumers expect for associated images.
func (w *Writer) AppendStripped(img *raster.Image, cfg DirConfig) error {
	data, err := encodeBlock(cfg.Codec, cfg.Quality, img)
	if err != nil {
		return &WriteError{Path: w.path, Op: "encode strip", Err: err}
	}
	off, err := w.writeData(data)
	if err != nil {
		return err
	}

	d := w.newDir(img, cfg)
	d.addLong8s(tagStripOffsets, []uint64{off})
	d.addLong(tagRowsPerStrip, uint32(img.Height))
	d.addLong8s(tagStripByteCounts, []uint64{uint64(len(data))})
	w.dirs = append(w.dirs, d)
	return nil
}

// Finalize writes the directory chain and patches the header. The
// writer accepts no further directories afterwards.
func (w *Writer) Finalize() error {
	if w.finalized {
		return &WriteError{Path: w.path, Op: "finalize", Err: fmt.Errorf("already finalized")}
	}
	if len(w.dirs) == 0 {
		return &WriteError{Path: w.path, Op: "finalize", Err: fmt.Errorf("no directories")}
	}

	offs := make([]uint64, len(w.dirs))
	cur := w.offset
	for i, d := range w.dirs {
		offs[i] = cur
		cur += uint64(d.size())
	}
	for i, d := range w.dirs {
		next := uint64(0)
		if i+1 < len(w.dirs) {
			next = offs[i+1]
		}
		if _, err := w.writeData(d.encode(offs[i], next)); err != nil {
			return err
		}
	}

	var first [8]byte
	binary.LittleEndian.PutUint64(first[:], offs[0])
	if _, err := w.f.WriteAt(first[:], 8); err != nil {
		return &WriteError{Path: w.path, Op: "patch header", Err: err}
	}
	w.finalized = true
	return nil
}

// Close closes the underlying file. It is safe to call on error paths
// before Finalize.
func (w *Writer) Close() error {
	return w.f.Close()
}

// Dirs reports how many directories have been appended.
func (w *Writer) Dirs() int { return len(w.dirs) }

func (w *Writer) writeData(data []byte) (uint64, error) {
	off := w.offset
	if _, err := w.f.Write(data); err != nil {
		return 0, &WriteError{Path: w.path, Op: "write", Err: err}
	}
	w.offset += uint64(len(data))
	if w.offset%2 == 1 {
		if _, err := w.f.Write([]byte{0}); err != nil {
			return 0, &WriteError{Path: w.path, Op: "write", Err: err}
		}
		w.offset++
	}
	return off, nil
}

func (w *Writer) newDir(img *raster.Image, cfg DirConfig) *ifd {
	d := &ifd{}
	if cfg.Reduced {
		d.addLong(tagNewSubfileType, subfileReducedImage)
	} else {
		d.addLong(tagNewSubfileType, subfileFullResolution)
	}
	d.addLong(tagImageWidth, uint32(img.Width))
	d.addLong(tagImageLength, uint32(img.Height))
	d.addShorts(tagBitsPerSample, 8, 8, 8)
	d.addShorts(tagCompression, cfg.Codec.compressionTag())
	d.addShorts(tagPhotometric, cfg.Codec.photometric())
	if cfg.Description != "" {
		d.addASCII(tagImageDescription, cfg.Description)
	}
	d.addShorts(tagSamplesPerPixel, raster.Channels)
	d.addShorts(tagPlanarConfig, 1)
	if cfg.PixelsPerCM > 0 {
		num := uint32(math.Round(cfg.PixelsPerCM * 100))
		d.addRational(tagXResolution, num, 100)
		d.addRational(tagYResolution, num, 100)
		d.addShorts(tagResolutionUnit, resolutionUnitCM)
	}
	if len(w.dirs) == 0 && w.Software != "" {
		d.addASCII(tagSoftware, w.Software)
	}
	if cfg.Codec == CodecJPEG {
		// The Go encoder always subsamples chroma 2x2.
		d.addShorts(tagYCbCrSubSampling, 2, 2)
	}
	return d
}

// tileBlock copies the tile at (x0,y0) into a full-size block,
// zero-padding past the image edge.
func tileBlock(img *raster.Image, x0, y0, ts int) *raster.Image {
	block := raster.NewImage(ts, ts)
	rows := min(ts, img.Height-y0)
	cols := min(ts, img.Width-x0)
	for y := 0; y < rows; y++ {
		src := ((y0+y)*img.Width + x0) * raster.Channels
		dst := y * ts * raster.Channels
		copy(block.Pix[dst:dst+cols*raster.Channels], img.Pix[src:src+cols*raster.Channels])
	}
	return block
}
