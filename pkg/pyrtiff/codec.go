package pyrtiff

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/klauspost/compress/zlib"

	"github.com/ccpvault00/isyntax2tiff/internal/raster"
)

// Codec selects the per-block compression scheme.
type Codec string

const (
	CodecJPEG    Codec = "jpeg"
	CodecLZW     Codec = "lzw"
	CodecDeflate Codec = "deflate"
	CodecNone    Codec = "none"
)

// ParseCodec validates a user-supplied codec name.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(s); c {
	case CodecJPEG, CodecLZW, CodecDeflate, CodecNone:
		return c, nil
	default:
		return "", fmt.Errorf("pyrtiff: unknown compression %q (want jpeg, lzw, deflate or none)", s)
	}
}

func (c Codec) compressionTag() uint16 {
	switch c {
	case CodecJPEG:
		return compressionJPEG
	case CodecLZW:
		return compressionLZW
	case CodecDeflate:
		return compressionDeflate
	default:
		return compressionNone
	}
}

func (c Codec) photometric() uint16 {
	if c == CodecJPEG {
		return photometricYCbCr
	}
	return photometricRGB
}

// encodeBlock compresses one tile or strip of interleaved RGB samples.
func encodeBlock(c Codec, quality int, block *raster.Image) ([]byte, error) {
	switch c {
	case CodecJPEG:
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, block, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CodecDeflate:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(block.Pix); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CodecLZW:
		return lzwCompress(block.Pix), nil
	default:
		out := make([]byte, len(block.Pix))
		copy(out, block.Pix)
		return out, nil
	}
}
