package pyrtiff

import "bytes"

// TIFF-flavored LZW: MSB-first bit packing with the early code-width
// change, which is what makes the stdlib compress/lzw writer produce
// streams TIFF readers reject. golang.org/x/image/tiff/lzw covers the
// read side only, so the encoder lives here.

const (
	lzwClearCode = 256
	lzwEOICode   = 257
	lzwFirstCode = 258
	lzwMaxCode   = 4094
)

type lzwBitWriter struct {
	buf   bytes.Buffer
	bits  uint32
	nbits uint
}

func (w *lzwBitWriter) write(code uint32, width uint) {
	w.bits |= code << (32 - width - w.nbits)
	w.nbits += width
	for w.nbits >= 8 {
		w.buf.WriteByte(byte(w.bits >> 24))
		w.bits <<= 8
		w.nbits -= 8
	}
}

func (w *lzwBitWriter) flush() {
	if w.nbits > 0 {
		w.buf.WriteByte(byte(w.bits >> 24))
		w.bits = 0
		w.nbits = 0
	}
}

func lzwCompress(src []byte) []byte {
	var w lzwBitWriter
	width := uint(9)
	w.write(lzwClearCode, width)
	if len(src) == 0 {
		w.write(lzwEOICode, width)
		w.flush()
		return w.buf.Bytes()
	}

	table := make(map[uint32]uint32, 1<<12)
	nextCode := uint32(lzwFirstCode)
	prefix := uint32(src[0])
	for _, b := range src[1:] {
		key := prefix<<8 | uint32(b)
		if code, ok := table[key]; ok {
			prefix = code
			continue
		}
		w.write(prefix, width)
		table[key] = nextCode
		nextCode++
		// Early change: the width grows one code before the table
		// index space is actually exhausted.
		if nextCode == 1<<width && width < 12 {
			width++
		}
		if nextCode >= lzwMaxCode {
			w.write(lzwClearCode, width)
			table = make(map[uint32]uint32, 1<<12)
			nextCode = lzwFirstCode
			width = 9
		}
		prefix = uint32(b)
	}
	w.write(prefix, width)
	// The decoder grows a table entry for the final code too, so the
	// width change can land between it and the terminator.
	nextCode++
	if nextCode == 1<<width && width < 12 {
		width++
	}
	w.write(lzwEOICode, width)
	w.flush()
	return w.buf.Bytes()
}
