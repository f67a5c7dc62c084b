package pyrtiff

import (
	"encoding/binary"
	"sort"
)

// ifd models one BigTIFF image file directory. Entries collect tag
// payloads; encode lays them out with an overflow area directly behind
// the directory for values wider than the 8 inline bytes.
type ifd struct {
	entries []entry
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte // little-endian payload
}

func (d *ifd) add(tag, typ uint16, count uint64, data []byte) {
	d.entries = append(d.entries, entry{tag: tag, typ: typ, count: count, data: data})
}

func (d *ifd) addShorts(tag uint16, vs ...uint16) {
	data := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	d.add(tag, typeShort, uint64(len(vs)), data)
}

func (d *ifd) addLong(tag uint16, v uint32) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	d.add(tag, typeLong, 1, data)
}

func (d *ifd) addLong8s(tag uint16, vs []uint64) {
	data := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(data[8*i:], v)
	}
	d.add(tag, typeLong8, uint64(len(vs)), data)
}

func (d *ifd) addASCII(tag uint16, s string) {
	data := append([]byte(s), 0)
	d.add(tag, typeASCII, uint64(len(data)), data)
}

func (d *ifd) addRational(tag uint16, num, den uint32) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data, num)
	binary.LittleEndian.PutUint32(data[4:], den)
	d.add(tag, typeRational, 1, data)
}

// tableSize is the byte size of the directory proper: entry count,
// 20-byte entries, next-IFD pointer.
func (d *ifd) tableSize() int {
	return 8 + 20*len(d.entries) + 8
}

func (d *ifd) overflowSize() int {
	n := 0
	for _, e := range d.entries {
		if len(e.data) > 8 {
			n += len(e.data) + len(e.data)%2
		}
	}
	return n
}

// size is the total encoded footprint including overflow.
func (d *ifd) size() int {
	return d.tableSize() + d.overflowSize()
}

// encode serializes the directory as placed at file offset off, with
// next pointing at the following directory (0 terminates the chain).
func (d *ifd) encode(off, next uint64) []byte {
	sort.Slice(d.entries, func(i, j int) bool { return d.entries[i].tag < d.entries[j].tag })

	out := make([]byte, 0, d.size())
	out = binary.LittleEndian.AppendUint64(out, uint64(len(d.entries)))

	overflow := make([]byte, 0, d.overflowSize())
	overflowOff := off + uint64(d.tableSize())
	for _, e := range d.entries {
		out = binary.LittleEndian.AppendUint16(out, e.tag)
		out = binary.LittleEndian.AppendUint16(out, e.typ)
		out = binary.LittleEndian.AppendUint64(out, e.count)
		var value [8]byte
		if len(e.data) <= 8 {
			copy(value[:], e.data)
		} else {
			binary.LittleEndian.PutUint64(value[:], overflowOff+uint64(len(overflow)))
			overflow = append(overflow, e.data...)
			if len(e.data)%2 == 1 {
				overflow = append(overflow, 0)
			}
		}
		out = append(out, value[:]...)
	}
	out = binary.LittleEndian.AppendUint64(out, next)
	return append(out, overflow...)
}
