package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"hashmatch/internal/pkg/hash"
)

// Blob layout, little-endian throughout:
//
//	magic   [4]byte "HMIX"
//	version uint16
//	namelen uint8, name []byte   signal type
//	kind    uint8
//	payload (kind specific)
//	sum     uint64               xxhash64 of every preceding byte
//
// Hash payload: uint32 distinct, then per row 16 x uint16 words (word 0
// first), uint32 id count, int64 ids.
// Exact payload: uint32 distinct, then per row uint16 value length, value,
// uint32 id count, int64 ids.
const (
	// FormatVersion is the only blob version this package reads and writes.
	FormatVersion uint16 = 1

	maxPrealloc = 1 << 20
)

var magic = [4]byte{'H', 'M', 'I', 'X'}

// Encode writes idx for signalType to w.
func Encode(w io.Writer, signalType string, idx Index) error {
	if len(signalType) == 0 || len(signalType) > 255 {
		return fmt.Errorf("signal type name %q must be 1-255 bytes", signalType)
	}
	sum := hash.NewChecksum()
	bw := bufio.NewWriterSize(io.MultiWriter(w, sum), 64<<10)
	enc := &encoder{w: bw}

	enc.bytes(magic[:])
	enc.u16(FormatVersion)
	enc.u8(uint8(len(signalType)))
	enc.bytes([]byte(signalType))
	enc.u8(uint8(idx.Kind()))

	switch v := idx.(type) {
	case *Flat:
		enc.table(&v.table)
	case *MIH:
		enc.table(&v.table)
	case *Exact:
		enc.exact(v)
	default:
		return fmt.Errorf("cannot encode index of type %T", idx)
	}
	if enc.err != nil {
		return enc.err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], sum.Sum64())
	_, err := w.Write(trailer[:])
	return err
}

// Decode reads a blob written by Encode. Any structural problem is reported
// as ErrCorruptIndex.
func Decode(r io.Reader) (string, Index, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	sum := hash.NewChecksum()
	dec := &decoder{r: io.TeeReader(br, sum)}

	var m [4]byte
	dec.full(m[:])
	if dec.err == nil && m != magic {
		return "", nil, fmt.Errorf("%w: bad magic %q", ErrCorruptIndex, m[:])
	}
	version := dec.u16()
	if dec.err == nil && version != FormatVersion {
		return "", nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, version)
	}
	name := make([]byte, dec.u8())
	dec.full(name)
	kind := Kind(dec.u8())
	if dec.err != nil {
		return "", nil, dec.corrupt()
	}

	var idx Index
	switch kind {
	case KindFlat:
		idx = newFlat(dec.table())
	case KindMIH:
		t := dec.table()
		if dec.err == nil {
			idx = newMIH(t)
		}
	case KindExact:
		idx = dec.exact()
	default:
		return "", nil, fmt.Errorf("%w: unknown index kind %d", ErrCorruptIndex, kind)
	}
	if dec.err != nil {
		return "", nil, dec.corrupt()
	}

	var trailer [8]byte
	if _, err := io.ReadFull(br, trailer[:]); err != nil {
		return "", nil, fmt.Errorf("%w: missing checksum: %v", ErrCorruptIndex, err)
	}
	if got, want := sum.Sum64(), binary.LittleEndian.Uint64(trailer[:]); got != want {
		return "", nil, fmt.Errorf("%w: checksum mismatch %016x != %016x", ErrCorruptIndex, got, want)
	}
	return string(name), idx, nil
}

type encoder struct {
	w   *bufio.Writer
	buf [8]byte
	err error
}

func (e *encoder) bytes(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *encoder) u8(v uint8) { e.bytes([]byte{v}) }

func (e *encoder) u16(v uint16) {
	binary.LittleEndian.PutUint16(e.buf[:2], v)
	e.bytes(e.buf[:2])
}

func (e *encoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[:4], v)
	e.bytes(e.buf[:4])
}

func (e *encoder) u64(v uint64) {
	binary.LittleEndian.PutUint64(e.buf[:8], v)
	e.bytes(e.buf[:8])
}

func (e *encoder) ids(ids []int64) {
	e.u32(uint32(len(ids)))
	for _, id := range ids {
		e.u64(uint64(id))
	}
}

func (e *encoder) table(t *table) {
	e.u32(uint32(len(t.hashes)))
	for i, h := range t.hashes {
		for _, w := range h {
			e.u16(w)
		}
		e.ids(t.ids[i])
	}
}

func (e *encoder) exact(x *Exact) {
	e.u32(uint32(len(x.values)))
	for i, v := range x.values {
		if len(v) > 0xffff {
			e.err = fmt.Errorf("exact value of %d bytes is too long", len(v))
			return
		}
		e.u16(uint16(len(v)))
		e.bytes([]byte(v))
		e.ids(x.ids[i])
	}
}

type decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (d *decoder) corrupt() error {
	return fmt.Errorf("%w: %v", ErrCorruptIndex, d.err)
}

func (d *decoder) full(b []byte) {
	if d.err == nil {
		_, d.err = io.ReadFull(d.r, b)
	}
}

func (d *decoder) u8() uint8 {
	d.full(d.buf[:1])
	return d.buf[0]
}

func (d *decoder) u16() uint16 {
	d.full(d.buf[:2])
	if d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(d.buf[:2])
}

func (d *decoder) u32() uint32 {
	d.full(d.buf[:4])
	if d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(d.buf[:4])
}

func (d *decoder) u64() uint64 {
	d.full(d.buf[:8])
	if d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(d.buf[:8])
}

func (d *decoder) ids() []int64 {
	n := d.u32()
	if d.err == nil && n == 0 {
		d.err = fmt.Errorf("row without content ids")
	}
	out := make([]int64, 0, min(int(n), maxPrealloc))
	for i := uint32(0); i < n && d.err == nil; i++ {
		out = append(out, int64(d.u64()))
	}
	return out
}

func (d *decoder) table() table {
	n := d.u32()
	b := newTableBuilder()
	b.hashes = make([]hash.Hash256, 0, min(int(n), maxPrealloc))
	b.ids = make([][]int64, 0, min(int(n), maxPrealloc))
	for i := uint32(0); i < n && d.err == nil; i++ {
		var h hash.Hash256
		for w := range h {
			h[w] = d.u16()
		}
		ids := d.ids()
		if d.err != nil {
			break
		}
		if _, dup := b.slots[h]; dup {
			d.err = fmt.Errorf("duplicate hash %s", h)
			break
		}
		for _, id := range ids {
			b.add(h, id)
		}
	}
	return b.finish()
}

func (d *decoder) exact() *Exact {
	n := d.u32()
	b := newExactBuilder()
	for i := uint32(0); i < n && d.err == nil; i++ {
		v := make([]byte, d.u16())
		d.full(v)
		ids := d.ids()
		if d.err != nil {
			break
		}
		if _, dup := b.slots[string(v)]; dup {
			d.err = fmt.Errorf("duplicate value %q", v)
			break
		}
		for _, id := range ids {
			b.add(string(v), id)
		}
	}
	if d.err != nil {
		return nil
	}
	return b.finish()
}
