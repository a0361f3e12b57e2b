package hash

import (
	"errors"
	"fmt"
	"math/bits"
	"math/rand/v2"
)

const (
	// Words is the number of 16-bit words in a Hash256.
	Words = 16
	// Bits is the width of a Hash256.
	Bits = 256
	// HexLen is the length of the canonical hex form.
	HexLen = 64
)

// ErrInvalidHash is returned when a hex string is not a valid 256-bit hash.
var ErrInvalidHash = errors.New("invalid hash")

// Hash256 is a 256-bit perceptual hash stored as sixteen 16-bit words.
// Word 0 holds the least significant bits. The canonical hex string is
// big-endian over the word array, so its first four characters are word 15.
type Hash256 [Words]uint16

const hexDigits = "0123456789abcdef"

// ParseHex parses exactly 64 lowercase hex characters.
func ParseHex(s string) (Hash256, error) {
	var h Hash256
	if len(s) != HexLen {
		return h, fmt.Errorf("%w: %q has length %d, want %d", ErrInvalidHash, s, len(s), HexLen)
	}
	for i := 0; i < Words; i++ {
		var w uint16
		for _, c := range []byte(s[i*4 : i*4+4]) {
			v, ok := nibble(c)
			if !ok {
				return Hash256{}, fmt.Errorf("%w: %q contains %q", ErrInvalidHash, s, c)
			}
			w = w<<4 | uint16(v)
		}
		h[Words-1-i] = w
	}
	return h, nil
}

// MustParseHex is ParseHex for literals known to be valid.
func MustParseHex(s string) Hash256 {
	h, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return h
}

// ValidHex reports whether s is a well formed hash without decoding it.
func ValidHex(s string) bool {
	if len(s) != HexLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if _, ok := nibble(s[i]); !ok {
			return false
		}
	}
	return true
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// Hex returns the canonical 64 character lowercase form.
func (h Hash256) Hex() string {
	var buf [HexLen]byte
	for i := 0; i < Words; i++ {
		w := h[Words-1-i]
		buf[i*4] = hexDigits[w>>12&0xf]
		buf[i*4+1] = hexDigits[w>>8&0xf]
		buf[i*4+2] = hexDigits[w>>4&0xf]
		buf[i*4+3] = hexDigits[w&0xf]
	}
	return string(buf[:])
}

func (h Hash256) String() string {
	return h.Hex()
}

// BitCount returns the number of set bits.
func (h Hash256) BitCount() int {
	n := 0
	for _, w := range h {
		n += bits.OnesCount16(w)
	}
	return n
}

// Distance returns the Hamming distance between a and b.
func Distance(a, b Hash256) int {
	n := 0
	for i := 0; i < Words; i++ {
		n += bits.OnesCount16(a[i] ^ b[i])
	}
	return n
}

// DistanceLE reports whether the Hamming distance between a and b is at
// most d. It stops as soon as the running sum exceeds d.
func DistanceLE(a, b Hash256, d int) bool {
	n := 0
	for i := 0; i < Words; i++ {
		n += bits.OnesCount16(a[i] ^ b[i])
		if n > d {
			return false
		}
	}
	return true
}

func (h Hash256) And(o Hash256) Hash256 {
	for i := range h {
		h[i] &= o[i]
	}
	return h
}

func (h Hash256) Or(o Hash256) Hash256 {
	for i := range h {
		h[i] |= o[i]
	}
	return h
}

func (h Hash256) Xor(o Hash256) Hash256 {
	for i := range h {
		h[i] ^= o[i]
	}
	return h
}

func (h Hash256) Not() Hash256 {
	for i := range h {
		h[i] = ^h[i]
	}
	return h
}

// Bit reports whether bit i (0 is the least significant bit of word 0) is set.
func (h Hash256) Bit(i int) bool {
	return h[i/16]&(1<<(uint(i)%16)) != 0
}

// SetBit returns h with bit i set.
func (h Hash256) SetBit(i int) Hash256 {
	h[i/16] |= 1 << (uint(i) % 16)
	return h
}

// FlipBit returns h with bit i inverted.
func (h Hash256) FlipBit(i int) Hash256 {
	h[i/16] ^= 1 << (uint(i) % 16)
	return h
}

// Slot returns the i-th 16-bit word.
func (h Hash256) Slot(i int) uint16 {
	return h[i]
}

// Fuzz returns h with count distinct, randomly chosen bits flipped.
// count is clamped to [0, 256].
func (h Hash256) Fuzz(rng *rand.Rand, count int) Hash256 {
	count = max(0, min(count, Bits))
	for _, i := range rng.Perm(Bits)[:count] {
		h = h.FlipBit(i)
	}
	return h
}

// Random returns a uniformly random hash.
func Random(rng *rand.Rand) Hash256 {
	var h Hash256
	for i := range h {
		h[i] = uint16(rng.Uint32())
	}
	return h
}
