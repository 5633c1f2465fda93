package seed

import (
	"encoding/binary"
	"math/bits"

	"golang.org/x/crypto/chacha20"
)

const blockSize = 64

// Stream is the ChaCha20 keystream reader behind every draw.
// It is not safe for concurrent use.
type Stream struct {
	cipher *chacha20.Cipher
	buf    [blockSize]byte
	off    int
}

// NewStream keys a stream with a 32-byte digest.
func NewStream(key [32]byte) *Stream {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// key and nonce sizes are fixed by the types above
		panic("seed: chacha20 init: " + err.Error())
	}
	return &Stream{cipher: c, off: blockSize}
}

// Uint64 returns the next little-endian keystream word.
func (s *Stream) Uint64() uint64 {
	if s.off+8 > blockSize {
		clear(s.buf[:])
		s.cipher.XORKeyStream(s.buf[:], s.buf[:])
		s.off = 0
	}
	v := binary.LittleEndian.Uint64(s.buf[s.off:])
	s.off += 8
	return v
}

// Uintn returns a uniform value in [0, n). n must be positive.
func (s *Stream) Uintn(n uint64) uint64 {
	if n == 0 {
		panic("seed: Uintn with n == 0")
	}
	hi, lo := bits.Mul64(s.Uint64(), n)
	if lo < n {
		thresh := -n % n
		for lo < thresh {
			hi, lo = bits.Mul64(s.Uint64(), n)
		}
	}
	return hi
}

// Float64 returns a uniform value in [0, 1).
func (s *Stream) Float64() float64 {
	return float64(s.Uint64()>>11) * 0x1.0p-53
}
