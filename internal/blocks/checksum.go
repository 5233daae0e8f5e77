// Package blocks encodes and decodes the fixed-layout AmigaDOS FFS/OFS
// blocks: boot, root, entry headers, file extensions, OFS data and bitmaps.
//
// All multi-byte fields are big-endian 32-bit words. Fields past the hash
// table sit at fixed distances from the end of the block, so the codecs work
// for any block size that is a multiple of 512.
package blocks

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultBlockSize of floppy and most hard disk FFS volumes.
const DefaultBlockSize = 512

var (
	// ErrInvalidBlockType reports a primary or secondary type tag that does
	// not match what the caller asked to decode.
	ErrInvalidBlockType = errors.New("invalid block type")
	// ErrChecksumMismatch reports a block whose stored checksum does not
	// match its contents. Decoders still return the decoded block alongside
	// this error so callers running in ignore-errors mode can continue.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrBlockSize reports a buffer that is not a usable block.
	ErrBlockSize = errors.New("invalid block size")
)

func checkSize(buf []byte) error {
	if len(buf) < DefaultBlockSize || len(buf)%DefaultBlockSize != 0 {
		return fmt.Errorf("%w: %d bytes", ErrBlockSize, len(buf))
	}
	return nil
}

// Checksum returns the value that makes the sum of all 32-bit words of buf
// zero, treating the word at offset as zero.
func Checksum(buf []byte, offset int) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(buf); i += 4 {
		if i == offset {
			continue
		}
		sum += binary.BigEndian.Uint32(buf[i:])
	}
	return -sum
}

// SetChecksum computes and stores the checksum at offset.
func SetChecksum(buf []byte, offset int) {
	binary.BigEndian.PutUint32(buf[offset:], Checksum(buf, offset))
}

// VerifyChecksum returns ErrChecksumMismatch when the stored checksum at
// offset is wrong.
func VerifyChecksum(buf []byte, offset int) error {
	stored := binary.BigEndian.Uint32(buf[offset:])
	if want := Checksum(buf, offset); stored != want {
		return fmt.Errorf("%w: stored 0x%08X, computed 0x%08X", ErrChecksumMismatch, stored, want)
	}
	return nil
}

// BootChecksum computes the boot block checksum: an add-with-carry sum of
// every word except the checksum word at offset 4, inverted.
func BootChecksum(buf []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(buf); i += 4 {
		if i == 4 {
			continue
		}
		d := binary.BigEndian.Uint32(buf[i:])
		if 0xFFFFFFFF-sum < d {
			sum++
		}
		sum += d
	}
	return ^sum
}

type words []byte

func (w words) u32(off int) uint32 { return binary.BigEndian.Uint32(w[off:]) }
func (w words) i32(off int) int32  { return int32(binary.BigEndian.Uint32(w[off:])) }

func (w words) put(off int, v uint32) { binary.BigEndian.PutUint32(w[off:], v) }
func (w words) puti(off int, v int32) { binary.BigEndian.PutUint32(w[off:], uint32(v)) }

// tail maps an offset from the classic 512-byte layout to the block's
// actual size. Only valid for offsets at or beyond the end of the hash table.
func (w words) tail(off int) int { return len(w) - DefaultBlockSize + off }

func (w words) table(off, n int) []uint32 {
	t := make([]uint32, n)
	for i := range t {
		t[i] = w.u32(off + i*4)
	}
	return t
}

func (w words) putTable(off int, t []uint32, n int) {
	for i := 0; i < n; i++ {
		var v uint32
		if i < len(t) {
			v = t[i]
		}
		w.put(off+i*4, v)
	}
}

// bstr reads a length-prefixed string of at most max bytes.
func (w words) bstr(off, max int) []byte {
	n := int(w[off])
	if n > max {
		n = max
	}
	out := make([]byte, n)
	copy(out, w[off+1:off+1+n])
	return out
}

func (w words) putBstr(off, max int, s []byte) {
	if len(s) > max {
		s = s[:max]
	}
	w[off] = byte(len(s))
	copy(w[off+1:off+1+max], make([]byte, max))
	copy(w[off+1:], s)
}
