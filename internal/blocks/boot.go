package blocks

import (
	"encoding/binary"
	"fmt"

	"amitool/internal/amiga"
)

// BootBlockSize is the size of the two-sector boot block.
const BootBlockSize = 1024

// BootBlock is the first two sectors of a DOS volume.
type BootBlock struct {
	DosType   amiga.DosType
	Checksum  uint32
	RootBlock uint32
	Code      []byte
}

// DecodeBootBlock reads a boot block. An all-zero checksum marks a
// non-bootable volume and is not verified.
func DecodeBootBlock(buf []byte) (*BootBlock, error) {
	if len(buf) < BootBlockSize {
		return nil, fmt.Errorf("%w: boot block of %d bytes", ErrBlockSize, len(buf))
	}
	buf = buf[:BootBlockSize]
	b := &BootBlock{
		DosType:   amiga.ParseDosType(buf),
		Checksum:  binary.BigEndian.Uint32(buf[4:]),
		RootBlock: binary.BigEndian.Uint32(buf[8:]),
		Code:      append([]byte(nil), buf[12:]...),
	}
	if !b.DosType.IsDOS() && !b.DosType.IsPFS() {
		return b, fmt.Errorf("%w: boot block dos type %s", ErrInvalidBlockType, b.DosType)
	}
	if b.Checksum != 0 && b.Checksum != BootChecksum(buf) {
		return b, fmt.Errorf("%w: boot block", ErrChecksumMismatch)
	}
	return b, nil
}

// Encode writes the boot block. The checksum is only computed when the
// block carries boot code.
func (b *BootBlock) Encode() []byte {
	buf := make([]byte, BootBlockSize)
	copy(buf, b.DosType.Bytes())
	binary.BigEndian.PutUint32(buf[8:], b.RootBlock)
	copy(buf[12:], b.Code)
	if hasCode(b.Code) {
		b.Checksum = BootChecksum(buf)
	} else {
		b.Checksum = 0
	}
	binary.BigEndian.PutUint32(buf[4:], b.Checksum)
	return buf
}

func hasCode(code []byte) bool {
	for _, c := range code {
		if c != 0 {
			return true
		}
	}
	return false
}
