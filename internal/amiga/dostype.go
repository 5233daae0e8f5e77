// Package amiga holds the small pieces of AmigaDOS vocabulary shared by the
// file-system packages: DOS type tags, datestamps, protection bits and the
// ISO-8859-1 name codec.
package amiga

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// DosType is the 4-byte tag at the start of a boot block or in a partition
// environment, e.g. "DOS\x03" or "PFS\x03".
type DosType uint32

// Flag bits carried in the low byte of a "DOS\x0n" tag.
const (
	FlagFFS      = 0x1
	FlagIntl     = 0x2
	FlagDirCache = 0x4
)

// Well known DOS types.
const (
	DOS0 DosType = 0x444F5300 // OFS
	DOS1 DosType = 0x444F5301 // FFS
	DOS2 DosType = 0x444F5302 // OFS international
	DOS3 DosType = 0x444F5303 // FFS international
	DOS4 DosType = 0x444F5304 // OFS dircache
	DOS5 DosType = 0x444F5305 // FFS dircache
	DOS6 DosType = 0x444F5306 // OFS long names
	DOS7 DosType = 0x444F5307 // FFS long names
	PFS1 DosType = 0x50465301
	PFS2 DosType = 0x50465302
	PFS3 DosType = 0x50465303
	PDS3 DosType = 0x50445303
)

// ParseDosType reads a DOS type from the first four bytes of b.
func ParseDosType(b []byte) DosType {
	if len(b) < 4 {
		return 0
	}
	return DosType(binary.BigEndian.Uint32(b))
}

// Bytes returns the on-disk representation.
func (d DosType) Bytes() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(d))
	return b
}

// IsDOS reports whether the tag is one of the "DOS\x0n" family.
func (d DosType) IsDOS() bool { return d&0xFFFFFF00 == 0x444F5300 }

// IsPFS reports whether the tag identifies a PFS volume.
func (d DosType) IsPFS() bool {
	return d&0xFFFFFF00 == 0x50465300 || d&0xFFFFFF00 == 0x50445300
}

func (d DosType) flags() uint32 { return uint32(d) & 0xFF }

// IsFFS reports whether data blocks are stored without OFS headers.
func (d DosType) IsFFS() bool { return d.IsDOS() && d.flags()&FlagFFS != 0 }

// IsOFS reports the opposite of IsFFS for DOS volumes.
func (d DosType) IsOFS() bool { return d.IsDOS() && d.flags()&FlagFFS == 0 }

// IsIntl reports whether names hash with international case folding.
// Dircache volumes always use international mode.
func (d DosType) IsIntl() bool {
	return d.IsDOS() && (d.flags()&FlagIntl != 0 || d.flags()&FlagDirCache != 0)
}

// IsDirCache reports whether directories carry dircache blocks.
func (d DosType) IsDirCache() bool {
	return d.IsDOS() && d.flags()&FlagDirCache != 0 && d.flags() < 6
}

// String renders printable tag characters and the trailing version digit,
// so DOS3 prints as "DOS3" and an unknown tag as "0x12345678".
func (d DosType) String() string {
	b := d.Bytes()
	var sb strings.Builder
	for i := 0; i < 3; i++ {
		if b[i] < 0x20 || b[i] > 0x7E {
			return fmt.Sprintf("0x%08X", uint32(d))
		}
		sb.WriteByte(b[i])
	}
	if b[3] < 10 {
		sb.WriteByte('0' + b[3])
	} else if b[3] >= 0x20 && b[3] <= 0x7E {
		sb.WriteByte(b[3])
	} else {
		return fmt.Sprintf("0x%08X", uint32(d))
	}
	return sb.String()
}

// Name returns a descriptive name for the DOS type.
func (d DosType) Name() string {
	switch {
	case d.IsPFS():
		return "Professional File System"
	case d.IsDOS():
		var parts []string
		if d.IsFFS() {
			parts = append(parts, "FFS")
		} else {
			parts = append(parts, "OFS")
		}
		if d.IsDirCache() {
			parts = append(parts, "DirCache")
		} else if d.IsIntl() {
			parts = append(parts, "International")
		}
		if d.flags() >= 6 {
			parts = append(parts, "LongNames")
		}
		return strings.Join(parts, " ")
	}
	return "unknown"
}
