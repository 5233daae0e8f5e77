package fatvol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

/* ===================== FAT types and geometry ===================== */

// Type is the FAT entry width.
type Type int

const (
	FAT12 Type = 12
	FAT16 Type = 16
	FAT32 Type = 32
)

// ParseType accepts "fat12", "fat16" and "fat32".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "fat12":
		return FAT12, nil
	case "fat16":
		return FAT16, nil
	case "fat32":
		return FAT32, nil
	}
	return 0, fmt.Errorf("unknown FAT type %q", s)
}

// Geometry holds the BIOS parameter block of a new volume.
type Geometry struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntries       uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	SectorsPerFAT32   uint32
	RootCluster       uint32
	FSInfoSector      uint16
	BackupBootSector  uint16
}

func (g *Geometry) setTotal(ts uint32) {
	if ts <= 0xFFFF {
		g.TotalSectors16, g.TotalSectors32 = uint16(ts), 0
	} else {
		g.TotalSectors16, g.TotalSectors32 = 0, ts
	}
}

// TotalSectors is the sector count of the volume.
func (g Geometry) TotalSectors() uint32 {
	if g.TotalSectors16 != 0 {
		return uint32(g.TotalSectors16)
	}
	return g.TotalSectors32
}

// floppy is a classic PC diskette layout.
type floppy struct {
	size  int64
	spt   uint16
	root  uint16
	spc   uint8
	fat   uint16
	media uint8
}

var floppies = []floppy{
	{360 * 1024, 9, 64, 2, 2, 0xFD},
	{720 * 1024, 9, 112, 2, 3, 0xF9},
	{1200 * 1024, 15, 224, 1, 7, 0xF9},
	{1440 * 1024, 18, 224, 1, 9, 0xF0},
	{2880 * 1024, 36, 240, 1, 9, 0xF0},
}

// clusterSectors doubles first for every limit below size.
func clusterSectors(size int64, first uint8, limits ...int64) uint8 {
	spc := first
	for _, limit := range limits {
		if size <= limit {
			break
		}
		spc *= 2
	}
	return spc
}

// Preset returns the geometry for a volume of size bytes. Floppy sizes
// get their classic PC layouts.
func Preset(t Type, size int64) (Geometry, error) {
	const mb = 1024 * 1024
	g := Geometry{BytesPerSector: 512, ReservedSectors: 1, NumFATs: 2, Media: 0xF0, NumHeads: 2}
	g.setTotal(uint32(size / 512))
	for _, f := range floppies {
		if f.size != size {
			continue
		}
		g.SectorsPerTrack, g.RootEntries, g.SectorsPerCluster, g.SectorsPerFAT16, g.Media = f.spt, f.root, f.spc, f.fat, f.media
		if size == 2880*1024 {
			switch t {
			case FAT16:
				g.SectorsPerCluster, g.SectorsPerFAT16 = 2, 18
			case FAT32:
				return g, fmt.Errorf("unsupported size %d for FAT%d", size, t)
			}
		}
		return g, nil
	}

	switch {
	case t == FAT12 && size < 16*mb:
		g.SectorsPerTrack, g.RootEntries, g.SectorsPerCluster, g.SectorsPerFAT16 = 32, 512, 1, 16
	case t == FAT16 && size <= 32*mb:
		g.SectorsPerTrack, g.RootEntries, g.SectorsPerFAT16 = 32, 512, 32
		g.SectorsPerCluster = clusterSectors(size, 2, 4*mb, 8*mb, 16*mb)
	case t == FAT32:
		g.Media, g.ReservedSectors, g.RootCluster = 0xF8, 32, 2
		g.FSInfoSector, g.BackupBootSector = 1, 6
		g.SectorsPerTrack, g.NumHeads = 63, 255
		g.SectorsPerCluster = clusterSectors(size, 8, 8*1024*mb, 32*1024*mb)
	default:
		return g, fmt.Errorf("unsupported size %d for FAT%d", size, t)
	}
	return g, nil
}

// Layout is the sector budget of a geometry.
type Layout struct {
	FATSectors     uint32
	RootDirSectors uint32
	DataSectors    uint32
	Clusters       uint32
}

// FAT1 is the first sector of the first FAT.
func (g Geometry) FAT1() int64 { return int64(g.ReservedSectors) }

// RootDir is the first sector of the FAT12/16 root directory, or of the
// data area on FAT32.
func (g Geometry) RootDir(l Layout) int64 {
	return int64(g.ReservedSectors) + int64(g.NumFATs)*int64(l.FATSectors)
}

// Data is the first sector of the data area.
func (g Geometry) Data(l Layout) int64 { return g.RootDir(l) + int64(l.RootDirSectors) }

// Compute sizes the FATs for g, updating its sectors-per-FAT field, and
// checks the cluster count against the limits of t.
func (g *Geometry) Compute(t Type) (Layout, error) {
	var l Layout
	bps := uint32(g.BytesPerSector)
	total := g.TotalSectors()
	if t == FAT32 {
		if g.ReservedSectors < 32 {
			return l, errors.New("FAT32 requires >= 32 reserved sectors")
		}
		for i := 0; i < 8; i++ {
			l.FATSectors = g.SectorsPerFAT32
			if l.FATSectors == 0 {
				l.FATSectors = 1
			}
			used := uint32(g.ReservedSectors) + uint32(g.NumFATs)*l.FATSectors
			if used >= total {
				return l, fmt.Errorf("volume of %d sectors has no data area", total)
			}
			l.DataSectors = total - used
			l.Clusters = l.DataSectors / uint32(g.SectorsPerCluster)
			need := ((l.Clusters+2)*4 + bps - 1) / bps
			if need == l.FATSectors {
				break
			}
			g.SectorsPerFAT32 = need
		}
		if l.Clusters < 65525 {
			return l, fmt.Errorf("clusters=%d too small for FAT32", l.Clusters)
		}
		l.FATSectors = g.SectorsPerFAT32
		return l, nil
	}

	l.RootDirSectors = (uint32(g.RootEntries)*32 + bps - 1) / bps
	for i := 0; i < 8; i++ {
		l.FATSectors = uint32(g.SectorsPerFAT16)
		used := uint32(g.ReservedSectors) + uint32(g.NumFATs)*l.FATSectors + l.RootDirSectors
		if used >= total {
			return l, fmt.Errorf("volume of %d sectors has no data area", total)
		}
		l.DataSectors = total - used
		l.Clusters = l.DataSectors / uint32(g.SectorsPerCluster)
		var bytes uint32
		if t == FAT12 {
			bytes = ((l.Clusters+2)*3 + 1) / 2
		} else {
			bytes = (l.Clusters + 2) * 2
		}
		need := (bytes + bps - 1) / bps
		if need == l.FATSectors {
			break
		}
		g.SectorsPerFAT16 = uint16(need)
	}
	if t == FAT12 && l.Clusters >= 4085 {
		return l, fmt.Errorf("clusters=%d invalid for FAT12", l.Clusters)
	}
	if t == FAT16 && (l.Clusters < 4085 || l.Clusters > 65524) {
		return l, fmt.Errorf("clusters=%d invalid for FAT16", l.Clusters)
	}
	return l, nil
}

/* ===================== Boot/FAT builders ===================== */

func padRight(s string, n int) []byte {
	if len(s) > n {
		s = s[:n]
	}
	b := make([]byte, n)
	copy(b, s)
	for i := len(s); i < n; i++ {
		b[i] = ' '
	}
	return b
}

// bootCode prints the message at msgAt and waits for a key, like the
// MS-DOS stub:
//
//	      push cs; pop ds; mov si, msg
//	loop: lodsb; and al, al; jz halt
//	      push si; mov ah, 0Eh; mov bx, 7; int 10h; pop si; jmp loop
//	halt: xor ah, ah; int 16h; int 19h; jmp $
func bootCode(msgAt uint16) []byte {
	return []byte{
		0x0E, 0x1F, 0xBE, byte(msgAt), byte(msgAt >> 8),
		0xAC, 0x22, 0xC0, 0x74, 0x0B,
		0x56, 0xB4, 0x0E, 0xBB, 0x07, 0x00, 0xCD, 0x10, 0x5E, 0xEB, 0xF0,
		0x32, 0xE4, 0xCD, 0x16, 0xCD, 0x19, 0xEB, 0xFE,
	}
}

const bootMessage = "Non-system disk or disk error\r\nReplace and press any key when ready\r\n\x00"

// bootSector encodes the boot sector of a volume of type t. The
// extended parameter block follows the BPB at offset 36, or after the
// FAT32 fields at offset 64; boot code and message follow it.
func bootSector(t Type, g Geometry, label, oem string, serial uint32) []byte {
	le := binary.LittleEndian
	sec := make([]byte, 512)
	copy(sec[3:11], padRight(oem, 8))
	le.PutUint16(sec[11:], g.BytesPerSector)
	sec[13] = g.SectorsPerCluster
	le.PutUint16(sec[14:], g.ReservedSectors)
	sec[16] = g.NumFATs
	le.PutUint16(sec[19:], g.TotalSectors16)
	sec[21] = g.Media
	le.PutUint16(sec[24:], g.SectorsPerTrack)
	le.PutUint16(sec[26:], g.NumHeads)
	le.PutUint32(sec[28:], g.HiddenSectors)
	le.PutUint32(sec[32:], g.TotalSectors32)

	ext, drive := 36, byte(0x00)
	if t == FAT32 {
		ext, drive = 64, 0x80
		le.PutUint32(sec[36:], g.SectorsPerFAT32)
		le.PutUint32(sec[44:], g.RootCluster)
		le.PutUint16(sec[48:], g.FSInfoSector)
		le.PutUint16(sec[50:], g.BackupBootSector)
	} else {
		le.PutUint16(sec[17:], g.RootEntries)
		le.PutUint16(sec[22:], g.SectorsPerFAT16)
	}
	sec[ext], sec[ext+2] = drive, 0x29
	le.PutUint32(sec[ext+3:], serial)
	copy(sec[ext+7:ext+18], padRight(label, 11))
	copy(sec[ext+18:ext+26], fmt.Sprintf("FAT%-5d", int(t)))

	code := ext + 26
	sec[0], sec[1], sec[2] = 0xEB, byte(code-2), 0x90
	msg := code + len(bootCode(0))
	copy(sec[code:], bootCode(uint16(0x7C00+msg)))
	copy(sec[msg:], bootMessage)
	sec[510], sec[511] = 0x55, 0xAA
	return sec
}

func fsInfo(freeClusters uint32) []byte {
	b := make([]byte, 512)
	binary.LittleEndian.PutUint32(b[0:], 0x41615252)
	binary.LittleEndian.PutUint32(b[484:], 0x61417272)
	binary.LittleEndian.PutUint32(b[488:], freeClusters)
	binary.LittleEndian.PutUint32(b[492:], 0x00000003)
	binary.LittleEndian.PutUint32(b[508:], 0xAA550000)
	return b
}

func labelEntry(label string) []byte {
	e := make([]byte, 32)
	copy(e[0:11], padRight(strings.ToUpper(label), 11))
	e[11] = 0x08
	return e
}

// initFAT writes the media descriptor and end-of-chain markers of the
// reserved entries. FAT32 also terminates the root directory cluster.
func initFAT(t Type, b []byte, media byte) {
	switch t {
	case FAT12:
		b[0], b[1], b[2] = media, 0xFF, 0xFF
	case FAT16:
		b[0], b[1], b[2], b[3] = media, 0xFF, 0xFF, 0xFF
	case FAT32:
		binary.LittleEndian.PutUint32(b[0:], 0x0FFFFF00|uint32(media))
		binary.LittleEndian.PutUint32(b[4:], 0x0FFFFFFF)
		binary.LittleEndian.PutUint32(b[8:], 0x0FFFFFFF)
	}
}

/* ===================== Format ===================== */

// Phase names reported while formatting.
const (
	PhaseBoot = "boot"
	PhaseFAT1 = "fat1"
	PhaseFAT2 = "fat2"
	PhaseRoot = "root"
)

// FormatOptions describe a new FAT volume.
type FormatOptions struct {
	Type  Type
	Label string
	// OEM name in the boot sector, "AMITOOL" when empty.
	OEM string
	// Serial is the volume serial number.
	Serial uint32
	// Geometry overrides the preset for the size when set.
	Geometry *Geometry
	// Phase is called after each system area is written with its first
	// sector and length.
	Phase func(name string, start, sectors int64)
}

// Format writes an empty FAT volume of size bytes to w and returns the
// geometry and layout used. Only system areas are written; the data
// area keeps its previous content.
func Format(w io.WriterAt, size int64, opts FormatOptions) (Geometry, Layout, error) {
	if size%512 != 0 {
		return Geometry{}, Layout{}, fmt.Errorf("size %d is not a multiple of 512", size)
	}
	var g Geometry
	if opts.Geometry != nil {
		g = *opts.Geometry
	} else {
		var err error
		if g, err = Preset(opts.Type, size); err != nil {
			return g, Layout{}, err
		}
	}
	l, err := g.Compute(opts.Type)
	if err != nil {
		return g, l, err
	}
	label := opts.Label
	if label == "" {
		label = "NO NAME"
	}
	oem := opts.OEM
	if oem == "" {
		oem = "AMITOOL"
	}
	phase := opts.Phase
	if phase == nil {
		phase = func(string, int64, int64) {}
	}
	bps := int64(g.BytesPerSector)
	put := func(sector int64, b []byte) error {
		if _, err := w.WriteAt(b, sector*bps); err != nil {
			return fmt.Errorf("write sector %d: %w", sector, err)
		}
		return nil
	}

	boot := bootSector(opts.Type, g, label, oem, opts.Serial)
	if err := put(0, boot); err != nil {
		return g, l, err
	}
	if opts.Type == FAT32 {
		if err := put(int64(g.FSInfoSector), fsInfo(l.Clusters-1)); err != nil {
			return g, l, err
		}
		if err := put(int64(g.BackupBootSector), boot); err != nil {
			return g, l, err
		}
		if err := put(int64(g.BackupBootSector)+1, fsInfo(l.Clusters-1)); err != nil {
			return g, l, err
		}
	}
	phase(PhaseBoot, 0, int64(g.ReservedSectors))

	fat := make([]byte, int64(l.FATSectors)*bps)
	initFAT(opts.Type, fat, g.Media)
	for i := 0; i < int(g.NumFATs); i++ {
		start := g.FAT1() + int64(i)*int64(l.FATSectors)
		if err := put(start, fat); err != nil {
			return g, l, err
		}
		if i == 0 {
			phase(PhaseFAT1, start, int64(l.FATSectors))
		} else {
			phase(PhaseFAT2, start, int64(l.FATSectors))
		}
	}

	root := int64(l.RootDirSectors)
	if opts.Type == FAT32 {
		root = int64(g.SectorsPerCluster)
	}
	dir := make([]byte, root*bps)
	if opts.Label != "" {
		copy(dir, labelEntry(opts.Label))
	}
	if err := put(g.RootDir(l), dir); err != nil {
		return g, l, err
	}
	phase(PhaseRoot, g.RootDir(l), root)
	return g, l, nil
}
