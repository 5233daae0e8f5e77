package media

import (
	"fmt"
	"strings"

	"amitool/internal/amiga"
)

// PartitionTypes maps MBR type bytes, GPT type GUIDs and Amiga DOS types
// to display names. Build one with NewPartitionTypes and pass it to
// whatever prints partition tables.
type PartitionTypes struct {
	mbr map[byte]string
	gpt map[string]string
	dos map[amiga.DosType]string
}

// NewPartitionTypes returns a registry holding the common types.
func NewPartitionTypes() *PartitionTypes {
	t := &PartitionTypes{
		mbr: map[byte]string{
			0x01: "FAT12",
			0x04: "FAT16 <32M",
			0x05: "Extended",
			0x06: "FAT16",
			0x07: "NTFS/exFAT",
			0x0B: "FAT32",
			0x0C: "FAT32 LBA",
			0x0E: "FAT16 LBA",
			0x0F: "Extended LBA",
			0x76: "Amiga RDB",
			0x82: "Linux swap",
			0x83: "Linux",
			0xEE: "GPT protective",
			0xEF: "EFI System",
		},
		gpt: map[string]string{
			"C12A7328-F81F-11D2-BA4B-00A0C93EC93B": "EFI System",
			"EBD0A0A2-B9E5-4433-87C0-68B6B72699C7": "Microsoft basic data",
			"E3C9E316-0B5C-4DB8-817D-F92DF00215AE": "Microsoft reserved",
			"0FC63DAF-8483-4772-8E79-3D69D8477DE4": "Linux filesystem",
			"0657FD6D-A4AB-43C4-84E5-0933C84B4F4F": "Linux swap",
			"48465300-0000-11AA-AA11-00306543ECAC": "Apple HFS+",
			"7C3457EF-0000-11AA-AA11-00306543ECAC": "Apple APFS",
		},
		dos: map[amiga.DosType]string{},
	}
	for _, d := range []amiga.DosType{amiga.DOS0, amiga.DOS1, amiga.DOS2, amiga.DOS3, amiga.DOS4,
		amiga.DOS5, amiga.DOS6, amiga.DOS7, amiga.PFS1, amiga.PFS2, amiga.PFS3, amiga.PDS3} {
		t.dos[d] = d.Name()
	}
	t.dos[0x53465300] = "Smart File System" // SFS\0
	return t
}

// AddMBR registers an MBR partition type.
func (t *PartitionTypes) AddMBR(typ byte, name string) { t.mbr[typ] = name }

// AddGPT registers a GPT partition type GUID.
func (t *PartitionTypes) AddGPT(guid, name string) { t.gpt[strings.ToUpper(guid)] = name }

// AddDosType registers an Amiga file system.
func (t *PartitionTypes) AddDosType(d amiga.DosType, name string) { t.dos[d] = name }

// MBR names an MBR partition type.
func (t *PartitionTypes) MBR(typ byte) string {
	if n, ok := t.mbr[typ]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", typ)
}

// GPT names a GPT partition type GUID.
func (t *PartitionTypes) GPT(guid string) string {
	if n, ok := t.gpt[strings.ToUpper(guid)]; ok {
		return n
	}
	return strings.ToUpper(guid)
}

// DosType names an Amiga file system.
func (t *PartitionTypes) DosType(d amiga.DosType) string {
	if n, ok := t.dos[d]; ok {
		return n
	}
	return d.String()
}
