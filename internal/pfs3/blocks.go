// Package pfs3 reads PFS3 volumes: root block, anode and index blocks,
// directory blocks and the deleted-entry ring. Reserved blocks are kept in
// a small LRU arena cache.
package pfs3

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-restruct/restruct"

	"amitool/internal/amiga"
)

// RootSector is the sector of the root block.
const RootSector = 2

// RootDirAnode is the anode number of the root directory.
const RootDirAnode = 5

// Reserved block identifiers.
const (
	IDDir       uint16 = 0x4442 // DB
	IDAnode     uint16 = 0x4142 // AB
	IDIndex     uint16 = 0x4942 // IB
	IDBitmap    uint16 = 0x424D // BM
	IDBitmapIdx uint16 = 0x4D49 // MI
	IDDeldir    uint16 = 0x4444 // DD
	IDExtension uint16 = 0x4558 // EX
	IDSuper     uint16 = 0x5342 // SB
)

// Root block option bits.
const (
	ModeHardDisk      uint32 = 1
	ModeSplitAnodes   uint32 = 2
	ModeDirExtension  uint32 = 4
	ModeDeldir        uint32 = 8
	ModeSizeField     uint32 = 16
	ModeExtension     uint32 = 32
	ModeDatestamp     uint32 = 64
	ModeSuperIndex    uint32 = 128
	ModeSuperDeldir   uint32 = 256
	ModeExtRoving     uint32 = 512
	ModeLongFilenames uint32 = 1024
	ModeLargeFile     uint32 = 2048
)

// Directory entry types.
const (
	TypeFile         int8 = -3
	TypeDir          int8 = 2
	TypeSoftLink     int8 = 3
	TypeLinkDir      int8 = 4
	TypeLinkFile     int8 = -4
	TypeRolloverFile int8 = -16
)

var (
	ErrInvalidBlock = errors.New("invalid pfs3 block")
	ErrNotPFS       = errors.New("not a PFS3 volume")
)

// RootBlock is the 512 byte PFS3 root block in small-disk layout.
type RootBlock struct {
	DiskType        uint32
	Options         uint32
	Datestamp       uint32
	CreationDay     uint16
	CreationMinute  uint16
	CreationTick    uint16
	Protection      uint16
	DiskName        [32]byte
	LastReserved    uint32
	FirstReserved   uint32
	ReservedFree    uint32
	ReservedBlkSize uint16
	RBlkCluster     uint16
	BlocksFree      uint32
	AlwaysFree      uint32
	RovingPtr       uint32
	Deldir          uint32
	DiskSize        uint32
	Extension       uint32
	NotUsed         uint32
	BitmapIndex     [5]uint32
	IndexBlocks     [99]uint32
}

// RootBlockSize is the encoded size of RootBlock.
const RootBlockSize = 512

// DecodeRootBlock decodes a root block.
func DecodeRootBlock(buf []byte) (*RootBlock, error) {
	if len(buf) < RootBlockSize {
		return nil, fmt.Errorf("%w: root block of %d bytes", ErrInvalidBlock, len(buf))
	}
	var r RootBlock
	if err := restruct.Unpack(buf[:RootBlockSize], binary.BigEndian, &r); err != nil {
		return nil, fmt.Errorf("unpack root block: %w", err)
	}
	if !amiga.DosType(r.DiskType).IsPFS() {
		return nil, fmt.Errorf("%w: disk type %s", ErrNotPFS, amiga.DosType(r.DiskType))
	}
	return &r, nil
}

// Encode serializes the root block.
func (r *RootBlock) Encode() ([]byte, error) {
	return restruct.Pack(binary.BigEndian, r)
}

// Name returns the volume name.
func (r *RootBlock) Name() string { return bstr(r.DiskName[:]) }

// Created is the volume creation date.
func (r *RootBlock) Created() amiga.Date {
	return amiga.Date{Days: int32(r.CreationDay), Mins: int32(r.CreationMinute), Ticks: int32(r.CreationTick)}
}

func bstr(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	n := int(b[0])
	if n > len(b)-1 {
		n = len(b) - 1
	}
	return amiga.DecodeName(b[1 : 1+n])
}

func putBstr(dst []byte, s string) {
	raw, err := amiga.EncodeName(s)
	if err != nil {
		raw = []byte(s)
	}
	if len(raw) > len(dst)-1 {
		raw = raw[:len(dst)-1]
	}
	dst[0] = byte(len(raw))
	copy(dst[1:], raw)
}

// RootExtension is the leading part of the root block extension.
type RootExtension struct {
	ID           uint16
	NotUsed1     uint16
	ExtOptions   uint32
	Datestamp    uint32
	PFS2Version  uint32
	RootDate     [3]uint16
	VolumeDate   [3]uint16
	ToBeDone     [4]uint32
	RovingRes    uint32
	RovingBit    uint16
	CurrAnSeqNr  uint16
	DeldirRoving uint16
	DeldirSize   uint16
	FnSize       uint16
	NotUsed2     [3]uint16
	SuperIndex   [16]uint32
	DdUID        uint16
	DdGID        uint16
	DdProtection uint32
	DdDate       [3]uint16
	NotUsed3     uint16
	Deldir       [32]uint32
}

// DecodeRootExtension decodes a root block extension.
func DecodeRootExtension(buf []byte) (*RootExtension, error) {
	var x RootExtension
	if err := unpackID(buf, IDExtension, "root extension", &x); err != nil {
		return nil, err
	}
	return &x, nil
}

// Encode serializes the extension into a reserved block of size bytes.
func (x *RootExtension) Encode(size int) ([]byte, error) {
	x.ID = IDExtension
	return pack(x, size)
}

func unpackID(buf []byte, id uint16, what string, v interface{}) error {
	if len(buf) < 4 {
		return fmt.Errorf("%w: %s of %d bytes", ErrInvalidBlock, what, len(buf))
	}
	if got := binary.BigEndian.Uint16(buf); got != id {
		return fmt.Errorf("%w: %s has id 0x%04X", ErrInvalidBlock, what, got)
	}
	if err := restruct.Unpack(buf, binary.BigEndian, v); err != nil {
		return fmt.Errorf("unpack %s: %w", what, err)
	}
	return nil
}

func pack(v interface{}, size int) ([]byte, error) {
	raw, err := restruct.Pack(binary.BigEndian, v)
	if err != nil {
		return nil, err
	}
	if len(raw) > size {
		return nil, fmt.Errorf("%w: %d bytes do not fit a %d byte block", ErrInvalidBlock, len(raw), size)
	}
	buf := make([]byte, size)
	copy(buf, raw)
	return buf, nil
}

// IndexBlock lists anode, bitmap or index block pointers. Both index
// blocks (IB) and super index blocks (SB) use this layout.
type IndexBlock struct {
	ID        uint16
	Datestamp uint32
	SeqNr     uint32
	Index     []uint32
}

const indexHeader = 12

// IndexPerBlock is the number of pointers in an index block.
func IndexPerBlock(size int) int { return (size - indexHeader) / 4 }

// DecodeIndexBlock decodes an index block with the given id.
func DecodeIndexBlock(buf []byte, id uint16) (*IndexBlock, error) {
	if len(buf) < indexHeader {
		return nil, fmt.Errorf("%w: index block of %d bytes", ErrInvalidBlock, len(buf))
	}
	if got := binary.BigEndian.Uint16(buf); got != id {
		return nil, fmt.Errorf("%w: index block has id 0x%04X, want 0x%04X", ErrInvalidBlock, got, id)
	}
	b := &IndexBlock{
		ID:        id,
		Datestamp: binary.BigEndian.Uint32(buf[4:]),
		SeqNr:     binary.BigEndian.Uint32(buf[8:]),
		Index:     make([]uint32, IndexPerBlock(len(buf))),
	}
	for i := range b.Index {
		b.Index[i] = binary.BigEndian.Uint32(buf[indexHeader+i*4:])
	}
	return b, nil
}

// Encode serializes the block.
func (b *IndexBlock) Encode(size int) []byte {
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf, b.ID)
	binary.BigEndian.PutUint32(buf[4:], b.Datestamp)
	binary.BigEndian.PutUint32(buf[8:], b.SeqNr)
	for i := 0; i < len(b.Index) && i < IndexPerBlock(size); i++ {
		binary.BigEndian.PutUint32(buf[indexHeader+i*4:], b.Index[i])
	}
	return buf
}

// Anode describes a run of contiguous blocks and links to the next run.
type Anode struct {
	ClusterSize uint32
	BlockNr     uint32
	Next        uint32
}

// AnodeBlock holds a table of anodes.
type AnodeBlock struct {
	Datestamp uint32
	SeqNr     uint32
	Nodes     []Anode
}

const anodeHeader = 16

// AnodesPerBlock is the number of anodes in an anode block.
func AnodesPerBlock(size int) int { return (size - anodeHeader) / 12 }

// DecodeAnodeBlock decodes an anode block.
func DecodeAnodeBlock(buf []byte) (*AnodeBlock, error) {
	if len(buf) < anodeHeader {
		return nil, fmt.Errorf("%w: anode block of %d bytes", ErrInvalidBlock, len(buf))
	}
	if got := binary.BigEndian.Uint16(buf); got != IDAnode {
		return nil, fmt.Errorf("%w: anode block has id 0x%04X", ErrInvalidBlock, got)
	}
	b := &AnodeBlock{
		Datestamp: binary.BigEndian.Uint32(buf[4:]),
		SeqNr:     binary.BigEndian.Uint32(buf[8:]),
		Nodes:     make([]Anode, AnodesPerBlock(len(buf))),
	}
	for i := range b.Nodes {
		off := anodeHeader + i*12
		b.Nodes[i] = Anode{
			ClusterSize: binary.BigEndian.Uint32(buf[off:]),
			BlockNr:     binary.BigEndian.Uint32(buf[off+4:]),
			Next:        binary.BigEndian.Uint32(buf[off+8:]),
		}
	}
	return b, nil
}

// Encode serializes the block.
func (b *AnodeBlock) Encode(size int) []byte {
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf, IDAnode)
	binary.BigEndian.PutUint32(buf[4:], b.Datestamp)
	binary.BigEndian.PutUint32(buf[8:], b.SeqNr)
	for i := 0; i < len(b.Nodes) && i < AnodesPerBlock(size); i++ {
		off := anodeHeader + i*12
		binary.BigEndian.PutUint32(buf[off:], b.Nodes[i].ClusterSize)
		binary.BigEndian.PutUint32(buf[off+4:], b.Nodes[i].BlockNr)
		binary.BigEndian.PutUint32(buf[off+8:], b.Nodes[i].Next)
	}
	return buf
}

// DirEntry is one variable-length record of a directory block.
type DirEntry struct {
	Type       int8
	Anode      uint32
	Size       uint32
	Date       amiga.Date
	Protection uint8
	Name       string
	Comment    string
}

// DirBlock is a directory block: a packed list of entries terminated by a
// zero size byte.
type DirBlock struct {
	Datestamp uint32
	Anode     uint32
	Parent    uint32
	Entries   []DirEntry
}

const (
	dirHeader      = 20
	direntryHeader = 18
)

// DecodeDirBlock decodes a directory block.
func DecodeDirBlock(buf []byte) (*DirBlock, error) {
	if len(buf) < dirHeader {
		return nil, fmt.Errorf("%w: directory block of %d bytes", ErrInvalidBlock, len(buf))
	}
	if got := binary.BigEndian.Uint16(buf); got != IDDir {
		return nil, fmt.Errorf("%w: directory block has id 0x%04X", ErrInvalidBlock, got)
	}
	b := &DirBlock{
		Datestamp: binary.BigEndian.Uint32(buf[4:]),
		Anode:     binary.BigEndian.Uint32(buf[12:]),
		Parent:    binary.BigEndian.Uint32(buf[16:]),
	}
	for off := dirHeader; off < len(buf); {
		size := int(buf[off])
		if size == 0 {
			break
		}
		if size < direntryHeader+2 || off+size > len(buf) {
			return b, fmt.Errorf("%w: directory entry at %d has size %d", ErrInvalidBlock, off, size)
		}
		e := buf[off : off+size]
		nlen := int(e[17])
		if direntryHeader+nlen+1 > size {
			return b, fmt.Errorf("%w: directory entry at %d has name length %d", ErrInvalidBlock, off, nlen)
		}
		clen := int(e[direntryHeader+nlen])
		if direntryHeader+nlen+1+clen > size {
			return b, fmt.Errorf("%w: directory entry at %d has comment length %d", ErrInvalidBlock, off, clen)
		}
		b.Entries = append(b.Entries, DirEntry{
			Type:  int8(e[1]),
			Anode: binary.BigEndian.Uint32(e[2:]),
			Size:  binary.BigEndian.Uint32(e[6:]),
			Date: amiga.Date{
				Days:  int32(binary.BigEndian.Uint16(e[10:])),
				Mins:  int32(binary.BigEndian.Uint16(e[12:])),
				Ticks: int32(binary.BigEndian.Uint16(e[14:])),
			},
			Protection: e[16],
			Name:       amiga.DecodeName(e[direntryHeader : direntryHeader+nlen]),
			Comment:    amiga.DecodeName(e[direntryHeader+nlen+1 : direntryHeader+nlen+1+clen]),
		})
		off += size
	}
	return b, nil
}

// Encode serializes the block. Entries that do not fit are an error.
func (b *DirBlock) Encode(size int) ([]byte, error) {
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf, IDDir)
	binary.BigEndian.PutUint32(buf[4:], b.Datestamp)
	binary.BigEndian.PutUint32(buf[12:], b.Anode)
	binary.BigEndian.PutUint32(buf[16:], b.Parent)
	off := dirHeader
	for _, e := range b.Entries {
		name, err := amiga.EncodeName(e.Name)
		if err != nil {
			return nil, err
		}
		comment, err := amiga.EncodeName(e.Comment)
		if err != nil {
			return nil, err
		}
		n := direntryHeader + len(name) + 1 + len(comment)
		n += n & 1
		if n > 255 || off+n >= size {
			return nil, fmt.Errorf("%w: entry %q does not fit directory block", ErrInvalidBlock, e.Name)
		}
		d := buf[off : off+n]
		d[0] = byte(n)
		d[1] = byte(e.Type)
		binary.BigEndian.PutUint32(d[2:], e.Anode)
		binary.BigEndian.PutUint32(d[6:], e.Size)
		binary.BigEndian.PutUint16(d[10:], uint16(e.Date.Days))
		binary.BigEndian.PutUint16(d[12:], uint16(e.Date.Mins))
		binary.BigEndian.PutUint16(d[14:], uint16(e.Date.Ticks))
		d[16] = e.Protection
		d[17] = byte(len(name))
		copy(d[direntryHeader:], name)
		d[direntryHeader+len(name)] = byte(len(comment))
		copy(d[direntryHeader+len(name)+1:], comment)
		off += n
	}
	return buf, nil
}

// DeldirHeader is the fixed head of a deleted-entry block.
type DeldirHeader struct {
	ID             uint16
	NotUsed        uint16
	Datestamp      uint32
	SeqNr          uint32
	NotUsed2       [3]uint16
	UID            uint16
	GID            uint16
	Protection     uint32
	CreationDay    uint16
	CreationMinute uint16
	CreationTick   uint16
}

// DeldirEntry records one deleted file.
type DeldirEntry struct {
	AnodeNr        uint32
	FSize          uint32
	CreationDay    uint16
	CreationMinute uint16
	CreationTick   uint16
	FileName       [16]byte
	FSizeX         uint16
}

const (
	deldirHeaderSize = 32
	deldirEntrySize  = 32
)

// Name of the deleted file.
func (e *DeldirEntry) Name() string { return bstr(e.FileName[:]) }

// Size of the deleted file, including the high bits of large files.
func (e *DeldirEntry) Size() uint64 { return uint64(e.FSizeX)<<32 | uint64(e.FSize) }

// Date the file was deleted.
func (e *DeldirEntry) Date() amiga.Date {
	return amiga.Date{Days: int32(e.CreationDay), Mins: int32(e.CreationMinute), Ticks: int32(e.CreationTick)}
}

// DeldirBlock is one block of the deleted-entry ring.
type DeldirBlock struct {
	DeldirHeader
	Entries []DeldirEntry
}

// DeldirEntriesPerBlock is the number of entries in a deldir block.
func DeldirEntriesPerBlock(size int) int { return (size - deldirHeaderSize) / deldirEntrySize }

// DecodeDeldirBlock decodes a deldir block. Slots with a zero anode are
// empty and left out.
func DecodeDeldirBlock(buf []byte) (*DeldirBlock, error) {
	b := &DeldirBlock{}
	if len(buf) < deldirHeaderSize {
		return nil, fmt.Errorf("%w: deldir block of %d bytes", ErrInvalidBlock, len(buf))
	}
	if err := unpackID(buf[:deldirHeaderSize], IDDeldir, "deldir block", &b.DeldirHeader); err != nil {
		return nil, err
	}
	for i := 0; i < DeldirEntriesPerBlock(len(buf)); i++ {
		off := deldirHeaderSize + i*deldirEntrySize
		var e DeldirEntry
		if err := restruct.Unpack(buf[off:off+deldirEntrySize], binary.BigEndian, &e); err != nil {
			return nil, fmt.Errorf("unpack deldir entry %d: %w", i, err)
		}
		if e.AnodeNr != 0 {
			b.Entries = append(b.Entries, e)
		}
	}
	return b, nil
}

// Encode serializes the block.
func (b *DeldirBlock) Encode(size int) ([]byte, error) {
	b.ID = IDDeldir
	buf, err := pack(&b.DeldirHeader, size)
	if err != nil {
		return nil, err
	}
	if len(b.Entries) > DeldirEntriesPerBlock(size) {
		return nil, fmt.Errorf("%w: %d deldir entries", ErrInvalidBlock, len(b.Entries))
	}
	for i := range b.Entries {
		raw, err := restruct.Pack(binary.BigEndian, &b.Entries[i])
		if err != nil {
			return nil, err
		}
		copy(buf[deldirHeaderSize+i*deldirEntrySize:], raw)
	}
	return buf, nil
}

// SetName stores a deleted file name.
func (e *DeldirEntry) SetName(name string) {
	e.FileName = [16]byte{}
	putBstr(e.FileName[:], name)
}

// SetName stores the volume name.
func (r *RootBlock) SetName(name string) {
	r.DiskName = [32]byte{}
	putBstr(r.DiskName[:], name)
}
