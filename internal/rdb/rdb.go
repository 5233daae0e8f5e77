// Package rdb reads and writes the Amiga Rigid Disk Block partition table.
package rdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/go-restruct/restruct"

	"amitool/internal/amiga"
)

// Block identifiers.
const (
	IDRigidDisk  uint32 = 0x5244534B // RDSK
	IDPartition  uint32 = 0x50415254 // PART
	IDFileSystem uint32 = 0x46534844 // FSHD
	IDLoadSeg    uint32 = 0x4C534547 // LSEG
)

// EndOfList terminates the partition and file system block chains.
const EndOfList uint32 = 0xFFFFFFFF

// LocationLimit is the number of leading blocks searched for an RDSK block.
const LocationLimit = 16

// summedLongs of RDSK, PART and FSHD blocks.
const summedLongs = 64

const blockStructSize = summedLongs * 4

var (
	// ErrNotFound reports a disk without a Rigid Disk Block.
	ErrNotFound = errors.New("rigid disk block not found")
	// ErrInvalidBlock reports a block with a wrong identifier or checksum.
	ErrInvalidBlock = errors.New("invalid rigid disk block")
)

// RigidDiskBlock is the RDSK header describing the drive geometry and the
// heads of the partition and file system lists.
type RigidDiskBlock struct {
	ID                 uint32
	SummedLongs        uint32
	ChkSum             int32
	HostID             uint32
	BlockBytes         uint32
	Flags              uint32
	BadBlockList       uint32
	PartitionList      uint32
	FileSysHeaderList  uint32
	DriveInit          uint32
	Reserved1          [6]uint32
	Cylinders          uint32
	Sectors            uint32
	Heads              uint32
	Interleave         uint32
	Park               uint32
	Reserved2          [3]uint32
	WritePreComp       uint32
	ReducedWrite       uint32
	StepRate           uint32
	Reserved3          [5]uint32
	RDBBlocksLo        uint32
	RDBBlocksHi        uint32
	LoCylinder         uint32
	HiCylinder         uint32
	CylBlocks          uint32
	AutoParkSeconds    uint32
	HighRDSKBlock      uint32
	Reserved4          uint32
	DiskVendor         [8]byte
	DiskProduct        [16]byte
	DiskRevision       [4]byte
	ControllerVendor   [8]byte
	ControllerProduct  [16]byte
	ControllerRevision [4]byte
	DriveInitName      [40]byte
}

// Environment indexes into PartitionBlock.Environment (struct DosEnvec).
const (
	EnvTableSize = iota
	EnvSizeBlock
	EnvSecOrg
	EnvSurfaces
	EnvSectorPerBlock
	EnvBlocksPerTrack
	EnvReserved
	EnvPreAlloc
	EnvInterleave
	EnvLowCyl
	EnvHighCyl
	EnvNumBuffers
	EnvBufMemType
	EnvMaxTransfer
	EnvMask
	EnvBootPri
	EnvDosType
	EnvBaud
	EnvControl
	EnvBootBlocks
)

// PartitionBlock is one PART entry of the partition list.
type PartitionBlock struct {
	ID          uint32
	SummedLongs uint32
	ChkSum      int32
	HostID      uint32
	Next        uint32
	Flags       uint32
	Reserved1   [2]uint32
	DevFlags    uint32
	DriveName   [32]byte
	Reserved2   [15]uint32
	Environment [20]uint32
	EReserved   [12]uint32
}

// FileSystemHeaderBlock is one FSHD entry of the file system list.
type FileSystemHeaderBlock struct {
	ID            uint32
	SummedLongs   uint32
	ChkSum        int32
	HostID        uint32
	Next          uint32
	Flags         uint32
	Reserved1     [2]uint32
	DosType       uint32
	Version       uint32
	PatchFlags    uint32
	Type          uint32
	Task          uint32
	Lock          uint32
	Handler       uint32
	StackSize     uint32
	Priority      int32
	Startup       int32
	SegListBlocks int32
	GlobalVec     int32
	Reserved2     [23]uint32
	Reserved3     [21]uint32
}

// checksum makes the first summedLongs words of buf sum to zero.
func checksum(buf []byte, n int) int32 {
	var sum int32
	for i := 0; i < n; i++ {
		if i == 2 {
			continue
		}
		sum += int32(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return -sum
}

func verify(buf []byte, id uint32, what string) error {
	if len(buf) < blockStructSize {
		return fmt.Errorf("%w: %s block of %d bytes", ErrInvalidBlock, what, len(buf))
	}
	if got := binary.BigEndian.Uint32(buf); got != id {
		return fmt.Errorf("%w: %s block has id 0x%08X", ErrInvalidBlock, what, got)
	}
	n := int(binary.BigEndian.Uint32(buf[4:]))
	if n < 3 || n*4 > len(buf) {
		return fmt.Errorf("%w: %s block summed longs %d", ErrInvalidBlock, what, n)
	}
	if stored := int32(binary.BigEndian.Uint32(buf[8:])); stored != checksum(buf, n) {
		return fmt.Errorf("%w: %s block checksum", ErrInvalidBlock, what)
	}
	return nil
}

func unpack(buf []byte, id uint32, what string, v interface{}) error {
	if err := verify(buf, id, what); err != nil {
		return err
	}
	if err := restruct.Unpack(buf[:blockStructSize], binary.BigEndian, v); err != nil {
		return fmt.Errorf("unpack %s block: %w", what, err)
	}
	return nil
}

func pack(v interface{}, blockSize int) ([]byte, error) {
	raw, err := restruct.Pack(binary.BigEndian, v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, blockSize)
	copy(buf, raw)
	binary.BigEndian.PutUint32(buf[4:], summedLongs)
	binary.BigEndian.PutUint32(buf[8:], uint32(checksum(buf, summedLongs)))
	return buf, nil
}

// DecodeRigidDiskBlock decodes and verifies an RDSK block.
func DecodeRigidDiskBlock(buf []byte) (*RigidDiskBlock, error) {
	var b RigidDiskBlock
	if err := unpack(buf, IDRigidDisk, "RDSK", &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Encode serializes the block with a fresh checksum.
func (b *RigidDiskBlock) Encode(blockSize int) ([]byte, error) {
	b.ID, b.SummedLongs = IDRigidDisk, summedLongs
	return pack(b, blockSize)
}

// DecodePartitionBlock decodes and verifies a PART block.
func DecodePartitionBlock(buf []byte) (*PartitionBlock, error) {
	var b PartitionBlock
	if err := unpack(buf, IDPartition, "PART", &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Encode serializes the block with a fresh checksum.
func (b *PartitionBlock) Encode(blockSize int) ([]byte, error) {
	b.ID, b.SummedLongs = IDPartition, summedLongs
	return pack(b, blockSize)
}

// DecodeFileSystemHeaderBlock decodes and verifies an FSHD block.
func DecodeFileSystemHeaderBlock(buf []byte) (*FileSystemHeaderBlock, error) {
	var b FileSystemHeaderBlock
	if err := unpack(buf, IDFileSystem, "FSHD", &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Encode serializes the block with a fresh checksum.
func (b *FileSystemHeaderBlock) Encode(blockSize int) ([]byte, error) {
	b.ID, b.SummedLongs = IDFileSystem, summedLongs
	return pack(b, blockSize)
}

// Name returns the partition device name, e.g. "DH0".
func (p *PartitionBlock) Name() string {
	n := int(p.DriveName[0])
	if n > len(p.DriveName)-1 {
		n = len(p.DriveName) - 1
	}
	return amiga.DecodeName(p.DriveName[1 : 1+n])
}

// SetName stores name as a BCPL string.
func (p *PartitionBlock) SetName(name string) {
	p.DriveName = [32]byte{}
	if len(name) > len(p.DriveName)-1 {
		name = name[:len(p.DriveName)-1]
	}
	p.DriveName[0] = byte(len(name))
	copy(p.DriveName[1:], name)
}

// DosType of the file system on the partition.
func (p *PartitionBlock) DosType() amiga.DosType {
	return amiga.DosType(p.Environment[EnvDosType])
}

// BlockSize is the file system block size in bytes.
func (p *PartitionBlock) BlockSize() int {
	if p.Environment[EnvSizeBlock] == 0 {
		return 512
	}
	return int(p.Environment[EnvSizeBlock]) * 4
}

// Reserved is the number of reserved blocks at the start of the partition.
func (p *PartitionBlock) Reserved() int {
	return int(p.Environment[EnvReserved])
}

func (p *PartitionBlock) cylinderBytes() int64 {
	return int64(p.Environment[EnvSurfaces]) * int64(p.Environment[EnvBlocksPerTrack]) * int64(p.BlockSize())
}

// Offset is the partition start in bytes from the start of the disk.
func (p *PartitionBlock) Offset() int64 {
	return int64(p.Environment[EnvLowCyl]) * p.cylinderBytes()
}

// Size is the partition length in bytes.
func (p *PartitionBlock) Size() int64 {
	low, high := p.Environment[EnvLowCyl], p.Environment[EnvHighCyl]
	if high < low {
		return 0
	}
	return int64(high-low+1) * p.cylinderBytes()
}

// Bootable reports whether the partition is flagged bootable.
func (p *PartitionBlock) Bootable() bool { return p.Flags&1 != 0 }

func trimBytes(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}

// Vendor returns the disk vendor and product strings.
func (b *RigidDiskBlock) Vendor() (vendor, product, revision string) {
	return trimBytes(b.DiskVendor[:]), trimBytes(b.DiskProduct[:]), trimBytes(b.DiskRevision[:])
}
