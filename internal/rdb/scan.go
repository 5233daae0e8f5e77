package rdb

import (
	"errors"
	"fmt"
	"io"
)

// Table is a decoded Rigid Disk Block with its partition and file system
// lists.
type Table struct {
	// Block is the disk block holding the RDSK header.
	Block       uint32
	Disk        *RigidDiskBlock
	Partitions  []*PartitionBlock
	FileSystems []*FileSystemHeaderBlock
}

// BlockBytes is the block size used by the RDB lists.
func (t *Table) BlockBytes() int {
	if t.Disk == nil || t.Disk.BlockBytes == 0 {
		return 512
	}
	return int(t.Disk.BlockBytes)
}

// Partition finds a partition by device name, case-insensitively.
func (t *Table) Partition(name string) (*PartitionBlock, int, bool) {
	for i, p := range t.Partitions {
		if equalFold(p.Name(), name) {
			return p, i, true
		}
	}
	return nil, -1, false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func readBlock(r io.ReaderAt, n uint32, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, int64(n)*int64(size)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read block %d: %w", n, err)
	}
	return buf, nil
}

// Scan searches the first LocationLimit blocks for an RDSK header and
// follows its partition and file system lists. Disks without an RDB return
// ErrNotFound.
func Scan(r io.ReaderAt) (*Table, error) {
	var t *Table
	for n := uint32(0); n < LocationLimit; n++ {
		buf, err := readBlock(r, n, 512)
		if err != nil {
			return nil, err
		}
		disk, err := DecodeRigidDiskBlock(buf)
		if err != nil {
			continue
		}
		t = &Table{Block: n, Disk: disk}
		break
	}
	if t == nil {
		return nil, ErrNotFound
	}
	size := t.BlockBytes()

	seen := map[uint32]bool{}
	for n := t.Disk.PartitionList; n != EndOfList && n != 0; {
		if seen[n] {
			return nil, fmt.Errorf("%w: partition list loops at block %d", ErrInvalidBlock, n)
		}
		seen[n] = true
		buf, err := readBlock(r, n, size)
		if err != nil {
			return nil, err
		}
		p, err := DecodePartitionBlock(buf)
		if err != nil {
			return nil, fmt.Errorf("partition block %d: %w", n, err)
		}
		t.Partitions = append(t.Partitions, p)
		n = p.Next
	}

	for n := t.Disk.FileSysHeaderList; n != EndOfList && n != 0; {
		if seen[n] {
			return nil, fmt.Errorf("%w: file system list loops at block %d", ErrInvalidBlock, n)
		}
		seen[n] = true
		buf, err := readBlock(r, n, size)
		if err != nil {
			return nil, err
		}
		fs, err := DecodeFileSystemHeaderBlock(buf)
		if err != nil {
			return nil, fmt.Errorf("file system header block %d: %w", n, err)
		}
		t.FileSystems = append(t.FileSystems, fs)
		n = fs.Next
	}
	return t, nil
}
