// Package ffs mounts AmigaDOS FFS and OFS volumes: hashed directory lookup,
// recursive listing, file reads, bitmap allocation and, on non-dircache
// volumes, creation of directories and files.
//
// Sector numbers are relative to the start of the volume. Every sector a
// Volume dereferences is checked against [FirstBlock, LastBlock].
package ffs

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"amitool/internal/amiga"
	"amitool/internal/blocks"
)

var (
	ErrNotDOS      = errors.New("not an AmigaDOS volume")
	ErrOutOfRange  = errors.New("sector outside volume")
	ErrNotFound    = errors.New("entry not found")
	ErrExists      = errors.New("entry already exists")
	ErrNotDir      = errors.New("not a directory")
	ErrNotFile     = errors.New("not a file")
	ErrReadOnly    = errors.New("volume is read-only")
	ErrDiskFull    = errors.New("no free blocks")
	ErrUnsupported = errors.New("operation not supported on this volume")
)

// Options control how a volume is mounted.
type Options struct {
	// BlockSize in bytes, 512 when zero.
	BlockSize int
	// Reserved blocks at the start of the volume, 2 when zero.
	Reserved int
	// IgnoreErrors downgrades checksum mismatches to log lines.
	IgnoreErrors bool
	Logger       logr.Logger
}

// Volume is a mounted FFS/OFS volume.
type Volume struct {
	r         io.ReaderAt
	w         io.WriterAt
	opts      Options
	log       logr.Logger
	blockSize int
	blocks    uint32
	dosType   amiga.DosType
	boot      *blocks.BootBlock
	rootKey   uint32
	root      *blocks.RootBlock
	curDir    uint32
	bm        *bitmap
	logs      []string
}

// Mount reads the boot and root blocks of a volume of size bytes. When r
// also implements io.WriterAt the volume is writable.
func Mount(r io.ReaderAt, size int64, opts Options) (*Volume, error) {
	if opts.BlockSize == 0 {
		opts.BlockSize = blocks.DefaultBlockSize
	}
	if opts.Reserved == 0 {
		opts.Reserved = 2
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	if opts.BlockSize%blocks.DefaultBlockSize != 0 {
		return nil, fmt.Errorf("%w: block size %d", blocks.ErrBlockSize, opts.BlockSize)
	}
	v := &Volume{
		r:         r,
		opts:      opts,
		log:       opts.Logger,
		blockSize: opts.BlockSize,
		blocks:    uint32(size / int64(opts.BlockSize)),
	}
	if w, ok := r.(io.WriterAt); ok {
		v.w = w
	}
	if v.blocks <= uint32(opts.Reserved) {
		return nil, fmt.Errorf("%w: volume of %d blocks is too small", ErrNotDOS, v.blocks)
	}

	buf := make([]byte, blocks.BootBlockSize)
	if _, err := r.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read boot block: %w", err)
	}
	boot, err := blocks.DecodeBootBlock(buf)
	if boot == nil {
		return nil, fmt.Errorf("boot block: %w", err)
	}
	if !boot.DosType.IsDOS() {
		return nil, fmt.Errorf("%w: dos type %s", ErrNotDOS, boot.DosType)
	}
	if err != nil {
		// hard disk partitions commonly carry no valid boot code
		v.warnf("boot block: %v", err)
	}
	v.boot = boot
	v.dosType = boot.DosType

	v.rootKey = (v.blocks - 1 + uint32(opts.Reserved)) / 2
	rb, err := v.readBlock(v.rootKey)
	if err != nil {
		return nil, fmt.Errorf("root block %d: %w", v.rootKey, err)
	}
	root, err := blocks.DecodeRootBlock(rb)
	if err = v.check(err, fmt.Sprintf("root block %d", v.rootKey)); err != nil {
		return nil, err
	}
	v.root = root
	v.curDir = v.rootKey
	v.log.V(1).Info("mounted volume", "name", v.Name(), "dosType", v.dosType.String(), "blocks", v.blocks, "root", v.rootKey)
	return v, nil
}

// DosType of the volume.
func (v *Volume) DosType() amiga.DosType { return v.dosType }

// BlockSize in bytes.
func (v *Volume) BlockSize() int { return v.blockSize }

// FirstBlock is the lowest addressable sector.
func (v *Volume) FirstBlock() uint32 { return 0 }

// LastBlock is the highest addressable sector.
func (v *Volume) LastBlock() uint32 { return v.blocks - 1 }

// RootKey is the sector of the root block.
func (v *Volume) RootKey() uint32 { return v.rootKey }

// Root returns the decoded root block.
func (v *Volume) Root() *blocks.RootBlock { return v.root }

// Name is the volume label.
func (v *Volume) Name() string { return amiga.DecodeName(v.root.Name) }

// ReadOnly reports whether writes are refused.
func (v *Volume) ReadOnly() bool { return v.w == nil }

// Logs returns the non-fatal problems met so far.
func (v *Volume) Logs() []string { return v.logs }

// CurrentDir is the sector of the current directory.
func (v *Volume) CurrentDir() uint32 { return v.curDir }

func (v *Volume) intl() bool { return v.dosType.IsIntl() }

func (v *Volume) tableSize() int { return blocks.HashTableSize(v.blockSize) }

func (v *Volume) warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	v.logs = append(v.logs, msg)
	v.log.Info("volume warning", "msg", msg)
}

// check downgrades checksum mismatches when IgnoreErrors is set.
func (v *Volume) check(err error, what string) error {
	if err == nil {
		return nil
	}
	if v.opts.IgnoreErrors && errors.Is(err, blocks.ErrChecksumMismatch) {
		v.warnf("%s: %v", what, err)
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (v *Volume) inRange(n uint32) bool {
	return n >= v.FirstBlock() && n <= v.LastBlock()
}

func (v *Volume) readBlock(n uint32) ([]byte, error) {
	if !v.inRange(n) {
		return nil, fmt.Errorf("%w: sector %d not in [%d, %d]", ErrOutOfRange, n, v.FirstBlock(), v.LastBlock())
	}
	buf := make([]byte, v.blockSize)
	if _, err := v.r.ReadAt(buf, int64(n)*int64(v.blockSize)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read sector %d: %w", n, err)
	}
	return buf, nil
}

func (v *Volume) writeBlock(n uint32, buf []byte) error {
	if v.w == nil {
		return ErrReadOnly
	}
	if !v.inRange(n) {
		return fmt.Errorf("%w: sector %d not in [%d, %d]", ErrOutOfRange, n, v.FirstBlock(), v.LastBlock())
	}
	if _, err := v.w.WriteAt(buf, int64(n)*int64(v.blockSize)); err != nil {
		return fmt.Errorf("write sector %d: %w", n, err)
	}
	return nil
}

// readEntry decodes the header block at sector n. The root block decodes
// into an EntryBlock carrying only its hash table and dates.
func (v *Volume) readEntry(n uint32) (*blocks.EntryBlock, error) {
	if n == v.rootKey {
		return &blocks.EntryBlock{
			SecType:   blocks.SecTypeRoot,
			HeaderKey: n,
			Table:     v.root.HashTable,
			Name:      v.root.Name,
			Date:      v.root.RootDate,
		}, nil
	}
	buf, err := v.readBlock(n)
	if err != nil {
		return nil, err
	}
	e, err := blocks.DecodeEntryBlock(buf)
	if e == nil {
		return nil, fmt.Errorf("entry block %d: %w", n, err)
	}
	if err = v.check(err, fmt.Sprintf("entry block %d", n)); err != nil {
		return nil, err
	}
	return e, nil
}

// writeEntry encodes e to its own header key. The root block is rewritten
// from v.root.
func (v *Volume) writeEntry(e *blocks.EntryBlock) error {
	if e.HeaderKey == v.rootKey {
		v.root.HashTable = e.Table
		v.root.RootDate = e.Date
		return v.writeBlock(v.rootKey, v.root.Encode(v.blockSize))
	}
	return v.writeBlock(e.HeaderKey, e.Encode(v.blockSize))
}
