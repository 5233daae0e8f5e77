// Package layer implements a block-granular overlay over a base store.
// Writes land in an append-only overlay store and reads fall through to
// the base for blocks the overlay does not hold. The base is only written
// by FlushLayer.
//
// Overlay format, little-endian:
//
//	header  magic "LAYR" (4) | logical size (8) | block size (4)
//	table   one 8 byte record offset per block, 0 when unallocated
//	records block number (8) | block size (4) | payload (block size)
package layer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifies an overlay store.
const Magic = "LAYR"

// HeaderSize is the size of the overlay header.
const HeaderSize = 16

const (
	tableEntrySize   = 8
	recordHeaderSize = 12
)

// DefaultBlockSize is used when New is given a block size of zero.
const DefaultBlockSize = 512

var (
	// ErrOutOfRange reports an access past the logical end of the stream.
	ErrOutOfRange = errors.New("position outside layered stream")
	// ErrCorruptOverlay reports an overlay store that cannot be trusted.
	ErrCorruptOverlay = errors.New("corrupt overlay")
	// ErrNotInitialized reports use of a stream before Initialize.
	ErrNotInitialized = errors.New("layered stream not initialized")
)

// Base is the store an overlay sits in front of.
type Base interface {
	io.ReaderAt
	io.WriterAt
}

// Store holds the overlay header, table and records.
type Store interface {
	io.ReaderAt
	io.WriterAt
}

// Stream is a seekable view of base with every write redirected into an
// overlay. A Stream is not safe for concurrent use.
type Stream struct {
	base      Base
	overlay   Store
	size      int64
	blockSize int
	table     []int64
	end       int64
	pos       int64
	ready     bool
}

// New returns an uninitialized stream of size bytes over base.
func New(base Base, size int64, overlay Store, blockSize int) *Stream {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Stream{base: base, overlay: overlay, size: size, blockSize: blockSize}
}

// Size is the logical length of the stream.
func (s *Stream) Size() int64 { return s.size }

// BlockSize is the overlay granularity.
func (s *Stream) BlockSize() int { return s.blockSize }

// Blocks is the length of the allocation table.
func (s *Stream) Blocks() int { return len(s.table) }

// Table returns a copy of the allocation table.
func (s *Stream) Table() []int64 { return append([]int64(nil), s.table...) }

// Allocated counts the blocks held by the overlay.
func (s *Stream) Allocated() int {
	n := 0
	for _, off := range s.table {
		if off != 0 {
			n++
		}
	}
	return n
}

func (s *Stream) tableOffset(idx int) int64 { return HeaderSize + int64(idx)*tableEntrySize }

func (s *Stream) recordSize() int64 { return recordHeaderSize + int64(s.blockSize) }

// Initialize writes a header and empty table into an empty overlay, or
// loads and validates the ones already there.
func (s *Stream) Initialize() error {
	if s.size < 0 {
		return fmt.Errorf("%w: size %d", ErrOutOfRange, s.size)
	}
	blocks := int((s.size + int64(s.blockSize) - 1) / int64(s.blockSize))
	hdr := make([]byte, HeaderSize)
	n, err := s.overlay.ReadAt(hdr, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read overlay header: %w", err)
	}
	if n == 0 {
		return s.create(blocks)
	}
	if n < HeaderSize || string(hdr[:4]) != Magic {
		return fmt.Errorf("%w: bad header", ErrCorruptOverlay)
	}
	if size := int64(binary.LittleEndian.Uint64(hdr[4:])); size != s.size {
		return fmt.Errorf("%w: overlay is for %d bytes, stream is %d", ErrCorruptOverlay, size, s.size)
	}
	if bs := int(binary.LittleEndian.Uint32(hdr[12:])); bs != s.blockSize {
		return fmt.Errorf("%w: overlay block size %d, stream uses %d", ErrCorruptOverlay, bs, s.blockSize)
	}
	raw := make([]byte, blocks*tableEntrySize)
	if n, err := s.overlay.ReadAt(raw, HeaderSize); n < len(raw) {
		return fmt.Errorf("%w: truncated table: %v", ErrCorruptOverlay, err)
	}
	s.table = make([]int64, blocks)
	s.end = s.tableOffset(blocks)
	rec := make([]byte, recordHeaderSize)
	for i := range s.table {
		off := int64(binary.LittleEndian.Uint64(raw[i*tableEntrySize:]))
		if off == 0 {
			continue
		}
		if off < s.tableOffset(blocks) {
			return fmt.Errorf("%w: block %d points into the table", ErrCorruptOverlay, i)
		}
		if n, _ := s.overlay.ReadAt(rec, off); n < recordHeaderSize {
			return fmt.Errorf("%w: truncated record of block %d", ErrCorruptOverlay, i)
		}
		if nr := binary.LittleEndian.Uint64(rec); nr != uint64(i) {
			return fmt.Errorf("%w: record at %d holds block %d, want %d", ErrCorruptOverlay, off, nr, i)
		}
		if bs := binary.LittleEndian.Uint32(rec[8:]); int(bs) != s.blockSize {
			return fmt.Errorf("%w: record of block %d has size %d", ErrCorruptOverlay, i, bs)
		}
		s.table[i] = off
		if e := off + s.recordSize(); e > s.end {
			s.end = e
		}
	}
	s.end = s.skipRecords(s.end)
	s.ready = true
	return nil
}

// skipRecords returns the first offset at or after off that holds no
// complete record header. Records dropped from the table by Reset still
// occupy the store, so appending starts past them.
func (s *Stream) skipRecords(off int64) int64 {
	rec := make([]byte, recordHeaderSize)
	for {
		n, _ := s.overlay.ReadAt(rec, off)
		if n < recordHeaderSize || int(binary.LittleEndian.Uint32(rec[8:])) != s.blockSize {
			return off
		}
		off += s.recordSize()
	}
}

func (s *Stream) create(blocks int) error {
	buf := make([]byte, HeaderSize+blocks*tableEntrySize)
	copy(buf, Magic)
	binary.LittleEndian.PutUint64(buf[4:], uint64(s.size))
	binary.LittleEndian.PutUint32(buf[12:], uint32(s.blockSize))
	if _, err := s.overlay.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write overlay header: %w", err)
	}
	s.table = make([]int64, blocks)
	s.end = int64(len(buf))
	s.ready = true
	return nil
}

// span is the part of a block touched by one access.
type span struct {
	idx   int
	inner int
	n     int
}

func (s *Stream) spans(off int64, n int) []span {
	var out []span
	for n > 0 {
		idx := int(off / int64(s.blockSize))
		inner := int(off % int64(s.blockSize))
		c := min(s.blockSize-inner, n)
		out = append(out, span{idx: idx, inner: inner, n: c})
		off += int64(c)
		n -= c
	}
	return out
}

// readBase reads from the base, treating bytes past its end as zero.
func (s *Stream) readBase(p []byte, off int64) error {
	n, err := s.base.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read base at %d: %w", off, err)
	}
	clear(p[n:])
	return nil
}

func (s *Stream) readRecord(p []byte, idx, inner int) error {
	pos := s.table[idx] + recordHeaderSize + int64(inner)
	n, err := s.overlay.ReadAt(p, pos)
	if n < len(p) {
		return fmt.Errorf("%w: truncated record of block %d: %v", ErrCorruptOverlay, idx, err)
	}
	return nil
}

// ReadAt implements io.ReaderAt. Reads never allocate overlay blocks.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if !s.ready {
		return 0, ErrNotInitialized
	}
	if off < 0 || off > s.size {
		return 0, fmt.Errorf("%w: read at %d of %d", ErrOutOfRange, off, s.size)
	}
	want := len(p)
	var eof error
	if rem := s.size - off; int64(want) > rem {
		want, eof = int(rem), io.EOF
	}
	done := 0
	for _, sp := range s.spans(off, want) {
		dst := p[done : done+sp.n]
		var err error
		if s.table[sp.idx] != 0 {
			err = s.readRecord(dst, sp.idx, sp.inner)
		} else {
			err = s.readBase(dst, int64(sp.idx)*int64(s.blockSize)+int64(sp.inner))
		}
		if err != nil {
			return done, err
		}
		done += sp.n
	}
	return done, eof
}

// WriteAt implements io.WriterAt. The whole range is checked against the
// logical size before anything is written.
func (s *Stream) WriteAt(p []byte, off int64) (int, error) {
	if !s.ready {
		return 0, ErrNotInitialized
	}
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("%w: write of %d bytes at %d, size %d", ErrOutOfRange, len(p), off, s.size)
	}
	done := 0
	for _, sp := range s.spans(off, len(p)) {
		src := p[done : done+sp.n]
		if s.table[sp.idx] == 0 {
			if err := s.allocate(sp.idx, src, sp.inner); err != nil {
				return done, err
			}
		} else {
			pos := s.table[sp.idx] + recordHeaderSize + int64(sp.inner)
			if _, err := s.overlay.WriteAt(src, pos); err != nil {
				return done, fmt.Errorf("write overlay block %d: %w", sp.idx, err)
			}
		}
		done += sp.n
	}
	return done, nil
}

// allocate appends a record for block idx holding the base contents with
// src written at inner, then points the table at it.
func (s *Stream) allocate(idx int, src []byte, inner int) error {
	rec := make([]byte, s.recordSize())
	binary.LittleEndian.PutUint64(rec, uint64(idx))
	binary.LittleEndian.PutUint32(rec[8:], uint32(s.blockSize))
	payload := rec[recordHeaderSize:]
	if err := s.readBase(payload, int64(idx)*int64(s.blockSize)); err != nil {
		return err
	}
	copy(payload[inner:], src)
	off := s.end
	if _, err := s.overlay.WriteAt(rec, off); err != nil {
		return fmt.Errorf("append overlay block %d: %w", idx, err)
	}
	var ent [tableEntrySize]byte
	binary.LittleEndian.PutUint64(ent[:], uint64(off))
	if _, err := s.overlay.WriteAt(ent[:], s.tableOffset(idx)); err != nil {
		return fmt.Errorf("update overlay table %d: %w", idx, err)
	}
	s.table[idx] = off
	s.end = off + int64(len(rec))
	return nil
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if s.pos >= s.size && len(p) > 0 {
		return 0, io.EOF
	}
	n, err := s.ReadAt(p, s.pos)
	s.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Write implements io.Writer.
func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.WriteAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker. Seeking past the end is refused.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		pos = s.size + offset
	default:
		return s.pos, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if pos < 0 || pos > s.size {
		return s.pos, fmt.Errorf("%w: seek to %d", ErrOutOfRange, pos)
	}
	s.pos = pos
	return pos, nil
}

// FlushProgress is called after each block is copied to the base.
type FlushProgress func(flushed, total int)

// FlushLayer copies every overlay block to its place in the base. Blocks
// stay allocated, so flushing again is harmless. Cancellation is checked
// between blocks.
func (s *Stream) FlushLayer(ctx context.Context, progress FlushProgress) error {
	if !s.ready {
		return ErrNotInitialized
	}
	total := s.Allocated()
	buf := make([]byte, s.blockSize)
	flushed := 0
	for idx, off := range s.table {
		if off == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.readRecord(buf, idx, 0); err != nil {
			return err
		}
		pos := int64(idx) * int64(s.blockSize)
		n := int(min(int64(s.blockSize), s.size-pos))
		if _, err := s.base.WriteAt(buf[:n], pos); err != nil {
			return fmt.Errorf("flush block %d: %w", idx, err)
		}
		flushed++
		if progress != nil {
			progress(flushed, total)
		}
	}
	return nil
}

// Reset marks every block unallocated. Record space is not reclaimed.
func (s *Stream) Reset() error {
	if !s.ready {
		return ErrNotInitialized
	}
	zero := make([]byte, len(s.table)*tableEntrySize)
	if _, err := s.overlay.WriteAt(zero, HeaderSize); err != nil {
		return fmt.Errorf("reset overlay table: %w", err)
	}
	clear(s.table)
	return nil
}
