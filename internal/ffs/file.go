package ffs

import (
	"fmt"
	"io"

	"amitool/internal/blocks"
)

// File reads the contents of a file header.
type File struct {
	v      *Volume
	header uint32
	size   int64
	data   []uint32
	pos    int64
}

// OpenFile collects the data block list of the file at sector n. Hard
// links to files are followed.
func (v *Volume) OpenFile(n uint32) (*File, error) {
	h, err := v.readEntry(n)
	if err != nil {
		return nil, err
	}
	if h.Kind() == blocks.KindLinkFile {
		if h, err = v.readEntry(h.Real); err != nil {
			return nil, fmt.Errorf("link %d: %w", n, err)
		}
	}
	if h.Kind() != blocks.KindFile {
		return nil, fmt.Errorf("sector %d: %w", n, ErrNotFile)
	}
	f := &File{v: v, header: h.HeaderKey, size: int64(h.ByteSize)}
	f.data = appendPointers(f.data, h.Table, h.HighSeq)

	seen := map[uint32]bool{}
	for ext := h.Extension; ext != 0; {
		if seen[ext] {
			return nil, fmt.Errorf("file %d: extension chain loops at %d", n, ext)
		}
		seen[ext] = true
		buf, err := v.readBlock(ext)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", n, err)
		}
		x, err := blocks.DecodeFileExtBlock(buf)
		if x == nil {
			return nil, fmt.Errorf("file %d extension %d: %w", n, ext, err)
		}
		if err = v.check(err, fmt.Sprintf("file %d extension %d", n, ext)); err != nil {
			return nil, err
		}
		f.data = appendPointers(f.data, x.Table, x.HighSeq)
		ext = x.Extension
	}

	if need := (f.size + int64(f.payload()) - 1) / int64(f.payload()); int64(len(f.data)) < need {
		return nil, fmt.Errorf("file %d: %d data blocks for %d bytes", n, len(f.data), f.size)
	}
	return f, nil
}

// appendPointers appends the first count pointers of a last-to-first
// table.
func appendPointers(dst, table []uint32, count int32) []uint32 {
	if int(count) > len(table) {
		count = int32(len(table))
	}
	for i := 0; i < int(count); i++ {
		dst = append(dst, table[len(table)-1-i])
	}
	return dst
}

func (f *File) payload() int {
	if f.v.dosType.IsOFS() {
		return f.v.blockSize - blocks.OFSDataHeaderSize
	}
	return f.v.blockSize
}

// Size is the file length in bytes.
func (f *File) Size() int64 { return f.size }

// DataBlocks returns the data block sectors in file order.
func (f *File) DataBlocks() []uint32 { return f.data }

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	n := 0
	for n < len(p) && off < f.size {
		idx := off / int64(f.payload())
		inner := int(off % int64(f.payload()))
		chunk, err := f.block(int(idx))
		if err != nil {
			return n, err
		}
		c := copy(p[n:], chunk[inner:])
		if rem := f.size - off; int64(c) > rem {
			c = int(rem)
		}
		n += c
		off += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (f *File) block(i int) ([]byte, error) {
	buf, err := f.v.readBlock(f.data[i])
	if err != nil {
		return nil, err
	}
	if !f.v.dosType.IsOFS() {
		return buf, nil
	}
	d, err := blocks.DecodeDataBlock(buf)
	if d == nil {
		return nil, fmt.Errorf("data block %d: %w", f.data[i], err)
	}
	if err = f.v.check(err, fmt.Sprintf("data block %d", f.data[i])); err != nil {
		return nil, err
	}
	if d.HeaderKey != f.header || int(d.SeqNum) != i+1 {
		f.v.warnf("data block %d: header %d seq %d, want %d seq %d", f.data[i], d.HeaderKey, d.SeqNum, f.header, i+1)
	}
	out := make([]byte, f.payload())
	copy(out, d.Data)
	return out, nil
}
