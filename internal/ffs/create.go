package ffs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"amitool/internal/amiga"
	"amitool/internal/blocks"
)

// Attributes of a new entry.
type Attributes struct {
	Access  uint32
	Comment string
	Date    time.Time
}

type newHeader struct {
	parent  *blocks.EntryBlock
	name    []byte
	comment []byte
	date    amiga.Date
}

func (v *Volume) prepareCreate(parent uint32, name string, attrs Attributes) (*newHeader, error) {
	if v.w == nil {
		return nil, ErrReadOnly
	}
	if v.dosType.IsDirCache() {
		return nil, fmt.Errorf("%w: %s volumes are read-only", ErrUnsupported, v.dosType)
	}
	raw, err := amiga.EncodeName(name)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || len(raw) > amiga.MaxNameLength {
		return nil, fmt.Errorf("name %q: length must be 1 to %d", name, amiga.MaxNameLength)
	}
	comment, err := amiga.EncodeName(attrs.Comment)
	if err != nil {
		return nil, err
	}
	if len(comment) > amiga.MaxCommentLength {
		return nil, fmt.Errorf("comment of %q: longer than %d", name, amiga.MaxCommentLength)
	}
	p, err := v.readDir(parent)
	if err != nil {
		return nil, err
	}
	if _, _, err := v.lookup(p, raw); err == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := v.loadBitmap(); err != nil {
		return nil, err
	}
	date := attrs.Date
	if date.IsZero() {
		date = time.Now()
	}
	return &newHeader{parent: p, name: raw, comment: comment, date: amiga.DateFromTime(date)}, nil
}

// link appends header key to the hash chain of its slot in parent and
// stamps the parent with date.
func (v *Volume) link(parent *blocks.EntryBlock, name []byte, key uint32, date amiga.Date) error {
	slot := HashSlot(name, v.intl(), v.tableSize())
	if parent.Table[slot] == 0 {
		parent.Table[slot] = key
	} else {
		_, last, err := v.lookup(parent, name)
		if err == nil {
			return fmt.Errorf("%s: %w", amiga.DecodeName(name), ErrExists)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		last.NextSameHash = key
		if err := v.writeEntry(last); err != nil {
			return err
		}
	}
	parent.Date = date
	return v.writeEntry(parent)
}

// CreateDir adds an empty directory to the directory at sector parent.
func (v *Volume) CreateDir(parent uint32, name string, attrs Attributes) (Entry, error) {
	h, err := v.prepareCreate(parent, name, attrs)
	if err != nil {
		return Entry{}, err
	}
	keys, err := v.allocBlocks(1)
	if err != nil {
		return Entry{}, err
	}
	e := &blocks.EntryBlock{
		SecType:   blocks.SecTypeDir,
		HeaderKey: keys[0],
		Table:     make([]uint32, v.tableSize()),
		Access:    attrs.Access,
		Comment:   h.comment,
		Date:      h.date,
		Name:      h.name,
		Parent:    h.parent.HeaderKey,
	}
	if err := v.commit(e, h, keys); err != nil {
		return Entry{}, err
	}
	return newEntry(e, nil), nil
}

func (v *Volume) commit(e *blocks.EntryBlock, h *newHeader, allocated []uint32) error {
	err := v.writeEntry(e)
	if err == nil {
		err = v.link(h.parent, h.name, e.HeaderKey, h.date)
	}
	if err != nil {
		v.freeBlocks(allocated)
		return err
	}
	return v.flushBitmap()
}

// CreateFile writes the contents of r as a new file in the directory at
// sector parent. Cancellation is checked between data blocks; on error
// every block taken for the file is released and the directory is left
// unchanged.
func (v *Volume) CreateFile(ctx context.Context, parent uint32, name string, attrs Attributes, r io.Reader) (Entry, error) {
	h, err := v.prepareCreate(parent, name, attrs)
	if err != nil {
		return Entry{}, err
	}
	allocated, err := v.allocBlocks(1)
	if err != nil {
		return Entry{}, err
	}
	key := allocated[0]
	fail := func(err error) (Entry, error) {
		v.freeBlocks(allocated)
		return Entry{}, err
	}

	ofs := v.dosType.IsOFS()
	payload := v.blockSize
	if ofs {
		payload -= blocks.OFSDataHeaderSize
	}
	var (
		data    []uint32
		size    int64
		pending *blocks.DataBlock
		pendKey uint32
	)
	buf := make([]byte, payload)
	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			ks, err := v.allocBlocks(1)
			if err != nil {
				return fail(err)
			}
			allocated = append(allocated, ks[0])
			data = append(data, ks[0])
			size += int64(n)
			if !ofs {
				out := make([]byte, v.blockSize)
				copy(out, buf[:n])
				if err := v.writeBlock(ks[0], out); err != nil {
					return fail(err)
				}
			} else {
				if pending != nil {
					pending.NextData = ks[0]
					if err := v.writeBlock(pendKey, pending.Encode(v.blockSize)); err != nil {
						return fail(err)
					}
				}
				pending = &blocks.DataBlock{HeaderKey: key, SeqNum: uint32(len(data)), Data: append([]byte(nil), buf[:n]...)}
				pendKey = ks[0]
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return fail(fmt.Errorf("read %s: %w", name, rerr))
		}
	}
	if pending != nil {
		if err := v.writeBlock(pendKey, pending.Encode(v.blockSize)); err != nil {
			return fail(err)
		}
	}
	if size > int64(^uint32(0)) {
		return fail(fmt.Errorf("%s: %d bytes exceed the file size limit", name, size))
	}

	per := v.tableSize()
	e := &blocks.EntryBlock{
		SecType:   blocks.SecTypeFile,
		HeaderKey: key,
		Table:     make([]uint32, per),
		Access:    attrs.Access,
		ByteSize:  uint32(size),
		Comment:   h.comment,
		Date:      h.date,
		Name:      h.name,
		Parent:    h.parent.HeaderKey,
	}
	if len(data) > 0 {
		e.FirstData = data[0]
	}
	e.HighSeq = fillTable(e.Table, data)

	rest := data[min(len(data), per):]
	if len(rest) > 0 {
		exts, err := v.allocBlocks((len(rest) + per - 1) / per)
		if err != nil {
			return fail(err)
		}
		allocated = append(allocated, exts...)
		e.Extension = exts[0]
		for i, ek := range exts {
			x := &blocks.FileExtBlock{HeaderKey: ek, Table: make([]uint32, per), Parent: key}
			x.HighSeq = fillTable(x.Table, rest[i*per:])
			if i+1 < len(exts) {
				x.Extension = exts[i+1]
			}
			if err := v.writeBlock(ek, x.Encode(v.blockSize)); err != nil {
				return fail(err)
			}
		}
	}
	if err := v.commit(e, h, allocated); err != nil {
		return Entry{}, err
	}
	return newEntry(e, nil), nil
}

// fillTable stores up to len(table) pointers last-to-first and returns how
// many it stored.
func fillTable(table, ptrs []uint32) int32 {
	n := min(len(ptrs), len(table))
	for i := 0; i < n; i++ {
		table[len(table)-1-i] = ptrs[i]
	}
	return int32(n)
}
