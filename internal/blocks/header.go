package blocks

import (
	"bytes"
	"fmt"

	"amitool/internal/amiga"
)

// BitmapPagesInRoot is the number of bitmap block pointers in a root block.
const BitmapPagesInRoot = 25

// BitmapValid is the root block flag value of a consistent bitmap.
const BitmapValid int32 = -1

const (
	offChecksum  = 0x14
	offHashTable = 0x18
)

// RootBlock is the volume root directory header.
type RootBlock struct {
	HeaderKey     uint32
	HighSeq       int32
	HashTableSize int32
	FirstData     uint32
	Checksum      uint32
	HashTable     []uint32
	BitmapFlag    int32
	BitmapPages   [BitmapPagesInRoot]uint32
	BitmapExt     uint32
	RootDate      amiga.Date
	Name          []byte
	VolumeDate    amiga.Date
	CreationDate  amiga.Date
	Extension     uint32
}

// DecodeRootBlock decodes a root block. On a checksum mismatch the decoded
// block is returned with an ErrChecksumMismatch error.
func DecodeRootBlock(buf []byte) (*RootBlock, error) {
	if err := checkSize(buf); err != nil {
		return nil, err
	}
	w := words(buf)
	if typ, sec := w.i32(0), w.i32(w.tail(0x1FC)); typ != TypeHeader || sec != SecTypeRoot {
		return nil, fmt.Errorf("%w: root block has type %d secondary %d", ErrInvalidBlockType, typ, sec)
	}
	r := &RootBlock{
		HeaderKey:     w.u32(0x04),
		HighSeq:       w.i32(0x08),
		HashTableSize: w.i32(0x0C),
		FirstData:     w.u32(0x10),
		Checksum:      w.u32(offChecksum),
		HashTable:     w.table(offHashTable, HashTableSize(len(buf))),
		BitmapFlag:    w.i32(w.tail(0x138)),
		BitmapExt:     w.u32(w.tail(0x1A0)),
		RootDate:      w.date(w.tail(0x1A4)),
		Name:          w.bstr(w.tail(0x1B0), amiga.MaxNameLength),
		VolumeDate:    w.date(w.tail(0x1D8)),
		CreationDate:  w.date(w.tail(0x1E4)),
		Extension:     w.u32(w.tail(0x1F8)),
	}
	for i := range r.BitmapPages {
		r.BitmapPages[i] = w.u32(w.tail(0x13C) + i*4)
	}
	if err := VerifyChecksum(buf, offChecksum); err != nil {
		return r, fmt.Errorf("root block: %w", err)
	}
	return r, nil
}

// Encode serializes the root block into a buffer of blockSize bytes and
// stores the checksum.
func (r *RootBlock) Encode(blockSize int) []byte {
	buf := make([]byte, blockSize)
	w := words(buf)
	n := HashTableSize(blockSize)
	w.puti(0, TypeHeader)
	w.put(0x04, r.HeaderKey)
	w.puti(0x08, r.HighSeq)
	w.puti(0x0C, int32(n))
	w.put(0x10, r.FirstData)
	w.putTable(offHashTable, r.HashTable, n)
	w.puti(w.tail(0x138), r.BitmapFlag)
	for i, p := range r.BitmapPages {
		w.put(w.tail(0x13C)+i*4, p)
	}
	w.put(w.tail(0x1A0), r.BitmapExt)
	w.putDate(w.tail(0x1A4), r.RootDate)
	w.putBstr(w.tail(0x1B0), amiga.MaxNameLength, r.Name)
	w.putDate(w.tail(0x1D8), r.VolumeDate)
	w.putDate(w.tail(0x1E4), r.CreationDate)
	w.put(w.tail(0x1F8), r.Extension)
	w.puti(w.tail(0x1FC), SecTypeRoot)
	SetChecksum(buf, offChecksum)
	r.Checksum = w.u32(offChecksum)
	return buf
}

// EntryBlock is the header block of a directory, file, hard link or soft
// link. SecType selects the variant.
type EntryBlock struct {
	SecType   int32
	HeaderKey uint32
	HighSeq   int32
	FirstData uint32
	Checksum  uint32
	// Table is the hash table of a directory or the data block pointers of
	// a file, the latter stored last-to-first as on disk.
	Table []uint32
	// SymLink is the target of a soft link, stored where Table would be.
	SymLink      []byte
	Access       uint32
	ByteSize     uint32
	Comment      []byte
	Date         amiga.Date
	Name         []byte
	Real         uint32
	NextLink     uint32
	NextSameHash uint32
	Parent       uint32
	Extension    uint32
}

// Kind returns the block variant.
func (e *EntryBlock) Kind() Kind {
	switch e.SecType {
	case SecTypeDir:
		return KindDir
	case SecTypeFile:
		return KindFile
	case SecTypeLinkFile:
		return KindLinkFile
	case SecTypeLinkDir:
		return KindLinkDir
	case SecTypeSoftLink:
		return KindSoftLink
	case SecTypeRoot:
		return KindRoot
	}
	return KindUnknown
}

// DecodeEntryBlock decodes a directory, file or link header. Unknown
// secondary types return ErrInvalidBlockType; checksum mismatches return
// the block together with ErrChecksumMismatch.
func DecodeEntryBlock(buf []byte) (*EntryBlock, error) {
	if err := checkSize(buf); err != nil {
		return nil, err
	}
	w := words(buf)
	typ := w.i32(0)
	e := &EntryBlock{SecType: w.i32(w.tail(0x1FC))}
	if typ != TypeHeader || e.Kind() == KindUnknown || e.Kind() == KindRoot {
		return nil, fmt.Errorf("%w: entry block has type %d secondary %d", ErrInvalidBlockType, typ, e.SecType)
	}
	e.HeaderKey = w.u32(0x04)
	e.HighSeq = w.i32(0x08)
	e.FirstData = w.u32(0x10)
	e.Checksum = w.u32(offChecksum)
	if e.SecType == SecTypeSoftLink {
		raw := buf[offHashTable:w.tail(0x138)]
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		e.SymLink = append([]byte(nil), raw...)
	} else {
		e.Table = w.table(offHashTable, HashTableSize(len(buf)))
	}
	e.Access = w.u32(w.tail(0x140))
	e.ByteSize = w.u32(w.tail(0x144))
	e.Comment = w.bstr(w.tail(0x148), amiga.MaxCommentLength)
	e.Date = w.date(w.tail(0x1A4))
	e.Name = w.bstr(w.tail(0x1B0), amiga.MaxNameLength)
	e.Real = w.u32(w.tail(0x1D4))
	e.NextLink = w.u32(w.tail(0x1D8))
	e.NextSameHash = w.u32(w.tail(0x1F0))
	e.Parent = w.u32(w.tail(0x1F4))
	e.Extension = w.u32(w.tail(0x1F8))
	if err := VerifyChecksum(buf, offChecksum); err != nil {
		return e, fmt.Errorf("entry block %d: %w", e.HeaderKey, err)
	}
	return e, nil
}

// Encode serializes the header into a buffer of blockSize bytes and stores
// the checksum.
func (e *EntryBlock) Encode(blockSize int) []byte {
	buf := make([]byte, blockSize)
	w := words(buf)
	w.puti(0, TypeHeader)
	w.put(0x04, e.HeaderKey)
	w.puti(0x08, e.HighSeq)
	w.put(0x10, e.FirstData)
	if e.SecType == SecTypeSoftLink {
		copy(buf[offHashTable:w.tail(0x138)-1], e.SymLink)
	} else {
		w.putTable(offHashTable, e.Table, HashTableSize(blockSize))
	}
	w.put(w.tail(0x140), e.Access)
	w.put(w.tail(0x144), e.ByteSize)
	w.putBstr(w.tail(0x148), amiga.MaxCommentLength, e.Comment)
	w.putDate(w.tail(0x1A4), e.Date)
	w.putBstr(w.tail(0x1B0), amiga.MaxNameLength, e.Name)
	w.put(w.tail(0x1D4), e.Real)
	w.put(w.tail(0x1D8), e.NextLink)
	w.put(w.tail(0x1F0), e.NextSameHash)
	w.put(w.tail(0x1F4), e.Parent)
	w.put(w.tail(0x1F8), e.Extension)
	w.puti(w.tail(0x1FC), e.SecType)
	SetChecksum(buf, offChecksum)
	e.Checksum = w.u32(offChecksum)
	return buf
}

func (w words) date(off int) amiga.Date {
	return amiga.Date{Days: w.i32(off), Mins: w.i32(off + 4), Ticks: w.i32(off + 8)}
}

func (w words) putDate(off int, d amiga.Date) {
	w.puti(off, d.Days)
	w.puti(off+4, d.Mins)
	w.puti(off+8, d.Ticks)
}
