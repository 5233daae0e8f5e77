package ffs

import (
	"fmt"
	"io"
	"time"

	"amitool/internal/amiga"
	"amitool/internal/blocks"
)

// FormatOptions describe a new empty volume.
type FormatOptions struct {
	DosType   amiga.DosType
	Name      string
	BlockSize int
	Date      time.Time
}

// Format writes an empty volume of size bytes: boot block, root block in
// the middle of the volume, bitmap blocks directly after it and bitmap
// extension blocks when the root cannot hold every page pointer.
func Format(w io.WriterAt, size int64, opts FormatOptions) error {
	if !opts.DosType.IsDOS() {
		return fmt.Errorf("%w: dos type %s", ErrNotDOS, opts.DosType)
	}
	bs := opts.BlockSize
	if bs == 0 {
		bs = blocks.DefaultBlockSize
	}
	const reserved = 2
	total := uint32(size / int64(bs))
	if total < 8 {
		return fmt.Errorf("volume of %d blocks is too small", total)
	}
	name, err := amiga.EncodeName(opts.Name)
	if err != nil {
		return err
	}
	date := opts.Date
	if date.IsZero() {
		date = time.Now()
	}
	stamp := amiga.DateFromTime(date)

	rootKey := (total - 1 + reserved) / 2
	per := blocks.BitsPerBitmapBlock(bs)
	pages := (int(total) - reserved + per - 1) / per
	ptrsPerExt := bs/4 - 1
	exts := 0
	if pages > blocks.BitmapPagesInRoot {
		exts = (pages - blocks.BitmapPagesInRoot + ptrsPerExt - 1) / ptrsPerExt
	}
	if rootKey+1+uint32(pages+exts) > total {
		return fmt.Errorf("volume of %d blocks has no room for its bitmap", total)
	}

	used := map[uint32]bool{rootKey: true}
	next := rootKey + 1
	pageKeys := make([]uint32, pages)
	for i := range pageKeys {
		pageKeys[i] = next
		used[next] = true
		next++
	}
	extKeys := make([]uint32, exts)
	for i := range extKeys {
		extKeys[i] = next
		used[next] = true
		next++
	}

	write := func(n uint32, buf []byte) error {
		if _, err := w.WriteAt(buf, int64(n)*int64(bs)); err != nil {
			return fmt.Errorf("write sector %d: %w", n, err)
		}
		return nil
	}
	boot := (&blocks.BootBlock{DosType: opts.DosType, RootBlock: rootKey}).Encode()
	if _, err := w.WriteAt(boot, 0); err != nil {
		return fmt.Errorf("write boot block: %w", err)
	}

	root := &blocks.RootBlock{
		HashTable:    make([]uint32, blocks.HashTableSize(bs)),
		BitmapFlag:   blocks.BitmapValid,
		Name:         name,
		RootDate:     stamp,
		VolumeDate:   stamp,
		CreationDate: stamp,
	}
	copy(root.BitmapPages[:], pageKeys)
	if exts > 0 {
		root.BitmapExt = extKeys[0]
	}
	if err := write(rootKey, root.Encode(bs)); err != nil {
		return err
	}

	words := bs/4 - 1
	for p, key := range pageKeys {
		bm := &blocks.BitmapBlock{Map: make([]uint32, words)}
		for i := 0; i < per; i++ {
			n := uint32(reserved + p*per + i)
			if n >= total || used[n] {
				continue
			}
			bm.Map[i/32] |= 1 << uint(i%32)
		}
		if err := write(key, bm.Encode(bs)); err != nil {
			return err
		}
	}
	rest := pageKeys[min(len(pageKeys), blocks.BitmapPagesInRoot):]
	for i, key := range extKeys {
		x := &blocks.BitmapExtBlock{Pages: rest[i*ptrsPerExt : min(len(rest), (i+1)*ptrsPerExt)]}
		if i+1 < len(extKeys) {
			x.Next = extKeys[i+1]
		}
		if err := write(key, x.Encode(bs)); err != nil {
			return err
		}
	}
	return nil
}
