package ffs

import (
	"fmt"

	"amitool/internal/blocks"
)

// bitmap holds the allocation map. Bit i of the map covers sector
// i+Reserved; a set bit is a free sector.
type bitmap struct {
	pages []uint32
	maps  []*blocks.BitmapBlock
	dirty []bool
}

func (v *Volume) bitmapPageCount() int {
	bits := int(v.blocks) - v.opts.Reserved
	per := blocks.BitsPerBitmapBlock(v.blockSize)
	return (bits + per - 1) / per
}

func (v *Volume) loadBitmap() error {
	if v.bm != nil {
		return nil
	}
	count := v.bitmapPageCount()
	bm := &bitmap{}
	for _, p := range v.root.BitmapPages {
		if len(bm.pages) == count || p == 0 {
			break
		}
		bm.pages = append(bm.pages, p)
	}
	seen := map[uint32]bool{}
	for ext := v.root.BitmapExt; ext != 0 && len(bm.pages) < count; {
		if seen[ext] {
			return fmt.Errorf("bitmap extension chain loops at %d", ext)
		}
		seen[ext] = true
		buf, err := v.readBlock(ext)
		if err != nil {
			return fmt.Errorf("bitmap extension: %w", err)
		}
		x, err := blocks.DecodeBitmapExtBlock(buf)
		if err != nil {
			return fmt.Errorf("bitmap extension %d: %w", ext, err)
		}
		for _, p := range x.Pages {
			if len(bm.pages) == count || p == 0 {
				break
			}
			bm.pages = append(bm.pages, p)
		}
		ext = x.Next
	}
	if len(bm.pages) < count {
		return fmt.Errorf("bitmap has %d of %d pages", len(bm.pages), count)
	}
	for _, p := range bm.pages {
		buf, err := v.readBlock(p)
		if err != nil {
			return fmt.Errorf("bitmap: %w", err)
		}
		b, err := blocks.DecodeBitmapBlock(buf)
		if b == nil {
			return fmt.Errorf("bitmap block %d: %w", p, err)
		}
		if err = v.check(err, fmt.Sprintf("bitmap block %d", p)); err != nil {
			return err
		}
		bm.maps = append(bm.maps, b)
	}
	bm.dirty = make([]bool, len(bm.maps))
	v.bm = bm
	return nil
}

func (v *Volume) bitPos(n uint32) (page, word int, mask uint32) {
	i := int(n) - v.opts.Reserved
	per := blocks.BitsPerBitmapBlock(v.blockSize)
	page, i = i/per, i%per
	return page, i / 32, 1 << uint(i%32)
}

// IsFree reports whether sector n is unallocated.
func (v *Volume) IsFree(n uint32) (bool, error) {
	if err := v.loadBitmap(); err != nil {
		return false, err
	}
	if int(n) < v.opts.Reserved || !v.inRange(n) {
		return false, nil
	}
	page, word, mask := v.bitPos(n)
	return v.bm.maps[page].Map[word]&mask != 0, nil
}

// FreeBlocks counts the unallocated sectors.
func (v *Volume) FreeBlocks() (int, error) {
	if err := v.loadBitmap(); err != nil {
		return 0, err
	}
	free := 0
	for n := uint32(v.opts.Reserved); n < v.blocks; n++ {
		page, word, mask := v.bitPos(n)
		if v.bm.maps[page].Map[word]&mask != 0 {
			free++
		}
	}
	return free, nil
}

func (v *Volume) setBit(n uint32, free bool) {
	page, word, mask := v.bitPos(n)
	if free {
		v.bm.maps[page].Map[word] |= mask
	} else {
		v.bm.maps[page].Map[word] &^= mask
	}
	v.bm.dirty[page] = true
}

// allocBlocks takes count free sectors, searching upward from the root
// block and wrapping to the first non-reserved sector.
func (v *Volume) allocBlocks(count int) ([]uint32, error) {
	if err := v.loadBitmap(); err != nil {
		return nil, err
	}
	out := make([]uint32, 0, count)
	total := v.blocks - uint32(v.opts.Reserved)
	for i := uint32(0); i < total && len(out) < count; i++ {
		n := v.rootKey + i
		if n >= v.blocks {
			n = n - v.blocks + uint32(v.opts.Reserved)
		}
		page, word, mask := v.bitPos(n)
		if v.bm.maps[page].Map[word]&mask != 0 {
			out = append(out, n)
		}
	}
	if len(out) < count {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrDiskFull, count, len(out))
	}
	for _, n := range out {
		v.setBit(n, false)
	}
	return out, nil
}

func (v *Volume) freeBlocks(ns []uint32) {
	for _, n := range ns {
		if int(n) >= v.opts.Reserved && v.inRange(n) {
			v.setBit(n, true)
		}
	}
}

// flushBitmap writes back modified bitmap blocks.
func (v *Volume) flushBitmap() error {
	if v.bm == nil {
		return nil
	}
	for i, d := range v.bm.dirty {
		if !d {
			continue
		}
		if err := v.writeBlock(v.bm.pages[i], v.bm.maps[i].Encode(v.blockSize)); err != nil {
			return fmt.Errorf("bitmap block %d: %w", v.bm.pages[i], err)
		}
		v.bm.dirty[i] = false
	}
	return nil
}
