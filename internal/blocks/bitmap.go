package blocks

import "fmt"

// BitmapBlock maps allocation state of volume blocks: a set bit is a free
// block. Word 0 is the checksum.
type BitmapBlock struct {
	Checksum uint32
	Map      []uint32
}

// BitsPerBitmapBlock returns how many volume blocks one bitmap block maps.
func BitsPerBitmapBlock(blockSize int) int {
	return (blockSize/4 - 1) * 32
}

// DecodeBitmapBlock decodes a bitmap block.
func DecodeBitmapBlock(buf []byte) (*BitmapBlock, error) {
	if err := checkSize(buf); err != nil {
		return nil, err
	}
	w := words(buf)
	b := &BitmapBlock{
		Checksum: w.u32(0),
		Map:      w.table(4, len(buf)/4-1),
	}
	if err := VerifyChecksum(buf, 0); err != nil {
		return b, fmt.Errorf("bitmap block: %w", err)
	}
	return b, nil
}

// Encode serializes the bitmap block.
func (b *BitmapBlock) Encode(blockSize int) []byte {
	buf := make([]byte, blockSize)
	w := words(buf)
	w.putTable(4, b.Map, blockSize/4-1)
	SetChecksum(buf, 0)
	b.Checksum = w.u32(0)
	return buf
}

// BitmapExtBlock lists further bitmap block pointers. The last word links
// to the next extension block.
type BitmapExtBlock struct {
	Pages []uint32
	Next  uint32
}

// DecodeBitmapExtBlock decodes a bitmap extension block. It carries no
// type tag or checksum.
func DecodeBitmapExtBlock(buf []byte) (*BitmapExtBlock, error) {
	if err := checkSize(buf); err != nil {
		return nil, err
	}
	w := words(buf)
	n := len(buf)/4 - 1
	return &BitmapExtBlock{
		Pages: w.table(0, n),
		Next:  w.u32(n * 4),
	}, nil
}

// Encode serializes the extension block.
func (x *BitmapExtBlock) Encode(blockSize int) []byte {
	buf := make([]byte, blockSize)
	w := words(buf)
	n := blockSize/4 - 1
	w.putTable(0, x.Pages, n)
	w.put(n*4, x.Next)
	return buf
}
