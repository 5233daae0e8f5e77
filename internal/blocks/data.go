package blocks

import "fmt"

// OFSDataHeaderSize is the header preceding payload in an OFS data block.
const OFSDataHeaderSize = 24

// FileExtBlock holds further data block pointers of a file whose header
// table is full.
type FileExtBlock struct {
	HeaderKey uint32
	HighSeq   int32
	Checksum  uint32
	// Table holds data block pointers last-to-first, as in EntryBlock.
	Table     []uint32
	Parent    uint32
	Extension uint32
}

// DecodeFileExtBlock decodes a file extension (T_LIST) block.
func DecodeFileExtBlock(buf []byte) (*FileExtBlock, error) {
	if err := checkSize(buf); err != nil {
		return nil, err
	}
	w := words(buf)
	if typ, sec := w.i32(0), w.i32(w.tail(0x1FC)); typ != TypeList || sec != SecTypeFile {
		return nil, fmt.Errorf("%w: file extension block has type %d secondary %d", ErrInvalidBlockType, typ, sec)
	}
	x := &FileExtBlock{
		HeaderKey: w.u32(0x04),
		HighSeq:   w.i32(0x08),
		Checksum:  w.u32(offChecksum),
		Table:     w.table(offHashTable, HashTableSize(len(buf))),
		Parent:    w.u32(w.tail(0x1F4)),
		Extension: w.u32(w.tail(0x1F8)),
	}
	if err := VerifyChecksum(buf, offChecksum); err != nil {
		return x, fmt.Errorf("file extension block %d: %w", x.HeaderKey, err)
	}
	return x, nil
}

// Encode serializes the extension block.
func (x *FileExtBlock) Encode(blockSize int) []byte {
	buf := make([]byte, blockSize)
	w := words(buf)
	w.puti(0, TypeList)
	w.put(0x04, x.HeaderKey)
	w.puti(0x08, x.HighSeq)
	w.putTable(offHashTable, x.Table, HashTableSize(blockSize))
	w.put(w.tail(0x1F4), x.Parent)
	w.put(w.tail(0x1F8), x.Extension)
	w.puti(w.tail(0x1FC), SecTypeFile)
	SetChecksum(buf, offChecksum)
	x.Checksum = w.u32(offChecksum)
	return buf
}

// DataBlock is an OFS data block. FFS data blocks carry raw payload and
// have no codec.
type DataBlock struct {
	HeaderKey uint32
	SeqNum    uint32
	DataSize  uint32
	NextData  uint32
	Checksum  uint32
	Data      []byte
}

// DecodeDataBlock decodes an OFS data block.
func DecodeDataBlock(buf []byte) (*DataBlock, error) {
	if err := checkSize(buf); err != nil {
		return nil, err
	}
	w := words(buf)
	if typ := w.i32(0); typ != TypeData {
		return nil, fmt.Errorf("%w: data block has type %d", ErrInvalidBlockType, typ)
	}
	d := &DataBlock{
		HeaderKey: w.u32(0x04),
		SeqNum:    w.u32(0x08),
		DataSize:  w.u32(0x0C),
		NextData:  w.u32(0x10),
		Checksum:  w.u32(offChecksum),
	}
	size := int(d.DataSize)
	if size > len(buf)-OFSDataHeaderSize {
		return d, fmt.Errorf("%w: data block size %d exceeds block", ErrInvalidBlockType, size)
	}
	d.Data = append([]byte(nil), buf[OFSDataHeaderSize:OFSDataHeaderSize+size]...)
	if err := VerifyChecksum(buf, offChecksum); err != nil {
		return d, fmt.Errorf("data block %d/%d: %w", d.HeaderKey, d.SeqNum, err)
	}
	return d, nil
}

// Encode serializes the data block. DataSize follows len(Data).
func (d *DataBlock) Encode(blockSize int) []byte {
	buf := make([]byte, blockSize)
	w := words(buf)
	d.DataSize = uint32(len(d.Data))
	w.puti(0, TypeData)
	w.put(0x04, d.HeaderKey)
	w.put(0x08, d.SeqNum)
	w.put(0x0C, d.DataSize)
	w.put(0x10, d.NextData)
	copy(buf[OFSDataHeaderSize:], d.Data)
	SetChecksum(buf, offChecksum)
	d.Checksum = w.u32(offChecksum)
	return buf
}
