package blocks

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"amitool/internal/amiga"
)

func sumWords(buf []byte) uint32 {
	var s uint32
	for i := 0; i < len(buf); i += 4 {
		s += binary.BigEndian.Uint32(buf[i:])
	}
	return s
}

func TestChecksumSumsToZero(t *testing.T) {
	buf := make([]byte, DefaultBlockSize)
	for i := range buf {
		buf[i] = byte(i * 7)
	}
	SetChecksum(buf, offChecksum)
	if s := sumWords(buf); s != 0 {
		t.Fatalf("sum of words = 0x%08X, want 0", s)
	}
	if err := VerifyChecksum(buf, offChecksum); err != nil {
		t.Fatalf("VerifyChecksum: %v", err)
	}
	buf[100] ^= 0xFF
	if err := VerifyChecksum(buf, offChecksum); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("VerifyChecksum after corruption = %v, want ErrChecksumMismatch", err)
	}
}

func TestRootBlockRoundTrip(t *testing.T) {
	r := &RootBlock{
		HashTable:    make([]uint32, 72),
		BitmapFlag:   BitmapValid,
		BitmapExt:    0,
		Name:         []byte("Workbench"),
		RootDate:     amiga.Date{Days: 5000, Mins: 600, Ticks: 25},
		VolumeDate:   amiga.Date{Days: 5001},
		CreationDate: amiga.Date{Days: 4000},
	}
	r.HashTable[3] = 882
	r.HashTable[71] = 900
	r.BitmapPages[0] = 881
	buf := r.Encode(DefaultBlockSize)

	if kind, err := Classify(buf); err != nil || kind != KindRoot {
		t.Fatalf("Classify = %v, %v; want root", kind, err)
	}
	got, err := DecodeRootBlock(buf)
	if err != nil {
		t.Fatalf("DecodeRootBlock: %v", err)
	}
	if len(got.HashTable) != 72 {
		t.Fatalf("hash table slots = %d, want 72", len(got.HashTable))
	}
	if got.HashTable[3] != 882 || got.HashTable[71] != 900 {
		t.Fatalf("hash table = %v", got.HashTable)
	}
	if got.HashTableSize != 72 {
		t.Fatalf("HashTableSize = %d, want 72", got.HashTableSize)
	}
	if got.BitmapPages[0] != 881 || got.BitmapFlag != BitmapValid {
		t.Fatalf("bitmap fields = %v %d", got.BitmapPages[0], got.BitmapFlag)
	}
	if string(got.Name) != "Workbench" || got.RootDate != r.RootDate || got.CreationDate != r.CreationDate {
		t.Fatalf("decoded root = %+v", got)
	}
	// name length byte at 0x1B0
	if buf[0x1B0] != 9 {
		t.Fatalf("name length byte = %d, want 9", buf[0x1B0])
	}
}

func TestEntryBlockVariants(t *testing.T) {
	tests := []struct {
		name string
		e    EntryBlock
		kind Kind
	}{
		{"dir", EntryBlock{SecType: SecTypeDir, HeaderKey: 883, Name: []byte("Devs"), Table: []uint32{0, 0, 884}, Parent: 880}, KindDir},
		{"file", EntryBlock{SecType: SecTypeFile, HeaderKey: 885, Name: []byte("readme"), ByteSize: 1234, Access: amiga.ProtDelete, Comment: []byte("hello"), Parent: 880}, KindFile},
		{"link file", EntryBlock{SecType: SecTypeLinkFile, HeaderKey: 886, Name: []byte("lnk"), Real: 885, Parent: 880}, KindLinkFile},
		{"link dir", EntryBlock{SecType: SecTypeLinkDir, HeaderKey: 887, Name: []byte("dlnk"), Real: 883, Parent: 880}, KindLinkDir},
		{"soft link", EntryBlock{SecType: SecTypeSoftLink, HeaderKey: 888, Name: []byte("soft"), SymLink: []byte("Devs/readme"), Parent: 880}, KindSoftLink},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := tc.e.Encode(DefaultBlockSize)
			if s := sumWords(buf); s != 0 {
				t.Fatalf("checksum does not zero block: 0x%08X", s)
			}
			got, err := DecodeEntryBlock(buf)
			if err != nil {
				t.Fatalf("DecodeEntryBlock: %v", err)
			}
			if got.Kind() != tc.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind(), tc.kind)
			}
			if !bytes.Equal(got.Name, tc.e.Name) || got.Real != tc.e.Real || got.Parent != tc.e.Parent {
				t.Fatalf("decoded = %+v", got)
			}
			if !bytes.Equal(got.Comment, tc.e.Comment) || got.ByteSize != tc.e.ByteSize || got.Access != tc.e.Access {
				t.Fatalf("decoded attributes = %+v", got)
			}
			if tc.kind == KindSoftLink && string(got.SymLink) != "Devs/readme" {
				t.Fatalf("SymLink = %q", got.SymLink)
			}
		})
	}
}

func TestDecodeEntryBlockRejectsUnknownSecondaryType(t *testing.T) {
	e := EntryBlock{SecType: SecTypeDir, HeaderKey: 900, Name: []byte("x")}
	buf := e.Encode(DefaultBlockSize)
	binary.BigEndian.PutUint32(buf[0x1FC:], 99)
	SetChecksum(buf, offChecksum)
	if _, err := DecodeEntryBlock(buf); !errors.Is(err, ErrInvalidBlockType) {
		t.Fatalf("err = %v, want ErrInvalidBlockType", err)
	}
	if _, err := Classify(buf); !errors.Is(err, ErrInvalidBlockType) {
		t.Fatalf("Classify err = %v, want ErrInvalidBlockType", err)
	}
}

func TestDecodeEntryBlockChecksumIsNonFatal(t *testing.T) {
	e := EntryBlock{SecType: SecTypeFile, HeaderKey: 901, Name: []byte("broken")}
	buf := e.Encode(DefaultBlockSize)
	buf[0x1B1] = 'B'
	got, err := DecodeEntryBlock(buf)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
	if got == nil || string(got.Name) != "Broken" {
		t.Fatalf("expected decoded block alongside checksum error, got %+v", got)
	}
}

func TestLargeBlockLayout(t *testing.T) {
	e := EntryBlock{SecType: SecTypeDir, HeaderKey: 2, Name: []byte("big"), Parent: 1}
	buf := e.Encode(1024)
	if got := HashTableSize(1024); got != 200 {
		t.Fatalf("HashTableSize(1024) = %d, want 200", got)
	}
	if sec := int32(binary.BigEndian.Uint32(buf[1024-4:])); sec != SecTypeDir {
		t.Fatalf("secondary type at end of block = %d", sec)
	}
	got, err := DecodeEntryBlock(buf)
	if err != nil {
		t.Fatalf("DecodeEntryBlock: %v", err)
	}
	if len(got.Table) != 200 || string(got.Name) != "big" {
		t.Fatalf("decoded = %d slots, name %q", len(got.Table), got.Name)
	}
}

func TestFileExtAndDataBlocks(t *testing.T) {
	x := FileExtBlock{HeaderKey: 950, HighSeq: 2, Table: make([]uint32, 72), Parent: 885, Extension: 960}
	x.Table[71], x.Table[70] = 951, 952
	got, err := DecodeFileExtBlock(x.Encode(DefaultBlockSize))
	if err != nil {
		t.Fatalf("DecodeFileExtBlock: %v", err)
	}
	if got.Table[71] != 951 || got.Table[70] != 952 || got.Parent != 885 || got.Extension != 960 {
		t.Fatalf("decoded ext = %+v", got)
	}

	d := DataBlock{HeaderKey: 885, SeqNum: 1, NextData: 0, Data: []byte("payload")}
	dd, err := DecodeDataBlock(d.Encode(DefaultBlockSize))
	if err != nil {
		t.Fatalf("DecodeDataBlock: %v", err)
	}
	if string(dd.Data) != "payload" || dd.DataSize != 7 {
		t.Fatalf("decoded data = %+v", dd)
	}
}

func TestBitmapBlocks(t *testing.T) {
	b := BitmapBlock{Map: make([]uint32, 127)}
	b.Map[0] = 0xFFFFFFFC
	buf := b.Encode(DefaultBlockSize)
	got, err := DecodeBitmapBlock(buf)
	if err != nil {
		t.Fatalf("DecodeBitmapBlock: %v", err)
	}
	if len(got.Map) != 127 || got.Map[0] != 0xFFFFFFFC {
		t.Fatalf("decoded map = %d words, first 0x%08X", len(got.Map), got.Map[0])
	}
	if BitsPerBitmapBlock(DefaultBlockSize) != 127*32 {
		t.Fatalf("BitsPerBitmapBlock = %d", BitsPerBitmapBlock(DefaultBlockSize))
	}

	x := BitmapExtBlock{Pages: []uint32{10, 11}, Next: 99}
	xe, err := DecodeBitmapExtBlock(x.Encode(DefaultBlockSize))
	if err != nil {
		t.Fatalf("DecodeBitmapExtBlock: %v", err)
	}
	if xe.Pages[0] != 10 || xe.Pages[1] != 11 || xe.Next != 99 || len(xe.Pages) != 127 {
		t.Fatalf("decoded ext = %+v", xe)
	}
}

func TestBootBlock(t *testing.T) {
	b := BootBlock{DosType: amiga.DOS3, RootBlock: 880, Code: []byte{0x43, 0xFA, 0x00, 0x18}}
	buf := b.Encode()
	got, err := DecodeBootBlock(buf)
	if err != nil {
		t.Fatalf("DecodeBootBlock: %v", err)
	}
	if got.DosType != amiga.DOS3 || got.RootBlock != 880 {
		t.Fatalf("decoded boot = %+v", got)
	}
	buf[20] ^= 1
	if _, err := DecodeBootBlock(buf); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
	blank := (&BootBlock{DosType: amiga.DOS0}).Encode()
	if _, err := DecodeBootBlock(blank); err != nil {
		t.Fatalf("non-bootable boot block: %v", err)
	}
}
