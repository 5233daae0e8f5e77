package layer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/spf13/afero"
)

func newFiles(t *testing.T, baseSize int) (afero.File, afero.File) {
	t.Helper()
	fs := afero.NewMemMapFs()
	base, err := fs.Create("/base.img")
	if err != nil {
		t.Fatalf("create base: %v", err)
	}
	if _, err := base.Write(make([]byte, baseSize)); err != nil {
		t.Fatalf("fill base: %v", err)
	}
	overlay, err := fs.Create("/base.lyr")
	if err != nil {
		t.Fatalf("create overlay: %v", err)
	}
	return base, overlay
}

func newStream(t *testing.T, blocks int) (*Stream, afero.File, afero.File) {
	t.Helper()
	base, overlay := newFiles(t, blocks*512)
	s := New(base, int64(blocks*512), overlay, 512)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s, base, overlay
}

func readAll(t *testing.T, r io.ReaderAt, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	return buf
}

func TestWriteFlushScenario(t *testing.T) {
	s, base, overlay := newStream(t, 10)
	if _, err := s.WriteAt([]byte{1, 2, 3, 4}, 50); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if got := readAll(t, base, 5120); !bytes.Equal(got, make([]byte, 5120)) {
		t.Fatalf("base changed before flush")
	}
	if err := s.FlushLayer(context.Background(), nil); err != nil {
		t.Fatalf("FlushLayer: %v", err)
	}
	want := make([]byte, 5120)
	copy(want[50:], []byte{1, 2, 3, 4})
	if got := readAll(t, base, 5120); !bytes.Equal(got, want) {
		t.Fatalf("base after flush differs")
	}

	table := make([]byte, 10*8)
	if _, err := overlay.ReadAt(table, HeaderSize); err != nil {
		t.Fatalf("read table: %v", err)
	}
	var nonZero []int64
	for i := 0; i < 10; i++ {
		if off := int64(binary.LittleEndian.Uint64(table[i*8:])); off != 0 {
			nonZero = append(nonZero, off)
		}
	}
	if len(nonZero) != 1 {
		t.Fatalf("table has %d entries, want 1", len(nonZero))
	}
	rec := make([]byte, 12)
	overlay.ReadAt(rec, nonZero[0])
	if nr := binary.LittleEndian.Uint64(rec); nr != 0 {
		t.Fatalf("record block number = %d, want 0", nr)
	}
	if bs := binary.LittleEndian.Uint32(rec[8:]); bs != 512 {
		t.Fatalf("record block size = %d, want 512", bs)
	}
}

func TestHeaderLayout(t *testing.T) {
	_, _, overlay := newStream(t, 3)
	hdr := make([]byte, HeaderSize)
	overlay.ReadAt(hdr, 0)
	if string(hdr[:4]) != Magic {
		t.Fatalf("magic = %q", hdr[:4])
	}
	if size := binary.LittleEndian.Uint64(hdr[4:]); size != 1536 {
		t.Fatalf("size = %d, want 1536", size)
	}
	if bs := binary.LittleEndian.Uint32(hdr[12:]); bs != 512 {
		t.Fatalf("block size = %d", bs)
	}
	fi, _ := overlay.Stat()
	if fi.Size() != HeaderSize+3*8 {
		t.Fatalf("overlay size = %d, want %d", fi.Size(), HeaderSize+3*8)
	}
}

func TestReadBackBeforeFlush(t *testing.T) {
	s, base, _ := newStream(t, 8)
	pattern := []byte("the quick brown fox jumps over the lazy dog")
	writes := []int64{0, 500, 1023, 2047, 4096 - int64(len(pattern))}
	for _, off := range writes {
		if _, err := s.WriteAt(pattern, off); err != nil {
			t.Fatalf("WriteAt %d: %v", off, err)
		}
		got := make([]byte, len(pattern))
		if _, err := s.ReadAt(got, off); err != nil {
			t.Fatalf("ReadAt %d: %v", off, err)
		}
		if !bytes.Equal(got, pattern) {
			t.Fatalf("ReadAt %d = %q", off, got)
		}
	}
	if got := readAll(t, base, 4096); !bytes.Equal(got, make([]byte, 4096)) {
		t.Fatalf("base changed before flush")
	}
}

func TestStraddleAllocation(t *testing.T) {
	tests := []struct {
		off       int64
		n         int
		allocated int
	}{
		{0, 512, 1},
		{510, 4, 2},
		{100, 1024, 3},
		{1024, 1, 1},
	}
	for _, tc := range tests {
		s, _, _ := newStream(t, 8)
		if _, err := s.WriteAt(make([]byte, tc.n), tc.off); err != nil {
			t.Fatalf("WriteAt: %v", err)
		}
		if got := s.Allocated(); got != tc.allocated {
			t.Fatalf("write of %d at %d allocated %d blocks, want %d", tc.n, tc.off, got, tc.allocated)
		}
		if s.Blocks() != 8 {
			t.Fatalf("table length = %d, want 8", s.Blocks())
		}
		// rewriting the same range allocates nothing new
		s.WriteAt(make([]byte, tc.n), tc.off)
		if got := s.Allocated(); got != tc.allocated {
			t.Fatalf("rewrite allocated %d blocks, want %d", got, tc.allocated)
		}
	}
}

func TestPartialWritePreservesBase(t *testing.T) {
	base, overlay := newFiles(t, 0)
	orig := bytes.Repeat([]byte{0xAA}, 1024)
	base.WriteAt(orig, 0)
	s := New(base, 1024, overlay, 512)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s.WriteAt([]byte{1}, 700)
	got := make([]byte, 1024)
	s.ReadAt(got, 0)
	want := append([]byte(nil), orig...)
	want[700] = 1
	if !bytes.Equal(got, want) {
		t.Fatalf("stream content does not keep untouched base bytes")
	}
}

func TestReopenOverlay(t *testing.T) {
	s, base, overlay := newStream(t, 4)
	s.WriteAt([]byte("hello"), 1000)
	s.WriteAt([]byte("world"), 10)

	again := New(base, 4*512, overlay, 512)
	if err := again.Initialize(); err != nil {
		t.Fatalf("Initialize existing overlay: %v", err)
	}
	if again.Allocated() != 2 {
		t.Fatalf("Allocated = %d, want 2", again.Allocated())
	}
	got := make([]byte, 5)
	again.ReadAt(got, 1000)
	if string(got) != "hello" {
		t.Fatalf("ReadAt = %q", got)
	}
	// new records are appended after the existing ones
	again.WriteAt([]byte("x"), 1600)
	tbl := again.Table()
	if tbl[3] <= tbl[0] || tbl[3] <= tbl[1] {
		t.Fatalf("table = %v, want append-only offsets", tbl)
	}

	mismatch := New(base, 8*512, overlay, 512)
	if err := mismatch.Initialize(); !errors.Is(err, ErrCorruptOverlay) {
		t.Fatalf("size mismatch = %v, want ErrCorruptOverlay", err)
	}
}

// growStore is an overlay store that only reads and writes.
type growStore struct{ b []byte }

func (g *growStore) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(g.b)) {
		return 0, io.EOF
	}
	n := copy(p, g.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (g *growStore) WriteAt(p []byte, off int64) (int, error) {
	if end := off + int64(len(p)); end > int64(len(g.b)) {
		g.b = append(g.b, make([]byte, end-int64(len(g.b)))...)
	}
	return copy(g.b[off:], p), nil
}

func TestReopenAfterResetAppends(t *testing.T) {
	base := &growStore{b: make([]byte, 4*512)}
	store := &growStore{}
	s := New(base, 4*512, store, 512)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s.WriteAt([]byte("first"), 0)
	first := s.Table()[0]
	if err := s.FlushLayer(context.Background(), nil); err != nil {
		t.Fatalf("FlushLayer: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	again := New(base, 4*512, store, 512)
	if err := again.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	again.WriteAt([]byte("second"), 1024)
	if off := again.Table()[2]; off <= first {
		t.Fatalf("block 2 record at %d, block 0 record was at %d", off, first)
	}
	got := make([]byte, 5)
	store.ReadAt(got, first+recordHeaderSize)
	if string(got) != "first" {
		t.Fatalf("old record overwritten: %q", got)
	}
}

func TestCorruptOverlay(t *testing.T) {
	s, base, overlay := newStream(t, 4)
	s.WriteAt([]byte("data"), 0)
	off := s.Table()[0]
	var bad [8]byte
	binary.LittleEndian.PutUint64(bad[:], 3)
	overlay.WriteAt(bad[:], off)
	if err := New(base, 2048, overlay, 512).Initialize(); !errors.Is(err, ErrCorruptOverlay) {
		t.Fatalf("wrong block number = %v, want ErrCorruptOverlay", err)
	}

	_, _, junk := newStream(t, 1)
	junk.WriteAt([]byte("NOPE"), 0)
	if err := New(base, 512, junk, 512).Initialize(); !errors.Is(err, ErrCorruptOverlay) {
		t.Fatalf("bad magic = %v, want ErrCorruptOverlay", err)
	}
}

func TestBounds(t *testing.T) {
	s, _, _ := newStream(t, 2)
	if _, err := s.WriteAt([]byte{1, 2}, 1023); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("write past end = %v, want ErrOutOfRange", err)
	}
	if s.Allocated() != 0 {
		t.Fatalf("rejected write allocated blocks")
	}
	if _, err := s.ReadAt(make([]byte, 1), 2000); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("read past end = %v, want ErrOutOfRange", err)
	}
	if n, err := s.ReadAt(make([]byte, 10), 1020); n != 4 || err != io.EOF {
		t.Fatalf("short read = %d, %v", n, err)
	}
	if _, err := s.Seek(2000, io.SeekStart); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("seek past end = %v", err)
	}
	uninit := New(s.base, 1024, s.overlay, 512)
	if _, err := uninit.ReadAt(make([]byte, 1), 0); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("uninitialized read = %v", err)
	}
}

func TestSeekReadWrite(t *testing.T) {
	s, _, _ := newStream(t, 4)
	if _, err := s.Seek(600, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	s.Write([]byte("abc"))
	s.Seek(-3, io.SeekCurrent)
	got := make([]byte, 3)
	if _, err := io.ReadFull(s, got); err != nil || string(got) != "abc" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	s.Seek(0, io.SeekEnd)
	if _, err := s.Read(got); err != io.EOF {
		t.Fatalf("Read at end = %v, want io.EOF", err)
	}
}

func TestFlushIsIdempotentAndCancellable(t *testing.T) {
	s, base, _ := newStream(t, 4)
	s.WriteAt([]byte("one"), 0)
	s.WriteAt([]byte("two"), 1536)
	var calls []int
	progress := func(done, total int) { calls = append(calls, done*10+total) }
	for i := 0; i < 2; i++ {
		calls = nil
		if err := s.FlushLayer(context.Background(), progress); err != nil {
			t.Fatalf("FlushLayer: %v", err)
		}
		if len(calls) != 2 || calls[0] != 12 || calls[1] != 22 {
			t.Fatalf("progress = %v", calls)
		}
	}
	if s.Allocated() != 2 {
		t.Fatalf("flush evicted blocks")
	}
	got := make([]byte, 3)
	base.ReadAt(got, 1536)
	if string(got) != "two" {
		t.Fatalf("base = %q", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.FlushLayer(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled flush = %v", err)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if s.Allocated() != 0 || s.Blocks() != 4 {
		t.Fatalf("after Reset: %d allocated of %d", s.Allocated(), s.Blocks())
	}
}
