package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultChunkSize is the span copied between progress reports.
const DefaultChunkSize = 1 << 20

// ErrMismatch reports regions with different content.
var ErrMismatch = errors.New("regions differ")

// Region selects Size bytes at SrcOffset of the source and DstOffset of
// the destination. A zero Size runs to the end of the source.
type Region struct {
	SrcOffset int64
	DstOffset int64
	Size      int64
	ChunkSize int
}

// Progress is reported after every chunk.
type Progress struct {
	Processed      int64
	Remaining      int64
	Total          int64
	Elapsed        time.Duration
	RemainingTime  time.Duration
	TotalTime      time.Duration
	BytesPerSecond float64
}

// Completion is the processed fraction in [0, 1].
func (p Progress) Completion() float64 {
	if p.Total <= 0 {
		return 1
	}
	return float64(p.Processed) / float64(p.Total)
}

// ProgressFunc receives progress reports. It may be nil.
type ProgressFunc func(Progress)

type meter struct {
	start time.Time
	total int64
	fn    ProgressFunc
}

func newMeter(total int64, fn ProgressFunc) *meter {
	return &meter{start: time.Now(), total: total, fn: fn}
}

func (m *meter) report(done int64) {
	if m.fn == nil {
		return
	}
	p := Progress{
		Processed: done,
		Remaining: m.total - done,
		Total:     m.total,
		Elapsed:   time.Since(m.start),
	}
	if secs := p.Elapsed.Seconds(); secs > 0 {
		p.BytesPerSecond = float64(done) / secs
	}
	if p.BytesPerSecond > 0 {
		p.RemainingTime = time.Duration(float64(p.Remaining) / p.BytesPerSecond * float64(time.Second))
	}
	p.TotalTime = p.Elapsed + p.RemainingTime
	m.fn(p)
}

// SizedReader is the source side of a region operation.
type SizedReader interface {
	io.ReaderAt
	Size() int64
}

// SizedWriter is the destination side of a region copy.
type SizedWriter interface {
	io.WriterAt
	Size() int64
}

type sized interface {
	Size() int64
}

// resolve fills in a zero Size and checks both ends of the region.
func (r Region) resolve(src, dst sized) (Region, error) {
	if r.SrcOffset < 0 || r.DstOffset < 0 || r.Size < 0 {
		return r, fmt.Errorf("%w: negative region %+v", ErrOutOfRange, r)
	}
	if r.SrcOffset > src.Size() {
		return r, fmt.Errorf("%w: source has %d bytes, region starts at %d", ErrOutOfRange, src.Size(), r.SrcOffset)
	}
	if r.DstOffset > dst.Size() {
		return r, fmt.Errorf("%w: destination has %d bytes, region starts at %d", ErrOutOfRange, dst.Size(), r.DstOffset)
	}
	if r.Size == 0 {
		r.Size = src.Size() - r.SrcOffset
	}
	if r.ChunkSize <= 0 {
		r.ChunkSize = DefaultChunkSize
	}
	if r.SrcOffset+r.Size > src.Size() {
		return r, fmt.Errorf("%w: source has %d bytes, region ends at %d", ErrOutOfRange, src.Size(), r.SrcOffset+r.Size)
	}
	if r.DstOffset+r.Size > dst.Size() {
		return r, fmt.Errorf("%w: destination has %d bytes, region ends at %d", ErrOutOfRange, dst.Size(), r.DstOffset+r.Size)
	}
	return r, nil
}

func readChunk(m io.ReaderAt, buf []byte, off int64) error {
	n, err := m.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// CopyRegion copies a region of src to dst chunk by chunk. Cancellation
// is checked between chunks, so every chunk is either fully written or
// not written at all.
func CopyRegion(ctx context.Context, src SizedReader, dst SizedWriter, r Region, fn ProgressFunc) error {
	r, err := r.resolve(src, dst)
	if err != nil {
		return err
	}
	m := newMeter(r.Size, fn)
	buf := make([]byte, r.ChunkSize)
	var done int64
	for done < r.Size {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := int64(len(buf))
		if rem := r.Size - done; n > rem {
			n = rem
		}
		if err := readChunk(src, buf[:n], r.SrcOffset+done); err != nil {
			return fmt.Errorf("read source at %d: %w", r.SrcOffset+done, err)
		}
		if _, err := dst.WriteAt(buf[:n], r.DstOffset+done); err != nil {
			return fmt.Errorf("write destination at %d: %w", r.DstOffset+done, err)
		}
		done += n
		m.report(done)
	}
	return nil
}

// VerifyRegion compares a region of a with the same-sized region of b.
// The error names the first differing offset of a.
func VerifyRegion(ctx context.Context, a, b SizedReader, r Region, fn ProgressFunc) error {
	r, err := r.resolve(a, b)
	if err != nil {
		return err
	}
	m := newMeter(r.Size, fn)
	bufA := make([]byte, r.ChunkSize)
	bufB := make([]byte, r.ChunkSize)
	var done int64
	for done < r.Size {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := int64(len(bufA))
		if rem := r.Size - done; n > rem {
			n = rem
		}
		if err := readChunk(a, bufA[:n], r.SrcOffset+done); err != nil {
			return fmt.Errorf("read at %d: %w", r.SrcOffset+done, err)
		}
		if err := readChunk(b, bufB[:n], r.DstOffset+done); err != nil {
			return fmt.Errorf("read at %d: %w", r.DstOffset+done, err)
		}
		if !bytes.Equal(bufA[:n], bufB[:n]) {
			i := int64(0)
			for bufA[i] == bufB[i] {
				i++
			}
			return fmt.Errorf("%w at offset %d", ErrMismatch, r.SrcOffset+done+i)
		}
		done += n
		m.report(done)
	}
	return nil
}
