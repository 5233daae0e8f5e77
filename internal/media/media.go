// Package media opens disk images and block devices as random-access
// media, reads their partition tables, and copies or compares regions
// between them.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrOutOfRange = errors.New("region outside media")
	ErrReadOnly   = errors.New("media is read-only")
)

// Media is a sized random-access byte store.
type Media interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
	Close() error
}

type fileMedia struct {
	f        *os.File
	size     int64
	writable bool
	release  func()
}

// Open opens an image file or block device. Writable opens of Windows
// drive letters lock and dismount the volume until Close.
func Open(path string, writable bool) (Media, error) {
	f, release, err := openFile(path, writable)
	if err != nil {
		return nil, err
	}
	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		release()
		return nil, fmt.Errorf("get size of %s: %w", path, err)
	}
	return &fileMedia{f: f, size: size, writable: writable, release: release}, nil
}

// Create creates an image file of size bytes, replacing any existing one.
func Create(path string, size int64) (Media, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create image: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("size image: %w", err)
	}
	return &fileMedia{f: f, size: size, writable: true, release: func() {}}, nil
}

func (m *fileMedia) ReadAt(p []byte, off int64) (int, error) { return m.f.ReadAt(p, off) }

func (m *fileMedia) WriteAt(p []byte, off int64) (int, error) {
	if !m.writable {
		return 0, ErrReadOnly
	}
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, fmt.Errorf("%w: write of %d bytes at %d, size %d", ErrOutOfRange, len(p), off, m.size)
	}
	return m.f.WriteAt(p, off)
}

func (m *fileMedia) Size() int64 { return m.size }

func (m *fileMedia) Close() error {
	var err error
	if m.writable {
		err = m.f.Sync()
	}
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	m.release()
	return err
}

type section struct {
	m    Media
	off  int64
	size int64
}

// Section exposes size bytes of m starting at off as zero-based media.
// Closing a section does not close m.
func Section(m Media, off, size int64) (Media, error) {
	if off < 0 || size < 0 || off+size > m.Size() {
		return nil, fmt.Errorf("%w: section %d+%d of %d bytes", ErrOutOfRange, off, size, m.Size())
	}
	return &section{m: m, off: off, size: size}, nil
}

func (s *section) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: read at %d", ErrOutOfRange, off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	var short bool
	if rem := s.size - off; int64(len(p)) > rem {
		p = p[:rem]
		short = true
	}
	n, err := s.m.ReadAt(p, s.off+off)
	if err == nil && short {
		err = io.EOF
	}
	return n, err
}

func (s *section) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("%w: write of %d bytes at %d, size %d", ErrOutOfRange, len(p), off, s.size)
	}
	return s.m.WriteAt(p, s.off+off)
}

func (s *section) Size() int64 { return s.size }

func (s *section) Close() error { return nil }

// Bytes is in-memory media.
type Bytes []byte

func (b Bytes) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: read at %d", ErrOutOfRange, off)
	}
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b Bytes) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(b)) {
		return 0, fmt.Errorf("%w: write of %d bytes at %d, size %d", ErrOutOfRange, len(p), off, len(b))
	}
	return copy(b[off:], p), nil
}

func (b Bytes) Size() int64 { return int64(len(b)) }

func (b Bytes) Close() error { return nil }

// seeker adds the Seek method go-diskfs expects of its backing file.
type seeker struct {
	Media
	pos int64
}

// Seekable wraps m so it satisfies io.Seeker as well.
func Seekable(m Media) interface {
	Media
	io.Seeker
} {
	return &seeker{Media: m}
}

func (s *seeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		abs = s.Size() + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("%w: seek to %d", ErrOutOfRange, abs)
	}
	s.pos = abs
	return abs, nil
}

// IsDevice reports whether path names a raw device rather than an image.
func IsDevice(path string) bool {
	return strings.HasPrefix(path, "/dev/") || strings.HasPrefix(path, `\\.\`)
}
