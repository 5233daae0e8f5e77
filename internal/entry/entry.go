// Package entry walks hierarchical containers (Amiga volumes, FAT volumes,
// host directories, archives) as a flat depth-first sequence of entries
// and writes such sequences into another container.
//
// Containers only implement Source (for reading) or Target (for writing).
// TreeIterator and TreeWriter supply root scoping, wildcard matching,
// intermediate directory synthesis and destination path resolution on
// top of them.
package entry

import (
	"context"
	"io"
	"time"

	"amitool/internal/uae"
)

// Type discriminates entries.
type Type int

const (
	TypeFile Type = iota
	TypeDir
	TypeRoot
	TypeLinkFile
	TypeLinkDir
	TypeLinkSoft
)

var typeNames = map[Type]string{
	TypeFile:     "file",
	TypeDir:      "dir",
	TypeRoot:     "root",
	TypeLinkFile: "link-file",
	TypeLinkDir:  "link-dir",
	TypeLinkSoft: "softlink",
}

func (t Type) String() string { return typeNames[t] }

// Entry describes one file, directory or link. Entries are values; every
// step of an iteration produces a new one.
type Entry struct {
	Name       string
	Type       Type
	Size       int64
	Date       time.Time
	Comment    string
	Protection uint32
	// LinkTarget is the target path of a soft link.
	LinkTarget string
	// Real is the header sector a hard link points at on Amiga volumes.
	Real uint32
	// FullPathComponents is the path from the container root.
	FullPathComponents []string
	// RelativePathComponents is the part of FullPathComponents below the
	// iterator root.
	RelativePathComponents []string
	// RawPath is the container-native location, e.g. the normalized host
	// path for host directories.
	RawPath string
}

// IsDir reports whether the entry can hold other entries.
func (e Entry) IsDir() bool {
	return e.Type == TypeDir || e.Type == TypeRoot || e.Type == TypeLinkDir
}

// IsLink reports hard and soft links.
func (e Entry) IsLink() bool {
	return e.Type == TypeLinkFile || e.Type == TypeLinkDir || e.Type == TypeLinkSoft
}

// Iterator produces the entries below a root path.
type Iterator interface {
	// Initialize resolves the root path. It fails with ErrPathNotFound
	// when a root component does not exist.
	Initialize(ctx context.Context) error
	// Next advances to the next entry and reports false when the
	// iteration is exhausted.
	Next(ctx context.Context) (bool, error)
	// Current returns the entry Next advanced to.
	Current() Entry
	// Open returns the content of the current file entry.
	Open(ctx context.Context) (io.ReadCloser, error)
	// Single reports whether the root named exactly one file.
	Single() bool
	// UAEMetadata is the shadow metadata mode the iterator honors.
	UAEMetadata() uae.Mode
	Close() error
}

// WriteOptions control how a Writer places an entry.
type WriteOptions struct {
	// CreateIntermediate creates missing parent directories.
	CreateIntermediate bool
	// Single marks a one-file operation, which may rename the entry to
	// the last destination component.
	Single bool
}

// Writer materializes entries below a root path.
type Writer interface {
	// Initialize resolves the destination root. Parents of the last
	// root component must exist unless the writer creates them.
	Initialize(ctx context.Context) error
	CreateDirectory(ctx context.Context, e Entry, relative []string, opts WriteOptions) error
	WriteEntry(ctx context.Context, e Entry, relative []string, r io.Reader, opts WriteOptions) error
	Close() error
}
