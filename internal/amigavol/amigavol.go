// Package amigavol exposes mounted FFS, OFS and PFS3 volumes as entry
// sources, and FFS/OFS volumes as entry targets.
package amigavol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"

	"amitool/internal/amiga"
	"amitool/internal/blocks"
	"amitool/internal/entry"
	"amitool/internal/ffs"
	"amitool/internal/pfs3"
)

// ErrUnknownFileSystem is returned for volumes that are neither
// AmigaDOS nor PFS3.
var ErrUnknownFileSystem = errors.New("unknown file system")

// Options control Mount.
type Options struct {
	// BlockSize in bytes, 512 when zero.
	BlockSize int
	// Reserved blocks at the start of an FFS volume, 2 when zero.
	Reserved     int
	IgnoreErrors bool
	Logger       logr.Logger
	// Closer is closed with the volume.
	Closer io.Closer
}

// Volume is a mounted Amiga volume.
type Volume struct {
	ffs    *ffs.Volume
	pfs    *pfs3.Volume
	closer io.Closer
	// keys maps lowercased paths to header sectors or anodes.
	keys map[string]uint32
}

// Mount detects the file system from the DOS type at the start of r.
// FFS volumes are writable when r also implements io.WriterAt.
func Mount(r io.ReaderAt, size int64, opts Options) (*Volume, error) {
	head := make([]byte, 4)
	if _, err := r.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("read dos type: %w", err)
	}
	dt := amiga.ParseDosType(head)
	v := &Volume{closer: opts.Closer, keys: map[string]uint32{}}
	var err error
	switch {
	case dt.IsPFS():
		v.pfs, err = pfs3.Mount(r, size, pfs3.Options{SectorSize: opts.BlockSize, IgnoreErrors: opts.IgnoreErrors, Logger: opts.Logger})
	case dt.IsDOS():
		v.ffs, err = ffs.Mount(r, size, ffs.Options{BlockSize: opts.BlockSize, Reserved: opts.Reserved, IgnoreErrors: opts.IgnoreErrors, Logger: opts.Logger})
	default:
		return nil, fmt.Errorf("%w: dos type %s", ErrUnknownFileSystem, dt)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Name is the volume label.
func (v *Volume) Name() string {
	if v.pfs != nil {
		return v.pfs.Name()
	}
	return v.ffs.Name()
}

// DosType of the volume.
func (v *Volume) DosType() amiga.DosType {
	if v.pfs != nil {
		return v.pfs.DosType()
	}
	return v.ffs.DosType()
}

// ReadOnly reports whether entries can be created.
func (v *Volume) ReadOnly() bool {
	return v.pfs != nil || v.ffs.ReadOnly() || v.ffs.DosType().IsDirCache()
}

// FFS returns the mounted FFS/OFS volume, nil for PFS3.
func (v *Volume) FFS() *ffs.Volume { return v.ffs }

// PFS3 returns the mounted PFS3 volume, nil for FFS/OFS.
func (v *Volume) PFS3() *pfs3.Volume { return v.pfs }

// Logs returns the problems tolerated while reading.
func (v *Volume) Logs() []string {
	if v.pfs != nil {
		return v.pfs.Logs()
	}
	return v.ffs.Logs()
}

func entryType(k blocks.Kind) entry.Type {
	switch k {
	case blocks.KindRoot:
		return entry.TypeRoot
	case blocks.KindDir:
		return entry.TypeDir
	case blocks.KindLinkFile:
		return entry.TypeLinkFile
	case blocks.KindLinkDir:
		return entry.TypeLinkDir
	case blocks.KindSoftLink:
		return entry.TypeLinkSoft
	}
	return entry.TypeFile
}

func fromFFS(e ffs.Entry) entry.Entry {
	return entry.Entry{
		Name:               e.Name,
		Type:               entryType(e.Kind),
		Size:               int64(e.Size),
		Date:               e.Date,
		Comment:            e.Comment,
		Protection:         e.Access,
		LinkTarget:         e.SymLink,
		Real:               e.Real,
		FullPathComponents: e.Path,
	}
}

func fromPFS(e pfs3.Entry) entry.Entry {
	return entry.Entry{
		Name:               e.Name,
		Type:               entryType(e.Kind),
		Size:               int64(e.Size),
		Date:               e.Date,
		Comment:            e.Comment,
		Protection:         e.Access,
		FullPathComponents: e.Path,
	}
}

func pathKey(components []string) string {
	return strings.ToLower(strings.Join(components, "/"))
}

// classify maps volume errors onto entry error kinds.
func classify(path []string, err error) error {
	var ee *entry.Error
	if err == nil || errors.As(err, &ee) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	kind := entry.KindIO
	switch {
	case errors.Is(err, ffs.ErrNotFound), errors.Is(err, pfs3.ErrNotFound),
		errors.Is(err, ffs.ErrNotDir), errors.Is(err, pfs3.ErrNotDir):
		kind = entry.KindNotFound
	case errors.Is(err, ffs.ErrExists):
		kind = entry.KindCollision
	case errors.Is(err, ffs.ErrReadOnly), errors.Is(err, ffs.ErrUnsupported),
		errors.Is(err, ffs.ErrNotFile), errors.Is(err, pfs3.ErrNotFile):
		kind = entry.KindUnsupported
	case errors.Is(err, ffs.ErrOutOfRange), errors.Is(err, pfs3.ErrOutOfRange):
		kind = entry.KindBounds
	case errors.Is(err, blocks.ErrChecksumMismatch), errors.Is(err, blocks.ErrInvalidBlockType),
		errors.Is(err, pfs3.ErrInvalidBlock):
		kind = entry.KindCorrupt
	}
	return entry.NewError(kind, path, err)
}

// resolve returns the entry at components and its header key.
func (v *Volume) resolve(components []string) (entry.Entry, uint32, error) {
	var (
		e   entry.Entry
		key uint32
	)
	if v.pfs != nil {
		pe, err := v.pfs.Resolve(components)
		if err != nil {
			return e, 0, classify(components, err)
		}
		e, key = fromPFS(pe), pe.Anode
	} else {
		fe, err := v.ffs.Resolve(components)
		if err != nil {
			return e, 0, classify(components, err)
		}
		e, key = fromFFS(fe), fe.Sector
	}
	if e.FullPathComponents == nil {
		e.FullPathComponents = []string{}
	}
	v.keys[pathKey(e.FullPathComponents)] = key
	return e, key, nil
}

func (v *Volume) key(components []string) (uint32, error) {
	if k, ok := v.keys[pathKey(components)]; ok {
		return k, nil
	}
	_, k, err := v.resolve(components)
	return k, err
}

func (v *Volume) Stat(ctx context.Context, components []string) (entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return entry.Entry{}, err
	}
	e, _, err := v.resolve(components)
	return e, err
}

func (v *Volume) List(ctx context.Context, dir entry.Entry) ([]entry.Entry, error) {
	k, err := v.key(dir.FullPathComponents)
	if err != nil {
		return nil, err
	}
	var out []entry.Entry
	base := dir.FullPathComponents
	if v.pfs != nil {
		children, err := v.pfs.Entries(ctx, k, false)
		if err != nil {
			return nil, classify(base, err)
		}
		for _, c := range children {
			out = append(out, fromPFS(c))
			v.keys[pathKey(append(append([]string(nil), base...), c.Name))] = c.Anode
		}
		return out, nil
	}
	children, err := v.ffs.Entries(ctx, k, false)
	if err != nil {
		return nil, classify(base, err)
	}
	for _, c := range children {
		out = append(out, fromFFS(c))
		v.keys[pathKey(append(append([]string(nil), base...), c.Name))] = c.Sector
	}
	return out, nil
}

func (v *Volume) Open(_ context.Context, e entry.Entry) (io.ReadCloser, error) {
	k, err := v.key(e.FullPathComponents)
	if err != nil {
		return nil, err
	}
	if v.pfs != nil {
		f, err := v.pfs.OpenFile(pfs3.Entry{Anode: k, Kind: blocks.KindFile, Name: e.Name, Size: uint32(e.Size)})
		if err != nil {
			return nil, classify(e.FullPathComponents, err)
		}
		return io.NopCloser(f), nil
	}
	f, err := v.ffs.OpenFile(k)
	if err != nil {
		return nil, classify(e.FullPathComponents, err)
	}
	return io.NopCloser(f), nil
}

// writable returns the FFS volume entries can be created on.
func (v *Volume) writable(components []string, e entry.Entry) (*ffs.Volume, error) {
	if v.ReadOnly() {
		return nil, entry.NewError(entry.KindUnsupported, components, fmt.Errorf("%s volume %s is read-only", v.DosType(), v.Name()))
	}
	raw, err := amiga.EncodeName(e.Name)
	if err != nil {
		return nil, entry.NewError(entry.KindUnsupported, components, err)
	}
	if len(raw) > amiga.MaxNameLength {
		return nil, entry.NewError(entry.KindUnsupported, components, fmt.Errorf("name longer than %d characters", amiga.MaxNameLength))
	}
	return v.ffs, nil
}

func attributes(e entry.Entry) ffs.Attributes {
	comment := e.Comment
	if raw, err := amiga.EncodeName(comment); err != nil || len(raw) > amiga.MaxCommentLength {
		comment = ""
	}
	return ffs.Attributes{Access: e.Protection, Comment: comment, Date: e.Date}
}

func (v *Volume) Mkdir(_ context.Context, components []string, e entry.Entry) error {
	fv, err := v.writable(components, e)
	if err != nil {
		return err
	}
	parent, err := v.key(components[:len(components)-1])
	if err != nil {
		return err
	}
	created, err := fv.CreateDir(parent, e.Name, attributes(e))
	if err != nil {
		return classify(components, err)
	}
	v.keys[pathKey(components)] = created.Sector
	return nil
}

func (v *Volume) WriteFile(ctx context.Context, components []string, e entry.Entry, r io.Reader) error {
	fv, err := v.writable(components, e)
	if err != nil {
		return err
	}
	if e.Type != entry.TypeFile {
		return entry.NewError(entry.KindUnsupported, components, fmt.Errorf("cannot create a %s", e.Type))
	}
	parent, err := v.key(components[:len(components)-1])
	if err != nil {
		return err
	}
	if r == nil {
		r = strings.NewReader("")
	}
	created, err := fv.CreateFile(ctx, parent, e.Name, attributes(e), r)
	if err != nil {
		return classify(components, err)
	}
	v.keys[pathKey(components)] = created.Sector
	return nil
}

func (v *Volume) Close() error {
	if v.closer != nil {
		return v.closer.Close()
	}
	return nil
}
