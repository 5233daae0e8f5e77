// Package hostdir reads and writes trees of a host file system. Names the
// host cannot store are escaped, and the Amiga name, protection bits and
// comment are kept in UAE metadata next to the file.
package hostdir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"amitool/internal/amiga"
	"amitool/internal/entry"
	"amitool/internal/uae"
)

// Dir is an entry.Source and entry.Target rooted at a host directory.
type Dir struct {
	fs   afero.Fs
	root string
	mode uae.Mode
	log  logr.Logger

	dbs   map[string]*uae.FsDb
	dirty map[string]bool
}

// New opens the tree below root. root itself is never renamed or
// escaped.
func New(afs afero.Fs, root string, mode uae.Mode, log logr.Logger) *Dir {
	return &Dir{
		fs:    afs,
		root:  filepath.Clean(root),
		mode:  mode,
		log:   log,
		dbs:   map[string]*uae.FsDb{},
		dirty: map[string]bool{},
	}
}

// Split turns a host path into the root of its volume and the components
// below it.
func Split(p string) (string, []string) {
	p = filepath.Clean(p)
	vol := filepath.VolumeName(p)
	rest := strings.TrimPrefix(p[len(vol):], string(filepath.Separator))
	root := vol + string(filepath.Separator)
	if !filepath.IsAbs(p) {
		root, rest = ".", p
	}
	if rest == "" || rest == "." {
		return root, nil
	}
	return root, strings.Split(rest, string(filepath.Separator))
}

// fsdb returns the cached database of a host directory.
func (d *Dir) fsdb(dir string) (*uae.FsDb, error) {
	if db, ok := d.dbs[dir]; ok {
		return db, nil
	}
	db, err := uae.ReadFsDb(d.fs, dir)
	if err != nil {
		return nil, entry.NewError(entry.KindCorrupt, nil, fmt.Errorf("%s: %w", filepath.Join(dir, uae.FsDbName), err))
	}
	d.dbs[dir] = db
	return db, nil
}

func (d *Dir) lstat(p string) (fs.FileInfo, error) {
	if ls, ok := d.fs.(afero.Lstater); ok {
		fi, _, err := ls.LstatIfPossible(p)
		return fi, err
	}
	return d.fs.Stat(p)
}

// entry describes the host file fi found in dir.
func (d *Dir) entry(dir string, fi fs.FileInfo) (entry.Entry, error) {
	host := fi.Name()
	p := filepath.Join(dir, host)
	e := entry.Entry{
		Name:    uae.Unescape(host),
		Type:    entry.TypeFile,
		Size:    fi.Size(),
		Date:    fi.ModTime(),
		RawPath: p,
	}
	switch {
	case fi.Mode()&fs.ModeSymlink != 0:
		e.Type, e.Size = entry.TypeLinkSoft, 0
		if lr, ok := d.fs.(afero.LinkReader); ok {
			e.LinkTarget, _ = lr.ReadlinkIfPossible(p)
		}
	case fi.IsDir():
		e.Type, e.Size = entry.TypeDir, 0
	}
	if fi.Mode().Perm()&0200 == 0 {
		e.Protection = amiga.ProtWrite | amiga.ProtDelete
	}

	switch d.mode {
	case uae.ModeFsDb:
		db, err := d.fsdb(dir)
		if err != nil {
			return e, err
		}
		e.Name = host
		if r, ok := db.ByHost(host); ok {
			e.Name, e.Protection, e.Comment = r.AmigaName, r.Protection, r.Comment
		}
	case uae.ModeMetafile:
		m, err := uae.ReadMetafile(d.fs, p)
		switch {
		case err == nil:
			e.Protection, e.Comment = m.Protection, m.Comment
			if !m.Date.IsZero() {
				e.Date = m.Date
			}
		case !errors.Is(err, fs.ErrNotExist):
			d.log.Info("ignoring unreadable metafile", "path", uae.MetafilePath(p), "err", err.Error())
		}
	}
	return e, nil
}

// children lists dir without its metadata files.
func (d *Dir) children(dir string) ([]entry.Entry, error) {
	infos, err := afero.ReadDir(d.fs, dir)
	if err != nil {
		return nil, entry.NewError(entry.KindIO, nil, err)
	}
	out := make([]entry.Entry, 0, len(infos))
	for _, fi := range infos {
		if uae.IsMetadataFile(fi.Name()) {
			continue
		}
		e, err := d.entry(dir, fi)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// child finds the host entry of an Amiga name in dir.
func (d *Dir) child(dir, name string) (entry.Entry, bool, error) {
	if d.mode == uae.ModeFsDb {
		db, err := d.fsdb(dir)
		if err != nil {
			return entry.Entry{}, false, err
		}
		if r, ok := db.ByAmiga(name); ok {
			if fi, err := d.lstat(filepath.Join(dir, r.HostName)); err == nil {
				e, err := d.entry(dir, fi)
				return e, err == nil, err
			}
		}
	}
	if fi, err := d.lstat(filepath.Join(dir, uae.Escape(name))); err == nil && !uae.IsMetadataFile(fi.Name()) {
		e, err := d.entry(dir, fi)
		if err == nil && strings.EqualFold(e.Name, name) {
			return e, true, nil
		}
	}
	all, err := d.children(dir)
	if err != nil {
		return entry.Entry{}, false, err
	}
	for _, e := range all {
		if strings.EqualFold(e.Name, name) {
			return e, true, nil
		}
	}
	return entry.Entry{}, false, nil
}

func (d *Dir) Stat(ctx context.Context, components []string) (entry.Entry, error) {
	fi, err := d.fs.Stat(d.root)
	if err != nil {
		return entry.Entry{}, entry.NewError(entry.KindNotFound, nil, err)
	}
	e := entry.Entry{Name: filepath.Base(d.root), Type: entry.TypeRoot, Date: fi.ModTime(), RawPath: d.root, FullPathComponents: []string{}}
	if !fi.IsDir() {
		return e, entry.NewError(entry.KindUnsupported, nil, fmt.Errorf("%s is not a directory", d.root))
	}
	for i, c := range components {
		if err := ctx.Err(); err != nil {
			return entry.Entry{}, err
		}
		if !d.traversable(e) {
			return entry.Entry{}, entry.NewError(entry.KindNotFound, components[:i+1], fmt.Errorf("%s is not a directory", e.Name))
		}
		next, ok, err := d.child(e.RawPath, c)
		if err != nil {
			return entry.Entry{}, err
		}
		if !ok {
			return entry.Entry{}, entry.NewError(entry.KindNotFound, components[:i+1], nil)
		}
		next.FullPathComponents = append(append([]string(nil), e.FullPathComponents...), next.Name)
		e = next
	}
	return e, nil
}

// traversable reports directories and links to directories.
func (d *Dir) traversable(e entry.Entry) bool {
	if e.Type == entry.TypeLinkSoft {
		fi, err := d.fs.Stat(e.RawPath)
		return err == nil && fi.IsDir()
	}
	return e.IsDir()
}

func (d *Dir) List(ctx context.Context, dir entry.Entry) ([]entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	host := dir.RawPath
	if host == "" {
		resolved, err := d.Stat(ctx, dir.FullPathComponents)
		if err != nil {
			return nil, err
		}
		host = resolved.RawPath
	}
	return d.children(host)
}

func (d *Dir) Open(_ context.Context, e entry.Entry) (io.ReadCloser, error) {
	f, err := d.fs.Open(e.RawPath)
	if err != nil {
		return nil, entry.NewError(entry.KindIO, e.FullPathComponents, err)
	}
	return f, nil
}

// hostName picks the host name for an Amiga name in dir. An existing
// entry of the same name keeps its host name.
func (d *Dir) hostName(dir, name string) (string, error) {
	if e, ok, err := d.child(dir, name); err != nil {
		return "", err
	} else if ok {
		return filepath.Base(e.RawPath), nil
	}
	infos, err := afero.ReadDir(d.fs, dir)
	if err != nil {
		return "", entry.NewError(entry.KindIO, nil, err)
	}
	taken := make(map[string]bool, len(infos))
	for _, fi := range infos {
		taken[strings.ToLower(fi.Name())] = true
	}
	return uae.Unique(uae.Escape(name), func(s string) bool {
		return taken[strings.ToLower(s)] || taken[strings.ToLower(s+uae.MetafileExt)]
	}), nil
}

func (d *Dir) parent(ctx context.Context, components []string) (string, error) {
	p, err := d.Stat(ctx, components[:len(components)-1])
	if err != nil {
		return "", err
	}
	return p.RawPath, nil
}

func (d *Dir) Mkdir(ctx context.Context, components []string, e entry.Entry) error {
	dir, err := d.parent(ctx, components)
	if err != nil {
		return err
	}
	host, err := d.hostName(dir, e.Name)
	if err != nil {
		return err
	}
	p := filepath.Join(dir, host)
	if err := d.fs.Mkdir(p, 0755); err != nil && !errors.Is(err, fs.ErrExist) {
		return entry.NewError(entry.KindIO, components, err)
	}
	if !e.Date.IsZero() {
		if err := d.fs.Chtimes(p, e.Date, e.Date); err != nil {
			d.log.Info("WARNING: cannot set directory date", "path", p, "err", err.Error())
		}
	}
	return d.record(dir, host, e)
}

func (d *Dir) WriteFile(ctx context.Context, components []string, e entry.Entry, r io.Reader) error {
	dir, err := d.parent(ctx, components)
	if err != nil {
		return err
	}
	host, err := d.hostName(dir, e.Name)
	if err != nil {
		return err
	}
	p := filepath.Join(dir, host)

	switch e.Type {
	case entry.TypeFile:
		if err := d.writeData(p, r); err != nil {
			return entry.NewError(entry.KindIO, components, err)
		}
	case entry.TypeLinkSoft:
		l, ok := d.fs.(afero.Linker)
		if !ok {
			return entry.NewError(entry.KindUnsupported, components, errors.New("host file system has no symbolic links"))
		}
		if err := l.SymlinkIfPossible(e.LinkTarget, p); err != nil {
			return entry.NewError(entry.KindUnsupported, components, err)
		}
		return d.record(dir, host, e)
	default:
		return entry.NewError(entry.KindUnsupported, components, fmt.Errorf("cannot store a %s on the host", e.Type))
	}

	if !e.Date.IsZero() {
		if err := d.fs.Chtimes(p, e.Date, e.Date); err != nil {
			d.log.Info("WARNING: cannot set file date", "path", p, "err", err.Error())
		}
	}
	if e.Protection&amiga.ProtWrite != 0 {
		if err := d.fs.Chmod(p, 0444); err != nil {
			d.log.Info("WARNING: cannot write-protect file", "path", p, "err", err.Error())
		}
	}
	return d.record(dir, host, e)
}

func (d *Dir) writeData(p string, r io.Reader) error {
	if fi, err := d.fs.Stat(p); err == nil && fi.Mode().Perm()&0200 == 0 {
		if err := d.fs.Chmod(p, 0644); err != nil {
			return err
		}
	}
	f, err := d.fs.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if r != nil {
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// record stores the Amiga side of host in the metadata of dir.
func (d *Dir) record(dir, host string, e entry.Entry) error {
	switch d.mode {
	case uae.ModeFsDb:
		db, err := d.fsdb(dir)
		if err != nil {
			return err
		}
		db.Put(uae.Record{AmigaName: e.Name, HostName: host, Protection: e.Protection, Comment: e.Comment})
		d.dirty[dir] = true
	case uae.ModeMetafile:
		date := e.Date
		if date.IsZero() {
			date = time.Now()
		}
		m := uae.Metadata{Protection: e.Protection, Date: date, Comment: e.Comment}
		if err := uae.WriteMetafile(d.fs, filepath.Join(dir, host), m); err != nil {
			return entry.NewError(entry.KindIO, e.FullPathComponents, err)
		}
	}
	return nil
}

// Flush writes modified databases.
func (d *Dir) Flush() error {
	for dir := range d.dirty {
		if err := d.dbs[dir].Write(d.fs, dir); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Join(dir, uae.FsDbName), err)
		}
		delete(d.dirty, dir)
	}
	return nil
}

// Close flushes and drops the cached databases.
func (d *Dir) Close() error {
	err := d.Flush()
	d.dbs = map[string]*uae.FsDb{}
	return err
}
