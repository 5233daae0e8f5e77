package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"amitool/internal/amigavol"
	"amitool/internal/archive"
	"amitool/internal/entry"
	"amitool/internal/fatvol"
	"amitool/internal/hostdir"
	"amitool/internal/layer"
	"amitool/internal/media"
	"amitool/internal/uae"
)

// container is an opened path: the source and, unless read-only, the
// target holding it plus the components inside.
type container struct {
	src  entry.Source
	dst  entry.Target
	path []string
	kind string
	logs func() []string
}

func (c *container) Close() error { return c.src.Close() }

func (c *container) warnings() []string {
	if c.logs == nil {
		return nil
	}
	return c.logs()
}

// layeredMedia redirects every write to an overlay file.
type layeredMedia struct {
	*layer.Stream
	base  media.Media
	store afero.File
}

func (l *layeredMedia) Close() error {
	err := l.store.Close()
	if e := l.base.Close(); err == nil {
		err = e
	}
	return err
}

// openLayered wraps m with the overlay at path, creating it when missing.
func (a *app) openLayered(m media.Media, path string) (*layeredMedia, error) {
	f, err := a.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open overlay: %w", err)
	}
	s := layer.New(m, m.Size(), f, a.cfg.LayerBlockSize)
	if err := s.Initialize(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &layeredMedia{Stream: s, base: m, store: f}, nil
}

// openMedia opens the media of loc and selects its partition.
func (a *app) openMedia(loc media.Location, writable bool, overlay string) (whole, vol media.Media, part media.Partition, err error) {
	whole, err = media.Open(loc.Media, writable && overlay == "")
	if err != nil {
		return nil, nil, part, err
	}
	if overlay != "" {
		lm, err := a.openLayered(whole, overlay)
		if err != nil {
			whole.Close()
			return nil, nil, part, err
		}
		whole = lm
	}
	vol = whole
	if loc.Table != "" {
		info, err := media.ReadDiskInfo(whole, a.types)
		if err != nil {
			whole.Close()
			return nil, nil, part, fmt.Errorf("%s: %w", loc.Media, err)
		}
		if !strings.EqualFold(string(info.Style), loc.Table) {
			whole.Close()
			return nil, nil, part, fmt.Errorf("%s: %w: disk has a %s table, not %s", loc.Media, media.ErrNoPartition, info.Style, strings.ToUpper(loc.Table))
		}
		if part, err = info.Find(loc.Partition); err == nil {
			vol, err = part.Open(whole)
		}
		if err != nil {
			whole.Close()
			return nil, nil, part, fmt.Errorf("%s: %w", loc.Media, err)
		}
	}
	return whole, vol, part, nil
}

// openContainer resolves p to a host directory, a zip archive or a
// volume on media. Writes to media go through overlay when it is set.
func (a *app) openContainer(p string, writable bool, overlay string, mode uae.Mode) (*container, error) {
	loc, err := media.ResolvePath(a.fs, p)
	if errors.Is(err, media.ErrNotMedia) {
		root, comps := hostdir.Split(p)
		d := hostdir.New(a.fs, root, mode, a.log)
		return &container{src: d, dst: d, path: comps, kind: "host directory"}, nil
	}
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(loc.Media), ".zip") {
		if writable {
			return nil, fmt.Errorf("%s: zip archives are read-only", loc.Media)
		}
		f, err := a.fs.Open(loc.Media)
		if err != nil {
			return nil, err
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		z, err := archive.Open(f, fi.Size(), f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", loc.Media, err)
		}
		path := loc.Path
		if loc.Table != "" {
			path = append([]string{loc.Table, loc.Partition}, path...)
		}
		return &container{src: z, path: path, kind: "zip archive"}, nil
	}

	whole, vol, part, err := a.openMedia(loc, writable, overlay)
	if err != nil {
		return nil, err
	}
	v, err := amigavol.Mount(vol, vol.Size(), amigavol.Options{
		BlockSize:    part.BlockSize,
		Reserved:     part.Reserved,
		IgnoreErrors: a.cfg.IgnoreErrors,
		Logger:       a.log,
		Closer:       whole,
	})
	if err == nil {
		return &container{src: v, dst: v, path: loc.Path, kind: v.DosType().Name() + " volume", logs: v.Logs}, nil
	}
	if !errors.Is(err, amigavol.ErrUnknownFileSystem) {
		whole.Close()
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	fv, ferr := fatvol.Mount(vol, fatvol.Options{Logger: a.log, Closer: whole})
	if ferr != nil {
		whole.Close()
		return nil, fmt.Errorf("%s: %w (fat: %v)", p, err, ferr)
	}
	return &container{src: fv, dst: fv, path: loc.Path, kind: "FAT volume"}, nil
}
