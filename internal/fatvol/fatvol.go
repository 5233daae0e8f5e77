// Package fatvol formats FAT12/16/32 volumes and exposes FAT32 volumes as
// entry sources and targets through go-diskfs.
package fatvol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/go-logr/logr"

	"amitool/internal/amiga"
	"amitool/internal/entry"
	"amitool/internal/media"
	"amitool/internal/uae"
)

// Volume is a mounted FAT32 volume.
type Volume struct {
	fs     *fat32.FileSystem
	log    logr.Logger
	closer io.Closer
}

// Options control Mount.
type Options struct {
	Logger logr.Logger
	// Closer is closed with the volume.
	Closer io.Closer
}

// Mount reads the FAT32 volume that fills m.
func Mount(m media.Media, opts Options) (*Volume, error) {
	f, err := fat32.Read(media.Seekable(m), m.Size(), 0, 512)
	if err != nil {
		return nil, fmt.Errorf("read fat32 volume: %w", err)
	}
	return &Volume{fs: f, log: opts.Logger, closer: opts.Closer}, nil
}

// Create writes a new FAT32 file system over all of m and mounts it.
func Create(m media.Media, label string, opts Options) (*Volume, error) {
	f, err := fat32.Create(media.Seekable(m), m.Size(), 0, 512, label)
	if err != nil {
		return nil, fmt.Errorf("create fat32 volume: %w", err)
	}
	return &Volume{fs: f, log: opts.Logger, closer: opts.Closer}, nil
}

// Label is the volume label.
func (v *Volume) Label() string { return strings.TrimSpace(v.fs.Label()) }

func (v *Volume) entry(dir string, fi fs.FileInfo) entry.Entry {
	e := entry.Entry{
		Name:    uae.Unescape(fi.Name()),
		Type:    entry.TypeFile,
		Size:    fi.Size(),
		Date:    fi.ModTime(),
		RawPath: path.Join(dir, fi.Name()),
	}
	if fi.IsDir() {
		e.Type, e.Size = entry.TypeDir, 0
	}
	if fi.Mode().Perm()&0200 == 0 {
		e.Protection = amiga.ProtWrite | amiga.ProtDelete
	}
	return e
}

func (v *Volume) children(dir string) ([]entry.Entry, error) {
	infos, err := v.fs.ReadDir(dir)
	if err != nil {
		return nil, entry.NewError(entry.KindIO, strings.Split(strings.Trim(dir, "/"), "/"), err)
	}
	out := make([]entry.Entry, 0, len(infos))
	for _, fi := range infos {
		if n := fi.Name(); n == "." || n == ".." || n == "" {
			continue
		}
		out = append(out, v.entry(dir, fi))
	}
	return out, nil
}

func (v *Volume) Stat(ctx context.Context, components []string) (entry.Entry, error) {
	e := entry.Entry{Name: v.Label(), Type: entry.TypeRoot, RawPath: "/", FullPathComponents: []string{}}
	for i, c := range components {
		if err := ctx.Err(); err != nil {
			return entry.Entry{}, err
		}
		if !e.IsDir() {
			return entry.Entry{}, entry.NewError(entry.KindNotFound, components[:i+1], fmt.Errorf("%s is not a directory", e.Name))
		}
		all, err := v.children(e.RawPath)
		if err != nil {
			return entry.Entry{}, err
		}
		found := false
		for _, child := range all {
			if strings.EqualFold(child.Name, c) {
				child.FullPathComponents = append(append([]string(nil), e.FullPathComponents...), child.Name)
				e, found = child, true
				break
			}
		}
		if !found {
			return entry.Entry{}, entry.NewError(entry.KindNotFound, components[:i+1], nil)
		}
	}
	return e, nil
}

func (v *Volume) List(ctx context.Context, dir entry.Entry) ([]entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := dir.RawPath
	if p == "" {
		resolved, err := v.Stat(ctx, dir.FullPathComponents)
		if err != nil {
			return nil, err
		}
		p = resolved.RawPath
	}
	return v.children(p)
}

func (v *Volume) Open(_ context.Context, e entry.Entry) (io.ReadCloser, error) {
	f, err := v.fs.OpenFile(e.RawPath, os.O_RDONLY)
	if err != nil {
		return nil, entry.NewError(entry.KindIO, e.FullPathComponents, err)
	}
	return io.NopCloser(io.LimitReader(f, e.Size)), nil
}

// hostPath maps components onto the FAT path, reusing the names of
// existing entries and escaping the rest.
func (v *Volume) hostPath(ctx context.Context, components []string) (string, error) {
	parent, err := v.Stat(ctx, components[:len(components)-1])
	if err != nil {
		return "", err
	}
	name := components[len(components)-1]
	if existing, err := v.Stat(ctx, components); err == nil {
		return existing.RawPath, nil
	} else if !errors.Is(err, entry.ErrPathNotFound) {
		return "", err
	}
	return path.Join(parent.RawPath, uae.Escape(name)), nil
}

func (v *Volume) Mkdir(ctx context.Context, components []string, e entry.Entry) error {
	p, err := v.hostPath(ctx, components)
	if err != nil {
		return err
	}
	if err := v.fs.Mkdir(p); err != nil {
		return entry.NewError(entry.KindIO, components, err)
	}
	return nil
}

func (v *Volume) WriteFile(ctx context.Context, components []string, e entry.Entry, r io.Reader) error {
	if e.Type != entry.TypeFile {
		return entry.NewError(entry.KindUnsupported, components, fmt.Errorf("FAT cannot store a %s", e.Type))
	}
	if _, err := v.Stat(ctx, components); err == nil {
		return entry.NewError(entry.KindCollision, components, errors.New("file exists"))
	}
	p, err := v.hostPath(ctx, components)
	if err != nil {
		return err
	}
	f, err := v.fs.OpenFile(p, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return entry.NewError(entry.KindIO, components, err)
	}
	if r != nil {
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			return entry.NewError(entry.KindIO, components, err)
		}
	}
	if err := f.Close(); err != nil {
		return entry.NewError(entry.KindIO, components, err)
	}
	v.log.V(1).Info("wrote file", "path", p)
	return nil
}

func (v *Volume) Close() error {
	if v.closer != nil {
		return v.closer.Close()
	}
	return nil
}
