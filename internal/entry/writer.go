package entry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Target is a writable container. Mkdir and WriteFile are only called
// once the parent directory exists.
type Target interface {
	Stat(ctx context.Context, components []string) (Entry, error)
	Mkdir(ctx context.Context, components []string, e Entry) error
	// WriteFile creates or replaces a file. Targets that cannot store an
	// entry type fail with ErrUnsupported.
	WriteFile(ctx context.Context, components []string, e Entry, r io.Reader) error
	Close() error
}

// TreeWriter is the Writer over a Target.
type TreeWriter struct {
	t             Target
	root          []string
	createMissing bool
	dest          Destination
	dirs          map[string]bool
	ready         bool
}

// NewWriter writes below root. With createMissing, missing parents of
// the last root component are created by Initialize.
func NewWriter(t Target, root []string, createMissing bool) *TreeWriter {
	return &TreeWriter{t: t, root: append([]string(nil), root...), createMissing: createMissing, dirs: map[string]bool{"": true}}
}

func (w *TreeWriter) Initialize(ctx context.Context) error {
	w.dest = Destination{Root: w.root, Exists: true, IsDir: true}
	for i := range w.root {
		comps := w.root[:i+1]
		e, err := w.t.Stat(ctx, comps)
		last := i == len(w.root)-1
		switch {
		case errors.Is(err, ErrPathNotFound) && last:
			w.dest.Exists, w.dest.IsDir = false, false
		case errors.Is(err, ErrPathNotFound) && w.createMissing:
			if err := w.mkdir(ctx, comps); err != nil {
				return err
			}
		case err != nil:
			return err
		case !e.IsDir() && !last:
			return NewError(KindCollision, comps, errors.New("not a directory"))
		case last:
			w.dest.IsDir = e.IsDir()
			if e.IsDir() {
				w.dirs[key(comps)] = true
			}
		default:
			w.dirs[key(comps)] = true
		}
	}
	w.ready = true
	return nil
}

// Destination returns the resolved root. It is valid after Initialize.
func (w *TreeWriter) Destination() Destination { return w.dest }

func (w *TreeWriter) mkdir(ctx context.Context, comps []string) error {
	e := Entry{Name: comps[len(comps)-1], Type: TypeDir, Date: time.Now(), FullPathComponents: comps}
	if err := w.t.Mkdir(ctx, comps, e); err != nil {
		return err
	}
	w.dirs[key(comps)] = true
	return nil
}

// ensureDirs makes sure every prefix of comps is a directory.
func (w *TreeWriter) ensureDirs(ctx context.Context, comps []string, create bool) error {
	for i := 1; i <= len(comps); i++ {
		p := comps[:i]
		if w.dirs[key(p)] {
			continue
		}
		e, err := w.t.Stat(ctx, p)
		switch {
		case errors.Is(err, ErrPathNotFound) && create:
			if err := w.mkdir(ctx, p); err != nil {
				return err
			}
		case err != nil:
			return err
		case !e.IsDir():
			return NewError(KindCollision, p, errors.New("not a directory"))
		default:
			w.dirs[key(p)] = true
		}
	}
	return nil
}

func (w *TreeWriter) CreateDirectory(ctx context.Context, e Entry, relative []string, opts WriteOptions) error {
	if !w.ready {
		return errors.New("writer not initialized")
	}
	full := w.dest.FullPathComponents(TypeDir, relative, opts.Single)
	if len(full) == 0 || w.dirs[key(full)] {
		return nil
	}
	if err := w.ensureDirs(ctx, full[:len(full)-1], opts.CreateIntermediate); err != nil {
		return err
	}
	existing, err := w.t.Stat(ctx, full)
	switch {
	case errors.Is(err, ErrPathNotFound):
		e.Name = full[len(full)-1]
		e.FullPathComponents = full
		if err := w.t.Mkdir(ctx, full, e); err != nil {
			return err
		}
	case err != nil:
		return err
	case !existing.IsDir():
		return NewError(KindCollision, full, fmt.Errorf("%s exists as a %s", existing.Name, existing.Type))
	}
	w.dirs[key(full)] = true
	return nil
}

func (w *TreeWriter) WriteEntry(ctx context.Context, e Entry, relative []string, r io.Reader, opts WriteOptions) error {
	if !w.ready {
		return errors.New("writer not initialized")
	}
	full := w.dest.FullPathComponents(e.Type, relative, opts.Single)
	if len(full) == 0 {
		return NewError(KindCollision, full, errors.New("cannot replace the root directory"))
	}
	if err := w.ensureDirs(ctx, full[:len(full)-1], opts.CreateIntermediate); err != nil {
		return err
	}
	existing, err := w.t.Stat(ctx, full)
	switch {
	case errors.Is(err, ErrPathNotFound):
	case err != nil:
		return err
	case existing.IsDir():
		return NewError(KindCollision, full, fmt.Errorf("%s exists as a directory", existing.Name))
	}
	e.Name = full[len(full)-1]
	e.FullPathComponents = full
	return w.t.WriteFile(ctx, full, e, r)
}

func (w *TreeWriter) Close() error { return w.t.Close() }
