package entry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"amitool/internal/uae"
)

// Source is a readable container.
type Source interface {
	// Stat returns the entry at components; the empty path is the
	// container root. Missing paths fail with ErrPathNotFound.
	Stat(ctx context.Context, components []string) (Entry, error)
	// List returns the children of a directory entry returned by Stat or
	// List. FullPathComponents of the children are filled in by the caller.
	List(ctx context.Context, dir Entry) ([]Entry, error)
	Open(ctx context.Context, e Entry) (io.ReadCloser, error)
	Close() error
}

// TreeIterator is the Iterator over a Source.
type TreeIterator struct {
	src       Source
	root      []string
	recursive bool
	mode      uae.Mode

	m       *Matcher
	x       *Expander
	base    []string
	pending []Entry
	queue   []Entry
	cur     Entry
	single  bool
	ready   bool
}

// NewIterator iterates src below root. The last root component may be a
// wildcard pattern.
func NewIterator(src Source, root []string, recursive bool, mode uae.Mode) *TreeIterator {
	return &TreeIterator{src: src, root: append([]string(nil), root...), recursive: recursive, mode: mode}
}

func (it *TreeIterator) Initialize(ctx context.Context) error {
	it.m = NewMatcher(it.root, it.recursive)
	top, err := it.src.Stat(ctx, it.m.Prefix())
	if err != nil {
		return err
	}
	if top.FullPathComponents == nil {
		top.FullPathComponents = append([]string(nil), it.m.Prefix()...)
	}
	it.base = top.FullPathComponents
	it.x = NewExpander(it.base, it.recursive)
	it.ready = true

	if !top.IsDir() {
		if it.m.Pattern() != "" {
			return NewError(KindNotFound, it.root, fmt.Errorf("%s is not a directory", top.Name))
		}
		top.RelativePathComponents = []string{top.Name}
		it.queue = []Entry{top}
		it.single = true
		return nil
	}
	return it.push(ctx, top)
}

// push queues the children of dir so that they pop in listing order.
func (it *TreeIterator) push(ctx context.Context, dir Entry) error {
	children, err := it.src.List(ctx, dir)
	if err != nil {
		return err
	}
	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		c.FullPathComponents = append(append([]string(nil), dir.FullPathComponents...), c.Name)
		it.pending = append(it.pending, c)
	}
	return nil
}

func (it *TreeIterator) Next(ctx context.Context) (bool, error) {
	if !it.ready {
		return false, errors.New("iterator not initialized")
	}
	for len(it.queue) == 0 {
		if len(it.pending) == 0 {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		e := it.pending[len(it.pending)-1]
		it.pending = it.pending[:len(it.pending)-1]
		e.RelativePathComponents = append([]string(nil), e.FullPathComponents[len(it.base):]...)
		if it.recursive && e.IsDir() && e.Type != TypeLinkDir {
			if err := it.push(ctx, e); err != nil {
				return false, err
			}
		}
		if it.m.IsMatch(e.FullPathComponents) {
			it.queue = append(it.queue, it.x.Expand(e)...)
		}
	}
	it.cur = it.queue[0]
	it.queue = it.queue[1:]
	return true, nil
}

func (it *TreeIterator) Current() Entry { return it.cur }

func (it *TreeIterator) Open(ctx context.Context) (io.ReadCloser, error) {
	if it.cur.Type != TypeFile {
		return nil, NewError(KindUnsupported, it.cur.FullPathComponents, fmt.Errorf("%s has no content", it.cur.Type))
	}
	return it.src.Open(ctx, it.cur)
}

func (it *TreeIterator) Single() bool { return it.single }

func (it *TreeIterator) UAEMetadata() uae.Mode { return it.mode }

func (it *TreeIterator) Close() error { return it.src.Close() }
