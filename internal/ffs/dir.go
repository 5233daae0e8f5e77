package ffs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"amitool/internal/amiga"
	"amitool/internal/blocks"
)

// Entry is a decoded directory entry.
type Entry struct {
	Sector  uint32
	Parent  uint32
	Kind    blocks.Kind
	Name    string
	Size    uint32
	Access  uint32
	Comment string
	Date    time.Time
	// Real is the target header of a hard link.
	Real uint32
	// SymLink is the target path of a soft link.
	SymLink string
	// Path holds the names from the listed directory down to this entry,
	// including Name.
	Path []string
}

// IsDir reports whether the entry holds other entries.
func (e Entry) IsDir() bool { return e.Kind == blocks.KindDir || e.Kind == blocks.KindRoot }

func newEntry(b *blocks.EntryBlock, path []string) Entry {
	name := amiga.DecodeName(b.Name)
	return Entry{
		Sector:  b.HeaderKey,
		Parent:  b.Parent,
		Kind:    b.Kind(),
		Name:    name,
		Size:    b.ByteSize,
		Access:  b.Access,
		Comment: amiga.DecodeName(b.Comment),
		Date:    b.Date.Time(),
		Real:    b.Real,
		SymLink: amiga.DecodeName(b.SymLink),
		Path:    append(append([]string(nil), path...), name),
	}
}

// lookup follows the hash chain of dir for name. It returns the header
// and the header that precedes it in the chain, if any.
func (v *Volume) lookup(dir *blocks.EntryBlock, name []byte) (found, prev *blocks.EntryBlock, err error) {
	slot := HashSlot(name, v.intl(), v.tableSize())
	n := dir.Table[slot]
	seen := map[uint32]bool{}
	for n != 0 {
		if seen[n] {
			return nil, nil, fmt.Errorf("%w: hash chain loops at sector %d", blocks.ErrInvalidBlockType, n)
		}
		seen[n] = true
		e, err := v.readEntry(n)
		if err != nil {
			return nil, nil, err
		}
		if NameEqual(e.Name, name, v.intl()) {
			return e, prev, nil
		}
		prev = e
		n = e.NextSameHash
	}
	return nil, prev, ErrNotFound
}

// Lookup finds name in the directory at sector dir.
func (v *Volume) Lookup(dir uint32, name string) (Entry, error) {
	raw, err := amiga.EncodeName(name)
	if err != nil {
		return Entry{}, err
	}
	d, err := v.readDir(dir)
	if err != nil {
		return Entry{}, err
	}
	e, _, err := v.lookup(d, raw)
	if err != nil {
		return Entry{}, fmt.Errorf("%s: %w", name, err)
	}
	return newEntry(e, nil), nil
}

// Resolve walks path from the root directory. An empty path resolves to
// the root itself.
func (v *Volume) Resolve(path []string) (Entry, error) {
	cur := Entry{Sector: v.rootKey, Kind: blocks.KindRoot, Name: v.Name(), Date: v.root.RootDate.Time()}
	for i, name := range path {
		if !cur.IsDir() {
			return Entry{}, fmt.Errorf("%s: %w", joinPath(path[:i]), ErrNotDir)
		}
		next, err := v.Lookup(cur.Sector, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Entry{}, fmt.Errorf("%s: %w", joinPath(path[:i+1]), ErrNotFound)
			}
			return Entry{}, err
		}
		next.Path = append(append([]string(nil), path[:i]...), next.Name)
		cur = next
	}
	return cur, nil
}

func joinPath(p []string) string {
	s := ""
	for i, c := range p {
		if i > 0 {
			s += "/"
		}
		s += c
	}
	return s
}

func (v *Volume) readDir(n uint32) (*blocks.EntryBlock, error) {
	d, err := v.readEntry(n)
	if err != nil {
		return nil, err
	}
	if k := d.Kind(); k != blocks.KindDir && k != blocks.KindRoot {
		return nil, fmt.Errorf("sector %d: %w", n, ErrNotDir)
	}
	return d, nil
}

// ChangeDir moves the current directory into the named subdirectory.
func (v *Volume) ChangeDir(name string) error {
	e, err := v.Lookup(v.curDir, name)
	if err != nil {
		return err
	}
	if !e.IsDir() {
		return fmt.Errorf("%s: %w", name, ErrNotDir)
	}
	v.curDir = e.Sector
	return nil
}

// ParentDir moves the current directory one level up. The root is its own
// parent.
func (v *Volume) ParentDir() error {
	if v.curDir == v.rootKey {
		return nil
	}
	d, err := v.readDir(v.curDir)
	if err != nil {
		return err
	}
	v.curDir = d.Parent
	return nil
}

// ToRootDir resets the current directory.
func (v *Volume) ToRootDir() { v.curDir = v.rootKey }

// Entries lists the directory at sector dir in hash table order. With
// recursive set each subdirectory's entries directly follow the
// subdirectory itself. Slots and chain links pointing outside the volume,
// and headers of unknown type, are skipped and logged.
func (v *Volume) Entries(ctx context.Context, dir uint32, recursive bool) ([]Entry, error) {
	var out []Entry
	err := v.walk(ctx, dir, nil, recursive, map[uint32]bool{}, func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// Walk calls fn for every entry below dir, in the order Entries returns
// them.
func (v *Volume) Walk(ctx context.Context, dir uint32, recursive bool, fn func(Entry) error) error {
	return v.walk(ctx, dir, nil, recursive, map[uint32]bool{}, fn)
}

func (v *Volume) walk(ctx context.Context, dir uint32, path []string, recursive bool, seen map[uint32]bool, fn func(Entry) error) error {
	d, err := v.readDir(dir)
	if err != nil {
		return err
	}
	seen[dir] = true
	for slot, n := range d.Table {
		for n != 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !v.inRange(n) {
				v.warnf("directory %d slot %d: sector %d outside volume", dir, slot, n)
				break
			}
			if seen[n] {
				v.warnf("directory %d slot %d: sector %d already visited", dir, slot, n)
				break
			}
			seen[n] = true
			b, err := v.readEntry(n)
			if err != nil {
				if v.opts.IgnoreErrors || errors.Is(err, blocks.ErrInvalidBlockType) {
					v.warnf("directory %d slot %d: %v", dir, slot, err)
					break
				}
				return err
			}
			e := newEntry(b, path)
			if err := fn(e); err != nil {
				return err
			}
			if recursive && e.Kind == blocks.KindDir {
				if err := v.walk(ctx, n, e.Path, true, seen, fn); err != nil {
					return err
				}
			}
			n = b.NextSameHash
		}
	}
	return nil
}
