// Package archive reads zip archives as entry sources. Archives list
// flat names; the directories those names imply are synthesized.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"amitool/internal/amiga"
	"amitool/internal/entry"
)

type node struct {
	e        entry.Entry
	f        *zip.File
	children []*node
}

// Archive is an entry.Source over a zip archive.
type Archive struct {
	nodes  map[string]*node
	closer io.Closer
}

// Open indexes the zip archive in r. closer, when not nil, is closed
// with the archive.
func Open(r io.ReaderAt, size int64, closer io.Closer) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a := &Archive{
		nodes:  map[string]*node{"": {e: entry.Entry{Type: entry.TypeRoot, FullPathComponents: []string{}}}},
		closer: closer,
	}
	for _, f := range zr.File {
		comps := split(decodeName(f))
		if comps == nil {
			continue
		}
		n := a.mkdirs(comps[:len(comps)-1], f.Modified)
		e := entry.Entry{
			Name:               comps[len(comps)-1],
			Type:               entry.TypeFile,
			Size:               int64(f.UncompressedSize64),
			Date:               f.Modified,
			Comment:            f.Comment,
			RawPath:            f.Name,
			FullPathComponents: comps,
		}
		if f.Mode().Perm() != 0 && f.Mode().Perm()&0200 == 0 {
			e.Protection = amiga.ProtWrite | amiga.ProtDelete
		}
		if f.Mode().IsDir() || strings.HasSuffix(f.Name, "/") {
			d := a.mkdirs(comps, f.Modified)
			d.e.Date, d.e.Comment = f.Modified, f.Comment
			continue
		}
		k := key(comps)
		if _, dup := a.nodes[k]; dup {
			continue
		}
		child := &node{e: e, f: f}
		a.nodes[k] = child
		n.children = append(n.children, child)
	}
	for _, n := range a.nodes {
		sort.SliceStable(n.children, func(i, j int) bool {
			return strings.ToLower(n.children[i].e.Name) < strings.ToLower(n.children[j].e.Name)
		})
	}
	return a, nil
}

func key(components []string) string {
	return strings.ToLower(strings.Join(components, "/"))
}

// decodeName returns the entry name, converting legacy code page 437
// names to UTF-8.
func decodeName(f *zip.File) string {
	if !f.NonUTF8 {
		return f.Name
	}
	s, err := charmap.CodePage437.NewDecoder().String(f.Name)
	if err != nil {
		return f.Name
	}
	return s
}

// split cleans an archive name into components. Names that leave the
// archive root yield nil.
func split(name string) []string {
	name = strings.ReplaceAll(name, "\\", "/")
	var out []string
	for _, c := range strings.Split(name, "/") {
		switch c {
		case "", ".":
		case "..":
			return nil
		default:
			out = append(out, c)
		}
	}
	return out
}

// mkdirs returns the directory node of components, creating synthetic
// nodes for every missing level.
func (a *Archive) mkdirs(components []string, date time.Time) *node {
	parent := a.nodes[""]
	for i := range components {
		k := key(components[:i+1])
		n, ok := a.nodes[k]
		if !ok {
			n = &node{e: entry.Entry{
				Name:               components[i],
				Type:               entry.TypeDir,
				Date:               date,
				RawPath:            path.Join(components[:i+1]...) + "/",
				FullPathComponents: append([]string(nil), components[:i+1]...),
			}}
			a.nodes[k] = n
			parent.children = append(parent.children, n)
		}
		parent = n
	}
	return parent
}

func (a *Archive) Stat(_ context.Context, components []string) (entry.Entry, error) {
	n, ok := a.nodes[key(components)]
	if !ok {
		return entry.Entry{}, entry.NewError(entry.KindNotFound, components, nil)
	}
	return n.e, nil
}

func (a *Archive) List(ctx context.Context, dir entry.Entry) ([]entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, ok := a.nodes[key(dir.FullPathComponents)]
	if !ok {
		return nil, entry.NewError(entry.KindNotFound, dir.FullPathComponents, nil)
	}
	out := make([]entry.Entry, len(n.children))
	for i, c := range n.children {
		out[i] = c.e
	}
	return out, nil
}

func (a *Archive) Open(_ context.Context, e entry.Entry) (io.ReadCloser, error) {
	n, ok := a.nodes[key(e.FullPathComponents)]
	if !ok || n.f == nil {
		return nil, entry.NewError(entry.KindNotFound, e.FullPathComponents, nil)
	}
	rc, err := n.f.Open()
	if err != nil {
		return nil, entry.NewError(entry.KindCorrupt, e.FullPathComponents, err)
	}
	return rc, nil
}

func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
