package entry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"amitool/internal/uae"
)

// memTree is a Source and Target over an in-memory tree.
type memTree struct {
	nodes    map[string]*memNode
	noLinks  bool
	mkdirs   []string
	writes   []string
	closed   bool
	statFail map[string]error
}

type memNode struct {
	e    Entry
	data []byte
}

func newMemTree(paths ...string) *memTree {
	t := &memTree{nodes: map[string]*memNode{"": {e: Entry{Type: TypeRoot}}}}
	for _, p := range paths {
		if strings.HasSuffix(p, "/") {
			t.add(strings.TrimSuffix(p, "/"), TypeDir, nil)
		} else {
			t.add(p, TypeFile, []byte("content of "+p))
		}
	}
	return t
}

func (t *memTree) add(p string, typ Type, data []byte) {
	parts := strings.Split(p, "/")
	for i := 1; i < len(parts); i++ {
		k := strings.Join(parts[:i], "/")
		if _, ok := t.nodes[k]; !ok {
			t.nodes[k] = &memNode{e: Entry{Name: parts[i-1], Type: TypeDir}}
		}
	}
	t.nodes[p] = &memNode{e: Entry{Name: parts[len(parts)-1], Type: typ, Size: int64(len(data))}, data: data}
}

func (t *memTree) find(comps []string) (string, *memNode) {
	for k, n := range t.nodes {
		if strings.EqualFold(k, strings.Join(comps, "/")) {
			return k, n
		}
	}
	return "", nil
}

func (t *memTree) Stat(_ context.Context, comps []string) (Entry, error) {
	if err := t.statFail[strings.Join(comps, "/")]; err != nil {
		return Entry{}, err
	}
	k, n := t.find(comps)
	if n == nil {
		return Entry{}, NewError(KindNotFound, comps, nil)
	}
	e := n.e
	if k != "" {
		e.FullPathComponents = strings.Split(k, "/")
	} else {
		e.FullPathComponents = []string{}
	}
	return e, nil
}

func (t *memTree) List(_ context.Context, dir Entry) ([]Entry, error) {
	prefix := strings.Join(dir.FullPathComponents, "/")
	var out []Entry
	for k, n := range t.nodes {
		if k == "" {
			continue
		}
		parent := ""
		if i := strings.LastIndexByte(k, '/'); i >= 0 {
			parent = k[:i]
		}
		if parent == prefix {
			out = append(out, n.e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTree) Open(_ context.Context, e Entry) (io.ReadCloser, error) {
	_, n := t.find(e.FullPathComponents)
	return io.NopCloser(bytes.NewReader(n.data)), nil
}

func (t *memTree) Mkdir(_ context.Context, comps []string, e Entry) error {
	p := strings.Join(comps, "/")
	t.mkdirs = append(t.mkdirs, p)
	t.add(p, TypeDir, nil)
	return nil
}

func (t *memTree) WriteFile(_ context.Context, comps []string, e Entry, r io.Reader) error {
	if e.IsLink() && t.noLinks {
		return NewError(KindUnsupported, comps, errors.New("links"))
	}
	var data []byte
	if r != nil {
		var err error
		if data, err = io.ReadAll(r); err != nil {
			return err
		}
	}
	p := strings.Join(comps, "/")
	t.writes = append(t.writes, p)
	t.add(p, e.Type, data)
	return nil
}

func (t *memTree) Close() error {
	t.closed = true
	return nil
}

func relPaths(t *testing.T, it Iterator) []string {
	t.Helper()
	var out []string
	for {
		more, err := it.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !more {
			return out
		}
		e := it.Current()
		s := strings.Join(e.RelativePathComponents, "/")
		if e.IsDir() {
			s += "/"
		}
		out = append(out, s)
	}
}

func TestMatcher(t *testing.T) {
	tests := []struct {
		root      []string
		recursive bool
		candidate []string
		want      bool
	}{
		{[]string{"dir1"}, true, []string{"dir1", "dir2", "file.txt"}, true},
		{[]string{"dir1"}, true, []string{"dir2", "file.txt"}, false},
		{[]string{"DIR1"}, false, []string{"dir1", "x"}, true},
		{[]string{"dir1", "dir2"}, true, []string{"dir1"}, false},
		{[]string{"*.txt"}, false, []string{"file.txt"}, true},
		{[]string{"*.txt"}, false, []string{"file.bin"}, false},
		{[]string{"d", "*.TXT"}, false, []string{"d", "File.txt"}, true},
		{[]string{"d", "*.txt"}, false, []string{"d", "sub", "a.txt"}, false},
		{[]string{"d", "*.txt"}, true, []string{"d", "sub", "a.txt"}, true},
		{[]string{"d", "*.txt"}, true, []string{"d"}, false},
		{[]string{"#?.info"}, false, []string{"Disk.info"}, true},
		{nil, true, []string{"anything"}, true},
	}
	for _, tc := range tests {
		m := NewMatcher(tc.root, tc.recursive)
		if got := m.IsMatch(tc.candidate); got != tc.want {
			t.Fatalf("NewMatcher(%v, %v).IsMatch(%v) = %v, want %v", tc.root, tc.recursive, tc.candidate, got, tc.want)
		}
	}
	m := NewMatcher([]string{"a", "b*"}, false)
	if len(m.Prefix()) != 1 || m.Pattern() != "b*" {
		t.Fatalf("prefix %v pattern %q", m.Prefix(), m.Pattern())
	}
}

func TestFullPathComponents(t *testing.T) {
	tests := []struct {
		name   string
		dest   Destination
		typ    Type
		rel    []string
		single bool
		want   string
	}{
		{"file into existing dir keeps name", Destination{Root: []string{"out"}, Exists: true, IsDir: true}, TypeFile, []string{"a.txt"}, true, "out/a.txt"},
		{"file onto missing path renames", Destination{Root: []string{"out", "b.txt"}}, TypeFile, []string{"a.txt"}, true, "out/b.txt"},
		{"file onto existing file replaces", Destination{Root: []string{"out", "b.txt"}, Exists: true}, TypeFile, []string{"a.txt"}, true, "out/b.txt"},
		{"file into volume root", Destination{}, TypeFile, []string{"a.txt"}, true, "a.txt"},
		{"multi entry never renames", Destination{Root: []string{"new"}}, TypeFile, []string{"s", "a.txt"}, false, "new/s/a.txt"},
		{"directory never renames", Destination{Root: []string{"new"}}, TypeDir, []string{"s"}, true, "new/s"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := strings.Join(tc.dest.FullPathComponents(tc.typ, tc.rel, tc.single), "/")
			if got != tc.want {
				t.Fatalf("FullPathComponents = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExpander(t *testing.T) {
	file := Entry{Name: "file3.txt", Type: TypeFile, RelativePathComponents: []string{"dir1", "dir2", "file3.txt"}}
	got := NewExpander([]string{"root"}, true).Expand(file)
	if len(got) != 3 {
		t.Fatalf("Expand = %d entries, want 3", len(got))
	}
	for i, want := range []string{"dir1", "dir1/dir2", "dir1/dir2/file3.txt"} {
		if s := strings.Join(got[i].RelativePathComponents, "/"); s != want {
			t.Fatalf("entry %d = %q, want %q", i, s, want)
		}
	}
	if got[0].Type != TypeDir || got[1].Name != "dir2" || strings.Join(got[1].FullPathComponents, "/") != "root/dir1/dir2" {
		t.Fatalf("synthetic entry = %+v", got[1])
	}
	if got := NewExpander(nil, false).Expand(file); len(got) != 0 {
		t.Fatalf("non-recursive Expand = %d entries, want 0", len(got))
	}

	x := NewExpander(nil, true)
	x.Expand(file)
	sibling := Entry{Name: "x", Type: TypeFile, RelativePathComponents: []string{"dir1", "dir2", "x"}}
	if got := x.Expand(sibling); len(got) != 1 {
		t.Fatalf("ancestors repeated: %d entries", len(got))
	}
	dir := Entry{Name: "dir2", Type: TypeDir, RelativePathComponents: []string{"DIR1", "dir2"}}
	if got := x.Expand(dir); len(got) != 0 {
		t.Fatalf("known directory produced again")
	}
}

func TestIteratorRecursive(t *testing.T) {
	src := newMemTree("c/", "s/startup-sequence", "s/user/x", "readme")
	it := NewIterator(src, nil, true, uae.ModeNone)
	if err := it.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	want := "c/ readme s/ s/startup-sequence s/user/ s/user/x"
	if got := strings.Join(relPaths(t, it), " "); got != want {
		t.Fatalf("entries = %q, want %q", got, want)
	}
	if it.Single() {
		t.Fatalf("directory root reported as single")
	}
}

func TestIteratorScopes(t *testing.T) {
	src := newMemTree("a/b/one.txt", "a/b/two.bin", "a/three.txt", "a/c/")
	tests := []struct {
		root      []string
		recursive bool
		want      string
	}{
		{[]string{"A"}, false, "b/ c/ three.txt"},
		{[]string{"a", "*.txt"}, false, "three.txt"},
		{[]string{"a", "*.txt"}, true, "b/ b/one.txt three.txt"},
		{[]string{"a", "b"}, true, "one.txt two.bin"},
	}
	for _, tc := range tests {
		it := NewIterator(src, tc.root, tc.recursive, uae.ModeNone)
		if err := it.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize %v: %v", tc.root, err)
		}
		if got := strings.Join(relPaths(t, it), " "); got != tc.want {
			t.Fatalf("%v recursive=%v: entries = %q, want %q", tc.root, tc.recursive, got, tc.want)
		}
	}

	single := NewIterator(src, []string{"a", "b", "one.txt"}, false, uae.ModeFsDb)
	if err := single.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := relPaths(t, single); len(got) != 1 || got[0] != "one.txt" || !single.Single() {
		t.Fatalf("single file = %v", got)
	}
	if single.UAEMetadata() != uae.ModeFsDb {
		t.Fatalf("UAEMetadata = %v", single.UAEMetadata())
	}

	missing := NewIterator(src, []string{"a", "nope"}, true, uae.ModeNone)
	err := missing.Initialize(context.Background())
	if !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("Initialize missing = %v, want ErrPathNotFound", err)
	}
	if err.Error() != "/a/nope: path not found" {
		t.Fatalf("error text = %q", err)
	}
}

func TestWriterInitialize(t *testing.T) {
	dst := newMemTree("out/", "file")
	if err := NewWriter(dst, []string{"missing", "x"}, false).Initialize(context.Background()); !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("missing parent = %v, want ErrPathNotFound", err)
	}
	if err := NewWriter(dst, []string{"file", "x"}, false).Initialize(context.Background()); !errors.Is(err, ErrCollision) {
		t.Fatalf("file as parent = %v, want ErrCollision", err)
	}
	w := NewWriter(dst, []string{"made", "x"}, true)
	if err := w.Initialize(context.Background()); err != nil {
		t.Fatalf("create missing = %v", err)
	}
	if d := w.Destination(); d.Exists || len(dst.mkdirs) != 1 || dst.mkdirs[0] != "made" {
		t.Fatalf("destination %+v after mkdirs %v", d, dst.mkdirs)
	}
	w = NewWriter(dst, []string{"OUT"}, false)
	if err := w.Initialize(context.Background()); err != nil || !w.Destination().Exists || !w.Destination().IsDir {
		t.Fatalf("existing dir = %+v, %v", w.Destination(), err)
	}
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	src := newMemTree("s/startup-sequence", "s/user/x", "readme")
	src.add("link", TypeLinkSoft, nil)

	t.Run("tree into new directory", func(t *testing.T) {
		dst := newMemTree("backup/")
		dst.noLinks = true
		var seen []string
		st, err := Copy(ctx, NewIterator(src, nil, true, uae.ModeNone), NewWriter(dst, []string{"backup", "wb"}, false),
			CopyOptions{Progress: func(e Entry) { seen = append(seen, e.Name) }})
		if err != nil {
			t.Fatalf("Copy: %v", err)
		}
		if st.Dirs != 2 || st.Files != 3 || st.Skipped != 1 {
			t.Fatalf("stats = %+v", st)
		}
		if st.Bytes != int64(len("content of readme")+len("content of s/startup-sequence")+len("content of s/user/x")) {
			t.Fatalf("bytes = %d", st.Bytes)
		}
		if _, n := dst.find([]string{"backup", "wb", "s", "user", "x"}); n == nil || string(n.data) != "content of s/user/x" {
			t.Fatalf("nested file missing; writes %v", dst.writes)
		}
		if dst.mkdirs[0] != "backup/wb" || len(seen) != 5 {
			t.Fatalf("mkdirs %v progress %v", dst.mkdirs, seen)
		}
	})

	t.Run("single file rename", func(t *testing.T) {
		dst := newMemTree("out/")
		if _, err := Copy(ctx, NewIterator(src, []string{"readme"}, false, uae.ModeNone), NewWriter(dst, []string{"out", "README.txt"}, false), CopyOptions{}); err != nil {
			t.Fatalf("Copy: %v", err)
		}
		if len(dst.writes) != 1 || dst.writes[0] != "out/README.txt" {
			t.Fatalf("writes = %v", dst.writes)
		}
	})

	t.Run("single file into directory", func(t *testing.T) {
		dst := newMemTree("out/")
		if _, err := Copy(ctx, NewIterator(src, []string{"s", "startup-sequence"}, false, uae.ModeNone), NewWriter(dst, []string{"out"}, false), CopyOptions{}); err != nil {
			t.Fatalf("Copy: %v", err)
		}
		if len(dst.writes) != 1 || dst.writes[0] != "out/startup-sequence" {
			t.Fatalf("writes = %v", dst.writes)
		}
	})

	t.Run("collision", func(t *testing.T) {
		dst := newMemTree("out/user")
		_, err := Copy(ctx, NewIterator(src, []string{"s"}, true, uae.ModeNone), NewWriter(dst, []string{"out"}, false), CopyOptions{})
		if !errors.Is(err, ErrCollision) {
			t.Fatalf("Copy = %v, want ErrCollision", err)
		}
		if KindOf(err) != KindCollision || KindOf(errors.New("x")) != KindIO {
			t.Fatalf("KindOf misclassifies")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		dst := newMemTree()
		n := 0
		_, err := Copy(cctx, NewIterator(src, nil, true, uae.ModeNone), NewWriter(dst, nil, false), CopyOptions{Progress: func(Entry) {
			n++
			cancel()
		}})
		if !errors.Is(err, context.Canceled) || n != 1 {
			t.Fatalf("Copy = %v after %d entries", err, n)
		}
	})

	t.Run("source error is fatal", func(t *testing.T) {
		broken := newMemTree("x")
		broken.statFail = map[string]error{"": NewError(KindCorrupt, nil, fmt.Errorf("checksum"))}
		_, err := Copy(ctx, NewIterator(broken, nil, true, uae.ModeNone), NewWriter(newMemTree(), nil, false), CopyOptions{})
		if !errors.Is(err, ErrCorrupt) || !KindOf(err).Fatal() {
			t.Fatalf("Copy = %v, want fatal ErrCorrupt", err)
		}
	})
}
