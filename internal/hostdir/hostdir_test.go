package hostdir

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"amitool/internal/amiga"
	"amitool/internal/entry"
	"amitool/internal/uae"
)

func newFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/out", 0755); err != nil {
		t.Fatal(err)
	}
	return fs
}

func write(t *testing.T, d *Dir, entries ...entry.Entry) {
	t.Helper()
	ctx := context.Background()
	w := entry.NewWriter(d, nil, false)
	if err := w.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	opts := entry.WriteOptions{CreateIntermediate: true}
	for _, e := range entries {
		rel := strings.Split(e.Name, "/")
		e.Name = rel[len(rel)-1]
		var err error
		if e.IsDir() {
			err = w.CreateDirectory(ctx, e, rel, opts)
		} else {
			err = w.WriteEntry(ctx, e, rel, strings.NewReader("data of "+e.Name), opts)
		}
		if err != nil {
			t.Fatalf("write %v: %v", rel, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func list(t *testing.T, d *Dir, mode uae.Mode) []entry.Entry {
	t.Helper()
	ctx := context.Background()
	it := entry.NewIterator(d, nil, true, mode)
	if err := it.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	var out []entry.Entry
	for {
		more, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !more {
			return out
		}
		out = append(out, it.Current())
	}
}

func TestFsDbRoundTrip(t *testing.T) {
	fs := newFs(t)
	write(t, New(fs, "/out", uae.ModeFsDb, logr.Discard()),
		entry.Entry{Name: "s", Type: entry.TypeDir},
		entry.Entry{Name: "s/CON", Type: entry.TypeFile, Protection: amiga.ProtArchive, Comment: "device name"},
		entry.Entry{Name: "s/a:b", Type: entry.TypeFile},
	)

	for _, p := range []string{"/out/s/CO%4E", "/out/s/a%3Ab", "/out/s/" + uae.FsDbName, "/out/" + uae.FsDbName} {
		if ok, _ := afero.Exists(fs, p); !ok {
			t.Fatalf("%s was not written", p)
		}
	}
	db, err := uae.ReadFsDb(fs, "/out/s")
	if err != nil || len(db.Records) != 2 {
		t.Fatalf("fsdb = %+v, %v", db, err)
	}

	got := list(t, New(fs, "/out", uae.ModeFsDb, logr.Discard()), uae.ModeFsDb)
	var names []string
	for _, e := range got {
		names = append(names, strings.Join(e.RelativePathComponents, "/"))
	}
	if want := []string{"s", "s/CON", "s/a:b"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("entries = %v, want %v", names, want)
	}
	con := got[1]
	if con.Comment != "device name" || con.Protection != amiga.ProtArchive || con.RawPath != "/out/s/CO%4E" {
		t.Fatalf("CON = %+v", con)
	}
}

func TestMetafileRoundTrip(t *testing.T) {
	fs := newFs(t)
	date := time.Date(2023, 6, 1, 8, 0, 0, 0, time.Local)
	write(t, New(fs, "/out", uae.ModeMetafile, logr.Discard()),
		entry.Entry{Name: "Startup", Type: entry.TypeFile, Date: date, Protection: amiga.ProtScript | amiga.ProtWrite, Comment: "boot"},
	)
	raw, err := afero.ReadFile(fs, "/out/Startup.uaem")
	if err != nil || !strings.HasPrefix(string(raw), "-s--r-ed") {
		t.Fatalf("metafile = %q, %v", raw, err)
	}
	fi, _ := fs.Stat("/out/Startup")
	if fi.Mode().Perm()&0200 != 0 {
		t.Fatalf("write protected file is writable on the host: %v", fi.Mode())
	}

	got := list(t, New(fs, "/out", uae.ModeMetafile, logr.Discard()), uae.ModeMetafile)
	if len(got) != 1 {
		t.Fatalf("metafile was listed: %+v", got)
	}
	if e := got[0]; e.Name != "Startup" || e.Comment != "boot" || e.Protection != amiga.ProtScript|amiga.ProtWrite || !e.Date.Equal(date) {
		t.Fatalf("entry = %+v", e)
	}

	// overwriting a protected file works
	write(t, New(fs, "/out", uae.ModeMetafile, logr.Discard()), entry.Entry{Name: "startup", Type: entry.TypeFile})
	b, _ := afero.ReadFile(fs, "/out/Startup")
	if string(b) != "data of startup" {
		t.Fatalf("content = %q", b)
	}
}

func TestUniqueHostNames(t *testing.T) {
	fs := newFs(t)
	afero.WriteFile(fs, "/out/a%3Ab", []byte("host file"), 0644)
	write(t, New(fs, "/out", uae.ModeFsDb, logr.Discard()), entry.Entry{Name: "a:b", Type: entry.TypeFile})

	b, _ := afero.ReadFile(fs, "/out/a%3Ab")
	if string(b) != "host file" {
		t.Fatalf("existing host file overwritten")
	}
	if ok, _ := afero.Exists(fs, "/out/a%3Ab~1"); !ok {
		t.Fatalf("no unique host name was chosen")
	}

	d := New(fs, "/out", uae.ModeFsDb, logr.Discard())
	e, err := d.Stat(context.Background(), []string{"A:B"})
	if err != nil || e.RawPath != "/out/a%3Ab~1" {
		t.Fatalf("Stat = %+v, %v", e, err)
	}
}

func TestMetadataLookalikeNames(t *testing.T) {
	for _, mode := range []uae.Mode{uae.ModeNone, uae.ModeFsDb, uae.ModeMetafile} {
		t.Run(mode.String(), func(t *testing.T) {
			fs := newFs(t)
			write(t, New(fs, "/out", mode, logr.Discard()),
				entry.Entry{Name: "foo", Type: entry.TypeFile},
				entry.Entry{Name: "foo.uaem", Type: entry.TypeFile},
				entry.Entry{Name: "_UAEFSDB.___", Type: entry.TypeFile},
			)
			var names []string
			for _, e := range list(t, New(fs, "/out", mode, logr.Discard()), mode) {
				names = append(names, e.Name)
			}
			if want := []string{"_UAEFSDB.___", "foo", "foo.uaem"}; !reflect.DeepEqual(names, want) {
				t.Fatalf("entries = %v, want %v", names, want)
			}
			b, err := afero.ReadFile(fs, "/out/foo.uae%6D")
			if err != nil || string(b) != "data of foo.uaem" {
				t.Fatalf("foo.uaem content = %q, %v", b, err)
			}
			if mode == uae.ModeFsDb {
				if _, err := uae.ReadFsDb(fs, "/out"); err != nil {
					t.Fatalf("database damaged: %v", err)
				}
			}
		})
	}
}

func TestStatAndOpen(t *testing.T) {
	fs := newFs(t)
	fs.MkdirAll("/out/docs", 0755)
	afero.WriteFile(fs, "/out/docs/Read Me", []byte("hello"), 0644)
	d := New(fs, "/out", uae.ModeNone, logr.Discard())
	ctx := context.Background()

	e, err := d.Stat(ctx, []string{"DOCS", "read me"})
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if e.Name != "Read Me" || e.Size != 5 || !reflect.DeepEqual(e.FullPathComponents, []string{"docs", "Read Me"}) {
		t.Fatalf("entry = %+v", e)
	}
	rc, err := d.Open(ctx, e)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "hello" {
		t.Fatalf("content = %q", b)
	}

	if _, err := d.Stat(ctx, []string{"docs", "nope"}); !errors.Is(err, entry.ErrPathNotFound) {
		t.Fatalf("Stat missing = %v", err)
	}
	if _, err := d.Stat(ctx, []string{"docs", "Read Me", "x"}); !errors.Is(err, entry.ErrPathNotFound) {
		t.Fatalf("Stat below a file = %v", err)
	}
	err = d.WriteFile(ctx, []string{"docs", "link"}, entry.Entry{Name: "link", Type: entry.TypeLinkFile}, nil)
	if !errors.Is(err, entry.ErrUnsupported) {
		t.Fatalf("hard link = %v, want ErrUnsupported", err)
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		in    string
		root  string
		comps []string
	}{
		{"/home/amiga/wb", "/", []string{"home", "amiga", "wb"}},
		{"/", "/", nil},
		{"work/disk", ".", []string{"work", "disk"}},
	}
	for _, tc := range tests {
		root, comps := Split(tc.in)
		if root != tc.root || !reflect.DeepEqual(comps, tc.comps) {
			t.Fatalf("Split(%q) = %q, %v", tc.in, root, comps)
		}
	}
}
