package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"amitool/internal/amiga"
	"amitool/internal/entry"
	"amitool/internal/uae"
)

func build(t *testing.T, files map[string]string, order []string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		h := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Date(1994, 3, 1, 12, 0, 0, 0, time.UTC)}
		if name == "c/locked" {
			h.SetMode(0444)
		}
		w, err := zw.CreateHeader(h)
		if err != nil {
			t.Fatalf("CreateHeader %q: %v", name, err)
		}
		if _, err := io.WriteString(w, files[name]); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestWalk(t *testing.T) {
	ctx := context.Background()
	files := map[string]string{
		"s/startup-sequence": "LoadWB\n",
		"c/locked":           "ro",
		"empty/":             "",
		"../escape":          "no",
		"libs\\x.library":    "lib",
		"m\x81sli":           "cereal",
	}
	r := build(t, files, []string{"s/startup-sequence", "c/locked", "empty/", "../escape", "libs\\x.library", "m\x81sli"})
	a, err := Open(r, r.Size(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	it := entry.NewIterator(a, nil, true, uae.ModeNone)
	if err := it.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	var got []string
	for {
		more, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !more {
			break
		}
		e := it.Current()
		p := strings.Join(e.RelativePathComponents, "/")
		if e.IsDir() {
			p += "/"
		}
		got = append(got, p)
	}
	want := "c/ c/locked empty/ libs/ libs/x.library müsli s/ s/startup-sequence"
	if strings.Join(got, " ") != want {
		t.Fatalf("walk = %q\nwant  %q", strings.Join(got, " "), want)
	}

	e, err := a.Stat(ctx, []string{"S", "Startup-Sequence"})
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if e.Size != 7 || e.Date.Year() != 1994 {
		t.Fatalf("entry = %+v", e)
	}
	rc, err := a.Open(ctx, e)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "LoadWB\n" {
		t.Fatalf("content = %q", b)
	}

	locked, _ := a.Stat(ctx, []string{"c", "locked"})
	if locked.Protection != amiga.ProtWrite|amiga.ProtDelete {
		t.Fatalf("locked protection = %#x", locked.Protection)
	}
	if _, err := a.Stat(ctx, []string{"escape"}); !errors.Is(err, entry.ErrPathNotFound) {
		t.Fatalf("escaping entry present: %v", err)
	}
	dir, _ := a.Stat(ctx, []string{"s"})
	if _, err := a.Open(ctx, dir); !errors.Is(err, entry.ErrPathNotFound) {
		t.Fatalf("Open of a directory = %v", err)
	}
}

func TestNotAnArchive(t *testing.T) {
	r := bytes.NewReader([]byte("not a zip file at all"))
	if _, err := Open(r, r.Size(), nil); err == nil {
		t.Fatalf("Open accepted garbage")
	}
}
