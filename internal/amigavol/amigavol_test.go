package amigavol

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"amitool/internal/amiga"
	"amitool/internal/entry"
	"amitool/internal/ffs"
	"amitool/internal/hostdir"
	"amitool/internal/media"
	"amitool/internal/uae"
)

const adfSize = 901120

func newVolume(t *testing.T, dt amiga.DosType) (media.Bytes, *Volume) {
	t.Helper()
	img := make(media.Bytes, adfSize)
	if err := ffs.Format(img, adfSize, ffs.FormatOptions{DosType: dt, Name: "Work"}); err != nil {
		t.Fatalf("Format: %v", err)
	}
	v, err := Mount(img, adfSize, Options{})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return img, v
}

func readAll(t *testing.T, v *Volume, path ...string) []byte {
	t.Helper()
	ctx := context.Background()
	e, err := v.Stat(ctx, path)
	if err != nil {
		t.Fatalf("Stat %v: %v", path, err)
	}
	rc, err := v.Open(ctx, e)
	if err != nil {
		t.Fatalf("Open %v: %v", path, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %v: %v", path, err)
	}
	return b
}

func TestCopyHostTreeToVolume(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/src/s", 0755)
	big := bytes.Repeat([]byte("0123456789"), 700)
	afero.WriteFile(fs, "/src/s/startup-sequence", []byte("echo hi\n"), 0644)
	afero.WriteFile(fs, "/src/readme", big, 0644)
	afero.WriteFile(fs, "/src/a name far too long for the volume", []byte("x"), 0644)

	img, v := newVolume(t, amiga.DOS3)
	src := hostdir.New(fs, "/src", uae.ModeNone, logr.Discard())
	st, err := entry.Copy(ctx, entry.NewIterator(src, nil, true, uae.ModeNone), entry.NewWriter(v, nil, false), entry.CopyOptions{})
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if st.Dirs != 1 || st.Files != 2 || st.Skipped != 1 || st.Bytes != int64(len(big)+8) {
		t.Fatalf("stats = %+v", st)
	}

	again, err := Mount(img, adfSize, Options{})
	if err != nil {
		t.Fatalf("remount: %v", err)
	}
	if got := readAll(t, again, "README"); !bytes.Equal(got, big) {
		t.Fatalf("readme: %d bytes", len(got))
	}
	if got := readAll(t, again, "s", "Startup-Sequence"); string(got) != "echo hi\n" {
		t.Fatalf("startup-sequence = %q", got)
	}

	_, err = entry.Copy(ctx, entry.NewIterator(src, []string{"readme"}, false, uae.ModeNone), entry.NewWriter(again, nil, false), entry.CopyOptions{})
	if !errors.Is(err, entry.ErrCollision) {
		t.Fatalf("copy onto an existing file = %v, want ErrCollision", err)
	}
}

func TestVolumeToHost(t *testing.T) {
	ctx := context.Background()
	_, v := newVolume(t, amiga.DOS1)
	if err := v.Mkdir(ctx, []string{"Devs"}, entry.Entry{Name: "Devs", Type: entry.TypeDir}); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	e := entry.Entry{Name: "aux", Type: entry.TypeFile, Comment: "serial", Protection: amiga.ProtArchive}
	if err := v.WriteFile(ctx, []string{"Devs", "aux"}, e, bytes.NewReader([]byte("handler"))); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs := afero.NewMemMapFs()
	fs.MkdirAll("/backup", 0755)
	dst := hostdir.New(fs, "/backup", uae.ModeFsDb, logr.Discard())
	w := entry.NewWriter(dst, nil, false)
	if _, err := entry.Copy(ctx, entry.NewIterator(v, []string{"devs"}, true, uae.ModeFsDb), w, entry.CopyOptions{}); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b, err := afero.ReadFile(fs, "/backup/au%78")
	if err != nil || string(b) != "handler" {
		t.Fatalf("host file = %q, %v", b, err)
	}
	db, _ := uae.ReadFsDb(fs, "/backup")
	if r, ok := db.ByAmiga("aux"); !ok || r.Comment != "serial" || r.Protection != amiga.ProtArchive {
		t.Fatalf("fsdb record = %+v, %v", r, ok)
	}
}

type readOnly struct{ r io.ReaderAt }

func (r readOnly) ReadAt(p []byte, off int64) (int, error) { return r.r.ReadAt(p, off) }

func TestErrors(t *testing.T) {
	ctx := context.Background()
	img, v := newVolume(t, amiga.DOS3)
	if err := v.WriteFile(ctx, []string{"f"}, entry.Entry{Name: "f", Type: entry.TypeFile}, nil); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := v.Stat(ctx, []string{"nope"}); !errors.Is(err, entry.ErrPathNotFound) {
		t.Fatalf("Stat missing = %v", err)
	}
	if _, err := v.Stat(ctx, []string{"f", "x"}); !errors.Is(err, entry.ErrPathNotFound) {
		t.Fatalf("Stat below a file = %v", err)
	}
	link := entry.Entry{Name: "l", Type: entry.TypeLinkSoft, LinkTarget: "f"}
	if err := v.WriteFile(ctx, []string{"l"}, link, nil); !errors.Is(err, entry.ErrUnsupported) {
		t.Fatalf("soft link = %v, want ErrUnsupported", err)
	}

	ro, err := Mount(readOnly{img}, adfSize, Options{})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if !ro.ReadOnly() {
		t.Fatalf("volume without a writer is writable")
	}
	if err := ro.Mkdir(ctx, []string{"d"}, entry.Entry{Name: "d", Type: entry.TypeDir}); !errors.Is(err, entry.ErrUnsupported) {
		t.Fatalf("Mkdir on read-only volume = %v", err)
	}

	_, dc := newVolume(t, amiga.DOS5)
	if !dc.ReadOnly() {
		t.Fatalf("dircache volume is writable")
	}

	if _, err := Mount(make(media.Bytes, adfSize), adfSize, Options{}); !errors.Is(err, ErrUnknownFileSystem) {
		t.Fatalf("Mount of a blank image = %v", err)
	}
	if v.Name() != "Work" || v.DosType() != amiga.DOS3 || v.FFS() == nil || v.PFS3() != nil {
		t.Fatalf("volume %q %s", v.Name(), v.DosType())
	}
}
