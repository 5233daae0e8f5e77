package main

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"amitool/internal/amiga"
	"amitool/internal/entry"
	"amitool/internal/ffs"
	"amitool/internal/media"
	"amitool/internal/uae"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"880k", 880 * 1024},
		{" 1.44M ", 1509949},
		{"2g", 2 << 30},
		{"100b", 100},
	}
	for _, tc := range tests {
		got, err := parseSize(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("parseSize(%q) = %d, %v, want %d", tc.in, got, err, tc.want)
		}
	}
	for _, bad := range []string{"", "k", "ten"} {
		if _, err := parseSize(bad); err == nil {
			t.Fatalf("parseSize(%q) accepted", bad)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig(filepath.Join(dir, "missing.yaml"), false)
	if err != nil {
		t.Fatalf("missing default config: %v", err)
	}
	if cfg.UAEMetadata != "none" || cfg.LayerBlockSize != 512 || cfg.CopyChunkSize != media.DefaultChunkSize || cfg.Logs.MaxSizeMB != 25 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if _, err := loadConfig(filepath.Join(dir, "missing.yaml"), true); err == nil {
		t.Fatalf("missing explicit config accepted")
	}

	path := filepath.Join(dir, "amitool.yaml")
	os.WriteFile(path, []byte("logs:\n  directory: logs\n  maxBackups: 2\nuaeMetadata: UAEFSDB\nlayerBlockSize: 4096\n"), 0o644)
	cfg, err = loadConfig(path, true)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Logs.Directory != filepath.Join(dir, "logs") || cfg.Logs.MaxBackups != 2 || cfg.LayerBlockSize != 4096 {
		t.Fatalf("config = %+v", cfg)
	}
	a := &app{cfg: cfg}
	if m, err := a.uaeMode(""); err != nil || m != uae.ModeFsDb {
		t.Fatalf("uaeMode from config = %v, %v", m, err)
	}
	if m, err := a.uaeMode("uaemetafile"); err != nil || m != uae.ModeMetafile {
		t.Fatalf("uaeMode from flag = %v, %v", m, err)
	}

	for _, bad := range []string{"layerBlockSize: 1000\n", "uaeMetadata: xattr\n", "logs: [\n"} {
		os.WriteFile(path, []byte(bad), 0o644)
		if _, err := loadConfig(path, true); err == nil {
			t.Fatalf("config %q accepted", bad)
		}
	}
}

func newApp() *app {
	return &app{
		fs:    afero.NewOsFs(),
		log:   logr.Discard(),
		types: media.NewPartitionTypes(),
		cfg:   config{LayerBlockSize: 512, CopyChunkSize: media.DefaultChunkSize},
	}
}

func copyAll(t *testing.T, a *app, src, dst, overlay string) entry.Stats {
	t.Helper()
	ctx := context.Background()
	s, err := a.openContainer(src, false, "", uae.ModeNone)
	if err != nil {
		t.Fatalf("open %s: %v", src, err)
	}
	defer s.Close()
	d, err := a.openContainer(dst, true, overlay, uae.ModeNone)
	if err != nil {
		t.Fatalf("open %s: %v", dst, err)
	}
	w := entry.NewWriter(d.dst, d.path, false)
	st, err := entry.Copy(ctx, entry.NewIterator(s.src, s.path, true, uae.ModeNone), w, entry.CopyOptions{})
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		t.Fatalf("copy %s -> %s: %v", src, dst, err)
	}
	return st
}

func exists(t *testing.T, a *app, p, overlay string) bool {
	t.Helper()
	c, err := a.openContainer(p, true, overlay, uae.ModeNone)
	if err != nil {
		t.Fatalf("open %s: %v", p, err)
	}
	defer c.Close()
	_, err = c.src.Stat(context.Background(), c.path)
	if err != nil && !errors.Is(err, entry.ErrPathNotFound) {
		t.Fatalf("Stat %s: %v", p, err)
	}
	return err == nil
}

func TestCopyThroughOverlay(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "src", "s"), 0o755)
	os.WriteFile(filepath.Join(dir, "src", "s", "startup-sequence"), []byte("LoadWB\n"), 0o644)

	adf := filepath.Join(dir, "work.adf")
	m, err := media.Create(adf, 901120)
	if err != nil {
		t.Fatal(err)
	}
	if err := ffs.Format(m, m.Size(), ffs.FormatOptions{DosType: amiga.DOS3, Name: "Work"}); err != nil {
		t.Fatal(err)
	}
	m.Close()

	a := newApp()
	overlay := filepath.Join(dir, "work.layr")
	st := copyAll(t, a, filepath.Join(dir, "src"), adf, overlay)
	if st.Files != 1 || st.Dirs != 1 {
		t.Fatalf("stats = %+v", st)
	}

	target := filepath.Join(adf, "s", "startup-sequence")
	if exists(t, a, target, "") {
		t.Fatalf("base written before flush")
	}
	if !exists(t, a, target, overlay) {
		t.Fatalf("overlay does not hold the copy")
	}

	base, err := media.Open(adf, true)
	if err != nil {
		t.Fatal(err)
	}
	lm, err := a.openLayered(base, overlay)
	if err != nil {
		t.Fatalf("openLayered: %v", err)
	}
	if err := lm.FlushLayer(context.Background(), nil); err != nil {
		t.Fatalf("FlushLayer: %v", err)
	}
	lm.Close()
	if !exists(t, a, target, "") {
		t.Fatalf("flushed base lacks the copy")
	}
}

func TestContainerKinds(t *testing.T) {
	dir := t.TempDir()
	zp := filepath.Join(dir, "pack.zip")
	f, _ := os.Create(zp)
	zw := zip.NewWriter(f)
	w, _ := zw.Create("libs/x.library")
	w.Write([]byte("lib"))
	zw.Close()
	f.Close()

	a := newApp()
	c, err := a.openContainer(filepath.Join(zp, "libs"), false, "", uae.ModeNone)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if c.kind != "zip archive" || len(c.path) != 1 || c.path[0] != "libs" || c.dst != nil {
		t.Fatalf("zip container = %+v", c)
	}
	c.Close()
	if _, err := a.openContainer(zp, true, "", uae.ModeNone); err == nil {
		t.Fatalf("zip opened for writing")
	}

	c, err = a.openContainer(filepath.Join(dir, "nothing", "here"), true, "", uae.ModeNone)
	if err != nil || c.kind != "host directory" {
		t.Fatalf("host path = %+v, %v", c, err)
	}

	blank := filepath.Join(dir, "blank.img")
	bm, _ := media.Create(blank, 64*1024)
	bm.Close()
	if _, err := a.openContainer(blank, false, "", uae.ModeNone); err == nil {
		t.Fatalf("blank image mounted")
	}
}
