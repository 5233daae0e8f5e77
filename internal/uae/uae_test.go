package uae

import (
	"testing"
	"time"

	"github.com/spf13/afero"

	"amitool/internal/amiga"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name, host string
	}{
		{"readme", "readme"},
		{"a:b", "a%3Ab"},
		{"what?", "what%3F"},
		{"50%", "50%25"},
		{"trailing.", "trailing%2E"},
		{"CON", "CO%4E"},
		{"aux.info", "au%78.info"},
		{"console", "console"},
		{"españa.country", "españa.country"},
		{"foo.uaem", "foo.uae%6D"},
		{"_UAEFSDB.___", "_UAEFSDB.__%5F"},
	}
	for _, tc := range tests {
		if got := Escape(tc.name); got != tc.host {
			t.Fatalf("Escape(%q) = %q, want %q", tc.name, got, tc.host)
		}
		if got := Unescape(tc.host); got != tc.name {
			t.Fatalf("Unescape(%q) = %q, want %q", tc.host, got, tc.name)
		}
		if NeedsEscape(tc.name) != (tc.name != tc.host) {
			t.Fatalf("NeedsEscape(%q) disagrees with Escape", tc.name)
		}
	}
	if got := Unescape("100%"); got != "100%" {
		t.Fatalf("Unescape of a bare percent = %q", got)
	}
}

func TestUnique(t *testing.T) {
	taken := map[string]bool{"a.txt": true, "a~1.txt": true, "b": true}
	exists := func(s string) bool { return taken[s] }
	for in, want := range map[string]string{"a.txt": "a~2.txt", "b": "b~1", "c": "c"} {
		if got := Unique(in, exists); got != want {
			t.Fatalf("Unique(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeNone, ModeFsDb, ModeMetafile} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Fatalf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMode("xattr"); err == nil {
		t.Fatalf("ParseMode accepted an unknown mode")
	}
	if !IsMetadataFile("_uaefsdb.___") || !IsMetadataFile("x.info.uaem") || IsMetadataFile("x.info") {
		t.Fatalf("IsMetadataFile misclassifies")
	}
}

func TestFsDb(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/dir", 0755)
	db, err := ReadFsDb(fs, "/dir")
	if err != nil || len(db.Records) != 0 {
		t.Fatalf("ReadFsDb of empty dir = %v, %v", db, err)
	}
	db.Put(Record{AmigaName: "CON", HostName: "__uae___con", Protection: amiga.ProtArchive, Comment: "device"})
	db.Put(Record{AmigaName: "a:b", HostName: "a%3Ab"})
	db.Put(Record{AmigaName: "con", HostName: "__uae___con", Comment: "replaced"})
	if err := db.Write(fs, "/dir"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	fi, err := fs.Stat("/dir/" + FsDbName)
	if err != nil || fi.Size() != 2*RecordSize {
		t.Fatalf("database size = %v, %v", fi, err)
	}

	again, err := ReadFsDb(fs, "/dir")
	if err != nil {
		t.Fatalf("ReadFsDb: %v", err)
	}
	r, ok := again.ByHost("__uae___con")
	if !ok || r.AmigaName != "con" || r.Comment != "replaced" || r.Protection != 0 {
		t.Fatalf("ByHost = %+v, %v", r, ok)
	}
	if r, ok := again.ByAmiga("A:B"); !ok || r.HostName != "a%3Ab" {
		t.Fatalf("ByAmiga = %+v, %v", r, ok)
	}

	again.Records[0].Valid = false
	again.Put(Record{AmigaName: "new", HostName: "new"})
	if len(again.Records) != 2 || again.Records[0].AmigaName != "new" {
		t.Fatalf("Put did not reuse the invalid slot: %+v", again.Records)
	}
}

func TestRecordLayout(t *testing.T) {
	b, err := Record{Valid: true, Protection: 0x01020304, AmigaName: "ä", HostName: "x", Comment: "c"}.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(b) != RecordSize {
		t.Fatalf("record is %d bytes", len(b))
	}
	if b[0] != 1 || b[1] != 1 || b[4] != 4 || b[5] != 0xE4 || b[262] != 'x' || b[519] != 'c' {
		t.Fatalf("record bytes = % x", b[:8])
	}
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'n'
	}
	if _, err := (Record{AmigaName: string(long)}).MarshalBinary(); err == nil {
		t.Fatalf("oversized name accepted")
	}
}

func TestMetafile(t *testing.T) {
	fs := afero.NewMemMapFs()
	date := time.Date(2024, 1, 31, 12, 30, 15, 350*int(time.Millisecond), time.Local)
	m := Metadata{Protection: amiga.ProtScript | amiga.ProtDelete, Date: date, Comment: "a note with spaces"}
	if err := WriteMetafile(fs, "/s/startup", m); err != nil {
		t.Fatalf("WriteMetafile: %v", err)
	}
	raw, _ := afero.ReadFile(fs, "/s/startup.uaem")
	if want := "-s--rwe- 2024-01-31 12:30:15.35 a note with spaces\n"; string(raw) != want {
		t.Fatalf("metafile = %q, want %q", raw, want)
	}
	got, err := ReadMetafile(fs, "/s/startup")
	if err != nil {
		t.Fatalf("ReadMetafile: %v", err)
	}
	if got.Protection != m.Protection || got.Comment != m.Comment || !got.Date.Equal(date) {
		t.Fatalf("ReadMetafile = %+v", got)
	}
	var bare Metadata
	if err := bare.UnmarshalText([]byte("----rwed 2020-05-01 00:00:00.00\n")); err != nil || bare.Comment != "" {
		t.Fatalf("UnmarshalText without comment = %+v, %v", bare, err)
	}
	if err := bare.UnmarshalText([]byte("rwed")); err == nil {
		t.Fatalf("UnmarshalText accepted a short line")
	}
}
