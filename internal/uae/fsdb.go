package uae

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/go-restruct/restruct"
	"github.com/spf13/afero"

	"amitool/internal/amiga"
)

// FsDbName is the per-directory database file.
const FsDbName = "_UAEFSDB.___"

// RecordSize of a version 1 database record.
const RecordSize = 600

const nameField = 257

type fsdbRecord struct {
	Valid   uint8
	Mode    uint32
	AName   [nameField]byte
	NName   [nameField]byte
	Comment [amiga.MaxCommentLength + 2]byte
}

// Record maps an Amiga name to the host name that stores it.
type Record struct {
	Valid      bool
	Protection uint32
	AmigaName  string
	HostName   string
	Comment    string
}

func cstring(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}

// MarshalBinary encodes the record in its 600-byte form. Amiga name and
// comment are ISO-8859-1, the host name UTF-8.
func (r Record) MarshalBinary() ([]byte, error) {
	var raw fsdbRecord
	if r.Valid {
		raw.Valid = 1
	}
	raw.Mode = r.Protection
	aname, err := amiga.EncodeName(r.AmigaName)
	if err != nil {
		return nil, err
	}
	comment, err := amiga.EncodeName(r.Comment)
	if err != nil {
		return nil, err
	}
	if len(aname) >= nameField || len(r.HostName) >= nameField || len(comment) > amiga.MaxCommentLength {
		return nil, fmt.Errorf("fsdb record for %q: field too long", r.AmigaName)
	}
	copy(raw.AName[:], aname)
	copy(raw.NName[:], r.HostName)
	copy(raw.Comment[:], comment)
	return restruct.Pack(binary.BigEndian, &raw)
}

// UnmarshalBinary decodes a 600-byte record.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("fsdb record of %d bytes, want %d", len(b), RecordSize)
	}
	var raw fsdbRecord
	if err := restruct.Unpack(b[:RecordSize], binary.BigEndian, &raw); err != nil {
		return err
	}
	*r = Record{
		Valid:      raw.Valid != 0,
		Protection: raw.Mode,
		AmigaName:  amiga.DecodeName(cstring(raw.AName[:])),
		HostName:   string(cstring(raw.NName[:])),
		Comment:    amiga.DecodeName(cstring(raw.Comment[:])),
	}
	return nil
}

// FsDb is the database of one directory.
type FsDb struct {
	Records []Record
}

// ReadFsDb loads the database of dir. A missing file is an empty database.
func ReadFsDb(afs afero.Fs, dir string) (*FsDb, error) {
	b, err := afero.ReadFile(afs, filepath.Join(dir, FsDbName))
	if errors.Is(err, fs.ErrNotExist) {
		return &FsDb{}, nil
	}
	if err != nil {
		return nil, err
	}
	db := &FsDb{}
	for off := 0; off+RecordSize <= len(b); off += RecordSize {
		var r Record
		if err := r.UnmarshalBinary(b[off:]); err != nil {
			return nil, fmt.Errorf("%s record %d: %w", FsDbName, off/RecordSize, err)
		}
		db.Records = append(db.Records, r)
	}
	return db, nil
}

// ByHost returns the valid record stored under a host name.
func (db *FsDb) ByHost(host string) (Record, bool) {
	for _, r := range db.Records {
		if r.Valid && r.HostName == host {
			return r, true
		}
	}
	return Record{}, false
}

// ByAmiga returns the valid record of an Amiga name, ignoring case.
func (db *FsDb) ByAmiga(name string) (Record, bool) {
	for _, r := range db.Records {
		if r.Valid && strings.EqualFold(r.AmigaName, name) {
			return r, true
		}
	}
	return Record{}, false
}

// Put replaces the record with the same Amiga name in place, reuses an
// invalid slot, or appends.
func (db *FsDb) Put(r Record) {
	r.Valid = true
	free := -1
	for i, old := range db.Records {
		if old.Valid && strings.EqualFold(old.AmigaName, r.AmigaName) {
			db.Records[i] = r
			return
		}
		if !old.Valid && free < 0 {
			free = i
		}
	}
	if free >= 0 {
		db.Records[free] = r
		return
	}
	db.Records = append(db.Records, r)
}

// Write stores the database in dir.
func (db *FsDb) Write(afs afero.Fs, dir string) error {
	var buf bytes.Buffer
	for _, r := range db.Records {
		b, err := r.MarshalBinary()
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return afero.WriteFile(afs, filepath.Join(dir, FsDbName), buf.Bytes(), 0644)
}
