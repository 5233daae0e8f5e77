package uae

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"amitool/internal/amiga"
)

// MetafileExt is appended to the host name of the file described.
const MetafileExt = ".uaem"

const metaDateLayout = "2006-01-02 15:04:05"

// Metadata is the content of a .uaem sidecar.
type Metadata struct {
	Protection uint32
	Date       time.Time
	Comment    string
}

// MarshalText renders "----rwed 2024-01-31 12:00:00.00 comment".
func (m Metadata) MarshalText() ([]byte, error) {
	t := m.Date.Local()
	hundredths := t.Nanosecond() / int(10*time.Millisecond)
	s := fmt.Sprintf("%s %s.%02d %s\n", amiga.FormatProtection(m.Protection), t.Format(metaDateLayout), hundredths, m.Comment)
	return []byte(s), nil
}

// UnmarshalText parses a sidecar line.
func (m *Metadata) UnmarshalText(b []byte) error {
	s := strings.TrimRight(string(b), "\r\n")
	fields := strings.SplitN(s, " ", 4)
	if len(fields) < 3 {
		return fmt.Errorf("metafile %q: want protection, date and time", s)
	}
	prot, err := amiga.ParseProtection(fields[0])
	if err != nil {
		return err
	}
	stamp := fields[1] + " " + fields[2]
	frac := 0
	if i := strings.IndexByte(stamp, '.'); i >= 0 {
		if _, err := fmt.Sscanf(stamp[i+1:], "%d", &frac); err != nil {
			return fmt.Errorf("metafile time %q: %w", stamp, err)
		}
		stamp = stamp[:i]
	}
	t, err := time.ParseInLocation(metaDateLayout, stamp, time.Local)
	if err != nil {
		return fmt.Errorf("metafile date: %w", err)
	}
	m.Protection = prot
	m.Date = t.Add(time.Duration(frac) * 10 * time.Millisecond)
	m.Comment = ""
	if len(fields) == 4 {
		m.Comment = fields[3]
	}
	return nil
}

// MetafilePath is the sidecar of the host file at path.
func MetafilePath(path string) string { return path + MetafileExt }

// ReadMetafile loads the sidecar of path.
func ReadMetafile(afs afero.Fs, path string) (Metadata, error) {
	var m Metadata
	b, err := afero.ReadFile(afs, MetafilePath(path))
	if err != nil {
		return m, err
	}
	err = m.UnmarshalText(b)
	return m, err
}

// WriteMetafile stores m as the sidecar of path.
func WriteMetafile(afs afero.Fs, path string, m Metadata) error {
	b, err := m.MarshalText()
	if err != nil {
		return err
	}
	return afero.WriteFile(afs, MetafilePath(path), b, 0644)
}
