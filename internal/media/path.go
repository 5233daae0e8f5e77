package media

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// ErrNotMedia reports a path with no image file or device in it.
var ErrNotMedia = errors.New("no media in path")

// Location is a path split into the media holding it, an optional
// partition, and the components inside the file system.
type Location struct {
	Media string
	// Table is "rdb", "mbr" or "gpt" when a partition was selected.
	Table     string
	Partition string
	Path      []string
}

func splitPath(p string) (prefix string, parts []string) {
	if strings.HasPrefix(p, `\\.\`) {
		prefix, p = `\\.\`, p[4:]
	} else if strings.HasPrefix(p, "/") {
		prefix = "/"
	}
	for _, s := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		parts = append(parts, s)
	}
	return prefix, parts
}

// ResolvePath finds the longest prefix of p that is a file or device on
// fs, e.g. "disk.hdf/rdb/dh0/s/startup-sequence" yields media "disk.hdf",
// table "rdb", partition "dh0" and path ["s", "startup-sequence"].
func ResolvePath(fs afero.Fs, p string) (Location, error) {
	prefix, parts := splitPath(p)
	sep := string(os.PathSeparator)
	if prefix == `\\.\` {
		sep = `\`
	}
	for i := len(parts); i > 0; i-- {
		candidate := prefix + strings.Join(parts[:i], sep)
		fi, err := fs.Stat(candidate)
		if err != nil {
			continue
		}
		if fi.IsDir() {
			break
		}
		loc := Location{Media: candidate}
		rest := parts[i:]
		if len(rest) >= 2 {
			switch t := strings.ToLower(rest[0]); t {
			case "rdb", "mbr", "gpt":
				loc.Table, loc.Partition, rest = t, rest[1], rest[2:]
			}
		}
		loc.Path = rest
		return loc, nil
	}
	return Location{}, fmt.Errorf("%w: %s", ErrNotMedia, p)
}
