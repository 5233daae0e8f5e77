// Package uae keeps the Amiga-only parts of a file (protection bits,
// comment, a name the host cannot store) next to it on a host file
// system, in the formats UAE emulators read: the per-directory
// _UAEFSDB.___ database and per-file .uaem sidecars.
package uae

import (
	"fmt"
	"strings"
)

// Mode selects how metadata is kept.
type Mode int

const (
	ModeNone Mode = iota
	ModeFsDb
	ModeMetafile
)

var modeNames = []string{"none", "uaefsdb", "uaemetafile"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the names printed by String, ignoring case.
func ParseMode(s string) (Mode, error) {
	for i, n := range modeNames {
		if strings.EqualFold(s, n) {
			return Mode(i), nil
		}
	}
	return ModeNone, fmt.Errorf("unknown uae metadata mode %q (want none, uaefsdb or uaemetafile)", s)
}

// IsMetadataFile reports names that hold metadata rather than content.
func IsMetadataFile(name string) bool {
	return strings.EqualFold(name, FsDbName) || strings.HasSuffix(strings.ToLower(name), MetafileExt)
}
