package uae

import (
	"fmt"
	"strconv"
	"strings"
)

// Characters no common host file system accepts in a name.
const invalidChars = `\/:*?"<>|`

var reserved = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// IsReserved reports Windows device names, with or without an extension.
func IsReserved(name string) bool {
	base := name
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return reserved[strings.ToUpper(base)]
}

func mustEscape(name string, i int, c rune) bool {
	switch {
	case c < 0x20 || c == 0x7F || c == '%':
		return true
	case strings.ContainsRune(invalidChars, c):
		return true
	case i == len(name)-1 && (c == '.' || c == ' '):
		return true
	}
	return false
}

// Escape maps name to a host-safe name, writing every character a host
// cannot store as %XX. Reserved device names get their last character
// escaped as well, as do names that would read back as metadata files.
// The mapping is undone by Unescape.
func Escape(name string) string {
	metadata := IsMetadataFile(name)
	var sb strings.Builder
	for i, c := range name {
		if mustEscape(name, i, c) || (IsReserved(name) && i == reservedEscapeIndex(name)) || (metadata && i == len(name)-1) {
			fmt.Fprintf(&sb, "%%%02X", c)
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// reservedEscapeIndex is the last character of the device part.
func reservedEscapeIndex(name string) int {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return i - 1
	}
	return len(name) - 1
}

// NeedsEscape reports whether Escape changes name.
func NeedsEscape(name string) bool { return Escape(name) != name }

// Unescape reverses Escape. Malformed sequences are kept literally.
func Unescape(host string) string {
	if !strings.Contains(host, "%") {
		return host
	}
	var sb strings.Builder
	for i := 0; i < len(host); i++ {
		if host[i] == '%' && i+2 < len(host) {
			if v, err := strconv.ParseUint(host[i+1:i+3], 16, 8); err == nil {
				sb.WriteRune(rune(v))
				i += 2
				continue
			}
		}
		sb.WriteByte(host[i])
	}
	return sb.String()
}

// Unique returns name, or name with a "~n" suffix when exists reports it
// taken.
func Unique(name string, exists func(string) bool) string {
	if !exists(name) {
		return name
	}
	ext := ""
	base := name
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base, ext = name[:i], name[i:]
	}
	for n := 1; ; n++ {
		c := fmt.Sprintf("%s~%d%s", base, n, ext)
		if !exists(c) {
			return c
		}
	}
}
