package amiga

import (
	"fmt"
	"strings"
)

// Protection bits. The low four (RWED) are inverted on disk: a set bit
// denies the operation.
const (
	ProtDelete  uint32 = 1 << 0
	ProtExecute uint32 = 1 << 1
	ProtWrite   uint32 = 1 << 2
	ProtRead    uint32 = 1 << 3
	ProtArchive uint32 = 1 << 4
	ProtPure    uint32 = 1 << 5
	ProtScript  uint32 = 1 << 6
	ProtHold    uint32 = 1 << 7
)

var protLetters = []struct {
	bit      uint32
	letter   byte
	inverted bool
}{
	{ProtHold, 'h', false},
	{ProtScript, 's', false},
	{ProtPure, 'p', false},
	{ProtArchive, 'a', false},
	{ProtRead, 'r', true},
	{ProtWrite, 'w', true},
	{ProtExecute, 'e', true},
	{ProtDelete, 'd', true},
}

// FormatProtection renders bits the way the AmigaDOS List command does,
// e.g. 0 -> "----rwed".
func FormatProtection(bits uint32) string {
	b := make([]byte, len(protLetters))
	for i, p := range protLetters {
		set := bits&p.bit != 0
		if set != p.inverted {
			b[i] = p.letter
		} else {
			b[i] = '-'
		}
	}
	return string(b)
}

// ParseProtection is the inverse of FormatProtection.
func ParseProtection(s string) (uint32, error) {
	if len(s) != len(protLetters) {
		return 0, fmt.Errorf("protection %q: want %d characters", s, len(protLetters))
	}
	var bits uint32
	s = strings.ToLower(s)
	for i, p := range protLetters {
		switch s[i] {
		case p.letter:
			if !p.inverted {
				bits |= p.bit
			}
		case '-':
			if p.inverted {
				bits |= p.bit
			}
		default:
			return 0, fmt.Errorf("protection %q: unexpected %q at %d", s, s[i], i)
		}
	}
	return bits, nil
}
