package amiga

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// MaxNameLength is the longest file or directory name FFS stores.
const MaxNameLength = 30

// MaxCommentLength is the longest file comment FFS stores.
const MaxCommentLength = 79

// DecodeName converts an on-disk ISO-8859-1 name to a Go string.
func DecodeName(b []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		// every byte maps in ISO-8859-1
		return string(b)
	}
	return string(s)
}

// EncodeName converts a Go string to ISO-8859-1. Characters outside the
// Latin-1 range are rejected.
func EncodeName(s string) ([]byte, error) {
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("name %q is not representable in ISO-8859-1: %w", s, err)
	}
	return b, nil
}
