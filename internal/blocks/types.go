package blocks

import "fmt"

// Primary block types.
const (
	TypeHeader   int32 = 2
	TypeData     int32 = 8
	TypeList     int32 = 16
	TypeDirCache int32 = 33
)

// Secondary block types of header blocks.
const (
	SecTypeRoot     int32 = 1
	SecTypeDir      int32 = 2
	SecTypeSoftLink int32 = 3
	SecTypeLinkDir  int32 = 4
	SecTypeFile     int32 = -3
	SecTypeLinkFile int32 = -4
)

// Kind discriminates decoded blocks by their primary and secondary tags.
type Kind int

const (
	KindUnknown Kind = iota
	KindRoot
	KindDir
	KindFile
	KindLinkFile
	KindLinkDir
	KindSoftLink
	KindFileExt
	KindData
	KindDirCache
)

var kindNames = map[Kind]string{
	KindUnknown:  "unknown",
	KindRoot:     "root",
	KindDir:      "dir",
	KindFile:     "file",
	KindLinkFile: "link-file",
	KindLinkDir:  "link-dir",
	KindSoftLink: "soft-link",
	KindFileExt:  "file-ext",
	KindData:     "data",
	KindDirCache: "dircache",
}

func (k Kind) String() string { return kindNames[k] }

// Classify reads the type tags of buf. Blocks whose tags match no known
// combination return ErrInvalidBlockType.
func Classify(buf []byte) (Kind, error) {
	if err := checkSize(buf); err != nil {
		return KindUnknown, err
	}
	w := words(buf)
	typ := w.i32(0)
	sec := w.i32(w.tail(0x1FC))
	switch typ {
	case TypeHeader:
		switch sec {
		case SecTypeRoot:
			return KindRoot, nil
		case SecTypeDir:
			return KindDir, nil
		case SecTypeFile:
			return KindFile, nil
		case SecTypeLinkFile:
			return KindLinkFile, nil
		case SecTypeLinkDir:
			return KindLinkDir, nil
		case SecTypeSoftLink:
			return KindSoftLink, nil
		}
	case TypeList:
		if sec == SecTypeFile {
			return KindFileExt, nil
		}
	case TypeData:
		return KindData, nil
	case TypeDirCache:
		return KindDirCache, nil
	}
	return KindUnknown, fmt.Errorf("%w: type %d secondary %d", ErrInvalidBlockType, typ, sec)
}

// HashTableSize returns the number of hash slots of a block of the given
// size: 72 for 512-byte blocks.
func HashTableSize(blockSize int) int {
	return blockSize/4 - 56
}
