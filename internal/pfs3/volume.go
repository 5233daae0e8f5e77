package pfs3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"amitool/internal/amiga"
	"amitool/internal/blocks"
)

var (
	ErrNotFound   = errors.New("entry not found")
	ErrNotDir     = errors.New("not a directory")
	ErrNotFile    = errors.New("not a file")
	ErrOutOfRange = errors.New("block outside volume")
)

// Options control how a volume is mounted.
type Options struct {
	// SectorSize in bytes, 512 when zero.
	SectorSize int
	// CacheSize is the number of reserved blocks kept in memory, 64 when
	// zero.
	CacheSize int
	// IgnoreErrors skips undecodable directory blocks with a log line.
	IgnoreErrors bool
	Logger       logr.Logger
}

// Volume is a mounted, read-only PFS3 volume.
type Volume struct {
	r       io.ReaderAt
	opts    Options
	log     logr.Logger
	sector  int
	size    int64
	dosType amiga.DosType
	root    *RootBlock
	ext     *RootExtension
	rblk    int
	cluster uint32
	cache   *blockCache
	logs    []string
}

// Mount reads the boot and root blocks of a volume of size bytes.
func Mount(r io.ReaderAt, size int64, opts Options) (*Volume, error) {
	if opts.SectorSize == 0 {
		opts.SectorSize = 512
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 64
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	v := &Volume{r: r, opts: opts, log: opts.Logger, sector: opts.SectorSize, size: size, cache: newBlockCache(opts.CacheSize)}

	boot := make([]byte, 4)
	if _, err := r.ReadAt(boot, 0); err != nil {
		return nil, fmt.Errorf("read boot block: %w", err)
	}
	v.dosType = amiga.ParseDosType(boot)
	if !v.dosType.IsPFS() {
		return nil, fmt.Errorf("%w: dos type %s", ErrNotPFS, v.dosType)
	}
	buf, err := v.read(RootSector, RootBlockSize)
	if err != nil {
		return nil, fmt.Errorf("root block: %w", err)
	}
	if v.root, err = DecodeRootBlock(buf); err != nil {
		return nil, err
	}
	v.rblk = int(v.root.ReservedBlkSize)
	if v.rblk == 0 {
		v.rblk = 1024
	}
	if v.rblk%v.sector != 0 {
		return nil, fmt.Errorf("%w: reserved block size %d", ErrInvalidBlock, v.rblk)
	}
	v.cluster = uint32(v.rblk / v.sector)
	if v.root.Options&ModeExtension != 0 && v.root.Extension != 0 {
		buf, err := v.reserved(v.root.Extension)
		if err != nil {
			return nil, fmt.Errorf("root extension: %w", err)
		}
		if v.ext, err = DecodeRootExtension(buf); err != nil {
			return nil, err
		}
	}
	v.log.V(1).Info("mounted pfs3 volume", "name", v.Name(), "dosType", v.dosType.String(), "options", v.root.Options, "reservedBlockSize", v.rblk)
	return v, nil
}

// DosType of the volume.
func (v *Volume) DosType() amiga.DosType { return v.dosType }

// Name is the volume label.
func (v *Volume) Name() string { return v.root.Name() }

// Root returns the decoded root block.
func (v *Volume) Root() *RootBlock { return v.root }

// Extension returns the root block extension, if the volume has one.
func (v *Volume) Extension() *RootExtension { return v.ext }

// ReservedBlockSize is the size of anode, index and directory blocks.
func (v *Volume) ReservedBlockSize() int { return v.rblk }

// Logs returns the non-fatal problems met so far.
func (v *Volume) Logs() []string { return v.logs }

func (v *Volume) warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	v.logs = append(v.logs, msg)
	v.log.Info("volume warning", "msg", msg)
}

func (v *Volume) read(sector uint32, n int) ([]byte, error) {
	off := int64(sector) * int64(v.sector)
	if off+int64(n) > v.size {
		return nil, fmt.Errorf("%w: sector %d", ErrOutOfRange, sector)
	}
	buf := make([]byte, n)
	if _, err := v.r.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read sector %d: %w", sector, err)
	}
	return buf, nil
}

// reserved reads a reserved block through the cache.
func (v *Volume) reserved(sector uint32) ([]byte, error) {
	if buf, ok := v.cache.get(sector); ok {
		return buf, nil
	}
	buf, err := v.read(sector, v.rblk)
	if err != nil {
		return nil, err
	}
	v.cache.put(sector, buf)
	return buf, nil
}

func (v *Volume) indexBlock(nr int) (uint32, error) {
	if v.root.Options&ModeSuperIndex != 0 && v.ext != nil {
		inpb := IndexPerBlock(v.rblk)
		s := nr / inpb
		if s >= len(v.ext.SuperIndex) || v.ext.SuperIndex[s] == 0 {
			return 0, fmt.Errorf("%w: no super index block %d", ErrInvalidBlock, s)
		}
		buf, err := v.reserved(v.ext.SuperIndex[s])
		if err != nil {
			return 0, err
		}
		sb, err := DecodeIndexBlock(buf, IDSuper)
		if err != nil {
			return 0, fmt.Errorf("super index block %d: %w", v.ext.SuperIndex[s], err)
		}
		return sb.Index[nr%inpb], nil
	}
	if nr >= len(v.root.IndexBlocks) {
		return 0, fmt.Errorf("%w: index block %d beyond root table", ErrInvalidBlock, nr)
	}
	return v.root.IndexBlocks[nr], nil
}

// Anode resolves an anode number through the index blocks.
func (v *Volume) Anode(nr uint32) (Anode, error) {
	var seq, off int
	if v.root.Options&ModeSplitAnodes != 0 {
		seq, off = int(nr>>16), int(nr&0xFFFF)
	} else {
		per := AnodesPerBlock(v.rblk)
		seq, off = int(nr)/per, int(nr)%per
	}
	inpb := IndexPerBlock(v.rblk)
	ib, err := v.indexBlock(seq / inpb)
	if err != nil {
		return Anode{}, fmt.Errorf("anode %d: %w", nr, err)
	}
	if ib == 0 {
		return Anode{}, fmt.Errorf("%w: anode %d has no index block", ErrInvalidBlock, nr)
	}
	buf, err := v.reserved(ib)
	if err != nil {
		return Anode{}, fmt.Errorf("anode %d: %w", nr, err)
	}
	idx, err := DecodeIndexBlock(buf, IDIndex)
	if err != nil {
		return Anode{}, fmt.Errorf("anode %d index block %d: %w", nr, ib, err)
	}
	ab := idx.Index[seq%inpb]
	if ab == 0 {
		return Anode{}, fmt.Errorf("%w: anode %d has no anode block", ErrInvalidBlock, nr)
	}
	if buf, err = v.reserved(ab); err != nil {
		return Anode{}, fmt.Errorf("anode %d: %w", nr, err)
	}
	blk, err := DecodeAnodeBlock(buf)
	if err != nil {
		return Anode{}, fmt.Errorf("anode %d block %d: %w", nr, ab, err)
	}
	if off >= len(blk.Nodes) {
		return Anode{}, fmt.Errorf("%w: anode %d offset %d", ErrInvalidBlock, nr, off)
	}
	return blk.Nodes[off], nil
}

// chain returns the runs of anode nr and its successors.
func (v *Volume) chain(nr uint32) ([]Anode, error) {
	var out []Anode
	seen := map[uint32]bool{}
	for nr != 0 {
		if seen[nr] {
			return nil, fmt.Errorf("%w: anode chain loops at %d", ErrInvalidBlock, nr)
		}
		seen[nr] = true
		a, err := v.Anode(nr)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
		nr = a.Next
	}
	return out, nil
}

// Entry is a decoded directory entry.
type Entry struct {
	Anode   uint32
	Parent  uint32
	Kind    blocks.Kind
	Name    string
	Size    uint32
	Access  uint32
	Comment string
	Date    time.Time
	// Path holds the names from the listed directory down to this entry.
	Path []string
}

// IsDir reports whether the entry holds other entries.
func (e Entry) IsDir() bool { return e.Kind == blocks.KindDir || e.Kind == blocks.KindRoot }

func kindOf(t int8) blocks.Kind {
	switch t {
	case TypeDir:
		return blocks.KindDir
	case TypeFile, TypeRolloverFile:
		return blocks.KindFile
	case TypeSoftLink:
		return blocks.KindSoftLink
	case TypeLinkDir:
		return blocks.KindLinkDir
	case TypeLinkFile:
		return blocks.KindLinkFile
	}
	return blocks.KindUnknown
}

func (v *Volume) dirBlocks(dir uint32) ([]*DirBlock, error) {
	runs, err := v.chain(dir)
	if err != nil {
		return nil, err
	}
	var out []*DirBlock
	for _, a := range runs {
		for i := uint32(0); i < a.ClusterSize; i++ {
			n := a.BlockNr + i*v.cluster
			buf, err := v.reserved(n)
			if err != nil {
				return nil, err
			}
			d, err := DecodeDirBlock(buf)
			if err != nil {
				if v.opts.IgnoreErrors && d != nil {
					v.warnf("directory block %d: %v", n, err)
				} else {
					return nil, fmt.Errorf("directory block %d: %w", n, err)
				}
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// Entries lists the directory with anode dir. With recursive set each
// subdirectory's entries directly follow the subdirectory.
func (v *Volume) Entries(ctx context.Context, dir uint32, recursive bool) ([]Entry, error) {
	var out []Entry
	err := v.walk(ctx, dir, nil, recursive, map[uint32]bool{}, func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

func (v *Volume) walk(ctx context.Context, dir uint32, path []string, recursive bool, seen map[uint32]bool, fn func(Entry) error) error {
	if seen[dir] {
		v.warnf("directory anode %d already visited", dir)
		return nil
	}
	seen[dir] = true
	dbs, err := v.dirBlocks(dir)
	if err != nil {
		return err
	}
	for _, d := range dbs {
		for _, de := range d.Entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			e := Entry{
				Anode:   de.Anode,
				Parent:  dir,
				Kind:    kindOf(de.Type),
				Name:    de.Name,
				Size:    de.Size,
				Access:  uint32(de.Protection),
				Comment: de.Comment,
				Date:    de.Date.Time(),
				Path:    append(append([]string(nil), path...), de.Name),
			}
			if e.Kind == blocks.KindUnknown {
				v.warnf("directory anode %d: %q has unknown type %d", dir, de.Name, de.Type)
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
			if recursive && e.Kind == blocks.KindDir {
				if err := v.walk(ctx, e.Anode, e.Path, true, seen, fn); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Lookup finds name in the directory with anode dir, case-insensitively.
func (v *Volume) Lookup(dir uint32, name string) (Entry, error) {
	dbs, err := v.dirBlocks(dir)
	if err != nil {
		return Entry{}, err
	}
	for _, d := range dbs {
		for _, de := range d.Entries {
			if strings.EqualFold(de.Name, name) {
				return Entry{
					Anode: de.Anode, Parent: dir, Kind: kindOf(de.Type), Name: de.Name, Size: de.Size,
					Access: uint32(de.Protection), Comment: de.Comment, Date: de.Date.Time(),
					Path: []string{de.Name},
				}, nil
			}
		}
	}
	return Entry{}, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Resolve walks path from the root directory.
func (v *Volume) Resolve(path []string) (Entry, error) {
	cur := Entry{Anode: RootDirAnode, Kind: blocks.KindRoot, Name: v.Name(), Date: v.root.Created().Time()}
	for i, name := range path {
		if !cur.IsDir() {
			return Entry{}, fmt.Errorf("%s: %w", strings.Join(path[:i], "/"), ErrNotDir)
		}
		next, err := v.Lookup(cur.Anode, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Entry{}, fmt.Errorf("%s: %w", strings.Join(path[:i+1], "/"), ErrNotFound)
			}
			return Entry{}, err
		}
		next.Path = append(append([]string(nil), path[:i]...), next.Name)
		cur = next
	}
	return cur, nil
}

// File reads file data through its anode runs.
type File struct {
	v    *Volume
	runs []Anode
	size int64
	pos  int64
}

// OpenFile opens the file entry e.
func (v *Volume) OpenFile(e Entry) (*File, error) {
	if e.Kind != blocks.KindFile {
		return nil, fmt.Errorf("%s: %w", e.Name, ErrNotFile)
	}
	runs, err := v.chain(e.Anode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	var capacity int64
	for _, r := range runs {
		capacity += int64(r.ClusterSize) * int64(v.sector)
	}
	if capacity < int64(e.Size) {
		return nil, fmt.Errorf("%w: %s has %d bytes of %d allocated", ErrInvalidBlock, e.Name, e.Size, capacity)
	}
	return &File{v: v, runs: runs, size: int64(e.Size)}, nil
}

// Size is the file length in bytes.
func (f *File) Size() int64 { return f.size }

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	base := int64(0)
	for _, r := range f.runs {
		runLen := int64(r.ClusterSize) * int64(f.v.sector)
		for n < len(p) && off < f.size && off < base+runLen {
			want := min(int64(len(p)-n), base+runLen-off, f.size-off)
			pos := int64(r.BlockNr)*int64(f.v.sector) + (off - base)
			if pos+want > f.v.size {
				return n, fmt.Errorf("%w: data at %d", ErrOutOfRange, pos)
			}
			m, err := f.v.r.ReadAt(p[n:n+int(want)], pos)
			n += m
			off += int64(m)
			if err != nil && !errors.Is(err, io.EOF) {
				return n, err
			}
			if m == 0 {
				return n, io.ErrUnexpectedEOF
			}
		}
		base += runLen
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// DeletedEntry is a file recorded in the deldir ring.
type DeletedEntry struct {
	Anode uint32
	Name  string
	Size  uint64
	Date  time.Time
}

// Deleted lists the entries of the deleted-file ring.
func (v *Volume) Deleted() ([]DeletedEntry, error) {
	var sectors []uint32
	if v.ext != nil && v.root.Options&ModeSuperDeldir != 0 {
		for _, n := range v.ext.Deldir {
			if n != 0 {
				sectors = append(sectors, n)
			}
		}
	} else if v.root.Deldir != 0 {
		sectors = append(sectors, v.root.Deldir)
	}
	var out []DeletedEntry
	for _, n := range sectors {
		buf, err := v.reserved(n)
		if err != nil {
			return nil, fmt.Errorf("deldir: %w", err)
		}
		dd, err := DecodeDeldirBlock(buf)
		if err != nil {
			return nil, fmt.Errorf("deldir block %d: %w", n, err)
		}
		for i := range dd.Entries {
			e := &dd.Entries[i]
			out = append(out, DeletedEntry{Anode: e.AnodeNr, Name: e.Name(), Size: e.Size(), Date: e.Date().Time()})
		}
	}
	return out, nil
}
