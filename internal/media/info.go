package media

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"amitool/internal/amiga"
	"amitool/internal/rdb"
)

// TableStyle identifies the partition table of a disk.
type TableStyle string

const (
	StyleNone TableStyle = "none"
	StyleMBR  TableStyle = "MBR"
	StyleGPT  TableStyle = "GPT"
	StyleRDB  TableStyle = "RDB"
)

const sectorSize = 512

// ErrNoPartition reports a partition selector that matches nothing.
var ErrNoPartition = errors.New("partition not found")

// Partition describes one partition. Offset and Size are in bytes.
type Partition struct {
	Number   int
	Name     string
	Type     string
	Offset   int64
	Size     int64
	DosType  amiga.DosType
	FileSys  string
	Bootable bool
	// BlockSize and Reserved come from the RDB environment; zero elsewhere.
	BlockSize int
	Reserved  int
}

// DiskInfo is the partition layout of a disk.
type DiskInfo struct {
	Style      TableStyle
	Size       int64
	Partitions []Partition
	RDB        *rdb.Table
}

// ReadDiskInfo reads the partition table of m. A disk without any table
// is reported as StyleNone with a single partition spanning the disk.
func ReadDiskInfo(m Media, types *PartitionTypes) (*DiskInfo, error) {
	if types == nil {
		types = NewPartitionTypes()
	}
	info := &DiskInfo{Size: m.Size()}

	t, err := rdb.Scan(m)
	switch {
	case err == nil:
		info.Style = StyleRDB
		info.RDB = t
		for i, p := range t.Partitions {
			dt := p.DosType()
			info.Partitions = append(info.Partitions, Partition{
				Number:    i + 1,
				Name:      p.Name(),
				Type:      types.DosType(dt),
				Offset:    p.Offset(),
				Size:      p.Size(),
				DosType:   dt,
				FileSys:   dt.Name(),
				Bootable:  p.Bootable(),
				BlockSize: p.BlockSize(),
				Reserved:  p.Reserved(),
			})
		}
		return info, nil
	case !errors.Is(err, rdb.ErrNotFound):
		return nil, fmt.Errorf("rigid disk block: %w", err)
	}

	table, err := partition.Read(Seekable(m), sectorSize, sectorSize)
	if err != nil {
		info.Style = StyleNone
		p := Partition{Number: 1, Size: m.Size()}
		probe(m, &p, types)
		info.Partitions = append(info.Partitions, p)
		return info, nil
	}
	switch tt := table.(type) {
	case *gpt.Table:
		info.Style = StyleGPT
		for i, gp := range tt.Partitions {
			if gp == nil || gp.Type == gpt.Unused {
				continue
			}
			p := Partition{
				Number: i + 1,
				Name:   gp.Name,
				Type:   types.GPT(string(gp.Type)),
				Offset: int64(gp.Start) * sectorSize,
				Size:   int64(gp.End-gp.Start+1) * sectorSize,
			}
			probe(m, &p, nil)
			info.Partitions = append(info.Partitions, p)
		}
	case *mbr.Table:
		info.Style = StyleMBR
		for i, mp := range tt.Partitions {
			if mp == nil || mp.Type == mbr.Empty {
				continue
			}
			p := Partition{
				Number:   i + 1,
				Type:     types.MBR(byte(mp.Type)),
				Offset:   int64(mp.Start) * sectorSize,
				Size:     int64(mp.Size) * sectorSize,
				Bootable: mp.Bootable,
			}
			probe(m, &p, nil)
			info.Partitions = append(info.Partitions, p)
		}
	default:
		return nil, fmt.Errorf("unsupported partition table %q", table.Type())
	}
	return info, nil
}

// probe reads the DOS type at the start of a partition.
func probe(m Media, p *Partition, types *PartitionTypes) {
	if p.Size < 4 || p.Offset+4 > m.Size() {
		return
	}
	buf := make([]byte, 4)
	if _, err := m.ReadAt(buf, p.Offset); err != nil {
		return
	}
	dt := amiga.ParseDosType(buf)
	if !dt.IsDOS() && !dt.IsPFS() {
		return
	}
	p.DosType = dt
	p.FileSys = dt.Name()
	if types != nil {
		p.Type = types.DosType(dt)
	}
}

// Find selects a partition by number, or by name ignoring case.
func (d *DiskInfo) Find(sel string) (Partition, error) {
	if n, err := strconv.Atoi(sel); err == nil {
		for _, p := range d.Partitions {
			if p.Number == n {
				return p, nil
			}
		}
	}
	for _, p := range d.Partitions {
		if p.Name != "" && strings.EqualFold(p.Name, sel) {
			return p, nil
		}
	}
	return Partition{}, fmt.Errorf("%w: %q on %s disk", ErrNoPartition, sel, d.Style)
}

// Open returns the section of m that holds p.
func (p Partition) Open(m Media) (Media, error) {
	s, err := Section(m, p.Offset, p.Size)
	if err != nil {
		return nil, fmt.Errorf("partition %d: %w", p.Number, err)
	}
	return s, nil
}
