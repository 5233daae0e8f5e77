package progressui

import (
	"fmt"
	"strings"
	"time"

	"amitool/internal/media"
)

// Map cells.
const (
	CellDone   = '█'
	CellFree   = '░'
	CellSystem = '■'
)

// Tracker records which units of an area have been processed. A unit is
// a sector for formats, a chunk for region copies and a block for layer
// flushes.
type Tracker struct {
	done   []bool
	unit   int64
	pos    int64
	system [][2]int64
	start  time.Time
	now    func() time.Time
}

// NewTracker tracks total bytes in units of unit bytes.
func NewTracker(total, unit int64) *Tracker {
	if unit <= 0 {
		unit = 512
	}
	return &Tracker{
		done:  make([]bool, (total+unit-1)/unit),
		unit:  unit,
		start: time.Now(),
		now:   time.Now,
	}
}

// ChunkTracker tracks a region copy of total bytes with at most
// maxCells cells, so that huge devices stay cheap to draw.
func ChunkTracker(total int64, maxCells int) *Tracker {
	unit := int64(media.DefaultChunkSize)
	if maxCells > 0 {
		for total/unit > int64(maxCells) {
			unit *= 2
		}
	}
	return NewTracker(total, unit)
}

// Units is the number of cells.
func (t *Tracker) Units() int64 { return int64(len(t.done)) }

// Mark records n bytes at off as processed.
func (t *Tracker) Mark(off, n int64) {
	if n <= 0 {
		return
	}
	first, end := off/t.unit, (off+n+t.unit-1)/t.unit
	if end > t.Units() {
		end = t.Units()
	}
	for i := first; i < end; i++ {
		if i >= 0 {
			t.done[i] = true
		}
	}
	if end-1 >= 0 {
		t.pos = end - 1
	}
}

// MarkSystem shades n bytes at off as system area until they are done.
func (t *Tracker) MarkSystem(off, n int64) {
	if n <= 0 {
		return
	}
	t.system = append(t.system, [2]int64{off / t.unit, (off + n - 1) / t.unit})
}

// Written is the number of processed bytes, rounded to whole units.
func (t *Tracker) Written() int64 {
	var n int64
	for _, d := range t.done {
		if d {
			n++
		}
	}
	return n * t.unit
}

func (t *Tracker) inSystem(i int64) bool {
	for _, r := range t.system {
		if i >= r[0] && i <= r[1] {
			return true
		}
	}
	return false
}

// Map renders up to rows lines of w cells. When the area has more cells
// than fit, the window follows the last processed unit.
func (t *Tracker) Map(w, rows int) []string {
	if w <= 0 || t.Units() == 0 {
		return nil
	}
	if rows < 1 {
		rows = 1
	}
	cells := int64(w * rows)
	start := int64(0)
	if t.Units() > cells {
		if t.pos >= cells-1 {
			start = t.pos - (cells - 1)
		}
		if start+cells > t.Units() {
			start = t.Units() - cells
		}
	}
	var lines []string
	for row := 0; row < rows; row++ {
		var b strings.Builder
		for col := 0; col < w; col++ {
			i := start + int64(row*w+col)
			if i >= t.Units() {
				break
			}
			switch {
			case t.done[i]:
				b.WriteRune(CellDone)
			case t.inSystem(i):
				b.WriteRune(CellSystem)
			default:
				b.WriteRune(CellFree)
			}
		}
		if b.Len() == 0 {
			break
		}
		lines = append(lines, b.String())
	}
	return lines
}

// Status returns the status block for the current operation.
func (t *Tracker) Status(op string) []string {
	written := t.Written()
	total := t.Units() * t.unit
	if written > total {
		written = total
	}
	elapsed := t.now().Sub(t.start).Truncate(time.Second)
	var rate float64
	if secs := t.now().Sub(t.start).Seconds(); secs > 0 {
		rate = float64(written) / secs
	}
	eta := "-"
	if rate > 0 {
		eta = time.Duration(float64(total-written) / rate * float64(time.Second)).Truncate(time.Second).String()
	}
	return []string{
		fmt.Sprintf("Position: %06d", t.pos),
		fmt.Sprintf("Done: %s / %s", Human(written), Human(total)),
		fmt.Sprintf("Elapsed: %s   Rate: %s/s   ETA: %s", elapsed, Human(int64(rate)), eta),
		"Current op: " + op,
	}
}

// Human formats a byte count with a binary unit suffix.
func Human(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%dM", b/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%dK", b/(1<<10))
	}
	return fmt.Sprintf("%dB", b)
}

// Refresh redraws the map and status of t.
func (u *UI) Refresh(t *Tracker, op string) {
	w, h := u.Size()
	if w > 0 && h > 0 {
		u.SetProgressMap(t.Map(w, h-7))
	}
	u.SetStatusLines(t.Status(op))
	u.LayoutAndDraw()
}

// RegionProgress feeds region copy reports for a region starting at
// base bytes into t.
func (u *UI) RegionProgress(t *Tracker, base int64, op string) media.ProgressFunc {
	var last int64
	return func(p media.Progress) {
		t.Mark(base+last, p.Processed-last)
		last = p.Processed
		u.Refresh(t, op)
	}
}

// FlushProgress feeds layer flush reports into a tracker with one unit
// per flushed block.
func (u *UI) FlushProgress(t *Tracker, op string) func(flushed, total int) {
	return func(flushed, total int) {
		t.Mark(int64(flushed-1)*t.unit, t.unit)
		u.Refresh(t, op)
	}
}

// PhaseProgress feeds formatter phases into t and checks them off.
// Areas are given in sectors of sectorSize bytes.
func (u *UI) PhaseProgress(t *Tracker, sectorSize int64) func(name string, start, sectors int64) {
	return func(name string, start, sectors int64) {
		t.Mark(start*sectorSize, sectors*sectorSize)
		u.SetPhaseDone(name)
		u.Refresh(t, "wrote "+name)
	}
}
