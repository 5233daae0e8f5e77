package progressui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"amitool/internal/media"
)

func TestTrackerMap(t *testing.T) {
	tr := NewTracker(100*512, 512)
	tr.MarkSystem(90*512, 10*512)
	tr.Mark(0, 35*512)
	lines := tr.Map(10, 20)
	if len(lines) != 10 {
		t.Fatalf("%d rows, want 10", len(lines))
	}
	if lines[0] != strings.Repeat(string(CellDone), 10) {
		t.Fatalf("row 0 = %q", lines[0])
	}
	if lines[3] != strings.Repeat(string(CellDone), 5)+strings.Repeat(string(CellFree), 5) {
		t.Fatalf("row 3 = %q", lines[3])
	}
	if lines[9] != strings.Repeat(string(CellSystem), 10) {
		t.Fatalf("row 9 = %q", lines[9])
	}
	if tr.Written() != 35*512 {
		t.Fatalf("Written = %d", tr.Written())
	}

	// a window smaller than the area follows the last marked unit
	tr.Mark(80*512, 512)
	win := tr.Map(10, 2)
	if len(win) != 2 || []rune(win[1])[9] != CellDone {
		t.Fatalf("window = %q", win)
	}
}

func TestTrackerStatus(t *testing.T) {
	tr := NewTracker(4<<20, 1<<20)
	now := tr.start
	tr.now = func() time.Time { return now }
	tr.Mark(0, 1<<20)
	now = now.Add(2 * time.Second)
	lines := tr.Status("copy")
	if lines[1] != "Done: 1M / 4M" {
		t.Fatalf("done line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "Rate: 512K/s") || !strings.Contains(lines[2], "ETA: 6s") {
		t.Fatalf("rate line = %q", lines[2])
	}
	if lines[3] != "Current op: copy" {
		t.Fatalf("op line = %q", lines[3])
	}
}

func TestChunkTracker(t *testing.T) {
	tr := ChunkTracker(1<<40, 4096)
	if tr.Units() > 4096 {
		t.Fatalf("%d cells", tr.Units())
	}
	if got := ChunkTracker(10<<20, 4096).Units(); got != 10 {
		t.Fatalf("10M in %d cells", got)
	}
}

func TestHuman(t *testing.T) {
	for in, want := range map[int64]string{
		512:       "512B",
		880 << 10: "880K",
		20 << 20:  "20M",
		3 << 29:   "1.5G",
	} {
		if got := Human(in); got != want {
			t.Fatalf("Human(%d) = %q, want %q", in, got, want)
		}
	}
}

func screenRow(s tcell.SimulationScreen, y int) string {
	cells, w, _ := s.GetContents()
	var b strings.Builder
	for x := 0; x < w; x++ {
		c := cells[y*w+x]
		if len(c.Runes) == 0 {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(c.Runes[0])
	}
	return strings.TrimRight(b.String(), " ")
}

func newScreen(t *testing.T) (tcell.SimulationScreen, *UI) {
	t.Helper()
	s := tcell.NewSimulationScreen("UTF-8")
	u, err := Attach(s)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	s.SetSize(40, 16)
	t.Cleanup(u.Close)
	return s, u
}

func TestLayout(t *testing.T) {
	s, u := newScreen(t)
	u.SetTitle("COPY")
	u.SetSummaryLines([]string{"src: a.hdf"})
	u.SetPhases([]string{"Copy", "Verify"})
	u.SetPhaseDone("copy")

	tr := NewTracker(40*512, 512)
	fn := u.RegionProgress(tr, 0, "copying")
	fn(media.Progress{Processed: 20 * 512, Total: 40 * 512})

	if row := screenRow(s, 0); !strings.Contains(row, "COPY") || !strings.HasPrefix(row, "═") {
		t.Fatalf("title row = %q", row)
	}
	if row := screenRow(s, 1); row != "src: a.hdf" {
		t.Fatalf("summary row = %q", row)
	}
	if row := screenRow(s, 2); row != strings.Repeat(string(CellDone), 20)+strings.Repeat(string(CellFree), 20) {
		t.Fatalf("map row = %q", row)
	}
	var phase, op bool
	for y := 3; y < 16; y++ {
		row := screenRow(s, y)
		phase = phase || row == "[✓]Copy [ ]Verify"
		op = op || row == "Current op: copying"
	}
	if !phase || !op {
		t.Fatalf("phase line found %v, status line found %v", phase, op)
	}
}

func TestStopKey(t *testing.T) {
	s, u := newScreen(t)
	ctx, cancel := u.Context(context.Background())
	defer cancel()
	s.InjectKey(tcell.KeyRune, 'q', tcell.ModNone)
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("q did not stop the UI")
	}
	if !u.IsStopped() || !errors.Is(context.Cause(ctx), ErrInterrupted) {
		t.Fatalf("cause = %v", context.Cause(ctx))
	}
	if err := u.Wait(time.Minute); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Wait = %v", err)
	}
}
