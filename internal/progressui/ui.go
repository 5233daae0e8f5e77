// Package progressui draws a full-screen terminal view of long running
// block operations: a map of the covered area, the phases of the
// operation and a status block. It knows nothing about the operation
// itself; callers feed it through a Tracker.
package progressui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
)

// ErrInterrupted is the cancellation cause when the user asks to stop.
var ErrInterrupted = errors.New("interrupted")

// UI is the terminal view. All methods are safe for concurrent use.
type UI struct {
	mu       sync.Mutex
	s        tcell.Screen
	terminal bool
	stop     chan struct{}
	once     sync.Once

	title       string
	phases      []string
	phaseDone   map[string]bool
	summary     []string
	legend      []string
	status      []string
	progressMap []string
}

// New takes over the terminal.
func New() (*UI, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	u, err := Attach(s)
	if err != nil {
		return nil, err
	}
	u.terminal = true
	return u, nil
}

// Attach runs the UI on an existing screen.
func Attach(s tcell.Screen) (*UI, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	u := &UI{
		s:         s,
		stop:      make(chan struct{}),
		phaseDone: make(map[string]bool),
	}
	go u.eventLoop()
	return u, nil
}

// Close restores the terminal.
func (u *UI) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return
	}
	u.s.Fini()
	u.s = nil
	if u.terminal {
		fmt.Print("\033[?1049l\033[?25h")
	}
}

// RequestStop marks the UI stopped. It may be called more than once.
func (u *UI) RequestStop() {
	u.once.Do(func() {
		close(u.stop)
		u.mu.Lock()
		if u.s != nil {
			u.s.PostEvent(tcell.NewEventInterrupt(nil))
		}
		u.mu.Unlock()
	})
}

// IsStopped reports whether the user asked to stop.
func (u *UI) IsStopped() bool {
	select {
	case <-u.stop:
		return true
	default:
		return false
	}
}

// Context returns a child of parent that is cancelled with
// ErrInterrupted once the user asks to stop.
func (u *UI) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-u.stop:
			cancel(ErrInterrupted)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// Wait keeps the final screen up for d or until the user stops.
func (u *UI) Wait(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-u.stop:
		return ErrInterrupted
	case <-timer.C:
		return nil
	}
}

// Size returns the screen width and height.
func (u *UI) Size() (width, height int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return 0, 0
	}
	return u.s.Size()
}

func putStr(s tcell.Screen, x, y int, str string) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		if x+i >= w {
			break
		}
		s.SetContent(x+i, y, r, nil, tcell.StyleDefault)
	}
}

// LayoutAndDraw redraws the whole screen.
func (u *UI) LayoutAndDraw() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return
	}
	s := u.s
	s.Clear()
	w, h := s.Size()
	y := 0

	if u.title != "" {
		putStr(s, 0, y, strings.Repeat("═", w))
		putStr(s, (w-len([]rune(u.title)))/2, y, u.title)
		y++
	}
	for _, lines := range [][]string{u.summary, u.legend} {
		for _, line := range lines {
			if y >= h {
				break
			}
			putStr(s, 0, y, line)
			y++
		}
	}

	if len(u.progressMap) > 0 {
		// phase and status blocks keep their rows
		rows := h - y - 7
		if rows < 1 {
			rows = 1
		}
		if rows > len(u.progressMap) {
			rows = len(u.progressMap)
		}
		for i := 0; i < rows && y < h; i++ {
			putStr(s, 0, y, u.progressMap[i])
			y++
		}
	}

	if len(u.phases) > 0 {
		putStr(s, 0, y, strings.Repeat("─", w))
		putStr(s, 2, y, " Phase ")
		y++
		var b strings.Builder
		for i, p := range u.phases {
			if i > 0 {
				b.WriteByte(' ')
			}
			mark := ' '
			if u.phaseDone[strings.ToLower(p)] {
				mark = '✓'
			}
			fmt.Fprintf(&b, "[%c]%s", mark, p)
		}
		putStr(s, 0, y, b.String())
		y++
	}

	if len(u.status) > 0 {
		putStr(s, 0, y, strings.Repeat("─", w))
		putStr(s, 2, y, " Status ")
		y++
		for _, line := range u.status {
			if y >= h {
				break
			}
			putStr(s, 0, y, line)
			y++
		}
	}
	s.Show()
}

// SetPhaseDone checks off a phase. Names are case-insensitive.
func (u *UI) SetPhaseDone(p string) {
	u.mu.Lock()
	u.phaseDone[strings.ToLower(p)] = true
	u.mu.Unlock()
}

func (u *UI) SetPhases(labels []string) {
	u.mu.Lock()
	u.phases = append([]string(nil), labels...)
	u.mu.Unlock()
}

func (u *UI) SetTitle(t string) {
	u.mu.Lock()
	u.title = t
	u.mu.Unlock()
}

func (u *UI) SetSummaryLines(lines []string) {
	u.mu.Lock()
	u.summary = append([]string(nil), lines...)
	u.mu.Unlock()
}

func (u *UI) SetLegend(lines []string) {
	u.mu.Lock()
	u.legend = append([]string(nil), lines...)
	u.mu.Unlock()
}

func (u *UI) SetStatusLines(lines []string) {
	u.mu.Lock()
	u.status = append([]string(nil), lines...)
	u.mu.Unlock()
}

// SetProgressMap replaces the map rows. The UI renders them as given.
func (u *UI) SetProgressMap(lines []string) {
	u.mu.Lock()
	u.progressMap = append([]string(nil), lines...)
	u.mu.Unlock()
}

func (u *UI) eventLoop() {
	for {
		select {
		case <-u.stop:
			return
		default:
		}
		u.mu.Lock()
		s := u.s
		u.mu.Unlock()
		if s == nil {
			return
		}
		switch ev := s.PollEvent().(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyCtrlC, ev.Key() == tcell.KeyEscape:
				u.RequestStop()
			case ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'):
				u.RequestStop()
			}
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventInterrupt, nil:
			return
		}
	}
}
