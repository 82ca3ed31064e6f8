// Package render draws reel frames on a terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/jmylchreest/asciireel/internal/player"
	"github.com/jmylchreest/asciireel/internal/reel"
)

// ANSI control sequences.
const (
	clearScreen = "\x1b[2J"
	cursorHome  = "\x1b[H"
	hideCursor  = "\x1b[?25l"
	showCursor  = "\x1b[?25h"
	clearToEnd  = "\x1b[J"
)

// Option configures a TerminalPresenter.
type Option func(*TerminalPresenter)

// WithBorder toggles the frame border.
func WithBorder(enabled bool) Option {
	return func(t *TerminalPresenter) { t.bordered = enabled }
}

// WithANSI toggles in-place redraws. Without it every frame is appended to
// the output, which suits pipes and log files.
func WithANSI(enabled bool) Option {
	return func(t *TerminalPresenter) { t.ansi = enabled }
}

// TerminalPresenter implements player.Presenter on an io.Writer. Register
// UpdateStatus as the player's status listener to keep the status line current.
type TerminalPresenter struct {
	w        io.Writer
	bordered bool
	ansi     bool

	frameStyle  lipgloss.Style
	statusStyle lipgloss.Style
	errorStyle  lipgloss.Style

	mu      sync.Mutex
	started bool
	frame   reel.Frame
	status  player.Status
	err     error
}

// NewTerminalPresenter creates a presenter writing to w. In-place redraws are
// enabled when w is a terminal.
func NewTerminalPresenter(w io.Writer, opts ...Option) *TerminalPresenter {
	// Styles follow the color profile of w, so pipes get plain text.
	r := lipgloss.NewRenderer(w)
	t := &TerminalPresenter{
		w:        w,
		bordered: true,
		ansi:     IsTerminal(w),
		frameStyle: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")),
		statusStyle: r.NewStyle().Foreground(lipgloss.Color("245")),
		errorStyle:  r.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Present implements player.Presenter.
func (t *TerminalPresenter) Present(_ int, frame reel.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.frame = frame
	t.drawLocked()
}

// UpdateStatus records st and redraws the status line in place.
func (t *TerminalPresenter) UpdateStatus(st player.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = st
	if t.ansi && t.frame != nil {
		t.drawLocked()
	}
}

// Err returns the first write error, if any.
func (t *TerminalPresenter) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close restores the cursor.
func (t *TerminalPresenter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ansi && t.started {
		_, err := io.WriteString(t.w, showCursor)
		return err
	}
	return nil
}

// View renders a frame and status line without any cursor control.
func (t *TerminalPresenter) View(frame reel.Frame, st player.Status) string {
	body := strings.Join(frame, "\n")
	if t.bordered {
		body = t.frameStyle.Render(body)
	}

	status := t.statusStyle.Render(StatusLine(st))
	if msg := st.LoadError(); msg != "" {
		status += "  " + t.errorStyle.Render(msg)
	}
	return body + "\n" + status + "\n"
}

func (t *TerminalPresenter) drawLocked() {
	if t.err != nil {
		return
	}

	var sb strings.Builder
	if t.ansi {
		if !t.started {
			sb.WriteString(hideCursor + clearScreen)
		}
		sb.WriteString(cursorHome)
	}
	t.started = true

	sb.WriteString(t.View(t.frame, t.status))
	if t.ansi {
		sb.WriteString(clearToEnd)
	}
	_, t.err = io.WriteString(t.w, sb.String())
}

// StatusLine formats the frame counter, player state and loading progress.
func StatusLine(st player.Status) string {
	parts := []string{
		fmt.Sprintf("frame %d/%d", st.Current+1, st.Buffered),
		st.State.String(),
	}
	if st.TotalFrames > 0 {
		parts = append(parts, fmt.Sprintf("%d frames total", st.TotalFrames))
	}
	if st.FPS > 0 {
		parts = append(parts, fmt.Sprintf("%d fps", st.FPS))
	}
	if st.Loading != "" {
		parts = append(parts, st.Loading)
	}
	return strings.Join(parts, " | ")
}

// IsTerminal reports whether w is attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// CheckSize returns an error when w is a terminal too small to show a
// width x height frame with its border and status line. Non-terminals always fit.
func CheckSize(w io.Writer, width, height int) error {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	cols, rows, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return fmt.Errorf("reading terminal size: %w", err)
	}
	needCols, needRows := width+2, height+3
	if cols < needCols || rows < needRows {
		return fmt.Errorf("terminal is %dx%d, need at least %dx%d", cols, rows, needCols, needRows)
	}
	return nil
}
