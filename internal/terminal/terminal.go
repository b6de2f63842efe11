// Package terminal implements the line discipline spec.md §4.12
// describes: a scrollback ring, a canonical-mode line editor sitting
// in front of a cooked input queue, and an ANSI CSI parser driving
// cursor motion, erase, and SGR color state on the way into a
// termfb.Renderer.
//
// Grounded on src/go/mazarin/colors.go's ANSI/Dracula palette and
// ColorScheme (carried forward as ansiPalette/defaultFg/defaultBg
// below) plus spec.md §4.12's literal behavior description; the
// teacher has no line-discipline code of its own to generalize from.
package terminal

import (
	"sync"

	"nucleus/internal/bootcfg"
	"nucleus/internal/devfs"
	"nucleus/internal/fdtable"
	"nucleus/internal/termfb"
)

var (
	_ fdtable.TerminalSink = (*Terminal)(nil)
	_ devfs.TTYIO          = ttyAdapter{}
)

// ansiPalette is the teacher's 16-color Dracula-themed ANSI palette
// (src/go/mazarin/colors.go), indices 0-7 normal, 8-15 bright.
var ansiPalette = [16]uint32{
	0x00111111, 0x00FF9DA4, 0x00D1F1A9, 0x00FFEEAC,
	0x00BBDAFF, 0x00EBBBFF, 0x0099FFFF, 0x00CCCCCC,
	0x00333333, 0x00FF7882, 0x00B8F171, 0x00FFE580,
	0x0080BAFF, 0x00D778FF, 0x0078FFFF, 0x00FFFFFF,
}

const (
	defaultBg uint32 = 0x00191B70 // midnight blue, colors.go's FramebufferBackgroundColor
	defaultFg uint32 = 0x00B8F171 // bright green, colors.go's FramebufferTextColor
)

// Control characters the canonical-mode line editor recognizes
// (spec.md §4.12).
const (
	chrBackspace = 0x08
	chrDEL       = 0x7F
	chrKill      = 0x15 // CTRL+U
	chrIntr      = 0x03 // CTRL+C
	chrEOF       = 0x04 // CTRL+D
)

// inputRingCapacity bounds the cooked input queue; not named by
// spec.md, chosen as a generous fixed size consistent with this
// codebase's bounded-everything style.
const inputRingCapacity = 256

type cell struct {
	Rune  rune
	Fg    uint32
	Bg    uint32
	Dirty bool
}

type ansiState int

const (
	ansiGround ansiState = iota
	ansiEsc
	ansiCSI
)

// Terminal is one terminal instance. It implements fdtable.TerminalSink
// directly (the Write method below) and exposes AsTTY for devfs's
// BindTTY, which needs a plain Read/Write surface without the stream
// tag.
type Terminal struct {
	mu sync.Mutex

	lines      [bootcfg.TerminalScrollbackLines][bootcfg.TerminalColumns]cell
	bufLines   int
	cursorLine int
	cursorCol  int
	scrollOffset int

	curFg, curBg uint32
	bold         bool

	state    ansiState
	paramBuf string

	canonical bool
	echo      bool
	lineBuf   []byte

	cookedBuf               [inputRingCapacity]byte
	cookedHead, cookedTail   int
	cookedCount              int
	pendingLines             int

	renderer    *termfb.Renderer
	onInterrupt func()
}

// New builds a Terminal in canonical, echoing mode, optionally driving
// a termfb.Renderer (nil is valid for a headless/test terminal).
func New(renderer *termfb.Renderer) *Terminal {
	return &Terminal{
		renderer:  renderer,
		canonical: true,
		echo:      true,
		curFg:     defaultFg,
		curBg:     defaultBg,
		bufLines:  1,
	}
}

// SetRawMode toggles raw mode, which bypasses line editing entirely
// (spec.md §4.12 "raw mode bypasses line editing").
func (t *Terminal) SetRawMode(raw bool) {
	t.mu.Lock()
	t.canonical = !raw
	t.mu.Unlock()
}

// SetEcho toggles whether input bytes are echoed to the display.
func (t *Terminal) SetEcho(on bool) {
	t.mu.Lock()
	t.echo = on
	t.mu.Unlock()
}

// SetInterruptHandler installs the callback CTRL+C invokes (spec.md
// §4.12 "signal the foreground process", left as a hook since process
// groups/signal delivery are outside this package's scope).
func (t *Terminal) SetInterruptHandler(fn func()) {
	t.mu.Lock()
	t.onInterrupt = fn
	t.mu.Unlock()
}

// Write implements fdtable.TerminalSink: fd 1/2 writes land here
// tagged by stream, both driven through the same ANSI-aware output
// path (the stream tag exists for a future split into separate
// stdout/stderr panes; today both render identically).
func (t *Terminal) Write(stream int, buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range buf {
		t.outputByte(b)
	}
	t.render()
	return len(buf), nil
}

// AsTTY adapts the Terminal to devfs.TTYIO (plain Read/Write, no
// stream tag), for BindTTY to attach to a /dev/tty* node.
func (t *Terminal) AsTTY() ttyAdapter { return ttyAdapter{t: t} }

type ttyAdapter struct{ t *Terminal }

func (a ttyAdapter) Read(p []byte) (int, error) { return a.t.ReadCooked(p) }

func (a ttyAdapter) Write(p []byte) (int, error) {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	for _, b := range p {
		a.t.outputByte(b)
	}
	a.t.render()
	return len(p), nil
}

// ReadCooked drains up to len(p) bytes from the cooked input queue
// (what a /dev/tty* read() syscall ultimately returns).
func (t *Terminal) ReadCooked(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for n < len(p) && t.cookedCount > 0 {
		p[n] = t.cookedBuf[t.cookedHead]
		t.cookedHead = (t.cookedHead + 1) % inputRingCapacity
		t.cookedCount--
		n++
	}
	return n, nil
}

// PendingLines reports how many complete lines are queued in the
// cooked buffer, for a caller deciding whether read() would block.
func (t *Terminal) PendingLines() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingLines
}

func (t *Terminal) pushCooked(b byte) {
	if t.cookedCount >= inputRingCapacity {
		return
	}
	t.cookedBuf[t.cookedTail] = b
	t.cookedTail = (t.cookedTail + 1) % inputRingCapacity
	t.cookedCount++
}

// PushInput feeds one byte from the keyboard ISR into the line
// discipline (spec.md §5's single-producer/single-consumer handoff).
// In canonical mode it accumulates into the line buffer with
// backspace/kill/interrupt handling; in raw mode it is queued directly.
func (t *Terminal) PushInput(b byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.canonical {
		t.pushCooked(b)
		return
	}

	switch b {
	case '\n', chrEOF:
		for _, c := range t.lineBuf {
			t.pushCooked(c)
		}
		t.pushCooked('\n')
		t.lineBuf = t.lineBuf[:0]
		t.pendingLines++
		if t.echo {
			t.outputByte('\n')
			t.render()
		}
	case chrBackspace, chrDEL:
		if len(t.lineBuf) > 0 {
			t.lineBuf = t.lineBuf[:len(t.lineBuf)-1]
			if t.echo {
				t.eraseLastEchoedCell()
			}
		}
	case chrKill:
		n := len(t.lineBuf)
		t.lineBuf = t.lineBuf[:0]
		if t.echo {
			for i := 0; i < n; i++ {
				t.eraseLastEchoedCell()
			}
		}
	case chrIntr:
		t.lineBuf = t.lineBuf[:0]
		if t.onInterrupt != nil {
			t.onInterrupt()
		}
	default:
		t.lineBuf = append(t.lineBuf, b)
		if t.echo {
			t.outputByte(b)
			t.render()
		}
	}
}

func (t *Terminal) eraseLastEchoedCell() {
	if t.cursorCol > 0 {
		t.cursorCol--
	} else if t.cursorLine > 0 {
		t.cursorLine--
		t.cursorCol = bootcfg.TerminalColumns - 1
	} else {
		return
	}
	row := &t.lines[t.cursorLine%bootcfg.TerminalScrollbackLines]
	row[t.cursorCol] = cell{Rune: ' ', Fg: t.curFg, Bg: t.curBg, Dirty: true}
}

// outputByte drives one byte through the ANSI parser state machine,
// buffering partial CSI sequences across calls (spec.md §4.12
// "Partial CSI sequences crossing write-call boundaries must be
// buffered").
func (t *Terminal) outputByte(b byte) {
	switch t.state {
	case ansiEsc:
		if b == '[' {
			t.state = ansiCSI
			t.paramBuf = ""
		} else {
			t.state = ansiGround
		}
		return
	case ansiCSI:
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') {
			t.handleCSI(b)
			t.state = ansiGround
			t.paramBuf = ""
		} else {
			t.paramBuf += string(b)
		}
		return
	}

	switch b {
	case 0x1B:
		t.state = ansiEsc
	case '\n':
		t.newline()
	case '\r':
		t.cursorCol = 0
	default:
		t.putChar(rune(b))
	}
}

func (t *Terminal) putChar(r rune) {
	row := &t.lines[t.cursorLine%bootcfg.TerminalScrollbackLines]
	row[t.cursorCol] = cell{Rune: r, Fg: t.curFg, Bg: t.curBg, Dirty: true}
	t.cursorCol++
	if t.cursorCol >= bootcfg.TerminalColumns {
		t.cursorCol = 0
		t.newline()
	}
}

func (t *Terminal) newline() {
	t.cursorLine++
	t.cursorCol = 0
	if t.cursorLine >= t.bufLines {
		t.bufLines = t.cursorLine + 1
		if t.bufLines > bootcfg.TerminalScreenHeight {
			t.invalidate()
		}
	}
}

// visibleStart computes the first scrollback line shown on screen
// (spec.md §4.12: "max(0, buf_lines − SCREEN_HEIGHT) − scroll_offset").
func (t *Terminal) visibleStart() int {
	start := t.bufLines - bootcfg.TerminalScreenHeight
	if start < 0 {
		start = 0
	}
	start -= t.scrollOffset
	if start < 0 {
		start = 0
	}
	return start
}

// invalidate marks every cell in the current visible window dirty
// (spec.md §4.12 "invalidates the full range on scroll").
func (t *Terminal) invalidate() {
	start := t.visibleStart()
	for i := 0; i < bootcfg.TerminalScreenHeight; i++ {
		line := start + i
		if line >= t.bufLines {
			break
		}
		row := &t.lines[line%bootcfg.TerminalScrollbackLines]
		for c := range row {
			row[c].Dirty = true
		}
	}
}

func (t *Terminal) render() {
	if t.renderer == nil {
		return
	}
	start := t.visibleStart()
	for screenRow := 0; screenRow < bootcfg.TerminalScreenHeight; screenRow++ {
		line := start + screenRow
		if line >= t.bufLines {
			break
		}
		row := &t.lines[line%bootcfg.TerminalScrollbackLines]
		for col := 0; col < bootcfg.TerminalColumns; col++ {
			c := &row[col]
			if !c.Dirty {
				continue
			}
			t.renderer.DrawCell(col, screenRow, termfb.Cell{Rune: c.Rune, Fg: c.Fg, Bg: c.Bg})
			c.Dirty = false
		}
	}
}

func (t *Terminal) handleCSI(final byte) {
	params := parseParams(t.paramBuf)
	get := func(i, def int) int {
		if i < len(params) && params[i] >= 0 {
			return params[i]
		}
		return def
	}

	switch final {
	case 'A':
		t.moveCursor(-get(0, 1), 0)
	case 'B':
		t.moveCursor(get(0, 1), 0)
	case 'C':
		t.moveCursor(0, get(0, 1))
	case 'D':
		t.moveCursor(0, -get(0, 1))
	case 'H', 'f':
		t.setCursorAbsolute(get(0, 1)-1, get(1, 1)-1)
	case 'J':
		t.eraseDisplay(get(0, 0))
	case 'K':
		t.eraseLine(get(0, 0))
	case 'm':
		t.applySGR(params)
	}
	t.render()
}

// parseParams splits a CSI parameter string ("1;30") into ints, using
// -1 for an omitted (empty) field.
func parseParams(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	n := 0
	has := false
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ';' {
			if has {
				out = append(out, n)
			} else {
				out = append(out, -1)
			}
			n, has = 0, false
			continue
		}
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		n = n*10 + int(c-'0')
		has = true
	}
	return out
}

func (t *Terminal) moveCursor(dRow, dCol int) {
	lo := t.visibleStart()
	hi := t.bufLines - 1
	line := clamp(t.cursorLine+dRow, lo, hi)
	col := clamp(t.cursorCol+dCol, 0, bootcfg.TerminalColumns-1)
	t.cursorLine = line
	t.cursorCol = col
}

func (t *Terminal) setCursorAbsolute(row, col int) {
	lo := t.visibleStart()
	hi := t.bufLines - 1
	t.cursorLine = clamp(lo+row, lo, hi)
	t.cursorCol = clamp(col, 0, bootcfg.TerminalColumns-1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (t *Terminal) eraseDisplay(mode int) {
	start := t.visibleStart()
	switch mode {
	case 0:
		t.clearRange(t.cursorLine, t.cursorCol, t.bufLines-1, bootcfg.TerminalColumns-1)
	case 1:
		t.clearRange(start, 0, t.cursorLine, t.cursorCol)
	case 2:
		t.clearRange(start, 0, t.bufLines-1, bootcfg.TerminalColumns-1)
	}
}

func (t *Terminal) clearRange(fromLine, fromCol, toLine, toCol int) {
	for line := fromLine; line <= toLine; line++ {
		row := &t.lines[line%bootcfg.TerminalScrollbackLines]
		c0, c1 := 0, bootcfg.TerminalColumns-1
		if line == fromLine {
			c0 = fromCol
		}
		if line == toLine {
			c1 = toCol
		}
		for c := c0; c <= c1; c++ {
			row[c] = cell{Rune: ' ', Fg: t.curFg, Bg: t.curBg, Dirty: true}
		}
	}
}

func (t *Terminal) eraseLine(mode int) {
	row := &t.lines[t.cursorLine%bootcfg.TerminalScrollbackLines]
	c0, c1 := 0, bootcfg.TerminalColumns-1
	switch mode {
	case 0:
		c0 = t.cursorCol
	case 1:
		c1 = t.cursorCol
	}
	for c := c0; c <= c1; c++ {
		row[c] = cell{Rune: ' ', Fg: t.curFg, Bg: t.curBg, Dirty: true}
	}
}

// applySGR implements spec.md §4.12's minimum SGR set: reset, a
// bold/bright modifier, and 16-color foreground/background selection.
func (t *Terminal) applySGR(params []int) {
	if len(params) == 0 {
		params = []int{-1}
	}
	for _, p := range params {
		switch {
		case p <= 0:
			t.curFg = defaultFg
			t.curBg = defaultBg
			t.bold = false
		case p == 1:
			t.bold = true
		case p == 22:
			t.bold = false
		case p >= 30 && p <= 37:
			idx := p - 30
			if t.bold {
				idx += 8
			}
			t.curFg = ansiPalette[idx]
		case p == 39:
			t.curFg = defaultFg
		case p >= 40 && p <= 47:
			t.curBg = ansiPalette[p-40]
		case p == 49:
			t.curBg = defaultBg
		case p >= 90 && p <= 97:
			t.curFg = ansiPalette[8+p-90]
		case p >= 100 && p <= 107:
			t.curBg = ansiPalette[8+p-100]
		}
	}
}

// DefaultColors returns the terminal's default foreground/background,
// the colors an ESC[0m reset restores (testable property 9).
func DefaultColors() (fg, bg uint32) { return defaultFg, defaultBg }

// CurrentColors exposes the active SGR foreground/background, used by
// tests checking property 9 (SGR reset restores the default color).
func (t *Terminal) CurrentColors() (fg, bg uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.curFg, t.curBg
}

// Cursor reports the current cursor position in screen-relative
// coordinates (row within the visible window, column).
func (t *Terminal) Cursor() (row, col int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursorLine - t.visibleStart(), t.cursorCol
}

// CellAt returns the rune and colors at an absolute scrollback line
// and column, for tests inspecting rendered output directly.
func (t *Terminal) CellAt(line, col int) (r rune, fg, bg uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.lines[line%bootcfg.TerminalScrollbackLines][col]
	return c.Rune, c.Fg, c.Bg
}
