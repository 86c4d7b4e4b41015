// Package terminal implements the screen-buffer model, escape-sequence
// parser, and terminal controller that sit on top of a pty.Channel.
package terminal

import (
	"fmt"

	"github.com/bagnose/doodle/pkg/pty"
)

// Observer is the embedder's callback surface. The controller calls it
// once per read-triggered parse pass.
type Observer interface {
	TerminalBegin()
	TerminalEnd()
	TerminalDamageAll()
	TerminalChildExited(exitCode int)

	// TerminalOutput carries the raw bytes read from the child for this
	// pass, ahead of TerminalBegin, for embedders that journal sessions
	// independently of the grid (e.g. an asciinema-format recording).
	TerminalOutput(data []byte)
}

type style struct {
	fg    uint8
	bg    uint8
	attrs Attr
}

func defaultStyle() style {
	return style{fg: DefaultFg, bg: DefaultBg}
}

// Controller owns the grid, cursor, style state, tab stops, parser, and
// PTY channel for its lifetime. It is the sole implementation of
// parser.Handler.
type Controller struct {
	observer Observer

	grid *Grid
	tabs []bool

	cursorRow int
	cursorCol int

	style style

	parser  *Parser
	channel *pty.Channel

	mutated bool
}

// New constructs a controller with fixed initial geometry, forking and
// execing command (or the user's shell) against a freshly opened PTY.
func New(observer Observer, rows, cols uint16, cwd, windowID, term string, command []string) (*Controller, error) {
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("terminal: geometry must be non-zero (rows=%d cols=%d)", rows, cols)
	}

	ch, err := pty.Open(rows, cols, cwd, windowID, term, command)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		observer: observer,
		grid:     NewGrid(int(rows), int(cols)),
		tabs:     buildTabs(int(cols)),
		style:    defaultStyle(),
		channel:  ch,
	}
	c.parser = NewParser(c)
	return c, nil
}

func buildTabs(cols int) []bool {
	tabs := make([]bool, cols)
	for i := range tabs {
		tabs[i] = (i+1)%8 == 0
	}
	return tabs
}

// IsOpen, Fd, read-only grid/cursor views — the Controller interface
// exposed to the embedder.

func (c *Controller) IsOpen() bool  { return c.channel.IsOpen() }
func (c *Controller) Fd() int       { return c.channel.Fd() }
func (c *Controller) Pid() int      { return c.channel.Pid() }
func (c *Controller) Rows() int     { return c.grid.Rows() }
func (c *Controller) Cols() int     { return c.grid.Cols() }
func (c *Controller) Cell(r, c2 int) Cell { return c.grid.Cell(r, c2) }
func (c *Controller) CursorRow() int { return c.cursorRow }
func (c *Controller) CursorCol() int { return c.cursorCol }

// Snapshot is a read-only copy of the grid and cursor, safe to hold and
// serialize after the controller has moved on to further reads.
type Snapshot struct {
	Rows, Cols         int
	CursorRow, CursorCol int
	Lines              []Line
}

// Snapshot copies the current grid and cursor state. It must only be
// called between read passes, never from inside an Observer callback
// that itself runs during Read (the grid is being mutated then).
func (c *Controller) Snapshot() Snapshot {
	lines := make([]Line, c.grid.Rows())
	for r := range lines {
		src := c.grid.Line(r)
		lines[r] = append(Line(nil), src...)
	}
	return Snapshot{
		Rows:      c.grid.Rows(),
		Cols:      c.grid.Cols(),
		CursorRow: c.cursorRow,
		CursorCol: c.cursorCol,
		Lines:     lines,
	}
}

// EnqueueWrite, IsWritePending, Write, Resize forward to the channel,
// which itself rejects re-entrant calls made from inside a parse pass.

func (c *Controller) EnqueueWrite(data []byte) error { return c.channel.EnqueueWrite(data) }
func (c *Controller) IsWritePending() (bool, error)  { return c.channel.IsWritePending() }
func (c *Controller) Write() error                   { return c.channel.Write() }

func (c *Controller) Resize(rows, cols uint16) error {
	c.grid.Resize(int(rows), int(cols))
	if c.cursorRow >= int(rows) {
		c.cursorRow = int(rows) - 1
	}
	if c.cursorCol > int(cols) {
		c.cursorCol = int(cols)
	}
	c.tabs = buildTabs(int(cols))
	return c.channel.Resize(rows, cols)
}

// Close runs the PTY shutdown protocol and returns the child's exit code.
func (c *Controller) Close() (int, error) {
	return c.channel.Close()
}

// Read performs one read-and-dispatch cycle: a terminal_begin/terminal_end
// bracket around the parser's consumption of whatever clusters arrived,
// followed by a damage_all notification if anything mutated. If the
// child exited during this call, terminal_child_exited is notified
// instead and no parse pass occurs.
func (c *Controller) Read() error {
	exit, err := c.channel.Read(func(clusters [][]byte) {
		if len(clusters) > 0 {
			var raw []byte
			for _, cl := range clusters {
				raw = append(raw, cl...)
			}
			c.observer.TerminalOutput(raw)
		}
		c.mutated = false
		c.observer.TerminalBegin()
		c.parser.Feed(clusters)
		c.observer.TerminalEnd()
		if c.mutated {
			c.observer.TerminalDamageAll()
		}
	})
	if err != nil {
		return err
	}
	if exit != nil {
		c.observer.TerminalChildExited(exit.Code)
	}
	return nil
}

// Handler implementation, invoked only from within Read's parse pass.

func (c *Controller) Control(ctrl Control) {
	c.mutated = true
	switch ctrl {
	case ControlBEL:
		// No visual effect in this subset.
	case ControlHT:
		col := c.cursorCol
		for ; col < c.grid.Cols(); col++ {
			if c.tabs[col] {
				break
			}
		}
		if col == c.grid.Cols() {
			// Open question resolved: clamp to the last column rather
			// than letting the cursor leave the grid.
			col = c.grid.Cols() - 1
		}
		c.cursorCol = col
	case ControlBS:
		if c.cursorCol > 0 {
			c.cursorCol--
		}
		// Retained for compatibility: erase the cell under the cursor
		// even though conventional terminals move the cursor only.
		c.grid.EraseCell(c.cursorRow, c.cursorCol)
	case ControlCR:
		c.cursorCol = 0
	case ControlLF:
		c.advanceRow()
	}
}

func (c *Controller) advanceRow() {
	if c.cursorRow == c.grid.Rows()-1 {
		c.grid.AddLine()
	} else {
		c.cursorRow++
	}
}

func (c *Controller) MoveCursor(row, col int) {
	c.mutated = true
	if row < 0 {
		row = 0
	}
	if row >= c.grid.Rows() {
		row = c.grid.Rows() - 1
	}
	if col < 0 {
		col = 0
	}
	if col >= c.grid.Cols() {
		col = c.grid.Cols() - 1
	}
	c.cursorRow = row
	c.cursorCol = col
}

func (c *Controller) ClearLine(mode ClearLineMode) {
	c.mutated = true
	switch mode {
	case ClearLineRight:
		for col := c.cursorCol + 1; col < c.grid.Cols(); col++ {
			c.grid.OverwriteCell(NullCell(), c.cursorRow, col)
		}
	case ClearLineLeft:
		for col := 0; col < c.cursorCol; col++ {
			c.grid.OverwriteCell(NullCell(), c.cursorRow, col)
		}
	case ClearLineAll:
		c.grid.ClearLine(c.cursorRow)
	}
}

func (c *Controller) ClearScreen(mode ClearScreenMode) {
	c.mutated = true
	switch mode {
	case ClearScreenBelow:
		for r := c.cursorRow + 1; r < c.grid.Rows(); r++ {
			c.grid.ClearLine(r)
		}
	case ClearScreenAbove:
		for r := 0; r < c.cursorRow; r++ {
			c.grid.ClearLine(r)
		}
	case ClearScreenAll:
		c.grid.ClearAll()
		c.cursorRow, c.cursorCol = 0, 0
	}
}

func (c *Controller) SetFg(idx uint8) { c.mutated = true; c.style.fg = idx }
func (c *Controller) SetBg(idx uint8) { c.mutated = true; c.style.bg = idx }

func (c *Controller) ClearAttributes() { c.mutated = true; c.style.attrs = 0 }
func (c *Controller) EnableAttribute(a Attr) { c.mutated = true; c.style.attrs |= a }
func (c *Controller) DisableAttribute(a Attr) { c.mutated = true; c.style.attrs &^= a }

func (c *Controller) Text(cluster []byte) {
	c.mutated = true
	cell := NewCell(cluster, c.style.attrs, c.style.fg, c.style.bg)
	c.grid.OverwriteCell(cell, c.cursorRow, c.cursorCol)
	c.cursorCol++
	if c.cursorCol == c.grid.Cols() {
		c.advanceRow()
		c.cursorCol = 0
	}
}
