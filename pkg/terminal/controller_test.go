package terminal

import (
	"testing"
	"time"
)

// recordingObserver captures the bracketing notifications a Controller
// sends per read cycle, without rendering anything itself.
type recordingObserver struct {
	begins   int
	ends     int
	damages  int
	exitCode int
	exited   bool
	output   []byte
}

func (o *recordingObserver) TerminalBegin()                { o.begins++ }
func (o *recordingObserver) TerminalEnd()                   { o.ends++ }
func (o *recordingObserver) TerminalDamageAll()             { o.damages++ }
func (o *recordingObserver) TerminalChildExited(code int)   { o.exited = true; o.exitCode = code }
func (o *recordingObserver) TerminalOutput(data []byte)     { o.output = append(o.output, data...) }

func pumpUntilExit(t *testing.T, c *Controller, o *recordingObserver) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !o.exited && time.Now().Before(deadline) {
		if err := c.Read(); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if !o.exited {
		t.Fatal("controller never observed child exit within deadline")
	}
}

func TestControllerWritesTextIntoGrid(t *testing.T) {
	o := &recordingObserver{}
	c, err := New(o, 5, 20, "", "test-window", "xterm", []string{"/bin/sh", "-c", "printf AB"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	pumpUntilExit(t, c, o)

	if string(c.Cell(0, 0).Cluster()) != "A" || string(c.Cell(0, 1).Cluster()) != "B" {
		t.Fatalf("row 0 = %q%q, want A B", c.Cell(0, 0).Cluster(), c.Cell(0, 1).Cluster())
	}
	if c.CursorRow() != 0 || c.CursorCol() != 2 {
		t.Errorf("cursor = (%d,%d), want (0,2)", c.CursorRow(), c.CursorCol())
	}
	if o.begins == 0 || o.begins != o.ends {
		t.Errorf("begins=%d ends=%d, want matched non-zero pairs", o.begins, o.ends)
	}
	if o.damages == 0 {
		t.Error("expected at least one damage notification for a mutating read")
	}
	if o.exitCode != 0 {
		t.Errorf("exit code = %d, want 0", o.exitCode)
	}
}

func TestControllerCarriageReturnLineFeed(t *testing.T) {
	o := &recordingObserver{}
	c, err := New(o, 5, 20, "", "test-window", "xterm", []string{"/bin/sh", "-c", "printf 'hi\\r\\nlo'"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	pumpUntilExit(t, c, o)

	if string(c.Cell(0, 0).Cluster()) != "h" || string(c.Cell(0, 1).Cluster()) != "i" {
		t.Errorf("row 0 = %q%q, want h i", c.Cell(0, 0).Cluster(), c.Cell(0, 1).Cluster())
	}
	if string(c.Cell(1, 0).Cluster()) != "l" || string(c.Cell(1, 1).Cluster()) != "o" {
		t.Errorf("row 1 = %q%q, want l o", c.Cell(1, 0).Cluster(), c.Cell(1, 1).Cluster())
	}
}

func TestControllerCursorPositioningEscape(t *testing.T) {
	o := &recordingObserver{}
	c, err := New(o, 5, 20, "", "test-window", "xterm", []string{"/bin/sh", "-c", "printf '\\033[3;4HZ'"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	pumpUntilExit(t, c, o)

	if string(c.Cell(2, 3).Cluster()) != "Z" {
		t.Errorf("cell(2,3) = %q, want Z", c.Cell(2, 3).Cluster())
	}
}

func TestControllerResizeDropsContentAndClampsCursor(t *testing.T) {
	o := &recordingObserver{}
	c, err := New(o, 5, 20, "", "test-window", "xterm", []string{"/bin/sh", "-c", "sleep 5"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.MoveCursor(4, 19)
	if err := c.Resize(3, 10); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if c.Rows() != 3 || c.Cols() != 10 {
		t.Fatalf("geometry after resize = %dx%d, want 3x10", c.Rows(), c.Cols())
	}
	if c.CursorRow() != 2 || c.CursorCol() != 10 {
		t.Errorf("cursor after resize = (%d,%d), want clamped to (2,10)", c.CursorRow(), c.CursorCol())
	}
}
