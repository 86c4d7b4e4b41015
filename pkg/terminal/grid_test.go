package terminal

import "testing"

func TestNewGridPanicsOnZeroGeometry(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewGrid(0, 10) should panic")
		}
	}()
	NewGrid(0, 10)
}

func TestGridCellOutOfBoundsPanics(t *testing.T) {
	g := NewGrid(2, 2)
	defer func() {
		if recover() == nil {
			t.Fatal("Cell(5, 0) should panic on an out-of-range row")
		}
	}()
	g.Cell(5, 0)
}

func TestGridOverwriteAndEraseCell(t *testing.T) {
	g := NewGrid(1, 4)
	a := NewCell([]byte{'a'}, 0, DefaultFg, DefaultBg)
	b := NewCell([]byte{'b'}, 0, DefaultFg, DefaultBg)
	g.OverwriteCell(a, 0, 0)
	g.OverwriteCell(b, 0, 1)

	if string(g.Cell(0, 0).Cluster()) != "a" || string(g.Cell(0, 1).Cluster()) != "b" {
		t.Fatalf("unexpected row after overwrite: %v", g.Line(0))
	}

	g.EraseCell(0, 0)
	if string(g.Cell(0, 0).Cluster()) != "b" {
		t.Errorf("after erasing col 0, col 0 should hold 'b', got %q", g.Cell(0, 0).Cluster())
	}
	if !g.Cell(0, 3).IsNull() {
		t.Error("erase should shift left and leave a null cell at the end")
	}
}

func TestGridInsertCell(t *testing.T) {
	g := NewGrid(1, 4)
	g.OverwriteCell(NewCell([]byte{'a'}, 0, DefaultFg, DefaultBg), 0, 0)
	g.OverwriteCell(NewCell([]byte{'b'}, 0, DefaultFg, DefaultBg), 0, 1)
	g.OverwriteCell(NewCell([]byte{'c'}, 0, DefaultFg, DefaultBg), 0, 2)
	g.OverwriteCell(NewCell([]byte{'d'}, 0, DefaultFg, DefaultBg), 0, 3)

	g.InsertCell(NewCell([]byte{'X'}, 0, DefaultFg, DefaultBg), 0, 1)

	got := string(joinClusters(g.Line(0)))
	if got != "aXbc" {
		t.Errorf("row after insert = %q, want %q", got, "aXbc")
	}
}

func joinClusters(l Line) []byte {
	var out []byte
	for _, c := range l {
		if c.IsNull() {
			out = append(out, ' ')
		} else {
			out = append(out, c.Cluster()...)
		}
	}
	return out
}

func TestGridClearLineAndClearAll(t *testing.T) {
	g := NewGrid(2, 2)
	g.OverwriteCell(NewCell([]byte{'a'}, 0, DefaultFg, DefaultBg), 0, 0)
	g.OverwriteCell(NewCell([]byte{'b'}, 0, DefaultFg, DefaultBg), 1, 0)

	g.ClearLine(0)
	if !g.Cell(0, 0).IsNull() {
		t.Error("ClearLine(0) should null out row 0")
	}
	if g.Cell(1, 0).IsNull() {
		t.Error("ClearLine(0) should not touch row 1")
	}

	g.ClearAll()
	if !g.Cell(1, 0).IsNull() {
		t.Error("ClearAll should null every cell")
	}
}

func TestGridAddLineScrollsUp(t *testing.T) {
	g := NewGrid(2, 1)
	g.OverwriteCell(NewCell([]byte{'a'}, 0, DefaultFg, DefaultBg), 0, 0)
	g.OverwriteCell(NewCell([]byte{'b'}, 0, DefaultFg, DefaultBg), 1, 0)

	g.AddLine()

	if string(g.Cell(0, 0).Cluster()) != "b" {
		t.Errorf("row 0 after scroll = %q, want %q", g.Cell(0, 0).Cluster(), "b")
	}
	if !g.Cell(1, 0).IsNull() {
		t.Error("new bottom row after scroll should be null")
	}
}

func TestGridResizeDiscardsContent(t *testing.T) {
	g := NewGrid(2, 2)
	g.OverwriteCell(NewCell([]byte{'a'}, 0, DefaultFg, DefaultBg), 0, 0)

	g.Resize(3, 5)

	if g.Rows() != 3 || g.Cols() != 5 {
		t.Fatalf("Resize geometry = %dx%d, want 3x5", g.Rows(), g.Cols())
	}
	if !g.Cell(0, 0).IsNull() {
		t.Error("Resize should discard prior content")
	}
}
