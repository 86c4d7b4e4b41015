package terminal

import "testing"

func TestNullCell(t *testing.T) {
	c := NullCell()
	if !c.IsNull() {
		t.Error("NullCell() should report IsNull")
	}
	if c.Cluster() != nil {
		t.Errorf("NullCell().Cluster() = %v, want nil", c.Cluster())
	}
	if c.Fg != DefaultFg || c.Bg != DefaultBg {
		t.Errorf("NullCell() style = (%d,%d), want defaults (%d,%d)", c.Fg, c.Bg, DefaultFg, DefaultBg)
	}
}

func TestNewCellTruncatesOverlongCluster(t *testing.T) {
	c := NewCell([]byte{1, 2, 3, 4, 5, 6}, AttrBold, 3, 4)
	if c.IsNull() {
		t.Fatal("cell with bytes should not be null")
	}
	got := c.Cluster()
	want := []byte{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Cluster() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Cluster() = %v, want %v", got, want)
		}
	}
	if c.Attrs != AttrBold || c.Fg != 3 || c.Bg != 4 {
		t.Errorf("cell style = (%v,%d,%d), want (%v,3,4)", c.Attrs, c.Fg, c.Bg, AttrBold)
	}
}

func TestNewCellSingleByteASCII(t *testing.T) {
	c := NewCell([]byte{'x'}, 0, DefaultFg, DefaultBg)
	if string(c.Cluster()) != "x" {
		t.Errorf("Cluster() = %q, want %q", c.Cluster(), "x")
	}
}
