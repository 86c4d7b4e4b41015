package terminal

import "testing"

// recordingHandler captures every Handler call for assertion without
// driving a real grid/controller.
type recordingHandler struct {
	controls   []Control
	moves      [][2]int
	clearLines []ClearLineMode
	clearScrns []ClearScreenMode
	fgs        []uint8
	bgs        []uint8
	clears     int
	enables    []Attr
	disables   []Attr
	text       [][]byte
}

func (h *recordingHandler) Control(c Control)             { h.controls = append(h.controls, c) }
func (h *recordingHandler) MoveCursor(row, col int)        { h.moves = append(h.moves, [2]int{row, col}) }
func (h *recordingHandler) ClearLine(m ClearLineMode)      { h.clearLines = append(h.clearLines, m) }
func (h *recordingHandler) ClearScreen(m ClearScreenMode)  { h.clearScrns = append(h.clearScrns, m) }
func (h *recordingHandler) SetFg(idx uint8)                { h.fgs = append(h.fgs, idx) }
func (h *recordingHandler) SetBg(idx uint8)                { h.bgs = append(h.bgs, idx) }
func (h *recordingHandler) ClearAttributes()               { h.clears++ }
func (h *recordingHandler) EnableAttribute(a Attr)          { h.enables = append(h.enables, a) }
func (h *recordingHandler) DisableAttribute(a Attr)         { h.disables = append(h.disables, a) }
func (h *recordingHandler) Text(cluster []byte) {
	h.text = append(h.text, append([]byte{}, cluster...))
}

func feedString(p *Parser, s string) {
	clusters := make([][]byte, len(s))
	for i := range s {
		clusters[i] = []byte{s[i]}
	}
	p.Feed(clusters)
}

func TestParserPlainTextAndC0(t *testing.T) {
	h := &recordingHandler{}
	p := NewParser(h)

	feedString(p, "hi\r\n\t\a\b")

	if len(h.text) != 2 || string(h.text[0]) != "h" || string(h.text[1]) != "i" {
		t.Fatalf("text = %v, want [h i]", h.text)
	}
	want := []Control{ControlCR, ControlLF, ControlHT, ControlBEL, ControlBS}
	if len(h.controls) != len(want) {
		t.Fatalf("controls = %v, want %v", h.controls, want)
	}
	for i, c := range want {
		if h.controls[i] != c {
			t.Errorf("controls[%d] = %v, want %v", i, h.controls[i], c)
		}
	}
}

func TestParserCSICursorPosition(t *testing.T) {
	h := &recordingHandler{}
	p := NewParser(h)

	feedString(p, "\x1b[5;10H")

	if len(h.moves) != 1 {
		t.Fatalf("moves = %v, want 1 entry", h.moves)
	}
	if h.moves[0] != [2]int{4, 9} {
		t.Errorf("move = %v, want row=4 col=9 (1-indexed 5;10)", h.moves[0])
	}
}

func TestParserCSICursorPositionDefaultsToOrigin(t *testing.T) {
	h := &recordingHandler{}
	p := NewParser(h)

	feedString(p, "\x1b[H")

	if len(h.moves) != 1 || h.moves[0] != [2]int{0, 0} {
		t.Errorf("moves = %v, want a single (0,0) move", h.moves)
	}
}

func TestParserEraseInLineAndDisplay(t *testing.T) {
	h := &recordingHandler{}
	p := NewParser(h)

	feedString(p, "\x1b[K\x1b[1K\x1b[2J")

	if len(h.clearLines) != 2 || h.clearLines[0] != ClearLineRight || h.clearLines[1] != ClearLineLeft {
		t.Errorf("clearLines = %v, want [Right Left]", h.clearLines)
	}
	if len(h.clearScrns) != 1 || h.clearScrns[0] != ClearScreenAll {
		t.Errorf("clearScrns = %v, want [All]", h.clearScrns)
	}
}

func TestParserSGRResetAndAttributes(t *testing.T) {
	h := &recordingHandler{}
	p := NewParser(h)

	feedString(p, "\x1b[1;31;44m")

	if len(h.enables) != 1 || h.enables[0] != AttrBold {
		t.Errorf("enables = %v, want [Bold]", h.enables)
	}
	if len(h.fgs) != 1 || h.fgs[0] != 1 {
		t.Errorf("fgs = %v, want [1]", h.fgs)
	}
	if len(h.bgs) != 1 || h.bgs[0] != 4 {
		t.Errorf("bgs = %v, want [4]", h.bgs)
	}

	feedString(p, "\x1b[0m")
	if h.clears != 1 {
		t.Errorf("ClearAttributes called %d times, want 1", h.clears)
	}
	if len(h.fgs) != 2 || h.fgs[1] != DefaultFg {
		t.Errorf("fgs after reset = %v, want last entry DefaultFg", h.fgs)
	}
}

func TestParserSGR256Color(t *testing.T) {
	h := &recordingHandler{}
	p := NewParser(h)

	feedString(p, "\x1b[38;5;202m")

	if len(h.fgs) != 1 || h.fgs[0] != 202 {
		t.Errorf("fgs = %v, want [202]", h.fgs)
	}
}

func TestParserMultiByteClusterIsText(t *testing.T) {
	h := &recordingHandler{}
	p := NewParser(h)

	p.Feed([][]byte{{0xc3, 0xa9}})

	if len(h.text) != 1 || string(h.text[0]) != "\xc3\xa9" {
		t.Errorf("text = %v, want a single é cluster", h.text)
	}
}

func TestParserAbandonsOverlongCSI(t *testing.T) {
	h := &recordingHandler{}
	p := NewParser(h)

	var junk []byte
	junk = append(junk, '\x1b', '[')
	for i := 0; i < csiBufCap+10; i++ {
		junk = append(junk, '0')
	}
	clusters := make([][]byte, len(junk))
	for i, b := range junk {
		clusters[i] = []byte{b}
	}
	p.Feed(clusters)

	if p.state != StateNormal {
		t.Errorf("parser state = %v after abandoning overlong CSI, want StateNormal", p.state)
	}

	// The parser should still accept ordinary text afterward, once the
	// trailing junk digits (now routed as plain text) have passed.
	h.text = nil
	feedString(p, "ok")
	if len(h.text) != 2 || string(h.text[0]) != "o" || string(h.text[1]) != "k" {
		t.Errorf("text after recovery = %v, want [o k]", h.text)
	}
}
