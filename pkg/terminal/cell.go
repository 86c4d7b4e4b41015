package terminal

// Attr is a bitset over the style attributes a cell or the current style
// state can carry.
type Attr uint8

const (
	AttrBold Attr = 1 << iota
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrReverse
)

// DefaultFg and DefaultBg are the palette indices a fresh style state (or
// an SGR reset) carries.
const (
	DefaultFg uint8 = 7
	DefaultBg uint8 = 0
)

// Cell is a single styled grid cell: a UTF-8 byte cluster up to 4 bytes
// (or empty, the "null cell"), an attribute bitset, and foreground /
// background palette indices.
type Cell struct {
	cluster [4]byte
	len     uint8
	Attrs   Attr
	Fg      uint8
	Bg      uint8
}

// NullCell is an empty cell carrying the default style, rendered as a
// blank space.
func NullCell() Cell {
	return Cell{Fg: DefaultFg, Bg: DefaultBg}
}

// NewCell builds a cell from a cluster of at most 4 bytes and a style.
// Longer clusters are truncated to 4 bytes — the grid never stores a
// cluster longer than a single UTF-8 code point permits.
func NewCell(cluster []byte, attrs Attr, fg, bg uint8) Cell {
	c := Cell{Attrs: attrs, Fg: fg, Bg: bg}
	n := len(cluster)
	if n > 4 {
		n = 4
	}
	copy(c.cluster[:], cluster[:n])
	c.len = uint8(n)
	return c
}

// IsNull reports whether the cell carries no glyph.
func (c Cell) IsNull() bool {
	return c.len == 0
}

// Cluster returns the cell's UTF-8 byte cluster, or nil for a null cell.
func (c Cell) Cluster() []byte {
	if c.len == 0 {
		return nil
	}
	return c.cluster[:c.len]
}
