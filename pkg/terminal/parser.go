package terminal

import "log"

// State is the parser's coarse classification of what a following byte
// means.
type State int

const (
	StateNormal State = iota
	StateEscStart
	StateCSI
	StateString
	StateStringEsc
	StateTest
)

// Control enumerates the C0 controls the parser dispatches individually.
type Control int

const (
	ControlBEL Control = iota
	ControlHT
	ControlBS
	ControlCR
	ControlLF
)

// ClearLineMode selects the extent of a CSI K (erase in line) dispatch.
type ClearLineMode int

const (
	ClearLineRight ClearLineMode = iota
	ClearLineLeft
	ClearLineAll
)

// ClearScreenMode selects the extent of a CSI J (erase in display) dispatch.
type ClearScreenMode int

const (
	ClearScreenBelow ClearScreenMode = iota
	ClearScreenAbove
	ClearScreenAll
)

// Handler receives the parser's semantic events in stream order. The
// terminal Controller is the sole implementation; the parser never
// touches the grid directly.
type Handler interface {
	Control(c Control)
	MoveCursor(row, col int)
	ClearLine(mode ClearLineMode)
	ClearScreen(mode ClearScreenMode)
	SetFg(idx uint8)
	SetBg(idx uint8)
	ClearAttributes()
	EnableAttribute(a Attr)
	DisableAttribute(a Attr)
	Text(cluster []byte)
}

// csiBufCap bounds the CSI parameter/intermediate accumulator. A CSI
// sequence that runs past this many bytes without reaching its final
// byte is abandoned rather than grown without limit.
const csiBufCap = 64

// stringBufCap bounds the STRING payload accumulator for the same reason.
const stringBufCap = 4096

// Parser is the VT-style escape-sequence state machine. It consumes
// already UTF-8-clustered input (see pty.Decoder) and drives a Handler.
type Parser struct {
	state   State
	handler Handler

	csiBuf []byte

	stringType byte
	stringBuf  []byte
}

// NewParser builds a parser dispatching into h, starting in NORMAL.
func NewParser(h Handler) *Parser {
	return &Parser{handler: h}
}

// Feed consumes a batch of UTF-8 clusters (as sliced by the PTY channel's
// decoder) in order. A multi-byte cluster is always treated as printable
// text regardless of state — logged as an error if the state was not
// NORMAL, except in STRING where it is silently ignored — matching the
// rule that only single-byte input is state-routed.
func (p *Parser) Feed(clusters [][]byte) {
	for _, cl := range clusters {
		if len(cl) > 1 {
			p.feedMultiByte(cl)
			continue
		}
		if len(cl) == 1 {
			p.feedByte(cl[0])
		}
	}
}

func (p *Parser) feedMultiByte(cl []byte) {
	switch p.state {
	case StateNormal:
		p.handler.Text(cl)
	case StateString:
		// STRING payloads are ASCII by convention; a UTF-8 cluster here
		// is simply ignored rather than logged.
	default:
		log.Printf("[ERROR] terminal: UTF-8 cluster received in state %d, passing through as text", p.state)
		p.handler.Text(cl)
	}
}

func isC0(b byte) bool {
	return b < 0x20 || b == 0x7F
}

func (p *Parser) feedByte(b byte) {
	switch p.state {
	case StateNormal:
		p.feedNormal(b)
	case StateEscStart:
		p.feedEscStart(b)
	case StateCSI:
		p.feedCSI(b)
	case StateString:
		p.feedString(b)
	case StateStringEsc:
		p.feedStringEsc(b)
	case StateTest:
		// A single DEC test-sequence final byte; no observable effect in
		// this subset.
		p.state = StateNormal
	}
}

func (p *Parser) feedNormal(b byte) {
	if !isC0(b) {
		p.handler.Text([]byte{b})
		return
	}
	switch b {
	case 0x07:
		p.handler.Control(ControlBEL)
	case 0x09:
		p.handler.Control(ControlHT)
	case 0x08:
		p.handler.Control(ControlBS)
	case 0x0D:
		p.handler.Control(ControlCR)
	case 0x0C, 0x0B, 0x0A:
		p.handler.Control(ControlLF)
	case 0x1B:
		p.state = StateEscStart
	default:
		log.Printf("[ERROR] terminal: unhandled C0 byte %#02x ignored", b)
	}
}

func (p *Parser) feedEscStart(b byte) {
	switch b {
	case '[':
		p.csiBuf = p.csiBuf[:0]
		p.state = StateCSI
	case '#':
		p.state = StateTest
	case 'P', '_', '^', ']', 'k':
		p.stringType = b
		p.stringBuf = p.stringBuf[:0]
		p.state = StateString
	case '(', ')', '*', '+', 'D', 'E', 'H', 'M', 'Z', 'c', '=', '>', '7', '8', '\\', 'm':
		// Fixed escapes recognised but mostly no-ops in this subset
		// (charset selection, cursor save/restore, keypad mode, RIS...).
		p.state = StateNormal
	default:
		log.Printf("[ERROR] terminal: unrecognised escape-start byte %#02x", b)
		p.state = StateNormal
	}
}

func (p *Parser) feedCSI(b byte) {
	switch {
	case b >= 0x20 && b <= 0x3F:
		if len(p.csiBuf) >= csiBufCap {
			log.Printf("[ERROR] terminal: CSI sequence exceeded %d bytes, abandoning", csiBufCap)
			p.state = StateNormal
			return
		}
		p.csiBuf = append(p.csiBuf, b)
	case b >= 0x40 && b <= 0x7E:
		p.dispatchCSI(b)
		p.state = StateNormal
	default:
		log.Printf("[ERROR] terminal: malformed CSI byte %#02x, dropping sequence", b)
		p.state = StateNormal
	}
}

func (p *Parser) feedString(b byte) {
	switch b {
	case 0x1B:
		p.state = StateStringEsc
	case 0x07:
		p.dispatchString()
		p.state = StateNormal
	default:
		if len(p.stringBuf) >= stringBufCap {
			log.Printf("[ERROR] terminal: STRING payload exceeded %d bytes, abandoning", stringBufCap)
			p.state = StateNormal
			return
		}
		p.stringBuf = append(p.stringBuf, b)
	}
}

func (p *Parser) feedStringEsc(b byte) {
	if b == '\\' {
		p.dispatchString()
	}
	// any other byte: discard the accumulated string silently
	p.state = StateNormal
}

// dispatchString handles OSC/DCS/PM/APC/privacy-message payloads. The
// recognised escape subset has no observable string-escape behaviour, so
// the payload is discarded without logging.
func (p *Parser) dispatchString() {
	_ = p.stringType
	_ = p.stringBuf
}

// dispatchCSI parses the accumulated parameter bytes plus final byte b
// and routes to the handler.
func (p *Parser) dispatchCSI(final byte) {
	params := p.csiBuf
	private := false
	if len(params) > 0 && params[0] == '?' {
		private = true
		params = params[1:]
	}
	args := parseCSIArgs(params)

	switch final {
	case 'h', 'l':
		log.Printf("[DEBUG] terminal: set mode private=%v set=%v args=%v (not observable)", private, final == 'h', args)
	case 'H', 'f':
		row := argOrDefault(args, 0, 1)
		col := argOrDefault(args, 1, 1)
		if row == 0 {
			row = 1
		}
		if col == 0 {
			col = 1
		}
		p.handler.MoveCursor(row-1, col-1)
	case 'J':
		switch argOrDefault(args, 0, 0) {
		case 0:
			p.handler.ClearScreen(ClearScreenBelow)
		case 1:
			p.handler.ClearScreen(ClearScreenAbove)
		case 2:
			p.handler.ClearScreen(ClearScreenAll)
		default:
			log.Printf("[ERROR] terminal: unrecognised CSI J argument %v", args)
		}
	case 'K':
		switch argOrDefault(args, 0, 0) {
		case 0:
			p.handler.ClearLine(ClearLineRight)
		case 1:
			p.handler.ClearLine(ClearLineLeft)
		case 2:
			p.handler.ClearLine(ClearLineAll)
		default:
			log.Printf("[ERROR] terminal: unrecognised CSI K argument %v", args)
		}
	case 'm':
		p.dispatchSGR(args)
	case 'g':
		log.Printf("[DEBUG] terminal: tabulation clear requested args=%v", args)
	default:
		log.Printf("[DEBUG] terminal: unhandled CSI final byte %q args=%v", final, args)
	}
}

func argOrDefault(args []int, i, def int) int {
	if i >= len(args) {
		return def
	}
	return args[i]
}

// parseCSIArgs splits params on ';' into decimal integers, each
// defaulting to 0 when the field is empty, ignoring any non-digit bytes
// within a field.
func parseCSIArgs(params []byte) []int {
	if len(params) == 0 {
		return nil
	}
	var args []int
	val := 0
	started := false
	for _, b := range params {
		switch {
		case b >= '0' && b <= '9':
			val = val*10 + int(b-'0')
			started = true
		case b == ';':
			args = append(args, val)
			val = 0
			started = false
		default:
			// Non-digit, non-semicolon intermediate byte: ignored.
		}
	}
	if started || len(args) == 0 || params[len(params)-1] == ';' {
		args = append(args, val)
	}
	return args
}

// dispatchSGR applies Select Graphic Rendition codes left to right.
func (p *Parser) dispatchSGR(args []int) {
	if len(args) == 0 {
		args = []int{0}
	}
	for i := 0; i < len(args); i++ {
		code := args[i]
		switch {
		case code == 0:
			p.handler.SetFg(DefaultFg)
			p.handler.SetBg(DefaultBg)
			p.handler.ClearAttributes()
		case code == 1:
			p.handler.EnableAttribute(AttrBold)
		case code == 3:
			p.handler.EnableAttribute(AttrItalic)
		case code == 4:
			p.handler.EnableAttribute(AttrUnderline)
		case code == 5 || code == 6:
			p.handler.EnableAttribute(AttrBlink)
		case code == 7:
			p.handler.EnableAttribute(AttrReverse)
		case code == 21 || code == 22:
			p.handler.DisableAttribute(AttrBold)
		case code == 23:
			p.handler.DisableAttribute(AttrItalic)
		case code == 24:
			p.handler.DisableAttribute(AttrUnderline)
		case code == 25 || code == 26:
			p.handler.DisableAttribute(AttrBlink)
		case code == 27:
			p.handler.DisableAttribute(AttrReverse)
		case code >= 30 && code <= 37:
			p.handler.SetFg(uint8(code - 30))
		case code == 38:
			if i+2 < len(args) && args[i+1] == 5 {
				p.handler.SetFg(uint8(args[i+2] & 0xFF))
				i += 2
			} else {
				log.Printf("[ERROR] terminal: unsupported SGR 38 form args=%v", args[i:])
			}
		case code == 39:
			p.handler.SetFg(DefaultFg)
		case code >= 40 && code <= 47:
			p.handler.SetBg(uint8(code - 40))
		case code == 48:
			if i+2 < len(args) && args[i+1] == 5 {
				p.handler.SetBg(uint8(args[i+2] & 0xFF))
				i += 2
			} else {
				log.Printf("[ERROR] terminal: unsupported SGR 48 form args=%v", args[i:])
			}
		case code == 49:
			p.handler.SetBg(DefaultBg)
		case code >= 90 && code <= 97:
			p.handler.SetFg(uint8(code-90) + 8)
		case code >= 100 && code <= 107:
			p.handler.SetBg(uint8(code-100) + 8)
		default:
			log.Printf("[ERROR] terminal: unrecognised SGR code %d", code)
		}
	}
}
