package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/bagnose/doodle/pkg/protocol"
	"github.com/bagnose/doodle/pkg/terminal"
)

// GenerateID generates a new unique session ID
func GenerateID() string {
	return uuid.New().String()
}

type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
)

type Config struct {
	Name      string
	Cmdline   []string
	Cwd       string
	Env       []string
	Width     int
	Height    int
	IsSpawned bool // Whether this session was spawned in a terminal
}

type Info struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Cmdline   string            `json:"cmdline"`
	Cwd       string            `json:"cwd"`
	Pid       int               `json:"pid,omitempty"`
	Status    string            `json:"status"`
	ExitCode  *int              `json:"exit_code,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Term      string            `json:"term"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Env       map[string]string `json:"env,omitempty"`
	Args      []string          `json:"-"`          // Internal use only
	IsSpawned bool              `json:"is_spawned"` // Whether session was spawned in terminal
}

type pendingResize struct {
	cols, rows int
}

type closeResult struct {
	code int
	err  error
}

// Session owns a terminal controller for the lifetime of an in-process PTY
// and persists its Info to disk so other processes (the CLI, a restarted
// server) can discover and signal it after the fact. It implements
// terminal.Observer directly: damage fans out to subscribers, raw output
// feeds the asciinema-format recording and any attached terminal, and
// child exit updates and persists status.
type Session struct {
	ID          string
	controlPath string

	mu   sync.RWMutex
	info *Info

	controller   *terminal.Controller
	recorder     *protocol.StreamWriter
	stdinWatcher *StdinWatcher

	pending struct {
		mu       sync.Mutex
		writes   [][]byte
		resize   *pendingResize
		closeReq chan closeResult
	}

	dmgSubsMu sync.Mutex
	dmgSubs   []chan struct{}

	rawSubsMu sync.Mutex
	rawSubs   []chan []byte

	loopDone chan struct{}
}

func newSession(controlPath string, config Config) (*Session, error) {
	id := uuid.New().String()
	return newSessionWithID(controlPath, id, config)
}

func newSessionWithID(controlPath string, id string, config Config) (*Session, error) {
	sessionPath := filepath.Join(controlPath, id)

	debugLog("[DEBUG] Creating new session %s with config: Name=%s, Cmdline=%v, Cwd=%s",
		id[:8], config.Name, config.Cmdline, config.Cwd)

	if err := os.MkdirAll(sessionPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	if config.Name == "" {
		config.Name = id[:8]
	}

	if len(config.Cmdline) == 0 {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
		config.Cmdline = []string{shell}
	}

	if config.Cwd == "" {
		cwd, err := os.Getwd()
		if err != nil {
			config.Cwd = os.Getenv("HOME")
			if config.Cwd == "" {
				config.Cwd = "/"
			}
		} else {
			config.Cwd = cwd
		}
	}

	term := os.Getenv("TERM")
	if term == "" {
		term = "xterm-256color"
	}

	width := config.Width
	if width <= 0 {
		width = 120
	}
	height := config.Height
	if height <= 0 {
		height = 30
	}

	info := &Info{
		ID:        id,
		Name:      config.Name,
		Cmdline:   strings.Join(config.Cmdline, " "),
		Cwd:       config.Cwd,
		Status:    string(StatusStarting),
		StartedAt: time.Now(),
		Term:      term,
		Width:     width,
		Height:    height,
		Args:      config.Cmdline,
		IsSpawned: config.IsSpawned,
	}

	if err := info.Save(sessionPath); err != nil {
		if err := os.RemoveAll(sessionPath); err != nil {
			log.Printf("[WARN] Failed to remove session path %s: %v", sessionPath, err)
		}
		return nil, fmt.Errorf("failed to save session info: %w", err)
	}

	return &Session{
		ID:          id,
		controlPath: controlPath,
		info:        info,
	}, nil
}

func loadSession(controlPath, id string) (*Session, error) {
	sessionPath := filepath.Join(controlPath, id)
	info, err := LoadInfo(sessionPath)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:          id,
		controlPath: controlPath,
		info:        info,
	}

	streamPath := filepath.Join(sessionPath, "stream-out")
	if _, err := os.Stat(streamPath); os.IsNotExist(err) {
		if info.Status == string(StatusRunning) {
			info.Status = string(StatusExited)
			exitCode := 1
			info.ExitCode = &exitCode
			if err := info.Save(sessionPath); err != nil {
				log.Printf("[ERROR] Failed to save session info to %s: %v", sessionPath, err)
			}
		}
	}

	return session, nil
}

func (s *Session) Path() string {
	return filepath.Join(s.controlPath, s.ID)
}

func (s *Session) StreamOutPath() string {
	return filepath.Join(s.Path(), "stream-out")
}

func (s *Session) StdinPath() string {
	return filepath.Join(s.Path(), "stdin")
}

func (s *Session) NotificationPath() string {
	return filepath.Join(s.Path(), "notification-stream")
}

// Start forks the session's command onto a fresh terminal controller and
// launches the single goroutine that drives it for the rest of the
// session's life.
func (s *Session) Start() error {
	s.mu.RLock()
	info := s.info
	s.mu.RUnlock()

	c, err := terminal.New(s, uint16(info.Height), uint16(info.Width), info.Cwd, s.ID, info.Term, info.Args)
	if err != nil {
		return fmt.Errorf("failed to create terminal: %w", err)
	}
	s.controller = c

	s.mu.Lock()
	s.info.Status = string(StatusRunning)
	s.info.Pid = c.Pid()
	s.mu.Unlock()

	if err := s.info.Save(s.Path()); err != nil {
		if _, closeErr := c.Close(); closeErr != nil {
			log.Printf("[ERROR] Failed to close terminal: %v", closeErr)
		}
		return fmt.Errorf("failed to update session info: %w", err)
	}

	if err := syscall.Mkfifo(s.StdinPath(), 0600); err != nil && !os.IsExist(err) {
		log.Printf("[WARN] Failed to create stdin FIFO: %v", err)
	}
	if err := s.createControlFIFO(); err != nil {
		log.Printf("[WARN] Failed to create control FIFO: %v", err)
	} else {
		s.startControlListener()
	}

	if streamOut, err := os.Create(s.StreamOutPath()); err != nil {
		log.Printf("[WARN] Failed to create stream-out: %v", err)
	} else {
		s.recorder = protocol.NewStreamWriter(streamOut, &protocol.AsciinemaHeader{
			Version: 2,
			Width:   uint32(info.Width),
			Height:  uint32(info.Height),
			Command: info.Cmdline,
			Env:     info.Env,
		})
		if err := s.recorder.WriteHeader(); err != nil {
			log.Printf("[ERROR] Failed to write stream header: %v", err)
		}
	}

	if sw, err := NewStdinWatcher(s.StdinPath(), s); err != nil {
		log.Printf("[WARN] Failed to start stdin watcher: %v", err)
	} else {
		s.stdinWatcher = sw
		sw.Start()
	}

	s.loopDone = make(chan struct{})
	go func() {
		defer close(s.loopDone)
		if err := s.runSelectLoop(); err != nil {
			debugLog("[DEBUG] Session %s: select loop exited: %v", s.ID[:8], err)
		}
		if s.stdinWatcher != nil {
			s.stdinWatcher.Stop()
		}
		if s.recorder != nil {
			if err := s.recorder.Close(); err != nil {
				log.Printf("[ERROR] Failed to close stream recorder: %v", err)
			}
		}
	}()

	debugLog("[DEBUG] Session %s: started successfully", s.ID[:8])
	return nil
}

// Attach drives the local terminal interactively against this session: raw
// mode on stdin, typed bytes forwarded through the same input queue the
// control FIFO and HTTP layer use, and output bytes mirrored to stdout as
// they are observed.
func (s *Session) Attach() error {
	if s.controller == nil {
		return fmt.Errorf("session not started")
	}

	outCh := s.SubscribeRaw()
	defer s.UnsubscribeRaw(outCh)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if err := s.enqueueInput(buf[:n]); err != nil {
					log.Printf("[ERROR] Attach: failed to forward stdin: %v", err)
				}
			}
			if err != nil {
				close(done)
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-outCh:
			if !ok {
				return nil
			}
			if _, err := os.Stdout.Write(data); err != nil {
				return err
			}
		case <-done:
			return nil
		case <-s.loopDone:
			return nil
		}
	}
}

// SubscribeRaw registers a channel that receives every raw output chunk
// read from the child, in order, for as long as the subscriber keeps
// draining it. Used by Attach for local interactive sessions and by the
// HTTP layer's live streaming handlers (pkg/api) as a direct alternative
// to tailing the recorded asciinema file from disk.
func (s *Session) SubscribeRaw() chan []byte {
	ch := make(chan []byte, 64)
	s.rawSubsMu.Lock()
	s.rawSubs = append(s.rawSubs, ch)
	s.rawSubsMu.Unlock()
	return ch
}

func (s *Session) UnsubscribeRaw(ch chan []byte) {
	s.removeRawSub(ch)
}

func (s *Session) removeRawSub(ch chan []byte) {
	s.rawSubsMu.Lock()
	defer s.rawSubsMu.Unlock()
	for i, sub := range s.rawSubs {
		if sub == ch {
			s.rawSubs = append(s.rawSubs[:i], s.rawSubs[i+1:]...)
			close(ch)
			break
		}
	}
}

func (s *Session) SendKey(key string) error {
	return s.enqueueInput([]byte(key))
}

func (s *Session) SendText(text string) error {
	return s.enqueueInput([]byte(text))
}

func (s *Session) enqueueInput(data []byte) error {
	if s.controller == nil {
		return NewSessionError("session not started", ErrSessionNotRunning, s.ID)
	}
	s.pending.mu.Lock()
	s.pending.writes = append(s.pending.writes, append([]byte(nil), data...))
	s.pending.mu.Unlock()
	return nil
}

// Signal delivers a named signal to a session that this process did not
// itself start — the cross-process path used by the CLI to reach a
// session owned by a different running server. A live, in-process
// session is always terminated through its controller instead.
func (s *Session) Signal(sig string) error {
	if s.controller != nil {
		if sig == "SIGKILL" || sig == "9" {
			return s.KillWithSignal("SIGKILL")
		}
		return s.Stop()
	}

	s.mu.RLock()
	pid := s.info.Pid
	status := s.info.Status
	s.mu.RUnlock()

	if status == string(StatusExited) {
		return nil
	}
	if pid == 0 {
		return NewSessionError("no process to signal", ErrProcessNotFound, s.ID)
	}

	var osSig syscall.Signal
	switch sig {
	case "SIGTERM":
		osSig = syscall.SIGTERM
	case "SIGKILL":
		osSig = syscall.SIGKILL
	default:
		return NewSessionError(fmt.Sprintf("unsupported signal: %s", sig), ErrInvalidArgument, s.ID)
	}

	if err := syscall.Kill(pid, osSig); err != nil {
		if err == syscall.ESRCH {
			s.mu.Lock()
			s.info.Status = string(StatusExited)
			s.mu.Unlock()
			return s.info.Save(s.Path())
		}
		return ErrProcessSignalError(s.ID, sig, err)
	}
	return nil
}

func (s *Session) Stop() error {
	return s.shutdown()
}

func (s *Session) Kill() error {
	return s.shutdown()
}

// KillWithSignal kills the session with the specified signal. A live
// in-process session always goes through the same graceful-then-escalate
// ladder the controller's Close runs; the signal name only matters for
// the cross-process PID fallback.
func (s *Session) KillWithSignal(signal string) error {
	if s.controller != nil {
		return s.shutdown()
	}
	if signal == "SIGKILL" || signal == "9" {
		return s.Signal("SIGKILL")
	}
	return s.Signal("SIGTERM")
}

// shutdown terminates the session. For a live in-process session this
// enqueues a close request for the select loop to execute (the only
// goroutine allowed to touch the controller) and waits for it to
// complete; otherwise it falls back to a PID signal.
func (s *Session) shutdown() error {
	s.mu.RLock()
	status := s.info.Status
	pid := s.info.Pid
	s.mu.RUnlock()

	if status == string(StatusExited) {
		return nil
	}

	if s.controller == nil {
		if pid == 0 {
			return NewSessionError("no process to terminate", ErrProcessNotFound, s.ID)
		}
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
			return NewSessionErrorWithCause("failed to signal process", ErrProcessTerminateFailed, s.ID, err)
		}
		s.mu.Lock()
		s.info.Status = string(StatusExited)
		s.mu.Unlock()
		return s.info.Save(s.Path())
	}

	done := make(chan closeResult, 1)
	s.pending.mu.Lock()
	s.pending.closeReq = done
	s.pending.mu.Unlock()

	select {
	case res := <-done:
		return res.err
	case <-time.After(10 * time.Second):
		return NewSessionError("timeout terminating session", ErrTimeout, s.ID)
	}
}

func (s *Session) Resize(width, height int) error {
	if s.controller == nil {
		return NewSessionError("session not started", ErrSessionNotRunning, s.ID)
	}

	s.mu.RLock()
	status := s.info.Status
	s.mu.RUnlock()
	if status == string(StatusExited) {
		return NewSessionError("cannot resize exited session", ErrSessionNotRunning, s.ID)
	}

	if width <= 0 || height <= 0 {
		return NewSessionError(
			fmt.Sprintf("invalid dimensions: width=%d, height=%d", width, height),
			ErrInvalidArgument,
			s.ID,
		)
	}

	s.mu.Lock()
	s.info.Width = width
	s.info.Height = height
	s.mu.Unlock()
	if err := s.info.Save(s.Path()); err != nil {
		log.Printf("[ERROR] Failed to save session info after resize: %v", err)
	}

	s.pending.mu.Lock()
	s.pending.resize = &pendingResize{cols: width, rows: height}
	s.pending.mu.Unlock()
	return nil
}

// IsAlive reports whether the session's process is still running. A live
// in-process session asks the controller directly; otherwise it falls
// back to the persisted status, which UpdateStatus keeps current via a
// PID liveness probe.
func (s *Session) IsAlive() bool {
	if s.controller != nil {
		return s.controller.IsOpen()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info.Status == string(StatusExited) {
		return false
	}
	if s.info.Pid == 0 {
		return false
	}
	return syscall.Kill(s.info.Pid, 0) == nil
}

// IsSpawned returns whether this session was spawned in a terminal
func (s *Session) IsSpawned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.IsSpawned
}

func (s *Session) UpdateStatus() error {
	s.mu.RLock()
	exited := s.info.Status == string(StatusExited)
	s.mu.RUnlock()
	if exited {
		return nil
	}

	if s.IsAlive() {
		return nil
	}

	s.mu.Lock()
	s.info.Status = string(StatusExited)
	exitCode := 0
	s.info.ExitCode = &exitCode
	s.mu.Unlock()
	return s.info.Save(s.Path())
}

// GetInfo returns the session info
func (s *Session) GetInfo() *Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Subscribe registers a channel that receives a (non-blocking, coalesced)
// signal every time the terminal grid changes. Callers drain it and call
// Snapshot on the controller to pick up the new state.
func (s *Session) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.dmgSubsMu.Lock()
	s.dmgSubs = append(s.dmgSubs, ch)
	s.dmgSubsMu.Unlock()
	return ch
}

func (s *Session) Unsubscribe(ch <-chan struct{}) {
	s.dmgSubsMu.Lock()
	defer s.dmgSubsMu.Unlock()
	for i, sub := range s.dmgSubs {
		if sub == ch {
			s.dmgSubs = append(s.dmgSubs[:i], s.dmgSubs[i+1:]...)
			close(sub)
			break
		}
	}
}

// Controller returns the session's live terminal controller, or nil if
// the session was loaded from disk rather than started in this process.
func (s *Session) Controller() *terminal.Controller {
	return s.controller
}

// terminal.Observer implementation. These are only ever invoked from the
// select loop goroutine, for the duration of a single Read call.

func (s *Session) TerminalBegin() {}
func (s *Session) TerminalEnd()   {}

func (s *Session) TerminalOutput(data []byte) {
	if s.recorder != nil {
		if err := s.recorder.WriteOutput(data); err != nil {
			log.Printf("[ERROR] Session %s: failed to record output: %v", s.ID[:8], err)
		}
	}

	s.rawSubsMu.Lock()
	defer s.rawSubsMu.Unlock()
	for _, sub := range s.rawSubs {
		select {
		case sub <- append([]byte(nil), data...):
		default:
		}
	}
}

func (s *Session) TerminalDamageAll() {
	s.dmgSubsMu.Lock()
	defer s.dmgSubsMu.Unlock()
	for _, sub := range s.dmgSubs {
		select {
		case sub <- struct{}{}:
		default:
		}
	}
}

func (s *Session) TerminalChildExited(code int) {
	s.mu.Lock()
	s.info.Status = string(StatusExited)
	s.info.ExitCode = &code
	s.mu.Unlock()
	if err := s.info.Save(s.Path()); err != nil {
		log.Printf("[ERROR] Session %s: failed to save info on exit: %v", s.ID[:8], err)
	}
}

func (i *Info) Save(sessionPath string) error {
	// Convert to Rust format for saving
	rustInfo := RustSessionInfo{
		ID:        i.ID,
		Name:      i.Name,
		Cmdline:   i.Args, // Use Args array instead of Cmdline string
		Cwd:       i.Cwd,
		Status:    i.Status,
		ExitCode:  i.ExitCode,
		Term:      i.Term,
		SpawnType: "pty", // Default spawn type
		Cols:      &i.Width,
		Rows:      &i.Height,
		Env:       i.Env,
	}

	// Only include Pid if non-zero
	if i.Pid > 0 {
		rustInfo.Pid = &i.Pid
	}

	// Only include StartedAt if not zero time
	if !i.StartedAt.IsZero() {
		rustInfo.StartedAt = &i.StartedAt
	}

	data, err := json.MarshalIndent(rustInfo, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(sessionPath, "session.json"), data, 0644)
}

// RustSessionInfo represents the session format used by the Rust server
type RustSessionInfo struct {
	ID        string            `json:"id,omitempty"`
	Name      string            `json:"name"`
	Cmdline   []string          `json:"cmdline"`
	Cwd       string            `json:"cwd"`
	Pid       *int              `json:"pid,omitempty"`
	Status    string            `json:"status"`
	ExitCode  *int              `json:"exit_code,omitempty"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	Term      string            `json:"term"`
	SpawnType string            `json:"spawn_type,omitempty"`
	Cols      *int              `json:"cols,omitempty"`
	Rows      *int              `json:"rows,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

func LoadInfo(sessionPath string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(sessionPath, "session.json"))
	if err != nil {
		return nil, err
	}

	var rustInfo RustSessionInfo
	if err := json.Unmarshal(data, &rustInfo); err != nil {
		return nil, fmt.Errorf("failed to parse session.json: %w", err)
	}

	info := Info{
		ID:       rustInfo.ID,
		Name:     rustInfo.Name,
		Cmdline:  strings.Join(rustInfo.Cmdline, " "),
		Cwd:      rustInfo.Cwd,
		Status:   rustInfo.Status,
		ExitCode: rustInfo.ExitCode,
		Term:     rustInfo.Term,
		Args:     rustInfo.Cmdline,
		Env:      rustInfo.Env,
	}

	if rustInfo.Pid != nil {
		info.Pid = *rustInfo.Pid
	}

	if rustInfo.Cols != nil {
		info.Width = *rustInfo.Cols
	} else {
		info.Width = 120
	}
	if rustInfo.Rows != nil {
		info.Height = *rustInfo.Rows
	} else {
		info.Height = 30
	}

	if rustInfo.StartedAt != nil {
		info.StartedAt = *rustInfo.StartedAt
	} else {
		info.StartedAt = time.Now()
	}

	if info.ID == "" {
		info.ID = filepath.Base(sessionPath)
	}

	return &info, nil
}
