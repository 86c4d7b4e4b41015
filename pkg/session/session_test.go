package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSession(t *testing.T) {
	tmpDir := t.TempDir()
	controlPath := filepath.Join(tmpDir, "control")

	config := Config{
		Name:    "test-session",
		Cmdline: []string{"/bin/sh", "-c", "echo test"},
		Cwd:     tmpDir,
		Width:   80,
		Height:  24,
	}

	session, err := newSession(controlPath, config)
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}

	if session.ID == "" {
		t.Error("Session ID should not be empty")
	}
	if session.controlPath != controlPath {
		t.Errorf("controlPath = %s, want %s", session.controlPath, controlPath)
	}
	if session.info.Name != config.Name {
		t.Errorf("Name = %s, want %s", session.info.Name, config.Name)
	}
	if session.info.Width != config.Width {
		t.Errorf("Width = %d, want %d", session.info.Width, config.Width)
	}
	if session.info.Height != config.Height {
		t.Errorf("Height = %d, want %d", session.info.Height, config.Height)
	}
	if session.info.Status != string(StatusStarting) {
		t.Errorf("Status = %s, want %s", session.info.Status, StatusStarting)
	}
}

func TestNewSession_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	controlPath := filepath.Join(tmpDir, "control")

	session, err := newSession(controlPath, Config{})
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}

	if len(session.info.Args) == 0 {
		t.Error("Should have default shell command")
	}
	if session.info.Width <= 0 {
		t.Error("Should have default width")
	}
	if session.info.Height <= 0 {
		t.Error("Should have default height")
	}
	if session.info.Cwd == "" {
		t.Error("Should have default working directory")
	}
}

func TestSession_Paths(t *testing.T) {
	tmpDir := t.TempDir()
	controlPath := filepath.Join(tmpDir, "control")

	session := &Session{
		ID:          "test-session-id",
		controlPath: controlPath,
	}

	expectedBase := filepath.Join(controlPath, session.ID)
	if session.Path() != expectedBase {
		t.Errorf("Path() = %s, want %s", session.Path(), expectedBase)
	}
	if session.StdinPath() != filepath.Join(expectedBase, "stdin") {
		t.Errorf("Unexpected StdinPath: %s", session.StdinPath())
	}
	if session.StreamOutPath() != filepath.Join(expectedBase, "stream-out") {
		t.Errorf("Unexpected StreamOutPath: %s", session.StreamOutPath())
	}
	if session.NotificationPath() != filepath.Join(expectedBase, "notification-stream") {
		t.Errorf("Unexpected NotificationPath: %s", session.NotificationPath())
	}
}

// TestSession_Signal_CrossProcess exercises the PID-fallback path used for
// sessions loaded from disk with no live controller in this process.
func TestSession_Signal_CrossProcess(t *testing.T) {
	session := &Session{
		ID: "test-session",
		info: &Info{
			Pid:    0,
			Status: string(StatusRunning),
		},
	}

	err := session.Signal("SIGTERM")
	if err == nil {
		t.Error("Signal should fail with no process")
	}
	if !IsSessionError(err, ErrProcessNotFound) {
		t.Errorf("Expected ErrProcessNotFound, got %v", err)
	}

	session.info.Status = string(StatusExited)
	if err := session.Signal("SIGTERM"); err != nil {
		t.Errorf("Signal should succeed for exited session: %v", err)
	}

	session.info.Status = string(StatusRunning)
	session.info.Pid = os.Getpid()
	err = session.Signal("SIGUSR3")
	if err == nil {
		t.Error("Should fail for unsupported signal")
	}
	if !IsSessionError(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestSession_Resize_NotStarted(t *testing.T) {
	session := &Session{
		ID: "test-session",
		info: &Info{
			Width:  80,
			Height: 24,
			Status: string(StatusRunning),
		},
	}

	err := session.Resize(100, 30)
	if err == nil {
		t.Error("Resize should fail without a live controller")
	}
	if !IsSessionError(err, ErrSessionNotRunning) {
		t.Errorf("Expected ErrSessionNotRunning, got %v", err)
	}
}

func TestSession_IsAlive_CrossProcess(t *testing.T) {
	tests := []struct {
		name     string
		session  *Session
		expected bool
	}{
		{
			name:     "no pid",
			session:  &Session{ID: "test1", info: &Info{Pid: 0, Status: string(StatusRunning)}},
			expected: false,
		},
		{
			name:     "exited status",
			session:  &Session{ID: "test2", info: &Info{Pid: 12345, Status: string(StatusExited)}},
			expected: false,
		},
		{
			name:     "current process",
			session:  &Session{ID: "test3", info: &Info{Pid: os.Getpid(), Status: string(StatusRunning)}},
			expected: true,
		},
		{
			name:     "non-existent process",
			session:  &Session{ID: "test4", info: &Info{Pid: 999999, Status: string(StatusRunning)}},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.session.IsAlive(); result != tt.expected {
				t.Errorf("IsAlive() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSession_Kill_AlreadyExited(t *testing.T) {
	session := &Session{
		ID:   "test-kill",
		info: &Info{Status: string(StatusExited)},
	}

	if err := session.Kill(); err != nil {
		t.Errorf("Kill() on exited session should succeed: %v", err)
	}
}

func TestSession_KillWithSignal_AlreadyExited(t *testing.T) {
	session := &Session{
		ID:   "test-kill-signal",
		info: &Info{Status: string(StatusExited)},
	}

	if err := session.KillWithSignal("SIGKILL"); err != nil {
		t.Errorf("KillWithSignal(SIGKILL) error = %v", err)
	}
	if err := session.KillWithSignal("9"); err != nil {
		t.Errorf("KillWithSignal(9) error = %v", err)
	}
	if err := session.KillWithSignal("SIGTERM"); err != nil {
		t.Errorf("KillWithSignal(SIGTERM) error = %v", err)
	}
}

func TestSession_SendInput_NotStarted(t *testing.T) {
	session := &Session{
		ID:   "test-input",
		info: &Info{},
	}

	if err := session.SendText("hello world"); err == nil {
		t.Error("SendText should fail before the session is started")
	} else if !IsSessionError(err, ErrSessionNotRunning) {
		t.Errorf("Expected ErrSessionNotRunning, got %v", err)
	}
}

func TestSessionStatus(t *testing.T) {
	if StatusStarting != "starting" {
		t.Errorf("StatusStarting = %s, want 'starting'", StatusStarting)
	}
	if StatusRunning != "running" {
		t.Errorf("StatusRunning = %s, want 'running'", StatusRunning)
	}
	if StatusExited != "exited" {
		t.Errorf("StatusExited = %s, want 'exited'", StatusExited)
	}
}

func TestInfo_SaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	infoPath := filepath.Join(tmpDir, "session.json")

	info := &Info{
		ID:        "test-id",
		Name:      "test-session",
		Cmdline:   "bash",
		Cwd:       "/tmp",
		Pid:       12345,
		Status:    "running",
		StartedAt: time.Now(),
		Term:      "xterm",
		Width:     80,
		Height:    24,
		Args:      []string{"bash"},
		IsSpawned: true,
	}

	if err := info.Save(tmpDir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(infoPath); err != nil {
		t.Fatalf("Info file not created: %v", err)
	}

	loaded, err := LoadInfo(tmpDir)
	if err != nil {
		t.Fatalf("LoadInfo() error = %v", err)
	}

	if loaded.ID != info.ID {
		t.Errorf("ID = %s, want %s", loaded.ID, info.ID)
	}
	if loaded.Name != info.Name {
		t.Errorf("Name = %s, want %s", loaded.Name, info.Name)
	}
	if loaded.Pid != info.Pid {
		t.Errorf("Pid = %d, want %d", loaded.Pid, info.Pid)
	}
	if loaded.Width != info.Width {
		t.Errorf("Width = %d, want %d", loaded.Width, info.Width)
	}
}
