package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bagnose/doodle/pkg/terminal"
)

// newTestSession builds a Session backed by a real controller running cat,
// so handleStdinData has somewhere legitimate to enqueue input.
func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := &Session{
		ID:          "test-session",
		controlPath: t.TempDir(),
		info:        &Info{ID: "test-session", Status: string(StatusRunning)},
	}
	c, err := terminal.New(s, 5, 20, "", "test-window", "xterm", []string{"/bin/cat"})
	if err != nil {
		t.Fatalf("terminal.New: %v", err)
	}
	s.controller = c
	t.Cleanup(func() { c.Close() })
	return s
}

func TestNewStdinWatcher(t *testing.T) {
	tmpDir := t.TempDir()
	pipePath := filepath.Join(tmpDir, "stdin")
	if err := os.WriteFile(pipePath, []byte{}, 0644); err != nil {
		t.Fatal(err)
	}

	sess := newTestSession(t)

	watcher, err := NewStdinWatcher(pipePath, sess)
	if err != nil {
		t.Fatalf("NewStdinWatcher() error = %v", err)
	}
	defer watcher.cleanup()

	if watcher.stdinPath != pipePath {
		t.Errorf("stdinPath = %v, want %v", watcher.stdinPath, pipePath)
	}
	if watcher.session != sess {
		t.Error("session not set")
	}
	if watcher.watcher == nil {
		t.Error("watcher should not be nil")
	}
	if watcher.stdinFile == nil {
		t.Error("stdinFile should not be nil")
	}
}

func TestStdinWatcher_StartStop(t *testing.T) {
	tmpDir := t.TempDir()
	pipePath := filepath.Join(tmpDir, "stdin")
	if err := os.WriteFile(pipePath, []byte{}, 0644); err != nil {
		t.Fatal(err)
	}

	sess := newTestSession(t)

	watcher, err := NewStdinWatcher(pipePath, sess)
	if err != nil {
		t.Fatal(err)
	}

	watcher.Start()
	time.Sleep(10 * time.Millisecond)

	done := make(chan bool)
	go func() {
		watcher.Stop()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("Stop() took too long")
	}
}

func TestStdinWatcher_HandleStdinData(t *testing.T) {
	tmpDir := t.TempDir()
	pipePath := filepath.Join(tmpDir, "stdin")

	stdinFile, err := os.Create(pipePath)
	if err != nil {
		t.Fatal(err)
	}
	defer stdinFile.Close()

	sess := newTestSession(t)

	watcher := &StdinWatcher{
		stdinPath: pipePath,
		session:   sess,
		stdinFile: stdinFile,
		buffer:    make([]byte, 4096),
	}

	testData := []byte("Hello, World!")
	if _, err := stdinFile.Write(testData); err != nil {
		t.Fatal(err)
	}
	if _, err := stdinFile.Seek(0, 0); err != nil {
		t.Fatal(err)
	}

	watcher.handleStdinData()

	sess.pending.mu.Lock()
	queued := sess.pending.writes
	sess.pending.mu.Unlock()

	if len(queued) != 1 || string(queued[0]) != string(testData) {
		t.Errorf("queued writes = %q, want one entry %q", queued, testData)
	}
}

func TestIsEAGAIN(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "other error", err: os.ErrDeadlineExceeded, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := isEAGAIN(tt.err); result != tt.expected {
				t.Errorf("isEAGAIN() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestStdinWatcher_Cleanup(t *testing.T) {
	tmpDir := t.TempDir()
	pipePath := filepath.Join(tmpDir, "stdin")
	if err := os.WriteFile(pipePath, []byte{}, 0644); err != nil {
		t.Fatal(err)
	}

	sess := newTestSession(t)

	watcher, err := NewStdinWatcher(pipePath, sess)
	if err != nil {
		t.Fatal(err)
	}

	stdinFile := watcher.stdinFile
	fsWatcher := watcher.watcher

	watcher.cleanup()

	if err := stdinFile.Close(); err == nil {
		t.Error("stdinFile should have been closed")
	}
	if err := fsWatcher.Add("/tmp"); err == nil {
		t.Error("fsnotify watcher should have been closed")
	}
}
