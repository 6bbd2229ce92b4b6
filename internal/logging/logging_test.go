package logging

import "testing"

func TestNew_ValidLevel(t *testing.T) {
	logger, err := New("debug")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Error("Expected debug level to be enabled")
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Error("Expected error for invalid level")
	}
}
