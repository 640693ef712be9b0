package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		mode    string
		debugOn bool
	}{
		{"debug", true},
		{"release", false},
	}

	for _, tt := range tests {
		logger, err := New(tt.mode)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.mode, err)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.debugOn {
			t.Errorf("New(%q) debug enabled = %v, want %v", tt.mode, got, tt.debugOn)
		}
	}
}
