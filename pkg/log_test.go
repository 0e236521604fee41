package pkg

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	tests := []struct {
		name  string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogLevel(tt.level)
			if got := GetLogLevel(); got != tt.level {
				t.Errorf("GetLogLevel() = %v, want %v", got, tt.level)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   slog.Level
		wantOK bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"chatty", slog.LevelWarn, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLogLevel(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLogLevel(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseLogFormat(t *testing.T) {
	if ParseLogFormat("json") != LogFormatJSON {
		t.Error("json not parsed")
	}
	if ParseLogFormat("text") != LogFormatText {
		t.Error("text not parsed")
	}
	if ParseLogFormat("") != LogFormatText {
		t.Error("empty format should default to text")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, nil)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Warn("test message")
	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("log output missing message: %s", buf.String())
	}
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, nil)
	if logger == nil {
		t.Fatal("NewJSONLogger returned nil")
	}

	logger.Warn("test message")
	output := buf.String()
	if !strings.Contains(output, `"msg":"test message"`) {
		t.Errorf("JSON log output missing message: %s", output)
	}
}

func TestComponentLogging(t *testing.T) {
	original := DefaultLogger
	defer SetLogger(original)

	tests := []struct {
		name      string
		log       func(Component, string, ...any)
		component Component
	}{
		{"debug", LogDebug, ComponentWorker},
		{"info", LogInfo, ComponentSched},
		{"warn", LogWarn, ComponentPool},
		{"error", LogError, ComponentHandshake},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetLogger(NewLogger(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			tt.log(tt.component, tt.name+" message", "key", "value")
			output := buf.String()
			if !strings.Contains(output, tt.name+" message") {
				t.Errorf("log missing message: %s", output)
			}
			if !strings.Contains(output, "component="+string(tt.component)) {
				t.Errorf("log missing component: %s", output)
			}
			if !strings.Contains(output, "key=value") {
				t.Errorf("log missing attribute: %s", output)
			}
		})
	}
}
