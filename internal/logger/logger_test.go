package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// TestNewLoggerLevels verifies that every valid level produces a logger
// and that levels below the threshold are suppressed
func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			var buf bytes.Buffer
			log, err := NewLogger(level, &buf)
			if err != nil {
				t.Fatalf("NewLogger(%q) failed: %v", level, err)
			}
			if log == nil {
				t.Fatal("Expected non-nil logger")
			}
		})
	}
}

// TestNewLoggerCaseInsensitive verifies that level matching ignores case
func TestNewLoggerCaseInsensitive(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewLogger("DEBUG", &buf); err != nil {
		t.Errorf("NewLogger(\"DEBUG\") failed: %v", err)
	}
	if _, err := NewLogger("Info", &buf); err != nil {
		t.Errorf("NewLogger(\"Info\") failed: %v", err)
	}
}

// TestNewLoggerInvalidLevel verifies rejection of unknown levels
func TestNewLoggerInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewLogger("verbose", &buf)
	if err == nil {
		t.Fatal("Expected error for invalid level, got nil")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("Expected 'invalid log level' in error, got %q", err.Error())
	}
}

// TestLoggerJSONOutput verifies that log records are emitted as JSON with
// the expected fields
func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("info", &buf)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	log.Info("test message", "query", "golang")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("Output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	if record["msg"] != "test message" {
		t.Errorf("Expected msg 'test message', got %v", record["msg"])
	}
	if record["level"] != "INFO" {
		t.Errorf("Expected level 'INFO', got %v", record["level"])
	}
	if record["query"] != "golang" {
		t.Errorf("Expected query 'golang', got %v", record["query"])
	}
}

// TestLoggerLevelFiltering verifies that debug records are dropped at info level
func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("warn", &buf)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	log.Debug("dropped")
	log.Info("also dropped")
	if buf.Len() != 0 {
		t.Errorf("Expected no output below warn level, got %q", buf.String())
	}

	log.Warn("kept")
	if buf.Len() == 0 {
		t.Error("Expected warn record to be emitted")
	}
}

// TestDefault verifies the default logger is usable
func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}
