package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}

	if cfg.Pretty {
		t.Error("Expected default pretty to be false")
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		level LogLevel
		emit  func(l *zerolog.Logger) *zerolog.Event
	}{
		{LevelDebug, (*zerolog.Logger).Debug},
		{LevelInfo, (*zerolog.Logger).Info},
		{LevelWarn, (*zerolog.Logger).Warn},
		{LevelError, (*zerolog.Logger).Error},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			tt.emit(&logger).Str("url", "https://example.com/FeatureServer/0").Msg("page fetched")

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("Expected one JSON line, got %q: %v", buf.String(), err)
			}
			if entry["level"] != string(tt.level) {
				t.Errorf("Expected level %q, got %v", tt.level, entry["level"])
			}
			if entry["message"] != "page fetched" {
				t.Errorf("Expected message, got %v", entry["message"])
			}
			if _, ok := entry["time"]; !ok {
				t.Error("Expected a timestamp")
			}
		})
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})

	logger.Info().Int("pages", 3).Msg("query complete")

	output := buf.String()
	if strings.HasPrefix(output, "{") {
		t.Errorf("Expected console output, got JSON %q", output)
	}
	if !strings.Contains(output, "query complete") || !strings.Contains(output, "pages=") {
		t.Errorf("Expected message and field in console output, got %q", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel}, // Should default to Info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseLevelString(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"warn":    LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}

	for input, want := range tests {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewLogger_ComponentField(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelDebug, Output: buf})

	for _, component := range []string{"arcgis-client", "pagination", "metadata-cache"} {
		buf.Reset()
		logger := NewLogger(component)
		logger.Warn().Str("kind", "server").Int("attempt", 2).Msg("retrying")

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("Failed to decode %q: %v", buf.String(), err)
		}
		if entry["component"] != component {
			t.Errorf("Expected component %q, got %v", component, entry["component"])
		}
		if entry["kind"] != "server" || entry["attempt"] != float64(2) {
			t.Errorf("Expected context fields, got %v", entry)
		}
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("pagination")
	logger.Debug().Msg("page scheduled")
	logger.Info().Msg("query complete")
	logger.Warn().Msg("page failed")
	logger.Error().Msg("query aborted")

	output := buf.String()
	for _, hidden := range []string{"page scheduled", "query complete"} {
		if strings.Contains(output, hidden) {
			t.Errorf("%q should be filtered out at Warn level", hidden)
		}
	}
	for _, shown := range []string{"page failed", "query aborted"} {
		if !strings.Contains(output, shown) {
			t.Errorf("%q should be included at Warn level", shown)
		}
	}
}
