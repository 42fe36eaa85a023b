package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/poolscaler/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LoggingConfig
		wantLevel logrus.Level
		wantJSON  bool
		wantErr   bool
	}{
		{"defaults", config.LoggingConfig{}, logrus.InfoLevel, true, false},
		{"debug text", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}, logrus.DebugLevel, false, false},
		{"warn json", config.LoggingConfig{Level: "warn", Format: "JSON", Output: "stdout"}, logrus.WarnLevel, true, false},
		{"bad level", config.LoggingConfig{Level: "loud"}, 0, false, true},
		{"bad format", config.LoggingConfig{Format: "xml"}, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if logger.GetLevel() != tt.wantLevel {
				t.Errorf("level = %v, want %v", logger.GetLevel(), tt.wantLevel)
			}
			if _, isJSON := logger.Formatter.(*logrus.JSONFormatter); isJSON != tt.wantJSON {
				t.Errorf("formatter = %T", logger.Formatter)
			}
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poolscaler.log")

	logger, err := New(config.LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.WithField("pool", "render").Info("Scaling pool")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", data)
	}
	if entry["msg"] != "Scaling pool" || entry["pool"] != "render" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNew_UnwritableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "poolscaler.log")
	if _, err := New(config.LoggingConfig{Output: path}); err == nil {
		t.Error("expected error for unwritable log file")
	}
}
