package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewParsesLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  logrus.Level
	}{
		{"debug", "debug", logrus.DebugLevel},
		{"warn", "warn", logrus.WarnLevel},
		{"unknown", "loud", logrus.InfoLevel},
		{"empty", "", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(LoggingConfig{Level: tt.level})
			if l.GetLevel() != tt.want {
				t.Fatalf("level = %v, want %v", l.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewDefaultTagsComponent(t *testing.T) {
	l := NewDefault("ledger")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["component"] != "ledger" {
		t.Fatalf("component = %v, want ledger", entry["component"])
	}
	if l.Component() != "ledger" {
		t.Fatalf("Component() = %q", l.Component())
	}
}
