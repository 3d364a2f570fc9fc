package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"trace", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output %q is not one JSON entry: %v", buf.String(), err)
	}
	return entry
}

func TestBuild_JSONCarriesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "json", "info", "1.4.0")
	log.Info("line attached", "endpoint", "/dev/ttyUSB0")

	entry := decodeLine(t, &buf)
	for field, want := range map[string]string{
		"service":  ServiceName,
		"version":  "1.4.0",
		"msg":      "line attached",
		"endpoint": "/dev/ttyUSB0",
	} {
		if entry[field] != want {
			t.Errorf("%s = %v, want %q", field, entry[field], want)
		}
	}
}

func TestBuild_UnknownFormatIsJSON(t *testing.T) {
	var buf bytes.Buffer
	build(&buf, "yaml", "", "dev").Info("x")
	decodeLine(t, &buf)
}

func TestBuild_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "TEXT", "warn", "dev")
	log.Info("dropped")
	log.Warn("kept", "address", "::0E01")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(out, "msg=kept") || !strings.Contains(out, "address=::0E01") {
		t.Errorf("text output = %q", out)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	root := build(&buf, "json", "debug", "dev")
	ksx := root.Component("ksx")

	ksx.With("address", "::0E11").Debug("device discovered")
	entry := decodeLine(t, &buf)
	if entry["component"] != "ksx" || entry["address"] != "::0E11" {
		t.Errorf("entry = %v, want component and address", entry)
	}

	buf.Reset()
	root.Info("root entry")
	if _, tagged := decodeLine(t, &buf)["component"]; tagged {
		t.Error("Component() leaked its field into the parent")
	}
}

func TestNewAndDefault(t *testing.T) {
	if New(config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}, "1.0.0") == nil {
		t.Fatal("New() = nil")
	}
	if Default() == nil {
		t.Fatal("Default() = nil")
	}
}
