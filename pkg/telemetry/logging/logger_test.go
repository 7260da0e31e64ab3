package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"ERROR", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    LogFormat
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"", FormatJSON, false},
		{"text", FormatText, false},
		{"console", FormatConsole, false},
		{"xml", FormatJSON, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("routing decision made", "provider_id", "openai", "score", 0.91)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if record["msg"] != "routing decision made" {
		t.Errorf("msg = %v, want routing decision made", record["msg"])
	}
	if record["provider_id"] != "openai" {
		t.Errorf("provider_id = %v, want openai", record["provider_id"])
	}
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("info record emitted below warn level: %q", buf.String())
	}

	logger.Warn("loud")
	if buf.Len() == 0 {
		t.Error("warn record suppressed at warn level")
	}
}

func TestLoggerRedactsSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", RedactSecrets: true, Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("key registered", "api_key", "sk-abcdef1234567890", "provider_id", "openai")

	out := buf.String()
	if strings.Contains(out, "abcdef1234567890") {
		t.Errorf("key material leaked into log output: %s", out)
	}
	if !strings.Contains(out, "openai") {
		t.Errorf("non-secret field dropped: %s", out)
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := WithCorrelationID(WithRequestID(context.Background(), "req-1"), "corr-1")
	logger.InfoContext(ctx, "request completed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", record["request_id"])
	}
	if record["correlation_id"] != "corr-1" {
		t.Errorf("correlation_id = %v, want corr-1", record["correlation_id"])
	}
}

func TestContextFieldsEmpty(t *testing.T) {
	if fields := ContextFields(context.Background()); len(fields) != 0 {
		t.Errorf("ContextFields(empty) = %v, want none", fields)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-9")
	ctx = WithCorrelationID(ctx, "corr-9")
	ctx = WithProvider(ctx, "anthropic")
	ctx = WithKeyID(ctx, "k-9")

	if got := RequestID(ctx); got != "req-9" {
		t.Errorf("RequestID = %q, want req-9", got)
	}
	if got := CorrelationID(ctx); got != "corr-9" {
		t.Errorf("CorrelationID = %q, want corr-9", got)
	}
	if got := Provider(ctx); got != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", got)
	}
	if got := KeyID(ctx); got != "k-9" {
		t.Errorf("KeyID = %q, want k-9", got)
	}
}
