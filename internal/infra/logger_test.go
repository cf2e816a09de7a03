package infra

import (
	"bytes"
	"encoding/json"
	"testing"

	"riderdispatch/internal/config"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "prod", config.LoggingConfig{Level: "debug", Format: "json"})
	log.Debug().Str("component", "test").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "hello" || entry["component"] != "test" || entry["service"] != "dispatch" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "prod", config.LoggingConfig{Level: "warn"})
	log.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestNewLoggerBadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "prod", config.LoggingConfig{Level: "loud"})
	log.Debug().Msg("dropped")
	log.Info().Msg("kept")
	if !bytes.Contains(buf.Bytes(), []byte("kept")) || bytes.Contains(buf.Bytes(), []byte("dropped")) {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
