package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriter_jsonFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "json")
	log.Info("hidden")
	log.Warn("shown", slog.String("route", "a1b2c3d4e5f6g7h8|2024-01-02--03-04-05"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["route"] != "a1b2c3d4e5f6g7h8|2024-01-02--03-04-05" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewWithWriter_text(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "debug", "text").Debug("segment loaded", slog.Int("segment", 3))
	if !strings.Contains(buf.String(), "segment=3") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestFileWriter(t *testing.T) {
	p := filepath.Join(t.TempDir(), "replay.log")
	w := FileWriter(p)
	NewWithWriter(w, "info", "json").Info("to file")
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file missing record: %q", data)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger(NewWithWriter(&buf, "info", "json"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/routes/x/manifest", nil))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["status"] != float64(404) || rec["size"] != float64(4) || rec["path"] != "/routes/x/manifest" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestRequestLogger_requestID(t *testing.T) {
	var buf bytes.Buffer
	h := middleware.RequestID(RequestLogger(NewWithWriter(&buf, "info", "json"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["level"] != "WARN" {
		t.Errorf("server error should log at warn, got %v", rec["level"])
	}
	if id, _ := rec["request_id"].(string); id == "" {
		t.Errorf("missing request_id: %v", rec)
	}
}
