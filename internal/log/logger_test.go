package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Output: &buf, Component: ComponentLedger})
	logger.WithComponent(ComponentStorage).Info("card saved", FieldCardID, "c1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec[FieldComponent] != ComponentStorage {
		t.Errorf("component = %v", rec[FieldComponent])
	}
	if rec[FieldCardID] != "c1" {
		t.Errorf("card_id = %v", rec[FieldCardID])
	}
}

func TestRequestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Output: &buf})

	h := RequestMiddleware(logger, func(*http.Request) string { return "req-1" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()).Component() != ComponentHTTP {
				t.Error("request logger not in context")
			}
			w.WriteHeader(http.StatusNotFound)
		}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/cards?x=1", nil))

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"status_code":404`, `"request_id":"req-1"`, `"path":"/api/cards"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}
}

func TestFromContextDefault(t *testing.T) {
	if FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()) == nil {
		t.Fatal("expected fallback logger")
	}
}
