package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID_CallerValueKept(t *testing.T) {
	f := testServer(t, Deps{})

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"printable", "ops-42", true},
		{"too long", strings.Repeat("a", maxRequestIDLength+1), false},
		{"control chars", "bad\nid", false},
		{"space", "two words", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			req.Header.Set("X-Request-ID", tt.header)
			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if tt.keep && got != tt.header {
				t.Errorf("X-Request-ID = %q, want caller value", got)
			}
			if !tt.keep && (got == tt.header || got == "") {
				t.Errorf("X-Request-ID = %q, want a generated ID", got)
			}
		})
	}
}

func TestStatusWriter_CountsBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	w.WriteHeader(http.StatusTeapot)
	_, _ = w.Write([]byte("short"))
	_, _ = w.Write([]byte(" and stout"))

	if w.status != http.StatusTeapot || w.written != 15 {
		t.Errorf("status = %d, written = %d", w.status, w.written)
	}
	if w.Unwrap() != rec {
		t.Error("Unwrap() should return the underlying writer")
	}
}
