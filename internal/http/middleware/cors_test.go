package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSOriginHandling(t *testing.T) {
	cases := []struct {
		name        string
		allowed     []string
		origin      string
		wantHeader  string
		wantHandler bool
	}{
		{
			name:        "listed origin echoed",
			allowed:     []string{"https://panel.serviya.ec"},
			origin:      "https://panel.serviya.ec",
			wantHeader:  "https://panel.serviya.ec",
			wantHandler: true,
		},
		{
			name:        "unknown origin gets no header",
			allowed:     []string{"https://panel.serviya.ec"},
			origin:      "https://evil.example",
			wantHeader:  "",
			wantHandler: true,
		},
		{
			name:        "wildcard echoes any origin",
			allowed:     []string{"*"},
			origin:      "https://random.example",
			wantHeader:  "https://random.example",
			wantHandler: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", tc.origin)
			rec := httptest.NewRecorder()

			CORS(tc.allowed)(next).ServeHTTP(rec, req)

			if called != tc.wantHandler {
				t.Fatalf("handler called=%v, want %v", called, tc.wantHandler)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantHeader {
				t.Fatalf("allow-origin = %q, want %q", got, tc.wantHeader)
			}
		})
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	req := httptest.NewRequest(http.MethodOptions, "/handle-whatsapp-message", nil)
	req.Header.Set("Origin", "https://panel.serviya.ec")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()

	CORS([]string{"https://panel.serviya.ec"})(next).ServeHTTP(rec, req)

	if called {
		t.Fatalf("handler must not run on preflight")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("expected allow-methods header on preflight")
	}
}
