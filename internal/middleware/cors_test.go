package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const testOrigin = "https://portal.ecomlabs.ca"

func serveCORS(req *http.Request) (*httptest.ResponseRecorder, bool) {
	called := false
	handler := NewCORSMiddleware(testOrigin + "/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called
}

func preflight(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/api/ops/clickup/status", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	return req
}

func TestCORSMiddleware_SameOriginPassesThrough(t *testing.T) {
	w, called := serveCORS(httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if !called || w.Code != http.StatusOK {
		t.Fatalf("called = %v, status = %d", called, w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("requests without Origin should not get CORS headers")
	}
}

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/ops/clickup/status", nil)
	req.Header.Set("Origin", testOrigin)
	w, called := serveCORS(req)

	if !called {
		t.Fatal("allowed origin should reach the handler")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("Allow-Origin = %q, want %q", got, testOrigin)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Allow-Credentials should be true")
	}
	if w.Header().Get("Vary") != "Origin" {
		t.Errorf("Vary = %q, want Origin", w.Header().Get("Vary"))
	}
}

func TestCORSMiddleware_ForeignOriginGetsNoHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/ops/clickup/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	w, called := serveCORS(req)

	if !called {
		t.Error("simple requests still reach the handler; the browser blocks the response")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("foreign origin must not be echoed")
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	tests := []struct {
		name        string
		origin      string
		wantStatus  int
		wantMethods string
	}{
		{"allowed", testOrigin, http.StatusNoContent, "GET, POST, OPTIONS"},
		{"foreign", "https://evil.example", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, called := serveCORS(preflight(tt.origin))

			if called {
				t.Error("preflight should not reach the handler")
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Methods"); got != tt.wantMethods {
				t.Errorf("Allow-Methods = %q, want %q", got, tt.wantMethods)
			}
			if tt.wantStatus == http.StatusNoContent && w.Header().Get("Access-Control-Allow-Headers") != "Content-Type, X-CSRF-Token" {
				t.Errorf("Allow-Headers = %q", w.Header().Get("Access-Control-Allow-Headers"))
			}
		})
	}
}

func TestCORSMiddleware_PlainOptionsIsNotPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/dashboard", nil)
	req.Header.Set("Origin", testOrigin)
	_, called := serveCORS(req)

	if !called {
		t.Error("OPTIONS without Access-Control-Request-Method should reach the handler")
	}
}
