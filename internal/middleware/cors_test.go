package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testOrigin = "https://app.example.com"

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		wantHandler bool
	}{
		{"allowed GET", http.MethodGet, testOrigin, false, http.StatusOK, testOrigin, true},
		{"allowed POST", http.MethodPost, testOrigin, false, http.StatusOK, testOrigin, true},
		{"other origin", http.MethodGet, "https://evil.example.com", false, http.StatusOK, "", true},
		{"no origin", http.MethodGet, "", false, http.StatusOK, "", true},
		{"preflight", http.MethodOptions, testOrigin, true, http.StatusOK, testOrigin, false},
		{"preflight from other origin", http.MethodOptions, "https://evil.example.com", true, http.StatusOK, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCORSMiddleware(testOrigin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/auth/me", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
				req.Header.Set("Access-Control-Request-Headers", csrfHeaderName)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if tt.wantOrigin != "" && w.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("credentials should be allowed for the configured origin")
			}
			if called != tt.wantHandler {
				t.Errorf("handler called = %v, want %v", called, tt.wantHandler)
			}
		})
	}
}

// TestCORSMiddleware_PreflightAllowsCSRFHeader はプリフライトでCSRFヘッダーが許可されることを検証する。
func TestCORSMiddleware_PreflightAllowsCSRFHeader(t *testing.T) {
	handler := NewCORSMiddleware(testOrigin)(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodOptions, "/auth/me", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", csrfHeaderName)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	allowed := strings.ToLower(w.Header().Get("Access-Control-Allow-Headers"))
	if !strings.Contains(allowed, strings.ToLower(csrfHeaderName)) {
		t.Errorf("Allow-Headers = %q, should include %s", allowed, csrfHeaderName)
	}
	if w.Header().Get("Access-Control-Max-Age") != "86400" {
		t.Errorf("Max-Age = %q, want 86400", w.Header().Get("Access-Control-Max-Age"))
	}
}
