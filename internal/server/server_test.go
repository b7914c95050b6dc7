package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tally/internal/api"
)

func TestListenAddrRemoteGuard(t *testing.T) {
	t.Run("allows loopback", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "")
		addr, err := ListenAddr("http://127.0.0.1:7433")
		if err != nil {
			t.Fatalf("expected loopback to be allowed, got error: %v", err)
		}
		if addr != "127.0.0.1:7433" {
			t.Fatalf("unexpected addr: %s", addr)
		}
	})

	t.Run("blocks non-loopback by default", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "")
		_, err := ListenAddr("http://0.0.0.0:7433")
		if err == nil {
			t.Fatal("expected error for non-loopback listen host")
		}
	})

	t.Run("allows non-loopback when explicitly enabled", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "true")
		addr, err := ListenAddr("http://0.0.0.0:7433")
		if err != nil {
			t.Fatalf("expected allow-remote to permit host, got error: %v", err)
		}
		if addr != "0.0.0.0:7433" {
			t.Fatalf("unexpected addr: %s", addr)
		}
	})
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var errResp api.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v (body %s)", err, w.Body.String())
	}
	return errResp
}

func TestWithAuth(t *testing.T) {
	noContent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("denies missing auth", func(t *testing.T) {
		srv := &Server{apiToken: "token"}
		nextCalled := false
		handler := srv.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalled = true
		}))

		req := httptest.NewRequest(http.MethodGet, "/v1/expenses", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		if errResp := decodeErrorResponse(t, w); errResp.ErrorCode != ErrCodeUnauthorized {
			t.Fatalf("expected error_code %d, got %d", ErrCodeUnauthorized, errResp.ErrorCode)
		}
		if nextCalled {
			t.Fatal("next handler should not be called")
		}
	})

	t.Run("rejects wrong scheme", func(t *testing.T) {
		srv := &Server{apiToken: "token"}
		req := httptest.NewRequest(http.MethodGet, "/v1/expenses", nil)
		req.Header.Set("Authorization", "Basic token")
		w := httptest.NewRecorder()
		srv.withAuth(noContent).ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("allows valid auth", func(t *testing.T) {
		srv := &Server{apiToken: "token"}
		req := httptest.NewRequest(http.MethodGet, "/v1/expenses", nil)
		req.Header.Set("Authorization", "Bearer token")
		w := httptest.NewRecorder()
		srv.withAuth(noContent).ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})

	t.Run("health is always open", func(t *testing.T) {
		srv := &Server{apiToken: "token"}
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		srv.withAuth(noContent).ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})

	t.Run("admin routes require admin token when configured", func(t *testing.T) {
		srv := &Server{apiToken: "token", adminToken: "admintoken"}
		handler := srv.withAuth(noContent)

		req := httptest.NewRequest(http.MethodPost, "/v1/admin/gc-blobs", nil)
		req.Header.Set("Authorization", "Bearer token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
		if errResp := decodeErrorResponse(t, w); errResp.ErrorCode != ErrCodeForbidden {
			t.Fatalf("expected error_code %d, got %d", ErrCodeForbidden, errResp.ErrorCode)
		}

		req = httptest.NewRequest(http.MethodPost, "/v1/admin/gc-blobs", nil)
		req.Header.Set("Authorization", "Bearer token")
		req.Header.Set("X-Admin-Token", "admintoken")
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})

	t.Run("admin token works without api token", func(t *testing.T) {
		srv := &Server{adminToken: "admintoken"}
		handler := srv.withAuth(noContent)

		req := httptest.NewRequest(http.MethodPost, "/v1/admin/gc-blobs", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}

		req = httptest.NewRequest(http.MethodPost, "/v1/admin/gc-blobs", nil)
		req.Header.Set("X-Admin-Token", "admintoken")
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})
}

func TestRequestIDIsGeneratedOrKept(t *testing.T) {
	var seen string
	handler := withRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(requestIDHeader)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if len(seen) != 36 || w.Header().Get(requestIDHeader) != seen {
		t.Fatalf("expected generated uuid, got %q / %q", seen, w.Header().Get(requestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if seen != "trace-123" || w.Header().Get(requestIDHeader) != "trace-123" {
		t.Fatalf("expected client id kept, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Header.Set(requestIDHeader, "bad id with spaces")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if seen == "bad id with spaces" {
		t.Fatal("expected invalid client id replaced")
	}
}

func TestChooseMediaType(t *testing.T) {
	tests := []struct {
		declared, sniffed, want string
	}{
		{"application/pdf", "text/plain; charset=utf-8", "application/pdf"},
		{"", "image/png", "image/png"},
		{"application/octet-stream", "application/pdf", "application/pdf"},
	}
	for _, tt := range tests {
		if got := chooseMediaType(tt.declared, tt.sniffed); got != tt.want {
			t.Fatalf("chooseMediaType(%q, %q) = %q, want %q", tt.declared, tt.sniffed, got, tt.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"receipt.pdf":             "receipt.pdf",
		"../../etc/passwd":        "passwd",
		`C:\Users\me\invoice.pdf`: "invoice.pdf",
		"  ":                      "",
		"/":                       "",
	}
	for input, want := range tests {
		if got := sanitizeFilename(input); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}
