package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSDefaultsExposeExportHeaders(t *testing.T) {
	handler := CORS(CORSConfig{})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/holders.csv", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("default origin: got %q", got)
	}
	if got := res.Header().Get("Access-Control-Expose-Headers"); got != "X-Checksum-Sha256, X-Next-Cursor" {
		t.Fatalf("export headers not exposed: got %q", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	handler := CORS(CORSConfig{
		AllowedOrigins:   []string{"https://ops.example"},
		AllowedMethods:   []string{"GET"},
		AllowCredentials: true,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/status", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("preflight status: got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example" {
		t.Fatalf("pinned origin: got %q", got)
	}
	if got := res.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("credentials flag: got %q", got)
	}
	if got := res.Header().Get("Access-Control-Allow-Methods"); got != "GET" {
		t.Fatalf("methods: got %q", got)
	}
}
