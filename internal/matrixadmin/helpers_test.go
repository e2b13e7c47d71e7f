// ABOUTME: Shared fixtures for matrixadmin tests
// ABOUTME: Spins up httptest homeservers and clients that talk to them

package matrixadmin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testToken = "syt_admin_token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer starts a plain HTTP homeserver and returns a client and
// credentials pointing at it.
func newTestServer(t *testing.T, handler http.Handler) (*Client, Credentials) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{HTTPClient: server.Client(), Logger: discardLogger()})
	return client, Credentials{BaseURL: server.URL + "/", AccessToken: testToken}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}
}

func matrixError(code, message string) map[string]string {
	return map[string]string{"errcode": code, "error": message}
}

// requireBearer fails the request with 401 if the expected token is missing.
func requireBearer(t *testing.T, w http.ResponseWriter, r *http.Request) bool {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
		t.Errorf("unexpected Authorization header %q", got)
		writeJSON(t, w, http.StatusUnauthorized, matrixError("M_MISSING_TOKEN", "missing token"))
		return false
	}
	return true
}
