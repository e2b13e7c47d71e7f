// ABOUTME: Tests for the operator service
// ABOUTME: Runs registration and user workflows against a fake delegated homeserver

package operator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/2389/hsadmin/internal/grant"
	"github.com/2389/hsadmin/internal/matrixadmin"
	"github.com/2389/hsadmin/internal/registry"
)

const (
	testPassword = "hunter2"
	testToken    = "syt_operator"
)

// fakeHomeserver serves .well-known over TLS on 127.0.0.1 and delegates to a
// plain HTTP homeserver addressed as localhost, so the delegated host differs
// from the domain.
type fakeHomeserver struct {
	t       *testing.T
	domain  string
	baseURL string
	client  *http.Client

	mu           sync.Mutex
	whoamiStatus int
	logins       int
	locks        map[string]bool
	deactivated  []string
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	f := &fakeHomeserver{t: t, locks: make(map[string]bool)}

	homeserver := httptest.NewServer(http.HandlerFunc(f.serveAPI))
	t.Cleanup(homeserver.Close)
	f.baseURL = strings.Replace(homeserver.URL, "127.0.0.1", "localhost", 1)

	wellKnown := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/matrix/client" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"m.homeserver": map[string]string{"base_url": f.baseURL + "/"},
		})
	}))
	t.Cleanup(wellKnown.Close)
	f.domain = strings.TrimPrefix(wellKnown.URL, "https://")
	f.client = wellKnown.Client()

	return f
}

func (f *fakeHomeserver) adminID() id.UserID {
	return id.NewUserID("admin", f.domain)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeHomeserver) serveAPI(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/_matrix/client/v3/login" {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.logins++
		if body["user"] != f.adminID().String() || body["password"] != testPassword {
			writeJSON(w, http.StatusForbidden, map[string]string{"errcode": "M_FORBIDDEN", "error": "Invalid password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": testToken, "user_id": f.adminID().String()})
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+testToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"errcode": "M_UNKNOWN_TOKEN", "error": "Unknown token"})
		return
	}

	switch {
	case r.URL.Path == "/_matrix/client/v3/account/whoami":
		if f.whoamiStatus != 0 {
			writeJSON(w, f.whoamiStatus, map[string]string{"errcode": "M_UNKNOWN", "error": "whoami unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"user_id": f.adminID().String()})

	case r.URL.Path == "/_synapse/admin/v1/server_version":
		writeJSON(w, http.StatusOK, map[string]string{"server_version": "1.120.0"})

	case r.URL.Path == "/_synapse/admin/v2/users" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"users": []map[string]any{
				{"name": f.adminID().String(), "admin": true},
				{"name": id.NewUserID("bob", f.domain).String(), "locked": f.locks[id.NewUserID("bob", f.domain).String()]},
			},
			"total": 2,
		})

	case strings.HasPrefix(r.URL.Path, "/_synapse/admin/v2/users/") && r.Method == http.MethodPut:
		userID := strings.TrimPrefix(r.URL.Path, "/_synapse/admin/v2/users/")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if locked, ok := body["locked"].(bool); ok {
			f.locks[userID] = locked
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"name": userID})

	case strings.HasSuffix(r.URL.Path, "/media") && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"media": []map[string]string{{"media_id": "abc"}}})

	case strings.HasPrefix(r.URL.Path, "/_synapse/admin/v1/media/") && r.Method == http.MethodDelete:
		writeJSON(w, http.StatusOK, map[string]any{})

	case strings.HasPrefix(r.URL.Path, "/_synapse/admin/v1/deactivate/"):
		f.deactivated = append(f.deactivated, strings.TrimPrefix(r.URL.Path, "/_synapse/admin/v1/deactivate/"))
		writeJSON(w, http.StatusOK, map[string]string{"id_server_unbind_result": "success"})

	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	}
}

type recordingGranter struct {
	mu      sync.Mutex
	allowed map[string]bool
	asked   []string
}

func allowHosts(hosts ...string) *recordingGranter {
	g := &recordingGranter{allowed: make(map[string]bool)}
	for _, h := range hosts {
		g.allowed[h] = true
	}
	return g
}

func (g *recordingGranter) Grant(_ context.Context, host string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	host = grant.HostOf(host)
	g.asked = append(g.asked, host)
	if g.allowed[host] {
		return nil
	}
	return grant.NewAllowList(nil).Grant(context.Background(), host)
}

func newTestService(t *testing.T, fake *fakeHomeserver, granter grant.Granter) (*Service, *registry.SQLiteStore) {
	t.Helper()
	store, err := registry.NewSQLiteStore(filepath.Join(t.TempDir(), "servers.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := matrixadmin.NewClient(matrixadmin.ClientConfig{HTTPClient: fake.client, Logger: logger})
	return New(Config{Store: store, Client: client, Granter: granter, Logger: logger}), store
}

func addTestServer(t *testing.T, svc *Service, fake *fakeHomeserver) *registry.Server {
	t.Helper()
	server, err := svc.AddServer(context.Background(), Login{
		Domain:   "https://" + fake.domain + "/",
		Username: "admin",
		Password: testPassword,
	})
	require.NoError(t, err)
	return server
}
