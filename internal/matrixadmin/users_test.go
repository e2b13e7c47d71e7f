// ABOUTME: Tests for the Synapse admin user operations
// ABOUTME: Drives a fake homeserver to check request shape, pagination and error mapping

package matrixadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"
)

func TestCreateUser_CreatedThenUpdated(t *testing.T) {
	var calls atomic.Int32
	client, creds := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireBearer(t, w, r) {
			return
		}
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/_synapse/admin/v2/users/@alice:example.org", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s3cret", body["password"])
		assert.Equal(t, "Alice", body["displayname"])
		assert.Equal(t, false, body["admin"])
		assert.Equal(t, false, body["deactivated"])

		status := http.StatusCreated
		if calls.Add(1) > 1 {
			status = http.StatusOK
		}
		writeJSON(t, w, status, map[string]string{"name": "@alice:example.org"})
	}))

	ctx := context.Background()
	first, err := client.CreateUser(ctx, creds, "example.org", "alice", "s3cret", "Alice")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, id.UserID("@alice:example.org"), first.UserID)

	second, err := client.CreateUser(ctx, creds, "example.org", "alice", "s3cret", "Alice")
	require.NoError(t, err)
	assert.False(t, second.Created)
}

func TestCreateUser_ServerMessage(t *testing.T) {
	client, creds := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, matrixError("M_WEAK_PASSWORD", "Password is too short"))
	}))

	_, err := client.CreateUser(context.Background(), creds, "example.org", "alice", "x", "")
	require.Error(t, err)
	assert.Equal(t, KindProtocol, KindOf(err))
	assert.Equal(t, "Password is too short", err.Error())

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "M_WEAK_PASSWORD", apiErr.ErrCode)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestCreateUser_FallbackMessage(t *testing.T) {
	client, creds := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.CreateUser(context.Background(), creds, "example.org", "alice", "x", "")
	require.Error(t, err)
	assert.Equal(t, "request failed (502)", err.Error())
}

// userFixture serves a fixed list of users over /_synapse/admin/v2/users,
// paging with a numeric next_token the way Synapse does.
func userFixture(t *testing.T, total int) http.Handler {
	t.Helper()
	names := make([]string, total)
	for i := range names {
		names[i] = fmt.Sprintf("@user%03d:example.org", i)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireBearer(t, w, r) {
			return
		}
		assert.Equal(t, "/_synapse/admin/v2/users", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("guests"))

		from, err := strconv.Atoi(r.URL.Query().Get("from"))
		require.NoError(t, err)
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		require.NoError(t, err)

		end := min(from+limit, total)
		users := make([]map[string]any, 0, end-from)
		for i := from; i < end; i++ {
			users = append(users, map[string]any{
				"name":        names[i],
				"displayname": nil,
				"deactivated": i%10 == 0,
				"locked":      0,
				"admin":       1,
				"user_type":   nil,
				"creation_ts": 1700000000000 + int64(i),
			})
		}

		resp := map[string]any{"users": users, "total": total}
		if end < total {
			resp["next_token"] = end
		}
		writeJSON(t, w, http.StatusOK, resp)
	})
}

func TestListUsers_PaginatesWithoutGapsOrDuplicates(t *testing.T) {
	const total = 250
	client, creds := newTestServer(t, userFixture(t, total))

	seen := make(map[id.UserID]bool)
	pages := 0
	cursor := StartCursor
	for cursor != "" {
		page, err := client.ListUsers(context.Background(), creds, cursor)
		require.NoError(t, err)
		assert.Equal(t, total, page.Total)
		for _, u := range page.Users {
			assert.False(t, seen[u.Name], "duplicate user %s", u.Name)
			seen[u.Name] = true
		}
		cursor = page.NextCursor
		pages++
		require.LessOrEqual(t, pages, 10, "pagination did not terminate")
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, total)
	assert.True(t, seen["@user000:example.org"])
	assert.True(t, seen["@user249:example.org"])
}

func TestListUsers_DecodesFields(t *testing.T) {
	client, creds := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"users": []map[string]any{{
				"name":        "@bob:example.org",
				"displayname": "Bob",
				"deactivated": false,
				"locked":      true,
				"admin":       false,
				"user_type":   "bot",
				"creation_ts": 1700000000000,
			}},
			"next_token": "abc",
			"total":      1,
		})
	}))

	page, err := client.ListUsers(context.Background(), creds, "")
	require.NoError(t, err)
	require.Len(t, page.Users, 1)

	user := page.Users[0]
	assert.Equal(t, id.UserID("@bob:example.org"), user.Name)
	assert.Equal(t, "Bob", user.DisplayName)
	assert.True(t, user.Locked)
	assert.False(t, user.Admin)
	assert.Equal(t, "bot", user.UserType)
	assert.Equal(t, int64(1700000000000), user.CreationTS)
	assert.Equal(t, Cursor("abc"), page.NextCursor)
}

func TestListUsers_EmptyCursorStartsAtZero(t *testing.T) {
	client, creds := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("from"))
		assert.Equal(t, strconv.Itoa(PageSize), r.URL.Query().Get("limit"))
		writeJSON(t, w, http.StatusOK, map[string]any{"users": []any{}, "total": 0})
	}))

	page, err := client.ListUsers(context.Background(), creds, "")
	require.NoError(t, err)
	assert.Empty(t, page.Users)
	assert.Empty(t, page.NextCursor)
}

func TestLockUser(t *testing.T) {
	var got []bool
	client, creds := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireBearer(t, w, r) {
			return
		}
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/_synapse/admin/v2/users/@carol:example.org", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body, 1, "lock must send only the locked field")
		got = append(got, body["locked"].(bool))
		writeJSON(t, w, http.StatusOK, map[string]any{})
	}))

	ctx := context.Background()
	require.NoError(t, client.LockUser(ctx, creds, "@carol:example.org", true))
	require.NoError(t, client.LockUser(ctx, creds, "@carol:example.org", false))
	assert.Equal(t, []bool{true, false}, got)
}

func TestWhoAmI(t *testing.T) {
	client, creds := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireBearer(t, w, r) {
			return
		}
		assert.Equal(t, "/_matrix/client/v3/account/whoami", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]string{"user_id": "@admin:example.org", "device_id": "DEV"})
	}))

	userID, err := client.WhoAmI(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, id.UserID("@admin:example.org"), userID)
}

func TestWhoAmI_MissingUserID(t *testing.T) {
	client, creds := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]string{})
	}))

	_, err := client.WhoAmI(context.Background(), creds)
	assert.Equal(t, KindMalformed, KindOf(err))
}

func TestServerVersion(t *testing.T) {
	client, creds := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_synapse/admin/v1/server_version", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]string{"server_version": "1.98.0"})
	}))

	version, err := client.ServerVersion(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "1.98.0", version)
}

func TestAdminOperations_ExpiredToken(t *testing.T) {
	var deactivations atomic.Int32
	client, creds := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/_synapse/admin/v1/deactivate/@dave:example.org" {
			deactivations.Add(1)
		}
		writeJSON(t, w, http.StatusUnauthorized, matrixError("M_UNKNOWN_TOKEN", "Invalid access token passed."))
	}))
	ctx := context.Background()

	operations := map[string]func() error{
		"create": func() error {
			_, err := client.CreateUser(ctx, creds, "example.org", "dave", "pw", "")
			return err
		},
		"list": func() error {
			_, err := client.ListUsers(ctx, creds, StartCursor)
			return err
		},
		"lock": func() error {
			return client.LockUser(ctx, creds, "@dave:example.org", true)
		},
		"whoami": func() error {
			_, err := client.WhoAmI(ctx, creds)
			return err
		},
		"server version": func() error {
			_, err := client.ServerVersion(ctx, creds)
			return err
		},
		"remove": func() error {
			_, err := client.RemoveUser(ctx, creds, "@dave:example.org")
			return err
		},
	}

	for name, op := range operations {
		t.Run(name, func(t *testing.T) {
			err := op()
			require.Error(t, err)
			assert.ErrorIs(t, err, KindCredentialExpired)
			assert.Equal(t, "access token expired or invalid; re-authenticate this server", err.Error())
		})
	}
	assert.Zero(t, deactivations.Load())
}

func TestAdminOperations_Unreachable(t *testing.T) {
	client := NewClient(ClientConfig{Logger: discardLogger()})
	creds := Credentials{BaseURL: "http://127.0.0.1:1", AccessToken: testToken}

	_, err := client.ListUsers(context.Background(), creds, StartCursor)
	require.Error(t, err)
	assert.ErrorIs(t, err, KindUnreachable)
	assert.Equal(t, OpListUsers, err.(*Error).Op)
}
