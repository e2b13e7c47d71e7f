// ABOUTME: Tests for the SQLite registry store
// ABOUTME: Covers CRUD, insertion order, token sealing and passphrase checks

package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, passphrase string) (*SQLiteStore, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "servers.db")
	store, err := NewSQLiteStore(dbPath, passphrase)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func testServer(domain string) *Server {
	return &Server{
		BaseURL:     "https://matrix." + domain,
		Domain:      domain,
		Username:    "admin",
		AccessToken: "syt_" + domain,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "servers.db")

	store, err := NewSQLiteStore(dbPath, "")
	require.NoError(t, err)
	defer store.Close()

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestAddAndGet(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	server := testServer("example.org")
	require.NoError(t, store.Add(ctx, server))
	assert.NotEmpty(t, server.ID)
	assert.Equal(t, 0, server.Position)
	assert.False(t, server.CreatedAt.IsZero())

	got, err := store.Get(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, server.ID, got.ID)
	assert.Equal(t, "https://matrix.example.org", got.BaseURL)
	assert.Equal(t, "example.org", got.Domain)
	assert.Equal(t, "admin", got.Username)
	assert.Equal(t, "syt_example.org", got.AccessToken)
	assert.Equal(t, "admin@example.org", got.Label())
}

func TestGet_NotFound(t *testing.T) {
	store, _ := newTestStore(t, "")

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_InsertionOrder(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	domains := []string{"zeta.org", "alpha.org", "mid.org", "alpha.org"}
	for _, domain := range domains {
		require.NoError(t, store.Add(ctx, testServer(domain)))
	}

	servers, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, servers, len(domains))
	for i, server := range servers {
		assert.Equal(t, domains[i], server.Domain)
		assert.Equal(t, i, server.Position)
	}
	assert.NotEqual(t, servers[1].ID, servers[3].ID, "duplicate domains get distinct ids")
}

func TestList_Empty(t *testing.T) {
	store, _ := newTestStore(t, "")

	servers, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestUpdate(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	first := testServer("one.org")
	second := testServer("two.org")
	require.NoError(t, store.Add(ctx, first))
	require.NoError(t, store.Add(ctx, second))

	first.BaseURL = "https://hs.one.org"
	first.AccessToken = "syt_rotated"
	first.Username = "root"
	require.NoError(t, store.Update(ctx, first))

	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://hs.one.org", got.BaseURL)
	assert.Equal(t, "syt_rotated", got.AccessToken)
	assert.Equal(t, "root", got.Username)
	assert.Equal(t, 0, got.Position, "edit keeps the entry's place")

	servers, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, servers[0].ID)
}

func TestUpdate_NotFound(t *testing.T) {
	store, _ := newTestStore(t, "")

	err := store.Update(context.Background(), &Server{ID: "missing", Domain: "x.org", BaseURL: "https://x.org"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	server := testServer("example.org")
	require.NoError(t, store.Add(ctx, server))
	require.NoError(t, store.Delete(ctx, server.ID))

	_, err := store.Get(ctx, server.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, server.ID), ErrNotFound)
}

func TestAdd_AfterDeleteAppends(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	a, b := testServer("a.org"), testServer("b.org")
	require.NoError(t, store.Add(ctx, a))
	require.NoError(t, store.Add(ctx, b))
	require.NoError(t, store.Delete(ctx, a.ID))

	c := testServer("c.org")
	require.NoError(t, store.Add(ctx, c))

	servers, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "b.org", servers[0].Domain)
	assert.Equal(t, "c.org", servers[1].Domain)
}

func TestSealing_TokensAreNotStoredInPlaintext(t *testing.T) {
	store, _ := newTestStore(t, "correct horse")
	ctx := context.Background()

	server := testServer("example.org")
	require.NoError(t, store.Add(ctx, server))

	var raw string
	require.NoError(t, store.db.QueryRow(`SELECT access_token FROM servers WHERE id = ?`, server.ID).Scan(&raw))
	assert.True(t, IsSealed(raw))
	assert.NotContains(t, raw, "syt_example.org")

	got, err := store.Get(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, "syt_example.org", got.AccessToken)
}

func TestSealing_WrongPassphrase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "servers.db")

	store, err := NewSQLiteStore(dbPath, "correct horse")
	require.NoError(t, err)
	require.NoError(t, store.Add(context.Background(), testServer("example.org")))
	require.NoError(t, store.Close())

	_, err = NewSQLiteStore(dbPath, "battery staple")
	assert.ErrorIs(t, err, ErrSealed)

	reopened, err := NewSQLiteStore(dbPath, "correct horse")
	require.NoError(t, err)
	defer reopened.Close()
	servers, err := reopened.List(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "syt_example.org", servers[0].AccessToken)
}

func TestSealing_OpenedWithoutPassphrase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "servers.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath, "correct horse")
	require.NoError(t, err)
	server := testServer("example.org")
	require.NoError(t, store.Add(ctx, server))
	require.NoError(t, store.Close())

	plain, err := NewSQLiteStore(dbPath, "")
	require.NoError(t, err)
	defer plain.Close()

	_, err = plain.Get(ctx, server.ID)
	assert.True(t, errors.Is(err, ErrSealed))

	servers, err := plain.List(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.True(t, servers[0].Sealed)
	assert.Empty(t, servers[0].AccessToken)
}

func TestSealer_RejectsSwappedAssociatedData(t *testing.T) {
	salt, err := newSalt()
	require.NoError(t, err)
	sealer, err := NewSealer("pw", salt)
	require.NoError(t, err)

	sealed, err := sealer.Seal("syt_token", "server-a")
	require.NoError(t, err)

	opened, err := sealer.Open(sealed, "server-a")
	require.NoError(t, err)
	assert.Equal(t, "syt_token", opened)

	_, err = sealer.Open(sealed, "server-b")
	assert.ErrorIs(t, err, ErrSealed)

	_, err = sealer.Open("sealed:v1:!!!", "server-a")
	assert.ErrorIs(t, err, ErrSealed)

	empty, err := sealer.Seal("", "server-a")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
