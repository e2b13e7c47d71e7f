// ABOUTME: SQLite implementation of the registry Store using modernc.org/sqlite
// ABOUTME: Keeps registrations in insertion order and seals tokens when a passphrase is set

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the registry database at path.
// When passphrase is non-empty, tokens are sealed on write; the passphrase is
// checked against the database and a mismatch returns ErrSealed.
func NewSQLiteStore(path, passphrase string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "registry")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if passphrase != "" {
		sealer, err := s.loadSealer(passphrase)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.sealer = sealer
	}

	// The file holds bearer tokens
	if err := os.Chmod(path, 0600); err != nil {
		logger.Warn("could not restrict database permissions", "path", path, "error", err)
	}

	logger.Debug("registry opened", "path", path, "sealed", s.sealer != nil)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS servers (
			id           TEXT PRIMARY KEY,
			position     INTEGER NOT NULL,
			base_url     TEXT NOT NULL,
			domain       TEXT NOT NULL,
			username     TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_servers_position ON servers(position);

		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// loadSealer derives the sealing key from the stored salt, creating the salt
// and a verifier on first use, and checks passphrase against the verifier.
func (s *SQLiteStore) loadSealer(passphrase string) (*Sealer, error) {
	var salt []byte
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'salt'`).Scan(&salt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading salt: %w", err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		salt, err = newSalt()
		if err != nil {
			return nil, err
		}
		sealer, err := NewSealer(passphrase, salt)
		if err != nil {
			return nil, err
		}
		verifier, err := sealer.Seal(verifierPlaintext, verifierAD)
		if err != nil {
			return nil, err
		}
		if _, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES ('salt', ?), ('verifier', ?)`, salt, []byte(verifier)); err != nil {
			return nil, fmt.Errorf("storing salt: %w", err)
		}
		s.logger.Info("initialized token sealing")
		return sealer, nil
	}

	sealer, err := NewSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}

	var verifier []byte
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'verifier'`).Scan(&verifier); err != nil {
		return nil, fmt.Errorf("reading verifier: %w", err)
	}
	if got, err := sealer.Open(string(verifier), verifierAD); err != nil || got != verifierPlaintext {
		return nil, fmt.Errorf("opening registry: %w", ErrSealed)
	}
	return sealer, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sealToken prepares a token for storage.
func (s *SQLiteStore) sealToken(id, token string) (string, error) {
	if s.sealer == nil {
		return token, nil
	}
	return s.sealer.Seal(token, id)
}

// Add stores a new registration at the end of the list.
// An empty ID is replaced with a fresh UUID.
func (s *SQLiteStore) Add(ctx context.Context, server *Server) error {
	if server.ID == "" {
		server.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if server.CreatedAt.IsZero() {
		server.CreatedAt = now
	}
	server.UpdatedAt = now

	token, err := s.sealToken(server.ID, server.AccessToken)
	if err != nil {
		return fmt.Errorf("sealing token: %w", err)
	}

	query := `
		INSERT INTO servers (id, position, base_url, domain, username, access_token, created_at, updated_at)
		SELECT ?, COALESCE(MAX(position), -1) + 1, ?, ?, ?, ?, ?, ?
		FROM servers
	`

	_, err = s.db.ExecContext(ctx, query,
		server.ID,
		server.BaseURL,
		server.Domain,
		server.Username,
		token,
		server.CreatedAt.Format(time.RFC3339),
		server.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting server: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT position FROM servers WHERE id = ?`, server.ID).Scan(&server.Position); err != nil {
		return fmt.Errorf("reading position: %w", err)
	}

	s.logger.Debug("added server", "id", server.ID, "domain", server.Domain)
	return nil
}

const selectServer = `
	SELECT id, position, base_url, domain, username, access_token, created_at, updated_at
	FROM servers
`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanServer reads one row. The token is returned still sealed.
func scanServer(row rowScanner) (*Server, error) {
	var server Server
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&server.ID,
		&server.Position,
		&server.BaseURL,
		&server.Domain,
		&server.Username,
		&server.AccessToken,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	server.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	server.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &server, nil
}

// Get retrieves a registration by ID with its token opened.
// Returns ErrNotFound if it doesn't exist and ErrSealed if the token cannot
// be opened.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Server, error) {
	server, err := scanServer(s.db.QueryRowContext(ctx, selectServer+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying server: %w", err)
	}

	server.AccessToken, err = s.sealer.Open(server.AccessToken, server.ID)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", server.Label(), err)
	}
	return server, nil
}

// List returns every registration in insertion order. Tokens that cannot be
// opened are blanked and the entry is marked Sealed.
func (s *SQLiteStore) List(ctx context.Context) ([]*Server, error) {
	rows, err := s.db.QueryContext(ctx, selectServer+` ORDER BY position, created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		token, err := s.sealer.Open(server.AccessToken, server.ID)
		if err != nil {
			server.AccessToken = ""
			server.Sealed = true
		} else {
			server.AccessToken = token
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating servers: %w", err)
	}
	return servers, nil
}

// Update replaces the connection details of an existing registration.
// ID, Position and CreatedAt are preserved. Returns ErrNotFound if the
// registration doesn't exist.
func (s *SQLiteStore) Update(ctx context.Context, server *Server) error {
	server.UpdatedAt = time.Now().UTC()

	token, err := s.sealToken(server.ID, server.AccessToken)
	if err != nil {
		return fmt.Errorf("sealing token: %w", err)
	}

	query := `
		UPDATE servers
		SET base_url = ?, domain = ?, username = ?, access_token = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		server.BaseURL,
		server.Domain,
		server.Username,
		token,
		server.UpdatedAt.Format(time.RFC3339),
		server.ID,
	)
	if err != nil {
		return fmt.Errorf("updating server: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated server", "id", server.ID, "domain", server.Domain)
	return nil
}

// Delete removes a registration.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted server", "id", id)
	return nil
}
