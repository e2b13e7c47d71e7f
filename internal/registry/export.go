// ABOUTME: YAML export and import of server registrations
// ABOUTME: Import either replaces the registry or merges by id, appending unknown entries

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DocumentVersion is the only export format version understood by Import.
const DocumentVersion = 1

// Document is the portable form of the registry.
type Document struct {
	Version int              `yaml:"version"`
	Servers []ExportedServer `yaml:"servers"`
}

// ExportedServer is one registration in a Document. AccessToken is empty
// unless the export was asked to include tokens.
type ExportedServer struct {
	ID          string    `yaml:"id"`
	Domain      string    `yaml:"domain"`
	BaseURL     string    `yaml:"base_url"`
	Username    string    `yaml:"username,omitempty"`
	AccessToken string    `yaml:"access_token,omitempty"`
	CreatedAt   time.Time `yaml:"created_at,omitempty"`
}

// WriteYAML encodes doc to w.
func (d *Document) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(d); err != nil {
		return fmt.Errorf("encoding registry document: %w", err)
	}
	return encoder.Close()
}

// ReadDocument decodes and validates a Document from r.
func ReadDocument(r io.Reader) (*Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decoding registry document: empty input")
		}
		return nil, fmt.Errorf("decoding registry document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the version and that every entry is usable.
func (d *Document) Validate() error {
	if d.Version != DocumentVersion {
		return fmt.Errorf("unsupported registry document version %d (want %d)", d.Version, DocumentVersion)
	}

	seen := make(map[string]bool)
	for i, server := range d.Servers {
		if strings.TrimSpace(server.Domain) == "" {
			return fmt.Errorf("servers[%d]: domain is required", i)
		}
		if !strings.HasPrefix(server.BaseURL, "https://") && !strings.HasPrefix(server.BaseURL, "http://") {
			return fmt.Errorf("servers[%d]: base_url must be an http(s) URL", i)
		}
		if server.ID == "" {
			continue
		}
		if _, err := uuid.Parse(server.ID); err != nil {
			return fmt.Errorf("servers[%d]: invalid id %q", i, server.ID)
		}
		if seen[server.ID] {
			return fmt.Errorf("servers[%d]: duplicate id %s", i, server.ID)
		}
		seen[server.ID] = true
	}
	return nil
}

// Export returns every registration as a Document. Tokens are included only
// when includeTokens is set, in which case a token that cannot be opened
// fails the export with ErrSealed.
func (s *SQLiteStore) Export(ctx context.Context, includeTokens bool) (*Document, error) {
	servers, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	doc := &Document{Version: DocumentVersion, Servers: make([]ExportedServer, 0, len(servers))}
	for _, server := range servers {
		exported := ExportedServer{
			ID:        server.ID,
			Domain:    server.Domain,
			BaseURL:   server.BaseURL,
			Username:  server.Username,
			CreatedAt: server.CreatedAt,
		}
		if includeTokens {
			if server.Sealed {
				return nil, fmt.Errorf("exporting %s: %w", server.Label(), ErrSealed)
			}
			exported.AccessToken = server.AccessToken
		}
		doc.Servers = append(doc.Servers, exported)
	}
	return doc, nil
}

// Import applies doc in a single transaction. In ImportReplace mode every
// existing registration is removed first. In ImportMerge mode entries whose
// id exists are updated in place and the rest are appended. Entries without
// an id get a fresh one.
func (s *SQLiteStore) Import(ctx context.Context, doc *Document, mode ImportMode) (*ImportResult, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning import: %w", err)
	}
	defer tx.Rollback()

	result := &ImportResult{}
	if mode == ImportReplace {
		res, err := tx.ExecContext(ctx, `DELETE FROM servers`)
		if err != nil {
			return nil, fmt.Errorf("clearing servers: %w", err)
		}
		removed, _ := res.RowsAffected()
		result.Removed = int(removed)
	}

	var position int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM servers`).Scan(&position); err != nil {
		return nil, fmt.Errorf("reading next position: %w", err)
	}

	now := time.Now().UTC()
	for _, entry := range doc.Servers {
		id := entry.ID
		if id == "" {
			id = uuid.New().String()
		}
		token, err := s.sealToken(id, entry.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("sealing token: %w", err)
		}

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM servers WHERE id = ?`, id).Scan(&exists)
		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx, `
				UPDATE servers
				SET base_url = ?, domain = ?, username = ?, access_token = ?, updated_at = ?
				WHERE id = ?
			`, entry.BaseURL, entry.Domain, entry.Username, token, now.Format(time.RFC3339), id)
			if err != nil {
				return nil, fmt.Errorf("updating server %s: %w", id, err)
			}
			result.Updated++

		case errors.Is(err, sql.ErrNoRows):
			createdAt := entry.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO servers (id, position, base_url, domain, username, access_token, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, id, position, entry.BaseURL, entry.Domain, entry.Username, token,
				createdAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339))
			if err != nil {
				return nil, fmt.Errorf("inserting server %s: %w", id, err)
			}
			position++
			result.Added++

		default:
			return nil, fmt.Errorf("checking server %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing import: %w", err)
	}

	s.logger.Info("imported servers",
		"added", result.Added,
		"updated", result.Updated,
		"removed", result.Removed,
	)
	return result, nil
}
