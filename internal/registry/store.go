// ABOUTME: Store interface and data types for the local server registry
// ABOUTME: Defines Server registrations and the sentinel errors callers test with errors.Is

package registry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested registration does not exist
var ErrNotFound = errors.New("not found")

// ErrSealed is returned when a stored token cannot be opened with the
// configured passphrase (wrong passphrase, or none configured)
var ErrSealed = errors.New("token is sealed with a different passphrase")

// Server is one registered homeserver. BaseURL is resolved at registration
// and stays fixed until the server is edited.
type Server struct {
	ID      string
	BaseURL string
	// Domain is the bare server name the operator entered. It is not unique.
	Domain string
	// Username is the localpart used to log in.
	Username    string
	AccessToken string
	// Sealed is set by List when AccessToken could not be opened; AccessToken
	// is then empty.
	Sealed    bool
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Label is the short name used in listings, e.g. "admin@example.org".
func (s *Server) Label() string {
	if s.Username == "" {
		return s.Domain
	}
	return s.Username + "@" + s.Domain
}

// ImportMode selects how Import combines a document with existing registrations.
type ImportMode int

const (
	// ImportMerge updates registrations whose id matches and appends the rest.
	ImportMerge ImportMode = iota
	// ImportReplace deletes every registration before inserting the document.
	ImportReplace
)

// ImportResult counts what Import did.
type ImportResult struct {
	Added   int
	Updated int
	Removed int
}

// Store persists server registrations in insertion order.
type Store interface {
	Add(ctx context.Context, server *Server) error
	Get(ctx context.Context, id string) (*Server, error)
	List(ctx context.Context) ([]*Server, error)
	Update(ctx context.Context, server *Server) error
	Delete(ctx context.Context, id string) error
	Export(ctx context.Context, includeTokens bool) (*Document, error)
	Import(ctx context.Context, doc *Document, mode ImportMode) (*ImportResult, error)
	Close() error
}
