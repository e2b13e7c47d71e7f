// ABOUTME: Operator service tying the registry, host grants and the homeserver client together
// ABOUTME: Implements server registration flows and guarded user administration

package operator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/2389/hsadmin/internal/grant"
	"github.com/2389/hsadmin/internal/matrixadmin"
	"github.com/2389/hsadmin/internal/registry"
)

var (
	// ErrSelfTarget is returned when an operator tries to lock or remove the
	// account the server is registered with.
	ErrSelfTarget = errors.New("refusing to act on your own account")

	// ErrIdentityUnknown is returned when the caller's own account cannot be
	// determined, so lock and remove cannot be checked for self-targeting.
	ErrIdentityUnknown = errors.New("cannot determine your own account")

	// ErrNoToken is returned for registrations without an access token, such
	// as entries imported without tokens.
	ErrNoToken = errors.New("server has no access token; re-authenticate it with servers edit")

	// ErrForeignUser is returned when a full user ID names a different server
	// than the registration it is used with.
	ErrForeignUser = errors.New("user ID belongs to another server")
)

// Homeserver is the subset of matrixadmin.Client the service uses.
type Homeserver interface {
	ResolveServer(ctx context.Context, domain string) (string, error)
	Authenticate(ctx context.Context, baseURL, fullUserID, password string) (string, error)
	CreateUser(ctx context.Context, creds matrixadmin.Credentials, domain, username, password, displayName string) (*matrixadmin.CreateResult, error)
	ListUsers(ctx context.Context, creds matrixadmin.Credentials, cursor matrixadmin.Cursor) (*matrixadmin.UserPage, error)
	LockUser(ctx context.Context, creds matrixadmin.Credentials, userID id.UserID, locked bool) error
	WhoAmI(ctx context.Context, creds matrixadmin.Credentials) (id.UserID, error)
	RemoveUser(ctx context.Context, creds matrixadmin.Credentials, userID id.UserID) (*matrixadmin.RemoveResult, error)
	ServerVersion(ctx context.Context, creds matrixadmin.Credentials) (string, error)
}

// Config holds the dependencies of a Service.
type Config struct {
	Store   registry.Store
	Client  Homeserver
	Granter grant.Granter
	Logger  *slog.Logger
}

// Service runs operator workflows against registered servers.
type Service struct {
	store   registry.Store
	client  Homeserver
	granter grant.Granter
	logger  *slog.Logger
}

// New creates a Service. A nil Granter denies every host.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	granter := cfg.Granter
	if granter == nil {
		granter = grant.Chain{}
	}
	return &Service{
		store:   cfg.Store,
		client:  cfg.Client,
		granter: granter,
		logger:  logger.With("component", "operator"),
	}
}

// Login is what an operator types to register or re-authenticate a server.
type Login struct {
	Domain   string
	Username string
	Password string
}

// AddServer resolves, authenticates and stores a new registration.
func (s *Service) AddServer(ctx context.Context, login Login) (*registry.Server, error) {
	server := &registry.Server{}
	if err := s.register(ctx, server, login); err != nil {
		return nil, err
	}
	if err := s.store.Add(ctx, server); err != nil {
		return nil, fmt.Errorf("saving server: %w", err)
	}
	s.logger.Info("server added", "id", server.ID, "domain", server.Domain, "base_url", server.BaseURL)
	return server, nil
}

// EditServer re-resolves and re-authenticates an existing registration,
// keeping its id and position. Empty Domain or Username keep the stored value.
func (s *Service) EditServer(ctx context.Context, serverID string, login Login) (*registry.Server, error) {
	server, err := s.findServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if login.Domain == "" {
		login.Domain = server.Domain
	}
	if login.Username == "" {
		login.Username = server.Username
	}

	if err := s.register(ctx, server, login); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, server); err != nil {
		return nil, fmt.Errorf("saving server: %w", err)
	}
	s.logger.Info("server updated", "id", server.ID, "domain", server.Domain, "base_url", server.BaseURL)
	return server, nil
}

// register fills server with a freshly resolved base URL and token. Hosts
// are granted before they are contacted: first the domain, then the
// delegated homeserver if it differs.
func (s *Service) register(ctx context.Context, server *registry.Server, login Login) error {
	domain, err := matrixadmin.DomainFromInput(login.Domain)
	if err != nil {
		return err
	}
	username, err := localpart(login.Username, domain)
	if err != nil {
		return err
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if login.Password == "" {
		return fmt.Errorf("password is required")
	}

	if err := s.granter.Grant(ctx, domain); err != nil {
		return fmt.Errorf("permission to contact %s: %w", domain, err)
	}

	baseURL, err := s.client.ResolveServer(ctx, domain)
	if err != nil {
		return err
	}

	if delegated := grant.HostOf(baseURL); delegated != grant.HostOf(domain) {
		if err := s.granter.Grant(ctx, delegated); err != nil {
			return fmt.Errorf("permission to contact %s: %w", delegated, err)
		}
	}

	userID := matrixadmin.UserID(username, domain)
	token, err := s.client.Authenticate(ctx, baseURL, userID.String(), login.Password)
	if err != nil {
		return err
	}

	server.BaseURL = baseURL
	server.Domain = domain
	server.Username = username
	server.AccessToken = token
	return nil
}

// localpart strips a leading "@" and a ":server" suffix. A suffix naming a
// server other than domain is rejected.
func localpart(username, domain string) (string, error) {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	i := strings.IndexByte(username, ':')
	if i < 0 {
		return username, nil
	}
	if server := username[i+1:]; !strings.EqualFold(server, domain) {
		return "", fmt.Errorf("%w: @%s is not on %s", ErrForeignUser, username, domain)
	}
	return username[:i], nil
}

// findServer looks a registration up without opening its token.
func (s *Service) findServer(ctx context.Context, serverID string) (*registry.Server, error) {
	servers, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, server := range servers {
		if server.ID == serverID {
			return server, nil
		}
	}
	return nil, fmt.Errorf("server %s: %w", serverID, registry.ErrNotFound)
}

// Servers returns every registration in insertion order.
func (s *Service) Servers(ctx context.Context) ([]*registry.Server, error) {
	return s.store.List(ctx)
}

// RemoveServer forgets a registration. Nothing is sent to the homeserver.
func (s *Service) RemoveServer(ctx context.Context, serverID string) error {
	if err := s.store.Delete(ctx, serverID); err != nil {
		return fmt.Errorf("server %s: %w", serverID, err)
	}
	s.logger.Info("server removed", "id", serverID)
	return nil
}

// target resolves a registration to the domain and credentials admin calls use.
func (s *Service) target(ctx context.Context, serverID string) (*registry.Server, matrixadmin.Credentials, error) {
	server, err := s.store.Get(ctx, serverID)
	if err != nil {
		return nil, matrixadmin.Credentials{}, fmt.Errorf("server %s: %w", serverID, err)
	}
	if server.AccessToken == "" {
		return nil, matrixadmin.Credentials{}, fmt.Errorf("%s: %w", server.Label(), ErrNoToken)
	}
	return server, matrixadmin.Credentials{BaseURL: server.BaseURL, AccessToken: server.AccessToken}, nil
}
