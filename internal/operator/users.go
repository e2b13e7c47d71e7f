// ABOUTME: User administration on a registered server
// ABOUTME: Lock and remove refuse to act on the caller's own account and fail closed

package operator

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/2389/hsadmin/internal/matrixadmin"
)

// Status is the result of CheckServer.
type Status struct {
	Version string
	Self    id.UserID
}

// CheckServer confirms the stored token still works and has admin access.
func (s *Service) CheckServer(ctx context.Context, serverID string) (*Status, error) {
	_, creds, err := s.target(ctx, serverID)
	if err != nil {
		return nil, err
	}

	self, err := s.client.WhoAmI(ctx, creds)
	if err != nil {
		return nil, err
	}
	version, err := s.client.ServerVersion(ctx, creds)
	if err != nil {
		return nil, err
	}
	return &Status{Version: version, Self: self}, nil
}

// WhoAmI returns the account a registration acts as.
func (s *Service) WhoAmI(ctx context.Context, serverID string) (id.UserID, error) {
	_, creds, err := s.target(ctx, serverID)
	if err != nil {
		return "", err
	}
	return s.client.WhoAmI(ctx, creds)
}

// CreateUser creates or updates username on the registration's domain.
func (s *Service) CreateUser(ctx context.Context, serverID, username, password, displayName string) (*matrixadmin.CreateResult, error) {
	server, creds, err := s.target(ctx, serverID)
	if err != nil {
		return nil, err
	}
	username, err = localpart(username, server.Domain)
	if err != nil {
		return nil, err
	}
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}
	return s.client.CreateUser(ctx, creds, server.Domain, username, password, displayName)
}

// UserListing is one page of users plus the caller's identity. Self is empty
// and SelfErr set when the identity lookup failed; the page is still usable.
type UserListing struct {
	Page    *matrixadmin.UserPage
	Self    id.UserID
	SelfErr error
}

// ListUsers fetches the page at cursor and the caller's own user ID.
func (s *Service) ListUsers(ctx context.Context, serverID string, cursor matrixadmin.Cursor) (*UserListing, error) {
	_, creds, err := s.target(ctx, serverID)
	if err != nil {
		return nil, err
	}

	page, err := s.client.ListUsers(ctx, creds, cursor)
	if err != nil {
		return nil, err
	}

	listing := &UserListing{Page: page}
	listing.Self, listing.SelfErr = s.client.WhoAmI(ctx, creds)
	if listing.SelfErr != nil {
		s.logger.Warn("could not determine own account", "server", serverID, "error", listing.SelfErr)
	}
	return listing, nil
}

// LockUser locks or unlocks user. user may be a localpart or a full user ID.
func (s *Service) LockUser(ctx context.Context, serverID, user string, locked bool) (id.UserID, error) {
	server, creds, err := s.target(ctx, serverID)
	if err != nil {
		return "", err
	}
	userID := matrixadmin.UserID(user, server.Domain)
	if err := s.guardSelf(ctx, creds, userID); err != nil {
		return userID, err
	}
	return userID, s.client.LockUser(ctx, creds, userID, locked)
}

// RemoveUser deletes user's media and deactivates the account. The result
// is non-nil whenever the removal started, even if it failed part way.
func (s *Service) RemoveUser(ctx context.Context, serverID, user string) (*matrixadmin.RemoveResult, error) {
	server, creds, err := s.target(ctx, serverID)
	if err != nil {
		return nil, err
	}
	userID := matrixadmin.UserID(user, server.Domain)
	if err := s.guardSelf(ctx, creds, userID); err != nil {
		return nil, err
	}
	return s.client.RemoveUser(ctx, creds, userID)
}

// guardSelf refuses when target is the caller, or when the caller cannot be
// identified.
func (s *Service) guardSelf(ctx context.Context, creds matrixadmin.Credentials, target id.UserID) error {
	self, err := s.client.WhoAmI(ctx, creds)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIdentityUnknown, err)
	}
	if self == target {
		return fmt.Errorf("%w (%s)", ErrSelfTarget, target)
	}
	return nil
}
