// ABOUTME: Synapse admin API user operations: create/update, list, lock, whoami
// ABOUTME: Each call is a single authenticated request over explicit credentials

package matrixadmin

import (
	"context"
	"net/http"
	"strconv"

	"go.mau.fi/util/ptr"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
	"maunium.net/go/mautrix/synapseadmin"
)

// PageSize is the number of users requested per ListUsers call.
const PageSize = 100

// RemoteUser is one row of a user listing.
type RemoteUser struct {
	Name        id.UserID
	DisplayName string
	Deactivated bool
	Locked      bool
	Admin       bool
	UserType    string
	// CreationTS is the account creation time in milliseconds since the epoch.
	CreationTS int64
}

// UserPage is one page of a user listing.
type UserPage struct {
	Users []RemoteUser
	// NextCursor is empty when there are no further pages.
	NextCursor Cursor
	Total      int
}

// CreateResult reports whether CreateUser created a new account or updated an
// existing one.
type CreateResult struct {
	UserID  id.UserID
	Created bool
}

type wireUser struct {
	Name        string  `json:"name"`
	DisplayName *string `json:"displayname"`
	Deactivated flag    `json:"deactivated"`
	Locked      flag    `json:"locked"`
	Admin       flag    `json:"admin"`
	UserType    *string `json:"user_type"`
	CreationTS  int64   `json:"creation_ts"`
}

type listUsersResponse struct {
	Users     []wireUser `json:"users"`
	NextToken Cursor     `json:"next_token"`
	Total     int        `json:"total"`
}

// CreateUser creates or overwrites the account @username:domain as a
// non-admin, active user. Synapse answers 201 for a new account and 200 for
// an update.
func (c *Client) CreateUser(ctx context.Context, creds Credentials, domain, username, password, displayName string) (*CreateResult, error) {
	api, err := c.session(OpCreateUser, creds.BaseURL, creds.AccessToken)
	if err != nil {
		return nil, err
	}
	userID := UserID(username, domain)

	status, err := c.call(ctx, api, request{
		op:     OpCreateUser,
		method: http.MethodPut,
		url:    api.BuildAdminURL("v2", "users", userID),
		body: synapseadmin.ReqCreateOrModifyAccount{
			Password:    password,
			Displayname: displayName,
			Admin:       ptr.Ptr(false),
			Deactivated: ptr.Ptr(false),
		},
		sensitive: true,
		fallback:  "request failed",
	})
	if err != nil {
		return nil, err
	}

	result := &CreateResult{UserID: userID, Created: status != http.StatusOK}
	c.logger.Info("upserted user", "user_id", userID.String(), "created", result.Created)
	return result, nil
}

// ListUsers fetches one page of non-guest users starting at cursor. An empty
// cursor starts at the beginning. Callers page by passing NextCursor back in.
func (c *Client) ListUsers(ctx context.Context, creds Credentials, cursor Cursor) (*UserPage, error) {
	api, err := c.session(OpListUsers, creds.BaseURL, creds.AccessToken)
	if err != nil {
		return nil, err
	}
	if cursor == "" {
		cursor = StartCursor
	}

	var resp listUsersResponse
	_, err = c.call(ctx, api, request{
		op:     OpListUsers,
		method: http.MethodGet,
		url: api.Client.BuildURLWithQuery(mautrix.SynapseAdminURLPath{"v2", "users"}, map[string]string{
			"from":   string(cursor),
			"limit":  strconv.Itoa(PageSize),
			"guests": "false",
		}),
		response: &resp,
		fallback: "request failed",
	})
	if err != nil {
		return nil, err
	}

	page := &UserPage{
		Users:      make([]RemoteUser, 0, len(resp.Users)),
		NextCursor: resp.NextToken,
		Total:      resp.Total,
	}
	for _, u := range resp.Users {
		user := RemoteUser{
			Name:        id.UserID(u.Name),
			Deactivated: bool(u.Deactivated),
			Locked:      bool(u.Locked),
			Admin:       bool(u.Admin),
			CreationTS:  u.CreationTS,
		}
		if u.DisplayName != nil {
			user.DisplayName = *u.DisplayName
		}
		if u.UserType != nil {
			user.UserType = *u.UserType
		}
		page.Users = append(page.Users, user)
	}
	return page, nil
}

// LockUser sets or clears the lock flag on userID. It does not guard against
// locking the caller's own account.
func (c *Client) LockUser(ctx context.Context, creds Credentials, userID id.UserID, locked bool) error {
	api, err := c.session(OpLockUser, creds.BaseURL, creds.AccessToken)
	if err != nil {
		return err
	}

	_, err = c.call(ctx, api, request{
		op:       OpLockUser,
		method:   http.MethodPut,
		url:      api.BuildAdminURL("v2", "users", userID),
		body:     synapseadmin.ReqCreateOrModifyAccount{Locked: &locked},
		fallback: "request failed",
	})
	if err != nil {
		return err
	}
	c.logger.Info("changed user lock", "user_id", userID.String(), "locked", locked)
	return nil
}

// WhoAmI returns the user ID that owns creds.AccessToken.
func (c *Client) WhoAmI(ctx context.Context, creds Credentials) (id.UserID, error) {
	api, err := c.session(OpWhoAmI, creds.BaseURL, creds.AccessToken)
	if err != nil {
		return "", err
	}

	var resp mautrix.RespWhoami
	_, err = c.call(ctx, api, request{
		op:       OpWhoAmI,
		method:   http.MethodGet,
		url:      api.Client.BuildClientURL("v3", "account", "whoami"),
		response: &resp,
		fallback: "request failed",
	})
	if err != nil {
		return "", err
	}
	if resp.UserID == "" {
		return "", malformed(OpWhoAmI, "invalid whoami response: missing user_id", nil)
	}
	return resp.UserID, nil
}

// ServerVersion returns the Synapse version string. It doubles as a check that
// the token still has admin access.
func (c *Client) ServerVersion(ctx context.Context, creds Credentials) (string, error) {
	api, err := c.session(OpServerVersion, creds.BaseURL, creds.AccessToken)
	if err != nil {
		return "", err
	}

	var resp struct {
		ServerVersion string `json:"server_version"`
	}
	_, err = c.call(ctx, api, request{
		op:       OpServerVersion,
		method:   http.MethodGet,
		url:      api.BuildAdminURL("v1", "server_version"),
		response: &resp,
		fallback: "request failed",
	})
	if err != nil {
		return "", err
	}
	return resp.ServerVersion, nil
}
