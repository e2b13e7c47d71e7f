// ABOUTME: Server discovery and password login for homeserver registration
// ABOUTME: Resolves a bare domain via .well-known and exchanges credentials for a token

package matrixadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// ResolveServer fetches https://{domain}/.well-known/matrix/client and returns
// the advertised homeserver base URL without trailing slashes. The result may
// name a different host than domain when the server delegates.
func (c *Client) ResolveServer(ctx context.Context, domain string) (string, error) {
	api, err := c.session(OpDiscover, "https://"+domain, "")
	if err != nil {
		return "", err
	}

	status, body, err := c.exchange(ctx, api, request{
		op:        OpDiscover,
		method:    http.MethodGet,
		url:       api.Client.BuildURL(mautrix.BaseURLPath{".well-known", "matrix", "client"}),
		sizeLimit: mautrix.WellKnownMaxSize,
	})
	if status == 0 && err != nil {
		return "", unreachable(OpDiscover,
			fmt.Sprintf("cannot reach %s; check the domain and your network connection", domain), err)
	}
	if !isSuccess(status) {
		return "", &Error{
			Kind:       KindProtocol,
			Op:         OpDiscover,
			StatusCode: status,
			Message:    fmt.Sprintf("no .well-known found at %s (%d)", domain, status),
		}
	}
	if err != nil {
		return "", malformed(OpDiscover, "invalid .well-known response: body could not be read", err)
	}

	var wellKnown mautrix.ClientWellKnown
	if err := json.Unmarshal(body, &wellKnown); err != nil {
		return "", malformed(OpDiscover, "invalid .well-known response: body is not JSON", err)
	}
	if wellKnown.Homeserver.BaseURL == "" {
		return "", malformed(OpDiscover, "invalid .well-known response: missing m.homeserver base_url", nil)
	}

	baseURL := TrimBaseURL(wellKnown.Homeserver.BaseURL)
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", malformed(OpDiscover,
			fmt.Sprintf("invalid .well-known response: base_url %q is not an absolute URL", wellKnown.Homeserver.BaseURL), err)
	}

	c.logger.Debug("resolved homeserver", "domain", domain, "base_url", baseURL)
	return baseURL, nil
}

// loginRequest uses the legacy top-level user field, which every Synapse
// release accepts.
type loginRequest struct {
	Type                     mautrix.AuthType `json:"type"`
	User                     string           `json:"user"`
	Password                 string           `json:"password"`
	InitialDeviceDisplayName string           `json:"initial_device_display_name,omitempty"`
}

// Authenticate performs a password login for fullUserID and returns the
// access token.
func (c *Client) Authenticate(ctx context.Context, baseURL, fullUserID, password string) (string, error) {
	api, err := c.session(OpLogin, baseURL, "")
	if err != nil {
		return "", err
	}

	var resp mautrix.RespLogin
	status, body, err := c.exchange(ctx, api, request{
		op:     OpLogin,
		method: http.MethodPost,
		url:    api.Client.BuildClientURL("v3", "login"),
		body: loginRequest{
			Type:                     mautrix.AuthTypePassword,
			User:                     fullUserID,
			Password:                 password,
			InitialDeviceDisplayName: c.deviceName,
		},
		response:  &resp,
		sensitive: true,
	})
	switch {
	case status == 0 && err != nil:
		return "", unreachable(OpLogin, "cannot reach server; check the URL and your network connection", err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code, _ := serverMessage(body)
		return "", &Error{
			Kind:       KindInvalidCredentials,
			Op:         OpLogin,
			StatusCode: status,
			ErrCode:    code,
			Message:    "invalid credentials",
		}
	case !isSuccess(status):
		code, msg := serverMessage(body)
		if msg == "" {
			msg = fmt.Sprintf("login failed (%d)", status)
		}
		return "", &Error{Kind: KindProtocol, Op: OpLogin, StatusCode: status, ErrCode: code, Message: msg}
	case err != nil:
		return "", malformed(OpLogin, "invalid login response: body is not JSON", err)
	}
	if resp.AccessToken == "" {
		return "", malformed(OpLogin, "no access token in response", nil)
	}

	c.logger.Info("logged in", "user_id", resp.UserID.String(), "device_id", string(resp.DeviceID))
	return resp.AccessToken, nil
}

// UserID composes @username:domain. A username that is already a full user
// ID is returned as-is.
func UserID(username, domain string) id.UserID {
	if strings.HasPrefix(username, "@") && strings.Contains(username, ":") {
		return id.UserID(username)
	}
	return id.NewUserID(username, domain)
}

// DomainFromInput normalizes operator input such as "https://example.org/"
// to a bare server name.
func DomainFromInput(input string) (string, error) {
	domain := strings.TrimSpace(input)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimRight(domain, "/")
	if domain == "" {
		return "", fmt.Errorf("server domain is required")
	}
	if strings.ContainsAny(domain, "/?# ") {
		return "", fmt.Errorf("invalid server domain %q", input)
	}
	return domain, nil
}

// ServerName returns the server part of a user ID (everything after the
// first colon).
func ServerName(userID id.UserID) (string, error) {
	_, server, err := userID.Parse()
	if err != nil || server == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return server, nil
}
