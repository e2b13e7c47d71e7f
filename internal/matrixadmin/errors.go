// ABOUTME: Error taxonomy for homeserver discovery, login and admin API calls
// ABOUTME: Normalizes transport failures and HTTP statuses into a small set of kinds

package matrixadmin

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. Kind implements error so callers can test with
// errors.Is(err, matrixadmin.KindCredentialExpired).
type Kind int

const (
	// KindUnknown is reported for errors that did not come from this package.
	KindUnknown Kind = iota
	// KindUnreachable means no response was received (DNS, TLS, refused, timeout).
	KindUnreachable
	// KindInvalidCredentials means the login endpoint rejected the password (401/403).
	KindInvalidCredentials
	// KindCredentialExpired means an authenticated call returned 401; the token needs re-issuing.
	KindCredentialExpired
	// KindProtocol covers every other non-success status.
	KindProtocol
	// KindMalformed means a success status whose body lacks a required field.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "transport unreachable"
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindCredentialExpired:
		return "credential expired"
	case KindProtocol:
		return "protocol error"
	case KindMalformed:
		return "malformed response"
	default:
		return "unknown error"
	}
}

func (k Kind) Error() string {
	return k.String()
}

// Op names the API operation that produced an error.
type Op string

const (
	OpDiscover      Op = "discover"
	OpLogin         Op = "login"
	OpCreateUser    Op = "create user"
	OpListUsers     Op = "list users"
	OpLockUser      Op = "lock user"
	OpWhoAmI        Op = "whoami"
	OpListMedia     Op = "list media"
	OpDeleteMedia   Op = "delete media"
	OpDeactivate    Op = "deactivate"
	OpServerVersion Op = "server version"
)

// ErrInvalidUserID is returned when a user ID is not of the form @localpart:server.
var ErrInvalidUserID = errors.New("invalid user ID")

// Error is the error type returned by every network-facing Client method.
// Message is human-readable and safe to show to an operator verbatim.
type Error struct {
	Kind       Kind
	Op         Op
	StatusCode int
	// ErrCode is the Matrix errcode from the response body, if any (e.g. M_FORBIDDEN).
	ErrCode string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Kind of this error.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func unreachable(op Op, message string, err error) *Error {
	return &Error{Kind: KindUnreachable, Op: op, Message: message, Err: err}
}

func malformed(op Op, message string, err error) *Error {
	return &Error{Kind: KindMalformed, Op: op, Message: message, Err: err}
}

// adminError classifies a non-success response from an authenticated call.
// fallback is used as the message prefix when the body carries no Matrix error.
func adminError(op Op, status int, body []byte, fallback string) *Error {
	code, msg := serverMessage(body)
	if status == http.StatusUnauthorized {
		return &Error{
			Kind:       KindCredentialExpired,
			Op:         op,
			StatusCode: status,
			ErrCode:    code,
			Message:    "access token expired or invalid; re-authenticate this server",
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("%s (%d)", fallback, status)
	}
	return &Error{
		Kind:       KindProtocol,
		Op:         op,
		StatusCode: status,
		ErrCode:    code,
		Message:    msg,
	}
}
