// ABOUTME: Request plumbing shared by the resolver and admin operations
// ABOUTME: Sends every call through a mautrix client and maps its failures onto the error taxonomy

package matrixadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/synapseadmin"
)

const (
	// DefaultMediaConcurrency bounds parallel media deletions during RemoveUser.
	DefaultMediaConcurrency = 4

	// DefaultDeviceName is sent as initial_device_display_name on login.
	DefaultDeviceName = "hsadmin"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 8 << 20
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// MediaConcurrency bounds parallel media deletions. Zero means DefaultMediaConcurrency.
	MediaConcurrency int
	// DeviceName labels the device created by Authenticate.
	DeviceName string
}

// Client talks to Matrix homeservers. It keeps no per-server state: every
// method receives the base URL and token it should use, so one Client can
// serve any number of registered servers concurrently.
type Client struct {
	httpClient       *http.Client
	logger           *slog.Logger
	mediaConcurrency int
	deviceName       string
}

// Credentials identify the server and account an admin call acts as.
type Credentials struct {
	BaseURL     string
	AccessToken string
}

// NewClient creates a Client.
func NewClient(config ClientConfig) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := config.MediaConcurrency
	if concurrency <= 0 {
		concurrency = DefaultMediaConcurrency
	}
	deviceName := config.DeviceName
	if deviceName == "" {
		deviceName = DefaultDeviceName
	}
	return &Client{
		httpClient:       httpClient,
		logger:           logger.With("component", "matrixadmin"),
		mediaConcurrency: concurrency,
		deviceName:       deviceName,
	}
}

// TrimBaseURL strips trailing slashes so paths can be appended directly.
func TrimBaseURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/")
}

// session builds a mautrix client for one server and token. Retries are
// disabled: a failed call is reported, never repeated.
func (c *Client) session(op Op, baseURL, token string) (*synapseadmin.Client, error) {
	matrix, err := mautrix.NewClient(TrimBaseURL(baseURL), "", token)
	if err != nil {
		return nil, malformed(op, fmt.Sprintf("invalid server URL %q", baseURL), err)
	}
	matrix.Client = c.httpClient
	matrix.UserAgent = c.deviceName
	matrix.DefaultHTTPRetries = 0
	matrix.IgnoreRateLimit = true
	matrix.ResponseSizeLimit = maxResponseBytes
	return &synapseadmin.Client{Client: matrix}, nil
}

// request is one call made through exchange.
type request struct {
	op        Op
	method    string
	url       string
	body      any
	response  any
	sensitive bool
	sizeLimit int64
	// fallback prefixes the message of protocol errors without a server message.
	fallback string
}

// exchange performs req exactly once. status is zero when no response was
// received. On a rejected request body holds the raw error response.
func (c *Client) exchange(ctx context.Context, api *synapseadmin.Client, req request) (status int, body []byte, err error) {
	body, resp, err := api.Client.MakeFullRequestWithResp(ctx, mautrix.FullRequest{
		Method:            req.method,
		URL:               req.url,
		RequestJSON:       req.body,
		ResponseJSON:      req.response,
		MaxAttempts:       1,
		SensitiveContent:  req.sensitive,
		ResponseSizeLimit: req.sizeLimit,
	})
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		c.logger.Debug("request failed", "op", string(req.op), "method", req.method, "status", status, "error", err)
	}
	return status, body, err
}

// call performs an authenticated admin request and returns the response
// status. Failures are returned as *Error.
func (c *Client) call(ctx context.Context, api *synapseadmin.Client, req request) (int, error) {
	status, body, err := c.exchange(ctx, api, req)
	if err == nil {
		return status, nil
	}
	return status, classify(req.op, status, body, err, req.fallback)
}

// classify maps a failed exchange onto the taxonomy. A zero status means the
// server was never reached; a success status means the body could not be
// decoded.
func classify(op Op, status int, body []byte, err error, fallback string) *Error {
	switch {
	case status == 0:
		return unreachable(op, "cannot reach server; check your network connection", err)
	case isSuccess(status):
		apiErr := malformed(op, fmt.Sprintf("invalid %s response", op), err)
		apiErr.StatusCode = status
		return apiErr
	default:
		return adminError(op, status, body, fallback)
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// serverMessage extracts the Matrix errcode and error text from a response body.
func serverMessage(body []byte) (code, message string) {
	if len(body) == 0 {
		return "", ""
	}
	var respErr mautrix.RespError
	if err := json.Unmarshal(body, &respErr); err != nil {
		return "", ""
	}
	return respErr.ErrCode, respErr.Err
}

// Cursor is an opaque continuation token. Synapse sends it as either a JSON
// string or a JSON number; both decode to the literal text, which is echoed
// back unchanged on the next call.
type Cursor string

// StartCursor denotes the start of a collection.
const StartCursor Cursor = "0"

func (c *Cursor) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*c = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Cursor(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("cursor must be a string or number: %w", err)
		}
		*c = Cursor(n.String())
	}
	return nil
}

// flag decodes Synapse booleans, which older endpoints encode as 0/1.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}
