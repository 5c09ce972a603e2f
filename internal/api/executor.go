package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexjbarnes/budget-client/internal/logging"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// DefaultHTTPTimeout is used when no http.Client is supplied.
	DefaultHTTPTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads.
	maxAPIResponseBytes = 4 * 1024 * 1024
)

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so bearer tokens never reach a
// third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewHTTPClient returns the default http.Client used by the executor.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// Executor sends a single request and turns every failure into an
// *APIError. It reads the held token pair only to answer a 204 from the
// token validation endpoint; it never modifies credentials.
type Executor struct {
	httpClient *http.Client
	baseURL    string
	held       func() TokenPair
	logger     *slog.Logger
}

// NewExecutor creates an Executor for baseURL. held supplies the current
// token pair; a nil httpClient gets NewHTTPClient(DefaultHTTPTimeout).
func NewExecutor(httpClient *http.Client, baseURL string, held func() TokenPair, logger *slog.Logger) *Executor {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPTimeout)
	}

	if held == nil {
		held = func() TokenPair { return TokenPair{} }
	}

	if logger == nil {
		logger = logging.Discard()
	}

	return &Executor{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		held:       held,
		logger:     logger,
	}
}

// Run issues req and classifies the outcome. On success the response
// carries the status and raw JSON body.
func (e *Executor) Run(ctx context.Context, req Request) (*Response, error) {
	if !validMethod(req.Method) {
		return nil, &APIError{
			Message: fmt.Sprintf("unsupported method %q", req.Method),
			Code:    CodeTransport,
			Kind:    KindNetwork,
		}
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, e.baseURL+req.URL, body)
	if err != nil {
		return nil, &APIError{Message: err.Error(), Code: CodeTransport, Kind: KindNetwork, Err: err}
	}

	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		e.logger.Debug("request failed", slog.String("request", req.String()), slog.String("error", err.Error()))
		return nil, &APIError{Message: err.Error(), Code: CodeTransport, Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	code := resp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, &APIError{Message: err.Error(), Code: code, Kind: KindNetwork, Err: err}
	}

	e.logger.Debug("response",
		slog.String("request", req.String()),
		slog.Int("status", code),
		slog.Int("bytes", len(raw)),
	)

	if code == http.StatusNoContent && req.Method == http.MethodGet && isTokenPath(req.URL) {
		data, err := json.Marshal(e.held())
		if err != nil {
			return nil, &APIError{Message: err.Error(), Code: code, Kind: KindValidation, Err: err}
		}

		return e.validate(req, &Response{Code: code, Data: data})
	}

	ok := code >= 200 && code < 300

	var data json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		if !ok {
			return nil, &APIError{Message: statusMessage(resp), Code: code, Kind: kindForStatus(code)}
		}

		return nil, &APIError{Message: err.Error(), Code: code, Kind: KindValidation, Err: err}
	}

	if !ok {
		msg := detailMessage(data)
		if msg == "" {
			msg = statusMessage(resp)
		}

		return nil, &APIError{Message: msg, Code: code, Kind: kindForStatus(code)}
	}

	return e.validate(req, &Response{Code: code, Data: data})
}

func (e *Executor) validate(req Request, resp *Response) (*Response, error) {
	if req.Validator == nil {
		return resp, nil
	}

	if err := req.Validator.Validate(resp.Data); err != nil {
		e.logger.Debug("response rejected",
			slog.String("request", req.String()),
			slog.String("reason", err.Error()),
		)

		return nil, &APIError{Message: msgValidationFailed, Code: resp.Code, Kind: KindValidation, Err: err}
	}

	return resp, nil
}

// statusMessage returns the reason phrase for resp, falling back to the
// numeric status.
func statusMessage(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}

	return resp.Status
}

// isTokenPath matches the token endpoint, ignoring any query string.
func isTokenPath(u string) bool {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}

	return u == TokenPath
}
