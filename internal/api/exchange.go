package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alexjbarnes/budget-client/internal/logging"
)

const (
	grantPassword = "password"
	grantRefresh  = "refresh_token"
)

// Exchange acquires token pairs from the token endpoint and persists
// them in the credential store.
type Exchange struct {
	exec   *Executor
	store  *CredentialStore
	logger *slog.Logger
}

// NewExchange creates an Exchange that sends through exec and saves into
// store.
func NewExchange(exec *Executor, store *CredentialStore, logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = logging.Discard()
	}

	return &Exchange{exec: exec, store: store, logger: logger}
}

// PasswordGrant exchanges an email and password for a token pair. The
// pair is saved durably when remember is true, else for the session.
func (x *Exchange) PasswordGrant(ctx context.Context, email, password string, remember bool) (TokenPair, error) {
	form := formEncode(
		"username", email,
		"password", password,
		"remember", strconv.FormatBool(remember),
		"grant_type", grantPassword,
	)

	return x.grant(ctx, form, remember)
}

// RefreshGrant exchanges a refresh token for a new token pair.
func (x *Exchange) RefreshGrant(ctx context.Context, refreshToken string, remember bool) (TokenPair, error) {
	form := formEncode(
		"refresh_token", refreshToken,
		"remember", strconv.FormatBool(remember),
		"grant_type", grantRefresh,
	)

	return x.grant(ctx, form, remember)
}

// grant clears any held credentials, posts the form, and saves the
// validated pair. A failed grant leaves the store empty. Server and
// validation failures are returned as *APIError, unwrapped, so callers
// can show the message as is.
func (x *Exchange) grant(ctx context.Context, form string, remember bool) (TokenPair, error) {
	if err := x.store.Clear(); err != nil {
		return TokenPair{}, err
	}

	resp, err := x.exec.Run(ctx, Request{
		Method: http.MethodPost,
		URL:    TokenPath,
		Header: http.Header{
			"Content-Type": []string{"application/x-www-form-urlencoded"},
		},
		Body:      []byte(form),
		Validator: tokenPairSchema,
	})
	if err != nil {
		return TokenPair{}, err
	}

	var pair TokenPair
	if err := resp.Decode(&pair); err != nil {
		return TokenPair{}, &APIError{Message: msgValidationFailed, Code: resp.Code, Kind: KindValidation, Err: err}
	}

	tier := TierFor(remember)
	if err := x.store.Save(pair, tier); err != nil {
		return TokenPair{}, err
	}

	x.logger.Debug("token pair stored", slog.String("tier", tier.String()))

	return pair, nil
}

// formEncode builds an x-www-form-urlencoded body from key/value pairs,
// keeping the given field order. url.Values.Encode sorts by key.
func formEncode(kv ...string) string {
	var b strings.Builder

	for i := 0; i+1 < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteByte('&')
		}

		b.WriteString(url.QueryEscape(kv[i]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv[i+1]))
	}

	return b.String()
}
