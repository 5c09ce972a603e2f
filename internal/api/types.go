// Package api is the authenticated client for the budget API. It owns
// the credential lifecycle: password and refresh-token exchanges,
// persistence of the token pair in a session or durable tier, and
// bearer-authorized requests that refresh the access token once when
// the server rejects it.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// TokenPath is the token endpoint. POST exchanges credentials for a
// token pair; GET with a bearer token validates it (204, no body).
const TokenPath = "/api/oauth2/token/"

// TokenTypeBearer is the only token type the server issues.
const TokenTypeBearer = "bearer"

// TokenPair is the credential set returned by the token endpoint.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Empty reports whether no access token is held.
func (p TokenPair) Empty() bool {
	return p.AccessToken == ""
}

// Claims is the unverified metadata decoded from an access token.
// The zero value means no token or an undecodable one.
type Claims struct {
	Subject  string `json:"sub"`
	IssuedAt int64  `json:"iat"`
	Expiry   int64  `json:"exp"`
}

// Tier selects where a token pair is persisted.
type Tier int

const (
	// TierNone means no tokens are held.
	TierNone Tier = iota
	// TierSession lives as long as the process.
	TierSession
	// TierDurable survives restarts. Chosen by "remember me".
	TierDurable
)

func (t Tier) String() string {
	switch t {
	case TierSession:
		return "session"
	case TierDurable:
		return "durable"
	}

	return "none"
}

// TierFor maps the remember flag to a persistence tier.
func TierFor(remember bool) Tier {
	if remember {
		return TierDurable
	}

	return TierSession
}

// Request is a single outbound API call.
type Request struct {
	Method string
	// URL is the path (and query) relative to the client's base URL.
	URL string
	// Header is sent verbatim when set. When nil, Session fills in
	// the bearer token and, for non-GET methods, a JSON content type.
	Header http.Header
	Body   []byte
	// Validator checks the decoded response body. Optional.
	Validator Validator
}

func (r Request) String() string {
	return r.Method + " " + r.URL
}

// Response is a successful API response.
type Response struct {
	Code int
	Data json.RawMessage
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// SessionState is derived from the held token pair.
type SessionState struct {
	AccessToken  string
	RefreshToken string
	User         string
	Expiry       int64
}

func validMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}

	return false
}
