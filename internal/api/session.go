package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/alexjbarnes/budget-client/internal/logging"
	"golang.org/x/sync/singleflight"
)

// Options configures a Session.
type Options struct {
	// HTTPClient defaults to NewHTTPClient(DefaultHTTPTimeout).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Session is the logged-in API client used by the rest of the
// application. Create one per process and share it; it is safe for
// concurrent use.
type Session struct {
	store    *CredentialStore
	exec     *Executor
	exchange *Exchange
	logger   *slog.Logger

	// refreshes coalesces concurrent refreshes of the same refresh token.
	refreshes singleflight.Group

	mu        sync.Mutex
	claimsFor string
	claims    Claims
}

// NewSession creates a Session talking to baseURL with credentials held
// in store.
func NewSession(baseURL string, store *CredentialStore, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	exec := NewExecutor(opts.HTTPClient, baseURL, store.Pair, logger)

	return &Session{
		store:    store,
		exec:     exec,
		exchange: NewExchange(exec, store, logger),
		logger:   logger,
	}
}

// Login performs a password grant. With remember set the pair survives
// restarts; otherwise it lives for this process only.
func (s *Session) Login(ctx context.Context, email, password string, remember bool) (TokenPair, error) {
	pair, err := s.exchange.PasswordGrant(ctx, email, password, remember)
	if err != nil {
		s.logger.Warn("login failed", slog.Int("code", Code(err)), slog.String("error", err.Error()))
		return TokenPair{}, err
	}

	s.logger.Info("logged in",
		slog.String("user", s.User()),
		slog.String("tier", TierFor(remember).String()),
	)

	return pair, nil
}

// Logout forgets the held credentials in every tier. It makes no network
// call and is safe to repeat.
func (s *Session) Logout() error {
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}

	s.logger.Debug("logged out")

	return nil
}

// Request sends req with the held access token. When the server answers
// 401 and a refresh token is held, the pair is refreshed once and the
// request retried once; the retry's outcome is final.
func (s *Session) Request(ctx context.Context, req Request) (*Response, error) {
	pair := s.store.Pair()
	if pair.Empty() {
		return nil, missingTokenError()
	}

	if req.Header == nil {
		req.Header = http.Header{}
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

		if req.Method != http.MethodGet {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	resp, err := s.exec.Run(ctx, req)
	if err == nil || !rejected(err) || pair.RefreshToken == "" {
		return resp, err
	}

	s.logger.Debug("access token rejected, refreshing", slog.String("request", req.String()))

	fresh, err := s.refresh(ctx, pair)
	if err != nil {
		s.logger.Warn("token refresh failed", slog.Int("code", Code(err)), slog.String("error", err.Error()))
		return nil, err
	}

	retry := req
	retry.Header = req.Header.Clone()
	retry.Header.Set("Authorization", "Bearer "+fresh.AccessToken)

	return s.exec.Run(ctx, retry)
}

// refresh obtains a pair newer than stale. Goroutines refreshing the same
// refresh token share one grant, and a pair already replaced by another
// goroutine is returned without a new grant.
//
// The shared grant ignores cancellation of the caller that started it;
// the HTTP client timeout bounds it instead. A caller whose ctx is done
// stops waiting alone and the grant completes for everyone else.
func (s *Session) refresh(ctx context.Context, stale TokenPair) (TokenPair, error) {
	if cur := s.store.Pair(); !cur.Empty() && cur.AccessToken != stale.AccessToken {
		return cur, nil
	}

	grantCtx := context.WithoutCancel(ctx)

	ch := s.refreshes.DoChan(stale.RefreshToken, func() (any, error) {
		if cur := s.store.Pair(); !cur.Empty() && cur.AccessToken != stale.AccessToken {
			return cur, nil
		}

		return s.exchange.RefreshGrant(grantCtx, stale.RefreshToken, s.store.HasDurable())
	})

	select {
	case <-ctx.Done():
		err := ctx.Err()
		return TokenPair{}, &APIError{Message: err.Error(), Code: CodeTransport, Kind: KindNetwork, Err: err}
	case res := <-ch:
		if res.Err != nil {
			return TokenPair{}, res.Err
		}

		if res.Shared {
			s.logger.Debug("joined in-flight token refresh")
		}

		return res.Val.(TokenPair), nil
	}
}

// rejected reports whether the server answered 401.
func rejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindUnauthorized
}

// Get sends an authenticated GET.
func (s *Session) Get(ctx context.Context, url string) (*Response, error) {
	return s.Request(ctx, Request{Method: http.MethodGet, URL: url})
}

// Post sends body as JSON.
func (s *Session) Post(ctx context.Context, url string, body any) (*Response, error) {
	return s.send(ctx, http.MethodPost, url, body)
}

// Put sends body as JSON.
func (s *Session) Put(ctx context.Context, url string, body any) (*Response, error) {
	return s.send(ctx, http.MethodPut, url, body)
}

// Delete sends an authenticated DELETE.
func (s *Session) Delete(ctx context.Context, url string) (*Response, error) {
	return s.Request(ctx, Request{Method: http.MethodDelete, URL: url})
}

func (s *Session) send(ctx context.Context, method, url string, body any) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s %s body: %w", method, url, err)
	}

	return s.Request(ctx, Request{Method: method, URL: url, Body: data})
}

// CheckToken asks the server whether the held access token is valid.
// On success it returns the held pair.
func (s *Session) CheckToken(ctx context.Context) (TokenPair, error) {
	resp, err := s.Get(ctx, TokenPath)
	if err != nil {
		return TokenPair{}, err
	}

	var pair TokenPair
	if err := resp.Decode(&pair); err != nil {
		return TokenPair{}, err
	}

	return pair, nil
}

// Tier returns where the held pair is persisted.
func (s *Session) Tier() Tier {
	_, tier := s.store.Current()
	return tier
}

// State returns the session state derived from the held pair.
func (s *Session) State() SessionState {
	pair := s.store.Pair()
	c := s.claimsOf(pair.AccessToken)

	return SessionState{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         c.Subject,
		Expiry:       c.Expiry,
	}
}

// User is the subject of the held access token, or empty.
func (s *Session) User() string {
	return s.State().User
}

// Expiry is the expiry (epoch seconds) of the held access token, or zero
// when no decodable token is held.
func (s *Session) Expiry() int64 {
	return s.State().Expiry
}

// claimsOf decodes accessToken, reusing the last result while the token
// is unchanged.
func (s *Session) claimsOf(accessToken string) Claims {
	s.mu.Lock()
	defer s.mu.Unlock()

	if accessToken != s.claimsFor {
		s.claimsFor = accessToken
		s.claims = DecodeClaims(accessToken)
	}

	return s.claims
}
