package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// recordedCall is one request seen by fakeAPI.
type recordedCall struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

// fakeAPI is an httptest server that records every request before
// handing it to handler.
type fakeAPI struct {
	srv     *httptest.Server
	mu      sync.Mutex
	calls   []recordedCall
	handler http.HandlerFunc
}

func newFakeAPI(t *testing.T, handler http.HandlerFunc) *fakeAPI {
	t.Helper()

	f := &fakeAPI{handler: handler}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   string(body),
		})
		f.mu.Unlock()

		f.handler(w, r)
	}))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeAPI) Calls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]recordedCall(nil), f.calls...)
}

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}

// testSession wires a Session to f with in-memory tiers.
type testSession struct {
	*Session
	store   *CredentialStore
	session *MemoryBackend
	durable *MemoryBackend
}

func newTestSession(t *testing.T, f *fakeAPI) *testSession {
	t.Helper()

	sessionTier := NewMemoryBackend()
	durableTier := NewMemoryBackend()

	return newTestSessionWith(t, f, sessionTier, durableTier)
}

func newTestSessionWith(t *testing.T, f *fakeAPI, sessionTier, durableTier *MemoryBackend) *testSession {
	t.Helper()

	store, err := NewCredentialStore(sessionTier, durableTier)
	require.NoError(t, err)

	s := NewSession(f.srv.URL, store, Options{HTTPClient: f.srv.Client()})

	return &testSession{Session: s, store: store, session: sessionTier, durable: durableTier}
}

// seed writes a JSON-encoded value straight into a backend, the way a
// previous run would have left it.
func seed(t *testing.T, b Backend, key, value string) {
	t.Helper()
	require.NoError(t, b.Set(key, `"`+value+`"`))
}

// rawValue returns the stored value for key, or "" when absent.
func rawValue(t *testing.T, b Backend, key string) string {
	t.Helper()

	v, _, err := b.Get(key)
	require.NoError(t, err)

	return v
}

// makeJWT signs a token carrying sub/iat/exp. The key is irrelevant to
// the client, which never verifies signatures.
func makeJWT(t *testing.T, sub string, iat, exp time.Time) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"iat": iat.Unix(),
		"exp": exp.Unix(),
	})

	s, err := tok.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	return s
}
