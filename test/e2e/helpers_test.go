package e2e_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alexjbarnes/budget-client/internal/api"
	"github.com/alexjbarnes/budget-client/internal/ledger"
	"github.com/alexjbarnes/budget-client/internal/state"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "joe@foo.com"
	testPassword = "foobar"
)

// budgetServer is an in-process budget API with opaque rotating tokens.
// Each refresh invalidates the refresh token it consumed.
type budgetServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	seq     int
	access  map[string]bool
	refresh map[string]bool
	grants  []string
	txns    []ledger.Transaction
}

func newBudgetServer(t *testing.T) *budgetServer {
	t.Helper()

	b := &budgetServer{
		access:  map[string]bool{},
		refresh: map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/oauth2/token/", b.handleToken)
	mux.HandleFunc("/api/transaction/", b.authorized(b.handleTransactions))
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)

	return b
}

func (b *budgetServer) issue(w http.ResponseWriter) {
	b.seq++
	at := fmt.Sprintf("at-%d", b.seq)
	rt := fmt.Sprintf("rt-%d", b.seq)
	b.access[at] = true
	b.refresh[rt] = true

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  at,
		"refresh_token": rt,
		"token_type":    "bearer",
	})
}

func (b *budgetServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		b.authorized(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})(w, r)

		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	grant := r.PostForm.Get("grant_type")
	b.grants = append(b.grants, grant)

	switch grant {
	case "password":
		if r.PostForm.Get("username") != testEmail || r.PostForm.Get("password") != testPassword {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
			return
		}
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		if !b.refresh[rt] {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect token"})
			return
		}

		delete(b.refresh, rt)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "unsupported grant"})
		return
	}

	b.issue(w)
}

func (b *budgetServer) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		at, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")

		b.mu.Lock()
		valid := ok && b.access[at]
		b.mu.Unlock()

		if !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid/expired access token"})
			return
		}

		next(w, r)
	}
}

func (b *budgetServer) handleTransactions(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		out := []ledger.Transaction{}
		q := r.URL.Query().Get("query")

		for _, t := range b.txns {
			if q == "" || strings.Contains(strings.ToLower(t.Description), strings.ToLower(q)) {
				out = append(out, t)
			}
		}

		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var t ledger.Transaction
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
			return
		}

		id := len(b.txns) + 1
		t.ID = &id
		b.txns = append(b.txns, t)
		writeJSON(w, http.StatusCreated, t)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// expireAccessTokens invalidates every issued access token, leaving
// refresh tokens usable.
func (b *budgetServer) expireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.access)
}

// revokeAll invalidates every issued token.
func (b *budgetServer) revokeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.access)
	clear(b.refresh)
}

func (b *budgetServer) Grants() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.grants...)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// client is one process's view of the service: a bbolt state file, a
// Session and a ledger client.
type client struct {
	State   *state.State
	Session *api.Session
	Ledger  *ledger.Client
}

// openClient opens the state file at path and wires a fresh Session to
// b, the way the CLI does at startup.
func openClient(t *testing.T, b *budgetServer, path string) *client {
	t.Helper()

	st, err := state.LoadAt(path)
	require.NoError(t, err)

	store, err := api.NewCredentialStore(api.NewMemoryBackend(), st)
	require.NoError(t, err)

	s := api.NewSession(b.srv.URL, store, api.Options{
		HTTPClient: b.srv.Client(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &client{State: st, Session: s, Ledger: ledger.New(s)}
}

func (c *client) Close(t *testing.T) {
	t.Helper()
	require.NoError(t, c.State.Close())
}

func statePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state.db")
}
