package api

import (
	"encoding/json"
	"fmt"
	"sync"

	apperrors "github.com/alexjbarnes/budget-client/internal/errors"
)

//go:generate mockgen -destination=mock_backend_test.go -package=api . Backend

// Storage keys. Both tiers use the same literal keys.
const (
	accessTokenKey  = "access_token"
	refreshTokenKey = "refresh_token"
)

// Backend is one key-value persistence tier.
type Backend interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// MemoryBackend is a Backend that lives as long as the process. It
// backs the session tier.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

// Get returns the value stored under key. The bool is false when the
// key is absent.
func (m *MemoryBackend) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]

	return v, ok, nil
}

// Set stores value under key, replacing any previous value.
func (m *MemoryBackend) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)

	return nil
}

// CredentialStore holds the active token pair in memory and mirrors it
// into exactly one of two tiers. Values are stored as JSON strings.
type CredentialStore struct {
	mu      sync.Mutex
	session Backend
	durable Backend
	current TokenPair
	tier    Tier
}

// NewCredentialStore loads the active pair from the durable tier if it
// holds an access token, else from the session tier. A remembered login
// wins over session leftovers from an earlier mode switch.
func NewCredentialStore(session, durable Backend) (*CredentialStore, error) {
	s := &CredentialStore{session: session, durable: durable}

	for _, tier := range []Tier{TierDurable, TierSession} {
		pair, ok, err := s.Load(tier)
		if err != nil {
			return nil, err
		}

		if ok {
			s.current = pair
			s.tier = tier

			break
		}
	}

	return s, nil
}

func (s *CredentialStore) backend(tier Tier) (Backend, error) {
	switch tier {
	case TierSession:
		return s.session, nil
	case TierDurable:
		return s.durable, nil
	}

	return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidTier, tier)
}

// Load reads the pair persisted in tier. The bool is false when the tier
// holds no access token.
func (s *CredentialStore) Load(tier Tier) (TokenPair, bool, error) {
	b, err := s.backend(tier)
	if err != nil {
		return TokenPair{}, false, err
	}

	access, err := readString(b, accessTokenKey)
	if err != nil {
		return TokenPair{}, false, fmt.Errorf("loading %s credentials: %w", tier, err)
	}

	if access == "" {
		return TokenPair{}, false, nil
	}

	refresh, err := readString(b, refreshTokenKey)
	if err != nil {
		return TokenPair{}, false, fmt.Errorf("loading %s credentials: %w", tier, err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: TokenTypeBearer}, true, nil
}

// Save writes pair to tier and removes any copy from the other tier.
func (s *CredentialStore) Save(pair TokenPair, tier Tier) error {
	target, err := s.backend(tier)
	if err != nil {
		return err
	}

	other := s.session
	if tier == TierSession {
		other = s.durable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := removePair(other); err != nil {
		return fmt.Errorf("saving %s credentials: %w", tier, err)
	}

	if err := writeString(target, accessTokenKey, pair.AccessToken); err != nil {
		return fmt.Errorf("saving %s credentials: %w", tier, err)
	}

	if err := writeString(target, refreshTokenKey, pair.RefreshToken); err != nil {
		return fmt.Errorf("saving %s credentials: %w", tier, err)
	}

	pair.TokenType = TokenTypeBearer
	s.current = pair
	s.tier = tier

	return nil
}

// Clear removes the pair from both tiers and from memory. Clearing an
// empty store is a no-op.
func (s *CredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = TokenPair{}
	s.tier = TierNone

	if err := removePair(s.durable); err != nil {
		return fmt.Errorf("clearing durable credentials: %w", err)
	}

	if err := removePair(s.session); err != nil {
		return fmt.Errorf("clearing session credentials: %w", err)
	}

	return nil
}

// Current returns the active pair and the tier it came from.
func (s *CredentialStore) Current() (TokenPair, Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current, s.tier
}

// Pair returns the active pair.
func (s *CredentialStore) Pair() TokenPair {
	p, _ := s.Current()
	return p
}

// HasDurable reports whether the durable tier currently holds an access
// token. Read errors count as absent.
func (s *CredentialStore) HasDurable() bool {
	access, err := readString(s.durable, accessTokenKey)
	return err == nil && access != ""
}

func readString(b Backend, key string) (string, error) {
	raw, ok, err := b.Get(key)
	if err != nil || !ok {
		return "", err
	}

	var v string
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		// Values written by older clients may be bare strings.
		return raw, nil
	}

	return v, nil
}

func writeString(b Backend, key, value string) error {
	enc, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return b.Set(key, string(enc))
}

func removePair(b Backend) error {
	if err := b.Delete(accessTokenKey); err != nil {
		return err
	}

	return b.Delete(refreshTokenKey)
}
