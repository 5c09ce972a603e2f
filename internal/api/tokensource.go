package api

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenSource exposes the held credentials as an oauth2.TokenSource so
// the session can authorize clients built with oauth2.NewClient. It does
// not refresh; Session.Request owns that.
func (s *Session) TokenSource() oauth2.TokenSource {
	return sessionTokenSource{s: s}
}

type sessionTokenSource struct {
	s *Session
}

func (ts sessionTokenSource) Token() (*oauth2.Token, error) {
	st := ts.s.State()
	if st.AccessToken == "" {
		return nil, missingTokenError()
	}

	tok := &oauth2.Token{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		TokenType:    "Bearer",
	}
	if st.Expiry > 0 {
		tok.Expiry = time.Unix(st.Expiry, 0)
	}

	return tok, nil
}
