package api

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeClaims reads the subject, issued-at and expiry from an access
// token without verifying its signature. Only the payload segment is
// decoded; the header is ignored. The result is only fit for display and
// for a cheap "have we ever logged in" check (Expiry > 0). Any decode
// failure, including a missing claim, yields the zero value.
func DecodeClaims(accessToken string) Claims {
	parts := strings.Split(accessToken, ".")
	if len(parts) != 3 {
		return Claims{}
	}

	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return Claims{}
	}

	var rc jwt.RegisteredClaims
	if err := json.Unmarshal(payload, &rc); err != nil {
		return Claims{}
	}

	if rc.Subject == "" || rc.IssuedAt == nil || rc.ExpiresAt == nil {
		return Claims{}
	}

	return Claims{
		Subject:  rc.Subject,
		IssuedAt: rc.IssuedAt.Unix(),
		Expiry:   rc.ExpiresAt.Unix(),
	}
}
