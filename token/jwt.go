package token

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// FromJWT builds a Token from a raw compact JWT without verifying its
// signature. Verification is the issuing flow's concern; this only lifts
// the lifecycle-relevant claims (expiry, issuer, scopes) into the Token.
func FromJWT(raw string) (*Token, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	tok := &Token{
		Value:  raw,
		Scopes: []string{},
		Claims: map[string]any(claims),
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tok.ExpiresAt = exp.Unix()
	}
	if iss, err := claims.GetIssuer(); err == nil {
		tok.Issuer = iss
	}

	tok.Scopes = jwtScopes(claims)
	if len(tok.Scopes) > 0 {
		tok.Kind = KindAccess
	} else {
		tok.Kind = KindID
	}
	return tok, nil
}

// jwtScopes reads the "scp" claim (array form) or the "scope" claim
// (space-delimited string form); access tokens carry one of the two.
func jwtScopes(claims jwt.MapClaims) []string {
	if scp, ok := claims["scp"].([]any); ok {
		scopes := make([]string, 0, len(scp))
		for _, s := range scp {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
		return scopes
	}
	if scope, ok := claims["scope"].(string); ok && scope != "" {
		return strings.Fields(scope)
	}
	return []string{}
}
