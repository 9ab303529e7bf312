package app

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return token
}

func TestSessionFromTokenReadsSubject(t *testing.T) {
	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := signedToken(t, jwt.MapClaims{"sub": "user-1", "exp": exp.Unix(), "role": "authenticated"})

	s, err := SessionFromToken(" " + token + " ")
	if err != nil {
		t.Fatalf("SessionFromToken() error: %v", err)
	}
	if s.UserID != "user-1" || s.AccessToken != token {
		t.Fatalf("unexpected session %+v", s)
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Fatalf("expected expiry %v, got %v", exp, s.ExpiresAt)
	}
	if !s.Expired(exp) || s.Expired(exp.Add(-time.Second)) {
		t.Fatalf("unexpected expiry evaluation")
	}
}

func TestSessionFromTokenRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: " "},
		{name: "not a jwt", token: "abc.def"},
		{name: "missing subject", token: signedToken(t, jwt.MapClaims{"role": "anon"})},
		{name: "blank subject", token: signedToken(t, jwt.MapClaims{"sub": "  "})},
	}

	for _, tc := range tests {
		if _, err := SessionFromToken(tc.token); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	if _, err := SessionFromToken(""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
