package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSession = errors.New("no signed-in session")

// Session identifies the signed-in user. The token is forwarded to the
// backend and the realtime server, which verify it.
type Session struct {
	UserID      string
	AccessToken string
	ExpiresAt   time.Time
}

func (s Session) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrNoSession)
	}

	return nil
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionFromToken reads the user id from the sub claim of an access token.
// The signature is not checked here.
func SessionFromToken(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrNoSession
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Session{}, fmt.Errorf("parse access token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, errors.New("parse access token: unexpected claims type")
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return Session{}, fmt.Errorf("access token subject: %w", err)
	}
	session := Session{UserID: strings.TrimSpace(sub), AccessToken: token}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.Time
	}
	if err := session.Validate(); err != nil {
		return Session{}, err
	}

	return session, nil
}
