package identity

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/OpenColumn/OC-Backend/internal/logging"
)

// Authentication failures. Handlers must collapse all of these into one
// uniform 401; the subtype is for internal logs only.
var (
	ErrSessionNotFound  = errors.New("identity: session not found")
	ErrSessionExpired   = errors.New("identity: session expired")
	ErrInvalidToken     = errors.New("identity: invalid token")
	ErrIdentityMismatch = errors.New("identity: token/session user mismatch")
)

type CredentialKind int

const (
	CredentialCookie CredentialKind = iota
	CredentialBearer
)

// Credential is what either transport adapter extracted from the request: a
// session id from the cookie, or a raw signed token from the Authorization
// header. Business code never branches on which one it was.
type Credential struct {
	Kind      CredentialKind
	SessionID string
	Token     string
}

// Authenticator resolves credentials against the session store. Read-only:
// expiry sweeping is a separate maintenance concern (DeleteExpiredSessions).
type Authenticator struct {
	DB          *gorm.DB
	TokenSecret []byte
}

// Authenticate validates the credential and returns the caller's identity
// with its current role.
func (a *Authenticator) Authenticate(ctx context.Context, cred Credential) (Identity, error) {
	var sessionID, claimedUserID string

	switch cred.Kind {
	case CredentialBearer:
		claims, err := ParseSessionToken(a.TokenSecret, cred.Token)
		if err != nil {
			logging.FromContext(ctx).Debug("bearer token rejected", "error", err)
			return Identity{}, ErrInvalidToken
		}
		sessionID = claims.SessionID
		claimedUserID = claims.Subject
	default:
		sessionID = cred.SessionID
	}

	var session Session
	err := a.DB.WithContext(ctx).First(&session, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, ErrSessionNotFound
		}
		return Identity{}, err
	}

	if !session.ExpiresAt.After(time.Now()) {
		return Identity{}, ErrSessionExpired
	}

	// The token embeds the user id, but the session row is authoritative.
	if claimedUserID != "" && claimedUserID != session.UserID {
		return Identity{}, ErrIdentityMismatch
	}

	var user User
	if err := a.DB.WithContext(ctx).First(&user, "user_id = ?", session.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, ErrSessionNotFound
		}
		return Identity{}, err
	}

	return Identity{UserID: user.UserID, Role: user.Role}, nil
}

// IsAuthFailure reports whether err is a credential problem (as opposed to a
// store fault).
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrIdentityMismatch)
}

// DeleteExpiredSessions removes session rows past their expiry. Called from a
// background ticker, never inline on the read path.
func (a *Authenticator) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res := a.DB.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&Session{})
	return res.RowsAffected, res.Error
}
