package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/OpenColumn/OC-Backend/internal/identity"
)

var testSecret = []byte("test-signing-secret")

func initTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, identity.Init(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, role identity.Role) identity.User {
	t.Helper()
	user := identity.User{
		UserID:   uuid.NewString(),
		Username: "user_" + uuid.NewString()[:8],
		Role:     role,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedSession(t *testing.T, db *gorm.DB, userID string, expiresAt time.Time) identity.Session {
	t.Helper()
	session := identity.Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	require.NoError(t, db.Create(&session).Error)
	return session
}

func TestAuthenticateCookie(t *testing.T) {
	db := initTestDB(t)
	auth := &identity.Authenticator{DB: db, TokenSecret: testSecret}
	ctx := context.Background()

	user := seedUser(t, db, identity.RolePublisher)
	session := seedSession(t, db, user.UserID, time.Now().Add(time.Hour))

	id, err := auth.Authenticate(ctx, identity.Credential{
		Kind:      identity.CredentialCookie,
		SessionID: session.SessionID,
	})
	require.NoError(t, err)
	require.Equal(t, user.UserID, id.UserID)
	require.Equal(t, identity.RolePublisher, id.Role)
}

func TestAuthenticateCookieFailures(t *testing.T) {
	db := initTestDB(t)
	auth := &identity.Authenticator{DB: db, TokenSecret: testSecret}
	ctx := context.Background()

	user := seedUser(t, db, identity.RoleUser)

	t.Run("unknown session id", func(t *testing.T) {
		_, err := auth.Authenticate(ctx, identity.Credential{
			Kind:      identity.CredentialCookie,
			SessionID: uuid.NewString(),
		})
		require.ErrorIs(t, err, identity.ErrSessionNotFound)
		require.True(t, identity.IsAuthFailure(err))
	})

	t.Run("expired session", func(t *testing.T) {
		session := seedSession(t, db, user.UserID, time.Now().Add(-time.Minute))
		_, err := auth.Authenticate(ctx, identity.Credential{
			Kind:      identity.CredentialCookie,
			SessionID: session.SessionID,
		})
		require.ErrorIs(t, err, identity.ErrSessionExpired)
		require.True(t, identity.IsAuthFailure(err))
	})
}

func TestAuthenticateBearer(t *testing.T) {
	db := initTestDB(t)
	auth := &identity.Authenticator{DB: db, TokenSecret: testSecret}
	ctx := context.Background()

	user := seedUser(t, db, identity.RoleAdvertiser)
	session := seedSession(t, db, user.UserID, time.Now().Add(time.Hour))

	token, err := identity.MintSessionToken(testSecret, user.UserID, session.SessionID, time.Hour)
	require.NoError(t, err)

	id, err := auth.Authenticate(ctx, identity.Credential{
		Kind:  identity.CredentialBearer,
		Token: token,
	})
	require.NoError(t, err)
	require.Equal(t, user.UserID, id.UserID)
	require.Equal(t, identity.RoleAdvertiser, id.Role)
}

func TestAuthenticateBearerFailures(t *testing.T) {
	db := initTestDB(t)
	auth := &identity.Authenticator{DB: db, TokenSecret: testSecret}
	ctx := context.Background()

	user := seedUser(t, db, identity.RoleUser)
	session := seedSession(t, db, user.UserID, time.Now().Add(time.Hour))

	t.Run("wrong signing secret", func(t *testing.T) {
		token, err := identity.MintSessionToken([]byte("other-secret"), user.UserID, session.SessionID, time.Hour)
		require.NoError(t, err)
		_, err = auth.Authenticate(ctx, identity.Credential{Kind: identity.CredentialBearer, Token: token})
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("expired token with live session", func(t *testing.T) {
		// Token-level expiry is independent of the session row's expiry.
		token, err := identity.MintSessionToken(testSecret, user.UserID, session.SessionID, -time.Minute)
		require.NoError(t, err)
		_, err = auth.Authenticate(ctx, identity.Credential{Kind: identity.CredentialBearer, Token: token})
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("token referencing deleted session", func(t *testing.T) {
		doomed := seedSession(t, db, user.UserID, time.Now().Add(time.Hour))
		token, err := identity.MintSessionToken(testSecret, user.UserID, doomed.SessionID, time.Hour)
		require.NoError(t, err)
		require.NoError(t, db.Delete(&identity.Session{}, "session_id = ?", doomed.SessionID).Error)

		_, err = auth.Authenticate(ctx, identity.Credential{Kind: identity.CredentialBearer, Token: token})
		require.ErrorIs(t, err, identity.ErrSessionNotFound)
	})

	t.Run("token user does not match session user", func(t *testing.T) {
		other := seedUser(t, db, identity.RoleUser)
		token, err := identity.MintSessionToken(testSecret, other.UserID, session.SessionID, time.Hour)
		require.NoError(t, err)

		_, err = auth.Authenticate(ctx, identity.Credential{Kind: identity.CredentialBearer, Token: token})
		require.ErrorIs(t, err, identity.ErrIdentityMismatch)
		require.True(t, identity.IsAuthFailure(err))
	})
}

func TestDeleteExpiredSessions(t *testing.T) {
	db := initTestDB(t)
	auth := &identity.Authenticator{DB: db, TokenSecret: testSecret}
	ctx := context.Background()

	user := seedUser(t, db, identity.RoleUser)
	live := seedSession(t, db, user.UserID, time.Now().Add(time.Hour))
	seedSession(t, db, user.UserID, time.Now().Add(-time.Hour))
	seedSession(t, db, user.UserID, time.Now().Add(-time.Minute))

	n, err := auth.DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	var remaining []identity.Session
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, live.SessionID, remaining[0].SessionID)
}
