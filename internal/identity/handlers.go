package identity

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/secure/precis"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenColumn/OC-Backend/internal/logging"
)

// Handler owns the auth HTTP surface. All dependencies are injected; there is
// no package-level store handle.
type Handler struct {
	DB         *gorm.DB
	Auth       *Authenticator
	SessionTTL time.Duration
	TokenTTL   time.Duration

	// DevCookies disables the Secure flag so cookies work over plain HTTP in
	// local dev and httptest.
	DevCookies bool
}

// normalizeUsername applies the PRECIS UsernameCaseMapped profile so lookups
// are case- and width-insensitive.
func normalizeUsername(s string) (string, error) {
	return precis.UsernameCaseMapped.String(s)
}

func (h *Handler) sessionCookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     "session_id",
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !h.DevCookies,
	}
}

func (h *Handler) createSession(r *http.Request, userID string) (Session, error) {
	session := Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(h.SessionTTL),
	}
	if err := h.DB.WithContext(r.Context()).Create(&session).Error; err != nil {
		return Session{}, err
	}
	return session, nil
}

func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var user User

	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if user.Username == "" || user.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	username, err := normalizeUsername(user.Username)
	if err != nil {
		http.Error(w, "Invalid username", http.StatusBadRequest)
		return
	}
	user.Username = username

	hashed, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Server error hashing password", http.StatusInternalServerError)
		return
	}
	user.HashedPassword = string(hashed)
	user.UserID = uuid.NewString()
	user.Password = ""

	// Roles and billing flags are never client-settable; elevation goes
	// through the entitlement state machine.
	user.Role = RoleUser
	user.HasPaid = false
	user.PublisherPackage = ""

	// The unique index on username is the arbiter; of two concurrent
	// registrations of one name, the loser observes RowsAffected == 0 rather
	// than a driver error.
	res := h.DB.WithContext(r.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoNothing: true,
	}).Create(&user)
	if res.Error != nil {
		http.Error(w, "Failed to register user", http.StatusInternalServerError)
		return
	}
	if res.RowsAffected == 0 {
		http.Error(w, "Username already taken", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"user_id":  user.UserID,
		"username": user.Username,
	})
}

// verifyCredentials resolves username+password to a user. The caller renders
// every failure as the same "Invalid credentials" response.
func (h *Handler) verifyCredentials(r *http.Request, username, password string) (User, error) {
	normalized, err := normalizeUsername(username)
	if err != nil {
		return User{}, fmt.Errorf("normalize username: %w", err)
	}

	var user User
	if err := h.DB.WithContext(r.Context()).First(&user, "username = ?", normalized).Error; err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return User{}, err
	}
	return user, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler is the web entry point: verifies credentials and sets the
// session cookie.
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	user, err := h.verifyCredentials(r, req.Username, req.Password)
	if err != nil {
		logging.FromContext(r.Context()).Info("login rejected", "username", req.Username)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	session, err := h.createSession(r, user.UserID)
	if err != nil {
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, h.sessionCookie(session.SessionID, session.ExpiresAt))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Login successful")
}

// TokenHandler is the mobile entry point: verifies credentials, creates a
// session row, and returns a signed bearer token referencing it.
func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	user, err := h.verifyCredentials(r, req.Username, req.Password)
	if err != nil {
		logging.FromContext(r.Context()).Info("token login rejected", "username", req.Username)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	session, err := h.createSession(r, user.UserID)
	if err != nil {
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	token, err := MintSessionToken(h.Auth.TokenSecret, user.UserID, session.SessionID, h.TokenTTL)
	if err != nil {
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":      token,
		"expires_at": time.Now().Add(h.TokenTTL).UTC().Format(time.RFC3339),
	})
}

// LogoutHandler deletes the session row referenced by either credential, so
// web and mobile logouts converge on the same store state.
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromRequest(r)
	if !ok {
		Deny(w)
		return
	}

	sessionID := cred.SessionID
	if cred.Kind == CredentialBearer {
		claims, err := ParseSessionToken(h.Auth.TokenSecret, cred.Token)
		if err != nil {
			Deny(w)
			return
		}
		sessionID = claims.SessionID
	}

	var session Session
	if err := h.DB.WithContext(r.Context()).First(&session, "session_id = ?", sessionID).Error; err != nil {
		Deny(w)
		return
	}
	h.DB.WithContext(r.Context()).Delete(&session)

	if cred.Kind == CredentialCookie {
		http.SetCookie(w, &http.Cookie{
			Name:   "session_id",
			Value:  "",
			MaxAge: -1,
			Path:   "/",
		})
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Logout successful")
}

type meResponse struct {
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	Role             Role   `json:"role"`
	HasPaid          bool   `json:"has_paid"`
	PublisherPackage string `json:"publisher_package,omitempty"`
}

func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := FromContext(r.Context())
	if !ok {
		Deny(w)
		return
	}

	var user User
	if err := h.DB.WithContext(r.Context()).First(&user, "user_id = ?", id.UserID).Error; err != nil {
		http.Error(w, "Couldn't find user", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meResponse{
		UserID:           user.UserID,
		Username:         user.Username,
		Role:             user.Role,
		HasPaid:          user.HasPaid,
		PublisherPackage: user.PublisherPackage,
	})
}

func (h *Handler) UpdatePasswordHandler(w http.ResponseWriter, r *http.Request) {
	type updatePassword struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}

	id, ok := FromContext(r.Context())
	if !ok {
		Deny(w)
		return
	}

	var req updatePassword
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		http.Error(w, "Current and new password are required", http.StatusBadRequest)
		return
	}

	var user User
	if err := h.DB.WithContext(r.Context()).First(&user, "user_id = ?", id.UserID).Error; err != nil {
		Deny(w)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.CurrentPassword)); err != nil {
		http.Error(w, "Invalid current password", http.StatusUnauthorized)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Server error hashing password", http.StatusInternalServerError)
		return
	}

	if err := h.DB.WithContext(r.Context()).Model(&user).Update("hashed_password", string(hashed)).Error; err != nil {
		http.Error(w, "Failed to update password", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Password updated")
}
