package identity

import (
	"errors"
	"net/http"
)

// Role is the closed set of account roles. Exactly one role per user; any
// comparison against it goes through Authorize rather than ad hoc string
// checks at call sites.
type Role string

const (
	RoleUser       Role = "user"
	RolePublisher  Role = "publisher"
	RoleAdvertiser Role = "advertiser"
	RoleSubAdmin   Role = "sub_admin"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RolePublisher, RoleAdvertiser, RoleSubAdmin, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated principal a credential resolves to.
type Identity struct {
	UserID string
	Role   Role
}

// Capability names the roles an operation requires. AllowSelf additionally
// admits the resource owner regardless of role ("self-or-admin" checks).
type Capability struct {
	Roles     []Role
	AllowSelf bool
}

var (
	// CapAdmin is required for resolving elevation requests.
	CapAdmin = Capability{Roles: []Role{RoleAdmin}}
	// CapModeration covers operations either admin tier may perform.
	CapModeration = Capability{Roles: []Role{RoleAdmin, RoleSubAdmin}}
	// CapSelfOrAdmin admits the resource owner or an admin.
	CapSelfOrAdmin = Capability{Roles: []Role{RoleAdmin}, AllowSelf: true}
)

// ErrForbidden is the single denial error; callers render it through Deny
// without elaborating.
var ErrForbidden = errors.New("identity: forbidden")

// Deny is the one external rendering for every credential or role failure.
// Whether the caller was unauthenticated or merely under-privileged is
// indistinguishable from outside; that distinction only reaches the logs.
func Deny(w http.ResponseWriter) {
	http.Error(w, "Not permitted", http.StatusUnauthorized)
}

// Authorize checks id against cap. ownerID is the id of the resource owner
// and only matters when cap.AllowSelf is set; pass "" otherwise. The gate is
// pure: it inspects nothing beyond its arguments, and denies by default.
func Authorize(id Identity, cap Capability, ownerID string) error {
	if cap.AllowSelf && ownerID != "" && id.UserID == ownerID {
		return nil
	}
	for _, r := range cap.Roles {
		if id.Role == r {
			return nil
		}
	}
	return ErrForbidden
}
