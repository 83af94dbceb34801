package identity_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/OpenColumn/OC-Backend/internal/identity"
)

func TestAuthorize(t *testing.T) {
	admin := identity.Identity{UserID: "u-admin", Role: identity.RoleAdmin}
	subAdmin := identity.Identity{UserID: "u-sub", Role: identity.RoleSubAdmin}
	user := identity.Identity{UserID: "u-1", Role: identity.RoleUser}
	publisher := identity.Identity{UserID: "u-pub", Role: identity.RolePublisher}

	tests := []struct {
		name    string
		id      identity.Identity
		cap     identity.Capability
		ownerID string
		allowed bool
	}{
		{"admin passes admin gate", admin, identity.CapAdmin, "", true},
		{"sub_admin denied admin gate", subAdmin, identity.CapAdmin, "", false},
		{"sub_admin passes moderation gate", subAdmin, identity.CapModeration, "", true},
		{"admin passes moderation gate", admin, identity.CapModeration, "", true},
		{"user denied moderation gate", user, identity.CapModeration, "", false},
		{"publisher denied admin gate", publisher, identity.CapAdmin, "", false},
		{"owner passes self-or-admin", user, identity.CapSelfOrAdmin, "u-1", true},
		{"non-owner denied self-or-admin", user, identity.CapSelfOrAdmin, "u-2", false},
		{"admin passes self-or-admin on foreign resource", admin, identity.CapSelfOrAdmin, "u-2", true},
		{"empty capability denies everyone", admin, identity.Capability{}, "", false},
		{"self match ignored when AllowSelf unset", user, identity.CapAdmin, "u-1", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := identity.Authorize(tc.id, tc.cap, tc.ownerID)
			if tc.allowed {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, identity.ErrForbidden)
			}
		})
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []identity.Role{
		identity.RoleUser, identity.RolePublisher, identity.RoleAdvertiser,
		identity.RoleSubAdmin, identity.RoleAdmin,
	} {
		require.True(t, r.Valid(), string(r))
	}
	require.False(t, identity.Role("superuser").Valid())
	require.False(t, identity.Role("").Valid())
}
