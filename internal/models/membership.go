package models

import (
	"cmp"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is a member's role within a workspace.
//
// Roles are an ordered enumeration: lower values take precedence when
// sorting memberships or picking a default workspace. The string form is
// only used for storage and display.
type Role int

const (
	RoleUnknown Role = iota
	RoleOwner
	RoleAdmin
	RoleMember
)

var roleNames = map[Role]string{
	RoleOwner:  "owner",
	RoleAdmin:  "admin",
	RoleMember: "member",
}

// ParseRole converts a stored role name into a Role.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", s)
}

// String returns the storage name of the role.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Precedence returns the sort rank of the role, 0 being the highest.
// Unknown roles sort last.
func (r Role) Precedence() int {
	if !r.Valid() {
		return len(roleNames)
	}
	return int(r) - int(RoleOwner)
}

// CompareRoles orders roles by precedence (owner first).
func CompareRoles(a, b Role) int {
	return cmp.Compare(a.Precedence(), b.Precedence())
}

// MarshalText implements encoding.TextMarshaler so roles serialise by name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Membership is the role a user holds in a workspace.
// A user has exactly one membership per workspace.
type Membership struct {
	UserID      uuid.UUID
	WorkspaceID uuid.UUID
	Role        Role
	JoinedAt    time.Time

	// Denormalized from the workspace when listing a user's memberships.
	WorkspaceName      string
	WorkspaceCreatedAt time.Time
}

// CompareMemberships orders memberships by role precedence, then by
// workspace creation time ascending, then by workspace ID for stability.
func CompareMemberships(a, b *Membership) int {
	if c := CompareRoles(a.Role, b.Role); c != 0 {
		return c
	}
	if c := a.WorkspaceCreatedAt.Compare(b.WorkspaceCreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.WorkspaceID.String(), b.WorkspaceID.String())
}
