package models

import "fmt"

// Role of the caller. Both covers accounts that rent and own.
type Role string

const (
	RoleRenter Role = "renter"
	RoleOwner  Role = "owner"
	RoleBoth   Role = "both"
	// RoleSystem is never issued to users; background jobs act with it.
	RoleSystem Role = "system"
)

func ParseRole(raw string) (Role, error) {
	r := Role(raw)
	switch r {
	case RoleRenter, RoleOwner, RoleBoth:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Session identifies who is calling. It is passed explicitly into every operation.
type Session struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

func SystemSession() Session {
	return Session{Role: RoleSystem}
}

func (s Session) CanRent() bool {
	switch s.Role {
	case RoleRenter, RoleBoth:
		return true
	case RoleOwner, RoleSystem:
		return false
	default:
		return false
	}
}

func (s Session) CanManage() bool {
	switch s.Role {
	case RoleOwner, RoleBoth, RoleSystem:
		return true
	case RoleRenter:
		return false
	default:
		return false
	}
}

func (s Session) IsSystem() bool { return s.Role == RoleSystem }
