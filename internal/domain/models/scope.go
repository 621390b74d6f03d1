package models

import "github.com/google/uuid"

// Scope is the explicit capability a caller presents to the ledger and the
// engine. Internal settlement runs under SystemScope, which may move value
// between any two users inside one transaction; everything else is bound to
// the calling user unless the role elevates it.
type Scope struct {
	UserID uuid.UUID
	Role   UserRole

	system bool
}

func UserScope(userID uuid.UUID) Scope {
	return Scope{UserID: userID, Role: UserRoleUser}
}

func AdminScope(userID uuid.UUID) Scope {
	return Scope{UserID: userID, Role: UserRoleAdmin}
}

func SystemScope() Scope {
	return Scope{system: true}
}

func (s Scope) IsSystem() bool {
	return s.system
}

func (s Scope) IsAuthenticated() bool {
	return s.system || s.UserID != uuid.Nil
}

// MayActFor reports whether the scope is allowed to mutate userID's ledger
// rows or orders.
func (s Scope) MayActFor(userID uuid.UUID) bool {
	if s.system {
		return true
	}
	if s.Role == UserRoleAdmin {
		return true
	}
	return s.UserID == userID
}
