package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/kiesh/exchange-core/internal/domain/models"
)

// RoleAuthorizer answers delegation checks from the scope's own role rules:
// system scopes and admins act for anyone, users only for themselves.
type RoleAuthorizer struct{}

func NewRoleAuthorizer() RoleAuthorizer {
	return RoleAuthorizer{}
}

func (RoleAuthorizer) MayActFor(_ context.Context, as models.Scope, userID uuid.UUID) bool {
	return as.MayActFor(userID)
}
