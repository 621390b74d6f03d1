package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kiesh/exchange-core/internal/domain/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role claim")
)

type scopeClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenParser turns a signed HS256 token into a caller scope. The subject
// claim carries the user ID, the role claim the access level.
type TokenParser struct {
	secret []byte
}

func NewTokenParser(secret []byte) *TokenParser {
	return &TokenParser{secret: secret}
}

func (p *TokenParser) Parse(tokenString string) (models.Scope, error) {
	const op = "auth.TokenParser.Parse"

	var claims scopeClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return models.Scope{}, fmt.Errorf("%s: %w", op, err)
	}
	if !token.Valid {
		return models.Scope{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return models.Scope{}, fmt.Errorf("%s: parse subject: %w", op, err)
	}

	switch claims.Role {
	case "admin":
		return models.AdminScope(userID), nil
	case "user", "":
		return models.UserScope(userID), nil
	case "viewer":
		return models.Scope{UserID: userID, Role: models.UserRoleViewer}, nil
	default:
		return models.Scope{}, fmt.Errorf("%s: %w: %q", op, ErrInvalidRole, claims.Role)
	}
}
