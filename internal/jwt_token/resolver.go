package jwttoken

import (
	"ozhi/pkg/platform/middleware/auditscope"
)

// ToSession maps validated claims onto the audit scope actor. The snapshot carries the
// e-mail so notifications can name the user.
func ToSession(claims *Claims) auditscope.Session {
	user := map[string]any{"id": claims.UserID}
	if claims.Email != "" {
		user["email"] = claims.Email
	}
	return auditscope.Session{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		User:      user,
	}
}

// SessionResolver adapts JWTService to auditscope.SessionResolver.
type SessionResolver struct {
	service *JWTService
}

func NewSessionResolver(service *JWTService) *SessionResolver {
	return &SessionResolver{service: service}
}

func (a *SessionResolver) ResolveSession(tokenString string) (auditscope.Session, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return auditscope.Session{}, err
	}
	return ToSession(claims), nil
}
