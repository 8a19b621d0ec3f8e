package jwttoken

import (
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	authmw "parley/pkg/platform/middleware/auth"
)

// ToMiddlewareClaims converts token claims into the principal consumed by the
// auth middleware, rejecting tokens whose subject or role do not parse.
func ToMiddlewareClaims(claims *Claims) (*authmw.Claims, error) {
	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token subject")
	}
	role, err := id.ParseRole(claims.Role)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token role")
	}
	return &authmw.Claims{UserID: userID, Role: role}, nil
}

type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.Claims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims)
}
