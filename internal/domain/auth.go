package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Скоупы токенов.
const (
	// ScopeApprover: человек за поверхностью подтверждения и страницей настроек.
	ScopeApprover = "approver"
	// ScopeBridge: доверенный фронт (аналог content script), ходящий через gRPC.
	ScopeBridge = "bridge"
)

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "approver": true
	jwt.RegisteredClaims
}

// HasScope проверяет наличие скоупа в токене.
func (c *CustomClaims) HasScope(scope string) bool {
	return c != nil && c.Scopes[scope]
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}
