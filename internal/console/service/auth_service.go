package service

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/cors-relay/internal/domain"
	"github.com/xela07ax/cors-relay/internal/infra"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService выдает токены подтверждающему. Учетка одна и задается конфигом.
type AuthService struct {
	cfg        infra.AuthConfig
	privateKey *rsa.PrivateKey
	now        func() time.Time
}

func NewAuthService(cfg infra.AuthConfig, privateKey *rsa.PrivateKey) *AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	return &AuthService{cfg: cfg, privateKey: privateKey, now: time.Now}
}

func (s *AuthService) GenerateToken(_ context.Context, username, password string) (*domain.TokenResponse, error) {
	if s.privateKey == nil || s.cfg.ApproverUsername == "" || s.cfg.ApproverPasswordHash == "" {
		return nil, errors.New("token issuing is not configured")
	}

	// 1. Аутентификация по учетке из конфига
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.ApproverUsername)) != 1 {
		return nil, ErrInvalidCredentials
	}

	// 2. Проверка пароля (используем bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.ApproverPasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 3. Подтверждающему доступны и страница настроек, и gRPC-мост
	now := s.now()
	expiresAt := now.Add(s.cfg.TokenTTL)
	claims := &domain.CustomClaims{
		UserID: username,
		Scopes: map[string]bool{domain.ScopeApprover: true, domain.ScopeBridge: true},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// 4. Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.TokenTTL.Seconds()),
	}, nil
}
