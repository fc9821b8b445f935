package service

import (
	"errors"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentmesh/trustgate/internal/config"
	"github.com/agentmesh/trustgate/internal/utils"
)

// AdminAuthService authenticates the admin console against the configured
// credential and issues JWT session tokens for the admin endpoints.
type AdminAuthService struct {
	cfg *config.AdminConfig
}

// NewAdminAuthService constructs a new AdminAuthService.
func NewAdminAuthService(cfg *config.AdminConfig) *AdminAuthService {
	return &AdminAuthService{cfg: cfg}
}

// Login verifies the credential and returns a signed JWT.
func (s *AdminAuthService) Login(username, password string) (string, error) {
	if s.cfg.PasswordHash == "" {
		log.Warn().Msg("admin login attempted but ADMIN_PASSWORD_HASH is not configured")
		return "", errors.New("admin login disabled")
	}

	if username != s.cfg.Username {
		return "", errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password)); err != nil {
		log.Warn().Str("username", username).Msg("admin password verification failed")
		return "", errors.New("invalid credentials")
	}

	token, err := utils.GenerateJWT(username)
	if err != nil {
		return "", err
	}

	log.Info().Str("username", username).Msg("admin login successful")
	return token, nil
}

// HashPassword produces the bcrypt hash expected in ADMIN_PASSWORD_HASH.
// Exposed for provisioning tooling.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
