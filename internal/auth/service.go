package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidPassword is returned for passwords too short to hash.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrAdminDisabled is returned when no admin password is configured.
	ErrAdminDisabled = errors.New("admin login disabled")
)

// AdminSubject is the token subject of the host operator.
const AdminSubject = "admin"

// Service authenticates the host operator for the control API.
type Service struct {
	passwordHash string
	jwtConfig    *JWTConfig
}

// NewService creates the service. An empty passwordHash disables login.
func NewService(passwordHash string, jwtConfig *JWTConfig) *Service {
	return &Service{
		passwordHash: passwordHash,
		jwtConfig:    jwtConfig,
	}
}

// Enabled reports whether an admin password is configured.
func (s *Service) Enabled() bool {
	return s.passwordHash != ""
}

// Login checks the admin password and returns a signed token.
func (s *Service) Login(password string) (string, error) {
	if !s.Enabled() {
		return "", ErrAdminDisabled
	}
	if err := ComparePassword(s.passwordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}
	token, err := GenerateToken(s.jwtConfig, AdminSubject, RoleAdmin)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a token issued by Login.
func (s *Service) ValidateToken(token string) (*Claims, error) {
	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleAdmin {
		return nil, fmt.Errorf("role %q is not allowed", claims.Role)
	}
	return claims, nil
}
