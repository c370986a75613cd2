// Package services provides external service integrations: the provider sender, token verification and progress fan-out
package services

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/astro-dispatch/config"
	"github.com/golang-jwt/jwt/v5"
)

// Token service error constants
var (
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenForbidden = errors.New("token does not carry the admin role")
)

const accessTokenType = "access"

// TokenService verifies admin JWTs issued by the external auth service
type TokenService interface {
	ValidateAdminToken(token string) (*AdminTokenClaims, error)
}

// AdminTokenClaims represents the verified claims of an admin JWT
type AdminTokenClaims struct {
	Subject   string    `json:"sub"`
	Role      string    `json:"role"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type adminJWTClaims struct {
	Role      string   `json:"role,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	AdminID   *uint    `json:"admin_id,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

func (c adminJWTClaims) hasRole(role string) bool {
	if role == "" {
		return true
	}
	if strings.EqualFold(c.Role, role) {
		return true
	}
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// TokenServiceImpl implements TokenService
type TokenServiceImpl struct {
	publicKey  *rsa.PublicKey
	secretKey  []byte
	useRSAKeys bool
	adminRole  string
	parser     *jwt.Parser
}

// NewTokenService creates a verify-only token service
func NewTokenService(cfg config.JWTConfig) (TokenService, error) {
	s := &TokenServiceImpl{useRSAKeys: cfg.UseRSAKeys, adminRole: cfg.AdminRole}

	methods := []string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}
	if cfg.UseRSAKeys {
		if cfg.PublicKey == "" {
			return nil, fmt.Errorf("public key is required when using RSA keys")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		s.publicKey = key
		methods = []string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodRS384.Alg(), jwt.SigningMethodRS512.Alg()}
	} else {
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("secret key is required when not using RSA keys")
		}
		s.secretKey = []byte(cfg.SecretKey)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired(), jwt.WithLeeway(5 * time.Second)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	s.parser = jwt.NewParser(opts...)

	return s, nil
}

func (s *TokenServiceImpl) key(*jwt.Token) (any, error) {
	if s.useRSAKeys {
		return s.publicKey, nil
	}
	return s.secretKey, nil
}

// ValidateAdminToken validates an admin JWT and returns its claims
func (s *TokenServiceImpl) ValidateAdminToken(token string) (*AdminTokenClaims, error) {
	var claims adminJWTClaims
	parsed, err := s.parser.ParseWithClaims(token, &claims, s.key)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != "" && claims.TokenType != accessTokenType {
		return nil, ErrTokenInvalid
	}
	if !claims.hasRole(s.adminRole) && claims.AdminID == nil {
		return nil, ErrTokenForbidden
	}

	subject := claims.Subject
	if subject == "" && claims.AdminID != nil {
		subject = fmt.Sprintf("admin:%d", *claims.AdminID)
	}
	if subject == "" {
		return nil, ErrTokenInvalid
	}

	out := &AdminTokenClaims{
		Subject: subject,
		Role:    claims.Role,
		TokenID: claims.ID,
	}
	if out.Role == "" {
		out.Role = s.adminRole
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
