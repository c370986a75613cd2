// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/amirphl/astro-dispatch/app/dto"
	"github.com/amirphl/astro-dispatch/app/services"
	"github.com/gofiber/fiber/v3"
)

const (
	adminSubjectLocal = "admin_subject"
	tokenIDLocal      = "token_id"
	tokenClaimsLocal  = "token_claims"
	callerLocal       = "caller"
	requestIDLocal    = "request_id"

	// CallerAdmin and CallerScheduler tell handlers who authenticated the request
	CallerAdmin     = "admin"
	CallerScheduler = "scheduler"
)

// AuthMiddleware guards admin and scheduler endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
	apiKeyHeader string
	apiKeys      [][]byte
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService, apiKeyHeader string, apiKeys []string) *AuthMiddleware {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return &AuthMiddleware{
		tokenService: tokenService,
		apiKeyHeader: apiKeyHeader,
		apiKeys:      keys,
	}
}

// AdminAuthenticate validates admin JWTs and sets admin-specific context values
func (m *AuthMiddleware) AdminAuthenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		if status, resp := m.authenticateAdmin(c); resp != nil {
			return c.Status(status).JSON(resp)
		}
		return c.Next()
	}
}

// SchedulerOrAdmin accepts a configured API key or, without one, an admin JWT
func (m *AuthMiddleware) SchedulerOrAdmin() fiber.Handler {
	return func(c fiber.Ctx) error {
		key := c.Get(m.apiKeyHeader)
		if key == "" {
			if status, resp := m.authenticateAdmin(c); resp != nil {
				return c.Status(status).JSON(resp)
			}
			return c.Next()
		}

		if !m.validAPIKey(key) {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Invalid API key",
				Error:   dto.ErrorDetail{Code: "INVALID_API_KEY"},
			})
		}
		c.Locals(callerLocal, CallerScheduler)
		storeRequestID(c)
		return c.Next()
	}
}

func (m *AuthMiddleware) validAPIKey(key string) bool {
	match := 0
	for _, k := range m.apiKeys {
		match |= subtle.ConstantTimeCompare([]byte(key), k)
	}
	return match == 1
}

func (m *AuthMiddleware) authenticateAdmin(c fiber.Ctx) (int, *dto.APIResponse) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return fiber.StatusUnauthorized, &dto.APIResponse{
			Success: false,
			Message: "Authorization header is required",
			Error:   dto.ErrorDetail{Code: "MISSING_AUTHORIZATION_HEADER"},
		}
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return fiber.StatusUnauthorized, &dto.APIResponse{
			Success: false,
			Message: "Invalid authorization header format. Expected 'Bearer <token>'",
			Error:   dto.ErrorDetail{Code: "INVALID_AUTHORIZATION_FORMAT"},
		}
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return fiber.StatusUnauthorized, &dto.APIResponse{
			Success: false,
			Message: "Access token is required",
			Error:   dto.ErrorDetail{Code: "MISSING_ACCESS_TOKEN"},
		}
	}

	claims, err := m.tokenService.ValidateAdminToken(token)
	if err != nil {
		status := fiber.StatusUnauthorized
		var code, msg string
		switch {
		case errors.Is(err, services.ErrTokenExpired):
			code, msg = "TOKEN_EXPIRED", "Access token has expired"
		case errors.Is(err, services.ErrTokenForbidden):
			status = fiber.StatusForbidden
			code, msg = "ADMIN_ROLE_REQUIRED", "Admin role required"
		case errors.Is(err, services.ErrTokenInvalid):
			code, msg = "TOKEN_INVALID", "Invalid access token"
		default:
			code, msg = "TOKEN_VALIDATION_FAILED", "Token validation failed"
		}
		return status, &dto.APIResponse{Success: false, Message: msg, Error: dto.ErrorDetail{Code: code}}
	}

	c.Locals(adminSubjectLocal, claims.Subject)
	c.Locals(tokenIDLocal, claims.TokenID)
	c.Locals(tokenClaimsLocal, claims)
	c.Locals(callerLocal, CallerAdmin)
	storeRequestID(c)
	return 0, nil
}

func storeRequestID(c fiber.Ctx) {
	if requestID := c.Get("X-Request-ID"); requestID != "" {
		c.Locals(requestIDLocal, requestID)
	}
}

// GetAdminSubjectFromContext extracts the admin subject from the request context
func GetAdminSubjectFromContext(c fiber.Ctx) (string, bool) {
	subject, ok := c.Locals(adminSubjectLocal).(string)
	return subject, ok && subject != ""
}

// GetTokenClaimsFromContext extracts token claims from the request context
func GetTokenClaimsFromContext(c fiber.Ctx) (*services.AdminTokenClaims, bool) {
	claims, ok := c.Locals(tokenClaimsLocal).(*services.AdminTokenClaims)
	return claims, ok
}

// GetCallerFromContext reports whether an admin or a scheduler made the request
func GetCallerFromContext(c fiber.Ctx) string {
	caller, _ := c.Locals(callerLocal).(string)
	return caller
}
