// Package auth gates the admin reset endpoints behind a static API key.
// The key itself is never configured in plaintext: the environment carries
// a bcrypt hash and callers present the raw key in the X-API-Key header.
package auth

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service verifies admin API keys.
type Service struct {
	apiKeyHash []byte
	logger     *zap.Logger
}

// New constructs a Service from the configured bcrypt hash
// (ADMIN_API_KEY_HASH).
func New(apiKeyHash string, logger *zap.Logger) *Service {
	return &Service{apiKeyHash: []byte(apiKeyHash), logger: logger}
}

// Verify reports whether apiKey matches the configured hash.
func (s *Service) Verify(apiKey string) bool {
	return bcrypt.CompareHashAndPassword(s.apiKeyHash, []byte(apiKey)) == nil
}

// RequireAPIKey is Fiber middleware rejecting requests whose X-API-Key
// header doesn't verify.
func (s *Service) RequireAPIKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := c.Get("X-API-Key")
		if apiKey == "" || !s.Verify(apiKey) {
			s.logger.Warn("admin auth rejected", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid API key",
			})
		}
		return c.Next()
	}
}
