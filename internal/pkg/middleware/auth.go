package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"

	"github.com/ManuelReschke/FanPass/internal/pkg/env"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
)

// AdminCredentials holds the single operator account. PasswordHash is a
// bcrypt hash.
type AdminCredentials struct {
	Username     string
	PasswordHash string
}

// AdminCredentialsFromEnv reads ADMIN_USER and ADMIN_PASSWORD_HASH.
func AdminCredentialsFromEnv() AdminCredentials {
	return AdminCredentials{
		Username:     strings.TrimSpace(env.GetEnv("ADMIN_USER", "admin")),
		PasswordHash: strings.TrimSpace(env.GetEnv("ADMIN_PASSWORD_HASH", "")),
	}
}

// RequireAdmin protects admin API routes with HTTP basic auth and answers JSON
// 401 on failure. Without a configured hash every request is refused.
func RequireAdmin(creds AdminCredentials) fiber.Handler {
	if creds.PasswordHash == "" {
		logger.Component("auth").Warn("ADMIN_PASSWORD_HASH is not set, admin routes are locked")
	}
	return basicauth.New(basicauth.Config{
		Realm: "FanPass Admin",
		Authorizer: func(user, pass string) bool {
			if creds.PasswordHash == "" {
				return false
			}
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(creds.Username)) == 1
			passOK := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(pass)) == nil
			return userOK && passOK
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `basic realm="FanPass Admin"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "unauthorized",
				"message": "admin credentials required",
			})
		},
	})
}
