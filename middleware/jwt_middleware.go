package middleware

import (
	"strings"

	"atendigram/models"
	"atendigram/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Protected resolves the bearer token to an active account.
func Protected(db *gorm.DB, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try to get token from Authorization header first
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid authorization format",
				})
			}
			token = tokenParts[1]
		} else {
			// websocket clients cannot set headers, so a query token is accepted too
			token = c.Query("token", c.Cookies("access_token"))
			if token == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Authorization required",
				})
			}
		}

		claims, err := utils.ParseToken(token, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		var account models.Account
		if err := db.Where("id = ?", claims.AccountID).Take(&account).Error; err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Account not found",
			})
		}

		if !account.IsActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Account is not active",
			})
		}

		c.Locals("account", &account)
		c.Locals("accountID", account.ID)

		return c.Next()
	}
}

// CurrentAccount returns the account set by Protected.
func CurrentAccount(c *fiber.Ctx) *models.Account {
	account, _ := c.Locals("account").(*models.Account)
	return account
}

func AccountID(c *fiber.Ctx) string {
	id, _ := c.Locals("accountID").(string)
	return id
}
