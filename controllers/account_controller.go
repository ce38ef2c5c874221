package controller

import (
	"strings"
	"time"

	"atendigram/middleware"
	"atendigram/models"
	"atendigram/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AccountController struct {
	DB        *gorm.DB
	JWTSecret string
	JWTTTL    time.Duration
}

func NewAccountController(db *gorm.DB, secret string, ttl time.Duration) *AccountController {
	return &AccountController{DB: db, JWTSecret: secret, JWTTTL: ttl}
}

type UpdateAccountRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=100"`
	Timezone *string `json:"timezone"`
	Language *string `json:"language" validate:"omitempty,oneof=pt-BR en"`
}

func (ac *AccountController) GetCurrentAccount(c *fiber.Ctx) error {
	return c.JSON(utils.SuccessResponse(middleware.CurrentAccount(c)))
}

// UpdateAccount changes the display name, timezone and language of the caller
func (ac *AccountController) UpdateAccount(c *fiber.Ctx) error {
	account := middleware.CurrentAccount(c)

	var req UpdateAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		updates["name"] = name
		account.Name = &name
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid timezone", err)
		}
		updates["timezone"] = *req.Timezone
		account.Timezone = *req.Timezone
	}
	if req.Language != nil {
		updates["language"] = *req.Language
		account.Language = *req.Language
	}
	if len(updates) == 0 {
		return c.JSON(utils.SuccessResponse(account))
	}

	if err := ac.DB.Model(&models.Account{}).Where("id = ?", account.ID).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update account", err)
	}
	return c.JSON(utils.SuccessResponse(account))
}

// RefreshToken issues a fresh access token for the authenticated account
func (ac *AccountController) RefreshToken(c *fiber.Ctx) error {
	token, err := utils.GenerateToken(middleware.AccountID(c), ac.JWTSecret, ac.JWTTTL)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate token", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"access_token": token,
		"expires_in":   int(ac.JWTTTL.Seconds()),
	}))
}
