package controller

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"atendigram/autoreply"
	"atendigram/i18n"
	"atendigram/middleware"
	"atendigram/models"
	"atendigram/telegram"
	"atendigram/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var botTokenPattern = regexp.MustCompile(`^\d{5,}:[A-Za-z0-9_-]{30,}$`)

type SessionController struct {
	DB            *gorm.DB
	EncryptionKey string
	Registry      *telegram.Registry
	Cache         *autoreply.CachedRepository
	Localizer     *i18n.Localizer
	Logger        *logrus.Logger
}

func NewSessionController(db *gorm.DB, encryptionKey string, registry *telegram.Registry, logger *logrus.Logger) *SessionController {
	return &SessionController{
		DB:            db,
		EncryptionKey: encryptionKey,
		Registry:      registry,
		Logger:        logger,
	}
}

type CreateSessionRequest struct {
	Phone    string `json:"phone" validate:"required,max=32"`
	Label    string `json:"label" validate:"max=100"`
	BotToken string `json:"bot_token" validate:"required"`
}

// CreateSession stores a pending session with its bot token encrypted
func (sc *SessionController) CreateSession(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	req.Phone = strings.TrimSpace(req.Phone)
	req.BotToken = strings.TrimSpace(req.BotToken)
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	encryptedToken, err := utils.Encrypt(req.BotToken, sc.EncryptionKey)
	if err != nil {
		utils.LogError("encrypt_failed", err, map[string]interface{}{"operation": "bot token encryption"})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt bot token", nil)
	}

	session := models.TelegramSession{
		AccountID: accountID,
		Phone:     req.Phone,
		Label:     req.Label,
		BotToken:  encryptedToken,
		Status:    models.SessionPending,
	}
	if err := sc.DB.Create(&session).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create session", err)
	}

	utils.LogEvent("session_created", map[string]interface{}{
		"account_id": accountID,
		"session_id": session.ID,
	})

	// Sanitize before returning
	session.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(session))
}

func (sc *SessionController) GetSessions(c *fiber.Ctx) error {
	var sessions []models.TelegramSession
	if err := sc.DB.Where("account_id = ?", middleware.AccountID(c)).Order("created_at ASC").Find(&sessions).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sessions", err)
	}
	for i := range sessions {
		sessions[i].Sanitize()
	}
	return c.JSON(utils.SuccessResponse(sessions))
}

func (sc *SessionController) GetSession(c *fiber.Ctx) error {
	session, err := sc.findSession(c)
	if err != nil {
		return sc.sessionError(c, err)
	}
	session.Sanitize()
	return c.JSON(utils.SuccessResponse(session))
}

// ConnectSession checks the stored token and marks the session connected. The
// MTProto login flow is not run; the ingestion worker picks the session up on
// its next refresh.
func (sc *SessionController) ConnectSession(c *fiber.Ctx) error {
	session, err := sc.findSession(c)
	if err != nil {
		return sc.sessionError(c, err)
	}

	token, err := utils.Decrypt(session.BotToken, sc.EncryptionKey)
	if err != nil {
		utils.LogError("decrypt_failed", err, map[string]interface{}{
			"operation":  "bot token decryption",
			"session_id": session.ID,
		})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to decrypt bot token", nil)
	}

	if !botTokenPattern.MatchString(token) {
		msg := "bot token has an invalid format"
		sc.DB.Model(session).Updates(map[string]interface{}{"status": models.SessionError, "last_error": msg})
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid bot token", errors.New(msg))
	}

	now := time.Now().UTC()
	if err := sc.DB.Model(session).Updates(map[string]interface{}{
		"status":       models.SessionConnected,
		"last_error":   nil,
		"connected_at": now,
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to connect session", err)
	}
	session.Status = models.SessionConnected
	session.LastError = nil
	session.ConnectedAt = &now

	utils.LogEvent("session_connected", map[string]interface{}{
		"account_id": session.AccountID,
		"session_id": session.ID,
	})

	session.Sanitize()
	return c.JSON(utils.SuccessResponse(session))
}

func (sc *SessionController) DisconnectSession(c *fiber.Ctx) error {
	session, err := sc.findSession(c)
	if err != nil {
		return sc.sessionError(c, err)
	}

	if err := sc.DB.Model(session).Update("status", models.SessionDisconnected).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to disconnect session", err)
	}
	if sc.Registry != nil {
		sc.Registry.Forget(session.ID)
	}
	session.Status = models.SessionDisconnected

	session.Sanitize()
	return c.JSON(utils.SuccessResponse(session))
}

// DeleteSession removes a session. Rules scoped to it are detached and
// disabled so they do not start replying on the account's other sessions.
func (sc *SessionController) DeleteSession(c *fiber.Ctx) error {
	session, err := sc.findSession(c)
	if err != nil {
		return sc.sessionError(c, err)
	}

	var running int64
	if err := sc.DB.Model(&models.Campaign{}).
		Where("session_id = ? AND status = ?", session.ID, models.CampaignSending).
		Count(&running).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check campaigns", err)
	}
	if running > 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Session has running campaigns", nil)
	}

	tx := sc.DB.Begin()
	res := tx.Model(&models.AutoReplyRule{}).
		Where("session_id = ?", session.ID).
		Updates(map[string]interface{}{"session_id": nil, "enabled": false})
	if res.Error != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to detach rules", res.Error)
	}
	detached := res.RowsAffected
	if err := tx.Delete(session).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete session", err)
	}
	if err := tx.Commit().Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete session", err)
	}

	if sc.Registry != nil {
		sc.Registry.Forget(session.ID)
	}
	if sc.Cache != nil {
		sc.Cache.Invalidate(session.AccountID)
	}

	var warnings []string
	if detached > 0 && sc.Localizer != nil {
		lang := ""
		if account := middleware.CurrentAccount(c); account != nil {
			lang = account.Language
		}
		warnings = append(warnings, sc.Localizer.Get(lang, i18n.MsgSessionRulesDisabled, map[string]interface{}{
			"Count": detached,
			"Phone": session.Phone,
		}))
	}
	return c.JSON(utils.WarningResponse(fiber.Map{
		"message":        "Session deleted successfully",
		"rules_disabled": detached,
	}, warnings))
}

func (sc *SessionController) findSession(c *fiber.Ctx) (*models.TelegramSession, error) {
	var session models.TelegramSession
	err := sc.DB.Where("id = ? AND account_id = ?", c.Params("id"), middleware.AccountID(c)).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (sc *SessionController) sessionError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Session not found", nil)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch session", err)
}
