package controller

import (
	"crypto/subtle"
	"encoding/json"
	"errors"

	"atendigram/autoreply"
	"atendigram/models"
	"atendigram/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookController receives Telegram updates pushed to
// /telegram/webhook/:sessionId as an alternative to long polling.
type WebhookController struct {
	DB         *gorm.DB
	Dispatcher *autoreply.Dispatcher
	Secret     string
	Logger     *logrus.Logger
}

func NewWebhookController(db *gorm.DB, dispatcher *autoreply.Dispatcher, secret string, logger *logrus.Logger) *WebhookController {
	return &WebhookController{
		DB:         db,
		Dispatcher: dispatcher,
		Secret:     secret,
		Logger:     logger,
	}
}

// HandleTelegramUpdate processes one update. Telegram retries anything that is
// not a 2xx, so evaluation failures are logged and still acknowledged.
func (wc *WebhookController) HandleTelegramUpdate(c *fiber.Ctx) error {
	if wc.Secret != "" {
		got := c.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(wc.Secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid webhook secret",
			})
		}
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid update payload",
		})
	}

	var session models.TelegramSession
	if err := wc.DB.Where("id = ? AND status = ?", c.Params("sessionId"), models.SessionConnected).
		First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch session",
		})
	}

	in, ok := worker.InboundFromUpdate(session, update)
	if !ok {
		return c.JSON(fiber.Map{"message": "Update ignored"})
	}

	match, err := wc.Dispatcher.Handle(c.UserContext(), in)
	if err != nil {
		wc.Logger.WithError(err).WithFields(logrus.Fields{
			"session_id": session.ID,
			"chat_id":    in.ChatID,
		}).Error("Failed to handle webhook update")
	}

	resp := fiber.Map{"message": "Webhook processed successfully", "fired": match != nil}
	if match != nil {
		resp["rule_id"] = match.Rule.ID
	}
	return c.JSON(resp)
}
