package controller

import (
	"errors"
	"strings"

	"atendigram/middleware"
	"atendigram/models"
	"atendigram/utils"
	"atendigram/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type CampaignController struct {
	DB          *gorm.DB
	Broadcaster *worker.Broadcaster
	Hub         *worker.ProgressHub
	Logger      *logrus.Logger
}

func NewCampaignController(db *gorm.DB, broadcaster *worker.Broadcaster, hub *worker.ProgressHub, logger *logrus.Logger) *CampaignController {
	return &CampaignController{
		DB:          db,
		Broadcaster: broadcaster,
		Hub:         hub,
		Logger:      logger,
	}
}

type campaignInput struct {
	Name        string             `json:"name" validate:"required,max=150"`
	SessionID   string             `json:"session_id" validate:"required"`
	Kind        models.MessageKind `json:"kind" validate:"required,oneof=text photo audio voice"`
	TextContent *string            `json:"text_content"`
	MediaURL    *string            `json:"media_url" validate:"omitempty,url"`
	ParseMode   models.ParseMode   `json:"parse_mode" validate:"omitempty,oneof=none html markdown"`
	ListIDs     []string           `json:"list_ids" validate:"required,min=1"`
}

func (cc *CampaignController) parseCampaign(c *fiber.Ctx, accountID string) (*campaignInput, error) {
	var input campaignInput
	if err := c.BodyParser(&input); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := checkMessage(autoReplyMsgInput{Kind: input.Kind, TextContent: input.TextContent, MediaURL: input.MediaURL}); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if input.ParseMode == "" {
		input.ParseMode = models.ParseNone
	}

	var n int64
	cc.DB.Model(&models.TelegramSession{}).Where("id = ? AND account_id = ?", input.SessionID, accountID).Count(&n)
	if n == 0 {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Session not found", nil)
	}

	var lists int64
	cc.DB.Model(&models.ContactList{}).Where("id IN ? AND account_id = ?", input.ListIDs, accountID).Count(&lists)
	if int(lists) != len(input.ListIDs) {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Contact list not found", nil)
	}
	return &input, nil
}

// CreateCampaign stores a draft broadcast
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	input, errResp := cc.parseCampaign(c, accountID)
	if input == nil {
		return errResp
	}

	campaign := models.Campaign{
		AccountID:   accountID,
		SessionID:   input.SessionID,
		Name:        input.Name,
		Kind:        input.Kind,
		TextContent: input.TextContent,
		MediaURL:    input.MediaURL,
		ParseMode:   input.ParseMode,
		ListIDs:     input.ListIDs,
		Status:      models.CampaignDraft,
	}
	if err := cc.DB.Create(&campaign).Error; err != nil {
		utils.LogError("create_campaign", err, map[string]interface{}{"account_id": accountID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create campaign", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(campaign))
}

// GetCampaigns lists campaigns, optionally filtered by status
func (cc *CampaignController) GetCampaigns(c *fiber.Ctx) error {
	query := cc.DB.Where("account_id = ?", middleware.AccountID(c))
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var campaigns []models.Campaign
	if err := query.Order("created_at DESC").Find(&campaigns).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaigns", err)
	}
	return c.JSON(utils.SuccessResponse(campaigns))
}

func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	campaign, err := cc.findCampaign(c)
	if err != nil {
		return cc.campaignError(c, err)
	}
	return c.JSON(utils.SuccessResponse(campaign))
}

// UpdateCampaign edits a campaign that is not sending
func (cc *CampaignController) UpdateCampaign(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	campaign, err := cc.findCampaign(c)
	if err != nil {
		return cc.campaignError(c, err)
	}
	if campaign.Status == models.CampaignSending {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Cannot edit a running campaign", nil)
	}

	input, errResp := cc.parseCampaign(c, accountID)
	if input == nil {
		return errResp
	}

	campaign.Name = input.Name
	campaign.SessionID = input.SessionID
	campaign.Kind = input.Kind
	campaign.TextContent = input.TextContent
	campaign.MediaURL = input.MediaURL
	campaign.ParseMode = input.ParseMode
	campaign.ListIDs = input.ListIDs

	if err := cc.DB.Save(campaign).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update campaign", err)
	}
	return c.JSON(utils.SuccessResponse(campaign))
}

func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	campaign, err := cc.findCampaign(c)
	if err != nil {
		return cc.campaignError(c, err)
	}
	if campaign.Status == models.CampaignSending {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Stop the campaign before deleting it", nil)
	}

	tx := cc.DB.Begin()
	if err := tx.Where("campaign_id = ?", campaign.ID).Delete(&models.CampaignDelivery{}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete campaign deliveries", err)
	}
	if err := tx.Delete(campaign).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete campaign", err)
	}
	tx.Commit()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Campaign deleted successfully",
	}))
}

func (cc *CampaignController) findCampaign(c *fiber.Ctx) (*models.Campaign, error) {
	var campaign models.Campaign
	err := cc.DB.Where("id = ? AND account_id = ?", c.Params("id"), middleware.AccountID(c)).First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (cc *CampaignController) campaignError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaign", err)
}
