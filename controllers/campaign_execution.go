package controller

import (
	"errors"
	"time"

	"atendigram/models"
	"atendigram/utils"
	"atendigram/worker"

	"github.com/gofiber/fiber/v2"
)

// StartCampaign begins or resumes sending a campaign
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	campaign, err := cc.findCampaign(c)
	if err != nil {
		return cc.campaignError(c, err)
	}

	// Check if campaign is already running
	if campaign.Status == models.CampaignSending {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign is already running", nil)
	}
	if campaign.Status != models.CampaignDraft && campaign.Status != models.CampaignPaused {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign cannot be started from status "+campaign.Status, nil)
	}

	previous := campaign.Status
	updates := map[string]interface{}{"status": models.CampaignSending, "completed_at": nil}
	if campaign.StartedAt == nil {
		updates["started_at"] = time.Now().UTC()
	}
	// conditional so two concurrent starts cannot both launch a sender
	res := cc.DB.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaign.ID, campaign.Status).
		Updates(updates)
	if res.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update campaign status", res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Campaign status changed concurrently", nil)
	}
	if err := cc.DB.First(campaign, "id = ?", campaign.ID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reload campaign", err)
	}

	if err := cc.Broadcaster.Start(*campaign); err != nil {
		if errors.Is(err, worker.ErrAlreadyRunning) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Campaign is already running", err)
		}
		cc.DB.Model(&models.Campaign{}).
			Where("id = ? AND status = ?", campaign.ID, models.CampaignSending).
			Update("status", previous)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start campaign", err)
	}

	utils.LogEvent("campaign_started", map[string]interface{}{
		"campaign_id": campaign.ID,
		"account_id":  campaign.AccountID,
	})
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message":  "Campaign started successfully",
		"campaign": campaign,
	}))
}

// StopCampaign pauses a running campaign; it can be started again later
func (cc *CampaignController) StopCampaign(c *fiber.Ctx) error {
	campaign, err := cc.findCampaign(c)
	if err != nil {
		return cc.campaignError(c, err)
	}

	if campaign.Status != models.CampaignSending {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign is not running", nil)
	}

	if err := cc.DB.Model(campaign).Update("status", models.CampaignPaused).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to stop campaign", err)
	}
	cc.Broadcaster.Stop(campaign.ID)
	campaign.Status = models.CampaignPaused
	if cc.Hub != nil {
		cc.Hub.Publish(worker.ProgressOf(*campaign))
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message":  "Campaign stopped successfully",
		"campaign": campaign,
	}))
}
