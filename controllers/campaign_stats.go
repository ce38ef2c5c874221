package controller

import (
	"atendigram/models"
	"atendigram/utils"
	"atendigram/worker"

	"github.com/gofiber/fiber/v2"
)

// GetCampaignStats returns counters and per-status delivery totals for a campaign
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	campaign, err := cc.findCampaign(c)
	if err != nil {
		return cc.campaignError(c, err)
	}

	var rows []struct {
		Status string
		N      int64
	}
	if err := cc.DB.Model(&models.CampaignDelivery{}).
		Select("status, COUNT(*) AS n").
		Where("campaign_id = ?", campaign.ID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaign deliveries", err)
	}
	deliveries := map[string]int64{
		models.DeliverySent:    0,
		models.DeliveryFailed:  0,
		models.DeliverySkipped: 0,
	}
	for _, row := range rows {
		deliveries[row.Status] = row.N
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"progress":     worker.ProgressOf(*campaign),
		"deliveries":   deliveries,
		"running":      cc.Broadcaster != nil && cc.Broadcaster.Running(campaign.ID),
		"started_at":   campaign.StartedAt,
		"completed_at": campaign.CompletedAt,
	}))
}

// GetCampaignDeliveries returns the deliveries of a campaign, newest first
func (cc *CampaignController) GetCampaignDeliveries(c *fiber.Ctx) error {
	campaign, err := cc.findCampaign(c)
	if err != nil {
		return cc.campaignError(c, err)
	}

	page := utils.QueryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := utils.QueryInt(c, "limit", 50)
	if limit < 1 || limit > 100 {
		limit = 50
	}

	query := cc.DB.Model(&models.CampaignDelivery{}).Where("campaign_id = ?", campaign.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count deliveries", err)
	}
	var deliveries []models.CampaignDelivery
	if err := query.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&deliveries).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch deliveries", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  deliveries,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}
