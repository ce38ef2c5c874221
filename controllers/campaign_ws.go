package controller

import (
	"atendigram/middleware"
	"atendigram/models"
	"atendigram/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// CampaignProgressUpgrade checks ownership of the campaign before the websocket
// upgrade and hands its id to HandleCampaignProgressWS.
func (cc *CampaignController) CampaignProgressUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND account_id = ?", c.Params("id"), middleware.AccountID(c)).
		First(&campaign).Error; err != nil {
		return fiber.ErrNotFound
	}
	c.Locals("campaign", campaign)
	return c.Next()
}

// HandleCampaignProgressWS pushes the current snapshot, then every update until
// the campaign leaves the sending state or the client goes away.
func (cc *CampaignController) HandleCampaignProgressWS(c *websocket.Conn) {
	defer c.Close()

	campaign, ok := c.Locals("campaign").(models.Campaign)
	if !ok {
		return
	}
	updates, unsubscribe := cc.Hub.Subscribe(campaign.ID)
	defer unsubscribe()

	// client reads only detect the close frame
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// reload after subscribing so no update between the two is lost
	if err := cc.DB.First(&campaign, "id = ?", campaign.ID).Error; err == nil {
		if err := c.WriteJSON(worker.ProgressOf(campaign)); err != nil {
			cc.Logger.WithError(err).Debug("Error writing progress")
			return
		}
	}
	if campaign.Status != models.CampaignSending {
		return
	}

	for {
		select {
		case <-closed:
			return
		case progress, ok := <-updates:
			if !ok {
				return
			}
			if err := c.WriteJSON(progress); err != nil {
				cc.Logger.WithError(err).Debug("Error writing progress")
				return
			}
			if progress.Status != models.CampaignSending {
				return
			}
		}
	}
}
