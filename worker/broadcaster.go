package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"atendigram/autoreply"
	"atendigram/config"
	"atendigram/metrics"
	"atendigram/models"
	"atendigram/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var ErrAlreadyRunning = errors.New("campaign is already running")

type sendLoop struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Broadcaster sends campaigns to the contacts of their lists, one goroutine
// per running campaign, sharing no state but the database.
type Broadcaster struct {
	DB      *gorm.DB
	Senders autoreply.SenderResolver
	Hub     *ProgressHub
	Logger  *logrus.Logger

	// BaseContext bounds every campaign goroutine. Defaults to context.Background.
	BaseContext context.Context
	Limit       rate.Limit
	Burst       int
	Now         func() time.Time

	mu      sync.Mutex
	running map[string]*sendLoop
	wg      sync.WaitGroup
}

func NewBroadcaster(db *gorm.DB, senders autoreply.SenderResolver, hub *ProgressHub, cfg config.BroadcastConfig, logger *logrus.Logger) *Broadcaster {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Broadcaster{
		DB:      db,
		Senders: senders,
		Hub:     hub,
		Logger:  logger,
		Limit:   rate.Limit(cfg.MessagesPerSecond),
		Burst:   burst,
		Now:     time.Now,
		running: map[string]*sendLoop{},
	}
}

// Start launches the send loop of a campaign already marked as sending. A
// previous loop of the same campaign that was stopped but has not returned yet
// is waited for first.
func (b *Broadcaster) Start(campaign models.Campaign) error {
	b.mu.Lock()
	for {
		prev, ok := b.running[campaign.ID]
		if !ok {
			break
		}
		if prev.ctx.Err() == nil {
			b.mu.Unlock()
			return ErrAlreadyRunning
		}
		b.mu.Unlock()
		<-prev.done
		b.mu.Lock()
	}
	defer b.mu.Unlock()

	base := b.BaseContext
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	loop := &sendLoop{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	if b.running == nil {
		b.running = map[string]*sendLoop{}
	}
	b.running[campaign.ID] = loop

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.finish(campaign.ID, loop)
		b.run(ctx, campaign)
	}()
	return nil
}

// Stop cancels a running campaign and waits for its loop to return. It
// reports whether one was running.
func (b *Broadcaster) Stop(campaignID string) bool {
	b.mu.Lock()
	loop, ok := b.running[campaignID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	loop.cancel()
	<-loop.done
	return true
}

func (b *Broadcaster) Running(campaignID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	loop, ok := b.running[campaignID]
	return ok && loop.ctx.Err() == nil
}

// Wait blocks until every campaign goroutine has returned.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}

func (b *Broadcaster) finish(campaignID string, loop *sendLoop) {
	b.mu.Lock()
	if b.running[campaignID] == loop {
		delete(b.running, campaignID)
	}
	b.mu.Unlock()
	loop.cancel()
	close(loop.done)
}

// ResumeSending restarts campaigns left in the sending state by a previous process.
func (b *Broadcaster) ResumeSending(ctx context.Context) (int, error) {
	var campaigns []models.Campaign
	if err := b.DB.WithContext(ctx).Where("status = ?", models.CampaignSending).Find(&campaigns).Error; err != nil {
		return 0, fmt.Errorf("failed to load sending campaigns: %w", err)
	}
	started := 0
	for _, c := range campaigns {
		if err := b.Start(c); err == nil {
			started++
		}
	}
	return started, nil
}

// Recipients returns the distinct contacts of the campaign's lists.
func Recipients(ctx context.Context, db *gorm.DB, campaign models.Campaign) ([]models.Contact, error) {
	var contacts []models.Contact
	if len(campaign.ListIDs) == 0 {
		return contacts, nil
	}
	err := db.WithContext(ctx).
		Where("account_id = ?", campaign.AccountID).
		Where("id IN (?)", db.Model(&models.ContactListMembership{}).
			Select("contact_id").
			Where("contact_list_id IN ?", campaign.ListIDs)).
		Order("created_at ASC").
		Find(&contacts).Error
	return contacts, err
}

func (b *Broadcaster) run(ctx context.Context, campaign models.Campaign) {
	log := b.Logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"account_id":  campaign.AccountID,
	})
	log.Info("Starting campaign broadcast")

	sender, err := b.Senders.SenderFor(ctx, campaign.AccountID, &campaign.SessionID)
	if err != nil {
		log.WithError(err).Error("No sender for campaign")
		b.fail(ctx, &campaign, err)
		return
	}

	contacts, err := Recipients(ctx, b.DB, campaign)
	if err != nil {
		log.WithError(err).Error("Failed to load recipients")
		b.fail(ctx, &campaign, err)
		return
	}

	var done []string
	if err := b.DB.WithContext(ctx).Model(&models.CampaignDelivery{}).
		Where("campaign_id = ?", campaign.ID).
		Pluck("contact_id", &done).Error; err != nil {
		log.WithError(err).Error("Failed to load deliveries")
		b.fail(ctx, &campaign, err)
		return
	}
	delivered := make(map[string]bool, len(done))
	for _, id := range done {
		delivered[id] = true
	}

	campaign.TotalRecipients = len(contacts)
	if err := b.DB.WithContext(ctx).Model(&campaign).
		UpdateColumn("total_recipients", campaign.TotalRecipients).Error; err != nil {
		log.WithError(err).Warn("Failed to store recipient count")
	}
	b.publish(campaign)

	limiter := rate.NewLimiter(b.Limit, b.Burst)
	msg := campaign.Outgoing()

	for _, contact := range contacts {
		if delivered[contact.ID] {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			log.Info("Campaign broadcast stopped")
			return
		}

		delivery := models.CampaignDelivery{CampaignID: campaign.ID, ContactID: contact.ID}
		if contact.ChatID == nil {
			delivery.Status = models.DeliverySkipped
			delivery.Error = utils.Pointer("contact has no chat_id")
		} else if sentID, err := sender.Send(ctx, *contact.ChatID, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			delivery.Status = models.DeliveryFailed
			delivery.Error = utils.Pointer(err.Error())
		} else {
			delivery.Status = models.DeliverySent
			delivery.TelegramMessageID = &sentID
			delivery.SentAt = utils.Pointer(b.Now().UTC())
		}
		metrics.BroadcastDeliveries.WithLabelValues(delivery.Status).Inc()

		if err := b.record(ctx, &campaign, &delivery); err != nil {
			log.WithError(err).WithField("contact_id", contact.ID).Error("Failed to record delivery")
			continue
		}
		b.publish(campaign)
	}

	res := b.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaign.ID, models.CampaignSending).
		Updates(map[string]interface{}{
			"status":       models.CampaignCompleted,
			"completed_at": b.Now().UTC(),
		})
	if res.Error != nil {
		log.WithError(res.Error).Error("Failed to complete campaign")
		return
	}
	if res.RowsAffected > 0 {
		campaign.Status = models.CampaignCompleted
	}
	b.publish(campaign)

	utils.LogEvent("campaign_completed", map[string]interface{}{
		"campaign_id": campaign.ID,
		"sent":        campaign.SentCount,
		"failed":      campaign.FailedCount,
	})
}

// record stores the delivery and bumps the campaign counter in one transaction.
func (b *Broadcaster) record(ctx context.Context, campaign *models.Campaign, delivery *models.CampaignDelivery) error {
	column := "failed_count"
	if delivery.Status == models.DeliverySent {
		column = "sent_count"
	}
	err := b.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(delivery).Error; err != nil {
			return err
		}
		return tx.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
			UpdateColumn(column, gorm.Expr(column+" + ?", 1)).Error
	})
	if err != nil {
		return err
	}
	if delivery.Status == models.DeliverySent {
		campaign.SentCount++
	} else {
		campaign.FailedCount++
	}
	return nil
}

// fail marks a sending campaign failed. A campaign stopped while it was still
// loading is left alone.
func (b *Broadcaster) fail(ctx context.Context, campaign *models.Campaign, cause error) {
	if ctx.Err() != nil {
		return
	}
	campaign.Status = models.CampaignFailed
	if err := b.DB.WithContext(context.WithoutCancel(ctx)).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaign.ID, models.CampaignSending).
		Updates(map[string]interface{}{
			"status":       models.CampaignFailed,
			"completed_at": b.Now().UTC(),
		}).Error; err != nil {
		b.Logger.WithError(err).Error("Failed to mark campaign failed")
	}
	utils.LogError("campaign_failed", cause, map[string]interface{}{"campaign_id": campaign.ID})
	b.publish(*campaign)
}

func (b *Broadcaster) publish(campaign models.Campaign) {
	if b.Hub != nil {
		b.Hub.Publish(ProgressOf(campaign))
	}
}
