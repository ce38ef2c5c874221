package models

import (
	"time"
)

// Campaign statuses
const (
	CampaignDraft     = "draft"
	CampaignSending   = "sending"
	CampaignCompleted = "completed"
	CampaignPaused    = "paused"
	CampaignFailed    = "failed"
)

// Campaign represents a broadcast to one or more contact lists
type Campaign struct {
	Base
	AccountID string `gorm:"type:varchar(36);not null;index" json:"account_id"`
	SessionID string `gorm:"type:varchar(36);not null;index" json:"session_id"`

	// Campaign details
	Name        string      `gorm:"not null" json:"name"`
	Kind        MessageKind `gorm:"type:varchar(16);not null" json:"kind"`
	TextContent *string     `gorm:"type:text" json:"text_content"`
	MediaURL    *string     `json:"media_url"`
	ParseMode   ParseMode   `gorm:"type:varchar(16);default:'none'" json:"parse_mode"`
	ListIDs     []string    `gorm:"type:jsonb;serializer:json" json:"list_ids"`

	// Scheduling
	Status      string     `gorm:"default:'draft';index" json:"status"` // draft, sending, paused, completed, failed
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Statistics (denormalized for performance)
	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	SentCount       int `gorm:"default:0" json:"sent_count"`
	FailedCount     int `gorm:"default:0" json:"failed_count"`

	// Relations
	Deliveries []CampaignDelivery `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE" json:"deliveries,omitempty"`
}

func (c Campaign) Outgoing() OutgoingMessage {
	return OutgoingMessage{
		Kind:      c.Kind,
		Text:      deref(c.TextContent),
		MediaURL:  deref(c.MediaURL),
		ParseMode: c.ParseMode,
	}
}

// Delivery statuses
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// CampaignDelivery is the outcome of one campaign message to one contact.
type CampaignDelivery struct {
	Base
	CampaignID string `gorm:"type:varchar(36);not null;uniqueIndex:ux_campaign_contact,priority:1" json:"campaign_id"`
	ContactID  string `gorm:"type:varchar(36);not null;uniqueIndex:ux_campaign_contact,priority:2" json:"contact_id"`

	Status            string     `gorm:"type:varchar(16);not null" json:"status"`
	TelegramMessageID *int       `json:"telegram_message_id"`
	Error             *string    `json:"error"`
	SentAt            *time.Time `json:"sent_at"`
}
