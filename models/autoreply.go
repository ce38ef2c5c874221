package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchExact    MatchMode = "exact"
	MatchAny      MatchMode = "any"
	MatchAll      MatchMode = "all"
)

// AutoReplyRule is a keyword trigger with its firing policy.
type AutoReplyRule struct {
	Base
	AccountID string  `gorm:"type:varchar(36);not null;index:idx_rules_account_enabled,priority:1" json:"account_id"`
	SessionID *string `gorm:"type:varchar(36);index" json:"session_id"` // nil applies to every session of the account

	Name      string    `gorm:"not null" json:"name"`
	Keywords  []string  `gorm:"type:jsonb;serializer:json" json:"keywords"`
	MatchMode MatchMode `gorm:"type:varchar(16);not null" json:"match_mode"`
	Enabled   bool      `gorm:"not null;index:idx_rules_account_enabled,priority:2" json:"enabled"`

	// nil fires once per chat, 0 fires every time
	CooldownHours *float64 `json:"cooldown_hours"`
	Priority      int      `gorm:"not null;default:0" json:"priority"`

	// Relations
	Messages []AutoReplyMessage `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// AutoReplyMessage is one candidate response in a rule's pool.
type AutoReplyMessage struct {
	Base
	RuleID    string `gorm:"type:varchar(36);not null;index" json:"rule_id"`
	AccountID string `gorm:"type:varchar(36);not null;index" json:"account_id"`

	Kind        MessageKind `gorm:"type:varchar(16);not null" json:"kind"`
	TextContent *string     `gorm:"type:text" json:"text_content"`
	MediaURL    *string     `json:"media_url"`
	ParseMode   ParseMode   `gorm:"type:varchar(16);default:'none'" json:"parse_mode"`
}

func (m AutoReplyMessage) Outgoing() OutgoingMessage {
	return OutgoingMessage{
		Kind:      m.Kind,
		Text:      deref(m.TextContent),
		MediaURL:  deref(m.MediaURL),
		ParseMode: m.ParseMode,
	}
}

// AutoReplyLogEntry records one firing. Rows are append-only apart from the
// sent message id, which is filled once the dispatch succeeds.
type AutoReplyLogEntry struct {
	ID        string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	RuleID    string  `gorm:"type:varchar(36);not null;index" json:"rule_id"`
	AccountID string  `gorm:"type:varchar(36);not null;index" json:"account_id"`
	SessionID *string `gorm:"type:varchar(36)" json:"session_id"`
	ChatID    int64   `gorm:"not null;index" json:"chat_id"`

	MessageIDTrigger  *int    `json:"message_id_trigger"`
	MessageIDSent     *int    `json:"message_id_sent"`
	TriggerText       *string `gorm:"type:text" json:"trigger_text"`
	ResponseMessageID *string `gorm:"type:varchar(36)" json:"response_message_id"`

	RespondedAt time.Time `gorm:"not null;index" json:"responded_at"`
}

func (AutoReplyLogEntry) TableName() string { return "auto_reply_log" }

func (e *AutoReplyLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// AutoReplyCooldown holds the last fire time per (rule, chat). It is written in
// the same transaction as the log row and is the point where concurrent
// evaluations race for a firing.
type AutoReplyCooldown struct {
	RuleID          string `gorm:"type:varchar(36);primaryKey" json:"rule_id"`
	ChatID          int64  `gorm:"primaryKey;autoIncrement:false" json:"chat_id"`
	LastFiredUnixMs int64  `gorm:"not null" json:"last_fired_unix_ms"`
}

func (AutoReplyCooldown) TableName() string { return "auto_reply_cooldowns" }
