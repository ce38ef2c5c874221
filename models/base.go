package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base replaces gorm.Model for tables keyed by UUID strings.
type Base struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// MessageKind is the payload type of an outgoing Telegram message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindPhoto MessageKind = "photo"
	KindAudio MessageKind = "audio"
	KindVoice MessageKind = "voice"
)

// IsMedia reports whether the kind is sent from a media URL.
func (k MessageKind) IsMedia() bool {
	return k == KindPhoto || k == KindAudio || k == KindVoice
}

type ParseMode string

const (
	ParseNone     ParseMode = "none"
	ParseHTML     ParseMode = "html"
	ParseMarkdown ParseMode = "markdown"
)

// OutgoingMessage is what gets handed to a Telegram sender, whatever produced it
// (an auto-reply pool entry or a broadcast campaign).
type OutgoingMessage struct {
	Kind      MessageKind
	Text      string
	MediaURL  string
	ParseMode ParseMode
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
