package models

import (
	"time"
)

// Account is the tenant every other row is scoped to.
type Account struct {
	Base

	Email    string  `gorm:"uniqueIndex;not null" json:"email"`
	Name     *string `json:"name,omitempty"`
	IsActive bool    `gorm:"default:true" json:"is_active"`
	Timezone string  `gorm:"default:'America/Sao_Paulo'" json:"timezone"`
	Language string  `gorm:"default:'pt-BR'" json:"language"`

	// Relations
	Sessions  []TelegramSession `gorm:"foreignKey:AccountID" json:"sessions,omitempty"`
	Rules     []AutoReplyRule   `gorm:"foreignKey:AccountID" json:"rules,omitempty"`
	Lists     []ContactList     `gorm:"foreignKey:AccountID" json:"lists,omitempty"`
	Campaigns []Campaign        `gorm:"foreignKey:AccountID" json:"campaigns,omitempty"`
}

// Session statuses
const (
	SessionPending      = "pending"
	SessionConnected    = "connected"
	SessionDisconnected = "disconnected"
	SessionError        = "error"
)

// TelegramSession is one Telegram identity (bot) an account sends and receives through.
type TelegramSession struct {
	Base
	AccountID string `gorm:"type:varchar(36);not null;index" json:"account_id"`

	Phone    string `gorm:"not null" json:"phone"`
	Label    string `json:"label"`
	BotToken string `gorm:"not null" json:"-"` // Encrypted in application layer

	Status      string     `gorm:"default:'pending';index" json:"status"`
	LastError   *string    `json:"last_error"`
	ConnectedAt *time.Time `json:"connected_at"`
}

// Sanitize clears credentials before a session leaves the process.
func (s *TelegramSession) Sanitize() {
	s.BotToken = ""
}
