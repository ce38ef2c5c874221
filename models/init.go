package models

import "gorm.io/gorm"

// All lists every table in migration order.
func All() []interface{} {
	return []interface{}{
		&Account{},
		&TelegramSession{},
		&AutoReplyRule{},
		&AutoReplyMessage{},
		&AutoReplyLogEntry{},
		&AutoReplyCooldown{},
		&ContactList{},
		&Contact{},
		&ContactListMembership{},
		&Campaign{},
		&CampaignDelivery{},
	}
}

// EnsureAccount returns the account for email, creating it on first use.
func EnsureAccount(db *gorm.DB, email string) (*Account, error) {
	account := Account{Email: email, IsActive: true}
	if err := db.Where("email = ?", email).FirstOrCreate(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}
