package models

// ContactList groups contacts that a campaign can target.
type ContactList struct {
	Base
	AccountID string `gorm:"type:varchar(36);not null;index" json:"account_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"` // manual, csv

	// Statistics
	ContactCount int `gorm:"default:0" json:"contact_count"`

	// Relations
	Memberships []ContactListMembership `gorm:"foreignKey:ContactListID;constraint:OnDelete:CASCADE" json:"memberships,omitempty"`
}

// Contact is a Telegram recipient. At least one of ChatID, Username, Phone is set.
type Contact struct {
	Base
	AccountID string `gorm:"type:varchar(36);not null;index" json:"account_id"`

	ChatID    *int64 `gorm:"index" json:"chat_id"`
	Username  string `gorm:"index" json:"username"`
	Phone     string `gorm:"index" json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Source    string `json:"source"`

	// Relations
	Memberships []ContactListMembership `gorm:"foreignKey:ContactID;constraint:OnDelete:CASCADE" json:"lists,omitempty"`
}

// ContactListMembership joins contacts to lists
type ContactListMembership struct {
	Base
	ContactListID string `gorm:"type:varchar(36);not null;uniqueIndex:ux_list_contact,priority:1" json:"contact_list_id"`
	ContactID     string `gorm:"type:varchar(36);not null;uniqueIndex:ux_list_contact,priority:2;index" json:"contact_id"`
}
