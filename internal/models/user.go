package models

import "time"

// PrivacyLevel controls who may see a presence attribute.
type PrivacyLevel string

const (
	PrivacyEveryone PrivacyLevel = "everyone"
	PrivacyContacts PrivacyLevel = "contacts"
	PrivacyNobody   PrivacyLevel = "nobody"
)

func (p PrivacyLevel) Valid() bool {
	switch p {
	case PrivacyEveryone, PrivacyContacts, PrivacyNobody:
		return true
	}
	return false
}

// PrivacySettings is stored inline on the users table.
type PrivacySettings struct {
	LastSeen PrivacyLevel `gorm:"type:varchar(10);not null;default:'everyone'" json:"last_seen"`
	Status   PrivacyLevel `gorm:"type:varchar(10);not null;default:'everyone'" json:"status"`
}

// User is the subset of an account the messaging subsystem needs.
type User struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Username    string          `gorm:"size:50;uniqueIndex;not null" json:"username"`
	DisplayName string          `gorm:"size:100" json:"display_name"`
	Avatar      string          `json:"avatar,omitempty"`
	About       string          `gorm:"size:200" json:"about,omitempty"`
	SwargNumber string          `gorm:"size:16;uniqueIndex;not null" json:"swarg_number"`
	LastSeen    *time.Time      `json:"last_seen,omitempty"`
	Privacy     PrivacySettings `gorm:"embedded;embeddedPrefix:privacy_" json:"privacy"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// UserBlock records that BlockerID blocked BlockedID.
type UserBlock struct {
	BlockerID uint      `gorm:"primaryKey" json:"blocker_id"`
	BlockedID uint      `gorm:"primaryKey;index" json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserContact records that ContactID is in OwnerID's contact list.
type UserContact struct {
	OwnerID   uint      `gorm:"primaryKey" json:"owner_id"`
	ContactID uint      `gorm:"primaryKey;index" json:"contact_id"`
	CreatedAt time.Time `json:"created_at"`
}
