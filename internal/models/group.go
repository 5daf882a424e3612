package models

import "time"

// GroupRole is a member's role inside a group.
type GroupRole string

const (
	RoleAdmin  GroupRole = "admin"
	RoleMember GroupRole = "member"
)

func (r GroupRole) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// GroupPolicy restricts an action to all members or admins only.
type GroupPolicy string

const (
	PolicyAll    GroupPolicy = "all"
	PolicyAdmins GroupPolicy = "admins"
)

func (p GroupPolicy) Valid() bool {
	return p == PolicyAll || p == PolicyAdmins
}

// GroupSettings is stored inline on the groups table.
type GroupSettings struct {
	SendMessages  GroupPolicy `gorm:"type:varchar(10);not null;default:'all'" json:"send_messages"`
	EditGroupInfo GroupPolicy `gorm:"type:varchar(10);not null;default:'admins'" json:"edit_group_info"`
}

// Group is a named set of members sharing one conversation.
type Group struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	Name          string        `gorm:"size:100;not null" json:"name"`
	Description   string        `gorm:"size:500" json:"description,omitempty"`
	Avatar        string        `json:"avatar,omitempty"`
	CreatedBy     uint          `gorm:"not null;index" json:"created_by"`
	Settings      GroupSettings `gorm:"embedded;embeddedPrefix:settings_" json:"settings"`
	MessageCount  int64         `gorm:"not null;default:0" json:"message_count"`
	LastMessageID *uint         `json:"last_message_id,omitempty"`
	LastActivity  time.Time     `gorm:"index" json:"last_activity"`
	IsActive      bool          `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Members       []GroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
}

// GroupMember is unique per (group, user).
type GroupMember struct {
	GroupID  uint      `gorm:"primaryKey" json:"group_id"`
	UserID   uint      `gorm:"primaryKey;index" json:"user_id"`
	Role     GroupRole `gorm:"type:varchar(10);not null;default:'member'" json:"role"`
	AddedBy  uint      `json:"added_by,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// Allows reports whether a member with the given role passes the policy.
func (p GroupPolicy) Allows(role GroupRole) bool {
	if p == PolicyAdmins {
		return role == RoleAdmin
	}
	return true
}
