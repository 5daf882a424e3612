// Package models contains data structures for the messenger's domain models.
package models

import (
	"fmt"
	"time"
)

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeDocument MessageType = "document"
	MessageTypeLocation MessageType = "location"
	MessageTypeContact  MessageType = "contact"
)

// IsMedia reports whether the type is carried by a MediaDescriptor.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeDocument:
		return true
	}
	return false
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeLocation, MessageTypeContact:
		return true
	}
	return t.IsMedia()
}

// MessageStatus tracks delivery progress. Status only moves forward.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Rank orders the non-terminal statuses. Failed has no rank.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// Predecessors lists the statuses a message may hold immediately before
// transitioning to s.
func (s MessageStatus) Predecessors() []MessageStatus {
	switch s {
	case StatusDelivered:
		return []MessageStatus{StatusSent}
	case StatusRead:
		return []MessageStatus{StatusSent, StatusDelivered}
	case StatusFailed:
		return []MessageStatus{StatusSent}
	}
	return nil
}

// ReceiverKind distinguishes direct messages from group messages.
type ReceiverKind string

const (
	ReceiverUser  ReceiverKind = "user"
	ReceiverGroup ReceiverKind = "group"
)

// Receiver addresses a message to exactly one user or one group.
type Receiver struct {
	Kind ReceiverKind `gorm:"column:receiver_kind;type:varchar(10);not null;index:idx_messages_receiver,priority:1" json:"kind"`
	ID   uint         `gorm:"column:receiver_id;not null;index:idx_messages_receiver,priority:2" json:"id"`
}

// UserReceiver addresses a direct conversation.
func UserReceiver(userID uint) Receiver {
	return Receiver{Kind: ReceiverUser, ID: userID}
}

// GroupReceiver addresses a group conversation.
func GroupReceiver(groupID uint) Receiver {
	return Receiver{Kind: ReceiverGroup, ID: groupID}
}

func (r Receiver) IsGroup() bool { return r.Kind == ReceiverGroup }

// ConversationID is the stable key of the conversation, e.g. "user:7" or "group:3".
func (r Receiver) ConversationID() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// MediaDescriptor references an already uploaded file.
type MediaDescriptor struct {
	URL       string  `json:"url" validate:"required,url"`
	Thumbnail string  `json:"thumbnail,omitempty" validate:"omitempty,url"`
	FileName  string  `json:"file_name,omitempty"`
	MimeType  string  `json:"mime_type,omitempty"`
	Size      int64   `json:"size,omitempty" validate:"gte=0"`
	Duration  float64 `json:"duration,omitempty" validate:"gte=0"`
	Width     int     `json:"width,omitempty" validate:"gte=0"`
	Height    int     `json:"height,omitempty" validate:"gte=0"`
}

type Location struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Address   string  `json:"address,omitempty" validate:"max=500"`
}

type ContactCard struct {
	Name        string `json:"name" validate:"required,max=100"`
	SwargNumber string `json:"swarg_number,omitempty"`
	UserID      uint   `json:"user_id,omitempty"`
}

// Message is a single chat message. Rows are never physically deleted.
type Message struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	SenderID    uint             `gorm:"not null;index" json:"sender_id"`
	Receiver    Receiver         `gorm:"embedded" json:"receiver"`
	Type        MessageType      `gorm:"type:varchar(20);not null;default:'text'" json:"type"`
	Content     string           `gorm:"type:text" json:"content,omitempty"`
	Media       *MediaDescriptor `gorm:"type:text;serializer:json" json:"media,omitempty"`
	Location    *Location        `gorm:"type:text;serializer:json" json:"location,omitempty"`
	Contact     *ContactCard     `gorm:"type:text;serializer:json" json:"contact,omitempty"`
	Status      MessageStatus    `gorm:"type:varchar(20);not null;default:'sent';index" json:"status"`
	ReplyToID   *uint            `gorm:"index" json:"reply_to_id,omitempty"`
	IsForwarded bool             `gorm:"not null;default:false" json:"is_forwarded"`
	IsDeleted   bool             `gorm:"not null;default:false" json:"is_deleted"`
	// DeletedForAllAt is set together with IsDeleted by a delete-for-everyone.
	DeletedForAllAt *time.Time        `json:"deleted_for_all_at,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;index:idx_messages_receiver,priority:3" json:"created_at"`
	DeliveredAt     *time.Time        `json:"delivered_at,omitempty"`
	ReadAt          *time.Time        `json:"read_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Reactions       []MessageReaction `gorm:"foreignKey:MessageID" json:"reactions,omitempty"`
}

// Redacted returns the view shown to clients: globally deleted messages keep
// their envelope but lose their payload.
func (m Message) Redacted() Message {
	if !m.IsDeleted {
		return m
	}
	m.Content = ""
	m.Media = nil
	m.Location = nil
	m.Contact = nil
	m.Reactions = nil
	return m
}

// IsParticipantDirect reports whether userID is one side of a direct message.
func (m *Message) IsParticipantDirect(userID uint) bool {
	return m.Receiver.Kind == ReceiverUser && (m.SenderID == userID || m.Receiver.ID == userID)
}

// ConversationFor returns the conversation key of m as seen by userID.
func (m *Message) ConversationFor(userID uint) Receiver {
	if m.Receiver.IsGroup() {
		return m.Receiver
	}
	if m.SenderID == userID {
		return m.Receiver
	}
	return UserReceiver(m.SenderID)
}

// MessageReaction holds at most one emoji per user per message.
type MessageReaction struct {
	MessageID uint      `gorm:"primaryKey" json:"message_id"`
	UserID    uint      `gorm:"primaryKey" json:"user_id"`
	Emoji     string    `gorm:"type:varchar(32);not null" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageDeletion hides a message from a single user's views.
type MessageDeletion struct {
	MessageID uint      `gorm:"primaryKey" json:"message_id"`
	UserID    uint      `gorm:"primaryKey;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusChange records one forward status transition that actually happened.
type StatusChange struct {
	MessageID uint          `json:"message_id"`
	SenderID  uint          `json:"-"`
	Receiver  Receiver      `json:"receiver"`
	Status    MessageStatus `json:"status"`
	At        time.Time     `json:"at"`
}
