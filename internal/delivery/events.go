// Package delivery routes persisted messages and ephemeral signals to the
// live sessions of their recipients.
package delivery

import (
	"time"

	"swarg/internal/models"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Inbound events.
const (
	EventSendMessage      = "send-message"
	EventMessageDelivered = "message-delivered"
	EventMessageRead      = "message-read"
	EventCallInitiate     = "call-initiate"
	EventCallAccept       = "call-accept"
	EventCallReject       = "call-reject"
	EventCallEnd          = "call-end"
)

// Outbound events.
const (
	EventReceiveMessage  = "receive-message"
	EventMessageSent     = "message-sent"
	EventMessageStatus   = "message-status"
	EventMessageReaction = "message-reaction"
	EventMessageDeleted  = "message-deleted"
	EventIncomingCall    = "incoming-call"
	EventCallInitiated   = "call-initiated"
	EventCallAccepted    = "call-accepted"
	EventCallRejected    = "call-rejected"
	EventCallEnded       = "call-ended"
	EventError           = "error"
)

// Events relayed in both directions.
const (
	EventTypingStart        = "typing-start"
	EventTypingStop         = "typing-stop"
	EventWebRTCOffer        = "webrtc-offer"
	EventWebRTCAnswer       = "webrtc-answer"
	EventWebRTCICECandidate = "webrtc-ice-candidate"
)

// Envelope is the frame exchanged with websocket clients.
type Envelope struct {
	Event string              `json:"event"`
	Data  jsoniter.RawMessage `json:"data,omitempty"`
}

// Encode builds the wire frame for event.
func Encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses a wire frame. Data is left raw for the event handler.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// DecodeData unmarshals an envelope payload into v.
func DecodeData(env *Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(env.Data, v)
}

// SendMessageData is the payload of send-message.
type SendMessageData struct {
	ClientID    string                  `json:"client_id,omitempty"`
	To          models.Receiver         `json:"to"`
	Type        models.MessageType      `json:"type"`
	Content     string                  `json:"content,omitempty"`
	Media       *models.MediaDescriptor `json:"media,omitempty"`
	Location    *models.Location        `json:"location,omitempty"`
	Contact     *models.ContactCard     `json:"contact,omitempty"`
	ReplyToID   *uint                   `json:"reply_to_id,omitempty"`
	IsForwarded bool                    `json:"is_forwarded,omitempty"`
}

// MessageSentData acknowledges send-message to the sender.
type MessageSentData struct {
	ClientID  string         `json:"client_id,omitempty"`
	Message   models.Message `json:"message"`
	Delivered []uint         `json:"delivered_to"`
	Pending   []uint         `json:"pending"`
}

// ReceiptData is the payload of message-delivered and message-read.
type ReceiptData struct {
	MessageIDs []uint `json:"message_ids"`
}

// StatusData is pushed to senders as message-status.
type StatusData struct {
	Updates []models.StatusChange `json:"updates"`
}

// TypingData is the payload of typing-start and typing-stop. UserID is
// filled in by the server on the way out.
type TypingData struct {
	To     models.Receiver `json:"to"`
	UserID uint            `json:"user_id,omitempty"`
}

// CallData carries call and WebRTC signaling between two users.
type CallData struct {
	CallID string              `json:"call_id,omitempty"`
	To     uint                `json:"to,omitempty"`
	From   uint                `json:"from,omitempty"`
	Type   string              `json:"type,omitempty"`
	Signal jsoniter.RawMessage `json:"signal,omitempty"`
}

// ReactionData announces a reaction change on a message.
type ReactionData struct {
	MessageID uint   `json:"message_id"`
	UserID    uint   `json:"user_id"`
	Emoji     string `json:"emoji,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
}

// DeletedData announces a delete-for-everyone.
type DeletedData struct {
	MessageID uint            `json:"message_id"`
	Receiver  models.Receiver `json:"receiver"`
	At        time.Time       `json:"at"`
}

// ErrorData is sent back when an inbound event fails.
type ErrorData struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
