// Package service provides the messaging business logic: message lifecycle,
// conversation read models, group authorization and delivery orchestration.
package service

import (
	"context"

	"swarg/internal/delivery"
	"swarg/internal/featureflags"
	"swarg/internal/models"
	"swarg/internal/repository"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Dispatcher pushes persisted messages and ephemeral events to live sessions.
type Dispatcher interface {
	Route(ctx context.Context, msg *models.Message) (*delivery.RoutingResult, error)
	Signal(ctx context.Context, userIDs []uint, event string, data interface{})
	NotifyStatus(ctx context.Context, changes []models.StatusChange)
}

// ChatService ties the message store to the delivery router. It is the entry
// point for both the HTTP API and websocket events.
type ChatService struct {
	messages *MessageService
	groups   *GroupService
	users    *UserService
	router   Dispatcher
	flags    *featureflags.Manager
	lanes    lanes
}

// NewChatService returns a new ChatService. router may be nil, in which case
// nothing is pushed and recipients fetch messages on their next read.
func NewChatService(messages *MessageService, groups *GroupService, users *UserService, router Dispatcher, flags *featureflags.Manager) *ChatService {
	return &ChatService{
		messages: messages,
		groups:   groups,
		users:    users,
		router:   router,
		flags:    flags,
	}
}

// SendResult is the outcome of a send: the stored message and how its
// fan-out went.
type SendResult struct {
	Message *models.Message
	Routing *delivery.RoutingResult
}

// SendMessage persists a message and routes it. Both steps run inside the
// sender's lane for the conversation so a pair's messages reach live
// sessions in creation order. Routing problems never fail the send.
func (s *ChatService) SendMessage(ctx context.Context, in CreateMessageInput) (*SendResult, error) {
	unlock := s.lanes.lock(in.SenderID, in.Receiver)
	defer unlock()

	msg, err := s.messages.CreateMessage(ctx, in)
	if err != nil {
		return nil, err
	}

	result := &SendResult{Message: msg, Routing: &delivery.RoutingResult{MessageID: msg.ID}}
	if s.router == nil {
		return result, nil
	}
	routing, err := s.router.Route(ctx, msg)
	if err != nil {
		// The message is durable; recipients pick it up on their next fetch.
		return result, nil
	}
	result.Routing = routing
	return result, nil
}

func (s *ChatService) notifyStatus(ctx context.Context, changes []models.StatusChange) {
	if s.router != nil && len(changes) > 0 {
		s.router.NotifyStatus(ctx, changes)
	}
}

// AcknowledgeDelivered records delivery receipts from userID and tells the
// senders.
func (s *ChatService) AcknowledgeDelivered(ctx context.Context, messageIDs []uint, userID uint) ([]models.StatusChange, error) {
	changes, err := s.messages.AcknowledgeDelivered(ctx, messageIDs, userID)
	if err != nil {
		return nil, err
	}
	s.notifyStatus(ctx, changes)
	return changes, nil
}

// MarkRead records read receipts from readerID and tells the senders.
func (s *ChatService) MarkRead(ctx context.Context, messageIDs []uint, readerID uint) ([]models.StatusChange, error) {
	changes, err := s.messages.MarkRead(ctx, messageIDs, readerID)
	if err != nil {
		return nil, err
	}
	s.notifyStatus(ctx, changes)
	return changes, nil
}

// History returns a page of a conversation and emits the delivery receipts
// the fetch produced.
func (s *ChatService) History(ctx context.Context, userID uint, peer models.Receiver, q HistoryQuery) (*HistoryPage, error) {
	page, err := s.messages.ListConversation(ctx, userID, peer, q)
	if err != nil {
		return nil, err
	}
	s.notifyStatus(ctx, page.Delivered)
	return page, nil
}

// participants lists every user who can see msg.
func (s *ChatService) participants(ctx context.Context, msg *models.Message) []uint {
	if !msg.Receiver.IsGroup() {
		return lo.Uniq([]uint{msg.SenderID, msg.Receiver.ID})
	}
	ids, err := s.groups.MemberIDs(ctx, msg.Receiver.ID)
	if err != nil {
		return []uint{msg.SenderID}
	}
	return ids
}

func (s *ChatService) signal(ctx context.Context, userIDs []uint, event string, data interface{}) {
	if s.router != nil {
		s.router.Signal(ctx, userIDs, event, data)
	}
}

// React sets a reaction and announces it to the conversation.
func (s *ChatService) React(ctx context.Context, messageID, userID uint, emoji string) (*models.Message, error) {
	msg, err := s.messages.AddReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, err
	}
	s.signal(ctx, s.participants(ctx, msg), delivery.EventMessageReaction, delivery.ReactionData{
		MessageID: messageID, UserID: userID, Emoji: emoji,
	})
	return msg, nil
}

// Unreact removes a reaction and announces it to the conversation.
func (s *ChatService) Unreact(ctx context.Context, messageID, userID uint) error {
	msg, err := s.messages.RemoveReaction(ctx, messageID, userID)
	if err != nil {
		return err
	}
	s.signal(ctx, s.participants(ctx, msg), delivery.EventMessageReaction, delivery.ReactionData{
		MessageID: messageID, UserID: userID, Removed: true,
	})
	return nil
}

// DeleteForEveryone deletes a message for all participants and tells them.
func (s *ChatService) DeleteForEveryone(ctx context.Context, messageID, requesterID uint) (*models.Message, error) {
	msg, err := s.messages.DeleteForEveryone(ctx, messageID, requesterID)
	if err != nil {
		return nil, err
	}
	data := delivery.DeletedData{MessageID: msg.ID, Receiver: msg.Receiver}
	if msg.DeletedForAllAt != nil {
		data.At = *msg.DeletedForAllAt
	}
	s.signal(ctx, s.participants(ctx, msg), delivery.EventMessageDeleted, data)
	return msg, nil
}

// Typing relays a typing indicator. Indicators are dropped silently when the
// feature is off, the sender may not post there or a block is in place.
func (s *ChatService) Typing(ctx context.Context, userID uint, to models.Receiver, started bool) error {
	if !s.flags.Enabled(featureflags.TypingIndicators, userID) {
		return nil
	}
	event := delivery.EventTypingStop
	if started {
		event = delivery.EventTypingStart
	}

	var recipients []uint
	switch to.Kind {
	case models.ReceiverGroup:
		if err := s.groups.AuthorizeSend(ctx, to.ID, userID); err != nil {
			return err
		}
		members, err := s.groups.MemberIDs(ctx, to.ID)
		if err != nil {
			return err
		}
		blocked, err := s.users.BlockedAmong(ctx, userID, members)
		if err != nil {
			return err
		}
		recipients = lo.Without(members, append(blocked, userID)...)
	case models.ReceiverUser:
		blocked, err := s.users.IsBlocked(ctx, userID, to.ID)
		if err != nil {
			return err
		}
		if blocked {
			return nil
		}
		recipients = []uint{to.ID}
	default:
		return models.NewValidationError("Typing target must be a user or a group")
	}

	// Recipients see the conversation from their own side.
	for _, id := range recipients {
		view := to
		if !to.IsGroup() {
			view = models.UserReceiver(userID)
		}
		s.signal(ctx, []uint{id}, event, delivery.TypingData{To: view, UserID: userID})
	}
	return nil
}

var callEvents = map[string]string{
	delivery.EventCallInitiate:       delivery.EventIncomingCall,
	delivery.EventCallAccept:         delivery.EventCallAccepted,
	delivery.EventCallReject:         delivery.EventCallRejected,
	delivery.EventCallEnd:            delivery.EventCallEnded,
	delivery.EventWebRTCOffer:        delivery.EventWebRTCOffer,
	delivery.EventWebRTCAnswer:       delivery.EventWebRTCAnswer,
	delivery.EventWebRTCICECandidate: delivery.EventWebRTCICECandidate,
}

// IsCallEvent reports whether event is an inbound call signaling event.
func IsCallEvent(event string) bool {
	_, ok := callEvents[event]
	return ok
}

// CallSignal relays call signaling from userID to the callee. Signals are not
// stored. A new call gets a fresh call id, returned to the caller.
func (s *ChatService) CallSignal(ctx context.Context, userID uint, event string, data delivery.CallData) (string, error) {
	outbound, ok := callEvents[event]
	if !ok {
		return "", models.NewValidationError("Unknown call event")
	}
	if !s.flags.Enabled(featureflags.CallSignaling, userID) {
		return "", models.NewForbiddenError("Calling is not available")
	}
	if data.To == 0 || data.To == userID {
		return "", models.NewValidationError("Call target is required")
	}
	blocked, err := s.users.IsBlocked(ctx, userID, data.To)
	if err != nil {
		return "", err
	}
	if blocked {
		return "", models.NewNotAuthorizedError("Calling this user is blocked")
	}

	if event == delivery.EventCallInitiate {
		data.CallID = uuid.NewString()
	} else if data.CallID == "" {
		return "", models.NewValidationError("call_id is required")
	}
	data.From = userID
	to := data.To
	data.To = 0

	s.signal(ctx, []uint{to}, outbound, data)
	return data.CallID, nil
}

// audience adapts the stores to the router's recipient lookups.
type audience struct {
	groupRepo repository.GroupRepository
	userRepo  repository.UserRepository
}

// NewAudience returns the delivery.Audience backed by the group and user stores.
func NewAudience(groupRepo repository.GroupRepository, userRepo repository.UserRepository) delivery.Audience {
	return &audience{groupRepo: groupRepo, userRepo: userRepo}
}

func (a *audience) GroupMemberIDs(ctx context.Context, groupID uint) ([]uint, error) {
	return a.groupRepo.MemberIDs(ctx, groupID)
}

func (a *audience) BlockedAmong(ctx context.Context, userID uint, candidates []uint) ([]uint, error) {
	return a.userRepo.BlockedAmong(ctx, userID, candidates)
}
