package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"swarg/internal/featureflags"
	"swarg/internal/models"
	"swarg/internal/observability"
	"swarg/internal/repository"
	"swarg/internal/validation"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
)

// DeleteForEveryoneWindow is how long after creation a sender may delete a
// message for all participants.
const DeleteForEveryoneWindow = 15 * time.Minute

// History paging limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

const maxEmojiBytes = 32

// MessageService owns the message lifecycle: creation, status transitions,
// reactions and deletion.
type MessageService struct {
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	groups      *GroupService
	clock       *Clock
	flags       *featureflags.Manager
}

// NewMessageService returns a new MessageService. flags may be nil, which
// disables lazy delivery on history reads.
func NewMessageService(
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	groups *GroupService,
	clock *Clock,
	flags *featureflags.Manager,
) *MessageService {
	if clock == nil {
		clock = NewClock()
	}
	return &MessageService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		groups:      groups,
		clock:       clock,
		flags:       flags,
	}
}

// CreateMessageInput is the input for sending a message.
type CreateMessageInput struct {
	SenderID    uint
	Receiver    models.Receiver
	Type        models.MessageType
	Content     string
	Media       *models.MediaDescriptor
	Location    *models.Location
	Contact     *models.ContactCard
	ReplyToID   *uint
	IsForwarded bool
}

// CreateMessage validates and persists a message with status sent. It does
// not route it.
func (s *MessageService) CreateMessage(ctx context.Context, in CreateMessageInput) (_ *models.Message, err error) {
	span, ctx := observability.NewSpan(ctx, "MessageService.CreateMessage")
	defer func() { span.Finish(err) }()
	span.AddAttributes(
		attribute.Int("sender_id", int(in.SenderID)),
		attribute.String("conversation", in.Receiver.ConversationID()),
	)

	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	if err := validation.ValidatePayload(validation.Payload{
		Type:     in.Type,
		Content:  in.Content,
		Media:    in.Media,
		Location: in.Location,
		Contact:  in.Contact,
	}); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	switch in.Receiver.Kind {
	case models.ReceiverUser:
		if _, err := s.userRepo.GetByID(ctx, in.Receiver.ID); err != nil {
			return nil, err
		}
		if in.SenderID != in.Receiver.ID {
			blocked, err := s.userRepo.IsBlocked(ctx, in.SenderID, in.Receiver.ID)
			if err != nil {
				return nil, err
			}
			if blocked {
				return nil, models.NewNotAuthorizedError("Messaging between these users is blocked")
			}
		}
	case models.ReceiverGroup:
		if err := s.groups.AuthorizeSend(ctx, in.Receiver.ID, in.SenderID); err != nil {
			return nil, err
		}
	default:
		return nil, models.NewValidationError("Receiver must be a user or a group")
	}

	if in.ReplyToID != nil {
		if err := s.checkReplyTarget(ctx, *in.ReplyToID, in.SenderID, in.Receiver); err != nil {
			return nil, err
		}
	}

	msg := &models.Message{
		SenderID:    in.SenderID,
		Receiver:    in.Receiver,
		Type:        in.Type,
		Content:     in.Content,
		Media:       in.Media,
		Location:    in.Location,
		Contact:     in.Contact,
		Status:      models.StatusSent,
		ReplyToID:   in.ReplyToID,
		IsForwarded: in.IsForwarded,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *MessageService) checkReplyTarget(ctx context.Context, replyToID, senderID uint, to models.Receiver) error {
	target, err := s.messageRepo.GetByID(ctx, replyToID)
	if err != nil {
		return err
	}
	if to.IsGroup() {
		if target.Receiver != to {
			return models.NewNotFoundError("Message", replyToID)
		}
		return nil
	}
	if !target.IsParticipantDirect(senderID) || target.ConversationFor(senderID) != to {
		return models.NewNotFoundError("Message", replyToID)
	}
	return nil
}

// canView checks that userID takes part in the conversation of msg.
func (s *MessageService) canView(ctx context.Context, msg *models.Message, userID uint) error {
	if msg.Receiver.IsGroup() {
		return s.groups.AuthorizeRead(ctx, msg.Receiver.ID, userID)
	}
	if !msg.IsParticipantDirect(userID) {
		return models.NewNotFoundError("Message", msg.ID)
	}
	return nil
}

// GetMessage returns a message to a participant, redacted if deleted for everyone.
func (s *MessageService) GetMessage(ctx context.Context, messageID, userID uint) (*models.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, msg, userID); err != nil {
		return nil, err
	}
	view := msg.Redacted()
	return &view, nil
}

// MarkDelivered advances one message to delivered. It is a no-op when the
// message is already delivered, read or failed.
func (s *MessageService) MarkDelivered(ctx context.Context, messageID uint) error {
	if _, err := s.messageRepo.GetByID(ctx, messageID); err != nil {
		return err
	}
	_, err := s.messageRepo.AdvanceStatus(ctx, []uint{messageID}, models.StatusDelivered, s.clock.Now())
	return err
}

// inbound reports whether msg was sent to userID directly, or posted by
// someone else to a group. A note to self is inbound for its author.
func inbound(msg *models.Message, userID uint) bool {
	if msg.Receiver.IsGroup() {
		return msg.SenderID != userID
	}
	return msg.Receiver.ID == userID
}

// addressedTo reports whether userID is a receiver of msg: the addressed user
// of a direct message or any member other than the sender of a group message.
func (s *MessageService) addressedTo(ctx context.Context, msg *models.Message, userID uint, memberOf map[uint]bool) (bool, error) {
	if !inbound(msg, userID) {
		return false, nil
	}
	if !msg.Receiver.IsGroup() {
		return true, nil
	}
	isMember, seen := memberOf[msg.Receiver.ID]
	if !seen {
		err := s.groups.AuthorizeRead(ctx, msg.Receiver.ID, userID)
		switch {
		case err == nil:
			isMember = true
		case models.IsCode(err, models.CodeNotMember), models.IsCode(err, models.CodeNotFound):
			isMember = false
		default:
			return false, err
		}
		memberOf[msg.Receiver.ID] = isMember
	}
	return isMember, nil
}

func (s *MessageService) advanceFor(ctx context.Context, messageIDs []uint, userID uint, to models.MessageStatus) ([]models.StatusChange, error) {
	messageIDs = lo.Uniq(messageIDs)
	if len(messageIDs) == 0 {
		return nil, models.NewValidationError("message_ids is required")
	}
	msgs, err := s.messageRepo.ListByIDs(ctx, messageIDs)
	if err != nil {
		return nil, err
	}

	memberOf := map[uint]bool{}
	eligible := make([]uint, 0, len(msgs))
	for i := range msgs {
		ok, err := s.addressedTo(ctx, &msgs[i], userID, memberOf)
		if err != nil {
			return nil, err
		}
		if ok {
			eligible = append(eligible, msgs[i].ID)
		}
	}
	return s.messageRepo.AdvanceStatus(ctx, eligible, to, s.clock.Now())
}

// AcknowledgeDelivered marks the messages addressed to userID as delivered.
// Messages the user is not a receiver of are ignored.
func (s *MessageService) AcknowledgeDelivered(ctx context.Context, messageIDs []uint, userID uint) ([]models.StatusChange, error) {
	return s.advanceFor(ctx, messageIDs, userID, models.StatusDelivered)
}

// MarkRead marks the messages addressed to readerID as read. Only messages
// still sent or delivered change.
func (s *MessageService) MarkRead(ctx context.Context, messageIDs []uint, readerID uint) ([]models.StatusChange, error) {
	return s.advanceFor(ctx, messageIDs, readerID, models.StatusRead)
}

// MarkFailed lets the sender flag a message that could not be completed,
// e.g. after a media upload failed. Only sent messages can fail.
func (s *MessageService) MarkFailed(ctx context.Context, messageID, requesterID uint) error {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return models.NewForbiddenError("Only the sender can mark a message as failed")
	}
	if msg.Status == models.StatusFailed {
		return nil
	}
	changes, err := s.messageRepo.AdvanceStatus(ctx, []uint{messageID}, models.StatusFailed, s.clock.Now())
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return models.NewValidationError("Only undelivered messages can be marked as failed")
	}
	return nil
}

// AddReaction sets userID's reaction on a message, replacing any previous one.
func (s *MessageService) AddReaction(ctx context.Context, messageID, userID uint, emoji string) (*models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiBytes || !utf8.ValidString(emoji) {
		return nil, models.NewValidationError("Invalid emoji")
	}
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, msg, userID); err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, models.NewValidationError("Message was deleted")
	}

	reaction := &models.MessageReaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: s.clock.Now()}
	if err := s.messageRepo.UpsertReaction(ctx, reaction); err != nil {
		return nil, err
	}
	return s.messageRepo.GetByID(ctx, messageID)
}

// RemoveReaction removes userID's reaction, if any.
func (s *MessageService) RemoveReaction(ctx context.Context, messageID, userID uint) (*models.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, msg, userID); err != nil {
		return nil, err
	}
	if _, err := s.messageRepo.DeleteReaction(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return msg, nil
}

// DeleteForUser hides a message from userID only.
func (s *MessageService) DeleteForUser(ctx context.Context, messageID, userID uint) error {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.canView(ctx, msg, userID); err != nil {
		return err
	}
	return s.messageRepo.HideForUser(ctx, messageID, userID)
}

// DeleteForEveryone flags a message as deleted for all participants. Only
// the sender may do so, within DeleteForEveryoneWindow of creation.
func (s *MessageService) DeleteForEveryone(ctx context.Context, messageID, requesterID uint) (*models.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, models.NewForbiddenError("Only the sender can delete a message for everyone")
	}
	if msg.IsDeleted {
		view := msg.Redacted()
		return &view, nil
	}
	now := s.clock.Now()
	if now.Sub(msg.CreatedAt) > DeleteForEveryoneWindow {
		return nil, models.NewExpiredError("Messages can only be deleted for everyone within 15 minutes")
	}

	if _, err := s.messageRepo.MarkDeletedForEveryone(ctx, messageID, now); err != nil {
		return nil, err
	}
	msg.IsDeleted = true
	msg.DeletedForAllAt = &now
	view := msg.Redacted()
	return &view, nil
}

// HistoryQuery pages a conversation. Zero Limit means DefaultHistoryLimit.
type HistoryQuery = repository.HistoryQuery

// HistoryPage is one page of a conversation plus the receipts produced by
// fetching it.
type HistoryPage struct {
	Messages  []models.Message      `json:"messages"`
	Delivered []models.StatusChange `json:"-"`
}

func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// ListConversation returns the history between userID and peer. Incoming
// messages still marked sent are advanced to delivered on the way out.
func (s *MessageService) ListConversation(ctx context.Context, userID uint, peer models.Receiver, q HistoryQuery) (*HistoryPage, error) {
	switch peer.Kind {
	case models.ReceiverGroup:
		if err := s.groups.AuthorizeRead(ctx, peer.ID, userID); err != nil {
			return nil, err
		}
	case models.ReceiverUser:
		if _, err := s.userRepo.GetByID(ctx, peer.ID); err != nil {
			return nil, err
		}
	default:
		return nil, models.NewValidationError("Conversation must be with a user or a group")
	}
	if q.BeforeID != 0 && q.AfterID != 0 {
		return nil, models.NewValidationError("Use either before or after, not both")
	}
	q.Limit = normalizeLimit(q.Limit, DefaultHistoryLimit, MaxHistoryLimit)

	msgs, err := s.messageRepo.History(ctx, userID, peer, q)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Messages: make([]models.Message, 0, len(msgs))}
	if s.flags.Enabled(featureflags.LazyDelivery, userID) {
		pending := lo.FilterMap(msgs, func(m models.Message, _ int) (uint, bool) {
			return m.ID, m.Status == models.StatusSent && inbound(&m, userID)
		})
		if len(pending) > 0 {
			changes, err := s.messageRepo.AdvanceStatus(ctx, pending, models.StatusDelivered, s.clock.Now())
			if err != nil {
				return nil, err
			}
			page.Delivered = changes
			moved := lo.SliceToMap(changes, func(c models.StatusChange) (uint, time.Time) { return c.MessageID, c.At })
			for i := range msgs {
				if at, ok := moved[msgs[i].ID]; ok {
					msgs[i].Status = models.StatusDelivered
					msgs[i].DeliveredAt = &at
				}
			}
		}
	}

	for _, m := range msgs {
		page.Messages = append(page.Messages, m.Redacted())
	}
	return page, nil
}
