package service

import (
	"context"
	"sort"
	"time"

	"swarg/internal/models"
	"swarg/internal/repository"

	"github.com/samber/lo"
)

// Recent conversation limits.
const (
	DefaultConversationLimit = 50
	MaxConversationLimit     = 100
)

// ConversationSummary is the derived view of one conversation for a user.
// It is computed on every read and never stored.
type ConversationSummary struct {
	ConversationID string              `json:"conversation_id"`
	Kind           models.ReceiverKind `json:"kind"`
	PeerID         uint                `json:"peer_id"`
	Title          string              `json:"title"`
	Avatar         string              `json:"avatar,omitempty"`
	UnreadCount    int64               `json:"unread_count"`
	LastMessage    *models.Message     `json:"last_message,omitempty"`
	LastActivity   time.Time           `json:"last_activity"`
}

// UnreadCount is the unread total for one conversation.
type UnreadCount struct {
	ID    uint  `json:"id"`
	Count int64 `json:"count"`
}

// UnreadSummary breaks a user's unread messages down by conversation.
type UnreadSummary struct {
	Total  int64         `json:"total"`
	Users  []UnreadCount `json:"users"`
	Groups []UnreadCount `json:"groups"`
}

// ConversationService derives unread counts and recent conversation lists
// from the message store.
type ConversationService struct {
	messageRepo repository.MessageRepository
	groupRepo   repository.GroupRepository
	userRepo    repository.UserRepository
	groups      *GroupService
}

// NewConversationService returns a new ConversationService.
func NewConversationService(
	messageRepo repository.MessageRepository,
	groupRepo repository.GroupRepository,
	userRepo repository.UserRepository,
	groups *GroupService,
) *ConversationService {
	return &ConversationService{
		messageRepo: messageRepo,
		groupRepo:   groupRepo,
		userRepo:    userRepo,
		groups:      groups,
	}
}

// GetUnreadCount counts messages from peer to userID that are still sent or
// delivered and not deleted by userID.
func (s *ConversationService) GetUnreadCount(ctx context.Context, userID uint, peer models.Receiver) (int64, error) {
	switch peer.Kind {
	case models.ReceiverGroup:
		if err := s.groups.AuthorizeRead(ctx, peer.ID, userID); err != nil {
			return 0, err
		}
	case models.ReceiverUser:
	default:
		return 0, models.NewValidationError("Conversation must be with a user or a group")
	}
	return s.messageRepo.CountUnread(ctx, userID, peer)
}

// conversationLess orders by last activity, newest first, then by kind and
// id so that equal timestamps sort deterministically.
func conversationLess(a, b ConversationSummary) bool {
	if !a.LastActivity.Equal(b.LastActivity) {
		return a.LastActivity.After(b.LastActivity)
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.PeerID < b.PeerID
}

// ListRecentConversations merges direct and group conversations of userID.
func (s *ConversationService) ListRecentConversations(ctx context.Context, userID uint, limit int) ([]ConversationSummary, error) {
	limit = normalizeLimit(limit, DefaultConversationLimit, MaxConversationLimit)

	direct, err := s.messageRepo.LatestDirectPerPeer(ctx, userID)
	if err != nil {
		return nil, err
	}
	unreadDirect, err := s.messageRepo.UnreadDirectBySender(ctx, userID)
	if err != nil {
		return nil, err
	}

	groups, err := s.groupRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	groupIDs := lo.Map(groups, func(g models.Group, _ int) uint { return g.ID })
	latestGroup, err := s.messageRepo.LatestPerGroup(ctx, userID, groupIDs)
	if err != nil {
		return nil, err
	}
	unreadGroup, err := s.messageRepo.UnreadByGroup(ctx, userID, groupIDs)
	if err != nil {
		return nil, err
	}

	peerIDs := lo.Map(direct, func(m models.Message, _ int) uint { return m.ConversationFor(userID).ID })
	peers, err := s.userRepo.ListByIDs(ctx, peerIDs)
	if err != nil {
		return nil, err
	}
	peerByID := lo.KeyBy(peers, func(u models.User) uint { return u.ID })

	out := make([]ConversationSummary, 0, len(direct)+len(groups))
	for _, m := range direct {
		conv := m.ConversationFor(userID)
		last := m.Redacted()
		summary := ConversationSummary{
			ConversationID: conv.ConversationID(),
			Kind:           models.ReceiverUser,
			PeerID:         conv.ID,
			UnreadCount:    unreadDirect[conv.ID],
			LastMessage:    &last,
			LastActivity:   m.CreatedAt,
		}
		if peer, ok := peerByID[conv.ID]; ok {
			summary.Title = peer.DisplayName
			summary.Avatar = peer.Avatar
		}
		out = append(out, summary)
	}

	latestByGroup := lo.KeyBy(latestGroup, func(m models.Message) uint { return m.Receiver.ID })
	for _, g := range groups {
		summary := ConversationSummary{
			ConversationID: models.GroupReceiver(g.ID).ConversationID(),
			Kind:           models.ReceiverGroup,
			PeerID:         g.ID,
			Title:          g.Name,
			Avatar:         g.Avatar,
			UnreadCount:    unreadGroup[g.ID],
			LastActivity:   g.LastActivity,
		}
		if m, ok := latestByGroup[g.ID]; ok {
			last := m.Redacted()
			summary.LastMessage = &last
			summary.LastActivity = m.CreatedAt
		}
		if summary.LastActivity.IsZero() {
			summary.LastActivity = g.CreatedAt
		}
		out = append(out, summary)
	}

	sort.SliceStable(out, func(i, j int) bool { return conversationLess(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UnreadSummary returns the total and per-conversation unread counts of userID.
func (s *ConversationService) UnreadSummary(ctx context.Context, userID uint) (*UnreadSummary, error) {
	byUser, err := s.messageRepo.UnreadDirectBySender(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups, err := s.groupRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	byGroup, err := s.messageRepo.UnreadByGroup(ctx, userID, lo.Map(groups, func(g models.Group, _ int) uint { return g.ID }))
	if err != nil {
		return nil, err
	}

	summary := &UnreadSummary{Users: toUnreadCounts(byUser), Groups: toUnreadCounts(byGroup)}
	for _, c := range summary.Users {
		summary.Total += c.Count
	}
	for _, c := range summary.Groups {
		summary.Total += c.Count
	}
	return summary, nil
}

func toUnreadCounts(counts map[uint]int64) []UnreadCount {
	out := make([]UnreadCount, 0, len(counts))
	for id, n := range counts {
		if n > 0 {
			out = append(out, UnreadCount{ID: id, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
