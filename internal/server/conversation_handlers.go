package server

import (
	"swarg/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetRecentConversations handles GET /api/conversations?limit=
func (s *Server) GetRecentConversations(c *fiber.Ctx) error {
	convs, err := s.conversationService.ListRecentConversations(
		c.UserContext(), currentUserID(c), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(convs)
}

// GetUnreadSummary handles GET /api/conversations/unread
func (s *Server) GetUnreadSummary(c *fiber.Ctx) error {
	summary, err := s.conversationService.UnreadSummary(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}

// GetUserUnreadCount handles GET /api/conversations/users/:userId/unread
func (s *Server) GetUserUnreadCount(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	return s.unreadCount(c, models.UserReceiver(userID))
}

// GetGroupUnreadCount handles GET /api/conversations/groups/:groupId/unread
func (s *Server) GetGroupUnreadCount(c *fiber.Ctx) error {
	groupID, err := s.parseID(c, "groupId")
	if err != nil {
		return nil
	}
	return s.unreadCount(c, models.GroupReceiver(groupID))
}

func (s *Server) unreadCount(c *fiber.Ctx, peer models.Receiver) error {
	count, err := s.conversationService.GetUnreadCount(c.UserContext(), currentUserID(c), peer)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"conversation_id": peer.ConversationID(),
		"unread_count":    count,
	})
}

// GetUserHistory handles GET /api/conversations/users/:userId
func (s *Server) GetUserHistory(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	return s.history(c, models.UserReceiver(userID))
}

// GetGroupHistory handles GET /api/conversations/groups/:groupId
func (s *Server) GetGroupHistory(c *fiber.Ctx) error {
	groupID, err := s.parseID(c, "groupId")
	if err != nil {
		return nil
	}
	return s.history(c, models.GroupReceiver(groupID))
}

func (s *Server) history(c *fiber.Ctx, peer models.Receiver) error {
	q, err := parseHistoryQuery(c)
	if err != nil {
		return nil
	}
	page, err := s.chatService.History(c.UserContext(), currentUserID(c), peer, q)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}
