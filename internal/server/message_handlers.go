package server

import (
	"swarg/internal/delivery"
	"swarg/internal/models"
	"swarg/internal/service"

	"github.com/gofiber/fiber/v2"
)

// sendMessageRequest is the body of the send endpoints. The receiver comes
// from the route.
type sendMessageRequest struct {
	ClientID    string                  `json:"client_id" validate:"omitempty,max=64"`
	Type        models.MessageType      `json:"type" validate:"required"`
	Content     string                  `json:"content"`
	Media       *models.MediaDescriptor `json:"media"`
	Location    *models.Location        `json:"location"`
	Contact     *models.ContactCard     `json:"contact"`
	ReplyToID   *uint                   `json:"reply_to_id"`
	IsForwarded bool                    `json:"is_forwarded"`
}

type receiptRequest struct {
	MessageIDs []uint `json:"message_ids" validate:"required,min=1,max=500,dive,gt=0"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" validate:"required"`
}

// SendUserMessage handles POST /api/messages/users/:userId
func (s *Server) SendUserMessage(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	return s.sendMessage(c, models.UserReceiver(userID))
}

// SendGroupMessage handles POST /api/messages/groups/:groupId
func (s *Server) SendGroupMessage(c *fiber.Ctx) error {
	groupID, err := s.parseID(c, "groupId")
	if err != nil {
		return nil
	}
	return s.sendMessage(c, models.GroupReceiver(groupID))
}

func (s *Server) sendMessage(c *fiber.Ctx, to models.Receiver) error {
	var req sendMessageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return nil
	}

	result, err := s.chatService.SendMessage(c.UserContext(), service.CreateMessageInput{
		SenderID:    currentUserID(c),
		Receiver:    to,
		Type:        req.Type,
		Content:     req.Content,
		Media:       req.Media,
		Location:    req.Location,
		Contact:     req.Contact,
		ReplyToID:   req.ReplyToID,
		IsForwarded: req.IsForwarded,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(delivery.MessageSentData{
		ClientID:  req.ClientID,
		Message:   *result.Message,
		Delivered: result.Routing.Delivered(),
		Pending:   result.Routing.Undelivered(),
	})
}

// GetMessage handles GET /api/messages/:id
func (s *Server) GetMessage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	msg, err := s.messageService.GetMessage(c.UserContext(), id, currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msg)
}

// MarkMessagesRead handles PUT /api/messages/read
func (s *Server) MarkMessagesRead(c *fiber.Ctx) error {
	var req receiptRequest
	if err := bindAndValidate(c, &req); err != nil {
		return nil
	}
	changes, err := s.chatService.MarkRead(c.UserContext(), req.MessageIDs, currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(delivery.StatusData{Updates: changes})
}

// MarkMessagesDelivered handles PUT /api/messages/delivered
func (s *Server) MarkMessagesDelivered(c *fiber.Ctx) error {
	var req receiptRequest
	if err := bindAndValidate(c, &req); err != nil {
		return nil
	}
	changes, err := s.chatService.AcknowledgeDelivered(c.UserContext(), req.MessageIDs, currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(delivery.StatusData{Updates: changes})
}

// MarkMessageFailed handles POST /api/messages/:id/failed
func (s *Server) MarkMessageFailed(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.messageService.MarkFailed(c.UserContext(), id, currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddReaction handles POST /api/messages/:id/reactions
func (s *Server) AddReaction(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req reactionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return nil
	}
	msg, err := s.chatService.React(c.UserContext(), id, currentUserID(c), req.Emoji)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msg)
}

// RemoveReaction handles DELETE /api/messages/:id/reactions
func (s *Server) RemoveReaction(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.chatService.Unreact(c.UserContext(), id, currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteMessageForMe handles DELETE /api/messages/:id
func (s *Server) DeleteMessageForMe(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.messageService.DeleteForUser(c.UserContext(), id, currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteMessageForEveryone handles DELETE /api/messages/:id/everyone
func (s *Server) DeleteMessageForEveryone(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	msg, err := s.chatService.DeleteForEveryone(c.UserContext(), id, currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msg)
}
