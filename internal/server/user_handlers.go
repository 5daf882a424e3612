package server

import (
	"swarg/internal/models"

	"github.com/gofiber/fiber/v2"
)

type privacyRequest struct {
	LastSeen models.PrivacyLevel `json:"last_seen" validate:"required,oneof=everyone contacts nobody"`
	Status   models.PrivacyLevel `json:"status" validate:"required,oneof=everyone contacts nobody"`
}

// GetMyProfile handles GET /api/users/me
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	user, err := s.userService.GetUser(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// UpdateMyPrivacy handles PUT /api/users/me/privacy
func (s *Server) UpdateMyPrivacy(c *fiber.Ctx) error {
	var req privacyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return nil
	}
	privacy := models.PrivacySettings{LastSeen: req.LastSeen, Status: req.Status}
	if err := s.userService.UpdatePrivacy(c.UserContext(), currentUserID(c), privacy); err != nil {
		return respondError(c, err)
	}
	return c.JSON(privacy)
}

// LookupUser handles GET /api/users/lookup/:number
func (s *Server) LookupUser(c *fiber.Ctx) error {
	user, err := s.userService.FindBySwargNumber(c.UserContext(), c.Params("number"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"avatar":       user.Avatar,
		"swarg_number": user.SwargNumber,
	})
}

// BlockUser handles POST /api/users/:userId/block
func (s *Server) BlockUser(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	if err := s.userService.Block(c.UserContext(), currentUserID(c), userID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UnblockUser handles DELETE /api/users/:userId/block
func (s *Server) UnblockUser(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	if err := s.userService.Unblock(c.UserContext(), currentUserID(c), userID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddContact handles POST /api/users/:userId/contacts
func (s *Server) AddContact(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	if err := s.userService.AddContact(c.UserContext(), currentUserID(c), userID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListMyContacts handles GET /api/users/me/contacts. With ?online=true only
// contacts the caller can see online are returned.
func (s *Server) ListMyContacts(c *fiber.Ctx) error {
	contacts, err := s.userService.ListContacts(c.UserContext(), currentUserID(c), c.QueryBool("online"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"count":    len(contacts),
		"contacts": contacts,
	})
}

// RemoveContact handles DELETE /api/users/:userId/contacts
func (s *Server) RemoveContact(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	if err := s.userService.RemoveContact(c.UserContext(), currentUserID(c), userID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetUserPresence handles GET /api/users/:userId/presence. Fields the
// subject's privacy settings hide are omitted.
func (s *Server) GetUserPresence(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	view, err := s.userService.PresenceFor(c.UserContext(), currentUserID(c), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(view)
}
