package server

import (
	"swarg/internal/models"
	"swarg/internal/service"

	"github.com/gofiber/fiber/v2"
)

type createGroupRequest struct {
	Name        string                `json:"name" validate:"required,max=100"`
	Description string                `json:"description" validate:"max=500"`
	Avatar      string                `json:"avatar" validate:"omitempty,url"`
	MemberIDs   []uint                `json:"member_ids" validate:"max=256,dive,gt=0"`
	Settings    *models.GroupSettings `json:"settings"`
}

type addMemberRequest struct {
	UserID uint `json:"user_id" validate:"required"`
}

type updateRoleRequest struct {
	Role models.GroupRole `json:"role" validate:"required,oneof=admin member"`
}

type updateGroupRequest struct {
	Name          *string             `json:"name" validate:"omitempty,max=100"`
	Description   *string             `json:"description" validate:"omitempty,max=500"`
	Avatar        *string             `json:"avatar"`
	SendMessages  *models.GroupPolicy `json:"send_messages"`
	EditGroupInfo *models.GroupPolicy `json:"edit_group_info"`
}

// CreateGroup handles POST /api/groups
func (s *Server) CreateGroup(c *fiber.Ctx) error {
	var req createGroupRequest
	if err := bindAndValidate(c, &req); err != nil {
		return nil
	}

	group, err := s.groupService.CreateGroup(c.UserContext(), service.CreateGroupInput{
		CreatorID:   currentUserID(c),
		Name:        req.Name,
		Description: req.Description,
		Avatar:      req.Avatar,
		MemberIDs:   req.MemberIDs,
		Settings:    req.Settings,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(group)
}

// ListGroups handles GET /api/groups
func (s *Server) ListGroups(c *fiber.Ctx) error {
	groups, err := s.groupService.ListUserGroups(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(groups)
}

// GetGroup handles GET /api/groups/:groupId
func (s *Server) GetGroup(c *fiber.Ctx) error {
	groupID, err := s.parseID(c, "groupId")
	if err != nil {
		return nil
	}
	group, err := s.groupService.GetGroup(c.UserContext(), groupID, currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(group)
}

// AddGroupMember handles POST /api/groups/:groupId/members
func (s *Server) AddGroupMember(c *fiber.Ctx) error {
	groupID, err := s.parseID(c, "groupId")
	if err != nil {
		return nil
	}
	var req addMemberRequest
	if err := bindAndValidate(c, &req); err != nil {
		return nil
	}
	member, err := s.groupService.AddMember(c.UserContext(), groupID, currentUserID(c), req.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(member)
}

// RemoveGroupMember handles DELETE /api/groups/:groupId/members/:userId.
// Members may remove themselves to leave.
func (s *Server) RemoveGroupMember(c *fiber.Ctx) error {
	groupID, err := s.parseID(c, "groupId")
	if err != nil {
		return nil
	}
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	if err := s.groupService.RemoveMember(c.UserContext(), groupID, currentUserID(c), userID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateGroupMemberRole handles PUT /api/groups/:groupId/members/:userId/role
func (s *Server) UpdateGroupMemberRole(c *fiber.Ctx) error {
	groupID, err := s.parseID(c, "groupId")
	if err != nil {
		return nil
	}
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	var req updateRoleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return nil
	}
	if err := s.groupService.UpdateMemberRole(c.UserContext(), groupID, currentUserID(c), userID, req.Role); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateGroupSettings handles PUT /api/groups/:groupId/settings
func (s *Server) UpdateGroupSettings(c *fiber.Ctx) error {
	groupID, err := s.parseID(c, "groupId")
	if err != nil {
		return nil
	}
	var req updateGroupRequest
	if err := bindAndValidate(c, &req); err != nil {
		return nil
	}
	group, err := s.groupService.UpdateSettings(c.UserContext(), groupID, currentUserID(c), service.UpdateGroupInput{
		Name:          req.Name,
		Description:   req.Description,
		Avatar:        req.Avatar,
		SendMessages:  req.SendMessages,
		EditGroupInfo: req.EditGroupInfo,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(group)
}
