package service

import (
	"context"
	"errors"
	"strings"

	"swarg/internal/models"
	"swarg/internal/repository"
	"swarg/internal/validation"

	"github.com/samber/lo"
)

// GroupService authorizes group traffic and manages group membership.
type GroupService struct {
	groupRepo repository.GroupRepository
	userRepo  repository.UserRepository
	clock     *Clock
}

// NewGroupService returns a new GroupService.
func NewGroupService(groupRepo repository.GroupRepository, userRepo repository.UserRepository, clock *Clock) *GroupService {
	if clock == nil {
		clock = NewClock()
	}
	return &GroupService{groupRepo: groupRepo, userRepo: userRepo, clock: clock}
}

func (s *GroupService) membership(ctx context.Context, groupID, userID uint) (*repository.Membership, error) {
	m, err := s.groupRepo.Membership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if !m.GroupActive {
		return nil, models.NewNotFoundError("Group", groupID)
	}
	return m, nil
}

// AuthorizeSend fails with NotMember for outsiders and Forbidden when the
// group only lets admins send.
func (s *GroupService) AuthorizeSend(ctx context.Context, groupID, userID uint) error {
	m, err := s.membership(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !m.IsMember {
		return models.NewNotMemberError(groupID)
	}
	if !m.SendMessages.Allows(m.Role) {
		return models.NewForbiddenError("Only admins can send messages in this group")
	}
	return nil
}

// AuthorizeRead fails with NotMember for outsiders. Roles do not matter.
func (s *GroupService) AuthorizeRead(ctx context.Context, groupID, userID uint) error {
	m, err := s.membership(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !m.IsMember {
		return models.NewNotMemberError(groupID)
	}
	return nil
}

// CreateGroupInput is the input for creating a group.
type CreateGroupInput struct {
	CreatorID   uint
	Name        string
	Description string
	Avatar      string
	MemberIDs   []uint
	Settings    *models.GroupSettings
}

// CreateGroup creates a group with the creator as its admin.
func (s *GroupService) CreateGroup(ctx context.Context, in CreateGroupInput) (*models.Group, error) {
	if err := validation.ValidateGroupName(in.Name); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	settings := models.GroupSettings{SendMessages: models.PolicyAll, EditGroupInfo: models.PolicyAdmins}
	if in.Settings != nil {
		if !in.Settings.SendMessages.Valid() || !in.Settings.EditGroupInfo.Valid() {
			return nil, models.NewValidationError("Invalid group settings")
		}
		settings = *in.Settings
	}

	memberIDs := lo.Without(lo.Uniq(in.MemberIDs), in.CreatorID)
	if len(memberIDs) > 0 {
		users, err := s.userRepo.ListByIDs(ctx, memberIDs)
		if err != nil {
			return nil, err
		}
		if len(users) != len(memberIDs) {
			found := lo.Map(users, func(u models.User, _ int) uint { return u.ID })
			missing, _ := lo.Difference(memberIDs, found)
			return nil, models.NewNotFoundError("User", missing[0])
		}
	}

	now := s.clock.Now()
	group := &models.Group{
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		Avatar:       in.Avatar,
		CreatedBy:    in.CreatorID,
		Settings:     settings,
		LastActivity: now,
		IsActive:     true,
		Members: []models.GroupMember{
			{UserID: in.CreatorID, Role: models.RoleAdmin, AddedBy: in.CreatorID, JoinedAt: now},
		},
	}
	for _, id := range memberIDs {
		group.Members = append(group.Members, models.GroupMember{
			UserID: id, Role: models.RoleMember, AddedBy: in.CreatorID, JoinedAt: now,
		})
	}

	if err := s.groupRepo.Create(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// GetGroup returns the group with its members to one of its members.
func (s *GroupService) GetGroup(ctx context.Context, groupID, userID uint) (*models.Group, error) {
	if err := s.AuthorizeRead(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.groupRepo.GetWithMembers(ctx, groupID)
}

// ListUserGroups returns the active groups of userID, most recently active first.
func (s *GroupService) ListUserGroups(ctx context.Context, userID uint) ([]models.Group, error) {
	return s.groupRepo.ListForUser(ctx, userID)
}

// MemberIDs returns the current member ids of a group.
func (s *GroupService) MemberIDs(ctx context.Context, groupID uint) ([]uint, error) {
	return s.groupRepo.MemberIDs(ctx, groupID)
}

// AddMember adds userID to the group. Admins may always add; plain members
// only when the group lets everyone edit its info.
func (s *GroupService) AddMember(ctx context.Context, groupID, actorID, userID uint) (*models.GroupMember, error) {
	actor, err := s.membership(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsMember {
		return nil, models.NewNotMemberError(groupID)
	}
	if !actor.EditGroupInfo.Allows(actor.Role) {
		return nil, models.NewForbiddenError("Only admins can add members")
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	member := &models.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		Role:     models.RoleMember,
		AddedBy:  actorID,
		JoinedAt: s.clock.Now(),
	}
	if err := s.groupRepo.AddMember(ctx, member); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, models.NewValidationError("User is already a member of this group")
		}
		return nil, err
	}
	return member, nil
}

// RemoveMember removes userID. Admins may remove anyone; members may only
// leave. The last admin cannot leave.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, actorID, userID uint) error {
	actor, err := s.membership(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if !actor.IsMember {
		return models.NewNotMemberError(groupID)
	}
	if actorID != userID && actor.Role != models.RoleAdmin {
		return models.NewForbiddenError("Only admins can remove other members")
	}

	target, err := s.groupRepo.Membership(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !target.IsMember {
		return models.NewNotMemberError(groupID)
	}
	if target.Role == models.RoleAdmin {
		if err := s.ensureAnotherAdmin(ctx, groupID); err != nil {
			return err
		}
	}

	removed, err := s.groupRepo.RemoveMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return models.NewNotMemberError(groupID)
	}
	return nil
}

// UpdateMemberRole changes a member's role. Admin only.
func (s *GroupService) UpdateMemberRole(ctx context.Context, groupID, actorID, userID uint, role models.GroupRole) error {
	if !role.Valid() {
		return models.NewValidationError("Invalid role")
	}
	actor, err := s.membership(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if !actor.IsMember {
		return models.NewNotMemberError(groupID)
	}
	if actor.Role != models.RoleAdmin {
		return models.NewForbiddenError("Only admins can change roles")
	}

	target, err := s.groupRepo.Membership(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !target.IsMember {
		return models.NewNotMemberError(groupID)
	}
	if target.Role == role {
		return nil
	}
	if target.Role == models.RoleAdmin {
		if err := s.ensureAnotherAdmin(ctx, groupID); err != nil {
			return err
		}
	}

	_, err = s.groupRepo.UpdateRole(ctx, groupID, userID, role)
	return err
}

func (s *GroupService) ensureAnotherAdmin(ctx context.Context, groupID uint) error {
	admins, err := s.groupRepo.CountAdmins(ctx, groupID)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return models.NewValidationError("A group needs at least one admin")
	}
	return nil
}

// UpdateGroupInput carries optional group changes.
type UpdateGroupInput struct {
	Name          *string
	Description   *string
	Avatar        *string
	SendMessages  *models.GroupPolicy
	EditGroupInfo *models.GroupPolicy
}

// UpdateSettings applies info changes per the group's edit policy. Policy
// changes are reserved to admins.
func (s *GroupService) UpdateSettings(ctx context.Context, groupID, actorID uint, in UpdateGroupInput) (*models.Group, error) {
	actor, err := s.membership(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsMember {
		return nil, models.NewNotMemberError(groupID)
	}

	updates := map[string]interface{}{}
	if in.Name != nil || in.Description != nil || in.Avatar != nil {
		if !actor.EditGroupInfo.Allows(actor.Role) {
			return nil, models.NewForbiddenError("Only admins can edit group info")
		}
		if in.Name != nil {
			if err := validation.ValidateGroupName(*in.Name); err != nil {
				return nil, models.NewValidationError(err.Error())
			}
			updates["name"] = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			updates["description"] = *in.Description
		}
		if in.Avatar != nil {
			updates["avatar"] = *in.Avatar
		}
	}
	if in.SendMessages != nil || in.EditGroupInfo != nil {
		if actor.Role != models.RoleAdmin {
			return nil, models.NewForbiddenError("Only admins can change group settings")
		}
		if in.SendMessages != nil {
			if !in.SendMessages.Valid() {
				return nil, models.NewValidationError("Invalid send_messages policy")
			}
			updates["settings_send_messages"] = *in.SendMessages
		}
		if in.EditGroupInfo != nil {
			if !in.EditGroupInfo.Valid() {
				return nil, models.NewValidationError("Invalid edit_group_info policy")
			}
			updates["settings_edit_group_info"] = *in.EditGroupInfo
		}
	}
	if len(updates) == 0 {
		return nil, models.NewValidationError("No changes requested")
	}

	if err := s.groupRepo.UpdateInfo(ctx, groupID, updates); err != nil {
		return nil, err
	}
	return s.groupRepo.GetWithMembers(ctx, groupID)
}
