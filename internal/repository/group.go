package repository

import (
	"context"
	"errors"
	"fmt"

	"swarg/internal/models"
	"swarg/internal/observability"

	"gorm.io/gorm"
)

// Membership is a consistent snapshot of a group's state and one user's
// membership, read in a single statement.
type Membership struct {
	GroupID       uint
	GroupActive   bool
	SendMessages  models.GroupPolicy
	EditGroupInfo models.GroupPolicy
	IsMember      bool
	Role          models.GroupRole
}

// GroupRepository defines persistence operations for groups and members.
type GroupRepository interface {
	Create(ctx context.Context, group *models.Group) error
	GetByID(ctx context.Context, id uint) (*models.Group, error)
	GetWithMembers(ctx context.Context, id uint) (*models.Group, error)
	Membership(ctx context.Context, groupID, userID uint) (*Membership, error)
	AddMember(ctx context.Context, member *models.GroupMember) error
	RemoveMember(ctx context.Context, groupID, userID uint) (bool, error)
	UpdateRole(ctx context.Context, groupID, userID uint, role models.GroupRole) (bool, error)
	CountAdmins(ctx context.Context, groupID uint) (int64, error)
	UpdateInfo(ctx context.Context, groupID uint, updates map[string]interface{}) error
	MemberIDs(ctx context.Context, groupID uint) ([]uint, error)
	ListForUser(ctx context.Context, userID uint) ([]models.Group, error)
}

type groupRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewGroupRepository returns a new GroupRepository implementation.
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db, log: observability.NewRepoLogger("groups")}
}

// Create inserts the group together with its initial members.
func (r *groupRepository) Create(ctx context.Context, group *models.Group) error {
	defer observability.TrackQuery("create", "groups")()
	if err := r.db.WithContext(ctx).Create(group).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewValidationError("duplicate group member")
		}
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogWrite(ctx, "create", map[string]interface{}{"group_id": group.ID, "members": len(group.Members)})
	return nil
}

func (r *groupRepository) GetByID(ctx context.Context, id uint) (*models.Group, error) {
	var group models.Group
	if err := r.db.WithContext(ctx).First(&group, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Group", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &group, nil
}

func (r *groupRepository) GetWithMembers(ctx context.Context, id uint) (*models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC, user_id ASC")
		}).
		First(&group, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Group", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &group, nil
}

type membershipRow struct {
	GroupID       uint
	IsActive      bool
	SendMessages  string
	EditGroupInfo string
	MemberID      *uint
	Role          *string
}

// Membership reads settings and the caller's row with one LEFT JOIN so the
// answer reflects a single point in time.
func (r *groupRepository) Membership(ctx context.Context, groupID, userID uint) (*Membership, error) {
	defer observability.TrackQuery("membership", "group_members")()

	var rows []membershipRow
	err := r.db.WithContext(ctx).
		Table("groups").
		Select(`groups.id AS group_id, groups.is_active AS is_active,
			groups.settings_send_messages AS send_messages,
			groups.settings_edit_group_info AS edit_group_info,
			group_members.user_id AS member_id, group_members.role AS role`).
		Joins("LEFT JOIN group_members ON group_members.group_id = groups.id AND group_members.user_id = ?", userID).
		Where("groups.id = ?", groupID).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(rows) == 0 {
		return nil, models.NewNotFoundError("Group", groupID)
	}

	row := rows[0]
	m := &Membership{
		GroupID:       row.GroupID,
		GroupActive:   row.IsActive,
		SendMessages:  models.GroupPolicy(row.SendMessages),
		EditGroupInfo: models.GroupPolicy(row.EditGroupInfo),
		IsMember:      row.MemberID != nil,
	}
	if row.Role != nil {
		m.Role = models.GroupRole(*row.Role)
	}
	return m, nil
}

func (r *groupRepository) AddMember(ctx context.Context, member *models.GroupMember) error {
	if err := r.db.WithContext(ctx).Create(member).Error; err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("add member: %w", ErrDuplicate)
		}
		return models.NewInternalError(err)
	}
	r.log.LogWrite(ctx, "add_member", map[string]interface{}{"group_id": member.GroupID, "user_id": member.UserID})
	return nil
}

func (r *groupRepository) RemoveMember(ctx context.Context, groupID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.GroupMember{})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *groupRepository) UpdateRole(ctx context.Context, groupID, userID uint, role models.GroupRole) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Update("role", role)
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *groupRepository) CountAdmins(ctx context.Context, groupID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND role = ?", groupID, models.RoleAdmin).
		Count(&count).Error
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

func (r *groupRepository) UpdateInfo(ctx context.Context, groupID uint, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", groupID).Updates(updates)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Group", groupID)
	}
	return nil
}

func (r *groupRepository) MemberIDs(ctx context.Context, groupID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

// ListForUser returns the active groups userID belongs to.
func (r *groupRepository) ListForUser(ctx context.Context, userID uint) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_id = groups.id").
		Where("group_members.user_id = ? AND groups.is_active = ?", userID, true).
		Order("groups.last_activity DESC, groups.id ASC").
		Find(&groups).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return groups, nil
}
