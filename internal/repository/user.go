// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swarg/internal/models"
	"swarg/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines persistence operations for users and their
// block and contact lists.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetBySwargNumber(ctx context.Context, number string) (*models.User, error)
	ListByIDs(ctx context.Context, ids []uint) ([]models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePrivacy(ctx context.Context, id uint, privacy models.PrivacySettings) error
	TouchLastSeen(ctx context.Context, id uint, at time.Time) error
	IsBlocked(ctx context.Context, a, b uint) (bool, error)
	BlockedAmong(ctx context.Context, userID uint, candidates []uint) ([]uint, error)
	Block(ctx context.Context, blockerID, blockedID uint) error
	Unblock(ctx context.Context, blockerID, blockedID uint) error
	AddContact(ctx context.Context, ownerID, contactID uint) (bool, error)
	RemoveContact(ctx context.Context, ownerID, contactID uint) error
	IsContact(ctx context.Context, ownerID, otherID uint) (bool, error)
	ListContacts(ctx context.Context, ownerID uint) ([]models.User, error)
}

type userRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db, log: observability.NewRepoLogger("users")}
}

func (r *userRepository) first(ctx context.Context, query interface{}, args ...interface{}) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	user, err := r.first(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.NewNotFoundError("User", id)
	}
	return user, nil
}

// GetByUsername returns nil, nil when no user matches.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.first(ctx, "username = ?", username)
}

// GetBySwargNumber returns nil, nil when no user matches.
func (r *userRepository) GetBySwargNumber(ctx context.Context, number string) (*models.User, error) {
	return r.first(ctx, "swarg_number = ?", number)
}

func (r *userRepository) ListByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := readDB(r.db).WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

// Create inserts user. A collision on username or swarg number yields ErrDuplicate.
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("create user: %w", ErrDuplicate)
		}
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogWrite(ctx, "create", map[string]interface{}{"user_id": user.ID})
	return nil
}

func (r *userRepository) UpdatePrivacy(ctx context.Context, id uint, privacy models.PrivacySettings) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"privacy_last_seen": privacy.LastSeen,
		"privacy_status":    privacy.Status,
	})
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	return nil
}

// TouchLastSeen only moves last_seen forward.
func (r *userRepository) TouchLastSeen(ctx context.Context, id uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND (last_seen IS NULL OR last_seen < ?)", id, at).
		UpdateColumn("last_seen", at).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// IsBlocked reports whether a block exists in either direction.
func (r *userRepository) IsBlocked(ctx context.Context, a, b uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.UserBlock{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

// BlockedAmong returns the candidates that have a block with userID in either direction.
func (r *userRepository) BlockedAmong(ctx context.Context, userID uint, candidates []uint) ([]uint, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var blocks []models.UserBlock
	err := r.db.WithContext(ctx).
		Where("(blocker_id = ? AND blocked_id IN ?) OR (blocked_id = ? AND blocker_id IN ?)", userID, candidates, userID, candidates).
		Find(&blocks).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	out := make([]uint, 0, len(blocks))
	for _, b := range blocks {
		if b.BlockerID == userID {
			out = append(out, b.BlockedID)
		} else {
			out = append(out, b.BlockerID)
		}
	}
	return out, nil
}

func (r *userRepository) Block(ctx context.Context, blockerID, blockedID uint) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UserBlock{BlockerID: blockerID, BlockedID: blockedID}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *userRepository) Unblock(ctx context.Context, blockerID, blockedID uint) error {
	err := r.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.UserBlock{}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// AddContact reports false when the contact already existed.
func (r *userRepository) AddContact(ctx context.Context, ownerID, contactID uint) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UserContact{OwnerID: ownerID, ContactID: contactID})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *userRepository) RemoveContact(ctx context.Context, ownerID, contactID uint) error {
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND contact_id = ?", ownerID, contactID).
		Delete(&models.UserContact{}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *userRepository) IsContact(ctx context.Context, ownerID, otherID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.UserContact{}).
		Where("owner_id = ? AND contact_id = ?", ownerID, otherID).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

// ListContacts returns the users ownerID has added, ordered by username.
func (r *userRepository) ListContacts(ctx context.Context, ownerID uint) ([]models.User, error) {
	var users []models.User
	err := readDB(r.db).WithContext(ctx).
		Joins("JOIN user_contacts ON user_contacts.contact_id = users.id").
		Where("user_contacts.owner_id = ?", ownerID).
		Order("users.username ASC").
		Find(&users).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}
