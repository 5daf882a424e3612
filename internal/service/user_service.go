package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"swarg/internal/models"
	"swarg/internal/repository"
	"swarg/internal/validation"
)

// maxNumberAttempts bounds swarg number retries on unique-index collisions.
const maxNumberAttempts = 5

// PresenceSource exposes raw presence without any privacy filtering.
type PresenceSource interface {
	IsOnline(ctx context.Context, userID uint) bool
	LastActive(ctx context.Context, userID uint) (time.Time, bool)
}

// UserService covers the parts of the user account the messenger consumes:
// registration of the public number, blocks, contacts and presence privacy.
type UserService struct {
	userRepo repository.UserRepository
	presence PresenceSource
	numbers  func() string
}

// NewUserService returns a new UserService. presence may be nil.
func NewUserService(userRepo repository.UserRepository, presence PresenceSource) *UserService {
	return &UserService{userRepo: userRepo, presence: presence, numbers: randomSwargNumber}
}

// randomSwargNumber returns 10 digits with a non-zero first digit.
func randomSwargNumber() string {
	return fmt.Sprintf("%d%09d", 1+rand.IntN(9), rand.IntN(1_000_000_000))
}

// RegisterUserInput is the input for registering a messaging profile.
type RegisterUserInput struct {
	Username    string
	DisplayName string
	About       string
}

// RegisterUser creates a user with a fresh swarg number. Uniqueness of the
// number is enforced by the database; collisions are retried.
func (s *UserService) RegisterUser(ctx context.Context, in RegisterUserInput) (*models.User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if err := validation.ValidateUsername(username); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	existing, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewValidationError("Username is already taken")
	}

	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}

	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		user := &models.User{
			Username:    username,
			DisplayName: displayName,
			About:       in.About,
			SwargNumber: s.numbers(),
			Privacy: models.PrivacySettings{
				LastSeen: models.PrivacyEveryone,
				Status:   models.PrivacyEveryone,
			},
		}
		err := s.userRepo.Create(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		// A concurrent registration may have taken the username in the meantime.
		if taken, lookupErr := s.userRepo.GetByUsername(ctx, username); lookupErr == nil && taken != nil {
			return nil, models.NewValidationError("Username is already taken")
		}
	}
	return nil, models.NewInternalError(errors.New("could not allocate a unique swarg number"))
}

// GetUser returns a user by id.
func (s *UserService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// FindBySwargNumber resolves a public number to a user.
func (s *UserService) FindBySwargNumber(ctx context.Context, number string) (*models.User, error) {
	if err := validation.ValidateSwargNumber(number); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	user, err := s.userRepo.GetBySwargNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.NewNotFoundError("User", number)
	}
	return user, nil
}

// IsBlocked reports whether either user blocked the other.
func (s *UserService) IsBlocked(ctx context.Context, a, b uint) (bool, error) {
	return s.userRepo.IsBlocked(ctx, a, b)
}

// BlockedAmong returns the candidates that have a block with userID either way.
func (s *UserService) BlockedAmong(ctx context.Context, userID uint, candidates []uint) ([]uint, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	return s.userRepo.BlockedAmong(ctx, userID, candidates)
}

// Block makes blockerID block blockedID. Blocking twice is a no-op.
func (s *UserService) Block(ctx context.Context, blockerID, blockedID uint) error {
	if blockerID == blockedID {
		return models.NewValidationError("You cannot block yourself")
	}
	if _, err := s.userRepo.GetByID(ctx, blockedID); err != nil {
		return err
	}
	return s.userRepo.Block(ctx, blockerID, blockedID)
}

func (s *UserService) Unblock(ctx context.Context, blockerID, blockedID uint) error {
	return s.userRepo.Unblock(ctx, blockerID, blockedID)
}

// AddContact adds contactID to ownerID's contact list.
func (s *UserService) AddContact(ctx context.Context, ownerID, contactID uint) error {
	if ownerID == contactID {
		return models.NewValidationError("You cannot add yourself as a contact")
	}
	if _, err := s.userRepo.GetByID(ctx, contactID); err != nil {
		return err
	}
	if _, err := s.userRepo.AddContact(ctx, ownerID, contactID); err != nil {
		return err
	}
	return nil
}

func (s *UserService) RemoveContact(ctx context.Context, ownerID, contactID uint) error {
	return s.userRepo.RemoveContact(ctx, ownerID, contactID)
}

// UpdatePrivacy changes who may see the user's presence.
func (s *UserService) UpdatePrivacy(ctx context.Context, userID uint, privacy models.PrivacySettings) error {
	if !privacy.LastSeen.Valid() || !privacy.Status.Valid() {
		return models.NewValidationError("Invalid privacy level")
	}
	return s.userRepo.UpdatePrivacy(ctx, userID, privacy)
}

// PresenceView is what a viewer may know about a subject's presence. Nil
// fields are hidden.
type PresenceView struct {
	UserID   uint       `json:"user_id"`
	Online   *bool      `json:"online,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// PresenceFor applies the subject's privacy settings to raw presence.
// Status governs the online flag and LastSeen the timestamp.
func (s *UserService) PresenceFor(ctx context.Context, viewerID, subjectID uint) (*PresenceView, error) {
	subject, err := s.userRepo.GetByID(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return s.presenceOf(ctx, viewerID, subject)
}

func (s *UserService) presenceOf(ctx context.Context, viewerID uint, subject *models.User) (*PresenceView, error) {
	var err error
	subjectID := subject.ID
	view := &PresenceView{UserID: subjectID}

	if viewerID != subjectID {
		blocked, err := s.userRepo.IsBlocked(ctx, viewerID, subjectID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return view, nil
		}
	}

	isContact := false
	if subject.Privacy.Status == models.PrivacyContacts || subject.Privacy.LastSeen == models.PrivacyContacts {
		isContact, err = s.userRepo.IsContact(ctx, subjectID, viewerID)
		if err != nil {
			return nil, err
		}
	}
	visible := func(level models.PrivacyLevel) bool {
		if viewerID == subjectID {
			return true
		}
		switch level {
		case models.PrivacyEveryone:
			return true
		case models.PrivacyContacts:
			return isContact
		}
		return false
	}

	if visible(subject.Privacy.Status) {
		online := s.presence != nil && s.presence.IsOnline(ctx, subjectID)
		view.Online = &online
	}
	if visible(subject.Privacy.LastSeen) {
		if s.presence != nil {
			if at, ok := s.presence.LastActive(ctx, subjectID); ok {
				view.LastSeen = &at
			}
		}
		if view.LastSeen == nil && subject.LastSeen != nil {
			view.LastSeen = subject.LastSeen
		}
	}
	return view, nil
}

// Contact is one entry of a user's contact list with the presence the
// contact's privacy settings allow the owner to see.
type Contact struct {
	ID          uint          `json:"id"`
	Username    string        `json:"username"`
	DisplayName string        `json:"display_name"`
	Avatar      string        `json:"avatar,omitempty"`
	SwargNumber string        `json:"swarg_number"`
	Presence    *PresenceView `json:"presence"`
}

// ListContacts returns ownerID's contacts ordered by username. With
// onlineOnly set, only contacts visibly online to the owner are kept.
func (s *UserService) ListContacts(ctx context.Context, ownerID uint, onlineOnly bool) ([]Contact, error) {
	users, err := s.userRepo.ListContacts(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	out := make([]Contact, 0, len(users))
	for i := range users {
		view, err := s.presenceOf(ctx, ownerID, &users[i])
		if err != nil {
			return nil, err
		}
		if onlineOnly && (view.Online == nil || !*view.Online) {
			continue
		}
		out = append(out, Contact{
			ID:          users[i].ID,
			Username:    users[i].Username,
			DisplayName: users[i].DisplayName,
			Avatar:      users[i].Avatar,
			SwargNumber: users[i].SwargNumber,
			Presence:    view,
		})
	}
	return out, nil
}
