// Package seed populates a development database with users, contacts,
// groups and conversation history.
package seed

import (
	"context"
	"fmt"
	"log"

	"swarg/internal/database"
	"swarg/internal/featureflags"
	"swarg/internal/models"
	"swarg/internal/repository"
	"swarg/internal/service"

	"gorm.io/gorm"
)

// Options configures a seeding run.
type Options struct {
	NumUsers                int
	NumGroups               int
	GroupSize               int
	ContactsPerUser         int
	MessagesPerConversation int
	// ReadPercent of seeded messages end up read by their recipients.
	ReadPercent int
	Seed        int64
}

// DefaultOptions is a small but well-connected dataset.
func DefaultOptions() Options {
	return Options{
		NumUsers:                20,
		NumGroups:               4,
		GroupSize:               6,
		ContactsPerUser:         5,
		MessagesPerConversation: 12,
		ReadPercent:             70,
	}
}

// Result summarizes what a run created.
type Result struct {
	Users    []models.User
	Groups   []models.Group
	Messages int
}

// Seeder writes demo data through the service layer.
type Seeder struct {
	db       *gorm.DB
	users    *service.UserService
	groups   *service.GroupService
	messages *service.MessageService
}

// NewSeeder wires the services the seeder writes through.
func NewSeeder(db *gorm.DB) *Seeder {
	userRepo := repository.NewUserRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	clock := service.NewClock()
	groups := service.NewGroupService(groupRepo, userRepo, clock)

	return &Seeder{
		db:       db,
		users:    service.NewUserService(userRepo, nil),
		groups:   groups,
		messages: service.NewMessageService(repository.NewMessageRepository(db), userRepo, groups, clock, featureflags.NewManager("")),
	}
}

// ClearAll deletes every messenger row, children first.
func (s *Seeder) ClearAll(ctx context.Context) error {
	log.Println("Clearing existing data...")
	tables := database.PersistentModels()
	for i := len(tables) - 1; i >= 0; i-- {
		err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).
			Unscoped().Delete(tables[i]).Error
		if err != nil {
			return fmt.Errorf("clear %T: %w", tables[i], err)
		}
	}
	return nil
}

// Run creates users, their contact lists, groups and message history.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	f := NewFactory(opts.Seed)
	res := &Result{}

	for i := 0; i < opts.NumUsers; i++ {
		user, err := s.users.RegisterUser(ctx, f.User())
		if err != nil {
			return nil, fmt.Errorf("register user: %w", err)
		}
		res.Users = append(res.Users, *user)
	}
	log.Printf("Created %d users", len(res.Users))
	if len(res.Users) < 2 {
		return res, nil
	}

	ids := make([]uint, len(res.Users))
	for i, u := range res.Users {
		ids[i] = u.ID
	}

	type pair struct{ a, b uint }
	direct := make(map[pair]bool)
	for _, id := range ids {
		for _, contact := range f.Pick(ids, opts.ContactsPerUser, id) {
			if err := s.users.AddContact(ctx, id, contact); err != nil {
				return nil, fmt.Errorf("add contact: %w", err)
			}
			p := pair{id, contact}
			if contact < id {
				p = pair{contact, id}
			}
			direct[p] = true
		}
	}
	log.Printf("Created %d direct conversations", len(direct))

	for i := 0; i < opts.NumGroups; i++ {
		creator := ids[i%len(ids)]
		group, err := s.groups.CreateGroup(ctx, f.Group(creator, f.Pick(ids, opts.GroupSize-1, creator)))
		if err != nil {
			return nil, fmt.Errorf("create group: %w", err)
		}
		res.Groups = append(res.Groups, *group)
	}
	log.Printf("Created %d groups", len(res.Groups))

	for p := range direct {
		n, err := s.converse(ctx, f, []uint{p.a, p.b}, opts, func(sender uint) models.Receiver {
			if sender == p.a {
				return models.UserReceiver(p.b)
			}
			return models.UserReceiver(p.a)
		})
		if err != nil {
			return nil, err
		}
		res.Messages += n
	}
	for _, g := range res.Groups {
		members := make([]uint, len(g.Members))
		for i, m := range g.Members {
			members[i] = m.UserID
		}
		groupID := g.ID
		n, err := s.converse(ctx, f, members, opts, func(uint) models.Receiver {
			return models.GroupReceiver(groupID)
		})
		if err != nil {
			return nil, err
		}
		res.Messages += n
	}
	log.Printf("Created %d messages", res.Messages)

	return res, nil
}

// converse writes a run of messages between participants and advances a
// share of them to delivered or read.
func (s *Seeder) converse(ctx context.Context, f *Factory, participants []uint, opts Options, to func(sender uint) models.Receiver) (int, error) {
	for i := 0; i < opts.MessagesPerConversation; i++ {
		sender := participants[f.faker.Number(0, len(participants)-1)]
		msg, err := s.messages.CreateMessage(ctx, f.Message(sender, to(sender)))
		if err != nil {
			return i, fmt.Errorf("create message: %w", err)
		}

		for _, reader := range participants {
			if reader == sender {
				continue
			}
			switch {
			case f.Chance(opts.ReadPercent):
				_, err = s.messages.MarkRead(ctx, []uint{msg.ID}, reader)
			case f.Chance(50):
				_, err = s.messages.AcknowledgeDelivered(ctx, []uint{msg.ID}, reader)
			}
			if err != nil {
				return i, fmt.Errorf("advance status: %w", err)
			}
		}
	}
	return opts.MessagesPerConversation, nil
}
