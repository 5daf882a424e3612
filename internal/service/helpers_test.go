package service

import (
	"context"
	"sync"
	"testing"

	"swarg/internal/delivery"
	"swarg/internal/featureflags"
	"swarg/internal/models"
	"swarg/internal/repository"
	"swarg/internal/testutil"

	"gorm.io/gorm"
)

type signalCall struct {
	UserIDs []uint
	Event   string
	Data    interface{}
}

// recordingRouter captures everything ChatService dispatches.
type recordingRouter struct {
	mu       sync.Mutex
	routed   []uint
	signals  []signalCall
	statuses [][]models.StatusChange
	routeErr error
}

func (r *recordingRouter) Route(_ context.Context, msg *models.Message) (*delivery.RoutingResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed = append(r.routed, msg.ID)
	if r.routeErr != nil {
		return nil, r.routeErr
	}
	return &delivery.RoutingResult{MessageID: msg.ID}, nil
}

func (r *recordingRouter) Signal(_ context.Context, userIDs []uint, event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signalCall{UserIDs: userIDs, Event: event, Data: data})
}

func (r *recordingRouter) NotifyStatus(_ context.Context, changes []models.StatusChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, changes)
}

func (r *recordingRouter) signalsFor(event string) []signalCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []signalCall
	for _, s := range r.signals {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

type fixture struct {
	db            *gorm.DB
	messageRepo   repository.MessageRepository
	groupRepo     repository.GroupRepository
	userRepo      repository.UserRepository
	clock         *Clock
	groups        *GroupService
	users         *UserService
	messages      *MessageService
	conversations *ConversationService
	chat          *ChatService
	router        *recordingRouter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithFlags(t, featureflags.NewManager(""))
}

func newFixtureWithFlags(t *testing.T, flags *featureflags.Manager) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t)
	f := &fixture{
		db:          db,
		messageRepo: repository.NewMessageRepository(db),
		groupRepo:   repository.NewGroupRepository(db),
		userRepo:    repository.NewUserRepository(db),
		clock:       NewClock(),
		router:      &recordingRouter{},
	}
	f.groups = NewGroupService(f.groupRepo, f.userRepo, f.clock)
	f.users = NewUserService(f.userRepo, nil)
	f.messages = NewMessageService(f.messageRepo, f.userRepo, f.groups, f.clock, flags)
	f.conversations = NewConversationService(f.messageRepo, f.groupRepo, f.userRepo, f.groups)
	f.chat = NewChatService(f.messages, f.groups, f.users, f.router, flags)
	return f
}

func (f *fixture) send(t *testing.T, from uint, to models.Receiver, content string) *models.Message {
	t.Helper()
	msg, err := f.messages.CreateMessage(context.Background(), CreateMessageInput{
		SenderID: from,
		Receiver: to,
		Type:     models.MessageTypeText,
		Content:  content,
	})
	if err != nil {
		t.Fatalf("send %q: %v", content, err)
	}
	return msg
}

func (f *fixture) status(t *testing.T, id uint) models.MessageStatus {
	t.Helper()
	msg, err := f.messageRepo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load message %d: %v", id, err)
	}
	return msg.Status
}
