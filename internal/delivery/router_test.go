package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"swarg/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id     string
	userID uint
}

func (s *fakeSession) ID() string   { return s.id }
func (s *fakeSession) UserID() uint { return s.userID }

type fakeTransport struct {
	mu       sync.Mutex
	sessions map[uint][]Session
	failing  map[string]bool
	frames   map[string][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sessions: map[uint][]Session{},
		failing:  map[string]bool{},
		frames:   map[string][][]byte{},
	}
}

func (t *fakeTransport) connect(userID uint, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("u%d-s%d", userID, i)
		t.sessions[userID] = append(t.sessions[userID], &fakeSession{id: id, userID: userID})
		ids = append(ids, id)
	}
	return ids
}

func (t *fakeTransport) LiveSessions(userID uint) []Session {
	return t.sessions[userID]
}

func (t *fakeTransport) Push(_ context.Context, s Session, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failing[s.ID()] {
		return errors.New("write: broken pipe")
	}
	t.frames[s.ID()] = append(t.frames[s.ID()], frame)
	return nil
}

func (t *fakeTransport) received(sessionID string) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames[sessionID]
}

type fakeAudience struct {
	members map[uint][]uint
	blocked map[uint][]uint
}

func (a *fakeAudience) GroupMemberIDs(_ context.Context, groupID uint) ([]uint, error) {
	return a.members[groupID], nil
}

func (a *fakeAudience) BlockedAmong(_ context.Context, userID uint, candidates []uint) ([]uint, error) {
	var out []uint
	for _, c := range candidates {
		for _, b := range a.blocked[userID] {
			if b == c {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

type fakeRelay struct {
	users  []uint
	frames int
}

func (r *fakeRelay) RelayToUsers(_ context.Context, userIDs []uint, _ []byte) error {
	r.users = append(r.users, userIDs...)
	r.frames++
	return nil
}

func decodeMessage(t *testing.T, frame []byte) models.Message {
	t.Helper()
	env, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, EventReceiveMessage, env.Event)
	var msg models.Message
	require.NoError(t, DecodeData(env, &msg))
	return msg
}

func TestRouter_Route_FanoutIndependence(t *testing.T) {
	transport := newFakeTransport()
	sessions := transport.connect(2, 3)
	transport.failing[sessions[1]] = true

	router := NewRouter(transport, &fakeAudience{}, Options{Concurrency: 2})
	msg := &models.Message{ID: 10, SenderID: 1, Receiver: models.UserReceiver(2), Type: models.MessageTypeText, Content: "hi", Status: models.StatusSent}

	result, err := router.Route(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, result.Recipients, 1)

	rec := result.Recipients[0]
	assert.Equal(t, StateDelivered, rec.State)
	assert.Equal(t, 3, rec.Sessions)
	assert.Equal(t, 1, rec.Failed)
	assert.Len(t, transport.received(sessions[0]), 1)
	assert.Empty(t, transport.received(sessions[1]))
	assert.Len(t, transport.received(sessions[2]), 1)

	// Routing never touches the stored status.
	assert.Equal(t, models.StatusSent, msg.Status)
}

func TestRouter_Route_OfflineRecipientIsUndelivered(t *testing.T) {
	router := NewRouter(newFakeTransport(), &fakeAudience{}, Options{})
	msg := &models.Message{ID: 1, SenderID: 1, Receiver: models.UserReceiver(2), Type: models.MessageTypeText, Content: "hi"}

	result, err := router.Route(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []uint{2}, result.Undelivered())
	assert.Empty(t, result.Delivered())
}

func TestRouter_Route_GroupSkipsSenderAndBlocked(t *testing.T) {
	transport := newFakeTransport()
	transport.connect(1, 1)
	s2 := transport.connect(2, 1)
	s3 := transport.connect(3, 1)
	transport.connect(4, 1)

	audience := &fakeAudience{
		members: map[uint][]uint{7: {1, 2, 3, 4}},
		blocked: map[uint][]uint{1: {4}},
	}
	relay := &fakeRelay{}
	router := NewRouter(transport, audience, Options{Relay: relay})

	msg := &models.Message{ID: 5, SenderID: 1, Receiver: models.GroupReceiver(7), Type: models.MessageTypeText, Content: "team"}
	result, err := router.Route(context.Background(), msg)
	require.NoError(t, err)

	assert.ElementsMatch(t, []uint{2, 3}, result.Delivered())
	assert.Len(t, transport.received(s2[0]), 1)
	assert.Len(t, transport.received(s3[0]), 1)
	assert.Empty(t, transport.received("u1-s0"))
	assert.Empty(t, transport.received("u4-s0"))
	assert.ElementsMatch(t, []uint{2, 3}, relay.users)
}

func TestRouter_Route_PreservesOrderPerSession(t *testing.T) {
	transport := newFakeTransport()
	sessions := transport.connect(2, 2)
	router := NewRouter(transport, &fakeAudience{}, Options{Concurrency: 4})

	for id := uint(1); id <= 20; id++ {
		msg := &models.Message{ID: id, SenderID: 1, Receiver: models.UserReceiver(2), Type: models.MessageTypeText, Content: "n"}
		_, err := router.Route(context.Background(), msg)
		require.NoError(t, err)
	}

	for _, sid := range sessions {
		frames := transport.received(sid)
		require.Len(t, frames, 20)
		for i, frame := range frames {
			assert.Equal(t, uint(i+1), decodeMessage(t, frame).ID)
		}
	}
}

func TestRouter_Route_RedactsGlobalDeletes(t *testing.T) {
	transport := newFakeTransport()
	sessions := transport.connect(2, 1)
	router := NewRouter(transport, &fakeAudience{}, Options{})

	msg := &models.Message{ID: 3, SenderID: 1, Receiver: models.UserReceiver(2), Type: models.MessageTypeText, Content: "secret", IsDeleted: true}
	_, err := router.Route(context.Background(), msg)
	require.NoError(t, err)

	got := decodeMessage(t, transport.received(sessions[0])[0])
	assert.Empty(t, got.Content)
	assert.True(t, got.IsDeleted)
}

func TestRouter_NotifyStatus_GroupsBySender(t *testing.T) {
	transport := newFakeTransport()
	a := transport.connect(1, 1)
	b := transport.connect(5, 1)
	router := NewRouter(transport, &fakeAudience{}, Options{})

	router.NotifyStatus(context.Background(), []models.StatusChange{
		{MessageID: 1, SenderID: 1, Status: models.StatusRead},
		{MessageID: 2, SenderID: 1, Status: models.StatusRead},
		{MessageID: 3, SenderID: 5, Status: models.StatusRead},
	})

	require.Len(t, transport.received(a[0]), 1)
	env, err := Decode(transport.received(a[0])[0])
	require.NoError(t, err)
	assert.Equal(t, EventMessageStatus, env.Event)

	var data StatusData
	require.NoError(t, DecodeData(env, &data))
	assert.Len(t, data.Updates, 2)
	assert.Len(t, transport.received(b[0]), 1)
}

func TestRouter_Signal_DropsSilentlyForOfflineUsers(t *testing.T) {
	transport := newFakeTransport()
	online := transport.connect(2, 1)
	router := NewRouter(transport, &fakeAudience{}, Options{})

	router.Signal(context.Background(), []uint{2, 3, 2}, EventTypingStart, TypingData{To: models.UserReceiver(2), UserID: 1})

	assert.Len(t, transport.received(online[0]), 1)
}
