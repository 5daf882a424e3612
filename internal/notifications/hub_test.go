package notifications

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_RegisterEnforcesLimits(t *testing.T) {
	hub := NewHub(nil, HubOptions{MaxConnsPerUser: 2, MaxTotalConns: 3})

	_, err := hub.Register(1, nil)
	require.NoError(t, err)
	_, err = hub.Register(1, nil)
	require.NoError(t, err)
	_, err = hub.Register(1, nil)
	assert.ErrorIs(t, err, ErrUserFull)

	_, err = hub.Register(2, nil)
	require.NoError(t, err)
	_, err = hub.Register(3, nil)
	assert.ErrorIs(t, err, ErrServerFull)

	assert.Equal(t, 2, hub.SessionCount(1))
	_ = hub.Shutdown(context.Background())
}

func TestHub_LiveSessionsAndUnregister(t *testing.T) {
	hub := NewHub(nil, HubOptions{})
	a, err := hub.Register(7, nil)
	require.NoError(t, err)
	b, err := hub.Register(7, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	sessions := hub.LiveSessions(7)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, uint(7), s.UserID())
	}
	assert.Empty(t, hub.LiveSessions(8))

	hub.UnregisterClient(a)
	hub.UnregisterClient(a)
	assert.Len(t, hub.LiveSessions(7), 1)

	err = hub.Push(context.Background(), a, []byte(`{}`))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestHub_PushPreservesOrder(t *testing.T) {
	hub := NewHub(nil, HubOptions{})
	c, err := hub.Register(1, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, hub.Push(context.Background(), c, []byte(fmt.Sprintf("%d", i))))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("%d", i), string(<-c.Send))
	}
}

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	hub := NewHub(nil, HubOptions{})
	c, err := hub.Register(1, nil)
	require.NoError(t, err)

	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, c.TrySend([]byte("x")))
	}
	assert.ErrorIs(t, c.TrySend([]byte("overflow")), ErrBufferFull)
}

func TestHub_ShutdownClosesSessions(t *testing.T) {
	hub := NewHub(nil, HubOptions{})
	c, err := hub.Register(1, nil)
	require.NoError(t, err)

	require.NoError(t, hub.Shutdown(context.Background()))

	_, open := <-c.Send
	assert.False(t, open)
	assert.Empty(t, hub.LiveSessions(1))

	_, err = hub.Register(1, nil)
	assert.Error(t, err)
}

func TestHub_RegisterTouchesPresence(t *testing.T) {
	presence := NewPresenceTracker(nil, nil, PresenceConfig{})
	hub := NewHub(presence, HubOptions{})

	_, err := hub.Register(42, nil)
	require.NoError(t, err)
	assert.True(t, presence.IsOnline(context.Background(), 42))
	assert.False(t, presence.IsOnline(context.Background(), 43))
}
