package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_NilRedisIsNoop(t *testing.T) {
	r := NewRelay(nil, "")
	assert.NotEmpty(t, r.NodeID())
	assert.NoError(t, r.RelayToUsers(context.Background(), []uint{1}, []byte(`{}`)))
	assert.NoError(t, r.Subscribe(context.Background(), func(uint, []byte) {}))
}

func TestRelay_DeliversToOtherNodesOnly(t *testing.T) {
	_, rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeA := NewRelay(rdb, "node-a")
	nodeB := NewRelay(rdb, "node-b")

	hubA := NewHub(nil, HubOptions{})
	hubB := NewHub(nil, HubOptions{})
	clientA, err := hubA.Register(11, nil)
	require.NoError(t, err)
	clientB, err := hubB.Register(11, nil)
	require.NoError(t, err)

	require.NoError(t, hubA.StartWiring(ctx, nodeA))
	require.NoError(t, hubB.StartWiring(ctx, nodeB))

	frame := []byte(`{"event":"receive-message","data":{"id":1}}`)
	require.NoError(t, nodeA.RelayToUsers(context.Background(), []uint{11}, frame))

	select {
	case got := <-clientB.Send:
		assert.JSONEq(t, string(frame), string(got))
	case <-time.After(time.Second):
		t.Fatal("relayed frame never reached the other node")
	}

	assert.Never(t, func() bool { return len(clientA.Send) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"origin node must ignore its own relay")
}

func TestRelay_StopsOnCancel(t *testing.T) {
	_, rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())

	received := make(chan uint, 4)
	listener := NewRelay(rdb, "listener")
	require.NoError(t, listener.Subscribe(ctx, func(userID uint, _ []byte) { received <- userID }))

	sender := NewRelay(rdb, "sender")
	require.NoError(t, sender.RelayToUsers(context.Background(), []uint{2}, []byte(`{}`)))
	select {
	case id := <-received:
		assert.Equal(t, uint(2), id)
	case <-time.After(time.Second):
		t.Fatal("no frame before cancel")
	}

	cancel()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sender.RelayToUsers(context.Background(), []uint{3}, []byte(`{}`)))
	assert.Never(t, func() bool { return len(received) > 0 }, 200*time.Millisecond, 10*time.Millisecond)
}
