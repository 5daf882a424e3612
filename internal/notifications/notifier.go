// Package notifications carries frames to live websocket sessions: the
// session hub, presence tracking and the cross-node Redis relay.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"swarg/internal/cache"
	"swarg/internal/observability"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// relayEnvelope wraps a frame with the node that published it.
type relayEnvelope struct {
	Node  string              `json:"node"`
	Frame jsoniter.RawMessage `json:"frame"`
}

// Relay publishes frames for users connected to other nodes and receives
// frames published by them.
type Relay struct {
	rdb    *redis.Client
	nodeID string
}

// NewRelay creates a Relay. An empty nodeID gets a random one.
func NewRelay(rdb *redis.Client, nodeID string) *Relay {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &Relay{rdb: rdb, nodeID: nodeID}
}

// NodeID identifies this process on the relay.
func (r *Relay) NodeID() string { return r.nodeID }

// RelayToUsers publishes frame on the relay channel of every user.
func (r *Relay) RelayToUsers(ctx context.Context, userIDs []uint, frame []byte) error {
	if r.rdb == nil || len(userIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(relayEnvelope{Node: r.nodeID, Frame: frame})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}

	pipe := r.rdb.Pipeline()
	for _, id := range userIDs {
		pipe.Publish(ctx, cache.RelayUserChannel(id), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish relay: %w", err)
	}
	observability.RelayMessages.WithLabelValues("out").Add(float64(len(userIDs)))
	return nil
}

// Subscribe listens on every user relay channel and calls onFrame for frames
// published by other nodes. It returns once the subscription is confirmed;
// delivery runs until ctx is cancelled.
func (r *Relay) Subscribe(ctx context.Context, onFrame func(userID uint, frame []byte)) error {
	if r.rdb == nil {
		return nil
	}
	sub := r.rdb.PSubscribe(ctx, cache.RelayUserPattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe relay: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if rec := recover(); rec != nil {
							slog.Error("panic in relay subscriber", "panic", rec, "stack", string(debug.Stack()))
						}
					}()
					r.dispatch(msg.Channel, msg.Payload, onFrame)
				}()
			}
		}
	}()

	return nil
}

func (r *Relay) dispatch(channel, payload string, onFrame func(uint, []byte)) {
	userID, ok := cache.ParseRelayUserChannel(channel)
	if !ok {
		slog.Warn("invalid relay channel", "channel", channel)
		return
	}
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.Warn("invalid relay payload", "channel", channel, "error", err)
		return
	}
	if env.Node == r.nodeID {
		return
	}
	observability.RelayMessages.WithLabelValues("in").Inc()
	onFrame(userID, env.Frame)
}
