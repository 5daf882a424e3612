package notifications

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"swarg/internal/cache"
	"swarg/internal/models"
	"swarg/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	// OnlineWindow is how recent the last activity must be for a user to count
	// as online.
	OnlineWindow = 5 * time.Minute

	defaultPersistInterval = time.Minute
)

// LastSeenStore persists last-seen timestamps.
type LastSeenStore interface {
	TouchLastSeen(ctx context.Context, userID uint, at time.Time) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// PresenceConfig tunes a PresenceTracker. Zero values take the defaults.
type PresenceConfig struct {
	Window          time.Duration
	PersistInterval time.Duration
	Now             func() time.Time
}

// PresenceTracker records when users were last active. Activity is kept in
// process memory, mirrored to Redis so other nodes see it, and written to
// users.last_seen at most once per PersistInterval per user.
type PresenceTracker struct {
	rdb   *redis.Client
	store LastSeenStore
	log   *observability.WSLogger

	mu         sync.RWMutex
	lastActive map[uint]time.Time
	persisted  map[uint]time.Time

	window       time.Duration
	persistEvery time.Duration
	now          func() time.Time
}

// NewPresenceTracker creates a tracker. rdb and store may be nil.
func NewPresenceTracker(rdb *redis.Client, store LastSeenStore, cfg PresenceConfig) *PresenceTracker {
	p := &PresenceTracker{
		rdb:          rdb,
		store:        store,
		log:          observability.NewWSLogger("presence"),
		lastActive:   make(map[uint]time.Time),
		persisted:    make(map[uint]time.Time),
		window:       OnlineWindow,
		persistEvery: defaultPersistInterval,
		now:          time.Now,
	}
	if cfg.Window > 0 {
		p.window = cfg.Window
	}
	if cfg.PersistInterval > 0 {
		p.persistEvery = cfg.PersistInterval
	}
	if cfg.Now != nil {
		p.now = cfg.Now
	}
	return p
}

// Touch records activity for userID now.
func (p *PresenceTracker) Touch(ctx context.Context, userID uint) {
	if userID == 0 {
		return
	}
	now := p.now().UTC()

	p.mu.Lock()
	if prev, ok := p.lastActive[userID]; !ok || now.After(prev) {
		p.lastActive[userID] = now
	}
	persist := p.store != nil && now.Sub(p.persisted[userID]) >= p.persistEvery
	if persist {
		p.persisted[userID] = now
	}
	p.mu.Unlock()

	if p.rdb != nil {
		millis := strconv.FormatInt(now.UnixMilli(), 10)
		if err := p.rdb.SetEx(ctx, cache.PresenceKey(userID), millis, p.window).Err(); err != nil {
			p.log.LogError(ctx, userID, "", err, "presence_setex")
		}
	}

	if persist {
		if err := p.store.TouchLastSeen(ctx, userID, now); err != nil {
			p.log.LogError(ctx, userID, "", err, "presence_persist")
			// Retry on the next touch instead of waiting a full interval.
			p.mu.Lock()
			delete(p.persisted, userID)
			p.mu.Unlock()
		}
	}
}

// LastActive returns the most recent known activity of userID. Fresh
// in-memory activity wins; otherwise Redis and then the database are
// consulted and the latest timestamp found is returned.
func (p *PresenceTracker) LastActive(ctx context.Context, userID uint) (time.Time, bool) {
	p.mu.RLock()
	best, found := p.lastActive[userID]
	p.mu.RUnlock()
	if found && p.now().Sub(best) < p.window {
		return best, true
	}
	consider := func(at time.Time) {
		if !found || at.After(best) {
			best, found = at, true
		}
	}

	if p.rdb != nil {
		raw, err := p.rdb.Get(ctx, cache.PresenceKey(userID)).Result()
		switch {
		case err == nil:
			if millis, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
				consider(time.UnixMilli(millis).UTC())
			}
		case !errors.Is(err, redis.Nil):
			p.log.LogError(ctx, userID, "", err, "presence_get")
		}
	}
	if found && p.now().Sub(best) < p.window {
		return best, true
	}

	if p.store != nil {
		user, err := p.store.GetByID(ctx, userID)
		if err == nil && user.LastSeen != nil {
			consider(user.LastSeen.UTC())
		}
	}
	return best, found
}

// IsOnline reports whether userID was active within the online window.
func (p *PresenceTracker) IsOnline(ctx context.Context, userID uint) bool {
	at, ok := p.LastActive(ctx, userID)
	if !ok {
		return false
	}
	return p.now().Sub(at) < p.window
}
