package cache

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	PresenceKeyPrefix = "presence:last_active:%d"
	RelayUserPrefix   = "relay:user:%d"
	RelayUserPattern  = "relay:user:*"
)

// PresenceKey holds a user's last-active unix millis with a TTL of the online window.
func PresenceKey(userID uint) string {
	return fmt.Sprintf(PresenceKeyPrefix, userID)
}

// RelayUserChannel is the pub/sub channel carrying envelopes for one user across nodes.
func RelayUserChannel(userID uint) string {
	return fmt.Sprintf(RelayUserPrefix, userID)
}

// ParseRelayUserChannel extracts the user id from a relay channel name.
func ParseRelayUserChannel(channel string) (uint, bool) {
	raw, ok := strings.CutPrefix(channel, "relay:user:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
