// Package featureflags gates optional realtime behavior per user.
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Flags consulted by the messaging surfaces.
const (
	// TypingIndicators forwards typing-start/typing-stop signals.
	TypingIndicators = "typing_indicators"
	// CallSignaling forwards call-initiate/accept/reject/end signals.
	CallSignaling = "call_signaling"
	// CrossNodeRelay publishes routed envelopes to other nodes over Redis.
	CrossNodeRelay = "cross_node_relay"
	// LazyDelivery marks fetched history as delivered.
	LazyDelivery = "lazy_delivery"
)

var defaults = map[string]string{
	TypingIndicators: "on",
	CallSignaling:    "on",
	CrossNodeRelay:   "on",
	LazyDelivery:     "on",
}

// rule is a parsed flag value: the share of users, 0 to 100, it is on for.
// Unparseable values become 0.
type rule struct {
	raw     string
	percent int
}

func parseRule(value string) rule {
	r := rule{raw: value}
	switch value {
	case "on", "true", "1":
		r.percent = 100
	case "off", "false", "0":
	default:
		if n, err := strconv.Atoi(strings.TrimSuffix(value, "%")); err == nil && strings.HasSuffix(value, "%") {
			r.percent = min(max(n, 0), 100)
		}
	}
	return r
}

// Manager evaluates flags given as a comma separated key=value list, for
// example "typing_indicators=on,call_signaling=25%,cross_node_relay=off".
// Known flags missing from the list keep their defaults.
type Manager struct {
	rules map[string]rule
}

// NewManager parses raw. Malformed entries are skipped.
func NewManager(raw string) *Manager {
	values := lo.Assign(defaults)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key, value = normalize(key), normalize(value)
		if ok && key != "" && value != "" {
			values[key] = value
		}
	}
	return &Manager{rules: lo.MapValues(values, func(v string, _ string) rule { return parseRule(v) })}
}

// Enabled reports whether name is on for userID. Partial rollouts pick a
// stable bucket per user and flag, and never include the zero user. A nil
// manager enables nothing.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}
	r, ok := m.rules[normalize(name)]
	switch {
	case !ok || r.percent == 0:
		return false
	case r.percent == 100:
		return true
	case userID == 0:
		return false
	}
	return rolloutBucket(normalize(name), userID) < r.percent
}

// Raw returns the configured values as written.
func (m *Manager) Raw() map[string]string {
	return lo.MapValues(m.rules, func(r rule, _ string) string { return r.raw })
}

// Snapshot evaluates every known flag for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	return lo.MapValues(m.rules, func(_ rule, name string) bool { return m.Enabled(name, userID) })
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name + ":" + strconv.FormatUint(uint64(userID), 10)))
	return int(h.Sum32() % 100)
}
