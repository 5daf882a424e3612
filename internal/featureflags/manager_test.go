package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0,g=maybe")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, 1), name)
	}
	for _, name := range []string{"b", "d", "f", "g", "unknown"} {
		assert.False(t, m.Enabled(name, 1), name)
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,over=250%,neg=-5%")

	assert.True(t, m.Enabled("always", 1))
	assert.True(t, m.Enabled("over", 1))
	assert.False(t, m.Enabled("never", 1))
	assert.False(t, m.Enabled("neg", 1))
	assert.False(t, m.Enabled("canary", 0), "partial rollout excludes the zero user")

	first := m.Enabled("canary", 42)
	for range 5 {
		assert.Equal(t, first, m.Enabled("CANARY ", 42), "bucket must be stable per user")
	}

	on := 0
	for id := uint(1); id <= 1000; id++ {
		if m.Enabled("canary", id) {
			on++
		}
	}
	assert.InDelta(t, 250, on, 100)
}

func TestDefaultsAndOverrides(t *testing.T) {
	m := NewManager("")
	assert.True(t, m.Enabled(TypingIndicators, 7))
	assert.True(t, m.Enabled(CallSignaling, 7))
	assert.True(t, m.Enabled(LazyDelivery, 7))

	m = NewManager("typing_indicators=off, CALL_SIGNALING = off")
	assert.False(t, m.Enabled(TypingIndicators, 7))
	assert.False(t, m.Enabled(CallSignaling, 7))
	assert.True(t, m.Enabled(CrossNodeRelay, 7), "unrelated defaults survive overrides")

	var nilManager *Manager
	assert.False(t, nilManager.Enabled(TypingIndicators, 7))
}

func TestRawAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, y = 20% ,z=off,=on,w=")

	raw := m.Raw()
	assert.Equal(t, "on", raw["x"])
	assert.Equal(t, "20%", raw["y"])
	assert.Equal(t, "off", raw["z"])
	assert.NotContains(t, raw, "bad")
	assert.NotContains(t, raw, "w")
	assert.NotContains(t, raw, "")
	assert.Len(t, raw, len(defaults)+3)

	snap := m.Snapshot(123)
	assert.Len(t, snap, len(raw))
	assert.True(t, snap["x"])
	assert.False(t, snap["z"])
}
