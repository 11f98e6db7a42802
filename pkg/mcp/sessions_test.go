package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("soc-oncall", "session-abc")
	sid, ok := r.SessionFor("soc-oncall")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_Overwrite(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("soc-oncall", "session-old")
	r.Register("soc-oncall", "session-new")

	sid, ok := r.SessionFor("soc-oncall")
	assert.True(t, ok)
	assert.Equal(t, "session-new", sid)
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("soc-oncall", "session-abc")
	r.Register("ir-lead", "session-abc")
	r.Register("triage-bot", "session-xyz")

	r.Remove("session-abc")

	_, ok := r.SessionFor("soc-oncall")
	assert.False(t, ok, "soc-oncall should be removed")

	_, ok = r.SessionFor("ir-lead")
	assert.False(t, ok, "ir-lead should be removed")

	sid, ok := r.SessionFor("triage-bot")
	assert.True(t, ok, "triage-bot should still exist")
	assert.Equal(t, "session-xyz", sid)
}

func TestSessionRegistry_MultipleResponders(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("soc-oncall", "session-1")
	r.Register("ir-lead", "session-2")

	sid1, ok := r.SessionFor("soc-oncall")
	assert.True(t, ok)
	assert.Equal(t, "session-1", sid1)

	sid2, ok := r.SessionFor("ir-lead")
	assert.True(t, ok)
	assert.Equal(t, "session-2", sid2)
}
