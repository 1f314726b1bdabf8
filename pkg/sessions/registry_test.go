package sessions

import (
	"testing"
	"time"

	"github.com/cbodonnell/rally/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(NewRegistryOptions{
		Scheduler:   scheduler.NewScheduler(50 * time.Millisecond),
		GraceWindow: time.Minute,
	})
}

func TestRegistryCreateAndLookup(t *testing.T) {
	r := newTestRegistry(t)

	session, err := r.Create(CreateSessionOptions{
		SessionID:    "room-1",
		ParticipantA: "alice",
		ParticipantB: "bob",
		WinScore:     3,
	})
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, StatusAwaitingConnections, session.Status())

	got, ok := r.Lookup("room-1")
	require.True(t, ok)
	assert.Same(t, session, got)

	got, ok = r.LookupByParticipant("alice")
	require.True(t, ok)
	assert.Same(t, session, got)

	got, ok = r.LookupByParticipant("bob")
	require.True(t, ok)
	assert.Same(t, session, got)

	_, ok = r.Lookup("room-2")
	assert.False(t, ok)
	_, ok = r.LookupByParticipant("mallory")
	assert.False(t, ok)
}

func TestRegistryCreateValidation(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name string
		opts CreateSessionOptions
	}{
		{
			name: "missing session id",
			opts: CreateSessionOptions{ParticipantA: "alice", ParticipantB: "bob"},
		},
		{
			name: "missing participant",
			opts: CreateSessionOptions{SessionID: "room-1", ParticipantA: "alice"},
		},
		{
			name: "identical participants",
			opts: CreateSessionOptions{SessionID: "room-1", ParticipantA: "alice", ParticipantB: "alice"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestRegistryRejectsDuplicateSession(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create(CreateSessionOptions{SessionID: "room-1", ParticipantA: "alice", ParticipantB: "bob"})
	require.NoError(t, err)

	_, err = r.Create(CreateSessionOptions{SessionID: "room-1", ParticipantA: "carol", ParticipantB: "dave"})
	require.Error(t, err)
	assert.True(t, IsDuplicateSession(err))
}

func TestRegistryRejectsActiveParticipant(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create(CreateSessionOptions{SessionID: "room-1", ParticipantA: "alice", ParticipantB: "bob"})
	require.NoError(t, err)

	_, err = r.Create(CreateSessionOptions{SessionID: "room-2", ParticipantA: "alice", ParticipantB: "carol"})
	require.Error(t, err)
	assert.True(t, IsParticipantActive(err))

	_, err = r.Create(CreateSessionOptions{SessionID: "room-2", ParticipantA: "carol", ParticipantB: "bob"})
	require.Error(t, err)
	assert.True(t, IsParticipantActive(err))
}

func TestRegistryRemoveClearsBothIndexes(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create(CreateSessionOptions{SessionID: "room-1", ParticipantA: "alice", ParticipantB: "bob"})
	require.NoError(t, err)
	other, err := r.Create(CreateSessionOptions{SessionID: "room-2", ParticipantA: "carol", ParticipantB: "dave"})
	require.NoError(t, err)

	r.Remove("room-1")

	_, ok := r.Lookup("room-1")
	assert.False(t, ok)
	_, ok = r.LookupByParticipant("alice")
	assert.False(t, ok)
	_, ok = r.LookupByParticipant("bob")
	assert.False(t, ok)

	got, ok := r.Lookup("room-2")
	require.True(t, ok)
	assert.Same(t, other, got)
}

func TestRegistryReleasesEndedSessions(t *testing.T) {
	r := newTestRegistry(t)
	session, err := r.Create(CreateSessionOptions{SessionID: "room-1", ParticipantA: "alice", ParticipantB: "bob"})
	require.NoError(t, err)

	session.ForceEnd(EndReasonAborted)

	require.Eventually(t, func() bool {
		return r.Len() == 0
	}, time.Second, 10*time.Millisecond)

	// Participants are free again once the entry is released
	_, err = r.Create(CreateSessionOptions{SessionID: "room-3", ParticipantA: "alice", ParticipantB: "bob"})
	assert.NoError(t, err)
}

func TestRegistryEndAll(t *testing.T) {
	r := newTestRegistry(t)
	first, err := r.Create(CreateSessionOptions{SessionID: "room-1", ParticipantA: "alice", ParticipantB: "bob"})
	require.NoError(t, err)
	second, err := r.Create(CreateSessionOptions{SessionID: "room-2", ParticipantA: "carol", ParticipantB: "dave"})
	require.NoError(t, err)

	r.EndAll("server shutdown")

	assert.Equal(t, StatusEnded, first.Status())
	assert.Equal(t, StatusEnded, second.Status())
}
