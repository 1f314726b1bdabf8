package sessions

import (
	"sync"
	"testing"
	"time"

	"github.com/cbodonnell/rally/pkg/messages"
	"github.com/cbodonnell/rally/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	sent   []*messages.Message
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string {
	return c.id
}

func (c *fakeConn) Send(msg *messages.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) RequestClose(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) countOfType(msgType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, msg := range c.sent {
		if msg.Type == msgType {
			count++
		}
	}
	return count
}

func (c *fakeConn) lastOfType(msgType string) *messages.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Type == msgType {
			return c.sent[i]
		}
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type finishedReport struct {
	sessionID string
	winnerID  string
	scoreA    int
	scoreB    int
	duration  time.Duration
}

type recordingNotifier struct {
	mu       sync.Mutex
	finished []finishedReport
	presence map[string][]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{presence: make(map[string][]bool)}
}

func (n *recordingNotifier) SessionFinished(sessionID, winnerID string, scoreA, scoreB int, duration time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, finishedReport{
		sessionID: sessionID,
		winnerID:  winnerID,
		scoreA:    scoreA,
		scoreB:    scoreB,
		duration:  duration,
	})
}

func (n *recordingNotifier) PresenceChanged(participantID string, active bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.presence[participantID] = append(n.presence[participantID], active)
}

func (n *recordingNotifier) finishedReports() []finishedReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]finishedReport(nil), n.finished...)
}

func newTestSession(t *testing.T, winScore int, graceWindow time.Duration, notifier Notifier) *Session {
	t.Helper()
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return NewSession(NewSessionOptions{
		ID:           "session-1",
		ParticipantA: "alice",
		ParticipantB: "bob",
		WinScore:     winScore,
		GraceWindow:  graceWindow,
		Scheduler:    scheduler.NewScheduler(50 * time.Millisecond),
		Notifier:     notifier,
	})
}

// setLastTick pins the session's tick clock so tests can advance it by exact steps.
func setLastTick(s *Session, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTick = t
}

func TestAdmitConnectionUnknownParticipant(t *testing.T) {
	s := newTestSession(t, 3, time.Second, nil)

	err := s.AdmitConnection("mallory", newFakeConn("c1"))

	require.Error(t, err)
	assert.True(t, IsUnknownParticipant(err))
	assert.Equal(t, StatusAwaitingConnections, s.Status())
}

func TestAdmitConnectionAfterEnded(t *testing.T) {
	s := newTestSession(t, 3, time.Second, nil)
	s.ForceEnd(EndReasonAborted)

	err := s.AdmitConnection("alice", newFakeConn("c1"))

	require.Error(t, err)
	assert.True(t, IsSessionEnded(err))
}

func TestAdmitConnectionSlotOccupied(t *testing.T) {
	s := newTestSession(t, 3, time.Second, nil)
	require.NoError(t, s.AdmitConnection("alice", newFakeConn("c1")))

	err := s.AdmitConnection("alice", newFakeConn("c2"))

	require.Error(t, err)
	assert.True(t, IsSlotOccupied(err))
}

func TestSessionRunsWhenBothParticipantsConnect(t *testing.T) {
	s := newTestSession(t, 3, time.Second, nil)

	require.NoError(t, s.AdmitConnection("alice", newFakeConn("c1")))
	assert.Equal(t, StatusAwaitingConnections, s.Status())

	require.NoError(t, s.AdmitConnection("bob", newFakeConn("c2")))
	assert.Equal(t, StatusRunning, s.Status())
}

func TestApplyInputValidation(t *testing.T) {
	s := newTestSession(t, 3, time.Second, nil)

	err := s.ApplyInput("alice", 2)
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))

	err = s.ApplyInput("mallory", 1)
	require.Error(t, err)
	assert.True(t, IsUnknownParticipant(err))

	// Valid input outside running has no effect and no error
	require.NoError(t, s.ApplyInput("alice", 1))
	assert.Equal(t, 0, s.inbound.Size())
}

func TestDisconnectPausesAndNotifiesOpponent(t *testing.T) {
	s := newTestSession(t, 3, time.Minute, nil)
	connA := newFakeConn("c1")
	connB := newFakeConn("c2")
	require.NoError(t, s.AdmitConnection("alice", connA))
	require.NoError(t, s.AdmitConnection("bob", connB))

	base := time.Now()
	setLastTick(s, base)
	s.tick(base.Add(50 * time.Millisecond))
	require.Equal(t, 1, connA.countOfType(messages.MessageTypeServerState))

	s.RecordDisconnect("bob")

	assert.Equal(t, StatusPaused, s.Status())
	assert.Equal(t, 1, connA.countOfType(messages.MessageTypeServerOpponentDisconnected))

	// No ticks are applied while paused
	s.tick(base.Add(100 * time.Millisecond))
	assert.Equal(t, 1, connA.countOfType(messages.MessageTypeServerState))
}

func TestReconnectInsideGraceWindowResumes(t *testing.T) {
	s := newTestSession(t, 3, time.Minute, nil)
	connA := newFakeConn("c1")
	connB := newFakeConn("c2")
	require.NoError(t, s.AdmitConnection("alice", connA))
	require.NoError(t, s.AdmitConnection("bob", connB))

	base := time.Now()
	setLastTick(s, base)
	s.tick(base.Add(50 * time.Millisecond))

	beforePause := s.StateSnapshot()
	s.RecordDisconnect("bob")
	require.Equal(t, StatusPaused, s.Status())

	// The simulation state survives the pause untouched
	assert.Equal(t, beforePause, s.StateSnapshot())

	connB2 := newFakeConn("c3")
	require.NoError(t, s.AdmitConnection("bob", connB2))

	assert.Equal(t, StatusRunning, s.Status())
	assert.Equal(t, 1, connA.countOfType(messages.MessageTypeServerResumed))
	assert.Equal(t, 1, connB2.countOfType(messages.MessageTypeServerReconnected))
	assert.Equal(t, 1, connB2.countOfType(messages.MessageTypeServerResumed))
}

func TestGraceWindowExpiryForfeits(t *testing.T) {
	notifier := newRecordingNotifier()
	s := newTestSession(t, 3, 50*time.Millisecond, notifier)
	connA := newFakeConn("c1")
	connB := newFakeConn("c2")
	require.NoError(t, s.AdmitConnection("alice", connA))
	require.NoError(t, s.AdmitConnection("bob", connB))

	s.RecordDisconnect("bob")

	require.Eventually(t, func() bool {
		return s.Status() == StatusEnded
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, connA.countOfType(messages.MessageTypeServerOpponentLeft))
	assert.Equal(t, 1, connA.countOfType(messages.MessageTypeServerYouWin))
	assert.Equal(t, 1, connA.countOfType(messages.MessageTypeServerEnded))
	assert.True(t, connA.isClosed())

	reports := notifier.finishedReports()
	require.Len(t, reports, 1)
	assert.Equal(t, "session-1", reports[0].sessionID)
	assert.Equal(t, "alice", reports[0].winnerID)
}

func TestCrossingDisconnectsStillForfeit(t *testing.T) {
	notifier := newRecordingNotifier()
	s := newTestSession(t, 3, 50*time.Millisecond, notifier)
	connA := newFakeConn("c1")
	connB := newFakeConn("c2")
	require.NoError(t, s.AdmitConnection("alice", connA))
	require.NoError(t, s.AdmitConnection("bob", connB))

	// Bob drops, then Alice drops while the session is already paused,
	// then Bob comes back. Alice is now the only absent participant and
	// her grace window must still run out.
	s.RecordDisconnect("bob")
	require.Equal(t, StatusPaused, s.Status())
	s.RecordDisconnect("alice")

	connB2 := newFakeConn("c3")
	require.NoError(t, s.AdmitConnection("bob", connB2))
	require.Equal(t, StatusPaused, s.Status())

	require.Eventually(t, func() bool {
		return s.Status() == StatusEnded
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, connB2.countOfType(messages.MessageTypeServerOpponentLeft))
	assert.Equal(t, 1, connB2.countOfType(messages.MessageTypeServerYouWin))
	assert.True(t, connB2.isClosed())

	reports := notifier.finishedReports()
	require.Len(t, reports, 1)
	assert.Equal(t, "bob", reports[0].winnerID)
}

func TestReconnectAfterGraceWindowIsRejected(t *testing.T) {
	s := newTestSession(t, 3, 20*time.Millisecond, nil)
	require.NoError(t, s.AdmitConnection("alice", newFakeConn("c1")))
	require.NoError(t, s.AdmitConnection("bob", newFakeConn("c2")))

	s.RecordDisconnect("bob")
	require.Eventually(t, func() bool {
		return s.Status() == StatusEnded
	}, time.Second, 5*time.Millisecond)

	err := s.AdmitConnection("bob", newFakeConn("c3"))
	require.Error(t, err)
	assert.True(t, IsSessionEnded(err))
}

func TestForceEndNotifiesBothSides(t *testing.T) {
	notifier := newRecordingNotifier()
	s := newTestSession(t, 3, time.Minute, notifier)
	connA := newFakeConn("c1")
	connB := newFakeConn("c2")
	require.NoError(t, s.AdmitConnection("alice", connA))
	require.NoError(t, s.AdmitConnection("bob", connB))

	s.ForceEnd(EndReasonAborted)

	assert.Equal(t, StatusEnded, s.Status())
	assert.Equal(t, 1, connA.countOfType(messages.MessageTypeServerEnded))
	assert.Equal(t, 1, connB.countOfType(messages.MessageTypeServerEnded))
	assert.True(t, connA.isClosed())
	assert.True(t, connB.isClosed())

	reports := notifier.finishedReports()
	require.Len(t, reports, 1)
	assert.Equal(t, "", reports[0].winnerID)

	// Idempotent
	s.ForceEnd(EndReasonAborted)
	assert.Len(t, notifier.finishedReports(), 1)
}

func TestSessionEndsByScore(t *testing.T) {
	notifier := newRecordingNotifier()
	s := newTestSession(t, 3, time.Minute, notifier)
	connA := newFakeConn("c1")
	connB := newFakeConn("c2")
	require.NoError(t, s.AdmitConnection("alice", connA))
	require.NoError(t, s.AdmitConnection("bob", connB))

	// With neither paddle ever moving, every serve scores for side A
	base := time.Now()
	setLastTick(s, base)
	now := base
	for i := 0; i < 1000 && s.Status() != StatusEnded; i++ {
		now = now.Add(50 * time.Millisecond)
		s.tick(now)
	}
	require.Equal(t, StatusEnded, s.Status())

	assert.Equal(t, 1, connA.countOfType(messages.MessageTypeServerYouWin))
	assert.Equal(t, 1, connB.countOfType(messages.MessageTypeServerYouLose))
	assert.Equal(t, 1, connA.countOfType(messages.MessageTypeServerEnded))
	assert.Equal(t, 1, connB.countOfType(messages.MessageTypeServerEnded))

	reports := notifier.finishedReports()
	require.Len(t, reports, 1)
	assert.Equal(t, "alice", reports[0].winnerID)
	assert.Equal(t, 3, reports[0].scoreA)
	assert.Equal(t, 0, reports[0].scoreB)
	assert.Greater(t, reports[0].duration, time.Duration(0))
}

func TestInputsAreAppliedAtTick(t *testing.T) {
	s := newTestSession(t, 3, time.Minute, nil)
	require.NoError(t, s.AdmitConnection("alice", newFakeConn("c1")))
	require.NoError(t, s.AdmitConnection("bob", newFakeConn("c2")))

	before := s.StateSnapshot()
	require.NoError(t, s.ApplyInput("alice", 1))

	base := time.Now()
	setLastTick(s, base)
	s.tick(base.Add(100 * time.Millisecond))

	after := s.StateSnapshot()
	assert.Greater(t, after.PaddleA.Y, before.PaddleA.Y)
	assert.Equal(t, before.PaddleB.Y, after.PaddleB.Y)
}
