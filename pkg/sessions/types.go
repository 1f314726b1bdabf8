package sessions

import (
	"time"

	"github.com/cbodonnell/rally/pkg/messages"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusAwaitingConnections Status = "awaiting_connections"
	StatusRunning             Status = "running"
	StatusPaused              Status = "paused"
	StatusEnded               Status = "ended"
)

// Conn is the session's handle to a participant connection. The gateway owns
// the connection lifecycle; the session only sends on it and may request
// closure when it ends.
type Conn interface {
	ID() string
	Send(msg *messages.Message) error
	RequestClose(reason string)
}

// Notifier reports terminal outcomes and presence changes to external
// collaborators. Implementations must not block the caller; reporting is
// best-effort relative to the session's own lifecycle.
type Notifier interface {
	SessionFinished(sessionID, winnerID string, scoreA, scoreB int, duration time.Duration)
	PresenceChanged(participantID string, active bool)
}

// NoopNotifier discards all reports.
type NoopNotifier struct{}

func (NoopNotifier) SessionFinished(sessionID, winnerID string, scoreA, scoreB int, duration time.Duration) {
}

func (NoopNotifier) PresenceChanged(participantID string, active bool) {}
