package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cbodonnell/rally/pkg/log"
)

// Presence states reported to the presence collaborator.
const (
	PresenceStateActiveSession = "active-session"
	PresenceStateIdle          = "idle"
)

const (
	defaultQueueSize   = 256
	defaultMaxAttempts = 3
	defaultBackoff     = time.Second
)

// SessionFinishedReport is posted when a session reaches a terminal state.
type SessionFinishedReport struct {
	SessionID       string  `json:"sessionId"`
	WinnerID        string  `json:"winnerId"`
	ScoreA          int     `json:"scoreA"`
	ScoreB          int     `json:"scoreB"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// PresenceChangedReport is posted when a participant enters or leaves an
// active-session presence state.
type PresenceChangedReport struct {
	ParticipantID string `json:"participantId"`
	NewState      string `json:"newState"`
}

type delivery struct {
	url     string
	payload interface{}
}

// Notifier reports session outcomes and presence changes to external
// collaborators. Dispatch never blocks the caller: reports go onto a bounded
// queue drained by the worker, which retries with backoff and drops on
// exhaustion. A stalled collaborator never stalls gameplay.
type Notifier struct {
	client             *http.Client
	sessionFinishedURL string
	presenceChangedURL string
	deliveries         chan delivery
	maxAttempts        int
	backoff            time.Duration
}

type NewNotifierOptions struct {
	SessionFinishedURL string
	PresenceChangedURL string
	QueueSize          int
	MaxAttempts        int
	Backoff            time.Duration
	Client             *http.Client
}

func NewNotifier(opts NewNotifierOptions) *Notifier {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{
		client:             client,
		sessionFinishedURL: opts.SessionFinishedURL,
		presenceChangedURL: opts.PresenceChangedURL,
		deliveries:         make(chan delivery, queueSize),
		maxAttempts:        maxAttempts,
		backoff:            backoff,
	}
}

// SessionFinished implements sessions.Notifier.
func (n *Notifier) SessionFinished(sessionID, winnerID string, scoreA, scoreB int, duration time.Duration) {
	n.dispatch(n.sessionFinishedURL, &SessionFinishedReport{
		SessionID:       sessionID,
		WinnerID:        winnerID,
		ScoreA:          scoreA,
		ScoreB:          scoreB,
		DurationSeconds: duration.Seconds(),
	})
}

// PresenceChanged implements sessions.Notifier.
func (n *Notifier) PresenceChanged(participantID string, active bool) {
	state := PresenceStateIdle
	if active {
		state = PresenceStateActiveSession
	}
	n.dispatch(n.presenceChangedURL, &PresenceChangedReport{
		ParticipantID: participantID,
		NewState:      state,
	})
}

func (n *Notifier) dispatch(url string, payload interface{}) {
	if url == "" {
		return
	}
	select {
	case n.deliveries <- delivery{url: url, payload: payload}:
	default:
		log.Warn("Notifier queue is full, dropping %T", payload)
	}
}

// Start drains the delivery queue until the context is done.
func (n *Notifier) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-n.deliveries:
			n.deliver(ctx, d)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, d delivery) {
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		err := n.post(ctx, d.url, d.payload)
		if err == nil {
			return
		}
		log.Warn("Failed to deliver %T to %s (attempt %d/%d): %v", d.payload, d.url, attempt, n.maxAttempts, err)
		if attempt == n.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * n.backoff):
		}
	}
	log.Error("Dropping %T report to %s after %d attempts", d.payload, d.url, n.maxAttempts)
}

func (n *Notifier) post(ctx context.Context, url string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return nil
}
