package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingServer struct {
	mu       sync.Mutex
	failures int
	bodies   [][]byte
}

func (c *capturingServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.failures > 0 {
			c.failures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		c.bodies = append(c.bodies, body)
		w.WriteHeader(http.StatusOK)
	}
}

func (c *capturingServer) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.bodies...)
}

func TestNotifierDeliversSessionFinished(t *testing.T) {
	capture := &capturingServer{}
	server := httptest.NewServer(capture.handler())
	defer server.Close()

	n := NewNotifier(NewNotifierOptions{
		SessionFinishedURL: server.URL,
		Backoff:            10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Start(ctx)

	n.SessionFinished("room-1", "alice", 3, 1, 95*time.Second)

	require.Eventually(t, func() bool {
		return len(capture.received()) == 1
	}, time.Second, 10*time.Millisecond)

	report := &SessionFinishedReport{}
	require.NoError(t, json.Unmarshal(capture.received()[0], report))
	assert.Equal(t, "room-1", report.SessionID)
	assert.Equal(t, "alice", report.WinnerID)
	assert.Equal(t, 3, report.ScoreA)
	assert.Equal(t, 1, report.ScoreB)
	assert.Equal(t, 95.0, report.DurationSeconds)
}

func TestNotifierRetriesWithBackoff(t *testing.T) {
	capture := &capturingServer{failures: 2}
	server := httptest.NewServer(capture.handler())
	defer server.Close()

	n := NewNotifier(NewNotifierOptions{
		PresenceChangedURL: server.URL,
		Backoff:            5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Start(ctx)

	n.PresenceChanged("alice", true)

	require.Eventually(t, func() bool {
		return len(capture.received()) == 1
	}, time.Second, 10*time.Millisecond)

	report := &PresenceChangedReport{}
	require.NoError(t, json.Unmarshal(capture.received()[0], report))
	assert.Equal(t, "alice", report.ParticipantID)
	assert.Equal(t, PresenceStateActiveSession, report.NewState)
}

func TestNotifierDropsWhenUnconfigured(t *testing.T) {
	n := NewNotifier(NewNotifierOptions{})

	// No URLs configured: dispatch must be a no-op, not a blocked send
	n.SessionFinished("room-1", "alice", 3, 0, time.Minute)
	n.PresenceChanged("alice", false)

	assert.Equal(t, 0, len(n.deliveries))
}
