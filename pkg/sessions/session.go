package sessions

import (
	"sync"
	"time"

	"github.com/cbodonnell/rally/pkg/log"
	"github.com/cbodonnell/rally/pkg/messages"
	"github.com/cbodonnell/rally/pkg/queue"
	"github.com/cbodonnell/rally/pkg/scheduler"
	"github.com/cbodonnell/rally/pkg/sim"
)

// End reasons included in terminal notices.
const (
	EndReasonScore   = "score"
	EndReasonForfeit = "forfeit"
	EndReasonAborted = "aborted"
)

const inboundQueueSize = 64

type participant struct {
	id                string
	conn              Conn
	disconnectedSince time.Time
	graceTimer        *time.Timer
	direction         sim.Direction
}

type inputCommand struct {
	side      int
	direction sim.Direction
}

// Session owns one simulation instance and the two participant slots.
// All state behind mu is touched only through the public operations, which
// serialize against the session's tick handling.
type Session struct {
	ID string

	mu          sync.Mutex
	status      Status
	players     [2]*participant
	state       *sim.State
	inbound     queue.Queue
	lastTick    time.Time
	activeFor   time.Duration
	graceWindow time.Duration

	sched    *scheduler.Scheduler
	notifier Notifier
	onEnded  func(s *Session)

	tickC chan time.Time
	done  chan struct{}
}

type NewSessionOptions struct {
	ID           string
	ParticipantA string
	ParticipantB string
	WinScore     int
	GraceWindow  time.Duration
	Scheduler    *scheduler.Scheduler
	Notifier     Notifier
	// OnEnded is called once after the session reaches StatusEnded.
	OnEnded func(s *Session)
}

func NewSession(opts NewSessionOptions) *Session {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	s := &Session{
		ID:     opts.ID,
		status: StatusAwaitingConnections,
		players: [2]*participant{
			{id: opts.ParticipantA},
			{id: opts.ParticipantB},
		},
		state:       sim.NewState(opts.WinScore),
		inbound:     queue.NewInMemoryQueue(inboundQueueSize),
		graceWindow: opts.GraceWindow,
		sched:       opts.Scheduler,
		notifier:    notifier,
		onEnded:     opts.OnEnded,
		tickC:       make(chan time.Time, 1),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

// Participants returns the two participant identities, side A first.
func (s *Session) Participants() [2]string {
	return [2]string{s.players[sim.SideA].id, s.players[sim.SideB].id}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StateSnapshot returns the current simulation snapshot.
func (s *Session) StateSnapshot() sim.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// IsConnected reports whether the participant currently has a bound
// connection.
func (s *Session) IsConnected(participantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	side := s.sideOf(participantID)
	return side >= 0 && s.players[side].conn != nil
}

// sideOf maps a participant identity to its side index, or -1.
// Identities are immutable after creation.
func (s *Session) sideOf(participantID string) int {
	for side, p := range s.players {
		if p.id == participantID {
			return side
		}
	}
	return -1
}

// AdmitConnection binds a connection to one of the session's participant
// slots. When both slots are bound the session starts running, resuming from
// paused if the participant is reconnecting inside the grace window.
func (s *Session) AdmitConnection(participantID string, conn Conn) error {
	side := s.sideOf(participantID)
	if side < 0 {
		return &ErrUnknownParticipant{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded {
		return &ErrSessionEnded{}
	}

	p := s.players[side]
	if p.conn != nil {
		return &ErrSlotOccupied{}
	}

	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}

	wasPaused := s.status == StatusPaused
	p.conn = conn
	p.disconnectedSince = time.Time{}
	s.notifier.PresenceChanged(participantID, true)
	log.Info("Session %s: participant %s connected", s.ID, participantID)

	if s.players[sim.SideA].conn == nil || s.players[sim.SideB].conn == nil {
		return nil
	}

	if wasPaused {
		// The reconnecting side gets the full state before broadcasting resumes
		if msg, err := messages.New(messages.MessageTypeServerReconnected, &messages.ServerReconnected{State: s.state.Snapshot()}); err == nil {
			s.sendLocked(side, msg)
		}
		s.broadcastTypeLocked(messages.MessageTypeServerResumed)
	}
	s.startRunningLocked()

	return nil
}

// RecordDisconnect marks a participant's connection as gone. A running
// session pauses and the opponent is notified. Every disconnect from a
// running or paused session schedules a grace-window timer for that
// participant; if it fires before a reconnection the opponent wins by
// forfeit.
func (s *Session) RecordDisconnect(participantID string) {
	side := s.sideOf(participantID)
	if side < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.players[side]
	if p.conn == nil {
		return
	}
	p.conn = nil
	p.disconnectedSince = time.Now()
	s.notifier.PresenceChanged(participantID, false)
	log.Info("Session %s: participant %s disconnected", s.ID, participantID)

	if s.status == StatusRunning {
		s.status = StatusPaused
		s.sched.Deregister(s.ID)
		if msg, err := messages.New(messages.MessageTypeServerOpponentDisconnected, &messages.ServerOpponentDisconnected{ParticipantID: participantID}); err == nil {
			s.sendLocked(opponentOf(side), msg)
		}
	}
	if s.status != StatusPaused {
		return
	}

	// A disconnect while already paused gets its own timer, otherwise a
	// session with crossing disconnects would stay paused forever.
	p.graceTimer = time.AfterFunc(s.graceWindow, func() {
		s.onGraceExpiry(participantID)
	})
}

// onGraceExpiry ends the session by forfeit if the participant has not
// reconnected. A reconnection stops the timer, but the timer may already
// have fired, so the connection state is re-checked here.
func (s *Session) onGraceExpiry(participantID string) {
	side := s.sideOf(participantID)
	if side < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPaused {
		return
	}
	p := s.players[side]
	if p.conn != nil || p.disconnectedSince.IsZero() {
		return
	}

	log.Info("Session %s: participant %s did not reconnect within the grace window", s.ID, participantID)
	winner := opponentOf(side)
	s.sendTypeLocked(winner, messages.MessageTypeServerOpponentLeft)
	s.sendTypeLocked(winner, messages.MessageTypeServerYouWin)
	if msg, err := messages.New(messages.MessageTypeServerEnded, &messages.ServerEnded{Reason: EndReasonForfeit}); err == nil {
		s.broadcastLocked(msg)
	}
	s.endLocked(s.players[winner].id)
}

// ApplyInput validates and stores a movement command for the next tick.
// Commands for a session that is not running are dropped without effect.
func (s *Session) ApplyInput(participantID string, direction int) error {
	side := s.sideOf(participantID)
	if side < 0 {
		return &ErrUnknownParticipant{}
	}
	if !sim.IsValidDirection(direction) {
		return &ErrInvalidInput{}
	}

	s.mu.Lock()
	running := s.status == StatusRunning
	s.mu.Unlock()
	if !running {
		return nil
	}

	if err := s.inbound.Enqueue(&inputCommand{side: side, direction: sim.Direction(direction)}); err != nil {
		log.Warn("Session %s: dropping input for %s: %v", s.ID, participantID, err)
	}
	return nil
}

// ForceEnd terminates the session immediately regardless of state. It is safe
// to call concurrently with an in-flight tick; the termination notice
// supersedes any tick broadcast.
func (s *Session) ForceEnd(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded {
		return
	}
	log.Info("Session %s: force ended: %s", s.ID, reason)
	if msg, err := messages.New(messages.MessageTypeServerEnded, &messages.ServerEnded{Reason: reason}); err == nil {
		s.broadcastLocked(msg)
	}
	s.endLocked("")
}

// Tick implements scheduler.Target. It hands the signal to the session's own
// run loop without blocking; if the previous tick is still in flight the
// signal is dropped and the elapsed time folds into the next tick.
func (s *Session) Tick(t time.Time) {
	select {
	case s.tickC <- t:
	default:
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case t := <-s.tickC:
			s.tick(t)
		}
	}
}

// tick runs one iteration of the session loop: drain pending inputs, advance
// the simulation by the elapsed wall-clock time, and broadcast the snapshot.
func (s *Session) tick(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusRunning {
		return
	}

	s.drainInboundLocked()

	elapsed := t.Sub(s.lastTick)
	if elapsed <= 0 {
		return
	}
	s.lastTick = t
	s.activeFor += elapsed

	s.state.Advance(elapsed.Seconds(), sim.Inputs{
		A: s.players[sim.SideA].direction,
		B: s.players[sim.SideB].direction,
	})

	if msg, err := messages.New(messages.MessageTypeServerState, &messages.ServerState{State: s.state.Snapshot()}); err == nil {
		s.broadcastLocked(msg)
	} else {
		log.Error("Session %s: failed to build state message: %v", s.ID, err)
	}

	if s.state.Concluded() {
		winner := s.state.Winner()
		s.sendTypeLocked(winner, messages.MessageTypeServerYouWin)
		s.sendTypeLocked(opponentOf(winner), messages.MessageTypeServerYouLose)
		if msg, err := messages.New(messages.MessageTypeServerEnded, &messages.ServerEnded{Reason: EndReasonScore}); err == nil {
			s.broadcastLocked(msg)
		}
		s.endLocked(s.players[winner].id)
	}
}

func (s *Session) drainInboundLocked() {
	pending, err := s.inbound.ReadAllMessages()
	if err != nil {
		log.Error("Session %s: failed to read pending inputs: %v", s.ID, err)
		return
	}
	for _, item := range pending {
		cmd, ok := item.(*inputCommand)
		if !ok {
			log.Error("Session %s: unhandled inbound item type: %T", s.ID, item)
			continue
		}
		s.players[cmd.side].direction = cmd.direction
	}
}

func (s *Session) startRunningLocked() {
	s.status = StatusRunning
	s.lastTick = time.Now()
	s.sched.Register(s.ID, s)
	log.Info("Session %s: running", s.ID)
}

// endLocked finalizes the session: it reports the outcome, releases the
// remaining connections, and stops the run loop. Reporting is dispatched
// through the notifier and never blocks the transition.
func (s *Session) endLocked(winnerID string) {
	s.status = StatusEnded
	s.sched.Deregister(s.ID)

	for _, p := range s.players {
		if p.graceTimer != nil {
			p.graceTimer.Stop()
			p.graceTimer = nil
		}
	}

	s.notifier.SessionFinished(s.ID, winnerID, s.state.Score(sim.SideA), s.state.Score(sim.SideB), s.activeFor)

	for _, p := range s.players {
		if p.conn != nil {
			s.notifier.PresenceChanged(p.id, false)
			p.conn.RequestClose("session ended")
			p.conn = nil
		}
	}

	close(s.done)
	if s.onEnded != nil {
		go s.onEnded(s)
	}
	log.Info("Session %s: ended (winner=%q)", s.ID, winnerID)
}

func (s *Session) sendLocked(side int, msg *messages.Message) {
	p := s.players[side]
	if p.conn == nil {
		return
	}
	if err := p.conn.Send(msg); err != nil {
		log.Error("Session %s: failed to send %s to %s: %v", s.ID, msg.Type, p.id, err)
	}
}

func (s *Session) sendTypeLocked(side int, msgType string) {
	msg, err := messages.New(msgType, nil)
	if err != nil {
		log.Error("Session %s: failed to build %s message: %v", s.ID, msgType, err)
		return
	}
	s.sendLocked(side, msg)
}

func (s *Session) broadcastLocked(msg *messages.Message) {
	for side := range s.players {
		s.sendLocked(side, msg)
	}
}

func (s *Session) broadcastTypeLocked(msgType string) {
	msg, err := messages.New(msgType, nil)
	if err != nil {
		log.Error("Session %s: failed to build %s message: %v", s.ID, msgType, err)
		return
	}
	s.broadcastLocked(msg)
}

func opponentOf(side int) int {
	if side == sim.SideA {
		return sim.SideB
	}
	return sim.SideA
}
