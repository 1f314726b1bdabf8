package sim

import "github.com/cbodonnell/rally/pkg/kinematic"

// Snapshot is a serializable view of the simulation state sent to clients.
type Snapshot struct {
	Ball     BallState   `json:"ball"`
	PaddleA  PaddleState `json:"paddleA"`
	PaddleB  PaddleState `json:"paddleB"`
	ScoreA   int         `json:"scoreA"`
	ScoreB   int         `json:"scoreB"`
	WinScore int         `json:"winScore"`
}

type BallState struct {
	Position kinematic.Vector `json:"position"`
	Velocity kinematic.Vector `json:"velocity"`
}

type PaddleState struct {
	Y float64 `json:"y"`
}

// Snapshot returns the current state as a plain value.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Ball: BallState{
			Position: s.ball.position,
			Velocity: s.ball.velocity,
		},
		PaddleA:  PaddleState{Y: s.paddles[SideA].position.Y},
		PaddleB:  PaddleState{Y: s.paddles[SideB].position.Y},
		ScoreA:   s.scores[SideA],
		ScoreB:   s.scores[SideB],
		WinScore: s.winScore,
	}
}
