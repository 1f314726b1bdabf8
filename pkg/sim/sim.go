package sim

import (
	"github.com/cbodonnell/rally/pkg/kinematic"
	"github.com/cbodonnell/rally/pkg/sim/constants"
	"github.com/solarlune/resolv"
)

const (
	// SideA is the index of the left-hand participant.
	SideA = 0
	// SideB is the index of the right-hand participant.
	SideB = 1
)

// Collision space tags
const (
	CollisionSpaceTagPaddle = "paddle"
	CollisionSpaceTagBall   = "ball"
)

// Direction is a paddle movement direction.
type Direction int

const (
	DirectionNegative Direction = -1
	DirectionNone     Direction = 0
	DirectionPositive Direction = 1
)

// IsValidDirection reports whether d is one of the three permitted directions.
func IsValidDirection(d int) bool {
	return d == int(DirectionNegative) || d == int(DirectionNone) || d == int(DirectionPositive)
}

// Inputs holds the latest known movement direction per side.
type Inputs struct {
	A Direction
	B Direction
}

func (in Inputs) bySide(side int) Direction {
	if side == SideA {
		return in.A
	}
	return in.B
}

type ball struct {
	position kinematic.Vector
	velocity kinematic.Vector
	object   *resolv.Object
}

type paddle struct {
	position kinematic.Vector
	object   *resolv.Object
}

// State is the authoritative simulation state for one contest.
// It performs no I/O and is deterministic for identical (dt, inputs) sequences.
type State struct {
	space     *resolv.Space
	ball      ball
	paddles   [2]paddle
	scores    [2]int
	winScore  int
	concluded bool
	winner    int
}

// NewState creates a simulation with the ball served from center toward side B.
func NewState(winScore int) *State {
	if winScore <= 0 {
		winScore = constants.DefaultWinScore
	}

	s := &State{
		space:    resolv.NewSpace(int(constants.FieldWidth), int(constants.FieldHeight), 16, 16),
		winScore: winScore,
	}

	paddleY := (constants.FieldHeight - constants.PaddleHeight) / 2
	paddleXs := [2]float64{
		constants.PaddleMargin,
		constants.FieldWidth - constants.PaddleMargin - constants.PaddleWidth,
	}
	for side, x := range paddleXs {
		s.paddles[side] = paddle{
			position: kinematic.Vector{X: x, Y: paddleY},
			object:   resolv.NewObject(x, paddleY, constants.PaddleWidth, constants.PaddleHeight, CollisionSpaceTagPaddle),
		}
		s.space.Add(s.paddles[side].object)
	}

	s.ball = ball{
		object: resolv.NewObject(0, 0, constants.BallSize, constants.BallSize, CollisionSpaceTagBall),
	}
	s.space.Add(s.ball.object)
	s.serve(SideB)

	return s
}

// serve recenters the ball heading toward the given side. The vertical
// component alternates sign with the total points played so consecutive
// serves are not identical, without any randomness.
func (s *State) serve(toward int) {
	s.ball.position = kinematic.Vector{
		X: (constants.FieldWidth - constants.BallSize) / 2,
		Y: (constants.FieldHeight - constants.BallSize) / 2,
	}

	vx := constants.BallSpeed
	if toward == SideA {
		vx = -vx
	}
	vy := constants.BallServeVerticalSpeed
	if (s.scores[SideA]+s.scores[SideB])%2 == 1 {
		vy = -vy
	}
	s.ball.velocity = kinematic.Vector{X: vx, Y: vy}

	s.ball.object.Position.X = s.ball.position.X
	s.ball.object.Position.Y = s.ball.position.Y
	s.ball.object.Update()
}

// Advance applies one tick of elapsed time. A concluded simulation does not change.
func (s *State) Advance(dt float64, inputs Inputs) {
	if s.concluded {
		return
	}
	if dt <= 0 {
		return
	}
	if dt > constants.MaxTickDelta {
		dt = constants.MaxTickDelta
	}

	for side := range s.paddles {
		s.advancePaddle(side, dt, inputs.bySide(side))
	}
	s.advanceBall(dt)
}

func (s *State) advancePaddle(side int, dt float64, dir Direction) {
	p := &s.paddles[side]

	dy := kinematic.Displacement(float64(dir)*constants.PaddleSpeed, dt, 0)
	y := p.position.Y + dy

	// Player input cannot push a paddle out of bounds
	if y < 0 {
		y = 0
	}
	if y > constants.FieldHeight-constants.PaddleHeight {
		y = constants.FieldHeight - constants.PaddleHeight
	}

	p.position.Y = y
	p.object.Position.Y = y
	p.object.Update()
}

func (s *State) advanceBall(dt float64) {
	b := &s.ball

	dx := kinematic.Displacement(b.velocity.X, dt, 0)
	dy := kinematic.Displacement(b.velocity.Y, dt, 0)

	// Check for paddle collisions
	if collision := b.object.Check(dx, 0, CollisionSpaceTagPaddle); collision != nil {
		obj := collision.Objects[0]
		approaching := (b.velocity.X < 0 && obj.Position.X < b.object.Position.X) ||
			(b.velocity.X > 0 && obj.Position.X > b.object.Position.X)
		if approaching {
			dx = collision.ContactWithObject(obj).X
			b.velocity.X = -b.velocity.X
			// Contact offset from the paddle center deflects the ball vertically
			ballCenter := b.position.Y + dy + constants.BallSize/2
			paddleCenter := obj.Position.Y + constants.PaddleHeight/2
			offset := (ballCenter - paddleCenter) / (constants.PaddleHeight / 2)
			if offset > 1 {
				offset = 1
			}
			if offset < -1 {
				offset = -1
			}
			b.velocity.Y = offset * constants.BallMaxDeflectSpeed
		}
	}

	x := b.position.X + dx
	y := b.position.Y + dy

	// Vertical walls reflect: angle of incidence equals angle of reflection
	maxY := constants.FieldHeight - constants.BallSize
	if y < 0 {
		y = -y
		b.velocity.Y = -b.velocity.Y
	}
	if y > maxY {
		y = 2*maxY - y
		b.velocity.Y = -b.velocity.Y
	}

	b.position.X = x
	b.position.Y = y
	b.object.Position.X = x
	b.object.Position.Y = y
	b.object.Update()

	// The walls behind the paddles are goal lines
	if x+constants.BallSize < 0 {
		s.scorePoint(SideB)
	} else if x > constants.FieldWidth {
		s.scorePoint(SideA)
	}
}

func (s *State) scorePoint(side int) {
	s.scores[side]++
	if s.scores[side] >= s.winScore {
		s.concluded = true
		s.winner = side
		return
	}
	// Serve toward the side that conceded the point
	conceded := SideA
	if side == SideA {
		conceded = SideB
	}
	s.serve(conceded)
}

// Concluded reports whether either side has reached the win threshold.
func (s *State) Concluded() bool {
	return s.concluded
}

// Winner returns the winning side. Only meaningful once Concluded is true.
func (s *State) Winner() int {
	return s.winner
}

// Score returns the score for the given side.
func (s *State) Score(side int) int {
	return s.scores[side]
}

// WinScore returns the configured win threshold.
func (s *State) WinScore() int {
	return s.winScore
}
