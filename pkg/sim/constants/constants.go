package constants

const (

	// FieldWidth is the width of the playfield
	FieldWidth float64 = 800.0
	// FieldHeight is the height of the playfield
	FieldHeight float64 = 600.0

	// PaddleWidth is the width of a paddle
	PaddleWidth float64 = 12.0
	// PaddleHeight is the height of a paddle
	PaddleHeight float64 = 96.0
	// PaddleSpeed is the speed at which paddles move
	PaddleSpeed float64 = 360.0
	// PaddleMargin is the distance between a paddle and its goal line
	PaddleMargin float64 = 24.0

	// BallSize is the width and height of the ball
	BallSize float64 = 12.0
	// BallSpeed is the horizontal speed of the ball
	BallSpeed float64 = 320.0
	// BallServeVerticalSpeed is the vertical speed of the ball on a serve
	BallServeVerticalSpeed float64 = 120.0
	// BallMaxDeflectSpeed is the maximum vertical speed imparted by a paddle hit
	BallMaxDeflectSpeed float64 = 280.0

	// MaxTickDelta is the largest time step a single tick may apply.
	// Larger elapsed times are clamped to keep the integration stable
	// after scheduling jitter.
	MaxTickDelta float64 = 0.25

	// DefaultWinScore is the score required to win when none is configured
	DefaultWinScore int = 5
)
