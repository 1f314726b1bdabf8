package sessions

type ErrUnknownParticipant struct {
}

func (e *ErrUnknownParticipant) Error() string {
	return "unknown participant"
}

func IsUnknownParticipant(err error) bool {
	_, ok := err.(*ErrUnknownParticipant)
	return ok
}

type ErrSessionEnded struct {
}

func (e *ErrSessionEnded) Error() string {
	return "session already ended"
}

func IsSessionEnded(err error) bool {
	_, ok := err.(*ErrSessionEnded)
	return ok
}

type ErrSlotOccupied struct {
}

func (e *ErrSlotOccupied) Error() string {
	return "participant slot already has a live connection"
}

func IsSlotOccupied(err error) bool {
	_, ok := err.(*ErrSlotOccupied)
	return ok
}

type ErrInvalidInput struct {
}

func (e *ErrInvalidInput) Error() string {
	return "invalid input direction"
}

func IsInvalidInput(err error) bool {
	_, ok := err.(*ErrInvalidInput)
	return ok
}

type ErrDuplicateSession struct {
}

func (e *ErrDuplicateSession) Error() string {
	return "session already exists"
}

func IsDuplicateSession(err error) bool {
	_, ok := err.(*ErrDuplicateSession)
	return ok
}

type ErrParticipantActive struct {
}

func (e *ErrParticipantActive) Error() string {
	return "participant already has an active session"
}

func IsParticipantActive(err error) bool {
	_, ok := err.(*ErrParticipantActive)
	return ok
}
