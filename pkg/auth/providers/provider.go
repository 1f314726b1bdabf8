package providers

import "context"

// AuthProvider verifies connection tokens issued by the orchestrator.
// Identity management itself lives outside this service; tokens arriving here
// are already bound to a participant by whoever signed them.
type AuthProvider interface {
	VerifyToken(ctx context.Context, token string) (*TokenClaims, error)
}

type TokenClaims struct {
	ParticipantID string `json:"participantId"`
}
