package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

var _ AuthProvider = &HMACAuthProvider{}

// HMACAuthProvider verifies tokens of the form "<participantID>.<signature>"
// where the signature is a hex-encoded HMAC-SHA256 of the participant ID under
// a secret shared with the orchestrator.
type HMACAuthProvider struct {
	secret []byte
}

// NewHMACAuthProvider creates a new HMACAuthProvider.
func NewHMACAuthProvider(secret string) (*HMACAuthProvider, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret must not be empty")
	}
	return &HMACAuthProvider{
		secret: []byte(secret),
	}, nil
}

// SignToken produces a token for the given participant. Used by tests and by
// deployments where the orchestrator shares this package.
func (p *HMACAuthProvider) SignToken(participantID string) string {
	return participantID + "." + p.signature(participantID)
}

func (p *HMACAuthProvider) VerifyToken(_ context.Context, token string) (*TokenClaims, error) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 || idx == len(token)-1 {
		return nil, fmt.Errorf("malformed token")
	}
	participantID := token[:idx]
	signature := token[idx+1:]

	if !hmac.Equal([]byte(signature), []byte(p.signature(participantID))) {
		return nil, fmt.Errorf("invalid token signature")
	}

	return &TokenClaims{
		ParticipantID: participantID,
	}, nil
}

func (p *HMACAuthProvider) signature(participantID string) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(participantID))
	return hex.EncodeToString(mac.Sum(nil))
}
