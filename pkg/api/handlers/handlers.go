package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cbodonnell/rally/pkg/log"
	"github.com/cbodonnell/rally/pkg/sessions"
	"github.com/cbodonnell/rally/pkg/sim"
	"github.com/gorilla/mux"
)

// CreateSessionRequest is the orchestrator's request to start a session.
type CreateSessionRequest struct {
	SessionID    string `json:"sessionId"`
	ParticipantA string `json:"participantA"`
	ParticipantB string `json:"participantB"`
	WinScore     int    `json:"winScore"`
}

// SessionResponse is the API view of a session.
type SessionResponse struct {
	SessionID    string          `json:"sessionId"`
	ParticipantA string          `json:"participantA"`
	ParticipantB string          `json:"participantB"`
	Status       sessions.Status `json:"status"`
	State        sim.Snapshot    `json:"state"`
}

func sessionResponse(s *sessions.Session) *SessionResponse {
	participants := s.Participants()
	return &SessionResponse{
		SessionID:    s.ID,
		ParticipantA: participants[sim.SideA],
		ParticipantB: participants[sim.SideB],
		Status:       s.Status(),
		State:        s.StateSnapshot(),
	}
}

func HandleCreateSession(registry *sessions.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &CreateSessionRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, "Failed to decode request body", http.StatusBadRequest)
			return
		}

		session, err := registry.Create(sessions.CreateSessionOptions{
			SessionID:    req.SessionID,
			ParticipantA: req.ParticipantA,
			ParticipantB: req.ParticipantB,
			WinScore:     req.WinScore,
		})
		if err != nil {
			if sessions.IsDuplicateSession(err) || sessions.IsParticipantActive(err) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(sessionResponse(session)); err != nil {
			log.Error("failed to encode session: %v", err)
		}
	}
}

func HandleGetSession(registry *sessions.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["sessionID"]
		session, ok := registry.Lookup(sessionID)
		if !ok {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sessionResponse(session)); err != nil {
			log.Error("failed to encode session: %v", err)
		}
	}
}

func HandleForceEndSession(registry *sessions.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["sessionID"]
		session, ok := registry.Lookup(sessionID)
		if !ok {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}

		session.ForceEnd(sessions.EndReasonAborted)
		w.WriteHeader(http.StatusNoContent)
	}
}
