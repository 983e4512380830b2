package httpserver

import (
	"net/http"

	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/service"
)

type deletionBody struct {
	UserEmail   string `json:"userEmail"`
	UserID      string `json:"userId"`
	Provider    string `json:"provider"`
	RequestedAt string `json:"requestedAt"`
}

type deletionAccepted struct {
	Success             bool   `json:"success"`
	Message             string `json:"message"`
	RequestID           string `json:"requestId"`
	ProcessingTimeframe string `json:"processingTimeframe"`
	Status              string `json:"status"`
}

// dataDeletion records a signed-in user's request to have their data purged.
// Missing body fields fall back to the session.
func (s *Server) dataDeletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
		return
	}
	c, ok := SessionFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized - User must be logged in"})
		return
	}

	var in deletionBody
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
			return
		}
	}
	if in.UserEmail == "" {
		in.UserEmail = c.Email
	}
	if in.UserID == "" {
		in.UserID = c.Subject
	}
	if in.Provider == "" {
		in.Provider = c.Provider
	}
	if in.Provider == "" {
		in.Provider = "unknown"
	}
	if in.UserEmail == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "User email is required"})
		return
	}

	req, err := s.Deletions.Submit(r.Context(), service.DeletionInput{
		UserEmail:   in.UserEmail,
		UserID:      in.UserID,
		Provider:    in.Provider,
		RequestedAt: in.RequestedAt,
		IP:          clientIP(r, s.TrustedProxies),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletionAccepted{
		Success:             true,
		Message:             "Data deletion request received",
		RequestID:           req.RequestID,
		ProcessingTimeframe: service.ProcessingTimeframe,
		Status:              model.DeletionPending,
	})
}
