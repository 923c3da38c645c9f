package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rushteam/oralcare/chat"
	"github.com/rushteam/oralcare/core"
)

// POST /api/ursol/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Message string `json:"message"`
	}
	if !decodeBody(r, &in) {
		writeMessage(w, http.StatusBadRequest, "Request body is required")
		return
	}
	writeJSON(w, http.StatusOK, s.Assistant.Reply(r.Context(), in.Message))
}

// POST /api/ursol/feedback
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Feedback string `json:"feedback"`
		Rating   *int   `json:"rating"`
	}
	if !decodeBody(r, &in) || strings.TrimSpace(in.Feedback) == "" {
		writeErrorField(w, http.StatusBadRequest, "Feedback content required")
		return
	}
	f := &core.Feedback{
		Content:   in.Feedback,
		Rating:    in.Rating,
		Source:    chat.FeedbackSource,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Repo.InsertFeedback(r.Context(), f); err != nil {
		if core.IsUnavailable(err) {
			writeErrorField(w, http.StatusServiceUnavailable, "Database offline")
			return
		}
		s.logger.Error("save feedback failed", "error", err)
		writeErrorField(w, http.StatusInternalServerError, "Failed to save feedback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Feedback securely archived. UrSol is learning from your input.",
	})
}
