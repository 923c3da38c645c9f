package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rushteam/oralcare/core"
)

// GET /api/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, u *core.User) {
	records, err := s.Repo.ListRecords(r.Context(), u.ID, s.cfg.HistoryLimit)
	if err != nil {
		s.writeError(w, r, err, "Failed to fetch history")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GET /api/history/{id}
func (s *Server) handleHistoryRecord(w http.ResponseWriter, r *http.Request, u *core.User) {
	rec, err := s.Repo.GetRecord(r.Context(), u.ID, mux.Vars(r)["id"])
	if err != nil {
		if core.IsNotFound(err) {
			writeMessage(w, http.StatusNotFound, "Record not found")
			return
		}
		s.writeError(w, r, err, "Failed to fetch history")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
