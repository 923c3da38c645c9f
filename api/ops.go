package api

import (
	"net/http"
)

// GET /
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Backend running"})
}

// GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GET /api/health/models 报告模型加载与远程可达状态，不会触发加载
func (s *Server) handleModelHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.Models.Health(r.Context())})
}

// GET /api/stats/features 返回各临床特征的提供率与分布
func (s *Server) handleFeatureStats(w http.ResponseWriter, _ *http.Request) {
	if s.Monitor == nil {
		writeJSON(w, http.StatusOK, map[string]any{"requests": 0, "features": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": s.Monitor.Requests(),
		"features": s.Monitor.Snapshot(),
	})
}

// GET /api/test-db 检查存储连通性
func (s *Server) handleTestDB(w http.ResponseWriter, r *http.Request) {
	if err := s.Repo.Ping(r.Context()); err != nil {
		s.logger.Error("store ping failed", "backend", s.Repo.Name(), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": "Database not connected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "connected",
		"backend": s.Repo.Name(),
		"message": "Database connection successful",
	})
}
