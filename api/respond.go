package api

import (
	"encoding/json"
	"net/http"

	"github.com/rushteam/oralcare/core"
)

const msgDatabaseUnavailable = "Database unavailable. Try again later."

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// statusOf 按错误码映射 HTTP 状态
func statusOf(err error) int {
	de := core.GetDomainError(err)
	if de == nil {
		return http.StatusInternalServerError
	}
	switch de.Code {
	case core.ErrorCodeInvalidInput:
		return http.StatusBadRequest
	case core.ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case core.ErrorCodeNotFound:
		return http.StatusNotFound
	case core.ErrorCodeConflict:
		return http.StatusConflict
	case core.ErrorCodeUnavailable:
		if de.Module == core.ModuleStore {
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// writeError 输出 {"message": ...}。5xx 只返回 fallback，细节写日志。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := statusOf(err)
	msg := fallback
	switch {
	case status == http.StatusServiceUnavailable:
		msg = msgDatabaseUnavailable
	case status < http.StatusInternalServerError:
		msg = core.GetDomainError(err).Message
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeMessage(w, status, msg)
}

// userView 是对外暴露的用户字段
type userView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Role          string `json:"role,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

func viewOf(u *core.User, withRole bool) userView {
	v := userView{ID: u.ID, Name: u.Name, Email: u.Email, EmailVerified: u.EmailVerified}
	if withRole {
		v.Role = u.Role
		if v.Role == "" {
			v.Role = "user"
		}
	}
	return v
}
