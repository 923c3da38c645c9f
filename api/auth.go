package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/rushteam/oralcare/auth"
	"github.com/rushteam/oralcare/core"
)

const oauthStateCookie = "oauth_state"

// requireUser 校验令牌并加载用户，失败时直接写回 401/503
func (s *Server) requireUser(next func(http.ResponseWriter, *http.Request, *core.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.Auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			s.writeError(w, r, err, "Authentication failed")
			return
		}
		next(w, r, u)
	}
}

func decodeBody(r *http.Request, v any) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}

// POST /api/auth/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if !decodeBody(r, &in) {
		writeMessage(w, http.StatusBadRequest, "Request body is required")
		return
	}
	if _, err := s.Auth.Register(r.Context(), in); err != nil {
		s.writeError(w, r, err, "Registration failed")
		return
	}
	writeMessage(w, http.StatusCreated, "Registered successfully")
}

// POST /api/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(r, &in) {
		writeMessage(w, http.StatusBadRequest, "Request body is required")
		return
	}
	token, u, err := s.Auth.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		s.writeError(w, r, err, "Login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": viewOf(u, true)})
}

// GET /api/auth/me
func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, u *core.User) {
	writeJSON(w, http.StatusOK, viewOf(u, false))
}

// PUT /api/auth/update-profile
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, u *core.User) {
	var in auth.ProfileUpdate
	if !decodeBody(r, &in) {
		writeMessage(w, http.StatusBadRequest, "Request body is required")
		return
	}
	updated, err := s.Auth.UpdateProfile(r.Context(), u, in)
	if err != nil {
		s.writeError(w, r, err, "Failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully",
		"user":    viewOf(updated, false),
	})
}

// loginRedirect 跳回前端登录页并附带提示信息
func (s *Server) loginRedirect(w http.ResponseWriter, r *http.Request, msg string) {
	target := s.cfg.FrontendURL + "/login?message=" + url.QueryEscape(msg)
	http.Redirect(w, r, target, http.StatusFound)
}

// GET /api/auth/google
func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if s.Google == nil {
		s.loginRedirect(w, r, "Google sign-in not configured. Add GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET to .env")
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth/google",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.Google.AuthCodeURL(state), http.StatusFound)
}

// GET /api/auth/google/callback
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if s.Google == nil {
		s.loginRedirect(w, r, "Google sign-in not configured")
		return
	}
	q := r.URL.Query()
	if q.Get("error") != "" {
		s.loginRedirect(w, r, "Google sign-in cancelled or failed")
		return
	}
	code := q.Get("code")
	if code == "" {
		s.loginRedirect(w, r, "Missing authorization code")
		return
	}
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") {
		s.loginRedirect(w, r, "Google sign-in cancelled or failed")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/api/auth/google", MaxAge: -1})

	profile, err := s.Google.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Error("google exchange failed", "error", err)
		s.loginRedirect(w, r, "Google token exchange failed")
		return
	}
	token, err := s.Auth.LoginWithGoogle(r.Context(), profile)
	switch {
	case core.IsInvalidInput(err):
		s.loginRedirect(w, r, "Google account has no email")
		return
	case core.IsUnavailable(err):
		s.loginRedirect(w, r, "Database unavailable")
		return
	case err != nil:
		s.logger.Error("google login failed", "error", err)
		s.loginRedirect(w, r, "Google sign-in cancelled or failed")
		return
	}
	http.Redirect(w, r, s.cfg.FrontendURL+"/dashboard#token="+token, http.StatusFound)
}
