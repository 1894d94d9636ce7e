package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/revtrack/internal/auth"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/service"
)

// AuthHandler manages password signup/login and the session cookie.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignup → create the account, issue a session
//   - HandleLogin  → check credentials, issue a session
//   - HandleLogout → clear the session cookie
//   - HandleMe     → return the current user
//
// The session JWT is returned both in the body (for API clients using
// "Authorization: Bearer") and as an HttpOnly cookie (for the browser app).
type AuthHandler struct {
	auth   *service.AuthService
	secure bool
	logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, secure: secureCookies, logger: logger}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expiresIn"`
}

// HandleSignup handles POST /auth/signup.
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.auth.Signup(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.startSession(w, http.StatusCreated, result)
}

// HandleLogin handles POST /auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.startSession(w, http.StatusOK, result)
}

// HandleLogout handles POST /auth/logout.
//
// Sessions are stateless JWTs, so logging out only removes the cookie.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe handles GET /api/me.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.auth.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, status int, result *service.AuthResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(result.ExpiresIn / time.Second),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, sessionResponse{
		User:      result.User,
		Token:     result.Token,
		ExpiresIn: int64(result.ExpiresIn / time.Second),
	})
}
