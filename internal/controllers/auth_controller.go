package controllers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/formflowhq/formflow/internal/config"
	"github.com/formflowhq/formflow/internal/core"
	"github.com/formflowhq/formflow/internal/domain"
	"github.com/formflowhq/formflow/internal/models"
	"github.com/formflowhq/formflow/internal/util"
)

// UserRepo is the slice of user persistence the auth layer needs.
type UserRepo interface {
	FindByUsername(username string) (*domain.User, error)
	FindBySessionID(sessionID string, now time.Time) (*domain.User, error)
	FindByApiKey(apiKey string) (*domain.User, error)
	UpdateSession(userID int64, sessionID string, expiry time.Time) error
	ClearSessionBySessionID(sessionID string) error
}

type AuthController struct {
	UserRepo UserRepo
}

func NewAuthController(userRepo UserRepo) *AuthController {
	return &AuthController{UserRepo: userRepo}
}

// RequireAuth accepts either a session cookie or an X-API-Key header and puts
// the authenticated identity on the request context.
func (ac *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 1) Try session cookie
		if c, err := r.Cookie("sessionId"); err == nil && c.Value != "" {
			u, err := ac.UserRepo.FindBySessionID(c.Value, time.Now().UTC())
			if err == nil && u != nil {
				next(w, ac.withIdentity(r, u))
				return
			}
		}
		// 2) Try API key from headers
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" {
			u, err := ac.UserRepo.FindByApiKey(apiKey)
			if err == nil && u != nil {
				next(w, ac.withIdentity(r, u))
				return
			}
		}
		util.WriteJSONError(w, http.StatusUnauthorized, "Unauthorized")
	}
}

func (ac *AuthController) withIdentity(r *http.Request, u *domain.User) *http.Request {
	ctx := context.WithValue(r.Context(), core.CtxKeyUsername, u.Username)
	ctx = context.WithValue(ctx, core.CtxKeyUserID, u.ID)
	return r.WithContext(ctx)
}

func (ac *AuthController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login", ac.handleLogin)
	mux.HandleFunc("POST /api/logout", ac.handleLogout)
}

func (ac *AuthController) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.LoginRequest](r)
	if err != nil || req.Username == "" || req.Password == "" {
		util.WriteJSONError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	u, err := ac.UserRepo.FindByUsername(req.Username)
	if err != nil || u == nil {
		util.WriteJSONError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if u.Enabled.Valid && !u.Enabled.Bool {
		util.WriteJSONError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		util.WriteJSONError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		slog.Error("rand.Read failed", "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}
	sessionID := hex.EncodeToString(buf)
	expiryHours := config.GetSystemSettingInteger(config.WEB_SESSION_EXPIRY_HOURS)
	expires := time.Now().Add(time.Duration(expiryHours) * time.Hour)
	if err := ac.UserRepo.UpdateSession(u.ID, sessionID, expires); err != nil {
		slog.Error("UpdateSession failed", "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "sessionId",
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
	util.WriteJSONResponse(w, http.StatusOK, models.LoginResponse{SessionID: sessionID, Expires: expires})
}

func (ac *AuthController) handleLogout(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie("sessionId")
	if err == nil && c.Value != "" {
		if err := ac.UserRepo.ClearSessionBySessionID(c.Value); err != nil {
			slog.Warn("Failed to clear session during logout", "error", err)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     "sessionId",
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   false,
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// currentUserID pulls the authenticated user's id off the context. Handlers
// behind RequireAuth can rely on it being present.
func currentUserID(r *http.Request) int64 {
	if id, ok := r.Context().Value(core.CtxKeyUserID).(int64); ok {
		return id
	}
	return 0
}
