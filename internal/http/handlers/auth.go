package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/creatus-team/v3/internal/http/binding"
	"github.com/creatus-team/v3/internal/http/middleware"
	"github.com/creatus-team/v3/pkg/logging"
)

// AuthConfig is the single-operator password gate.
type AuthConfig struct {
	PasswordHash string // bcrypt
	JWTSecret    string
	TokenTTL     time.Duration
}

// AuthHandler exchanges the admin password for a console token.
type AuthHandler struct {
	cfg    AuthConfig
	now    func() time.Time
	logger *logging.Logger
}

func NewAuthHandler(cfg AuthConfig, logger *logging.Logger) *AuthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	return &AuthHandler{cfg: cfg, now: time.Now, logger: logger}
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
}

type loginRequest struct {
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PasswordHash == "" || h.cfg.JWTSecret == "" {
		jsonError(w, "admin login disabled", http.StatusServiceUnavailable)
		return
	}
	var req loginRequest
	if err := binding.JSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}

	err := bcrypt.CompareHashAndPassword([]byte(h.cfg.PasswordHash), []byte(req.Password))
	if err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			h.logger.Error("admin password hash unusable", "error", err)
		}
		h.logger.Warn("admin login rejected", "remote_ip", r.RemoteAddr)
		jsonError(w, "비밀번호가 올바르지 않습니다", http.StatusUnauthorized)
		return
	}

	token, expires, err := middleware.IssueAdminToken(h.cfg.JWTSecret, h.cfg.TokenTTL, h.now())
	if err != nil {
		h.logger.Error("issue admin token failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": loginResponse{Token: token, ExpiresAt: expires}})
}
