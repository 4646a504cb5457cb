package handlers

import (
	"net/http"
	"time"

	"tradeguard/internal/api/middleware"
	"tradeguard/pkg/crypto"
)

// adminUserID - единственный пользователь API
const adminUserID int64 = 1

// TokenIssuer выпускает токены API
type TokenIssuer interface {
	Issue(userID int64, role string) (string, time.Time, error)
}

// LoginRequest - тело POST /auth/login
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse - выданный токен
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

// AuthHandler - вход администратора по паролю (bcrypt хэш из конфигурации)
type AuthHandler struct {
	passwordHash string
	tokens       TokenIssuer
}

// NewAuthHandler создает AuthHandler; пустой хэш отключает вход
func NewAuthHandler(passwordHash string, tokens TokenIssuer) *AuthHandler {
	return &AuthHandler{passwordHash: passwordHash, tokens: tokens}
}

// Login проверяет пароль и выдает JWT
// POST /api/v1/auth/login
//
// Ответы:
// - 200 OK: {token, expires_at, role}
// - 400 Bad Request: некорректное тело
// - 401 Unauthorized: неверный пароль
// - 503 Service Unavailable: вход не настроен
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.passwordHash == "" {
		respondWithError(w, http.StatusServiceUnavailable, "login_disabled", "Login is not configured", "set ADMIN_PASSWORD_HASH")
		return
	}

	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := crypto.VerifyPassword(req.Password, h.passwordHash); err != nil {
		respondWithError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid password", "")
		return
	}

	token, expiresAt, err := h.tokens.Issue(adminUserID, middleware.RoleAdmin)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to issue token", "")
		return
	}

	respondWithJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt, Role: middleware.RoleAdmin})
}
