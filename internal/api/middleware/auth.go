package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Роли токена
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

type contextKey string

const claimsKey contextKey = "claims"

// ErrInvalidToken - токен отсутствует, поврежден или истек
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims - содержимое JWT токена API
type Claims struct {
	UserID int64  `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth выпускает и проверяет HS256 токены
type JWTAuth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTAuth создает аутентификатор с секретом подписи и временем жизни токена
func NewJWTAuth(secret string, ttl time.Duration) *JWTAuth {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &JWTAuth{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue выпускает токен пользователя
func (a *JWTAuth) Issue(userID int64, role string) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Parse проверяет подпись, алгоритм и срок действия токена
func (a *JWTAuth) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Auth - middleware проверки Bearer токена.
// Claims кладутся в context запроса.
func (a *JWTAuth) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Извлекаем токен из заголовка Authorization: Bearer <token>
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "missing or malformed Authorization header")
			return
		}

		// 2. Валидируем подпись и срок действия
		claims, err := a.Parse(parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", ErrInvalidToken.Error())
			return
		}

		// 3. Передаем claims дальше
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireRole пропускает только запросы с указанной ролью (после Auth)
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
				return
			}
			if claims.Role != role {
				writeError(w, http.StatusForbidden, "forbidden", role+" role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims кладет claims в context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFrom извлекает claims из context
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil
}

// UserIDFrom возвращает пользователя запроса
func UserIDFrom(ctx context.Context) (int64, bool) {
	claims, ok := ClaimsFrom(ctx)
	if !ok {
		return 0, false
	}
	return claims.UserID, true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
