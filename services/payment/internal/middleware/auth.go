// Package middleware содержит HTTP middleware движка платежей.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/payment-engine/pkg/jwt"
	"example.com/payment-engine/pkg/logger"
)

// Ключи gin.Context.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// accessTokenQuery — параметр с токеном для EventSource (браузер не передаёт заголовки).
const accessTokenQuery = "access_token"

// TokenValidator — проверка токена. Реализуется *jwt.Validator.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*jwt.Claims, error)
}

// AuthMiddleware — middleware для проверки JWT токенов.
// Подпись, срок действия и отзыв проверяются локально публичным ключом.
type AuthMiddleware struct {
	validator TokenValidator
	adminRole string
}

// NewAuthMiddleware создаёт новый middleware для аутентификации.
func NewAuthMiddleware(validator TokenValidator, adminRole string) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, adminRole: adminRole}
}

// Handle возвращает Gin handler function для middleware.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		token := ExtractBearerToken(c)
		if token == "" {
			token = c.Query(accessTokenQuery)
		}
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка валидации токена")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Невалидный токен",
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)

		// user_id во всех логах запроса
		ctx = logger.WithLogger(ctx, log.With().Str("user_id", claims.UserID).Logger())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireAdmin пропускает только администраторов. Ставится после Handle.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c, m.adminRole) {
			log := logger.FromContext(c.Request.Context())
			log.Warn().
				Str("path", c.Request.URL.Path).
				Msg("Доступ к административному маршруту запрещён")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Недостаточно прав",
			})
			return
		}
		c.Next()
	}
}

// UserID возвращает ID аутентифицированного пользователя.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// IsAdmin проверяет роль пользователя.
func IsAdmin(c *gin.Context, adminRole string) bool {
	return adminRole != "" && strings.EqualFold(c.GetString(ContextRole), adminRole)
}

// ExtractBearerToken извлекает токен из Authorization header.
// Формат: "Bearer <token>", префикс без учёта регистра.
func ExtractBearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
