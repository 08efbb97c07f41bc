package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"example.com/payment-engine/pkg/logger"
)

// Recovery перехватывает панику обработчика, логирует stack trace и отвечает 500.
// Детали паники клиенту не раскрываются.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			// Клиент закрыл соединение — ответ писать некуда.
			if r == http.ErrAbortHandler {
				panic(r)
			}

			log := logger.FromContext(c.Request.Context())
			log.Error().
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Перехвачена паника в HTTP обработчике")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Внутренняя ошибка сервера",
			})
		}()

		c.Next()
	}
}
