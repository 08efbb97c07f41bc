// Package handler содержит HTTP обработчики REST API движка платежей.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/services/payment/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleError преобразует ошибку сервиса в HTTP ответ по её классу.
func HandleError(c *gin.Context, err error, method string) {
	if err == nil {
		logger.Error().Str("method", method).Msg("HandleError вызван с nil ошибкой")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	log := logger.FromContext(c.Request.Context())

	var (
		httpStatus int
		code       string
		message    = publicMessage(err)
	)

	switch domain.KindOf(err) {
	case domain.KindValidation:
		httpStatus, code = http.StatusBadRequest, "validation_error"
	case domain.KindAuthentication:
		httpStatus, code = http.StatusUnauthorized, "authentication_error"
		message = "Проверка подписи не пройдена"
	case domain.KindNotFound:
		httpStatus, code = http.StatusNotFound, "not_found"
	case domain.KindConflict:
		httpStatus, code = http.StatusConflict, "conflict"
	case domain.KindUpstream:
		httpStatus, code = http.StatusBadGateway, "upstream_error"
		message = "Платёжный сервис временно недоступен, повторите попытку"
		log.Error().Err(err).Str("method", method).Msg("Ошибка внешней зависимости")
	default:
		httpStatus, code = http.StatusInternalServerError, "internal_error"
		message = "Внутренняя ошибка сервера"
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
	}

	c.JSON(httpStatus, ErrorResponse{Error: code, Message: message})
}

// publicMessage возвращает текст причины без обёртки операции.
func publicMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) && de.Err != nil {
		return de.Err.Error()
	}
	return err.Error()
}

// badRequest отвечает 400 на невалидный запрос.
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: message})
}
