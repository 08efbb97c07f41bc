package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payment-engine/services/payment/internal/domain"
)

func TestHandleError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
		expectedMsg    string
	}{
		{
			name:           "Валидация",
			err:            domain.Validation("op", "orderId обязателен"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "validation_error",
			expectedMsg:    "orderId обязателен",
		},
		{
			name:           "Подпись",
			err:            domain.E(domain.KindAuthentication, "op", domain.ErrInvalidSignature),
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "authentication_error",
		},
		{
			name:           "Не найден",
			err:            fmt.Errorf("lookup: %w", domain.ErrPaymentNotFound),
			expectedStatus: http.StatusNotFound,
			expectedCode:   "not_found",
		},
		{
			name:           "Конфликт",
			err:            domain.E(domain.KindConflict, "op", domain.ErrOrderAlreadyPaid),
			expectedStatus: http.StatusConflict,
			expectedCode:   "conflict",
			expectedMsg:    domain.ErrOrderAlreadyPaid.Error(),
		},
		{
			name:           "Шлюз",
			err:            domain.E(domain.KindUpstream, "op", domain.ErrGatewayUnavailable),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   "upstream_error",
		},
		{
			name:           "Ошибка хранилища",
			err:            errors.New("connection reset"),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   "upstream_error",
		},
		{
			name:           "nil",
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			HandleError(c, tt.err, "Test")

			assert.Equal(t, tt.expectedStatus, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedCode, resp.Error)
			if tt.expectedMsg != "" {
				assert.Equal(t, tt.expectedMsg, resp.Message)
			}
		})
	}
}

func TestCallbackMessage(t *testing.T) {
	assert.Equal(t, "Invalid signature", callbackMessage(domain.E(domain.KindAuthentication, "op", domain.ErrInvalidSignature)))
	assert.Equal(t, "Payment not found", callbackMessage(domain.ErrPaymentNotFound))
	assert.Equal(t, "Invalid amount", callbackMessage(domain.ErrAmountMismatch))
	assert.Equal(t, "Payment already finalized", callbackMessage(domain.ErrInvalidTransition))
	assert.Equal(t, "Processing error", callbackMessage(errors.New("db down")))
}
