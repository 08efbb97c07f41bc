package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/payment-engine/services/payment/internal/middleware"
	"example.com/payment-engine/services/payment/internal/push"
)

// defaultHeartbeat — период служебного события SSE, держит соединение через прокси.
const defaultHeartbeat = 25 * time.Second

// NotificationHandler — центр уведомлений и real-time поток.
type NotificationHandler struct {
	notifications NotificationService
	hub           *push.Hub
	heartbeat     time.Duration
}

// NewNotificationHandler создаёт обработчик уведомлений.
func NewNotificationHandler(notifications NotificationService, hub *push.Hub) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, hub: hub, heartbeat: defaultHeartbeat}
}

// ListNotificationsResponse — страница уведомлений.
type ListNotificationsResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	Pagination    PaginationResponse     `json:"pagination"`
}

// List возвращает уведомления пользователя.
// GET /api/v1/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	page := pageFromQuery(c)
	items, total, err := h.notifications.List(c.Request.Context(), middleware.UserID(c), page)
	if err != nil {
		HandleError(c, err, "ListNotifications")
		return
	}
	c.JSON(http.StatusOK, ListNotificationsResponse{
		Notifications: toNotificationResponses(items),
		Pagination:    pagination(page, total),
	})
}

// UnreadCount возвращает число непрочитанных.
// GET /api/v1/notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	n, err := h.notifications.UnreadCount(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		HandleError(c, err, "UnreadCount")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// MarkRead отмечает уведомление прочитанным.
// PUT /api/v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		HandleError(c, err, "MarkNotificationRead")
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllRead отмечает все уведомления прочитанными.
// PUT /api/v1/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.notifications.MarkAllRead(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		HandleError(c, err, "MarkAllNotificationsRead")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// Stream открывает SSE поток push-сообщений пользователя.
// GET /api/v1/notifications/stream
//
// Пока поток открыт, пользователь считается онлайн на этом экземпляре.
func (h *NotificationHandler) Stream(c *gin.Context) {
	sub := h.hub.Subscribe(middleware.UserID(c))
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.SSEvent("connected", gin.H{"userId": sub.UserID})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case msg, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(string(msg.Type), msg)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().Unix())
			return true
		}
	})
}
