package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"hui-manager/internal/logger"
	"hui-manager/internal/middleware"
	"hui-manager/internal/model"
	"hui-manager/internal/service"

	"github.com/gin-gonic/gin"
)

const keepAliveInterval = 25 * time.Second

type NotificationHandler struct{ notify *service.NotificationService }

func NewNotificationHandler(notify *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notify: notify}
}

func (h *NotificationHandler) List(c *gin.Context) {
	var f model.NotificationFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		badRequest(c, "invalid query")
		return
	}
	res, err := h.notify.List(c.Request.Context(), c.GetString(middleware.KeyUserID), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	n, err := h.notify.UnreadCount(c.Request.Context(), c.GetString(middleware.KeyUserID))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notify.MarkRead(c.Request.Context(), c.GetString(middleware.KeyUserID), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.notify.MarkAllRead(c.Request.Context(), c.GetString(middleware.KeyUserID))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	if err := h.notify.Delete(c.Request.Context(), c.GetString(middleware.KeyUserID), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sseWriter struct {
	w http.Flusher
	f gin.ResponseWriter
}

func (s *sseWriter) event(name string, data interface{}) {
	j, _ := json.Marshal(data)
	fmt.Fprintf(s.f, "event: %s\ndata: %s\n\n", name, j)
	s.w.Flush()
}

func (s *sseWriter) ping() {
	fmt.Fprint(s.f, ": ping\n\n")
	s.w.Flush()
}

// Stream pushes the caller's new notifications as server-sent events until
// the client goes away.
func (h *NotificationHandler) Stream(c *gin.Context) {
	uid := c.GetString(middleware.KeyUserID)
	ch, cancel := h.notify.Hub().Subscribe(uid)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	sse := &sseWriter{w: c.Writer, f: c.Writer}
	unread, _ := h.notify.UnreadCount(c.Request.Context(), uid)
	sse.event("ready", gin.H{"unread": unread})
	logger.Debug("notification.stream open", "uid", uid)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			logger.Debug("notification.stream closed", "uid", uid)
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			sse.event("notification", n)
		case <-keepAlive.C:
			sse.ping()
		}
	}
}
