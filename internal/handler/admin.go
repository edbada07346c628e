package handler

import (
	"net/http"
	"time"

	"hui-manager/internal/logger"
	"hui-manager/internal/middleware"
	"hui-manager/internal/model"
	"hui-manager/internal/service"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	audit     *service.AuditService
	settings  *service.SettingsService
	scheduler *service.Scheduler
}

func NewAdminHandler(audit *service.AuditService, settings *service.SettingsService, scheduler *service.Scheduler) *AdminHandler {
	return &AdminHandler{audit: audit, settings: settings, scheduler: scheduler}
}

func (h *AdminHandler) AuditLogs(c *gin.Context) {
	var f model.AuditFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		badRequest(c, "invalid query")
		return
	}
	res, err := h.audit.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AdminHandler) ListSettings(c *gin.Context) {
	items, err := h.settings.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *AdminHandler) GetSetting(c *gin.Context) {
	st, err := h.settings.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *AdminHandler) PutSetting(c *gin.Context) {
	var req model.SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	st, err := h.settings.Set(c.Request.Context(), middleware.Actor(c), c.Param("key"), req.Value)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *AdminHandler) DeleteSetting(c *gin.Context) {
	if err := h.settings.Delete(c.Request.Context(), middleware.Actor(c), c.Param("key")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Sweep runs the reminder and fine pass now instead of waiting for the
// next tick.
func (h *AdminHandler) Sweep(c *gin.Context) {
	res, err := h.scheduler.RunOnce(c.Request.Context(), time.Now())
	if err != nil {
		fail(c, err)
		return
	}
	logger.Info("admin.sweep", "uid", c.GetString(middleware.KeyUserID), "reminders", res.Reminders, "fines", res.Fines)
	c.JSON(http.StatusOK, res)
}
