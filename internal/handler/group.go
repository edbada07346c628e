package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"hui-manager/internal/logger"
	"hui-manager/internal/middleware"
	"hui-manager/internal/model"
	"hui-manager/internal/service"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type GroupHandler struct {
	groups  *service.GroupService
	cycles  *service.CycleService
	reports *service.ReportService
}

func NewGroupHandler(groups *service.GroupService, cycles *service.CycleService, reports *service.ReportService) *GroupHandler {
	return &GroupHandler{groups: groups, cycles: cycles, reports: reports}
}

func (h *GroupHandler) List(c *gin.Context) {
	var f model.GroupFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		badRequest(c, "invalid query")
		return
	}
	res, err := h.groups.List(c.Request.Context(), middleware.Actor(c), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *GroupHandler) Create(c *gin.Context) {
	var req model.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	g, err := h.groups.Create(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	logger.Info("group.created", "id", g.ID, "manager", g.ManagerID)
	c.JSON(http.StatusCreated, g)
}

func (h *GroupHandler) Get(c *gin.Context) {
	g, err := h.groups.Get(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) Update(c *gin.Context) {
	var req model.UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	g, err := h.groups.Update(c.Request.Context(), middleware.Actor(c), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) SetStatus(c *gin.Context) {
	var req model.GroupStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	g, err := h.groups.SetStatus(c.Request.Context(), middleware.Actor(c), c.Param("id"), req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) Delete(c *gin.Context) {
	if err := h.groups.Delete(c.Request.Context(), middleware.Actor(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) Summary(c *gin.Context) {
	sum, err := h.groups.Summary(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *GroupHandler) Schedule(c *gin.Context) {
	entries, err := h.cycles.Schedule(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

func (h *GroupHandler) Recipient(c *gin.Context) {
	cycle, err := strconv.Atoi(c.Param("cycle"))
	if err != nil {
		badRequest(c, "cycle must be a number")
		return
	}
	m, err := h.cycles.Recipient(c.Request.Context(), middleware.Actor(c), c.Param("id"), cycle)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *GroupHandler) Advance(c *gin.Context) {
	res, err := h.cycles.Advance(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Export streams the group ledger as an xlsx download.
func (h *GroupHandler) Export(c *gin.Context) {
	id := c.Param("id")
	data, err := h.reports.ExportGroupLedger(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="group-%s.xlsx"`, id))
	c.Data(http.StatusOK, xlsxContentType, data)
}
