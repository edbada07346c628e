package handler

import (
	"net/http"

	"hui-manager/internal/middleware"
	"hui-manager/internal/model"
	"hui-manager/internal/service"

	"github.com/gin-gonic/gin"
)

type MemberHandler struct{ members *service.MemberService }

func NewMemberHandler(members *service.MemberService) *MemberHandler {
	return &MemberHandler{members: members}
}

func (h *MemberHandler) List(c *gin.Context) {
	status := model.MemberStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		badRequest(c, "unknown member status")
		return
	}
	items, err := h.members.List(c.Request.Context(), middleware.Actor(c), c.Param("id"), status)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *MemberHandler) Add(c *gin.Context) {
	var req model.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	m, err := h.members.Add(c.Request.Context(), middleware.Actor(c), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *MemberHandler) Update(c *gin.Context) {
	var req model.UpdateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	m, err := h.members.Update(c.Request.Context(), middleware.Actor(c), c.Param("id"), c.Param("memberId"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *MemberHandler) Remove(c *gin.Context) {
	if err := h.members.Remove(c.Request.Context(), middleware.Actor(c), c.Param("id"), c.Param("memberId")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MemberHandler) Reorder(c *gin.Context) {
	var req model.ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	items, err := h.members.Reorder(c.Request.Context(), middleware.Actor(c), c.Param("id"), req.MemberIDs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
