package handler

import (
	"context"
	"net/http"
	"time"

	"hui-manager/internal/middleware"
	"hui-manager/internal/model"
	"hui-manager/internal/service"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct{ payments *service.PaymentService }

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

func (h *PaymentHandler) List(c *gin.Context) {
	var f model.PaymentFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		badRequest(c, "invalid query")
		return
	}
	res, err := h.payments.List(c.Request.Context(), middleware.Actor(c), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PaymentHandler) Create(c *gin.Context) {
	var req model.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	p, err := h.payments.Create(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *PaymentHandler) Get(c *gin.Context) {
	p, err := h.payments.Get(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PaymentHandler) History(c *gin.Context) {
	items, err := h.payments.History(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *PaymentHandler) Submit(c *gin.Context) { h.action(c, h.payments.Submit) }
func (h *PaymentHandler) Verify(c *gin.Context) { h.action(c, h.payments.Verify) }
func (h *PaymentHandler) Cancel(c *gin.Context) { h.action(c, h.payments.Cancel) }

type paymentAction func(context.Context, service.Actor, string, model.PaymentActionRequest) (*model.Payment, error)

func (h *PaymentHandler) action(c *gin.Context, do paymentAction) {
	var req model.PaymentActionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}
	p, err := do(c.Request.Context(), middleware.Actor(c), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PaymentHandler) Aggregate(c *gin.Context) {
	var f model.PaymentFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		badRequest(c, "invalid query")
		return
	}
	items, err := h.payments.Aggregate(c.Request.Context(), middleware.Actor(c), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *PaymentHandler) Overdue(c *gin.Context) {
	items, err := h.payments.Overdue(c.Request.Context(), middleware.Actor(c), time.Now(), c.Query("group_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
