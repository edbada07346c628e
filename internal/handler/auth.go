package handler

import (
	"net/http"

	"hui-manager/internal/logger"
	"hui-manager/internal/middleware"
	"hui-manager/internal/model"
	"hui-manager/internal/service"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	auth  *service.AuthService
	users *service.UserService
}

func NewAuthHandler(auth *service.AuthService, users *service.UserService) *AuthHandler {
	return &AuthHandler{auth: auth, users: users}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	u, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		logger.Warn("login.failed", "email", req.Email, "err", err)
		fail(c, err)
		return
	}
	h.issue(c, http.StatusOK, u)
	logger.Info("login.ok", "uid", u.ID, "role", u.Role)
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	u, err := h.auth.Register(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		fail(c, err)
		return
	}
	h.issue(c, http.StatusCreated, u)
	logger.Info("register.ok", "uid", u.ID)
}

func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), c.GetString(middleware.KeyUserID))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req model.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := h.auth.ChangePassword(c.Request.Context(), c.GetString(middleware.KeyUserID), req.OldPassword, req.NewPassword); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) issue(c *gin.Context, status int, u *model.User) {
	token, err := h.auth.IssueToken(u)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(status, model.LoginResponse{Token: token, User: *u})
}
