package handler

import (
	"net/http"
	"time"

	"hui-manager/internal/metrics"
	"hui-manager/internal/middleware"
	"hui-manager/internal/model"
	"hui-manager/internal/service"

	"github.com/gin-gonic/gin"
)

// Register mounts the whole HTTP API on r.
func Register(r *gin.Engine, svc *service.Services, renewWindow time.Duration) {
	authH := NewAuthHandler(svc.Auth, svc.Users)
	userH := NewUserHandler(svc.Users)
	groupH := NewGroupHandler(svc.Groups, svc.Cycles, svc.Reports)
	memberH := NewMemberHandler(svc.Members)
	importH := NewImportHandler(svc.Members)
	paymentH := NewPaymentHandler(svc.Payments)
	notifyH := NewNotificationHandler(svc.Notifications)
	adminH := NewAdminHandler(svc.Audit, svc.Settings, svc.Scheduler)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.POST("/api/login", authH.Login)
	r.POST("/api/register", authH.Register)

	admin := middleware.RequireRole(model.RoleAdmin)
	staff := middleware.RequireRole(model.RoleAdmin, model.RoleManager)

	api := r.Group("/api", middleware.JWTAuth(svc.Auth, renewWindow))
	api.GET("/me", authH.Me)
	api.PUT("/me/password", authH.ChangePassword)

	users := api.Group("/users", admin)
	users.GET("", userH.List)
	users.POST("", userH.Create)
	users.GET("/stats", userH.Stats)
	users.GET("/:id", userH.Get)
	users.PUT("/:id", userH.Update)
	users.DELETE("/:id", userH.Delete)

	groups := api.Group("/groups")
	groups.GET("", groupH.List)
	groups.POST("", staff, groupH.Create)
	groups.GET("/:id", groupH.Get)
	groups.PUT("/:id", groupH.Update)
	groups.DELETE("/:id", groupH.Delete)
	groups.POST("/:id/status", groupH.SetStatus)
	groups.GET("/:id/summary", groupH.Summary)
	groups.GET("/:id/schedule", groupH.Schedule)
	groups.GET("/:id/cycles/:cycle/recipient", groupH.Recipient)
	groups.POST("/:id/cycles/advance", groupH.Advance)
	groups.GET("/:id/export", staff, groupH.Export)

	groups.GET("/:id/members", memberH.List)
	groups.POST("/:id/members", memberH.Add)
	groups.POST("/:id/members/reorder", memberH.Reorder)
	groups.POST("/:id/members/import/preview", staff, importH.Preview)
	groups.POST("/:id/members/import/confirm", staff, importH.Confirm)
	groups.PUT("/:id/members/:memberId", memberH.Update)
	groups.DELETE("/:id/members/:memberId", memberH.Remove)

	payments := api.Group("/payments")
	payments.GET("", paymentH.List)
	payments.POST("", paymentH.Create)
	payments.GET("/aggregate", paymentH.Aggregate)
	payments.GET("/overdue", paymentH.Overdue)
	payments.GET("/:id", paymentH.Get)
	payments.GET("/:id/history", paymentH.History)
	payments.POST("/:id/submit", paymentH.Submit)
	payments.POST("/:id/verify", paymentH.Verify)
	payments.POST("/:id/cancel", paymentH.Cancel)

	notes := api.Group("/notifications")
	notes.GET("", notifyH.List)
	notes.GET("/unread-count", notifyH.UnreadCount)
	notes.GET("/stream", notifyH.Stream)
	notes.POST("/read-all", notifyH.MarkAllRead)
	notes.POST("/:id/read", notifyH.MarkRead)
	notes.DELETE("/:id", notifyH.Delete)

	api.GET("/audit-logs", admin, adminH.AuditLogs)
	api.GET("/settings", adminH.ListSettings)
	api.GET("/settings/:key", adminH.GetSetting)
	api.PUT("/settings/:key", admin, adminH.PutSetting)
	api.DELETE("/settings/:key", admin, adminH.DeleteSetting)
	api.POST("/admin/sweep", admin, adminH.Sweep)
}
