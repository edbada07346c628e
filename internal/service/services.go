package service

import (
	"time"

	"gorm.io/gorm"
)

// Options carries the settings services need from configuration.
type Options struct {
	JWTSecret      string
	TokenTTL       time.Duration
	WebhookURL     string
	WebhookTimeout time.Duration
	Scheduler      SchedulerOptions
}

// Services is the full set of services sharing one database handle.
type Services struct {
	Auth          *AuthService
	Users         *UserService
	Groups        *GroupService
	Members       *MemberService
	Cycles        *CycleService
	Payments      *PaymentService
	Notifications *NotificationService
	Audit         *AuditService
	Settings      *SettingsService
	Reports       *ReportService
	Scheduler     *Scheduler
}

func New(db *gorm.DB, opts Options) *Services {
	audit := NewAuditService(db)
	notify := NewNotificationService(db, NewHub(), NewWebhook(opts.WebhookURL, opts.WebhookTimeout))
	settings := NewSettingsService(db, audit)
	return &Services{
		Auth:          NewAuthService(db, audit, opts.JWTSecret, opts.TokenTTL),
		Users:         NewUserService(db, audit),
		Groups:        NewGroupService(db, audit, notify),
		Members:       NewMemberService(db, audit, notify),
		Cycles:        NewCycleService(db, audit, notify),
		Payments:      NewPaymentService(db, audit, notify),
		Notifications: notify,
		Audit:         audit,
		Settings:      settings,
		Reports:       NewReportService(db),
		Scheduler:     NewScheduler(db, audit, notify, settings, opts.Scheduler),
	}
}
