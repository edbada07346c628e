package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hui-manager/internal/logger"
	"hui-manager/internal/metrics"
	"hui-manager/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SchedulerOptions are the built-in defaults. SystemSettings override them
// globally and a group's Rules override them per group.
type SchedulerOptions struct {
	Interval     time.Duration
	ReminderDays int
	GraceDays    int
	FinePercent  decimal.Decimal
}

// Scheduler sends due-date reminders and fines overdue contributions.
type Scheduler struct {
	db       *gorm.DB
	audit    *AuditService
	notify   *NotificationService
	settings *SettingsService
	opts     SchedulerOptions
}

func NewScheduler(db *gorm.DB, audit *AuditService, notify *NotificationService, settings *SettingsService, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	return &Scheduler{db: db, audit: audit, notify: notify, settings: settings, opts: opts}
}

type SweepResult struct {
	Reminders int `json:"reminders"`
	Fines     int `json:"fines"`
}

// groupRules is the subset of HuiGroup.Rules the scheduler understands.
type groupRules struct {
	FinePercent  json.RawMessage `json:"fine_percent"`
	GraceDays    *int            `json:"grace_days"`
	ReminderDays *int            `json:"reminder_days"`
}

type policy struct {
	finePercent  decimal.Decimal
	graceDays    int
	reminderDays int
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	logger.Info("scheduler.started", "interval", s.opts.Interval)

	s.sweep(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler.stopped")
			return
		case now := <-ticker.C:
			s.sweep(ctx, now)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context, now time.Time) {
	res, err := s.RunOnce(ctx, now)
	if err != nil {
		logger.Error("scheduler.sweep failed", "err", err)
		return
	}
	if res.Reminders > 0 || res.Fines > 0 {
		logger.Info("scheduler.sweep", "reminders", res.Reminders, "fines", res.Fines)
	}
}

// RunOnce sends reminders and issues fines as of now.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (*SweepResult, error) {
	now = now.UTC()
	base := s.basePolicy(ctx)
	policies := map[string]*policy{}
	policyFor := func(groupID string) (*policy, error) {
		if p, ok := policies[groupID]; ok {
			return p, nil
		}
		g, err := loadGroup(ctx, s.db, groupID)
		if err != nil {
			return nil, err
		}
		p := base.forGroup(g)
		policies[groupID] = p
		return p, nil
	}

	res := &SweepResult{}
	n, err := s.remind(ctx, now, policyFor)
	if err != nil {
		return nil, err
	}
	res.Reminders = n
	n, err = s.fine(ctx, now, policyFor)
	if err != nil {
		return res, err
	}
	res.Fines = n
	return res, nil
}

func (s *Scheduler) remind(ctx context.Context, now time.Time, policyFor func(string) (*policy, error)) (int, error) {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	horizon := now.AddDate(0, 0, s.maxReminderDays(ctx))

	var due []model.Payment
	err := s.db.WithContext(ctx).
		Where("type = ? AND status = ? AND due_date >= ? AND due_date <= ?",
			model.PaymentContribution, model.PaymentPending, now, horizon).
		Where("reminded_at IS NULL OR reminded_at < ?", startOfDay).
		Order("due_date").Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("load upcoming payments: %w", err)
	}

	sent := 0
	for _, p := range due {
		pol, err := policyFor(p.GroupID)
		if err != nil {
			return sent, err
		}
		if p.DueDate.After(now.AddDate(0, 0, pol.reminderDays)) {
			continue
		}
		if err := s.db.WithContext(ctx).Model(&model.Payment{}).Where("id = ?", p.ID).
			Update("reminded_at", now).Error; err != nil {
			return sent, fmt.Errorf("mark reminded: %w", err)
		}
		s.notify.notifyQuietly(ctx, []Notice{{
			UserID:  p.UserID,
			Type:    model.NotifyPaymentDue,
			Title:   fmt.Sprintf("Contribution due %s", p.DueDate.Format("2006-01-02")),
			Message: fmt.Sprintf("Your cycle %d contribution of %s is due on %s.", p.Cycle, p.Amount.StringFixed(2), p.DueDate.Format("2006-01-02")),
		}})
		metrics.RemindersSent.Inc()
		sent++
	}
	return sent, nil
}

func (s *Scheduler) fine(ctx context.Context, now time.Time, policyFor func(string) (*policy, error)) (int, error) {
	var overdue []model.Payment
	err := s.db.WithContext(ctx).
		Where("type = ? AND status = ? AND due_date < ?", model.PaymentContribution, model.PaymentPending, now).
		Order("due_date").Find(&overdue).Error
	if err != nil {
		return 0, fmt.Errorf("load overdue payments: %w", err)
	}

	issued := 0
	for i := range overdue {
		p := &overdue[i]
		pol, err := policyFor(p.GroupID)
		if err != nil {
			return issued, err
		}
		if !pol.finePercent.IsPositive() || !p.DueDate.AddDate(0, 0, pol.graceDays).Before(now) {
			continue
		}
		fine, err := s.issueFine(ctx, p, pol, now)
		if err != nil {
			return issued, err
		}
		if fine == nil {
			continue
		}
		issued++
		metrics.FinesIssued.Inc()
		s.audit.Record(ctx, System, ActionFine, "Payment", fine.ID, map[string]any{
			"contribution_id": p.ID, "amount": fine.Amount, "cycle": p.Cycle,
		})
		s.notify.notifyQuietly(ctx, []Notice{{
			UserID:  p.UserID,
			Type:    model.NotifyPaymentDue,
			Title:   fmt.Sprintf("Late fee for cycle %d", p.Cycle),
			Message: fmt.Sprintf("Your contribution due %s is overdue; a fine of %s was added.", p.DueDate.Format("2006-01-02"), fine.Amount.StringFixed(2)),
		}})
	}
	return issued, nil
}

// issueFine creates the fine for an overdue contribution unless the member
// already has one for that cycle. It returns nil when nothing was created.
func (s *Scheduler) issueFine(ctx context.Context, p *model.Payment, pol *policy, now time.Time) (*model.Payment, error) {
	var fine *model.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.Payment{}).
			Where("member_id = ? AND cycle = ? AND type = ?", p.MemberID, p.Cycle, model.PaymentFine).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		var m model.HuiMember
		if err := tx.First(&m, "id = ?", p.MemberID).Error; err != nil {
			return err
		}
		if m.Status == model.MemberRemoved {
			return nil
		}
		fine = &model.Payment{
			Amount:   fineAmount(p.Amount, pol.finePercent),
			Type:     model.PaymentFine,
			Status:   model.PaymentPending,
			UserID:   p.UserID,
			MemberID: p.MemberID,
			GroupID:  p.GroupID,
			DueDate:  now,
			Cycle:    p.Cycle,
			Note:     fmt.Sprintf("late fee for contribution %s", p.ID),
		}
		return createPayment(tx, fine, &m, "", "fine issued")
	})
	if err != nil {
		return nil, fmt.Errorf("issue fine for %s: %w", p.ID, err)
	}
	return fine, nil
}

func fineAmount(contribution, percent decimal.Decimal) decimal.Decimal {
	amt := contribution.Mul(percent).Div(decimal.NewFromInt(100)).Round(2)
	if floor := decimal.New(1, -2); amt.LessThan(floor) {
		return floor
	}
	return amt
}

func (s *Scheduler) basePolicy(ctx context.Context) *policy {
	return &policy{
		finePercent:  s.settings.Decimal(ctx, SettingFinePercent, s.opts.FinePercent),
		graceDays:    s.settings.Int(ctx, SettingGraceDays, s.opts.GraceDays),
		reminderDays: s.settings.Int(ctx, SettingReminderDays, s.opts.ReminderDays),
	}
}

// maxReminderDays is the widest reminder window of the base policy and any
// active group's rules.
func (s *Scheduler) maxReminderDays(ctx context.Context) int {
	days := s.basePolicy(ctx).reminderDays
	var rows []model.HuiGroup
	if err := s.db.WithContext(ctx).Select("id", "rules").
		Where("status = ? AND rules IS NOT NULL", model.GroupActive).Find(&rows).Error; err != nil {
		return days
	}
	for i := range rows {
		var r groupRules
		if json.Unmarshal(rows[i].Rules, &r) == nil && r.ReminderDays != nil && *r.ReminderDays > days {
			days = *r.ReminderDays
		}
	}
	return days
}

func (p *policy) forGroup(g *model.HuiGroup) *policy {
	out := *p
	if len(g.Rules) == 0 {
		return &out
	}
	var r groupRules
	if err := json.Unmarshal(g.Rules, &r); err != nil {
		logger.Warn("scheduler.rules invalid", "group", g.ID, "err", err)
		return &out
	}
	if len(r.FinePercent) > 0 {
		if d, err := parseDecimalJSON(r.FinePercent); err == nil && !d.IsNegative() {
			out.finePercent = d
		}
	}
	if r.GraceDays != nil && *r.GraceDays >= 0 {
		out.graceDays = *r.GraceDays
	}
	if r.ReminderDays != nil && *r.ReminderDays >= 0 {
		out.reminderDays = *r.ReminderDays
	}
	return &out
}
