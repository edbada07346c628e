package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hui-manager/internal/metrics"
	"hui-manager/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentService struct {
	db     *gorm.DB
	audit  *AuditService
	notify *NotificationService
}

func NewPaymentService(db *gorm.DB, audit *AuditService, notify *NotificationService) *PaymentService {
	return &PaymentService{db: db, audit: audit, notify: notify}
}

// Create records a manual payment such as an ad-hoc contribution or a fine.
func (s *PaymentService) Create(ctx context.Context, actor Actor, req model.CreatePaymentRequest) (*model.Payment, error) {
	groupID := req.GroupID
	if !req.Type.Valid() {
		return nil, invalidf("unknown payment type %q", req.Type)
	}
	if !req.Amount.IsPositive() {
		return nil, invalidf("amount must be positive")
	}
	g, err := loadGroup(ctx, s.db, groupID)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, g) {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrForbidden)
	}
	if g.Status != model.GroupActive {
		return nil, fmt.Errorf("group %s is %s: %w", groupID, g.Status, ErrInvalidTransition)
	}
	var m model.HuiMember
	if err := s.db.WithContext(ctx).First(&m, "id = ? AND group_id = ?", req.MemberID, groupID).Error; err != nil {
		return nil, dbErr(err, "member "+req.MemberID)
	}
	if m.Status == model.MemberRemoved {
		return nil, invalidf("member %s was removed from the group", m.ID)
	}

	now := time.Now().UTC()
	due := now
	if req.DueDate != nil {
		due = req.DueDate.UTC()
	}
	cycle := req.Cycle
	if cycle == 0 {
		cycle = g.CurrentCycle
	}
	p := &model.Payment{
		Amount:   req.Amount.Round(2),
		Type:     req.Type,
		Status:   model.PaymentPending,
		UserID:   m.UserID,
		MemberID: m.ID,
		GroupID:  groupID,
		DueDate:  due,
		Cycle:    cycle,
		Note:     strings.TrimSpace(req.Note),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createPayment(tx, p, &m, actor.UserID, "created"); err != nil {
			return err
		}
		if p.Type != model.PaymentContribution {
			return nil
		}
		return adjustPayout(tx, groupID, cycle, p.Amount, actor.UserID, "contribution "+p.ID+" added")
	})
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	s.audit.Record(ctx, actor, ActionCreate, "Payment", p.ID, map[string]any{
		"type": p.Type, "amount": p.Amount, "member_id": m.ID, "cycle": cycle,
	})
	s.notify.notifyQuietly(ctx, []Notice{{
		UserID:  p.UserID,
		Type:    model.NotifyPaymentDue,
		Title:   fmt.Sprintf("New %s in %s", strings.ToLower(string(p.Type)), g.Name),
		Message: fmt.Sprintf("%s due on %s.", p.Amount.StringFixed(2), p.DueDate.Format("2006-01-02")),
	}})
	return p, nil
}

// Submit lets the paying member attach a receipt. The payment stays PENDING
// until a manager verifies it.
func (s *PaymentService) Submit(ctx context.Context, actor Actor, id string, req model.PaymentActionRequest) (*model.Payment, error) {
	p, g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != actor.UserID && !canManage(actor, g) {
		return nil, fmt.Errorf("payment %s: %w", id, ErrForbidden)
	}
	if p.Status != model.PaymentPending {
		return nil, fmt.Errorf("payment %s is %s: %w", id, p.Status, ErrInvalidTransition)
	}
	receipt := strings.TrimSpace(req.Receipt)
	if receipt == "" {
		return nil, invalidf("receipt is required")
	}

	note := "receipt submitted"
	updates := map[string]interface{}{"receipt": receipt}
	if n := strings.TrimSpace(req.Note); n != "" {
		note += ": " + n
		updates["note"] = n
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(p).Updates(updates).Error; err != nil {
			return err
		}
		return addHistory(tx, p.ID, model.PaymentPending, note, actor.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("submit payment %s: %w", id, err)
	}

	s.audit.Record(ctx, actor, ActionSubmit, "Payment", id, map[string]any{"receipt": receipt})
	s.notify.notifyQuietly(ctx, []Notice{{
		UserID:  g.ManagerID,
		Type:    model.NotifyPaymentReceived,
		Title:   "Receipt submitted in " + g.Name,
		Message: fmt.Sprintf("Cycle %d %s of %s awaits verification.", p.Cycle, strings.ToLower(string(p.Type)), p.Amount.StringFixed(2)),
	}})
	return s.get(ctx, id)
}

// Verify completes a pending payment. A payout can only be verified once
// every contribution of its cycle is completed.
func (s *PaymentService) Verify(ctx context.Context, actor Actor, id string, req model.PaymentActionRequest) (*model.Payment, error) {
	p, g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, g) {
		return nil, fmt.Errorf("payment %s: %w", id, ErrForbidden)
	}
	if !p.Status.CanTransition(model.PaymentCompleted) {
		return nil, fmt.Errorf("payment %s: %s -> %s: %w", id, p.Status, model.PaymentCompleted, ErrInvalidTransition)
	}
	if p.Type == model.PaymentWithdrawal {
		ready, err := s.PayoutReady(ctx, p.GroupID, p.Cycle)
		if err != nil {
			return nil, err
		}
		if !ready {
			return nil, fmt.Errorf("cycle %d still has pending contributions: %w", p.Cycle, ErrInvalidTransition)
		}
	}

	now := time.Now().UTC()
	paid := now
	if p.PaidDate != nil {
		paid = *p.PaidDate
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Payment{}).Where("id = ? AND status = ?", id, model.PaymentPending).
			Updates(map[string]interface{}{
				"status":      model.PaymentCompleted,
				"paid_date":   paid,
				"verified_by": actor.userRef(),
				"verified_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("payment %s changed concurrently: %w", id, ErrConflict)
		}
		if p.Type.Accrues() {
			var m model.HuiMember
			if err := tx.First(&m, "id = ?", p.MemberID).Error; err != nil {
				return err
			}
			if err := tx.Model(&m).Updates(map[string]interface{}{
				"total_paid":        m.TotalPaid.Add(p.Amount),
				"last_payment_date": paid,
			}).Error; err != nil {
				return err
			}
		}
		return addHistory(tx, id, model.PaymentCompleted, strings.TrimSpace(req.Note), actor.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("verify payment %s: %w", id, err)
	}
	metrics.PaymentsVerified.WithLabelValues(string(p.Type)).Inc()

	s.audit.Record(ctx, actor, ActionVerify, "Payment", id, map[string]any{"type": p.Type, "amount": p.Amount})
	notices := []Notice{{
		UserID:  p.UserID,
		Type:    model.NotifyPaymentReceived,
		Title:   "Payment confirmed in " + g.Name,
		Message: fmt.Sprintf("Your cycle %d %s of %s was confirmed.", p.Cycle, strings.ToLower(string(p.Type)), p.Amount.StringFixed(2)),
	}}
	if p.Type == model.PaymentContribution {
		if ready, err := s.PayoutReady(ctx, p.GroupID, p.Cycle); err == nil && ready {
			notices = append(notices, Notice{
				UserID:  g.ManagerID,
				Type:    model.NotifyGroupUpdate,
				Title:   fmt.Sprintf("Cycle %d fully collected", p.Cycle),
				Message: fmt.Sprintf("All contributions of cycle %d in %s are in; the payout can be released.", p.Cycle, g.Name),
			})
		}
	}
	s.notify.notifyQuietly(ctx, notices)
	return s.get(ctx, id)
}

func (s *PaymentService) Cancel(ctx context.Context, actor Actor, id string, req model.PaymentActionRequest) (*model.Payment, error) {
	p, g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, g) {
		return nil, fmt.Errorf("payment %s: %w", id, ErrForbidden)
	}
	if !p.Status.CanTransition(model.PaymentCancelled) {
		return nil, fmt.Errorf("payment %s: %s -> %s: %w", id, p.Status, model.PaymentCancelled, ErrInvalidTransition)
	}

	note := strings.TrimSpace(req.Note)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return cancelPayment(tx, p, actor.UserID, note, time.Now().UTC())
	})
	if err != nil {
		return nil, fmt.Errorf("cancel payment %s: %w", id, err)
	}

	s.audit.Record(ctx, actor, ActionCancel, "Payment", id, map[string]any{"note": note})
	s.notify.notifyQuietly(ctx, []Notice{{
		UserID:  p.UserID,
		Type:    model.NotifyGroupUpdate,
		Title:   "Payment cancelled in " + g.Name,
		Message: fmt.Sprintf("Your cycle %d %s of %s was cancelled.", p.Cycle, strings.ToLower(string(p.Type)), p.Amount.StringFixed(2)),
	}})
	return s.get(ctx, id)
}

// Get returns a payment with its history, oldest entry first. Only admins,
// the group's manager and the paying member may read it.
func (s *PaymentService) Get(ctx context.Context, actor Actor, id string) (*model.Payment, error) {
	if err := s.visible(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *PaymentService) get(ctx context.Context, id string) (*model.Payment, error) {
	var p model.Payment
	err := s.db.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		First(&p, "id = ?", id).Error
	if err != nil {
		return nil, dbErr(err, "payment "+id)
	}
	return &p, nil
}

func (s *PaymentService) History(ctx context.Context, actor Actor, id string) ([]model.PaymentHistory, error) {
	if err := s.visible(ctx, actor, id); err != nil {
		return nil, err
	}
	out := []model.PaymentHistory{}
	if err := s.db.WithContext(ctx).Where("payment_id = ?", id).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("payment history: %w", err)
	}
	return out, nil
}

func (s *PaymentService) List(ctx context.Context, actor Actor, f model.PaymentFilter) (*model.ListResponse[model.Payment], error) {
	f, err := s.scope(ctx, actor, f)
	if err != nil {
		return nil, err
	}
	res, err := paginate[model.Payment](s.filtered(ctx, f), f.Page, "due_date DESC, cycle DESC")
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return res, nil
}

// Aggregate returns count, sum, average, min and max per status.
func (s *PaymentService) Aggregate(ctx context.Context, actor Actor, f model.PaymentFilter) ([]model.PaymentAggregate, error) {
	f, err := s.scope(ctx, actor, f)
	if err != nil {
		return nil, err
	}
	var rows []model.Payment
	if err := s.filtered(ctx, f).Select("amount", "status").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("aggregate payments: %w", err)
	}
	return aggregate(rows), nil
}

// Overdue lists pending contributions whose due date is before now, limited
// to what actor may see.
func (s *PaymentService) Overdue(ctx context.Context, actor Actor, now time.Time, groupID string) ([]model.Payment, error) {
	f, err := s.scope(ctx, actor, model.PaymentFilter{GroupID: groupID})
	if err != nil {
		return nil, err
	}
	before := now.UTC()
	f.Type, f.Status, f.DueBefore = model.PaymentContribution, model.PaymentPending, &before
	out := []model.Payment{}
	if err := s.filtered(ctx, f).Order("due_date").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("overdue payments: %w", err)
	}
	return out, nil
}

// PayoutReady reports whether every contribution of cycle is completed.
func (s *PaymentService) PayoutReady(ctx context.Context, groupID string, cycle int) (bool, error) {
	var pending int64
	err := s.db.WithContext(ctx).Model(&model.Payment{}).
		Where("group_id = ? AND cycle = ? AND type = ? AND status = ?",
			groupID, cycle, model.PaymentContribution, model.PaymentPending).
		Count(&pending).Error
	if err != nil {
		return false, fmt.Errorf("count pending contributions: %w", err)
	}
	return pending == 0, nil
}

func (s *PaymentService) load(ctx context.Context, id string) (*model.Payment, *model.HuiGroup, error) {
	var p model.Payment
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, nil, dbErr(err, "payment "+id)
	}
	g, err := loadGroup(ctx, s.db, p.GroupID)
	if err != nil {
		return nil, nil, err
	}
	return &p, g, nil
}

func (s *PaymentService) visible(ctx context.Context, actor Actor, id string) error {
	p, g, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if p.UserID != actor.UserID && !canManage(actor, g) {
		return fmt.Errorf("payment %s: %w", id, ErrForbidden)
	}
	return nil
}

// scope restricts a filter to what actor may see: admins see everything,
// managers see their groups, anyone else only their own payments.
func (s *PaymentService) scope(ctx context.Context, actor Actor, f model.PaymentFilter) (model.PaymentFilter, error) {
	if actor.IsAdmin() {
		return f, nil
	}
	if f.GroupID != "" {
		g, err := loadGroup(ctx, s.db, f.GroupID)
		if err != nil {
			return f, err
		}
		if canManage(actor, g) {
			return f, nil
		}
	}
	f.UserID = actor.UserID
	return f, nil
}

func (s *PaymentService) filtered(ctx context.Context, f model.PaymentFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&model.Payment{})
	if f.GroupID != "" {
		q = q.Where("group_id = ?", f.GroupID)
	}
	if f.MemberID != "" {
		q = q.Where("member_id = ?", f.MemberID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Cycle > 0 {
		q = q.Where("cycle = ?", f.Cycle)
	}
	if f.DueBefore != nil {
		q = q.Where("due_date < ?", f.DueBefore.UTC())
	}
	if f.DueAfter != nil {
		q = q.Where("due_date >= ?", f.DueAfter.UTC())
	}
	return q
}

func aggregate(rows []model.Payment) []model.PaymentAggregate {
	order := []model.PaymentStatus{model.PaymentPending, model.PaymentCompleted, model.PaymentCancelled}
	byStatus := map[model.PaymentStatus]*model.PaymentAggregate{}
	for _, p := range rows {
		a, ok := byStatus[p.Status]
		if !ok {
			a = &model.PaymentAggregate{Status: p.Status, Sum: decimal.Zero, Min: p.Amount, Max: p.Amount}
			byStatus[p.Status] = a
		}
		a.Count++
		a.Sum = a.Sum.Add(p.Amount)
		if p.Amount.LessThan(a.Min) {
			a.Min = p.Amount
		}
		if p.Amount.GreaterThan(a.Max) {
			a.Max = p.Amount
		}
	}
	out := []model.PaymentAggregate{}
	for _, st := range order {
		a, ok := byStatus[st]
		if !ok {
			continue
		}
		a.Avg = a.Sum.DivRound(decimal.NewFromInt(a.Count), 2)
		out = append(out, *a)
	}
	return out
}

func loadGroup(ctx context.Context, db *gorm.DB, id string) (*model.HuiGroup, error) {
	var g model.HuiGroup
	if err := db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, dbErr(err, "group "+id)
	}
	return &g, nil
}

// createPayment inserts p with its first history entry. Contributions and
// fines raise the member's total due.
func createPayment(tx *gorm.DB, p *model.Payment, m *model.HuiMember, by, note string) error {
	if err := tx.Create(p).Error; err != nil {
		return err
	}
	if p.Type.Accrues() {
		m.TotalDue = m.TotalDue.Add(p.Amount)
		if err := tx.Model(&model.HuiMember{}).Where("id = ?", m.ID).Update("total_due", m.TotalDue).Error; err != nil {
			return err
		}
	}
	return addHistory(tx, p.ID, p.Status, note, by)
}

// cancelPayment moves p to CANCELLED and takes it off the member's total due.
func cancelPayment(tx *gorm.DB, p *model.Payment, by, note string, now time.Time) error {
	res := tx.Model(&model.Payment{}).Where("id = ? AND status = ?", p.ID, model.PaymentPending).
		Updates(map[string]interface{}{"status": model.PaymentCancelled, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("payment %s changed concurrently: %w", p.ID, ErrConflict)
	}
	if p.Type.Accrues() {
		var m model.HuiMember
		if err := tx.First(&m, "id = ?", p.MemberID).Error; err != nil {
			return err
		}
		due := m.TotalDue.Sub(p.Amount)
		if due.IsNegative() {
			due = decimal.Zero
		}
		if err := tx.Model(&m).Update("total_due", due).Error; err != nil {
			return err
		}
	}
	p.Status = model.PaymentCancelled
	if err := addHistory(tx, p.ID, model.PaymentCancelled, note, by); err != nil {
		return err
	}
	if p.Type != model.PaymentContribution {
		return nil
	}
	return adjustPayout(tx, p.GroupID, p.Cycle, p.Amount.Neg(), by, "contribution "+p.ID+" cancelled")
}

// adjustPayout moves the pending payout of cycle by delta so the pot always
// equals the cycle's non-cancelled contributions. Settled payouts are left
// alone.
func adjustPayout(tx *gorm.DB, groupID string, cycle int, delta decimal.Decimal, by, reason string) error {
	var payout model.Payment
	err := tx.Where("group_id = ? AND cycle = ? AND type = ? AND status = ?",
		groupID, cycle, model.PaymentWithdrawal, model.PaymentPending).Limit(1).Find(&payout).Error
	if err != nil || payout.ID == "" {
		return err
	}
	amount := payout.Amount.Add(delta)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	if err := tx.Model(&model.Payment{}).Where("id = ?", payout.ID).Update("amount", amount).Error; err != nil {
		return err
	}
	return addHistory(tx, payout.ID, model.PaymentPending, fmt.Sprintf("pot now %s: %s", amount.StringFixed(2), reason), by)
}

func addHistory(tx *gorm.DB, paymentID string, status model.PaymentStatus, note, by string) error {
	return tx.Create(&model.PaymentHistory{PaymentID: paymentID, Status: status, Note: note, CreatedBy: by}).Error
}
