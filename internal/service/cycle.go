package service

import (
	"context"
	"fmt"
	"time"

	"hui-manager/internal/logger"
	"hui-manager/internal/metrics"
	"hui-manager/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CycleService opens payment cycles. Cycle n (1-based) is due on
// StartDate + (n-1) * CycleLength days; every active member contributes once
// per cycle and exactly one member receives the pot.
type CycleService struct {
	db     *gorm.DB
	audit  *AuditService
	notify *NotificationService
}

func NewCycleService(db *gorm.DB, audit *AuditService, notify *NotificationService) *CycleService {
	return &CycleService{db: db, audit: audit, notify: notify}
}

type AdvanceResult struct {
	Group         *model.HuiGroup  `json:"group"`
	Cycle         int              `json:"cycle"`
	DueDate       *time.Time       `json:"due_date,omitempty"`
	Recipient     *model.HuiMember `json:"recipient,omitempty"`
	Contributions []model.Payment  `json:"contributions,omitempty"`
	Payout        *model.Payment   `json:"payout,omitempty"`
	Completed     bool             `json:"completed"`
}

// Advance opens the next cycle of a group. When every active member has
// already been paid out the group is marked COMPLETED instead.
func (s *CycleService) Advance(ctx context.Context, actor Actor, groupID string) (*AdvanceResult, error) {
	now := time.Now().UTC()
	res := &AdvanceResult{}
	var members []model.HuiMember

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if !canManage(actor, g) {
			return fmt.Errorf("group %s: %w", groupID, ErrForbidden)
		}
		if g.Status != model.GroupActive {
			return fmt.Errorf("group %s is %s: %w", groupID, g.Status, ErrInvalidTransition)
		}
		if err := tx.Where("group_id = ? AND status = ?", groupID, model.MemberActive).
			Order("position").Find(&members).Error; err != nil {
			return err
		}
		if len(members) < 2 {
			return invalidf("group %s needs at least two active members, has %d", groupID, len(members))
		}

		n := g.CurrentCycle
		if n > 0 {
			var open int64
			if err := tx.Model(&model.Payment{}).
				Where("group_id = ? AND cycle = ? AND type = ? AND status = ?",
					groupID, n, model.PaymentWithdrawal, model.PaymentPending).
				Count(&open).Error; err != nil {
				return err
			}
			if open > 0 {
				return fmt.Errorf("cycle %d payout is still pending: %w", n, ErrInvalidTransition)
			}
		}

		paid, err := paidOutMembers(tx, groupID)
		if err != nil {
			return err
		}
		var recipient *model.HuiMember
		for i := range members {
			if !paid[members[i].ID] {
				recipient = &members[i]
				break
			}
		}

		if recipient == nil {
			updates := map[string]interface{}{"status": model.GroupCompleted, "next_payment_date": nil}
			if g.EndDate == nil {
				updates["end_date"] = now
			}
			if err := tx.Model(g).Updates(updates).Error; err != nil {
				return err
			}
			res.Completed = true
			res.Cycle = n
			return nil
		}

		cycle := n + 1
		due := dueDate(g, cycle)
		next := due.AddDate(0, 0, g.CycleLength)

		for i := range members {
			m := &members[i]
			p := model.Payment{
				Amount:   g.ContributionAmount,
				Type:     model.PaymentContribution,
				Status:   model.PaymentPending,
				UserID:   m.UserID,
				MemberID: m.ID,
				GroupID:  groupID,
				DueDate:  due,
				Cycle:    cycle,
			}
			if err := createPayment(tx, &p, m, actor.UserID, fmt.Sprintf("cycle %d opened", cycle)); err != nil {
				return err
			}
			if err := tx.Model(m).Update("next_payment_date", due).Error; err != nil {
				return err
			}
			m.NextPaymentDate = &due
			res.Contributions = append(res.Contributions, p)
		}

		payout := model.Payment{
			Amount:   g.ContributionAmount.Mul(decimal.NewFromInt(int64(len(members)))),
			Type:     model.PaymentWithdrawal,
			Status:   model.PaymentPending,
			UserID:   recipient.UserID,
			MemberID: recipient.ID,
			GroupID:  groupID,
			DueDate:  due,
			Cycle:    cycle,
		}
		if err := createPayment(tx, &payout, recipient, actor.UserID, fmt.Sprintf("cycle %d payout", cycle)); err != nil {
			return err
		}

		upd := tx.Model(&model.HuiGroup{}).Where("id = ? AND current_cycle = ?", groupID, n).
			Updates(map[string]interface{}{"current_cycle": cycle, "next_payment_date": next})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("group %s advanced concurrently: %w", groupID, ErrConflict)
		}

		res.Cycle = cycle
		res.DueDate = &due
		res.Recipient = recipient
		res.Payout = &payout
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("advance group %s: %w", groupID, err)
	}

	g, err := loadGroup(ctx, s.db, groupID)
	if err != nil {
		return nil, err
	}
	res.Group = g

	if res.Completed {
		logger.Info("cycle.group_completed", "group", groupID, "cycles", res.Cycle)
		s.audit.Record(ctx, actor, ActionStatus, "HuiGroup", groupID, map[string]any{"to": model.GroupCompleted, "cycles": res.Cycle})
		title := "Group " + g.Name + " is completed"
		s.notify.notifyQuietly(ctx, memberNotices(members, model.NotifyGroupUpdate, title, "Every member has received the pot."))
		return res, nil
	}

	metrics.CyclesAdvanced.Inc()
	logger.Info("cycle.advanced", "group", groupID, "cycle", res.Cycle, "recipient", res.Recipient.ID)
	s.audit.Record(ctx, actor, ActionCycleAdvance, "HuiGroup", groupID, map[string]any{
		"cycle": res.Cycle, "due_date": res.DueDate, "recipient_member_id": res.Recipient.ID, "payout": res.Payout.Amount,
	})
	due := res.DueDate.Format("2006-01-02")
	notices := memberNotices(members, model.NotifyPaymentDue,
		fmt.Sprintf("Cycle %d of %s is open", res.Cycle, g.Name),
		fmt.Sprintf("Your contribution of %s is due on %s.", g.ContributionAmount.StringFixed(2), due))
	notices = append(notices, Notice{
		UserID:  res.Recipient.UserID,
		Type:    model.NotifyGroupUpdate,
		Title:   fmt.Sprintf("You receive the pot in cycle %d", res.Cycle),
		Message: fmt.Sprintf("%s of %s will be paid out once all contributions are in.", res.Payout.Amount.StringFixed(2), g.Name),
	})
	s.notify.notifyQuietly(ctx, notices)
	return res, nil
}

// Recipient returns the member receiving the pot in cycle. For cycles already
// opened that is the payout's member; later cycles are projected in position
// order over members not yet paid.
func (s *CycleService) Recipient(ctx context.Context, actor Actor, groupID string, cycle int) (*model.HuiMember, error) {
	if cycle < 1 {
		return nil, invalidf("cycle must be positive")
	}
	schedule, err := s.Schedule(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	for _, e := range schedule {
		if e.Cycle == cycle {
			var m model.HuiMember
			if err := s.db.WithContext(ctx).Preload("User").First(&m, "id = ?", e.RecipientID).Error; err != nil {
				return nil, dbErr(err, "member "+e.RecipientID)
			}
			return &m, nil
		}
	}
	return nil, fmt.Errorf("group %s has no cycle %d: %w", groupID, cycle, ErrNotFound)
}

// Schedule lists every cycle of the rotation with its due date and recipient.
func (s *CycleService) Schedule(ctx context.Context, actor Actor, groupID string) ([]model.ScheduleEntry, error) {
	g, err := visibleGroup(ctx, s.db, actor, groupID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var payouts []model.Payment
	if err := db.Where("group_id = ? AND type = ? AND status <> ?", groupID, model.PaymentWithdrawal, model.PaymentCancelled).
		Order("cycle").Find(&payouts).Error; err != nil {
		return nil, fmt.Errorf("load payouts: %w", err)
	}
	var members []model.HuiMember
	if err := db.Preload("User").Where("group_id = ?", groupID).Order("position").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	byID := make(map[string]*model.HuiMember, len(members))
	for i := range members {
		byID[members[i].ID] = &members[i]
	}

	out := []model.ScheduleEntry{}
	paid := map[string]bool{}
	for _, p := range payouts {
		paid[p.MemberID] = true
		out = append(out, scheduleEntry(p.Cycle, p.DueDate, byID[p.MemberID], p.MemberID))
	}
	if g.Status != model.GroupActive {
		return out, nil
	}
	cycle := g.CurrentCycle
	for i := range members {
		m := &members[i]
		if m.Status != model.MemberActive || paid[m.ID] {
			continue
		}
		cycle++
		out = append(out, scheduleEntry(cycle, dueDate(g, cycle), m, m.ID))
	}
	return out, nil
}

func scheduleEntry(cycle int, due time.Time, m *model.HuiMember, memberID string) model.ScheduleEntry {
	e := model.ScheduleEntry{Cycle: cycle, DueDate: due.UTC(), RecipientID: memberID}
	if m != nil && m.User != nil {
		e.Recipient = m.User.Name
	}
	return e
}

func dueDate(g *model.HuiGroup, cycle int) time.Time {
	return g.StartDate.UTC().AddDate(0, 0, (cycle-1)*g.CycleLength)
}

// paidOutMembers returns the members that already have a payout that was not
// cancelled.
func paidOutMembers(tx *gorm.DB, groupID string) (map[string]bool, error) {
	var ids []string
	if err := tx.Model(&model.Payment{}).
		Where("group_id = ? AND type = ? AND status <> ?", groupID, model.PaymentWithdrawal, model.PaymentCancelled).
		Pluck("member_id", &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
