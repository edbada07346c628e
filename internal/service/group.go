package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hui-manager/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type GroupService struct {
	db     *gorm.DB
	audit  *AuditService
	notify *NotificationService
}

func NewGroupService(db *gorm.DB, audit *AuditService, notify *NotificationService) *GroupService {
	return &GroupService{db: db, audit: audit, notify: notify}
}

func (s *GroupService) Create(ctx context.Context, actor Actor, req model.CreateGroupRequest) (*model.HuiGroup, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidf("group name is required")
	}
	if !req.ContributionAmount.IsPositive() {
		return nil, invalidf("contribution amount must be positive")
	}
	if req.CycleLength < 1 {
		return nil, invalidf("cycle length must be at least one day")
	}
	if req.TotalMembers < 2 {
		return nil, invalidf("a group needs at least two members")
	}
	if req.StartDate.IsZero() {
		return nil, invalidf("start date is required")
	}
	start := req.StartDate.UTC()
	if req.EndDate != nil && !req.EndDate.After(start) {
		return nil, invalidf("end date must be after start date")
	}
	rules, err := rulesJSON(req.Rules)
	if err != nil {
		return nil, err
	}

	managerID := req.ManagerID
	if managerID == "" {
		managerID = actor.UserID
	}
	if managerID != actor.UserID && !actor.IsAdmin() {
		return nil, fmt.Errorf("only an admin may assign another manager: %w", ErrForbidden)
	}
	var manager model.User
	if err := s.db.WithContext(ctx).First(&manager, "id = ?", managerID).Error; err != nil {
		return nil, dbErr(err, "manager "+managerID)
	}
	if !manager.Active {
		return nil, fmt.Errorf("manager %s: %w", managerID, ErrInactiveUser)
	}
	if manager.Role == model.RoleUser {
		return nil, invalidf("user %s cannot manage groups", managerID)
	}

	g := &model.HuiGroup{
		Name:               name,
		Description:        strings.TrimSpace(req.Description),
		ContributionAmount: req.ContributionAmount.Round(2),
		StartDate:          start,
		EndDate:            utcPtr(req.EndDate),
		Status:             model.GroupActive,
		ManagerID:          managerID,
		CycleLength:        req.CycleLength,
		TotalMembers:       req.TotalMembers,
		NextPaymentDate:    &start,
		Rules:              rules,
	}
	if err := s.db.WithContext(ctx).Create(g).Error; err != nil {
		return nil, dbErr(err, "create group")
	}
	s.audit.Record(ctx, actor, ActionCreate, "HuiGroup", g.ID, map[string]any{
		"name": g.Name, "contribution": g.ContributionAmount, "total_members": g.TotalMembers,
	})
	return g, nil
}

// Get loads a group with its manager and its members in rotation order.
func (s *GroupService) Get(ctx context.Context, actor Actor, id string) (*model.HuiGroup, error) {
	if _, err := visibleGroup(ctx, s.db, actor, id); err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *GroupService) get(ctx context.Context, id string) (*model.HuiGroup, error) {
	var g model.HuiGroup
	err := s.db.WithContext(ctx).
		Preload("Manager").
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Members.User").
		First(&g, "id = ?", id).Error
	if err != nil {
		return nil, dbErr(err, "group "+id)
	}
	return &g, nil
}

// List returns the groups actor may see: all of them for admins, otherwise
// the ones actor manages or holds a seat in.
func (s *GroupService) List(ctx context.Context, actor Actor, f model.GroupFilter) (*model.ListResponse[model.HuiGroup], error) {
	q := s.db.WithContext(ctx).Model(&model.HuiGroup{})
	if !actor.IsAdmin() {
		seats := s.db.Model(&model.HuiMember{}).Select("group_id").Where("user_id = ?", actor.UserID)
		q = q.Where("manager_id = ? OR id IN (?)", actor.UserID, seats)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ManagerID != "" {
		q = q.Where("manager_id = ?", f.ManagerID)
	}
	if f.MemberID != "" {
		sub := s.db.Model(&model.HuiMember{}).Select("group_id").
			Where("user_id = ? AND status <> ?", f.MemberID, model.MemberRemoved)
		q = q.Where("id IN (?)", sub)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(term)+"%")
	}
	res, err := paginate[model.HuiGroup](q, f.Page, "created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return res, nil
}

func (s *GroupService) Update(ctx context.Context, actor Actor, id string, req model.UpdateGroupRequest) (*model.HuiGroup, error) {
	g, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if g.Status != model.GroupActive {
		return nil, fmt.Errorf("group %s is %s: %w", id, g.Status, ErrInvalidTransition)
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalidf("group name must not be empty")
		}
		updates["name"] = name
	}
	if req.Description != nil {
		updates["description"] = strings.TrimSpace(*req.Description)
	}
	if req.EndDate != nil {
		if !req.EndDate.After(g.StartDate) {
			return nil, invalidf("end date must be after start date")
		}
		updates["end_date"] = req.EndDate.UTC()
	}
	if len(req.Rules) > 0 {
		rules, err := rulesJSON(req.Rules)
		if err != nil {
			return nil, err
		}
		updates["rules"] = rules
	}

	// The economics of the group are frozen once the first cycle is open.
	frozen := req.ContributionAmount != nil || req.CycleLength != nil || req.TotalMembers != nil
	if frozen && g.CurrentCycle > 0 {
		return nil, fmt.Errorf("group %s already started cycle %d: %w", id, g.CurrentCycle, ErrInvalidTransition)
	}
	if req.ContributionAmount != nil {
		if !req.ContributionAmount.IsPositive() {
			return nil, invalidf("contribution amount must be positive")
		}
		updates["contribution_amount"] = req.ContributionAmount.Round(2)
	}
	if req.CycleLength != nil {
		if *req.CycleLength < 1 {
			return nil, invalidf("cycle length must be at least one day")
		}
		updates["cycle_length"] = *req.CycleLength
	}
	if req.TotalMembers != nil {
		count, err := s.memberCount(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if *req.TotalMembers < 2 || int64(*req.TotalMembers) < count {
			return nil, invalidf("total members must be at least 2 and at least the current %d", count)
		}
		updates["total_members"] = *req.TotalMembers
	}
	if len(updates) == 0 {
		return s.get(ctx, id)
	}

	if err := s.db.WithContext(ctx).Model(&model.HuiGroup{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, dbErr(err, "update group "+id)
	}
	s.audit.Record(ctx, actor, ActionUpdate, "HuiGroup", id, updates)
	return s.get(ctx, id)
}

// SetStatus closes a group. ACTIVE may become COMPLETED or CANCELLED; both
// are terminal. Cancelling voids every pending payment of the group.
func (s *GroupService) SetStatus(ctx context.Context, actor Actor, id string, status model.GroupStatus) (*model.HuiGroup, error) {
	if !status.Valid() {
		return nil, invalidf("unknown group status %q", status)
	}
	g, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if g.Status != model.GroupActive || status == model.GroupActive {
		return nil, fmt.Errorf("group %s: %s -> %s: %w", id, g.Status, status, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	var cancelled int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": status, "next_payment_date": nil}
		if g.EndDate == nil {
			updates["end_date"] = now
		}
		if err := tx.Model(&model.HuiGroup{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if status != model.GroupCancelled {
			return nil
		}
		var pending []model.Payment
		if err := tx.Where("group_id = ? AND status = ?", id, model.PaymentPending).Find(&pending).Error; err != nil {
			return err
		}
		for i := range pending {
			if err := cancelPayment(tx, &pending[i], actor.UserID, "group cancelled", now); err != nil {
				return err
			}
		}
		cancelled = len(pending)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set group %s status: %w", id, err)
	}

	s.audit.Record(ctx, actor, ActionStatus, "HuiGroup", id, map[string]any{
		"from": g.Status, "to": status, "cancelled_payments": cancelled,
	})
	title := fmt.Sprintf("Group %s is %s", g.Name, strings.ToLower(string(status)))
	s.notify.notifyQuietly(ctx, memberNotices(g.Members, model.NotifyGroupUpdate, title, title+"."))
	return s.get(ctx, id)
}

// Delete removes a group that never collected money.
func (s *GroupService) Delete(ctx context.Context, actor Actor, id string) error {
	if _, err := s.loadManaged(ctx, actor, id); err != nil {
		return err
	}
	var completed int64
	if err := s.db.WithContext(ctx).Model(&model.Payment{}).
		Where("group_id = ? AND status = ?", id, model.PaymentCompleted).Count(&completed).Error; err != nil {
		return fmt.Errorf("count completed payments: %w", err)
	}
	if completed > 0 {
		return fmt.Errorf("group %s has %d completed payments: %w", id, completed, ErrConflict)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&model.Payment{}).Select("id").Where("group_id = ?", id)
		if err := tx.Where("payment_id IN (?)", sub).Delete(&model.PaymentHistory{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", id).Delete(&model.Payment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", id).Delete(&model.HuiMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.HuiGroup{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("delete group %s: %w", id, err)
	}
	s.audit.Record(ctx, actor, ActionDelete, "HuiGroup", id, nil)
	return nil
}

func (s *GroupService) Summary(ctx context.Context, actor Actor, id string) (*model.GroupSummary, error) {
	g, err := visibleGroup(ctx, s.db, actor, id)
	if err != nil {
		return nil, err
	}
	var active int64
	if err := s.db.WithContext(ctx).Model(&model.HuiMember{}).
		Where("group_id = ? AND status = ?", id, model.MemberActive).Count(&active).Error; err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}
	var payments []model.Payment
	if err := s.db.WithContext(ctx).Select("amount", "type", "status", "cycle").
		Where("group_id = ?", id).Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}

	sum := &model.GroupSummary{
		GroupID:          id,
		CurrentCycle:     g.CurrentCycle,
		ActiveMembers:    int(active),
		PotSize:          g.ContributionAmount.Mul(decimal.NewFromInt(active)),
		TotalCollected:   decimal.Zero,
		TotalOutstanding: decimal.Zero,
		PaymentsByStatus: map[model.PaymentStatus]int64{},
	}
	paidOut := map[int]bool{}
	for _, p := range payments {
		sum.PaymentsByStatus[p.Status]++
		switch {
		case p.Type.Accrues() && p.Status == model.PaymentCompleted:
			sum.TotalCollected = sum.TotalCollected.Add(p.Amount)
		case p.Type.Accrues() && p.Status == model.PaymentPending:
			sum.TotalOutstanding = sum.TotalOutstanding.Add(p.Amount)
		case p.Type == model.PaymentWithdrawal && p.Status == model.PaymentCompleted:
			paidOut[p.Cycle] = true
		}
	}
	sum.CompletedCycles = len(paidOut)
	return sum, nil
}

// loadManaged loads a group and checks that actor may change it.
func (s *GroupService) loadManaged(ctx context.Context, actor Actor, id string) (*model.HuiGroup, error) {
	g, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, g) {
		return nil, fmt.Errorf("group %s: %w", id, ErrForbidden)
	}
	return g, nil
}

func (s *GroupService) memberCount(ctx context.Context, db *gorm.DB, groupID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&model.HuiMember{}).
		Where("group_id = ? AND status <> ?", groupID, model.MemberRemoved).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// visibleGroup loads a group actor may read: admins, its manager and anyone
// holding or having held a seat in it.
func visibleGroup(ctx context.Context, db *gorm.DB, actor Actor, id string) (*model.HuiGroup, error) {
	g, err := loadGroup(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if canManage(actor, g) {
		return g, nil
	}
	var seats int64
	if err := db.WithContext(ctx).Model(&model.HuiMember{}).
		Where("group_id = ? AND user_id = ?", id, actor.UserID).Count(&seats).Error; err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if seats == 0 {
		return nil, fmt.Errorf("group %s: %w", id, ErrForbidden)
	}
	return g, nil
}

func canManage(actor Actor, g *model.HuiGroup) bool {
	return actor.IsAdmin() || (actor.UserID != "" && actor.UserID == g.ManagerID)
}

func memberNotices(members []model.HuiMember, typ model.NotificationType, title, message string) []Notice {
	var out []Notice
	for _, m := range members {
		if m.Status == model.MemberRemoved {
			continue
		}
		out = append(out, Notice{UserID: m.UserID, Type: typ, Title: title, Message: message})
	}
	return out
}

func rulesJSON(raw json.RawMessage) (datatypes.JSON, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, invalidf("rules must be a JSON object")
	}
	return datatypes.JSON(raw), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
