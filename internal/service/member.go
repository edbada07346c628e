package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"hui-manager/internal/logger"
	"hui-manager/internal/model"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type MemberService struct {
	db     *gorm.DB
	audit  *AuditService
	notify *NotificationService
}

func NewMemberService(db *gorm.DB, audit *AuditService, notify *NotificationService) *MemberService {
	return &MemberService{db: db, audit: audit, notify: notify}
}

// Add enrolls a user in a group. Position 0 takes the next free slot.
func (s *MemberService) Add(ctx context.Context, actor Actor, groupID string, req model.AddMemberRequest) (*model.HuiMember, error) {
	g, err := s.managedGroup(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", req.UserID).Error; err != nil {
		return nil, dbErr(err, "user "+req.UserID)
	}
	if !u.Active {
		return nil, fmt.Errorf("user %s: %w", u.ID, ErrInactiveUser)
	}

	m := &model.HuiMember{
		UserID:          u.ID,
		GroupID:         groupID,
		Status:          model.MemberActive,
		JoinedAt:        time.Now().UTC(),
		Position:        req.Position,
		TotalPaid:       decimal.Zero,
		TotalDue:        decimal.Zero,
		NextPaymentDate: g.NextPaymentDate,
		Notes:           strings.TrimSpace(req.Notes),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.HuiMember{}).Where("user_id = ? AND group_id = ?", u.ID, groupID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("user %s is already in group %s: %w", u.ID, groupID, ErrConflict)
		}

		current, err := s.members(tx, groupID)
		if err != nil {
			return err
		}
		if len(current) >= g.TotalMembers {
			return fmt.Errorf("group %s is full (%d members): %w", groupID, g.TotalMembers, ErrConflict)
		}
		if m.Position == 0 {
			m.Position = nextPosition(current)
		} else if err := checkPosition(current, m.Position, "", g.TotalMembers); err != nil {
			return err
		}
		return tx.Create(m).Error
	})
	if err != nil {
		return nil, dbErr(err, "add member")
	}

	s.audit.Record(ctx, actor, ActionCreate, "HuiMember", m.ID, map[string]any{
		"group_id": groupID, "user_id": u.ID, "position": m.Position,
	})
	s.notify.notifyQuietly(ctx, []Notice{{
		UserID:  u.ID,
		Type:    model.NotifyGroupUpdate,
		Title:   "You joined " + g.Name,
		Message: fmt.Sprintf("Your position in the rotation is %d; contributions are %s every %d days.", m.Position, g.ContributionAmount.StringFixed(2), g.CycleLength),
	}})
	m.User = &u
	return m, nil
}

func (s *MemberService) Get(ctx context.Context, groupID, id string) (*model.HuiMember, error) {
	var m model.HuiMember
	if err := s.db.WithContext(ctx).Preload("User").First(&m, "id = ? AND group_id = ?", id, groupID).Error; err != nil {
		return nil, dbErr(err, "member "+id)
	}
	return &m, nil
}

func (s *MemberService) List(ctx context.Context, actor Actor, groupID string, status model.MemberStatus) ([]model.HuiMember, error) {
	if _, err := visibleGroup(ctx, s.db, actor, groupID); err != nil {
		return nil, err
	}
	return s.list(ctx, groupID, status)
}

func (s *MemberService) list(ctx context.Context, groupID string, status model.MemberStatus) ([]model.HuiMember, error) {
	q := s.db.WithContext(ctx).Preload("User").Where("group_id = ?", groupID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	out := []model.HuiMember{}
	if err := q.Order("position").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return out, nil
}

func (s *MemberService) Update(ctx context.Context, actor Actor, groupID, id string, req model.UpdateMemberRequest) (*model.HuiMember, error) {
	g, err := s.managedGroup(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	m, err := s.Get(ctx, groupID, id)
	if err != nil {
		return nil, err
	}
	if m.Status == model.MemberRemoved {
		return nil, fmt.Errorf("member %s was removed: %w", id, ErrInvalidTransition)
	}

	updates := map[string]interface{}{}
	if req.Notes != nil {
		updates["notes"] = strings.TrimSpace(*req.Notes)
	}
	if req.Status != nil {
		st := *req.Status
		if st != model.MemberActive && st != model.MemberInactive {
			return nil, fmt.Errorf("member %s: %s -> %s: %w", id, m.Status, st, ErrInvalidTransition)
		}
		updates["status"] = st
	}
	if req.Position != nil && *req.Position != m.Position {
		if g.CurrentCycle > 0 {
			return nil, fmt.Errorf("positions are fixed once cycle 1 is open: %w", ErrInvalidTransition)
		}
		current, err := s.members(s.db.WithContext(ctx), groupID)
		if err != nil {
			return nil, err
		}
		if err := checkPosition(current, *req.Position, id, g.TotalMembers); err != nil {
			return nil, err
		}
		updates["position"] = *req.Position
	}
	if len(updates) == 0 {
		return m, nil
	}

	if err := s.db.WithContext(ctx).Model(&model.HuiMember{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, dbErr(err, "update member "+id)
	}
	s.audit.Record(ctx, actor, ActionUpdate, "HuiMember", id, updates)
	return s.Get(ctx, groupID, id)
}

// Remove takes a member out of the rotation and cancels their pending
// payments. The row is kept for history.
func (s *MemberService) Remove(ctx context.Context, actor Actor, groupID, id string) error {
	g, err := s.managedGroup(ctx, actor, groupID)
	if err != nil {
		return err
	}
	m, err := s.Get(ctx, groupID, id)
	if err != nil {
		return err
	}
	if m.Status == model.MemberRemoved {
		return fmt.Errorf("member %s already removed: %w", id, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	var cancelled int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []model.Payment
		if err := tx.Where("member_id = ? AND status = ?", id, model.PaymentPending).Find(&pending).Error; err != nil {
			return err
		}
		for i := range pending {
			if err := cancelPayment(tx, &pending[i], actor.UserID, "member removed", now); err != nil {
				return err
			}
		}
		cancelled = len(pending)
		return tx.Model(&model.HuiMember{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":            model.MemberRemoved,
			"left_at":           now,
			"next_payment_date": nil,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("remove member %s: %w", id, err)
	}

	s.audit.Record(ctx, actor, ActionDelete, "HuiMember", id, map[string]any{"cancelled_payments": cancelled})
	s.notify.notifyQuietly(ctx, []Notice{{
		UserID:  m.UserID,
		Type:    model.NotifyGroupUpdate,
		Title:   "You left " + g.Name,
		Message: fmt.Sprintf("You were removed from %s; %d pending payments were cancelled.", g.Name, cancelled),
	}})
	return nil
}

// Reorder rewrites positions 1..n in the given order. Every member that is
// not removed must be listed exactly once.
func (s *MemberService) Reorder(ctx context.Context, actor Actor, groupID string, memberIDs []string) ([]model.HuiMember, error) {
	g, err := s.managedGroup(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	if g.CurrentCycle > 0 {
		return nil, fmt.Errorf("positions are fixed once cycle 1 is open: %w", ErrInvalidTransition)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.members(tx, groupID)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(current))
		for _, m := range current {
			known[m.ID] = true
		}
		if len(memberIDs) != len(current) {
			return invalidf("expected %d member ids, got %d", len(current), len(memberIDs))
		}
		seen := make(map[string]bool, len(memberIDs))
		for _, id := range memberIDs {
			if !known[id] || seen[id] {
				return invalidf("member %s is unknown or listed twice", id)
			}
			seen[id] = true
		}
		for i, id := range memberIDs {
			if err := tx.Model(&model.HuiMember{}).Where("id = ?", id).Update("position", i+1).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reorder group %s: %w", groupID, err)
	}
	s.audit.Record(ctx, actor, ActionUpdate, "HuiGroup", groupID, map[string]any{"order": memberIDs})
	return s.list(ctx, groupID, "")
}

// ImportRow is one line of a member import sheet.
type ImportRow struct {
	Row      int    `json:"row"`
	Email    string `json:"email"`
	Position int    `json:"position,omitempty"`
	Notes    string `json:"notes,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

const (
	ImportReady         = "ready"
	ImportUnknownUser   = "unknown_user"
	ImportAlreadyMember = "already_member"
	ImportInvalid       = "invalid"
)

type ImportResult struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// ParseImport reads an xlsx workbook whose first sheet lists members as
// (email, position, notes) and matches every email to a user.
func (s *MemberService) ParseImport(ctx context.Context, actor Actor, groupID string, r io.Reader) ([]ImportRow, error) {
	if _, err := s.managedGroup(ctx, actor, groupID); err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, invalidf("not a valid xlsx file: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, invalidf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, invalidf("read sheet %s: %v", sheets[0], err)
	}

	var out []ImportRow
	for i, cells := range rows {
		cell := func(n int) string {
			if n < len(cells) {
				return strings.TrimSpace(cells[n])
			}
			return ""
		}
		email := normalizeEmail(cell(0))
		if email == "" || (i == 0 && strings.EqualFold(email, "email")) {
			continue
		}
		row := ImportRow{Row: i + 1, Email: email, Notes: cell(2), Status: ImportReady}
		if p := cell(1); p != "" {
			pos, err := strconv.Atoi(p)
			if err != nil || pos < 1 {
				row.Status, row.Error = ImportInvalid, "position must be a positive number"
			}
			row.Position = pos
		}
		if !strings.Contains(email, "@") {
			row.Status, row.Error = ImportInvalid, "not an email address"
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		return []ImportRow{}, nil
	}

	emails := make([]string, 0, len(out))
	for _, r := range out {
		emails = append(emails, r.Email)
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("email IN ?", emails).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("match users: %w", err)
	}
	byEmail := make(map[string]model.User, len(users))
	for _, u := range users {
		byEmail[u.Email] = u
	}
	var memberIDs []string
	if err := s.db.WithContext(ctx).Model(&model.HuiMember{}).Where("group_id = ?", groupID).
		Pluck("user_id", &memberIDs).Error; err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	inGroup := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		inGroup[id] = true
	}

	for i := range out {
		r := &out[i]
		if r.Status != ImportReady {
			continue
		}
		u, ok := byEmail[r.Email]
		switch {
		case !ok:
			r.Status, r.Error = ImportUnknownUser, "no user with this email"
		case !u.Active:
			r.Status, r.Error = ImportUnknownUser, "user is inactive"
		case inGroup[u.ID]:
			r.Status, r.Error = ImportAlreadyMember, "already a member"
			r.UserID, r.Name = u.ID, u.Name
		default:
			r.UserID, r.Name = u.ID, u.Name
		}
	}
	logger.Info("member.import parsed", "group", groupID, "rows", len(out))
	return out, nil
}

// ConfirmImport adds every ready row. Rows that fail are reported and do
// not stop the rest.
func (s *MemberService) ConfirmImport(ctx context.Context, actor Actor, groupID string, rows []ImportRow) (*ImportResult, error) {
	if _, err := s.managedGroup(ctx, actor, groupID); err != nil {
		return nil, err
	}
	res := &ImportResult{}
	for _, r := range rows {
		if r.Status != ImportReady || r.UserID == "" {
			res.Skipped++
			continue
		}
		_, err := s.Add(ctx, actor, groupID, model.AddMemberRequest{UserID: r.UserID, Position: r.Position, Notes: r.Notes})
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("row %d (%s): %v", r.Row, r.Email, err))
			continue
		}
		res.Added++
	}
	s.audit.Record(ctx, actor, ActionImport, "HuiGroup", groupID, map[string]any{"added": res.Added, "skipped": res.Skipped})
	return res, nil
}

func (s *MemberService) managedGroup(ctx context.Context, actor Actor, groupID string) (*model.HuiGroup, error) {
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
	return g, nil
}

// members returns the members of a group that were not removed.
func (s *MemberService) members(db *gorm.DB, groupID string) ([]model.HuiMember, error) {
	var out []model.HuiMember
	if err := db.Where("group_id = ? AND status <> ?", groupID, model.MemberRemoved).
		Order("position").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	return out, nil
}

func nextPosition(members []model.HuiMember) int {
	taken := make(map[int]bool, len(members))
	for _, m := range members {
		taken[m.Position] = true
	}
	for p := 1; ; p++ {
		if !taken[p] {
			return p
		}
	}
}

func checkPosition(members []model.HuiMember, pos int, self string, limit int) error {
	if pos < 1 || pos > limit {
		return invalidf("position must be between 1 and %d", limit)
	}
	for _, m := range members {
		if m.Position == pos && m.ID != self {
			return fmt.Errorf("position %d is taken: %w", pos, ErrConflict)
		}
	}
	return nil
}
