package service

import (
	"context"
	"fmt"
	"time"

	"hui-manager/internal/model"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	sheetMembers  = "Members"
	sheetPayments = "Payments"
)

type ReportService struct {
	db *gorm.DB
}

func NewReportService(db *gorm.DB) *ReportService { return &ReportService{db: db} }

// ExportGroupLedger renders a group's members and payments as an xlsx
// workbook. Only admins and the group's manager may export.
func (s *ReportService) ExportGroupLedger(ctx context.Context, actor Actor, groupID string) ([]byte, error) {
	g, err := loadGroup(ctx, s.db, groupID)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, g) {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrForbidden)
	}
	var members []model.HuiMember
	if err := s.db.WithContext(ctx).Preload("User").Where("group_id = ?", groupID).
		Order("position").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	var payments []model.Payment
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).
		Order("cycle, type, due_date").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}

	names := make(map[string]string, len(members))
	for _, m := range members {
		if m.User != nil {
			names[m.ID] = m.User.Name
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetMembers); err != nil {
		return nil, err
	}
	if err := writeRow(f, sheetMembers, 1, "Position", "Name", "Email", "Status", "Total paid", "Total due", "Joined"); err != nil {
		return nil, err
	}
	for i, m := range members {
		var name, email string
		if m.User != nil {
			name, email = m.User.Name, m.User.Email
		}
		paid, _ := m.TotalPaid.Float64()
		due, _ := m.TotalDue.Float64()
		if err := writeRow(f, sheetMembers, i+2,
			m.Position, name, email, string(m.Status), paid, due, day(&m.JoinedAt)); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(sheetPayments); err != nil {
		return nil, err
	}
	if err := writeRow(f, sheetPayments, 1, "Cycle", "Member", "Type", "Status", "Amount", "Due date", "Paid date", "Verified at"); err != nil {
		return nil, err
	}
	for i, p := range payments {
		amount, _ := p.Amount.Float64()
		if err := writeRow(f, sheetPayments, i+2,
			p.Cycle, names[p.MemberID], string(p.Type), string(p.Status), amount,
			day(&p.DueDate), day(p.PaidDate), day(p.VerifiedAt)); err != nil {
			return nil, err
		}
	}

	f.SetDocProps(&excelize.DocProperties{Title: g.Name + " ledger", Creator: "hui-manager"})
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func day(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
