package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"hui-manager/internal/config"
	"hui-manager/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testPassword = "secret-pass-1"

// fixture is a migrated SQLite database with the full service set and an
// admin and a manager ready to act.
type fixture struct {
	t       *testing.T
	ctx     context.Context
	db      *gorm.DB
	svc     *Services
	admin   Actor
	manager Actor
	users   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "hui.db"), nil)
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{
		t:   t,
		ctx: context.Background(),
		db:  db,
		svc: New(db, Options{
			JWTSecret: "test-secret",
			TokenTTL:  time.Hour,
			Scheduler: SchedulerOptions{ReminderDays: 2, GraceDays: 3, FinePercent: decimal.NewFromInt(5)},
		}),
	}
	f.admin = actorOf(f.user("Admin", model.RoleAdmin))
	f.manager = actorOf(f.user("Manager", model.RoleManager))
	return f
}

func actorOf(u *model.User) Actor { return Actor{UserID: u.ID, Role: u.Role, IP: "127.0.0.1"} }

func (f *fixture) user(name string, role model.Role) *model.User {
	f.t.Helper()
	f.users++
	u, err := f.svc.Users.Create(f.ctx, System, model.CreateUserRequest{
		Email:    fmt.Sprintf("user%d@example.com", f.users),
		Password: testPassword,
		Name:     name,
		Role:     role,
	})
	require.NoError(f.t, err)
	return u
}

// group creates a group managed by f.manager with n members in positions
// 1..n, contributing 100 every 30 days from start.
func (f *fixture) group(n int, start time.Time) (*model.HuiGroup, []*model.HuiMember) {
	f.t.Helper()
	g, err := f.svc.Groups.Create(f.ctx, f.manager, model.CreateGroupRequest{
		Name:               "Test group",
		ContributionAmount: decimal.NewFromInt(100),
		StartDate:          start,
		CycleLength:        30,
		TotalMembers:       n,
	})
	require.NoError(f.t, err)

	members := make([]*model.HuiMember, 0, n)
	for i := 0; i < n; i++ {
		u := f.user(fmt.Sprintf("Member %d", i+1), model.RoleUser)
		m, err := f.svc.Members.Add(f.ctx, f.manager, g.ID, model.AddMemberRequest{UserID: u.ID})
		require.NoError(f.t, err)
		members = append(members, m)
	}
	return g, members
}

func (f *fixture) member(id string) *model.HuiMember {
	f.t.Helper()
	var m model.HuiMember
	require.NoError(f.t, f.db.First(&m, "id = ?", id).Error)
	return &m
}

func (f *fixture) reloadGroup(id string) *model.HuiGroup {
	f.t.Helper()
	g, err := loadGroup(f.ctx, f.db, id)
	require.NoError(f.t, err)
	return g
}

// payCycle verifies every contribution of cycle in group.
func (f *fixture) payCycle(groupID string, cycle int) {
	f.t.Helper()
	var pending []model.Payment
	require.NoError(f.t, f.db.Where("group_id = ? AND cycle = ? AND type = ? AND status = ?",
		groupID, cycle, model.PaymentContribution, model.PaymentPending).Find(&pending).Error)
	for _, p := range pending {
		_, err := f.svc.Payments.Verify(f.ctx, f.manager, p.ID, model.PaymentActionRequest{})
		require.NoError(f.t, err)
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func day0() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func decimalOf(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(n int) *int { return &n }
