package service

import (
	"bytes"
	"strings"
	"testing"

	"hui-manager/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestAddMember(t *testing.T) {
	f := newFixture(t)
	g, err := f.svc.Groups.Create(f.ctx, f.manager, model.CreateGroupRequest{
		Name: "g", ContributionAmount: decimalOf("50"), StartDate: day0(), CycleLength: 7, TotalMembers: 3,
	})
	require.NoError(t, err)
	a, b, c, d := f.user("A", model.RoleUser), f.user("B", model.RoleUser), f.user("C", model.RoleUser), f.user("D", model.RoleUser)

	mb, err := f.svc.Members.Add(f.ctx, f.manager, g.ID, model.AddMemberRequest{UserID: b.ID, Position: 2, Notes: " cousin "})
	require.NoError(t, err)
	assert.Equal(t, 2, mb.Position)
	assert.Equal(t, "cousin", mb.Notes)
	assert.Equal(t, model.MemberActive, mb.Status)

	ma, err := f.svc.Members.Add(f.ctx, f.manager, g.ID, model.AddMemberRequest{UserID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, ma.Position, "first free slot")

	_, err = f.svc.Members.Add(f.ctx, f.manager, g.ID, model.AddMemberRequest{UserID: a.ID})
	assert.ErrorIs(t, err, ErrConflict, "already a member")
	_, err = f.svc.Members.Add(f.ctx, f.manager, g.ID, model.AddMemberRequest{UserID: c.ID, Position: 2})
	assert.ErrorIs(t, err, ErrConflict, "position taken")
	_, err = f.svc.Members.Add(f.ctx, f.manager, g.ID, model.AddMemberRequest{UserID: c.ID, Position: 4})
	assert.ErrorIs(t, err, ErrInvalidInput, "position out of range")
	_, err = f.svc.Members.Add(f.ctx, f.manager, g.ID, model.AddMemberRequest{UserID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Members.Add(f.ctx, actorOf(d), g.ID, model.AddMemberRequest{UserID: d.ID})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Members.Add(f.ctx, f.manager, g.ID, model.AddMemberRequest{UserID: c.ID})
	require.NoError(t, err)
	_, err = f.svc.Members.Add(f.ctx, f.manager, g.ID, model.AddMemberRequest{UserID: d.ID})
	assert.ErrorIs(t, err, ErrConflict, "group full")

	list, err := f.svc.Members.List(f.ctx, f.manager, g.ID, "")
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, m := range list {
		assert.Equal(t, i+1, m.Position)
		require.NotNil(t, m.User)
	}
	assert.Equal(t, "A", list[0].User.Name)
}

func TestAddInactiveUser(t *testing.T) {
	f := newFixture(t)
	g, _ := f.group(2, day0())
	_, err := f.svc.Groups.Update(f.ctx, f.manager, g.ID, model.UpdateGroupRequest{TotalMembers: intPtr(3)})
	require.NoError(t, err)
	u := f.user("Gone", model.RoleUser)
	require.NoError(t, f.svc.Users.Deactivate(f.ctx, f.admin, u.ID))

	_, err = f.svc.Members.Add(f.ctx, f.manager, g.ID, model.AddMemberRequest{UserID: u.ID})
	assert.ErrorIs(t, err, ErrInactiveUser)
}

func TestUpdateMember(t *testing.T) {
	f := newFixture(t)
	g, members := f.group(3, day0())
	notes := "pays in cash"
	inactive := model.MemberInactive

	m, err := f.svc.Members.Update(f.ctx, f.manager, g.ID, members[0].ID, model.UpdateMemberRequest{Notes: &notes, Status: &inactive})
	require.NoError(t, err)
	assert.Equal(t, notes, m.Notes)
	assert.Equal(t, model.MemberInactive, m.Status)

	active, err := f.svc.Members.List(f.ctx, f.manager, g.ID, model.MemberActive)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	removed := model.MemberRemoved
	_, err = f.svc.Members.Update(f.ctx, f.manager, g.ID, members[0].ID, model.UpdateMemberRequest{Status: &removed})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Members.Update(f.ctx, f.manager, g.ID, members[0].ID, model.UpdateMemberRequest{Position: intPtr(2)})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Cycles.Advance(f.ctx, f.manager, g.ID)
	require.NoError(t, err)
	_, err = f.svc.Members.Update(f.ctx, f.manager, g.ID, members[1].ID, model.UpdateMemberRequest{Position: intPtr(3)})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)
	g, members, opened := f.openCycle(3)
	target := members[1]

	require.NoError(t, f.svc.Members.Remove(f.ctx, f.manager, g.ID, target.ID))
	m := f.member(target.ID)
	assert.Equal(t, model.MemberRemoved, m.Status)
	assert.NotNil(t, m.LeftAt)
	assertDecimal(t, "0", m.TotalDue)

	var pending int64
	require.NoError(t, f.db.Model(&model.Payment{}).Where("member_id = ? AND status = ?", target.ID, model.PaymentPending).Count(&pending).Error)
	assert.Zero(t, pending)

	// Their cancelled contribution leaves the pot.
	payout, err := f.svc.Payments.Get(f.ctx, f.manager, opened.Payout.ID)
	require.NoError(t, err)
	assertDecimal(t, "200", payout.Amount)

	assert.ErrorIs(t, f.svc.Members.Remove(f.ctx, f.manager, g.ID, target.ID), ErrInvalidTransition)

	// A removed member keeps their row, so they cannot rejoin.
	_, err = f.svc.Members.Add(f.ctx, f.manager, g.ID, model.AddMemberRequest{UserID: target.UserID})
	assert.ErrorIs(t, err, ErrConflict)

	// The next cycle skips them.
	f.releasePayout(g.ID, 1)
	payout, err = f.svc.Payments.Get(f.ctx, f.manager, opened.Payout.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, payout.Status)
	assertDecimal(t, "200", payout.Amount)
	res, err := f.svc.Cycles.Advance(f.ctx, f.manager, g.ID)
	require.NoError(t, err)
	assert.Equal(t, members[2].ID, res.Recipient.ID)
	assert.Len(t, res.Contributions, 2)
	assertDecimal(t, "200", res.Payout.Amount)
}

func TestReorderMembers(t *testing.T) {
	f := newFixture(t)
	g, members := f.group(3, day0())

	list, err := f.svc.Members.Reorder(f.ctx, f.manager, g.ID, []string{members[2].ID, members[0].ID, members[1].ID})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, members[2].ID, list[0].ID)
	assert.Equal(t, members[0].ID, list[1].ID)
	assert.Equal(t, members[1].ID, list[2].ID)

	_, err = f.svc.Members.Reorder(f.ctx, f.manager, g.ID, []string{members[0].ID, members[1].ID})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Members.Reorder(f.ctx, f.manager, g.ID, []string{members[0].ID, members[0].ID, members[1].ID})
	assert.ErrorIs(t, err, ErrInvalidInput)

	res, err := f.svc.Cycles.Advance(f.ctx, f.manager, g.ID)
	require.NoError(t, err)
	assert.Equal(t, members[2].ID, res.Recipient.ID)

	_, err = f.svc.Members.Reorder(f.ctx, f.manager, g.ID, []string{members[0].ID, members[1].ID, members[2].ID})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func importSheet(t *testing.T, rows ...[]interface{}) *bytes.Reader {
	t.Helper()
	x := excelize.NewFile()
	defer x.Close()
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, x.SetSheetRow("Sheet1", cell, &r))
	}
	buf, err := x.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func TestImportMembers(t *testing.T) {
	f := newFixture(t)
	g, members := f.group(2, day0())
	_, err := f.svc.Groups.Update(f.ctx, f.manager, g.ID, model.UpdateGroupRequest{TotalMembers: intPtr(5)})
	require.NoError(t, err)
	alice := f.user("Alice", model.RoleUser)
	bob := f.user("Bob", model.RoleUser)
	var existing model.User
	require.NoError(t, f.db.First(&existing, "id = ?", members[0].UserID).Error)

	rows, err := f.svc.Members.ParseImport(f.ctx, f.manager, g.ID, importSheet(t,
		[]interface{}{"Email", "Position", "Notes"},
		[]interface{}{strings.ToUpper(alice.Email), 4, "from sheet"},
		[]interface{}{bob.Email},
		[]interface{}{existing.Email},
		[]interface{}{"stranger@example.com"},
		[]interface{}{"not-an-email"},
		[]interface{}{alice.Email, "first"},
	))
	require.NoError(t, err)
	require.Len(t, rows, 6)

	assert.Equal(t, ImportReady, rows[0].Status)
	assert.Equal(t, alice.ID, rows[0].UserID)
	assert.Equal(t, 4, rows[0].Position)
	assert.Equal(t, "from sheet", rows[0].Notes)
	assert.Equal(t, 2, rows[0].Row)
	assert.Equal(t, ImportReady, rows[1].Status)
	assert.Equal(t, ImportAlreadyMember, rows[2].Status)
	assert.Equal(t, ImportUnknownUser, rows[3].Status)
	assert.Equal(t, ImportInvalid, rows[4].Status)
	assert.Equal(t, ImportInvalid, rows[5].Status)

	res, err := f.svc.Members.ConfirmImport(f.ctx, f.manager, g.ID, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 4, res.Skipped)
	assert.Empty(t, res.Errors)

	list, err := f.svc.Members.List(f.ctx, f.manager, g.ID, "")
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, 3, list[2].Position)
	assert.Equal(t, bob.ID, list[2].UserID)
	assert.Equal(t, alice.ID, list[3].UserID)

	// Confirming the same preview again reports every row as failed.
	res, err = f.svc.Members.ConfirmImport(f.ctx, f.manager, g.ID, rows[:2])
	require.NoError(t, err)
	assert.Zero(t, res.Added)
	assert.Len(t, res.Errors, 2)
}

func TestParseImportRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	g, _ := f.group(2, day0())
	_, err := f.svc.Members.ParseImport(f.ctx, f.manager, g.ID, strings.NewReader("email\nfoo@example.com\n"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	rows, err := f.svc.Members.ParseImport(f.ctx, f.manager, g.ID, importSheet(t, []interface{}{"email"}))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
