package service

import (
	"encoding/json"
	"testing"

	"hui-manager/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	g, err := f.svc.Groups.Create(f.ctx, f.manager, model.CreateGroupRequest{
		Name:               "  Friday hui ",
		ContributionAmount: decimal.RequireFromString("250.456"),
		StartDate:          day0(),
		CycleLength:        7,
		TotalMembers:       5,
		Rules:              json.RawMessage(`{"fine_percent": "10"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "Friday hui", g.Name)
	assert.Equal(t, model.GroupActive, g.Status)
	assert.Equal(t, f.manager.UserID, g.ManagerID)
	assert.Equal(t, 0, g.CurrentCycle)
	assertDecimal(t, "250.46", g.ContributionAmount)
	require.NotNil(t, g.NextPaymentDate)
	assert.True(t, g.NextPaymentDate.Equal(day0()))

	got, err := f.svc.Groups.Get(f.ctx, f.manager, g.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Manager)
	assert.Equal(t, "Manager", got.Manager.Name)
	assert.JSONEq(t, `{"fine_percent": "10"}`, string(got.Rules))
}

func TestCreateGroupValidation(t *testing.T) {
	f := newFixture(t)
	valid := model.CreateGroupRequest{
		Name: "g", ContributionAmount: decimal.NewFromInt(10), StartDate: day0(), CycleLength: 30, TotalMembers: 3,
	}
	mutate := func(fn func(*model.CreateGroupRequest)) model.CreateGroupRequest {
		r := valid
		fn(&r)
		return r
	}
	cases := []struct {
		name string
		req  model.CreateGroupRequest
	}{
		{"zero amount", mutate(func(r *model.CreateGroupRequest) { r.ContributionAmount = decimal.Zero })},
		{"negative amount", mutate(func(r *model.CreateGroupRequest) { r.ContributionAmount = decimal.NewFromInt(-5) })},
		{"no cycle length", mutate(func(r *model.CreateGroupRequest) { r.CycleLength = 0 })},
		{"one member", mutate(func(r *model.CreateGroupRequest) { r.TotalMembers = 1 })},
		{"rules not object", mutate(func(r *model.CreateGroupRequest) { r.Rules = json.RawMessage(`[1,2]`) })},
		{"end before start", mutate(func(r *model.CreateGroupRequest) { end := day0().AddDate(0, 0, -1); r.EndDate = &end })},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Groups.Create(f.ctx, f.manager, tc.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	// Plain users cannot manage, and only admins assign other managers.
	u := f.user("Plain", model.RoleUser)
	_, err := f.svc.Groups.Create(f.ctx, actorOf(u), valid)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Groups.Create(f.ctx, f.manager, mutate(func(r *model.CreateGroupRequest) { r.ManagerID = f.admin.UserID }))
	assert.ErrorIs(t, err, ErrForbidden)
	g, err := f.svc.Groups.Create(f.ctx, f.admin, mutate(func(r *model.CreateGroupRequest) { r.ManagerID = f.manager.UserID }))
	require.NoError(t, err)
	assert.Equal(t, f.manager.UserID, g.ManagerID)
}

func TestUpdateGroupFreezesEconomics(t *testing.T) {
	f := newFixture(t)
	g, _ := f.group(3, day0())

	amount := decimal.NewFromInt(200)
	updated, err := f.svc.Groups.Update(f.ctx, f.manager, g.ID, model.UpdateGroupRequest{ContributionAmount: &amount})
	require.NoError(t, err)
	assertDecimal(t, "200", updated.ContributionAmount)

	tooSmall := 2
	_, err = f.svc.Groups.Update(f.ctx, f.manager, g.ID, model.UpdateGroupRequest{TotalMembers: &tooSmall})
	assert.ErrorIs(t, err, ErrInvalidInput)

	outsider := actorOf(f.user("Other manager", model.RoleManager))
	name := "hijack"
	_, err = f.svc.Groups.Update(f.ctx, outsider, g.ID, model.UpdateGroupRequest{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Cycles.Advance(f.ctx, f.manager, g.ID)
	require.NoError(t, err)

	_, err = f.svc.Groups.Update(f.ctx, f.manager, g.ID, model.UpdateGroupRequest{ContributionAmount: &amount})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	renamed, err := f.svc.Groups.Update(f.ctx, f.manager, g.ID, model.UpdateGroupRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, renamed.Name)
}

func TestCancelGroupVoidsPendingPayments(t *testing.T) {
	f := newFixture(t)
	g, members := f.group(3, day0())
	_, err := f.svc.Cycles.Advance(f.ctx, f.manager, g.ID)
	require.NoError(t, err)

	got, err := f.svc.Groups.SetStatus(f.ctx, f.manager, g.ID, model.GroupCancelled)
	require.NoError(t, err)
	assert.Equal(t, model.GroupCancelled, got.Status)
	assert.NotNil(t, got.EndDate)

	var pending int64
	require.NoError(t, f.db.Model(&model.Payment{}).Where("group_id = ? AND status = ?", g.ID, model.PaymentPending).Count(&pending).Error)
	assert.Zero(t, pending)
	for _, m := range members {
		assertDecimal(t, "0", f.member(m.ID).TotalDue)
	}

	_, err = f.svc.Groups.SetStatus(f.ctx, f.manager, g.ID, model.GroupActive)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Groups.SetStatus(f.ctx, f.manager, g.ID, model.GroupCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeleteGroup(t *testing.T) {
	f := newFixture(t)
	g, _ := f.group(2, day0())
	_, err := f.svc.Cycles.Advance(f.ctx, f.manager, g.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Groups.Delete(f.ctx, f.manager, g.ID))
	_, err = f.svc.Groups.Get(f.ctx, f.manager, g.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	g2, _ := f.group(2, day0())
	_, err = f.svc.Cycles.Advance(f.ctx, f.manager, g2.ID)
	require.NoError(t, err)
	f.payCycle(g2.ID, 1)
	assert.ErrorIs(t, f.svc.Groups.Delete(f.ctx, f.manager, g2.ID), ErrConflict)
}

func TestListGroups(t *testing.T) {
	f := newFixture(t)
	g, members := f.group(2, day0())
	f.group(2, day0())

	res, err := f.svc.Groups.List(f.ctx, f.admin, model.GroupFilter{ManagerID: f.manager.UserID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)

	res, err = f.svc.Groups.List(f.ctx, f.admin, model.GroupFilter{MemberID: members[0].UserID})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, g.ID, res.Items[0].ID)

	res, err = f.svc.Groups.List(f.ctx, f.admin, model.GroupFilter{Status: model.GroupCompleted})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestGroupReadScope(t *testing.T) {
	f := newFixture(t)
	g, members := f.group(2, day0())
	f.group(2, day0())
	outsider := actorOf(f.user("Outsider", model.RoleUser))
	rival := actorOf(f.user("Rival", model.RoleManager))
	seat := Actor{UserID: members[0].UserID, Role: model.RoleUser}

	for _, a := range []Actor{outsider, rival} {
		_, err := f.svc.Groups.Get(f.ctx, a, g.ID)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = f.svc.Groups.Summary(f.ctx, a, g.ID)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = f.svc.Members.List(f.ctx, a, g.ID, "")
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = f.svc.Cycles.Schedule(f.ctx, a, g.ID)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = f.svc.Cycles.Recipient(f.ctx, a, g.ID, 1)
		assert.ErrorIs(t, err, ErrForbidden)

		res, err := f.svc.Groups.List(f.ctx, a, model.GroupFilter{})
		require.NoError(t, err)
		assert.Zero(t, res.Total)
	}

	got, err := f.svc.Groups.Get(f.ctx, seat, g.ID)
	require.NoError(t, err)
	assert.Len(t, got.Members, 2)
	res, err := f.svc.Groups.List(f.ctx, seat, model.GroupFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Total)
	assert.Equal(t, g.ID, res.Items[0].ID)

	res, err = f.svc.Groups.List(f.ctx, f.manager, model.GroupFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)

	// Removed members keep read access to the group's history.
	require.NoError(t, f.svc.Members.Remove(f.ctx, f.manager, g.ID, members[0].ID))
	_, err = f.svc.Groups.Summary(f.ctx, seat, g.ID)
	assert.NoError(t, err)
}

func TestGroupSummary(t *testing.T) {
	f := newFixture(t)
	g, _ := f.group(3, day0())
	_, err := f.svc.Cycles.Advance(f.ctx, f.manager, g.ID)
	require.NoError(t, err)

	var first model.Payment
	require.NoError(t, f.db.Where("group_id = ? AND type = ?", g.ID, model.PaymentContribution).First(&first).Error)
	_, err = f.svc.Payments.Verify(f.ctx, f.manager, first.ID, model.PaymentActionRequest{})
	require.NoError(t, err)

	sum, err := f.svc.Groups.Summary(f.ctx, f.manager, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CurrentCycle)
	assert.Equal(t, 3, sum.ActiveMembers)
	assertDecimal(t, "300", sum.PotSize)
	assertDecimal(t, "100", sum.TotalCollected)
	assertDecimal(t, "200", sum.TotalOutstanding)
	assert.Equal(t, 0, sum.CompletedCycles)
	assert.EqualValues(t, 3, sum.PaymentsByStatus[model.PaymentPending])
	assert.EqualValues(t, 1, sum.PaymentsByStatus[model.PaymentCompleted])
}
