package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentStatusTransitions(t *testing.T) {
	statuses := []PaymentStatus{PaymentPending, PaymentCompleted, PaymentCancelled}
	allowed := map[[2]PaymentStatus]bool{
		{PaymentPending, PaymentCompleted}: true,
		{PaymentPending, PaymentCancelled}: true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			assert.Equal(t, allowed[[2]PaymentStatus{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, PaymentStatus("LOST").Valid())
}

func TestPaymentTypeAccrues(t *testing.T) {
	assert.True(t, PaymentContribution.Accrues())
	assert.True(t, PaymentFine.Accrues())
	assert.False(t, PaymentWithdrawal.Accrues())
	assert.True(t, PaymentWithdrawal.Valid())
	assert.False(t, PaymentType("REFUND").Valid())
}

func TestEnumsValid(t *testing.T) {
	assert.True(t, RoleManager.Valid())
	assert.False(t, Role("admin").Valid())
	assert.True(t, GroupCancelled.Valid())
	assert.False(t, GroupStatus("PAUSED").Valid())
	assert.True(t, MemberRemoved.Valid())
	assert.False(t, MemberStatus("").Valid())
	assert.True(t, NotifySystem.Valid())
	assert.False(t, NotificationType("EMAIL").Valid())
}

func TestPageNormalize(t *testing.T) {
	cases := []struct {
		in         Page
		want       Page
		wantOffset int
	}{
		{Page{}, Page{Page: 1, PageSize: DefaultPageSize}, 0},
		{Page{Page: 3, PageSize: 10}, Page{Page: 3, PageSize: 10}, 20},
		{Page{Page: -1, PageSize: 1000}, Page{Page: 1, PageSize: MaxPageSize}, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.in.Normalize())
		assert.Equal(t, tc.wantOffset, tc.in.Offset())
	}
}
