package service

import (
	"encoding/json"
	"testing"

	"hui-manager/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsUpsert(t *testing.T) {
	f := newFixture(t)
	s := f.svc.Settings

	st, err := s.Set(f.ctx, f.admin, " grace_days ", json.RawMessage(`3`))
	require.NoError(t, err)
	assert.Equal(t, SettingGraceDays, st.Key)
	assert.JSONEq(t, `3`, string(st.Value))

	st, err = s.Set(f.ctx, f.admin, SettingGraceDays, json.RawMessage(`7`))
	require.NoError(t, err)
	assert.JSONEq(t, `7`, string(st.Value))
	require.NotNil(t, st.UpdatedBy)
	assert.Equal(t, f.admin.UserID, *st.UpdatedBy)

	list, err := s.List(f.ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.Set(f.ctx, f.admin, "", json.RawMessage(`1`))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.Set(f.ctx, f.admin, "broken", json.RawMessage(`{`))
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, s.Delete(f.ctx, f.admin, SettingGraceDays))
	assert.ErrorIs(t, s.Delete(f.ctx, f.admin, SettingGraceDays), ErrNotFound)
	_, err = s.Get(f.ctx, SettingGraceDays)
	assert.ErrorIs(t, err, ErrNotFound)

	logs, err := f.svc.Audit.List(f.ctx, model.AuditFilter{Entity: "SystemSettings"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, logs.Total)
}

func TestSettingsTypedAccessors(t *testing.T) {
	f := newFixture(t)
	s := f.svc.Settings
	set := func(key, value string) {
		_, err := s.Set(f.ctx, f.admin, key, json.RawMessage(value))
		require.NoError(t, err)
	}
	fallback := decimal.NewFromInt(9)

	assertDecimal(t, "9", s.Decimal(f.ctx, "missing", fallback))
	set("num", `2.75`)
	assertDecimal(t, "2.75", s.Decimal(f.ctx, "num", fallback))
	set("str", `" 1.5 "`)
	assertDecimal(t, "1.5", s.Decimal(f.ctx, "str", fallback))
	set("obj", `{"a": 1}`)
	assertDecimal(t, "9", s.Decimal(f.ctx, "obj", fallback))

	assert.Equal(t, 4, s.Int(f.ctx, "missing", 4))
	set("days", `5`)
	assert.Equal(t, 5, s.Int(f.ctx, "days", 4))
	set("days_str", `"6"`)
	assert.Equal(t, 6, s.Int(f.ctx, "days_str", 4))
	assert.Equal(t, 4, s.Int(f.ctx, "num", 4), "fractions are rejected")
}

func TestAuditList(t *testing.T) {
	f := newFixture(t)
	f.svc.Audit.Record(f.ctx, f.admin, ActionUpdate, "Thing", "t1", map[string]any{"k": "v"})
	f.svc.Audit.Record(f.ctx, System, ActionDelete, "Thing", "t2", nil)

	res, err := f.svc.Audit.List(f.ctx, model.AuditFilter{Entity: "Thing"})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Total)

	res, err = f.svc.Audit.List(f.ctx, model.AuditFilter{Entity: "Thing", UserID: f.admin.UserID})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	entry := res.Items[0]
	assert.Equal(t, "t1", entry.EntityID)
	assert.Equal(t, "127.0.0.1", entry.IPAddress)
	assert.JSONEq(t, `{"k": "v"}`, string(entry.Details))

	res, err = f.svc.Audit.List(f.ctx, model.AuditFilter{Action: ActionDelete, EntityID: "t2"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Nil(t, res.Items[0].UserID)
	assert.Empty(t, res.Items[0].Details)

	future := day0().AddDate(5, 0, 0)
	res, err = f.svc.Audit.List(f.ctx, model.AuditFilter{Since: &future})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}
