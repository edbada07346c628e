package service

import (
	"testing"

	"hui-manager/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		req  model.CreateUserRequest
		want error
	}{
		{"missing email", model.CreateUserRequest{Password: testPassword, Name: "x"}, ErrInvalidInput},
		{"bad email", model.CreateUserRequest{Email: "nope", Password: testPassword, Name: "x"}, ErrInvalidInput},
		{"missing name", model.CreateUserRequest{Email: "a@b.c", Password: testPassword}, ErrInvalidInput},
		{"bad role", model.CreateUserRequest{Email: "a@b.c", Password: testPassword, Name: "x", Role: "ROOT"}, ErrInvalidInput},
		{"short password", model.CreateUserRequest{Email: "a@b.c", Password: "123", Name: "x"}, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Users.Create(f.ctx, f.admin, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestUniqueEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Users.Create(f.ctx, f.admin, model.CreateUserRequest{Email: "dup@example.com", Password: testPassword, Name: "One"})
	require.NoError(t, err)
	_, err = f.svc.Users.Create(f.ctx, f.admin, model.CreateUserRequest{Email: "DUP@example.com", Password: testPassword, Name: "Two"})
	assert.ErrorIs(t, err, ErrConflict)

	// The unique index holds even when the pre-check is bypassed.
	err = f.db.Create(&model.User{Email: "dup@example.com", Password: "x", Name: "Three", Role: model.RoleUser}).Error
	assert.Error(t, err)
}

func TestUserListAndUpdate(t *testing.T) {
	f := newFixture(t)
	alice := f.user("Alice Nguyen", model.RoleUser)
	f.user("Bob Tran", model.RoleUser)

	res, err := f.svc.Users.List(f.ctx, model.UserFilter{Search: "nguyen"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, alice.ID, res.Items[0].ID)

	res, err = f.svc.Users.List(f.ctx, model.UserFilter{Role: model.RoleUser, Page: model.Page{PageSize: 1}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)
	assert.Len(t, res.Items, 1)

	name, role := "Alice N.", model.RoleManager
	u, err := f.svc.Users.Update(f.ctx, f.admin, alice.ID, model.UpdateUserRequest{Name: &name, Role: &role})
	require.NoError(t, err)
	assert.Equal(t, name, u.Name)
	assert.Equal(t, model.RoleManager, u.Role)

	bad := model.Role("BOSS")
	_, err = f.svc.Users.Update(f.ctx, f.admin, alice.ID, model.UpdateUserRequest{Role: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)

	counts, err := f.svc.Users.Count(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[model.RoleAdmin])
	assert.EqualValues(t, 2, counts[model.RoleManager])
	assert.EqualValues(t, 1, counts[model.RoleUser])

	_, err = f.svc.Users.Get(f.ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	u := f.user("Temp", model.RoleUser)
	require.NoError(t, f.svc.Users.Delete(f.ctx, f.admin, u.ID))
	_, err := f.svc.Users.Get(f.ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// A manager of a group has history and can only be deactivated.
	f.group(2, day0())
	err = f.svc.Users.Delete(f.ctx, f.admin, f.manager.UserID)
	assert.ErrorIs(t, err, ErrConflict)
}
