package service

import (
	"context"
	"fmt"
	"strings"

	"hui-manager/internal/model"

	"gorm.io/gorm"
)

type UserService struct {
	db    *gorm.DB
	audit *AuditService
}

func NewUserService(db *gorm.DB, audit *AuditService) *UserService {
	return &UserService{db: db, audit: audit}
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, dbErr(err, "user "+id)
	}
	return &u, nil
}

func (s *UserService) List(ctx context.Context, f model.UserFilter) (*model.ListResponse[model.User], error) {
	q := s.db.WithContext(ctx).Model(&model.User{})
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if f.Active != nil {
		q = q.Where("active = ?", *f.Active)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(name) LIKE ? OR email LIKE ?", like, like)
	}
	res, err := paginate[model.User](q, f.Page, "created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return res, nil
}

func (s *UserService) Count(ctx context.Context) (map[model.Role]int64, error) {
	var rows []struct {
		Role  model.Role
		Count int64
	}
	if err := s.db.WithContext(ctx).Model(&model.User{}).
		Select("role, COUNT(*) AS count").Group("role").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	out := make(map[model.Role]int64, len(rows))
	for _, r := range rows {
		out[r.Role] = r.Count
	}
	return out, nil
}

func (s *UserService) Create(ctx context.Context, actor Actor, req model.CreateUserRequest) (*model.User, error) {
	u, err := createUser(ctx, s.db, req)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, ActionCreate, "User", u.ID, map[string]any{"email": u.Email, "role": u.Role})
	return u, nil
}

func (s *UserService) Update(ctx context.Context, actor Actor, id string, req model.UpdateUserRequest) (*model.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalidf("name must not be empty")
		}
		updates["name"] = name
	}
	if req.Phone != nil {
		updates["phone"] = strings.TrimSpace(*req.Phone)
	}
	if req.Avatar != nil {
		updates["avatar"] = *req.Avatar
	}
	if req.Role != nil {
		if !req.Role.Valid() {
			return nil, invalidf("unknown role %q", *req.Role)
		}
		updates["role"] = *req.Role
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) == 0 {
		return u, nil
	}

	if err := s.db.WithContext(ctx).Model(u).Updates(updates).Error; err != nil {
		return nil, dbErr(err, "update user "+id)
	}
	s.audit.Record(ctx, actor, ActionUpdate, "User", id, updates)
	return s.Get(ctx, id)
}

func (s *UserService) Deactivate(ctx context.Context, actor Actor, id string) error {
	active := false
	_, err := s.Update(ctx, actor, id, model.UpdateUserRequest{Active: &active})
	return err
}

// Delete removes a user that owns no groups and no payments; anyone with
// history must be deactivated instead.
func (s *UserService) Delete(ctx context.Context, actor Actor, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	var managed, payments int64
	db := s.db.WithContext(ctx)
	if err := db.Model(&model.HuiGroup{}).Where("manager_id = ?", id).Count(&managed).Error; err != nil {
		return fmt.Errorf("count managed groups: %w", err)
	}
	if err := db.Model(&model.Payment{}).Where("user_id = ?", id).Count(&payments).Error; err != nil {
		return fmt.Errorf("count payments: %w", err)
	}
	if managed > 0 || payments > 0 {
		return fmt.Errorf("user %s manages %d groups and has %d payments: %w", id, managed, payments, ErrConflict)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&model.HuiMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.Notification{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.User{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	s.audit.Record(ctx, actor, ActionDelete, "User", id, nil)
	return nil
}

func createUser(ctx context.Context, db *gorm.DB, req model.CreateUserRequest) (*model.User, error) {
	email := normalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)
	if email == "" || !strings.Contains(email, "@") {
		return nil, invalidf("a valid email is required")
	}
	if name == "" {
		return nil, invalidf("name is required")
	}
	role := req.Role
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return nil, invalidf("unknown role %q", role)
	}

	var exists int64
	if err := db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("email %s: %w", email, ErrConflict)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:    email,
		Password: hash,
		Name:     name,
		Role:     role,
		Phone:    strings.TrimSpace(req.Phone),
		Avatar:   req.Avatar,
		Active:   true,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, dbErr(err, "create user")
	}
	return u, nil
}
