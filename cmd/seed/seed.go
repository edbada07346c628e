package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hui-manager/internal/config"
	"hui-manager/internal/logger"
	"hui-manager/internal/model"
	"hui-manager/internal/service"

	"gorm.io/gorm"
)

// seedAdmin creates the first ADMIN unless one already exists.
func seedAdmin(ctx context.Context, db *gorm.DB, users *service.UserService, email, password, name string) (*model.User, error) {
	var existing model.User
	err := db.WithContext(ctx).Where("role = ?", model.RoleAdmin).Order("created_at").First(&existing).Error
	if err == nil {
		logger.Info("seed: admin already exists, skipping", "email", existing.Email)
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find admin: %w", err)
	}
	if password == "" {
		return nil, errors.New("no admin exists yet: -password is required")
	}

	u, err := users.Create(ctx, service.System, model.CreateUserRequest{
		Email:    email,
		Password: password,
		Name:     name,
		Role:     model.RoleAdmin,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("seed: admin created", "id", u.ID, "email", u.Email)
	return u, nil
}

// seedSettings stores the scheduler defaults as system settings, leaving
// values an admin already changed untouched.
func seedSettings(ctx context.Context, settings *service.SettingsService, sc config.SchedulerConfig) error {
	defaults := []struct {
		key   string
		value any
	}{
		{service.SettingFinePercent, strings.TrimSpace(sc.FinePercent)},
		{service.SettingGraceDays, sc.GraceDays},
		{service.SettingReminderDays, sc.ReminderDays},
	}
	for _, d := range defaults {
		_, err := settings.Get(ctx, d.key)
		if err == nil {
			logger.Info("seed: setting exists, skipping", "key", d.key)
			continue
		}
		if !errors.Is(err, service.ErrNotFound) {
			return err
		}
		raw, err := json.Marshal(d.value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", d.key, err)
		}
		if _, err := settings.Set(ctx, service.System, d.key, raw); err != nil {
			return err
		}
		logger.Info("seed: setting created", "key", d.key, "value", string(raw))
	}
	return nil
}
