package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hui-manager/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Well-known setting keys read by the scheduler.
const (
	SettingFinePercent  = "fine_percent"
	SettingGraceDays    = "grace_days"
	SettingReminderDays = "reminder_days"
)

type SettingsService struct {
	db    *gorm.DB
	audit *AuditService
}

func NewSettingsService(db *gorm.DB, audit *AuditService) *SettingsService {
	return &SettingsService{db: db, audit: audit}
}

func (s *SettingsService) Get(ctx context.Context, key string) (*model.SystemSettings, error) {
	var st model.SystemSettings
	if err := s.db.WithContext(ctx).Where("`key` = ?", key).First(&st).Error; err != nil {
		return nil, dbErr(err, "setting "+key)
	}
	return &st, nil
}

func (s *SettingsService) List(ctx context.Context) ([]model.SystemSettings, error) {
	out := []model.SystemSettings{}
	if err := s.db.WithContext(ctx).Order("`key`").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return out, nil
}

// Set upserts key with a JSON value.
func (s *SettingsService) Set(ctx context.Context, actor Actor, key string, value json.RawMessage) (*model.SystemSettings, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, invalidf("setting key is required")
	}
	if !json.Valid(value) {
		return nil, invalidf("setting %s: value is not valid JSON", key)
	}

	st := model.SystemSettings{Key: key, Value: datatypes.JSON(value), UpdatedBy: actor.userRef()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
	}).Create(&st).Error
	if err != nil {
		return nil, fmt.Errorf("save setting %s: %w", key, err)
	}
	s.audit.Record(ctx, actor, ActionUpdate, "SystemSettings", key, map[string]any{"value": value})
	return s.Get(ctx, key)
}

func (s *SettingsService) Delete(ctx context.Context, actor Actor, key string) error {
	res := s.db.WithContext(ctx).Where("`key` = ?", key).Delete(&model.SystemSettings{})
	if res.Error != nil {
		return fmt.Errorf("delete setting %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	s.audit.Record(ctx, actor, ActionDelete, "SystemSettings", key, nil)
	return nil
}

// Decimal reads key as a decimal, accepting either a JSON number or a JSON
// string. Missing or malformed values yield fallback.
func (s *SettingsService) Decimal(ctx context.Context, key string, fallback decimal.Decimal) decimal.Decimal {
	raw, ok := s.raw(ctx, key)
	if !ok {
		return fallback
	}
	if d, err := parseDecimalJSON(raw); err == nil {
		return d
	}
	return fallback
}

func (s *SettingsService) Int(ctx context.Context, key string, fallback int) int {
	raw, ok := s.raw(ctx, key)
	if !ok {
		return fallback
	}
	d, err := parseDecimalJSON(raw)
	if err != nil || !d.IsInteger() {
		return fallback
	}
	return int(d.IntPart())
}

func (s *SettingsService) raw(ctx context.Context, key string) ([]byte, bool) {
	st, err := s.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	return st.Value, true
}

func parseDecimalJSON(raw []byte) (decimal.Decimal, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return decimal.Zero, err
	}
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	}
	return decimal.Zero, errors.New("not a number")
}
