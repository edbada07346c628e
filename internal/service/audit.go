package service

import (
	"context"
	"encoding/json"
	"fmt"

	"hui-manager/internal/logger"
	"hui-manager/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionCreate       = "CREATE"
	ActionUpdate       = "UPDATE"
	ActionDelete       = "DELETE"
	ActionLogin        = "LOGIN"
	ActionStatus       = "STATUS"
	ActionVerify       = "VERIFY"
	ActionCancel       = "CANCEL"
	ActionSubmit       = "SUBMIT"
	ActionCycleAdvance = "CYCLE_ADVANCE"
	ActionFine         = "FINE"
	ActionImport       = "IMPORT"
)

type AuditService struct{ db *gorm.DB }

func NewAuditService(db *gorm.DB) *AuditService { return &AuditService{db: db} }

// Record appends an audit entry. Failures are logged and never returned:
// an audit write must not undo the operation it describes.
func (s *AuditService) Record(ctx context.Context, actor Actor, action, entity, entityID string, details any) {
	entry := model.AuditLog{
		UserID:    actor.userRef(),
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		IPAddress: actor.IP,
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = datatypes.JSON(raw)
		}
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		logger.Error("audit.record failed", "action", action, "entity", entity, "entity_id", entityID, "err", err)
	}
}

func (s *AuditService) List(ctx context.Context, f model.AuditFilter) (*model.ListResponse[model.AuditLog], error) {
	q := s.db.WithContext(ctx).Model(&model.AuditLog{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Entity != "" {
		q = q.Where("entity = ?", f.Entity)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if f.Until != nil {
		q = q.Where("created_at < ?", f.Until.UTC())
	}

	res, err := paginate[model.AuditLog](q, f.Page, "created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return res, nil
}
