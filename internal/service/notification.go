package service

import (
	"context"
	"fmt"
	"strings"

	"hui-manager/internal/logger"
	"hui-manager/internal/model"

	"gorm.io/gorm"
)

type NotificationService struct {
	db      *gorm.DB
	hub     *Hub
	webhook *Webhook
}

func NewNotificationService(db *gorm.DB, hub *Hub, webhook *Webhook) *NotificationService {
	if hub == nil {
		hub = NewHub()
	}
	return &NotificationService{db: db, hub: hub, webhook: webhook}
}

func (s *NotificationService) Hub() *Hub { return s.hub }

// Notice is a notification that has not been stored yet.
type Notice struct {
	UserID  string
	Type    model.NotificationType
	Title   string
	Message string
}

func (s *NotificationService) Notify(ctx context.Context, userID string, typ model.NotificationType, title, message string) (*model.Notification, error) {
	out, err := s.NotifyMany(ctx, []Notice{{UserID: userID, Type: typ, Title: title, Message: message}})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// NotifyMany stores the notices in one batch, then publishes them to live
// subscribers and the webhook.
func (s *NotificationService) NotifyMany(ctx context.Context, notices []Notice) ([]model.Notification, error) {
	if len(notices) == 0 {
		return nil, nil
	}
	rows := make([]model.Notification, 0, len(notices))
	for _, n := range notices {
		if n.UserID == "" || strings.TrimSpace(n.Title) == "" {
			return nil, invalidf("notification needs a user and a title")
		}
		if !n.Type.Valid() {
			return nil, invalidf("unknown notification type %q", n.Type)
		}
		rows = append(rows, model.Notification{UserID: n.UserID, Type: n.Type, Title: n.Title, Message: n.Message})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("insert notifications: %w", err)
	}
	s.dispatch(rows)
	return rows, nil
}

// notifyQuietly is used after a committed change: a failed notification is
// logged and does not fail the operation.
func (s *NotificationService) notifyQuietly(ctx context.Context, notices []Notice) {
	if _, err := s.NotifyMany(ctx, notices); err != nil {
		logger.Warn("notification.send failed", "count", len(notices), "err", err)
	}
}

func (s *NotificationService) dispatch(rows []model.Notification) {
	for _, n := range rows {
		s.hub.Publish(n)
	}
	if !s.webhook.Enabled() {
		return
	}
	sent := append([]model.Notification(nil), rows...)
	go func() {
		ctx := context.Background()
		for _, n := range sent {
			if err := s.webhook.Send(ctx, "notification", n); err != nil {
				logger.Warn("notification.webhook failed", "id", n.ID, "err", err)
			}
		}
	}()
}

func (s *NotificationService) List(ctx context.Context, userID string, f model.NotificationFilter) (*model.ListResponse[model.Notification], error) {
	q := s.db.WithContext(ctx).Model(&model.Notification{}).Where("user_id = ?", userID)
	if f.UnreadOnly {
		q = q.Where("`read` = ?", false)
	}
	res, err := paginate[model.Notification](q, f.Page, "created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return res, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND `read` = ?", userID, false).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).Update("read", true)
	if res.Error != nil {
		return fmt.Errorf("mark read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND `read` = ?", userID, false).Update("read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark all read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *NotificationService) Delete(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.Notification{})
	if res.Error != nil {
		return fmt.Errorf("delete notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}
