package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hui-manager/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	u := f.user("Reader", model.RoleUser)
	other := f.user("Other", model.RoleUser)
	notify := f.svc.Notifications

	first, err := notify.Notify(f.ctx, u.ID, model.NotifySystem, "Welcome", "hello")
	require.NoError(t, err)
	_, err = notify.NotifyMany(f.ctx, []Notice{
		{UserID: u.ID, Type: model.NotifyPaymentDue, Title: "Due", Message: "pay"},
		{UserID: u.ID, Type: model.NotifyGroupUpdate, Title: "Update"},
	})
	require.NoError(t, err)

	n, err := notify.UnreadCount(f.ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, notify.MarkRead(f.ctx, u.ID, first.ID))
	assert.ErrorIs(t, notify.MarkRead(f.ctx, other.ID, first.ID), ErrNotFound)

	unread, err := notify.List(f.ctx, u.ID, model.NotificationFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread.Total)

	marked, err := notify.MarkAllRead(f.ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, marked)
	n, err = notify.UnreadCount(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, notify.Delete(f.ctx, other.ID, first.ID), ErrNotFound)
	require.NoError(t, notify.Delete(f.ctx, u.ID, first.ID))
	all, err := notify.List(f.ctx, u.ID, model.NotificationFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, all.Total)
}

func TestNotifyRejectsBadNotice(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Notifications.Notify(f.ctx, "", model.NotifySystem, "t", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Notifications.Notify(f.ctx, f.admin.UserID, "SPAM", "t", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	out, err := f.svc.Notifications.NotifyMany(f.ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestHub(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("u1")
	_, cancelOther := h.Subscribe("u1")
	assert.Equal(t, 2, h.Subscribers("u1"))

	h.Publish(model.Notification{ID: "n1", UserID: "u1"})
	h.Publish(model.Notification{ID: "n2", UserID: "u2"})
	select {
	case n := <-ch:
		assert.Equal(t, "n1", n.ID)
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}
	select {
	case n := <-ch:
		t.Fatalf("unexpected notification %s", n.ID)
	default:
	}

	// A full buffer drops instead of blocking.
	for i := 0; i < 100; i++ {
		h.Publish(model.Notification{UserID: "u1"})
	}

	cancel()
	cancel()
	cancelOther()
	assert.Zero(t, h.Subscribers("u1"))
	for range ch {
	}
}

func TestNotifyPublishesToHub(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.svc.Notifications.Hub().Subscribe(f.manager.UserID)
	defer cancel()

	_, err := f.svc.Notifications.Notify(f.ctx, f.manager.UserID, model.NotifySystem, "Ping", "")
	require.NoError(t, err)
	select {
	case n := <-ch:
		assert.Equal(t, "Ping", n.Title)
		assert.NotEmpty(t, n.ID)
	case <-time.After(time.Second):
		t.Fatal("hub did not receive the notification")
	}
}

func TestWebhook(t *testing.T) {
	var (
		mu     sync.Mutex
		events []webhookEvent
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var ev webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		if ev.Event == "fail" {
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second)
	require.True(t, wh.Enabled())
	require.NoError(t, wh.Send(context.Background(), "notification", map[string]string{"title": "hi"}))
	err := wh.Send(context.Background(), "fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	mu.Lock()
	require.Len(t, events, 2)
	assert.Equal(t, "notification", events[0].Event)
	mu.Unlock()

	var disabled *Webhook
	assert.False(t, disabled.Enabled())
	assert.NoError(t, NewWebhook("", 0).Send(context.Background(), "x", nil))
}

func TestNotifySendsWebhook(t *testing.T) {
	f := newFixture(t)
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev struct {
			Payload model.Notification `json:"payload"`
		}
		_ = json.NewDecoder(r.Body).Decode(&ev)
		got <- ev.Payload.Title
	}))
	defer srv.Close()

	notify := NewNotificationService(f.db, nil, NewWebhook(srv.URL, time.Second))
	_, err := notify.Notify(f.ctx, f.admin.UserID, model.NotifySystem, "Hooked", "")
	require.NoError(t, err)
	select {
	case title := <-got:
		assert.Equal(t, "Hooked", title)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}
