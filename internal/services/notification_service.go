package services

import (
	"context"
	"fmt"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
)

// NotificationSubscriber turns committed activities into inbox rows.
type NotificationSubscriber struct {
	store *Store
}

func NewNotificationSubscriber(store *Store) *NotificationSubscriber {
	return &NotificationSubscriber{store: store}
}

func (n *NotificationSubscriber) HandleActivity(ctx context.Context, a *models.DomainActivity) error {
	var (
		batch []models.Notification
		err   error
	)
	switch a.Verb {
	case models.VerbAnnouncementCreated:
		batch, err = n.announcement(ctx, a)
	case models.VerbCertificateIssued:
		batch, err = n.certificate(ctx, a)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	written, err := n.store.Notifications.CreateBatch(ctx, batch)
	if err != nil {
		return err
	}
	logger.Debug("Notifications created", "activity_id", a.ID, "verb", a.Verb, "count", written)
	return nil
}

// announcement notifies everyone still registered or waitlisted.
func (n *NotificationSubscriber) announcement(ctx context.Context, a *models.DomainActivity) ([]models.Notification, error) {
	ann, err := n.store.Content.GetAnnouncement(ctx, a.Target.ID)
	if err != nil {
		return nil, err
	}
	event, err := n.store.Events.GetEventByID(ctx, ann.EventID)
	if err != nil {
		return nil, err
	}
	users, err := n.store.Registrations.LiveRegistrantIDs(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	out := make([]models.Notification, 0, len(users))
	for _, uid := range users {
		out = append(out, models.Notification{
			UserID:     uid,
			Type:       models.NotificationEventAnnouncement,
			Title:      fmt.Sprintf("New announcement for %s", event.Title),
			Body:       ann.Title,
			EventID:    &event.ID,
			ActivityID: &a.ID,
		})
	}
	return out, nil
}

// certificate notifies the recipient, who is the activity's actor.
func (n *NotificationSubscriber) certificate(ctx context.Context, a *models.DomainActivity) ([]models.Notification, error) {
	reg, err := n.store.Registrations.GetRegistrationByID(ctx, a.Target.ID)
	if err != nil {
		return nil, err
	}
	event, err := n.store.Events.GetEventByID(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	return []models.Notification{{
		UserID:     a.ActorID,
		Type:       models.NotificationCertificateIssued,
		Title:      fmt.Sprintf("Certificate issued for %s", event.Title),
		Body:       "Your certificate has been generated and is now available in your dashboard.",
		EventID:    &event.ID,
		ActivityID: &a.ID,
	}}, nil
}

// NotificationService is the inbox of the calling user.
type NotificationService struct {
	store *Store
}

func NewNotificationService(store *Store) *NotificationService {
	return &NotificationService{store: store}
}

func (s *NotificationService) List(ctx context.Context, user *models.User, unreadOnly bool, limit int) ([]models.Notification, error) {
	if user == nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.Notifications.ListForUser(ctx, user.ID, unreadOnly, limit)
}

func (s *NotificationService) UnreadCount(ctx context.Context, user *models.User) (int64, error) {
	if user == nil {
		return 0, errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	return s.store.Notifications.CountUnread(ctx, user.ID)
}

func (s *NotificationService) MarkRead(ctx context.Context, user *models.User, id uint) error {
	if user == nil {
		return errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	return s.store.Notifications.MarkRead(ctx, user.ID, id)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, user *models.User) (int64, error) {
	if user == nil {
		return 0, errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	return s.store.Notifications.MarkAllRead(ctx, user.ID)
}
