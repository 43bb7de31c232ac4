package services

import (
	"context"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/policy"
	"github.com/cosplatform/eventcore/internal/security"
	"github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
)

type AnnouncementService struct {
	guarded
}

func NewAnnouncementService(d Deps) *AnnouncementService {
	return &AnnouncementService{newGuarded(d)}
}

// Create posts an announcement to an event's attendees.
func (s *AnnouncementService) Create(ctx context.Context, actor *models.User, eventID uint, title, body string) (*models.Announcement, error) {
	title = security.SanitizeText(title, security.MaxTitleLength)
	body = security.SanitizeRichText(body, security.MaxBodyLength)
	if title == "" || body == "" {
		return nil, errors.New(errors.ErrCodeValidation, "title and body are required")
	}

	var a *models.Announcement
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		event, err := s.store.Events.WithTx(tx.DB).GetEventByID(ctx, eventID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionCreateAnnouncement, actor, policy.ForEvent(event)); err != nil {
			return err
		}

		a = &models.Announcement{EventID: eventID, AuthorID: actor.ID, Title: title, Body: body}
		if err := s.store.Content.WithTx(tx.DB).CreateAnnouncement(ctx, a); err != nil {
			return err
		}
		_, err = s.logEvent(ctx, tx, actor.ID, models.VerbAnnouncementCreated, event,
			models.Ref(models.TargetAnnouncement, a.ID),
			map[string]interface{}{"event_id": eventID, "title": title})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Announcement posted", "event_id", eventID, "announcement_id", a.ID)
	return a, nil
}

func (s *AnnouncementService) List(ctx context.Context, eventID uint, limit int) ([]models.Announcement, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.Content.ListAnnouncements(ctx, eventID, limit)
}

type FeedbackService struct {
	guarded
}

func NewFeedbackService(d Deps) *FeedbackService {
	return &FeedbackService{newGuarded(d)}
}

// Submit records the user's single rating of an event they attended.
func (s *FeedbackService) Submit(ctx context.Context, user *models.User, eventID uint, rating int, comment string) (*models.EventFeedback, error) {
	if rating < 1 || rating > 5 {
		return nil, errors.New(errors.ErrCodeValidation, "Rating must be between 1 and 5")
	}

	var fb *models.EventFeedback
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		event, err := s.store.Events.WithTx(tx.DB).GetEventByID(ctx, eventID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionSubmitFeedback, user, policy.ForEvent(event)); err != nil {
			return err
		}

		fb = &models.EventFeedback{
			EventID: eventID,
			UserID:  user.ID,
			Rating:  rating,
			Comment: security.SanitizeText(comment, security.MaxCommentLength),
		}
		if err := s.store.Content.WithTx(tx.DB).CreateFeedback(ctx, fb); err != nil {
			return err
		}
		_, err = s.logEvent(ctx, tx, user.ID, models.VerbFeedbackSubmitted, event,
			models.Ref(models.TargetFeedback, fb.ID),
			map[string]interface{}{"event_id": eventID, "rating": rating})
		return err
	})
	if err != nil {
		return nil, err
	}
	return fb, nil
}
