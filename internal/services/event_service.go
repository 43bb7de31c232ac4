package services

import (
	"context"
	"time"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/lifecycle"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/policy"
	"github.com/cosplatform/eventcore/internal/security"
	"github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
)

type EventService struct {
	guarded
}

func NewEventService(d Deps) *EventService {
	return &EventService{newGuarded(d)}
}

type EventInput struct {
	CommunityID     *uint
	Title           string
	Description     string
	Venue           string
	IsPublic        bool
	StartTime       time.Time
	EndTime         time.Time
	Capacity        int
	WaitlistEnabled bool
}

// EventUpdate carries the fields to change; nil fields are left alone.
type EventUpdate struct {
	Title           *string
	Description     *string
	Venue           *string
	IsPublic        *bool
	StartTime       *time.Time
	EndTime         *time.Time
	Capacity        *int
	WaitlistEnabled *bool
}

func validateSchedule(start, end time.Time, capacity int) error {
	if start.IsZero() || end.IsZero() {
		return errors.New(errors.ErrCodeValidation, "start and end time are required")
	}
	if !end.After(start) {
		return errors.New(errors.ErrCodeValidation, "End time must be after start time")
	}
	if capacity < 0 || capacity > models.MaxEventCapacity {
		return errors.New(errors.ErrCodeValidation, "capacity must be between 0 and 100000")
	}
	return nil
}

// CreateEvent creates a draft event organized by actor.
func (s *EventService) CreateEvent(ctx context.Context, actor *models.User, in EventInput) (*models.Event, error) {
	title := security.SanitizeText(in.Title, security.MaxTitleLength)
	if title == "" {
		return nil, errors.New(errors.ErrCodeValidation, "title is required")
	}
	if err := validateSchedule(in.StartTime, in.EndTime, in.Capacity); err != nil {
		return nil, err
	}

	event := &models.Event{
		CommunityID:     in.CommunityID,
		Title:           title,
		Description:     security.SanitizeRichText(in.Description, security.MaxBodyLength),
		Venue:           security.SanitizeText(in.Venue, security.MaxTitleLength),
		IsPublic:        in.IsPublic,
		Status:          models.EventStatusDraft,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		Capacity:        in.Capacity,
		WaitlistEnabled: in.WaitlistEnabled,
	}

	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		if err := engine.Authorize(ctx, policy.ActionCreateEvent, actor, policy.ForNewEvent(in.CommunityID)); err != nil {
			return err
		}
		event.OrganizerID = actor.ID
		if err := s.store.Events.WithTx(tx.DB).CreateEvent(ctx, event); err != nil {
			return err
		}
		_, err := s.logEvent(ctx, tx, actor.ID, models.VerbEventCreated, event,
			models.Ref(models.TargetEvent, event.ID), map[string]interface{}{"title": event.Title})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Event created", "event_id", event.ID, "organizer_id", actor.ID)
	return event, nil
}

func (s *EventService) GetEvent(ctx context.Context, eventID uint) (*models.Event, error) {
	return s.store.Events.GetEventByID(ctx, eventID)
}

func (s *EventService) ListCommunityEvents(ctx context.Context, communityID uint, status models.EventStatus) ([]models.Event, error) {
	return s.store.Events.ListCommunityEvents(ctx, communityID, status)
}

// UpdateEvent applies in to the event. Capacity may not drop below the
// seats already held.
func (s *EventService) UpdateEvent(ctx context.Context, actor *models.User, eventID uint, in EventUpdate) (*models.Event, error) {
	var event *models.Event
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		repo := s.store.Events.WithTx(tx.DB)

		var err error
		event, err = repo.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionEditEvent, actor, policy.ForEvent(event)); err != nil {
			return err
		}
		if res := engine.Lifecycle().ValidateAction(event, lifecycle.ActionEdit); !res.OK {
			return errors.New(errors.ErrCodeInvalidTransition, res.Reason)
		}

		changed := applyEventUpdate(event, in)
		if len(changed) == 0 {
			return nil
		}
		if event.Title == "" {
			return errors.New(errors.ErrCodeValidation, "title is required")
		}
		if err := validateSchedule(event.StartTime, event.EndTime, event.Capacity); err != nil {
			return err
		}
		if in.Capacity != nil && event.Capacity > 0 {
			taken, err := repo.SeatsTaken(ctx, event.ID)
			if err != nil {
				return err
			}
			if int64(event.Capacity) < taken {
				return errors.New(errors.ErrCodeValidation, "capacity is below the number of registered seats")
			}
		}

		if err := repo.SaveEvent(ctx, event); err != nil {
			return err
		}
		_, err = s.logEvent(ctx, tx, actor.ID, models.VerbEventUpdated, event,
			models.Ref(models.TargetEvent, event.ID), map[string]interface{}{"fields": changed})
		return err
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func applyEventUpdate(e *models.Event, in EventUpdate) []string {
	var changed []string
	if in.Title != nil {
		e.Title = security.SanitizeText(*in.Title, security.MaxTitleLength)
		changed = append(changed, "title")
	}
	if in.Description != nil {
		e.Description = security.SanitizeRichText(*in.Description, security.MaxBodyLength)
		changed = append(changed, "description")
	}
	if in.Venue != nil {
		e.Venue = security.SanitizeText(*in.Venue, security.MaxTitleLength)
		changed = append(changed, "venue")
	}
	if in.IsPublic != nil {
		e.IsPublic = *in.IsPublic
		changed = append(changed, "is_public")
	}
	if in.StartTime != nil {
		e.StartTime = *in.StartTime
		changed = append(changed, "start_time")
	}
	if in.EndTime != nil {
		e.EndTime = *in.EndTime
		changed = append(changed, "end_time")
	}
	if in.Capacity != nil {
		e.Capacity = *in.Capacity
		changed = append(changed, "capacity")
	}
	if in.WaitlistEnabled != nil {
		e.WaitlistEnabled = *in.WaitlistEnabled
		changed = append(changed, "waitlist_enabled")
	}
	return changed
}

// DeleteEvent soft-deletes the event.
func (s *EventService) DeleteEvent(ctx context.Context, actor *models.User, eventID uint) error {
	return s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		repo := s.store.Events.WithTx(tx.DB)

		event, err := repo.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionDeleteEvent, actor, policy.ForEvent(event)); err != nil {
			return err
		}
		if err := repo.SoftDelete(ctx, event.ID); err != nil {
			return err
		}
		_, err = s.logEvent(ctx, tx, actor.ID, models.VerbEventDeleted, event,
			models.Ref(models.TargetEvent, event.ID), map[string]interface{}{"title": event.Title})
		if err == nil {
			logger.Info("Event deleted", "event_id", event.ID, "actor_id", actor.ID)
		}
		return err
	})
}

// statusAction is the permission needed to move an event from -> to.
// Reaching approved or rejected is a moderation decision; every other move
// is an edit by the organizing side.
func statusAction(to models.EventStatus) policy.Action {
	if to == models.EventStatusApproved || to == models.EventStatusRejected {
		return policy.ActionApproveEvent
	}
	return policy.ActionEditEvent
}

// StatusChange reports the outcome of ChangeStatus. Changed is false for a
// self-transition.
type StatusChange struct {
	Event   *models.Event
	From    models.EventStatus
	Changed bool
	Message string
}

// ChangeStatus moves the event through the lifecycle.
func (s *EventService) ChangeStatus(ctx context.Context, actor *models.User, eventID uint, to models.EventStatus) (*StatusChange, error) {
	var out *StatusChange
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		repo := s.store.Events.WithTx(tx.DB)

		event, err := repo.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		from := event.Status
		// A self-transition is a no-op, so the organizing side needs no
		// moderation right for it.
		action := statusAction(to)
		if to == from {
			action = policy.ActionEditEvent
		}
		if err := engine.Authorize(ctx, action, actor, policy.ForEvent(event)); err != nil {
			return err
		}

		res := engine.Lifecycle().Transition(event, to, actor.ID)
		if !res.OK {
			s.metrics.LifecycleTransition("rejected")
			return errors.New(errors.ErrCodeInvalidTransition, res.Reason)
		}
		out = &StatusChange{Event: event, From: from, Changed: res.Changed, Message: res.Reason}
		if !res.Changed {
			s.metrics.LifecycleTransition("noop")
			return nil
		}

		if err := repo.UpdateStatus(ctx, event.ID, to); err != nil {
			return err
		}
		if err := s.logTransition(ctx, tx, actor, event, from, to); err != nil {
			return err
		}
		s.metrics.LifecycleTransition("applied")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *EventService) logTransition(ctx context.Context, tx *database.Tx, actor *models.User, e *models.Event, from, to models.EventStatus) error {
	target := models.Ref(models.TargetEvent, e.ID)
	meta := map[string]interface{}{"from": string(from), "to": string(to)}
	actorID := actor.ID
	verb := models.VerbEventUpdated

	switch to {
	case models.EventStatusPending:
		verb = models.VerbEventSubmittedForApproval
	case models.EventStatusRejected:
		verb = models.VerbEventRejected
	case models.EventStatusApproved:
		published, err := s.publishedBefore(ctx, tx, target)
		if err != nil {
			return err
		}
		if published {
			meta["republished"] = true
			break
		}
		// Publishing XP belongs to the organizer, not the moderator.
		verb = models.VerbEventPublished
		actorID = e.OrganizerID
		meta["approved_by"] = actor.ID
	}

	_, err := s.logEvent(ctx, tx, actorID, verb, e, target, meta)
	return err
}

func (s *EventService) publishedBefore(ctx context.Context, tx *database.Tx, target models.TargetRef) (bool, error) {
	acts, err := s.store.Activities.WithTx(tx.DB).ListForTarget(ctx, target)
	if err != nil {
		return false, err
	}
	for _, a := range acts {
		if a.Verb == models.VerbEventPublished {
			return true, nil
		}
	}
	return false, nil
}

// CancelEvent cancels an event that has not started and every live
// registration for it.
func (s *EventService) CancelEvent(ctx context.Context, actor *models.User, eventID uint, reason string) (*models.Event, error) {
	var event *models.Event
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		repo := s.store.Events.WithTx(tx.DB)

		var err error
		event, err = repo.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionEditEvent, actor, policy.ForEvent(event)); err != nil {
			return err
		}
		if res := engine.Lifecycle().ValidateAction(event, lifecycle.ActionCancel); !res.OK {
			return errors.New(errors.ErrCodeInvalidTransition, res.Reason)
		}

		now := s.now()
		event.CanceledAt = &now
		if err := repo.SaveEvent(ctx, event); err != nil {
			return err
		}
		n, err := s.store.Registrations.WithTx(tx.DB).CancelLive(ctx, event.ID)
		if err != nil {
			return err
		}
		_, err = s.logEvent(ctx, tx, actor.ID, models.VerbEventCanceled, event,
			models.Ref(models.TargetEvent, event.ID), map[string]interface{}{
				"reason":                 security.SanitizeText(reason, security.MaxCommentLength),
				"canceled_registrations": n,
			})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Event canceled", "event_id", eventID, "actor_id", actor.ID)
	return event, nil
}
