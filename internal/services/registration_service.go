package services

import (
	"context"
	"fmt"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/lifecycle"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/policy"
	"github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
)

type RegistrationService struct {
	guarded
}

func NewRegistrationService(d Deps) *RegistrationService {
	return &RegistrationService{newGuarded(d)}
}

// Register signs user up for an event with guests extra seats. The event
// row stays locked from the capacity count to the insert, so concurrent
// registrations cannot oversell.
func (s *RegistrationService) Register(ctx context.Context, user *models.User, eventID uint, guests int) (*models.EventRegistration, error) {
	if guests < 0 || guests > models.MaxGuestsPerRegistration {
		return nil, errors.New(errors.ErrCodeValidation, fmt.Sprintf("guests must be between 0 and %d", models.MaxGuestsPerRegistration))
	}

	var reg *models.EventRegistration
	err := s.withinRetry(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		events := s.store.Events.WithTx(tx.DB)
		regs := s.store.Registrations.WithTx(tx.DB)

		event, err := events.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if res := engine.Lifecycle().ValidateAction(event, lifecycle.ActionRegister); !res.OK {
			return errors.New(errors.ErrCodeInvalidTransition, res.Reason)
		}

		existing, err := regs.FindRegistration(ctx, eventID, userIDOf(user))
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.New(errors.ErrCodeConflict, "Already registered")
		}
		if err := engine.Authorize(ctx, policy.ActionRegister, user, policy.ForEvent(event)); err != nil {
			return err
		}

		status, err := s.seatStatus(ctx, events, event, 1+guests)
		if err != nil {
			return err
		}

		reg = &models.EventRegistration{
			EventID:     eventID,
			UserID:      user.ID,
			Status:      status,
			GuestsCount: guests,
		}
		if err := regs.CreateRegistration(ctx, reg); err != nil {
			return err
		}

		verb := models.VerbRegistrationCreated
		if status == models.RegistrationWaitlisted {
			verb = models.VerbRegistrationWaitlisted
		}
		_, err = s.logEvent(ctx, tx, user.ID, verb, event, models.Ref(models.TargetRegistration, reg.ID),
			map[string]interface{}{"event_id": event.ID, "guests": guests})
		return err
	})
	if err != nil {
		s.metrics.Registration(registrationOutcome(err))
		return nil, err
	}

	s.metrics.Registration(string(reg.Status))
	logger.Info("Registration created", "event_id", eventID, "user_id", user.ID, "status", reg.Status, "guests", guests)
	return reg, nil
}

// seatStatus decides whether seats more places fit into the locked event:
// approved when they fit, waitlisted when full and the waitlist is on.
func (s *RegistrationService) seatStatus(ctx context.Context, events eventSeats, event *models.Event, seats int) (models.RegistrationStatus, error) {
	if event.Capacity == 0 {
		return models.RegistrationApproved, nil
	}
	taken, err := events.SeatsTaken(ctx, event.ID)
	if err != nil {
		return "", err
	}
	if taken+int64(seats) <= int64(event.Capacity) {
		return models.RegistrationApproved, nil
	}
	if event.WaitlistEnabled {
		return models.RegistrationWaitlisted, nil
	}
	left := int64(event.Capacity) - taken
	if left < 0 {
		left = 0
	}
	return "", errors.New(errors.ErrCodeCapacityExceeded, fmt.Sprintf("Event is full. Only %d spots left.", left))
}

type eventSeats interface {
	SeatsTaken(ctx context.Context, eventID uint) (int64, error)
}

func registrationOutcome(err error) string {
	switch errors.CodeOf(err) {
	case errors.ErrCodeCapacityExceeded:
		return "full"
	case errors.ErrCodeConflict:
		return "duplicate"
	case errors.ErrCodeForbidden, errors.ErrCodeUnauthorized, errors.ErrCodeInvalidTransition:
		return "denied"
	}
	return "error"
}

func userIDOf(u *models.User) uint {
	if u == nil {
		return 0
	}
	return u.ID
}

// CancelRegistration cancels userID's registration for eventID. The owner of
// the registration or anyone who may edit the event can cancel. A freed
// seat goes to the waitlist in FIFO order.
func (s *RegistrationService) CancelRegistration(ctx context.Context, actor *models.User, eventID, userID uint) (*models.EventRegistration, error) {
	var reg *models.EventRegistration
	err := s.withinRetry(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		event, err := s.store.Events.WithTx(tx.DB).LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		regs := s.store.Registrations.WithTx(tx.DB)
		reg, err = regs.LockRegistration(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionCancelRegistration, actor, policy.ForRegistration(event, reg)); err != nil {
			return err
		}

		switch reg.Status {
		case models.RegistrationCanceled:
			return nil
		case models.RegistrationAttended:
			return errors.New(errors.ErrCodeValidation, "Cannot cancel a registration after attendance")
		}

		freed := reg.Status.HoldsSeat()
		reg.Status = models.RegistrationCanceled
		if err := regs.UpdateStatus(ctx, reg.ID, reg.Status); err != nil {
			return err
		}
		if err := regs.ClearCheckIn(ctx, reg.ID); err != nil {
			return err
		}
		if _, err := s.logEvent(ctx, tx, actor.ID, models.VerbRegistrationCanceled, event,
			models.Ref(models.TargetRegistration, reg.ID),
			map[string]interface{}{"event_id": event.ID, "user_id": reg.UserID}); err != nil {
			return err
		}

		if freed {
			return s.promoteWaitlist(ctx, tx, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Registration canceled", "event_id", eventID, "user_id", userID, "actor_id", actor.ID)
	return reg, nil
}

// promoteWaitlist approves waitlisted registrations, oldest first, while
// they fit. It stops at the first one that does not so order is kept.
func (s *RegistrationService) promoteWaitlist(ctx context.Context, tx *database.Tx, event *models.Event) error {
	if !event.WaitlistEnabled || event.IsCanceled() {
		return nil
	}
	events := s.store.Events.WithTx(tx.DB)
	regs := s.store.Registrations.WithTx(tx.DB)

	for {
		next, err := regs.OldestWaitlisted(ctx, event.ID)
		if err != nil || next == nil {
			return err
		}
		if event.Capacity > 0 {
			taken, err := events.SeatsTaken(ctx, event.ID)
			if err != nil {
				return err
			}
			if taken+int64(next.Seats()) > int64(event.Capacity) {
				return nil
			}
		}

		if err := regs.UpdateStatus(ctx, next.ID, models.RegistrationApproved); err != nil {
			return err
		}
		if _, err := s.logEvent(ctx, tx, next.UserID, models.VerbRegistrationPromoted, event,
			models.Ref(models.TargetRegistration, next.ID),
			map[string]interface{}{"event_id": event.ID}); err != nil {
			return err
		}
		s.metrics.Registration("promoted")
		logger.Info("Waitlist promoted", "event_id", event.ID, "user_id", next.UserID)
	}
}

var managedStatusVerbs = map[models.RegistrationStatus]string{
	models.RegistrationApproved:   models.VerbRegistrationApproved,
	models.RegistrationRejected:   models.VerbRegistrationRejected,
	models.RegistrationWaitlisted: models.VerbRegistrationWaitlisted,
	models.RegistrationCanceled:   models.VerbRegistrationCanceled,
}

// SetRegistrationStatus lets event managers approve, reject, waitlist or
// cancel a registration. Attendance is only ever set by scanning.
func (s *RegistrationService) SetRegistrationStatus(ctx context.Context, actor *models.User, eventID, userID uint, status models.RegistrationStatus) (*models.EventRegistration, error) {
	verb, ok := managedStatusVerbs[status]
	if !ok {
		return nil, errors.New(errors.ErrCodeValidation, "invalid registration status")
	}

	var reg *models.EventRegistration
	err := s.withinRetry(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		events := s.store.Events.WithTx(tx.DB)
		regs := s.store.Registrations.WithTx(tx.DB)

		event, err := events.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionManageRegistrations, actor, policy.ForEvent(event)); err != nil {
			return err
		}
		reg, err = regs.LockRegistration(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if reg.Status == status {
			return nil
		}
		if reg.Status == models.RegistrationAttended {
			return errors.New(errors.ErrCodeValidation, "Attended registrations cannot be changed")
		}

		if status.HoldsSeat() && !reg.Status.HoldsSeat() && event.Capacity > 0 {
			taken, err := events.SeatsTaken(ctx, event.ID)
			if err != nil {
				return err
			}
			if taken+int64(reg.Seats()) > int64(event.Capacity) {
				left := int64(event.Capacity) - taken
				if left < 0 {
					left = 0
				}
				return errors.New(errors.ErrCodeCapacityExceeded, fmt.Sprintf("Event is full. Only %d spots left.", left))
			}
		}

		freed := reg.Status.HoldsSeat() && !status.HoldsSeat()
		old := reg.Status
		reg.Status = status
		if err := regs.UpdateStatus(ctx, reg.ID, status); err != nil {
			return err
		}
		if _, err := s.logEvent(ctx, tx, actor.ID, verb, event, models.Ref(models.TargetRegistration, reg.ID),
			map[string]interface{}{"event_id": event.ID, "user_id": reg.UserID, "from": string(old)}); err != nil {
			return err
		}
		if freed {
			return s.promoteWaitlist(ctx, tx, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *RegistrationService) ListRegistrations(ctx context.Context, actor *models.User, eventID uint) ([]models.EventRegistration, error) {
	event, err := s.store.Events.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(ctx, policy.ActionManageRegistrations, actor, policy.ForEvent(event)); err != nil {
		return nil, err
	}
	return s.store.Registrations.ListRegistrations(ctx, eventID)
}
