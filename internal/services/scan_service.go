package services

import (
	"context"
	"time"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/lifecycle"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/policy"
	"github.com/cosplatform/eventcore/internal/security"
	"github.com/cosplatform/eventcore/internal/throttle"
	"github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
)

// Scanning is open from an hour before start until four hours after end.
const (
	scanOpensBefore = time.Hour
	scanClosesAfter = 4 * time.Hour
)

type TicketConfig struct {
	Secret string
	TTL    time.Duration
}

type ScanService struct {
	guarded
	limiter *throttle.Limiter
	tickets TicketConfig
}

func NewScanService(d Deps, limiter *throttle.Limiter, tickets TicketConfig) *ScanService {
	if tickets.TTL <= 0 {
		tickets.TTL = 24 * time.Hour
	}
	return &ScanService{guarded: newGuarded(d), limiter: limiter, tickets: tickets}
}

// ScanResult describes an accepted scan. Action is check_in for the first
// scan, check_out for a check-out and already_completed afterwards.
type ScanResult struct {
	Action       models.ScanAction
	Registration *models.EventRegistration
	Attendance   *models.EventAttendance
	Message      string
}

// IssueTicket signs an attendance ticket for the user's registration.
func (s *ScanService) IssueTicket(ctx context.Context, user *models.User, eventID uint) (string, error) {
	if user == nil || user.ID == 0 {
		return "", errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	reg, err := s.store.Registrations.FindRegistration(ctx, eventID, user.ID)
	if err != nil {
		return "", err
	}
	if reg == nil || reg.Attendance == nil {
		return "", errors.New(errors.ErrCodeNotFound, "registration not found")
	}
	if !reg.Status.HoldsSeat() {
		return "", errors.New(errors.ErrCodeValidation, "Registration is not active")
	}

	token, err := security.SignTicket(reg.Attendance.QRCode, reg.ID, eventID, user.ID, s.tickets.Secret, s.tickets.TTL, s.now())
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternalError, "failed to sign ticket")
	}
	return token, nil
}

// Scan checks in the attendee owning qrCode.
func (s *ScanService) Scan(ctx context.Context, scanner *models.User, qrCode, ip string) (*ScanResult, error) {
	return s.scan(ctx, scanner, qrCode, ip, 0, false)
}

// ScanTicket validates a signed ticket and then scans its QR code.
func (s *ScanService) ScanTicket(ctx context.Context, scanner *models.User, token, ip string) (*ScanResult, error) {
	if err := s.admit(scanner); err != nil {
		return nil, err
	}
	claims, err := security.ParseTicket(token, s.tickets.Secret, s.now())
	if err != nil {
		s.record(ctx, s.store.Registrations, &models.ScanLog{
			ScannerID: scanner.ID,
			Action:    models.ScanInvalidQR,
			Reason:    "Invalid or expired ticket",
			IPAddress: ip,
		})
		return nil, errors.New(errors.ErrCodeValidation, "Invalid or expired ticket")
	}
	return s.scan(ctx, scanner, claims.QRCode, ip, claims.EventID, false)
}

// CheckOut records the departure of an attendee who already checked in.
func (s *ScanService) CheckOut(ctx context.Context, scanner *models.User, qrCode, ip string) (*ScanResult, error) {
	return s.scan(ctx, scanner, qrCode, ip, 0, true)
}

func (s *ScanService) admit(scanner *models.User) error {
	if scanner == nil || scanner.ID == 0 {
		return errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	if !s.limiter.AllowUser(scanner.ID) {
		s.metrics.Scan("throttled")
		return errors.New(errors.ErrCodeRateLimitExceeded, "Too many scans, slow down")
	}
	return nil
}

func (s *ScanService) scan(ctx context.Context, scanner *models.User, qrCode, ip string, expectEventID uint, checkOut bool) (*ScanResult, error) {
	if expectEventID == 0 {
		if err := s.admit(scanner); err != nil {
			return nil, err
		}
	}

	// Refusals are returned through refused so the transaction still commits
	// the scan log that explains them.
	var (
		result  *ScanResult
		refused error
	)
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		regs := s.store.Registrations.WithTx(tx.DB)
		entry := &models.ScanLog{ScannerID: scanner.ID, QRCode: qrCode, IPAddress: ip}
		refuse := func(action models.ScanAction, code, reason string) error {
			entry.Action = action
			entry.Reason = reason
			refused = errors.New(code, reason)
			return s.record(ctx, regs, entry)
		}

		att, err := regs.LockAttendanceByQR(ctx, qrCode)
		if errors.Is(err, errors.ErrCodeNotFound) {
			return refuse(models.ScanInvalidQR, errors.ErrCodeNotFound, "Invalid QR code")
		}
		if err != nil {
			return err
		}
		reg, err := regs.GetRegistrationByID(ctx, att.RegistrationID)
		if err != nil {
			return err
		}
		entry.EventID = &reg.EventID
		entry.AttendeeID = &reg.UserID

		if expectEventID != 0 && expectEventID != reg.EventID {
			return refuse(models.ScanInvalidQR, errors.ErrCodeValidation, "Ticket does not belong to this event")
		}

		event, err := s.store.Events.WithTx(tx.DB).GetEventByID(ctx, reg.EventID)
		if err != nil {
			return err
		}
		d, err := engine.Check(ctx, policy.ActionScanAttendance, scanner, policy.ForEvent(event))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternalError, "failed to evaluate permissions")
		}
		if !d.Allowed {
			return refuse(models.ScanUnauthorized, errors.ErrCodeForbidden, d.Reason)
		}
		if res := engine.Lifecycle().ValidateAction(event, lifecycle.ActionScanAttendance); !res.OK {
			return refuse(models.ScanUnauthorized, errors.ErrCodeInvalidTransition, res.Reason)
		}

		now := s.now()
		if now.Before(event.StartTime.Add(-scanOpensBefore)) {
			return refuse(models.ScanOutsideWindow, errors.ErrCodeValidation, "Check-in has not opened yet")
		}
		if now.After(event.EndTime.Add(scanClosesAfter)) {
			return refuse(models.ScanOutsideWindow, errors.ErrCodeValidation, "Check-in window has closed")
		}
		if !reg.Status.HoldsSeat() {
			return refuse(models.ScanUnauthorized, errors.ErrCodeValidation, "Registration is not active")
		}

		result = &ScanResult{Registration: reg, Attendance: att}
		switch {
		case checkOut && att.CheckIn == nil:
			return refuse(models.ScanUnauthorized, errors.ErrCodeValidation, "Attendee has not checked in")
		case checkOut && att.CheckOut == nil:
			att.CheckOut = &now
			result.Action = models.ScanCheckOut
			result.Message = "Checked out"
		case att.CheckIn == nil && !checkOut:
			att.CheckIn = &now
			att.CheckedInByID = &scanner.ID
			result.Action = models.ScanCheckIn
			result.Message = "Checked in"
		default:
			result.Action = models.ScanAlreadyCompleted
			result.Message = "Already checked in"
			entry.Action = result.Action
			return s.record(ctx, regs, entry)
		}

		if err := regs.SaveAttendance(ctx, att); err != nil {
			return err
		}
		if result.Action == models.ScanCheckIn {
			if err := s.logCheckIn(ctx, tx, scanner, event, reg, att); err != nil {
				return err
			}
		} else {
			if _, err := s.logEvent(ctx, tx, scanner.ID, models.VerbAttendanceCheckOut, event,
				models.Ref(models.TargetAttendance, att.ID),
				map[string]interface{}{"attendee_id": reg.UserID}); err != nil {
				return err
			}
		}
		entry.Action = result.Action
		return s.record(ctx, regs, entry)
	})
	if err != nil {
		s.metrics.Scan("error")
		return nil, err
	}
	if refused != nil {
		logger.Warn("Scan refused", "scanner_id", scanner.ID, "ip", ip, "reason", refused.Error())
		return nil, refused
	}
	s.metrics.Scan(string(result.Action))
	return result, nil
}

// logCheckIn stamps the registration attended and writes the attendance
// activities. event.attended is the attendee's own activity so the XP goes
// to them.
func (s *ScanService) logCheckIn(ctx context.Context, tx *database.Tx, scanner *models.User, event *models.Event, reg *models.EventRegistration, att *models.EventAttendance) error {
	if err := s.store.Registrations.WithTx(tx.DB).UpdateStatus(ctx, reg.ID, models.RegistrationAttended); err != nil {
		return err
	}
	reg.Status = models.RegistrationAttended

	if _, err := s.logEvent(ctx, tx, reg.UserID, models.VerbEventAttended, event,
		models.Ref(models.TargetAttendance, att.ID),
		map[string]interface{}{"event_id": event.ID, "scanned_by": scanner.ID}); err != nil {
		return err
	}
	_, err := s.logEvent(ctx, tx, scanner.ID, models.VerbAttendanceCheckIn, event,
		models.Ref(models.TargetAttendance, att.ID),
		map[string]interface{}{"attendee_id": reg.UserID})
	if err == nil {
		logger.Info("Attendee checked in", "event_id", event.ID, "user_id", reg.UserID, "scanner_id", scanner.ID)
	}
	return err
}

type scanLogWriter interface {
	CreateScanLog(ctx context.Context, log *models.ScanLog) error
}

func (s *ScanService) record(ctx context.Context, w scanLogWriter, entry *models.ScanLog) error {
	entry.QRCode = truncateQR(entry.QRCode)
	if err := w.CreateScanLog(ctx, entry); err != nil {
		logger.Error("Failed to write scan log", "error", err)
		return err
	}
	if entry.Action != models.ScanCheckIn && entry.Action != models.ScanCheckOut && entry.Action != models.ScanAlreadyCompleted {
		s.metrics.Scan(string(entry.Action))
	}
	return nil
}

func truncateQR(code string) string {
	if len(code) > 64 {
		return code[:64]
	}
	return code
}

// ScanHistory returns how many scans of each kind an event has seen.
func (s *ScanService) ScanHistory(ctx context.Context, actor *models.User, eventID uint) (map[models.ScanAction]int64, error) {
	event, err := s.store.Events.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(ctx, policy.ActionViewAnalytics, actor, policy.ForEvent(event)); err != nil {
		return nil, err
	}
	out := make(map[models.ScanAction]int64)
	for _, a := range []models.ScanAction{
		models.ScanCheckIn, models.ScanCheckOut, models.ScanInvalidQR,
		models.ScanUnauthorized, models.ScanAlreadyCompleted, models.ScanOutsideWindow,
	} {
		n, err := s.store.Registrations.CountScans(ctx, eventID, a)
		if err != nil {
			return nil, err
		}
		out[a] = n
	}
	return out, nil
}
