package services

import (
	"testing"
	"time"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/throttle"
	apperrors "github.com/cosplatform/eventcore/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestScan_Flow(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	attendee := h.user(t, "attendee")
	stranger := h.user(t, "stranger")
	c := h.community(t, owner)
	e := h.approvedEvent(t, owner, owner, c.ID, eventOpts{})
	h.register(t, attendee, e.ID)
	qr := h.qrOf(t, e.ID, attendee.ID)

	_, err := h.svc.Scans.Scan(h.ctx, owner, qr, "10.0.0.1")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation), "check-in has not opened yet")

	h.clock.Set(e.StartTime.Add(-30 * time.Minute))

	_, err = h.svc.Scans.Scan(h.ctx, stranger, qr, "10.0.0.2")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))

	_, err = h.svc.Scans.Scan(h.ctx, owner, "not-a-code", "10.0.0.1")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

	_, err = h.svc.Scans.CheckOut(h.ctx, owner, qr, "10.0.0.1")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation), "not checked in yet")

	res, err := h.svc.Scans.Scan(h.ctx, owner, qr, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, models.ScanCheckIn, res.Action)
	require.Equal(t, models.RegistrationAttended, res.Registration.Status)
	require.NotNil(t, res.Attendance.CheckIn)

	res, err = h.svc.Scans.Scan(h.ctx, owner, qr, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, models.ScanAlreadyCompleted, res.Action)

	res, err = h.svc.Scans.CheckOut(h.ctx, owner, qr, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, models.ScanCheckOut, res.Action)

	attended := h.activities(t, models.VerbEventAttended)
	require.Len(t, attended, 1)
	require.Equal(t, attendee.ID, attended[0].ActorID)
	require.Equal(t, jsonID(owner.ID), attended[0].Metadata["scanned_by"])
	require.Equal(t, int64(10), h.xp(t, attendee.ID, c.ID))
	require.Len(t, h.activities(t, models.VerbAttendanceCheckIn), 1)
	require.Len(t, h.activities(t, models.VerbAttendanceCheckOut), 1)

	h.clock.Set(e.EndTime.Add(5 * time.Hour))
	_, err = h.svc.Scans.Scan(h.ctx, owner, qr, "10.0.0.1")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation), "window closed")

	history, err := h.svc.Scans.ScanHistory(h.ctx, owner, e.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), history[models.ScanCheckIn])
	require.Equal(t, int64(1), history[models.ScanCheckOut])
	require.Equal(t, int64(1), history[models.ScanAlreadyCompleted])
	require.Equal(t, int64(2), history[models.ScanOutsideWindow])
	require.Equal(t, int64(2), history[models.ScanUnauthorized])

	var invalid int64
	require.NoError(t, h.db.Model(&models.ScanLog{}).Where("action = ?", models.ScanInvalidQR).Count(&invalid).Error)
	require.Equal(t, int64(1), invalid)
}

func TestScan_VolunteerMayScan(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	vol := h.user(t, "vol")
	attendee := h.user(t, "attendee")
	c := h.community(t, owner)
	h.join(t, vol, c.ID)
	e := h.approvedEvent(t, owner, owner, c.ID, eventOpts{})
	h.register(t, attendee, e.ID)
	qr := h.qrOf(t, e.ID, attendee.ID)
	h.clock.Set(e.StartTime)

	_, err := h.svc.Scans.Scan(h.ctx, vol, qr, "")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))

	_, err = h.svc.Teams.AddMember(h.ctx, owner, e.ID, vol.ID, models.TeamRoleVolunteer)
	require.NoError(t, err)
	res, err := h.svc.Scans.Scan(h.ctx, vol, qr, "")
	require.NoError(t, err)
	require.Equal(t, models.ScanCheckIn, res.Action)
}

func TestScan_CanceledRegistrationIsRefused(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	attendee := h.user(t, "attendee")
	c := h.community(t, owner)
	e := h.approvedEvent(t, owner, owner, c.ID, eventOpts{})
	h.register(t, attendee, e.ID)
	qr := h.qrOf(t, e.ID, attendee.ID)
	_, err := h.svc.Registration.CancelRegistration(h.ctx, attendee, e.ID, attendee.ID)
	require.NoError(t, err)

	h.clock.Set(e.StartTime)
	_, err = h.svc.Scans.Scan(h.ctx, owner, qr, "")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
	require.Empty(t, h.activities(t, models.VerbEventAttended))
}

func TestScanTicket(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	attendee := h.user(t, "attendee")
	c := h.community(t, owner)
	e := h.approvedEvent(t, owner, owner, c.ID, eventOpts{})
	other := h.approvedEvent(t, owner, owner, c.ID, eventOpts{})
	h.register(t, attendee, e.ID)
	h.register(t, attendee, other.ID)

	_, err := h.svc.Scans.IssueTicket(h.ctx, owner, e.ID)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

	h.clock.Set(e.StartTime.Add(-10 * time.Minute))
	token, err := h.svc.Scans.IssueTicket(h.ctx, attendee, e.ID)
	require.NoError(t, err)

	res, err := h.svc.Scans.ScanTicket(h.ctx, owner, token, "10.1.1.1")
	require.NoError(t, err)
	require.Equal(t, models.ScanCheckIn, res.Action)
	require.Equal(t, e.ID, res.Registration.EventID)

	_, err = h.svc.Scans.ScanTicket(h.ctx, owner, token+"x", "10.1.1.1")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	// Tickets expire after the configured TTL.
	h.clock.Advance(2 * time.Hour)
	_, err = h.svc.Scans.ScanTicket(h.ctx, owner, token, "10.1.1.1")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
}

func TestScan_Throttled(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	c := h.community(t, owner)
	e := h.approvedEvent(t, owner, owner, c.ID, eventOpts{})
	h.clock.Set(e.StartTime)

	limited := NewScanService(Deps{Store: h.svc.Store, Policy: h.svc.Policy, Ledger: h.svc.Ledger},
		throttle.New(2, 0, time.Minute).WithClock(h.clock.Now), TicketConfig{Secret: "s"})
	for i := 0; i < 2; i++ {
		_, err := limited.Scan(h.ctx, owner, "missing", "")
		require.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
	}
	_, err := limited.Scan(h.ctx, owner, "missing", "")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeRateLimitExceeded))
}
