package services

import (
	"time"

	"github.com/cosplatform/eventcore/internal/lifecycle"
	"github.com/cosplatform/eventcore/internal/metrics"
	"github.com/cosplatform/eventcore/internal/policy"
	"github.com/cosplatform/eventcore/internal/throttle"
	"gorm.io/gorm"
)

type Options struct {
	TicketSecret string
	TicketTTL    time.Duration

	// Per-scanner scan limit and per-IP certificate lookup limit within
	// RateWindow.
	ScanRateLimit   int
	VerifyRateLimit int
	RateWindow      time.Duration

	LockRetryAttempts int
	LockRetryBackoff  time.Duration

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Services is the wired application core.
type Services struct {
	Store        *Store
	Policy       *policy.Engine
	Ledger       *ActivityLedger
	Reputation   *ReputationEngine
	Limiter      *throttle.Limiter
	Communities  *CommunityService
	Events       *EventService
	Registration *RegistrationService
	Scans        *ScanService
	Certificates *CertificateService
	Teams        *TeamService
	Announcement *AnnouncementService
	Feedback     *FeedbackService
	Analytics    *AnalyticsService
	Sheets       *SpreadsheetService
	ReputationOp *ReputationAdmin

	Notifications *NotificationService
}

// New wires every service on db. The reputation engine and the notification
// subscriber follow each committed activity through the ledger.
func New(db *gorm.DB, opts Options, m *metrics.Metrics) *Services {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	window := opts.RateWindow
	if window <= 0 {
		window = time.Minute
	}

	store := NewStore(db)
	machine := lifecycle.New(now)
	engine := policy.NewEngine(store.Roles, machine, m)
	ledger := NewActivityLedger(store.Activities, store.Communities)

	rep := NewReputationEngine(db, store.Reputation, store.Activities, m)
	rep.now = now
	if opts.LockRetryAttempts > 0 {
		rep.WithLockRetry(opts.LockRetryAttempts, opts.LockRetryBackoff)
	}
	ledger.Subscribe(rep)
	ledger.Subscribe(NewNotificationSubscriber(store))

	limiter := throttle.New(opts.ScanRateLimit, opts.VerifyRateLimit, window).WithClock(now)

	d := Deps{
		Store:             store,
		Policy:            engine,
		Ledger:            ledger,
		Metrics:           m,
		LockRetryAttempts: opts.LockRetryAttempts,
		LockRetryBackoff:  opts.LockRetryBackoff,
	}
	communities := NewCommunityService(d)

	return &Services{
		Store:        store,
		Policy:       engine,
		Ledger:       ledger,
		Reputation:   rep,
		Limiter:      limiter,
		Communities:  communities,
		Events:       NewEventService(d),
		Registration: NewRegistrationService(d),
		Scans:        NewScanService(d, limiter, TicketConfig{Secret: opts.TicketSecret, TTL: opts.TicketTTL}),
		Certificates: NewCertificateService(d, limiter),
		Teams:        NewTeamService(d),
		Announcement: NewAnnouncementService(d),
		Feedback:     NewFeedbackService(d),
		Analytics:    NewAnalyticsService(d),
		Sheets:       NewSpreadsheetService(d, communities),
		ReputationOp: NewReputationAdmin(db, engine, store.Roles, ledger),

		Notifications: NewNotificationService(store),
	}
}
