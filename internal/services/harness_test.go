package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	ctx   context.Context
	db    *gorm.DB
	clock *testClock
	svc   *Services
	seq   int
}

// newHarness runs on in-memory SQLite with a single connection.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:services_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := database.Open(sqlite.Open(dsn), gormlogger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return harnessOn(t, db)
}

// harnessOn migrates db and wires the services on it.
func harnessOn(t *testing.T, db *gorm.DB) *harness {
	t.Helper()
	require.NoError(t, database.AutoMigrate(db))

	// Row timestamps come from the real clock; start from it so the grace
	// windows of the sweeper line up.
	clock := &testClock{t: time.Now().Truncate(time.Second)}
	svc := New(db, Options{
		TicketSecret:      "test-ticket-secret-with-enough-bytes",
		TicketTTL:         time.Hour,
		LockRetryAttempts: 3,
		LockRetryBackoff:  time.Millisecond,
		Now:               clock.Now,
	}, nil)

	return &harness{ctx: context.Background(), db: db, clock: clock, svc: svc}
}

func (h *harness) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", FullName: "User " + name}
	require.NoError(t, h.svc.Store.Users.CreateUser(h.ctx, u))
	return u
}

func (h *harness) systemAdmin(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Role: models.UserRoleAdmin}
	require.NoError(t, h.svc.Store.Users.CreateUser(h.ctx, u))
	return u
}

func (h *harness) community(t *testing.T, owner *models.User) *models.Community {
	t.Helper()
	h.seq++
	c, err := h.svc.Communities.CreateCommunity(h.ctx, owner, fmt.Sprintf("Club %d", h.seq), fmt.Sprintf("club-%d", h.seq), "")
	require.NoError(t, err)
	return c
}

func (h *harness) join(t *testing.T, u *models.User, communityID uint) *models.CommunityMembership {
	t.Helper()
	res, err := h.svc.Communities.Join(h.ctx, u, communityID)
	require.NoError(t, err)
	return res.Membership
}

type eventOpts struct {
	capacity int
	waitlist bool
}

// draftEvent creates an event starting a day from the harness clock.
func (h *harness) draftEvent(t *testing.T, organizer *models.User, communityID uint, o eventOpts) *models.Event {
	t.Helper()
	start := h.clock.Now().Add(24 * time.Hour)
	e, err := h.svc.Events.CreateEvent(h.ctx, organizer, EventInput{
		CommunityID:     &communityID,
		Title:           "Meetup",
		Description:     "<p>Talks</p>",
		Venue:           "Hall A",
		IsPublic:        true,
		StartTime:       start,
		EndTime:         start.Add(2 * time.Hour),
		Capacity:        o.capacity,
		WaitlistEnabled: o.waitlist,
	})
	require.NoError(t, err)
	return e
}

// approvedEvent creates and approves an event; approver must moderate the
// community.
func (h *harness) approvedEvent(t *testing.T, approver, organizer *models.User, communityID uint, o eventOpts) *models.Event {
	t.Helper()
	e := h.draftEvent(t, organizer, communityID, o)
	res, err := h.svc.Events.ChangeStatus(h.ctx, approver, e.ID, models.EventStatusApproved)
	require.NoError(t, err)
	require.True(t, res.Changed)
	return res.Event
}

func (h *harness) register(t *testing.T, u *models.User, eventID uint) *models.EventRegistration {
	t.Helper()
	reg, err := h.svc.Registration.Register(h.ctx, u, eventID, 0)
	require.NoError(t, err)
	return reg
}

func (h *harness) qrOf(t *testing.T, eventID, userID uint) string {
	t.Helper()
	reg, err := h.svc.Store.Registrations.FindRegistration(h.ctx, eventID, userID)
	require.NoError(t, err)
	require.NotNil(t, reg)
	require.NotNil(t, reg.Attendance)
	return reg.Attendance.QRCode
}

func (h *harness) xp(t *testing.T, userID, communityID uint) int64 {
	t.Helper()
	stats, err := h.svc.Reputation.Stats(h.ctx, userID, communityID)
	require.NoError(t, err)
	return stats.TotalXP
}

// jsonID is how an id stored in activity metadata reads back.
func jsonID(id uint) json.Number {
	return json.Number(strconv.FormatUint(uint64(id), 10))
}

func (h *harness) activities(t *testing.T, verb string) []models.DomainActivity {
	t.Helper()
	var out []models.DomainActivity
	require.NoError(t, h.db.Where("verb = ?", verb).Order("id ASC").Find(&out).Error)
	return out
}

type recordingSubscriber struct {
	mu   sync.Mutex
	seen []uint
}

func (r *recordingSubscriber) HandleActivity(_ context.Context, a *models.DomainActivity) error {
	r.mu.Lock()
	r.seen = append(r.seen, a.ID)
	r.mu.Unlock()
	return nil
}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
