package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cosplatform/eventcore/internal/lifecycle"
	"github.com/cosplatform/eventcore/internal/models"
	apperrors "github.com/cosplatform/eventcore/pkg/errors"
)

type key struct{ scope, user uint }

type fakeRoles struct {
	community     map[key]models.CommunityRole
	team          map[key]models.TeamRole
	registrations map[key]*models.EventRegistration
	err           error
	communityHits int
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{
		community:     map[key]models.CommunityRole{},
		team:          map[key]models.TeamRole{},
		registrations: map[key]*models.EventRegistration{},
	}
}

func (f *fakeRoles) CommunityRole(_ context.Context, communityID, userID uint) (models.CommunityRole, bool, error) {
	f.communityHits++
	if f.err != nil {
		return "", false, f.err
	}
	r, ok := f.community[key{communityID, userID}]
	return r, ok, nil
}

func (f *fakeRoles) TeamRole(_ context.Context, eventID, userID uint) (models.TeamRole, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	r, ok := f.team[key{eventID, userID}]
	return r, ok, nil
}

func (f *fakeRoles) HasElevatedRoleAnywhere(_ context.Context, userID uint) (bool, error) {
	for k, r := range f.community {
		if k.user == userID && r.Elevated() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRoles) Registration(_ context.Context, eventID, userID uint) (*models.EventRegistration, error) {
	return f.registrations[key{eventID, userID}], nil
}

const communityID uint = 10

var (
	now       = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	organizer = &models.User{ID: 1, Username: "org"}
	stranger  = &models.User{ID: 2, Username: "stranger"}
	admin     = &models.User{ID: 3, Username: "admin", Role: models.UserRoleAdmin}
	superuser = &models.User{ID: 4, Username: "root", IsSuperuser: true}
	owner     = &models.User{ID: 5, Username: "owner"}
	modAdmin  = &models.User{ID: 6, Username: "cadmin"}
	cOrg      = &models.User{ID: 7, Username: "corg"}
	member    = &models.User{ID: 8, Username: "member"}
	host      = &models.User{ID: 9, Username: "host"}
	coHost    = &models.User{ID: 11, Username: "cohost"}
	volunteer = &models.User{ID: 12, Username: "vol"}
)

func communityEvent() *models.Event {
	cid := communityID
	return &models.Event{
		ID: 100, CommunityID: &cid, OrganizerID: organizer.ID,
		Status:    models.EventStatusApproved,
		StartTime: now.Add(24 * time.Hour), EndTime: now.Add(26 * time.Hour),
	}
}

func globalEvent() *models.Event {
	return &models.Event{
		ID: 200, OrganizerID: organizer.ID,
		Status:    models.EventStatusApproved,
		StartTime: now.Add(24 * time.Hour), EndTime: now.Add(26 * time.Hour),
	}
}

func setup() (*Engine, *fakeRoles) {
	roles := newFakeRoles()
	roles.community[key{communityID, owner.ID}] = models.CommunityRoleOwner
	roles.community[key{communityID, modAdmin.ID}] = models.CommunityRoleAdmin
	roles.community[key{communityID, cOrg.ID}] = models.CommunityRoleOrganizer
	roles.community[key{communityID, member.ID}] = models.CommunityRoleMember
	roles.team[key{100, host.ID}] = models.TeamRoleHost
	roles.team[key{100, coHost.ID}] = models.TeamRoleCoHost
	roles.team[key{100, volunteer.ID}] = models.TeamRoleVolunteer
	return NewEngine(roles, lifecycle.New(func() time.Time { return now }), nil), roles
}

func mustCheck(t *testing.T, e *Engine, action Action, actor *models.User, res Resource) Decision {
	t.Helper()
	d, err := e.Check(context.Background(), action, actor, res)
	if err != nil {
		t.Fatalf("Check(%s) error: %v", action, err)
	}
	if !d.Allowed && d.Reason == "" {
		t.Fatalf("Check(%s) denied without reason", action)
	}
	return d
}

func TestCoHostComposition(t *testing.T) {
	e, _ := setup()
	res := ForEvent(communityEvent())

	if !mustCheck(t, e, ActionEditEvent, coHost, res).Allowed {
		t.Error("co-host should be able to edit the event")
	}
	if mustCheck(t, e, ActionApproveEvent, coHost, res).Allowed {
		t.Error("co-host must not approve the event")
	}
	if mustCheck(t, e, ActionManageTeam, coHost, res).Allowed {
		t.Error("co-host must not manage the team")
	}
	if !mustCheck(t, e, ActionManageTeam, host, res).Allowed {
		t.Error("host should manage the team")
	}
}

func TestSystemAdminAllowedForAuthorityActions(t *testing.T) {
	e, _ := setup()
	for _, a := range Actions() {
		if p := policies[a]; p.selfService {
			continue
		}
		for _, u := range []*models.User{admin, superuser} {
			res := Resource{Event: communityEvent(), CommunityID: ptr(communityID), Registration: &models.EventRegistration{UserID: 99}}
			if !mustCheck(t, e, a, u, res).Allowed {
				t.Errorf("%s denied for %s", a, u.Username)
			}
		}
	}
}

func TestDeleteEvent(t *testing.T) {
	e, _ := setup()
	tests := []struct {
		name  string
		actor *models.User
		event *models.Event
		want  bool
	}{
		{"organizer of community event", organizer, communityEvent(), false},
		{"community owner", owner, communityEvent(), true},
		{"community admin", modAdmin, communityEvent(), true},
		{"community organizer role", cOrg, communityEvent(), false},
		{"host", host, communityEvent(), false},
		{"organizer of global event", organizer, globalEvent(), true},
		{"stranger on global event", stranger, globalEvent(), false},
		{"system admin", admin, communityEvent(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustCheck(t, e, ActionDeleteEvent, tt.actor, ForEvent(tt.event)).Allowed; got != tt.want {
				t.Errorf("delete allowed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApproveEvent(t *testing.T) {
	e, _ := setup()
	tests := []struct {
		name  string
		actor *models.User
		event *models.Event
		want  bool
	}{
		{"owner", owner, communityEvent(), true},
		{"community admin", modAdmin, communityEvent(), true},
		{"community organizer role", cOrg, communityEvent(), false},
		{"event organizer", organizer, communityEvent(), false},
		{"host", host, communityEvent(), false},
		{"organizer of global event", organizer, globalEvent(), false},
		{"system admin on global event", superuser, globalEvent(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustCheck(t, e, ActionApproveEvent, tt.actor, ForEvent(tt.event)).Allowed; got != tt.want {
				t.Errorf("approve allowed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreateEvent(t *testing.T) {
	e, _ := setup()

	if d := mustCheck(t, e, ActionCreateEvent, nil, ForNewEvent(ptr(communityID))); d.Allowed || d.Reason != "Authentication required" {
		t.Errorf("unauthenticated: %+v", d)
	}
	if !mustCheck(t, e, ActionCreateEvent, admin, ForNewEvent(nil)).Allowed {
		t.Error("admin should create global events")
	}
	if d := mustCheck(t, e, ActionCreateEvent, cOrg, ForNewEvent(nil)); d.Allowed || d.Reason != "Community required for event creation" {
		t.Errorf("no community: %+v", d)
	}
	if !mustCheck(t, e, ActionCreateEvent, cOrg, ForNewEvent(ptr(communityID))).Allowed {
		t.Error("community organizer should create events")
	}
	if mustCheck(t, e, ActionCreateEvent, member, ForNewEvent(ptr(communityID))).Allowed {
		t.Error("member must not create events")
	}
}

func TestEditEvent(t *testing.T) {
	e, _ := setup()
	res := ForEvent(communityEvent())
	for _, u := range []*models.User{organizer, host, coHost, owner, modAdmin, cOrg} {
		if !mustCheck(t, e, ActionEditEvent, u, res).Allowed {
			t.Errorf("%s should edit", u.Username)
		}
	}
	for _, u := range []*models.User{volunteer, member, stranger} {
		if mustCheck(t, e, ActionEditEvent, u, res).Allowed {
			t.Errorf("%s must not edit", u.Username)
		}
	}
}

func TestScanAttendance(t *testing.T) {
	e, _ := setup()
	res := ForEvent(communityEvent())
	for _, u := range []*models.User{organizer, host, coHost, volunteer, cOrg} {
		if !mustCheck(t, e, ActionScanAttendance, u, res).Allowed {
			t.Errorf("%s should scan", u.Username)
		}
	}
	if mustCheck(t, e, ActionScanAttendance, member, res).Allowed {
		t.Error("member must not scan")
	}
}

func TestRegister(t *testing.T) {
	e, roles := setup()

	pending := communityEvent()
	pending.Status = models.EventStatusPending
	if d := mustCheck(t, e, ActionRegister, stranger, ForEvent(pending)); d.Allowed {
		t.Error("registration on pending event must be denied")
	}
	if mustCheck(t, e, ActionRegister, admin, ForEvent(pending)).Allowed {
		t.Error("admin must not bypass the registration gate")
	}

	ev := communityEvent()
	if !mustCheck(t, e, ActionRegister, stranger, ForEvent(ev)).Allowed {
		t.Error("registration on approved event should be allowed")
	}

	roles.registrations[key{ev.ID, stranger.ID}] = &models.EventRegistration{EventID: ev.ID, UserID: stranger.ID}
	if d := mustCheck(t, e, ActionRegister, stranger, ForEvent(ev)); d.Allowed || d.Reason != "Already registered" {
		t.Errorf("duplicate registration: %+v", d)
	}

	roles.registrations[key{ev.ID, stranger.ID}].Status = models.RegistrationCanceled
	if d := mustCheck(t, e, ActionRegister, stranger, ForEvent(ev)); d.Allowed || d.Reason != "Already registered" {
		t.Errorf("a canceled registration still blocks registering again: %+v", d)
	}
}

func TestCancelRegistration(t *testing.T) {
	e, _ := setup()
	ev := communityEvent()
	reg := &models.EventRegistration{EventID: ev.ID, UserID: member.ID}

	if !mustCheck(t, e, ActionCancelRegistration, member, ForRegistration(ev, reg)).Allowed {
		t.Error("owner of the registration should cancel it")
	}
	if mustCheck(t, e, ActionCancelRegistration, stranger, ForRegistration(ev, reg)).Allowed {
		t.Error("stranger must not cancel someone else's registration")
	}
	if !mustCheck(t, e, ActionCancelRegistration, host, ForRegistration(ev, reg)).Allowed {
		t.Error("host should cancel registrations")
	}
}

func TestSubmitFeedback(t *testing.T) {
	e, roles := setup()
	ev := communityEvent()
	checkIn := now

	if d := mustCheck(t, e, ActionSubmitFeedback, member, ForEvent(ev)); d.Allowed || d.Reason != "You must be registered to submit feedback" {
		t.Errorf("unregistered: %+v", d)
	}

	roles.registrations[key{ev.ID, member.ID}] = &models.EventRegistration{Status: models.RegistrationApproved, Attendance: &models.EventAttendance{}}
	if d := mustCheck(t, e, ActionSubmitFeedback, member, ForEvent(ev)); d.Allowed || d.Reason != "You must attend the event to submit feedback" {
		t.Errorf("not attended: %+v", d)
	}

	roles.registrations[key{ev.ID, member.ID}] = &models.EventRegistration{Status: models.RegistrationApproved, Attendance: &models.EventAttendance{CheckIn: &checkIn}}
	if !mustCheck(t, e, ActionSubmitFeedback, member, ForEvent(ev)).Allowed {
		t.Error("checked-in attendee should submit feedback")
	}

	roles.registrations[key{ev.ID, stranger.ID}] = &models.EventRegistration{Status: models.RegistrationAttended}
	if !mustCheck(t, e, ActionSubmitFeedback, stranger, ForEvent(ev)).Allowed {
		t.Error("attended registration should submit feedback")
	}
}

func TestCommunityActions(t *testing.T) {
	e, _ := setup()
	res := ForCommunity(communityID)

	tests := []struct {
		action Action
		actor  *models.User
		want   bool
	}{
		{ActionTransferOwnership, owner, true},
		{ActionTransferOwnership, modAdmin, false},
		{ActionTransferOwnership, cOrg, false},
		{ActionManageMembers, cOrg, true},
		{ActionManageMembers, member, false},
		{ActionManageAdmins, modAdmin, true},
		{ActionManageAdmins, cOrg, false},
		{ActionGenerateInvite, modAdmin, true},
		{ActionGenerateInvite, stranger, false},
		{ActionViewCommunityAnalytics, cOrg, true},
		{ActionAdjustReputation, modAdmin, true},
		{ActionAdjustReputation, cOrg, false},
		{ActionViewOrganizerAnalytics, cOrg, true},
		{ActionViewOrganizerAnalytics, member, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.action)+"/"+tt.actor.Username, func(t *testing.T) {
			if got := mustCheck(t, e, tt.action, tt.actor, res).Allowed; got != tt.want {
				t.Errorf("allowed = %v, want %v", got, tt.want)
			}
		})
	}

	if !mustCheck(t, e, ActionViewOrganizerAnalytics, cOrg, Resource{}).Allowed {
		t.Error("elevated somewhere should see organizer analytics without a community")
	}
}

func TestLookupErrorPropagates(t *testing.T) {
	e, roles := setup()
	roles.err = errors.New("connection refused")

	_, err := e.Check(context.Background(), ActionEditEvent, member, ForEvent(communityEvent()))
	if err == nil {
		t.Fatal("expected storage error")
	}

	err = e.Authorize(context.Background(), ActionEditEvent, member, ForEvent(communityEvent()))
	if apperrors.CodeOf(err) != apperrors.ErrCodeInternalError {
		t.Fatalf("Authorize code = %s", apperrors.CodeOf(err))
	}
}

func TestAuthorizeDenial(t *testing.T) {
	e, _ := setup()

	err := e.Authorize(context.Background(), ActionApproveEvent, organizer, ForEvent(communityEvent()))
	if apperrors.CodeOf(err) != apperrors.ErrCodeForbidden {
		t.Fatalf("code = %s, want FORBIDDEN", apperrors.CodeOf(err))
	}

	err = e.Authorize(context.Background(), ActionApproveEvent, nil, ForEvent(communityEvent()))
	if apperrors.CodeOf(err) != apperrors.ErrCodeUnauthorized {
		t.Fatalf("code = %s, want UNAUTHORIZED", apperrors.CodeOf(err))
	}
}

func TestCommunityRoleLookupIsMemoised(t *testing.T) {
	e, roles := setup()
	roles.communityHits = 0

	mustCheck(t, e, ActionEditEvent, member, ForEvent(communityEvent()))
	if roles.communityHits != 1 {
		t.Errorf("community lookups = %d, want 1", roles.communityHits)
	}
}

func TestUnknownAction(t *testing.T) {
	e, _ := setup()
	d := mustCheck(t, e, Action("launch_rocket"), admin, Resource{})
	if d.Allowed {
		t.Fatal("unknown action must be denied")
	}
}

func ptr[T any](v T) *T {
	return &v
}
