package policy

import (
	"context"

	"github.com/cosplatform/eventcore/internal/lifecycle"
	"github.com/cosplatform/eventcore/internal/models"
)

// RoleStore is the read side the engine needs. Every lookup considers active
// rows only.
type RoleStore interface {
	CommunityRole(ctx context.Context, communityID, userID uint) (models.CommunityRole, bool, error)
	TeamRole(ctx context.Context, eventID, userID uint) (models.TeamRole, bool, error)
	HasElevatedRoleAnywhere(ctx context.Context, userID uint) (bool, error)
	// Registration returns the actor's registration with attendance, or nil.
	Registration(ctx context.Context, eventID, userID uint) (*models.EventRegistration, error)
}

// facts memoises role lookups for the duration of a single check.
type facts struct {
	ctx   context.Context
	roles RoleStore
	actor *models.User
	res   Resource

	communityRole   models.CommunityRole
	hasCommunity    bool
	communityLoaded bool

	teamRole   models.TeamRole
	hasTeam    bool
	teamLoaded bool

	registration       *models.EventRegistration
	registrationLoaded bool
}

func (f *facts) CommunityRole() (models.CommunityRole, bool, error) {
	if f.communityLoaded {
		return f.communityRole, f.hasCommunity, nil
	}
	cid := f.res.community()
	if cid == nil {
		f.communityLoaded = true
		return "", false, nil
	}
	role, ok, err := f.roles.CommunityRole(f.ctx, *cid, f.actor.ID)
	if err != nil {
		return "", false, err
	}
	f.communityRole, f.hasCommunity, f.communityLoaded = role, ok, true
	return role, ok, nil
}

func (f *facts) TeamRole() (models.TeamRole, bool, error) {
	if f.teamLoaded {
		return f.teamRole, f.hasTeam, nil
	}
	if f.res.Event == nil {
		f.teamLoaded = true
		return "", false, nil
	}
	role, ok, err := f.roles.TeamRole(f.ctx, f.res.Event.ID, f.actor.ID)
	if err != nil {
		return "", false, err
	}
	f.teamRole, f.hasTeam, f.teamLoaded = role, ok, true
	return role, ok, nil
}

func (f *facts) Registration() (*models.EventRegistration, error) {
	if f.registrationLoaded {
		return f.registration, nil
	}
	if f.res.Event == nil {
		f.registrationLoaded = true
		return nil, nil
	}
	reg, err := f.roles.Registration(f.ctx, f.res.Event.ID, f.actor.ID)
	if err != nil {
		return nil, err
	}
	f.registration, f.registrationLoaded = reg, true
	return reg, nil
}

// Rule is one independent grant source.
type Rule struct {
	Name  string
	Grant func(f *facts) (bool, error)
}

// guard returns a non-empty reason when the action must be denied before
// any grant is considered.
type guard func(f *facts, m *lifecycle.Machine) (string, error)

var ruleSystemAdmin = Rule{
	Name: "system_admin",
	Grant: func(f *facts) (bool, error) {
		return f.actor.IsSystemAdmin(), nil
	},
}

var ruleEventOrganizer = Rule{
	Name: "event_organizer",
	Grant: func(f *facts) (bool, error) {
		return f.res.Event != nil && f.res.Event.OrganizerID == f.actor.ID, nil
	},
}

// Organizers may delete only events no community owns.
var ruleOrganizerOfGlobalEvent = Rule{
	Name: "event_organizer",
	Grant: func(f *facts) (bool, error) {
		e := f.res.Event
		return e != nil && e.CommunityID == nil && e.OrganizerID == f.actor.ID, nil
	},
}

func communityRoleIn(name string, roles ...models.CommunityRole) Rule {
	return Rule{
		Name: name,
		Grant: func(f *facts) (bool, error) {
			role, ok, err := f.CommunityRole()
			if err != nil || !ok {
				return false, err
			}
			for _, r := range roles {
				if role == r {
					return true, nil
				}
			}
			return false, nil
		},
	}
}

var (
	ruleCommunityElevated = communityRoleIn("community_elevated",
		models.CommunityRoleOwner, models.CommunityRoleAdmin, models.CommunityRoleOrganizer)
	ruleCommunityModerator = communityRoleIn("community_moderator",
		models.CommunityRoleOwner, models.CommunityRoleAdmin)
	ruleCommunityOwner = communityRoleIn("community_owner", models.CommunityRoleOwner)
)

func teamRoleIn(name string, roles ...models.TeamRole) Rule {
	return Rule{
		Name: name,
		Grant: func(f *facts) (bool, error) {
			role, ok, err := f.TeamRole()
			if err != nil || !ok {
				return false, err
			}
			if len(roles) == 0 {
				return true, nil
			}
			for _, r := range roles {
				if role == r {
					return true, nil
				}
			}
			return false, nil
		},
	}
}

var (
	ruleTeamManager = teamRoleIn("event_team_manager", models.TeamRoleHost, models.TeamRoleCoHost)
	ruleTeamHost    = teamRoleIn("event_team_host", models.TeamRoleHost)
	ruleTeamAny     = teamRoleIn("event_team_member")
)

var ruleElevatedAnywhere = Rule{
	Name: "elevated_anywhere",
	Grant: func(f *facts) (bool, error) {
		return f.roles.HasElevatedRoleAnywhere(f.ctx, f.actor.ID)
	},
}

var ruleRegistrationOwner = Rule{
	Name: "registration_owner",
	Grant: func(f *facts) (bool, error) {
		return f.res.Registration != nil && f.res.Registration.UserID == f.actor.ID, nil
	},
}

var ruleAuthenticated = Rule{
	Name: "authenticated",
	Grant: func(f *facts) (bool, error) {
		return true, nil
	},
}

var ruleAttended = Rule{
	Name: "attended",
	Grant: func(f *facts) (bool, error) {
		reg, err := f.Registration()
		if err != nil || reg == nil {
			return false, err
		}
		if reg.Attendance != nil && reg.Attendance.CheckIn != nil {
			return true, nil
		}
		return reg.Status == models.RegistrationAttended, nil
	},
}

func requireEvent(f *facts, _ *lifecycle.Machine) (string, error) {
	if f.res.Event == nil {
		return "Event required", nil
	}
	return "", nil
}

func requireCommunity(reason string) guard {
	return func(f *facts, _ *lifecycle.Machine) (string, error) {
		if f.res.community() == nil {
			return reason, nil
		}
		return "", nil
	}
}

func requireRegistration(f *facts, _ *lifecycle.Machine) (string, error) {
	if f.res.Registration == nil {
		return "Registration required", nil
	}
	return "", nil
}

func lifecycleGate(action lifecycle.Action) guard {
	return func(f *facts, m *lifecycle.Machine) (string, error) {
		if res := m.ValidateAction(f.res.Event, action); !res.OK {
			return res.Reason, nil
		}
		return "", nil
	}
}

func notRegistered(f *facts, _ *lifecycle.Machine) (string, error) {
	reg, err := f.Registration()
	if err != nil {
		return "", err
	}
	if reg != nil {
		return "Already registered", nil
	}
	return "", nil
}

func mustBeRegistered(f *facts, _ *lifecycle.Machine) (string, error) {
	reg, err := f.Registration()
	if err != nil {
		return "", err
	}
	if reg == nil {
		return "You must be registered to submit feedback", nil
	}
	return "", nil
}
