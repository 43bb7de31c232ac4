// Package policy answers "may this user perform this action on this
// resource" by evaluating a list of independent grant rules per action.
package policy

import (
	"context"
	"fmt"

	"github.com/cosplatform/eventcore/internal/lifecycle"
	"github.com/cosplatform/eventcore/internal/metrics"
	"github.com/cosplatform/eventcore/internal/models"
	apperrors "github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
)

type actionPolicy struct {
	// selfService actions concern the actor's own participation, so the
	// system admin grant does not bypass their guards.
	selfService bool
	guards      []guard
	rules       []Rule
	denyReason  string
}

var editRules = []Rule{ruleEventOrganizer, ruleTeamManager, ruleCommunityElevated}

var policies = map[Action]actionPolicy{
	ActionCreateEvent: {
		guards:     []guard{requireCommunity("Community required for event creation")},
		rules:      []Rule{ruleCommunityElevated},
		denyReason: "You do not have permission to create events in this community",
	},
	ActionEditEvent: {
		guards:     []guard{requireEvent},
		rules:      editRules,
		denyReason: "You do not have permission to edit this event",
	},
	ActionDeleteEvent: {
		guards:     []guard{requireEvent},
		rules:      []Rule{ruleOrganizerOfGlobalEvent, ruleCommunityModerator},
		denyReason: "You do not have permission to delete this event",
	},
	ActionApproveEvent: {
		guards:     []guard{requireEvent},
		rules:      []Rule{ruleCommunityModerator},
		denyReason: "You do not have permission to approve/reject this event",
	},
	ActionRegister: {
		selfService: true,
		guards:      []guard{requireEvent, lifecycleGate(lifecycle.ActionRegister), notRegistered},
		rules:       []Rule{ruleAuthenticated},
	},
	ActionCancelRegistration: {
		guards:     []guard{requireEvent, requireRegistration},
		rules:      append([]Rule{ruleRegistrationOwner}, editRules...),
		denyReason: "You cannot cancel this registration",
	},
	ActionManageRegistrations: {
		guards:     []guard{requireEvent},
		rules:      editRules,
		denyReason: "You do not have permission to manage registrations for this event",
	},
	ActionScanAttendance: {
		guards:     []guard{requireEvent},
		rules:      []Rule{ruleEventOrganizer, ruleTeamAny, ruleCommunityElevated},
		denyReason: "You do not have permission to scan attendance for this event",
	},
	ActionIssueCertificate: {
		guards:     []guard{requireEvent},
		rules:      editRules,
		denyReason: "You do not have permission to issue certificates for this event",
	},
	ActionViewAnalytics: {
		guards:     []guard{requireEvent},
		rules:      editRules,
		denyReason: "You do not have permission to view analytics for this event",
	},
	ActionViewOrganizerAnalytics: {
		rules:      []Rule{ruleCommunityElevated, ruleElevatedAnywhere},
		denyReason: "You do not have permission to view organizer analytics",
	},
	ActionCreateAnnouncement: {
		guards:     []guard{requireEvent},
		rules:      editRules,
		denyReason: "You do not have permission to post announcements for this event",
	},
	ActionSubmitFeedback: {
		selfService: true,
		guards:      []guard{requireEvent, mustBeRegistered},
		rules:       []Rule{ruleAttended},
		denyReason:  "You must attend the event to submit feedback",
	},
	ActionManageTeam: {
		guards:     []guard{requireEvent},
		rules:      []Rule{ruleEventOrganizer, ruleTeamHost, ruleCommunityElevated},
		denyReason: "You do not have permission to manage the event team",
	},
	ActionViewTeam: {
		guards:     []guard{requireEvent},
		rules:      []Rule{ruleEventOrganizer, ruleTeamAny, ruleCommunityElevated},
		denyReason: "You do not have permission to view the event team",
	},
	ActionManageMembers: {
		guards:     []guard{requireCommunity("Community required")},
		rules:      []Rule{ruleCommunityElevated},
		denyReason: "You do not have permission to manage members of this community",
	},
	ActionManageAdmins: {
		guards:     []guard{requireCommunity("Community required")},
		rules:      []Rule{ruleCommunityModerator},
		denyReason: "Only owners and admins can manage admin roles",
	},
	ActionGenerateInvite: {
		guards:     []guard{requireCommunity("Community required")},
		rules:      []Rule{ruleCommunityElevated},
		denyReason: "You do not have permission to generate invites for this community",
	},
	ActionTransferOwnership: {
		guards:     []guard{requireCommunity("Community required")},
		rules:      []Rule{ruleCommunityOwner},
		denyReason: "Only the current owner can transfer ownership",
	},
	ActionViewCommunityAnalytics: {
		guards:     []guard{requireCommunity("Community required")},
		rules:      []Rule{ruleCommunityElevated},
		denyReason: "You do not have permission to view analytics for this community",
	},
	ActionAdjustReputation: {
		guards:     []guard{requireCommunity("Community required")},
		rules:      []Rule{ruleCommunityModerator},
		denyReason: "You do not have permission to adjust reputation in this community",
	},
}

// Actions lists every action the engine knows.
func Actions() []Action {
	out := make([]Action, 0, len(policies))
	for a := range policies {
		out = append(out, a)
	}
	return out
}

type Engine struct {
	roles     RoleStore
	lifecycle *lifecycle.Machine
	metrics   *metrics.Metrics
}

func NewEngine(roles RoleStore, machine *lifecycle.Machine, m *metrics.Metrics) *Engine {
	if machine == nil {
		machine = lifecycle.New(nil)
	}
	return &Engine{roles: roles, lifecycle: machine, metrics: m}
}

// WithRoles returns a copy of the engine reading roles from rs, typically a
// store bound to the caller's transaction.
func (e *Engine) WithRoles(rs RoleStore) *Engine {
	cp := *e
	cp.roles = rs
	return &cp
}

// Lifecycle returns the state machine the engine gates with.
func (e *Engine) Lifecycle() *lifecycle.Machine {
	return e.lifecycle
}

// Check evaluates action for actor on res. It performs reads only. The
// returned error is non-nil only when a role lookup failed.
func (e *Engine) Check(ctx context.Context, action Action, actor *models.User, res Resource) (Decision, error) {
	d, err := e.check(ctx, action, actor, res)
	switch {
	case err != nil:
		e.metrics.PolicyDecision(string(action), "error")
	case d.Allowed:
		e.metrics.PolicyDecision(string(action), "allow")
	default:
		e.metrics.PolicyDecision(string(action), "deny")
	}
	return d, err
}

func (e *Engine) check(ctx context.Context, action Action, actor *models.User, res Resource) (Decision, error) {
	p, ok := policies[action]
	if !ok {
		return deny(fmt.Sprintf("Unknown action: %s", action)), nil
	}
	if actor == nil || actor.ID == 0 {
		return deny("Authentication required"), nil
	}
	if !p.selfService && actor.IsSystemAdmin() {
		return allow(ruleSystemAdmin.Name), nil
	}

	f := &facts{ctx: ctx, roles: e.roles, actor: actor, res: res}
	for _, g := range p.guards {
		reason, err := g(f, e.lifecycle)
		if err != nil {
			return Decision{}, err
		}
		if reason != "" {
			return deny(reason), nil
		}
	}

	for _, r := range p.rules {
		granted, err := r.Grant(f)
		if err != nil {
			return Decision{}, err
		}
		if granted {
			return allow(r.Name), nil
		}
	}
	return deny(p.denyReason), nil
}

// Authorize is Check for callers that want an error: a denial becomes a
// FORBIDDEN AppError carrying the reason, a lookup failure INTERNAL_ERROR.
func (e *Engine) Authorize(ctx context.Context, action Action, actor *models.User, res Resource) error {
	d, err := e.Check(ctx, action, actor, res)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to evaluate permissions")
	}
	if !d.Allowed {
		logger.Debug("Policy denied", "action", action, "actor_id", actorID(actor), "reason", d.Reason)
		if actor == nil || actor.ID == 0 {
			return apperrors.New(apperrors.ErrCodeUnauthorized, d.Reason)
		}
		return apperrors.New(apperrors.ErrCodeForbidden, d.Reason)
	}
	return nil
}

func actorID(u *models.User) uint {
	if u == nil {
		return 0
	}
	return u.ID
}
