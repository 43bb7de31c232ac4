package policy

import "github.com/cosplatform/eventcore/internal/models"

type Action string

// Event-scoped actions.
const (
	ActionCreateEvent            Action = "create_event"
	ActionEditEvent              Action = "edit_event"
	ActionDeleteEvent            Action = "delete_event"
	ActionApproveEvent           Action = "approve_event"
	ActionRegister               Action = "register"
	ActionCancelRegistration     Action = "cancel_registration"
	ActionManageRegistrations    Action = "manage_registrations"
	ActionScanAttendance         Action = "scan_attendance"
	ActionIssueCertificate       Action = "issue_certificate"
	ActionViewAnalytics          Action = "view_analytics"
	ActionViewOrganizerAnalytics Action = "view_organizer_analytics"
	ActionCreateAnnouncement     Action = "create_announcement"
	ActionSubmitFeedback         Action = "submit_feedback"
	ActionManageTeam             Action = "manage_team"
	ActionViewTeam               Action = "view_team"
)

// Community-scoped actions.
const (
	ActionManageMembers          Action = "manage_members"
	ActionManageAdmins           Action = "manage_admins"
	ActionGenerateInvite         Action = "generate_invite"
	ActionTransferOwnership      Action = "transfer_ownership"
	ActionViewCommunityAnalytics Action = "view_community_analytics"
	ActionAdjustReputation       Action = "adjust_reputation"
)

// Decision is the answer to one authorization question. A denial is a
// normal value, never an error.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(rule string) Decision {
	return Decision{Allowed: true, Reason: rule}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Resource is what an action is performed on. Event-scoped actions take
// their community from Event.CommunityID.
type Resource struct {
	Event        *models.Event
	CommunityID  *uint
	Registration *models.EventRegistration
}

func ForEvent(e *models.Event) Resource {
	return Resource{Event: e}
}

func ForCommunity(communityID uint) Resource {
	return Resource{CommunityID: &communityID}
}

// ForNewEvent is the resource for create_event; communityID may be nil.
func ForNewEvent(communityID *uint) Resource {
	return Resource{CommunityID: communityID}
}

func ForRegistration(e *models.Event, r *models.EventRegistration) Resource {
	return Resource{Event: e, Registration: r}
}

func (r Resource) community() *uint {
	if r.Event != nil {
		return r.Event.CommunityID
	}
	return r.CommunityID
}
