package models

// Activity verbs. Services log activities only with these constants.
const (
	VerbEventCreated              = "event.created"
	VerbEventUpdated              = "event.updated"
	VerbEventDeleted              = "event.deleted"
	VerbEventSubmittedForApproval = "event.submitted_for_approval"
	VerbEventRejected             = "event.rejected"
	VerbEventPublished            = "event.published"
	VerbEventCanceled             = "event.canceled"
	VerbEventAttended             = "event.attended"

	VerbRegistrationCreated    = "registration.created"
	VerbRegistrationApproved   = "registration.approved"
	VerbRegistrationRejected   = "registration.rejected"
	VerbRegistrationCanceled   = "registration.canceled"
	VerbRegistrationWaitlisted = "registration.waitlisted"
	VerbRegistrationPromoted   = "registration.promoted"

	VerbAttendanceCheckIn  = "attendance.check_in"
	VerbAttendanceCheckOut = "attendance.check_out"

	VerbCertificateIssued  = "certificate.issued"
	VerbCertificateRevoked = "certificate.revoked"

	VerbFeedbackSubmitted = "feedback.submitted"

	VerbAnnouncementCreated = "announcement.created"

	VerbTeamMemberAdded       = "team.member_added"
	VerbTeamMemberRemoved     = "team.member_removed"
	VerbTeamMemberRoleChanged = "team.member_role_changed"

	VerbCommunityCreated              = "community.created"
	VerbCommunityJoined               = "community.joined"
	VerbCommunityRejoined             = "community.rejoined"
	VerbCommunityLeft                 = "community.left"
	VerbCommunityMemberRoleChanged    = "community.member_role_changed"
	VerbCommunityOwnershipTransferred = "community.ownership_transferred"

	VerbReputationPenalty    = "reputation.penalty"
	VerbReputationAdjustment = "reputation.adjustment"
)

// VerbCategories groups verbs for feed filtering.
var VerbCategories = map[string][]string{
	"event": {
		VerbEventCreated, VerbEventUpdated, VerbEventDeleted,
		VerbEventSubmittedForApproval, VerbEventRejected,
		VerbEventPublished, VerbEventCanceled, VerbEventAttended,
	},
	"registration": {
		VerbRegistrationCreated, VerbRegistrationApproved, VerbRegistrationRejected,
		VerbRegistrationCanceled, VerbRegistrationWaitlisted, VerbRegistrationPromoted,
	},
	"attendance":   {VerbAttendanceCheckIn, VerbAttendanceCheckOut},
	"certificate":  {VerbCertificateIssued, VerbCertificateRevoked},
	"feedback":     {VerbFeedbackSubmitted},
	"announcement": {VerbAnnouncementCreated},
	"team":         {VerbTeamMemberAdded, VerbTeamMemberRemoved, VerbTeamMemberRoleChanged},
	"community": {
		VerbCommunityCreated, VerbCommunityJoined, VerbCommunityRejoined, VerbCommunityLeft,
		VerbCommunityMemberRoleChanged, VerbCommunityOwnershipTransferred,
	},
	"reputation": {VerbReputationPenalty, VerbReputationAdjustment},
}

var knownVerbs = func() map[string]string {
	m := make(map[string]string)
	for category, verbs := range VerbCategories {
		for _, v := range verbs {
			m[v] = category
		}
	}
	return m
}()

// IsKnownVerb reports whether verb is registered.
func IsKnownVerb(verb string) bool {
	_, ok := knownVerbs[verb]
	return ok
}

// VerbCategory returns the category of verb, or "" when unknown.
func VerbCategory(verb string) string {
	return knownVerbs[verb]
}

// All lists every model for migration.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Community{},
		&CommunityMembership{},
		&CommunityInvite{},
		&Event{},
		&EventTeamMember{},
		&EventRegistration{},
		&EventAttendance{},
		&Certificate{},
		&ScanLog{},
		&Announcement{},
		&EventFeedback{},
		&DomainActivity{},
		&ActivityOutbox{},
		&ReputationLedgerEntry{},
		&UserCommunityStats{},
		&Notification{},
	}
}
