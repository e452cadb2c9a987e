// Package events provides event types and subjects for the RelayDesk event system.
package events

// Subjects the routing engine and socket hub publish on.
const (
	SubjectSessionStarted = "chat.session.started"
	SubjectSessionClosed  = "chat.session.closed"
	SubjectNeedsHelp      = "chat.session.needs_help"
	SubjectAssignment     = "chat.session.assignment"
	SubjectAgentPresence  = "chat.agent.presence"
	SubjectLiveVisitors   = "chat.visitors"
	SubjectNotification   = "chat.notification"

	// SubjectChatAll matches every chat subject; the admin feed subscribes here.
	SubjectChatAll = "chat.>"
)

// Event types carried in the admin feed.
const (
	TypeSessionStarted   = "session_started"
	TypeSessionClosed    = "session_closed"
	TypeNeedsHelp        = "needs_help"
	TypeAgentAssigned    = "agent_assigned"
	TypeAgentOnline      = "agent_online"
	TypeAgentOffline     = "agent_offline"
	TypeAgentUnreachable = "agent_unreachable"
	TypeVisitorsUpdate   = "live_visitors_update"
)
