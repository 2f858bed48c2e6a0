package protocol

// Event is the classified form of an inbound envelope. The concrete types
// below are the only implementations.
type Event interface {
	isEvent()
}

// RosterSnapshot replaces the set of online users.
type RosterSnapshot struct {
	Users []string
}

// Posted is any envelope that becomes a message in the store: chat kinds,
// join/leave notices and, with Known unset, unrecognized kinds.
type Posted struct {
	Envelope Envelope
	Known    bool
}

// Recalled removes a message by id.
type Recalled struct {
	MessageID string
}

// HistoryMarker is the server's acknowledgement of a history request.
type HistoryMarker struct{}

func (RosterSnapshot) isEvent() {}
func (Posted) isEvent()         {}
func (Recalled) isEvent()       {}
func (HistoryMarker) isEvent()  {}

// Classify maps an envelope to the event it represents.
func Classify(env Envelope) Event {
	switch env.Event {
	case EventOnlineUsers:
		users := env.Users
		if users == nil {
			users = []string{}
		}
		return RosterSnapshot{Users: users}
	case EventEnterRoom, EventLeaveRoom, EventChatText, EventChatPhoto, EventChatImage:
		return Posted{Envelope: env, Known: true}
	case EventRecallMessage:
		id := env.MessageID
		if id == "" {
			id = env.Data
		}
		return Recalled{MessageID: id}
	case EventGetHistory:
		return HistoryMarker{}
	default:
		return Posted{Envelope: env}
	}
}
