package calls

// EventType identifies a realtime notification pushed to a connected
// caller or executive.
type EventType string

const (
	EventIncomingCall  EventType = "incoming_call"
	EventCallAccepted  EventType = "call_accepted"
	EventCallJoined    EventType = "call_joined"
	EventCallRejected  EventType = "call_rejected"
	EventCallCancelled EventType = "call_cancelled"
	EventCallMissed    EventType = "call_missed"
	EventCallEnded     EventType = "call_ended"
	EventHeartbeatAck  EventType = "heartbeat_ack"
	EventError         EventType = "error"
)

// Event is the wire payload for realtime notifications. Payload keys are
// event specific; call_id is always present for call events.
type Event struct {
	Type    EventType      `json:"type"`
	CallID  string         `json:"call_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Notifier delivers events to connected parties. Delivery is best effort;
// a disconnected recipient loses the event.
type Notifier interface {
	NotifyUser(userID string, ev Event)
	NotifyExecutive(executiveID string, ev Event)
}

// NopNotifier discards every event. Used when no realtime hub is wired,
// and in tests that do not care about notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyUser(string, Event)      {}
func (NopNotifier) NotifyExecutive(string, Event) {}
