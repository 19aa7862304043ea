package host

// EventKind identifies a host notification.
type EventKind string

const (
	EventWindowCreated EventKind = "window_created"
	EventWindowRemoved EventKind = "window_removed"
	EventTabCreated    EventKind = "tab_created"
	EventTabRemoved    EventKind = "tab_removed"
	EventTabUpdated    EventKind = "tab_updated" // load complete or title changed
	EventTabAttached   EventKind = "tab_attached"
	EventTabDetached   EventKind = "tab_detached"
	EventGroupUpdated  EventKind = "group_updated"
)

// Event is a single host notification. WindowID is always set; TabID and
// GroupID only for the kinds that concern them.
type Event struct {
	Kind     EventKind
	WindowID WindowID
	TabID    TabID
	GroupID  GroupID
}

// TabMutation reports whether the event is a tab-level change that should
// feed the debounced capture scheduler.
func (e Event) TabMutation() bool {
	switch e.Kind {
	case EventTabCreated, EventTabRemoved, EventTabUpdated,
		EventTabAttached, EventTabDetached, EventGroupUpdated:
		return true
	}
	return false
}
