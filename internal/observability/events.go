package observability

// EventType classifies an event-log record. The set is closed; adapters and
// extensions must map their activity onto one of these.
type EventType string

const (
	EventUserMessage    EventType = "user_message"
	EventAgentResponse  EventType = "agent_response"
	EventAgentThoughts  EventType = "agent_thoughts"
	EventToolExecution  EventType = "tool_execution"
	EventToolResult     EventType = "tool_result"
	EventMemoryAccess   EventType = "memory_access"
	EventMemorySave     EventType = "memory_save"
	EventError          EventType = "error"
	EventCriticalError  EventType = "critical_error"
	EventWarning        EventType = "warning"
	EventIntervention   EventType = "intervention"
	EventExtensionFired EventType = "extension_fired"
	EventAgentComplete  EventType = "agent_complete"
	EventSystem         EventType = "system"
)

// knownEventTypes guards against adapters inventing their own types.
var knownEventTypes = map[EventType]bool{
	EventUserMessage: true, EventAgentResponse: true, EventAgentThoughts: true,
	EventToolExecution: true, EventToolResult: true, EventMemoryAccess: true,
	EventMemorySave: true, EventError: true, EventCriticalError: true,
	EventWarning: true, EventIntervention: true, EventExtensionFired: true,
	EventAgentComplete: true, EventSystem: true,
}

// Valid reports whether t is part of the closed event-type set.
func (t EventType) Valid() bool {
	return knownEventTypes[t]
}
