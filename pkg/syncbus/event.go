package syncbus

import "encoding/json"

// EventType names the cross-surface events.
type EventType string

const (
	EventNewPatient     EventType = "clara:new_patient"
	EventPatientUpdate  EventType = "clara:patient_update"
	EventReportComplete EventType = "clara:report_complete"
	EventStatusChange   EventType = "clara:status_change"
	EventETAUpdate      EventType = "clara:eta_update"
)

// KnownEventTypes lists every event type the bus carries.
func KnownEventTypes() []EventType {
	return []EventType{
		EventNewPatient,
		EventPatientUpdate,
		EventReportComplete,
		EventStatusChange,
		EventETAUpdate,
	}
}

// Event is one bus message. Source identifies the publishing node so
// receivers can drop their own echoes.
type Event struct {
	Type        EventType       `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
	TimestampMs int64           `json:"timestamp"`
	Source      string          `json:"source"`
}
