package schedule

// EventType is the closed set of event kinds the schedule updater (C7)
// classifies each new entry into (spec.md §4.7).
type EventType string

const (
	EventNewItem              EventType = "NEW_ITEM"
	EventPause                EventType = "PAUSE"
	EventResume               EventType = "RESUME"
	EventTransfer             EventType = "TRANSFER"
	EventEmptySchedule        EventType = "EMPTY_SCHEDULE"
	EventExperimentStartTime  EventType = "EXPERIMENT_START_TIME_SET"
)

// Event is what the schedule updater pushes into the supervisor's shared
// priority queue. Entry is nil for EMPTY_SCHEDULE. StartTimeSet carries the
// payload for EXPERIMENT_START_TIME_SET.
type Event struct {
	Type         EventType
	Entry        *Entry
	StartTimeSet int64
}
