// Package events provides an event stream for load test phase notifications.
//
// The test run publishes an Event whenever steady state begins or ends, a
// phase's statistics are recorded, a stressor is added or fails, and when
// the test finishes. The API server forwards the stream to WebSocket
// clients.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventSteadyStateBegin is emitted when a measurement phase starts
	EventSteadyStateBegin EventType = "steady_state_begin"
	// EventSteadyStateEnd is emitted when a measurement phase ends
	EventSteadyStateEnd EventType = "steady_state_end"
	// EventStatisticsRecorded is emitted when a phase's statistics are handed off
	EventStatisticsRecorded EventType = "statistics_recorded"
	// EventStressorAdded is emitted when a stressor goroutine is started
	EventStressorAdded EventType = "stressor_added"
	// EventStressorFailed is emitted when a stressor stops with an error
	EventStressorFailed EventType = "stressor_failed"
	// EventTestFinished is emitted when all stressors have stopped
	EventTestFinished EventType = "test_finished"
)

// Event represents a test run event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Phase      uint64 `json:"phase,omitempty"`
	Stressors  int    `json:"stressors,omitempty"`
	Operations int    `json:"operations,omitempty"`
	Terminated bool   `json:"terminated,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewSteadyStateEvent creates a steady state begin or end event
func NewSteadyStateEvent(begin bool, phase uint64) Event {
	t := EventSteadyStateEnd
	if begin {
		t = EventSteadyStateBegin
	}
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		Data: EventData{
			Phase: phase,
		},
	}
}

// NewStatisticsRecordedEvent creates a statistics recorded event
func NewStatisticsRecordedEvent(phase uint64, operations int) Event {
	return Event{
		Type:      EventStatisticsRecorded,
		Timestamp: time.Now(),
		Data: EventData{
			Phase:      phase,
			Operations: operations,
		},
	}
}

// NewStressorAddedEvent creates a stressor added event
func NewStressorAddedEvent(stressorID string, total int) Event {
	return Event{
		Type:      EventStressorAdded,
		Timestamp: time.Now(),
		Source:    stressorID,
		Data: EventData{
			Stressors: total,
		},
	}
}

// NewStressorFailedEvent creates a stressor failed event
func NewStressorFailedEvent(stressorID string, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventStressorFailed,
		Timestamp: time.Now(),
		Source:    stressorID,
		Data: EventData{
			Error: errMsg,
		},
	}
}

// NewTestFinishedEvent creates a test finished event
func NewTestFinishedEvent(stressors int, terminated bool) Event {
	return Event{
		Type:      EventTestFinished,
		Timestamp: time.Now(),
		Data: EventData{
			Stressors:  stressors,
			Terminated: terminated,
		},
	}
}
