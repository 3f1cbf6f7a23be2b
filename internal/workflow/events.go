package workflow

import "time"

// EventType enumerates the progress events the engine emits. Transport of
// these events is the caller's concern; the engine only invokes the
// callback.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventRouteDecided   EventType = "route_decided"
	EventError          EventType = "error"
)

// Event is one discrete progress notification.
type Event struct {
	Type   EventType `json:"type"`
	Stage  string    `json:"stage"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// EventFunc receives progress events. It must not block; slow consumers
// should buffer on their side.
type EventFunc func(Event)

func (e *Engine) emit(t EventType, stage, detail string) {
	if e.events == nil {
		return
	}
	e.events(Event{Type: t, Stage: stage, Detail: detail, Time: time.Now()})
}
