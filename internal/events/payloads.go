package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// TaskDispatchedPayload is emitted when a task enters the queue.
type TaskDispatchedPayload struct {
	TaskID    string `json:"task_id,omitempty"`
	QueueSize int    `json:"queue_size"`
}

func (TaskDispatchedPayload) EventType() EventType { return EventTaskDispatched }

// TaskExecutedPayload is emitted after a task's action returns.
type TaskExecutedPayload struct {
	TaskID    string        `json:"task_id,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Recurring bool          `json:"recurring"`
}

func (TaskExecutedPayload) EventType() EventType { return EventTaskExecuted }

// TaskRequeuedPayload is emitted when a recurring task returns to the queue,
// either after executing or because it was not yet due.
type TaskRequeuedPayload struct {
	TaskID   string `json:"task_id,omitempty"`
	Executed bool   `json:"executed"`
}

func (TaskRequeuedPayload) EventType() EventType { return EventTaskRequeued }

// TaskDroppedPayload is emitted when a non-recurring, non-due task is discarded.
type TaskDroppedPayload struct {
	TaskID string `json:"task_id,omitempty"`
}

func (TaskDroppedPayload) EventType() EventType { return EventTaskDropped }

// TaskPanickedPayload is emitted when a task's action panics.
type TaskPanickedPayload struct {
	TaskID string `json:"task_id,omitempty"`
	Panic  string `json:"panic"`
}

func (TaskPanickedPayload) EventType() EventType { return EventTaskPanicked }

// WorkerStartedPayload is emitted when the worker goroutine starts.
type WorkerStartedPayload struct{}

func (WorkerStartedPayload) EventType() EventType { return EventWorkerStarted }

// WorkerStoppedPayload is emitted when the worker goroutine exits.
type WorkerStoppedPayload struct {
	Reason string `json:"reason"` // "stop" or "panic"
}

func (WorkerStoppedPayload) EventType() EventType { return EventWorkerStopped }

// QueueClearedPayload is emitted when the queue is cleared.
type QueueClearedPayload struct {
	Removed int `json:"removed"`
}

func (QueueClearedPayload) EventType() EventType { return EventQueueCleared }

// NewTypedEvent builds an Event from a typed payload.
func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
