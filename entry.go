package artcache

import "time"

// Status tracks an entry through its lifecycle. An entry is written as
// StatusGenerating when orchestration starts and mutated to StatusCompleted or
// StatusError when it ends. Error entries are kept deliberately: repeated
// visits to the same location must not re-trigger expensive generation work.
type Status string

const (
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Entry is one cached artifact. Payload is meaningful only for
// StatusCompleted; ErrorMessage only for StatusError.
type Entry[V any] struct {
	Status       Status
	Payload      V
	ErrorMessage string
	CreatedAt    time.Time
}

// Completed builds a completed entry carrying payload.
func Completed[V any](payload V) Entry[V] {
	return Entry[V]{Status: StatusCompleted, Payload: payload, CreatedAt: time.Now()}
}

// Generating builds an in-flight marker entry.
func Generating[V any]() Entry[V] {
	return Entry[V]{Status: StatusGenerating, CreatedAt: time.Now()}
}

// Failed builds a terminal error entry ("fail once, remember the failure").
func Failed[V any](msg string) Entry[V] {
	return Entry[V]{Status: StatusError, ErrorMessage: msg, CreatedAt: time.Now()}
}
