package pipeline

// Event types published for finished runs.
const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// Event is a notification about a finished run.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// CompletedPayload describes a completed run.
type CompletedPayload struct {
	ID         string `json:"id"`
	Detections int    `json:"detections"`
	ResultDir  string `json:"result_dir"`
}

// FailedPayload describes an aborted run.
type FailedPayload struct {
	ID      string `json:"id"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// EventPublisher receives run events. Publish must not block.
type EventPublisher interface {
	Publish(Event)
}

// NoOpPublisher drops every event.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(Event) {}
