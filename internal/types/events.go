package types

type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
	EventComplete  EventKind = "complete"
	EventError     EventKind = "error"
	EventCancelled EventKind = "cancelled"
)

// Terminal reports whether the kind ends a job's event stream.
func (k EventKind) Terminal() bool {
	return k == EventComplete || k == EventError || k == EventCancelled
}

// Event is one outbound message. The set of implementations is closed: the
// structs below are the only events the engine produces.
type Event interface {
	Kind() EventKind
	JobID() string
}

// EventHeader is embedded in every event so the wire form always carries
// "event" and, for job-scoped events, "id".
type EventHeader struct {
	Event EventKind `json:"event"`
	ID    string    `json:"id,omitempty"`
}

func (h EventHeader) Kind() EventKind { return h.Event }
func (h EventHeader) JobID() string   { return h.ID }

type StartedEvent struct {
	EventHeader
}

type ProgressEvent struct {
	EventHeader
	Filename   string `json:"filename"`
	Percent    *int   `json:"percent"`
	Speed      string `json:"speed"`
	Size       int64  `json:"size"`
	Downloaded int64  `json:"downloaded"`
}

type PausedEvent struct {
	EventHeader
}

type ResumedEvent struct {
	EventHeader
}

type CompleteEvent struct {
	EventHeader
	Filename string `json:"filename"`
	File     string `json:"file"`
	Percent  int    `json:"percent"`
}

type ErrorEvent struct {
	EventHeader
	Error string `json:"error"`
}

type CancelledEvent struct {
	EventHeader
}

func NewStarted(id string) StartedEvent {
	return StartedEvent{EventHeader{Event: EventStarted, ID: id}}
}

func NewProgress(id, filename string, size, downloaded int64, speed string) ProgressEvent {
	ev := ProgressEvent{
		EventHeader: EventHeader{Event: EventProgress, ID: id},
		Filename:    filename,
		Speed:       speed,
		Size:        size,
		Downloaded:  downloaded,
	}
	if size > 0 {
		pct := int(downloaded * 100 / size)
		ev.Percent = &pct
	} else if size == 0 {
		pct := 100
		ev.Percent = &pct
	}
	return ev
}

func NewPaused(id string) PausedEvent {
	return PausedEvent{EventHeader{Event: EventPaused, ID: id}}
}

func NewResumed(id string) ResumedEvent {
	return ResumedEvent{EventHeader{Event: EventResumed, ID: id}}
}

func NewComplete(id, filename, file string) CompleteEvent {
	return CompleteEvent{
		EventHeader: EventHeader{Event: EventComplete, ID: id},
		Filename:    filename,
		File:        file,
		Percent:     100,
	}
}

// NewError builds a job-scoped error event; an empty id yields a global one.
func NewError(id string, err error) ErrorEvent {
	return ErrorEvent{
		EventHeader: EventHeader{Event: EventError, ID: id},
		Error:       err.Error(),
	}
}

func NewCancelled(id string) CancelledEvent {
	return CancelledEvent{EventHeader{Event: EventCancelled, ID: id}}
}
