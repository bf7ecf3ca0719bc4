package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the wire name of a response event in a task's log.
type EventType string

// Known event types. Unknown wire values are kept verbatim so a log read from
// the server is never truncated.
const (
	EventSetTask             EventType = "set-task"
	EventMarkDone            EventType = "mark-as-done"
	EventMarkUndone          EventType = "mark-as-undone"
	EventArchive             EventType = "archive-task"
	EventUnarchive           EventType = "unarchive-task"
	EventEdit                EventType = "edit-task"
	EventComment             EventType = "comment"
	EventAddFile             EventType = "add-file"
	EventMarkAndGrade        EventType = "mark-and-grade"
	EventConfirmComplete     EventType = "confirm-task-is-complete"
	EventSendReminder        EventType = "send-reminder"
	EventRevertToDo          EventType = "revert-task-to-to-do"
	EventRequestResubmission EventType = "request-resubmission"
)

var knownEventTypes = map[EventType]bool{
	EventSetTask: true, EventMarkDone: true, EventMarkUndone: true,
	EventArchive: true, EventUnarchive: true, EventEdit: true,
	EventComment: true, EventAddFile: true, EventMarkAndGrade: true,
	EventConfirmComplete: true, EventSendReminder: true, EventRevertToDo: true,
	EventRequestResubmission: true,
}

// Known reports whether t is one of the documented event types.
func (t EventType) Known() bool {
	return knownEventTypes[t]
}

// String returns the wire name.
func (t EventType) String() string {
	return string(t)
}

// Payload is the type-specific part of an Event. The set of implementations
// is closed: Comment, FileAdded, Grade and Note.
type Payload interface {
	payload()
}

// Comment is the payload of a comment event.
type Comment struct {
	Message string
}

// FileAdded is the payload of an add-file event.
type FileAdded struct {
	File File
}

// Grade is the payload of a mark-and-grade event. Values are kept as the
// text the server sent.
type Grade struct {
	Mark    string
	Grade   string
	OutOf   string
	MarkMax string
	Message string
}

// Note carries the free-text message attached to reminder, resubmission and
// unrecognized events.
type Note struct {
	Message string
}

func (Comment) payload()   {}
func (FileAdded) payload() {}
func (Grade) payload()     {}
func (Note) payload()      {}

// File describes a file uploaded as a task response or attached to a task.
type File struct {
	ResourceID string `json:"resourceId"`
	FileName   string `json:"fileName"`
	FileType   string `json:"fileType,omitempty"`
}

// Event is one entry of a task's response log. Status events (mark-as-done,
// archive-task, ...) have a nil Payload.
type Event struct {
	Type     EventType
	GUID     string
	Author   string
	Released time.Time
	Payload  Payload
}

// NewStatusEvent builds a payload-free event such as mark-as-done.
func NewStatusEvent(t EventType, author string, at time.Time) Event {
	return Event{Type: t, Author: author, Released: at}
}

// NewCommentEvent builds a comment event.
func NewCommentEvent(author, message string, at time.Time) Event {
	return Event{Type: EventComment, Author: author, Released: at, Payload: Comment{Message: message}}
}

// NewFileEvent builds an add-file event.
func NewFileEvent(author string, f File, at time.Time) Event {
	return Event{Type: EventAddFile, Author: author, Released: at, Payload: FileAdded{File: f}}
}

// Message returns the free text carried by the event, if any.
func (e Event) Message() string {
	switch p := e.Payload.(type) {
	case Comment:
		return p.Message
	case Note:
		return p.Message
	case Grade:
		return p.Message
	default:
		return ""
	}
}

// wireEvent mirrors the response JSON the API sends. Unexported; Event owns
// the conversion in both directions.
type wireEvent struct {
	EventType         string          `json:"eventType"`
	EventGUID         string          `json:"eventGuid,omitempty"`
	AuthorName        string          `json:"authorName,omitempty"`
	ReleasedTimestamp string          `json:"releasedTimestamp,omitempty"`
	Message           string          `json:"message,omitempty"`
	File              *File           `json:"file,omitempty"`
	Mark              FlexString      `json:"mark,omitempty"`
	Grade             FlexString      `json:"grade,omitempty"`
	OutOf             FlexString      `json:"outOf,omitempty"`
	Assessment        *wireAssessment `json:"taskAssessmentDetails,omitempty"`
}

type wireAssessment struct {
	MarkMax FlexString `json:"assessmentMarkMax,omitempty"`
}

// wireFile accepts a numeric or string resourceId.
type wireFile struct {
	ResourceID FlexString `json:"resourceId"`
	FileName   string     `json:"fileName"`
	FileType   string     `json:"fileType"`
}

// MarshalJSON encodes the event in the API's response shape.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		EventType:  string(e.Type),
		EventGUID:  e.GUID,
		AuthorName: e.Author,
	}

	if !e.Released.IsZero() {
		w.ReleasedTimestamp = FormatTimestamp(e.Released)
	}

	switch p := e.Payload.(type) {
	case Comment:
		w.Message = p.Message
	case Note:
		w.Message = p.Message
	case FileAdded:
		f := p.File
		w.File = &f
	case Grade:
		w.Message = p.Message
		w.Mark = FlexString(p.Mark)
		w.Grade = FlexString(p.Grade)
		w.OutOf = FlexString(p.OutOf)

		if p.MarkMax != "" {
			w.Assessment = &wireAssessment{MarkMax: FlexString(p.MarkMax)}
		}
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes an API response event, selecting the payload variant
// from eventType.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w struct {
		wireEvent
		File *wireFile `json:"file"`
	}

	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("task: decoding event: %w", err)
	}

	released, err := ParseTimestamp(w.ReleasedTimestamp)
	if err != nil {
		return err
	}

	*e = Event{
		Type:     EventType(w.EventType),
		GUID:     w.EventGUID,
		Author:   w.AuthorName,
		Released: released,
	}

	switch e.Type {
	case EventComment:
		e.Payload = Comment{Message: w.Message}
	case EventAddFile:
		if w.File != nil {
			e.Payload = FileAdded{File: File{
				ResourceID: w.File.ResourceID.String(),
				FileName:   w.File.FileName,
				FileType:   w.File.FileType,
			}}
		} else {
			e.Payload = FileAdded{}
		}
	case EventMarkAndGrade:
		g := Grade{
			Mark:    w.Mark.String(),
			Grade:   w.Grade.String(),
			OutOf:   w.OutOf.String(),
			Message: w.Message,
		}

		if w.Assessment != nil {
			g.MarkMax = w.Assessment.MarkMax.String()
		}

		e.Payload = g
	default:
		if w.Message != "" {
			e.Payload = Note{Message: w.Message}
		}
	}

	return nil
}

// timestampLayout matches the millisecond ISO-8601 form the API emits.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// fallbackLayouts are accepted on input for timestamps without a zone or
// with date precision only. Zone-less values are read as UTC.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// FormatTimestamp renders t as UTC ISO-8601 with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses an API timestamp. Empty input yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("task: unrecognized timestamp %q", s)
}
