package task

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Person is a Firefly principal: a task setter or addressee.
type Person struct {
	Name string `json:"name"`
	GUID string `json:"guid,omitempty"`
}

// Description holds the task body. Non-simple descriptions live on a page
// referenced by Task.DescriptionPageURL and HTMLContent may be empty.
type Description struct {
	IsSimple    bool   `json:"isSimpleDescription"`
	HTMLContent string `json:"htmlContent,omitempty"`
}

// PageAttachment links a portal page to a task.
type PageAttachment struct {
	PageID string `json:"pageId"`
	Title  string `json:"titleShort"`
}

// Task is a cached task record. A Task held by a Snapshot is never modified in
// place: every change goes through a method that returns a copy.
type Task struct {
	ID                 ID
	Title              string
	Deleted            bool
	Archived           bool
	Setter             Person
	Addressees         []Person
	SetDate            time.Time
	DueDate            time.Time // zero when the task has no due date
	DescriptionPageURL string
	Description        Description
	FileAttachments    []File
	PageAttachments    []PageAttachment
	Events             []Event
}

// HasDueDate reports whether the task carries a due date.
func (t *Task) HasDueDate() bool {
	return !t.DueDate.IsZero()
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	c := *t
	c.Addressees = slices.Clone(t.Addressees)
	c.FileAttachments = slices.Clone(t.FileAttachments)
	c.PageAttachments = slices.Clone(t.PageAttachments)
	c.Events = slices.Clone(t.Events)

	return &c
}

// WithEvent returns a copy of t with e appended to the event log.
func (t *Task) WithEvent(e Event) *Task {
	c := t.Clone()
	c.Events = append(c.Events, e)

	return c
}

// HasEvent reports whether the log contains an event with the given GUID.
func (t *Task) HasEvent(guid string) bool {
	if guid == "" {
		return false
	}

	return slices.ContainsFunc(t.Events, func(e Event) bool { return e.GUID == guid })
}

// ReplaceEvent returns a copy of t with the event identified by guid replaced
// by e. The second result is false when no such event exists, in which case
// the returned task is t unchanged.
func (t *Task) ReplaceEvent(guid string, e Event) (*Task, bool) {
	idx := slices.IndexFunc(t.Events, func(ev Event) bool { return ev.GUID == guid })
	if guid == "" || idx < 0 {
		return t, false
	}

	c := t.Clone()
	c.Events[idx] = e

	return c, true
}

// WithoutEvent returns a copy of t with the event identified by guid removed.
// The second result is false when no such event exists, in which case the
// returned task is t unchanged.
func (t *Task) WithoutEvent(guid string) (*Task, bool) {
	if !t.HasEvent(guid) {
		return t, false
	}

	c := t.Clone()
	c.Events = slices.DeleteFunc(c.Events, func(ev Event) bool { return ev.GUID == guid })

	return c, true
}

// wireTask mirrors the task JSON returned by /api/v2/apps/tasks/byIds.
// The cache persists the same shape.
type wireTask struct {
	ID                  ID               `json:"id"`
	Title               string           `json:"title"`
	Deleted             bool             `json:"deleted"`
	Archived            bool             `json:"archived"`
	Setter              Person           `json:"setter"`
	Addressees          []wireAddressee  `json:"addressees,omitempty"`
	SetDate             string           `json:"setDate,omitempty"`
	DueDate             string           `json:"dueDate,omitempty"`
	DescriptionPageURL  string           `json:"descriptionPageUrl,omitempty"`
	DescriptionDetails  *Description     `json:"descriptionDetails,omitempty"`
	FileAttachments     []wireFile       `json:"fileAttachments,omitempty"`
	PageAttachments     []wirePageAttach `json:"pageAttachments,omitempty"`
	RecipientsResponses []wireRecipient  `json:"recipientsResponses"`
}

type wireAddressee struct {
	Principal Person `json:"principal"`
}

type wirePageAttach struct {
	PageID FlexString `json:"pageId"`
	Title  string     `json:"titleShort"`
}

type wireRecipient struct {
	Responses []Event `json:"responses"`
}

// MarshalJSON encodes the task in the API's byIds shape.
func (t Task) MarshalJSON() ([]byte, error) {
	w := wireTask{
		ID:                 t.ID,
		Title:              t.Title,
		Deleted:            t.Deleted,
		Archived:           t.Archived,
		Setter:             t.Setter,
		DescriptionPageURL: t.DescriptionPageURL,
	}

	if !t.SetDate.IsZero() {
		w.SetDate = FormatTimestamp(t.SetDate)
	}

	if !t.DueDate.IsZero() {
		w.DueDate = FormatTimestamp(t.DueDate)
	}

	if t.Description != (Description{}) {
		d := t.Description
		w.DescriptionDetails = &d
	}

	for _, p := range t.Addressees {
		w.Addressees = append(w.Addressees, wireAddressee{Principal: p})
	}

	for _, f := range t.FileAttachments {
		w.FileAttachments = append(w.FileAttachments, wireFile{
			ResourceID: FlexString(f.ResourceID), FileName: f.FileName, FileType: f.FileType,
		})
	}

	for _, p := range t.PageAttachments {
		w.PageAttachments = append(w.PageAttachments, wirePageAttach{PageID: FlexString(p.PageID), Title: p.Title})
	}

	events := t.Events
	if events == nil {
		events = []Event{}
	}

	w.RecipientsResponses = []wireRecipient{{Responses: events}}

	return json.Marshal(w)
}

// UnmarshalJSON decodes a task from the API's byIds shape. Only the first
// recipient's responses are kept: for a student account the API returns
// exactly one recipient, the caller.
func (t *Task) UnmarshalJSON(data []byte) error {
	var w wireTask
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("task: decoding task: %w", err)
	}

	setDate, err := ParseTimestamp(w.SetDate)
	if err != nil {
		return err
	}

	dueDate, err := ParseTimestamp(w.DueDate)
	if err != nil {
		return err
	}

	*t = Task{
		ID:                 w.ID,
		Title:              w.Title,
		Deleted:            w.Deleted,
		Archived:           w.Archived,
		Setter:             w.Setter,
		SetDate:            setDate,
		DueDate:            dueDate,
		DescriptionPageURL: w.DescriptionPageURL,
	}

	if w.DescriptionDetails != nil {
		t.Description = *w.DescriptionDetails
	}

	for _, a := range w.Addressees {
		t.Addressees = append(t.Addressees, a.Principal)
	}

	for _, f := range w.FileAttachments {
		t.FileAttachments = append(t.FileAttachments, File{
			ResourceID: f.ResourceID.String(), FileName: f.FileName, FileType: f.FileType,
		})
	}

	for _, p := range w.PageAttachments {
		t.PageAttachments = append(t.PageAttachments, PageAttachment{PageID: p.PageID.String(), Title: p.Title})
	}

	if len(w.RecipientsResponses) > 0 {
		t.Events = w.RecipientsResponses[0].Responses
	}

	return nil
}
