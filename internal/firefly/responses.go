package firefly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/firefly-go/internal/task"
)

const contentTypeForm = "application/x-www-form-urlencoded"

// uploadDescription is attached to every file uploaded as a task response.
const uploadDescription = "Upload from firefly-go"

// ErrUnsupportedMutation is returned by Submit for event types a student
// cannot post.
var ErrUnsupportedMutation = errors.New("firefly: unsupported mutation")

// Upload is a file to attach to a task as an add-file response.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Mutation is a response event the user posts to a task.
type Mutation struct {
	Type    task.EventType
	Message string  // comment body
	Upload  *Upload // add-file content
}

// SubmitResult is the outcome of a successful Submit. The set of
// implementations is closed: Confirmed and AlreadySet.
type SubmitResult interface {
	submitResult()
}

// Confirmed reports that the server recorded the mutation. Event is the
// server's authoritative record when the response carried one, nil otherwise.
type Confirmed struct {
	Event *task.Event
}

// AlreadySet reports that the task was already in the requested state, so
// nothing was posted.
type AlreadySet struct{}

func (Confirmed) submitResult()  {}
func (AlreadySet) submitResult() {}

// responseEnvelope mirrors the JSON returned when posting a response event.
type responseEnvelope struct {
	Description struct {
		EventGUID string `json:"eventGuid"`
		Message   string `json:"message"`
		Files     []struct {
			ID struct {
				Value task.FlexString `json:"value"`
			} `json:"id"`
			Title string `json:"title"`
		} `json:"files"`
	} `json:"description"`
	State struct {
		ReleasedAt string `json:"releasedAt"`
	} `json:"state"`
}

type recipientRef struct {
	Type string `json:"type"`
	GUID string `json:"guid"`
}

type eventRef struct {
	Type     string          `json:"type"`
	Message  string          `json:"message,omitempty"`
	FolderID json.RawMessage `json:"folderId,omitempty"`
}

type responsePost struct {
	Recipient recipientRef `json:"recipient"`
	Event     eventRef     `json:"event"`
}

// Submit posts m to task id. Status mutations first fetch the task and
// return AlreadySet, without posting, when it is already in the requested
// state. Submits are never retried.
func (c *Client) Submit(ctx context.Context, id task.ID, m Mutation) (SubmitResult, error) {
	switch m.Type {
	case task.EventMarkDone, task.EventMarkUndone, task.EventArchive, task.EventUnarchive:
		set, err := c.alreadySet(ctx, id, m.Type)
		if err != nil {
			return nil, err
		}

		if set {
			c.logger.Info("task status already set",
				slog.String("task_id", id.String()),
				slog.String("event_type", m.Type.String()),
			)

			return AlreadySet{}, nil
		}

		return c.postEvent(ctx, id, eventRef{Type: m.Type.String()})
	case task.EventComment:
		return c.postEvent(ctx, id, eventRef{Type: m.Type.String(), Message: norm.NFC.String(m.Message)})
	case task.EventAddFile:
		if m.Upload == nil {
			return nil, fmt.Errorf("%w: add-file without content", ErrUnsupportedMutation)
		}

		folderID, err := c.uploadFile(ctx, m.Upload)
		if err != nil {
			return nil, err
		}

		return c.postEvent(ctx, id, eventRef{Type: m.Type.String(), FolderID: folderID})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMutation, m.Type)
	}
}

// alreadySet fetches the task and compares its derived status with the
// state the status event would produce.
func (c *Client) alreadySet(ctx context.Context, id task.ID, t task.EventType) (bool, error) {
	tasks, err := c.TasksByIDs(ctx, []task.ID{id})
	if err != nil {
		return false, err
	}

	if len(tasks) == 0 {
		return false, fmt.Errorf("firefly: task %s: %w", id, ErrNotFound)
	}

	current := tasks[0]

	switch t {
	case task.EventMarkDone:
		return current.IsDone(), nil
	case task.EventMarkUndone:
		return !current.IsDone(), nil
	case task.EventArchive:
		return current.IsArchived(), nil
	default:
		return !current.IsArchived(), nil
	}
}

// postEvent posts a response event as a form-encoded data= JSON document.
func (c *Client) postEvent(ctx context.Context, id task.ID, ev eventRef) (SubmitResult, error) {
	if c.recipient.GUID == "" {
		return nil, fmt.Errorf("firefly: no recipient configured for responses")
	}

	doc, err := json.Marshal(responsePost{
		Recipient: recipientRef{Type: "user", GUID: c.recipient.GUID},
		Event:     ev,
	})
	if err != nil {
		return nil, fmt.Errorf("firefly: encoding response event: %w", err)
	}

	form := url.Values{}
	form.Set("data", string(doc))

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        fmt.Sprintf("/_api/1.0/tasks/%s/responses", id),
		body:        []byte(form.Encode()),
		contentType: contentTypeForm,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("firefly: reading response event reply: %w", err)
	}

	c.logger.Info("posted response event",
		slog.String("task_id", id.String()),
		slog.String("event_type", ev.Type),
	)

	return Confirmed{Event: c.confirmedEvent(task.EventType(ev.Type), ev.Message, raw)}, nil
}

// confirmedEvent builds the server's record of a posted event from the reply
// body. Returns nil when the reply does not identify the event.
func (c *Client) confirmedEvent(t task.EventType, message string, raw []byte) *task.Event {
	var env responseEnvelope
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &env) != nil || env.Description.EventGUID == "" {
		c.logger.Debug("response reply carries no event record", slog.String("event_type", t.String()))

		return nil
	}

	released, err := task.ParseTimestamp(env.State.ReleasedAt)
	if err != nil || released.IsZero() {
		released = c.nowFunc().UTC()
	}

	ev := task.NewStatusEvent(t, c.recipient.Name, released)
	ev.GUID = env.Description.EventGUID

	switch t {
	case task.EventComment:
		if env.Description.Message != "" {
			message = env.Description.Message
		}

		ev.Payload = task.Comment{Message: message}
	case task.EventAddFile:
		var f task.File
		if len(env.Description.Files) > 0 {
			f.ResourceID = env.Description.Files[0].ID.Value.String()
			f.FileName = env.Description.Files[0].Title
		}

		ev.Payload = task.FileAdded{File: f}
	}

	return &ev
}

// uploadFile stages content in a temporary portal folder and returns the
// folder ID the add-file event references.
func (c *Client) uploadFile(ctx context.Context, up *Upload) (json.RawMessage, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/createTempFolder",
	})
	if err != nil {
		return nil, fmt.Errorf("firefly: creating upload folder: %w", err)
	}

	var folder struct {
		ID json.RawMessage `json:"id"`
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(&folder)
	resp.Body.Close()

	if decodeErr != nil {
		return nil, fmt.Errorf("firefly: decoding upload folder: %w", decodeErr)
	}

	if len(folder.ID) == 0 {
		return nil, fmt.Errorf("firefly: upload folder reply has no id")
	}

	var folderPath string
	if err := json.Unmarshal(folder.ID, (*task.FlexString)(&folderPath)); err != nil {
		return nil, fmt.Errorf("firefly: decoding upload folder id: %w", err)
	}

	body, contentType, err := multipartBody(up)
	if err != nil {
		return nil, err
	}

	resp, err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/folders/" + url.PathEscape(folderPath) + "/files",
		body:        body,
		contentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("firefly: uploading %s: %w", up.Name, err)
	}
	resp.Body.Close()

	c.logger.Info("uploaded response file",
		slog.String("file_name", up.Name),
		slog.Int("size", len(up.Data)),
	)

	return folder.ID, nil
}

// multipartBody encodes the upload form: a description field and the file.
func multipartBody(up *Upload) ([]byte, string, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	if err := w.WriteField("description", uploadDescription); err != nil {
		return nil, "", fmt.Errorf("firefly: encoding upload form: %w", err)
	}

	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="File"; filename=%q`, up.Name))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("firefly: encoding upload form: %w", err)
	}

	if _, err := part.Write(up.Data); err != nil {
		return nil, "", fmt.Errorf("firefly: encoding upload form: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("firefly: encoding upload form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}
