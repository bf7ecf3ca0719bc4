package firefly

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tonimelisma/firefly-go/internal/task"
)

const contentTypeJSON = "application/json"

// filterByRequest is the body of the changed-ids query.
type filterByRequest struct {
	Watermark string `json:"watermark"`
}

// byIDsRequest is the body of the task batch query.
type byIDsRequest struct {
	IDs []task.ID `json:"ids"`
}

// ChangedTaskIDs returns the IDs of tasks changed since the given instant.
// The zero time asks for every task visible to the user.
func (c *Client) ChangedTaskIDs(ctx context.Context, since time.Time) ([]task.ID, error) {
	if since.IsZero() {
		since = time.Unix(0, 0)
	}

	body, err := json.Marshal(filterByRequest{Watermark: task.FormatTimestamp(since)})
	if err != nil {
		return nil, fmt.Errorf("firefly: encoding filterby request: %w", err)
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/v2/apps/tasks/ids/filterby",
		body:        body,
		contentType: contentTypeJSON,
		idempotent:  true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ids []task.ID
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("firefly: decoding changed ids: %w", err)
	}

	c.logger.Debug("fetched changed task ids",
		slog.String("since", task.FormatTimestamp(since)),
		slog.Int("count", len(ids)),
	)

	return ids, nil
}

// TasksByIDs fetches full task records in one request. Callers are
// responsible for keeping len(ids) within the API's batch limit.
func (c *Client) TasksByIDs(ctx context.Context, ids []task.ID) ([]*task.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(byIDsRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("firefly: encoding byIds request: %w", err)
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/v2/apps/tasks/byIds",
		body:        body,
		contentType: contentTypeJSON,
		idempotent:  true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tasks []*task.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, fmt.Errorf("firefly: decoding tasks: %w", err)
	}

	c.logger.Debug("fetched task batch",
		slog.Int("requested", len(ids)),
		slog.Int("returned", len(tasks)),
	)

	return tasks, nil
}
