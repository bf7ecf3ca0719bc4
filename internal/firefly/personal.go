package firefly

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/firefly-go/internal/task"
)

const personalDateLayout = "2006-01-02"

const mutationPersonalTask = `mutation SetPersonalTask {
  result: tasks(new: true, new_title: %s, new_description: %s, new_set: %s, new_due: %s, new_setter: %s, new_addressees: [%s], new_attachments: %s, new_task_type: "PersonalTask") {
    id
  }
}`

// ErrInvalidTask is returned by CreatePersonalTask for a draft the portal
// would reject.
var ErrInvalidTask = errors.New("firefly: invalid personal task")

// NewTask is a personal task the user sets for themselves. A zero Set date
// defaults to the day of submission.
type NewTask struct {
	Title       string
	Description string
	Set         time.Time
	Due         time.Time
	Attachments []Upload
}

type personalTaskData struct {
	Result []struct {
		ID task.FlexString `json:"id"`
	} `json:"result"`
}

// CreatePersonalTask creates a personal task addressed to and set by the
// signed-in user and returns its ID. Creation is not idempotent and is never
// retried.
func (c *Client) CreatePersonalTask(ctx context.Context, nt NewTask) (task.ID, error) {
	guid, err := c.userGUID()
	if err != nil {
		return 0, err
	}

	title := norm.NFC.String(strings.TrimSpace(nt.Title))
	if title == "" {
		return 0, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}

	if nt.Due.IsZero() {
		return 0, fmt.Errorf("%w: due date is required", ErrInvalidTask)
	}

	set := nt.Set
	if set.IsZero() {
		set = c.nowFunc()
	}

	if nt.Due.Before(truncateDay(set)) {
		return 0, fmt.Errorf("%w: due date %s is before set date %s", ErrInvalidTask,
			nt.Due.Format(personalDateLayout), set.Format(personalDateLayout))
	}

	attachments := gqlList(nt.Attachments, func(u Upload) string {
		return fmt.Sprintf("{filename: %s, binary_base64: %s}",
			gqlString(norm.NFC.String(u.Name)), gqlString(base64.StdEncoding.EncodeToString(u.Data)))
	})

	query := fmt.Sprintf(mutationPersonalTask,
		gqlString(title),
		gqlString(norm.NFC.String(nt.Description)),
		gqlString(set.Format(personalDateLayout)),
		gqlString(nt.Due.Format(personalDateLayout)),
		gqlString(guid),
		gqlString(guid),
		attachments,
	)

	var data personalTaskData
	if err := c.graphql(ctx, "SetPersonalTask", query, false, &data); err != nil {
		return 0, err
	}

	if len(data.Result) == 0 {
		return 0, errors.New("firefly: SetPersonalTask reply has no task id")
	}

	id, err := task.ParseID(data.Result[0].ID.String())
	if err != nil {
		return 0, fmt.Errorf("firefly: SetPersonalTask reply: %w", err)
	}

	c.logger.Info("personal task created",
		slog.String("task_id", id.String()),
		slog.Int("attachments", len(nt.Attachments)),
	)

	return id, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
