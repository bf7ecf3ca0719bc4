package firefly

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tonimelisma/firefly-go/internal/inbox"
	"github.com/tonimelisma/firefly-go/internal/task"
)

const queryMessages = `query GetMessages {
  users(guid: %s) {
    messages {
      from { guid, name }, single_to { guid, name }, all_recipients, sent, archived, read, body, id
    }
  }
}`

const mutationMessages = `mutation %s {
  result: messages(ids: %s, user_guid: %s, %s: %t)
}`

type wireMessage struct {
	ID            inbox.MessageID `json:"id"`
	From          task.Person     `json:"from"`
	SingleTo      *task.Person    `json:"single_to"`
	AllRecipients lenientText     `json:"all_recipients"`
	Sent          string          `json:"sent"`
	Archived      bool            `json:"archived"`
	Read          bool            `json:"read"`
	Body          string          `json:"body"`
}

type messagesData struct {
	Users []struct {
		Messages []wireMessage `json:"messages"`
	} `json:"users"`
}

// Messages returns every message addressed to the signed-in user, archived
// ones included.
func (c *Client) Messages(ctx context.Context) ([]inbox.Message, error) {
	guid, err := c.userGUID()
	if err != nil {
		return nil, err
	}

	var data messagesData
	if err := c.graphql(ctx, "GetMessages", fmt.Sprintf(queryMessages, gqlString(guid)), true, &data); err != nil {
		return nil, err
	}

	if len(data.Users) == 0 {
		return nil, fmt.Errorf("firefly: messages for user %s: %w", guid, ErrNotFound)
	}

	wire := data.Users[0].Messages
	out := make([]inbox.Message, 0, len(wire))

	for _, w := range wire {
		sent, err := task.ParseTimestamp(w.Sent)
		if err != nil {
			return nil, fmt.Errorf("firefly: message %s: %w", w.ID, err)
		}

		out = append(out, inbox.Message{
			ID:            w.ID,
			From:          w.From,
			To:            w.SingleTo,
			AllRecipients: string(w.AllRecipients),
			Sent:          sent,
			Read:          w.Read,
			Archived:      w.Archived,
			Body:          w.Body,
		})
	}

	c.logger.Debug("fetched messages", slog.Int("count", len(out)))

	return out, nil
}

// SetMessagesRead marks the messages read or unread.
func (c *Client) SetMessagesRead(ctx context.Context, ids []inbox.MessageID, read bool) error {
	return c.setMessagesFlag(ctx, "SetMessagesReadStatus", "new_read", ids, read)
}

// SetMessagesArchived moves the messages to or from the archive.
func (c *Client) SetMessagesArchived(ctx context.Context, ids []inbox.MessageID, archived bool) error {
	return c.setMessagesFlag(ctx, "SetMessagesArchivedStatus", "new_archive", ids, archived)
}

// setMessagesFlag sets an absolute flag value, so a retried request cannot
// double-apply.
func (c *Client) setMessagesFlag(ctx context.Context, op, field string, ids []inbox.MessageID, value bool) error {
	if len(ids) == 0 {
		return nil
	}

	guid, err := c.userGUID()
	if err != nil {
		return err
	}

	list := gqlList(ids, func(id inbox.MessageID) string { return strconv.FormatInt(int64(id), 10) })

	if err := c.graphql(ctx, op, fmt.Sprintf(mutationMessages, op, list, gqlString(guid), field, value), true, nil); err != nil {
		return err
	}

	c.logger.Info("message flags updated",
		slog.String("field", field),
		slog.Bool("value", value),
		slog.Int("count", len(ids)),
	)

	return nil
}
