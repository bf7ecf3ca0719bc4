package firefly

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tonimelisma/firefly-go/internal/inbox"
	"github.com/tonimelisma/firefly-go/internal/task"
)

const queryBookmarks = `query GetBookmarks {
  users(guid: %s) {
    bookmarks {
      from { guid, name, sort_key }, deletable, read, is_form, form_answered, guid, type, title, breadcrumb, full_url, simple_url, created, position
    }
  }
}`

type wireBookmark struct {
	From         task.Person     `json:"from"`
	Deletable    bool            `json:"deletable"`
	Read         bool            `json:"read"`
	IsForm       bool            `json:"is_form"`
	FormAnswered bool            `json:"form_answered"`
	GUID         string          `json:"guid"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Breadcrumb   string          `json:"breadcrumb"`
	FullURL      string          `json:"full_url"`
	SimpleURL    string          `json:"simple_url"`
	Created      string          `json:"created"`
	Position     task.FlexString `json:"position"`
}

type bookmarksData struct {
	Users []struct {
		Bookmarks []wireBookmark `json:"bookmarks"`
	} `json:"users"`
}

// Bookmarks returns the signed-in user's bookmarks.
func (c *Client) Bookmarks(ctx context.Context) ([]inbox.Bookmark, error) {
	guid, err := c.userGUID()
	if err != nil {
		return nil, err
	}

	var data bookmarksData
	if err := c.graphql(ctx, "GetBookmarks", fmt.Sprintf(queryBookmarks, gqlString(guid)), true, &data); err != nil {
		return nil, err
	}

	if len(data.Users) == 0 {
		return nil, fmt.Errorf("firefly: bookmarks for user %s: %w", guid, ErrNotFound)
	}

	wire := data.Users[0].Bookmarks
	out := make([]inbox.Bookmark, 0, len(wire))

	for _, w := range wire {
		created, err := task.ParseTimestamp(w.Created)
		if err != nil {
			return nil, fmt.Errorf("firefly: bookmark %s: %w", w.GUID, err)
		}

		// Position is informational; an odd value is not worth failing on.
		pos, _ := strconv.Atoi(w.Position.String())

		out = append(out, inbox.Bookmark{
			GUID:         w.GUID,
			Title:        w.Title,
			Type:         w.Type,
			Breadcrumb:   w.Breadcrumb,
			SimpleURL:    w.SimpleURL,
			FullURL:      w.FullURL,
			From:         w.From,
			Created:      created,
			Position:     pos,
			Read:         w.Read,
			Deletable:    w.Deletable,
			IsForm:       w.IsForm,
			FormAnswered: w.FormAnswered,
		})
	}

	c.logger.Debug("fetched bookmarks", slog.Int("count", len(out)))

	return out, nil
}
