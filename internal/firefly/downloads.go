package firefly

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tonimelisma/firefly-go/internal/task"
)

// Profile picture sizes accepted by the portal.
const (
	PictureSmall  = "small"
	PictureMedium = "medium"
	PictureLarge  = "large"
)

// DownloadAttachment streams a file the setter attached to a task into w
// and returns the number of bytes written.
func (c *Client) DownloadAttachment(ctx context.Context, id task.ID, resourceID string, w io.Writer) (int64, error) {
	path := fmt.Sprintf("/_api/1.0/tasks/%s/attachments/%s", id, url.PathEscape(resourceID))

	return c.download(ctx, path, url.Values{"released": {"yes"}}, w)
}

// DownloadResponseFile streams a file uploaded in a response event into w.
func (c *Client) DownloadResponseFile(ctx context.Context, eventGUID, resourceID string, w io.Writer) (int64, error) {
	path := fmt.Sprintf("/_api/1.0/tasks/responses/%s/latest/files/%s",
		url.PathEscape(eventGUID), url.PathEscape(resourceID))

	return c.download(ctx, path, url.Values{"released": {"yes"}}, w)
}

// ProfilePicture streams the signed-in user's profile picture into w. An
// empty size means PictureMedium.
func (c *Client) ProfilePicture(ctx context.Context, size string, w io.Writer) (int64, error) {
	guid, err := c.userGUID()
	if err != nil {
		return 0, err
	}

	if size == "" {
		size = PictureMedium
	}

	q := url.Values{"pa": {"on"}, "size": {size}, "guid": {guid}}

	return c.download(ctx, "/profilepic.aspx", q, w)
}

// download retries the request but never the copy: bytes already written to
// w cannot be taken back.
func (c *Client) download(ctx context.Context, path string, query url.Values, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       path,
		query:      query,
		idempotent: true,
	})
	if err != nil {
		return 0, fmt.Errorf("firefly: downloading %s: %w", path, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("firefly: downloading %s: %w", path, err)
	}

	c.logger.Debug("download complete", slog.String("path", path), slog.Int64("bytes", n))

	return n, nil
}
