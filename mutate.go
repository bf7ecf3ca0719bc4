package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/firefly-go/internal/firefly"
	"github.com/tonimelisma/firefly-go/internal/sync"
	"github.com/tonimelisma/firefly-go/internal/task"
)

// maxUploadSize caps attach uploads; the portal rejects larger files.
const maxUploadSize = 100 << 20

// mutation runs one controller operation against a task. The signature
// matches the Controller method expressions.
type mutation func(c *sync.Controller, ctx context.Context, id task.ID) (sync.MutationResult, error)

// statusMutations are the payload-free mutations, one subcommand each.
var statusMutations = []struct {
	use   string
	short string
	run   mutation
}{
	{"done", "Mark a task as done", (*sync.Controller).MarkDone},
	{"undone", "Mark a task as not done", (*sync.Controller).MarkUndone},
	{"archive", "Archive a task", (*sync.Controller).Archive},
	{"unarchive", "Unarchive a task", (*sync.Controller).Unarchive},
}

func newStatusMutationCmds() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(statusMutations))

	for _, m := range statusMutations {
		cmds = append(cmds, &cobra.Command{
			Use:   m.use + " ID",
			Short: m.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMutation(cmd, args[0], m.use, m.run)
			},
		})
	}

	return cmds
}

func newCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment ID MESSAGE",
		Short: "Post a comment on a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := args[1]
			if message == "" {
				return errors.New("comment message is empty")
			}

			return runMutation(cmd, args[0], "comment", func(c *sync.Controller, ctx context.Context, id task.ID) (sync.MutationResult, error) {
				return c.AddComment(ctx, id, message)
			})
		},
	}
}

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach ID PATH",
		Short: "Upload a file as a task response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, err := readUpload(args[1])
			if err != nil {
				return err
			}

			return runMutation(cmd, args[0], "attach", func(c *sync.Controller, ctx context.Context, id task.ID) (sync.MutationResult, error) {
				return c.AddFile(ctx, id, up)
			})
		},
	}
}

// readUpload loads path into an Upload, guessing the content type from the
// extension and falling back to content sniffing.
func readUpload(path string) (firefly.Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return firefly.Upload{}, fmt.Errorf("reading %s: %w", path, err)
	}

	if info.IsDir() {
		return firefly.Upload{}, fmt.Errorf("%s is a directory", path)
	}

	if info.Size() > maxUploadSize {
		return firefly.Upload{}, fmt.Errorf("%s is larger than %d MiB", path, maxUploadSize>>20)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return firefly.Upload{}, fmt.Errorf("reading %s: %w", path, err)
	}

	name := filepath.Base(path)

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return firefly.Upload{Name: name, ContentType: contentType, Data: data}, nil
}

// mutationOutput is the JSON schema for mutation commands.
type mutationOutput struct {
	TaskID task.ID `json:"task_id"`
	Action string  `json:"action"`
	State  string  `json:"state"`
	Event  string  `json:"event_guid,omitempty"`
}

func runMutation(cmd *cobra.Command, rawID, action string, run mutation) error {
	cc := mustCLIContext(cmd.Context())

	id, err := task.ParseID(rawID)
	if err != nil {
		return err
	}

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := run(s.Controller(cc), cmd.Context(), id)
	if err != nil {
		if errors.Is(err, sync.ErrUnknownTask) {
			return fmt.Errorf("task %s is not in the local cache (try 'firefly-go sync --id %s')", id, id)
		}

		return err
	}

	// Confirmed changes live only in memory until a sync stores the server's
	// copy, so fetch this task before the process exits.
	if _, syncErr := s.Engine.Sync(cmd.Context(), id); syncErr != nil {
		cc.Logger.Warn("refreshing task after mutation failed",
			slog.String("task_id", id.String()),
			slog.String("error", syncErr.Error()),
		)
	}

	out := mutationOutput{TaskID: res.TaskID, Action: action, State: res.State.String()}
	if res.Event != nil {
		out.Event = res.Event.GUID
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, out)
	}

	cc.Statusf("%s %s: %s\n", action, id, out.State)

	return nil
}
