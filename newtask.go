package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/firefly-go/internal/firefly"
	"github.com/tonimelisma/firefly-go/internal/task"
)

func newNewTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new TITLE",
		Short: "Create a personal task",
		Long: `Create a personal task set by and addressed to yourself, then fetch it
into the local cache.

Dates are given as YYYY-MM-DD in local time.`,
		Args: cobra.ExactArgs(1),
		RunE: runNewTask,
	}

	cmd.Flags().String("due", "", "due date (required)")
	cmd.Flags().String("set", "", "set date (default today)")
	cmd.Flags().String("description", "", "task description")
	cmd.Flags().StringSlice("attach", nil, "files to attach")

	return cmd
}

// newTaskOutput is the JSON schema for `new --json`.
type newTaskOutput struct {
	TaskID task.ID `json:"task_id"`
	Title  string  `json:"title"`
	Cached bool    `json:"cached"`
}

func runNewTask(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	nt, err := newTaskFromFlags(cmd, args[0])
	if err != nil {
		return err
	}

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.Client.CreatePersonalTask(cmd.Context(), nt)
	if err != nil {
		return err
	}

	out := newTaskOutput{TaskID: id, Title: nt.Title}

	// The task exists on the portal even if this fetch fails; the next sync
	// picks it up.
	if snap, syncErr := s.Engine.Sync(cmd.Context(), id); syncErr != nil {
		cc.Logger.Warn("fetching new task failed",
			slog.String("task_id", id.String()),
			slog.String("error", syncErr.Error()),
		)
	} else {
		_, out.Cached = snap.Get(id)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, out)
	}

	cc.Statusf("created task %s: %s\n", id, nt.Title)

	return nil
}

func newTaskFromFlags(cmd *cobra.Command, title string) (firefly.NewTask, error) {
	nt := firefly.NewTask{Title: title}

	rawDue, _ := cmd.Flags().GetString("due")
	if rawDue == "" {
		return nt, errors.New("--due is required")
	}

	due, err := time.ParseInLocation(dateLayout, rawDue, time.Local)
	if err != nil {
		return nt, fmt.Errorf("--due: want YYYY-MM-DD, got %q", rawDue)
	}

	nt.Due = due

	if rawSet, _ := cmd.Flags().GetString("set"); rawSet != "" {
		if nt.Set, err = time.ParseInLocation(dateLayout, rawSet, time.Local); err != nil {
			return nt, fmt.Errorf("--set: want YYYY-MM-DD, got %q", rawSet)
		}
	}

	nt.Description, _ = cmd.Flags().GetString("description")

	paths, _ := cmd.Flags().GetStringSlice("attach")
	for _, p := range paths {
		up, err := readUpload(p)
		if err != nil {
			return nt, err
		}

		nt.Attachments = append(nt.Attachments, up)
	}

	return nt, nil
}
