package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/firefly-go/internal/task"
)

// dateLayout is the accepted format of the date filter flags.
const dateLayout = "2006-01-02"

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List cached tasks",
		Long: `List tasks from the local cache. Use --sync to fetch changes first.

Dates are given as YYYY-MM-DD in local time.`,
		Args: cobra.NoArgs,
		RunE: runLs,
	}

	cmd.Flags().Bool("sync", false, "sync before listing")
	cmd.Flags().String("progress", "all", "all, done or todo")
	cmd.Flags().StringSlice("set-by", nil, "only tasks set by these teachers")
	cmd.Flags().String("due-after", "", "only tasks due on or after this date")
	cmd.Flags().String("due-before", "", "only tasks due on or before this date")
	cmd.Flags().String("set-after", "", "only tasks set on or after this date")
	cmd.Flags().String("set-before", "", "only tasks set on or before this date")
	cmd.Flags().Bool("deleted", false, "include tasks deleted by the setter")
	cmd.Flags().String("sort", "due", "due, due-desc, set or set-desc")

	return cmd
}

func runLs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	filter, err := filterFromFlags(cmd)
	if err != nil {
		return err
	}

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer s.Close()

	snap := s.Engine.Snapshot()

	if doSync, _ := cmd.Flags().GetBool("sync"); doSync {
		if snap, err = s.Engine.Sync(cmd.Context()); err != nil {
			return err
		}
	}

	tasks := filter.Apply(snap)

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, toListings(tasks))
	}

	if len(tasks) == 0 {
		cc.Statusf("No tasks.\n")

		return nil
	}

	printTaskTable(cc.Stdout, tasks, time.Now())

	return nil
}

// filterFromFlags builds a task.Filter from the ls flags.
func filterFromFlags(cmd *cobra.Command) (task.Filter, error) {
	var f task.Filter

	progress, _ := cmd.Flags().GetString("progress")

	p, err := task.ParseProgress(progress)
	if err != nil {
		return f, err
	}

	sortBy, _ := cmd.Flags().GetString("sort")

	order, err := task.ParseSortOrder(sortBy)
	if err != nil {
		return f, err
	}

	f.Progress = p
	f.Sort = order
	f.SetBy, _ = cmd.Flags().GetStringSlice("set-by")
	f.IncludeDeleted, _ = cmd.Flags().GetBool("deleted")

	dates := []struct {
		flag     string
		target   *time.Time
		endOfDay bool
	}{
		{"due-after", &f.DueAfter, false},
		{"due-before", &f.DueBefore, true},
		{"set-after", &f.SetAfter, false},
		{"set-before", &f.SetBefore, false},
	}

	for _, d := range dates {
		raw, _ := cmd.Flags().GetString(d.flag)
		if raw == "" {
			continue
		}

		t, err := time.ParseInLocation(dateLayout, raw, time.Local)
		if err != nil {
			return f, fmt.Errorf("--%s: want YYYY-MM-DD, got %q", d.flag, raw)
		}

		// A due-before day includes tasks due at any time that day.
		if d.endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}

		*d.target = t
	}

	return f, nil
}

// taskListing is the JSON schema for one `ls --json` entry.
type taskListing struct {
	ID       task.ID    `json:"id"`
	Title    string     `json:"title"`
	Status   string     `json:"status"`
	Setter   string     `json:"setter"`
	SetDate  time.Time  `json:"set_date"`
	DueDate  *time.Time `json:"due_date,omitempty"`
	Grades   []string   `json:"grades,omitempty"`
	Archived bool       `json:"archived"`
	Done     bool       `json:"done"`
}

func toListings(tasks []*task.Task) []taskListing {
	out := make([]taskListing, 0, len(tasks))

	for _, t := range tasks {
		l := taskListing{
			ID:       t.ID,
			Title:    t.Title,
			Status:   taskStatus(t),
			Setter:   t.Setter.Name,
			SetDate:  t.SetDate,
			Grades:   t.Grades(),
			Archived: t.IsArchived(),
			Done:     t.IsDone(),
		}

		if t.HasDueDate() {
			due := t.DueDate
			l.DueDate = &due
		}

		out = append(out, l)
	}

	return out
}

func printTaskTable(w io.Writer, tasks []*task.Task, now time.Time) {
	rows := make([][]string, 0, len(tasks))

	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID.String(),
			formatTime(t.DueDate, now),
			taskStatus(t),
			t.Setter.Name,
			t.Title,
		})
	}

	printTable(w, []string{"ID", "DUE", "STATUS", "SET BY", "TITLE"}, rows)
}
