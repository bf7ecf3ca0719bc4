package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/firefly-go/internal/task"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one cached task with its response log",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	id, err := task.ParseID(args[0])
	if err != nil {
		return err
	}

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer s.Close()

	t, ok := s.Engine.Snapshot().Get(id)
	if !ok {
		return fmt.Errorf("task %s is not in the local cache (try 'firefly-go sync --id %s')", id, id)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, t)
	}

	printTaskDetail(cc.Stdout, t, time.Now())

	return nil
}

func printTaskDetail(w io.Writer, t *task.Task, now time.Time) {
	fmt.Fprintf(w, "Task %s: %s\n", t.ID, t.Title)
	fmt.Fprintf(w, "  Status:  %s\n", taskStatus(t))
	fmt.Fprintf(w, "  Set by:  %s\n", t.Setter.Name)
	fmt.Fprintf(w, "  Set:     %s\n", formatTime(t.SetDate, now))
	fmt.Fprintf(w, "  Due:     %s\n", formatTime(t.DueDate, now))

	if len(t.Addressees) > 0 {
		names := make([]string, 0, len(t.Addressees))
		for _, a := range t.Addressees {
			names = append(names, a.Name)
		}

		fmt.Fprintf(w, "  For:     %s\n", strings.Join(names, ", "))
	}

	if grades := t.Grades(); len(grades) > 0 {
		fmt.Fprintf(w, "  Grades:  %s\n", strings.Join(grades, ", "))
	}

	switch {
	case t.Description.IsSimple && t.Description.HTMLContent != "":
		fmt.Fprintf(w, "\n%s\n", t.Description.HTMLContent)
	case t.DescriptionPageURL != "":
		fmt.Fprintf(w, "\n  Description: %s\n", t.DescriptionPageURL)
	}

	for _, f := range t.FileAttachments {
		fmt.Fprintf(w, "  Attachment: %s\n", f.FileName)
	}

	for _, p := range t.PageAttachments {
		fmt.Fprintf(w, "  Page: %s\n", p.Title)
	}

	if len(t.Events) == 0 {
		return
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, len(t.Events))
	for _, e := range t.Events {
		rows = append(rows, []string{formatTime(e.Released, now), e.Author, e.Type.String(), eventDetail(e)})
	}

	printTable(w, []string{"WHEN", "WHO", "EVENT", "DETAIL"}, rows)
}

// eventDetail renders the payload of e on one line.
func eventDetail(e task.Event) string {
	switch p := e.Payload.(type) {
	case task.FileAdded:
		return p.File.FileName
	case task.Grade:
		parts := make([]string, 0, 3)
		if p.Mark != "" {
			parts = append(parts, "mark "+p.Mark)
		}

		if p.Grade != "" {
			parts = append(parts, "grade "+p.Grade)
		}

		if p.Message != "" {
			parts = append(parts, p.Message)
		}

		return strings.Join(parts, ", ")
	default:
		return strings.ReplaceAll(e.Message(), "\n", " ")
	}
}
