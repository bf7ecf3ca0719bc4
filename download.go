package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/firefly-go/internal/firefly"
	"github.com/tonimelisma/firefly-go/internal/task"
)

// Downloaded files are not private: they are ordinary school documents.
const (
	downloadDirPermissions  = 0o755
	downloadFilePermissions = 0o644
)

// Download sources.
const (
	sourceAttachment = "attachment"
	sourceResponse   = "response"
)

// taskFile is one downloadable file referenced by a cached task: either set
// by the teacher as an attachment or uploaded in a response event.
type taskFile struct {
	Source    string    `json:"source"`
	EventGUID string    `json:"event_guid,omitempty"`
	File      task.File `json:"file"`
}

// taskFiles lists the files of t, attachments first. Files uploaded in
// response events the server has not confirmed yet have no GUID and are
// skipped.
func taskFiles(t *task.Task) []taskFile {
	var out []taskFile

	for _, f := range t.FileAttachments {
		out = append(out, taskFile{Source: sourceAttachment, File: f})
	}

	for _, ev := range t.Events {
		fa, ok := ev.Payload.(task.FileAdded)
		if !ok || ev.GUID == "" {
			continue
		}

		out = append(out, taskFile{Source: sourceResponse, EventGUID: ev.GUID, File: fa.File})
	}

	return out
}

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download ID",
		Short: "Download the files of a cached task",
		Long: `Download the files attached to a task and the files uploaded in its
responses. Use --list to only show them.`,
		Args: cobra.ExactArgs(1),
		RunE: runDownload,
	}

	cmd.Flags().StringSlice("file", nil, "only files with these names or resource IDs")
	cmd.Flags().StringP("output-dir", "o", ".", "directory to write files to")
	cmd.Flags().Bool("force", false, "overwrite existing files")
	cmd.Flags().Bool("list", false, "list the files without downloading")

	return cmd
}

// downloadOutput is the JSON schema for one downloaded file.
type downloadOutput struct {
	taskFile
	Path  string `json:"path,omitempty"`
	Bytes int64  `json:"bytes,omitempty"`
}

func runDownload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	id, err := task.ParseID(args[0])
	if err != nil {
		return err
	}

	s, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}
	defer s.Close()

	t, ok := s.Engine.Snapshot().Get(id)
	if !ok {
		return fmt.Errorf("task %s is not in the local cache (try 'firefly-go sync --id %s')", id, id)
	}

	only, _ := cmd.Flags().GetStringSlice("file")
	files := selectFiles(taskFiles(t), only)

	if len(files) == 0 {
		cc.Statusf("Task %s has no matching files.\n", id)

		if cc.Flags.JSON {
			return printJSON(cc.Stdout, []downloadOutput{})
		}

		return nil
	}

	if list, _ := cmd.Flags().GetBool("list"); list {
		return printFileList(cc, files)
	}

	dir, _ := cmd.Flags().GetString("output-dir")
	force, _ := cmd.Flags().GetBool("force")

	if err := os.MkdirAll(dir, downloadDirPermissions); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	results := make([]downloadOutput, 0, len(files))
	used := make(map[string]bool, len(files))

	for _, f := range files {
		path := filepath.Join(dir, uniqueName(safeFileName(f.File), used))

		n, err := downloadTo(ctx, s.Client, id, f, path, force)
		if err != nil {
			return err
		}

		cc.Logger.Info("file downloaded",
			slog.String("task_id", id.String()),
			slog.String("resource_id", f.File.ResourceID),
			slog.String("path", path),
			slog.Int64("bytes", n),
		)
		cc.Statusf("%s (%s)\n", path, humanize.Bytes(uint64(n)))

		results = append(results, downloadOutput{taskFile: f, Path: path, Bytes: n})
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, results)
	}

	return nil
}

// selectFiles keeps the files whose name or resource ID is in only. An empty
// only keeps all files.
func selectFiles(files []taskFile, only []string) []taskFile {
	if len(only) == 0 {
		return files
	}

	var out []taskFile

	for _, f := range files {
		for _, o := range only {
			if o == f.File.ResourceID || strings.EqualFold(o, f.File.FileName) {
				out = append(out, f)

				break
			}
		}
	}

	return out
}

func printFileList(cc *CLIContext, files []taskFile) error {
	if cc.Flags.JSON {
		out := make([]downloadOutput, 0, len(files))
		for _, f := range files {
			out = append(out, downloadOutput{taskFile: f})
		}

		return printJSON(cc.Stdout, out)
	}

	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{f.File.ResourceID, f.Source, f.File.FileName})
	}

	printTable(cc.Stdout, []string{"RESOURCE", "SOURCE", "NAME"}, rows)

	return nil
}

// safeFileName reduces a server-supplied name to a bare file name so a
// download can never escape the output directory.
func safeFileName(f task.File) string {
	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(f.FileName, `\`, "/")))
	if name == "/" || name == "." || name == ".." || name == "" {
		name = "file-" + f.ResourceID
	}

	return name
}

// uniqueName returns name, or name with a numeric suffix if an earlier file
// in this run already took it.
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 2; used[candidate]; i++ {
		candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}

	used[candidate] = true

	return candidate
}

// downloadTo writes one file to path through a temporary file, so a failed
// download never leaves a truncated file behind.
func downloadTo(ctx context.Context, c *firefly.Client, id task.ID, f taskFile, path string, force bool) (int64, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return 0, fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("checking %s: %w", path, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("creating temporary file: %w", err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var n int64

	switch f.Source {
	case sourceResponse:
		n, err = c.DownloadResponseFile(ctx, f.EventGUID, f.File.ResourceID, tmp)
	default:
		n, err = c.DownloadAttachment(ctx, id, f.File.ResourceID, tmp)
	}

	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", f.File.FileName, err)
	}

	if err := os.Chmod(tmpPath, downloadFilePermissions); err != nil {
		return 0, fmt.Errorf("setting permissions on %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("saving %s: %w", path, err)
	}

	return n, nil
}
