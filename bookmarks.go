package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/firefly-go/internal/inbox"
)

func newBookmarksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmarks",
		Short: "List bookmarked portal pages",
		Args:  cobra.NoArgs,
		RunE:  runBookmarks,
	}

	cmd.Flags().String("type", "all", "all, recommended or personal")
	cmd.Flags().String("sort", "newest", "newest or oldest")

	return cmd
}

// bookmarkListing is the JSON schema for one `bookmarks --json` entry.
type bookmarkListing struct {
	inbox.Bookmark
	URL string `json:"url"`
}

func runBookmarks(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	var filter inbox.BookmarkFilter

	rawType, _ := cmd.Flags().GetString("type")

	kind, err := inbox.ParseBookmarkType(rawType)
	if err != nil {
		return err
	}

	rawSort, _ := cmd.Flags().GetString("sort")

	if filter.Sort, err = inbox.ParseSortOrder(rawSort); err != nil {
		return err
	}

	filter.Type = kind

	client, creds, err := newUserClient(cc)
	if err != nil {
		return err
	}

	bms, err := client.Bookmarks(cmd.Context())
	if err != nil {
		return err
	}

	bms = filter.Apply(bms)
	base := apiBaseURL(creds.Hostname)

	if cc.Flags.JSON {
		out := make([]bookmarkListing, 0, len(bms))
		for i := range bms {
			out = append(out, bookmarkListing{Bookmark: bms[i], URL: bms[i].Link(base)})
		}

		return printJSON(cc.Stdout, out)
	}

	if len(bms) == 0 {
		cc.Statusf("No bookmarks.\n")

		return nil
	}

	printBookmarkTable(cc.Stdout, bms, base, time.Now())

	return nil
}

func printBookmarkTable(w io.Writer, bms []inbox.Bookmark, base string, now time.Time) {
	rows := make([][]string, 0, len(bms))

	for i := range bms {
		rows = append(rows, []string{
			bms[i].Title,
			bms[i].Type,
			formatTime(bms[i].Created, now),
			bms[i].Link(base),
		})
	}

	printTable(w, []string{"TITLE", "TYPE", "CREATED", "URL"}, rows)
}
