package main

import (
	"context"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/firefly-go/internal/firefly"
	"github.com/tonimelisma/firefly-go/internal/inbox"
)

// previewLength is the rune length of the body preview in message listings.
const previewLength = 60

func newMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List portal messages",
		Long: `List messages from the portal. Messages are always read live and are
not stored in the task cache.

Dates are given as YYYY-MM-DD in local time.`,
		Args: cobra.NoArgs,
		RunE: runMessages,
	}

	cmd.Flags().String("folder", "inbox", "inbox, archive or all")
	cmd.Flags().StringSlice("from", nil, "only messages from these senders")
	cmd.Flags().String("after", "", "only messages sent on or after this date")
	cmd.Flags().String("before", "", "only messages sent on or before this date")
	cmd.Flags().Bool("unread", false, "only unread messages")
	cmd.Flags().String("sort", "newest", "newest or oldest")

	cmd.AddCommand(newMessageShowCmd())
	cmd.AddCommand(newMessageFlagCmds()...)

	return cmd
}

func runMessages(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	filter, err := messageFilterFromFlags(cmd)
	if err != nil {
		return err
	}

	client, _, err := newUserClient(cc)
	if err != nil {
		return err
	}

	msgs, err := client.Messages(cmd.Context())
	if err != nil {
		return err
	}

	msgs = filter.Apply(msgs)

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, msgs)
	}

	if len(msgs) == 0 {
		cc.Statusf("No messages.\n")

		return nil
	}

	printMessageTable(cc.Stdout, msgs, time.Now())

	return nil
}

func messageFilterFromFlags(cmd *cobra.Command) (inbox.MessageFilter, error) {
	var f inbox.MessageFilter

	rawFolder, _ := cmd.Flags().GetString("folder")

	folder, err := inbox.ParseFolder(rawFolder)
	if err != nil {
		return f, err
	}

	rawSort, _ := cmd.Flags().GetString("sort")

	order, err := inbox.ParseSortOrder(rawSort)
	if err != nil {
		return f, err
	}

	f.Folder = folder
	f.Sort = order
	f.From, _ = cmd.Flags().GetStringSlice("from")
	f.UnreadOnly, _ = cmd.Flags().GetBool("unread")

	for flag, target := range map[string]*time.Time{"after": &f.After, "before": &f.Before} {
		raw, _ := cmd.Flags().GetString(flag)
		if raw == "" {
			continue
		}

		t, err := time.ParseInLocation(dateLayout, raw, time.Local)
		if err != nil {
			return f, fmt.Errorf("--%s: want YYYY-MM-DD, got %q", flag, raw)
		}

		*target = t
	}

	return f, nil
}

func printMessageTable(w io.Writer, msgs []inbox.Message, now time.Time) {
	rows := make([][]string, 0, len(msgs))

	for _, m := range msgs {
		read := "no"
		if m.Read {
			read = "yes"
		}

		rows = append(rows, []string{
			m.ID.String(),
			formatTime(m.Sent, now),
			m.From.Name,
			read,
			preview(m.Body, previewLength),
		})
	}

	printTable(w, []string{"ID", "SENT", "FROM", "READ", "PREVIEW"}, rows)
}

func newMessageShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			id, err := inbox.ParseMessageID(args[0])
			if err != nil {
				return err
			}

			client, _, err := newUserClient(cc)
			if err != nil {
				return err
			}

			msgs, err := client.Messages(cmd.Context())
			if err != nil {
				return err
			}

			for _, m := range msgs {
				if m.ID != id {
					continue
				}

				if cc.Flags.JSON {
					return printJSON(cc.Stdout, m)
				}

				printMessageDetail(cc.Stdout, m, time.Now())

				return nil
			}

			return fmt.Errorf("message %s not found", id)
		},
	}
}

func printMessageDetail(w io.Writer, m inbox.Message, now time.Time) {
	fmt.Fprintf(w, "Message %s\n", m.ID)
	fmt.Fprintf(w, "  From:  %s\n", m.From.Name)

	if m.AllRecipients != "" {
		fmt.Fprintf(w, "  To:    %s\n", m.AllRecipients)
	} else if m.To != nil {
		fmt.Fprintf(w, "  To:    %s\n", m.To.Name)
	}

	fmt.Fprintf(w, "  Sent:  %s\n", formatTime(m.Sent, now))

	state := "unread"
	if m.Read {
		state = "read"
	}

	if m.Archived {
		state += ", archived"
	}

	fmt.Fprintf(w, "  State: %s\n", state)
	fmt.Fprintf(w, "\n%s\n", htmlToText(m.Body))
}

// setFlag applies one absolute flag value to a batch of messages.
type setFlag func(c *firefly.Client, ctx context.Context, ids []inbox.MessageID) error

// messageFlags are the message state changes, one subcommand each.
var messageFlags = []struct {
	use   string
	short string
	set   setFlag
}{
	{"read", "Mark messages as read", func(c *firefly.Client, ctx context.Context, ids []inbox.MessageID) error {
		return c.SetMessagesRead(ctx, ids, true)
	}},
	{"unread", "Mark messages as unread", func(c *firefly.Client, ctx context.Context, ids []inbox.MessageID) error {
		return c.SetMessagesRead(ctx, ids, false)
	}},
	{"archive", "Archive messages", func(c *firefly.Client, ctx context.Context, ids []inbox.MessageID) error {
		return c.SetMessagesArchived(ctx, ids, true)
	}},
	{"unarchive", "Move messages back to the inbox", func(c *firefly.Client, ctx context.Context, ids []inbox.MessageID) error {
		return c.SetMessagesArchived(ctx, ids, false)
	}},
}

func newMessageFlagCmds() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(messageFlags))

	for _, f := range messageFlags {
		cmds = append(cmds, &cobra.Command{
			Use:   f.use + " ID...",
			Short: f.short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMessageFlag(cmd, args, f.use, f.set)
			},
		})
	}

	return cmds
}

// messageFlagOutput is the JSON schema for the message flag commands.
type messageFlagOutput struct {
	IDs    []inbox.MessageID `json:"ids"`
	Action string            `json:"action"`
}

func runMessageFlag(cmd *cobra.Command, args []string, action string, set setFlag) error {
	cc := mustCLIContext(cmd.Context())

	ids := make([]inbox.MessageID, 0, len(args))

	for _, a := range args {
		id, err := inbox.ParseMessageID(a)
		if err != nil {
			return err
		}

		ids = append(ids, id)
	}

	client, _, err := newUserClient(cc)
	if err != nil {
		return err
	}

	if err := set(client, cmd.Context(), ids); err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, messageFlagOutput{IDs: ids, Action: action})
	}

	cc.Statusf("%s: %d message(s)\n", action, len(ids))

	return nil
}

var (
	tagPattern   = regexp.MustCompile(`(?s)<[^>]*>`)
	breakPattern = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>`)
	blankRun     = regexp.MustCompile(`\n{3,}`)
)

// htmlToText renders a message body as plain text: block ends become line
// breaks, other tags are dropped and entities are decoded.
func htmlToText(body string) string {
	s := breakPattern.ReplaceAllString(body, "\n")
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}

	return strings.TrimSpace(blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// preview returns the first n runes of a body on a single line.
func preview(body string, n int) string {
	s := strings.Join(strings.Fields(htmlToText(body)), " ")

	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return strings.TrimSpace(string(r[:n-3])) + "..."
}
