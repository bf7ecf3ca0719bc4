// Package inbox models the user's portal messages and bookmarks. Unlike
// tasks they are read live from the portal and never cached locally.
package inbox

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/tonimelisma/firefly-go/internal/task"
)

// MessageID identifies a portal message.
type MessageID int64

// ParseMessageID parses a decimal message ID.
func ParseMessageID(s string) (MessageID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("inbox: invalid message ID %q", s)
	}

	return MessageID(n), nil
}

func (id MessageID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Message is one portal message addressed to the user. To is set for
// messages sent to a single person; AllRecipients describes group sends.
type Message struct {
	ID            MessageID    `json:"id"`
	From          task.Person  `json:"from"`
	To            *task.Person `json:"to,omitempty"`
	AllRecipients string       `json:"all_recipients,omitempty"`
	Sent          time.Time    `json:"sent"`
	Read          bool         `json:"read"`
	Archived      bool         `json:"archived"`
	Body          string       `json:"body"`
}

// Folder selects messages by archive state.
type Folder int

// Folders. The zero value is the inbox: messages not archived.
const (
	FolderInbox Folder = iota
	FolderArchive
	FolderAll
)

// ParseFolder parses a folder selector as accepted by the CLI.
func ParseFolder(s string) (Folder, error) {
	switch s {
	case "", "inbox":
		return FolderInbox, nil
	case "archive", "archived":
		return FolderArchive, nil
	case "all":
		return FolderAll, nil
	default:
		return FolderInbox, fmt.Errorf("inbox: unknown folder %q (want inbox, archive or all)", s)
	}
}

// SortOrder orders messages by send time and bookmarks by creation time.
type SortOrder int

// Sort orders. The zero value lists the newest first.
const (
	SortNewest SortOrder = iota
	SortOldest
)

// ParseSortOrder parses a sort selector as accepted by the CLI.
func ParseSortOrder(s string) (SortOrder, error) {
	switch s {
	case "", "newest":
		return SortNewest, nil
	case "oldest":
		return SortOldest, nil
	default:
		return SortNewest, fmt.Errorf("inbox: unknown sort order %q (want newest or oldest)", s)
	}
}

// MessageFilter selects messages for listing. Zero-valued bounds are open.
// Before is a calendar day: messages sent at any time that day match.
type MessageFilter struct {
	Folder     Folder
	From       []string
	After      time.Time
	Before     time.Time
	UnreadOnly bool
	Sort       SortOrder
}

// Match reports whether m passes the filter.
func (f MessageFilter) Match(m *Message) bool {
	switch f.Folder {
	case FolderInbox:
		if m.Archived {
			return false
		}
	case FolderArchive:
		if !m.Archived {
			return false
		}
	case FolderAll:
	}

	if f.UnreadOnly && m.Read {
		return false
	}

	if len(f.From) > 0 && !slices.Contains(f.From, m.From.Name) {
		return false
	}

	if !f.After.IsZero() && m.Sent.Before(f.After) {
		return false
	}

	if !f.Before.IsZero() && !m.Sent.Before(nextDay(f.Before)) {
		return false
	}

	return true
}

// Apply returns the matching messages in the filter's order. Ties are broken
// by ID.
func (f MessageFilter) Apply(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))

	for i := range msgs {
		if f.Match(&msgs[i]) {
			out = append(out, msgs[i])
		}
	}

	slices.SortStableFunc(out, func(a, b Message) int {
		c := a.Sent.Compare(b.Sent)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}

		if f.Sort == SortNewest {
			return -c
		}

		return c
	})

	return out
}

// nextDay returns midnight after t's calendar day, in t's location.
func nextDay(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
