package inbox

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tonimelisma/firefly-go/internal/task"
)

// Bookmark types as reported by the portal.
const (
	TypeRecommended = "Recommended"
	TypePersonal    = "Personal"
)

// Bookmark is a portal page pinned for the user, either by a teacher
// (recommended) or by the user.
type Bookmark struct {
	GUID         string      `json:"guid"`
	Title        string      `json:"title"`
	Type         string      `json:"type"`
	Breadcrumb   string      `json:"breadcrumb,omitempty"`
	SimpleURL    string      `json:"simple_url"`
	FullURL      string      `json:"full_url,omitempty"`
	From         task.Person `json:"from"`
	Created      time.Time   `json:"created"`
	Position     int         `json:"position"`
	Read         bool        `json:"read"`
	Deletable    bool        `json:"deletable"`
	IsForm       bool        `json:"is_form"`
	FormAnswered bool        `json:"form_answered"`
}

// Link returns the absolute URL of the bookmarked page on the school host
// at baseURL.
func (b *Bookmark) Link(baseURL string) string {
	if b.SimpleURL == "" {
		return ""
	}

	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(b.SimpleURL, "/")
}

// ParseBookmarkType parses a type selector. The empty string and "all"
// select every bookmark and return "".
func ParseBookmarkType(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return "", nil
	case "recommended":
		return TypeRecommended, nil
	case "personal":
		return TypePersonal, nil
	default:
		return "", fmt.Errorf("inbox: unknown bookmark type %q (want all, recommended or personal)", s)
	}
}

// BookmarkFilter selects bookmarks for listing. An empty Type matches all.
type BookmarkFilter struct {
	Type string
	Sort SortOrder
}

// Apply returns the matching bookmarks in the filter's order. Ties are
// broken by GUID.
func (f BookmarkFilter) Apply(bms []Bookmark) []Bookmark {
	out := make([]Bookmark, 0, len(bms))

	for _, b := range bms {
		if f.Type == "" || b.Type == f.Type {
			out = append(out, b)
		}
	}

	slices.SortStableFunc(out, func(a, b Bookmark) int {
		c := a.Created.Compare(b.Created)
		if c == 0 {
			c = cmp.Compare(a.GUID, b.GUID)
		}

		if f.Sort == SortNewest {
			return -c
		}

		return c
	})

	return out
}
