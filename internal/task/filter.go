package task

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Progress selects tasks by derived done status.
type Progress int

// Progress values for Filter.
const (
	ProgressAll Progress = iota
	ProgressDone
	ProgressTodo
)

// ParseProgress parses a progress selector as accepted by the CLI.
func ParseProgress(s string) (Progress, error) {
	switch s {
	case "", "all":
		return ProgressAll, nil
	case "done", "complete":
		return ProgressDone, nil
	case "todo", "incomplete":
		return ProgressTodo, nil
	default:
		return ProgressAll, fmt.Errorf("task: unknown progress %q (want all, done or todo)", s)
	}
}

// SortOrder orders a filtered task list.
type SortOrder int

// Sort orders. The zero value sorts by due date, soonest first, with undated
// tasks last.
const (
	SortDueAsc SortOrder = iota
	SortDueDesc
	SortSetAsc
	SortSetDesc
)

// ParseSortOrder parses a sort selector as accepted by the CLI.
func ParseSortOrder(s string) (SortOrder, error) {
	switch s {
	case "", "due":
		return SortDueAsc, nil
	case "due-desc":
		return SortDueDesc, nil
	case "set":
		return SortSetAsc, nil
	case "set-desc":
		return SortSetDesc, nil
	default:
		return SortDueAsc, fmt.Errorf("task: unknown sort order %q", s)
	}
}

// Filter selects tasks from a snapshot for listing. Zero-valued bounds are
// open. Due bounds exclude tasks without a due date; set bounds compare
// calendar days so a task set on the bound day is included.
type Filter struct {
	Progress       Progress
	SetBy          []string
	DueAfter       time.Time
	DueBefore      time.Time
	SetAfter       time.Time
	SetBefore      time.Time
	IncludeDeleted bool
	Sort           SortOrder
}

// Match reports whether t passes the filter.
func (f Filter) Match(t *Task) bool {
	if t.Deleted && !f.IncludeDeleted {
		return false
	}

	switch f.Progress {
	case ProgressDone:
		if !t.IsDone() {
			return false
		}
	case ProgressTodo:
		if t.IsDone() {
			return false
		}
	case ProgressAll:
	}

	if len(f.SetBy) > 0 && !slices.Contains(f.SetBy, t.Setter.Name) {
		return false
	}

	if !f.DueAfter.IsZero() && (!t.HasDueDate() || t.DueDate.Before(f.DueAfter)) {
		return false
	}

	if !f.DueBefore.IsZero() && (!t.HasDueDate() || t.DueDate.After(f.DueBefore)) {
		return false
	}

	if !f.SetAfter.IsZero() && startOfDay(t.SetDate).Before(startOfDay(f.SetAfter)) {
		return false
	}

	if !f.SetBefore.IsZero() && startOfDay(t.SetDate).After(startOfDay(f.SetBefore)) {
		return false
	}

	return true
}

// Apply returns the matching tasks of s in the filter's sort order. Ties are
// broken by ID so the output is deterministic.
func (f Filter) Apply(s *Snapshot) []*Task {
	var out []*Task

	for _, id := range s.IDs() {
		if t := s.Tasks[id]; f.Match(t) {
			out = append(out, t)
		}
	}

	slices.SortStableFunc(out, func(a, b *Task) int {
		if c := f.compare(a, b); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return out
}

func (f Filter) compare(a, b *Task) int {
	switch f.Sort {
	case SortDueDesc:
		return compareDue(b, a)
	case SortSetAsc:
		return a.SetDate.Compare(b.SetDate)
	case SortSetDesc:
		return b.SetDate.Compare(a.SetDate)
	default:
		return compareDue(a, b)
	}
}

// compareDue orders by due date with undated tasks after dated ones.
func compareDue(a, b *Task) int {
	switch {
	case a.HasDueDate() && b.HasDueDate():
		return a.DueDate.Compare(b.DueDate)
	case a.HasDueDate():
		return -1
	case b.HasDueDate():
		return 1
	default:
		return 0
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
