package task

import (
	"maps"
	"slices"
	"time"
)

// Snapshot is the client-side view of every known task plus the watermark:
// the instant up to which the snapshot is known to be complete.
type Snapshot struct {
	Tasks     map[ID]*Task
	Watermark time.Time
}

// NewSnapshot returns an empty snapshot with a zero watermark.
func NewSnapshot() *Snapshot {
	return &Snapshot{Tasks: make(map[ID]*Task)}
}

// Get returns the task with the given ID.
func (s *Snapshot) Get(id ID) (*Task, bool) {
	if s == nil {
		return nil, false
	}

	t, ok := s.Tasks[id]

	return t, ok
}

// Len returns the number of tasks, including deleted ones.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}

	return len(s.Tasks)
}

// IDs returns the snapshot's task IDs in ascending order.
func (s *Snapshot) IDs() []ID {
	if s == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(s.Tasks))
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	c := NewSnapshot()
	if s == nil {
		return c
	}

	c.Watermark = s.Watermark

	for id, t := range s.Tasks {
		c.Tasks[id] = t.Clone()
	}

	return c
}

// Merge returns a new snapshot in which every task in updates replaces the
// old entry wholesale and every other entry is carried over unchanged. old is
// not modified; the watermark is carried over as-is.
func Merge(old *Snapshot, updates map[ID]*Task) *Snapshot {
	merged := NewSnapshot()

	if old != nil {
		merged.Watermark = old.Watermark
		maps.Copy(merged.Tasks, old.Tasks)
	}

	for id, t := range updates {
		merged.Tasks[id] = t
	}

	return merged
}
