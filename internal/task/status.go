package task

import "fmt"

// doneEffect reports how an event type changes the done status: done is the
// resulting status, ok is false for events that do not change it.
func doneEffect(t EventType) (done, ok bool) {
	switch t {
	case EventMarkDone, EventConfirmComplete:
		return true, true
	case EventMarkUndone, EventRevertToDo, EventRequestResubmission:
		return false, true
	default:
		return false, false
	}
}

// archiveEffect is the archive-status counterpart of doneEffect.
func archiveEffect(t EventType) (archived, ok bool) {
	switch t {
	case EventArchive:
		return true, true
	case EventUnarchive:
		return false, true
	default:
		return false, false
	}
}

// latestEffect scans the log for the most recently released event that
// effect recognizes. Equal timestamps resolve to the later log entry.
func latestEffect(events []Event, effect func(EventType) (bool, bool)) (value, found bool) {
	var best *Event

	for i := range events {
		v, ok := effect(events[i].Type)
		if !ok {
			continue
		}

		if best == nil || !events[i].Released.Before(best.Released) {
			best = &events[i]
			value = v
			found = true
		}
	}

	return value, found
}

// IsArchived reports the archive status. The latest archive-task or
// unarchive-task event wins; without one the server flag applies.
func (t *Task) IsArchived() bool {
	if v, ok := latestEffect(t.Events, archiveEffect); ok {
		return v
	}

	return t.Archived
}

// IsDone reports whether the task is complete. Archived tasks are done.
// Otherwise the most recently released status event decides, by release
// timestamp rather than log position.
func (t *Task) IsDone() bool {
	if t.IsArchived() {
		return true
	}

	v, _ := latestEffect(t.Events, doneEffect)

	return v
}

// Grades renders every mark-and-grade event as "mark/max" and/or the grade.
func (t *Task) Grades() []string {
	var out []string

	for _, e := range t.Events {
		g, ok := e.Payload.(Grade)
		if !ok || e.Type != EventMarkAndGrade {
			continue
		}

		if g.Mark != "" {
			outOf := g.MarkMax
			if outOf == "" {
				outOf = g.OutOf
			}

			if outOf == "" {
				outOf = "-"
			}

			out = append(out, fmt.Sprintf("%s/%s", g.Mark, outOf))
		}

		if g.Grade != "" {
			out = append(out, g.Grade)
		}
	}

	return out
}
