package document

import (
	"fmt"
	"sort"
)

// Kind discriminates the two supported transform operations.
type Kind string

const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// Transform is a single incremental edit. SID is a logical clock
// assigned by the submitting session, used only to decide whether two
// transforms are concurrent for rebase purposes; it is not wall time.
type Transform struct {
	Kind  Kind   `json:"kind" validate:"required,oneof=insert delete"`
	Index int    `json:"index" validate:"gte=0"`
	SID   int64  `json:"sid"`
	Text  string `json:"text,omitempty"`
	Count int    `json:"count,omitempty" validate:"gte=0"`
}

func (t Transform) String() string {
	if t.Kind == KindInsert {
		return fmt.Sprintf("insert(%d@%d %q)", t.SID, t.Index, t.Text)
	}
	return fmt.Sprintf("delete(%d@%d x%d)", t.SID, t.Index, t.Count)
}

// Apply splices the transform into text. The splice window is clamped
// to the current bounds: a rebase can legitimately push an index past
// either end, and a clamped-to-nothing edit is a no-op.
func (t Transform) Apply(text string) string {
	switch t.Kind {
	case KindInsert:
		i := clamp(t.Index, 0, len(text))
		return text[:i] + t.Text + text[i:]
	case KindDelete:
		i := clamp(t.Index, 0, len(text))
		j := clamp(t.Index+t.Count, i, len(text))
		return text[:i] + text[j:]
	}
	return text
}

// rebase shifts t's index past every history entry it was concurrent
// with, i.e. every entry carrying a higher sid. Inserts at or before
// the index push it right; deletes strictly before it pull it left.
func rebase(t Transform, history []Transform) Transform {
	for _, o := range history {
		if o.SID <= t.SID {
			continue
		}
		switch o.Kind {
		case KindInsert:
			if o.Index <= t.Index {
				t.Index += len(o.Text)
			}
		case KindDelete:
			if o.Index < t.Index {
				t.Index -= o.Count
			}
		}
	}
	return t
}

// record appends t to history, restores newest-first sid order and
// truncates to the HistoryLimit most recent entries.
func record(t Transform, history []Transform) []Transform {
	history = append(history, t)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].SID > history[j].SID
	})
	if len(history) > HistoryLimit {
		history = history[:HistoryLimit]
	}
	return history
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
