package engine

import (
	"fmt"
	"sort"
	"time"

	"calgraph/graph"
)

// Occurrence is one visible row of an expanded series.
type Occurrence struct {
	EventID       string // master or exception record backing the row
	UID           string
	Start         time.Time
	End           time.Time
	OriginalStart time.Time
	Exception     *graph.Event // nil for plain generated occurrences
}

// Expand merges a master's generated occurrences with its stored exceptions
// into the visible series for [windowStart, windowEnd). Cancelled
// exceptions suppress their occurrence; moved exceptions appear at their
// own start (which may fall inside the window even when the original
// instant does not); orphaned exceptions are invisible but left in place —
// clearing them is the propagation engine's job.
func (e *Engine) Expand(snap *graph.Snapshot, master *graph.Event, windowStart, windowEnd time.Time) ([]Occurrence, error) {
	if master.Recurrence == nil {
		if master.Start.Before(windowEnd) && !master.Start.Before(windowStart) {
			return []Occurrence{{
				EventID:       master.ID,
				UID:           master.UID,
				Start:         master.Start,
				End:           master.End,
				OriginalStart: master.Start,
			}}, nil
		}
		return nil, nil
	}

	generated, err := master.Recurrence.Generate(master.Start, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("expanding series %s: %w", master.ID, err)
	}

	exceptions := snap.ExceptionsOf(master.ID)
	overridden := make(map[int64]bool, len(exceptions))
	for _, exc := range exceptions {
		overridden[exc.OriginalStart.UnixNano()] = true
	}

	var out []Occurrence
	for _, t := range generated {
		if overridden[t.UnixNano()] {
			continue
		}
		out = append(out, Occurrence{
			EventID:       master.ID,
			UID:           master.UID,
			Start:         t,
			End:           master.Recurrence.OccurrenceEnd(master.Start, master.End, t),
			OriginalStart: t,
		})
	}

	for _, exc := range exceptions {
		if exc.IsCancelled {
			continue
		}
		ok, err := master.Recurrence.Contains(master.Start, *exc.OriginalStart)
		if err != nil {
			return nil, fmt.Errorf("checking exception %s: %w", exc.ID, err)
		}
		if !ok {
			// Orphan: its occurrence no longer exists.
			continue
		}
		start, end := exc.Start, exc.End
		if start.IsZero() || end.IsZero() {
			// Degenerate exception: substitute nothing, keep the
			// generated instant.
			start = *exc.OriginalStart
			end = master.Recurrence.OccurrenceEnd(master.Start, master.End, start)
		}
		if !start.Before(windowEnd) || start.Before(windowStart) {
			continue
		}
		out = append(out, Occurrence{
			EventID:       exc.ID,
			UID:           exc.UID,
			Start:         start,
			End:           end,
			OriginalStart: *exc.OriginalStart,
			Exception:     exc,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
