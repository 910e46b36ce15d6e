package slot

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Grid describes how a clinic splits its day into bookable positions.
type Grid struct {
	SlotMinutes int // used when a window does not set its own
	SubSlots    int
}

type Opening struct {
	StartTime Clock `json:"start_time"`
	SubSlot   int   `json:"sub_slot"`
}

// Openings lists every (start, sub-slot) the resolver would accept for the
// practitioner on date. Practitioners without windows are laid out on the
// clinic grid from the workday start to the latest start.
func (r *Resolver) Openings(clinicID, practitionerID uuid.UUID, date time.Time, treatment string, snap Snapshot, grid Grid) []Opening {
	if grid.SlotMinutes <= 0 || grid.SubSlots <= 0 {
		return nil
	}

	starts := r.gridStarts(practitionerID, date.Weekday(), snap.Windows, grid)

	var out []Opening
	for _, start := range starts {
		for sub := 1; sub <= grid.SubSlots; sub++ {
			d := r.Resolve(Request{
				ClinicID:       clinicID,
				PractitionerID: practitionerID,
				Date:           date,
				StartTime:      start,
				SubSlot:        sub,
				TreatmentType:  treatment,
			}, snap)
			if d.Accepted {
				out = append(out, Opening{StartTime: start, SubSlot: sub})
			}
		}
	}
	return out
}

func (r *Resolver) gridStarts(practitionerID uuid.UUID, weekday time.Weekday, windows []AvailabilityWindow, grid Grid) []Clock {
	seen := make(map[Clock]struct{})
	configured := false

	for _, w := range windows {
		if w.PractitionerID != practitionerID {
			continue
		}
		configured = true
		if w.Weekday != weekday {
			continue
		}
		step := w.SlotMinutes
		if step <= 0 {
			step = grid.SlotMinutes
		}
		for t := w.From; t < w.To; t = t.Add(step) {
			seen[t] = struct{}{}
		}
	}

	if !configured {
		for t := r.policy.WorkdayStart; t <= r.policy.LatestStart; t = t.Add(grid.SlotMinutes) {
			seen[t] = struct{}{}
		}
	}

	out := make([]Clock, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
