package queue

import (
	"fmt"
	"sort"
	"time"

	"emergency-admission/internal/models"
)

// less is the queue order: entries in treatment are pinned first, then
// tier descending, then insertion sequence, then submission id.
func less(a, b models.QueueEntry) bool {
	ai, bi := a.State == models.StateInTreatment, b.State == models.StateInTreatment
	if ai != bi {
		return ai
	}
	if a.Tier != b.Tier {
		return a.Tier > b.Tier
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.SubmissionID < b.SubmissionID
}

// insertionIndex is where e belongs in an already ordered slice.
func insertionIndex(entries []models.QueueEntry, e models.QueueEntry) int {
	return sort.Search(len(entries), func(i int) bool { return less(e, entries[i]) })
}

func sortEntries(entries []models.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
}

// renumber assigns dense 1-based positions and the wait implied by the
// entries ahead of each one.
func renumber(entries []models.QueueEntry, service map[models.Tier]time.Duration, now time.Time) {
	var ahead time.Duration
	for i := range entries {
		entries[i].Position = i + 1
		if entries[i].State == models.StateInTreatment {
			entries[i].EstimatedWait = 0
		} else {
			entries[i].EstimatedWait = ahead
		}
		entries[i].UpdatedAt = now
		ahead += service[entries[i].Tier]
	}
}

// checkInvariant verifies positions are 1..N and that no waiting entry is
// ahead of a more urgent waiting entry.
func checkInvariant(entries []models.QueueEntry) error {
	seen := make(map[string]bool, len(entries))
	pinned := true
	for i, e := range entries {
		if e.Position != i+1 {
			return fmt.Errorf("entry %s at index %d has position %d", e.SubmissionID, i, e.Position)
		}
		if seen[e.SubmissionID] {
			return fmt.Errorf("submission %s appears twice", e.SubmissionID)
		}
		seen[e.SubmissionID] = true
		if !e.Active() {
			return fmt.Errorf("entry %s in state %s is still queued", e.SubmissionID, e.State)
		}

		if e.State == models.StateInTreatment {
			if !pinned {
				return fmt.Errorf("entry %s in treatment is behind a waiting entry", e.SubmissionID)
			}
			continue
		}
		pinned = false
		if i > 0 && entries[i-1].State != models.StateInTreatment && entries[i-1].Tier < e.Tier {
			return fmt.Errorf("%s entry %s is behind %s entry %s",
				e.Tier, e.SubmissionID, entries[i-1].Tier, entries[i-1].SubmissionID)
		}
	}
	return nil
}

func positionsOf(entries []models.QueueEntry) map[string]int {
	out := make(map[string]int, len(entries))
	for _, e := range entries {
		out[e.SubmissionID] = e.Position
	}
	return out
}

// diffPositions lists entries whose position changed. Entries that left the
// queue are reported with NewPosition 0.
func diffPositions(facilityID string, before map[string]int, after []models.QueueEntry) []models.PositionChange {
	var changes []models.PositionChange
	present := make(map[string]bool, len(after))
	for _, e := range after {
		present[e.SubmissionID] = true
		if old := before[e.SubmissionID]; old != e.Position {
			changes = append(changes, models.PositionChange{
				SubmissionID:  e.SubmissionID,
				FacilityID:    facilityID,
				OldPosition:   old,
				NewPosition:   e.Position,
				EstimatedWait: e.EstimatedWait,
			})
		}
	}
	gone := make([]string, 0)
	for id := range before {
		if !present[id] {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	for _, id := range gone {
		changes = append(changes, models.PositionChange{
			SubmissionID: id,
			FacilityID:   facilityID,
			OldPosition:  before[id],
		})
	}
	return changes
}

func cloneEntries(entries []models.QueueEntry) []models.QueueEntry {
	return append([]models.QueueEntry(nil), entries...)
}
