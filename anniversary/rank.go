package anniversary

import (
	"sort"
)

// Event is one upcoming anniversary occurrence.
type Event struct {
	SpanID         string `json:"span_id"`
	Name           string `json:"name"`
	DaysUntil      int    `json:"days_until"`
	YearsElapsed   int    `json:"years_elapsed"`
	IsFamilyMember bool   `json:"is_family_member"`
	Significance   int    `json:"significance"`
}

// Rank orders events by the composite key used on notification surfaces:
// today first, family members first, higher significance first, soonest
// first. The sort is stable, so ties at every level fall through to the next
// key and full ties preserve input order.
func Rank(events []Event) []Event {
	ranked := make([]Event, len(events))
	copy(ranked, events)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]

		aToday, bToday := a.DaysUntil == 0, b.DaysUntil == 0
		if aToday != bToday {
			return aToday
		}
		if a.IsFamilyMember != b.IsFamilyMember {
			return a.IsFamilyMember
		}
		if a.Significance != b.Significance {
			return a.Significance > b.Significance
		}
		return a.DaysUntil < b.DaysUntil
	})

	return ranked
}
