package alerts

import "sort"

// sortForRanking orders alerts for dense rank assignment: highest risk first,
// then earliest trigger, then id as a stable final tiebreaker. The same active
// set always produces the same ordering.
func sortForRanking(items []*Alert) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		if !a.TriggeredAt.Equal(b.TriggeredAt) {
			return a.TriggeredAt.Before(b.TriggeredAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
