package skills

import (
	"sort"
	"time"
)

const topSkillCount = 5

// FinalizeMetrics summarizes the moments of a closed session. It is a pure
// function of its arguments.
//
// Top skills are ordered by moment count; equal counts keep the order in
// which each category was first detected.
func FinalizeMetrics(moments []SkillMoment, participants []string, start, end time.Time) SessionMetrics {
	metrics := SessionMetrics{
		TotalMoments:         len(moments),
		MomentsByCategory:    make(map[Category]int),
		ConfidenceByCategory: make(map[Category]float64),
		TopSkills:            []CategoryCount{},
	}

	if !start.IsZero() && !end.IsZero() && end.After(start) {
		metrics.Duration = end.Sub(start)
	}

	var firstSeen []Category
	sums := make(map[Category]float64)
	var total float64
	active := make(map[string]bool)
	for _, m := range moments {
		if _, ok := metrics.MomentsByCategory[m.Category]; !ok {
			firstSeen = append(firstSeen, m.Category)
		}
		metrics.MomentsByCategory[m.Category]++
		sums[m.Category] += m.Confidence
		total += m.Confidence
		for _, p := range m.ParticipantIDs {
			active[p] = true
		}
	}

	if len(moments) > 0 {
		metrics.AverageConfidence = total / float64(len(moments))
	}
	for c, n := range metrics.MomentsByCategory {
		metrics.ConfidenceByCategory[c] = sums[c] / float64(n)
	}

	if len(participants) > 0 {
		seen := make(map[string]bool, len(participants))
		withMoments := 0
		for _, p := range participants {
			if seen[p] {
				continue
			}
			seen[p] = true
			if active[p] {
				withMoments++
			}
		}
		metrics.ParticipationRate = float64(withMoments) / float64(len(seen))
	}

	ranked := make([]CategoryCount, 0, len(firstSeen))
	for _, c := range firstSeen {
		ranked = append(ranked, CategoryCount{Category: c, Count: metrics.MomentsByCategory[c]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > topSkillCount {
		ranked = ranked[:topSkillCount]
	}
	metrics.TopSkills = ranked

	return metrics
}
