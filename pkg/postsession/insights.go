package postsession

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"skillcoach-engine/pkg/collab"
	"skillcoach-engine/pkg/skills"
)

// quietShare is the speaking share below which a participant is considered
// left out of the conversation
const quietShare = 0.1

type insightContext struct {
	ctx          context.Context
	dir          collab.Directory
	newID        func() string
	participants []string
	transcript   ConversationTranscript
	analysis     ConversationAnalysis
	moments      []skills.SkillMoment
}

func (c *insightContext) name(id string) string {
	return collab.DisplayName(c.ctx, c.dir, id)
}

func (c *insightContext) names(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = c.name(id)
	}
	return strings.Join(out, ", ")
}

// skillsByParticipant groups demonstrated categories per participant in
// order of first appearance
func skillsByParticipant(moments []skills.SkillMoment) ([]string, map[string][]skills.Category) {
	var order []string
	byParticipant := make(map[string][]skills.Category)
	seen := make(map[string]map[skills.Category]bool)
	for _, m := range moments {
		for _, p := range m.ParticipantIDs {
			if seen[p] == nil {
				seen[p] = make(map[skills.Category]bool)
				order = append(order, p)
			}
			if !seen[p][m.Category] {
				seen[p][m.Category] = true
				byParticipant[p] = append(byParticipant[p], m.Category)
			}
		}
	}
	return order, byParticipant
}

func categoryNames(categories []skills.Category) string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return strings.Join(out, ", ")
}

func without(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

func (c *insightContext) insights() []ActionableInsight {
	insights := []ActionableInsight{}
	add := func(in ActionableInsight) {
		in.ID = c.newID()
		if in.TargetParticipants == nil {
			in.TargetParticipants = []string{}
		}
		insights = append(insights, in)
	}

	st := c.analysis.SpeakingTime
	td := c.analysis.TeamDynamics

	if dominant := st.DominantSpeaker; dominant != "" {
		share := st.Shares[dominant]
		priority := PriorityLow
		switch {
		case share > 0.6:
			priority = PriorityHigh
		case share > 0.4:
			priority = PriorityMedium
		}
		add(ActionableInsight{
			Type:               InsightCommunicationBalance,
			Title:              "Balance speaking time",
			Description:        fmt.Sprintf("%s spoke for %.0f%% of the meeting.", c.name(dominant), share*100),
			Priority:           priority,
			TargetParticipants: without(c.participants, dominant),
			Actions: []string{
				"Invite quieter participants to share first",
				"Use round-robin updates for status topics",
			},
		})
	}

	order, byParticipant := skillsByParticipant(c.moments)
	for _, p := range order {
		add(ActionableInsight{
			Type:               InsightSkillRecognition,
			Title:              "Recognize demonstrated skills",
			Description:        fmt.Sprintf("%s demonstrated %s.", c.name(p), categoryNames(byParticipant[p])),
			Priority:           PriorityMedium,
			TargetParticipants: []string{p},
			Actions:            []string{"Acknowledge the contribution in the meeting follow-up"},
		})
	}

	if len(c.transcript.Segments) > 0 {
		priority := PriorityLow
		switch td.CollaborationLevel {
		case CollaborationLow:
			priority = PriorityHigh
		case CollaborationModerate:
			priority = PriorityMedium
		}
		add(ActionableInsight{
			Type:  InsightCollaboration,
			Title: "Team collaboration",
			Description: fmt.Sprintf("Collaboration was %s with %.0f%% engagement.",
				td.CollaborationLevel, c.analysis.Engagement*100),
			Priority:           priority,
			TargetParticipants: append([]string(nil), c.participants...),
			Actions:            []string{"Build on each other's points before changing topic"},
		})
	}

	var leaders []string
	seenLeader := map[string]bool{}
	for _, m := range c.moments {
		if m.Category != skills.Leadership {
			continue
		}
		for _, p := range m.ParticipantIDs {
			if !seenLeader[p] {
				seenLeader[p] = true
				leaders = append(leaders, p)
			}
		}
	}
	switch {
	case td.LeadershipPattern == LeadershipDirective:
		add(ActionableInsight{
			Type:               InsightLeadership,
			Title:              "Share ownership of the discussion",
			Description:        fmt.Sprintf("%s led most of the meeting; delegating topics can grow others.", c.name(st.DominantSpeaker)),
			Priority:           PriorityMedium,
			TargetParticipants: []string{st.DominantSpeaker},
			Actions:            []string{"Hand one agenda item to another participant"},
		})
	case len(leaders) > 0:
		add(ActionableInsight{
			Type:               InsightLeadership,
			Title:              "Leadership shown",
			Description:        fmt.Sprintf("Leadership moments from %s.", c.names(leaders)),
			Priority:           PriorityLow,
			TargetParticipants: leaders,
		})
	}

	if len(c.transcript.Segments) > 0 && len(c.analysis.Decisions) == 0 {
		add(ActionableInsight{
			Type:               InsightProcess,
			Title:              "Close with decisions",
			Description:        "No decisions were recorded in this meeting.",
			Priority:           PriorityMedium,
			TargetParticipants: append([]string(nil), c.participants...),
			Actions:            []string{"Reserve the last minutes to confirm decisions and owners"},
		})
	}

	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].Priority > insights[j].Priority
	})
	return insights
}

func (c *insightContext) opportunities() []BridgingOpportunity {
	opportunities := []BridgingOpportunity{}
	add := func(o BridgingOpportunity) {
		o.ID = c.newID()
		opportunities = append(opportunities, o)
	}

	_, byParticipant := skillsByParticipant(c.moments)
	has := func(p string, category skills.Category) bool {
		for _, got := range byParticipant[p] {
			if got == category {
				return true
			}
		}
		return false
	}

	for _, category := range skills.AllCategories {
		var demonstrators, lacking []string
		for _, p := range c.participants {
			if has(p, category) {
				demonstrators = append(demonstrators, p)
			} else {
				lacking = append(lacking, p)
			}
		}
		if len(demonstrators) == 0 || len(lacking) == 0 {
			continue
		}
		add(BridgingOpportunity{
			Category:     OpportunitySkillGap,
			Description:  fmt.Sprintf("%s could pair with %s on %s.", c.names(demonstrators), c.names(lacking), category),
			Participants: append(demonstrators, lacking...),
			Impact:       PriorityMedium,
		})
	}

	st := c.analysis.SpeakingTime
	if dominant := st.DominantSpeaker; dominant != "" {
		for _, p := range c.participants {
			if p == dominant || st.Shares[p] >= quietShare {
				continue
			}
			impact := PriorityMedium
			if st.Shares[p] == 0 {
				impact = PriorityHigh
			}
			add(BridgingOpportunity{
				Category:     OpportunityCommunication,
				Description:  fmt.Sprintf("%s could draw %s into the discussion.", c.name(dominant), c.name(p)),
				Participants: []string{dominant, p},
				Impact:       impact,
			})
		}
	}

	var experts, others []string
	for _, p := range c.participants {
		if has(p, skills.TechnicalExpertise) {
			experts = append(experts, p)
		} else {
			others = append(others, p)
		}
	}
	if len(experts) > 0 && len(others) > 0 {
		add(BridgingOpportunity{
			Category:     OpportunityKnowledgeTransfer,
			Description:  fmt.Sprintf("%s could run a knowledge-sharing session for %s.", c.names(experts), c.names(others)),
			Participants: append(experts, others...),
			Impact:       PriorityMedium,
		})
	}

	if c.dir != nil {
		departments := map[string]bool{}
		var members []string
		for _, p := range c.participants {
			entry, ok := c.dir.Lookup(c.ctx, p)
			if !ok || entry.Department == "" {
				continue
			}
			departments[entry.Department] = true
			members = append(members, p)
		}
		if len(departments) >= 2 {
			names := make([]string, 0, len(departments))
			for d := range departments {
				names = append(names, d)
			}
			sort.Strings(names)
			add(BridgingOpportunity{
				Category:     OpportunityCrossFunctional,
				Description:  fmt.Sprintf("The meeting connected %s; a shared follow-up keeps them aligned.", strings.Join(names, ", ")),
				Participants: members,
				Impact:       PriorityHigh,
			})
		}
	}

	return opportunities
}
