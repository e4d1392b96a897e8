package coaching

// Sample thresholds. All comparisons are strict.
const (
	lowSpeakingRatio  = 0.2
	highSpeakingRatio = 0.6
	manyQuestions     = 3
	lowConfidence     = 0.4
)

// Score weights
const (
	overallWeight    = 0.4
	completionWeight = 0.3
	engagementWeight = 0.3
)

var rolePrompts = map[Role][]string{
	RolePresenter: {
		"Open with the one thing you want the audience to remember.",
		"Pause after key points to let them land.",
		"Check for questions before moving to the next section.",
	},
	RoleFacilitator: {
		"State the goal of the meeting and the time box.",
		"Invite people who have not spoken yet.",
		"Summarize decisions and owners before closing.",
	},
	RoleParticipant: {
		"Share one idea or question in the first ten minutes.",
		"Build on a point someone else made.",
	},
	RoleObserver: {
		"Note who speaks most and who has not spoken.",
		"Capture decisions and open questions as they happen.",
	},
}

type promptTemplate struct {
	kind    PromptType
	message string
}

// samplePrompts applies the four threshold rules; each fires at most once
// per sample and several may fire together
func samplePrompts(s CommunicationAnalysis) []promptTemplate {
	var out []promptTemplate
	if s.SpeakingRatio < lowSpeakingRatio {
		out = append(out, promptTemplate{PromptEncouragement, "You have been quiet for a while. Your perspective matters, consider sharing it."})
	}
	if s.SpeakingRatio > highSpeakingRatio {
		out = append(out, promptTemplate{PromptBalanceSpeaking, "You are doing most of the talking. Try asking others for their view."})
	}
	if s.QuestionCount > manyQuestions {
		out = append(out, promptTemplate{PromptPositiveReinforcement, "Great questions. They are keeping the discussion moving."})
	}
	if s.ConfidenceScore < lowConfidence {
		out = append(out, promptTemplate{PromptConfidenceBoost, "Slow down and speak from what you know. You are well prepared."})
	}
	return out
}

// performanceScore blends mean overall score, prompt completion and mean
// engagement. Missing samples or prompts contribute zero.
func performanceScore(meanOverall, meanEngagement float64, completed, total int) float64 {
	completion := 0.0
	if total > 0 {
		completion = float64(completed) / float64(total)
	}
	return overallWeight*meanOverall + completionWeight*completion + engagementWeight*meanEngagement
}

type summary struct {
	meanOverall    float64
	meanEngagement float64
	meanRatio      float64
	meanConfidence float64
	completion     float64
	samples        int
}

// assess lists strengths and improvement areas from the session means
func assess(s summary) (strengths, improvements []string) {
	strengths, improvements = []string{}, []string{}
	if s.samples == 0 {
		improvements = append(improvements, "Not enough communication data was collected to assess this session")
		return strengths, improvements
	}

	if s.meanOverall >= 0.7 {
		strengths = append(strengths, "Clear and effective communication")
	} else if s.meanOverall < 0.5 {
		improvements = append(improvements, "Structure contributions around one clear point")
	}

	if s.meanEngagement >= 0.7 {
		strengths = append(strengths, "High engagement throughout the call")
	} else if s.meanEngagement < 0.5 {
		improvements = append(improvements, "Stay engaged by reacting to others' contributions")
	}

	switch {
	case s.meanRatio < lowSpeakingRatio:
		improvements = append(improvements, "Increase participation in the discussion")
	case s.meanRatio > highSpeakingRatio:
		improvements = append(improvements, "Leave more room for others to speak")
	default:
		strengths = append(strengths, "Balanced speaking time")
	}

	if s.meanConfidence >= 0.7 {
		strengths = append(strengths, "Confident delivery")
	} else if s.meanConfidence < lowConfidence {
		improvements = append(improvements, "Build confidence when presenting ideas")
	}

	if s.completion >= 0.5 {
		strengths = append(strengths, "Responsive to coaching prompts")
	}
	return strengths, improvements
}
