package postsession

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"skillcoach-engine/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// minTopicMatches is the number of distinct keywords a topic needs
const minTopicMatches = 2

const maxTopics = 3

type topicKeywords struct {
	name     string
	keywords []string
}

// Keywords within a category never contain one another, so one mention
// cannot count twice.
var topicCatalog = []topicKeywords{
	{"technical architecture", []string{"architecture", "database", "microservice", "scalability", "infrastructure", "deployment", "latency", "endpoint"}},
	{"project planning", []string{"timeline", "milestone", "deadline", "roadmap", "sprint", "deliverable", "schedule", "scope"}},
	{"product strategy", []string{"customer", "market", "feature", "competitor", "pricing", "user research", "positioning", "launch"}},
	{"team process", []string{"retrospective", "standup", "workflow", "code review", "handoff", "process", "onboarding", "documentation"}},
	{"performance", []string{"metrics", "kpi", "throughput", "benchmark", "okr", "target", "performance review", "growth"}},
	{"budget", []string{"budget", "cost", "spend", "forecast", "invoice", "revenue", "funding", "expense"}},
	{"hiring", []string{"hiring", "candidate", "interview", "recruit", "job offer", "headcount", "resume", "referral"}},
}

var positiveWords = wordSet("great", "good", "excellent", "agree", "love", "happy", "awesome", "progress",
	"success", "helpful", "thanks", "glad", "clear", "perfect", "nice")

var negativeWords = wordSet("bad", "problem", "issue", "concern", "worried", "fail", "failed", "difficult",
	"blocked", "delay", "frustrated", "wrong", "risk", "confused", "unfortunately")

var decisionIndicators = []string{
	"decided", "we'll go with", "let's go with", "agreed to", "the decision is",
	"approved", "settled on", "final answer",
}

var actionIndicators = []string{
	"i'll", "i will", "will do", "action item", "follow up", "take care of",
	"by tomorrow", "by next week", "assign", "next step",
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Analyze runs the five conversation analyses concurrently and joins them.
// Each analysis is a pure function of the transcript.
func Analyze(ctx context.Context, t ConversationTranscript, participants []string) (ConversationAnalysis, error) {
	var a ConversationAnalysis

	g, gctx := errgroup.WithContext(ctx)
	stage := func(name string, fn func()) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			defer metrics.ObservePostSessionStage(name)()
			fn()
			return nil
		})
	}

	stage("speaking_time", func() { a.SpeakingTime = AnalyzeSpeakingTime(t) })
	stage("topics", func() { a.Topics = IdentifyTopics(t.FullText) })
	stage("sentiment", func() { a.Sentiment = AnalyzeSentiment(t.FullText) })
	stage("decisions", func() { a.Decisions, a.ActionItems = ExtractDecisions(t) })
	stage("team_dynamics", func() { a.TeamDynamics, a.Engagement = AnalyzeTeamDynamics(t, participants) })

	if err := g.Wait(); err != nil {
		return ConversationAnalysis{}, err
	}
	return a, nil
}

// AnalyzeSpeakingTime sums segment durations per speaker. The dominant
// speaker has the longest total; ties go to the speaker heard first.
func AnalyzeSpeakingTime(t ConversationTranscript) SpeakingTime {
	st := SpeakingTime{
		ByParticipant: make(map[string]time.Duration),
		Shares:        make(map[string]float64),
	}

	var order []string
	for _, s := range t.Segments {
		if _, seen := st.ByParticipant[s.SpeakerID]; !seen {
			order = append(order, s.SpeakerID)
		}
		d := s.End - s.Start
		if d < 0 {
			d = 0
		}
		st.ByParticipant[s.SpeakerID] += d
		st.Total += d
	}

	if st.Total <= 0 {
		return st
	}

	var best time.Duration
	for _, speaker := range order {
		d := st.ByParticipant[speaker]
		st.Shares[speaker] = float64(d) / float64(st.Total)
		if d > best {
			best = d
			st.DominantSpeaker = speaker
		}
	}
	return st
}

// IdentifyTopics returns up to three topics with at least two distinct
// keyword hits, by hit count. Ties keep catalog order.
func IdentifyTopics(fullText string) []Topic {
	text := strings.ToLower(fullText)
	topics := []Topic{}
	for _, category := range topicCatalog {
		var hits []string
		for _, kw := range category.keywords {
			if strings.Contains(text, kw) {
				hits = append(hits, kw)
			}
		}
		if len(hits) >= minTopicMatches {
			topics = append(topics, Topic{Name: category.name, Matches: len(hits), Keywords: hits})
		}
	}

	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].Matches > topics[j].Matches
	})
	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}
	return topics
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

// AnalyzeSentiment counts positive and negative words. The larger count
// wins; equal counts are neutral.
func AnalyzeSentiment(fullText string) SentimentAnalysis {
	s := SentimentAnalysis{Overall: SentimentNeutral}
	seenPos := map[string]bool{}
	seenNeg := map[string]bool{}

	for _, word := range tokenize(fullText) {
		if _, ok := positiveWords[word]; ok {
			s.PositiveCount++
			if !seenPos[word] {
				seenPos[word] = true
				s.PositiveKeywords = append(s.PositiveKeywords, word)
			}
		}
		if _, ok := negativeWords[word]; ok {
			s.NegativeCount++
			if !seenNeg[word] {
				seenNeg[word] = true
				s.NegativeKeywords = append(s.NegativeKeywords, word)
			}
		}
	}

	switch {
	case s.PositiveCount > s.NegativeCount:
		s.Overall = SentimentPositive
	case s.NegativeCount > s.PositiveCount:
		s.Overall = SentimentNegative
	}
	if total := s.PositiveCount + s.NegativeCount; total > 0 {
		s.Score = float64(s.PositiveCount-s.NegativeCount) / float64(total)
	}
	return s
}

func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	sentences := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// ExtractDecisions scans every sentence for decision and action phrases.
// A sentence may be both. The segment speaker owns the action item.
func ExtractDecisions(t ConversationTranscript) ([]Decision, []ActionItem) {
	decisions := []Decision{}
	actions := []ActionItem{}
	for _, seg := range t.Segments {
		for _, sentence := range splitSentences(seg.Text) {
			lower := strings.ToLower(sentence)
			if containsAny(lower, decisionIndicators) {
				decisions = append(decisions, Decision{Text: sentence, SpeakerID: seg.SpeakerID, At: seg.Start})
			}
			if containsAny(lower, actionIndicators) {
				actions = append(actions, ActionItem{Text: sentence, Owner: seg.SpeakerID, At: seg.Start})
			}
		}
	}
	return decisions, actions
}

// AnalyzeTeamDynamics counts turn changes between speaker pairs and derives
// the engagement score as the mean of speaker diversity and interaction
// density.
func AnalyzeTeamDynamics(t ConversationTranscript, participants []string) (TeamDynamics, float64) {
	td := TeamDynamics{
		CollaborationLevel: CollaborationLow,
		LeadershipPattern:  LeadershipNone,
		Interactions:       []Interaction{},
	}
	if len(t.Segments) == 0 {
		return td, 0
	}

	type pair struct{ a, b string }
	counts := make(map[pair]int)
	transitions := 0
	for i := 1; i < len(t.Segments); i++ {
		prev, cur := t.Segments[i-1].SpeakerID, t.Segments[i].SpeakerID
		if prev == cur {
			continue
		}
		if cur < prev {
			prev, cur = cur, prev
		}
		counts[pair{prev, cur}]++
		transitions++
	}
	for p, n := range counts {
		td.Interactions = append(td.Interactions, Interaction{A: p.a, B: p.b, Count: n})
	}
	sort.Slice(td.Interactions, func(i, j int) bool {
		if td.Interactions[i].A != td.Interactions[j].A {
			return td.Interactions[i].A < td.Interactions[j].A
		}
		return td.Interactions[i].B < td.Interactions[j].B
	})

	st := AnalyzeSpeakingTime(t)
	speakers := len(st.ByParticipant)
	people := speakerPopulation(participants, t)
	population := len(people)
	if population > 0 {
		td.SpeakerDiversity = clamp01(float64(speakers) / float64(population))
	}
	if len(t.Segments) > 1 {
		td.InteractionDensity = clamp01(float64(transitions) / float64(len(t.Segments)-1))
	}
	engagement := clamp01((td.SpeakerDiversity + td.InteractionDensity) / 2)

	switch {
	case engagement > 0.7:
		td.CollaborationLevel = CollaborationHigh
	case engagement > 0.4:
		td.CollaborationLevel = CollaborationModerate
	}

	maxShare, minShare := 0.0, 1.0
	for _, p := range people {
		share := st.Shares[p]
		if share > maxShare {
			maxShare = share
		}
		if share < minShare {
			minShare = share
		}
	}

	switch {
	case st.DominantSpeaker == "":
		td.LeadershipPattern = LeadershipNone
	case maxShare > 0.6:
		td.LeadershipPattern = LeadershipDirective
	case speakers >= 3 && maxShare < 0.4:
		td.LeadershipPattern = LeadershipDistributed
	default:
		td.LeadershipPattern = LeadershipCollaborative
	}

	if speakers > 1 {
		td.ParticipationBalance = clamp01(1 - (maxShare - minShare))
	}
	return td, engagement
}

// speakerPopulation is the set of people the analyses measure against.
// When every speaker is a known participant it is the participants plus
// nobody else, silent ones included. A speaker label that maps to no
// participant means the two id spaces cannot be joined, so only the
// transcript's speakers count.
func speakerPopulation(participants []string, t ConversationTranscript) []string {
	known := make(map[string]bool, len(participants))
	for _, p := range participants {
		known[p] = true
	}
	for _, s := range t.Segments {
		if !known[s.SpeakerID] {
			return unionParticipants(nil, t)
		}
	}
	return unionParticipants(participants, t)
}

// unionParticipants lists session participants followed by any speaker
// the session did not know about
func unionParticipants(participants []string, t ConversationTranscript) []string {
	seen := make(map[string]bool, len(participants))
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, s := range t.Segments {
		if !seen[s.SpeakerID] {
			seen[s.SpeakerID] = true
			out = append(out, s.SpeakerID)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
