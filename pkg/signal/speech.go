package signal

import (
	"regexp"
	"sort"
	"strings"
)

var technicalVocabulary = []string{
	"algorithm", "api", "architecture", "authentication", "benchmark", "cache",
	"cluster", "compiler", "concurrency", "container", "database", "deployment",
	"encryption", "endpoint", "index", "kubernetes", "latency", "load balancer",
	"microservice", "migration", "pipeline", "protocol", "query", "queue",
	"refactor", "regression", "replication", "runtime", "scalability", "schema",
	"sharding", "thread", "throughput", "transaction", "websocket",
}

type leadershipPhrase struct {
	pattern  *regexp.Regexp
	phrase   string
	strength float64
}

var leadershipPhrases = []leadershipPhrase{
	{phrase: "i'll take ownership", strength: 0.9},
	{phrase: "here's what we'll do", strength: 0.85},
	{phrase: "i will own", strength: 0.85},
	{phrase: "our goal is", strength: 0.8},
	{phrase: "i recommend", strength: 0.75},
	{phrase: "the plan is", strength: 0.75},
	{phrase: "i propose", strength: 0.7},
	{phrase: "let me take", strength: 0.7},
	{phrase: "i suggest", strength: 0.65},
	{phrase: "we need to", strength: 0.6},
	{phrase: "let's", strength: 0.6},
}

var skillCues = map[string][]string{
	"communication":     {"to clarify", "in other words", "to summarize", "let me explain", "does that make sense"},
	"problemSolving":    {"root cause", "workaround", "troubleshoot", "debug", "the fix", "solution"},
	"collaboration":     {"together", "pair on", "sync up", "help you", "as a team"},
	"mentoring":         {"let me show you", "walk you through", "you could try", "good question"},
	"strategicThinking": {"long term", "roadmap", "trade-off", "prioritize", "vision"},
	"creativity":        {"what if", "brainstorm", "prototype", "new idea", "experiment"},
}

var explanatoryConnectives = []string{"because", "so that", "which means", "for example", "in practice"}

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	wordPattern   = regexp.MustCompile(`[a-z0-9][a-z0-9'\-]*`)
)

func init() {
	for i := range leadershipPhrases {
		leadershipPhrases[i].pattern = regexp.MustCompile(`\b` + regexp.QuoteMeta(leadershipPhrases[i].phrase))
	}
}

// KeywordSpeechAnalyzer scores utterances with keyword vocabularies and
// phrase patterns.
type KeywordSpeechAnalyzer struct{}

// NewKeywordSpeechAnalyzer creates the default speech analyzer
func NewKeywordSpeechAnalyzer() *KeywordSpeechAnalyzer {
	return &KeywordSpeechAnalyzer{}
}

// AnalyzeSpeech implements SpeechAnalyzer
func (a *KeywordSpeechAnalyzer) AnalyzeSpeech(chunk SpeechChunk) (SpeechAnalysis, error) {
	text := strings.ToLower(chunk.Text)
	words := wordPattern.FindAllString(text, -1)

	result := SpeechAnalysis{
		SpeakerID:     chunk.SpeakerID,
		Text:          chunk.Text,
		QuestionCount: strings.Count(text, "?"),
	}

	result.TechnicalKeywords = technicalMentions(text)
	result.Complexity = complexityScore(result.TechnicalKeywords, words)
	result.ExplanationClarity = clarityScore(text)

	for _, lp := range leadershipPhrases {
		if lp.pattern.MatchString(text) {
			result.LeadershipPatterns = append(result.LeadershipPatterns, LeadershipPattern{
				Phrase:   lp.phrase,
				Strength: lp.strength,
			})
		}
	}

	categories := make([]string, 0, len(skillCues))
	for category := range skillCues {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		hits := 0
		evidence := ""
		for _, cue := range skillCues[category] {
			if strings.Contains(text, cue) {
				hits++
				if evidence == "" {
					evidence = cue
				}
			}
		}
		if hits == 0 {
			continue
		}
		result.DetectedSkills = append(result.DetectedSkills, DetectedSkill{
			Category:   category,
			Confidence: clamp01(0.5 + 0.15*float64(hits-1)),
			Evidence:   evidence,
		})
	}

	return result, nil
}

// technicalMentions returns every vocabulary hit, repeats included
func technicalMentions(text string) []string {
	var mentions []string
	for _, term := range technicalVocabulary {
		n := strings.Count(text, term)
		for i := 0; i < n; i++ {
			mentions = append(mentions, term)
		}
	}
	return mentions
}

func complexityScore(mentions, words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	distinct := make(map[string]struct{}, len(mentions))
	for _, m := range mentions {
		distinct[m] = struct{}{}
	}
	var letters int
	for _, w := range words {
		letters += len(w)
	}
	avgLen := float64(letters) / float64(len(words))
	return clamp01(0.6*float64(len(distinct))/6 + 0.4*avgLen/7)
}

// clarityScore favours sentences of 8-20 words and explanatory connectives
func clarityScore(text string) float64 {
	var sentences []int
	for _, s := range sentenceSplit.Split(text, -1) {
		if n := len(wordPattern.FindAllString(s, -1)); n > 0 {
			sentences = append(sentences, n)
		}
	}
	if len(sentences) == 0 {
		return 0
	}

	var total float64
	for _, n := range sentences {
		switch {
		case n >= 8 && n <= 20:
			total += 1
		case n < 8:
			total += 0.5 + 0.5*float64(n)/8
		default:
			total += clamp01(1 - float64(n-20)/30)
		}
	}
	score := total / float64(len(sentences)) * 0.8

	for _, c := range explanatoryConnectives {
		if strings.Contains(text, c) {
			score += 0.1
		}
	}
	return clamp01(score)
}
