package postsession

import (
	"strings"

	"skillcoach-engine/pkg/stt"
)

// GroupSegments merges recognized fragments into speaker turns. A new
// segment starts whenever the speaker changes; consecutive fragments of the
// same speaker are joined with a single space. A merged segment's
// confidence is the mean of its fragments.
func GroupSegments(raw []stt.Segment) ConversationTranscript {
	var (
		segments []ConversationSegment
		confSum  float64
		confN    int
	)
	closeLast := func() {
		if n := len(segments); n > 0 && confN > 0 {
			segments[n-1].Confidence = confSum / float64(confN)
		}
		confSum, confN = 0, 0
	}

	for _, fragment := range raw {
		text := strings.TrimSpace(fragment.Text)
		if text == "" {
			continue
		}

		if n := len(segments); n > 0 && segments[n-1].SpeakerID == fragment.SpeakerID {
			last := &segments[n-1]
			last.Text += " " + text
			if fragment.End > last.End {
				last.End = fragment.End
			}
		} else {
			closeLast()
			segments = append(segments, ConversationSegment{
				SpeakerID: fragment.SpeakerID,
				Text:      text,
				Start:     fragment.Start,
				End:       fragment.End,
			})
		}
		confSum += fragment.Confidence
		confN++
	}
	closeLast()

	t := ConversationTranscript{Segments: segments}
	if len(segments) == 0 {
		t.Segments = []ConversationSegment{}
		return t
	}

	texts := make([]string, len(segments))
	var total float64
	for i, s := range segments {
		texts[i] = s.Text
		total += s.Confidence
		if s.End > t.Duration {
			t.Duration = s.End
		}
	}
	t.FullText = strings.Join(texts, " ")
	t.Confidence = total / float64(len(segments))
	return t
}

// ResolveSpeakers rewrites recognizer speaker labels to participant ids.
// Labels missing from the map are kept as they are. raw is not modified.
func ResolveSpeakers(raw []stt.Segment, labels map[string]string) []stt.Segment {
	if len(labels) == 0 {
		return raw
	}
	out := make([]stt.Segment, len(raw))
	for i, s := range raw {
		if id, ok := labels[s.SpeakerID]; ok && id != "" {
			s.SpeakerID = id
		}
		out[i] = s
	}
	return out
}
