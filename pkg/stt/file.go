package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"skillcoach-engine/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// SegmentFile is the on-disk form of an already recognized recording.
// Times are in seconds.
type SegmentFile struct {
	Segments []fileSegment `json:"segments"`
}

type fileSegment struct {
	SpeakerID  string  `json:"speaker_id"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// ReadSegments decodes a segment file
func ReadSegments(r io.Reader) ([]Segment, error) {
	var file SegmentFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode segment file: %w", err)
	}

	segments := make([]Segment, 0, len(file.Segments))
	for i, s := range file.Segments {
		if s.End < s.Start {
			return nil, fmt.Errorf("segment %d ends before it starts", i)
		}
		segments = append(segments, Segment{
			SpeakerID:  s.SpeakerID,
			Text:       s.Text,
			Start:      seconds(s.Start),
			End:        seconds(s.End),
			Confidence: s.Confidence,
		})
	}
	return segments, nil
}

// ReadSegmentFile opens and decodes a segment file
func ReadSegmentFile(path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSegments(f)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// FileRecognizer serves recognition results stored next to the recording
// as <recording>.json, for deployments where the embedding system already
// ran recognition.
type FileRecognizer struct {
	logger *logrus.Entry
}

// NewFileRecognizer creates a segment-file recognizer
func NewFileRecognizer(logger *logrus.Logger) *FileRecognizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FileRecognizer{logger: logger.WithField("recognizer", "file")}
}

// Name returns the recognizer name
func (r *FileRecognizer) Name() string {
	return "file"
}

// IsAvailable implements Recognizer
func (r *FileRecognizer) IsAvailable(context.Context) bool {
	return true
}

// RequestPermission implements Recognizer
func (r *FileRecognizer) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

// SegmentPath returns the segment file for a recording reference
func SegmentPath(audioRef string) string {
	if strings.EqualFold(filepath.Ext(audioRef), ".json") {
		return audioRef
	}
	return strings.TrimSuffix(audioRef, filepath.Ext(audioRef)) + ".json"
}

// Transcribe implements Recognizer
func (r *FileRecognizer) Transcribe(ctx context.Context, audioRef string, partialResults bool) (<-chan Update, error) {
	done := metrics.ObserveSTTLatency(r.Name())
	path := SegmentPath(audioRef)
	segments, err := ReadSegmentFile(path)
	if err != nil {
		done()
		metrics.RecordSTTRequest(r.Name(), "error")
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"path":     path,
		"segments": len(segments),
	}).Debug("Loaded recognized segments")

	ch := make(chan Update)
	go func() {
		defer close(ch)
		defer done()
		if partialResults {
			for i, seg := range segments {
				u := Update{PartialText: seg.Text, Progress: float64(i+1) / float64(len(segments)+1)}
				if !sendUpdate(ctx, ch, u) {
					metrics.RecordSTTRequest(r.Name(), "canceled")
					return
				}
			}
		}
		if sendUpdate(ctx, ch, Update{Segments: segments, IsFinal: true, Progress: 1}) {
			metrics.RecordSTTRequest(r.Name(), "success")
		} else {
			metrics.RecordSTTRequest(r.Name(), "canceled")
		}
	}()
	return ch, nil
}
