package stt

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"skillcoach-engine/pkg/config"
	"skillcoach-engine/pkg/metrics"
	"skillcoach-engine/pkg/version"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GoogleRecognizer transcribes recordings with Google Cloud Speech-to-Text
// long-running recognition and speaker diarization
type GoogleRecognizer struct {
	logger      *logrus.Entry
	config      config.GoogleSTTConfig
	language    string
	minSpeakers int
	maxSpeakers int

	mu     sync.RWMutex
	client *speech.Client
}

// NewGoogleRecognizer creates a new Google Speech-to-Text recognizer
func NewGoogleRecognizer(logger *logrus.Logger, cfg config.TranscriptionConfig) *GoogleRecognizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &GoogleRecognizer{
		logger:      logger.WithField("recognizer", "google"),
		config:      cfg.Google,
		language:    cfg.Language,
		minSpeakers: cfg.MinSpeakers,
		maxSpeakers: cfg.MaxSpeakers,
	}
}

// Name returns the recognizer name
func (r *GoogleRecognizer) Name() string {
	return "google"
}

// Initialize creates the Google Speech client
func (r *GoogleRecognizer) Initialize(ctx context.Context) error {
	if !r.config.Enabled {
		r.logger.Info("Google STT is disabled, skipping initialization")
		return nil
	}

	clientOptions := []option.ClientOption{option.WithUserAgent(version.UserAgent())}

	// Use API key if provided, otherwise credentials file, otherwise ADC
	if r.config.APIKey != "" {
		clientOptions = append(clientOptions, option.WithAPIKey(r.config.APIKey))
		r.logger.Debug("Using Google STT API key authentication")
	} else if r.config.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(r.config.CredentialsFile))
		r.logger.WithField("credentials_file", r.config.CredentialsFile).Debug("Using Google STT credentials file")
	}

	client, err := speech.NewClient(ctx, clientOptions...)
	if err != nil {
		r.logger.WithError(err).Error("Failed to create Google Speech client")
		return fmt.Errorf("%w: google speech client: %v", ErrInitializationFailed, err)
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"language":     r.language,
		"sample_rate":  r.config.SampleRate,
		"model":        r.config.Model,
		"min_speakers": r.minSpeakers,
		"max_speakers": r.maxSpeakers,
	}).Info("Google Speech-to-Text client initialized successfully")
	return nil
}

// IsAvailable implements Recognizer
func (r *GoogleRecognizer) IsAvailable(context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Enabled && r.client != nil
}

// RequestPermission implements Recognizer. Credentials were checked when
// the client was created.
func (r *GoogleRecognizer) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

// Close releases the client connection
func (r *GoogleRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// Transcribe implements Recognizer. gs:// references are passed to the
// service, anything else is read from disk.
func (r *GoogleRecognizer) Transcribe(ctx context.Context, audioRef string, partialResults bool) (<-chan Update, error) {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()
	if client == nil {
		return nil, ErrInitializationFailed
	}

	audio, err := recognitionAudio(audioRef)
	if err != nil {
		metrics.RecordSTTRequest(r.Name(), "error")
		return nil, err
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(r.config.SampleRate),
			LanguageCode:               r.language,
			Model:                      r.config.Model,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: true,
			DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
				EnableSpeakerDiarization: true,
				MinSpeakerCount:          int32(r.minSpeakers),
				MaxSpeakerCount:          int32(r.maxSpeakers),
			},
		},
		Audio: audio,
	}

	done := metrics.ObserveSTTLatency(r.Name())
	op, err := client.LongRunningRecognize(ctx, req)
	if err != nil {
		done()
		metrics.RecordSTTRequest(r.Name(), "error")
		return nil, fmt.Errorf("start long running recognition: %w", err)
	}

	logger := r.logger.WithFields(logrus.Fields{
		"audio_ref": audioRef,
		"operation": op.Name(),
	})
	logger.Info("Started Google long running recognition")

	interval := r.config.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ch := make(chan Update)
	go func() {
		defer close(ch)
		defer done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				metrics.RecordSTTRequest(r.Name(), "canceled")
				return
			case <-ticker.C:
			}

			resp, err := op.Poll(ctx)
			if err != nil {
				logger.WithError(err).Error("Google recognition failed")
				metrics.RecordSTTRequest(r.Name(), "error")
				sendUpdate(ctx, ch, Update{Err: err})
				return
			}

			if op.Done() {
				segments := googleSegments(resp)
				logger.WithField("segments", len(segments)).Info("Google recognition completed")
				metrics.RecordSTTRequest(r.Name(), "success")
				sendUpdate(ctx, ch, Update{Segments: segments, IsFinal: true, Progress: 1})
				return
			}

			if !partialResults {
				continue
			}
			meta, err := op.Metadata()
			if err != nil || meta == nil {
				continue
			}
			if !sendUpdate(ctx, ch, Update{Progress: float64(meta.GetProgressPercent()) / 100}) {
				return
			}
		}
	}()
	return ch, nil
}

func recognitionAudio(audioRef string) (*speechpb.RecognitionAudio, error) {
	if strings.HasPrefix(audioRef, "gs://") {
		return &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: audioRef},
		}, nil
	}
	content, err := os.ReadFile(audioRef)
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	return &speechpb.RecognitionAudio{
		AudioSource: &speechpb.RecognitionAudio_Content{Content: content},
	}, nil
}

// googleSegments builds speaker segments from the diarized word list. With
// diarization enabled the last result carries every word with its speaker
// tag; results without words fall back to one unlabelled segment each.
func googleSegments(resp *speechpb.LongRunningRecognizeResponse) []Segment {
	results := resp.GetResults()
	if len(results) == 0 {
		return nil
	}

	last := results[len(results)-1]
	if alts := last.GetAlternatives(); len(alts) > 0 && len(alts[0].GetWords()) > 0 {
		return segmentsFromWords(alts[0].GetWords(), float64(alts[0].GetConfidence()))
	}

	var segments []Segment
	for _, result := range results {
		alts := result.GetAlternatives()
		if len(alts) == 0 || strings.TrimSpace(alts[0].GetTranscript()) == "" {
			continue
		}
		segments = append(segments, Segment{
			SpeakerID:  "speaker_0",
			Text:       strings.TrimSpace(alts[0].GetTranscript()),
			End:        result.GetResultEndTime().AsDuration(),
			Confidence: float64(alts[0].GetConfidence()),
		})
	}
	return segments
}

func segmentsFromWords(words []*speechpb.WordInfo, confidence float64) []Segment {
	var segments []Segment
	for _, w := range words {
		speaker := fmt.Sprintf("speaker_%d", w.GetSpeakerTag())
		start := w.GetStartTime().AsDuration()
		end := w.GetEndTime().AsDuration()
		conf := float64(w.GetConfidence())
		if conf == 0 {
			conf = confidence
		}

		if n := len(segments); n > 0 && segments[n-1].SpeakerID == speaker {
			seg := &segments[n-1]
			seg.Text += " " + w.GetWord()
			seg.End = end
			continue
		}
		segments = append(segments, Segment{
			SpeakerID:  speaker,
			Text:       w.GetWord(),
			Start:      start,
			End:        end,
			Confidence: conf,
		})
	}
	return segments
}
