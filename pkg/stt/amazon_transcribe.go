package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"skillcoach-engine/pkg/config"
	"skillcoach-engine/pkg/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"
)

const (
	amazonChunkSize = 8192
	wavHeaderSize   = 44
)

// AmazonRecognizer streams recordings to Amazon Transcribe with speaker
// labels enabled
type AmazonRecognizer struct {
	logger   *logrus.Entry
	config   config.AmazonSTTConfig
	language string

	mu     sync.RWMutex
	client *transcribestreaming.Client
}

// NewAmazonRecognizer creates a new Amazon Transcribe recognizer
func NewAmazonRecognizer(logger *logrus.Logger, cfg config.TranscriptionConfig) *AmazonRecognizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AmazonRecognizer{
		logger:   logger.WithField("recognizer", "amazon"),
		config:   cfg.Amazon,
		language: cfg.Language,
	}
}

// Name returns the recognizer name
func (r *AmazonRecognizer) Name() string {
	return "amazon"
}

// Initialize loads the AWS configuration and creates the streaming client
func (r *AmazonRecognizer) Initialize(ctx context.Context) error {
	if !r.config.Enabled {
		r.logger.Info("Amazon STT is disabled, skipping initialization")
		return nil
	}

	region := r.config.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	}
	if r.config.AccessKeyID != "" && r.config.SecretAccessKey != "" {
		accessKey, secret := r.config.AccessKeyID, r.config.SecretAccessKey
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     accessKey,
				SecretAccessKey: secret,
			}, nil
		})))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		r.logger.WithError(err).Error("Failed to load AWS configuration")
		return fmt.Errorf("%w: aws configuration: %v", ErrInitializationFailed, err)
	}

	r.mu.Lock()
	r.client = transcribestreaming.NewFromConfig(cfg)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"region":      region,
		"language":    r.language,
		"sample_rate": r.config.SampleRate,
	}).Info("Amazon Transcribe recognizer initialized successfully")
	return nil
}

// IsAvailable implements Recognizer
func (r *AmazonRecognizer) IsAvailable(context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Enabled && r.client != nil
}

// RequestPermission implements Recognizer
func (r *AmazonRecognizer) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

// Transcribe implements Recognizer. The recording must be 16-bit PCM; a
// RIFF header is skipped. Progress is the share of audio bytes sent.
func (r *AmazonRecognizer) Transcribe(ctx context.Context, audioRef string, partialResults bool) (<-chan Update, error) {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()
	if client == nil {
		return nil, ErrInitializationFailed
	}

	audio, err := os.ReadFile(audioRef)
	if err != nil {
		metrics.RecordSTTRequest(r.Name(), "error")
		return nil, fmt.Errorf("read recording: %w", err)
	}
	if len(audio) > wavHeaderSize && bytes.HasPrefix(audio, []byte("RIFF")) {
		audio = audio[wavHeaderSize:]
	}

	done := metrics.ObserveSTTLatency(r.Name())
	resp, err := client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(r.language),
		MediaSampleRateHertz: aws.Int32(int32(r.config.SampleRate)),
		MediaEncoding:        types.MediaEncodingPcm,
		ShowSpeakerLabel:     true,
	})
	if err != nil {
		done()
		metrics.RecordSTTRequest(r.Name(), "error")
		return nil, fmt.Errorf("failed to start transcription stream: %w", err)
	}

	logger := r.logger.WithField("audio_ref", audioRef)
	logger.Info("Starting Amazon Transcribe streaming transcription")

	stream := resp.GetStream()
	streamCtx, cancel := context.WithCancel(ctx)
	total := int64(len(audio))
	var sent atomic.Int64
	sendErr := make(chan error, 1)

	// Audio sender
	go func() {
		defer func() {
			if closeErr := stream.Close(); closeErr != nil {
				logger.WithError(closeErr).Debug("Failed to close stream")
			}
		}()

		reader := bytes.NewReader(audio)
		buffer := make([]byte, amazonChunkSize)
		for {
			if streamCtx.Err() != nil {
				return
			}
			n, readErr := reader.Read(buffer)
			if n > 0 {
				chunk := append([]byte(nil), buffer[:n]...)
				event := &types.AudioStreamMemberAudioEvent{Value: types.AudioEvent{AudioChunk: chunk}}
				if err := stream.Send(streamCtx, event); err != nil {
					sendErr <- err
					return
				}
				sent.Add(int64(n))
			}
			if readErr == io.EOF {
				return
			}
		}
	}()

	ch := make(chan Update)
	go func() {
		defer close(ch)
		defer done()
		defer cancel()

		progress := func() float64 {
			if total == 0 {
				return 0
			}
			return float64(sent.Load()) / float64(total)
		}

		var segments []Segment
		for event := range stream.Events() {
			te, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
			if !ok || te.Value.Transcript == nil {
				continue
			}
			for _, result := range te.Value.Transcript.Results {
				if len(result.Alternatives) == 0 {
					continue
				}
				alt := result.Alternatives[0]
				if result.IsPartial {
					if partialResults && alt.Transcript != nil {
						if !sendUpdate(ctx, ch, Update{PartialText: *alt.Transcript, Progress: progress()}) {
							return
						}
					}
					continue
				}
				segments = appendItemSegments(segments, alt, result.StartTime, result.EndTime)
			}
		}

		select {
		case err := <-sendErr:
			logger.WithError(err).Error("Failed to send audio to Amazon Transcribe")
			metrics.RecordSTTRequest(r.Name(), "error")
			sendUpdate(ctx, ch, Update{Err: err})
			return
		default:
		}
		if err := stream.Err(); err != nil {
			logger.WithError(err).Error("Amazon Transcribe stream error")
			metrics.RecordSTTRequest(r.Name(), "error")
			sendUpdate(ctx, ch, Update{Err: err})
			return
		}
		if ctx.Err() != nil {
			metrics.RecordSTTRequest(r.Name(), "canceled")
			return
		}

		logger.WithField("segments", len(segments)).Info("Amazon Transcribe completed")
		metrics.RecordSTTRequest(r.Name(), "success")
		sendUpdate(ctx, ch, Update{Segments: segments, IsFinal: true, Progress: 1})
	}()
	return ch, nil
}

// appendItemSegments splits a final result into speaker segments using the
// item speaker labels. Punctuation attaches to the preceding word.
func appendItemSegments(segments []Segment, alt types.Alternative, start, end float64) []Segment {
	if len(alt.Items) == 0 {
		if alt.Transcript == nil || strings.TrimSpace(*alt.Transcript) == "" {
			return segments
		}
		return append(segments, Segment{
			SpeakerID: "spk_0",
			Text:      strings.TrimSpace(*alt.Transcript),
			Start:     seconds(start),
			End:       seconds(end),
		})
	}

	var confSum float64
	var confN int
	flush := func(seg *Segment) {
		if confN > 0 {
			seg.Confidence = confSum / float64(confN)
		}
		confSum, confN = 0, 0
	}

	var current *Segment
	for _, item := range alt.Items {
		if item.Content == nil {
			continue
		}
		if item.Type == types.ItemTypePunctuation {
			if current != nil {
				current.Text += *item.Content
			}
			continue
		}

		speaker := "spk_0"
		if item.Speaker != nil {
			speaker = *item.Speaker
		}
		if current == nil || current.SpeakerID != speaker {
			if current != nil {
				flush(current)
				segments = append(segments, *current)
			}
			current = &Segment{SpeakerID: speaker, Text: *item.Content, Start: seconds(item.StartTime)}
		} else {
			current.Text += " " + *item.Content
		}
		current.End = seconds(item.EndTime)
		if item.Confidence != nil {
			confSum += *item.Confidence
			confN++
		}
	}
	if current != nil {
		flush(current)
		segments = append(segments, *current)
	}
	return segments
}
