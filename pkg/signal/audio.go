package signal

import (
	"math"
	"time"
)

const (
	frameDuration     = 10 * time.Millisecond
	silenceRMS        = 0.02
	targetOnsetsPerS  = 4.0
	idealCrossingRate = 0.1
)

// HeuristicAudioAnalyzer derives delivery metrics from frame energy and
// zero-crossing statistics. It keeps no state between chunks.
type HeuristicAudioAnalyzer struct {
	now func() time.Time
}

// NewHeuristicAudioAnalyzer creates the default audio analyzer
func NewHeuristicAudioAnalyzer() *HeuristicAudioAnalyzer {
	return &HeuristicAudioAnalyzer{now: time.Now}
}

// AnalyzeAudio implements AudioAnalyzer
func (a *HeuristicAudioAnalyzer) AnalyzeAudio(chunk AudioChunk) (AudioMetrics, error) {
	frameSize := int(float64(chunk.SampleRate) * frameDuration.Seconds())
	if frameSize < 1 {
		frameSize = 1
	}

	frames := frameRMS(chunk.Samples, frameSize)
	voiced := make([]float64, 0, len(frames))
	silent := 0
	onsets := 0
	prevVoiced := false
	for _, rms := range frames {
		isVoiced := rms >= silenceRMS
		if isVoiced {
			voiced = append(voiced, rms)
			if !prevVoiced {
				onsets++
			}
		} else {
			silent++
		}
		prevVoiced = isVoiced
	}

	metrics := AudioMetrics{Timestamp: a.now()}
	if len(frames) > 0 {
		metrics.PausePattern = float64(silent) / float64(len(frames))
	}

	if len(voiced) > 0 {
		mean, stddev := meanStdDev(voiced)
		metrics.Energy = clamp01(mean * 4)
		if mean > 0 {
			metrics.VolumeStability = clamp01(1 - stddev/mean)
		}
	}

	seconds := float64(len(chunk.Samples)) / float64(chunk.SampleRate)
	if seconds > 0 {
		metrics.SpeakingPace = clamp01(float64(onsets) / seconds / targetOnsetsPerS)
	}

	zcr := zeroCrossingRate(chunk.Samples)
	if len(voiced) > 0 {
		metrics.Clarity = clamp01(1 - math.Abs(zcr-idealCrossingRate)*5)
	}

	metrics.Confidence = clamp01(0.4*metrics.VolumeStability + 0.3*metrics.Energy + 0.3*metrics.Clarity)
	return metrics, nil
}

func frameRMS(samples []float64, frameSize int) []float64 {
	frames := make([]float64, 0, len(samples)/frameSize+1)
	for start := 0; start < len(samples); start += frameSize {
		end := start + frameSize
		if end > len(samples) {
			end = len(samples)
		}
		var sum float64
		for _, v := range samples[start:end] {
			sum += v * v
		}
		frames = append(frames, math.Sqrt(sum/float64(end-start)))
	}
	return frames
}

func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}

func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}
