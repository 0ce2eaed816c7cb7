// Package transcriber runs speech recognition over per-speaker audio tracks
// using the whisper.cpp CGO bindings. The whisper.cpp static library
// (libwhisper.a) and headers (whisper.h) must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH environment variables.
//
// The model is loaded once at startup and kept resident. Every inference
// call holds a process-wide accelerator mutex, so concurrent pipelines never
// run the model simultaneously.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

// modelSampleRate is the input rate the recognition model expects.
const modelSampleRate = 16000

// Transcriber transcribes one audio track at a time.
type Transcriber struct {
	model     whisperlib.Model
	decoder   Decoder
	language  string
	vadFilter bool

	// mu is the accelerator mutex. One Transcriber is shared by all
	// pipelines, so holding it serializes inference process-wide.
	mu sync.Mutex

	// infer runs the model over decoded samples. Tests replace it to
	// avoid the CGO dependency.
	infer func(samples []float32) ([]minutes.TranscriptSegment, error)

	closeOnce sync.Once
}

// Option configures a Transcriber.
type Option func(*Transcriber)

// WithDecoder replaces the default ffmpeg decoder.
func WithDecoder(d Decoder) Option {
	return func(t *Transcriber) { t.decoder = d }
}

// New loads the recognition model from cfg.Model and returns a ready
// Transcriber. The caller must call Close when done. Device, compute type,
// and beam size are fixed at whisper.cpp build time; the configured values
// are logged so deployments can be checked against the binary.
func New(cfg config.RecognizerConfig, opts ...Option) (*Transcriber, error) {
	model, err := whisperlib.New(cfg.Model)
	if err != nil {
		return nil, minutes.Errorf(minutes.StageConfig, minutes.ErrConfig,
			"load recognition model %q: %v", cfg.Model, err)
	}

	t := &Transcriber{
		model:     model,
		decoder:   &FFmpegDecoder{},
		language:  cfg.Language,
		vadFilter: cfg.VADFilter,
	}
	t.infer = t.runModel
	for _, o := range opts {
		o(t)
	}

	slog.Info("recognition model loaded",
		"model", cfg.Model,
		"language", cfg.Language,
		"device", cfg.Device,
		"compute_type", cfg.ComputeType,
		"beam_size", cfg.BeamSize,
		"vad_filter", cfg.VADFilter,
	)
	return t, nil
}

// Close releases the model.
func (t *Transcriber) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.model != nil {
			err = t.model.Close()
		}
	})
	return err
}

// Transcribe decodes and transcribes a single track. It acquires the
// accelerator mutex around the inference call and releases it on all exit
// paths. A track with no detectable speech returns an empty transcript
// without touching the accelerator when the VAD filter is enabled.
func (t *Transcriber) Transcribe(ctx context.Context, track minutes.AudioTrack) (minutes.SpeakerTranscript, error) {
	out := minutes.SpeakerTranscript{Speaker: track.Speaker}

	if _, err := os.Stat(track.Path); err != nil {
		return out, minutes.Errorf(minutes.StageTranscription, minutes.ErrTranscription,
			"track %d audio file: %v", track.Speaker.TrackIndex, err)
	}

	samples, err := t.decoder.Decode(ctx, track.Path)
	if err != nil {
		return out, minutes.Errorf(minutes.StageTranscription, minutes.ErrTranscription,
			"decode track %d: %v", track.Speaker.TrackIndex, err)
	}

	if t.vadFilter && !hasSpeech(samples, modelSampleRate) {
		slog.Debug("track contains no speech, skipping inference",
			"track", track.Speaker.TrackIndex,
			"speaker", track.Speaker.DisplayName,
		)
		return out, nil
	}

	start := time.Now()
	t.mu.Lock()
	segments, err := t.infer(samples)
	t.mu.Unlock()
	if err != nil {
		if isOOM(err) {
			return out, minutes.Errorf(minutes.StageTranscription, minutes.ErrAcceleratorOOM,
				"track %d: %v", track.Speaker.TrackIndex, err)
		}
		return out, minutes.Errorf(minutes.StageTranscription, minutes.ErrTranscription,
			"track %d: %v", track.Speaker.TrackIndex, err)
	}

	slog.Debug("track transcribed",
		"track", track.Speaker.TrackIndex,
		"speaker", track.Speaker.DisplayName,
		"segments", len(segments),
		"audio_sec", float64(len(samples))/modelSampleRate,
		"duration", time.Since(start),
	)

	out.Segments = segments
	return out, nil
}

// runModel creates a fresh whisper context and collects all segments. Each
// context is not thread-safe, but the model can be shared; the caller holds
// the accelerator mutex.
func (t *Transcriber) runModel(samples []float32) ([]minutes.TranscriptSegment, error) {
	wctx, err := t.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}

	if err := wctx.SetLanguage(t.language); err != nil {
		slog.Warn("failed to set recognition language, using model default",
			"language", t.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("process audio: %w", err)
	}

	var segments []minutes.TranscriptSegment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		segments = append(segments, minutes.TranscriptSegment{
			StartSec: segment.Start.Seconds(),
			EndSec:   segment.End.Seconds(),
			Text:     text,
		})
	}
	return segments, nil
}

// isOOM recognises accelerator out-of-memory conditions in binding error
// messages.
func isOOM(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "out of memory") ||
		strings.Contains(msg, "oom") ||
		strings.Contains(msg, "cudamalloc") ||
		strings.Contains(msg, "failed to allocate")
}
