package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/scrivia/pkg/minutes"
)

// fakeDecoder returns canned samples without running ffmpeg.
type fakeDecoder struct {
	samples []float32
	err     error
}

func (d *fakeDecoder) Decode(context.Context, string) ([]float32, error) {
	return d.samples, d.err
}

// loudSamples produces a signal well above the silence threshold.
func loudSamples(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		if i%2 == 0 {
			s[i] = 0.5
		} else {
			s[i] = -0.5
		}
	}
	return s
}

func audioFile(t *testing.T) minutes.AudioTrack {
	t.Helper()
	path := filepath.Join(t.TempDir(), "1-alice.wav")
	if err := os.WriteFile(path, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write audio file: %v", err)
	}
	return minutes.AudioTrack{
		Speaker: minutes.SpeakerInfo{TrackIndex: 1, DisplayName: "alice"},
		Path:    path,
	}
}

func testTranscriber(dec Decoder, infer func([]float32) ([]minutes.TranscriptSegment, error)) *Transcriber {
	tr := &Transcriber{decoder: dec, language: "en"}
	tr.infer = infer
	return tr
}

func TestTranscribe_ReturnsSegments(t *testing.T) {
	want := []minutes.TranscriptSegment{
		{StartSec: 0.5, EndSec: 2.0, Text: "hello there"},
	}
	tr := testTranscriber(&fakeDecoder{samples: loudSamples(16000)},
		func([]float32) ([]minutes.TranscriptSegment, error) { return want, nil })

	got, err := tr.Transcribe(context.Background(), audioFile(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got.Speaker.DisplayName != "alice" {
		t.Errorf("speaker = %+v", got.Speaker)
	}
	if len(got.Segments) != 1 || got.Segments[0] != want[0] {
		t.Errorf("segments = %+v, want %+v", got.Segments, want)
	}
}

func TestTranscribe_MissingFile(t *testing.T) {
	tr := testTranscriber(&fakeDecoder{}, nil)
	track := minutes.AudioTrack{
		Speaker: minutes.SpeakerInfo{TrackIndex: 1, DisplayName: "ghost"},
		Path:    filepath.Join(t.TempDir(), "absent.wav"),
	}

	_, err := tr.Transcribe(context.Background(), track)
	if !errors.Is(err, minutes.ErrTranscription) {
		t.Fatalf("expected transcription failure, got %v", err)
	}
	if errors.Is(err, minutes.ErrAcceleratorOOM) {
		t.Error("missing file must not be classified as OOM")
	}
}

func TestTranscribe_DecoderFailure(t *testing.T) {
	tr := testTranscriber(&fakeDecoder{err: errors.New("ffmpeg exploded")}, nil)

	_, err := tr.Transcribe(context.Background(), audioFile(t))
	if !errors.Is(err, minutes.ErrTranscription) {
		t.Fatalf("expected transcription failure, got %v", err)
	}
}

func TestTranscribe_OOMClassification(t *testing.T) {
	messages := []string{
		"CUDA error: out of memory",
		"ggml_cuda: cudaMalloc failed",
		"backend OOM during encode",
	}
	for _, msg := range messages {
		t.Run(msg, func(t *testing.T) {
			tr := testTranscriber(&fakeDecoder{samples: loudSamples(16000)},
				func([]float32) ([]minutes.TranscriptSegment, error) {
					return nil, fmt.Errorf("%s", msg)
				})

			_, err := tr.Transcribe(context.Background(), audioFile(t))
			if !errors.Is(err, minutes.ErrAcceleratorOOM) {
				t.Fatalf("expected OOM classification, got %v", err)
			}
			if !errors.Is(err, minutes.ErrTranscription) {
				t.Error("OOM must remain a transcription failure subkind")
			}
			if minutes.StageOf(err) != minutes.StageTranscription {
				t.Errorf("stage = %s", minutes.StageOf(err))
			}
		})
	}
}

func TestTranscribe_VADSkipsSilentTrack(t *testing.T) {
	inferCalled := false
	tr := testTranscriber(&fakeDecoder{samples: make([]float32, 32000)},
		func([]float32) ([]minutes.TranscriptSegment, error) {
			inferCalled = true
			return nil, nil
		})
	tr.vadFilter = true

	got, err := tr.Transcribe(context.Background(), audioFile(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if inferCalled {
		t.Error("silent track must not reach the model")
	}
	if len(got.Segments) != 0 {
		t.Errorf("segments = %+v, want none", got.Segments)
	}
}

func TestTranscribe_AcceleratorMutexIsExclusive(t *testing.T) {
	var inModel atomic.Int32
	tr := testTranscriber(&fakeDecoder{samples: loudSamples(16000)},
		func([]float32) ([]minutes.TranscriptSegment, error) {
			if inModel.Add(1) > 1 {
				t.Error("two inference calls in the model at once")
			}
			time.Sleep(2 * time.Millisecond)
			inModel.Add(-1)
			return nil, nil
		})

	track := audioFile(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.Transcribe(context.Background(), track); err != nil {
				t.Errorf("transcribe: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestPCMToFloat32(t *testing.T) {
	// 0x7FFF is full scale positive, 0x8000 full scale negative.
	pcm := []byte{0xFF, 0x7F, 0x00, 0x80, 0x00, 0x00}
	samples := pcmToFloat32(pcm)
	if len(samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(samples))
	}
	if samples[0] < 0.99 || samples[1] > -0.99 || samples[2] != 0 {
		t.Errorf("samples = %v", samples)
	}
}

func TestHasSpeech(t *testing.T) {
	if hasSpeech(make([]float32, 48000), modelSampleRate) {
		t.Error("all-zero signal reported as speech")
	}
	if !hasSpeech(loudSamples(48000), modelSampleRate) {
		t.Error("loud signal reported as silence")
	}

	// Speech in the last window only.
	mixed := make([]float32, 48000)
	copy(mixed[32000:], loudSamples(16000))
	if !hasSpeech(mixed, modelSampleRate) {
		t.Error("trailing speech missed")
	}
}
