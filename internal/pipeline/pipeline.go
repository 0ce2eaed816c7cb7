// Package pipeline orchestrates one recording's journey from trigger to
// published minutes: acquire, transcribe, merge, generate, post. The
// orchestrator owns the per-invocation temp root, the per-process active
// recording set, and the error boundary around every stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/scrivia/internal/discord"
	"github.com/MrWong99/scrivia/internal/observe"
	"github.com/MrWong99/scrivia/pkg/audiosource"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

// emptyTranscript is handed to the generator when every track came back
// silent, so the minutes file states the outcome instead of failing the run.
const emptyTranscript = "(no speech detected)"

// Transcriber converts one extracted audio track into timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, track minutes.AudioTrack) (minutes.SpeakerTranscript, error)
}

// Merger interleaves per-speaker transcripts into one chronological text.
type Merger interface {
	Merge(transcripts []minutes.SpeakerTranscript) (string, error)
}

// Generator turns the merged transcript into structured minutes markdown.
type Generator interface {
	Generate(ctx context.Context, transcript string) (string, error)
}

// SourceFactory builds an audio source for panel and manual triggers.
// Drive-sourced recordings carry their own source from the watcher.
type SourceFactory func(handle minutes.RecordingHandle) audiosource.Source

// Deps holds the orchestrator's collaborators.
type Deps struct {
	Transcriber Transcriber
	Merger      Merger
	Generator   Generator
	Publisher   *discord.Publisher
	Metrics     *observe.Metrics
	NewSource   SourceFactory
}

// Pipeline runs recordings through the stage sequence. Safe for concurrent
// use; runs for distinct recording ids may interleave freely while the
// transcriber's accelerator mutex serialises the heavy stage.
type Pipeline struct {
	deps Deps

	mu        sync.Mutex
	active    map[string]struct{}
	accepting bool
	wg        sync.WaitGroup
}

// New creates a Pipeline. A nil Metrics falls back to the process-wide
// default instruments.
func New(deps Deps) *Pipeline {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Pipeline{
		deps:      deps,
		active:    make(map[string]struct{}),
		accepting: true,
	}
}

// Start launches a detached run for a panel or manual trigger. It reports
// whether the run was accepted: duplicates of an active recording id and
// starts during shutdown are refused.
func (p *Pipeline) Start(handle minutes.RecordingHandle) bool {
	if !p.tryAcquire(handle.RecordingID) {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(handle.RecordingID)
		p.run(context.Background(), handle, p.deps.NewSource(handle))
	}()
	return true
}

// HandleDriveFile runs the pipeline for a watcher-discovered archive and
// returns its terminal outcome for the processed set. A refused trigger
// (duplicate recording id, or shutdown in progress) returns
// minutes.ErrTriggerRefused so the caller can offer the file again later.
// Matches drive.Handler.
func (p *Pipeline) HandleDriveFile(ctx context.Context, handle minutes.RecordingHandle, source audiosource.Source) error {
	if !p.tryAcquire(handle.RecordingID) {
		return minutes.ErrTriggerRefused
	}
	defer p.release(handle.RecordingID)

	res := p.run(ctx, handle, source)
	p.deps.Metrics.RecordDriveFile(ctx, outcome(res.Err))
	return res.Err
}

// Shutdown refuses new runs and waits for in-flight ones up to ctx's
// deadline.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline: shutdown grace period expired: %w", ctx.Err())
	}
}

// tryAcquire claims the recording id for one run.
func (p *Pipeline) tryAcquire(recordingID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.accepting {
		slog.Info("pipeline shutting down, trigger refused", "recording_id", recordingID)
		return false
	}
	if _, ok := p.active[recordingID]; ok {
		slog.Info("duplicate trigger; ignored", "recording_id", recordingID)
		return false
	}
	p.active[recordingID] = struct{}{}
	return true
}

func (p *Pipeline) release(recordingID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, recordingID)
}

// run executes the stage sequence for one acquired recording id. It never
// propagates an error: failures are logged, posted as an error embed, and
// recorded in the returned Result.
func (p *Pipeline) run(ctx context.Context, handle minutes.RecordingHandle, source audiosource.Source) minutes.Result {
	start := time.Now()
	met := p.deps.Metrics
	met.ActivePipelines.Add(ctx, 1)
	defer met.ActivePipelines.Add(ctx, -1)

	res := minutes.Result{
		RecordingID:    handle.RecordingID,
		StageDurations: make(map[minutes.Stage]time.Duration),
	}
	status := p.deps.Publisher.NewStatusLine(handle.RecordingID)

	slog.Info("pipeline started",
		"recording_id", handle.RecordingID,
		"trigger", handle.Trigger,
	)

	tmpDir, err := os.MkdirTemp("", "minutes-"+handle.RecordingID+"-")
	if err != nil {
		return p.fail(ctx, &res, status, handle,
			minutes.WrapErr(minutes.StageAcquisition, minutes.ErrAcquisition, err))
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			slog.Warn("temp root cleanup failed", "dir", tmpDir, "error", err)
		}
	}()

	// Acquire.
	status.Downloading()
	stageStart := time.Now()
	tracks, err := source.Fetch(ctx, tmpDir)
	if err != nil {
		return p.fail(ctx, &res, status, handle,
			ensureStage(minutes.StageAcquisition, minutes.ErrAcquisition, err))
	}
	p.recordStage(ctx, &res, minutes.StageAcquisition, time.Since(stageStart))
	res.SpeakerCount = len(tracks)

	slices.SortFunc(tracks, func(a, b minutes.AudioTrack) int {
		return int(a.Speaker.TrackIndex) - int(b.Speaker.TrackIndex)
	})

	// Transcribe, strictly in ascending track order.
	stageStart = time.Now()
	transcripts := make([]minutes.SpeakerTranscript, 0, len(tracks))
	for i, track := range tracks {
		status.Transcribing(i+1, len(tracks), track.Speaker.DisplayName)
		trackStart := time.Now()
		tr, err := p.deps.Transcriber.Transcribe(ctx, track)
		if err != nil {
			return p.fail(ctx, &res, status, handle,
				ensureStage(minutes.StageTranscription, minutes.ErrTranscription, err))
		}
		met.TranscriptionDuration.Record(ctx, time.Since(trackStart).Seconds())
		transcripts = append(transcripts, tr)
	}
	p.recordStage(ctx, &res, minutes.StageTranscription, time.Since(stageStart))

	// Merge.
	stageStart = time.Now()
	transcript, err := p.deps.Merger.Merge(transcripts)
	if err != nil {
		return p.fail(ctx, &res, status, handle,
			ensureStage(minutes.StageMerge, minutes.ErrMerge, err))
	}
	if strings.TrimSpace(transcript) == "" {
		slog.Info("all tracks silent", "recording_id", handle.RecordingID)
		transcript = emptyTranscript
	}
	p.recordStage(ctx, &res, minutes.StageMerge, time.Since(stageStart))
	res.TotalAudioSeconds = audioSeconds(ctx, source, transcripts)
	met.TranscribedAudio.Add(ctx, res.TotalAudioSeconds)

	// Generate.
	status.Generating()
	stageStart = time.Now()
	markdown, err := p.deps.Generator.Generate(ctx, transcript)
	if err != nil {
		return p.fail(ctx, &res, status, handle,
			ensureStage(minutes.StageGeneration, minutes.ErrGeneration, err))
	}
	p.recordStage(ctx, &res, minutes.StageGeneration, time.Since(stageStart))

	// Post.
	status.Posting()
	stageStart = time.Now()
	msg, err := p.deps.Publisher.PostMinutes(ctx, discord.MinutesPost{
		RecordingID: handle.RecordingID,
		Markdown:    markdown,
		Transcript:  transcript,
		Speakers:    speakersOf(tracks),
		Duration:    time.Duration(res.TotalAudioSeconds * float64(time.Second)),
		When:        time.Now(),
	})
	if err != nil {
		return p.fail(ctx, &res, status, handle, err)
	}
	p.recordStage(ctx, &res, minutes.StagePublish, time.Since(stageStart))
	if id, parseErr := strconv.ParseUint(msg.ID, 10, 64); parseErr == nil {
		res.PostedMessageIDs = append(res.PostedMessageIDs, id)
	}

	elapsed := time.Since(start)
	status.Complete(elapsed)
	met.RecordPipeline(ctx, handle.Trigger, "success")
	slog.Info("pipeline complete",
		"recording_id", handle.RecordingID,
		"speakers", res.SpeakerCount,
		"elapsed", elapsed,
	)
	return res
}

// fail finishes a run on its first stage error: log, error embed, status
// line, metrics. The temp root is released by run's defer.
func (p *Pipeline) fail(ctx context.Context, res *minutes.Result, status *discord.StatusLine, handle minutes.RecordingHandle, err error) minutes.Result {
	res.FailedStage = minutes.StageOf(err)
	res.Err = err

	slog.Error("pipeline failed",
		"recording_id", handle.RecordingID,
		"stage", res.FailedStage,
		"error", err,
	)
	p.deps.Publisher.PostError(handle, err)
	status.Failed(res.FailedStage)

	p.deps.Metrics.RecordStageFailure(ctx, res.FailedStage)
	p.deps.Metrics.RecordPipeline(ctx, handle.Trigger, "failure")
	return *res
}

func (p *Pipeline) recordStage(ctx context.Context, res *minutes.Result, stage minutes.Stage, d time.Duration) {
	res.StageDurations[stage] = d
	p.deps.Metrics.RecordStage(ctx, stage, d)
}

// ensureStage tags err with a stage and kind unless a stage tag is already
// present from the failing component.
func ensureStage(stage minutes.Stage, kind, err error) error {
	var se *minutes.Error
	if errors.As(err, &se) {
		return err
	}
	return minutes.WrapErr(stage, kind, err)
}

// audioSeconds reports the recording length: the source's own duration
// endpoint when it has one, otherwise the latest segment end seen.
func audioSeconds(ctx context.Context, source audiosource.Source, transcripts []minutes.SpeakerTranscript) float64 {
	if d, ok := source.(interface {
		Duration(ctx context.Context) (float64, error)
	}); ok {
		if secs, err := d.Duration(ctx); err == nil && secs > 0 {
			return secs
		}
	}

	var latest float64
	for _, tr := range transcripts {
		for _, seg := range tr.Segments {
			if seg.EndSec > latest {
				latest = seg.EndSec
			}
		}
	}
	return latest
}

func speakersOf(tracks []minutes.AudioTrack) []minutes.SpeakerInfo {
	speakers := make([]minutes.SpeakerInfo, len(tracks))
	for i, t := range tracks {
		speakers[i] = t.Speaker
	}
	return speakers
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
