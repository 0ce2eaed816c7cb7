package drive

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/internal/resilience"
	"github.com/MrWong99/scrivia/pkg/audiosource"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

// Handler processes one newly discovered archive. The returned error marks
// the file's outcome in the processed set; success or failure, the outcome
// is terminal and the file is never offered again. The one exception is
// minutes.ErrTriggerRefused: a refused file stays unmarked and is offered
// again on a later tick.
type Handler func(ctx context.Context, handle minutes.RecordingHandle, source audiosource.Source) error

// Watcher polls the folder and feeds new matching archives to the handler.
// All polling and handling happens on the single goroutine running [Run],
// so at most one tick is ever in flight.
type Watcher struct {
	client    Client
	processed *ProcessedSet
	handler   Handler

	pattern  string
	interval time.Duration
	breaker  *resilience.CircuitBreaker
}

// NewWatcher wires a Watcher. The handler is injected so the pipeline can
// depend on the watcher's package without a cycle.
func NewWatcher(client Client, processed *ProcessedSet, cfg config.DriveConfig, handler Handler) *Watcher {
	return &Watcher{
		client:    client,
		processed: processed,
		handler:   handler,
		pattern:   cfg.FilePattern,
		interval:  time.Duration(cfg.PollIntervalSec) * time.Second,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "drive-list",
			MaxFailures:  3,
			ResetTimeout: 2 * time.Duration(cfg.PollIntervalSec) * time.Second,
		}),
	}
}

// Run polls until ctx is cancelled. It always returns ctx.Err(); listing
// failures are absorbed by the circuit breaker and retried on later ticks.
func (w *Watcher) Run(ctx context.Context) error {
	slog.Info("drive watcher started",
		"pattern", w.pattern,
		"interval", w.interval,
		"known_files", w.processed.Len(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			slog.Info("drive watcher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick lists the folder once and handles every new matching file in order.
func (w *Watcher) tick(ctx context.Context) {
	var files []File
	err := w.breaker.Execute(func() error {
		var err error
		files, err = w.client.List(ctx)
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			slog.Error("drive folder listing failed", "error", err)
		}
		return
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		if ok, _ := path.Match(w.pattern, f.Name); !ok {
			continue
		}
		if w.processed.Contains(f.ID) {
			continue
		}
		w.handleFile(ctx, f)
	}
}

// handleFile downloads one archive and runs the handler. Download failures
// and refused triggers are transient and retried on a later tick; other
// handler outcomes are terminal.
func (w *Watcher) handleFile(ctx context.Context, f File) {
	slog.Info("new recording archive found", "file", f.Name, "file_id", f.ID)

	data, err := w.client.Download(ctx, f.ID)
	if err != nil {
		slog.Error("archive download failed, will retry next tick",
			"file", f.Name, "error",
			minutes.WrapErr(minutes.StageDriveWatch, minutes.ErrDriveWatch, err))
		return
	}

	handle := minutes.RecordingHandle{
		RecordingID: recordingIDFromName(f.Name),
		Trigger:     minutes.TriggerDriveFile,
		DriveFileID: f.ID,
	}

	entry := Entry{ID: f.ID, Name: f.Name, Status: StatusSuccess}
	if err := w.handler(ctx, handle, audiosource.NewArchive(data)); err != nil {
		if errors.Is(err, minutes.ErrTriggerRefused) {
			slog.Info("archive handling refused, will retry next tick",
				"file", f.Name, "recording_id", handle.RecordingID)
			return
		}
		entry.Status = StatusFailure
		entry.Error = err.Error()
		slog.Error("archive handling failed",
			"file", f.Name, "recording_id", handle.RecordingID, "error", err)
	}

	if err := w.processed.Mark(entry); err != nil {
		slog.Error("failed to persist processed set", "file", f.Name, "error", err)
	}
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// recordingIDFromName derives a pseudo recording id from the archive
// filename: the name up to its first extension, reduced to safe characters.
func recordingIDFromName(name string) string {
	base := name
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	id := unsafeIDChars.ReplaceAllString(base, "-")
	id = strings.Trim(id, "-")
	if id == "" {
		return "drive-archive"
	}
	return id
}
