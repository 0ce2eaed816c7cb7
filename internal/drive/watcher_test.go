package drive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/pkg/audiosource"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

// fakeClient is an in-memory Client.
type fakeClient struct {
	mu        sync.Mutex
	files     []File
	content   map[string][]byte
	listErr   error
	dlErr     error
	listCalls int
}

func (c *fakeClient) List(context.Context) ([]File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.files, nil
}

func (c *fakeClient) Download(_ context.Context, id string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dlErr != nil {
		return nil, c.dlErr
	}
	return c.content[id], nil
}

func archiveBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("1-alice.aac")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte("audio")); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

type handled struct {
	handle minutes.RecordingHandle
	source audiosource.Source
}

func newTestWatcher(t *testing.T, client Client, handler Handler) (*Watcher, *ProcessedSet) {
	t.Helper()
	processed, err := LoadProcessedSet(setPath(t))
	if err != nil {
		t.Fatalf("load processed set: %v", err)
	}
	cfg := config.DriveConfig{FilePattern: "craig-*.zip", PollIntervalSec: 30}
	return NewWatcher(client, processed, cfg, handler), processed
}

func TestWatcher_TickHandlesNewFiles(t *testing.T) {
	client := &fakeClient{
		files: []File{
			{ID: "f1", Name: "craig-session1.aac.zip"},
			{ID: "f2", Name: "notes.txt"},
		},
		content: map[string][]byte{"f1": archiveBytes(t)},
	}

	var got []handled
	w, processed := newTestWatcher(t, client, func(_ context.Context, h minutes.RecordingHandle, s audiosource.Source) error {
		got = append(got, handled{handle: h, source: s})
		return nil
	})

	w.tick(context.Background())

	if len(got) != 1 {
		t.Fatalf("handled %d files, want 1", len(got))
	}
	h := got[0].handle
	if h.Trigger != minutes.TriggerDriveFile || h.DriveFileID != "f1" {
		t.Errorf("handle = %+v", h)
	}
	if h.RecordingID != "craig-session1" {
		t.Errorf("recording id = %q, want craig-session1", h.RecordingID)
	}

	speakers, err := got[0].source.ListSpeakers(context.Background())
	if err != nil || len(speakers) != 1 || speakers[0].DisplayName != "alice" {
		t.Errorf("source speakers = %+v, err=%v", speakers, err)
	}

	if !processed.Contains("f1") {
		t.Error("successful file not marked before next tick")
	}
	if processed.Contains("f2") {
		t.Error("non-matching file must not be marked")
	}
}

func TestWatcher_TerminalFailureIsMarked(t *testing.T) {
	client := &fakeClient{
		files:   []File{{ID: "f1", Name: "craig-bad.zip"}},
		content: map[string][]byte{"f1": archiveBytes(t)},
	}

	w, processed := newTestWatcher(t, client, func(context.Context, minutes.RecordingHandle, audiosource.Source) error {
		return errors.New("pipeline died")
	})

	w.tick(context.Background())

	if !processed.Contains("f1") {
		t.Fatal("terminally failed file must be marked to prevent reprocessing loops")
	}
}

func TestWatcher_RefusedFileRetriesNextTick(t *testing.T) {
	client := &fakeClient{
		files:   []File{{ID: "f1", Name: "craig-a.zip"}},
		content: map[string][]byte{"f1": archiveBytes(t)},
	}

	calls := 0
	w, processed := newTestWatcher(t, client, func(context.Context, minutes.RecordingHandle, audiosource.Source) error {
		calls++
		if calls == 1 {
			return minutes.ErrTriggerRefused
		}
		return nil
	})

	w.tick(context.Background())
	if processed.Contains("f1") {
		t.Fatal("refused file must not be marked as handled")
	}

	w.tick(context.Background())
	if calls != 2 {
		t.Errorf("handler calls = %d, want the file offered again", calls)
	}
	if !processed.Contains("f1") {
		t.Error("file must be marked once the handler accepts it")
	}
}

func TestWatcher_ProcessedFilesAreSkipped(t *testing.T) {
	client := &fakeClient{
		files:   []File{{ID: "f1", Name: "craig-a.zip"}},
		content: map[string][]byte{"f1": archiveBytes(t)},
	}

	calls := 0
	w, _ := newTestWatcher(t, client, func(context.Context, minutes.RecordingHandle, audiosource.Source) error {
		calls++
		return nil
	})

	w.tick(context.Background())
	w.tick(context.Background())

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestWatcher_DownloadFailureRetriesNextTick(t *testing.T) {
	client := &fakeClient{
		files:   []File{{ID: "f1", Name: "craig-a.zip"}},
		content: map[string][]byte{"f1": archiveBytes(t)},
		dlErr:   errors.New("network blip"),
	}

	calls := 0
	w, processed := newTestWatcher(t, client, func(context.Context, minutes.RecordingHandle, audiosource.Source) error {
		calls++
		return nil
	})

	w.tick(context.Background())
	if calls != 0 {
		t.Fatal("handler must not run when the download fails")
	}
	if processed.Contains("f1") {
		t.Fatal("transient download failure must not be marked terminal")
	}

	client.mu.Lock()
	client.dlErr = nil
	client.mu.Unlock()

	w.tick(context.Background())
	if calls != 1 || !processed.Contains("f1") {
		t.Errorf("calls=%d processed=%v after recovery", calls, processed.Contains("f1"))
	}
}

func TestWatcher_ListFailuresTripBreaker(t *testing.T) {
	client := &fakeClient{listErr: errors.New("api down")}
	w, _ := newTestWatcher(t, client, func(context.Context, minutes.RecordingHandle, audiosource.Source) error {
		return nil
	})

	for i := 0; i < 5; i++ {
		w.tick(context.Background())
	}

	client.mu.Lock()
	calls := client.listCalls
	client.mu.Unlock()
	if calls >= 5 {
		t.Errorf("list calls = %d, expected the breaker to short-circuit some ticks", calls)
	}
}

func TestRecordingIDFromName(t *testing.T) {
	tests := map[string]string{
		"craig-session1.aac.zip": "craig-session1",
		"team sync (aug).zip":    "team-sync-aug",
		"....zip":                "drive-archive",
		"plain":                  "plain",
	}
	for in, want := range tests {
		if got := recordingIDFromName(in); got != want {
			t.Errorf("recordingIDFromName(%q) = %q, want %q", in, got, want)
		}
	}
}
