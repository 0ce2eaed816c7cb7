package craig

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

func testHandle() minutes.RecordingHandle {
	return minutes.RecordingHandle{
		RecordingID: "rec1",
		AccessKey:   "key1",
		Domain:      "craig.chat",
		Trigger:     minutes.TriggerPanelEdit,
	}
}

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := New(testHandle(), config.SourceConfig{
		Format:             "aac",
		Container:          "zip",
		DownloadTimeoutSec: 5,
		MaxRetries:         2,
	})
	c.baseURL = srv.URL
	c.pollInterval = 5 * time.Millisecond
	c.retryBaseDelay = time.Millisecond
	return c
}

func trackZip(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := w.Write([]byte("audio")); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// cookServer simulates the job API: POST starts the job, GET reports
// "processing" for pollsUntilDone polls and then "complete".
type cookServer struct {
	t             *testing.T
	pollsUntilDone int32
	polls          atomic.Int32
	jobStarted     atomic.Bool
	dlCalls        atomic.Int32
	dlFailures     int32
	archive        []byte
	users          string
}

func (s *cookServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/recordings/rec1/job", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "key1" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if r.Method == http.MethodPost {
			s.jobStarted.Store(true)
			w.WriteHeader(http.StatusCreated)
			return
		}
		status := "processing"
		name := ""
		if s.polls.Add(1) > s.pollsUntilDone {
			status, name = "complete", "rec1.aac.zip"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"job": map[string]any{"status": status, "outputFileName": name},
		})
	})
	mux.HandleFunc("/api/v1/recordings/rec1/users", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(s.users))
	})
	mux.HandleFunc("/dl/rec1.aac.zip", func(w http.ResponseWriter, r *http.Request) {
		if s.dlCalls.Add(1) <= s.dlFailures {
			http.Error(w, "cooking hiccup", http.StatusBadGateway)
			return
		}
		w.Write(s.archive)
	})
	return mux
}

func TestFetch_FullCookFlow(t *testing.T) {
	cs := &cookServer{
		t:              t,
		pollsUntilDone: 2,
		archive:        trackZip(t, "1-alice.aac", "2-bob.aac"),
		users:          `{"users":[{"id":"100","username":"alice","track":1},{"id":"200","username":"bob","track":2}]}`,
	}
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	c := testClient(t, srv)
	dir := t.TempDir()

	tracks, err := c.Fetch(t.Context(), dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !cs.jobStarted.Load() {
		t.Error("cook job was never started")
	}
	if len(tracks) != 2 {
		t.Fatalf("tracks = %d, want 2", len(tracks))
	}
	for _, tr := range tracks {
		if tr.Speaker.UserID == 0 {
			t.Errorf("track %d missing user id from speaker list", tr.Speaker.TrackIndex)
		}
	}
}

func TestFetch_DownloadRetriesOn5xx(t *testing.T) {
	cs := &cookServer{
		t:          t,
		dlFailures: 2,
		archive:    trackZip(t, "1-alice.aac"),
		users:      `{"users":[]}`,
	}
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	c := testClient(t, srv)
	tracks, err := c.Fetch(t.Context(), t.TempDir())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(tracks) != 1 {
		t.Errorf("tracks = %d, want 1", len(tracks))
	}
	if got := cs.dlCalls.Load(); got != 3 {
		t.Errorf("download calls = %d, want 3 (2 failures + success)", got)
	}
}

func TestFetch_SlowDownloadNotCutByAPITimeout(t *testing.T) {
	cs := &cookServer{
		t:       t,
		archive: trackZip(t, "1-alice.aac"),
		users:   `{"users":[]}`,
	}
	base := cs.handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/dl/") {
			time.Sleep(80 * time.Millisecond)
		}
		base.ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	// The per-request bound applies to job API calls only; a download that
	// outlives it must still complete under the download deadline.
	c.apiTimeout = 20 * time.Millisecond

	tracks, err := c.Fetch(t.Context(), t.TempDir())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(tracks) != 1 {
		t.Errorf("tracks = %d, want 1", len(tracks))
	}
}

func TestFetch_HungPollBoundedPerRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			return
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := testClient(t, srv)
	c.apiTimeout = 10 * time.Millisecond
	c.downloadTimeout = 100 * time.Millisecond

	start := time.Now()
	_, err := c.Fetch(t.Context(), t.TempDir())
	if !errors.Is(err, minutes.ErrAcquisitionTimeout) {
		t.Fatalf("expected acquisition timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("fetch took %v, hung polls were not bounded per request", elapsed)
	}
}

func TestDownloadArchive_NoRetryOn404(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.downloadArchive(t.Context(), srv.URL+"/dl/x")
	if !errors.Is(err, minutes.ErrAcquisition) {
		t.Fatalf("expected acquisition failure, got %v", err)
	}
	if errors.Is(err, minutes.ErrAcquisitionTimeout) {
		t.Error("404 must not be classified as a timeout")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 404)", got)
	}
}

func TestFetch_PollTimeout(t *testing.T) {
	// Job never completes.
	cs := &cookServer{t: t, pollsUntilDone: 1 << 30, users: `{"users":[]}`}
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	c := testClient(t, srv)
	c.downloadTimeout = 30 * time.Millisecond

	_, err := c.Fetch(t.Context(), t.TempDir())
	if !errors.Is(err, minutes.ErrAcquisitionTimeout) {
		t.Fatalf("expected acquisition timeout, got %v", err)
	}
}

func TestFetch_JobFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.Write([]byte(`{"job":{"status":"error"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.Fetch(t.Context(), t.TempDir())
	if !errors.Is(err, minutes.ErrAcquisition) || errors.Is(err, minutes.ErrAcquisitionTimeout) {
		t.Fatalf("expected plain acquisition failure, got %v", err)
	}
}

func TestListSpeakers(t *testing.T) {
	t.Run("maps users with explicit tracks", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"users":[{"id":"42","username":"alice","track":3}]}`))
		}))
		defer srv.Close()

		c := testClient(t, srv)
		speakers, err := c.ListSpeakers(t.Context())
		if err != nil {
			t.Fatalf("list speakers: %v", err)
		}
		want := minutes.SpeakerInfo{TrackIndex: 3, DisplayName: "alice", UserID: 42}
		if len(speakers) != 1 || speakers[0] != want {
			t.Errorf("speakers = %+v, want [%+v]", speakers, want)
		}
	})

	t.Run("positions fill in missing tracks", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"users":[{"id":"1","username":"a"},{"id":"2","username":"b"}]}`))
		}))
		defer srv.Close()

		c := testClient(t, srv)
		speakers, err := c.ListSpeakers(t.Context())
		if err != nil {
			t.Fatalf("list speakers: %v", err)
		}
		if speakers[0].TrackIndex != 1 || speakers[1].TrackIndex != 2 {
			t.Errorf("track indexes = %d, %d", speakers[0].TrackIndex, speakers[1].TrackIndex)
		}
	})

	t.Run("server error fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusForbidden)
		}))
		defer srv.Close()

		c := testClient(t, srv)
		if _, err := c.ListSpeakers(t.Context()); !errors.Is(err, minutes.ErrAcquisition) {
			t.Fatalf("expected acquisition failure, got %v", err)
		}
	})
}

func TestDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"duration":1234.5}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	d, err := c.Duration(t.Context())
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if d != 1234.5 {
		t.Errorf("duration = %v, want 1234.5", d)
	}
}
