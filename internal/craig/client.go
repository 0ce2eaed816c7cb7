// Package craig downloads per-speaker recording audio through the recording
// service's v1 job API.
//
// The flow mirrors what the service's own web UI does:
//
//  1. POST /api/v1/recordings/{id}/job?key={key}  start the cook job
//  2. GET  /api/v1/recordings/{id}/job?key={key}  poll until status "complete"
//  3. GET  /dl/{outputFileName}                   download the cooked archive
package craig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/internal/resilience"
	"github.com/MrWong99/scrivia/pkg/audiosource"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

const (
	// jobPollInterval is how often the cook job status is checked.
	jobPollInterval = 2 * time.Second

	// apiRequestTimeout bounds each job API call. The archive download is
	// exempt; it runs under the configured download deadline only.
	apiRequestTimeout = 30 * time.Second
)

// Client is an audiosource.Source bound to one recording handle.
type Client struct {
	http    *http.Client
	baseURL string
	handle  minutes.RecordingHandle

	format          string
	container       string
	downloadTimeout time.Duration
	maxRetries      int
	pollInterval    time.Duration
	retryBaseDelay  time.Duration
	apiTimeout      time.Duration
}

var _ audiosource.Source = (*Client)(nil)

// New returns a Client for the recording identified by handle.
func New(handle minutes.RecordingHandle, cfg config.SourceConfig) *Client {
	return &Client{
		http:            &http.Client{},
		baseURL:         "https://" + handle.Domain,
		handle:          handle,
		format:          cfg.Format,
		container:       cfg.Container,
		downloadTimeout: time.Duration(cfg.DownloadTimeoutSec) * time.Second,
		maxRetries:      cfg.MaxRetries,
		pollInterval:    jobPollInterval,
		retryBaseDelay:  time.Second,
		apiTimeout:      apiRequestTimeout,
	}
}

func (c *Client) jobURL() string {
	return fmt.Sprintf("%s/api/v1/recordings/%s/job?key=%s", c.baseURL, c.handle.RecordingID, c.handle.AccessKey)
}

func (c *Client) usersURL() string {
	return fmt.Sprintf("%s/api/v1/recordings/%s/users?key=%s", c.baseURL, c.handle.RecordingID, c.handle.AccessKey)
}

func (c *Client) durationURL() string {
	return fmt.Sprintf("%s/api/v1/recordings/%s/duration?key=%s", c.baseURL, c.handle.RecordingID, c.handle.AccessKey)
}

type userEntry struct {
	ID       uint64 `json:"id,string"`
	Username string `json:"username"`
	Track    uint32 `json:"track"`
}

// ListSpeakers implements audiosource.Source by querying the users endpoint.
// Entries without an explicit track number are assigned their list position,
// starting at 1.
func (c *Client) ListSpeakers(ctx context.Context) ([]minutes.SpeakerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.usersURL(), nil)
	if err != nil {
		return nil, minutes.WrapErr(minutes.StageAcquisition, minutes.ErrAcquisition, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
			"fetch speaker list: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
			"speaker list returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		Users []userEntry `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
			"decode speaker list: %v", err)
	}

	speakers := make([]minutes.SpeakerInfo, 0, len(body.Users))
	for i, u := range body.Users {
		track := u.Track
		if track == 0 {
			track = uint32(i + 1)
		}
		speakers = append(speakers, minutes.SpeakerInfo{
			TrackIndex:  track,
			DisplayName: u.Username,
			UserID:      u.ID,
		})
	}
	return speakers, nil
}

// Duration returns the recording length in seconds.
func (c *Client) Duration(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.durationURL(), nil)
	if err != nil {
		return 0, minutes.WrapErr(minutes.StageAcquisition, minutes.ErrAcquisition, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
			"fetch duration: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
			"duration returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		Duration float64 `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
			"decode duration: %v", err)
	}
	return body.Duration, nil
}

// Fetch implements audiosource.Source. It runs the cook flow under the
// configured wall-clock deadline and extracts the archive into dir. Speaker
// user ids from the users endpoint are merged into the filename-derived
// track info by track index; the endpoint failing is not fatal.
func (c *Client) Fetch(ctx context.Context, dir string) ([]minutes.AudioTrack, error) {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	c.startJob(ctx)

	outputName, err := c.pollUntilComplete(ctx)
	if err != nil {
		return nil, err
	}

	data, err := c.downloadArchive(ctx, c.baseURL+"/dl/"+outputName)
	if err != nil {
		return nil, err
	}

	tracks, err := audiosource.ExtractArchive(data, dir)
	if err != nil {
		return nil, err
	}

	if speakers, err := c.ListSpeakers(ctx); err == nil {
		byTrack := make(map[uint32]minutes.SpeakerInfo, len(speakers))
		for _, s := range speakers {
			byTrack[s.TrackIndex] = s
		}
		for i := range tracks {
			if s, ok := byTrack[tracks[i].Speaker.TrackIndex]; ok {
				tracks[i].Speaker.UserID = s.UserID
			}
		}
	} else {
		slog.Warn("speaker list unavailable, using archive names only",
			"recording_id", c.handle.RecordingID, "error", err)
	}

	slog.Info("recording archive fetched",
		"recording_id", c.handle.RecordingID,
		"tracks", len(tracks),
		"bytes", len(data),
	)
	return tracks, nil
}

// startJob POSTs the cook request. Failures are logged and swallowed: the
// job may already be running from a previous attempt, in which case polling
// will still find it.
func (c *Client) startJob(ctx context.Context) {
	payload, _ := json.Marshal(map[string]any{
		"type": "recording",
		"options": map[string]any{
			"format":     c.format,
			"container":  c.container,
			"dynaudnorm": false,
		},
	})

	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.jobURL(), bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("cook job start failed", "recording_id", c.handle.RecordingID, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		slog.Info("cook job started",
			"recording_id", c.handle.RecordingID,
			"format", c.format,
			"container", c.container,
		)
	} else {
		slog.Warn("cook job start returned unexpected status",
			"recording_id", c.handle.RecordingID, "status", resp.StatusCode)
	}
}

type jobResponse struct {
	Job struct {
		Status         string `json:"status"`
		OutputFileName string `json:"outputFileName"`
	} `json:"job"`
}

// pollUntilComplete checks the job status until it completes, fails, or the
// deadline expires.
func (c *Client) pollUntilComplete(ctx context.Context) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		name, done, err := c.checkJob(ctx)
		if err != nil {
			return "", err
		}
		if done {
			return name, nil
		}

		select {
		case <-ctx.Done():
			return "", minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisitionTimeout,
				"cook job for recording %s did not complete in time", c.handle.RecordingID)
		case <-ticker.C:
		}
	}
}

// checkJob performs one status poll. Transport errors and non-200 responses
// are not fatal; the job may still be cooking.
func (c *Client) checkJob(ctx context.Context) (name string, done bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.jobURL(), nil)
	if err != nil {
		return "", false, minutes.WrapErr(minutes.StageAcquisition, minutes.ErrAcquisition, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisitionTimeout,
				"cook job poll: %v", err)
		}
		slog.Warn("cook job poll failed", "recording_id", c.handle.RecordingID, "error", err)
		return "", false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("cook job poll returned unexpected status",
			"recording_id", c.handle.RecordingID, "status", resp.StatusCode)
		io.Copy(io.Discard, resp.Body)
		return "", false, nil
	}

	var body jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Warn("cook job poll response unreadable",
			"recording_id", c.handle.RecordingID, "error", err)
		return "", false, nil
	}

	switch body.Job.Status {
	case "complete":
		if body.Job.OutputFileName == "" {
			return "", false, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
				"cook job complete but no output file name")
		}
		return body.Job.OutputFileName, true, nil
	case "error", "failed":
		return "", false, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
			"cook job failed with status %q", body.Job.Status)
	default:
		return "", false, nil
	}
}

// downloadArchive fetches the cooked archive with bounded retries. Server
// errors, timeouts, and rate limits are retried; other client errors fail
// immediately.
func (c *Client) downloadArchive(ctx context.Context, url string) ([]byte, error) {
	policy := resilience.Policy{MaxRetries: c.maxRetries, BaseDelay: c.retryBaseDelay}

	var data []byte
	err := resilience.Do(ctx, policy, "archive download", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return resilience.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			data, err = io.ReadAll(resp.Body)
			return err
		case resp.StatusCode >= 500,
			resp.StatusCode == http.StatusRequestTimeout,
			resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("download returned HTTP %d", resp.StatusCode)
		default:
			return resilience.Permanent(fmt.Errorf("download returned HTTP %d", resp.StatusCode))
		}
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, minutes.WrapErr(minutes.StageAcquisition, minutes.ErrAcquisitionTimeout, err)
		}
		return nil, minutes.WrapErr(minutes.StageAcquisition, minutes.ErrAcquisition, err)
	}
	return data, nil
}
