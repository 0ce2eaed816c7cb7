// Package audiosource defines the two-operation contract the pipeline uses to
// obtain speaker-tagged audio, plus the shared archive extractor both concrete
// sources (Cook-API client, drive watcher) delegate to.
//
// Implementations must be safe for use from a single pipeline goroutine;
// they are not required to support concurrent calls.
package audiosource

import (
	"context"

	"github.com/MrWong99/scrivia/pkg/minutes"
)

// Source produces the speaker-tagged audio tracks for one recording.
type Source interface {
	// ListSpeakers returns the authoritative speaker metadata for the
	// recording. Fails with minutes.ErrAcquisition when the metadata
	// cannot be obtained.
	ListSpeakers(ctx context.Context) ([]minutes.SpeakerInfo, error)

	// Fetch downloads and extracts the speaker-track archive into dir.
	// Every returned track's Path exists, is readable, lies under dir,
	// and corresponds to exactly one SpeakerInfo from ListSpeakers.
	// Fails with minutes.ErrAcquisition on transport, format, or mapping
	// errors and with minutes.ErrAcquisitionTimeout when the configured
	// deadline expires.
	Fetch(ctx context.Context, dir string) ([]minutes.AudioTrack, error)
}
