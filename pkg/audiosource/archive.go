package audiosource

import (
	"context"

	"github.com/MrWong99/scrivia/pkg/minutes"
)

// Archive is a Source over an archive that has already been downloaded,
// such as one pulled from the watched cloud folder. Speaker metadata is
// derived from the entry names.
type Archive struct {
	data []byte
}

var _ Source = (*Archive)(nil)

// NewArchive wraps raw archive bytes as a Source.
func NewArchive(data []byte) *Archive {
	return &Archive{data: data}
}

// ListSpeakers implements Source.
func (a *Archive) ListSpeakers(context.Context) ([]minutes.SpeakerInfo, error) {
	return ListArchiveSpeakers(a.data)
}

// Fetch implements Source.
func (a *Archive) Fetch(_ context.Context, dir string) ([]minutes.AudioTrack, error) {
	return ExtractArchive(a.data, dir)
}
