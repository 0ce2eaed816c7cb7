package audiosource

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/scrivia/pkg/minutes"
)

// entryPattern matches archive entry names of the form
// {track_index}-{display_name}.{ext}. Entries that do not match are skipped.
var entryPattern = regexp.MustCompile(`^(\d+)-(.+)\.(aac|flac|m4a|mp3|ogg|opus|wav)$`)

// ExtractArchive unpacks per-speaker audio files from a zip archive into dir.
//
// Entry names are validated before anything is written: a single entry whose
// resolved destination would escape dir rejects the whole archive with no
// files on disk. Entries not matching the track naming convention are
// skipped. An archive with zero valid entries is an acquisition failure.
func ExtractArchive(data []byte, dir string) ([]minutes.AudioTrack, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
			"invalid archive: %v", err)
	}

	// Validate every entry name first so a traversal attempt anywhere in
	// the archive leaves the destination untouched.
	for _, f := range zr.File {
		if !entryNameIsSafe(f.Name) {
			return nil, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
				"archive entry %q escapes extraction directory", f.Name)
		}
	}

	var tracks []minutes.AudioTrack
	for _, f := range zr.File {
		m := entryPattern.FindStringSubmatch(f.Name)
		if m == nil {
			slog.Debug("skipping non-track archive entry", "name", f.Name)
			continue
		}

		track, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil || track == 0 {
			slog.Debug("skipping entry with invalid track index", "name", f.Name)
			continue
		}

		dest := filepath.Join(dir, f.Name)
		if err := writeEntry(f, dest); err != nil {
			return nil, minutes.WrapErr(minutes.StageAcquisition, minutes.ErrAcquisition, err)
		}

		tracks = append(tracks, minutes.AudioTrack{
			Speaker: minutes.SpeakerInfo{
				TrackIndex:  uint32(track),
				DisplayName: m[2],
			},
			Path: dest,
		})
	}

	if len(tracks) == 0 {
		return nil, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
			"archive contains no speaker tracks")
	}
	return tracks, nil
}

// ListArchiveSpeakers derives speaker metadata from the archive's entry
// names without writing anything. Used by sources that have the archive
// before any speaker-list endpoint is available.
func ListArchiveSpeakers(data []byte) ([]minutes.SpeakerInfo, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
			"invalid archive: %v", err)
	}

	var speakers []minutes.SpeakerInfo
	for _, f := range zr.File {
		m := entryPattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		track, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil || track == 0 {
			continue
		}
		speakers = append(speakers, minutes.SpeakerInfo{
			TrackIndex:  uint32(track),
			DisplayName: m[2],
		})
	}
	if len(speakers) == 0 {
		return nil, minutes.Errorf(minutes.StageAcquisition, minutes.ErrAcquisition,
			"archive contains no speaker tracks")
	}
	return speakers, nil
}

// entryNameIsSafe reports whether name resolves to a location inside the
// extraction directory. Absolute paths, parent references, and Windows-style
// separators are all rejected.
func entryNameIsSafe(name string) bool {
	if strings.Contains(name, `\`) {
		return false
	}
	return filepath.IsLocal(name)
}

func writeEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create track directory: %w", err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create track file %q: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %q: %w", f.Name, err)
	}
	return out.Close()
}
