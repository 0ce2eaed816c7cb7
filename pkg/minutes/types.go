// Package minutes defines the shared data model and error taxonomy for the
// Scrivia recording pipeline. All types are immutable value types: they are
// created by a detector, watcher, or pipeline stage and passed by value,
// never mutated in place.
package minutes

import (
	"fmt"
	"time"
)

// TriggerKind identifies which event source initiated a pipeline run.
type TriggerKind string

const (
	// TriggerPanelEdit means the recording bot edited its status panel to
	// indicate the recording ended.
	TriggerPanelEdit TriggerKind = "panel-edit"

	// TriggerDriveFile means a new archive file appeared in the watched
	// cloud folder.
	TriggerDriveFile TriggerKind = "drive-file"

	// TriggerManual means an operator pasted a recording URL into the
	// /minutes process slash command.
	TriggerManual TriggerKind = "manual"
)

// RecordingHandle identifies one recording to process. It is created by the
// panel detector or the drive watcher and consumed by the pipeline.
type RecordingHandle struct {
	// RecordingID is the recording's string identifier. For drive-sourced
	// recordings this is a pseudo id derived from the archive filename.
	RecordingID string

	// AccessKey authorises API access to the recording. Empty for
	// drive-sourced recordings.
	AccessKey string

	// Domain is the recording service host the handle was detected on
	// (e.g. "craig.chat"). Empty for drive-sourced recordings.
	Domain string

	// OriginChannelID is the channel the trigger was observed in.
	OriginChannelID uint64

	// Trigger records which event source produced this handle.
	Trigger TriggerKind

	// DriveFileID is set only for drive-sourced recordings.
	DriveFileID string
}

// SpeakerInfo identifies one speaker track within a recording.
// TrackIndex is unique within a recording and always >= 1.
type SpeakerInfo struct {
	TrackIndex  uint32
	DisplayName string
	UserID      uint64
}

// AudioTrack pairs a speaker with the extracted audio file for their track.
// Path is an absolute path under the pipeline invocation's temp root and is
// valid only until that root is released.
type AudioTrack struct {
	Speaker SpeakerInfo
	Path    string
}

// TranscriptSegment is a single timed utterance. Invariant:
// 0 <= StartSec <= EndSec, and Text is trimmed and non-empty.
type TranscriptSegment struct {
	StartSec float64
	EndSec   float64
	Text     string
}

// SpeakerTranscript holds one speaker's segments in non-decreasing
// StartSec order.
type SpeakerTranscript struct {
	Speaker  SpeakerInfo
	Segments []TranscriptSegment
}

// Result summarises a completed pipeline invocation.
type Result struct {
	RecordingID       string
	SpeakerCount      int
	TotalAudioSeconds float64
	StageDurations    map[Stage]time.Duration
	PostedMessageIDs  []uint64

	// FailedStage is empty on success; otherwise the stage the pipeline
	// aborted in.
	FailedStage Stage

	// Err is nil on success; otherwise the failure that aborted the run.
	Err error
}

// Timestamp formats an offset in seconds as the transcript line prefix.
// Offsets of an hour or more grow a leading hour field.
func Timestamp(seconds float64) string {
	total := int(seconds)
	hh := total / 3600
	mm := (total % 3600) / 60
	ss := total % 60
	if hh > 0 {
		return fmt.Sprintf("[%02d:%02d:%02d]", hh, mm, ss)
	}
	return fmt.Sprintf("[%02d:%02d]", mm, ss)
}
