// Package merger interleaves per-speaker transcripts into one chronological
// text, one line per segment.
package merger

import (
	"cmp"
	"slices"
	"strings"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

// Merger is a pure interleaver over per-speaker segment lists. The zero
// value merges without coalescing; use [New] to apply configured thresholds.
type Merger struct {
	gapThreshold float64
	minChars     int
}

// New returns a Merger applying the configured gap-coalescing threshold and
// minimum segment length.
func New(cfg config.MergerConfig) *Merger {
	return &Merger{
		gapThreshold: cfg.GapMergeThresholdSec,
		minChars:     cfg.MinSegmentChars,
	}
}

// entry is one segment paired with its speaker, the unit being sorted.
type entry struct {
	speaker minutes.SpeakerInfo
	seg     minutes.TranscriptSegment
}

// Merge flattens, sorts, and formats the transcripts into the line format
// "[MM:SS] {display_name}: {text}". Lines are ordered by ascending start
// time, ties broken by ascending track index. Consecutive same-speaker
// segments closer than the gap threshold are coalesced into one line.
//
// An empty transcripts list is an error. Transcripts whose segments are all
// empty yield an empty string; the caller decides how to present silence.
func (m *Merger) Merge(transcripts []minutes.SpeakerTranscript) (string, error) {
	if len(transcripts) == 0 {
		return "", minutes.Errorf(minutes.StageMerge, minutes.ErrMerge,
			"no transcripts to merge")
	}

	var entries []entry
	for _, tr := range transcripts {
		for _, seg := range tr.Segments {
			seg.Text = strings.TrimSpace(seg.Text)
			if seg.Text == "" || len(seg.Text) < m.minChars {
				continue
			}
			entries = append(entries, entry{speaker: tr.Speaker, seg: seg})
		}
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		if c := cmp.Compare(a.seg.StartSec, b.seg.StartSec); c != 0 {
			return c
		}
		return cmp.Compare(a.speaker.TrackIndex, b.speaker.TrackIndex)
	})

	if m.gapThreshold > 0 {
		entries = m.coalesce(entries)
	}

	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = minutes.Timestamp(e.seg.StartSec) + " " + e.speaker.DisplayName + ": " + e.seg.Text
	}
	return strings.Join(lines, "\n"), nil
}

// coalesce folds consecutive entries of the same speaker whose gap is below
// the threshold into the preceding entry, concatenating texts with a single
// space and extending the end time.
func (m *Merger) coalesce(entries []entry) []entry {
	if len(entries) < 2 {
		return entries
	}
	out := entries[:1]
	for _, e := range entries[1:] {
		last := &out[len(out)-1]
		sameSpeaker := last.speaker.TrackIndex == e.speaker.TrackIndex
		if sameSpeaker && e.seg.StartSec-last.seg.EndSec < m.gapThreshold {
			last.seg.Text += " " + e.seg.Text
			if e.seg.EndSec > last.seg.EndSec {
				last.seg.EndSec = e.seg.EndSec
			}
			continue
		}
		out = append(out, e)
	}
	return out
}
