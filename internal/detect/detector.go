// Package detect classifies chat message edits and extracts recording
// coordinates from finished-recording panels.
//
// The recording bot maintains a panel message while a session is being
// recorded and edits it when the session ends. The detector deliberately
// works on the serialized payload rather than the component tree: the
// upstream component schema keeps evolving and a substring plus URL match is
// stable across its versions.
package detect

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/scrivia/pkg/minutes"
	"github.com/bwmarrin/discordgo"
)

// endedMarker is the exact substring present in a finished-recording panel.
const endedMarker = "Recording ended"

// recordingURL captures host, recording id, and access key from a panel
// download link. Ids and keys are plain alphanumerics; the host is checked
// against the allowlist separately.
var recordingURL = regexp.MustCompile(`https?://([A-Za-z0-9.-]+)/rec/([A-Za-z0-9]+)\?key=([A-Za-z0-9]+)`)

// Detector recognises finished-recording panel edits.
type Detector struct {
	botID          string
	watchChannelID string
	domains        []string
}

// New returns a Detector for panels authored by botID in watchChannelID,
// accepting recording URLs on the given hosts.
func New(botID string, watchChannelID uint64, domains []string) *Detector {
	return &Detector{
		botID:          botID,
		watchChannelID: strconv.FormatUint(watchChannelID, 10),
		domains:        domains,
	}
}

// Inspect examines an edited message. It returns the recording handle and
// true when the edit is a finished-recording panel with a valid download
// link; otherwise the zero handle and false.
func (d *Detector) Inspect(m *discordgo.Message) (minutes.RecordingHandle, bool) {
	if m == nil || m.Author == nil || m.Author.ID != d.botID {
		return minutes.RecordingHandle{}, false
	}
	if m.ChannelID != d.watchChannelID {
		return minutes.RecordingHandle{}, false
	}

	payload := serialize(m)
	if !strings.Contains(payload, endedMarker) {
		return minutes.RecordingHandle{}, false
	}

	match := recordingURL.FindStringSubmatch(payload)
	if match == nil {
		slog.Debug("panel marked ended but no recording url found", "message_id", m.ID)
		return minutes.RecordingHandle{}, false
	}
	host, recID, key := match[1], match[2], match[3]
	if !slices.Contains(d.domains, host) {
		slog.Warn("recording url host not in allowlist", "host", host, "message_id", m.ID)
		return minutes.RecordingHandle{}, false
	}

	channelID, err := strconv.ParseUint(m.ChannelID, 10, 64)
	if err != nil {
		return minutes.RecordingHandle{}, false
	}

	return minutes.RecordingHandle{
		RecordingID:     recID,
		AccessKey:       key,
		Domain:          host,
		OriginChannelID: channelID,
		Trigger:         minutes.TriggerPanelEdit,
	}, true
}

// ParseURL extracts a recording handle from a pasted recording URL, applying
// the same pattern and host allowlist as panel detection. Used by the manual
// trigger command.
func (d *Detector) ParseURL(raw string) (minutes.RecordingHandle, bool) {
	match := recordingURL.FindStringSubmatch(raw)
	if match == nil {
		return minutes.RecordingHandle{}, false
	}
	host, recID, key := match[1], match[2], match[3]
	if !slices.Contains(d.domains, host) {
		return minutes.RecordingHandle{}, false
	}
	return minutes.RecordingHandle{
		RecordingID: recID,
		AccessKey:   key,
		Domain:      host,
		Trigger:     minutes.TriggerManual,
	}, true
}

// serialize flattens the message content and component tree into one
// searchable string.
func serialize(m *discordgo.Message) string {
	payload := m.Content
	if len(m.Components) > 0 {
		if raw, err := json.Marshal(m.Components); err == nil {
			payload += "\n" + string(raw)
		}
	}
	for _, e := range m.Embeds {
		if raw, err := json.Marshal(e); err == nil {
			payload += "\n" + string(raw)
		}
	}
	return payload
}
