package detect

import (
	"testing"

	"github.com/MrWong99/scrivia/pkg/minutes"
	"github.com/bwmarrin/discordgo"
)

const (
	testBotID   = "272937604339466240"
	testChannel = uint64(123456789)
)

func newTestDetector() *Detector {
	return New(testBotID, testChannel, []string{"craig.chat", "craig.horse"})
}

// endedPanel builds a message in the shape the recording bot produces after
// a session ends: marker text plus a download button.
func endedPanel(url string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "123456789",
		Author:    &discordgo.User{ID: testBotID},
		Content:   "Recording ended",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label: "Download",
						Style: discordgo.LinkButton,
						URL:   url,
					},
				},
			},
		},
	}
}

func TestDetector_Inspect(t *testing.T) {
	t.Run("finished panel yields a handle", func(t *testing.T) {
		d := newTestDetector()
		h, ok := d.Inspect(endedPanel("https://craig.chat/rec/aBc123?key=XyZ789"))
		if !ok {
			t.Fatal("expected a recording handle")
		}
		want := minutes.RecordingHandle{
			RecordingID:     "aBc123",
			AccessKey:       "XyZ789",
			Domain:          "craig.chat",
			OriginChannelID: testChannel,
			Trigger:         minutes.TriggerPanelEdit,
		}
		if h != want {
			t.Errorf("handle = %+v, want %+v", h, want)
		}
	})

	t.Run("url in content instead of components", func(t *testing.T) {
		d := newTestDetector()
		m := &discordgo.Message{
			ChannelID: "123456789",
			Author:    &discordgo.User{ID: testBotID},
			Content:   "Recording ended: https://craig.horse/rec/rec42?key=k42",
		}
		h, ok := d.Inspect(m)
		if !ok || h.RecordingID != "rec42" || h.Domain != "craig.horse" {
			t.Fatalf("got ok=%v handle=%+v", ok, h)
		}
	})

	t.Run("wrong author is ignored", func(t *testing.T) {
		d := newTestDetector()
		m := endedPanel("https://craig.chat/rec/a?key=b")
		m.Author = &discordgo.User{ID: "999"}
		if _, ok := d.Inspect(m); ok {
			t.Error("message from a different author must not match")
		}
	})

	t.Run("missing author is ignored", func(t *testing.T) {
		d := newTestDetector()
		m := endedPanel("https://craig.chat/rec/a?key=b")
		m.Author = nil
		if _, ok := d.Inspect(m); ok {
			t.Error("message without an author must not match")
		}
	})

	t.Run("wrong channel is ignored", func(t *testing.T) {
		d := newTestDetector()
		m := endedPanel("https://craig.chat/rec/a?key=b")
		m.ChannelID = "42"
		if _, ok := d.Inspect(m); ok {
			t.Error("message in another channel must not match")
		}
	})

	t.Run("in-progress panel is ignored", func(t *testing.T) {
		d := newTestDetector()
		m := endedPanel("https://craig.chat/rec/a?key=b")
		m.Content = "Recording... 00:41:12"
		m.Components = nil
		if _, ok := d.Inspect(m); ok {
			t.Error("panel without the ended marker must not match")
		}
	})

	t.Run("ended marker without url is ignored", func(t *testing.T) {
		d := newTestDetector()
		m := &discordgo.Message{
			ChannelID: "123456789",
			Author:    &discordgo.User{ID: testBotID},
			Content:   "Recording ended",
		}
		if _, ok := d.Inspect(m); ok {
			t.Error("panel without a download url must not match")
		}
	})

	t.Run("host outside the allowlist is rejected", func(t *testing.T) {
		d := newTestDetector()
		m := endedPanel("https://evil.example/rec/a?key=b")
		if _, ok := d.Inspect(m); ok {
			t.Error("unlisted host must not match")
		}
	})

	t.Run("nil message is ignored", func(t *testing.T) {
		d := newTestDetector()
		if _, ok := d.Inspect(nil); ok {
			t.Error("nil message must not match")
		}
	})
}

func TestDetector_ParseURL(t *testing.T) {
	d := newTestDetector()

	t.Run("valid url", func(t *testing.T) {
		h, ok := d.ParseURL("https://craig.chat/rec/aBc123?key=XyZ789")
		if !ok {
			t.Fatal("expected a recording handle")
		}
		want := minutes.RecordingHandle{
			RecordingID: "aBc123",
			AccessKey:   "XyZ789",
			Domain:      "craig.chat",
			Trigger:     minutes.TriggerManual,
		}
		if h != want {
			t.Errorf("handle = %+v, want %+v", h, want)
		}
	})

	t.Run("unlisted host", func(t *testing.T) {
		if _, ok := d.ParseURL("https://evil.example/rec/a?key=b"); ok {
			t.Error("unlisted host must not parse")
		}
	})

	t.Run("not a recording url", func(t *testing.T) {
		if _, ok := d.ParseURL("just some text"); ok {
			t.Error("plain text must not parse")
		}
	})

	t.Run("underscore in recording id", func(t *testing.T) {
		if _, ok := d.ParseURL("https://craig.chat/rec/abc_123?key=XyZ789"); ok {
			t.Error("recording ids are alphanumeric only")
		}
	})

	t.Run("hyphen in recording id", func(t *testing.T) {
		if _, ok := d.ParseURL("https://craig.chat/rec/abc-123?key=XyZ789"); ok {
			t.Error("recording ids are alphanumeric only")
		}
	})

	t.Run("non-alphanumeric key", func(t *testing.T) {
		if _, ok := d.ParseURL("https://craig.chat/rec/abc123?key=_secret"); ok {
			t.Error("access keys are alphanumeric only")
		}
	})
}
