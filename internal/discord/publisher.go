package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/internal/resilience"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

// errorEmbedColor is the sidebar colour of failure embeds.
const errorEmbedColor = 0xE74C3C

// Messenger is the subset of the discordgo session used for publishing.
// Extracted so publisher tests can record calls without a gateway.
type Messenger interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID string, messageID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Messenger = (*discordgo.Session)(nil)

// Publisher posts pipeline output to the configured output channel: the
// evolving status line, the final minutes embed with attachments, and error
// embeds.
type Publisher struct {
	session           Messenger
	channelID         string
	mentionRoleID     uint64
	embedColor        int
	maxEmbedLength    int
	includeTranscript bool

	retryBaseDelay time.Duration
}

// NewPublisher creates a Publisher targeting the chat config's output channel.
func NewPublisher(session Messenger, chat config.ChatConfig, cfg config.PublisherConfig) *Publisher {
	return &Publisher{
		session:           session,
		channelID:         strconv.FormatUint(chat.OutputChannelID, 10),
		mentionRoleID:     chat.ErrorMentionRoleID,
		embedColor:        cfg.EmbedColor,
		maxEmbedLength:    cfg.MaxEmbedLength,
		includeTranscript: cfg.IncludeTranscript,
		retryBaseDelay:    time.Second,
	}
}

// StatusLine is a single message in the output channel that is edited as the
// pipeline advances. All writes are best-effort: failures are logged and
// swallowed so progress reporting can never abort a run. Driven by one
// pipeline goroutine; not safe for concurrent use.
type StatusLine struct {
	session     Messenger
	channelID   string
	recordingID string
	messageID   string
}

// NewStatusLine returns a StatusLine for one recording. The message is
// created on the first state update.
func (p *Publisher) NewStatusLine(recordingID string) *StatusLine {
	return &StatusLine{
		session:     p.session,
		channelID:   p.channelID,
		recordingID: recordingID,
	}
}

// Downloading reports that the archive is being cooked and downloaded.
func (s *StatusLine) Downloading() {
	s.set("*Downloading*")
}

// Transcribing reports progress through the speaker tracks.
func (s *StatusLine) Transcribing(n, total int, name string) {
	s.set(fmt.Sprintf("*Transcribing %d/%d (%s)*", n, total, name))
}

// Generating reports that the minutes are being generated.
func (s *StatusLine) Generating() {
	s.set("*Generating*")
}

// Posting reports that the final post is being sent.
func (s *StatusLine) Posting() {
	s.set("*Posting*")
}

// Complete reports a finished run with its total elapsed time.
func (s *StatusLine) Complete(elapsed time.Duration) {
	s.set(fmt.Sprintf("*Complete (%dms)*", elapsed.Milliseconds()))
}

// Failed reports an aborted run, naming the stage it died in when known.
func (s *StatusLine) Failed(stage minutes.Stage) {
	if stage == "" || stage == "unknown" {
		s.set("*Failed*")
		return
	}
	s.set(fmt.Sprintf("*Failed: %s*", stage))
}

// set creates the status message on first use and edits it afterwards.
func (s *StatusLine) set(state string) {
	content := fmt.Sprintf("Recording `%s`: %s", s.recordingID, state)

	if s.messageID == "" {
		msg, err := s.session.ChannelMessageSend(s.channelID, content)
		if err != nil {
			slog.Warn("status line create failed",
				"recording_id", s.recordingID, "err", err)
			return
		}
		s.messageID = msg.ID
		return
	}

	if _, err := s.session.ChannelMessageEdit(s.channelID, s.messageID, content); err != nil {
		slog.Warn("status line edit failed",
			"recording_id", s.recordingID, "message_id", s.messageID, "err", err)
	}
}

// MinutesPost carries everything needed for the final minutes post.
type MinutesPost struct {
	RecordingID string
	Markdown    string
	Transcript  string
	Speakers    []minutes.SpeakerInfo
	Duration    time.Duration

	// When dates the post; the title and attachment filenames use it.
	When time.Time
}

// PostMinutes sends the minutes embed plus the markdown attachment (and the
// raw transcript when configured). One retry on 5xx or transport errors;
// any other API rejection fails immediately.
func (p *Publisher) PostMinutes(ctx context.Context, post MinutesPost) (*discordgo.Message, error) {
	date := post.When.Format("2006-01-02")

	var msg *discordgo.Message
	err := resilience.Do(ctx, resilience.Policy{MaxRetries: 1, BaseDelay: p.retryBaseDelay}, "publish-minutes", func(context.Context) error {
		// Attachment readers are consumed per attempt, so the payload is
		// rebuilt inside the retry loop.
		files := []*discordgo.File{{
			Name:        fmt.Sprintf("minutes_%s.md", date),
			ContentType: "text/markdown",
			Reader:      strings.NewReader(post.Markdown),
		}}
		if p.includeTranscript && post.Transcript != "" {
			files = append(files, &discordgo.File{
				Name:        fmt.Sprintf("transcript_%s.txt", date),
				ContentType: "text/plain",
				Reader:      strings.NewReader(post.Transcript),
			})
		}

		var sendErr error
		msg, sendErr = p.session.ChannelMessageSendComplex(p.channelID, &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{p.minutesEmbed(post, date)},
			Files:  files,
		})
		if sendErr != nil && !retryablePublishError(sendErr) {
			return resilience.Permanent(sendErr)
		}
		return sendErr
	})
	if err != nil {
		return nil, minutes.WrapErr(minutes.StagePublish, minutes.ErrPublish, err)
	}
	return msg, nil
}

// minutesEmbed builds the summary embed for the final post.
func (p *Publisher) minutesEmbed(post MinutesPost, date string) *discordgo.MessageEmbed {
	names := make([]string, len(post.Speakers))
	for i, sp := range post.Speakers {
		names[i] = sp.DisplayName
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Participants", Value: strings.Join(names, ", "), Inline: true},
		{Name: "Duration", Value: formatDuration(post.Duration), Inline: true},
	}

	return &discordgo.MessageEmbed{
		Title:       "Meeting Minutes " + date,
		Description: minutesDescription(post.Markdown, p.maxEmbedLength),
		Color:       p.embedColor,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Recording " + post.RecordingID,
		},
		Timestamp: post.When.UTC().Format(time.RFC3339),
	}
}

// PostError posts a failure embed for the given run. Best-effort: a failed
// post is logged, never returned, since error reporting must not produce
// follow-up pipeline errors.
func (p *Publisher) PostError(handle minutes.RecordingHandle, err error) {
	stage := minutes.StageOf(err)

	send := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title: "Minutes pipeline failed",
			Color: errorEmbedColor,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Stage", Value: string(stage), Inline: true},
				{Name: "Recording", Value: "`" + handle.RecordingID + "`", Inline: true},
				{Name: "Error", Value: shortError(err)},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}
	if p.mentionRoleID != 0 {
		roleID := strconv.FormatUint(p.mentionRoleID, 10)
		send.Content = "<@&" + roleID + ">"
		send.AllowedMentions = &discordgo.MessageAllowedMentions{Roles: []string{roleID}}
	}

	if _, sendErr := p.session.ChannelMessageSendComplex(p.channelID, send); sendErr != nil {
		slog.Error("failed to post error embed",
			"recording_id", handle.RecordingID, "stage", stage, "err", sendErr)
	}
}

// retryablePublishError reports whether a failed send is worth one more
// attempt: server-side errors and transport failures only.
func retryablePublishError(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		return restErr.Response != nil && restErr.Response.StatusCode >= 500
	}
	// No HTTP status at all means the request never got an answer.
	return true
}

// minutesDescription reduces the generated markdown to the embed
// description: the Summary and Decisions sections when present, truncated at
// a line boundary to fit the configured limit.
func minutesDescription(markdown string, limit int) string {
	sections := extractSections(markdown, "Summary", "Decisions")
	if sections == "" {
		sections = strings.TrimSpace(markdown)
	}
	return truncateAtLine(sections, limit)
}

// extractSections pulls the named "## " sections out of the markdown,
// rewriting their headings as bold lines for embed rendering.
func extractSections(markdown string, names ...string) string {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var out []string
	keep := false
	for _, line := range strings.Split(markdown, "\n") {
		if name, ok := strings.CutPrefix(line, "## "); ok {
			keep = want[strings.TrimSpace(name)]
			if keep {
				if len(out) > 0 {
					out = append(out, "")
				}
				out = append(out, "**"+strings.TrimSpace(name)+"**")
			}
			continue
		}
		if keep {
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// truncatedNote is appended when the description does not fit the embed.
const truncatedNote = "\n*Truncated. Full minutes are in the attached file.*"

// truncateAtLine shortens s to at most limit characters, cutting at the last
// complete line so no sentence is chopped mid-word.
func truncateAtLine(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit - len(truncatedNote)
	if cut < 1 {
		cut = 1
	}
	head := s[:cut]
	if i := strings.LastIndexByte(head, '\n'); i > 0 {
		head = head[:i]
	}
	return strings.TrimRight(head, "\n ") + truncatedNote
}

// shortError renders err for an embed field, without the stage prefix the
// Stage field already shows, capped to a readable length.
func shortError(err error) string {
	if err == nil {
		return "unknown"
	}
	msg := err.Error()
	var se *minutes.Error
	if errors.As(err, &se) && se.Err != nil {
		msg = se.Err.Error()
	}
	if len(msg) > 300 {
		msg = msg[:297] + "..."
	}
	return msg
}

// formatDuration formats a duration as "Xh Ym Zs".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
