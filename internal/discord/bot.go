// Package discord provides the Discord layer of the minutes service. It
// owns the discordgo.Session lifecycle, feeds panel edits from the watched
// channel to the detector, routes slash command interactions, and publishes
// pipeline status, minutes, and errors to the output channel.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/internal/detect"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

// LaunchFunc starts a pipeline run for a detected recording. It reports
// whether the run was accepted; a duplicate trigger for an already active
// recording id is refused.
type LaunchFunc func(handle minutes.RecordingHandle) bool

// Bot owns the Discord gateway connection. It forwards message edits in the
// watched channel to the panel detector and interactions to the command
// router.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	router    *CommandRouter
	detector  *detect.Detector
	launch    LaunchFunc
	guildID   string
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// New creates a Bot, connects to the gateway, and registers the message and
// interaction handlers.
func New(cfg config.ChatConfig, detector *detect.Detector, launch LaunchFunc) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	// Message content is needed to read the recording panel payload.
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	b := &Bot{
		session:  session,
		router:   NewCommandRouter(),
		detector: detector,
		launch:   launch,
		guildID:  strconv.FormatUint(cfg.GuildID, 10),
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		b.onMessageUpdate(m)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// onMessageUpdate checks every edited message against the panel detector
// and launches the pipeline on a finished-recording panel.
func (b *Bot) onMessageUpdate(m *discordgo.MessageUpdate) {
	if m == nil || m.Message == nil {
		return
	}
	handle, ok := b.detector.Inspect(m.Message)
	if !ok {
		return
	}
	slog.Info("finished recording detected",
		"recording_id", handle.RecordingID,
		"domain", handle.Domain,
		"channel_id", handle.OriginChannelID,
	)
	b.launch(handle)
}

// Session returns the underlying discordgo session. Used by the publisher
// for message sends and edits.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Run registers slash commands with the Discord API and blocks until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered))
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}

		slog.Info("discord bot closed")
	})
	return closeErr
}
