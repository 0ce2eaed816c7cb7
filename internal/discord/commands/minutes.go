// Package commands implements the /minutes slash command group.
package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/internal/discord"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

// DriveStatus is a point-in-time view of the cloud-folder watcher for the
// /minutes drive-status command.
type DriveStatus struct {
	Enabled         bool
	FolderID        string
	FilePattern     string
	PollIntervalSec int
	ProcessedCount  int
}

// Deps holds the collaborators the /minutes command group reports on and
// delegates to.
type Deps struct {
	Config    *config.Config
	StartedAt time.Time

	// ParseURL validates a pasted recording URL against the detector's
	// pattern and host allowlist.
	ParseURL func(raw string) (minutes.RecordingHandle, bool)

	// Launch starts a pipeline run; false means the recording id is
	// already active.
	Launch func(handle minutes.RecordingHandle) bool

	// DriveStatus snapshots the watcher. Nil when the watcher is disabled.
	DriveStatus func() DriveStatus
}

// MinutesCommands implements the /minutes command group.
type MinutesCommands struct {
	deps Deps
}

// NewMinutesCommands creates the command group and registers its handlers
// with the router.
func NewMinutesCommands(router *discord.CommandRouter, deps Deps) *MinutesCommands {
	mc := &MinutesCommands{deps: deps}
	mc.Register(router)
	return mc
}

// Register registers the /minutes command group with the router.
func (mc *MinutesCommands) Register(router *discord.CommandRouter) {
	def := mc.Definition()
	router.RegisterCommand("minutes", def, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand: `/minutes status`, `/minutes process`, or `/minutes drive-status`.")
	})
	router.RegisterHandler("minutes/status", mc.handleStatus)
	router.RegisterHandler("minutes/process", mc.handleProcess)
	router.RegisterHandler("minutes/drive-status", mc.handleDriveStatus)
}

// Definition returns the ApplicationCommand definition for Discord.
func (mc *MinutesCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "minutes",
		Description: "Meeting minutes pipeline",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show service status",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "process",
				Description: "Generate minutes for a recording URL",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "url",
						Description: "Recording download URL",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "drive-status",
				Description: "Show cloud-folder watcher status",
			},
		},
	}
}

// handleStatus handles /minutes status.
func (mc *MinutesCommands) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	discord.RespondEmbed(s, i, mc.statusEmbed())
}

// statusEmbed builds the service status embed.
func (mc *MinutesCommands) statusEmbed() *discordgo.MessageEmbed {
	cfg := mc.deps.Config
	uptime := time.Since(mc.deps.StartedAt).Truncate(time.Second)

	return &discordgo.MessageEmbed{
		Title: "Scrivia Status",
		Color: cfg.Publisher.EmbedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Uptime", Value: uptime.String(), Inline: true},
			{Name: "Recognizer", Value: filepath.Base(cfg.Recognizer.Model), Inline: true},
			{Name: "Generator", Value: fmt.Sprintf("%s/%s", cfg.Generator.Provider, cfg.Generator.Model), Inline: true},
			{Name: "Watch channel", Value: fmt.Sprintf("<#%d>", cfg.Chat.WatchChannelID), Inline: true},
			{Name: "Output channel", Value: fmt.Sprintf("<#%d>", cfg.Chat.OutputChannelID), Inline: true},
		},
	}
}

// handleProcess handles /minutes process.
func (mc *MinutesCommands) handleProcess(s *discordgo.Session, i *discordgo.InteractionCreate) {
	discord.RespondEphemeral(s, i, mc.processReply(subcommandOption(i, "url")))
}

// processReply validates the URL, launches the pipeline, and returns the
// acknowledgement text.
func (mc *MinutesCommands) processReply(url string) string {
	handle, ok := mc.deps.ParseURL(url)
	if !ok {
		return "That does not look like a recording URL from an allowed host."
	}
	if !mc.deps.Launch(handle) {
		return fmt.Sprintf("Recording `%s` is already being processed.", handle.RecordingID)
	}
	return fmt.Sprintf("Minutes pipeline started for recording `%s`.", handle.RecordingID)
}

// handleDriveStatus handles /minutes drive-status.
func (mc *MinutesCommands) handleDriveStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if mc.deps.DriveStatus == nil {
		discord.RespondEphemeral(s, i, "The cloud-folder watcher is disabled.")
		return
	}
	discord.RespondEmbed(s, i, driveEmbed(mc.deps.DriveStatus(), mc.deps.Config.Publisher.EmbedColor))
}

// driveEmbed builds the watcher status embed.
func driveEmbed(st DriveStatus, color int) *discordgo.MessageEmbed {
	state := "running"
	if !st.Enabled {
		state = "disabled"
	}
	return &discordgo.MessageEmbed{
		Title: "Drive Watcher",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "State", Value: state, Inline: true},
			{Name: "Folder", Value: fmt.Sprintf("`%s`", st.FolderID), Inline: true},
			{Name: "Pattern", Value: fmt.Sprintf("`%s`", st.FilePattern), Inline: true},
			{Name: "Poll interval", Value: fmt.Sprintf("%ds", st.PollIntervalSec), Inline: true},
			{Name: "Processed files", Value: fmt.Sprintf("%d", st.ProcessedCount), Inline: true},
		},
	}
}

// subcommandOption extracts a string option from the active subcommand.
func subcommandOption(i *discordgo.InteractionCreate, name string) string {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return ""
	}
	for _, opt := range data.Options[0].Options {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}
