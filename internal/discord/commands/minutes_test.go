package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/internal/detect"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

func newTestCommands(launchOK bool, launched *[]minutes.RecordingHandle) *MinutesCommands {
	cfg := config.Default()
	cfg.Chat.WatchChannelID = 11
	cfg.Chat.OutputChannelID = 22
	cfg.Recognizer.Model = "/models/ggml-large-v3.bin"

	detector := detect.New(cfg.Source.BotID, cfg.Chat.WatchChannelID, cfg.Source.DomainAllowlist)
	return &MinutesCommands{deps: Deps{
		Config:    &cfg,
		StartedAt: time.Now().Add(-time.Minute),
		ParseURL:  detector.ParseURL,
		Launch: func(h minutes.RecordingHandle) bool {
			if launched != nil {
				*launched = append(*launched, h)
			}
			return launchOK
		},
	}}
}

func TestDefinition(t *testing.T) {
	mc := &MinutesCommands{}
	def := mc.Definition()

	if def.Name != "minutes" {
		t.Errorf("Name = %q, want minutes", def.Name)
	}
	if len(def.Options) != 3 {
		t.Fatalf("Options count = %d, want 3", len(def.Options))
	}
	wantSubs := []string{"status", "process", "drive-status"}
	for i, want := range wantSubs {
		if def.Options[i].Name != want {
			t.Errorf("subcommand %d = %q, want %q", i, def.Options[i].Name, want)
		}
	}
	if def.Options[1].Options[0].Name != "url" || !def.Options[1].Options[0].Required {
		t.Errorf("process options = %+v, want a required url option", def.Options[1].Options)
	}
}

func TestProcessReply(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		var launched []minutes.RecordingHandle
		mc := newTestCommands(true, &launched)

		reply := mc.processReply("https://craig.chat/rec/abc123?key=k9")
		if !strings.Contains(reply, "`abc123`") || !strings.Contains(reply, "started") {
			t.Errorf("reply = %q", reply)
		}
		if len(launched) != 1 || launched[0].Trigger != minutes.TriggerManual {
			t.Errorf("launched = %+v", launched)
		}
	})

	t.Run("duplicate refused", func(t *testing.T) {
		mc := newTestCommands(false, nil)
		reply := mc.processReply("https://craig.chat/rec/abc123?key=k9")
		if !strings.Contains(reply, "already being processed") {
			t.Errorf("reply = %q", reply)
		}
	})

	t.Run("disallowed host", func(t *testing.T) {
		var launched []minutes.RecordingHandle
		mc := newTestCommands(true, &launched)

		reply := mc.processReply("https://evil.example/rec/abc123?key=k9")
		if !strings.Contains(reply, "allowed host") {
			t.Errorf("reply = %q", reply)
		}
		if len(launched) != 0 {
			t.Error("pipeline launched for a disallowed host")
		}
	})

	t.Run("not a url", func(t *testing.T) {
		mc := newTestCommands(true, nil)
		if reply := mc.processReply("hello"); !strings.Contains(reply, "allowed host") {
			t.Errorf("reply = %q", reply)
		}
	})
}

func TestStatusEmbed(t *testing.T) {
	mc := newTestCommands(true, nil)
	embed := mc.statusEmbed()

	got := map[string]string{}
	for _, f := range embed.Fields {
		got[f.Name] = f.Value
	}
	if got["Recognizer"] != "ggml-large-v3.bin" {
		t.Errorf("recognizer = %q", got["Recognizer"])
	}
	if got["Generator"] != "anthropic/claude-sonnet-4-5" {
		t.Errorf("generator = %q", got["Generator"])
	}
	if got["Watch channel"] != "<#11>" || got["Output channel"] != "<#22>" {
		t.Errorf("channels = %q / %q", got["Watch channel"], got["Output channel"])
	}
}

func TestDriveEmbed(t *testing.T) {
	embed := driveEmbed(DriveStatus{
		Enabled:         true,
		FolderID:        "folder1",
		FilePattern:     "craig-*.zip",
		PollIntervalSec: 30,
		ProcessedCount:  7,
	}, 0x5865F2)

	got := map[string]string{}
	for _, f := range embed.Fields {
		got[f.Name] = f.Value
	}
	if got["State"] != "running" {
		t.Errorf("state = %q", got["State"])
	}
	if got["Processed files"] != "7" {
		t.Errorf("processed = %q", got["Processed files"])
	}
	if got["Poll interval"] != "30s" {
		t.Errorf("poll interval = %q", got["Poll interval"])
	}
}

func TestSubcommandOption(t *testing.T) {
	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{
				Name: "minutes",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Name: "process",
						Type: discordgo.ApplicationCommandOptionSubCommand,
						Options: []*discordgo.ApplicationCommandInteractionDataOption{
							{
								Name:  "url",
								Type:  discordgo.ApplicationCommandOptionString,
								Value: "https://craig.chat/rec/x?key=y",
							},
						},
					},
				},
			},
		},
	}

	if got := subcommandOption(i, "url"); got != "https://craig.chat/rec/x?key=y" {
		t.Errorf("url option = %q", got)
	}
	if got := subcommandOption(i, "missing"); got != "" {
		t.Errorf("missing option = %q", got)
	}
}
