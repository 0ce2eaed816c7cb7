package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/scrivia/internal/config"
)

func TestRedact(t *testing.T) {
	botToken := "MTIzNDU2Nzg5MDEyMzQ1Njc4.GaBcDe.AbCdEfGhIjKlMnOpQrStUvWxYz012345"

	tests := []struct {
		name  string
		in    string
		want  string
		leaks string
	}{
		{
			name:  "bot token",
			in:    "authorization failed for Bot " + botToken,
			leaks: botToken,
		},
		{
			name:  "llm api key",
			in:    "provider rejected key sk-ant-REDACTED",
			leaks: "sk-ant-api03",
		},
		{
			name: "recording access key in url",
			in:   "downloading https://craig.chat/rec/abc123?key=XyZ09876",
			want: "downloading https://craig.chat/rec/abc123?key=***",
		},
		{
			name: "plain text untouched",
			in:   "processed recording abc123 with 3 speakers",
			want: "processed recording abc123 with 3 speakers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.in)
			if tt.want != "" && got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if tt.leaks != "" && strings.Contains(got, tt.leaks) {
				t.Errorf("Redact(%q) leaked %q: %q", tt.in, tt.leaks, got)
			}
		})
	}
}

func TestMaskingHandler(t *testing.T) {
	newLogger := func(buf *bytes.Buffer) *slog.Logger {
		inner := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
		return slog.New(NewMaskingHandler(inner))
	}

	t.Run("redacts message and attrs", func(t *testing.T) {
		var buf bytes.Buffer
		log := newLogger(&buf)

		log.Info("fetching https://craig.chat/rec/r1?key=secret123",
			"url", "https://craig.horse/rec/r2?key=topsecret",
		)

		out := buf.String()
		if strings.Contains(out, "secret123") || strings.Contains(out, "topsecret") {
			t.Errorf("access key leaked into log output: %s", out)
		}
		if !strings.Contains(out, "key=***") {
			t.Errorf("expected redaction marker in output: %s", out)
		}
	})

	t.Run("redacts attrs bound via With", func(t *testing.T) {
		var buf bytes.Buffer
		log := newLogger(&buf).With("recording_url", "https://craig.chat/rec/r3?key=bound456")

		log.Warn("retrying download")

		if strings.Contains(buf.String(), "bound456") {
			t.Errorf("bound attr leaked: %s", buf.String())
		}
	})

	t.Run("non-string attrs pass through", func(t *testing.T) {
		var buf bytes.Buffer
		log := newLogger(&buf)

		log.Info("stage complete", "speakers", 3, "duration_sec", 12.5)

		out := buf.String()
		if !strings.Contains(out, "speakers=3") {
			t.Errorf("numeric attr lost: %s", out)
		}
	})
}

func TestToSlogLevel(t *testing.T) {
	cases := map[config.LogLevel]slog.Level{
		config.LogDebug:        slog.LevelDebug,
		config.LogInfo:         slog.LevelInfo,
		config.LogWarn:         slog.LevelWarn,
		config.LogError:        slog.LevelError,
		config.LogLevel("???"): slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ToSlogLevel(in); got != want {
			t.Errorf("ToSlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
