// Package config provides the configuration schema and loader for the
// Scrivia minutes service.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is loaded from a YAML file
// via [Load], overridden by SECTION_KEY environment variables, and immutable
// after validation.
type Config struct {
	Chat       ChatConfig       `yaml:"chat"`
	Source     SourceConfig     `yaml:"source"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Merger     MergerConfig     `yaml:"merger"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Drive      DriveConfig      `yaml:"drive"`
	Logging    LoggingConfig    `yaml:"logging"`
	Observe    ObserveConfig    `yaml:"observe"`
}

// ChatConfig holds Discord gateway and channel settings.
type ChatConfig struct {
	// Token is the bot token. It is never read from YAML, only from the
	// DISCORD_BOT_TOKEN (or DISCORD_TOKEN) environment variable.
	Token string `yaml:"-"`

	// GuildID is the guild slash commands are registered in.
	GuildID uint64 `yaml:"guild_id"`

	// WatchChannelID is the channel monitored for recording-panel edits.
	WatchChannelID uint64 `yaml:"watch_channel_id"`

	// OutputChannelID is the channel minutes, status, and errors go to.
	OutputChannelID uint64 `yaml:"output_channel_id"`

	// ErrorMentionRoleID, when non-zero, is mentioned on error embeds.
	ErrorMentionRoleID uint64 `yaml:"error_mention_role_id"`
}

// SourceConfig holds Cook-API (recording download) settings.
type SourceConfig struct {
	// BotID is the user id of the recording bot whose panel edits are
	// watched.
	BotID string `yaml:"bot_id"`

	// DomainAllowlist lists the recording-service hosts accepted in
	// detected recording URLs.
	DomainAllowlist []string `yaml:"domain_allowlist"`

	// Format is the audio format requested from the cook job.
	Format string `yaml:"format"`

	// Container is the archive container requested from the cook job.
	Container string `yaml:"container"`

	// DownloadTimeoutSec bounds the combined cook+download flow.
	DownloadTimeoutSec int `yaml:"download_timeout_sec"`

	// MaxRetries is the number of extra download attempts after the first.
	MaxRetries int `yaml:"max_retries"`
}

// RecognizerConfig holds speech-recognition settings.
type RecognizerConfig struct {
	// Model is the path to the ggml model file loaded at startup.
	Model string `yaml:"model"`

	// Language is the BCP-47 language code for transcription.
	Language string `yaml:"language"`

	// Device selects the compute device ("cuda", "cpu"). whisper.cpp picks
	// the device at build time; the value is logged and validated so
	// configs stay portable across deployments.
	Device string `yaml:"device"`

	// ComputeType is the inference precision ("float16", "int8", …).
	ComputeType string `yaml:"compute_type"`

	// BeamSize is the decoder beam width.
	BeamSize int `yaml:"beam_size"`

	// VADFilter enables voice-activity-detection pre-filtering.
	VADFilter bool `yaml:"vad_filter"`
}

// MergerConfig holds transcript interleaving settings.
type MergerConfig struct {
	// GapMergeThresholdSec coalesces consecutive same-speaker segments
	// whose gap is below this value. Zero disables coalescing.
	GapMergeThresholdSec float64 `yaml:"gap_merge_threshold_sec"`

	// MinSegmentChars drops segments shorter than this many characters.
	MinSegmentChars int `yaml:"min_segment_chars"`
}

// GeneratorConfig holds LLM minutes-generation settings.
type GeneratorConfig struct {
	// Provider selects the any-llm backend ("openai", "anthropic",
	// "ollama", …). The provider reads its API key from its native
	// environment variable.
	Provider string `yaml:"provider"`

	// Model is the model identifier passed to the provider.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default endpoint. Optional.
	BaseURL string `yaml:"base_url"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// PromptTemplatePath is the minutes prompt template file. The template
	// must contain the {transcript} placeholder exactly once.
	PromptTemplatePath string `yaml:"prompt_template_path"`

	// MaxRetries is the number of extra attempts after the first.
	MaxRetries int `yaml:"max_retries"`
}

// PublisherConfig holds output formatting settings.
type PublisherConfig struct {
	// EmbedColor is the sidebar colour of the minutes embed.
	EmbedColor int `yaml:"embed_color"`

	// MaxEmbedLength caps the embed description length.
	MaxEmbedLength int `yaml:"max_embed_length"`

	// IncludeTranscript additionally attaches the raw merged transcript.
	IncludeTranscript bool `yaml:"include_transcript"`
}

// DriveConfig holds cloud-folder watcher settings.
type DriveConfig struct {
	Enabled bool `yaml:"enabled"`

	// FolderID is the watched folder's identifier.
	FolderID string `yaml:"folder_id"`

	// FilePattern is the glob archive filenames must match.
	FilePattern string `yaml:"file_pattern"`

	PollIntervalSec int `yaml:"poll_interval_sec"`

	// CredentialsFile holds the access credentials for the folder API.
	CredentialsFile string `yaml:"credentials_file"`

	// StateFile is the persisted processed-file set.
	StateFile string `yaml:"state_file"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level LogLevel `yaml:"level"`

	// File is the rotating log file path. Empty logs to stderr only.
	File        string `yaml:"file"`
	MaxBytes    int    `yaml:"max_bytes"`
	BackupCount int    `yaml:"backup_count"`
}

// ObserveConfig holds observability settings.
type ObserveConfig struct {
	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint. Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a Config populated with the documented defaults. Loading
// decodes the YAML file over this value, so omitted keys keep their default.
func Default() Config {
	return Config{
		Source: SourceConfig{
			BotID:              "272937604339466240",
			DomainAllowlist:    []string{"craig.chat", "craig.horse"},
			Format:             "aac",
			Container:          "zip",
			DownloadTimeoutSec: 300,
			MaxRetries:         2,
		},
		Recognizer: RecognizerConfig{
			Language:    "en",
			Device:      "cuda",
			ComputeType: "float16",
			BeamSize:    5,
			VADFilter:   true,
		},
		Merger: MergerConfig{
			GapMergeThresholdSec: 1.0,
			MinSegmentChars:      1,
		},
		Generator: GeneratorConfig{
			Provider:           "anthropic",
			Model:              "claude-sonnet-4-5",
			MaxTokens:          4096,
			Temperature:        0.3,
			PromptTemplatePath: "prompts/minutes.txt",
			MaxRetries:         2,
		},
		Publisher: PublisherConfig{
			EmbedColor:     0x5865F2,
			MaxEmbedLength: 4000,
		},
		Drive: DriveConfig{
			FilePattern:     "craig-*.zip",
			PollIntervalSec: 30,
			CredentialsFile: "credentials.json",
			StateFile:       "processed_files.json",
		},
		Logging: LoggingConfig{
			Level:       LogInfo,
			MaxBytes:    10 << 20,
			BackupCount: 5,
		},
	}
}
