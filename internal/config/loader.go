package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/scrivia/pkg/minutes"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the known any-llm backend names. [Validate] warns
// about unrecognised names instead of failing, so third-party providers stay
// usable.
var ValidProviderNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral",
	"groq", "llamacpp", "llamafile",
}

// validDevices and validComputeTypes bound the recognizer settings that are
// validated up front so a typo fails at startup instead of mid-recording.
var (
	validDevices      = []string{"cuda", "cpu", "auto"}
	validComputeTypes = []string{"float32", "float16", "int8", "int8_float16"}
)

// Load reads the YAML configuration file at path, applies environment
// overrides and secrets, and returns a validated [Config].
//
// A .env file in the working directory is loaded first when present. Every
// YAML key can be overridden by a SECTION_KEY environment variable (for
// example RECOGNIZER_MODEL or DRIVE_ENABLED). The bot token is only ever
// read from DISCORD_BOT_TOKEN (or DISCORD_TOKEN); LLM provider keys are
// read by the provider itself from its native variable.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, minutes.Errorf(minutes.StageConfig, minutes.ErrConfig,
			"load .env: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, minutes.Errorf(minutes.StageConfig, minutes.ErrConfig,
			"open %q: %v", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default], applies
// environment overrides and secrets, and validates the result. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, minutes.Errorf(minutes.StageConfig, minutes.ErrConfig,
			"decode yaml: %v", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, minutes.WrapErr(minutes.StageConfig, minutes.ErrConfig, err)
	}
	if tok, ok := lookupFirst("DISCORD_BOT_TOKEN", "DISCORD_TOKEN"); ok {
		cfg.Chat.Token = tok
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// single error listing all validation failures found, tagged as a
// configuration error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Chat.Token == "" {
		errs = append(errs, errors.New("chat token is required; set DISCORD_BOT_TOKEN"))
	}
	if cfg.Chat.WatchChannelID == 0 {
		errs = append(errs, errors.New("chat.watch_channel_id is required"))
	}
	if cfg.Chat.OutputChannelID == 0 {
		errs = append(errs, errors.New("chat.output_channel_id is required"))
	}

	if cfg.Source.BotID == "" {
		errs = append(errs, errors.New("source.bot_id is required"))
	}
	if len(cfg.Source.DomainAllowlist) == 0 {
		errs = append(errs, errors.New("source.domain_allowlist must contain at least one host"))
	}
	if cfg.Source.DownloadTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("source.download_timeout_sec %d must be positive", cfg.Source.DownloadTimeoutSec))
	}
	if cfg.Source.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("source.max_retries %d must not be negative", cfg.Source.MaxRetries))
	}

	if cfg.Recognizer.Model == "" {
		errs = append(errs, errors.New("recognizer.model is required"))
	}
	if !slices.Contains(validDevices, cfg.Recognizer.Device) {
		errs = append(errs, fmt.Errorf("recognizer.device %q is invalid; valid values: %s",
			cfg.Recognizer.Device, strings.Join(validDevices, ", ")))
	}
	if !slices.Contains(validComputeTypes, cfg.Recognizer.ComputeType) {
		errs = append(errs, fmt.Errorf("recognizer.compute_type %q is invalid; valid values: %s",
			cfg.Recognizer.ComputeType, strings.Join(validComputeTypes, ", ")))
	}
	if cfg.Recognizer.BeamSize <= 0 {
		errs = append(errs, fmt.Errorf("recognizer.beam_size %d must be positive", cfg.Recognizer.BeamSize))
	}

	if cfg.Merger.GapMergeThresholdSec < 0 {
		errs = append(errs, fmt.Errorf("merger.gap_merge_threshold_sec %.2f must not be negative", cfg.Merger.GapMergeThresholdSec))
	}

	if cfg.Generator.Model == "" {
		errs = append(errs, errors.New("generator.model is required"))
	}
	if cfg.Generator.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("generator.max_tokens %d must be positive", cfg.Generator.MaxTokens))
	}
	if cfg.Generator.Temperature < 0 || cfg.Generator.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generator.temperature %.2f is out of range [0, 2]", cfg.Generator.Temperature))
	}
	if cfg.Generator.PromptTemplatePath == "" {
		errs = append(errs, errors.New("generator.prompt_template_path is required"))
	}
	if cfg.Generator.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("generator.max_retries %d must not be negative", cfg.Generator.MaxRetries))
	}
	if cfg.Generator.Provider != "" && !slices.Contains(ValidProviderNames, cfg.Generator.Provider) {
		slog.Warn("unknown LLM provider name, may be a typo or third-party provider",
			"name", cfg.Generator.Provider,
			"known", ValidProviderNames,
		)
	}

	if cfg.Publisher.MaxEmbedLength <= 0 {
		errs = append(errs, fmt.Errorf("publisher.max_embed_length %d must be positive", cfg.Publisher.MaxEmbedLength))
	}

	if cfg.Drive.Enabled {
		if cfg.Drive.FolderID == "" {
			errs = append(errs, errors.New("drive.folder_id is required when drive.enabled is true"))
		}
		if cfg.Drive.PollIntervalSec <= 0 {
			errs = append(errs, fmt.Errorf("drive.poll_interval_sec %d must be positive", cfg.Drive.PollIntervalSec))
		}
		if cfg.Drive.StateFile == "" {
			errs = append(errs, errors.New("drive.state_file is required when drive.enabled is true"))
		}
	}

	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}
	if cfg.Logging.File != "" && cfg.Logging.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("logging.max_bytes %d must be positive when logging.file is set", cfg.Logging.MaxBytes))
	}

	if err := errors.Join(errs...); err != nil {
		return minutes.WrapErr(minutes.StageConfig, minutes.ErrConfig, err)
	}
	return nil
}

// applyEnvOverrides walks the two-level config structure and overrides any
// field whose SECTION_KEY environment variable is set. SECTION and KEY are
// the upper-cased yaml tags of the section and field.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	root := reflect.ValueOf(cfg).Elem()
	rootType := root.Type()
	for i := 0; i < root.NumField(); i++ {
		section := yamlName(rootType.Field(i))
		if section == "" {
			continue
		}
		sv := root.Field(i)
		st := sv.Type()
		for j := 0; j < st.NumField(); j++ {
			key := yamlName(st.Field(j))
			if key == "" {
				continue
			}
			env := strings.ToUpper(section) + "_" + strings.ToUpper(key)
			raw, ok := os.LookupEnv(env)
			if !ok {
				continue
			}
			if err := setFromString(sv.Field(j), raw); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", env, err))
			}
		}
	}
	return errors.Join(errs...)
}

func yamlName(f reflect.StructField) string {
	tag, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if tag == "-" {
		return ""
	}
	return tag
}

func setFromString(f reflect.Value, raw string) error {
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse bool %q: %w", raw, err)
		}
		f.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse int %q: %w", raw, err)
		}
		f.SetInt(n)
	case reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse uint %q: %w", raw, err)
		}
		f.SetUint(n)
	case reflect.Float64:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parse float %q: %w", raw, err)
		}
		f.SetFloat(n)
	case reflect.Slice:
		if f.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", f.Type())
		}
		parts := strings.Split(raw, ",")
		out := reflect.MakeSlice(f.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p).Convert(f.Type().Elem()))
			}
		}
		f.Set(out)
	default:
		return fmt.Errorf("unsupported field kind %s", f.Kind())
	}
	return nil
}

func lookupFirst(names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := os.LookupEnv(n); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
