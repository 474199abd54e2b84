package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RootConfig is the on-disk configuration file: named profiles plus the
// default selection. Lab rooms carry different audio hardware, so each room
// gets its own profile.
type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

// ConfigProfile is one named configuration profile; unset fields fall back
// to the default profile.
type ConfigProfile struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
	Audio       AudioConfig       `mapstructure:"audio" yaml:"audio"`
	Recording   RecordingConfig   `mapstructure:"recording" yaml:"recording"`
	Sequence    SequenceConfig    `mapstructure:"sequence" yaml:"sequence"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// Config is a fully resolved profile.
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
	Audio       AudioConfig       `mapstructure:"audio" yaml:"audio"`
	Recording   RecordingConfig   `mapstructure:"recording" yaml:"recording"`
	Sequence    SequenceConfig    `mapstructure:"sequence" yaml:"sequence"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// CoordinatorConfig points the clients at the session coordinator.
type CoordinatorConfig struct {
	BaseURL             string `mapstructure:"base_url" yaml:"base_url"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	PushBackoffMinMS    int    `mapstructure:"push_backoff_min_ms" yaml:"push_backoff_min_ms"`
	PushBackoffMaxMS    int    `mapstructure:"push_backoff_max_ms" yaml:"push_backoff_max_ms"`
}

// AudioConfig configures the cue player.
type AudioConfig struct {
	MediaDirectory string `mapstructure:"media_directory" yaml:"media_directory"`
	BeepFile       string `mapstructure:"beep_file" yaml:"beep_file"`
	Player         string `mapstructure:"player" yaml:"player"`
}

// RecordingConfig configures the capture resource.
type RecordingConfig struct {
	Directory  string `mapstructure:"directory" yaml:"directory"`
	Format     string `mapstructure:"format" yaml:"format"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Binary     string `mapstructure:"binary" yaml:"binary"`
	Source     string `mapstructure:"source" yaml:"source"`
}

// SequenceConfig tunes sequencer behavior.
type SequenceConfig struct {
	CompletionRetries   int `mapstructure:"completion_retries" yaml:"completion_retries"`
	CompletionBackoffMS int `mapstructure:"completion_backoff_ms" yaml:"completion_backoff_ms"`
}

// LogConfig configures the log sinks.
type LogConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

var defaultConfig = Config{
	Coordinator: CoordinatorConfig{
		BaseURL:             "http://localhost:8090",
		PollIntervalSeconds: 30,
		PushBackoffMinMS:    1000,
		PushBackoffMaxMS:    30000,
	},
	Audio: AudioConfig{
		MediaDirectory: filepath.Join(os.Getenv("HOME"), "StudyFlow", "Media"),
		BeepFile:       "beep.wav",
	},
	Recording: RecordingConfig{
		Directory:  filepath.Join(os.Getenv("HOME"), "StudyFlow", "Recordings"),
		Format:     "wav",
		SampleRate: 48000,
	},
	Sequence: SequenceConfig{
		CompletionRetries:   3,
		CompletionBackoffMS: 2000,
	},
}

// Default returns a copy of the built-in defaults, for commands that run
// without a config file.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// PollInterval returns the reconciliation interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Coordinator.PollIntervalSeconds) * time.Second
}

// LoadWithProfile reads the config file and resolves the requested profile
// (or the file's active_config, or "default") against the default profile.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", configFile, err)
	}

	configName := profile
	if configName == "" {
		configName = root.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := root.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	resolved := profileToConfig(selected)
	if configName != "default" {
		if def, ok := root.Configs["default"]; ok {
			base := profileToConfig(def)
			resolved = mergeConfigs(base, resolved)
		}
	}
	resolved = mergeConfigs(Default(), resolved)

	resolved.Audio.MediaDirectory = expandPath(resolved.Audio.MediaDirectory)
	resolved.Recording.Directory = expandPath(resolved.Recording.Directory)
	if resolved.Log.File != "" {
		resolved.Log.File = expandPath(resolved.Log.File)
	}

	if err := Validate(resolved); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return resolved, nil
}

// UpdateActiveConfig rewrites the active_config field in the config file.
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	v.Set("active_config", newActiveConfig)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// Validate rejects configurations the runtime cannot operate on.
func Validate(cfg *Config) error {
	if cfg.Coordinator.BaseURL == "" {
		return fmt.Errorf("coordinator.base_url is required")
	}
	if !strings.HasPrefix(cfg.Coordinator.BaseURL, "http://") && !strings.HasPrefix(cfg.Coordinator.BaseURL, "https://") {
		return fmt.Errorf("coordinator.base_url must be an http(s) URL, got %q", cfg.Coordinator.BaseURL)
	}
	if cfg.Coordinator.PollIntervalSeconds <= 0 {
		return fmt.Errorf("coordinator.poll_interval_seconds must be positive")
	}
	switch cfg.Recording.Format {
	case "wav", "flac", "ogg":
	default:
		return fmt.Errorf("recording.format must be wav, flac, or ogg, got %q", cfg.Recording.Format)
	}
	if cfg.Recording.SampleRate <= 0 {
		return fmt.Errorf("recording.sample_rate must be positive")
	}
	return nil
}

func profileToConfig(p *ConfigProfile) *Config {
	return &Config{
		Coordinator: p.Coordinator,
		Audio:       p.Audio,
		Recording:   p.Recording,
		Sequence:    p.Sequence,
		Log:         p.Log,
	}
}

// mergeConfigs overlays profile-specific values on a base; unset profile
// fields inherit from the base.
func mergeConfigs(base, overlay *Config) *Config {
	result := *base

	if overlay.Coordinator.BaseURL != "" {
		result.Coordinator.BaseURL = overlay.Coordinator.BaseURL
	}
	if overlay.Coordinator.PollIntervalSeconds != 0 {
		result.Coordinator.PollIntervalSeconds = overlay.Coordinator.PollIntervalSeconds
	}
	if overlay.Coordinator.PushBackoffMinMS != 0 {
		result.Coordinator.PushBackoffMinMS = overlay.Coordinator.PushBackoffMinMS
	}
	if overlay.Coordinator.PushBackoffMaxMS != 0 {
		result.Coordinator.PushBackoffMaxMS = overlay.Coordinator.PushBackoffMaxMS
	}

	if overlay.Audio.MediaDirectory != "" {
		result.Audio.MediaDirectory = overlay.Audio.MediaDirectory
	}
	if overlay.Audio.BeepFile != "" {
		result.Audio.BeepFile = overlay.Audio.BeepFile
	}
	if overlay.Audio.Player != "" {
		result.Audio.Player = overlay.Audio.Player
	}

	if overlay.Recording.Directory != "" {
		result.Recording.Directory = overlay.Recording.Directory
	}
	if overlay.Recording.Format != "" {
		result.Recording.Format = overlay.Recording.Format
	}
	if overlay.Recording.SampleRate != 0 {
		result.Recording.SampleRate = overlay.Recording.SampleRate
	}
	if overlay.Recording.Binary != "" {
		result.Recording.Binary = overlay.Recording.Binary
	}
	if overlay.Recording.Source != "" {
		result.Recording.Source = overlay.Recording.Source
	}

	if overlay.Sequence.CompletionRetries != 0 {
		result.Sequence.CompletionRetries = overlay.Sequence.CompletionRetries
	}
	if overlay.Sequence.CompletionBackoffMS != 0 {
		result.Sequence.CompletionBackoffMS = overlay.Sequence.CompletionBackoffMS
	}

	if overlay.Log.File != "" {
		result.Log.File = overlay.Log.File
	}

	return &result
}

// expandPath expands a leading tilde to the home directory.
func expandPath(path string) string {
	if path == "~" {
		return os.Getenv("HOME")
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(os.Getenv("HOME"), path[2:])
	}
	return path
}
