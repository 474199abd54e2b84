package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studyflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const testConfig = `
active_config: booth-a
configs:
  default:
    coordinator:
      base_url: http://lab-server:8090
      poll_interval_seconds: 20
    audio:
      media_directory: /srv/media
      beep_file: beep.wav
    recording:
      directory: /srv/recordings
      format: flac
  booth-a:
    audio:
      player: mpv
    recording:
      source: alsa_input.booth_a
  booth-b:
    coordinator:
      base_url: http://backup-server:8090
`

func TestLoadWithProfileMergesOverDefault(t *testing.T) {
	path := writeConfig(t, testConfig)

	cfg, err := LoadWithProfile(path, "")
	if err != nil {
		t.Fatalf("LoadWithProfile: %v", err)
	}

	// active_config selects booth-a; unset fields inherit from the file's
	// default profile, then from the built-ins.
	if cfg.Coordinator.BaseURL != "http://lab-server:8090" {
		t.Errorf("BaseURL = %q", cfg.Coordinator.BaseURL)
	}
	if cfg.Audio.Player != "mpv" {
		t.Errorf("Player = %q", cfg.Audio.Player)
	}
	if cfg.Audio.MediaDirectory != "/srv/media" {
		t.Errorf("MediaDirectory = %q", cfg.Audio.MediaDirectory)
	}
	if cfg.Recording.Source != "alsa_input.booth_a" {
		t.Errorf("Source = %q", cfg.Recording.Source)
	}
	if cfg.Recording.Format != "flac" {
		t.Errorf("Format = %q", cfg.Recording.Format)
	}
	if cfg.Recording.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want built-in 48000", cfg.Recording.SampleRate)
	}
	if cfg.PollInterval() != 20*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval())
	}
}

func TestLoadWithProfileFlagOverridesActive(t *testing.T) {
	path := writeConfig(t, testConfig)
	cfg, err := LoadWithProfile(path, "booth-b")
	if err != nil {
		t.Fatalf("LoadWithProfile: %v", err)
	}
	if cfg.Coordinator.BaseURL != "http://backup-server:8090" {
		t.Errorf("BaseURL = %q", cfg.Coordinator.BaseURL)
	}
	// booth-b sets nothing else; the default profile still applies.
	if cfg.Audio.MediaDirectory != "/srv/media" {
		t.Errorf("MediaDirectory = %q", cfg.Audio.MediaDirectory)
	}
}

func TestLoadWithProfileUnknownProfile(t *testing.T) {
	path := writeConfig(t, testConfig)
	if _, err := LoadWithProfile(path, "booth-z"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("LoadWithProfile = %v, want profile-not-found error", err)
	}
}

func TestLoadWithProfileExpandsTilde(t *testing.T) {
	path := writeConfig(t, `
configs:
  default:
    audio:
      media_directory: ~/media
`)
	cfg, err := LoadWithProfile(path, "default")
	if err != nil {
		t.Fatalf("LoadWithProfile: %v", err)
	}
	want := filepath.Join(os.Getenv("HOME"), "media")
	if cfg.Audio.MediaDirectory != want {
		t.Errorf("MediaDirectory = %q, want %q", cfg.Audio.MediaDirectory, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults pass", func(*Config) {}, ""},
		{"missing base url", func(c *Config) { c.Coordinator.BaseURL = "" }, "base_url"},
		{"non-http url", func(c *Config) { c.Coordinator.BaseURL = "ftp://lab" }, "http(s)"},
		{"zero poll interval", func(c *Config) { c.Coordinator.PollIntervalSeconds = 0 }, "poll_interval"},
		{"bad format", func(c *Config) { c.Recording.Format = "mp3" }, "format"},
		{"zero sample rate", func(c *Config) { c.Recording.SampleRate = 0 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	path := writeConfig(t, testConfig)
	if err := UpdateActiveConfig(path, "booth-b"); err != nil {
		t.Fatalf("UpdateActiveConfig: %v", err)
	}
	cfg, err := LoadWithProfile(path, "")
	if err != nil {
		t.Fatalf("LoadWithProfile after update: %v", err)
	}
	if cfg.Coordinator.BaseURL != "http://backup-server:8090" {
		t.Errorf("BaseURL = %q, want booth-b's", cfg.Coordinator.BaseURL)
	}
}
