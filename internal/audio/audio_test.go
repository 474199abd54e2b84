package audio

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCleanFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"baseline-rest/step-2", "baseline-reststep-2"},
		{"My Recording", "My_Recording"},
		{"weird!@#chars", "weirdchars"},
		{"  padded  ", "padded"},
		{"under_score-ok123", "under_score-ok123"},
	}
	for _, tt := range tests {
		if got := cleanFileName(tt.in); got != tt.want {
			t.Errorf("cleanFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewExternalPlayerRejectsMissingBinary(t *testing.T) {
	_, err := NewExternalPlayer(PlayerOptions{Binary: "player-that-does-not-exist"}, nil)
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestPlayMissingMedia(t *testing.T) {
	p := &ExternalPlayer{opts: PlayerOptions{MediaDir: t.TempDir()}, binary: "mpv", log: testLogger()}
	err := p.Play("nope.mp3", func(error) { t.Error("done fired for a failed start") })
	if err == nil || !strings.Contains(err.Error(), "media not found") {
		t.Fatalf("Play = %v, want media-not-found", err)
	}
}

func TestBeepWithoutToneStillFires(t *testing.T) {
	p := &ExternalPlayer{opts: PlayerOptions{}, binary: "mpv", log: testLogger()}
	done := make(chan struct{})
	p.Beep(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("beep callback never fired with tone disabled")
	}
}

func TestCaptureCommandArguments(t *testing.T) {
	tests := []struct {
		name   string
		binary string
		opts   CaptureOptions
		want   []string
	}{
		{
			name:   "ffmpeg default source",
			binary: "ffmpeg",
			opts:   CaptureOptions{SampleRate: 48000},
			want:   []string{"-f", "pulse", "-i", "default", "-ar", "48000"},
		},
		{
			name:   "ffmpeg named source",
			binary: "ffmpeg",
			opts:   CaptureOptions{Source: "alsa_input.booth", SampleRate: 44100},
			want:   []string{"-i", "alsa_input.booth", "-ar", "44100"},
		},
		{
			name:   "parecord with device",
			binary: "parecord",
			opts:   CaptureOptions{Source: "mic", Format: "flac", SampleRate: 48000},
			want:   []string{"--rate", "48000", "--file-format", "flac", "--device", "mic"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &SubprocessCapture{opts: tt.opts, binary: tt.binary, log: testLogger()}
			cmd := c.captureCommand("/tmp/out.wav")
			joined := strings.Join(cmd.Args, " ")
			for i := 0; i+1 < len(tt.want); i += 2 {
				pair := tt.want[i] + " " + tt.want[i+1]
				if !strings.Contains(joined, pair) {
					t.Errorf("args %q missing %q", joined, pair)
				}
			}
			if cmd.Args[len(cmd.Args)-1] != "/tmp/out.wav" {
				t.Errorf("output file not last argument: %v", cmd.Args)
			}
		})
	}
}

func TestPlayCommandPerBinary(t *testing.T) {
	tests := []struct {
		binary string
		want   string
	}{
		{"mpv", "--no-video"},
		{"ffplay", "-autoexit"},
		{"vlc", "--play-and-exit"},
		{"paplay", "test.wav"},
	}
	for _, tt := range tests {
		p := &ExternalPlayer{binary: tt.binary, log: testLogger()}
		cmd := p.playCommand("test.wav")
		if !strings.Contains(strings.Join(cmd.Args, " "), tt.want) {
			t.Errorf("%s args %v missing %q", tt.binary, cmd.Args, tt.want)
		}
	}
}
