package audio

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// PlayerOptions configures the external cue player.
type PlayerOptions struct {
	// MediaDir is the directory media refs resolve against.
	MediaDir string
	// BeepFile is the short cue tone, resolved against MediaDir. Empty
	// disables the tone (Beep callbacks still fire).
	BeepFile string
	// Binary forces a specific player binary; empty autodetects.
	Binary string
}

// ExternalPlayer plays audio resources through an installed command-line
// player. One media playback is live at a time; starting a new one stops the
// previous owner of the output first.
type ExternalPlayer struct {
	opts   PlayerOptions
	binary string
	log    *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	beepCmd *exec.Cmd
	// Generation counters invalidate waiter goroutines of stopped playbacks
	// so their done callbacks are never delivered after Stop returns. Media
	// and cue-tone playbacks are tracked separately; a beep must not suppress
	// the live media completion handler.
	playGen uint64
	beepGen uint64
}

// preferred players, in order. Matches what lab machines commonly have.
var playerBinaries = []string{"mpv", "ffplay", "vlc", "paplay", "aplay"}

// NewExternalPlayer locates a usable player binary.
func NewExternalPlayer(opts PlayerOptions, log *slog.Logger) (*ExternalPlayer, error) {
	if log == nil {
		log = slog.Default()
	}
	binary := opts.Binary
	if binary == "" {
		found, err := findPlayerBinary()
		if err != nil {
			return nil, err
		}
		binary = found
	} else if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("configured player %q not found: %w", binary, err)
	}
	return &ExternalPlayer{opts: opts, binary: binary, log: log}, nil
}

func findPlayerBinary() (string, error) {
	for _, p := range playerBinaries {
		if _, err := exec.LookPath(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(playerBinaries, ", "))
}

// Play starts playback of ref and returns an error if it cannot start. done
// fires exactly once, from the waiter goroutine, when playback finishes.
func (p *ExternalPlayer) Play(ref string, done func(err error)) error {
	path := filepath.Join(p.opts.MediaDir, filepath.Base(ref))
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("media not found: %s", path)
	}

	p.mu.Lock()
	p.stopLocked()
	cmd := p.playCommand(path)
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("start %s: %w", p.binary, err)
	}
	p.cmd = cmd
	p.playGen++
	gen := p.playGen
	p.mu.Unlock()

	p.log.Debug("playback started", "media", path, "player", p.binary)
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		if p.playGen != gen {
			// Stopped or superseded; the owner already moved on.
			p.mu.Unlock()
			return
		}
		p.cmd = nil
		p.mu.Unlock()
		if err != nil {
			done(fmt.Errorf("playback of %s failed: %w", filepath.Base(path), err))
			return
		}
		done(nil)
	}()
	return nil
}

// Beep plays the cue tone. done (if non-nil) fires from a separate goroutine
// even when the tone is disabled or broken, so the caller's sequencing never
// stalls on it.
func (p *ExternalPlayer) Beep(done func()) {
	finish := func() {
		if done != nil {
			done()
		}
	}
	if p.opts.BeepFile == "" {
		go finish()
		return
	}
	path := filepath.Join(p.opts.MediaDir, p.opts.BeepFile)

	p.mu.Lock()
	if p.beepCmd != nil && p.beepCmd.Process != nil {
		p.beepCmd.Process.Kill()
		p.beepCmd = nil
	}
	cmd := p.playCommand(path)
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		p.log.Warn("cue tone failed to start", "file", path, "error", err)
		go finish()
		return
	}
	p.beepCmd = cmd
	p.beepGen++
	gen := p.beepGen
	p.mu.Unlock()

	go func() {
		if err := cmd.Wait(); err != nil {
			p.log.Warn("cue tone playback failed", "file", path, "error", err)
		}
		p.mu.Lock()
		suppressed := p.beepGen != gen
		if !suppressed {
			p.beepCmd = nil
		}
		p.mu.Unlock()
		if !suppressed {
			finish()
		}
	}()
}

// Stop interrupts any current playback. Pending done callbacks are
// invalidated before this returns.
func (p *ExternalPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *ExternalPlayer) stopLocked() {
	p.playGen++
	p.beepGen++
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
		p.cmd = nil
	}
	if p.beepCmd != nil && p.beepCmd.Process != nil {
		p.beepCmd.Process.Kill()
		p.beepCmd = nil
	}
}

func (p *ExternalPlayer) playCommand(path string) *exec.Cmd {
	switch p.binary {
	case "vlc":
		return exec.Command("vlc", "--intf", "dummy", "--play-and-exit", path)
	case "mpv":
		return exec.Command("mpv", "--no-video", "--really-quiet", path)
	case "ffplay":
		return exec.Command("ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", path)
	default:
		return exec.Command(p.binary, path)
	}
}
