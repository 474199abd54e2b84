package audio

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Status represents the current state of the capture resource.
type Status string

const (
	StatusStandby   Status = "STANDBY"
	StatusRecording Status = "RECORDING"
	StatusError     Status = "ERROR"
)

// CaptureOptions configures the subprocess-backed capture.
type CaptureOptions struct {
	// Binary is the capture command; empty autodetects ffmpeg, then parecord,
	// then arecord.
	Binary string
	// Source is the input device or pulse source name; empty uses the
	// binary's default input.
	Source string
	// OutputDir receives the capture files.
	OutputDir string
	// Format is the output container extension (wav, flac, ogg).
	Format string
	// SampleRate in Hz; 0 uses 48000.
	SampleRate int
}

// CaptureInfo describes the current capture session.
type CaptureInfo struct {
	Label      string    `json:"label"`
	StartTime  time.Time `json:"start_time"`
	OutputFile string    `json:"output_file"`
}

// SubprocessCapture records audio by running an external capture command.
// The capture resource is exclusively owned: starting a new session stops
// the previous one first.
type SubprocessCapture struct {
	opts   CaptureOptions
	binary string
	log    *slog.Logger

	mu      sync.Mutex
	status  Status
	session *CaptureInfo
	cmd     *exec.Cmd
}

var captureBinaries = []string{"ffmpeg", "parecord", "arecord"}

// NewSubprocessCapture locates a usable capture binary.
func NewSubprocessCapture(opts CaptureOptions, log *slog.Logger) (*SubprocessCapture, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Format == "" {
		opts.Format = "wav"
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 48000
	}
	binary := opts.Binary
	if binary == "" {
		found := ""
		for _, b := range captureBinaries {
			if _, err := exec.LookPath(b); err == nil {
				found = b
				break
			}
		}
		if found == "" {
			return nil, fmt.Errorf("no capture command found (tried: %s)", strings.Join(captureBinaries, ", "))
		}
		binary = found
	} else if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("configured capture command %q not found: %w", binary, err)
	}
	return &SubprocessCapture{opts: opts, binary: binary, log: log, status: StatusStandby}, nil
}

// Start begins a capture session labeled for later identification in the
// output directory.
func (c *SubprocessCapture) Start(label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Stop-and-reset any previous owner before acquiring the resource.
	if c.cmd != nil {
		c.stopLocked()
	}

	if err := os.MkdirAll(c.opts.OutputDir, 0755); err != nil {
		c.status = StatusError
		return fmt.Errorf("create output directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.%s", cleanFileName(label), time.Now().Format("20060102_150405"), c.opts.Format)
	outputFile := filepath.Join(c.opts.OutputDir, name)

	cmd := c.captureCommand(outputFile)
	if err := cmd.Start(); err != nil {
		c.status = StatusError
		return fmt.Errorf("start %s: %w", c.binary, err)
	}

	c.cmd = cmd
	c.status = StatusRecording
	c.session = &CaptureInfo{
		Label:      label,
		StartTime:  time.Now(),
		OutputFile: outputFile,
	}
	c.log.Info("capture started", "label", label, "output", outputFile, "binary", c.binary)
	return nil
}

// Stop ends the current capture session, giving the subprocess a grace
// period to flush before killing it.
func (c *SubprocessCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil {
		return nil
	}
	return c.stopLocked()
}

func (c *SubprocessCapture) stopLocked() error {
	cmd := c.cmd
	c.cmd = nil
	c.status = StatusStandby
	session := c.session
	c.session = nil

	if cmd.Process == nil {
		return nil
	}
	// Graceful first: capture commands finalize their container on SIGINT.
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		cmd.Process.Kill()
	}
	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()
	select {
	case <-waited:
	case <-time.After(3 * time.Second):
		cmd.Process.Kill()
		<-waited
	}
	if session != nil {
		c.log.Info("capture stopped", "label", session.Label, "output", session.OutputFile)
	}
	return nil
}

// GetStatus returns the current status and session info.
func (c *SubprocessCapture) GetStatus() (Status, *CaptureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return c.status, nil
	}
	info := *c.session
	return c.status, &info
}

func (c *SubprocessCapture) captureCommand(outputFile string) *exec.Cmd {
	rate := fmt.Sprintf("%d", c.opts.SampleRate)
	switch c.binary {
	case "ffmpeg":
		args := []string{"-hide_banner", "-loglevel", "error", "-f", "pulse", "-i", "default"}
		if c.opts.Source != "" {
			args[len(args)-1] = c.opts.Source
		}
		args = append(args, "-ar", rate, "-y", outputFile)
		return exec.Command("ffmpeg", args...)
	case "parecord":
		args := []string{"--rate", rate, "--file-format", c.opts.Format}
		if c.opts.Source != "" {
			args = append(args, "--device", c.opts.Source)
		}
		args = append(args, outputFile)
		return exec.Command("parecord", args...)
	default:
		return exec.Command(c.binary, "-r", rate, "-f", "cd", outputFile)
	}
}

// cleanFileName strips characters that do not belong in a file name and
// replaces spaces with underscores.
func cleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}
