package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrNotStarted is returned by Level before the capture loop has
	// produced its first sample.
	ErrNotStarted = errors.New("audio: capture not started")

	// ErrStale is returned by Level when the capture process has stopped
	// delivering samples.
	ErrStale = errors.New("audio: no recent samples")
)

const (
	defaultBinary       = "arecord"
	defaultRestartDelay = 2 * time.Second
	defaultStaleAfter   = 1 * time.Second
)

// LevelSource yields the most recent amplitude level for one input.
type LevelSource interface {
	Level() (float64, error)
}

// Logger defines the logging interface for the capture supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CaptureConfig holds configuration for one capture subprocess.
type CaptureConfig struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Device is the ALSA device name, e.g. "plughw:1,0".
	Device string

	// Binary is the capture executable. Empty means "arecord".
	Binary string

	// SampleRate in Hz.
	SampleRate int

	// ChunkSize is the number of samples folded into one level reading.
	ChunkSize int

	// RestartDelay is the pause before relaunching after the process exits.
	RestartDelay time.Duration

	// StaleAfter bounds how old the last sample may be before Level
	// reports a failure.
	StaleAfter time.Duration

	Logger Logger
}

// Capture supervises one arecord subprocess and folds its raw S16_LE stream
// into a continuously refreshed amplitude level.
//
// The subprocess is restarted whenever it exits, until the Run context is
// cancelled. An unplugged or busy device therefore degrades to stale levels
// rather than a dead monitor.
type Capture struct {
	cfg CaptureConfig

	mu         sync.RWMutex
	level      float64
	lastSample time.Time
	lastError  error
	restarts   int
}

// NewCapture creates a capture supervisor. Run must be called to start it.
func NewCapture(cfg CaptureConfig) *Capture {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Capture{cfg: cfg}
}

// Level returns the most recent amplitude reading. It fails when no sample
// has arrived yet, or when the stream has gone quiet for longer than the
// staleness bound.
func (c *Capture) Level() (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastSample.IsZero() {
		if c.lastError != nil {
			return 0, fmt.Errorf("%w: %v", ErrNotStarted, c.lastError)
		}
		return 0, ErrNotStarted
	}
	if time.Since(c.lastSample) > c.cfg.StaleAfter {
		if c.lastError != nil {
			return 0, fmt.Errorf("%w: %v", ErrStale, c.lastError)
		}
		return 0, ErrStale
	}
	return c.level, nil
}

// Restarts returns how many times the subprocess has been relaunched.
func (c *Capture) Restarts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.restarts
}

// Run launches and supervises the capture subprocess until the context is
// cancelled. Call in its own goroutine.
func (c *Capture) Run(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.mu.Lock()
			c.restarts++
			c.mu.Unlock()
			c.cfg.Logger.Info("restarting capture",
				"name", c.cfg.Name,
				"attempt", attempt,
				"delay", c.cfg.RestartDelay,
			)
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.lastError = err
		c.mu.Unlock()
		c.cfg.Logger.Warn("capture process exited",
			"name", c.cfg.Name,
			"device", c.cfg.Device,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RestartDelay):
		}
	}
}

// runOnce starts one subprocess and consumes its stream until it exits.
func (c *Capture) runOnce(ctx context.Context) error {
	args := []string{
		"-q",
		"-D", c.cfg.Device,
		"-f", "S16_LE",
		"-c", "1",
		"-r", strconv.Itoa(c.cfg.SampleRate),
		"-t", "raw",
	}

	cmd := exec.CommandContext(ctx, c.cfg.Binary, args...)

	// Own process group so shutdown signals the whole subtree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", c.cfg.Binary, err)
	}

	c.cfg.Logger.Info("capture started",
		"name", c.cfg.Name,
		"device", c.cfg.Device,
		"pid", cmd.Process.Pid,
	)

	readErr := c.consume(stdout)
	waitErr := cmd.Wait()

	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("%s exited: %w", c.cfg.Binary, waitErr)
	}
	return fmt.Errorf("%s stream ended", c.cfg.Binary)
}

// consume reads fixed chunks from the raw stream and publishes their level.
func (c *Capture) consume(r io.Reader) error {
	buf := make([]byte, c.cfg.ChunkSize*bytesPerSample)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}

		level := meanAbsLevel(buf)
		c.mu.Lock()
		c.level = level
		c.lastSample = time.Now()
		c.lastError = nil
		c.mu.Unlock()
	}
}
