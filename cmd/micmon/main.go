// micmon - dual microphone activity monitor
//
// micmon samples two microphones, detects activity against an amplitude
// threshold and publishes edge-triggered state messages over MQTT. A
// terminal display shows live levels and broker health; an active liveness
// probe keeps the connection honest even when the broker lies about it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nerrad567/micmon/internal/audio"
	"github.com/nerrad567/micmon/internal/history"
	"github.com/nerrad567/micmon/internal/infrastructure/config"
	"github.com/nerrad567/micmon/internal/infrastructure/logging"
	"github.com/nerrad567/micmon/internal/infrastructure/mqtt"
	"github.com/nerrad567/micmon/internal/monitor"
	"github.com/nerrad567/micmon/internal/probe"
	"github.com/nerrad567/micmon/internal/telemetry"
	"github.com/nerrad567/micmon/internal/ui"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownDrain gives in-flight monitor and probe ticks a moment to finish
// after cancellation, before the connection announces offline and the
// stores close.
const shutdownDrain = 500 * time.Millisecond

// shutdown tears the wiring down in a fixed order: stop the periodic loops,
// wait for in-flight ticks, then run the closers in reverse registration
// order so the broker connection (registered last) announces offline before
// the stores it feeds are closed.
type shutdown struct {
	cancel  context.CancelFunc
	drain   time.Duration
	closers []func()
}

func (s *shutdown) add(fn func()) {
	s.closers = append(s.closers, fn)
}

func (s *shutdown) run() {
	s.cancel()
	time.Sleep(s.drain)
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// options holds the parsed command line.
type options struct {
	configPath  string
	listDevices bool
	leftDevice  string
	rightDevice string
	simulate    bool
	headless    bool
	showVersion bool
}

func main() {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("micmon %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", getConfigPath(), "path to configuration file")
	flag.BoolVar(&opts.listDevices, "list-devices", false, "list ALSA capture devices and exit")
	flag.StringVar(&opts.leftDevice, "left", "", "ALSA device for the left microphone (persisted)")
	flag.StringVar(&opts.rightDevice, "right", "", "ALSA device for the right microphone (persisted)")
	flag.BoolVar(&opts.simulate, "simulate", false, "use synthetic audio sources instead of hardware")
	flag.BoolVar(&opts.headless, "headless", false, "run without the terminal display")
	flag.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	flag.Parse()
	return opts
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context, opts options) error {
	log := logging.Default()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.listDevices {
		return printDevices(ctx, cfg.Audio.CaptureBinary)
	}

	if err := applyDeviceSelection(cfg, opts); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting micmon",
		"version", version,
		"commit", commit,
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
	)

	// Cancelling stops every monitor goroutine when the display quits;
	// sd keeps the loops ahead of the stores they write to on the way out.
	ctx, cancel := context.WithCancel(ctx)
	sd := &shutdown{cancel: cancel, drain: shutdownDrain}
	defer sd.run()

	// History store (optional)
	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(history.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		sd.add(func() {
			if closeErr := store.Close(); closeErr != nil {
				log.Error("closing history", "error", closeErr)
			}
		})
		if err := store.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history store unhealthy: %w", err)
		}
		if cfg.History.RetentionDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -cfg.History.RetentionDays)
			removed, pruneErr := store.Prune(ctx, cutoff)
			if pruneErr != nil {
				log.Warn("pruning history", "error", pruneErr)
			} else if removed > 0 {
				log.Info("pruned old transitions", "removed", removed)
			}
		}
		log.Info("history enabled", "path", store.Path())
	}

	// Telemetry sink (optional)
	var sink *telemetry.Client
	if cfg.Telemetry.Enabled {
		sink, err = telemetry.Connect(cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting telemetry: %w", err)
		}
		sink.SetOnError(func(writeErr error) {
			log.Warn("telemetry write failed", "error", writeErr)
		})
		sd.add(func() {
			sink.Flush()
			if closeErr := sink.Close(); closeErr != nil {
				log.Error("closing telemetry", "error", closeErr)
			}
		})
		if err := sink.HealthCheck(ctx); err != nil {
			return fmt.Errorf("telemetry sink unhealthy: %w", err)
		}
		log.Info("telemetry enabled", "url", cfg.Telemetry.URL, "bucket", cfg.Telemetry.Bucket)
	}

	// MQTT connection. A failed first attempt is not fatal: the probe
	// notices and forces reconnection once the broker is reachable.
	conn := mqtt.NewConn(cfg.MQTT, log.With("component", "mqtt"))
	if err := conn.Connect(); err != nil {
		log.Warn("initial broker connection failed", "error", err)
	}
	sd.add(func() {
		conn.Disconnect()
		log.Info("broker connection closed")
	})

	go probe.New(conn, probe.DefaultInterval, log.With("component", "probe")).Run(ctx)

	// Audio sources
	sources, err := buildSources(ctx, cfg, log)
	if err != nil {
		return err
	}

	tracker := monitor.NewTracker()
	mon, err := monitor.New(monitor.Options{
		Topics:    [monitor.NumChannels]string{cfg.MQTT.Topics.Left, cfg.MQTT.Topics.Right},
		Threshold: cfg.Audio.Threshold,
		Interval:  cfg.GetCheckInterval(),
		Reader:    channelReader{sources: sources},
		Conn:      conn,
		Tracker:   tracker,
		History:   buildRecorder(store, sink),
		Telemetry: buildTelemetrySink(sink),
		Logger:    log.With("component", "monitor"),
	})
	if err != nil {
		return fmt.Errorf("creating monitor: %w", err)
	}
	go mon.Run(ctx)

	if opts.headless {
		log.Info("running headless")
		<-ctx.Done()
		return nil
	}

	program := tea.NewProgram(
		ui.NewModel(tracker, buildTransitionSource(store), cfg.Audio.Threshold, cfg.GetRefreshRate()),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running display: %w", err)
	}
	return nil
}

// printDevices writes the capture device list to stdout.
func printDevices(ctx context.Context, binary string) error {
	devices, err := audio.ListDevices(ctx, binary)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no capture devices found")
		return nil
	}
	for _, d := range devices {
		fmt.Println(d)
	}
	return nil
}

// applyDeviceSelection merges -left/-right flags into the config and
// persists the choice for subsequent runs.
func applyDeviceSelection(cfg *config.Config, opts options) error {
	if opts.simulate {
		cfg.Audio.Simulate = true
	}

	changed := false
	if opts.leftDevice != "" && opts.leftDevice != cfg.Audio.LeftDevice {
		cfg.Audio.LeftDevice = opts.leftDevice
		changed = true
	}
	if opts.rightDevice != "" && opts.rightDevice != cfg.Audio.RightDevice {
		cfg.Audio.RightDevice = opts.rightDevice
		changed = true
	}
	if changed {
		if err := cfg.Save(opts.configPath); err != nil {
			return fmt.Errorf("persisting device selection: %w", err)
		}
	}

	if cfg.Audio.Simulate {
		return nil
	}
	if cfg.Audio.LeftDevice == "" || cfg.Audio.RightDevice == "" {
		return fmt.Errorf("no microphones selected: run with -list-devices, then -left and -right (or -simulate)")
	}
	return nil
}

// buildSources starts one capture supervisor per channel, or two simulators.
func buildSources(ctx context.Context, cfg *config.Config, log *logging.Logger) ([monitor.NumChannels]audio.LevelSource, error) {
	var sources [monitor.NumChannels]audio.LevelSource

	if cfg.Audio.Simulate {
		log.Info("using simulated audio sources")
		period := 10 * time.Second
		sources[monitor.ChannelLeft] = audio.NewSimulator(cfg.Audio.Threshold*1.6, period, 0.4, 0)
		sources[monitor.ChannelRight] = audio.NewSimulator(cfg.Audio.Threshold*1.6, period, 0.4, period/2)
		return sources, nil
	}

	devices := [monitor.NumChannels]string{cfg.Audio.LeftDevice, cfg.Audio.RightDevice}
	for ch := monitor.Channel(0); ch < monitor.NumChannels; ch++ {
		capture := audio.NewCapture(audio.CaptureConfig{
			Name:       ch.String(),
			Device:     devices[ch],
			Binary:     cfg.Audio.CaptureBinary,
			SampleRate: cfg.Audio.SampleRate,
			ChunkSize:  cfg.Audio.ChunkSize,
			Logger:     log.With("component", "audio", "channel", ch.String()),
		})
		go capture.Run(ctx)
		sources[ch] = capture
	}
	return sources, nil
}

// channelReader adapts per-channel level sources to the monitor loop.
type channelReader struct {
	sources [monitor.NumChannels]audio.LevelSource
}

func (r channelReader) ReadLevel(ch monitor.Channel) (float64, error) {
	return r.sources[ch].Level()
}

// transitionRecorder fans a state change out to every enabled sink.
type transitionRecorder struct {
	store *history.Store
	sink  *telemetry.Client
}

func (t transitionRecorder) Record(ctx context.Context, channel string, active bool, level float64, at time.Time) error {
	if t.sink != nil {
		t.sink.WriteTransition(channel, active, level)
	}
	if t.store != nil {
		return t.store.Record(ctx, channel, active, level, at)
	}
	return nil
}

// buildRecorder returns nil when no transition sink is enabled, so the
// monitor skips the work entirely.
func buildRecorder(store *history.Store, sink *telemetry.Client) monitor.Recorder {
	if store == nil && sink == nil {
		return nil
	}
	return transitionRecorder{store: store, sink: sink}
}

func buildTelemetrySink(sink *telemetry.Client) monitor.TelemetrySink {
	if sink == nil {
		return nil
	}
	return sink
}

func buildTransitionSource(store *history.Store) ui.TransitionSource {
	if store == nil {
		return nil
	}
	return store
}

// getConfigPath returns the config path from the environment or the default.
func getConfigPath() string {
	if path := os.Getenv("MICMON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
