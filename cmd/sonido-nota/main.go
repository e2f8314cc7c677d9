// Command sonido-nota listens to a microphone or reads an audio file and
// reports the musical note or chord heard in each frame.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/sonido-nota/capture"
	"github.com/RyanBlaney/sonido-nota/detector"
	"github.com/RyanBlaney/sonido-nota/detector/config"
	"github.com/RyanBlaney/sonido-nota/logging"
	"github.com/RyanBlaney/sonido-nota/observe"
	"github.com/RyanBlaney/sonido-nota/transcode"
)

var version = "dev"

type options struct {
	configPath  string
	mode        string
	input       string
	device      string
	format      string
	logLevel    string
	metricsAddr string
	stableOnly  bool
	listDevices bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.listDevices {
		return listDevices(stdout, stderr)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "sonido-nota: %v\n", err)
		return 1
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.SetLevel(level)
	logger := logging.WithFields(logging.Fields{"component": "cli"})

	publisher, err := newPublisher(opts.format, opts.stableOnly, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "sonido-nota: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := openSource(ctx, cfg, opts)
	if err != nil {
		logger.Error(err, "Failed to open audio source", logging.Fields{"input": opts.input})
		return 1
	}
	if mic, ok := source.(*capture.PortAudioSource); ok {
		logger.Info("Listening on input device", logging.Fields{"device": mic.Device()})
	}

	sessionOpts := []detector.Option{detector.WithPublisher(publisher)}

	var shutdownMetrics func(context.Context) error
	if opts.metricsAddr != "" {
		shutdownMetrics, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			source.Close()
			logger.Error(err, "Failed to initialise metrics")
			return 1
		}
		sessionOpts = append(sessionOpts, detector.WithMetrics(observe.DefaultMetrics()))
	}

	session, err := detector.NewSession(cfg, source, sessionOpts...)
	if err != nil {
		source.Close()
		logger.Error(err, "Failed to create detection session")
		return 1
	}

	err = serve(ctx, session, opts.metricsAddr, logger)

	if shutdownMetrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := shutdownMetrics(shutdownCtx); serr != nil {
			logger.Warn("Metrics shutdown failed", logging.Fields{"error": serr.Error()})
		}
		cancel()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(err, "Detection session failed")
		return 1
	}
	if err := publisher.Err(); err != nil {
		logger.Error(err, "Failed to write results")
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("sonido-nota", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.configPath, "config", "", "path to a YAML configuration file (defaults are used when empty)")
	fs.StringVar(&o.mode, "mode", "", "detection mode: note or chord (overrides the config)")
	fs.StringVar(&o.input, "input", "", "audio file to analyse, \"-\" for stdin; the microphone is used when empty")
	fs.StringVar(&o.device, "device", "", "input device: 1-based index or name prefix (default device when empty)")
	fs.StringVar(&o.format, "format", "text", "output format: text or json")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides the config)")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	fs.BoolVar(&o.stableOnly, "stable-only", false, "in note mode print only stabilized notes")
	fs.BoolVar(&o.listDevices, "list-devices", false, "list audio input devices and exit")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 && o.input == "" {
		o.input = fs.Arg(0)
	}
	return o, nil
}

// loadConfig reads the config file, if any, and applies flag overrides
func loadConfig(o options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}

	if o.mode != "" {
		cfg.Mode = config.Mode(o.mode)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resultWriter is a publisher that records the first write error
type resultWriter interface {
	detector.Publisher
	Err() error
}

func newPublisher(format string, stableOnly bool, w io.Writer) (resultWriter, error) {
	switch strings.ToLower(format) {
	case "", "text":
		p := detector.NewTextPublisher(w)
		p.StableOnly = stableOnly
		return p, nil
	case "json":
		return detector.NewJSONPublisher(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// openSource picks the capture source: WAV files are read directly, any
// other file goes through ffmpeg, and no input means the microphone.
func openSource(ctx context.Context, cfg *config.Config, o options) (capture.Source, error) {
	switch {
	case o.input == "":
		return capture.OpenPortAudio(o.device, cfg.SampleRate, cfg.FrameSize)
	case strings.EqualFold(filepath.Ext(o.input), ".wav"):
		return capture.OpenWAV(o.input, cfg.SampleRate, cfg.FrameSize)
	}

	decoder := transcode.NewDecoder(cfg.DecoderConfig())
	if err := decoder.ValidateConfig(); err != nil {
		return nil, err
	}

	var (
		audio *transcode.AudioData
		err   error
	)
	if o.input == "-" {
		audio, err = decoder.DecodeReader(ctx, os.Stdin)
	} else {
		audio, err = decoder.DecodeFile(ctx, o.input)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", o.input, err)
	}
	return capture.NewBufferSource(audio.PCM, audio.SampleRate, cfg.FrameSize)
}

// serve runs the session and, when addr is set, the metrics endpoint. The
// server is stopped once the session ends.
func serve(ctx context.Context, session *detector.Session, addr string, logger logging.Logger) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return session.Run(gctx)
	})

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("Serving metrics", logging.Fields{"addr": addr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func listDevices(stdout, stderr io.Writer) int {
	devices, err := capture.ListInputDevices()
	if err != nil {
		fmt.Fprintf(stderr, "sonido-nota: %v\n", err)
		return 1
	}
	for _, d := range devices {
		fmt.Fprintf(stdout, "%2d  %-40s %d ch  %.0f Hz\n", d.Index, d.Name, d.Channels, d.SampleRate)
	}
	return 0
}
