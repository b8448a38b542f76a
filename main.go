package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"posecam/config"
	"posecam/detection"
	"posecam/display"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const metricsReadHeaderTimeout = 5 * time.Second

var (
	configPath string
	flagCfg    = config.Default()
)

var rootCmd = &cobra.Command{
	Use:          "posecam",
	Short:        "Live camera viewer with a human pose skeleton overlay",
	SilenceUsage: true,
	Long: `posecam reads frames from a camera or video stream, runs YOLOv8-pose inference
on every Nth frame and draws the most recent skeletons on every displayed frame.

Annotated frames go to a desktop window and optionally to JPEG snapshots and an
ffmpeg stream. Settings come from an optional YAML file; flags override it.`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.StringVarP(&flagCfg.Source.Device, "device", "d", flagCfg.Source.Device, "camera index or stream URL/file")
	f.IntVar(&flagCfg.Source.Width, "width", flagCfg.Source.Width, "requested capture width")
	f.IntVar(&flagCfg.Source.Height, "height", flagCfg.Source.Height, "requested capture height")
	f.StringVarP(&flagCfg.Model.Path, "model", "m", flagCfg.Model.Path, "YOLOv8-pose ONNX model")
	f.IntVar(&flagCfg.Model.InputSize, "input-size", flagCfg.Model.InputSize, "square network input size")
	f.Float64VarP(&flagCfg.ConfidenceThreshold, "threshold", "t", flagCfg.ConfidenceThreshold, "minimum keypoint confidence to draw")
	f.IntVarP(&flagCfg.SkipInterval, "skip", "k", flagCfg.SkipInterval, "run inference every k frames")
	f.BoolVar(&flagCfg.Window.Disabled, "no-window", false, "do not open a display window")
	f.StringVar(&flagCfg.Window.QuitKey, "quit-key", flagCfg.Window.QuitKey, "key that closes the window")
	f.StringVar(&flagCfg.Snapshot.Dir, "snapshot-dir", "", "directory for JPEG snapshots")
	f.IntVar(&flagCfg.Snapshot.Every, "snapshot-every", 0, "save every Nth annotated frame (0 disables)")
	f.StringVar(&flagCfg.Stream.URL, "stream-url", "", "publish annotated frames through ffmpeg to this URL")
	f.IntVar(&flagCfg.Stream.FPS, "stream-fps", flagCfg.Stream.FPS, "frame rate announced to ffmpeg")
	f.StringVar(&flagCfg.Stream.FFmpeg, "ffmpeg", flagCfg.Stream.FFmpeg, "ffmpeg binary used for streaming")
	f.BoolVar(&flagCfg.StatusOverlay, "status", false, "draw FPS and cache status on each frame")
	f.StringVar(&flagCfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.StringVar(&flagCfg.Log.Level, "log-level", flagCfg.Log.Level, "debug, info, warn or error")
	f.BoolVar(&flagCfg.Log.NoColor, "no-color", false, "disable coloured log output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := detection.NewPoseProvider(detection.PoseOptions{
		ModelPath:      cfg.Model.Path,
		InputSize:      cfg.Model.InputSize,
		ScoreThreshold: float32(cfg.Model.ScoreThreshold),
		NMSThreshold:   float32(cfg.Model.NMSThreshold),
	}, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	if err := detection.Warmup(provider, cfg.Source.Width, cfg.Source.Height); err != nil {
		return err
	}
	logger.Info("provider ready", "component", "main", "init_time", provider.Info().InitTime)

	source, err := display.OpenCamera(cfg.Source.Device, cfg.Source.Width, cfg.Source.Height, logger)
	if err != nil {
		return err
	}

	sink, stream, err := buildSinks(cfg, logger)
	if err != nil {
		source.Close()
		return err
	}

	opts := display.DefaultLoopOptions()
	opts.ConfidenceThreshold = cfg.ConfidenceThreshold
	opts.SkipInterval = cfg.SkipInterval
	opts.StatusOverlay = cfg.StatusOverlay
	opts.PerfReportInterval = cfg.PerfReportInterval
	opts.Logger = logger

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Metrics = display.NewMetrics(reg)

		server := serveMetrics(cfg.MetricsAddr, reg, stream, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	loop, err := display.NewLoop(source, sink, provider, opts)
	if err != nil {
		source.Close()
		sink.Close()
		return err
	}
	return loop.Run(ctx)
}

// applyFlags copies every explicitly set flag over the file configuration
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("device") {
		cfg.Source.Device = flagCfg.Source.Device
	}
	if set("width") {
		cfg.Source.Width = flagCfg.Source.Width
	}
	if set("height") {
		cfg.Source.Height = flagCfg.Source.Height
	}
	if set("model") {
		cfg.Model.Path = flagCfg.Model.Path
	}
	if set("input-size") {
		cfg.Model.InputSize = flagCfg.Model.InputSize
	}
	if set("threshold") {
		cfg.ConfidenceThreshold = flagCfg.ConfidenceThreshold
	}
	if set("skip") {
		cfg.SkipInterval = flagCfg.SkipInterval
	}
	if set("no-window") {
		cfg.Window.Disabled = flagCfg.Window.Disabled
	}
	if set("quit-key") {
		cfg.Window.QuitKey = flagCfg.Window.QuitKey
	}
	if set("snapshot-dir") {
		cfg.Snapshot.Dir = flagCfg.Snapshot.Dir
	}
	if set("snapshot-every") {
		cfg.Snapshot.Every = flagCfg.Snapshot.Every
	}
	if set("stream-url") {
		cfg.Stream.URL = flagCfg.Stream.URL
	}
	if set("stream-fps") {
		cfg.Stream.FPS = flagCfg.Stream.FPS
	}
	if set("ffmpeg") {
		cfg.Stream.FFmpeg = flagCfg.Stream.FFmpeg
	}
	if set("status") {
		cfg.StatusOverlay = flagCfg.StatusOverlay
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = flagCfg.MetricsAddr
	}
	if set("log-level") {
		cfg.Log.Level = flagCfg.Log.Level
	}
	if set("no-color") {
		cfg.Log.NoColor = flagCfg.Log.NoColor
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      parseLevel(cfg.Level),
		TimeFormat: "15:04:05.000",
		NoColor:    cfg.NoColor,
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildSinks assembles the configured outputs. The window comes last so quit is polled
// after the other sinks have seen the frame. The stream sink is also returned on its own,
// nil when streaming is off, so its health can be reported.
func buildSinks(cfg config.Config, logger *slog.Logger) (display.Sink, *display.StreamSink, error) {
	var sinks []display.Sink
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	if cfg.Snapshot.Every > 0 {
		snap, err := display.NewSnapshotSink(cfg.Snapshot.Dir, cfg.Snapshot.Every, logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, snap)
	}
	var stream *display.StreamSink
	if cfg.Stream.URL != "" {
		var err error
		stream, err = display.NewStreamSink(cfg.Stream.URL, cfg.Stream.FPS, cfg.Stream.FFmpeg, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, stream)
	}
	if !cfg.Window.Disabled {
		sinks = append(sinks, display.NewWindowSink(cfg.Window.Title, cfg.Window.QuitKey[0]))
	}
	if len(sinks) == 0 {
		return nil, nil, errors.New("no output configured")
	}
	return display.NewMultiSink(sinks...), stream, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, stream *display.StreamSink, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", healthHandler(stream))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
	go func() {
		logger.Info("serving metrics", "component", "metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "component", "metrics", "error", err)
		}
	}()
	return server
}

// healthHandler answers 503 once the stream has disabled itself or ffmpeg stopped encoding.
// stream may be nil.
func healthHandler(stream *display.StreamSink) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if stream != nil && !stream.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("stream unhealthy"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
