package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"photo-squeeze-go/internal/batch"
	"photo-squeeze-go/internal/compressor"
	"photo-squeeze-go/internal/config"
	"photo-squeeze-go/internal/logger"
	"photo-squeeze-go/internal/metadata"
	"photo-squeeze-go/internal/packager"
	"photo-squeeze-go/internal/statistics"
	"photo-squeeze-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	verbose    bool
	quiet      bool
	quality    int
	targetSize float64
	unit       string
	outDir     string
	keepExif   bool
	dryRun     bool
	workers    int
	showAll    bool
	port       int
)

// rootCmd compresses the files and directories given as arguments.
var rootCmd = &cobra.Command{
	Use:   "photo-squeeze [files or directories...]",
	Short: "Compress photos, optionally down to a target file size",
	Long: `PhotoSqueeze re-encodes images with a progressively more aggressive
ladder of quality and resolution settings until the output fits a target
size, or the ladder is exhausted.

Without --target a single pass is made at the requested quality with a
1920px bound. With --target up to five passes run, each one compressing
the previous pass's output, and stop as soon as the file fits. Targets
below 0.1 MB (100 KB) are raised to that minimum. When the target cannot
be met the last, most aggressive attempt is kept and reported as best
effort.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args)
	},
}

// inspectCmd prints image and EXIF details for a file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show media type, dimensions and EXIF metadata of an image",
	Long: `Shows the detected format, dimensions and main EXIF fields of an image,
including whether it already carries the compression mark. With --all every
tag reported by exiftool is printed (requires exiftool on PATH).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP compression service",
	Long: `Starts an HTTP server exposing the compression pipeline:

  POST   /api/compress          multipart upload (image_file, custom_size, target_size, unit, quality)
  GET    /api/results/{id}      download a compressed result
  DELETE /api/results/{id}      release a result
  GET    /api/status            service status
  GET    /api/statistics        aggregated counters
  GET    /metrics               Prometheus metrics
  GET    /ws                    progress events over WebSocket

The configuration file is reloaded when it changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().IntVarP(&quality, "quality", "q", 80, "initial quality in percent (1-100)")
	rootCmd.Flags().Float64VarP(&targetSize, "target", "t", 0, "target file size; enables the fallback ladder")
	rootCmd.Flags().StringVarP(&unit, "unit", "u", "MB", "unit of --target (MB or KB)")
	rootCmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default from config)")
	rootCmd.Flags().BoolVar(&keepExif, "keep-exif", false, "copy EXIF to outputs and mark them (requires exiftool)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compress in memory without writing outputs")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of parallel workers (default from config)")

	inspectCmd.Flags().BoolVar(&showAll, "all", false, "print every tag reported by exiftool")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run the web server on")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

// printRunSummary writes the statistics of a finished batch run.
func printRunSummary(w io.Writer, stats *statistics.Statistics) {
	fmt.Fprintln(w, "\n"+stats.GetSummary())
	fmt.Fprintln(w, "\n"+stats.GetMediaTypeBreakdown())
	if stats.FilesWithErrors > 0 {
		fmt.Fprintln(w, "\n"+stats.GetErrorSummary())
	}
}

// runCompress executes a batch compression of the given paths.
func runCompress(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts, err := compressOptions(cmd, cfg, args)
	if err != nil {
		return err
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	runner := batch.NewRunner(cfg, log, stats, compressor.NewImagingCodec())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := runner.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	if !quiet {
		for _, r := range results {
			switch {
			case r.Skipped:
				fmt.Printf("skipped  %s (already compressed)\n", r.Path)
			case r.Err != nil:
				fmt.Printf("failed   %s: %v\n", r.Path, r.Err)
			default:
				fmt.Printf("%-8s %s -> %s\n", shortStatus(r.Report), r.Report.Summary(), r.OutputPath)
			}
		}
		printRunSummary(os.Stdout, stats)
	}

	if stats.FilesWithErrors > 0 {
		return fmt.Errorf("%d of %d files failed", stats.FilesWithErrors, stats.FilesFound)
	}
	return nil
}

// compressOptions merges config defaults with the flags the user set.
func compressOptions(cmd *cobra.Command, cfg *config.Config, args []string) (batch.Options, error) {
	opts := batch.OptionsFromConfig(cfg, args)
	flags := cmd.Flags()

	if flags.Changed("quality") {
		opts.Quality = quality
	}
	if flags.Changed("target") {
		opts.CustomSize = targetSize > 0
		opts.TargetSize = targetSize
	}
	if flags.Changed("unit") {
		u, err := compressor.ParseSizeUnit(unit)
		if err != nil {
			return batch.Options{}, err
		}
		opts.Unit = u
	}
	if flags.Changed("out") {
		opts.OutputDir = outDir
	}
	if flags.Changed("keep-exif") {
		opts.KeepExif = keepExif
	}
	if flags.Changed("workers") {
		opts.Workers = workers
	}
	opts.DryRun = dryRun

	if _, err := compressor.QualityFraction(opts.Quality); err != nil {
		return batch.Options{}, err
	}
	return opts, nil
}

func shortStatus(r packager.Report) string {
	switch {
	case r.BestEffort:
		return "partial"
	case r.TargetEnabled:
		return "ok"
	default:
		return "done"
	}
}

// runInspect prints metadata for a single file.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	log := logrus.New()
	if !verbose {
		log.SetLevel(logrus.WarnLevel)
	}
	reader := metadata.NewReader(log)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	mediaType, err := compressor.DetectMediaType(data)
	if err != nil {
		return err
	}
	summary, err := reader.Read(data)
	if err != nil {
		return err
	}

	fmt.Printf("File:        %s\n", filePath)
	fmt.Printf("Size:        %s\n", packager.FormatFileSize(int64(len(data))))
	fmt.Printf("Media type:  %s\n", mediaType)
	fmt.Printf("Dimensions:  %dx%d\n", summary.Width, summary.Height)
	if summary.HasEXIF {
		if summary.Taken != nil {
			fmt.Printf("Taken:       %s\n", summary.Taken.Format("2006-01-02 15:04:05"))
		}
		if summary.Make != "" || summary.Model != "" {
			fmt.Printf("Camera:      %s %s\n", summary.Make, summary.Model)
		}
		if summary.Software != "" {
			fmt.Printf("Software:    %s\n", summary.Software)
		}
		if summary.Orientation != 0 {
			fmt.Printf("Orientation: %d\n", summary.Orientation)
		}
	} else {
		fmt.Println("EXIF:        none")
	}
	fmt.Printf("Compressed:  %t\n", summary.IsCompressed())

	if showAll {
		fields, err := metadata.ExiftoolFields(filePath)
		if err != nil {
			return fmt.Errorf("exiftool: %w", err)
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println()
		for _, k := range keys {
			fmt.Printf("%-32s %v\n", k, fields[k])
		}
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	server := web.NewServer(cfg, log, compressor.NewImagingCodec())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.RunSweeper(ctx, sweepInterval(cfg.Server.ResultTTL))

	if path := watchedConfigPath(); path != "" {
		go func() {
			err := config.Watch(ctx, path, logger.WithOperation(log, "config_watch"), func(c *config.Config) {
				server.UpdateConfig(c)
			})
			if err != nil {
				log.Warnf("Config watcher stopped: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("PhotoSqueeze service listening on http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// watchedConfigPath returns the config file to watch, or "" when none is in use.
func watchedConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if fileExists("config.yaml") {
		return "config.yaml"
	}
	return ""
}

// sweepInterval checks for expired results at least every minute.
func sweepInterval(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl/2 < time.Minute {
		return ttl/2 + time.Millisecond
	}
	return time.Minute
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      logger.LevelFromFlags(cfg.Logging.Level, verbose, quiet),
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
