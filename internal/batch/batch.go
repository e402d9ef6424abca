package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"photo-squeeze-go/internal/compressor"
	"photo-squeeze-go/internal/config"
	"photo-squeeze-go/internal/logger"
	"photo-squeeze-go/internal/metadata"
	"photo-squeeze-go/internal/metrics"
	"photo-squeeze-go/internal/packager"
	"photo-squeeze-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

// LogHookFunc receives user-facing progress messages, e.g. for a websocket.
type LogHookFunc func(level, message string)

// Options describes one batch run.
type Options struct {
	Paths      []string
	OutputDir  string
	Prefix     string
	Quality    int // percent, 1-100
	CustomSize bool
	TargetSize float64
	Unit       compressor.SizeUnit
	Workers    int
	KeepExif   bool
	SkipMarked bool
	DryRun     bool
}

// OptionsFromConfig fills Options from the compression and performance
// sections of cfg.
func OptionsFromConfig(cfg *config.Config, paths []string) Options {
	return Options{
		Paths:      paths,
		OutputDir:  cfg.Compression.OutputDir,
		Prefix:     cfg.Compression.OutputPrefix,
		Quality:    cfg.Compression.DefaultQuality,
		CustomSize: cfg.Compression.CustomSize,
		TargetSize: cfg.Compression.TargetSize,
		Unit:       compressor.SizeUnit(cfg.Compression.TargetUnit),
		Workers:    cfg.Performance.WorkerThreads,
		KeepExif:   cfg.Compression.KeepExif,
		SkipMarked: cfg.Compression.SkipMarked,
	}
}

// FileResult is the result for a single input file.
type FileResult struct {
	Path       string
	OutputPath string
	Report     packager.Report
	Skipped    bool
	Err        error
}

// Runner compresses many files with a bounded worker pool. Each file is an
// independent invocation of the scheduler.
type Runner struct {
	config    *config.Config
	logger    *logrus.Logger
	stats     *statistics.Statistics
	scheduler *compressor.Scheduler
	reader    *metadata.Reader

	logHook LogHookFunc

	mu       sync.Mutex
	reserved map[string]bool
}

// NewRunner returns a Runner that compresses with codec.
func NewRunner(cfg *config.Config, logger *logrus.Logger, stats *statistics.Statistics, codec compressor.Codec) *Runner {
	return NewRunnerWithLogHook(cfg, logger, stats, codec, nil)
}

// NewRunnerWithLogHook is NewRunner with progress messages forwarded to hook.
func NewRunnerWithLogHook(
	cfg *config.Config,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	codec compressor.Codec,
	hook LogHookFunc,
) *Runner {
	return &Runner{
		config:    cfg,
		logger:    logger,
		stats:     stats,
		scheduler: compressor.NewScheduler(codec, logger).WithObserver(metrics.ObservePass),
		reader:    metadata.NewReader(logger),
		logHook:   hook,
		reserved:  make(map[string]bool),
	}
}

// Run compresses every supported image under opts.Paths. Per-file failures
// are reported in the results and statistics; the returned error is only
// set when discovery fails or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, opts Options) ([]FileResult, error) {
	if opts.Prefix == "" {
		opts.Prefix = packager.DefaultPrefix
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	r.logger.Info("Starting batch compression")
	files, err := r.collectFiles(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	if len(files) == 0 {
		r.logger.Info("No supported images found")
		r.stats.Finalize()
		return nil, nil
	}
	logger.WithFields(r.logger, logrus.Fields{
		"files":   len(files),
		"workers": workers,
	}).Infof("Found %d images to process", len(files))
	if opts.DryRun {
		r.logger.Info("Running in dry-run mode - no files will be written")
	}

	results := make([]FileResult, len(files))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = r.processFile(ctx, files[idx], opts)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range files {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	r.stats.Finalize()

	if err := ctx.Err(); err != nil {
		r.logger.Warn("Batch compression cancelled")
		return results, err
	}
	r.logger.Info("Batch compression completed")
	return results, nil
}

// collectFiles expands opts.Paths into supported image files, walking
// directories recursively and skipping the output directory.
func (r *Runner) collectFiles(opts Options) ([]string, error) {
	outAbs := ""
	if opts.OutputDir != "" {
		if abs, err := filepath.Abs(opts.OutputDir); err == nil {
			outAbs = abs
		}
	}

	var files []string
	seen := make(map[string]bool)
	add := func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true
		files = append(files, path)
		r.stats.IncrementFilesFound()
	}

	for _, root := range opts.Paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if r.config.IsSupportedExtension(filepath.Ext(root)) {
				add(root)
			} else {
				r.logger.Warnf("Skipping unsupported file: %s", root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				r.logger.Warnf("Error accessing path %s: %v", path, err)
				return nil
			}
			if d.IsDir() {
				if outAbs != "" && path != root {
					if abs, err := filepath.Abs(path); err == nil && abs == outAbs {
						r.logger.Debugf("Skipping output directory: %s", path)
						return filepath.SkipDir
					}
				}
				return nil
			}
			if r.config.IsSupportedExtension(filepath.Ext(path)) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// processFile runs one invocation and packages its result.
func (r *Runner) processFile(ctx context.Context, path string, opts Options) FileResult {
	res := FileResult{Path: path}
	log := logger.WithFile(r.logger, path)

	if opts.SkipMarked && r.reader.HasCompressedMark(path) {
		r.notify(log, "info", fmt.Sprintf("Skipping already compressed file: %s", path))
		r.stats.IncrementFilesSkipped()
		res.Skipped = true
		return res
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Errorf("Could not read file: %v", err)
		r.stats.AddError(path, "read", err.Error())
		res.Err = err
		return res
	}

	src, target, out, err := r.scheduler.Process(ctx, compressor.Request{
		Data:           data,
		Name:           filepath.Base(path),
		CustomSize:     opts.CustomSize,
		TargetSize:     opts.TargetSize,
		Unit:           opts.Unit,
		QualityPercent: opts.Quality,
	})
	if err != nil {
		r.recordFailure(path, err)
		r.notify(log, "error", fmt.Sprintf("Failed to compress %s: %v", path, err))
		res.Err = err
		return res
	}

	r.stats.AddPasses(out.Passes)
	metrics.ObserveOutcome(src.Size, out)

	report := packager.NewReport(src, target, out)
	report.OutputName = packager.OutputName(opts.Prefix, path, report.MediaType)
	res.Report = report

	dir := opts.OutputDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	res.OutputPath = r.reserveOutputPath(filepath.Join(dir, report.OutputName), opts.DryRun)

	if opts.DryRun {
		r.stats.RecordOutcome(report.MediaType, src.Size, out.FinalResult.Size, target.Enabled, out.ReachedTarget)
		r.notify(log, "info", fmt.Sprintf("DRY-RUN: Would write %s (%s)", res.OutputPath, report.Summary()))
		return res
	}

	if err := packager.WriteFile(res.OutputPath, out.FinalResult.Bytes); err != nil {
		log.Errorf("Could not write output: %v", err)
		r.stats.AddError(path, "write", err.Error())
		res.Err = err
		return res
	}
	if opts.KeepExif {
		if err := packager.CopyExifAndMark(path, res.OutputPath); err != nil {
			log.Warnf("Could not copy EXIF: %v", err)
		}
	}

	r.stats.RecordOutcome(report.MediaType, src.Size, out.FinalResult.Size, target.Enabled, out.ReachedTarget)
	r.notify(log, "info", report.Summary())
	return res
}

func (r *Runner) recordFailure(path string, err error) {
	switch {
	case errors.Is(err, compressor.ErrInvalidInput):
		r.stats.RecordInvalidInput(path, err.Error())
		metrics.ObserveFailure(metrics.ResultInvalidInput)
	case errors.Is(err, compressor.ErrCodecFailure):
		r.stats.RecordCodecFailure(path, err.Error())
		metrics.ObserveFailure(metrics.ResultCodecFailure)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.stats.AddError(path, "compress", err.Error())
		metrics.ObserveFailure(metrics.ResultCancelled)
	default:
		r.stats.AddError(path, "compress", err.Error())
	}
}

// reserveOutputPath returns basePath, or basePath with a counter suffix when
// the file already exists or another worker has claimed the name.
func (r *Runner) reserveOutputPath(basePath string, dryRun bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	taken := func(p string) bool {
		if r.reserved[p] {
			return true
		}
		if dryRun {
			return false
		}
		_, err := os.Stat(p)
		return err == nil
	}

	path := basePath
	if taken(path) {
		dir := filepath.Dir(basePath)
		name := filepath.Base(basePath)
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for counter := 1; ; counter++ {
			path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
			if !taken(path) {
				break
			}
		}
	}
	r.reserved[path] = true
	return path
}

func (r *Runner) notify(log *logrus.Entry, level, msg string) {
	switch level {
	case "error":
		log.Error(msg)
	default:
		log.Info(msg)
	}
	if r.logHook != nil {
		r.logHook(level, msg)
	}
}
