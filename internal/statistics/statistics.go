package statistics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"photo-squeeze-go/internal/packager"
)

// Statistics aggregates counters across compression invocations. Counters
// are safe for concurrent use.
type Statistics struct {
	FilesFound      int64
	FilesProcessed  int64
	FilesSkipped    int64
	FilesWithErrors int64

	TargetsReached int64
	BestEffort     int64
	Untargeted     int64
	PassesExecuted int64

	InvalidInputs int64
	CodecFailures int64

	BytesIn  int64
	BytesOut int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	Errors []StatError

	mutex sync.RWMutex

	MediaTypeStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:      time.Now(),
		MediaTypeStats: make(map[string]int64),
		Errors:         make([]StatError, 0),
	}
}

// IncrementFilesFound increases the count of found files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.FilesFound, 1)
}

// IncrementFilesSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// AddPasses adds n executed passes.
func (s *Statistics) AddPasses(n int) {
	atomic.AddInt64(&s.PassesExecuted, int64(n))
}

// RecordOutcome records a successful invocation.
func (s *Statistics) RecordOutcome(mediaType string, bytesIn, bytesOut int64, targetEnabled, reached bool) {
	atomic.AddInt64(&s.FilesProcessed, 1)
	atomic.AddInt64(&s.BytesIn, bytesIn)
	atomic.AddInt64(&s.BytesOut, bytesOut)
	switch {
	case !targetEnabled:
		atomic.AddInt64(&s.Untargeted, 1)
	case reached:
		atomic.AddInt64(&s.TargetsReached, 1)
	default:
		atomic.AddInt64(&s.BestEffort, 1)
	}

	s.mutex.Lock()
	s.MediaTypeStats[mediaType]++
	s.mutex.Unlock()
}

// RecordInvalidInput records a rejected invocation.
func (s *Statistics) RecordInvalidInput(filePath, reason string) {
	atomic.AddInt64(&s.InvalidInputs, 1)
	s.AddError(filePath, "validate", reason)
}

// RecordCodecFailure records an invocation aborted by the codec.
func (s *Statistics) RecordCodecFailure(filePath, reason string) {
	atomic.AddInt64(&s.CodecFailures, 1)
	s.AddError(filePath, "compress", reason)
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	atomic.AddInt64(&s.FilesWithErrors, 1)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(atomic.LoadInt64(&s.FilesProcessed)) / s.Duration.Seconds()
	}
}

// BytesSaved returns input bytes minus output bytes over processed files.
func (s *Statistics) BytesSaved() int64 {
	return atomic.LoadInt64(&s.BytesIn) - atomic.LoadInt64(&s.BytesOut)
}

// Snapshot returns the counters as a map, for JSON responses.
func (s *Statistics) Snapshot() map[string]int64 {
	return map[string]int64{
		"files_found":     atomic.LoadInt64(&s.FilesFound),
		"files_processed": atomic.LoadInt64(&s.FilesProcessed),
		"files_skipped":   atomic.LoadInt64(&s.FilesSkipped),
		"files_errors":    atomic.LoadInt64(&s.FilesWithErrors),
		"targets_reached": atomic.LoadInt64(&s.TargetsReached),
		"best_effort":     atomic.LoadInt64(&s.BestEffort),
		"untargeted":      atomic.LoadInt64(&s.Untargeted),
		"passes_executed": atomic.LoadInt64(&s.PassesExecuted),
		"invalid_inputs":  atomic.LoadInt64(&s.InvalidInputs),
		"codec_failures":  atomic.LoadInt64(&s.CodecFailures),
		"bytes_in":        atomic.LoadInt64(&s.BytesIn),
		"bytes_out":       atomic.LoadInt64(&s.BytesOut),
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	fps := s.FilesPerSecond
	s.mutex.RUnlock()

	return fmt.Sprintf(`Photo Squeeze Statistics Summary:

Files:
		Found: %d
		Processed: %d
		Skipped: %d
		Errors: %d

Targets:
		Reached: %d
		Best Effort: %d
		No Target: %d
		Passes Executed: %d

Failures:
		Invalid Input: %d
		Codec Failures: %d

Size:
		Bytes In: %s
		Bytes Out: %s
		Saved: %s

Performance:
		Duration: %v
		Files/Second: %.2f`,
		atomic.LoadInt64(&s.FilesFound),
		atomic.LoadInt64(&s.FilesProcessed),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.FilesWithErrors),
		atomic.LoadInt64(&s.TargetsReached),
		atomic.LoadInt64(&s.BestEffort),
		atomic.LoadInt64(&s.Untargeted),
		atomic.LoadInt64(&s.PassesExecuted),
		atomic.LoadInt64(&s.InvalidInputs),
		atomic.LoadInt64(&s.CodecFailures),
		packager.FormatFileSize(atomic.LoadInt64(&s.BytesIn)),
		packager.FormatFileSize(atomic.LoadInt64(&s.BytesOut)),
		formatSaved(s.BytesSaved()),
		duration,
		fps)
}

// GetMediaTypeBreakdown returns a formatted breakdown of output media types.
func (s *Statistics) GetMediaTypeBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.MediaTypeStats) == 0 {
		return "No media type statistics available"
	}

	mediaTypes := make([]string, 0, len(s.MediaTypeStats))
	for mediaType := range s.MediaTypeStats {
		mediaTypes = append(mediaTypes, mediaType)
	}
	sort.Strings(mediaTypes)

	result := "Media Type Breakdown:\n"
	for _, mediaType := range mediaTypes {
		result += fmt.Sprintf("  %s: %d\n", mediaType, s.MediaTypeStats[mediaType])
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// formatSaved is FormatFileSize with a sign, since outputs can grow.
func formatSaved(n int64) string {
	if n < 0 {
		return "-" + packager.FormatFileSize(-n)
	}
	return packager.FormatFileSize(n)
}
