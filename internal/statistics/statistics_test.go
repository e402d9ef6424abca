package statistics

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordOutcome(t *testing.T) {
	s := NewStatistics()
	s.RecordOutcome("image/jpeg", 1000, 400, false, true)
	s.RecordOutcome("image/jpeg", 2000, 900, true, true)
	s.RecordOutcome("image/png", 3000, 2500, true, false)
	s.AddPasses(7)

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap["files_processed"])
	assert.Equal(t, int64(1), snap["untargeted"])
	assert.Equal(t, int64(1), snap["targets_reached"])
	assert.Equal(t, int64(1), snap["best_effort"])
	assert.Equal(t, int64(7), snap["passes_executed"])
	assert.Equal(t, int64(6000), snap["bytes_in"])
	assert.Equal(t, int64(3800), snap["bytes_out"])
	assert.Equal(t, int64(2200), s.BytesSaved())
	assert.Equal(t, int64(2), s.MediaTypeStats["image/jpeg"])
	assert.Contains(t, s.GetMediaTypeBreakdown(), "image/png: 1")
}

func TestFailuresAreRecorded(t *testing.T) {
	s := NewStatistics()
	assert.Equal(t, "No errors occurred during processing", s.GetErrorSummary())

	s.RecordInvalidInput("a.txt", "not an image")
	s.RecordCodecFailure("b.jpg", "corrupt data")

	assert.Equal(t, int64(1), s.InvalidInputs)
	assert.Equal(t, int64(1), s.CodecFailures)
	assert.Equal(t, int64(2), s.FilesWithErrors)

	summary := s.GetErrorSummary()
	assert.Contains(t, summary, "Errors (2 total)")
	assert.Contains(t, summary, "validate: a.txt - not an image")
	assert.Contains(t, summary, "compress: b.jpg - corrupt data")
}

func TestErrorSummaryIsTruncated(t *testing.T) {
	s := NewStatistics()
	for i := 0; i < 13; i++ {
		s.AddError(fmt.Sprintf("f%d.jpg", i), "compress", "boom")
	}
	assert.Contains(t, s.GetErrorSummary(), "... and 3 more errors")
}

func TestConcurrentUpdates(t *testing.T) {
	s := NewStatistics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementFilesFound()
			s.RecordOutcome("image/jpeg", 10, 5, true, true)
		}()
	}
	wg.Wait()
	s.Finalize()

	assert.Equal(t, int64(50), s.FilesFound)
	assert.Equal(t, int64(50), s.FilesProcessed)
	assert.Equal(t, int64(50), s.MediaTypeStats["image/jpeg"])
	assert.Contains(t, s.GetSummary(), "Processed: 50")
}

func TestFormatSaved(t *testing.T) {
	assert.Equal(t, "0 Bytes", formatSaved(0))
	assert.Equal(t, "512 Bytes", formatSaved(512))
	assert.Equal(t, "1.5 KB", formatSaved(1536))
	assert.Equal(t, "2 MB", formatSaved(2*1024*1024))
	assert.Equal(t, "-1 KB", formatSaved(-1024))
}

func TestSummarySizes(t *testing.T) {
	s := NewStatistics()
	s.RecordOutcome("image/jpeg", 1536, 512, false, false)
	s.RecordOutcome("image/png", 100, 200, false, false)
	s.Finalize()

	summary := s.GetSummary()
	assert.Contains(t, summary, "Bytes In: 1.6 KB")
	assert.Contains(t, summary, "Bytes Out: 712 Bytes")
	assert.Contains(t, summary, "Saved: 924 Bytes")

	assert.Equal(t, "Media Type Breakdown:\n  image/jpeg: 1\n  image/png: 1\n", s.GetMediaTypeBreakdown())
}
