package packager

import (
	"os"
	"path/filepath"
	"testing"

	"photo-squeeze-go/internal/compressor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 Bytes"},
		{-4, "0 Bytes"},
		{1, "1 Bytes"},
		{1023, "1023 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1_048_576, "1 MB"},
		{1_572_864, "1.5 MB"},
		{10_485, "10.24 KB"},
		{3 * 1024 * 1024 * 1024, "3 GB"},
		{5 * 1024 * 1024 * 1024 * 1024, "5120 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFileSize(tt.in), "input %d", tt.in)
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		name      string
		mediaType string
		want      string
	}{
		{"photo.jpg", "image/jpeg", "compressed-photo.jpg"},
		{"photo.JPEG", "image/jpeg", "compressed-photo.JPEG"},
		{"scan.bmp", "image/jpeg", "compressed-scan.jpg"},
		{"sticker.webp", "image/jpeg", "compressed-sticker.jpg"},
		{"/tmp/dir/logo.png", "image/png", "compressed-logo.png"},
		{"noext", "image/jpeg", "compressed-noext.jpg"},
		{"", "image/png", "compressed-image.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputName(DefaultPrefix, tt.name, tt.mediaType), "input %q", tt.name)
	}
}

func TestPercentageSaved(t *testing.T) {
	assert.InDelta(t, 75.0, PercentageSaved(1000, 250), 1e-9)
	assert.InDelta(t, -10.0, PercentageSaved(1000, 1100), 1e-9)
	assert.Equal(t, 0.0, PercentageSaved(0, 10))
}

func TestNewReport(t *testing.T) {
	src := compressor.NewSourceArtifact("cat.png", "image/png", make([]byte, 1000))

	t.Run("untargeted", func(t *testing.T) {
		out := compressor.Outcome{
			FinalResult:   compressor.CompressionResult{Size: 400, MediaType: "image/png"},
			ReachedTarget: true,
			Passes:        1,
		}
		r := NewReport(src, compressor.TargetSpec{}, out)
		assert.Equal(t, "compressed", r.Status)
		assert.Equal(t, "compressed-cat.png", r.OutputName)
		assert.InDelta(t, 60.0, r.PercentageSaved, 1e-9)
		assert.Zero(t, r.TargetBytes)
		assert.False(t, r.BestEffort)
		assert.Equal(t, "cat.png: 1000 Bytes -> 400 Bytes (60.0% saved, 1 pass)", r.Summary())
	})

	t.Run("target reached", func(t *testing.T) {
		out := compressor.Outcome{
			FinalResult:   compressor.CompressionResult{Size: 500},
			ReachedTarget: true,
			TargetEnabled: true,
			Passes:        3,
		}
		r := NewReport(src, compressor.TargetSpec{Enabled: true, TargetBytes: 512}, out)
		assert.Equal(t, "target reached", r.Status)
		assert.Equal(t, "image/png", r.MediaType, "falls back to the source media type")
		assert.Equal(t, int64(512), r.TargetBytes)
		assert.Contains(t, r.Summary(), "3 passes")
		assert.Contains(t, r.Summary(), "target 512 Bytes reached")
	})

	t.Run("best effort", func(t *testing.T) {
		out := compressor.Outcome{
			FinalResult:   compressor.CompressionResult{Size: 900, MediaType: "image/jpeg"},
			TargetEnabled: true,
			Passes:        5,
		}
		r := NewReport(src, compressor.TargetSpec{Enabled: true, TargetBytes: 100}, out)
		assert.True(t, r.BestEffort)
		assert.False(t, r.ReachedTarget)
		assert.Equal(t, "best effort", r.Status)
		assert.Equal(t, "compressed-cat.jpg", r.OutputName)
		assert.Contains(t, r.Summary(), "best effort: target 100 Bytes not reached")
	})
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.jpg")

	require.NoError(t, WriteFile(path, []byte("first")))
	require.NoError(t, WriteFile(path, []byte("second")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must not remain")
}
