package compressor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noiseImage returns a deterministic image that does not compress trivially.
func noiseImage(w, h int) *image.NRGBA {
	rng := rand.New(rand.NewSource(int64(w*7919 + h)))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8((x * 255) / w),
				B: uint8((y * 255) / h),
				A: 255,
			})
		}
	}
	return img
}

func encodeTestJPEGQuality(t *testing.T, w, h, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, noiseImage(w, h), &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	return encodeTestJPEGQuality(t, w, h, 95)
}

func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, noiseImage(w, h)))
	return buf.Bytes()
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func decodedBounds(t *testing.T, data []byte) (image.Rectangle, string) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return image.Rect(0, 0, cfg.Width, cfg.Height), format
}

func TestImagingCodecFitsMaxDimension(t *testing.T) {
	codec := NewImagingCodec()
	res, err := codec.Compress(context.Background(), encodeTestJPEG(t, 400, 300),
		CompressionConfig{Quality: 0.8, MaxDimension: 200}, DefaultCeilingBytes)
	require.NoError(t, err)

	bounds, format := decodedBounds(t, res.Bytes)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 200, bounds.Dx())
	assert.Equal(t, 150, bounds.Dy())
	assert.Equal(t, int64(len(res.Bytes)), res.Size)
	assert.Equal(t, "image/jpeg", res.MediaType)
}

func TestImagingCodecDoesNotUpscale(t *testing.T) {
	codec := NewImagingCodec()
	res, err := codec.Compress(context.Background(), encodeTestJPEG(t, 64, 40),
		CompressionConfig{Quality: 0.5, MaxDimension: 1920}, DefaultCeilingBytes)
	require.NoError(t, err)

	bounds, _ := decodedBounds(t, res.Bytes)
	assert.Equal(t, 64, bounds.Dx())
	assert.Equal(t, 40, bounds.Dy())
}

func TestImagingCodecLowerQualityIsSmaller(t *testing.T) {
	codec := NewImagingCodec()
	src := encodeTestJPEG(t, 300, 300)

	high, err := codec.Compress(context.Background(), src, CompressionConfig{Quality: 0.9, MaxDimension: 1920}, DefaultCeilingBytes)
	require.NoError(t, err)
	low, err := codec.Compress(context.Background(), src, CompressionConfig{Quality: 0.1, MaxDimension: 1920}, DefaultCeilingBytes)
	require.NoError(t, err)

	assert.Less(t, low.Size, high.Size)
}

func TestImagingCodecRefinesTowardCeiling(t *testing.T) {
	codec := NewImagingCodec()
	src := encodeTestJPEG(t, 400, 400)
	cfg := CompressionConfig{Quality: 0.9, MaxDimension: 1920}

	free, err := codec.Compress(context.Background(), src, cfg, DefaultCeilingBytes)
	require.NoError(t, err)
	squeezed, err := codec.Compress(context.Background(), src, cfg, free.Size/4)
	require.NoError(t, err)

	assert.Less(t, squeezed.Size, free.Size)
	bounds, _ := decodedBounds(t, squeezed.Bytes)
	assert.Less(t, bounds.Dx(), 400)
}

func TestImagingCodecKeepsPNG(t *testing.T) {
	codec := NewImagingCodec()
	res, err := codec.Compress(context.Background(), encodeTestPNG(t, 120, 80),
		CompressionConfig{Quality: 0.5, MaxDimension: 60}, DefaultCeilingBytes)
	require.NoError(t, err)

	bounds, format := decodedBounds(t, res.Bytes)
	assert.Equal(t, "png", format)
	assert.Equal(t, "image/png", res.MediaType)
	assert.Equal(t, 60, bounds.Dx())
	assert.Equal(t, 40, bounds.Dy())
}

func TestImagingCodecEncodesWebPAsJPEG(t *testing.T) {
	codec := NewImagingCodec()
	res, err := codec.Compress(context.Background(), readTestdata(t, "blue-purple-pink.lossy.webp"),
		CompressionConfig{Quality: 0.8, MaxDimension: 1920}, DefaultCeilingBytes)
	require.NoError(t, err)

	bounds, format := decodedBounds(t, res.Bytes)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, "image/jpeg", res.MediaType)
	assert.Equal(t, 150, bounds.Dx())
	assert.Equal(t, 100, bounds.Dy())
}

func TestImagingCodecReturnsInputWhenReencodeGrows(t *testing.T) {
	codec := NewImagingCodec()
	src := encodeTestJPEGQuality(t, 100, 100, 30)

	res, err := codec.Compress(context.Background(), src, CompressionConfig{Quality: 1, MaxDimension: 1920}, DefaultCeilingBytes)
	require.NoError(t, err)
	assert.Equal(t, src, res.Bytes)
	assert.Equal(t, int64(len(src)), res.Size)
}

func TestImagingCodecErrors(t *testing.T) {
	codec := NewImagingCodec()

	_, err := codec.Compress(context.Background(), []byte("not an image"), CompressionConfig{Quality: 0.5, MaxDimension: 100}, 1000)
	assert.Error(t, err)

	_, err = codec.Compress(context.Background(), encodeTestJPEG(t, 10, 10), CompressionConfig{Quality: 2, MaxDimension: 100}, 1000)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSchedulerWithImagingCodec(t *testing.T) {
	src := encodeTestJPEG(t, 1000, 700)
	s := NewScheduler(NewImagingCodec(), nil)

	// Run directly: requests cannot ask for less than 100 KB.
	out, err := s.Run(context.Background(), NewSourceArtifact("big.jpg", "image/jpeg", src),
		BuildLadder(0.9, true), TargetSpec{Enabled: true, TargetBytes: 102})
	require.NoError(t, err)
	assert.Equal(t, 5, out.Passes, "a 102 byte target is below any JPEG header")
	assert.True(t, out.BestEffort())
	assert.Equal(t, 4, out.FinalResult.PassIndex)

	bounds, _ := decodedBounds(t, out.FinalResult.Bytes)
	assert.LessOrEqual(t, bounds.Dx(), 800)
	assert.Less(t, out.FinalResult.Size, int64(len(src)))
}
