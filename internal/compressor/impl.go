package compressor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
)

const (
	// refineFactor shrinks dimensions and quality on each refinement step.
	refineFactor = 0.95
	// minQuality is the floor for refinement steps.
	minQuality = 0.01
)

// ImagingCodec is the default Codec, backed by disintegration/imaging.
// PNG input stays PNG; every other supported format is re-encoded as JPEG.
type ImagingCodec struct {
	// MaxIterations bounds the refinement steps taken while the encoded
	// output is still above the ceiling.
	MaxIterations int
	Filter        imaging.ResampleFilter
}

// NewImagingCodec returns an ImagingCodec with default settings.
func NewImagingCodec() *ImagingCodec {
	return &ImagingCodec{
		MaxIterations: 10,
		Filter:        imaging.Lanczos,
	}
}

// Compress decodes data, fits it inside cfg.MaxDimension and encodes it at
// cfg.Quality. While the output exceeds ceilingBytes it keeps shrinking
// dimensions and quality for up to MaxIterations steps.
func (c *ImagingCodec) Compress(ctx context.Context, data []byte, cfg CompressionConfig, ceilingBytes int64) (CompressionResult, error) {
	if err := cfg.Validate(); err != nil {
		return CompressionResult{}, err
	}
	_, inFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return CompressionResult{}, fmt.Errorf("decode config: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return CompressionResult{}, fmt.Errorf("decode: %w", err)
	}

	outFormat, mediaType := imaging.JPEG, "image/jpeg"
	if inFormat == "png" {
		outFormat, mediaType = imaging.PNG, "image/png"
	}

	orig := img.Bounds()
	fitted := imaging.Fit(img, cfg.MaxDimension, cfg.MaxDimension, c.Filter)
	baseW, baseH := fitted.Bounds().Dx(), fitted.Bounds().Dy()
	resized := baseW != orig.Dx() || baseH != orig.Dy()

	quality := cfg.Quality
	out, err := encode(fitted, outFormat, quality)
	if err != nil {
		return CompressionResult{}, err
	}

	scale := 1.0
	for i := 0; i < c.MaxIterations && ceilingBytes > 0 && int64(len(out)) > ceilingBytes; i++ {
		if err := ctx.Err(); err != nil {
			return CompressionResult{}, err
		}
		scale *= refineFactor
		w := int(math.Round(float64(baseW) * scale))
		h := int(math.Round(float64(baseH) * scale))
		if w < 1 || h < 1 {
			break
		}
		quality = math.Max(quality*refineFactor, minQuality)
		shrunk := imaging.Resize(img, w, h, c.Filter)
		resized = true
		if out, err = encode(shrunk, outFormat, quality); err != nil {
			return CompressionResult{}, err
		}
	}

	// Re-encoding a small, already optimised file at full size can grow it.
	sameFormat := inFormat == "jpeg" && outFormat == imaging.JPEG || inFormat == "png" && outFormat == imaging.PNG
	if !resized && sameFormat && len(out) >= len(data) {
		out = data
	}

	return CompressionResult{
		Bytes:     out,
		Size:      int64(len(out)),
		MediaType: mediaType,
	}, nil
}

func encode(img image.Image, format imaging.Format, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	q := int(math.Round(quality * 100))
	q = min(max(q, 1), 100)
	err := imaging.Encode(&buf, img, format,
		imaging.JPEGQuality(q),
		imaging.PNGCompressionLevel(png.BestCompression),
	)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
