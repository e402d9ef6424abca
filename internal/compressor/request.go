package compressor

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"strings"

	_ "golang.org/x/image/webp"
)

// SizeUnit is the unit a target size is expressed in.
type SizeUnit string

const (
	UnitMB SizeUnit = "MB"
	UnitKB SizeUnit = "KB"
)

// ParseSizeUnit accepts MB or KB in any case.
func ParseSizeUnit(s string) (SizeUnit, error) {
	switch SizeUnit(strings.ToUpper(strings.TrimSpace(s))) {
	case UnitMB:
		return UnitMB, nil
	case UnitKB:
		return UnitKB, nil
	default:
		return "", fmt.Errorf("%w: unknown size unit %q (valid: MB, KB)", ErrInvalidInput, s)
	}
}

// supportedMediaTypes lists the decoders registered through imaging, plus
// WebP from x/image. Only PNG is re-encoded in its own format.
var supportedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
	"image/webp": true,
}

// Request is what a caller hands to the pipeline: the raw artifact and the
// user's size and quality choices before conversion.
type Request struct {
	Data           []byte
	Name           string
	CustomSize     bool
	TargetSize     float64
	Unit           SizeUnit
	QualityPercent int
}

// Prepared is a validated request converted into core types.
type Prepared struct {
	Source  SourceArtifact
	Target  TargetSpec
	Quality float64
}

// Prepare validates the request and converts units. Any failure wraps
// ErrInvalidInput.
func (r Request) Prepare() (Prepared, error) {
	if len(r.Data) == 0 {
		return Prepared{}, fmt.Errorf("%w: no artifact supplied", ErrInvalidInput)
	}
	mediaType, err := DetectMediaType(r.Data)
	if err != nil {
		return Prepared{}, err
	}
	quality, err := QualityFraction(r.QualityPercent)
	if err != nil {
		return Prepared{}, err
	}

	target := TargetSpec{}
	if r.CustomSize {
		n, err := TargetBytes(r.TargetSize, r.Unit)
		if err != nil {
			return Prepared{}, err
		}
		target = TargetSpec{Enabled: true, TargetBytes: n}
	}

	return Prepared{
		Source:  NewSourceArtifact(r.Name, mediaType, r.Data),
		Target:  target,
		Quality: quality,
	}, nil
}

// DetectMediaType sniffs the image header and returns its media type.
func DetectMediaType(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: not a supported image: %v", ErrInvalidInput, err)
	}
	mediaType := "image/" + format
	if !supportedMediaTypes[mediaType] {
		return "", fmt.Errorf("%w: unsupported media type %s", ErrInvalidInput, mediaType)
	}
	return mediaType, nil
}

// QualityFraction converts a 1..100 percentage into a (0,1] quality factor.
func QualityFraction(percent int) (float64, error) {
	if percent < 1 || percent > 100 {
		return 0, fmt.Errorf("%w: quality %d outside 1..100", ErrInvalidInput, percent)
	}
	return float64(percent) / 100, nil
}

// MinTargetSize returns the smallest target accepted for unit: 0.1 MB or
// 100 KB. It returns 0 for an unknown unit.
func MinTargetSize(unit SizeUnit) float64 {
	switch unit {
	case UnitMB:
		return 0.1
	case UnitKB:
		return 100
	default:
		return 0
	}
}

// TargetBytes converts a target magnitude into whole bytes, rounding down so
// a result that satisfies the byte count also satisfies the stated size.
// Positive sizes below MinTargetSize are raised to it.
func TargetBytes(size float64, unit SizeUnit) (int64, error) {
	if math.IsNaN(size) || math.IsInf(size, 0) || size <= 0 {
		return 0, fmt.Errorf("%w: target size must be positive", ErrInvalidInput)
	}
	size = math.Max(size, MinTargetSize(unit))

	var n float64
	switch unit {
	case UnitMB:
		n = size * 1024 * 1024
	case UnitKB:
		n = size * 1024
	default:
		return 0, fmt.Errorf("%w: unknown size unit %q (valid: MB, KB)", ErrInvalidInput, unit)
	}
	return int64(math.Floor(n)), nil
}
