package compressor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultCeilingBytes is the size ceiling handed to the codec when no custom
// target was requested (3 MiB).
const DefaultCeilingBytes int64 = 3 * 1024 * 1024

var (
	// ErrInvalidInput is returned before any pass runs when the artifact,
	// ladder or target cannot be processed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCodecFailure is returned when a codec pass fails. It aborts the
	// whole invocation.
	ErrCodecFailure = errors.New("codec failure")
)

// SourceArtifact is the caller-owned input image.
type SourceArtifact struct {
	Data      []byte
	MediaType string
	Size      int64
	Name      string
}

// NewSourceArtifact wraps raw bytes as a SourceArtifact.
func NewSourceArtifact(name, mediaType string, data []byte) SourceArtifact {
	return SourceArtifact{
		Data:      data,
		MediaType: mediaType,
		Size:      int64(len(data)),
		Name:      name,
	}
}

// CompressionConfig is a single rung of the ladder.
type CompressionConfig struct {
	Quality      float64 `json:"quality"`
	MaxDimension int     `json:"max_dimension"`
}

// Validate reports whether the config can be handed to a codec.
func (c CompressionConfig) Validate() error {
	if c.Quality <= 0 || c.Quality > 1 {
		return fmt.Errorf("%w: quality %.3f outside (0,1]", ErrInvalidInput, c.Quality)
	}
	if c.MaxDimension <= 0 {
		return fmt.Errorf("%w: max dimension %d must be positive", ErrInvalidInput, c.MaxDimension)
	}
	return nil
}

// PassLadder is the ordered sequence of rungs tried for one invocation.
type PassLadder []CompressionConfig

// TargetSpec describes the optional output size budget.
type TargetSpec struct {
	Enabled     bool
	TargetBytes int64
}

// Ceiling returns the size ceiling passed to the codec on every pass.
func (t TargetSpec) Ceiling() int64 {
	if t.Enabled {
		return t.TargetBytes
	}
	return DefaultCeilingBytes
}

// CompressionResult is the output of one pass.
type CompressionResult struct {
	Bytes     []byte
	Size      int64
	PassIndex int
	MediaType string
}

// Outcome is the terminal value of a scheduler run.
type Outcome struct {
	FinalResult   CompressionResult
	ReachedTarget bool
	TargetEnabled bool
	Passes        int
}

// BestEffort reports whether the ladder was exhausted without meeting an
// explicitly requested target.
func (o Outcome) BestEffort() bool {
	return o.TargetEnabled && !o.ReachedTarget
}

// Codec re-encodes image bytes according to a rung.
type Codec interface {
	// Compress encodes data with the given config, aiming to stay at or
	// below ceilingBytes. PassIndex on the returned result is set by the
	// caller.
	Compress(ctx context.Context, data []byte, cfg CompressionConfig, ceilingBytes int64) (CompressionResult, error)
}

// PassEvent describes a completed pass.
type PassEvent struct {
	Index      int
	Config     CompressionConfig
	InputSize  int64
	OutputSize int64
	Duration   time.Duration
	Stop       bool
}

// PassObserver is notified after every successful pass.
type PassObserver func(PassEvent)
