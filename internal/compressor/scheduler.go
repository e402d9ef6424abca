package compressor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler drives a pass ladder through a codec. It keeps no state between
// runs and may be shared by concurrent invocations.
type Scheduler struct {
	codec    Codec
	logger   logrus.FieldLogger
	observer PassObserver
}

// NewScheduler returns a Scheduler using codec. A nil logger discards output.
func NewScheduler(codec Codec, logger logrus.FieldLogger) *Scheduler {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Scheduler{codec: codec, logger: logger}
}

// WithObserver returns a copy of the scheduler that reports each pass to fn.
func (s *Scheduler) WithObserver(fn PassObserver) *Scheduler {
	cp := *s
	cp.observer = fn
	return &cp
}

// Run executes the ladder against source. Each pass reads the previous
// pass's output; the loop stops as soon as the target is satisfied or the
// ladder is exhausted. A codec failure aborts the run and discards earlier
// results.
func (s *Scheduler) Run(ctx context.Context, source SourceArtifact, ladder PassLadder, target TargetSpec) (Outcome, error) {
	if err := validateRun(source, ladder, target); err != nil {
		return Outcome{}, err
	}

	ceiling := target.Ceiling()
	log := s.logger.WithFields(logrus.Fields{
		"artifact":       source.Name,
		"original_size":  source.Size,
		"target_enabled": target.Enabled,
		"ceiling":        ceiling,
	})

	var last *CompressionResult
	passes := 0
	for i, rung := range ladder {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		input := source.Data
		if last != nil {
			input = last.Bytes
		}

		start := time.Now()
		res, err := s.codec.Compress(ctx, input, rung, ceiling)
		if err != nil {
			log.WithField("pass", i).Warnf("Pass failed: %v", err)
			return Outcome{}, fmt.Errorf("%w: pass %d (quality %.2f, max %dpx): %w",
				ErrCodecFailure, i, rung.Quality, rung.MaxDimension, err)
		}
		res.PassIndex = i
		if res.Size == 0 && len(res.Bytes) > 0 {
			res.Size = int64(len(res.Bytes))
		}
		last = &res
		passes++

		stop := ShouldStop(target.Enabled, res.Size, target.TargetBytes)
		log.WithFields(logrus.Fields{
			"pass":          i,
			"quality":       rung.Quality,
			"max_dimension": rung.MaxDimension,
			"input_size":    len(input),
			"output_size":   res.Size,
		}).Debug("Pass completed")

		if s.observer != nil {
			s.observer(PassEvent{
				Index:      i,
				Config:     rung,
				InputSize:  int64(len(input)),
				OutputSize: res.Size,
				Duration:   time.Since(start),
				Stop:       stop,
			})
		}
		if stop {
			break
		}
	}

	outcome := Outcome{
		FinalResult:   *last,
		ReachedTarget: ShouldStop(target.Enabled, last.Size, target.TargetBytes),
		TargetEnabled: target.Enabled,
		Passes:        passes,
	}
	log.WithFields(logrus.Fields{
		"passes":         outcome.Passes,
		"final_size":     outcome.FinalResult.Size,
		"reached_target": outcome.ReachedTarget,
	}).Info("Compression finished")
	return outcome, nil
}

// Process validates a request, builds its ladder and runs it.
func (s *Scheduler) Process(ctx context.Context, req Request) (SourceArtifact, TargetSpec, Outcome, error) {
	prepared, err := req.Prepare()
	if err != nil {
		return SourceArtifact{}, TargetSpec{}, Outcome{}, err
	}
	ladder := BuildLadder(prepared.Quality, prepared.Target.Enabled)
	outcome, err := s.Run(ctx, prepared.Source, ladder, prepared.Target)
	if err != nil {
		return prepared.Source, prepared.Target, Outcome{}, err
	}
	return prepared.Source, prepared.Target, outcome, nil
}

func validateRun(source SourceArtifact, ladder PassLadder, target TargetSpec) error {
	if len(source.Data) == 0 {
		return fmt.Errorf("%w: no artifact supplied", ErrInvalidInput)
	}
	if len(ladder) == 0 {
		return fmt.Errorf("%w: empty pass ladder", ErrInvalidInput)
	}
	for i, rung := range ladder {
		if err := rung.Validate(); err != nil {
			return fmt.Errorf("rung %d: %w", i, err)
		}
	}
	if target.Enabled && target.TargetBytes <= 0 {
		return fmt.Errorf("%w: target size must be positive, got %d bytes", ErrInvalidInput, target.TargetBytes)
	}
	return nil
}
