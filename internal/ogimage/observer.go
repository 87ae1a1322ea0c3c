package ogimage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Outcome is the failure class a request ended in.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeNotFound Outcome = "not_found"
	OutcomeError    Outcome = "error"
)

// Observer receives diagnostic events from the Service. Implementations must be safe for
// concurrent use.
type Observer interface {
	Decoded(ctx context.Context, desc Descriptor, maxWidth int)
	Matched(ctx context.Context, desc Descriptor, format string, v Variant)
	Failed(ctx context.Context, path string, err error)
	Completed(ctx context.Context, outcome Outcome, elapsed time.Duration)
}

// Observers fans events out to every member.
type Observers []Observer

func (o Observers) Decoded(ctx context.Context, desc Descriptor, maxWidth int) {
	for _, obs := range o {
		obs.Decoded(ctx, desc, maxWidth)
	}
}

func (o Observers) Matched(ctx context.Context, desc Descriptor, format string, v Variant) {
	for _, obs := range o {
		obs.Matched(ctx, desc, format, v)
	}
}

func (o Observers) Failed(ctx context.Context, path string, err error) {
	for _, obs := range o {
		obs.Failed(ctx, path, err)
	}
}

func (o Observers) Completed(ctx context.Context, outcome Outcome, elapsed time.Duration) {
	for _, obs := range o {
		obs.Completed(ctx, outcome, elapsed)
	}
}

// LogObserver writes events with zerolog. A logger attached to the context (zerolog.Ctx) takes
// precedence over the one it was built with.
type LogObserver struct {
	logger zerolog.Logger
}

func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &o.logger
}

func (o *LogObserver) Decoded(ctx context.Context, desc Descriptor, maxWidth int) {
	o.loggerFor(ctx).Info().
		Str("url", desc.TargetURL).
		Str("size", desc.Size).
		Str("format", desc.Format).
		Str("cache_buster", desc.CacheBuster).
		Bool("error_mode", desc.ErrorMode).
		Int("max_width", maxWidth).
		Msg("Handling request")
}

func (o *LogObserver) Matched(ctx context.Context, desc Descriptor, format string, v Variant) {
	o.loggerFor(ctx).Info().
		Str("url", desc.TargetURL).
		Str("format", format).
		Str("source_type", v.SourceType).
		Int("width", v.Width).
		Int("height", v.Height).
		Int("bytes", len(v.Buffer)).
		Msg("Found match")
}

func (o *LogObserver) Failed(ctx context.Context, path string, err error) {
	o.loggerFor(ctx).Error().Err(err).Str("path", path).Msg("Failed to produce image")
}

func (o *LogObserver) Completed(ctx context.Context, outcome Outcome, elapsed time.Duration) {
	if outcome == OutcomeNotFound {
		o.loggerFor(ctx).Warn().Dur("elapsed", elapsed).Msg("No Open Graph images found")
		return
	}
	o.loggerFor(ctx).Debug().Str("outcome", string(outcome)).Dur("elapsed", elapsed).Msg("Request completed")
}
