package ogimage

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

// DefaultFormat is used when the path does not name an output format.
const DefaultFormat = "png"

// Extractor returns the Open Graph image URLs of a page, in document order.
type Extractor interface {
	Candidates(ctx context.Context, pageURL string) ([]string, error)
}

// Optimizer fetches an image and transcodes it to format, no wider than maxWidth.
type Optimizer interface {
	Optimize(ctx context.Context, imageURL, format string, maxWidth int) (*Result, error)
}

// Service turns a request path into a Response. It never returns an error: every failure is
// rendered as a fallback image.
type Service struct {
	extractor Extractor
	optimizer Optimizer
	observer  Observer
}

func NewService(extractor Extractor, optimizer Optimizer, observer Observer) *Service {
	if observer == nil {
		observer = Observers(nil)
	}
	return &Service{
		extractor: extractor,
		optimizer: optimizer,
		observer:  observer,
	}
}

// Handle decodes rawPath, looks up the page's preview image and shapes the response.
func (s *Service) Handle(ctx context.Context, rawPath string) Response {
	start := time.Now()

	desc, err := Decode(rawPath)
	if err != nil {
		return s.fail(ctx, rawPath, desc, err, start)
	}

	maxWidth := MaxWidth(desc.Size)
	s.observer.Decoded(ctx, desc, maxWidth)

	candidates, err := s.extractor.Candidates(ctx, desc.TargetURL)
	if err != nil {
		return s.fail(ctx, rawPath, desc, err, start)
	}
	if len(candidates) == 0 {
		s.observer.Completed(ctx, OutcomeNotFound, time.Since(start))
		return RenderFallback(FallbackSpec{
			Message:     fmt.Sprintf("No Open Graph images found for %s", desc.TargetURL),
			StatusCode:  http.StatusOK,
			TTL:         NotFoundTTL,
			CacheBuster: desc.CacheBuster,
			EmptyBody:   desc.ErrorMode,
		})
	}

	format, variant, err := s.optimize(ctx, candidates[0], desc, maxWidth)
	if err != nil {
		return s.fail(ctx, rawPath, desc, err, start)
	}
	s.observer.Matched(ctx, desc, format, variant)
	s.observer.Completed(ctx, OutcomeSuccess, time.Since(start))

	headers := newHeaders(desc.CacheBuster)
	headers[HeaderContentType] = variant.SourceType
	return Response{
		StatusCode:      http.StatusOK,
		Headers:         headers,
		Body:            base64.StdEncoding.EncodeToString(variant.Buffer),
		IsBase64Encoded: true,
	}
}

// optimize only ever tries the first candidate.
func (s *Service) optimize(ctx context.Context, imageURL string, desc Descriptor, maxWidth int) (string, Variant, error) {
	format := desc.Format
	if format == "" {
		format = DefaultFormat
	}

	result, err := s.optimizer.Optimize(ctx, imageURL, format, maxWidth)
	if err != nil {
		return "", Variant{}, err
	}
	return result.Last()
}

// fail renders the short-lived error fallback. Error mode is deliberately not honored here.
func (s *Service) fail(ctx context.Context, rawPath string, desc Descriptor, err error, start time.Time) Response {
	s.observer.Failed(ctx, rawPath, err)
	s.observer.Completed(ctx, OutcomeError, time.Since(start))
	return RenderFallback(FallbackSpec{
		Message:     err.Error(),
		StatusCode:  http.StatusOK,
		TTL:         ErrorTTL,
		CacheBuster: desc.CacheBuster,
	})
}
