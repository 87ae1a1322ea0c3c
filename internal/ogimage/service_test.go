package ogimage

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	candidates []string
	err        error
	calls      []string
}

func (f *fakeExtractor) Candidates(_ context.Context, pageURL string) ([]string, error) {
	f.calls = append(f.calls, pageURL)
	return f.candidates, f.err
}

type optimizeCall struct {
	imageURL string
	format   string
	maxWidth int
}

type fakeOptimizer struct {
	result *Result
	err    error
	calls  []optimizeCall
}

func (f *fakeOptimizer) Optimize(_ context.Context, imageURL, format string, maxWidth int) (*Result, error) {
	f.calls = append(f.calls, optimizeCall{imageURL, format, maxWidth})
	return f.result, f.err
}

type recordingObserver struct {
	mu       sync.Mutex
	decoded  []Descriptor
	matched  []string
	failures []error
	outcomes []Outcome
}

func (r *recordingObserver) Decoded(_ context.Context, desc Descriptor, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoded = append(r.decoded, desc)
}

func (r *recordingObserver) Matched(_ context.Context, _ Descriptor, format string, _ Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matched = append(r.matched, format)
}

func (r *recordingObserver) Failed(_ context.Context, _ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *recordingObserver) Completed(_ context.Context, outcome Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func pngResult(buf []byte) *Result {
	r := NewResult()
	r.Add(Variant{Format: "png", SourceType: "image/png", Width: 10, Height: 10, Buffer: buf})
	return r
}

func TestHandle_Success(t *testing.T) {
	buf := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	ext := &fakeExtractor{candidates: []string{"https://example.com/og.png", "https://example.com/other.png"}}
	opt := &fakeOptimizer{result: pngResult(buf)}
	obs := &recordingObserver{}
	svc := NewService(ext, opt, obs)

	resp := svc.Handle(context.Background(), "/https%3A%2F%2Fexample.com%2F/")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Headers[HeaderContentType])
	assert.True(t, resp.IsBase64Encoded)
	assert.Equal(t, base64.StdEncoding.EncodeToString(buf), resp.Body)
	assert.Zero(t, resp.TTL)
	assert.NotContains(t, resp.Headers, HeaderErrorMessage)
	assert.NotContains(t, resp.Headers, HeaderCacheBuster)

	require.Len(t, opt.calls, 1)
	assert.Equal(t, optimizeCall{"https://example.com/og.png", DefaultFormat, 1200}, opt.calls[0])
	assert.Equal(t, []string{"https://example.com/"}, ext.calls)
	assert.Equal(t, []string{"png"}, obs.matched)
	assert.Equal(t, []Outcome{OutcomeSuccess}, obs.outcomes)
}

func TestHandle_EndToEndPath(t *testing.T) {
	ext := &fakeExtractor{candidates: []string{"https://example.com/og.jpg"}}
	result := NewResult()
	result.Add(Variant{Format: "webp", SourceType: "image/webp", Buffer: []byte("webp")})
	opt := &fakeOptimizer{result: result}
	obs := &recordingObserver{}

	resp := NewService(ext, opt, obs).Handle(context.Background(), "/https%3A%2F%2Fexample.com%2F/small/webp/_20240101/")

	require.Len(t, obs.decoded, 1)
	assert.Equal(t, Descriptor{
		TargetURL:   "https://example.com/",
		Size:        "small",
		Format:      "webp",
		CacheBuster: "_20240101",
	}, obs.decoded[0])
	assert.Equal(t, optimizeCall{"https://example.com/og.jpg", "webp", 375}, opt.calls[0])
	assert.Equal(t, "image/webp", resp.Headers[HeaderContentType])
	assert.Equal(t, "_20240101", resp.Headers[HeaderCacheBuster])
}

func TestHandle_LastFormatWins(t *testing.T) {
	result := NewResult()
	result.Add(Variant{Format: "webp", SourceType: "image/webp", Width: 300, Buffer: []byte("w300")})
	result.Add(Variant{Format: "jpeg", SourceType: "image/jpeg", Width: 300, Buffer: []byte("j300")})
	result.Add(Variant{Format: "jpeg", SourceType: "image/jpeg", Width: 600, Buffer: []byte("j600")})

	svc := NewService(&fakeExtractor{candidates: []string{"https://example.com/a.jpg"}}, &fakeOptimizer{result: result}, nil)
	resp := svc.Handle(context.Background(), "/https%3A%2F%2Fexample.com%2F/")

	assert.Equal(t, "image/jpeg", resp.Headers[HeaderContentType])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("j300")), resp.Body)
}

func TestHandle_NotFound(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		emptyBody bool
	}{
		{"placeholder", "/https%3A%2F%2Fexample.com%2F/_123/", false},
		{"error mode", "/https%3A%2F%2Fexample.com%2F/onerror/_123/", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := &fakeOptimizer{}
			obs := &recordingObserver{}
			resp := NewService(&fakeExtractor{}, opt, obs).Handle(context.Background(), tt.path)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, 24*time.Hour, resp.TTL)
			assert.Equal(t, "No Open Graph images found for https://example.com/", resp.Headers[HeaderErrorMessage])
			assert.Contains(t, resp.Headers[HeaderErrorMessage], "https://example.com/")
			assert.Equal(t, "_123", resp.Headers[HeaderCacheBuster])
			assert.Empty(t, opt.calls)
			assert.Equal(t, []Outcome{OutcomeNotFound}, obs.outcomes)

			if tt.emptyBody {
				assert.False(t, resp.HasBody())
				assert.NotContains(t, resp.Headers, HeaderContentType)
			} else {
				assert.Equal(t, PlaceholderSVG, resp.Body)
				assert.False(t, resp.IsBase64Encoded)
				assert.Equal(t, "image/svg+xml", resp.Headers[HeaderContentType])
			}
		})
	}
}

func TestHandle_Failures(t *testing.T) {
	boom := errors.New("connection refused")
	tests := []struct {
		name    string
		path    string
		ext     *fakeExtractor
		opt     *fakeOptimizer
		message string
	}{
		{
			name:    "extraction error",
			path:    "/https%3A%2F%2Fexample.com%2F/onerror/",
			ext:     &fakeExtractor{err: boom},
			opt:     &fakeOptimizer{},
			message: "connection refused",
		},
		{
			name:    "optimization error",
			path:    "/https%3A%2F%2Fexample.com%2F/onerror/",
			ext:     &fakeExtractor{candidates: []string{"https://example.com/a.png", "https://example.com/b.png"}},
			opt:     &fakeOptimizer{err: boom},
			message: "connection refused",
		},
		{
			name:    "empty optimization result",
			path:    "/https%3A%2F%2Fexample.com%2F/",
			ext:     &fakeExtractor{candidates: []string{"https://example.com/a.png"}},
			opt:     &fakeOptimizer{result: NewResult()},
			message: ErrNoVariants.Error(),
		},
		{
			name:    "malformed url",
			path:    "/%zz/onerror/",
			ext:     &fakeExtractor{},
			opt:     &fakeOptimizer{},
			message: "malformed target url",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			resp := NewService(tt.ext, tt.opt, obs).Handle(context.Background(), tt.path)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, 5*time.Minute, resp.TTL)
			assert.Equal(t, PlaceholderSVG, resp.Body, "error mode must not drop the body on failures")
			assert.Equal(t, "image/svg+xml", resp.Headers[HeaderContentType])
			assert.Contains(t, resp.Headers[HeaderErrorMessage], tt.message)
			assert.LessOrEqual(t, len(tt.opt.calls), 1, "only the first candidate is tried")
			assert.Len(t, obs.failures, 1)
			assert.Equal(t, []Outcome{OutcomeError}, obs.outcomes)
		})
	}
}

func TestHandle_Idempotent(t *testing.T) {
	svc := NewService(
		&fakeExtractor{candidates: []string{"https://example.com/og.png"}},
		&fakeOptimizer{result: pngResult([]byte("same"))},
		nil,
	)
	path := "/https%3A%2F%2Fexample.com%2F/medium/png/_v1/"

	first := svc.Handle(context.Background(), path)
	second := svc.Handle(context.Background(), path)
	assert.Equal(t, first, second)
}

func TestRenderFallback(t *testing.T) {
	resp := RenderFallback(FallbackSpec{
		Message:     "line one\r\nline two",
		StatusCode:  http.StatusOK,
		TTL:         time.Minute,
		CacheBuster: "_x",
	})
	assert.Equal(t, "line one line two", resp.Headers[HeaderErrorMessage])
	assert.Equal(t, "_x", resp.Headers[HeaderCacheBuster])
	assert.Equal(t, time.Minute, resp.TTL)
	assert.Contains(t, resp.Body, `width="1200" height="630"`)

	empty := RenderFallback(FallbackSpec{Message: "gone", StatusCode: http.StatusNotFound, EmptyBody: true})
	assert.Equal(t, http.StatusNotFound, empty.StatusCode)
	assert.False(t, empty.HasBody())
	assert.NotContains(t, empty.Headers, HeaderCacheBuster)
	assert.Equal(t, "gone", empty.Headers[HeaderErrorMessage])
}

func TestResult(t *testing.T) {
	r := NewResult()
	_, _, err := r.Last()
	assert.ErrorIs(t, err, ErrNoVariants)

	r.Add(Variant{Format: "png", Width: 1})
	r.Add(Variant{Format: "webp", Width: 2})
	r.Add(Variant{Format: "png", Width: 3})

	assert.Equal(t, []string{"png", "webp"}, r.Formats())
	assert.Len(t, r.Variants("png"), 2)

	format, v, err := r.Last()
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 2, v.Width)

	var nilResult *Result
	_, _, err = nilResult.Last()
	assert.ErrorIs(t, err, ErrNoVariants)
}
