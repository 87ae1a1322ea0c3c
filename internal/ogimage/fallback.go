package ogimage

import (
	"fmt"
	"strings"
	"time"
)

const (
	NotFoundTTL = 24 * time.Hour
	ErrorTTL    = 5 * time.Minute
)

// PlaceholderSVG is served instead of an image whenever the lookup fails.
var PlaceholderSVG = fmt.Sprintf(`<svg version="1.1" xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" x="0" y="0" viewBox="0 0 1569.4 2186" xml:space="preserve" aria-hidden="true" focusable="false"><style>.st0{fill:#bbb;stroke:#bbb;stroke-width:28;stroke-miterlimit:10}</style></svg>`, ImageWidth, ImageHeight)

// FallbackSpec parameterizes RenderFallback.
type FallbackSpec struct {
	Message     string
	StatusCode  int
	TTL         time.Duration
	CacheBuster string
	EmptyBody   bool
}

// RenderFallback builds the response served in place of an image.
//
// Browsers do not reliably fire <img onerror> for a 404 without a body or for redirects, so the
// default is a 200 with a valid placeholder image. Callers that asked for error mode get no body
// and handle the failure client-side.
func RenderFallback(fb FallbackSpec) Response {
	headers := newHeaders(fb.CacheBuster)
	headers[HeaderErrorMessage] = headerSafe(fb.Message)

	resp := Response{
		StatusCode: fb.StatusCode,
		Headers:    headers,
		TTL:        fb.TTL,
	}
	if !fb.EmptyBody {
		headers[HeaderContentType] = "image/svg+xml"
		resp.Body = PlaceholderSVG
		resp.IsBase64Encoded = false
	}
	return resp
}

// headerSafe collapses whitespace runs (including CR/LF) so the message fits on one header line.
func headerSafe(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
