package ogimage

import (
	"time"
)

const (
	HeaderContentType  = "content-type"
	HeaderCacheBuster  = "x-cache-buster"
	HeaderErrorMessage = "x-error-message"
)

// Response is what every request resolves to. Body is base64 text when IsBase64Encoded is set and
// literal markup otherwise. TTL is a hint for the response cache, zero meaning its default policy.
type Response struct {
	StatusCode      int
	Headers         map[string]string
	Body            string
	IsBase64Encoded bool
	TTL             time.Duration
}

// HasBody reports whether anything should be written after the headers.
func (r Response) HasBody() bool {
	return r.Body != ""
}

func newHeaders(cacheBuster string) map[string]string {
	headers := make(map[string]string, 3)
	if cacheBuster != "" {
		headers[HeaderCacheBuster] = cacheBuster
	}
	return headers
}
