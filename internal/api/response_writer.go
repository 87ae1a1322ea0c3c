package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cheahjs/og-image-proxy/internal/ogimage"
)

// writeResponse sends resp as-is: its status, its headers and its body, base64-decoded when it
// carries binary data. The TTL is not turned into a header; it is only read by the response cache.
func writeResponse(w http.ResponseWriter, r *http.Request, resp ogimage.Response) {
	body := []byte(resp.Body)
	if resp.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to decode response body")
			resp = ogimage.RenderFallback(ogimage.FallbackSpec{
				Message:     err.Error(),
				StatusCode:  http.StatusOK,
				TTL:         ogimage.ErrorTTL,
				CacheBuster: resp.Headers[ogimage.HeaderCacheBuster],
			})
			body = []byte(resp.Body)
		} else {
			body = decoded
		}
	}

	header := w.Header()
	for key, value := range resp.Headers {
		header.Set(key, value)
	}
	if len(body) > 0 {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}

	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead || len(body) == 0 {
		return
	}
	if _, err := w.Write(body); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Failed to write response body")
	}
}
