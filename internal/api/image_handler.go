package api

import (
	"context"
	"net/http"

	"github.com/cheahjs/og-image-proxy/internal/metrics"
	"github.com/cheahjs/og-image-proxy/internal/ogimage"
)

func (router *Router) imageHandler(w http.ResponseWriter, r *http.Request) {
	// EscapedPath keeps %2F inside the target URL segment intact.
	path := r.URL.EscapedPath()

	resp := router.render(r.Context(), path)
	writeResponse(w, r, resp)
}

func (router *Router) render(ctx context.Context, path string) ogimage.Response {
	if router.responseCache == nil {
		return router.service.Handle(ctx, path)
	}

	resp, hit := router.responseCache.GetOrRender(ctx, path, func(ctx context.Context) ogimage.Response {
		return router.service.Handle(ctx, path)
	})
	metrics.RecordCacheLookup(hit, router.responseCache.Len())
	return resp
}
