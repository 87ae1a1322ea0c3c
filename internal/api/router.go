package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cheahjs/og-image-proxy/internal/cache"
	"github.com/cheahjs/og-image-proxy/internal/ogimage"
)

const (
	routeHealth  = "health"
	routeMetrics = "metrics"
	routeImage   = "image"
)

// ImageService renders the response for an image path.
type ImageService interface {
	Handle(ctx context.Context, rawPath string) ogimage.Response
}

type Router struct {
	router        *mux.Router
	service       ImageService
	responseCache *cache.ResponseCache
}

// NewRouter wires the routes. responseCache may be nil to render every request.
func NewRouter(service ImageService, responseCache *cache.ResponseCache, metricsPath string) *Router {
	// The target URL is percent-encoded into a single segment, so routes must be matched on the
	// escaped path and never cleaned (a %2F must not become a separator, // must not redirect).
	r := mux.NewRouter().UseEncodedPath().SkipClean(true)
	router := &Router{
		router:        r,
		service:       service,
		responseCache: responseCache,
	}

	r.Use(router.requestMiddleware)
	r.HandleFunc("/healthz", router.healthHandler).Methods(http.MethodGet, http.MethodHead).Name(routeHealth)
	if metricsPath != "" {
		r.Handle(metricsPath, promhttp.Handler()).Methods(http.MethodGet, http.MethodHead).Name(routeMetrics)
	}
	r.PathPrefix("/").HandlerFunc(router.imageHandler).Methods(http.MethodGet, http.MethodHead).Name(routeImage)

	return router
}

func (router *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	router.router.ServeHTTP(w, r)
}

func (router *Router) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte("ok"))
	}
}
