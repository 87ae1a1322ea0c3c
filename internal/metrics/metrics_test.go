package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cheahjs/og-image-proxy/internal/ogimage"
)

func TestObserver_CountsOutcomes(t *testing.T) {
	before := testutil.ToFloat64(ImageRequestsTotal.WithLabelValues("not_found"))

	var obs ogimage.Observer = Observer{}
	obs.Completed(context.Background(), ogimage.OutcomeNotFound, 20*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(ImageRequestsTotal.WithLabelValues("not_found")))
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("miss"))

	RecordCacheLookup(true, 3)
	RecordCacheLookup(false, 4)

	assert.Equal(t, hits+1, testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, misses+1, testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("miss")))
	assert.Equal(t, float64(4), testutil.ToFloat64(CacheEntries))
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "image", "200"))
	RecordHTTPRequest("GET", "image", 200, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "image", "200")))
}
