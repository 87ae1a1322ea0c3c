package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_PassesValuesThrough(t *testing.T) {
	b := NewBreaker(DefaultBreakerConfig("test"))

	v, err := Execute(b, func() ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)

	boom := errors.New("boom")
	_, err = Execute(b, func() ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "test", b.Name())
}

func TestExecute_TripsAfterFailureRatio(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:             "trip",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      4,
	})

	fail := func() (int, error) { return 0, errors.New("upstream down") }
	for i := 0; i < 4; i++ {
		_, _ = Execute(b, fail)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	called := false
	_, err := Execute(b, func() (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestExecute_OpenErrorNamesBreaker(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:             "page:example.com",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 1,
		MinRequests:      1,
	})
	_, _ = Execute(b, func() (int, error) { return 0, errors.New("reset") })

	_, err := Execute(b, func() (int, error) { return 1, nil })
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, err.Error(), "page:example.com")
}

func TestExecute_IsSuccessfulKeepsBreakerClosed(t *testing.T) {
	notFound := errors.New("not found")
	cfg := BreakerConfig{
		Name:             "classified",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      2,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, notFound)
		},
	}
	b := NewBreaker(cfg)

	for i := 0; i < 5; i++ {
		_, err := Execute(b, func() (int, error) { return 0, notFound })
		assert.ErrorIs(t, err, notFound)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
