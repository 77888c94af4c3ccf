package eta

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEstimator struct {
	calls int
	v     float64
	err   error
}

func (c *countingEstimator) EstimateSeconds(context.Context, Coord, Coord) (float64, error) {
	c.calls++
	return c.v, c.err
}

func TestStraightLine(t *testing.T) {
	secs, err := StraightLine{SpeedMps: 10}.EstimateSeconds(context.Background(), Coord{0, 0}, Coord{0, 0.01})
	require.NoError(t, err)
	assert.InDelta(t, 111.2, secs, 0.5)
	assert.Equal(t, 100.0/DefaultSpeedMps, Seconds(100, 0))
}

func TestCacheExpires(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }
	a, b := Coord{1, 1}, Coord{2, 2}

	c.Set(a, b, 42)
	v, ok := c.Get(a, b)
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(a, b)
	assert.False(t, ok)
}

func TestWithFallbackCachesPrimaryAndFallsBack(t *testing.T) {
	primary := &countingEstimator{v: 300}
	w := WithFallback{Primary: primary, Fallback: StraightLine{}, Cache: NewCache(time.Minute)}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := w.EstimateSeconds(ctx, Coord{1, 1}, Coord{1, 1.001})
		require.NoError(t, err)
		assert.Equal(t, 300.0, v)
	}
	assert.Equal(t, 1, primary.calls)

	primary.err = errors.New("down")
	v, err := w.EstimateSeconds(ctx, Coord{0, 0}, Coord{0, 0})
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestOSRMClient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/route/v1/driving/77.632100,12.914100;77.640000,12.920000", r.URL.Path)
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"duration":183.4}]}`))
	}))
	defer ts.Close()

	secs, err := NewOSRMClient(ts.URL+"/").EstimateSeconds(context.Background(), Coord{12.9141, 77.6321}, Coord{12.92, 77.64})
	require.NoError(t, err)
	assert.Equal(t, 183.4, secs)
}
