package health

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckHealthyAndUnhealthy(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.SetCacheTTL(0)

	h.RegisterCheck("ok", func(ctx context.Context) error { return nil })
	h.RegisterCheck("bad", func(ctx context.Context) error { return errors.New("boom") })

	ok, err := h.Check(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, ok.Status)

	bad, err := h.Check(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, bad.Status)
	assert.Equal(t, "boom", bad.Message)

	_, err = h.Check(context.Background(), "missing")
	assert.Error(t, err)
}

func TestDegradedStatus(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.SetCacheTTL(0)

	h.RegisterCheck("peers", ChannelHealthCheck(func() int { return 0 }))

	res, err := h.Check(context.Background(), "peers")
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, res.Status)

	assert.Equal(t, StatusDegraded, h.GetOverallStatus(context.Background()))
}

func TestOverallStatusAggregation(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.SetCacheTTL(0)

	h.RegisterCheck("ok", func(ctx context.Context) error { return nil })
	assert.Equal(t, StatusHealthy, h.GetOverallStatus(context.Background()))

	h.RegisterCheck("bad", func(ctx context.Context) error { return errors.New("down") })
	assert.Equal(t, StatusUnhealthy, h.GetOverallStatus(context.Background()))
}

func TestResultCaching(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.SetCacheTTL(time.Minute)

	calls := 0
	h.RegisterCheck("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	_, err := h.Check(context.Background(), "counted")
	require.NoError(t, err)
	_, err = h.Check(context.Background(), "counted")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	h.ClearCache()
	_, err = h.Check(context.Background(), "counted")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGraphStoreHealthCheck(t *testing.T) {
	ok := GraphStoreHealthCheck(func(ctx context.Context) error { return nil })
	assert.NoError(t, ok(context.Background()))

	bad := GraphStoreHealthCheck(func(ctx context.Context) error {
		return fmt.Errorf("relay unreachable")
	})
	assert.Error(t, bad(context.Background()))

	unset := GraphStoreHealthCheck(nil)
	assert.Error(t, unset(context.Background()))
}

func TestHandlerStatusCodes(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.SetCacheTTL(0)
	h.RegisterCheck("ok", func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	Handler(h).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	h.RegisterCheck("bad", func(ctx context.Context) error { return errors.New("down") })
	rec = httptest.NewRecorder()
	Handler(h).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 503, rec.Code)
}
