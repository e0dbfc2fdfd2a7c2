package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type body struct {
	Status string
	Checks map[string]string
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) body {
	t.Helper()
	var b body
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			b.Status = s
			return err
		case "checks":
			b.Checks = map[string]string{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				s, err := d.Str()
				b.Checks[name] = s
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return b
}

func ok(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestLiveEndpoint(t *testing.T) {
	for _, tt := range []struct {
		name       string
		runs       int
		wantStatus int
		wantChecks map[string]string
	}{
		{name: "NotRun", runs: 0, wantStatus: http.StatusOK},
		{name: "BelowThreshold", runs: 2, wantStatus: http.StatusOK},
		{
			name:       "AtThreshold",
			runs:       3,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"postgres": "connection refused"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.Add(Liveness, "postgres", time.Second, failing("connection refused"))
			for range tt.runs {
				h.probes[0].observe(context.Background())
			}

			w := serve(h.LiveEndpoint)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			b := decodeBody(t, w)
			assert.Equal(t, tt.wantChecks, b.Checks)
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("NotMarkedReady", func(t *testing.T) {
		h := New()
		h.Add(Readiness, "redis", time.Second, ok)

		w := serve(h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		b := decodeBody(t, w)
		assert.Equal(t, "unhealthy", b.Status)
		assert.Contains(t, b.Checks, "startup")
	})
	t.Run("Ready", func(t *testing.T) {
		h := New()
		h.Add(Readiness, "redis", time.Second, ok)
		h.SetReady(true)

		w := serve(h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", decodeBody(t, w).Status)
	})
	t.Run("OneProbeFailing", func(t *testing.T) {
		h := New()
		h.Add(Readiness, "postgres", time.Second, ok)
		h.AddWithThresholds(Readiness, "redis", time.Second, failing("dial tcp: refused"), Thresholds{Failure: 1})
		h.SetReady(true)
		h.probes[1].observe(context.Background())

		w := serve(h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		b := decodeBody(t, w)
		assert.Equal(t, map[string]string{"redis": "dial tcp: refused"}, b.Checks)
	})
	t.Run("LivenessIgnored", func(t *testing.T) {
		h := New()
		h.AddWithThresholds(Liveness, "goroutines", time.Second, failing("leak"), Thresholds{Failure: 1})
		h.SetReady(true)
		h.probes[0].observe(context.Background())

		assert.Equal(t, http.StatusOK, serve(h.ReadyEndpoint).Code)
		assert.True(t, h.IsReady())
	})
}

func TestProbeRecovers(t *testing.T) {
	down := true
	h := New()
	h.AddWithThresholds(Readiness, "postgres", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	}, Thresholds{Failure: 2, Success: 2})
	h.SetReady(true)
	p := h.probes[0]
	ctx := context.Background()

	p.observe(ctx)
	assert.True(t, h.IsReady())
	p.observe(ctx)
	assert.False(t, h.IsReady())

	down = false
	p.observe(ctx)
	assert.False(t, h.IsReady(), "one success is below the threshold")
	p.observe(ctx)
	assert.True(t, h.IsReady())
}

func TestStartStop(t *testing.T) {
	h := New()
	h.Add(Liveness, "postgres", time.Second, ok)
	h.Add(Readiness, "redis", time.Second, failing("err"))
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)
	h.Stop()
	h.Stop()
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, PingCheck(stubPinger{})(ctx))
	err := PingCheck(stubPinger{err: errors.New("refused")})(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")

	assert.NoError(t, GoroutineCountCheck(1_000_000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")
}
