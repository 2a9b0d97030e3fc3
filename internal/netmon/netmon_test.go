package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/slotboard/internal/config"
)

func TestClassify(t *testing.T) {
	good, fair := 800*time.Millisecond, 3*time.Second
	tests := []struct {
		name      string
		successes int
		avg       time.Duration
		want      Tier
	}{
		{"no successes", 0, 0, TierOffline},
		{"fast", 3, 100 * time.Millisecond, TierGood},
		{"just under good", 1, 799 * time.Millisecond, TierGood},
		{"at good threshold", 1, 800 * time.Millisecond, TierFair},
		{"slow", 2, 2 * time.Second, TierFair},
		{"at fair threshold", 2, 3 * time.Second, TierPoor},
		{"very slow but reachable", 1, 10 * time.Second, TierPoor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.successes, tt.avg, good, fair))
		})
	}
}

func TestTier_AllowsSync(t *testing.T) {
	assert.False(t, TierOffline.AllowsSync())
	assert.False(t, TierPoor.AllowsSync())
	assert.True(t, TierFair.AllowsSync())
	assert.True(t, TierGood.AllowsSync())
	assert.Equal(t, "good", TierGood.String())
}

func TestMonitor_ProbeGood(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := New(config.NetmonConfig{Endpoints: []string{srv.URL, srv.URL + "/b"}}, srv.Client())
	state := m.Probe(context.Background())

	assert.Equal(t, TierGood, state.Tier)
	assert.False(t, state.LastCheckedAt.IsZero())
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, TierGood, m.Tier())
}

// TestMonitor_ProbeErrorStatusStillReachable verifies any HTTP response counts as reachable.
func TestMonitor_ProbeErrorStatusStillReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := New(config.NetmonConfig{Endpoints: []string{srv.URL}}, srv.Client())
	assert.True(t, m.Probe(context.Background()).Tier.AllowsSync())
}

func TestMonitor_ProbeOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	m := New(config.NetmonConfig{Endpoints: []string{url}, Timeout: time.Second}, nil)
	assert.Equal(t, TierOffline, m.Probe(context.Background()).Tier)
}

// TestMonitor_ProbeTimeout verifies a probe slower than the timeout is a failure.
func TestMonitor_ProbeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	m := New(config.NetmonConfig{Endpoints: []string{srv.URL}, Timeout: 50 * time.Millisecond}, srv.Client())
	assert.Equal(t, TierOffline, m.Probe(context.Background()).Tier)
}

func TestMonitor_SubscribeTransitions(t *testing.T) {
	var up atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			panic(http.ErrAbortHandler)
		}
	}))
	defer srv.Close()

	m := New(config.NetmonConfig{Endpoints: []string{srv.URL}}, srv.Client())

	var calls []Tier
	unsubscribe := m.Subscribe(func(prev, next State) {
		calls = append(calls, next.Tier)
	})

	m.Probe(context.Background()) // offline -> offline, no transition
	require.Empty(t, calls)

	up.Store(true)
	m.Probe(context.Background())
	m.Probe(context.Background()) // no change
	require.Equal(t, []Tier{TierGood}, calls)

	unsubscribe()
	up.Store(false)
	m.Probe(context.Background())
	assert.Len(t, calls, 1)
	assert.Equal(t, TierOffline, m.Tier())
}

func TestMonitor_NoEndpoints(t *testing.T) {
	m := New(config.NetmonConfig{}, nil)
	assert.Equal(t, TierOffline, m.Probe(context.Background()).Tier)
}
