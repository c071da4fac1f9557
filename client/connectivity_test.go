package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_ReportsTransitions(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != healthPath || !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, time.Second)
	ctx := context.Background()

	assert.False(t, p.Check(ctx))
	assert.False(t, p.Online())
	select {
	case <-p.Changes():
		t.Fatal("no transition expected while staying offline")
	default:
	}

	healthy.Store(true)
	assert.True(t, p.Check(ctx))
	assert.True(t, <-p.Changes())

	healthy.Store(false)
	assert.False(t, p.Check(ctx))
	assert.False(t, <-p.Changes())
}

func TestProbe_KeepsLatestTransition(t *testing.T) {
	p := NewProbe("http://127.0.0.1:1", time.Second)

	p.set(true)
	p.set(false)
	p.set(true)

	assert.True(t, <-p.Changes())
	select {
	case v := <-p.Changes():
		t.Fatalf("unexpected extra transition %v", v)
	default:
	}
}

func TestProbe_StartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, 20*time.Millisecond)
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrProbeStarted)

	require.Eventually(t, p.Online, time.Second, 10*time.Millisecond)
	require.NoError(t, p.Stop())
	assert.ErrorIs(t, p.Stop(), ErrProbeNotStarted)
}
