package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/casadeck/internal/casaos"
	"github.com/five82/casadeck/internal/session"
	"github.com/five82/casadeck/internal/state"
)

func TestCalculateBackoff(t *testing.T) {
	baseInterval := 2 * time.Second

	tests := []struct {
		name     string
		failures int
		want     time.Duration
	}{
		{"zero failures", 0, 2 * time.Second},
		{"negative failures", -1, 2 * time.Second},
		{"one failure", 1, 4 * time.Second},
		{"two failures", 2, 8 * time.Second},
		{"three failures", 3, 16 * time.Second},
		{"four failures capped", 4, 30 * time.Second}, // Would be 32s, capped to 30s
		{"many failures capped", 10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateBackoff(tt.failures, baseInterval)
			if got != tt.want {
				t.Errorf("calculateBackoff(%d, %v) = %v, want %v", tt.failures, baseInterval, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff_MaxCap(t *testing.T) {
	baseInterval := 2 * time.Second
	for failures := 0; failures <= 80; failures++ {
		got := calculateBackoff(failures, baseInterval)
		if got > maxBackoff {
			t.Errorf("calculateBackoff(%d, %v) = %v, exceeds maxBackoff %v", failures, baseInterval, got, maxBackoff)
		}
	}
}

type fakeAPI struct {
	casaos.API // unused methods panic
	info       casaos.SystemInfo
	apps       []casaos.AppInfo
	err        error
	polled     chan struct{}
}

func (f *fakeAPI) SystemInfo(context.Context) (casaos.SystemInfo, error) {
	return f.info, f.err
}

func (f *fakeAPI) ListApps(context.Context) ([]casaos.AppInfo, error) {
	if f.polled != nil {
		f.polled <- struct{}{}
	}
	return f.apps, nil
}

func sourceOf(api casaos.API) ClientSource {
	return func() (casaos.API, error) { return api, nil }
}

func TestPoller_RefreshWithoutSessionIsNoop(t *testing.T) {
	store := &state.Store{}
	p := NewPoller(store, func() (casaos.API, error) { return nil, session.ErrNotNegotiated }, PollerOptions{})

	require.NoError(t, p.Refresh(context.Background()))
	snap := store.Snapshot()
	assert.True(t, snap.LastUpdated.IsZero())
	assert.Zero(t, snap.ConsecutiveFailures)
}

func TestPoller_RefreshUpdatesStore(t *testing.T) {
	store := &state.Store{}
	api := &fakeAPI{
		info: casaos.SystemInfo{Version: "0.4.15"},
		apps: []casaos.AppInfo{{ID: "jellyfin", Status: casaos.AppRunning}},
	}
	p := NewPoller(store, sourceOf(api), PollerOptions{})

	require.NoError(t, p.Refresh(context.Background()))
	snap := store.Snapshot()
	assert.True(t, snap.HasSystem)
	assert.Equal(t, "0.4.15", snap.System.Version)
	require.Len(t, snap.Apps, 1)
	assert.Equal(t, "jellyfin", snap.Apps[0].ID)
}

func TestPoller_RefreshEmptyAppListStillMarksApps(t *testing.T) {
	store := &state.Store{}
	p := NewPoller(store, sourceOf(&fakeAPI{}), PollerOptions{})

	require.NoError(t, p.Refresh(context.Background()))
	assert.True(t, store.Snapshot().HasApps)
}

func TestPoller_RefreshRecordsFailure(t *testing.T) {
	store := &state.Store{}
	boom := &casaos.Error{Kind: casaos.KindTransport, Op: "system info", Err: errors.New("connection refused")}
	p := NewPoller(store, sourceOf(&fakeAPI{err: boom}), PollerOptions{})

	err := p.Refresh(context.Background())
	require.Error(t, err)
	snap := store.Snapshot()
	assert.Equal(t, 1, snap.ConsecutiveFailures)
	assert.True(t, casaos.IsKind(snap.LastError, casaos.KindTransport))
}

func waitPoll(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poll")
	}
}

func TestPoller_RunTicksAndTriggers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	api := &fakeAPI{polled: make(chan struct{})}
	p := NewPoller(&state.Store{}, sourceOf(api), PollerOptions{Interval: 5 * time.Second, Clock: clock})
	p.Start(ctx)

	waitPoll(t, api.polled) // immediate first poll

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(5 * time.Second)
	waitPoll(t, api.polled)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	p.Trigger()
	waitPoll(t, api.polled)
}

func TestPoller_RunBacksOffAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	polled := make(chan struct{}, 4)
	source := func() (casaos.API, error) {
		polled <- struct{}{}
		return nil, errors.New("unreachable")
	}
	p := NewPoller(&state.Store{}, source, PollerOptions{Interval: 5 * time.Second, Clock: clock})
	p.Start(ctx)

	waitPoll(t, polled)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(5 * time.Second)
	select {
	case <-polled:
		t.Fatal("polled before the backoff elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(5 * time.Second)
	waitPoll(t, polled)
}

type blockingAPI struct {
	casaos.API
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAPI) SystemInfo(context.Context) (casaos.SystemInfo, error) {
	close(b.entered)
	<-b.release
	return casaos.SystemInfo{Version: "old-server"}, nil
}

func (b *blockingAPI) ListApps(context.Context) ([]casaos.AppInfo, error) {
	return []casaos.AppInfo{{ID: "jellyfin"}}, nil
}

func TestPoller_ResetDiscardsInFlightPoll(t *testing.T) {
	store := &state.Store{}
	api := &blockingAPI{entered: make(chan struct{}), release: make(chan struct{})}
	p := NewPoller(store, sourceOf(api), PollerOptions{})

	done := make(chan error, 1)
	go func() { done <- p.Refresh(context.Background()) }()

	waitPoll(t, api.entered)
	store.Reset()
	close(api.release)
	require.NoError(t, <-done)

	snap := store.Snapshot()
	assert.False(t, snap.HasSystem)
	assert.False(t, snap.HasApps)
	assert.Empty(t, snap.System.Version)
}
