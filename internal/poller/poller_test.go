package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"vn.io.arda/cropalert/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fakes ---

type countResult struct {
	count int
	err   error
}

type fakeAPI struct {
	mu        sync.Mutex
	enabled   bool
	prefErr   error
	alerts    []domain.Alert
	alertsErr error
	counts    []countResult

	prefCalls   int
	alertCalls  int
	countSince  []int64
	countCalled chan struct{}
	release     chan struct{}
}

func newFakeAPI(enabled bool, ids ...int64) *fakeAPI {
	f := &fakeAPI{enabled: enabled}
	f.setAlerts(ids...)
	return f
}

func (f *fakeAPI) setAlerts(ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = f.alerts[:0]
	for _, id := range ids {
		f.alerts = append(f.alerts, domain.Alert{ID: id})
	}
}

func (f *fakeAPI) queueCounts(rs ...countResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = append(f.counts, rs...)
}

func (f *fakeAPI) NotificationPreference(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefCalls++
	return f.enabled, f.prefErr
}

func (f *fakeAPI) AlertsByLocation(_ context.Context, _ string, _ int) ([]domain.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertCalls++
	out := make([]domain.Alert, len(f.alerts))
	copy(out, f.alerts)
	return out, f.alertsErr
}

func (f *fakeAPI) NewAlertsCount(ctx context.Context, _ string, since int64) (int, error) {
	f.mu.Lock()
	f.countSince = append(f.countSince, since)
	var r countResult
	if len(f.counts) > 0 {
		r = f.counts[0]
		f.counts = f.counts[1:]
	}
	called, release := f.countCalled, f.release
	f.mu.Unlock()

	if called != nil {
		called <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return r.count, r.err
}

func (f *fakeAPI) calls() (pref, alerts, counts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefCalls, f.alertCalls, len(f.countSince)
}

type fakeNotifier struct {
	mu     sync.Mutex
	toasts []domain.CreateToastInput
	ch     chan domain.CreateToastInput
}

func (n *fakeNotifier) Notify(_ context.Context, in domain.CreateToastInput) {
	n.mu.Lock()
	n.toasts = append(n.toasts, in)
	ch := n.ch
	n.mu.Unlock()
	if ch != nil {
		ch <- in
	}
}

func (n *fakeNotifier) all() []domain.CreateToastInput {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.CreateToastInput, len(n.toasts))
	copy(out, n.toasts)
	return out
}

type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

type manualClock struct {
	mu      sync.Mutex
	tickers []*manualTicker
	periods []time.Duration
}

func (c *manualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	c.periods = append(c.periods, d)
	return t
}

func (c *manualClock) last() *manualTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

type mutableIdentity struct {
	mu    sync.Mutex
	email string
}

func (m *mutableIdentity) Email() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.email, m.email != ""
}

func (m *mutableIdentity) set(email string) {
	m.mu.Lock()
	m.email = email
	m.mu.Unlock()
}

func newTestPoller(t *testing.T, api AlertAPI, n Notifier, id IdentityProvider) (*Poller, *manualClock) {
	t.Helper()
	clock := &manualClock{}
	p := New(api, n, id, WithClock(clock))
	t.Cleanup(p.Close)
	return p, clock
}

// --- initialization ---

func TestInitialize_NoIdentity_IsInert(t *testing.T) {
	api := newFakeAPI(true, 7)
	p, clock := newTestPoller(t, api, &fakeNotifier{}, StaticIdentity(""))

	p.Initialize(context.Background())

	pref, alerts, _ := api.calls()
	assert.Zero(t, pref)
	assert.Zero(t, alerts)
	assert.Nil(t, clock.last(), "no ticker should be created")

	snap := p.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.Armed)
}

func TestInitialize_PreferenceDisabled_DoesNotArm(t *testing.T) {
	api := newFakeAPI(false, 7)
	p, clock := newTestPoller(t, api, &fakeNotifier{}, StaticIdentity("farmer@test.com"))

	p.Initialize(context.Background())

	pref, alerts, _ := api.calls()
	assert.Equal(t, 1, pref)
	assert.Zero(t, alerts, "alerts must not be fetched when notifications are disabled")
	assert.Nil(t, clock.last())
	assert.False(t, p.Snapshot().Armed)
}

func TestInitialize_PreferenceError_StaysInactive(t *testing.T) {
	api := newFakeAPI(true, 7)
	api.prefErr = errors.New("connection refused")
	p, _ := newTestPoller(t, api, &fakeNotifier{}, StaticIdentity("farmer@test.com"))

	p.Initialize(context.Background())

	_, alerts, _ := api.calls()
	assert.Zero(t, alerts)
	snap := p.Snapshot()
	assert.False(t, snap.Armed)
	assert.Equal(t, StateIdle, snap.State)
	assert.Zero(t, snap.LastSeenID)
}

func TestInitialize_WatermarkIsMaxOfUnorderedIDs(t *testing.T) {
	api := newFakeAPI(true, 5, 3, 5)
	p, clock := newTestPoller(t, api, &fakeNotifier{}, StaticIdentity("farmer@test.com"))

	p.Initialize(context.Background())

	snap := p.Snapshot()
	assert.EqualValues(t, 5, snap.LastSeenID)
	assert.True(t, snap.Armed)
	assert.Equal(t, StateArmed, snap.State)
	require.NotNil(t, clock.last())
	assert.Equal(t, DefaultInterval, clock.periods[0])
}

func TestInitialize_NoAlerts_DoesNotArm(t *testing.T) {
	api := newFakeAPI(true)
	p, clock := newTestPoller(t, api, &fakeNotifier{}, StaticIdentity("farmer@test.com"))

	p.Initialize(context.Background())

	snap := p.Snapshot()
	assert.Zero(t, snap.LastSeenID)
	assert.True(t, snap.Enabled)
	assert.False(t, snap.Armed)
	assert.Nil(t, clock.last())
}

func TestInitialize_WatermarkNeverDecreases(t *testing.T) {
	api := newFakeAPI(true, 20)
	p, _ := newTestPoller(t, api, &fakeNotifier{}, StaticIdentity("farmer@test.com"))

	p.Initialize(context.Background())
	api.setAlerts(12)
	p.Initialize(context.Background())

	assert.EqualValues(t, 20, p.Snapshot().LastSeenID)
}

// --- polling ---

func TestPoll_AccumulatesCount(t *testing.T) {
	api := newFakeAPI(true, 9)
	api.queueCounts(countResult{count: 2}, countResult{count: 2})
	n := &fakeNotifier{}
	p, _ := newTestPoller(t, api, n, StaticIdentity("farmer@test.com"))

	p.Initialize(context.Background())
	p.Poll(context.Background())
	p.Poll(context.Background())

	assert.Equal(t, 4, p.Snapshot().NewAlertsCount)

	toasts := n.all()
	require.Len(t, toasts, 2)
	assert.Equal(t, 2, toasts[0].TotalUnseen)
	assert.Equal(t, 4, toasts[1].TotalUnseen)
	assert.Equal(t, 2, toasts[1].Count)
}

func TestPoll_ZeroCount_NoToast(t *testing.T) {
	api := newFakeAPI(true, 9)
	api.queueCounts(countResult{count: 0})
	n := &fakeNotifier{}
	p, _ := newTestPoller(t, api, n, StaticIdentity("farmer@test.com"))

	p.Initialize(context.Background())
	p.Poll(context.Background())

	assert.Zero(t, p.Snapshot().NewAlertsCount)
	assert.Empty(t, n.all())
}

func TestPoll_BeforeInitialization_IsNoop(t *testing.T) {
	api := newFakeAPI(true, 9)
	p, _ := newTestPoller(t, api, &fakeNotifier{}, StaticIdentity("farmer@test.com"))

	p.Poll(context.Background())

	_, _, counts := api.calls()
	assert.Zero(t, counts)
}

func TestPoll_FailedTickDoesNotBreakNextTick(t *testing.T) {
	api := newFakeAPI(true, 9)
	api.queueCounts(countResult{err: errors.New("timeout")}, countResult{count: 1})
	n := &fakeNotifier{}
	p, _ := newTestPoller(t, api, n, StaticIdentity("farmer@test.com"))

	p.Initialize(context.Background())
	p.Poll(context.Background())

	snap := p.Snapshot()
	assert.Zero(t, snap.NewAlertsCount)
	assert.True(t, snap.Armed)
	assert.Equal(t, StateArmed, snap.State)

	p.Poll(context.Background())

	snap = p.Snapshot()
	assert.Equal(t, 1, snap.NewAlertsCount)
	assert.EqualValues(t, 9, snap.LastSeenID)
	assert.Len(t, n.all(), 1)
}

func TestPoll_TickerDrivesPolls(t *testing.T) {
	api := newFakeAPI(true, 9)
	api.queueCounts(countResult{err: errors.New("boom")}, countResult{count: 3})
	n := &fakeNotifier{ch: make(chan domain.CreateToastInput, 1)}
	p, clock := newTestPoller(t, api, n, StaticIdentity("farmer@test.com"))

	p.Initialize(context.Background())
	ticker := clock.last()
	require.NotNil(t, ticker)

	ticker.ch <- time.Now()
	require.Eventually(t, func() bool {
		_, _, counts := api.calls()
		return counts == 1 && p.Snapshot().State == StateArmed
	}, time.Second, 5*time.Millisecond)

	ticker.ch <- time.Now()
	select {
	case toast := <-n.ch:
		assert.Equal(t, 3, toast.Count)
	case <-time.After(time.Second):
		t.Fatal("expected a toast after the second tick")
	}
	assert.Equal(t, 3, p.Snapshot().NewAlertsCount)
}

func TestPoll_IdentityLossDisarms(t *testing.T) {
	api := newFakeAPI(true, 9)
	id := &mutableIdentity{email: "farmer@test.com"}
	p, clock := newTestPoller(t, api, &fakeNotifier{}, id)

	p.Initialize(context.Background())
	require.True(t, p.Snapshot().Armed)

	id.set("")
	p.Poll(context.Background())

	_, _, counts := api.calls()
	assert.Zero(t, counts)
	assert.False(t, p.Snapshot().Armed)
	assert.Equal(t, StateIdle, p.Snapshot().State)

	// Identity returns and a new initialization re-arms with a fresh ticker.
	id.set("farmer@test.com")
	p.Initialize(context.Background())
	assert.True(t, p.Snapshot().Armed)
	assert.Len(t, clock.tickers, 2)
}

// --- acknowledgement ---

func TestResetNewAlertsCount_Idempotent(t *testing.T) {
	api := newFakeAPI(true, 9)
	p, _ := newTestPoller(t, api, &fakeNotifier{}, StaticIdentity("farmer@test.com"))
	p.Initialize(context.Background())

	p.ResetNewAlertsCount()
	assert.Zero(t, p.Snapshot().NewAlertsCount)
	p.ResetNewAlertsCount()
	assert.Zero(t, p.Snapshot().NewAlertsCount)
	assert.EqualValues(t, 9, p.Snapshot().LastSeenID)
}

func TestRefresh_RecomputesWatermarkAndClearsCount(t *testing.T) {
	api := newFakeAPI(true, 10)
	api.queueCounts(countResult{count: 3})
	p, _ := newTestPoller(t, api, &fakeNotifier{}, StaticIdentity("farmer@test.com"))

	p.Initialize(context.Background())
	p.Poll(context.Background())
	require.Equal(t, 3, p.Snapshot().NewAlertsCount)
	require.EqualValues(t, 10, p.Snapshot().LastSeenID)

	api.setAlerts(15)
	p.Refresh(context.Background())

	snap := p.Snapshot()
	assert.EqualValues(t, 15, snap.LastSeenID)
	assert.Zero(t, snap.NewAlertsCount)
	assert.True(t, snap.Armed)
}

func TestRefresh_PreferenceNowDisabled_Disarms(t *testing.T) {
	api := newFakeAPI(true, 10)
	p, _ := newTestPoller(t, api, &fakeNotifier{}, StaticIdentity("farmer@test.com"))
	p.Initialize(context.Background())
	require.True(t, p.Snapshot().Armed)

	api.mu.Lock()
	api.enabled = false
	api.mu.Unlock()
	p.Refresh(context.Background())

	snap := p.Snapshot()
	assert.False(t, snap.Armed)
	assert.False(t, snap.Enabled)
}

func TestRefresh_FailedInitializationKeepsCount(t *testing.T) {
	api := newFakeAPI(true, 10)
	api.queueCounts(countResult{count: 3})
	p, _ := newTestPoller(t, api, &fakeNotifier{}, StaticIdentity("farmer@test.com"))
	p.Initialize(context.Background())
	p.Poll(context.Background())
	require.Equal(t, 3, p.Snapshot().NewAlertsCount)

	// The caller went away while the latest alert was being fetched.
	api.mu.Lock()
	api.alertsErr = context.Canceled
	api.mu.Unlock()
	p.Refresh(context.Background())

	snap := p.Snapshot()
	assert.Equal(t, 3, snap.NewAlertsCount, "watermark did not move so the backlog stays counted")
	assert.EqualValues(t, 10, snap.LastSeenID)
	assert.True(t, snap.Armed)
}

func TestRefresh_DropsPollInFlight(t *testing.T) {
	api := newFakeAPI(true, 10)
	api.queueCounts(countResult{count: 5})
	api.countCalled = make(chan struct{}, 1)
	api.release = make(chan struct{})
	n := &fakeNotifier{}
	p, _ := newTestPoller(t, api, n, StaticIdentity("farmer@test.com"))
	p.Initialize(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Poll(context.Background())
	}()
	<-api.countCalled

	api.setAlerts(20)
	p.Refresh(context.Background())
	close(api.release)
	<-done

	snap := p.Snapshot()
	assert.Zero(t, snap.NewAlertsCount, "result captured before refresh must be dropped")
	assert.EqualValues(t, 20, snap.LastSeenID)
	assert.Empty(t, n.all())
}

// --- teardown ---

func TestClose_StopsTickerAndDropsLateResults(t *testing.T) {
	api := newFakeAPI(true, 10)
	api.queueCounts(countResult{count: 5})
	api.countCalled = make(chan struct{}, 1)
	api.release = make(chan struct{})
	n := &fakeNotifier{}
	clock := &manualClock{}
	p := New(api, n, StaticIdentity("farmer@test.com"), WithClock(clock))
	p.Initialize(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Poll(context.Background())
	}()
	<-api.countCalled

	p.Close()
	close(api.release)
	<-done

	assert.Empty(t, n.all())
	snap := p.Snapshot()
	assert.False(t, snap.Armed)
	assert.Equal(t, StateIdle, snap.State)

	ticker := clock.last()
	require.NotNil(t, ticker)
	ticker.mu.Lock()
	assert.True(t, ticker.stopped)
	ticker.mu.Unlock()

	// Closed pollers ignore further calls.
	p.Initialize(context.Background())
	assert.False(t, p.Snapshot().Armed)
	p.Close()
}

// --- end to end ---

func TestEndToEnd_FarmerReceivesOneToast(t *testing.T) {
	api := newFakeAPI(true, 42)
	api.queueCounts(countResult{count: 1})
	n := &fakeNotifier{}
	p, _ := newTestPoller(t, api, n, StaticIdentity("farmer@test.com"))

	p.Initialize(context.Background())
	require.EqualValues(t, 42, p.Snapshot().LastSeenID)

	p.Poll(context.Background())

	snap := p.Snapshot()
	assert.Equal(t, 1, snap.NewAlertsCount)
	assert.EqualValues(t, 42, snap.LastSeenID)

	toasts := n.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, "farmer@test.com", toasts[0].Email)
	assert.Contains(t, toasts[0].Body, "1")
	assert.EqualValues(t, 42, toasts[0].LastSeenID)

	api.mu.Lock()
	assert.Equal(t, []int64{42}, api.countSince)
	api.mu.Unlock()
}
