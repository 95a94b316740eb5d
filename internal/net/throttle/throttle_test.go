package throttle

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeTimer struct {
	armed bool
	delay time.Duration
	fn    func()
}

func (f *fakeTimer) Start(delay time.Duration, fn func()) {
	f.armed = true
	f.delay = delay
	f.fn = fn
}

func (f *fakeTimer) Stop() {
	f.armed = false
	f.fn = nil
}

// fire advances the clock to the armed deadline and runs the callback
func (f *fakeTimer) fire(clock *fakeClock) {
	fn := f.fn
	clock.Advance(f.delay)
	f.armed = false
	f.fn = nil
	fn()
}

type completion struct {
	result int
	at     time.Duration
}

func newTestThrottle() (*Throttle, *fakeTimer, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	timer := &fakeTimer{}
	return New(timer, clock, nil), timer, clock
}

func TestTickLength(t *testing.T) {
	assert.Equal(t, time.Duration(0), tickLength(0))
	assert.Equal(t, time.Second, tickLength(1500))
	assert.Equal(t, 500*time.Millisecond, tickLength(3000))
	assert.Equal(t, time.Microsecond, tickLength(1e12), "clamped to one unit")
	assert.Equal(t, time.Duration(0), tickLength(-5))
	assert.Equal(t, time.Duration(0), tickLength(math.NaN()))

	for _, tiny := range []float64{1e-7, 1e-9, math.SmallestNonzeroFloat64} {
		assert.Equal(t, MaxTickLength, tickLength(tiny), "%g B/s", tiny)
	}
}

func TestConditionsIsThrottling(t *testing.T) {
	tests := []struct {
		name string
		c    Conditions
		want bool
	}{
		{"none", NoConditions(), false},
		{"offline", OfflineConditions(), false},
		{"latency only", Conditions{Latency: time.Millisecond}, true},
		{"download only", Conditions{DownloadThroughput: 1}, true},
		{"upload only", Conditions{UploadThroughput: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.IsThrottling())
		})
	}
}

func TestThrottleDownloadCompletesAfterThreeTicks(t *testing.T) {
	th, timer, clock := newTestThrottle()
	th.UpdateConditions(Conditions{DownloadThroughput: 1500})
	start := clock.now

	var done []completion
	rv := th.Start(Transfer{
		ID:     "a",
		Result: 4500,
		Bytes:  4500,
		Callback: func(result int, _ int64) {
			done = append(done, completion{result, clock.now.Sub(start)})
		},
	})
	require.Equal(t, int(neterr.IOPending), rv)
	require.True(t, timer.armed)
	assert.Equal(t, 3*time.Second, timer.delay)

	timer.fire(clock)
	require.Len(t, done, 1)
	assert.Equal(t, 4500, done[0].result)
	assert.GreaterOrEqual(t, done[0].at, 3*time.Second)
	assert.False(t, timer.armed)
}

func TestThrottleTinyThroughputArmsBoundedTimer(t *testing.T) {
	th, timer, _ := newTestThrottle()
	th.UpdateConditions(Conditions{DownloadThroughput: 1e-9})

	released := false
	rv := th.Start(Transfer{
		ID:       "a",
		Result:   3000,
		Bytes:    3000,
		Callback: func(int, int64) { released = true },
	})
	require.Equal(t, int(neterr.IOPending), rv)
	require.True(t, timer.armed)
	assert.Equal(t, 2*MaxTickLength, timer.delay)

	th.UpdateConditions(NoConditions())
	assert.True(t, released)
}

func TestThrottleEarlyTimerDoesNotRelease(t *testing.T) {
	th, timer, clock := newTestThrottle()
	th.UpdateConditions(Conditions{DownloadThroughput: 1500})

	released := false
	th.Start(Transfer{ID: "a", Result: 4500, Bytes: 4500, Callback: func(int, int64) { released = true }})

	clock.Advance(2999 * time.Millisecond)
	timer.delay = 0
	timer.fire(clock)
	assert.False(t, released)
	require.True(t, timer.armed)
	assert.Equal(t, time.Millisecond, timer.delay)

	timer.fire(clock)
	assert.True(t, released)
}

func TestThrottleRoundRobinSharesBandwidth(t *testing.T) {
	th, timer, clock := newTestThrottle()
	th.UpdateConditions(Conditions{DownloadThroughput: 1500})
	start := clock.now

	finished := map[string]time.Duration{}
	for _, id := range []string{"a", "b"} {
		id := id
		th.Start(Transfer{ID: id, Result: 3000, Bytes: 3000, Callback: func(int, int64) {
			finished[id] = clock.now.Sub(start)
		}})
	}

	for i := 0; i < 10 && len(finished) < 2; i++ {
		require.True(t, timer.armed)
		timer.fire(clock)
	}

	require.Len(t, finished, 2)
	assert.Equal(t, 3*time.Second, finished["a"])
	assert.Equal(t, 4*time.Second, finished["b"])
}

func TestThrottleLatencySuspendsStart(t *testing.T) {
	th, timer, clock := newTestThrottle()
	th.UpdateConditions(Conditions{Latency: 200 * time.Millisecond, DownloadThroughput: 1500})

	released := false
	rv := th.Start(Transfer{
		ID:       "a",
		Result:   0,
		Bytes:    0,
		SendEnd:  clock.now,
		Start:    true,
		Callback: func(int, int64) { released = true },
	})
	require.Equal(t, int(neterr.IOPending), rv)
	assert.Equal(t, 1, th.Stats().Suspended)
	assert.Equal(t, 200*time.Millisecond, timer.delay)

	timer.fire(clock)
	assert.Equal(t, 0, th.Stats().Suspended)
	if !released {
		require.True(t, timer.armed)
		timer.fire(clock)
	}
	assert.True(t, released)
}

func TestThrottleLatencyWithoutThroughput(t *testing.T) {
	th, timer, clock := newTestThrottle()
	th.UpdateConditions(Conditions{Latency: 100 * time.Millisecond})

	assert.Equal(t, 512, th.Start(Transfer{ID: "body", Result: 512, Bytes: 512}),
		"non-start transfers pass through without throughput")

	var got []int
	rv := th.Start(Transfer{ID: "a", Result: 7, SendEnd: clock.now, Start: true, Callback: func(r int, _ int64) {
		got = append(got, r)
	}})
	require.Equal(t, int(neterr.IOPending), rv)

	timer.fire(clock)
	if len(got) == 0 {
		timer.fire(clock)
	}
	assert.Equal(t, []int{7}, got)
}

func TestThrottleOfflineFailsNonUploads(t *testing.T) {
	th, _, _ := newTestThrottle()
	th.UpdateConditions(Conditions{DownloadThroughput: 100, UploadThroughput: 100})

	results := map[string]int{}
	record := func(id string) Callback {
		return func(r int, _ int64) { results[id] = r }
	}
	th.Start(Transfer{ID: "down", Result: 10, Bytes: 5000, Callback: record("down")})
	th.Start(Transfer{ID: "up", Result: 20, Bytes: 5000, Upload: true, Callback: record("up")})

	th.UpdateConditions(OfflineConditions())
	assert.Equal(t, int(neterr.InternetDisconnected), results["down"])
	assert.Equal(t, 20, results["up"])
	assert.True(t, th.IsOffline())

	assert.Equal(t, int(neterr.InternetDisconnected), th.Start(Transfer{ID: "x", Result: 1}))
	assert.Equal(t, 3, th.Start(Transfer{ID: "y", Result: 3, Upload: true}))
}

func TestThrottleDisableFlushesOnce(t *testing.T) {
	th, timer, clock := newTestThrottle()
	th.UpdateConditions(Conditions{Latency: time.Second, DownloadThroughput: 1500})

	calls := map[string]int{}
	last := map[string]int{}
	for i, id := range []string{"a", "b", "c"} {
		id := id
		th.Start(Transfer{ID: id, Result: 100 * (i + 1), Bytes: 9000, SendEnd: clock.now, Start: id == "c",
			Callback: func(r int, _ int64) {
				calls[id]++
				last[id] = r
			}})
	}

	th.UpdateConditions(NoConditions())
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, calls)
	assert.Equal(t, map[string]int{"a": 100, "b": 200, "c": 300}, last)
	assert.False(t, timer.armed)
	assert.Equal(t, Stats{}, th.Stats())

	th.UpdateConditions(NoConditions())
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, calls)
}

func TestThrottleNegativeResultPassesThrough(t *testing.T) {
	th, _, _ := newTestThrottle()
	th.UpdateConditions(Conditions{DownloadThroughput: 1500})
	assert.Equal(t, int(neterr.ConnectionReset), th.Start(Transfer{Result: int(neterr.ConnectionReset)}))
}

func TestThrottleStop(t *testing.T) {
	th, timer, _ := newTestThrottle()
	th.UpdateConditions(Conditions{DownloadThroughput: 1500})

	called := false
	th.Start(Transfer{ID: "a", Result: 1, Bytes: 1500, Callback: func(int, int64) { called = true }})
	assert.True(t, th.Stop("a"))
	assert.False(t, th.Stop("a"))
	assert.False(t, timer.armed)

	th.UpdateConditions(NoConditions())
	assert.False(t, called)
}

func TestThrottleDroppingThroughputReleasesTransfers(t *testing.T) {
	th, timer, clock := newTestThrottle()
	th.UpdateConditions(Conditions{DownloadThroughput: 1500})

	released := false
	th.Start(Transfer{ID: "a", Result: 1, Bytes: 15000, Callback: func(int, int64) { released = true }})

	th.UpdateConditions(Conditions{Latency: time.Second})
	require.True(t, timer.armed)
	assert.Equal(t, time.Duration(0), timer.delay)
	timer.fire(clock)
	assert.True(t, released)
}

func TestThrottleStatsHook(t *testing.T) {
	th, _, _ := newTestThrottle()
	var last Stats
	th.OnStats(func(s Stats) { last = s })

	th.UpdateConditions(Conditions{DownloadThroughput: 1500})
	th.Start(Transfer{ID: "a", Result: 1, Bytes: 3000, Callback: func(int, int64) {}})
	assert.Equal(t, 1, last.Download)
}

func TestPreset(t *testing.T) {
	c, ok := Preset("Fast-3G")
	require.True(t, ok)
	assert.True(t, c.IsThrottling())

	_, ok = Preset("dial-up")
	assert.False(t, ok)
	assert.Contains(t, PresetNames(), "offline")
}

func TestClientID(t *testing.T) {
	var id ClientID
	assert.Empty(t, id.Get())
	id.Set("devtools-1")
	assert.Equal(t, "devtools-1", id.Get())
}
