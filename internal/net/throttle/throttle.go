package throttle

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
)

// PacketSize is the number of bytes accounted per tick
const PacketSize int64 = 1500

// MaxTickLength bounds the time per packet for vanishingly small throughputs
const MaxTickLength = 24 * time.Hour

// Callback receives the withheld result once the transfer is released
type Callback func(result int, bytes int64)

// Transfer describes one completion to withhold
type Transfer struct {
	ID string
	// Result is the completion value: a byte count or a negative error code
	Result int
	// Bytes is the amount of simulated traffic
	Bytes int64
	// SendEnd is when the request finished sending; latency counts from here
	SendEnd time.Time
	// Start marks the first completion of a transfer, which pays latency
	Start    bool
	Upload   bool
	Callback Callback
}

// Clock abstracts time for tests
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock
var SystemClock Clock = realClock{}

// Timer is a restartable one-shot timer on the throttle's sequence
type Timer interface {
	Start(delay time.Duration, fn func())
	Stop()
}

// Stats is a snapshot of queue sizes
type Stats struct {
	Download  int
	Upload    int
	Suspended int
}

// Throttle withholds transfer completions per the active Conditions
type Throttle struct {
	conditions Conditions
	clock      Clock
	timer      Timer
	logger     *zap.Logger
	onStats    func(Stats)

	download  []*Transfer
	upload    []*Transfer
	suspended []*Transfer
	// ready holds promoted transfers whose direction has no bandwidth limit
	ready []*Transfer

	offset             time.Time
	downloadLastTick   int64
	uploadLastTick     int64
	downloadTickLength time.Duration
	uploadTickLength   time.Duration
	latency            time.Duration
}

// New creates a throttle with no conditions applied
func New(timer Timer, clock Clock, logger *zap.Logger) *Throttle {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttle{
		timer:  timer,
		clock:  clock,
		logger: logger,
	}
}

// OnStats registers a hook called whenever queue sizes may have changed
func (t *Throttle) OnStats(fn func(Stats)) {
	t.onStats = fn
}

// Conditions returns the active conditions
func (t *Throttle) Conditions() Conditions {
	return t.conditions
}

// IsOffline reports whether offline mode is active
func (t *Throttle) IsOffline() bool {
	return t.conditions.Offline
}

// IsThrottling reports whether limits apply
func (t *Throttle) IsThrottling() bool {
	return t.conditions.IsThrottling()
}

// Stats returns current queue sizes
func (t *Throttle) Stats() Stats {
	return Stats{
		Download:  len(t.download),
		Upload:    len(t.upload),
		Suspended: len(t.suspended) + len(t.ready),
	}
}

// UpdateConditions swaps the active conditions. Leaving throttling releases
// every withheld transfer; going offline fails every non-upload transfer.
func (t *Throttle) UpdateConditions(c Conditions) {
	now := t.clock.Now()
	if t.IsThrottling() {
		t.updateThrottled(now)
	}

	t.conditions = c
	t.logger.Debug("Network conditions updated", zap.Stringer("conditions", c))

	if c.Offline || !c.IsThrottling() {
		t.timer.Stop()
		t.finishAll(c.Offline)
		t.reportStats()
		return
	}

	t.offset = now
	t.downloadLastTick = 0
	t.uploadLastTick = 0
	t.downloadTickLength = tickLength(c.DownloadThroughput)
	t.uploadTickLength = tickLength(c.UploadThroughput)
	t.latency = c.Latency

	// Directions that lost their bandwidth limit release their transfers
	if t.downloadTickLength == 0 && len(t.download) > 0 {
		t.ready = append(t.ready, t.download...)
		t.download = nil
	}
	if t.uploadTickLength == 0 && len(t.upload) > 0 {
		t.ready = append(t.ready, t.upload...)
		t.upload = nil
	}

	t.armTimer(now)
}

// Start offers a completion to the throttle. It returns the result to use
// immediately, or neterr.IOPending when the callback will deliver it later.
func (t *Throttle) Start(tr Transfer) int {
	if tr.Result < 0 {
		return tr.Result
	}

	if t.conditions.Offline {
		if tr.Upload {
			return tr.Result
		}
		return int(neterr.InternetDisconnected)
	}

	if !t.IsThrottling() {
		return tr.Result
	}

	suspend := tr.Start && t.latency > 0
	if !suspend && t.tickLengthFor(tr.Upload) == 0 {
		return tr.Result
	}

	now := t.clock.Now()
	t.updateThrottled(now)

	rec := tr
	if suspend {
		t.suspended = append(t.suspended, &rec)
		t.updateSuspended(now)
	} else if tr.Upload {
		t.upload = append(t.upload, &rec)
	} else {
		t.download = append(t.download, &rec)
	}

	t.armTimer(now)
	return int(neterr.IOPending)
}

// Stop drops a withheld transfer without running its callback
func (t *Throttle) Stop(id string) bool {
	removed := false
	for _, list := range []*[]*Transfer{&t.download, &t.upload, &t.suspended, &t.ready} {
		kept := (*list)[:0]
		for _, rec := range *list {
			if rec.ID == id {
				removed = true
				continue
			}
			kept = append(kept, rec)
		}
		*list = kept
	}
	if removed {
		t.armTimer(t.clock.Now())
	}
	return removed
}

func (t *Throttle) tickLengthFor(upload bool) time.Duration {
	if upload {
		return t.uploadTickLength
	}
	return t.downloadTickLength
}

// tickLength is the time to move one packet at throughput bytes/sec.
// Non-positive and NaN throughputs disable throttling for the direction.
func tickLength(throughput float64) time.Duration {
	if !(throughput > 0) {
		return 0
	}
	us := 1000000 * float64(PacketSize) / throughput
	if us >= float64(MaxTickLength/time.Microsecond) {
		return MaxTickLength
	}
	if us < 1 {
		us = 1
	}
	return time.Duration(us) * time.Microsecond
}

func (t *Throttle) updateThrottled(now time.Time) {
	t.download = t.updateThrottledRecords(now, t.download, &t.downloadLastTick, t.downloadTickLength)
	t.upload = t.updateThrottledRecords(now, t.upload, &t.uploadLastTick, t.uploadTickLength)
	t.updateSuspended(now)
}

func (t *Throttle) updateThrottledRecords(now time.Time, records []*Transfer, lastTick *int64, tick time.Duration) []*Transfer {
	if tick == 0 {
		if len(records) != 0 {
			panic("throttle: transfers queued without throughput")
		}
		return records
	}

	newTick := int64(now.Sub(t.offset) / tick)
	ticks := newTick - *lastTick
	*lastTick = newTick

	length := int64(len(records))
	if length == 0 {
		return records
	}

	shift := ticks % length
	for i := int64(0); i < length; i++ {
		spent := (ticks / length) * PacketSize
		if i < shift {
			spent += PacketSize
		}
		records[i].Bytes -= spent
	}

	rotated := make([]*Transfer, 0, length)
	rotated = append(rotated, records[shift:]...)
	rotated = append(rotated, records[:shift]...)
	return rotated
}

func (t *Throttle) updateSuspended(now time.Time) {
	baseline := now.Add(-t.latency)
	kept := t.suspended[:0]
	for _, rec := range t.suspended {
		if rec.SendEnd.After(baseline) {
			kept = append(kept, rec)
			continue
		}
		switch {
		case t.tickLengthFor(rec.Upload) == 0:
			t.ready = append(t.ready, rec)
		case rec.Upload:
			t.upload = append(t.upload, rec)
		default:
			t.download = append(t.download, rec)
		}
	}
	t.suspended = kept
}

func collectFinished(records []*Transfer, finished []*Transfer) ([]*Transfer, []*Transfer) {
	active := records[:0]
	for _, rec := range records {
		if rec.Bytes <= 0 {
			finished = append(finished, rec)
		} else {
			active = append(active, rec)
		}
	}
	return active, finished
}

func (t *Throttle) onTimer() {
	now := t.clock.Now()
	t.updateThrottled(now)

	finished := t.ready
	t.ready = nil
	t.download, finished = collectFinished(t.download, finished)
	t.upload, finished = collectFinished(t.upload, finished)

	for _, rec := range finished {
		rec.Callback(rec.Result, rec.Bytes)
	}

	t.armTimer(now)
}

func (t *Throttle) calculateDesiredTime(records []*Transfer, lastTick int64, tick time.Duration) time.Time {
	count := int64(len(records))
	var minTicksLeft int64
	for i, rec := range records {
		packetsLeft := (rec.Bytes + PacketSize - 1) / PacketSize
		ticksLeft := int64(i+1) + count*(packetsLeft-1)
		if i == 0 || ticksLeft < minTicksLeft {
			minTicksLeft = ticksLeft
		}
	}
	n := lastTick + minTicksLeft
	if n > int64(math.MaxInt64/tick) {
		return t.offset.Add(math.MaxInt64)
	}
	return t.offset.Add(tick * time.Duration(n))
}

func (t *Throttle) armTimer(now time.Time) {
	defer t.reportStats()

	if len(t.download) == 0 && len(t.upload) == 0 && len(t.suspended) == 0 && len(t.ready) == 0 {
		t.timer.Stop()
		return
	}

	var desired time.Time
	set := false
	consider := func(at time.Time) {
		if !set || at.Before(desired) {
			desired = at
			set = true
		}
	}

	if len(t.ready) > 0 {
		consider(now)
	}
	if len(t.download) > 0 {
		consider(t.calculateDesiredTime(t.download, t.downloadLastTick, t.downloadTickLength))
	}
	if len(t.upload) > 0 {
		consider(t.calculateDesiredTime(t.upload, t.uploadLastTick, t.uploadTickLength))
	}
	if len(t.suspended) > 0 {
		earliest := t.suspended[0].SendEnd
		for _, rec := range t.suspended[1:] {
			if rec.SendEnd.Before(earliest) {
				earliest = rec.SendEnd
			}
		}
		consider(earliest.Add(t.latency))
	}

	delay := desired.Sub(now)
	if delay < 0 {
		delay = 0
	}
	t.timer.Start(delay, t.onTimer)
}

func (t *Throttle) finishAll(offline bool) {
	var all []*Transfer
	all = append(all, t.download...)
	all = append(all, t.upload...)
	all = append(all, t.suspended...)
	all = append(all, t.ready...)
	t.download, t.upload, t.suspended, t.ready = nil, nil, nil, nil

	for _, rec := range all {
		result := rec.Result
		if offline && !rec.Upload {
			result = int(neterr.InternetDisconnected)
		}
		rec.Callback(result, rec.Bytes)
	}
}

func (t *Throttle) reportStats() {
	if t.onStats != nil {
		t.onStats(t.Stats())
	}
}
