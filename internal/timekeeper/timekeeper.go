// Package timekeeper reads the AArch64 generic timer frequency, programs
// the periodic virtual-timer tick, and publishes monotonic uptime (spec
// §4.E). Hosted execution has no CNTFRQ_EL0 to read, so the frequency is
// supplied by the platform descriptor, matching what a real boot would have
// read into a register before calling Init.
package timekeeper

import (
	"sync/atomic"
	"time"

	"github.com/ai-native-os/corekernel/internal/kernelerr"
)

// DefaultWatchdogPeriod is the watchdog tick interval named in spec §4.E.
const DefaultWatchdogPeriod = time.Second

// Clock is the monotonic time source the rest of the kernel depends on. It
// is a thin seam over a counter so tests can advance time deterministically
// instead of racing wall-clock.
type Clock interface {
	NowNanos() int64
}

type systemClock struct{ start time.Time }

func (c systemClock) NowNanos() int64 { return time.Since(c.start).Nanoseconds() }

// Keeper publishes monotonic uptime_us() and the programmed tick period.
type Keeper struct {
	freqHz     uint64
	tickPeriod time.Duration
	clock      Clock
	lastUptime atomic.Int64
}

// Init reads the timer frequency from freqHz (CNTFRQ_EL0 in a real boot)
// and programs the periodic tick. A zero frequency is rejected with
// TimerFreqInvalid.
func Init(freqHz uint64) (*Keeper, error) {
	if freqHz == 0 {
		return nil, kernelerr.New(kernelerr.KindTimerFreqInvalid, "CNTFRQ_EL0 read zero")
	}
	return &Keeper{
		freqHz:     freqHz,
		tickPeriod: DefaultWatchdogPeriod,
		clock:      systemClock{start: time.Now()},
	}, nil
}

// WithClock overrides the clock source (tests only).
func (k *Keeper) WithClock(c Clock) *Keeper {
	k.clock = c
	return k
}

// UptimeUs returns monotonic microseconds since boot. Never decreases
// within one boot.
func (k *Keeper) UptimeUs() uint64 {
	now := k.clock.NowNanos() / 1000
	for {
		last := k.lastUptime.Load()
		if now <= last {
			return uint64(last)
		}
		if k.lastUptime.CompareAndSwap(last, now) {
			return uint64(now)
		}
	}
}

// FrequencyHz returns the programmed CNTFRQ_EL0 value.
func (k *Keeper) FrequencyHz() uint64 { return k.freqHz }

// TickPeriod returns the programmed periodic-tick interval.
func (k *Keeper) TickPeriod() time.Duration { return k.tickPeriod }

// SetTickPeriod reprograms CNTV_TVAL_EL1 equivalent; the scheduler uses a
// shorter slice than the watchdog default.
func (k *Keeper) SetTickPeriod(d time.Duration) { k.tickPeriod = d }
