// Package klog is the kernel's level-gated log framework (spec §4.M). It
// follows the teacher's internal/debug package in spirit — a single
// process-wide sink guarded by a mutex (sinkMu), safe for concurrent
// writers — but is generalized to level gating and colorized
// formatting instead of debug's binary record format, and adds a strictly
// ISR-safe breadcrumb path that never allocates or formats.
package klog

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// Level gates which records reach the sink.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "????"
	}
}

func (l Level) color() string {
	switch l {
	case LevelTrace:
		return ansi.Faint
	case LevelDebug:
		return ansi.Faint
	case LevelInfo:
		return "\x1b[36m" // cyan
	case LevelWarn:
		return "\x1b[33m" // yellow
	case LevelError, LevelFatal:
		return "\x1b[31m" // red
	default:
		return ""
	}
}

var (
	sinkMu   sync.Mutex
	sink     io.Writer = io.Discard
	minLevel atomic.Int32
	colorize atomic.Bool
)

func init() {
	minLevel.Store(int32(LevelInfo))
}

// SetSink installs the writer every non-ISR log line is written to (the
// reference implementation binds this to the UART driver).
func SetSink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if w == nil {
		sink = io.Discard
		return
	}
	sink = w
}

// SetLevel gates which records are emitted; lower-severity records are
// dropped without formatting their arguments.
func SetLevel(l Level) { minLevel.Store(int32(l)) }

// SetColor toggles ANSI coloring of emitted lines (off by default; the
// reference shell turns it on for an interactive UART console).
func SetColor(on bool) { colorize.Store(on) }

func enabled(l Level) bool { return int32(l) >= minLevel.Load() }

// Logf writes a formatted record gated by level, identified by component.
// Never call from ISR context: it allocates and acquires sinkMu.
func Logf(level Level, component, format string, args ...any) {
	if !enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] %-5s %s: %s\n", time.Now().UTC().Format(time.RFC3339Nano), level, component, msg)
	if colorize.Load() {
		line = level.color() + line + ansi.Reset
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	_, _ = io.WriteString(sink, line)
}

func Trace(component, format string, args ...any) { Logf(LevelTrace, component, format, args...) }
func Debug(component, format string, args ...any)  { Logf(LevelDebug, component, format, args...) }
func Info(component, format string, args ...any)   { Logf(LevelInfo, component, format, args...) }
func Warn(component, format string, args ...any)   { Logf(LevelWarn, component, format, args...) }
func Error(component, format string, args ...any)  { Logf(LevelError, component, format, args...) }

// Breadcrumb is the ISR-safe half of the framework: a fixed-size lock-free
// ring of integer tags, pushed by interrupt handlers and drained only from
// non-ISR context. It never allocates, formats, or takes a lock, satisfying
// §4.C's "must not allocate, format strings, or acquire any lock" contract.
type Breadcrumb struct {
	ring   [512]uint32
	cursor atomic.Uint64
}

// Push appends tag to the ring. Safe to call from ISR context.
func (b *Breadcrumb) Push(tag uint32) {
	idx := b.cursor.Add(1) - 1
	b.ring[idx%uint64(len(b.ring))] = tag
}

// Drain returns a snapshot of the ring, oldest-recorded-first among the
// still-resident entries. Only call from non-ISR context.
func (b *Breadcrumb) Drain() []uint32 {
	n := b.cursor.Load()
	count := uint64(len(b.ring))
	if n < count {
		count = n
	}
	out := make([]uint32, count)
	start := n - count
	for i := uint64(0); i < count; i++ {
		out[i] = b.ring[(start+i)%uint64(len(b.ring))]
	}
	return out
}
