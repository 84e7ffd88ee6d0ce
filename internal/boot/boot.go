// Package boot sequences platform bring-up (spec §4.A-§4.F) and then fans
// out the background control loops (autonomy, health, and the optional
// control-plane listener) under
// one cancellable errgroup, the same "ordered bring-up, concurrent
// steady-state" shape the teacher's netstack gives its own listener/health
// goroutines.
package boot

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/autonomy"
	"github.com/ai-native-os/corekernel/internal/config"
	"github.com/ai-native-os/corekernel/internal/gic"
	"github.com/ai-native-os/corekernel/internal/health"
	"github.com/ai-native-os/corekernel/internal/infer"
	"github.com/ai-native-os/corekernel/internal/klog"
	"github.com/ai-native-os/corekernel/internal/memory"
	"github.com/ai-native-os/corekernel/internal/mmu"
	"github.com/ai-native-os/corekernel/internal/platform"
	"github.com/ai-native-os/corekernel/internal/protocol"
	"github.com/ai-native-os/corekernel/internal/sched"
	"github.com/ai-native-os/corekernel/internal/shell"
	"github.com/ai-native-os/corekernel/internal/supervision"
	"github.com/ai-native-os/corekernel/internal/timekeeper"
	"github.com/ai-native-os/corekernel/internal/uart"
	"github.com/ai-native-os/corekernel/internal/vfs"
)

// DefaultHeapBytes sizes the general-purpose heap handed to NewHeap.
const DefaultHeapBytes = 16 << 20

// DefaultUARTBaud is the line rate Init programs the PL011 for.
const DefaultUARTBaud = 115200

// hostedUARTWindow stands in for the PL011 register block when the kernel
// runs hosted rather than against real MMIO (mirrors the mmu package's own
// "represent registers as explicit state" approach): writes to the data
// register are copied to Sink, the flag register always reports room in
// the TX FIFO, and every other offset is a plain read/write-back cell.
type hostedUARTWindow struct {
	mu   sync.Mutex
	Sink io.Writer
	regs map[uint64]uint32
}

const (
	offsetDR = 0x00
	offsetFR = 0x18
)

func (w *hostedUARTWindow) Write32(offset uint64, value uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if offset == offsetDR {
		_, _ = w.Sink.Write([]byte{byte(value)})
		return
	}
	if w.regs == nil {
		w.regs = make(map[uint64]uint32)
	}
	w.regs[offset] = value
}

func (w *hostedUARTWindow) Read32(offset uint64) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if offset == offsetFR {
		return 0 // TX FIFO never reports full in the hosted sink
	}
	return w.regs[offset]
}

// System is every subsystem handle produced by a successful Bring, plus
// the background task group fanned out by Run.
type System struct {
	Descriptor *platform.Descriptor

	UART  *uart.Driver
	Heap  *memory.Heap
	MMU   *mmu.Manager
	Timer *timekeeper.Keeper
	GIC   *gic.Controller
	Sched *sched.Scheduler
	Arena *memory.Arena

	AuditChain *audit.Chain
	ConfigQ    *config.Quarantine
	Registry   *supervision.Registry
	PolicyCtl  *supervision.PolicyController
	Telemetry  *supervision.TelemetryAggregator
	Supervisor *supervision.Supervisor
	Autonomy   *autonomy.Controller
	Engine     *infer.Engine

	HealthBus *health.Bus
	HealthMon *health.Monitor

	Shell    *shell.Core
	Protocol *protocol.Dispatcher

	// ControlPlaneListener, when set before Run, is served as the hosted
	// stand-in for the virtio-console control-plane transport (spec
	// §6.1): Run accepts connections on it and dispatches every framed
	// message through Protocol until ctx is cancelled.
	ControlPlaneListener net.Listener

	nowNs     func() int64
	bootNowNs int64
}

// SampleTelemetry builds the live autonomy.Telemetry snapshot (spec §4.H:
// "heap usage, IRQ latency percentiles, scheduler misses, recent inference
// confidences") from the running subsystems, for callers that want the
// autonomy loop arbitrating over real signals rather than a zero-value
// stand-in.
func (s *System) SampleTelemetry() autonomy.Telemetry {
	m := s.Sched.Metrics()
	elapsedMin := float64(s.nowNs()-s.bootNowNs) / float64(time.Minute)
	missesPerMin := 0.0
	if elapsedMin > 0 {
		missesPerMin = float64(m.DeterministicDeadlineMissCount) / elapsedMin
	}
	return autonomy.Telemetry{
		HeapUsedFraction:  float64(s.Heap.Used()) / float64(s.Heap.Capacity()),
		IRQLatencyP99Us:   float64(m.JitterP99Ns()) / 1000,
		SchedMissesPerMin: missesPerMin,
		RecentInferConf:   s.Engine.LastConfidence(),
	}
}

// Bring runs the ordered platform -> UART -> heap -> MMU -> timer -> GIC ->
// scheduler -> shell bring-up chain against plat, writing the UART
// console to sink, and logging the exact line sequence spec §8 scenario 1
// names: UART_READY, HEAP_READY, MMU_ON, GIC_READY, SCHED_READY,
// SHELL_READY. Any failure aborts the chain and returns the first error.
func Bring(plat *platform.Descriptor, sink io.Writer) (*System, error) {
	if err := plat.Validate(); err != nil {
		return nil, fmt.Errorf("boot: platform descriptor invalid: %w", err)
	}

	win := &hostedUARTWindow{Sink: sink}
	driver := uart.New(win)
	if err := driver.Init(plat.UARTClock, DefaultUARTBaud); err != nil {
		return nil, fmt.Errorf("boot: uart init: %w", err)
	}
	klog.SetSink(driver)
	klog.Info("boot", "UART_READY")

	heap := memory.NewHeap(DefaultHeapBytes)
	klog.Info("boot", "HEAP_READY")

	mmgr := &mmu.Manager{}
	if err := mmgr.BuildAndEnable(plat); err != nil {
		return nil, fmt.Errorf("boot: mmu bring-up: %w", err)
	}
	klog.Info("boot", "MMU_ON")

	timer, err := timekeeper.Init(plat.TimerFrequencyHz)
	if err != nil {
		return nil, fmt.Errorf("boot: timekeeper init: %w", err)
	}

	gicCtl, err := gic.New(plat)
	if err != nil {
		return nil, fmt.Errorf("boot: gic construction: %w", err)
	}
	scheduler := sched.New(sched.DefaultConfig())
	gicCtl.RegisterHandler(gic.TimerPPI, func(uint32) {
		scheduler.Tick(int64(timer.UptimeUs()) * 1000)
	})
	if err := gicCtl.Init(); err != nil {
		return nil, fmt.Errorf("boot: gic init: %w", err)
	}
	klog.Info("boot", "GIC_READY")

	klog.Info("boot", "SCHED_READY")

	nowNs := func() int64 { return int64(timer.UptimeUs()) * 1000 }

	chain := audit.NewChain(8192, audit.SHA256Hasher{})
	configQ := config.New(audit.SHA256Hasher{}, config.AlwaysValid{}, nowNs)
	registry := supervision.NewRegistry()
	policyCtl := &supervision.PolicyController{Registry: registry, Audit: chain}
	telemetry := supervision.NewTelemetryAggregator()
	supervisor := &supervision.Supervisor{
		Registry:  registry,
		Detector:  supervision.FaultDetector{},
		Policy:    supervision.RecoveryPolicy{},
		Telemetry: telemetry,
		Audit:     chain,
	}
	autoCtl := autonomy.NewController(autonomy.Weights{
		Memory: 1, Scheduling: 1, Command: 1,
	}, chain, nowNs)

	arena := memory.NewArena()
	engine := &infer.Engine{Arena: arena, Audit: chain, NowNs: nowNs}

	bus := &health.Bus{}
	source := func() health.Summary {
		_, breakerOpen := schedBreaker(scheduler, nowNs())
		return health.Summary{
			TsNs:                nowNs(),
			HeapUsedBytes:       int64(heap.Used()),
			HeapCapacityBytes:   int64(heap.Capacity()),
			ArenaHighWaterBytes: arena.HighWaterMark(),
			SchedUtilisation:    scheduler.Utilisation(),
			SchedBreakerOpen:    breakerOpen,
			WatchdogTriggers:    autoCtl.WatchdogTriggers(),
			DriftClass:          int(autoCtl.DriftClass()),
			ActiveAgents:        len(registry.List()),
			AuditChainOk:        chain.VerifyChain(),
		}
	}
	mon := health.NewMonitor(source, bus)

	incidents := &vfs.IncidentWriter{
		WriteFile: func(path string, data []byte) error {
			if err := os.MkdirAll("incidents", 0o755); err != nil {
				return err
			}
			return os.WriteFile("."+path, data, 0o644)
		},
		NowUnix: func() int64 { return nowNs() / 1_000_000_000 },
	}

	shellCore := &shell.Core{
		Scheduler:  scheduler,
		Engine:     engine,
		Autonomy:   autoCtl,
		Registry:   registry,
		PolicyCtl:  policyCtl,
		ConfigQ:    configQ,
		AuditChain: chain,
		HealthBus:  bus,
		ModelStore: vfs.ModelStore{FS: os.DirFS(".").(vfs.ReadOnlyFS)},
		Incidents:  incidents,
		NowNs:      nowNs,
	}
	klog.Info("boot", "SHELL_READY")

	proto := &protocol.Dispatcher{
		Registry:   registry,
		ConfigQ:    configQ,
		Engine:     engine,
		ModelStore: shellCore.ModelStore,
		Audit:      chain,
		NowNs:      nowNs,
	}

	return &System{
		Descriptor: plat,
		UART:       driver,
		Heap:       heap,
		MMU:        mmgr,
		Timer:      timer,
		GIC:        gicCtl,
		Sched:      scheduler,
		Arena:      arena,
		AuditChain: chain,
		ConfigQ:    configQ,
		Registry:   registry,
		PolicyCtl:  policyCtl,
		Telemetry:  telemetry,
		Supervisor: supervisor,
		Autonomy:   autoCtl,
		Engine:     engine,
		HealthBus:  bus,
		HealthMon:  mon,
		Shell:      shellCore,
		Protocol:   proto,
		nowNs:      nowNs,
		bootNowNs:  nowNs(),
	}, nil
}

func schedBreaker(s *sched.Scheduler, nowNs int64) (sched.BreakerState, bool) {
	st := s.BreakerState(nowNs)
	return st, st == sched.BreakerOpen
}

// Run fans out the steady-state background loops (autonomy tick, health
// tick) under one errgroup.Group so a failure or ctx cancellation in any
// loop stops the others. telemetry is the live sample the autonomy loop
// arbitrates over; callers that have no telemetry source yet may pass a
// func returning a zero-value Telemetry. Run blocks until ctx is done or a
// loop returns a non-nil error.
func (s *System) Run(ctx context.Context, telemetry func() autonomy.Telemetry, tick time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := s.Autonomy.Tick(telemetry()); err != nil {
					klog.Warn("boot", "autonomy tick: %v", err)
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.HealthMon.Tick()
			}
		}
	})

	if s.ControlPlaneListener != nil {
		g.Go(func() error {
			return s.serveControlPlane(ctx, s.ControlPlaneListener)
		})
	}

	return g.Wait()
}

// serveControlPlane accepts connections on ln, running one protocol.Serve
// loop per connection, until ctx is cancelled.
func (s *System) serveControlPlane(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("control-plane accept: %w", err)
		}
		go func() {
			defer conn.Close()
			if err := protocol.Serve(ctx, conn, conn, s.Protocol); err != nil {
				klog.Warn("boot", "control-plane connection: %v", err)
			}
		}()
	}
}
