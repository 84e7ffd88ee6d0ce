// Package uart drives the PL011 UART register block used by the reference
// platform. Registers are written through the Window interface rather than
// bare pointers, so the same driver runs against real MMIO and against the
// in-process byte-sink the hosted boot uses.
package uart

import (
	"fmt"
	"sync"
)

// Register offsets from the PL011 technical reference manual.
const (
	regDR   = 0x00
	regFR   = 0x18
	regIBRD = 0x24
	regFBRD = 0x28
	regLCRH = 0x2c
	regCR   = 0x30
	regIMSC = 0x38
	regICR  = 0x44
)

const (
	flagTxFifoFull = 1 << 5
	crUARTEN       = 1 << 0
	crTXE          = 1 << 8
	crRXE          = 1 << 9
	lcrhFEN        = 1 << 4
	lcrhWLEN8      = 3 << 5
)

// Window is the minimal MMIO access surface the driver needs. The hosted
// boot path implements it with boot's hostedUARTWindow.
type Window interface {
	Write32(offset uint64, value uint32)
	Read32(offset uint64) uint32
}

// Driver programs and operates a single PL011 instance.
type Driver struct {
	mu  sync.Mutex
	win Window

	// breadcrumbs is a lock-free-by-convention ring: only ISR context
	// appends, only non-ISR context drains, so no lock is taken on the
	// append path.
	breadcrumbs [256]byte
	bcHead      uint32
}

// New returns a driver bound to win. It does not touch hardware; call Init.
func New(win Window) *Driver {
	return &Driver{win: win}
}

// Init programs baud rate, word length, and enables the UART for TX/RX.
// clockHz is the UARTCLK input; baud is the desired line rate.
func (d *Driver) Init(clockHz, baud uint64) error {
	if clockHz == 0 || baud == 0 {
		return fmt.Errorf("uart: invalid clock/baud (clock=%d baud=%d)", clockHz, baud)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	// disable before reprogramming divisors, per the TRM sequence.
	d.win.Write32(regCR, 0)

	div := (clockHz * 4) / baud // divisor with 6 fractional bits
	ibrd := uint32(div >> 6)
	fbrd := uint32(div & 0x3f)
	d.win.Write32(regIBRD, ibrd)
	d.win.Write32(regFBRD, fbrd)
	d.win.Write32(regLCRH, lcrhWLEN8|lcrhFEN)
	d.win.Write32(regIMSC, 0)
	d.win.Write32(regCR, crUARTEN|crTXE|crRXE)
	return nil
}

// WriteByte blocks (busy-polling the flag register) until the TX FIFO has
// room, then writes b. Never called from ISR context.
func (d *Driver) WriteByte(b byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.win.Read32(regFR)&flagTxFifoFull != 0 {
	}
	d.win.Write32(regDR, uint32(b))
}

// Write implements io.Writer.
func (d *Driver) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			d.WriteByte('\r')
		}
		d.WriteByte(b)
	}
	return len(p), nil
}

// PushBreadcrumb appends a single byte tag to the ISR-safe ring without
// locking or allocating. Intended to be called only from handle_irq.
func (d *Driver) PushBreadcrumb(tag byte) {
	idx := d.bcHead % uint32(len(d.breadcrumbs))
	d.breadcrumbs[idx] = tag
	d.bcHead++
}

// Breadcrumbs returns a snapshot of the ring, oldest first. Safe to call
// only from non-ISR context.
func (d *Driver) Breadcrumbs() []byte {
	n := d.bcHead
	if n > uint32(len(d.breadcrumbs)) {
		n = uint32(len(d.breadcrumbs))
	}
	out := make([]byte, n)
	start := d.bcHead - n
	for i := uint32(0); i < n; i++ {
		out[i] = d.breadcrumbs[(start+i)%uint32(len(d.breadcrumbs))]
	}
	return out
}

// AcknowledgeAll clears the masked interrupt status register.
func (d *Driver) AcknowledgeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.win.Write32(regICR, 0x7ff)
}
