// Package colorbuffer implements the window presenter's buffer record
// and pool described in spec.md §3 ("Color buffer") and §4.5 (buffer
// pool, free-buffer selection).
package colorbuffer

import (
	"github.com/nvgpu/eglxpresent/driver"
	"golang.org/x/sys/unix"
)

func closeFD(fd int) { unix.Close(fd) }

// MaxColorBuffers is the cap on regular (direct or offload-rendered)
// buffers a window presenter pool holds (spec.md §4.5).
const MaxColorBuffers = 4

// MaxPrimeBuffers is the cap on PRIME intermediate (linear,
// server-readable) buffers a window presenter pool holds alongside the
// regular buffers (spec.md §4.5).
const MaxPrimeBuffers = 2

// State is a buffer's position in the present/idle/busy cycle (spec.md
// §4.5, §4.6).
type State int

const (
	// StateFree means the buffer is not attached to any in-flight
	// present and may be selected for the next render. Corresponds to
	// spec.md §3's recycling status IDLE.
	StateFree State = iota
	// StateRendering means the driver is currently drawing into it
	// (it is the surface's attached back buffer). Recycling status
	// IN_USE, entered before the buffer is ever presented.
	StateRendering
	// StatePresented means it has been handed to Present and the
	// server has not yet released it. Recycling status IN_USE.
	StatePresented
	// StateIdleNotified means a PresentIdleNotify matching this
	// buffer's pixmap/serial has arrived (implicit-sync or no-sync
	// mode only — explicit sync never uses this state, spec.md §3
	// invariant 5). The buffer is not yet StateFree: the free-buffer
	// search (spec.md §4.5) must still wait out the implicit fence (or,
	// under no sync, treat the notification itself as sufficient).
	StateIdleNotified
)

// Buffer is one entry of a window presenter's pool: a
// driver-owned color buffer plus the server-side and synchronization
// state the presenter tracks across its lifetime.
type Buffer struct {
	CB driver.ColorBuffer

	// Pixmap is the server XID backing this buffer, created once via
	// DRI3PixmapFromBuffers (spec.md §4.6 step 3) and reused across
	// presents of the same buffer.
	Pixmap uint32

	Fourcc   uint32
	Modifier uint64
	Width    int
	Height   int
	Stride   int

	// IsPrime marks a PRIME intermediate buffer (spec.md §3): linear,
	// server-device-readable, populated by CopyColorBuffer from a
	// regular buffer rendered on the offload device.
	IsPrime bool

	State State

	// Serial is the last_present_serial this buffer was submitted
	// with, used to correlate PresentCompleteNotify/IdleNotify back to
	// a specific buffer (spec.md §4.6 step 8, §4.9).
	Serial uint32

	// DmabufFD is kept open for the lifetime of a PRIME buffer so the
	// implicit-sync ioctls (spec.md §4.8) can operate on it; zero for
	// buffers that never leave driver ownership.
	DmabufFD int
}

// Destroy releases the driver color buffer and closes any retained
// dma-buf fd. Calling it again on the same Buffer is a no-op.
func (b *Buffer) Destroy(cbs driver.CallbackSafe) {
	if b.CB != nil {
		cbs.FreeColorBuffer(b.CB)
		b.CB = nil
	}
	if b.DmabufFD > 0 {
		closeFD(b.DmabufFD)
		b.DmabufFD = 0
	}
}
