// Package pixmap implements the single-buffer pixmap presenter
// (spec.md §4.11): importing a server-owned pixmap's backing buffer as
// a driver color buffer, with no swap chain, no Present pipeline, and
// no event pump — narrower than the window presenter because a pixmap
// surface never resizes and is never pooled.
package pixmap

import (
	"fmt"
	"log"

	"golang.org/x/sys/unix"

	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/drmsync"
	"github.com/nvgpu/eglxpresent/internal/wire"
	"github.com/nvgpu/eglxpresent/platform"
)

// fenceWaitTimeoutMillis bounds the CPU fallback poll in waitFenceFD.
const fenceWaitTimeoutMillis = 500

// Presenter is one pixmap surface's state, from eglCreatePixmapSurface
// to its destruction.
type Presenter struct {
	conn   *wire.Conn
	pixmap uint32
	config platform.Config

	cbs  driver.CallbackSafe
	surf driver.Surface
	cb   driver.ColorBuffer

	width, height int
	depth         uint8

	// prime mirrors spec.md §4.11's PRIME decision: set when force_prime
	// is active or the server's modifier for this pixmap falls outside
	// the driver's renderable set, meaning the driver cannot render
	// directly into cb and needs a private intermediate buffer instead.
	prime bool
	// internalBuf is the driver-renderable linear buffer the GL driver
	// actually renders into when prime is set; nil otherwise (the
	// driver renders straight into cb).
	internalBuf driver.ColorBuffer
	internalFD  int
	// blitTarget is what internalBuf gets copied into on damage: cb
	// itself when the server's buffer is already linear and
	// single-plane (spec.md §4.11 "import it as a blit target"), or a
	// second driver-owned linear buffer backing intermediatePixmap
	// otherwise.
	blitTarget         driver.ColorBuffer
	intermediatePixmap uint32
	gc                 uint32

	latch *drmsync.Latch
}

// New implements the pixmap presenter creation algorithm (spec.md
// §4.11): validate the pixmap's buffer (single plane, the DRI3 reply's
// depth equal to the pixmap's geometry depth, and its bpp equal to the
// config format's bits per pixel), import its backing buffer from DRI3 as a single driver color buffer,
// decide whether PRIME is required, and create the driver surface —
// with a damage callback only when PRIME is in play, since a direct
// import needs no synchronization beyond the driver's own completion.
func New(d *platform.Display, conn *wire.Conn, pixmap uint32, cfg platform.Config, cbs driver.CallbackSafe, owner driver.SurfaceOwner) (*Presenter, error) {
	if cfg.SurfaceType&platform.SurfaceTypePixmap == 0 {
		return nil, fmt.Errorf("%w: config has no PIXMAP_BIT", driver.ErrBadMatch)
	}
	geom, err := conn.GetGeometry(pixmap)
	if err != nil {
		return nil, fmt.Errorf("%w: GetGeometry: %v", driver.ErrBadNativePixmap, err)
	}

	bufs, err := conn.DRI3BuffersFromPixmap(pixmap)
	if err != nil {
		return nil, fmt.Errorf("%w: DRI3BuffersFromPixmap: %v", driver.ErrTransientWire, err)
	}
	// spec.md §4.11 "require a single-plane buffer".
	if len(bufs.FDs) != 1 {
		for _, fd := range bufs.FDs {
			unix.Close(fd)
		}
		return nil, fmt.Errorf("%w: multi-plane pixmap buffer unsupported", driver.ErrBadNativePixmap)
	}
	if bufs.Depth != geom.Depth {
		unix.Close(bufs.FDs[0])
		return nil, fmt.Errorf("%w: pixmap depth %d does not match reply depth %d", driver.ErrBadNativePixmap, geom.Depth, bufs.Depth)
	}
	if int(bufs.BPP) != cfg.Format.BitsPerPixel {
		unix.Close(bufs.FDs[0])
		return nil, fmt.Errorf("%w: pixmap bpp %d does not match config bpp %d", driver.ErrBadNativePixmap, bufs.BPP, cfg.Format.BitsPerPixel)
	}

	stride := int(bufs.Strides[0])
	cb, err := cbs.ImportColorBuffer(bufs.FDs[0], cfg.Fourcc, bufs.Modifier, int(bufs.Width), int(bufs.Height), stride)
	if err != nil {
		return nil, fmt.Errorf("%w: ImportColorBuffer: %v", driver.ErrResourceExhausted, err)
	}

	p := &Presenter{
		conn:   conn,
		pixmap: pixmap,
		config: cfg,
		cbs:    cbs,
		cb:     cb,
		width:  int(bufs.Width),
		height: int(bufs.Height),
		depth:  bufs.Depth,
		latch:  d.ImplicitSyncLatch,
	}

	p.prime = primeRequired(d.ForcePrime, cfg.Format.RenderableModifiers, bufs.Modifier)
	if p.prime {
		if canBlitDirect(bufs.Modifier) {
			p.blitTarget = cb
		}
		if err := p.allocIntermediate(); err != nil {
			cbs.FreeColorBuffer(cb)
			return nil, err
		}
	}

	var damage driver.DamageFunc
	renderTarget := cb
	if p.prime {
		damage = p.onDamage
		renderTarget = p.internalBuf
	}
	surf, err := owner.CreateSurface(renderTarget, nil, p.blitTarget, nil, damage, p)
	if err != nil {
		p.freeIntermediate()
		cbs.FreeColorBuffer(cb)
		return nil, fmt.Errorf("%w: CreateSurface: %v", driver.ErrNotAvailable, err)
	}
	p.surf = surf
	return p, nil
}

// primeRequired implements spec.md §4.11's PRIME test: force_prime
// always requires it; otherwise it is required exactly when the
// server's buffer modifier is outside the driver's renderable set,
// since the driver could not render into it directly.
func primeRequired(forcePrime bool, renderable []uint64, modifier uint64) bool {
	return forcePrime || !platform.Contains(renderable, modifier)
}

// canBlitDirect reports whether the server's own buffer (already
// imported as cb) can double as the PRIME blit target rather than
// needing a private linear intermediate pixmap — true only for the
// LINEAR modifier, the one layout every GPU copy engine can write to
// without format-specific knowledge (spec.md §4.11).
func canBlitDirect(modifier uint64) bool {
	return modifier == platform.ModifierLinear
}

// allocIntermediate allocates the PRIME render buffer the driver
// actually draws into, and, when the server's own buffer cannot double
// as the blit destination, a second linear buffer with its own server
// pixmap and GC for a CopyArea fallback (spec.md §4.11).
func (p *Presenter) allocIntermediate() error {
	internalCB, err := p.cbs.AllocColorBuffer(p.config.Fourcc, []uint64{platform.ModifierLinear}, p.width, p.height)
	if err != nil {
		return fmt.Errorf("%w: AllocColorBuffer(prime): %v", driver.ErrResourceExhausted, err)
	}
	p.internalBuf = internalCB
	fd, err := p.cbs.ExportColorBuffer(internalCB)
	if err != nil {
		return fmt.Errorf("%w: ExportColorBuffer(prime): %v", driver.ErrResourceExhausted, err)
	}
	p.internalFD = fd

	if p.blitTarget != nil {
		return nil
	}

	// The original server buffer is not linear/single-plane enough to
	// serve directly as a GPU blit target, so allocate our own linear
	// intermediate and share it with the server as a second pixmap;
	// onDamage CopyArea's from it into the real target (spec.md §4.11
	// "otherwise allocate a linear intermediate pixmap on the server").
	interCB, err := p.cbs.AllocColorBuffer(p.config.Fourcc, []uint64{platform.ModifierLinear}, p.width, p.height)
	if err != nil {
		return fmt.Errorf("%w: AllocColorBuffer(intermediate): %v", driver.ErrResourceExhausted, err)
	}
	interFD, err := p.cbs.ExportColorBuffer(interCB)
	if err != nil {
		p.cbs.FreeColorBuffer(interCB)
		return fmt.Errorf("%w: ExportColorBuffer(intermediate): %v", driver.ErrResourceExhausted, err)
	}
	stride := p.width * (p.config.Format.BitsPerPixel / 8)
	pixmapXID := p.conn.NewXID()
	if err := p.conn.DRI3PixmapFromBuffers(pixmapXID, p.pixmap, []int{interFD}, uint16(p.width), uint16(p.height), []uint32{uint32(stride)}, []uint32{0}, p.depth, uint8(p.config.Format.BitsPerPixel), platform.ModifierLinear); err != nil {
		p.cbs.FreeColorBuffer(interCB)
		return fmt.Errorf("%w: DRI3PixmapFromBuffers(intermediate): %v", driver.ErrTransientWire, err)
	}
	gc := p.conn.NewXID()
	if err := p.conn.CreateGC(gc, pixmapXID); err != nil {
		p.conn.FreePixmap(pixmapXID)
		p.cbs.FreeColorBuffer(interCB)
		return fmt.Errorf("%w: CreateGC: %v", driver.ErrTransientWire, err)
	}
	p.blitTarget = interCB
	p.intermediatePixmap = pixmapXID
	p.gc = gc
	return nil
}

// onDamage is the PRIME path's damage callback (spec.md §4.11 "the
// damage callback plugs a fence into the PRIME dma-buf via implicit
// sync if possible, else CPU-waits"): it synchronizes on the fence the
// driver just handed it, blits the just-rendered internal buffer into
// the blit target, and — when the blit target is a private intermediate
// rather than the real pixmap itself — CopyArea's the result into the
// caller's pixmap. syncfd is not closed here; the driver closes it on
// return.
func (p *Presenter) onDamage(param any, syncfd int, flags uint32) {
	if syncfd >= 0 {
		if p.internalFD > 0 && !p.latch.Tripped() {
			err := drmsync.ImportSyncFile(p.latch, p.internalFD, syncfd, false)
			if err == drmsync.ErrImplicitSyncUnsupported {
				waitFenceFD(syncfd)
			} else if err != nil {
				log.Printf("eglxpresent: pixmap %#x: implicit sync plug failed: %v", p.pixmap, err)
			}
		} else {
			waitFenceFD(syncfd)
		}
	}

	if err := p.cbs.CopyColorBuffer(p.blitTarget, p.internalBuf); err != nil {
		log.Printf("eglxpresent: pixmap %#x: PRIME blit failed: %v", p.pixmap, err)
		return
	}
	if p.intermediatePixmap != 0 {
		if err := p.conn.CopyArea(p.intermediatePixmap, p.pixmap, p.gc, 0, 0, 0, 0, uint16(p.width), uint16(p.height)); err != nil {
			log.Printf("eglxpresent: pixmap %#x: CopyArea failed: %v", p.pixmap, err)
		}
	}
}

// waitFenceFD is the CPU fallback when implicit-sync ioctls are
// unavailable: a sync_file fd is itself pollable and reads as ready
// once its fence signals (spec.md glossary "fence fd").
func waitFenceFD(fd int) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	unix.Poll(fds, fenceWaitTimeoutMillis)
}

func closeIfOwned(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}

// Width and Height report the imported buffer's dimensions.
func (p *Presenter) Width() int  { return p.width }
func (p *Presenter) Height() int { return p.height }

// Destroy releases the driver surface, the PRIME intermediates (if
// any), and the imported color buffer. The server-side pixmap XID the
// presenter was given is owned by the caller, never freed here —
// only a private intermediatePixmap this presenter allocated for
// itself is (spec.md §4.11, §9 "resource discipline").
func (p *Presenter) Destroy() {
	if p.surf != nil {
		p.surf.Destroy()
	}
	p.freeIntermediate()
	if p.cb != nil {
		p.cbs.FreeColorBuffer(p.cb)
	}
}

func (p *Presenter) freeIntermediate() {
	if p.gc != 0 {
		p.conn.FreeGC(p.gc)
		p.gc = 0
	}
	if p.intermediatePixmap != 0 {
		p.conn.FreePixmap(p.intermediatePixmap)
		p.intermediatePixmap = 0
	}
	if p.blitTarget != nil && p.blitTarget != p.cb {
		p.cbs.FreeColorBuffer(p.blitTarget)
	}
	p.blitTarget = nil
	if p.internalBuf != nil {
		p.cbs.FreeColorBuffer(p.internalBuf)
		p.internalBuf = nil
	}
}
