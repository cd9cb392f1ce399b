package wire

import "fmt"

// ExtDRI3 is the extension name this platform queries for, per
// spec.md §6.
const ExtDRI3 = "DRI3"

// DRI3 minor opcodes used by this platform.
const (
	dri3OpQueryVersion         = 0
	dri3OpOpen                 = 1
	dri3OpPixmapFromBuffer     = 2
	dri3OpBufferFromPixmap     = 3 // single-buffer form (DRI3 1.0)
	dri3OpFenceFromFD          = 4
	dri3OpGetSupportedModifiers = 6
	dri3OpPixmapFromBuffers    = 7
	dri3OpBuffersFromPixmap    = 8 // multi-plane form (DRI3 1.2)
	dri3OpImportSyncobj        = 10
	dri3OpFreeSyncobj          = 11
)

// DRI3Version is the reply to DRI3 QueryVersion.
type DRI3Version struct {
	Major, Minor uint32
}

// DRI3QueryVersion requests version negotiation, asking for up to
// major.minor and reporting what the server actually supports. Per
// spec.md §4.1 step 2 the caller must then check for an exact major
// and minor >= 2.
func (c *Conn) DRI3QueryVersion(major, minor uint32) (DRI3Version, error) {
	op, err := c.extOpcode(ExtDRI3)
	if err != nil {
		return DRI3Version{}, err
	}
	body := make([]byte, 8)
	byteOrder.PutUint32(body[0:], major)
	byteOrder.PutUint32(body[4:], minor)
	data, _, err := c.request(op, dri3OpQueryVersion, body, nil, true, 0)
	if err != nil {
		return DRI3Version{}, err
	}
	if len(data) < 16 {
		return DRI3Version{}, fmt.Errorf("wire: DRI3QueryVersion: short reply")
	}
	return DRI3Version{
		Major: byteOrder.Uint32(data[8:]),
		Minor: byteOrder.Uint32(data[12:]),
	}, nil
}

// DRI3Open requests a device fd for the given drawable/provider (the
// provider is usually 0, meaning "the screen's preferred provider").
// Implements spec.md §4.1 step 3.
func (c *Conn) DRI3Open(drawable uint32, provider uint32) (fd int, err error) {
	op, err := c.extOpcode(ExtDRI3)
	if err != nil {
		return -1, err
	}
	body := make([]byte, 8)
	byteOrder.PutUint32(body[0:], drawable)
	byteOrder.PutUint32(body[4:], provider)
	_, fds, err := c.request(op, dri3OpOpen, body, nil, true, 1)
	if err != nil {
		return -1, err
	}
	if len(fds) < 1 {
		return -1, fmt.Errorf("wire: DRI3Open: no fd in reply")
	}
	return fds[0], nil
}

// DRI3PixmapFromBuffers creates a server-side pixmap from one or more
// client dma-buf fds (one per plane), per spec.md §4.6 step 3 ("create
// [the server pixmap] from its allocator object via DRI3").
func (c *Conn) DRI3PixmapFromBuffers(pixmap, window uint32, fds []int, width, height uint16, strides, offsets []uint32, depth, bpp uint8, modifier uint64) error {
	op, err := c.extOpcode(ExtDRI3)
	if err != nil {
		return err
	}
	nbuf := len(fds)
	body := make([]byte, 24+nbuf*8)
	byteOrder.PutUint32(body[0:], pixmap)
	byteOrder.PutUint32(body[4:], window)
	body[8] = uint8(nbuf)
	byteOrder.PutUint16(body[9:], width)
	byteOrder.PutUint16(body[11:], height)
	body[13] = depth
	body[14] = bpp
	byteOrder.PutUint64(body[16:], modifier)
	off := 24
	for i := 0; i < nbuf; i++ {
		byteOrder.PutUint32(body[off:], strides[i])
		byteOrder.PutUint32(body[off+4:], offsets[i])
		off += 8
	}
	_, _, err = c.request(op, dri3OpPixmapFromBuffers, body, fds, false, 0)
	return err
}

// DRI3BuffersFromPixmapResult is the decoded reply to BuffersFromPixmap.
type DRI3BuffersFromPixmapResult struct {
	Width, Height    uint16
	Depth, BPP       uint8
	Modifier         uint64
	FDs              []int
	Strides, Offsets []uint32
}

// DRI3BuffersFromPixmap imports a server-owned pixmap's backing buffers
// as client dma-buf fds, used by the pixmap presenter (spec.md §4.11).
func (c *Conn) DRI3BuffersFromPixmap(pixmap uint32) (DRI3BuffersFromPixmapResult, error) {
	op, err := c.extOpcode(ExtDRI3)
	if err != nil {
		return DRI3BuffersFromPixmapResult{}, err
	}
	body := make([]byte, 4)
	byteOrder.PutUint32(body, pixmap)
	data, fds, err := c.request(op, dri3OpBuffersFromPixmap, body, nil, true, 4)
	if err != nil {
		return DRI3BuffersFromPixmapResult{}, err
	}
	if len(data) < 32 {
		return DRI3BuffersFromPixmapResult{}, fmt.Errorf("wire: BuffersFromPixmap: short reply")
	}
	r := DRI3BuffersFromPixmapResult{
		Width:    byteOrder.Uint16(data[8:]),
		Height:   byteOrder.Uint16(data[10:]),
		Modifier: byteOrder.Uint64(data[16:]),
		Depth:    data[24],
		BPP:      data[25],
		FDs:      fds,
	}
	nbuf := len(fds)
	off := 32
	for i := 0; i < nbuf && off+8 <= len(data); i++ {
		r.Strides = append(r.Strides, byteOrder.Uint32(data[off:]))
		r.Offsets = append(r.Offsets, byteOrder.Uint32(data[off+4:]))
		off += 8
	}
	return r, nil
}

// DRI3GetSupportedModifiers returns the server's window-specific and
// screen-wide modifier lists for a given depth/bpp, used by the
// modifier negotiation algorithm (spec.md §4.7).
func (c *Conn) DRI3GetSupportedModifiers(window uint32, depth, bpp uint8) (windowMods, screenMods []uint64, err error) {
	op, err := c.extOpcode(ExtDRI3)
	if err != nil {
		return nil, nil, err
	}
	body := make([]byte, 8)
	byteOrder.PutUint32(body[0:], window)
	body[4] = depth
	body[5] = bpp
	data, _, err := c.request(op, dri3OpGetSupportedModifiers, body, nil, true, 0)
	if err != nil {
		return nil, nil, err
	}
	if len(data) < 16 {
		return nil, nil, fmt.Errorf("wire: GetSupportedModifiers: short reply")
	}
	numWindow := int(byteOrder.Uint32(data[8:]))
	numScreen := int(byteOrder.Uint32(data[12:]))
	off := 32
	for i := 0; i < numWindow && off+8 <= len(data); i++ {
		windowMods = append(windowMods, byteOrder.Uint64(data[off:]))
		off += 8
	}
	for i := 0; i < numScreen && off+8 <= len(data); i++ {
		screenMods = append(screenMods, byteOrder.Uint64(data[off:]))
		off += 8
	}
	return windowMods, screenMods, nil
}

// DRI3ImportSyncobj shares a kernel DRM syncobj fd with the server
// under the caller-allocated XID syncobj. Implements the "send an X
// request to share it as an XID; the wire layer consumes the fd" step
// of the timeline helper (spec.md §4.3 "Init").
func (c *Conn) DRI3ImportSyncobj(syncobj uint32, drawable uint32, fd int) error {
	op, err := c.extOpcode(ExtDRI3)
	if err != nil {
		return err
	}
	body := make([]byte, 8)
	byteOrder.PutUint32(body[0:], syncobj)
	byteOrder.PutUint32(body[4:], drawable)
	_, _, err = c.request(op, dri3OpImportSyncobj, body, []int{fd}, false, 0)
	return err
}

// DRI3FreeSyncobj destroys the server-side XID for a syncobj (spec.md
// §4.3 "Destroy").
func (c *Conn) DRI3FreeSyncobj(syncobj uint32) error {
	op, err := c.extOpcode(ExtDRI3)
	if err != nil {
		return err
	}
	body := make([]byte, 4)
	byteOrder.PutUint32(body, syncobj)
	_, _, err = c.request(op, dri3OpFreeSyncobj, body, nil, false, 0)
	return err
}
