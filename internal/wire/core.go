package wire

import "fmt"

const (
	coreOpInternAtom            = 16
	coreOpGetGeometry           = 14
	coreOpGetWindowAttributes   = 3
	coreOpChangeWindowAttributes = 2
	coreOpCreateGC              = 55
	coreOpFreeGC                = 60
	coreOpCopyArea              = 62
	coreOpFreePixmap            = 54
)

// EventMaskStructureNotify selects ConfigureNotify-equivalent core
// events; this platform additionally relies on Present's own
// ConfigureNotify (spec.md §6), but some call sites still need the
// core attribute change mask.
const EventMaskStructureNotify uint32 = 1 << 17

// WindowAttributes is the subset of GetWindowAttributes this platform
// consults: the attached visual, used to enforce the visual-id match
// of spec.md §4.4 step 5.
type WindowAttributes struct {
	Visual uint32
	Class  uint16
}

// GetWindowAttributes fetches a window's attributes.
func (c *Conn) GetWindowAttributes(window uint32) (WindowAttributes, error) {
	body := make([]byte, 4)
	byteOrder.PutUint32(body, window)
	data, _, err := c.coreRequest(coreOpGetWindowAttributes, 0, body, true)
	if err != nil {
		return WindowAttributes{}, err
	}
	if len(data) < 12 {
		return WindowAttributes{}, fmt.Errorf("wire: GetWindowAttributes: short reply")
	}
	return WindowAttributes{
		Visual: byteOrder.Uint32(data[8:]),
		Class:  byteOrder.Uint16(data[12:]),
	}, nil
}

// Geometry is the subset of GetGeometry this platform consults.
type Geometry struct {
	Depth         uint8
	Width, Height uint16
}

// GetGeometry fetches a drawable's geometry, used both for initial
// window sizing (spec.md §4.4 step 6) and pixmap import validation
// (spec.md §4.11).
func (c *Conn) GetGeometry(drawable uint32) (Geometry, error) {
	body := make([]byte, 4)
	byteOrder.PutUint32(body, drawable)
	data, _, err := c.coreRequest(coreOpGetGeometry, 0, body, true)
	if err != nil {
		return Geometry{}, err
	}
	if len(data) < 20 {
		return Geometry{}, fmt.Errorf("wire: GetGeometry: short reply")
	}
	return Geometry{
		Depth:  data[1],
		Width:  byteOrder.Uint16(data[16:]),
		Height: byteOrder.Uint16(data[18:]),
	}, nil
}

// ChangeWindowAttributes sets the window's event mask (or other CW_*
// values) before the caller fetches geometry, per spec.md §4.4 step 4's
// ordering requirement ("so a concurrent resize cannot be missed").
func (c *Conn) ChangeWindowAttributes(window uint32, valueMask uint32, values []uint32) error {
	body := make([]byte, 8+len(values)*4)
	byteOrder.PutUint32(body[0:], window)
	byteOrder.PutUint32(body[4:], valueMask)
	for i, v := range values {
		byteOrder.PutUint32(body[8+i*4:], v)
	}
	_, _, err := c.coreRequest(coreOpChangeWindowAttributes, 0, body, false)
	return err
}

// InternAtom resolves an atom name to its server-side id.
func (c *Conn) InternAtom(name string, onlyIfExists bool) (uint32, error) {
	nlen := len(name)
	body := make([]byte, 4+nextPad4(nlen))
	if onlyIfExists {
		body[0] = 1
	}
	byteOrder.PutUint16(body[2:], uint16(nlen))
	copy(body[4:], name)
	data, _, err := c.coreRequest(coreOpInternAtom, 0, body, true)
	if err != nil {
		return 0, err
	}
	if len(data) < 12 {
		return 0, fmt.Errorf("wire: InternAtom: short reply")
	}
	return byteOrder.Uint32(data[8:]), nil
}

// CreateGC creates a graphics context for drawable with no values set,
// used by the pixmap presenter's server-side CopyArea fallback (spec.md
// §4.11: "allocate a linear intermediate pixmap on the server and
// CopyArea on damage").
func (c *Conn) CreateGC(gc, drawable uint32) error {
	body := make([]byte, 12)
	byteOrder.PutUint32(body[0:], gc)
	byteOrder.PutUint32(body[4:], drawable)
	_, _, err := c.coreRequest(coreOpCreateGC, 0, body, false)
	return err
}

// FreeGC frees a graphics context previously created with CreateGC.
func (c *Conn) FreeGC(gc uint32) error {
	body := make([]byte, 4)
	byteOrder.PutUint32(body, gc)
	_, _, err := c.coreRequest(coreOpFreeGC, 0, body, false)
	return err
}

// CopyArea copies a rectangle from src to dst using gc, the server-side
// blit the pixmap presenter issues on damage when its driver-renderable
// intermediate pixmap cannot double as the final buffer (spec.md
// §4.11).
func (c *Conn) CopyArea(src, dst, gc uint32, srcX, srcY, dstX, dstY int16, width, height uint16) error {
	body := make([]byte, 24)
	byteOrder.PutUint32(body[0:], src)
	byteOrder.PutUint32(body[4:], dst)
	byteOrder.PutUint32(body[8:], gc)
	byteOrder.PutUint16(body[12:], uint16(srcX))
	byteOrder.PutUint16(body[14:], uint16(srcY))
	byteOrder.PutUint16(body[16:], uint16(dstX))
	byteOrder.PutUint16(body[18:], uint16(dstY))
	byteOrder.PutUint16(body[20:], width)
	byteOrder.PutUint16(body[22:], height)
	_, _, err := c.coreRequest(coreOpCopyArea, 0, body, false)
	return err
}

// FreePixmap frees a pixmap this client created (never the caller-owned
// pixmap a presenter was handed — spec.md §4.11 notes the original
// pixmap XID outlives the presenter).
func (c *Conn) FreePixmap(pixmap uint32) error {
	body := make([]byte, 4)
	byteOrder.PutUint32(body, pixmap)
	_, _, err := c.coreRequest(coreOpFreePixmap, 0, body, false)
	return err
}

// coreRequest sends a fixed-format core-protocol request (opcode 0 is
// not itself a legal core opcode, so callers always pass the true
// major; this helper exists only to share the minor=0 framing used by
// all core requests, mirroring the extension request() helper).
func (c *Conn) coreRequest(major uint8, _ uint8, body []byte, wantReply bool) ([]byte, []int, error) {
	sz := 4 + len(body)
	req := make([]byte, nextPad4(sz))
	req[0] = major
	byteOrder.PutUint16(req[2:], uint16(len(req)/4))
	copy(req[4:], body)

	_, ch := c.seqAdvance(wantReply)
	if err := c.writeAll(req); err != nil {
		return nil, nil, err
	}
	if !wantReply {
		return nil, nil, nil
	}
	r := <-ch
	if r.err != nil {
		return nil, nil, r.err
	}
	return r.data, r.fds, nil
}
