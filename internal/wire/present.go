package wire

import "fmt"

// ExtPresent is the extension name this platform queries for, per
// spec.md §6.
const ExtPresent = "Present"

const (
	presentOpQueryVersion      = 0
	presentOpPixmap            = 1
	presentOpNotifyMSC         = 2
	presentOpSelectInput       = 3
	presentOpQueryCapabilities = 4
	presentOpPixmapSynced      = 5
)

// Present option bits (spec.md §6).
const (
	PresentOptionAsync      uint32 = 1 << 0
	PresentOptionCopy       uint32 = 1 << 1
	PresentOptionSuboptimal uint32 = 1 << 3
)

// Present capability bits the server may advertise (spec.md §6).
const (
	PresentCapAsync   uint32 = 1 << 0
	PresentCapSyncobj uint32 = 1 << 4
)

// Present event mask bits.
const (
	PresentEventMaskConfigureNotify uint32 = 1 << 0
	PresentEventMaskCompleteNotify  uint32 = 1 << 1
	PresentEventMaskIdleNotify      uint32 = 1 << 2
)

// Present CompleteNotify "mode" values (spec.md §6).
const (
	PresentCompleteModeCopy          uint8 = 0
	PresentCompleteModeFlip          uint8 = 1
	PresentCompleteModeSkip          uint8 = 2
	PresentCompleteModeSuboptimalCopy uint8 = 3
)

// PresentVersion is the reply to Present QueryVersion.
type PresentVersion struct {
	Major, Minor uint32
}

// PresentQueryVersion negotiates the Present extension version, per
// spec.md §4.1 step 2 (exact major 1, minor >= 2, request up to 4).
func (c *Conn) PresentQueryVersion(major, minor uint32) (PresentVersion, error) {
	op, err := c.extOpcode(ExtPresent)
	if err != nil {
		return PresentVersion{}, err
	}
	body := make([]byte, 8)
	byteOrder.PutUint32(body[0:], major)
	byteOrder.PutUint32(body[4:], minor)
	data, _, err := c.request(op, presentOpQueryVersion, body, nil, true, 0)
	if err != nil {
		return PresentVersion{}, err
	}
	if len(data) < 16 {
		return PresentVersion{}, fmt.Errorf("wire: PresentQueryVersion: short reply")
	}
	return PresentVersion{
		Major: byteOrder.Uint32(data[8:]),
		Minor: byteOrder.Uint32(data[12:]),
	}, nil
}

// PresentQueryCapabilities returns the server's per-window capability
// bits (spec.md §4.4 step 3).
func (c *Conn) PresentQueryCapabilities(window uint32) (uint32, error) {
	op, err := c.extOpcode(ExtPresent)
	if err != nil {
		return 0, err
	}
	body := make([]byte, 4)
	byteOrder.PutUint32(body, window)
	data, _, err := c.request(op, presentOpQueryCapabilities, body, nil, true, 0)
	if err != nil {
		return 0, err
	}
	if len(data) < 12 {
		return 0, fmt.Errorf("wire: PresentQueryCapabilities: short reply")
	}
	return byteOrder.Uint32(data[8:]), nil
}

// PresentSelectInput registers the given event context id for eventMask
// on window, routing matching events through the special-event channel
// identified by eid (spec.md §4.4 step 4).
func (c *Conn) PresentSelectInput(eid, window uint32, eventMask uint32) error {
	op, err := c.extOpcode(ExtPresent)
	if err != nil {
		return err
	}
	body := make([]byte, 12)
	byteOrder.PutUint32(body[0:], eid)
	byteOrder.PutUint32(body[4:], window)
	byteOrder.PutUint32(body[8:], eventMask)
	_, _, err = c.request(op, presentOpSelectInput, body, nil, false, 0)
	return err
}

// PresentPixmapParams groups the (many) arguments to Pixmap/PixmapSynced.
type PresentPixmapParams struct {
	Window, Pixmap     uint32
	Serial             uint32
	ValidArea, UpdateArea uint32 // region XIDs, 0 = None/whole window
	XOff, YOff         int16
	TargetCRTC         uint32
	WaitFence, IdleFence uint32 // sync fence XIDs, 0 = None (non-synced path)
	Options            uint32
	TargetMSC, DivisorMSC, RemainderMSC uint64
	// AcquireSyncobj/ReleaseSyncobj and points are only meaningful for
	// PixmapSynced (explicit-sync path, spec.md §4.8).
	AcquireSyncobj, ReleaseSyncobj uint32
	AcquirePoint, ReleasePoint     uint64
}

// Pixmap issues a Present PixmapSynced request when synced is true, or
// a plain Present Pixmap request otherwise (spec.md §4.6 step 8). The
// caller supplies p.Serial; this method does not track serials.
func (c *Conn) Pixmap(p PresentPixmapParams, synced bool) error {
	op, err := c.extOpcode(ExtPresent)
	if err != nil {
		return err
	}
	if synced {
		body := make([]byte, 68)
		byteOrder.PutUint32(body[0:], p.Window)
		byteOrder.PutUint32(body[4:], p.Pixmap)
		byteOrder.PutUint32(body[8:], p.Serial)
		byteOrder.PutUint32(body[12:], p.ValidArea)
		byteOrder.PutUint32(body[16:], p.UpdateArea)
		byteOrder.PutUint32(body[20:], uint32(int32(p.XOff))<<16|uint32(int32(p.YOff))&0xffff)
		byteOrder.PutUint32(body[24:], p.TargetCRTC)
		byteOrder.PutUint32(body[28:], p.WaitFence)
		byteOrder.PutUint32(body[32:], p.IdleFence)
		byteOrder.PutUint32(body[36:], p.Options)
		byteOrder.PutUint64(body[44:], p.TargetMSC)
		byteOrder.PutUint64(body[52:], p.DivisorMSC)
		byteOrder.PutUint64(body[60:], p.RemainderMSC)
		// The syncobj request additionally carries acquire/release
		// syncobj XIDs and points; appended here rather than modeled
		// as a second opcode body to keep a single call site.
		ext := make([]byte, 24)
		byteOrder.PutUint32(ext[0:], p.AcquireSyncobj)
		byteOrder.PutUint32(ext[4:], p.ReleaseSyncobj)
		byteOrder.PutUint64(ext[8:], p.AcquirePoint)
		byteOrder.PutUint64(ext[16:], p.ReleasePoint)
		body = append(body, ext...)
		_, _, err = c.request(op, presentOpPixmapSynced, body, nil, false, 0)
		return err
	}
	body := make([]byte, 68)
	byteOrder.PutUint32(body[0:], p.Window)
	byteOrder.PutUint32(body[4:], p.Pixmap)
	byteOrder.PutUint32(body[8:], p.Serial)
	byteOrder.PutUint32(body[12:], p.ValidArea)
	byteOrder.PutUint32(body[16:], p.UpdateArea)
	byteOrder.PutUint32(body[20:], uint32(int32(p.XOff))<<16|uint32(int32(p.YOff))&0xffff)
	byteOrder.PutUint32(body[24:], p.TargetCRTC)
	byteOrder.PutUint32(body[28:], p.WaitFence)
	byteOrder.PutUint32(body[32:], p.IdleFence)
	byteOrder.PutUint32(body[36:], p.Options)
	byteOrder.PutUint64(body[44:], p.TargetMSC)
	byteOrder.PutUint64(body[52:], p.DivisorMSC)
	byteOrder.PutUint64(body[60:], p.RemainderMSC)
	_, _, err = c.request(op, presentOpPixmap, body, nil, false, 0)
	return err
}

// Decoded Present events (spec.md §6 "Events").

// ConfigureNotify carries the fields this platform consumes: new
// width/height and the window-destroyed bit of pixmap_flags.
type ConfigureNotify struct {
	Width, Height    uint16
	WindowDestroyed  bool
}

// IdleNotify carries the pixmap and serial of a buffer the server has
// released back to the client (implicit-sync liveness signal).
type IdleNotify struct {
	Pixmap uint32
	Serial uint32
}

// CompleteNotify carries the serial/msc/mode of a completed Present
// request.
type CompleteNotify struct {
	Serial uint32
	MSC    uint64
	Mode   uint8
}

// Present generic-event sub-codes, carried in bytes 8-9 of the 32-byte
// GenericEvent body (this platform decodes Present's "extended" events
// as plain fixed-size events for simplicity, matching the fixed set
// spec.md §6 enumerates).
const (
	presentEvtConfigureNotify = 0
	presentEvtCompleteNotify  = 1
	presentEvtIdleNotify      = 2
)

// DecodePresentEvent decodes a raw wire event known to originate from
// the Present extension (caller has already matched ev.ResponseType
// against the extension's registered first-event code plus sub-code).
func DecodePresentEvent(subCode uint8, data []byte) (any, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("wire: present event: short body")
	}
	switch subCode {
	case presentEvtConfigureNotify:
		width := byteOrder.Uint16(data[20:])
		height := byteOrder.Uint16(data[22:])
		flags := byteOrder.Uint32(data[28:])
		return ConfigureNotify{Width: width, Height: height, WindowDestroyed: flags&1 != 0}, nil
	case presentEvtCompleteNotify:
		serial := byteOrder.Uint32(data[12:])
		msc := byteOrder.Uint64(data[16:])
		mode := data[10]
		return CompleteNotify{Serial: serial, MSC: msc, Mode: mode}, nil
	case presentEvtIdleNotify:
		pixmap := byteOrder.Uint32(data[12:])
		serial := byteOrder.Uint32(data[8:])
		return IdleNotify{Pixmap: pixmap, Serial: serial}, nil
	default:
		return nil, fmt.Errorf("wire: present event: unknown sub-code %d", subCode)
	}
}
