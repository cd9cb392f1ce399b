package wire

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// handshake performs the X11 connection setup request/reply and
// populates c.resourceIDBase/Mask and c.screens. Authentication is
// intentionally unsupported (no MIT-MAGIC-COOKIE-1): the platform is
// meant to run against servers reachable through an already-authorized
// local UNIX-domain socket, which is the only transport spec.md allows.
func (c *Conn) handshake() error {
	req := make([]byte, 12)
	req[0] = 'l' // little-endian byte order
	byteOrder.PutUint16(req[2:], 11) // protocol-major-version
	byteOrder.PutUint16(req[4:], 0)  // protocol-minor-version
	// authorization-protocol-name/data lengths left zero.
	if err := c.writeAll(req); err != nil {
		return err
	}
	head := make([]byte, 8)
	if err := c.readAll(head); err != nil {
		return err
	}
	success := head[0]
	bodyLen := int(byteOrder.Uint16(head[6:])) * 4
	body := make([]byte, bodyLen)
	if err := c.readAll(body); err != nil {
		return err
	}
	if success != 1 {
		return fmt.Errorf("wire: server refused connection setup (status %d)", success)
	}
	return c.parseSetup(body)
}

// parseSetup decodes the fixed-size prefix of the SETUP reply that this
// platform needs: resource-id-base/mask and the list of screens with
// their root window, depths and visuals. It deliberately does not
// decode pixmap-format or vendor-string sections it never consults.
func (c *Conn) parseSetup(b []byte) error {
	if len(b) < 32 {
		return fmt.Errorf("wire: setup reply truncated")
	}
	c.resourceIDBase = byteOrder.Uint32(b[4:])
	c.resourceIDMask = byteOrder.Uint32(b[8:])
	vendorLen := int(byteOrder.Uint16(b[16:]))
	numFormats := int(b[21])
	numRoots := int(b[20])
	off := 32
	off += nextPad4(vendorLen)
	off += numFormats * 8 // PIXMAP-FORMAT is 8 bytes each
	for i := 0; i < numRoots && off+40 <= len(b); i++ {
		root := byteOrder.Uint32(b[off:])
		rootVisual := byteOrder.Uint32(b[off+32:])
		rootDepth := b[off+38]
		numDepths := int(b[off+39])
		whitePixel := byteOrder.Uint32(b[off+8:])
		blackPixel := byteOrder.Uint32(b[off+12:])
		widthInPx := byteOrder.Uint16(b[off+20:])
		heightInPx := byteOrder.Uint16(b[off+22:])
		scr := Screen{
			Root:       root,
			RootDepth:  rootDepth,
			RootVisual: rootVisual,
			WidthInPx:  widthInPx,
			HeightInPx: heightInPx,
			WhitePixel: whitePixel,
			BlackPixel: blackPixel,
		}
		off += 40
		for d := 0; d < numDepths && off+8 <= len(b); d++ {
			depth := b[off]
			numVisuals := int(byteOrder.Uint16(b[off+2:]))
			off += 8
			for v := 0; v < numVisuals && off+24 <= len(b); v++ {
				scr.Visuals = append(scr.Visuals, Visual{
					ID:         byteOrder.Uint32(b[off:]),
					Class:      b[off+4],
					BitsPerRGB: b[off+5],
					Depth:      depth,
					RedMask:    byteOrder.Uint32(b[off+8:]),
					GreenMask:  byteOrder.Uint32(b[off+12:]),
					BlueMask:   byteOrder.Uint32(b[off+16:]),
				})
				off += 24
			}
		}
		c.screens = append(c.screens, scr)
	}
	return nil
}

func (c *Conn) writeAll(b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(c.fd, b)
		if err != nil {
			return fmt.Errorf("wire: write: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (c *Conn) readAll(b []byte) error {
	for len(b) > 0 {
		n, err := unix.Read(c.fd, b)
		if err != nil {
			return fmt.Errorf("wire: read: %w", err)
		}
		if n == 0 {
			return ErrServerGone
		}
		b = b[n:]
	}
	return nil
}

// ErrServerGone is returned (and used internally to mark a connection
// dead) when a read observes EOF, mirroring spec.md §7's
// server-termination error kind at the transport layer; the window-
// level mapping to native_destroyed happens in package window.
var ErrServerGone = fmt.Errorf("wire: connection closed by server")

// sendmsgFDs writes req and, if fds is non-empty, attaches them as
// SCM_RIGHTS ancillary data on the final write — this is the one piece
// of functionality neither xgb lineage provides and the reason this
// package hand-rolls its own socket I/O (see the DRI3Open/ImportSyncobj
// callers, which must send/receive fds inline with the request).
func (c *Conn) sendmsgFDs(req []byte, fds []int) error {
	if len(fds) == 0 {
		return c.writeAll(req)
	}
	rights := unix.UnixRights(fds...)
	return unix.Sendmsg(c.fd, req, rights, nil, 0)
}

// recvmsgFDs reads exactly len(b) bytes plus up to maxFDs ancillary
// file descriptors from a single reply datagram-ish read.
func (c *Conn) recvmsgFDs(b []byte, maxFDs int) (fds []int, err error) {
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))
	n, oobn, _, _, err := unix.Recvmsg(c.fd, b, oob, 0)
	if err != nil {
		return nil, fmt.Errorf("wire: recvmsg: %w", err)
	}
	if n < len(b) {
		// Short read: fall back to completing it with plain reads.
		if err := c.readAll(b[n:]); err != nil {
			return nil, err
		}
	}
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, m := range cmsgs {
				got, _ := unix.ParseUnixRights(&m)
				fds = append(fds, got...)
			}
		}
	}
	return fds, nil
}

// seqAdvance assigns the next sequence number to an outgoing request.
// Requests that expect a reply register a channel the read loop
// delivers it on; void requests pass wantReply=false and get no
// channel, since nothing ever reads it and the server typically
// never replies to one that succeeds — registering one anyway would
// just accumulate forever in c.replies. An error targeting a void
// request's sequence is dropped the same way an unrecognized
// sequence already is in dispatchReply.
func (c *Conn) seqAdvance(wantReply bool) (uint16, chan replyOrError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	seq := c.seq
	if !wantReply {
		return seq, nil
	}
	ch := make(chan replyOrError, 1)
	c.replies[seq] = ch
	return seq, ch
}

// maxInlineFDs bounds the ancillary-data buffer readLoop reserves on
// every reply read. DRI3BuffersFromPixmap is the largest fd-bearing
// reply this platform decodes (one fd per plane of a multi-planar
// format); four comfortably covers every format in the registry.
const maxInlineFDs = 4

// readLoop demultiplexes incoming replies, errors and events. It is the
// connection's only reader once the handshake completes, matching
// spec.md §5's statement that libxcb-equivalent code owns send/reply
// sequencing so callers never read the socket directly. Every header
// read goes through recvmsg with room for ancillary fds, since any
// reply (not only ones this code expects fds from) may legitimately
// carry them and there is no cheap way to know in advance which will.
func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		hdr := make([]byte, 32)
		fds, err := c.recvmsgFDs(hdr, maxInlineFDs)
		if err != nil {
			c.failAll(err)
			return
		}
		switch hdr[0] {
		case 0: // error
			seq := byteOrder.Uint16(hdr[2:])
			code := hdr[1]
			c.dispatchReply(seq, replyOrError{err: fmt.Errorf("%w: error code %d", ErrTransientWire, code)})
		case 1: // reply
			seq := byteOrder.Uint16(hdr[2:])
			extra := int(byteOrder.Uint32(hdr[4:])) * 4
			body := make([]byte, 32+extra)
			copy(body, hdr)
			if extra > 0 {
				if err := c.readAll(body[32:]); err != nil {
					c.failAll(err)
					return
				}
			}
			c.dispatchReply(seq, replyOrError{data: body, fds: fds})
		default: // event
			seq := byteOrder.Uint16(hdr[2:])
			data := make([]byte, 32)
			copy(data, hdr)
			ev := Event{ResponseType: hdr[0] & 0x7f, Seq: seq, Data: data}
			if c.routeSpecialEvent(ev) {
				continue
			}
			select {
			case c.events <- ev:
			default:
				// Drop rather than block the read loop; nothing in
				// this platform's scope (spec.md §1 excludes input
				// handling) needs lossless delivery of core events.
			}
		}
	}
}

func (c *Conn) dispatchReply(seq uint16, r replyOrError) {
	c.mu.Lock()
	ch, ok := c.replies[seq]
	if ok {
		delete(c.replies, seq)
	}
	c.mu.Unlock()
	if ok {
		ch <- r
	}
}

func (c *Conn) failAll(err error) {
	c.mu.Lock()
	c.closed = true
	pending := c.replies
	c.replies = nil
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- replyOrError{err: err}
	}
}

// ErrTransientWire mirrors driver.ErrTransientWire without importing the
// driver package (which itself may wrap this), keeping internal/wire
// free of a dependency on the public API it underpins.
var ErrTransientWire = fmt.Errorf("wire: request failed")

var _ = binary.LittleEndian
