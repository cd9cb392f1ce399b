// Package wire implements the subset of the X11 core protocol plus the
// DRI3 and Present extension requests that this
// platform needs, including ancillary file-descriptor passing over the
// display's UNIX-domain socket (required by DRI3Open and
// DRI3BuffersFromPixmap, and not something either xgb lineage supports).
//
// The client follows the same request/cookie/reply shape xgb's generated
// extension packages use — a Cookie wraps a sequence number, and Reply
// blocks until that sequence number's reply (or a matching error) is
// available — but every request, reply and event in this package is
// hand-marshaled: there was no ready-made Go binding covering DRI3/
// Present plus fd passing to build on.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by any request made after the connection has
// been closed or has observed a fatal I/O error.
var ErrClosed = errors.New("wire: connection closed")

// Screen is the subset of the server's per-screen SETUP information
// this platform consults.
type Screen struct {
	Root         uint32
	RootDepth    uint8
	RootVisual   uint32
	WidthInPx    uint16
	HeightInPx   uint16
	WhitePixel   uint32
	BlackPixel   uint32
	Visuals      []Visual
}

// Visual describes one TrueColor (or other class) visual advertised for
// a screen's depths.
type Visual struct {
	ID          uint32
	Class       uint8
	Depth       uint8
	BitsPerRGB  uint8
	RedMask     uint32
	GreenMask   uint32
	BlueMask    uint32
}

const (
	VisualClassTrueColor = 4
)

// Conn is a connection to an X server over its UNIX-domain socket.
type Conn struct {
	fd      int
	owned   bool // true if we opened the socket (vs. caller-provided)
	mu      sync.Mutex
	seq     uint16
	replies map[uint16]chan replyOrError
	closed  bool

	resourceIDBase uint32
	resourceIDMask uint32
	nextXID        uint32
	xidMu          sync.Mutex

	screens          []Screen
	defaultScreenIdx int

	events chan Event

	// extOpcodes maps a registered extension name to its major
	// opcode, populated by QueryExtension.
	extMu      sync.Mutex
	extOpcodes map[string]uint8
	extFirstEv map[string]uint8

	// specialMu/special implement per-window Present event routing
	// (spec.md §4.9's "special-event channel"): readLoop pushes a
	// decoded Present event straight to the channel registered for
	// its eid (by convention, the target window's XID) instead of
	// making every SpecialEventQueue scan one shared stream.
	specialMu sync.Mutex
	special   map[uint32]chan Event
}

type replyOrError struct {
	data []byte
	fds  []int
	err  error
}

// Event is an undecoded server event: its response-type byte plus the
// raw 32-byte body (or, for generic events, a longer body).
type Event struct {
	ResponseType uint8
	Seq          uint16
	Data         []byte
}

// Dial opens a new connection to the display named by the DISPLAY
// environment variable (or the explicit display string if non-empty),
// performing the connection setup handshake. It implements spec.md
// §4.1 step 1's "obtain the wire connection (own)" path.
func Dial(display string) (*Conn, error) {
	if display == "" {
		display = os.Getenv("DISPLAY")
	}
	if display == "" {
		return nil, errors.New("wire: DISPLAY not set")
	}
	screenNum, sockPath, err := parseDisplay(display)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("wire: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: sockPath}
	if err := unix.Connect(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("wire: connect %s: %w", sockPath, err)
	}
	c := &Conn{
		fd:         fd,
		owned:      true,
		replies:    make(map[uint16]chan replyOrError),
		events:     make(chan Event, 64),
		extOpcodes: make(map[string]uint8),
		extFirstEv: make(map[string]uint8),
		special:    make(map[uint32]chan Event),
	}
	if err := c.handshake(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if screenNum < 0 || screenNum >= len(c.screens) {
		screenNum = 0
	}
	go c.readLoop()
	c.defaultScreenIdx = screenNum
	return c, nil
}

// parseDisplay parses a DISPLAY string of the form [host]:display[.screen]
// and returns the screen number and the abstract/UNIX socket path.
// Only the local (UNIX-domain) form is supported, matching spec.md's
// "Require a UNIX-domain socket" constraint.
func parseDisplay(display string) (screen int, sockPath string, err error) {
	s := display
	if i := strings.LastIndex(s, ":"); i >= 0 {
		host := s[:i]
		rest := s[i+1:]
		disp := rest
		if j := strings.Index(rest, "."); j >= 0 {
			disp = rest[:j]
			screen, err = strconv.Atoi(rest[j+1:])
			if err != nil {
				return 0, "", fmt.Errorf("wire: bad DISPLAY %q: %w", display, err)
			}
		}
		if host != "" && host != "unix" {
			return 0, "", fmt.Errorf("wire: non-local DISPLAY %q unsupported (UNIX-domain socket required)", display)
		}
		return screen, "/tmp/.X11-unix/X" + disp, nil
	}
	return 0, "", fmt.Errorf("wire: malformed DISPLAY %q", display)
}

// Screens returns the server's advertised screens.
func (c *Conn) Screens() []Screen { return c.screens }

// DefaultScreen returns the screen index selected by the DISPLAY string.
func (c *Conn) DefaultScreen() int { return c.defaultScreenIdx }

// NewXID allocates a fresh server resource ID from the client's
// resource-id-base/mask range handed out during setup.
func (c *Conn) NewXID() uint32 {
	c.xidMu.Lock()
	defer c.xidMu.Unlock()
	id := c.resourceIDBase | (c.nextXID & c.resourceIDMask)
	c.nextXID++
	return id
}

// Close shuts down the connection. It is idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	if c.owned {
		unix.Close(c.fd)
	}
}

// Owned reports whether this connection was opened by Dial (true) as
// opposed to wrapping a caller-provided fd (false); see spec.md §3
// "whether owned ... or borrowed".
func (c *Conn) Owned() bool { return c.owned }

// Events returns the channel on which decoded, non-reply server events
// are delivered. Special-event filtering (spec.md §4.9) is layered on
// top by the events.go helpers in this package.
func (c *Conn) Events() <-chan Event { return c.events }

func nextPad4(n int) int { return (n + 3) &^ 3 }

var byteOrder = binary.LittleEndian
