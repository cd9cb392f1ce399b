package wire

import "fmt"

// QueryExtension performs the core-protocol QueryExtension request and,
// on success, records the extension's major opcode and first event code
// so later requests/event decoding in this package can use it. It
// implements the "Require DRI3 present and Present present" probe of
// spec.md §4.1 step 2.
func (c *Conn) QueryExtension(name string) (present bool, majorOpcode, firstEvent uint8, err error) {
	nlen := len(name)
	sz := 8 + nextPad4(nlen)
	req := make([]byte, sz)
	req[0] = 98 // QueryExtension core opcode
	byteOrder.PutUint16(req[2:], uint16(sz/4))
	byteOrder.PutUint16(req[4:], uint16(nlen))
	copy(req[8:], name)

	seq, ch := c.seqAdvance(true)
	if err := c.writeAll(req); err != nil {
		return false, 0, 0, err
	}
	_ = seq
	r := <-ch
	if r.err != nil {
		return false, 0, 0, r.err
	}
	if len(r.data) < 32 {
		return false, 0, 0, fmt.Errorf("wire: QueryExtension(%s): short reply", name)
	}
	presentByte := r.data[8]
	major := r.data[9]
	first := r.data[10]
	if presentByte == 0 {
		return false, 0, 0, nil
	}
	c.extMu.Lock()
	c.extOpcodes[name] = major
	c.extFirstEv[name] = first
	c.extMu.Unlock()
	return true, major, first, nil
}

// extOpcode returns the cached major opcode for name, or an error if
// QueryExtension was never called (or failed) for it.
func (c *Conn) extOpcode(name string) (uint8, error) {
	c.extMu.Lock()
	defer c.extMu.Unlock()
	op, ok := c.extOpcodes[name]
	if !ok {
		return 0, fmt.Errorf("wire: extension %q not initialized", name)
	}
	return op, nil
}

// request sends a fixed-format request with the given extension major
// opcode and minor opcode, then blocks for its reply. It is the shared
// plumbing behind every DRI3/Present request in this package.
func (c *Conn) request(major, minor uint8, body []byte, fds []int, wantReply bool, maxReplyFDs int) (data []byte, replyFDs []int, err error) {
	sz := 4 + len(body)
	req := make([]byte, nextPad4(sz))
	req[0] = major
	req[1] = minor
	byteOrder.PutUint16(req[2:], uint16(len(req)/4))
	copy(req[4:], body)

	_, ch := c.seqAdvance(wantReply)
	if err := c.sendmsgFDs(req, fds); err != nil {
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
