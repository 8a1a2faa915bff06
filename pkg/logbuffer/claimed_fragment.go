package logbuffer

// ClaimedFragment is a reserved frame whose payload is written by the
// caller. It must be committed or aborted exactly once.
type ClaimedFragment struct {
	buf          []byte
	frameOffset  int
	framedLength int
	onComplete   func()
	claimed      bool
}

func (c *ClaimedFragment) wrap(buf []byte, frameOffset, framedLength int, onComplete func()) {
	c.buf = buf
	c.frameOffset = frameOffset
	c.framedLength = framedLength
	c.onComplete = onComplete
	c.claimed = true
}

// Buffer returns the partition buffer the fragment lives in.
func (c *ClaimedFragment) Buffer() []byte { return c.buf }

// Offset returns the payload offset within Buffer.
func (c *ClaimedFragment) Offset() int { return MessageOffset(c.frameOffset) }

// Length returns the payload length.
func (c *ClaimedFragment) Length() int { return MessageLength(c.framedLength) }

// Payload returns the writable payload bytes of the claimed frame.
func (c *ClaimedFragment) Payload() []byte {
	if !c.claimed {
		return nil
	}
	off := c.Offset()
	return c.buf[off : off+c.Length() : off+c.Length()]
}

func (c *ClaimedFragment) IsClaimed() bool { return c.claimed }

// Commit publishes the frame to readers.
func (c *ClaimedFragment) Commit() error {
	if !c.claimed {
		return ErrNotClaimed
	}
	StoreLength(c.buf, c.frameOffset, int32(c.framedLength))
	c.complete()
	return nil
}

// Abort turns the frame into padding so readers skip it.
func (c *ClaimedFragment) Abort() error {
	if !c.claimed {
		return ErrNotClaimed
	}
	SetType(c.buf, c.frameOffset, TypePadding)
	StoreLength(c.buf, c.frameOffset, int32(c.framedLength))
	c.complete()
	return nil
}

func (c *ClaimedFragment) complete() {
	onComplete := c.onComplete
	c.reset()
	if onComplete != nil {
		onComplete()
	}
}

func (c *ClaimedFragment) reset() {
	c.buf = nil
	c.frameOffset = 0
	c.framedLength = 0
	c.onComplete = nil
	c.claimed = false
}
