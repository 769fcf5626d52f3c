package rtp

// SequenceCursor issues the 16-bit RTP sequence numbers for one session.
// Values increase by exactly 1 per packet and wrap from 65535 to 1; zero
// is only ever emitted as the very first value after a reset.
type SequenceCursor struct {
	next uint16
}

// Next returns the sequence number for the next packet and advances the
// cursor.
func (c *SequenceCursor) Next() uint16 {
	v := c.next
	c.next++
	if c.next == 0 {
		c.next = 1 // zero is reserved after the first wrap
	}
	return v
}

// Peek returns the sequence number the next packet will carry, without
// advancing.
func (c *SequenceCursor) Peek() uint16 {
	return c.next
}

// Reset rewinds the cursor to zero. Done once per initial PLAY, never on
// resume from pause.
func (c *SequenceCursor) Reset() {
	c.next = 0
}
