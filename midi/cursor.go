package midi

// Receiver gets the messages a Cursor replays.
type Receiver interface {
	Send(m Message)
}

// Cursor walks a Sequence forward, handing every channel message whose time
// falls before a target to a Receiver exactly once.
//
// A cursor never moves backward on its own. Driving it with a target behind
// Reached replays nothing; callers that need to go back must Reset it together
// with the synthesizer it feeds and replay from the start.
type Cursor struct {
	seq     *Sequence
	recv    Receiver
	index   int
	reached float64
}

func NewCursor(seq *Sequence, recv Receiver) *Cursor {
	return &Cursor{seq: seq, recv: recv}
}

// ProcessUntil delivers every unconsumed message with Time < target. Markers
// (tempo, loop points, end of track) are consumed without being delivered. In
// silent mode note on/off messages are consumed but not delivered, so
// controller and program state can be restored without sounding notes.
// It returns the number of messages delivered.
func (c *Cursor) ProcessUntil(target float64, silent bool) int {
	if c.seq == nil {
		return 0
	}
	sent := 0
	msgs := c.seq.Messages
	for c.index < len(msgs) && msgs[c.index].Time < target {
		m := msgs[c.index]
		c.index++
		if m.Kind != Normal {
			continue
		}
		if silent && m.IsNote() {
			continue
		}
		c.recv.Send(m)
		sent++
	}
	if target > c.reached {
		c.reached = target
	}
	return sent
}

// Reset rewinds to the first message.
func (c *Cursor) Reset() {
	c.index = 0
	c.reached = 0
}

// Index is the position of the next message to be delivered.
func (c *Cursor) Index() int { return c.index }

// Reached is the largest target the cursor has been driven to since the last Reset.
func (c *Cursor) Reached() float64 { return c.reached }

// Done reports whether every message has been consumed.
func (c *Cursor) Done() bool {
	return c.seq == nil || c.index >= len(c.seq.Messages)
}
