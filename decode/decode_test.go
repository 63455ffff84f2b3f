package decode

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bemasher/rtlwx/window"
)

func init() {
	log.SetLevel(log.PanicLevel)
}

type fakeMessage struct{}

func (m fakeMessage) MsgType() string   { return "fake" }
func (m fakeMessage) SensorID() uint32  { return 1 }
func (m fakeMessage) SensorType() uint8 { return 0 }
func (m fakeMessage) Record() []string  { return []string{"fake"} }

// fakeDemod locks on the first sample and replays a scripted event sequence,
// one event per sample.
type fakeDemod struct {
	cfg    Config
	events []Event
	pos    int

	decoded [][]byte
	resets  int
}

func newFake(repeats bool, events ...Event) *fakeDemod {
	return &fakeDemod{
		cfg: Config{
			Protocol:   "fake",
			WindowSize: 4,
			SyncRun:    2,
			MinBits:    4,
			Repeats:    repeats,
		},
		events: events,
	}
}

func (f *fakeDemod) Cfg() Config { return f.cfg }

func (f *fakeDemod) Sync(w *window.Window) bool { return true }

func (f *fakeDemod) Step(v int16, w *window.Window, s State) Event {
	if f.pos >= len(f.events) {
		return EventNone
	}
	ev := f.events[f.pos]
	f.pos++
	return ev
}

func (f *fakeDemod) Decode(bits []byte) (Message, error) {
	frame := make([]byte, len(bits))
	copy(frame, bits)
	f.decoded = append(f.decoded, frame)
	return fakeMessage{}, nil
}

func (f *fakeDemod) Reset() { f.resets++ }

func drive(d *Decoder, fd *fakeDemod) (msgs []Message) {
	for idx := 0; idx < len(fd.events)+16; idx++ {
		if msg, ok := d.Process(0); ok {
			msgs = append(msgs, msg)
		}
	}
	return
}

func TestSyncRunGate(t *testing.T) {
	fd := newFake(false,
		EventBit0, EventBit0, EventBit0, EventBit1,
		EventBit1, EventBit0, EventBit1, EventBit1,
		EventFrameEnd,
	)
	msgs := drive(NewDecoder(fd), fd)

	require.Len(t, msgs, 1)
	require.Len(t, fd.decoded, 1)
	require.Equal(t, []byte{1, 0, 1, 1}, fd.decoded[0])
}

func TestSyncRunTooShort(t *testing.T) {
	fd := newFake(false,
		EventBit0, EventBit0, EventBit1,
		EventBit1, EventBit1, EventBit1, EventBit1,
		EventFrameEnd,
	)
	msgs := drive(NewDecoder(fd), fd)

	require.Empty(t, msgs)
	require.Empty(t, fd.decoded)
}

func TestStartBitValidation(t *testing.T) {
	fd := newFake(false,
		// A start bit of 0 forces a resync.
		EventMark, EventBit0,
		EventMark, EventBit1,
		EventBit1, EventBit1, EventBit0, EventBit1,
		EventFrameEnd,
	)
	msgs := drive(NewDecoder(fd), fd)

	require.Len(t, msgs, 1)
	require.Equal(t, []byte{1, 1, 0, 1}, fd.decoded[0])
	require.GreaterOrEqual(t, fd.resets, 1)
}

func TestMinBits(t *testing.T) {
	fd := newFake(false,
		EventMark, EventBit1,
		EventBit1, EventBit0,
		EventFrameEnd,
	)
	msgs := drive(NewDecoder(fd), fd)

	require.Empty(t, msgs)
	require.Empty(t, fd.decoded)
}

func TestInvalidResync(t *testing.T) {
	fd := newFake(false,
		EventMark, EventBit1, EventBit1, EventBit1, EventInvalid,
		EventMark, EventBit1,
		EventBit1, EventBit0, EventBit1, EventBit1,
		EventFrameEnd,
	)
	msgs := drive(NewDecoder(fd), fd)

	require.Len(t, msgs, 1)
	require.Len(t, fd.decoded, 1)
	require.Equal(t, []byte{1, 0, 1, 1}, fd.decoded[0])
}

func TestRepeats(t *testing.T) {
	fd := newFake(true,
		EventMark, EventBit1,
		EventBit1, EventBit0, EventBit1, EventBit1,
		EventFrameEnd,
		EventMark, EventBit0, EventBit1,
		EventBit1, EventBit0, EventBit1, EventBit1,
		EventFrameEnd,
		EventMark, EventPacketEnd,
	)
	msgs := drive(NewDecoder(fd), fd)

	require.Len(t, msgs, 1)
	require.Len(t, fd.decoded, 1)
	require.Equal(t, []byte{1, 0, 1, 1}, fd.decoded[0])
}

func TestRepeatMismatch(t *testing.T) {
	fd := newFake(true,
		EventMark, EventBit1,
		EventBit1, EventBit0, EventBit1, EventBit1,
		EventFrameEnd,
		EventMark, EventBit0, EventBit1,
		EventBit1, EventBit0, EventBit1, EventBit0,
		EventFrameEnd,
		EventMark, EventPacketEnd,
	)
	msgs := drive(NewDecoder(fd), fd)

	require.Empty(t, msgs)
	require.Empty(t, fd.decoded)
}

func TestRepeatBitValidation(t *testing.T) {
	fd := newFake(true,
		EventMark, EventBit1,
		EventBit1, EventBit0, EventBit1, EventBit1,
		EventFrameEnd,
		// The repeat marker bit must be 0.
		EventMark, EventBit1,
	)
	msgs := drive(NewDecoder(fd), fd)

	require.Empty(t, msgs)
	require.Empty(t, fd.decoded)
	require.GreaterOrEqual(t, fd.resets, 1)
}

func TestFlushData(t *testing.T) {
	fd := newFake(false,
		EventMark, EventBit1,
		EventBit1, EventBit0, EventBit1, EventBit1,
	)
	d := NewDecoder(fd)
	msgs := drive(d, fd)
	require.Empty(t, msgs)

	msg, ok := d.Flush()
	require.True(t, ok)
	require.NotNil(t, msg)
	require.Equal(t, []byte{1, 0, 1, 1}, fd.decoded[0])

	_, ok = d.Flush()
	require.False(t, ok)
}

func TestFlushShort(t *testing.T) {
	fd := newFake(false,
		EventMark, EventBit1,
		EventBit1, EventBit0,
	)
	d := NewDecoder(fd)
	drive(d, fd)

	_, ok := d.Flush()
	require.False(t, ok)
	require.Empty(t, fd.decoded)
}

func TestFlushPendingFrames(t *testing.T) {
	fd := newFake(true,
		EventMark, EventBit1,
		EventBit1, EventBit0, EventBit1, EventBit1,
		EventFrameEnd,
		EventMark, EventBit0, EventBit1,
		EventBit1, EventBit0,
	)
	d := NewDecoder(fd)
	drive(d, fd)

	msg, ok := d.Flush()
	require.True(t, ok)
	require.NotNil(t, msg)
	require.Equal(t, []byte{1, 0, 1, 1}, fd.decoded[0])
}

func TestStateString(t *testing.T) {
	for s, name := range map[State]string{
		Wait:    "WAIT",
		Sync:    "SYNC",
		Start:   "START",
		Data:    "DATA",
		Repeat1: "REPEAT_1",
		Repeat2: "REPEAT_2",
	} {
		require.Equal(t, name, s.String())
	}
}

func TestCursorTake(t *testing.T) {
	c := NewCursor([]byte{1, 0, 1, 1, 0, 1})

	v, err := c.Take(4)
	require.NoError(t, err)
	require.Equal(t, uint64(0b1011), v)
	require.Equal(t, 2, c.Remaining())

	v, err = c.Take(2)
	require.NoError(t, err)
	require.Equal(t, uint64(0b01), v)

	_, err = c.Take(1)
	require.ErrorIs(t, err, ErrFrameIncomplete)
}

func TestCursorTakeLSB(t *testing.T) {
	c := NewCursor([]byte{1, 0, 1, 1})

	v, err := c.TakeLSB(4)
	require.NoError(t, err)
	require.Equal(t, uint64(0b1101), v)
	require.Equal(t, 0, c.Remaining())

	_, err = c.TakeLSB(1)
	require.ErrorIs(t, err, ErrFrameIncomplete)
}
