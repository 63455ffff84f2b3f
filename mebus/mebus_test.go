package mebus_test

import (
	"math/rand"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bemasher/rtlwx/decode"
	"github.com/bemasher/rtlwx/gen"
	"github.com/bemasher/rtlwx/mebus"
)

func init() {
	log.SetLevel(log.PanicLevel)
}

func decodeAll(t *testing.T, signal []int16) []decode.Message {
	t.Helper()

	d := mebus.NewParser()
	var msgs []decode.Message
	for _, v := range signal {
		if msg, ok := d.Process(v); ok {
			msgs = append(msgs, msg)
		}
	}
	if msg, ok := d.Flush(); ok {
		msgs = append(msgs, msg)
	}
	return msgs
}

func appendLevel(signal []int16, amp, n int, rng *rand.Rand) []int16 {
	for idx := 0; idx < n; idx++ {
		signal = append(signal, int16(amp+rng.Intn(2*gen.Noise+1)-gen.Noise))
	}
	return signal
}

func TestRoundTrip(t *testing.T) {
	frame := gen.MebusFrameBits(1234, false, 1, -53, 67)
	signal := gen.MebusWaveform([][]byte{frame, frame, frame}, rand.New(rand.NewSource(1)))

	msgs := decodeAll(t, signal)
	require.Len(t, msgs, 1)

	msg, ok := msgs[0].(mebus.Message)
	require.True(t, ok)
	require.Equal(t, uint16(1234), msg.ID)
	require.False(t, msg.SetKey)
	require.Equal(t, uint8(2), msg.Channel)
	require.InDelta(t, -5.3, msg.Temperature, 1e-9)
	require.Equal(t, uint8(67), msg.Humidity)
}

func TestRoundTripSetKey(t *testing.T) {
	frame := gen.MebusFrameBits(87, true, 3, 217, 31)
	signal := gen.MebusWaveform([][]byte{frame, frame, frame}, rand.New(rand.NewSource(2)))

	msgs := decodeAll(t, signal)
	require.Len(t, msgs, 1)

	msg := msgs[0].(mebus.Message)
	require.Equal(t, uint16(87), msg.ID)
	require.True(t, msg.SetKey)
	require.Equal(t, uint8(4), msg.Channel)
	require.InDelta(t, 21.7, msg.Temperature, 1e-9)
	require.Equal(t, uint8(31), msg.Humidity)
}

// A single corrupt bit in one repeat invalidates the whole packet. The
// repeats are the only integrity check the encoding has.
func TestRepeatMismatch(t *testing.T) {
	frame := gen.MebusFrameBits(1234, false, 1, 205, 44)
	corrupt := append([]byte(nil), frame...)
	corrupt[20] ^= 1

	signal := gen.MebusWaveform([][]byte{frame, corrupt, frame}, rand.New(rand.NewSource(3)))

	msgs := decodeAll(t, signal)
	require.Empty(t, msgs)
}

// A stream cut off during the final inter-frame gap still yields the packet
// through Flush.
func TestFlushMidPacket(t *testing.T) {
	frame := gen.MebusFrameBits(512, false, 0, 99, 80)
	signal := gen.MebusWaveform([][]byte{frame, frame, frame}, rand.New(rand.NewSource(4)))
	signal = signal[:len(signal)-765]

	d := mebus.NewParser()
	for _, v := range signal {
		_, ok := d.Process(v)
		require.False(t, ok)
	}

	msg, ok := d.Flush()
	require.True(t, ok)
	require.Equal(t, uint16(512), msg.(mebus.Message).ID)
}

// A pre-start gap shorter than twice the preamble gap forces a resync; a
// valid packet following it still decodes.
func TestShortPrestartGap(t *testing.T) {
	rng := rand.New(rand.NewSource(5))

	var signal []int16
	signal = appendLevel(signal, 0, 200, rng)
	for idx := 0; idx < 2; idx++ {
		signal = appendLevel(signal, gen.High, 15, rng)
		signal = appendLevel(signal, 0, 15, rng)
	}
	signal = appendLevel(signal, gen.High, 15, rng)
	signal = appendLevel(signal, 0, 20, rng)
	signal = appendLevel(signal, gen.High, 15, rng)
	signal = appendLevel(signal, 0, 400, rng)

	frame := gen.MebusFrameBits(345, true, 0, 123, 55)
	signal = append(signal, gen.MebusWaveform([][]byte{frame, frame, frame}, rng)...)

	msgs := decodeAll(t, signal)
	require.Len(t, msgs, 1)

	msg := msgs[0].(mebus.Message)
	require.Equal(t, uint16(345), msg.ID)
	require.Equal(t, uint8(1), msg.Channel)
	require.InDelta(t, 12.3, msg.Temperature, 1e-9)
}

// A gap longer than the bit limit where a bit is expected is rejected.
func TestLongBitGap(t *testing.T) {
	rng := rand.New(rand.NewSource(6))

	var signal []int16
	signal = appendLevel(signal, 0, 200, rng)
	for idx := 0; idx < 2; idx++ {
		signal = appendLevel(signal, gen.High, 15, rng)
		signal = appendLevel(signal, 0, 15, rng)
	}
	signal = appendLevel(signal, gen.High, 15, rng)
	signal = appendLevel(signal, 0, 59, rng)
	signal = appendLevel(signal, gen.High, 15, rng)
	signal = appendLevel(signal, 0, 180, rng)
	signal = appendLevel(signal, gen.High, 15, rng)
	signal = appendLevel(signal, 0, 400, rng)

	msgs := decodeAll(t, signal)
	require.Empty(t, msgs)
}

func TestZeroID(t *testing.T) {
	frame := gen.MebusFrameBits(0, false, 1, 100, 50)
	signal := gen.MebusWaveform([][]byte{frame, frame, frame}, rand.New(rand.NewSource(7)))

	msgs := decodeAll(t, signal)
	require.Empty(t, msgs)

	_, err := mebus.NewDemodulator().Decode(frame)
	require.ErrorIs(t, err, decode.ErrInvalidID)
}

// mebusGaps maps frame bits to their nominal silence durations.
func mebusGaps(frame []byte) []int {
	gaps := make([]int, len(frame))
	for idx, bit := range frame {
		gaps[idx] = 44
		if bit == 1 {
			gaps[idx] = 100
		}
	}
	return gaps
}

// gapWaveform synthesizes a packet whose per-bit silences come from the
// given gap lists instead of the nominal bit timing.
func gapWaveform(frameGaps [][]int, rng *rand.Rand) []int16 {
	var signal []int16

	signal = appendLevel(signal, 0, 200, rng)
	for idx := 0; idx < 2; idx++ {
		signal = appendLevel(signal, gen.High, 15, rng)
		signal = appendLevel(signal, 0, 15, rng)
	}
	signal = appendLevel(signal, gen.High, 15, rng)
	signal = appendLevel(signal, 0, 59, rng)

	for idx, gaps := range frameGaps {
		if idx > 0 {
			signal = appendLevel(signal, gen.High, 15, rng)
			signal = appendLevel(signal, 0, 44, rng)
		}
		signal = appendLevel(signal, gen.High, 15, rng)
		signal = appendLevel(signal, 0, 100, rng)
		for _, gap := range gaps {
			signal = appendLevel(signal, gen.High, 15, rng)
			signal = appendLevel(signal, 0, gap, rng)
		}
		signal = appendLevel(signal, gen.High, 15, rng)
		signal = appendLevel(signal, 0, 200, rng)
	}

	signal = appendLevel(signal, gen.High, 15, rng)
	signal = appendLevel(signal, 0, 600, rng)

	return signal
}

// The bit thresholds derive from the full pre-start gap, part of which the
// window already holds at lock. A gap slower than a nominal zero but still
// under 1.5 times the pre-start gap must classify as zero.
func TestSlowZeroGap(t *testing.T) {
	frame := gen.MebusFrameBits(1024, false, 0, 0, 0)
	gaps := mebusGaps(frame)
	gaps[1] = 80

	signal := gapWaveform([][]int{gaps, gaps, gaps}, rand.New(rand.NewSource(9)))

	msgs := decodeAll(t, signal)
	require.Len(t, msgs, 1)
	require.Equal(t, uint16(1024), msgs[0].(mebus.Message).ID)
}

// A gap landing exactly on the pulse border is ambiguous and rejects the
// packet.
func TestBorderGap(t *testing.T) {
	frame := gen.MebusFrameBits(1024, false, 0, 0, 0)
	gaps := mebusGaps(frame)
	gaps[1] = 88

	signal := gapWaveform([][]int{gaps, gaps, gaps}, rand.New(rand.NewSource(10)))

	msgs := decodeAll(t, signal)
	require.Empty(t, msgs)
}

func TestNoiseNoDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	d := mebus.NewParser()

	for idx := 0; idx < 50000; idx++ {
		if _, ok := d.Process(int16(rng.Intn(1 << 16))); ok {
			t.Fatal("decoded a message from noise")
		}
	}
	if _, ok := d.Flush(); ok {
		t.Fatal("flushed a message from noise")
	}
}
