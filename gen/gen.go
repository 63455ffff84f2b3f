// Package gen synthesizes sensor transmissions as raw sample streams for
// exercising the decoders without a receiver attached.
package gen

import (
	"fmt"
	"math/rand"

	"github.com/bemasher/rtlwx/elv"
)

const (
	// Carrier amplitude of synthesized pulses.
	High = 8000

	// Peak amplitude of the synthesized noise floor.
	Noise = 150
)

// ELV bit timing in samples at 160kHz: every bit begins with 366us of
// carrier and ends with 366us of silence; the middle 488us carries the
// value. The first sync bit holds the carrier through the middle.
const (
	elvBitLen   = 195
	elvHighZero = 136
	elvHighOne  = 58
	elvHighSync = 135
)

// Mebus timing in samples at 30kHz.
const (
	mebusPulse    = 15
	mebusSyncGap  = 15
	mebusStartGap = 59
	mebusZeroGap  = 44
	mebusOneGap   = 100
	mebusFrameGap = 200
	mebusTailGap  = 600
)

// ELVFrameBits builds the transmitted bit sequence for one frame: the type
// nibble, the payload with a derived check nibble so the running XOR is 0,
// and the sum nibble, every nibble least-significant-bit first and followed
// by its end-of-nibble bit. The payload must hold one nibble fewer than the
// sensor type's fixed count; the check nibble completes it.
func ELVFrameBits(typ uint8, payload []uint8) []byte {
	count := elv.NibbleCounts[typ&7]
	if len(payload) != count-1 {
		panic(fmt.Errorf("payload for type %d must hold %d nibbles, got %d", typ&7, count-1, len(payload)))
	}

	check := typ & 7
	sum := uint(typ & 7)
	for _, nibble := range payload {
		check ^= nibble & 0xF
		sum += uint(nibble & 0xF)
	}
	sum += uint(check)
	sum = (sum + 5) & 0xF

	var bits []byte
	bits = appendNibbleLSB(bits, typ, true)
	for _, nibble := range payload {
		bits = appendNibbleLSB(bits, nibble, true)
	}
	bits = appendNibbleLSB(bits, check, true)
	bits = appendNibbleLSB(bits, uint8(sum), false)

	return bits
}

func appendNibbleLSB(bits []byte, nibble uint8, eon bool) []byte {
	for idx := 0; idx < 4; idx++ {
		bits = append(bits, (nibble>>uint(idx))&1)
	}
	if eon {
		bits = append(bits, 1)
	}
	return bits
}

// RandELVPayload returns a random payload for the given sensor type,
// suitable for ELVFrameBits.
func RandELVPayload(typ uint8, rng *rand.Rand) []uint8 {
	payload := make([]uint8, elv.NibbleCounts[typ&7]-1)
	for idx := range payload {
		payload[idx] = uint8(rng.Intn(16))
	}
	return payload
}

// ELVWaveform synthesizes a full transmission: noise, the long first sync
// bit, a run of sync bits, the start bit, the frame bits and a silent tail.
func ELVWaveform(bits []byte, rng *rand.Rand) []int16 {
	var signal []int16

	signal = appendNoise(signal, 400, rng)
	signal = appendELVBit(signal, elvHighSync, rng)
	for idx := 0; idx < 10; idx++ {
		signal = appendELVBit(signal, elvHighZero, rng)
	}
	signal = appendELVBit(signal, elvHighOne, rng)
	for _, bit := range bits {
		high := elvHighZero
		if bit == 1 {
			high = elvHighOne
		}
		signal = appendELVBit(signal, high, rng)
	}
	signal = appendNoise(signal, 600, rng)

	return signal
}

func appendELVBit(signal []int16, high int, rng *rand.Rand) []int16 {
	signal = appendHigh(signal, high, rng)
	return appendNoise(signal, elvBitLen-high, rng)
}

// MebusFrameBits builds one transmitted frame most-significant-bit first:
// 11 bits of id, the setkey bit, the raw 2-bit channel, 12 bits of signed
// temperature in tenths of a degree and 8 bits of humidity.
func MebusFrameBits(id uint16, setkey bool, channel uint8, temp int, hum uint8) []byte {
	if temp < 0 {
		temp += 4096
	}

	var bits []byte
	bits = appendMSB(bits, uint64(id), 11)
	if setkey {
		bits = append(bits, 1)
	} else {
		bits = append(bits, 0)
	}
	bits = appendMSB(bits, uint64(channel), 2)
	bits = appendMSB(bits, uint64(temp), 12)
	bits = appendMSB(bits, uint64(hum), 8)

	return bits
}

func appendMSB(bits []byte, v uint64, n int) []byte {
	for idx := n - 1; idx >= 0; idx-- {
		bits = append(bits, byte(v>>uint(idx))&1)
	}
	return bits
}

// MebusWaveform synthesizes a packet: the sync block, then each frame of
// the repeat set with its start bit, separated by repeat markers, closed by
// a trailing pulse and a long silence.
func MebusWaveform(frames [][]byte, rng *rand.Rand) []int16 {
	var signal []int16

	signal = appendNoise(signal, 200, rng)

	// Sync block: three carrier pulses with short gaps, then the long
	// pre-start gap.
	for idx := 0; idx < 2; idx++ {
		signal = appendHigh(signal, mebusPulse, rng)
		signal = appendNoise(signal, mebusSyncGap, rng)
	}
	signal = appendHigh(signal, mebusPulse, rng)
	signal = appendNoise(signal, mebusStartGap, rng)

	for idx, frame := range frames {
		if idx > 0 {
			// Repeat marker: a pulse and a short gap.
			signal = appendHigh(signal, mebusPulse, rng)
			signal = appendNoise(signal, mebusZeroGap, rng)
		}

		// Start bit.
		signal = appendHigh(signal, mebusPulse, rng)
		signal = appendNoise(signal, mebusOneGap, rng)

		for _, bit := range frame {
			gap := mebusZeroGap
			if bit == 1 {
				gap = mebusOneGap
			}
			signal = appendHigh(signal, mebusPulse, rng)
			signal = appendNoise(signal, gap, rng)
		}

		// Frame terminator and inter-frame gap.
		signal = appendHigh(signal, mebusPulse, rng)
		signal = appendNoise(signal, mebusFrameGap, rng)
	}

	// Trailing pulse and end-of-packet silence.
	signal = appendHigh(signal, mebusPulse, rng)
	signal = appendNoise(signal, mebusTailGap, rng)

	return signal
}

func appendHigh(signal []int16, n int, rng *rand.Rand) []int16 {
	for idx := 0; idx < n; idx++ {
		signal = append(signal, High+noise(rng))
	}
	return signal
}

func appendNoise(signal []int16, n int, rng *rand.Rand) []int16 {
	for idx := 0; idx < n; idx++ {
		signal = append(signal, noise(rng))
	}
	return signal
}

func noise(rng *rand.Rand) int16 {
	return int16(rng.Intn(2*Noise+1) - Noise)
}
