// RTLWX - An rtl-sdr receiver for sub-GHz wireless weather sensors.
// Copyright (C) 2015 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package decode

import (
	"bytes"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bemasher/rtlwx/window"
)

// Decode failures are all local and recoverable: each discards in-flight
// buffers and returns the decoder to Wait. None halt the sample stream.
var (
	ErrSyncFailure     = errors.New("sync failure")
	ErrInvalidPulse    = errors.New("invalid pulse")
	ErrEdgeNotFound    = errors.New("edge not found")
	ErrFrameIncomplete = errors.New("frame incomplete")
	ErrChecksum        = errors.New("checksum mismatch")
	ErrSum             = errors.New("sum mismatch")
	ErrRepeatMismatch  = errors.New("repeat mismatch")
	ErrInvalidID       = errors.New("invalid sensor id")
)

// State enumerates the frame state machine states.
type State int

const (
	Wait State = iota
	Sync
	Start
	Data
	Repeat1
	Repeat2
)

func (s State) String() string {
	switch s {
	case Wait:
		return "WAIT"
	case Sync:
		return "SYNC"
	case Start:
		return "START"
	case Data:
		return "DATA"
	case Repeat1:
		return "REPEAT_1"
	case Repeat2:
		return "REPEAT_2"
	}
	return "UNKNOWN"
}

// Event is the demodulated outcome of a single sample once a preamble has
// been locked.
type Event int

const (
	// Nothing to report for this sample.
	EventNone Event = iota

	// A demodulated payload bit.
	EventBit0
	EventBit1

	// A completed carrier pulse. Advances Sync to Start and Repeat1 to
	// Repeat2.
	EventMark

	// Loss of edge or an excessive gap: the current frame is over.
	EventFrameEnd

	// A second, longer gap: the repeat set is complete.
	EventPacketEnd

	// Timing or amplitude inconsistent with the bit encoding. Forces a full
	// resync.
	EventInvalid
)

// A Message is a validated sensor record.
type Message interface {
	MsgType() string
	SensorID() uint32
	SensorType() uint8
	Record() []string
}

// Config specifies protocol-specific radio and framing configuration.
type Config struct {
	Protocol string

	CenterFreq uint32
	SampleRate int

	// WindowSize is the sliding window capacity in samples.
	WindowSize int

	// SyncRun is the number of qualifying sync bits which must precede the
	// start bit. Zero for protocols whose preamble is fully validated at
	// lock.
	SyncRun int

	// MinBits is the minimum accumulated bit count for a frame decode to be
	// attempted. Shorter accumulations reset silently.
	MinBits int

	// Repeats indicates the protocol retransmits each frame and validates
	// by bit-for-bit equality across the repeat set.
	Repeats bool
}

// A Demodulator is a protocol descriptor: it recognizes the preamble,
// classifies samples into bit events after lock, and decodes an accumulated
// bit sequence into a record.
type Demodulator interface {
	Cfg() Config

	// Sync inspects the window for the protocol's preamble. It returns true
	// once locked, at which point thresholds have been calibrated.
	Sync(w *window.Window) bool

	// Step consumes one sample after lock. The current machine state is
	// provided for gap classification.
	Step(v int16, w *window.Window, s State) Event

	// Decode converts an accumulated bit sequence into a record.
	Decode(bits []byte) (Message, error)

	// Reset discards demodulator-local state on sync loss.
	Reset()
}

// Decoder drives a Demodulator through the Wait/Sync/Start/Data/Repeat
// state machine, one sample at a time. It is exclusively owned by its
// driving loop; decoding is a pure function of the sample sequence.
type Decoder struct {
	cfg   Config
	demod Demodulator
	w     *window.Window

	state     State
	syncCount int

	bits   []byte
	frames [][]byte

	log *log.Entry
}

func NewDecoder(demod Demodulator) *Decoder {
	cfg := demod.Cfg()
	return &Decoder{
		cfg:   cfg,
		demod: demod,
		w:     window.New(cfg.WindowSize),
		state: Wait,
		log:   log.WithField("protocol", cfg.Protocol),
	}
}

func (d *Decoder) Cfg() Config {
	return d.cfg
}

func (d *Decoder) State() State {
	return d.state
}

func (d *Decoder) Log() {
	d.log.WithFields(log.Fields{
		"centerfreq": d.cfg.CenterFreq,
		"samplerate": d.cfg.SampleRate,
		"windowsize": d.cfg.WindowSize,
		"minbits":    d.cfg.MinBits,
		"repeats":    d.cfg.Repeats,
	}).Info("decoder")
}

// Process accepts the next sample and returns a record if one completed
// validation on this sample.
func (d *Decoder) Process(v int16) (Message, bool) {
	d.w.Push(v)

	if d.state == Wait {
		d.syncCount = 0
		d.bits = d.bits[:0]
		d.frames = d.frames[:0]
		if d.demod.Sync(d.w) {
			d.state = Sync
			d.log.Info("sync")
		}
		return nil, false
	}

	switch ev := d.demod.Step(v, d.w, d.state); ev {
	case EventNone:

	case EventInvalid:
		d.reject(ErrInvalidPulse)

	case EventBit0, EventBit1:
		bit := byte(0)
		if ev == EventBit1 {
			bit = 1
		}
		d.accept(bit)

	case EventMark:
		switch d.state {
		case Sync:
			d.state = Start
		case Repeat1:
			d.state = Repeat2
		}

	case EventFrameEnd:
		if d.state != Data {
			break
		}
		if len(d.bits) < d.cfg.MinBits {
			d.reset()
			break
		}
		if d.cfg.Repeats {
			d.pushFrame()
			d.state = Repeat1
			d.log.Debug("repeating")
			break
		}
		return d.decode(d.bits)

	case EventPacketEnd:
		if d.state != Repeat2 {
			break
		}
		return d.decodePacket()
	}

	return nil, false
}

// accept routes a demodulated bit through the current state.
func (d *Decoder) accept(bit byte) {
	switch d.state {
	case Sync:
		// Qualifying sync bits guard against noise falsely triggering sync:
		// the start bit only advances after a long enough run.
		if bit == 0 {
			d.syncCount++
		} else if d.syncCount > d.cfg.SyncRun {
			d.enterData()
		}

	case Start:
		if bit != 1 {
			d.reject(errors.Wrap(ErrSyncFailure, "start bit is not 1"))
			break
		}
		d.enterData()

	case Repeat2:
		if bit != 0 {
			d.reject(errors.Wrap(ErrSyncFailure, "repeat bit is not 0"))
			break
		}
		d.state = Start

	case Data:
		d.bits = append(d.bits, bit)
	}
}

func (d *Decoder) enterData() {
	d.bits = d.bits[:0]
	d.state = Data
	d.log.Info("start")
}

func (d *Decoder) pushFrame() {
	frame := make([]byte, len(d.bits))
	copy(frame, d.bits)
	d.frames = append(d.frames, frame)
	d.bits = d.bits[:0]
}

func (d *Decoder) decode(bits []byte) (Message, bool) {
	msg, err := d.demod.Decode(bits)
	d.reset()
	if err != nil {
		d.log.WithError(err).Warn("frame rejected")
		return nil, false
	}
	d.log.Info("decode")
	return msg, true
}

// decodePacket validates the repeat set by exact equality before decoding
// the first frame. Repeats are the sole integrity mechanism for protocols
// without an intrinsic checksum.
func (d *Decoder) decodePacket() (Message, bool) {
	if len(d.frames) == 0 {
		d.reject(errors.Wrap(ErrFrameIncomplete, "packet contains no frames"))
		return nil, false
	}
	for idx := 1; idx < len(d.frames); idx++ {
		if !bytes.Equal(d.frames[0], d.frames[idx]) {
			d.reject(errors.Wrapf(ErrRepeatMismatch, "frame %d differs from first", idx))
			return nil, false
		}
	}
	return d.decode(d.frames[0])
}

// Flush decodes any frame left in progress that never saw an explicit
// end-of-frame. The caller must invoke it once after the last sample.
func (d *Decoder) Flush() (Message, bool) {
	if d.state == Data && len(d.bits) >= d.cfg.MinBits {
		if d.cfg.Repeats {
			d.pushFrame()
			return d.decodePacket()
		}
		return d.decode(d.bits)
	}
	if len(d.frames) > 0 {
		return d.decodePacket()
	}
	d.reset()
	return nil, false
}

func (d *Decoder) reject(err error) {
	d.log.WithError(err).Warn("resync")
	d.reset()
}

func (d *Decoder) reset() {
	d.state = Wait
	d.syncCount = 0
	d.bits = d.bits[:0]
	d.frames = d.frames[:0]
	d.demod.Reset()
}
