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

// Package mebus decodes Mebus weather sensor transmissions on 433.84MHz.
// Bits are on/off keyed: a short carrier pulse is followed by a silence
// whose duration encodes the bit value. Frames carry no checksum; each
// packet repeats the frame several times and validates by equality.
package mebus

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bemasher/rtlwx/decode"
	"github.com/bemasher/rtlwx/parse"
	"github.com/bemasher/rtlwx/window"
)

func init() {
	parse.Register("mebus", NewParser)
}

const (
	// Sampling at 30kHz (33.3us) the sync block spans about 90 samples.
	SyncSamples = 90

	// Allowed deviation of sync pulse durations from their mean, in
	// samples.
	PulseJitter = 5
)

func NewConfig() decode.Config {
	return decode.Config{
		Protocol:   "mebus",
		CenterFreq: 433840000,
		SampleRate: 30000,
		WindowSize: SyncSamples,
		SyncRun:    0,
		MinBits:    34,
		Repeats:    true,
	}
}

func NewParser() *decode.Decoder {
	return decode.NewDecoder(NewDemodulator())
}

// Demodulator binarizes samples against a noise level calibrated at sync
// lock and classifies the durations of completed carrier gaps. The pulse
// thresholds are derived once per packet from the preamble's own timing and
// frozen until resync.
type Demodulator struct {
	cfg decode.Config

	noiseLevel  float64
	signalState byte
	pulseLen    int

	// Samples since the last reset; the sync probe needs a filled window.
	holdoff int

	// offMean is the mean duration of the two intra-preamble gaps; the
	// third, longer gap calibrates the bit thresholds.
	offMean     float64
	pulseBorder int
	pulseLimit  int
	calibrated  bool

	log *log.Entry
}

func NewDemodulator() *Demodulator {
	return &Demodulator{
		cfg: NewConfig(),
		log: log.WithField("protocol", "mebus"),
	}
}

func (d *Demodulator) Cfg() decode.Config {
	return d.cfg
}

func (d *Demodulator) Reset() {
	d.noiseLevel = 0
	d.signalState = 0
	d.pulseLen = 0
	d.holdoff = 0
	d.offMean = 0
	d.pulseBorder = 0
	d.pulseLimit = 0
	d.calibrated = false
}

// Sync tests whether the window holds the sync block: three carrier pulses
// separated by silence, each level about 15 samples long. Six fixed-offset
// segments probe the expected levels; every carrier segment must exceed
// twice its neighboring silence segment, and the first pair must also
// exceed both segments' internal ranges. The noise level is the mean of all
// six segment averages, so no manual threshold tuning is needed.
func (d *Demodulator) Sync(w *window.Window) bool {
	d.holdoff++
	if d.holdoff <= SyncSamples {
		return false
	}

	avh0 := w.Average(0, 10)
	avl0 := w.Average(20, 25)
	if avh0 < avl0*2 {
		return false
	}

	if rgh0 := w.Range(0, 10); avh0 < rgh0 {
		return false
	}
	if rgl0 := w.Range(20, 25); avh0 < rgl0 {
		return false
	}

	avh1 := w.Average(35, 40)
	avl1 := w.Average(50, 55)
	if avh1 < avl1*2 {
		return false
	}
	if avh1 < avl0 || avh0 < avl1 {
		return false
	}

	avh2 := w.Average(65, 70)
	avl2 := w.Average(80, 90)
	if avh2 < avl2*2 {
		return false
	}
	if avh2 < avl0 || avh0 < avl2 {
		return false
	}

	noise := (avh0 + avl0 + avh1 + avl1 + avh2 + avl2) / 6

	tail, ok := d.calibrate(w, noise)
	if !ok {
		return false
	}

	d.noiseLevel = noise
	d.signalState = 0

	// The pre-start gap is already underway at lock: the window's trailing
	// silent run counts toward it. The lock sample stands in for the mark
	// sample of an ordinary gap, compensated by the rise-sample increment.
	d.pulseLen = 0
	if tail > 0 {
		d.pulseLen = tail - 1
	}
	d.log.WithField("noise", noise).Debug("noise level")

	return true
}

// calibrate measures the sync block's pulse durations by binarizing the
// window against the fresh noise level. The three carrier pulses must agree
// within PulseJitter of their mean; the two gaps between them seed the
// check of the long pre-start gap completed later in the stream. The
// trailing silent run is the portion of that gap already inside the window
// and is returned so the streamed measurement starts from it.
func (d *Demodulator) calibrate(w *window.Window, noise float64) (tail int, ok bool) {
	var ons, offs []int

	level := byte(0)
	run := 0
	for idx := 0; idx < w.Size(); idx++ {
		next := byte(0)
		if float64(w.At(idx)) > noise {
			next = 1
		}
		if next == level {
			run++
			continue
		}
		if run > 0 {
			if level == 1 {
				ons = append(ons, run)
			} else if len(ons) > 0 {
				offs = append(offs, run)
			}
		}
		level = next
		run = 1
	}
	if run > 0 {
		if level == 1 {
			ons = append(ons, run)
		} else if len(ons) > 0 {
			tail = run
		}
	}

	if len(ons) < 3 || len(offs) < 2 {
		return 0, false
	}

	mean := float64(ons[0]+ons[1]+ons[2]) / 3
	for _, on := range ons[:3] {
		if diff := float64(on) - mean; diff > PulseJitter || diff < -PulseJitter {
			d.log.WithFields(log.Fields{"on": on, "mean": mean}).Debug("sync pulse jitter")
			return 0, false
		}
	}

	d.offMean = float64(offs[0]+offs[1]) / 2
	d.calibrated = false

	return tail, true
}

func (d *Demodulator) Step(v int16, w *window.Window, s decode.State) decode.Event {
	d.pulseLen++

	next := byte(0)
	if float64(v) > d.noiseLevel {
		next = 1
	}

	ev := decode.EventNone
	if d.signalState == 0 {
		if next == 0 {
			// Still silent: watch for the gaps marking end of frame and end
			// of packet.
			if s == decode.Data && d.pulseLen > d.pulseLimit {
				ev = decode.EventFrameEnd
			}
			if s == decode.Repeat2 && d.pulseLen > 2*d.pulseLimit {
				ev = decode.EventPacketEnd
			}
		} else {
			ev = d.gapDone(d.pulseLen, s)
			d.pulseLen = 0
		}
	} else if next == 0 {
		ev = decode.EventMark
		d.pulseLen = 0
	}
	d.signalState = next

	return ev
}

// gapDone handles a completed silence. The first gap after lock is the long
// inter-message gap, which freezes the bit thresholds for the rest of the
// packet: border at 1.5 times the gap, limit at twice the border.
func (d *Demodulator) gapDone(length int, s decode.State) decode.Event {
	if !d.calibrated {
		if float64(length) < 2*d.offMean {
			d.log.WithFields(log.Fields{"gap": length, "offmean": d.offMean}).Debug("pre-start gap too short")
			return decode.EventInvalid
		}
		d.pulseBorder = length * 3 / 2
		d.pulseLimit = 2 * d.pulseBorder
		d.calibrated = true
		d.log.WithFields(log.Fields{"border": d.pulseBorder, "limit": d.pulseLimit}).Debug("pulse calibration")
		return decode.EventNone
	}

	switch s {
	case decode.Start, decode.Data, decode.Repeat2:
		return d.bitVal(length)
	}
	return decode.EventNone
}

// bitVal classifies a completed off pulse. A duration landing exactly on
// the border is ambiguous and forces a resync.
func (d *Demodulator) bitVal(length int) decode.Event {
	switch {
	case length < d.pulseBorder:
		return decode.EventBit0
	case length > d.pulseBorder && length < d.pulseLimit:
		return decode.EventBit1
	}
	d.log.WithField("length", length).Debug("unclassifiable off pulse")
	return decode.EventInvalid
}

// Decode extracts fields most-significant-bit first: 11 bits of id, a
// setkey bit, 2 channel bits, 12 bits of signed temperature in tenths of a
// degree and 8 bits of humidity.
func (d *Demodulator) Decode(bits []byte) (decode.Message, error) {
	c := decode.NewCursor(bits)

	id, err := c.Take(11)
	if err != nil {
		return nil, err
	}
	setkey, err := c.Take(1)
	if err != nil {
		return nil, err
	}
	channel, err := c.Take(2)
	if err != nil {
		return nil, err
	}
	temp, err := c.Take(12)
	if err != nil {
		return nil, err
	}
	hum, err := c.Take(8)
	if err != nil {
		return nil, err
	}

	signed := int(temp)
	if signed >= 2048 {
		signed -= 4096
	}

	msg := Message{
		ID:          uint16(id),
		SetKey:      setkey == 1,
		Channel:     uint8(channel) + 1,
		Temperature: float64(signed) / 10,
		Humidity:    uint8(hum),
	}
	if msg.ID == 0 {
		return nil, errors.Wrap(decode.ErrInvalidID, "sensor id is 0")
	}

	return msg, nil
}

// Message is a decoded sensor record. Channel is reported 1-based as
// printed on the sensor's channel switch.
type Message struct {
	ID          uint16  `xml:",attr"`
	SetKey      bool    `xml:",attr"`
	Channel     uint8   `xml:",attr"`
	Temperature float64 `xml:",attr"`
	Humidity    uint8   `xml:",attr"`
}

func (msg Message) MsgType() string {
	return "Mebus"
}

func (msg Message) SensorID() uint32 {
	return uint32(msg.ID)
}

func (msg Message) SensorType() uint8 {
	return msg.Channel
}

func (msg Message) String() string {
	return fmt.Sprintf("{ID:%d SetKey:%t Channel:%d Temperature:%.1f Humidity:%d}",
		msg.ID, msg.SetKey, msg.Channel, msg.Temperature, msg.Humidity,
	)
}

func (msg Message) Record() (r []string) {
	r = append(r, strconv.FormatUint(uint64(msg.ID), 10))
	r = append(r, strconv.FormatBool(msg.SetKey))
	r = append(r, strconv.FormatUint(uint64(msg.Channel), 10))
	r = append(r, strconv.FormatFloat(msg.Temperature, 'f', 1, 64))
	r = append(r, strconv.FormatUint(uint64(msg.Humidity), 10))
	return
}
