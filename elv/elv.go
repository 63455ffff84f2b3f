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

// Package elv decodes ELV WDE1 weather sensor transmissions on 868.35MHz.
// Bits are amplitude keyed: every bit begins with 366us of carrier, ends
// with 366us of silence, and encodes its value in the level of the middle
// 488us.
package elv

import (
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bemasher/rtlwx/decode"
	"github.com/bemasher/rtlwx/parse"
	"github.com/bemasher/rtlwx/window"
)

func init() {
	parse.Register("elv", NewParser)
}

const (
	// Sampling at 160kHz (6.25us) with a bit length of 1220us gives 195.2
	// samples per bit. The window is rounded down to keep the next bit out.
	BitSamples = 190

	// Maximum samples to scan for the bit's leading rise.
	MaxSkip = 20
)

// Layout probe offsets within a bit, in samples. The leading 58 samples are
// always carrier and the trailing 58 always silence; both allow 2 samples
// of jitter.
const (
	leadBegin, leadEnd   = 2, 56
	midBegin, midEnd     = 60, 133
	trailBegin, trailEnd = 138, BitSamples
)

var sensorTypes = [8]string{
	"Thermo",
	"Thermo/Hygro",
	"Rain(?)",
	"Wind(?)",
	"Thermo/Hygro/Baro",
	"Luminance(?)",
	"Pyrano(?)",
	"Kombi",
}

// NibbleCounts is the fixed payload nibble count for each sensor type.
var NibbleCounts = [8]int{5, 8, 5, 8, 12, 6, 6, 14}

func NewConfig() decode.Config {
	return decode.Config{
		Protocol:   "elv",
		CenterFreq: 868350000,
		SampleRate: 160000,
		WindowSize: BitSamples,
		SyncRun:    6,
		MinBits:    34,
		Repeats:    false,
	}
}

func NewParser() *decode.Decoder {
	return decode.NewDecoder(NewDemodulator())
}

// Demodulator recovers bits by comparing amplitude segments of each bit
// window against a continuously re-derived on-level.
type Demodulator struct {
	cfg decode.Config

	onLevel float64

	// Samples since the last bit decision. Decisions occur one sample after
	// a full bit window has elapsed; the leading-edge scan realigns the
	// stride each bit.
	stride int

	// Samples since the last reset; locking needs a window of samples the
	// previous lock never saw.
	holdoff int

	log *log.Entry
}

func NewDemodulator() *Demodulator {
	return &Demodulator{
		cfg: NewConfig(),
		log: log.WithField("protocol", "elv"),
	}
}

func (d *Demodulator) Cfg() decode.Config {
	return d.cfg
}

func (d *Demodulator) Reset() {
	d.onLevel = 0
	d.stride = 0
	d.holdoff = 0
}

// Sync tests whether the window holds the first sync bit: 134..137 samples
// of carrier followed by 58..61 of silence. The leading average must rise
// above its own range and the trailing range (noise) and above the trailing
// average. On success the on-level is set to the midpoint of the two.
func (d *Demodulator) Sync(w *window.Window) bool {
	d.holdoff++
	if d.holdoff <= BitSamples || !w.Full() {
		return false
	}

	lead := w.Average(0, 133)
	leadRange := w.Range(0, 133)
	trail := w.Average(trailBegin, trailEnd)
	trailRange := w.Range(trailBegin, trailEnd)

	if lead < leadRange || lead < trailRange {
		return false
	}
	if lead < trail {
		return false
	}

	d.onLevel = (lead + trail) / 2
	d.stride = 0
	d.log.WithFields(log.Fields{"lead": lead, "trail": trail}).Debug("sync bit")

	return true
}

func (d *Demodulator) Step(v int16, w *window.Window, s decode.State) decode.Event {
	d.stride++
	if d.stride <= BitSamples {
		return decode.EventNone
	}
	return d.bitVal(w)
}

// bitVal decodes one bit from the window. The signal should be off at the
// window's head, so scan for a transition to on. No edge within MaxSkip
// samples means the frame is over. The bit value is decided by whether the
// middle segment's average sits closer to the lead or the trail segment.
// The on-level is re-derived from lead and trail every bit, tracking
// amplitude drift rather than holding a fixed threshold.
func (d *Demodulator) bitVal(w *window.Window) decode.Event {
	skip := 0
	for skip < MaxSkip {
		if float64(w.At(skip)) > d.onLevel {
			break
		}
		skip++
	}

	d.stride = -skip
	if skip >= MaxSkip {
		d.log.Debug("no rising edge")
		return decode.EventFrameEnd
	}

	lead := w.Average(skip+leadBegin, skip+leadEnd)
	leadRange := w.Range(skip+leadBegin, skip+leadEnd)
	mid := w.Average(skip+midBegin, skip+midEnd)
	trail := w.Average(skip+trailBegin, trailEnd)

	ev := decode.EventInvalid
	if lead > leadRange && lead > trail {
		if math.Abs(mid-lead) > math.Abs(mid-trail) {
			ev = decode.EventBit1
		} else {
			ev = decode.EventBit0
		}
	}

	d.onLevel = (lead + trail) / 2
	d.log.WithFields(log.Fields{"lead": lead, "mid": mid, "trail": trail}).Trace("bitval")

	return ev
}

// Decode extracts nibbles least-significant-bit first. Every nibble is
// followed by a mandatory end-of-nibble bit equal to 1. The first nibble's
// low 3 bits select the sensor type and with it the payload nibble count.
// A running XOR over all nibbles must be 0 and the running sum plus 5,
// masked to 4 bits, must equal the trailing sum nibble.
func (d *Demodulator) Decode(bits []byte) (decode.Message, error) {
	c := decode.NewCursor(bits)

	typNibble, err := c.TakeLSB(4)
	if err != nil {
		return nil, err
	}
	if err := expectEON(c); err != nil {
		return nil, err
	}

	typ := typNibble & 7
	check := typ
	sum := typ

	nibbles := make([]uint64, NibbleCounts[typ])
	for idx := range nibbles {
		nibble, err := c.TakeLSB(4)
		if err != nil {
			return nil, err
		}
		if err := expectEON(c); err != nil {
			return nil, err
		}
		nibbles[idx] = nibble
		check ^= nibble
		sum += nibble
	}

	if check != 0 {
		return nil, errors.Wrapf(decode.ErrChecksum, "xor residue %d", check)
	}

	sumRead, err := c.TakeLSB(4)
	if err != nil {
		return nil, err
	}
	sum = (sum + 5) & 0xF
	if sumRead != sum {
		return nil, errors.Wrapf(decode.ErrSum, "read %d computed %d", sumRead, sum)
	}

	return NewMessage(uint8(typ), nibbles), nil
}

func expectEON(c *decode.Cursor) error {
	eon, err := c.TakeLSB(1)
	if err != nil {
		return err
	}
	if eon != 1 {
		return errors.Wrap(decode.ErrChecksum, "end of nibble bit is not 1")
	}
	return nil
}

// Message is a decoded sensor record. Temperature is always present; the
// remaining fields are populated only for the sensor types that carry them.
type Message struct {
	Type    uint8 `xml:",attr"`
	Address uint8 `xml:",attr"`

	Temperature float64 `xml:",attr"`
	Humidity    float64 `xml:",attr"`
	Wind        float64 `xml:",attr"`
	RainSum     int     `xml:",attr"`
	RainDetect  bool    `xml:",attr"`
	Pressure    int     `xml:",attr"`
}

// NewMessage maps nibble positions to fields. The mapping is an external
// protocol contract reverse-engineered from the sensors, asymmetries
// included.
func NewMessage(typ uint8, d []uint64) (msg Message) {
	msg.Type = typ
	msg.Address = uint8(d[0] & 7)

	msg.Temperature = float64(d[3]*10+d[2]) + float64(d[1])/10
	if d[0]&8 != 0 {
		msg.Temperature = -msg.Temperature
	}

	switch typ {
	case 7:
		// Kombisensor
		msg.Humidity = float64(d[5]*10 + d[4])
		msg.Wind = float64(d[8]*10+d[7]) + float64(d[6])/10
		msg.RainSum = int(d[11]*256 + d[10]*16 + d[9])
		msg.RainDetect = d[0]&2 == 1
	case 1, 4:
		// Thermo/Hygro
		msg.Humidity = float64(d[6]*10+d[5]) + float64(d[4])/10
	}
	if typ == 4 {
		// Thermo/Hygro/Baro
		msg.Pressure = 200 + int(d[9]*100+d[8]*10+d[7])
	}

	return
}

func (msg Message) MsgType() string {
	return "ELV"
}

func (msg Message) SensorID() uint32 {
	return uint32(msg.Address)
}

func (msg Message) SensorType() uint8 {
	return msg.Type
}

// TypeName returns the sensor type's name.
func (msg Message) TypeName() string {
	return sensorTypes[msg.Type&7]
}

func (msg Message) String() string {
	s := fmt.Sprintf("{Type:%s Address:%d Temperature:%.1f", msg.TypeName(), msg.Address, msg.Temperature)
	switch msg.Type {
	case 7:
		s += fmt.Sprintf(" Humidity:%.0f Wind:%.1f RainSum:%d RainDetect:%t", msg.Humidity, msg.Wind, msg.RainSum, msg.RainDetect)
	case 1:
		s += fmt.Sprintf(" Humidity:%.1f", msg.Humidity)
	case 4:
		s += fmt.Sprintf(" Humidity:%.1f Pressure:%d", msg.Humidity, msg.Pressure)
	}
	return s + "}"
}

func (msg Message) Record() (r []string) {
	r = append(r, msg.TypeName())
	r = append(r, strconv.FormatUint(uint64(msg.Address), 10))
	r = append(r, strconv.FormatFloat(msg.Temperature, 'f', 1, 64))
	r = append(r, strconv.FormatFloat(msg.Humidity, 'f', 1, 64))
	r = append(r, strconv.FormatFloat(msg.Wind, 'f', 1, 64))
	r = append(r, strconv.FormatInt(int64(msg.RainSum), 10))
	r = append(r, strconv.FormatBool(msg.RainDetect))
	r = append(r, strconv.FormatInt(int64(msg.Pressure), 10))
	return
}
