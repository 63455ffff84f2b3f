package parse

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bemasher/rtlwx/csv"
	"github.com/bemasher/rtlwx/decode"
)

const (
	TimeFormat = "2006-01-02T15:04:05.000"
)

var (
	parserMutex sync.Mutex
	parsers     = make(map[string]NewParserFunc)
)

// A Message is a validated sensor record. All messages produced by
// registered parsers also satisfy csv.Recorder.
type Message = decode.Message

type NewParserFunc func() *decode.Decoder

// Register a parser for use by name. Protocol packages register themselves
// in init, activated by underscore importing each package:
//
//	import _ "github.com/bemasher/rtlwx/elv"
func Register(name string, parserFn NewParserFunc) {
	parserMutex.Lock()
	defer parserMutex.Unlock()

	if parserFn == nil {
		panic("parser: new parser func is nil")
	}
	if _, dup := parsers[name]; dup {
		panic(fmt.Sprintf("parser: parser already registered (%s)", name))
	}
	parsers[name] = parserFn
}

// NewParser looks up a registered parser by name and makes a new one.
func NewParser(name string) (*decode.Decoder, error) {
	parserMutex.Lock()
	defer parserMutex.Unlock()

	if parserFn, exists := parsers[name]; exists {
		return parserFn(), nil
	}
	return nil, fmt.Errorf("invalid message type: %q", name)
}

// A LogMessage associates a message with the time it was received.
type LogMessage struct {
	Time time.Time `xml:",attr"`
	Type string    `xml:",attr"`
	Message
}

func (msg LogMessage) String() string {
	return fmt.Sprintf("{Time:%s %s:%s}", msg.Time.Format(TimeFormat), msg.MsgType(), msg.Message)
}

func (msg LogMessage) Record() (r []string) {
	r = append(r, msg.Time.Format(time.RFC3339Nano))
	r = append(r, msg.Message.Record()...)
	return r
}

var _ csv.Recorder = LogMessage{}

// A FilterChain takes a list of filters and applies them iteratively to
// messages sent through the chain.
type FilterChain []MessageFilter

func (fc *FilterChain) Add(filter MessageFilter) {
	*fc = append(*fc, filter)
}

func (fc FilterChain) Match(msg Message) bool {
	if len(fc) == 0 {
		return true
	}

	for _, filter := range fc {
		if !filter.Filter(msg) {
			return false
		}
	}

	return true
}

type MessageFilter interface {
	Filter(Message) bool
}

// Uniquely identifies a sensor record for duplicate suppression.
type Digest struct {
	MsgType    string
	SensorType uint8
	SensorID   uint32
	Fields     string
}

func NewDigest(msg Message) Digest {
	return Digest{
		msg.MsgType(),
		msg.SensorType(),
		msg.SensorID(),
		strconv.Quote(fmt.Sprint(msg.Record())),
	}
}
