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

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/bemasher/rtltcp"
	log "github.com/sirupsen/logrus"

	"github.com/bemasher/rtlwx/decode"
	"github.com/bemasher/rtlwx/parse"

	_ "github.com/bemasher/rtlwx/elv"
	_ "github.com/bemasher/rtlwx/mebus"
)

var rcvr Receiver

type Receiver struct {
	rtltcp.SDR
	decoders []*decode.Decoder
	fc       parse.FilterChain
	src      SampleSource

	done bool
}

func (rcvr *Receiver) NewReceiver() {
	// If the msgtype "all" is given alone, register elv and mebus.
	if _, all := msgType["all"]; (all && len(msgType) == 1) || len(msgType) == 0 {
		delete(msgType, "all")
		msgType["elv"] = true
		msgType["mebus"] = true
	}

	for name := range msgType {
		d, err := parse.NewParser(name)
		if err != nil {
			log.Fatal(err)
		}
		d.Log()
		rcvr.decoders = append(rcvr.decoders, d)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "unique":
			rcvr.fc.Add(NewUniqueFilter())
		case "filterid":
			rcvr.fc.Add(sensorID)
		case "filtertype":
			rcvr.fc.Add(sensorType)
		}
	})

	if *live {
		if len(rcvr.decoders) != 1 {
			log.Fatal("live receive requires exactly one message type")
		}
		cfg := rcvr.decoders[0].Cfg()

		if err := rcvr.Connect(nil); err != nil {
			log.Fatal(err)
		}
		rcvr.SetCenterFreq(cfg.CenterFreq)
		rcvr.SetSampleRate(uint32(cfg.SampleRate * *decimation))
		if err := rcvr.HandleFlags(); err != nil {
			log.Fatal(err)
		}

		rcvr.src = NewSDRSource(&rcvr.SDR, *decimation)
		return
	}

	if *sampleFilename == "-" {
		rcvr.src = NewRawSource(os.Stdin)
		return
	}
	sampleFile, err := os.Open(*sampleFilename)
	if err != nil {
		log.Fatal("error opening sample file: ", err)
	}
	rcvr.src = NewRawSource(sampleFile)
}

func (rcvr *Receiver) Close() {
	if rcvr.src != nil {
		rcvr.src.Close()
	}
}

func (rcvr *Receiver) Run() {
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)

	tLimit := make(<-chan time.Time, 1)
	if *timeLimit != 0 {
		tLimit = time.After(*timeLimit)
	}
	start := time.Now()

	block := make([]int16, 256)

	for !rcvr.done {
		select {
		case <-sigint:
			rcvr.flush()
			return
		case <-tLimit:
			log.Info("time limit reached: ", time.Since(start))
			rcvr.flush()
			return
		default:
		}

		n, err := rcvr.src.Read(block)
		for _, v := range block[:n] {
			rcvr.process(v)
			if rcvr.done {
				break
			}
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			rcvr.flush()
			return
		}
		if err != nil {
			log.WithError(err).Fatal("error reading samples")
		}
	}
}

// process feeds one sample to every registered decoder.
func (rcvr *Receiver) process(v int16) {
	for _, d := range rcvr.decoders {
		if msg, ok := d.Process(v); ok {
			rcvr.emit(msg)
		}
	}
}

// flush decodes any frames left in progress at end of stream.
func (rcvr *Receiver) flush() {
	for _, d := range rcvr.decoders {
		if msg, ok := d.Flush(); ok {
			rcvr.emit(msg)
		}
	}
}

func (rcvr *Receiver) emit(msg parse.Message) {
	if !rcvr.fc.Match(msg) {
		return
	}

	logMsg := parse.LogMessage{
		Time:    time.Now(),
		Type:    msg.MsgType(),
		Message: msg,
	}

	if err := encoder.Encode(logMsg); err != nil {
		log.Fatal("error encoding message: ", err)
	}

	if *single {
		rcvr.done = true
	}
}

var (
	buildTag   = "dev"     // v#.#.#
	buildDate  = "unknown" // date -u '+%Y-%m-%d'
	commitHash = "unknown" // git rev-parse HEAD
)

func main() {
	rcvr.RegisterFlags()
	RegisterFlags()
	EnvOverride()
	flag.Parse()

	if *version {
		fmt.Println("Build Tag: ", buildTag)
		fmt.Println("Build Date:", buildDate)
		fmt.Println("Commit:    ", commitHash)
		os.Exit(0)
	}

	HandleFlags()

	rcvr.NewReceiver()
	defer rcvr.Close()

	rcvr.Run()
}
