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
	"encoding/json"
	"encoding/xml"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bemasher/rtlwx/csv"
	"github.com/bemasher/rtlwx/parse"
)

var sampleFilename = flag.String("samplefile", "-", "raw sample file of signed 16-bit samples, '-' for stdin")

var live = flag.Bool("live", false, "receive live from an rtl_tcp instance instead of a sample file")

var decimation = flag.Int("decimation", 8, "integer decimation factor for live receive, sdr rate is decimation * protocol rate")

var msgType = StringMap{}

var logLevel = flag.String("loglevel", "warn", "log level: trace, debug, info, warn or error")

var timeLimit = flag.Duration("duration", 0, "time to run for, 0 for infinite, ex. 1h5m10s")

var sensorID SensorIDFilter
var sensorType SensorTypeFilter

var unique = flag.Bool("unique", false, "suppress duplicate records from each sensor")

var encoder Encoder
var format = flag.String("format", "plain", "decoded message output format: plain, csv, json, or xml")

var single = flag.Bool("single", false, "one shot execution, exit after the first decoded record")

var version = flag.Bool("version", false, "display build date and commit hash")

func RegisterFlags() {
	sensorID = SensorIDFilter{make(UintMap)}
	sensorType = SensorTypeFilter{make(UintMap)}

	flag.Var(msgType, "msgtype", "comma-separated message types to receive: all, elv or mebus")
	flag.Var(sensorID, "filterid", "display only records matching an id in a comma-separated list of ids.")
	flag.Var(sensorType, "filtertype", "display only records matching a type in a comma-separated list of types.")
}

func EnvOverride() {
	flag.VisitAll(func(f *flag.Flag) {
		envName := "RTLWX_" + strings.ToUpper(f.Name)
		flagValue := os.Getenv(envName)
		if flagValue != "" {
			if err := flag.Set(f.Name, flagValue); err != nil {
				log.Printf(
					"Environment variable %q failed to override flag %q with value %q: %q\n",
					envName, f.Name, flagValue, err,
				)
			} else {
				log.Printf("Environment variable %q overrides flag %q with %q\n", envName, f.Name, flagValue)
			}
		}
	})
}

func HandleFlags() {
	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level: %q", *logLevel)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	*format = strings.ToLower(*format)
	switch *format {
	case "plain":
		encoder = PlainEncoder{}
	case "csv":
		encoder = csv.NewEncoder(os.Stdout)
	case "json":
		encoder = json.NewEncoder(os.Stdout)
	case "xml":
		encoder = xml.NewEncoder(os.Stdout)
	default:
		log.Fatalf("invalid format: %q", *format)
	}
}

// JSON, XML and CSV encoders all implement this interface so we can
// simplify output formatting.
type Encoder interface {
	Encode(interface{}) error
}

type PlainEncoder struct{}

func (pe PlainEncoder) Encode(msg interface{}) (err error) {
	_, err = fmt.Println(msg)
	return
}

type StringMap map[string]bool

func (m StringMap) String() (s string) {
	var values []string
	for k := range m {
		values = append(values, k)
	}
	return strings.Join(values, ",")
}

func (m StringMap) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		m[strings.ToLower(strings.TrimSpace(v))] = true
	}
	return nil
}

type UintMap map[uint]bool

func (m UintMap) String() (s string) {
	var values []string
	for k := range m {
		values = append(values, strconv.FormatUint(uint64(k), 10))
	}
	return strings.Join(values, ",")
}

func (m UintMap) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		m[uint(n)] = true
	}
	return nil
}

type SensorIDFilter struct {
	UintMap
}

func (m SensorIDFilter) Filter(msg parse.Message) bool {
	return m.UintMap[uint(msg.SensorID())]
}

type SensorTypeFilter struct {
	UintMap
}

func (m SensorTypeFilter) Filter(msg parse.Message) bool {
	return m.UintMap[uint(msg.SensorType())]
}

// UniqueFilter drops records whose digest has already been seen for a
// sensor.
type UniqueFilter map[parse.Digest]time.Time

func NewUniqueFilter() UniqueFilter {
	return make(UniqueFilter)
}

func (uf UniqueFilter) Filter(msg parse.Message) bool {
	digest := parse.NewDigest(msg)
	if _, seen := uf[digest]; seen {
		return false
	}
	uf[digest] = time.Now()
	return true
}
