/*
RTLWX is a receiver for ELV and Mebus 433/868MHz wireless weather sensors,
reading demodulated samples from a file or live from an rtl_tcp instance.

Command-line Flags:

	-samplefile="-"

Sets the file to read samples from, '-' for stdin. Samples are interleaved
little-endian signed 16-bit amplitude values, the format produced by rtl_fm
in AM mode at the protocol's sample rate.

	-live=false

Receive live from an rtl_tcp instance instead of a sample file. Live mode
requires exactly one message type since each protocol tunes a different
center frequency. Server address is set with the rtl_tcp -server flag.

	-decimation=8

Sets the integer decimation factor for live receive. The dongle is tuned to
decimation times the protocol's sample rate and blocks of IQ samples are
converted to magnitude and averaged down.

	-msgtype="all"

Sets comma-separated protocols to receive, defaults to all. Valid message
types are:

	elv:   ELV/Conrad 868.35MHz sensors (WDE-1, KS-200/300 and compatible)
	mebus: Mebus/Irox 433.84MHz thermo/hygro sensors

	-duration=0

Sets time to receive for, 0 for infinite. If the time limit expires during
processing of a block it will exit on the next pass through the receive
loop.

	-filterid=0

Display only records matching an id in a comma-separated list of ids.

	-filtertype=0

Display only records matching a sensor type in a comma-separated list of
types.

	-unique=false

Suppress duplicate records from each sensor. A record is a duplicate if all
fields except the timestamp match the previous record from the same sensor.

	-format="plain"

Sets the decoded message output format, defaults to plain. For csv, json and
xml output each line is a record, there is no root node.

	-loglevel="warn"

Sets the level below which diagnostic log messages are suppressed: trace,
debug, info, warn or error. Decoded records are always written to stdout
regardless of level.

	-single=false

Provides one shot execution. Receiver listens until exactly one record is
decoded before exiting.

	-version=false

Displays build date and commit hash.

All flags may also be set via environment variables with the prefix RTLWX_,
e.g. RTLWX_MSGTYPE=elv. Explicit flags take precedence.
*/
package main
