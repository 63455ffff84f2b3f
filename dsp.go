package main

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/bemasher/rtltcp"
)

// A SampleSource produces blocks of signed 16-bit amplitude samples.
type SampleSource interface {
	io.Closer
	Read(block []int16) (int, error)
}

// rawSource reads little-endian signed 16-bit samples, the format produced
// by rtl_fm in AM mode.
type rawSource struct {
	r   io.ReadCloser
	buf []byte
}

func NewRawSource(r io.ReadCloser) SampleSource {
	return &rawSource{r: r}
}

func (src *rawSource) Read(block []int16) (int, error) {
	if len(src.buf) < len(block)<<1 {
		src.buf = make([]byte, len(block)<<1)
	}

	n, err := io.ReadFull(src.r, src.buf[:len(block)<<1])
	n >>= 1
	for idx := 0; idx < n; idx++ {
		block[idx] = int16(binary.LittleEndian.Uint16(src.buf[idx<<1:]))
	}

	return n, err
}

func (src *rawSource) Close() error {
	return src.r.Close()
}

// sdrSource reads interleaved IQ from rtl_tcp, computes envelope magnitude
// and decimates down to the decoder's sample rate.
type sdrSource struct {
	sdr   *rtltcp.SDR
	lut   MagLUT
	decim int

	iq  []byte
	mag []int16
}

func NewSDRSource(sdr *rtltcp.SDR, decimation int) SampleSource {
	return &sdrSource{
		sdr:   sdr,
		lut:   NewSqrtMagLUT(),
		decim: decimation,
	}
}

func (src *sdrSource) Read(block []int16) (int, error) {
	want := len(block) * src.decim
	if len(src.iq) < want<<1 {
		src.iq = make([]byte, want<<1)
		src.mag = make([]int16, want)
	}

	if _, err := io.ReadFull(src.sdr, src.iq[:want<<1]); err != nil {
		return 0, err
	}

	src.lut.Execute(src.iq[:want<<1], src.mag[:want])

	for idx := range block {
		var sum int
		for j := 0; j < src.decim; j++ {
			sum += int(src.mag[idx*src.decim+j])
		}
		block[idx] = int16(sum / src.decim)
	}

	return len(block), nil
}

func (src *sdrSource) Close() error {
	return src.sdr.Close()
}

// Magnitude lookup table, precomputes square of byte-valued samples with
// the rtl-sdr's DC offset removed.
type MagLUT []float64

func NewSqrtMagLUT() (lut MagLUT) {
	lut = make([]float64, 0x100)
	for idx := range lut {
		lut[idx] = 127.4 - float64(idx)
		lut[idx] *= lut[idx]
	}
	return
}

// Execute converts interleaved IQ bytes to envelope magnitude scaled to the
// int16 sample range.
func (lut MagLUT) Execute(input []byte, output []int16) {
	for idx := range output {
		lutIdx := idx << 1
		output[idx] = int16(math.Sqrt(lut[input[lutIdx]]+lut[input[lutIdx+1]]) * 180.0)
	}
}
