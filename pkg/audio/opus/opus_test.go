package opus

import (
	"math"
	"testing"

	"github.com/matryer/is"
)

func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	return out
}

func TestEncoderPacketizes(t *testing.T) {
	is := is.New(t)
	enc, err := NewEncoder(SampleRate, 1)
	is.NoErr(err)
	is.Equal(enc.FrameSamples(), 960) // 20ms at 48 kHz

	packets, err := enc.Write(tone(2500))
	is.NoErr(err)
	is.Equal(len(packets), 2) // 580 samples stay buffered

	last, ok, err := enc.Flush()
	is.NoErr(err)
	is.True(ok)
	is.True(len(last) > 0)

	_, ok, err = enc.Flush()
	is.NoErr(err)
	is.True(!ok) // nothing left
}

func TestDecodeRoundTrip(t *testing.T) {
	is := is.New(t)
	enc, err := NewEncoder(SampleRate, 1)
	is.NoErr(err)
	dec, err := NewDecoder(SampleRate, 1)
	is.NoErr(err)

	packets, err := enc.Write(tone(960 * 3))
	is.NoErr(err)
	for _, p := range packets {
		pcm, err := dec.Decode(p)
		is.NoErr(err)
		is.Equal(len(pcm), 960) // one 20ms frame per packet
	}
}
