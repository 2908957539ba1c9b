package audio

import (
	"bytes"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

const (
	SampleRate = 48000
	Channels   = 2

	// 120 ms is the longest frame opus allows.
	maxFrameSamples = SampleRate * 120 / 1000
)

// SilenceFrame is the comfort-noise frame Discord sends after a speaker
// goes quiet.
var SilenceFrame = []byte{0xf8, 0xff, 0xfe}

func IsSilence(frame []byte) bool {
	return len(frame) == 0 || bytes.Equal(frame, SilenceFrame)
}

// Decoder turns one encoded frame into interleaved 16-bit samples.
type Decoder interface {
	Decode(frame []byte) ([]int16, error)
}

// OpusDecoder keeps per-stream decoder state, so every speaker needs their
// own.
type OpusDecoder struct {
	dec *opus.Decoder
	pcm []int16
}

func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	return &OpusDecoder{
		dec: dec,
		pcm: make([]int16, maxFrameSamples*Channels),
	}, nil
}

// Decode returns a slice that is only valid until the next call.
func (d *OpusDecoder) Decode(frame []byte) ([]int16, error) {
	n, err := d.dec.Decode(frame, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("decode opus frame: %w", err)
	}
	return d.pcm[:n*Channels], nil
}
