package decode

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/medscribe/medscribe/pkg/audio"
)

// maxOpusFrameMs is the largest frame duration an Opus packet can carry.
const maxOpusFrameMs = 60

// opusDecoder decodes bare Opus packets in-process, one packet per chunk.
// Used for transports that strip the container and ship raw packets, where
// spawning an external process would be wasteful.
type opusDecoder struct {
	dec          *gopus.Decoder
	maxFrameSize int
	out          []byte
	closed       bool
}

func newOpusDecoder(sampleRate int) (Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("decode: create opus decoder: %w", err)
	}
	return &opusDecoder{
		dec:          dec,
		maxFrameSize: sampleRate * maxOpusFrameMs / 1000,
	}, nil
}

func (d *opusDecoder) Feed(chunk []byte) error {
	if d.closed {
		return fmt.Errorf("decode: opus decoder closed")
	}
	if len(chunk) == 0 {
		return nil
	}
	pcm, err := d.dec.Decode(chunk, d.maxFrameSize, false)
	if err != nil {
		return fmt.Errorf("decode: opus packet: %w", err)
	}
	d.out = append(d.out, audio.Int16ToBytes(pcm)...)
	return nil
}

func (d *opusDecoder) Drain() []byte {
	if len(d.out) == 0 {
		return nil
	}
	pcm := d.out
	d.out = nil
	return pcm
}

func (d *opusDecoder) Close() error {
	d.closed = true
	return nil
}

var _ Decoder = (*opusDecoder)(nil)
