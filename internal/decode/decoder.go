// Package decode reconstructs per-session PCM streams from the compressed
// audio chunks a browser delivers. Chunks are byte slices of a continuous
// container stream (WebM/Matroska or Ogg, typically Opus inside), not
// self-contained units: they are fed in arrival order into a per-session
// decoder and the decoded 16 kHz mono s16le PCM is collected on the other
// side.
//
// Two decoder implementations exist: an external ffmpeg process consuming the
// container stream ([newFFmpegDecoder]), and an in-process Opus packet decoder
// for transports that deliver bare packets without a container
// ([newOpusDecoder]).
//
// A decoder failure marks the session errored: subsequent chunks are dropped
// silently and the error never propagates to the audio sender. Dictation
// capture must survive a decoder crash; the session simply stops yielding
// audio.
package decode

import "bytes"

// Decoder turns a compressed chunk stream into PCM. Implementations are not
// safe for concurrent use; the Reconstructor serializes access per session.
type Decoder interface {
	// Feed submits the next chunk of the compressed stream, in arrival order.
	// An error means the decoder is unusable from now on.
	Feed(chunk []byte) error

	// Drain returns all PCM decoded since the previous Drain, or nil if none
	// is ready. Decoding is asynchronous for process-backed implementations,
	// so PCM fed now may only appear in a later Drain.
	Drain() []byte

	// Close releases the decoder. Process-backed implementations flush
	// in-flight audio within a bounded grace period before terminating.
	// A final Drain after Close returns the flushed remainder.
	Close() error
}

var (
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3} // WebM/Matroska
	oggMagic  = []byte("OggS")
)

// sniffContainer searches buf for the start of a known container stream.
// It returns the offset of the first container magic and true, or 0 and
// false if none is present yet.
func sniffContainer(buf []byte) (int, bool) {
	start := -1
	if i := bytes.Index(buf, ebmlMagic); i >= 0 {
		start = i
	}
	if i := bytes.Index(buf, oggMagic); i >= 0 && (start < 0 || i < start) {
		start = i
	}
	if start < 0 {
		return 0, false
	}
	return start, true
}
