package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/medscribe/medscribe/pkg/audio"
)

func TestBytesToInt16RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	b := audio.Int16ToBytes(samples)
	got := audio.BytesToInt16(b)

	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToInt16IgnoresTrailingByte(t *testing.T) {
	t.Parallel()

	got := audio.BytesToInt16([]byte{0x01, 0x00, 0xff})
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("got %v, want [1]", got)
	}
}

func TestDurationMs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pcmBytes   int
		sampleRate int
		want       int
	}{
		{"one second at 16k", 32000, 16000, 1000},
		{"20ms frame at 16k", 640, 16000, 20},
		{"empty", 0, 16000, 0},
		{"zero rate", 640, 0, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.DurationMs(make([]byte, tt.pcmBytes), tt.sampleRate); got != tt.want {
				t.Errorf("DurationMs() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	pcm := audio.Int16ToBytes([]int16{100, -100, 200, -200})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Error("missing RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if dataLen := binary.LittleEndian.Uint32(wav[40:44]); int(dataLen) != len(pcm) {
		t.Errorf("data length = %d, want %d", dataLen, len(pcm))
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("payload does not match input PCM")
	}
}
