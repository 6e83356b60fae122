package decode

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// ffmpegDecoder drives one long-lived ffmpeg process per session. The
// container byte stream goes into stdin; s16le mono PCM at the target rate
// comes out of stdout and is collected by a reader goroutine.
type ffmpegDecoder struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	grace time.Duration

	mu  sync.Mutex
	out bytes.Buffer

	// done closes once the process has exited and stdout is fully drained.
	done    chan struct{}
	waitErr error

	closed bool
}

// newFFmpegDecoder starts an ffmpeg process decoding an arbitrary container
// stream from stdin to s16le mono PCM at sampleRate on stdout. The format is
// not pinned; ffmpeg probes the stream itself, which covers both WebM and Ogg
// input. grace bounds how long Close waits for the process to flush before
// killing it.
func newFFmpegDecoder(path string, sampleRate int, grace time.Duration) (Decoder, error) {
	if path == "" {
		path = "ffmpeg"
	}
	cmd := exec.Command(path,
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"pipe:1",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("decode: start %s: %w", path, err)
	}

	d := &ffmpegDecoder{
		cmd:   cmd,
		stdin: stdin,
		grace: grace,
		done:  make(chan struct{}),
	}
	go d.collect(stdout)
	return d, nil
}

// collect drains stdout into the PCM buffer until the process exits.
func (d *ffmpegDecoder) collect(stdout io.Reader) {
	defer close(d.done)
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			d.mu.Lock()
			d.out.Write(buf[:n])
			d.mu.Unlock()
		}
		if err != nil {
			break
		}
	}
	d.waitErr = d.cmd.Wait()
}

func (d *ffmpegDecoder) Feed(chunk []byte) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return fmt.Errorf("decode: ffmpeg decoder closed")
	}
	select {
	case <-d.done:
		if d.waitErr != nil {
			return fmt.Errorf("decode: ffmpeg exited: %w", d.waitErr)
		}
		return fmt.Errorf("decode: ffmpeg exited early")
	default:
	}
	if _, err := d.stdin.Write(chunk); err != nil {
		return fmt.Errorf("decode: write to ffmpeg: %w", err)
	}
	return nil
}

func (d *ffmpegDecoder) Drain() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.out.Len() == 0 {
		return nil
	}
	pcm := make([]byte, d.out.Len())
	copy(pcm, d.out.Bytes())
	d.out.Reset()
	return pcm
}

// Close signals end of input and waits up to the grace period for ffmpeg to
// flush its remaining output, then kills the process if it is still running.
// Safe to call more than once.
func (d *ffmpegDecoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	_ = d.stdin.Close()
	select {
	case <-d.done:
	case <-time.After(d.grace):
		_ = d.cmd.Process.Kill()
		<-d.done
	}
	return nil
}

var _ Decoder = (*ffmpegDecoder)(nil)
