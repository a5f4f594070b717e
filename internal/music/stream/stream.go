// Package stream turns a materialized stream locator into raw PCM audio.
package stream

import (
	"fmt"
	"io"
	"os/exec"

	"groovekeeper/internal/music/track"
)

const (
	Channels   = 2
	SampleRate = 48000
	FrameSize  = 960 // 20ms at 48kHz

	// FrameBytes is the byte length of one s16le PCM frame.
	FrameBytes = FrameSize * Channels * 2
)

// Opener opens a PCM byte stream for a locator. The returned cleanup must
// release the underlying process or connection and is safe to call after
// the reader is closed.
type Opener interface {
	Open(loc track.StreamLocator) (io.ReadCloser, func(), error)
}

// FFmpegOpener pulls the locator URL through an ffmpeg child process and
// exposes its stdout as s16le 48kHz stereo PCM.
type FFmpegOpener struct {
	Path string // ffmpeg binary, defaults to "ffmpeg"
}

func (o *FFmpegOpener) Open(loc track.StreamLocator) (io.ReadCloser, func(), error) {
	bin := o.Path
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.Command(bin,
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", string(loc),
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", fmt.Sprintf("%d", Channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	reader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("command start error: %w", err)
	}

	cleanup := func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}

	return reader, cleanup, nil
}
