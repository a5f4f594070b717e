package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"groovekeeper/internal/music/stream"
	"groovekeeper/internal/music/transport"
)

// streamTask is the single background task that pumps one track's PCM into
// the transport sink. At most one task is alive per session; the loop waits
// on done before starting the next.
type streamTask struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	reader  io.ReadCloser
	cleanup func()
	release sync.Once
	sink    transport.Sink
	volume  *atomic.Int32
	paused  *atomic.Bool
}

func newStreamTask(reader io.ReadCloser, cleanup func(), sink transport.Sink, volume *atomic.Int32, paused *atomic.Bool) *streamTask {
	ctx, cancel := context.WithCancel(context.Background())
	return &streamTask{
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		reader:  reader,
		cleanup: cleanup,
		sink:    sink,
		volume:  volume,
		paused:  paused,
	}
}

// releaseResources closes the reader and runs the opener cleanup exactly
// once. Closing the reader from outside the frame loop is what unblocks a
// Read stalled on a wedged upstream.
func (t *streamTask) releaseResources() {
	t.release.Do(func() {
		_ = t.reader.Close()
		if t.cleanup != nil {
			t.cleanup()
		}
	})
}

func (t *streamTask) run(s *Session) {
	// Cancellation must release resources even while the frame loop is
	// stuck inside a blocking Read; stopTask waits on done and would
	// otherwise wedge the whole command loop.
	go func() {
		select {
		case <-t.ctx.Done():
			t.releaseResources()
		case <-t.done:
		}
	}()

	var endErr error
	buf := make([]byte, stream.FrameBytes)

loop:
	for {
		if t.ctx.Err() != nil {
			break
		}

		// Pause keeps the stream handle open and position intact; the
		// task just stops delivering frames.
		if t.paused.Load() {
			select {
			case <-t.ctx.Done():
				break loop
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}

		if _, err := io.ReadFull(t.reader, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				endErr = fmt.Errorf("read stream: %w", err)
			}
			break
		}

		applyVolume(buf, int(t.volume.Load()))

		if err := t.sink.PushFrame(t.ctx, buf); err != nil {
			if t.ctx.Err() == nil {
				endErr = fmt.Errorf("%w: %v", transport.ErrSinkUnavailable, err)
			}
			break
		}
	}

	t.releaseResources()

	// A cancelled task was torn down deliberately; only a natural end or
	// failure is reported back to the loop.
	if t.ctx.Err() == nil {
		select {
		case s.events <- evTrackEnded{task: t, err: endErr}:
		case <-t.ctx.Done():
		case <-s.ended:
		}
	}
	close(t.done)
}

// applyVolume scales s16le samples in place by percent (100 = unchanged).
func applyVolume(pcm []byte, percent int) {
	if percent == 100 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		sample = sample * int32(percent) / 100
		if sample > 32767 {
			sample = 32767
		} else if sample < -32768 {
			sample = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(sample)))
	}
}
