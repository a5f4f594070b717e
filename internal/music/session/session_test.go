package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"groovekeeper/internal/music/stream"
	"groovekeeper/internal/music/track"
	"groovekeeper/internal/music/transport"
)

// ---- fakes ----

type fakeResolver struct {
	mu          sync.Mutex
	fail        map[string]error  // reference -> materialize error
	titles      map[string]string // reference -> title delivered by Materialize
	calls       map[string]int
	bareResolve bool // Resolve leaves Title empty, like a lazy catalog entry
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{fail: map[string]error{}, titles: map[string]string{}, calls: map[string]int{}}
}

func (r *fakeResolver) Resolve(_ context.Context, reference, requestedBy string, _ int) ([]*track.Track, error) {
	title := "title-" + reference
	if r.bareResolve {
		title = ""
	}
	return []*track.Track{track.New(reference, title, requestedBy, track.SourceSearchResult)}, nil
}

func (r *fakeResolver) Materialize(_ context.Context, t *track.Track) (track.Materialization, error) {
	r.mu.Lock()
	r.calls[t.Reference]++
	err := r.fail[t.Reference]
	title := r.titles[t.Reference]
	r.mu.Unlock()
	if err != nil {
		return track.Materialization{}, err
	}
	return track.Materialization{Locator: track.StreamLocator("loc:" + t.Reference), Title: title}, nil
}

type fakeStream struct {
	mu        sync.Mutex
	remaining int // -1 = endless
	closed    bool
}

func (f *fakeStream) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.remaining == 0 {
		return 0, io.EOF
	}
	if f.remaining > 0 {
		f.remaining--
	}
	time.Sleep(time.Millisecond)
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type fakeOpener struct {
	mu       sync.Mutex
	frames   int // per-stream frame budget, -1 = endless
	opens    int
	cleanups int
}

func (o *fakeOpener) Open(_ track.StreamLocator) (io.ReadCloser, func(), error) {
	o.mu.Lock()
	o.opens++
	o.mu.Unlock()
	cleanup := func() {
		o.mu.Lock()
		o.cleanups++
		o.mu.Unlock()
	}
	return &fakeStream{remaining: o.frames}, cleanup, nil
}

func (o *fakeOpener) stats() (opens, cleanups int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens, o.cleanups
}

// stuckStream blocks Read until Close, standing in for a wedged upstream
// process that stops producing bytes without exiting.
type stuckStream struct {
	once   sync.Once
	closed chan struct{}
}

func (s *stuckStream) Read([]byte) (int, error) {
	<-s.closed
	return 0, io.EOF
}

func (s *stuckStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type stuckOpener struct {
	mu       sync.Mutex
	cleanups int
}

func (o *stuckOpener) Open(track.StreamLocator) (io.ReadCloser, func(), error) {
	return &stuckStream{closed: make(chan struct{})}, func() {
		o.mu.Lock()
		o.cleanups++
		o.mu.Unlock()
	}, nil
}

type fakeSink struct {
	mu        sync.Mutex
	frames    int
	failAfter int // error once this many frames were pushed, 0 = never
}

func (k *fakeSink) PushFrame(ctx context.Context, _ []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.frames++
	if k.failAfter > 0 && k.frames >= k.failAfter {
		return errors.New("sink closed")
	}
	return nil
}

type fakeTransport struct {
	mu        sync.Mutex
	sink      *fakeSink
	attachErr error
	attaches  int
	detaches  int
}

func (f *fakeTransport) Attach(_ string) (transport.Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	f.attaches++
	if f.sink == nil {
		f.sink = &fakeSink{}
	}
	return f.sink, nil
}

func (f *fakeTransport) Detach(transport.Sink) error {
	f.mu.Lock()
	f.detaches++
	f.mu.Unlock()
	return nil
}

// ---- helpers ----

type testEnv struct {
	sess     *Session
	resolver *fakeResolver
	opener   *fakeOpener
	trans    *fakeTransport
	endedMu  sync.Mutex
	endedIDs []string
}

func newTestEnv(t *testing.T, opener *fakeOpener) *testEnv {
	t.Helper()
	env := newTestEnvWithOpener(t, opener)
	env.opener = opener
	return env
}

func newTestEnvWithOpener(t *testing.T, opener stream.Opener) *testEnv {
	t.Helper()
	env := &testEnv{
		resolver: newFakeResolver(),
		trans:    &fakeTransport{},
	}
	deps := Deps{
		Resolver:  env.resolver,
		Opener:    opener,
		Transport: env.trans,
		Log:       zerolog.Nop(),
	}
	env.sess = New("guild-1", deps, Config{}, func(guildID string) {
		env.endedMu.Lock()
		env.endedIDs = append(env.endedIDs, guildID)
		env.endedMu.Unlock()
	})
	t.Cleanup(func() { _, _ = env.sess.Stop(context.Background()) })
	return env
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func (e *testEnv) waitState(t *testing.T, want State) Snapshot {
	t.Helper()
	var snap Snapshot
	waitFor(t, "state "+string(want), func() bool {
		var err error
		snap, err = e.sess.NowPlaying(context.Background())
		return err == nil && snap.State == want
	})
	return snap
}

// ---- tests ----

func TestPlayStartsPlayback(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	ctx := context.Background()

	res, err := env.sess.Play(ctx, "a", "tester")
	if err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	if res.Added != 1 || res.Dropped != 0 {
		t.Errorf("Play added=%d dropped=%d, want 1/0", res.Added, res.Dropped)
	}

	snap := env.waitState(t, StatePlaying)
	if snap.Current == nil || snap.Current.Reference != "a" {
		t.Errorf("current = %+v, want track a", snap.Current)
	}
	if snap.Volume != 100 {
		t.Errorf("default volume = %d, want 100", snap.Volume)
	}
}

func TestCommandsApplyInArrivalOrder(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	ctx := context.Background()

	for _, ref := range []string{"x", "b", "c", "d"} {
		if _, err := env.sess.Play(ctx, ref, "tester"); err != nil {
			t.Fatalf("Play(%s): %v", ref, err)
		}
	}
	env.waitState(t, StatePlaying)

	tracks, err := env.sess.Tracks(ctx)
	if err != nil {
		t.Fatalf("Tracks: %v", err)
	}
	wantRefs := []string{"b", "c", "d"}
	if len(tracks) != len(wantRefs) {
		t.Fatalf("queue length = %d, want %d", len(tracks), len(wantRefs))
	}
	for i, want := range wantRefs {
		if tracks[i].Reference != want {
			t.Errorf("queue[%d] = %s, want %s", i, tracks[i].Reference, want)
		}
	}

	removed, _, err := env.sess.Remove(ctx, 1)
	if err != nil || !removed {
		t.Fatalf("Remove(1) = %v, %v, want true, nil", removed, err)
	}
	removed, _, err = env.sess.Remove(ctx, 5)
	if err != nil || removed {
		t.Fatalf("Remove(5) = %v, %v, want false, nil", removed, err)
	}

	tracks, _ = env.sess.Tracks(ctx)
	if len(tracks) != 2 || tracks[0].Reference != "b" || tracks[1].Reference != "d" {
		t.Errorf("queue after Remove = %+v, want [b d]", tracks)
	}

	snap, err := env.sess.ClearQueue(ctx)
	if err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if snap.QueueLen != 0 {
		t.Errorf("queue length after clear = %d, want 0", snap.QueueLen)
	}
	if snap.State != StatePlaying {
		t.Errorf("clear must not touch current track, state = %s", snap.State)
	}
}

func TestUnplayableTrackAutoAdvances(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	env.resolver.fail["bad"] = errors.New("stream unavailable")
	ctx := context.Background()

	if _, err := env.sess.Play(ctx, "bad", "tester"); err != nil {
		t.Fatalf("Play(bad): %v", err)
	}
	if _, err := env.sess.Play(ctx, "good", "tester"); err != nil {
		t.Fatalf("Play(good): %v", err)
	}

	snap := env.waitState(t, StatePlaying)
	if snap.Current == nil || snap.Current.Reference != "good" {
		t.Errorf("current = %+v, want good (bad must never play)", snap.Current)
	}
}

func TestPauseResumeKeepsStream(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	ctx := context.Background()

	_, _ = env.sess.Play(ctx, "a", "tester")
	playing := env.waitState(t, StatePlaying)

	snap, err := env.sess.Pause(ctx)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if snap.State != StatePaused || !snap.Paused {
		t.Errorf("state after pause = %s paused=%v, want paused", snap.State, snap.Paused)
	}

	if _, err := env.sess.Pause(ctx); !errors.Is(err, ErrAlreadyPaused) {
		t.Errorf("second Pause error = %v, want ErrAlreadyPaused", err)
	}

	snap, err = env.sess.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if snap.State != StatePlaying {
		t.Errorf("state after resume = %s, want playing", snap.State)
	}
	if snap.Current == nil || playing.Current == nil || snap.Current.ID != playing.Current.ID {
		t.Errorf("current changed across pause/resume: %+v vs %+v", snap.Current, playing.Current)
	}

	// Same stream handle throughout: no re-acquisition.
	opens, _ := env.opener.stats()
	if opens != 1 {
		t.Errorf("stream opened %d times, want 1", opens)
	}
}

func TestResumeWithoutPause(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	ctx := context.Background()

	if _, err := env.sess.Resume(ctx); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume on idle session = %v, want ErrNotPaused", err)
	}
}

func TestSkipReleasesStreamAndAdvances(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	ctx := context.Background()

	for _, ref := range []string{"a", "b", "c"} {
		if _, err := env.sess.Play(ctx, ref, "tester"); err != nil {
			t.Fatalf("Play(%s): %v", ref, err)
		}
	}
	env.waitState(t, StatePlaying)

	if _, err := env.sess.Skip(ctx); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	// Skip waits for the old stream's resources before advancing.
	_, cleanups := env.opener.stats()
	if cleanups < 1 {
		t.Errorf("cleanups after skip = %d, want >= 1", cleanups)
	}

	waitFor(t, "track b playing", func() bool {
		snap, err := env.sess.NowPlaying(ctx)
		return err == nil && snap.State == StatePlaying && snap.Current != nil && snap.Current.Reference == "b"
	})

	tracks, _ := env.sess.Tracks(ctx)
	if len(tracks) != 1 || tracks[0].Reference != "c" {
		t.Errorf("queue after skip = %+v, want [c]", tracks)
	}
}

func TestSkipWithNothingToSkip(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	if _, err := env.sess.Skip(context.Background()); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("Skip on empty session = %v, want ErrNothingPlaying", err)
	}
}

func TestSetVolumeDuringPlayback(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	ctx := context.Background()

	_, _ = env.sess.Play(ctx, "a", "tester")
	env.waitState(t, StatePlaying)

	snap, err := env.sess.SetVolume(ctx, 150)
	if err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if snap.State != StatePlaying {
		t.Errorf("volume change caused state transition to %s", snap.State)
	}
	if snap.Volume != 150 {
		t.Errorf("volume = %d, want 150", snap.Volume)
	}

	now, _ := env.sess.NowPlaying(ctx)
	if now.Volume != 150 {
		t.Errorf("NowPlaying volume = %d, want 150", now.Volume)
	}

	if _, err := env.sess.SetVolume(ctx, 300); !errors.Is(err, ErrVolumeRange) {
		t.Errorf("SetVolume(300) = %v, want ErrVolumeRange", err)
	}
	now, _ = env.sess.NowPlaying(ctx)
	if now.Volume != 150 {
		t.Errorf("invalid volume must not change state, got %d", now.Volume)
	}
}

func TestStopEndsSession(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	ctx := context.Background()

	_, _ = env.sess.Play(ctx, "a", "tester")
	_, _ = env.sess.Play(ctx, "b", "tester")
	env.waitState(t, StatePlaying)

	snap, err := env.sess.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if snap.State != StateEnded {
		t.Errorf("state after stop = %s, want ended", snap.State)
	}
	if snap.QueueLen != 0 {
		t.Errorf("queue length after stop = %d, want 0", snap.QueueLen)
	}

	_, cleanups := env.opener.stats()
	if cleanups != 1 {
		t.Errorf("stream cleanups after stop = %d, want 1", cleanups)
	}

	env.endedMu.Lock()
	ended := len(env.endedIDs)
	env.endedMu.Unlock()
	if ended != 1 {
		t.Errorf("onEnd called %d times, want 1", ended)
	}

	if _, err := env.sess.NowPlaying(ctx); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("NowPlaying after stop = %v, want ErrSessionEnded", err)
	}
	if _, err := env.sess.Play(ctx, "c", "tester"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Play after stop = %v, want ErrSessionEnded", err)
	}
}

func TestTrackNaturalEndAdvancesToIdle(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: 3})
	ctx := context.Background()

	_, _ = env.sess.Play(ctx, "a", "tester")
	env.waitState(t, StateIdle)

	snap, _ := env.sess.NowPlaying(ctx)
	if snap.Current != nil {
		t.Errorf("current after natural end = %+v, want nil", snap.Current)
	}

	_, cleanups := env.opener.stats()
	if cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", cleanups)
	}
}

func TestTransportFailureEndsSession(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	env.trans.sink = &fakeSink{failAfter: 1}
	ctx := context.Background()

	_, _ = env.sess.Play(ctx, "a", "tester")

	waitFor(t, "session ended after transport failure", func() bool {
		_, err := env.sess.NowPlaying(ctx)
		return errors.Is(err, ErrSessionEnded)
	})

	env.endedMu.Lock()
	ended := len(env.endedIDs)
	env.endedMu.Unlock()
	if ended != 1 {
		t.Errorf("onEnd called %d times, want 1", ended)
	}
}

func TestMaterializedMetadataVisibleInSnapshots(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	env.resolver.bareResolve = true
	env.resolver.titles["a"] = "Full Title"
	ctx := context.Background()

	if _, err := env.sess.Play(ctx, "a", "tester"); err != nil {
		t.Fatalf("Play: %v", err)
	}

	// Snapshot reads race the background materialization; the descriptor is
	// only ever written from the command loop, so these readers must stay
	// quiet under -race and eventually observe the refreshed title.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if snap, err := env.sess.NowPlaying(ctx); err == nil && snap.Current != nil {
					_ = snap.Current.Title
				}
			}
		}()
	}

	waitFor(t, "materialized title in snapshot", func() bool {
		snap, err := env.sess.NowPlaying(ctx)
		return err == nil && snap.Current != nil && snap.Current.Title == "Full Title"
	})
	close(stop)
	wg.Wait()
}

func TestStopUnblocksStalledStream(t *testing.T) {
	opener := &stuckOpener{}
	env := newTestEnvWithOpener(t, opener)
	ctx := context.Background()

	_, _ = env.sess.Play(ctx, "a", "tester")
	env.waitState(t, StatePlaying)

	// The frame pump is stuck inside Read; Stop must still complete by
	// closing the reader from outside instead of waiting for the next frame.
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	snap, err := env.sess.Stop(stopCtx)
	if err != nil {
		t.Fatalf("Stop on stalled stream: %v", err)
	}
	if snap.State != StateEnded {
		t.Errorf("state after stop = %s, want ended", snap.State)
	}

	opener.mu.Lock()
	cleanups := opener.cleanups
	opener.mu.Unlock()
	if cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", cleanups)
	}

	if _, err := env.sess.NowPlaying(ctx); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("NowPlaying after stop = %v, want ErrSessionEnded", err)
	}
}

func TestStopIfIdleForSparesRecentAndActiveSessions(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	ctx := context.Background()

	reaped, err := env.sess.StopIfIdleFor(ctx, time.Hour)
	if err != nil || reaped {
		t.Fatalf("fresh idle session: reaped=%v err=%v, want false, nil", reaped, err)
	}

	_, _ = env.sess.Play(ctx, "a", "tester")
	env.waitState(t, StatePlaying)

	reaped, err = env.sess.StopIfIdleFor(ctx, 0)
	if err != nil || reaped {
		t.Fatalf("playing session: reaped=%v err=%v, want false, nil", reaped, err)
	}
	if snap, _ := env.sess.NowPlaying(ctx); snap.State != StatePlaying {
		t.Errorf("state after refused reap = %s, want playing", snap.State)
	}
}

func TestStopIfIdleForEndsIdleSession(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: 3})
	ctx := context.Background()

	_, _ = env.sess.Play(ctx, "a", "tester")
	env.waitState(t, StateIdle)

	time.Sleep(30 * time.Millisecond)
	reaped, err := env.sess.StopIfIdleFor(ctx, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("StopIfIdleFor: %v", err)
	}
	if !reaped {
		t.Fatal("idle session past grace was not reaped")
	}
	if _, err := env.sess.NowPlaying(ctx); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("NowPlaying after reap = %v, want ErrSessionEnded", err)
	}
}

func TestAttachFailureEndsSession(t *testing.T) {
	env := newTestEnv(t, &fakeOpener{frames: -1})
	env.trans.mu.Lock()
	env.trans.attachErr = transport.ErrSinkUnavailable
	env.trans.mu.Unlock()
	ctx := context.Background()

	_, _ = env.sess.Play(ctx, "a", "tester")

	waitFor(t, "session ended after attach failure", func() bool {
		_, err := env.sess.NowPlaying(ctx)
		return errors.Is(err, ErrSessionEnded)
	})
}
