// Package session implements the per-guild playback state machine. Every
// queue mutation and transport control funnels through a single command
// loop, so the queue and session state need no locking of their own and
// commands apply strictly in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"groovekeeper/internal/music/queue"
	"groovekeeper/internal/music/stream"
	"groovekeeper/internal/music/track"
	"groovekeeper/internal/music/transport"
)

// State of a playback session.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateEnded     State = "ended"
)

var (
	ErrSessionEnded   = errors.New("session has ended")
	ErrNothingPlaying = errors.New("no track is currently playing")
	ErrAlreadyPaused  = errors.New("playback is already paused")
	ErrNotPaused      = errors.New("playback is not paused")
	ErrVolumeRange    = errors.New("volume must be between 0 and 200")
)

// Resolver materializes user references into playable tracks. Materialize
// must not write to the track; its result comes back through the loop, which
// is the only writer.
type Resolver interface {
	Resolve(ctx context.Context, reference, requestedBy string, searchLimit int) ([]*track.Track, error)
	Materialize(ctx context.Context, t *track.Track) (track.Materialization, error)
}

// Deps are the collaborators a session streams through.
type Deps struct {
	Resolver  Resolver
	Opener    stream.Opener
	Transport transport.Transport
	Log       zerolog.Logger
}

// Config enumerates the per-session options.
type Config struct {
	DefaultVolume int // 0-200, default 100
	SearchLimit   int // search candidates per play request, default 1
	MaxQueueLen   int // queued tracks cap, default 500
	ResolveAhead  int // front entries pre-materialized, default 2
}

func (c Config) withDefaults() Config {
	if c.DefaultVolume <= 0 {
		c.DefaultVolume = 100
	}
	if c.SearchLimit < 1 {
		c.SearchLimit = 1
	}
	if c.MaxQueueLen < 1 {
		c.MaxQueueLen = 500
	}
	if c.ResolveAhead < 1 {
		c.ResolveAhead = 2
	}
	return c
}

// TrackInfo is the caller-safe view of a track descriptor.
type TrackInfo struct {
	ID          string
	Reference   string
	Title       string
	Duration    time.Duration
	RequestedBy string
	Source      track.SourceKind
}

// Snapshot is the state every command hands back so the command layer can
// format a response without reaching into the session.
type Snapshot struct {
	GuildID      string
	State        State
	Current      *TrackInfo
	QueueLen     int
	Volume       int
	Paused       bool
	LastActivity time.Time
}

// PlayResult reports what a play request did to the queue.
type PlayResult struct {
	Snapshot Snapshot
	Added    int
	Dropped  int // tracks rejected by the queue cap
}

type cmdKind int

const (
	cmdPlay cmdKind = iota
	cmdSkip
	cmdPause
	cmdResume
	cmdSetVolume
	cmdClear
	cmdRemove
	cmdStop
	cmdSnapshot
	cmdTracks
	cmdReapIfIdle
)

type command struct {
	kind        cmdKind
	ctx         context.Context
	reference   string
	requestedBy string
	index       int
	volume      int
	grace       time.Duration
	reply       chan reply
}

type reply struct {
	snap    Snapshot
	tracks  []TrackInfo
	added   int
	dropped int
	removed bool
	err     error
}

// Events delivered back into the command loop by background work.
type evMaterialized struct {
	t   *track.Track
	m   track.Materialization
	err error
}

type evTrackEnded struct {
	task *streamTask
	err  error
}

// Session owns one guild's queue, current track and streaming task.
type Session struct {
	guildID string
	cfg     Config
	deps    Deps
	log     zerolog.Logger
	onEnd   func(guildID string)

	cmds   chan command
	events chan any
	ended  chan struct{}

	// Shared with the streaming task.
	volume     atomic.Int32
	pausedFlag atomic.Bool

	// Owned by the command loop.
	q            *queue.Queue
	state        State
	current      *track.Track
	lastActivity time.Time
	task         *streamTask
	sink         transport.Sink
	pending      map[*track.Track]struct{}
}

// New creates a session and starts its command loop. onEnd is invoked once,
// from the loop, when the session reaches the terminal state.
func New(guildID string, deps Deps, cfg Config, onEnd func(guildID string)) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		guildID:      guildID,
		cfg:          cfg,
		deps:         deps,
		log:          deps.Log.With().Str("component", "session").Str("guild", guildID).Logger(),
		onEnd:        onEnd,
		cmds:         make(chan command),
		events:       make(chan any, 8),
		ended:        make(chan struct{}),
		q:            queue.New(cfg.MaxQueueLen),
		state:        StateIdle,
		lastActivity: time.Now(),
		pending:      make(map[*track.Track]struct{}),
	}
	s.volume.Store(int32(cfg.DefaultVolume))
	go s.run()
	return s
}

// GuildID returns the guild this session belongs to.
func (s *Session) GuildID() string { return s.guildID }

// Play resolves a reference and enqueues the resulting tracks, starting
// playback if the session is idle.
func (s *Session) Play(ctx context.Context, reference, requestedBy string) (PlayResult, error) {
	r, err := s.do(ctx, command{kind: cmdPlay, ctx: ctx, reference: reference, requestedBy: requestedBy})
	return PlayResult{Snapshot: r.snap, Added: r.added, Dropped: r.dropped}, err
}

// Skip tears down the current track's stream and advances to the next one.
func (s *Session) Skip(ctx context.Context) (Snapshot, error) {
	r, err := s.do(ctx, command{kind: cmdSkip, ctx: ctx})
	return r.snap, err
}

// Pause halts frame delivery without releasing the stream.
func (s *Session) Pause(ctx context.Context) (Snapshot, error) {
	r, err := s.do(ctx, command{kind: cmdPause, ctx: ctx})
	return r.snap, err
}

// Resume continues a paused track on the same stream.
func (s *Session) Resume(ctx context.Context) (Snapshot, error) {
	r, err := s.do(ctx, command{kind: cmdResume, ctx: ctx})
	return r.snap, err
}

// SetVolume applies a 0-200 percent volume to the live stream immediately.
func (s *Session) SetVolume(ctx context.Context, percent int) (Snapshot, error) {
	r, err := s.do(ctx, command{kind: cmdSetVolume, ctx: ctx, volume: percent})
	return r.snap, err
}

// ClearQueue drops all queued tracks; the current track keeps playing.
func (s *Session) ClearQueue(ctx context.Context) (Snapshot, error) {
	r, err := s.do(ctx, command{kind: cmdClear, ctx: ctx})
	return r.snap, err
}

// Remove deletes the queued track at index. Out-of-range is a no-op
// reporting false.
func (s *Session) Remove(ctx context.Context, index int) (bool, Snapshot, error) {
	r, err := s.do(ctx, command{kind: cmdRemove, ctx: ctx, index: index})
	return r.removed, r.snap, err
}

// Stop ends the session: the streaming task is cancelled and its resources
// released before the terminal state is entered.
func (s *Session) Stop(ctx context.Context) (Snapshot, error) {
	r, err := s.do(ctx, command{kind: cmdStop, ctx: ctx})
	return r.snap, err
}

// NowPlaying returns a snapshot without touching session activity.
func (s *Session) NowPlaying(ctx context.Context) (Snapshot, error) {
	r, err := s.do(ctx, command{kind: cmdSnapshot, ctx: ctx})
	return r.snap, err
}

// Tracks lists the queued tracks in play order.
func (s *Session) Tracks(ctx context.Context) ([]TrackInfo, error) {
	r, err := s.do(ctx, command{kind: cmdTracks, ctx: ctx})
	return r.tracks, err
}

// StopIfIdleFor ends the session only if it is idle with an empty queue and
// has seen no activity for at least grace. The check and the termination run
// as one loop step, so a command arriving first always wins.
func (s *Session) StopIfIdleFor(ctx context.Context, grace time.Duration) (bool, error) {
	r, err := s.do(ctx, command{kind: cmdReapIfIdle, ctx: ctx, grace: grace})
	return r.removed, err
}

func (s *Session) do(ctx context.Context, c command) (reply, error) {
	c.reply = make(chan reply, 1)
	select {
	case s.cmds <- c:
	case <-s.ended:
		return reply{}, ErrSessionEnded
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	select {
	case r := <-c.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (s *Session) run() {
	defer close(s.ended)
	for s.state != StateEnded {
		select {
		case c := <-s.cmds:
			s.handleCommand(c)
		case e := <-s.events:
			s.handleEvent(e)
		}
	}
}

func (s *Session) handleCommand(c command) {
	// Queries do not count as activity.
	switch c.kind {
	case cmdSnapshot:
		c.reply <- reply{snap: s.snapshot()}
		return
	case cmdTracks:
		queued := s.q.Peek()
		infos := make([]TrackInfo, 0, len(queued))
		for _, t := range queued {
			infos = append(infos, TrackInfo{
				ID:          t.ID,
				Reference:   t.Reference,
				Title:       t.Title,
				Duration:    t.Duration,
				RequestedBy: t.RequestedBy,
				Source:      t.Source,
			})
		}
		c.reply <- reply{tracks: infos, snap: s.snapshot()}
		return
	case cmdReapIfIdle:
		if s.state == StateIdle && s.q.Size() == 0 && time.Since(s.lastActivity) >= c.grace {
			s.terminate()
			c.reply <- reply{removed: true, snap: s.snapshot()}
			return
		}
		c.reply <- reply{snap: s.snapshot()}
		return
	}

	s.lastActivity = time.Now()

	switch c.kind {
	case cmdPlay:
		s.handlePlay(c)
	case cmdSkip:
		s.handleSkip(c)
	case cmdPause:
		s.handlePause(c)
	case cmdResume:
		s.handleResume(c)
	case cmdSetVolume:
		s.handleSetVolume(c)
	case cmdClear:
		s.q.Clear()
		c.reply <- reply{snap: s.snapshot()}
	case cmdRemove:
		removed := s.q.RemoveAt(c.index)
		c.reply <- reply{removed: removed, snap: s.snapshot()}
	case cmdStop:
		s.terminate()
		c.reply <- reply{snap: s.snapshot()}
	}
}

func (s *Session) handleEvent(e any) {
	switch ev := e.(type) {
	case evMaterialized:
		s.handleMaterialized(ev)
	case evTrackEnded:
		s.handleTrackEnded(ev)
	}
}

func (s *Session) handlePlay(c command) {
	tracks, err := s.deps.Resolver.Resolve(c.ctx, c.reference, c.requestedBy, s.cfg.SearchLimit)
	if err != nil {
		c.reply <- reply{snap: s.snapshot(), err: err}
		return
	}

	added := s.q.Enqueue(tracks...)
	dropped := len(tracks) - added
	if dropped > 0 {
		s.log.Warn().Int("dropped", dropped).Msg("queue cap reached, tracks dropped")
	}

	if s.state == StateIdle {
		s.advance()
	} else {
		s.prefetch()
	}
	c.reply <- reply{snap: s.snapshot(), added: added, dropped: dropped}
}

func (s *Session) handleSkip(c command) {
	if s.current == nil && s.q.Size() == 0 {
		c.reply <- reply{snap: s.snapshot(), err: ErrNothingPlaying}
		return
	}
	s.stopTask()
	s.advance()
	c.reply <- reply{snap: s.snapshot()}
}

func (s *Session) handlePause(c command) {
	switch s.state {
	case StatePlaying:
		s.pausedFlag.Store(true)
		s.state = StatePaused
		c.reply <- reply{snap: s.snapshot()}
	case StatePaused:
		c.reply <- reply{snap: s.snapshot(), err: ErrAlreadyPaused}
	default:
		c.reply <- reply{snap: s.snapshot(), err: ErrNothingPlaying}
	}
}

func (s *Session) handleResume(c command) {
	if s.state != StatePaused {
		c.reply <- reply{snap: s.snapshot(), err: ErrNotPaused}
		return
	}
	s.pausedFlag.Store(false)
	s.state = StatePlaying
	c.reply <- reply{snap: s.snapshot()}
}

func (s *Session) handleSetVolume(c command) {
	if c.volume < 0 || c.volume > 200 {
		c.reply <- reply{snap: s.snapshot(), err: ErrVolumeRange}
		return
	}
	s.volume.Store(int32(c.volume))
	c.reply <- reply{snap: s.snapshot()}
}

// advance dequeues until it finds a playable or materializable track. The
// loop stays responsive while materialization runs in the background.
func (s *Session) advance() {
	for {
		t := s.q.DequeueFront()
		if t == nil {
			s.state = StateIdle
			s.current = nil
			return
		}
		s.prefetch()

		if t.Unplayable() {
			s.log.Warn().Str("track", t.Reference).Err(t.Failure()).Msg("skipping unplayable track")
			continue
		}

		s.current = t
		s.state = StateResolving

		if t.Playable() {
			s.startStream(t)
			return
		}

		if _, inflight := s.pending[t]; !inflight {
			s.pending[t] = struct{}{}
			s.materializeAsync(t)
		}
		return
	}
}

// prefetch kicks off materialization for the next few queued tracks so the
// upcoming dequeue is not blocked on network latency.
func (s *Session) prefetch() {
	for _, t := range s.q.Front(s.cfg.ResolveAhead) {
		if t.Locator() != "" || t.Unplayable() {
			continue
		}
		if _, inflight := s.pending[t]; inflight {
			continue
		}
		s.pending[t] = struct{}{}
		s.materializeAsync(t)
	}
}

func (s *Session) materializeAsync(t *track.Track) {
	go func() {
		m, err := s.deps.Resolver.Materialize(context.Background(), t)
		select {
		case s.events <- evMaterialized{t: t, m: m, err: err}:
		case <-s.ended:
		}
	}()
}

func (s *Session) handleMaterialized(ev evMaterialized) {
	delete(s.pending, ev.t)

	// Record the outcome on the descriptor regardless of whether the
	// track is still relevant. All descriptor writes happen here, on the
	// loop; the materialize goroutine only reads.
	if ev.err != nil {
		ev.t.MarkUnplayable(ev.err)
	} else {
		ev.t.SetLocator(ev.m.Locator)
		if ev.t.Title == "" {
			ev.t.Title = ev.m.Title
		}
		if ev.t.Duration == 0 {
			ev.t.Duration = ev.m.Duration
		}
	}

	if ev.t != s.current || s.state != StateResolving {
		return // prefetch result or superseded by skip/stop
	}

	s.lastActivity = time.Now()

	if ev.err != nil {
		s.log.Warn().Str("track", ev.t.Reference).Err(ev.err).Msg("resolution failed, advancing")
		s.advance()
		return
	}
	s.startStream(ev.t)
}

func (s *Session) startStream(t *track.Track) {
	if s.sink == nil {
		sink, err := s.deps.Transport.Attach(s.guildID)
		if err != nil {
			s.log.Error().Err(err).Msg("transport attach failed, ending session")
			s.terminate()
			return
		}
		s.sink = sink
	}

	rc, cleanup, err := s.deps.Opener.Open(t.Locator())
	if err != nil {
		t.MarkUnplayable(fmt.Errorf("open stream: %w", err))
		s.log.Warn().Str("track", t.Reference).Err(err).Msg("stream open failed, advancing")
		s.advance()
		return
	}

	s.pausedFlag.Store(false)
	s.task = newStreamTask(rc, cleanup, s.sink, &s.volume, &s.pausedFlag)
	s.state = StatePlaying
	s.log.Info().Str("track", t.Reference).Str("title", t.Title).Msg("streaming started")
	go s.task.run(s)
}

func (s *Session) handleTrackEnded(ev evTrackEnded) {
	if ev.task != s.task {
		return // already torn down by skip or stop
	}
	s.task = nil
	s.lastActivity = time.Now()

	if ev.err != nil {
		if errors.Is(ev.err, transport.ErrSinkUnavailable) {
			s.log.Error().Err(ev.err).Msg("transport failed, ending session")
			s.terminate()
			return
		}
		s.log.Warn().Err(ev.err).Msg("stream ended with error")
	}
	s.advance()
}

// stopTask cancels the active streaming task and blocks until its resources
// are confirmed released. A new stream never starts before this returns.
func (s *Session) stopTask() {
	if s.task == nil {
		return
	}
	s.task.cancel()
	<-s.task.done
	s.task = nil
}

// terminate moves the session to the terminal state: stream torn down,
// sink detached, queue cleared. The command loop exits right after.
func (s *Session) terminate() {
	s.stopTask()
	if s.sink != nil {
		if err := s.deps.Transport.Detach(s.sink); err != nil {
			s.log.Warn().Err(err).Msg("sink detach failed")
		}
		s.sink = nil
	}
	s.q.Clear()
	s.current = nil
	s.state = StateEnded
	s.log.Info().Msg("session ended")
	if s.onEnd != nil {
		s.onEnd(s.guildID)
	}
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		GuildID:      s.guildID,
		State:        s.state,
		QueueLen:     s.q.Size(),
		Volume:       int(s.volume.Load()),
		Paused:       s.state == StatePaused,
		LastActivity: s.lastActivity,
	}
	if s.current != nil {
		snap.Current = &TrackInfo{
			ID:          s.current.ID,
			Reference:   s.current.Reference,
			Title:       s.current.Title,
			Duration:    s.current.Duration,
			RequestedBy: s.current.RequestedBy,
			Source:      s.current.Source,
		}
	}
	return snap
}
