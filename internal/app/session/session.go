package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osahiro/groovebox/internal/app/admit"
	"github.com/osahiro/groovebox/internal/app/queue"
	"github.com/osahiro/groovebox/internal/app/vote"
	"github.com/osahiro/groovebox/internal/domain/track"
)

// Errors
var (
	ErrDestroyed         = errors.New("session is destroyed")
	ErrNoTrack           = errors.New("no track playing")
	ErrNotPlaying        = errors.New("not playing")
	ErrNotPaused         = errors.New("not paused")
	ErrInvalidVolume     = errors.New("volume must be between 1 and 100")
	ErrInvalidRepeatMode = errors.New("repeat mode must be off, one or all")
)

// Config holds per-session configuration.
type Config struct {
	IdleTimeout   time.Duration // Empty-queue lifetime before teardown
	MaxPause      time.Duration // 0 disables the pause watchdog
	DefaultVolume float64       // (0,1]
	MaxQueueSize  int           // 0 = unlimited
}

type signalKind int

const (
	sigPause signalKind = iota
	sigResume
	sigSkip
	sigStop
)

// Session is the playback state machine for one guild. A single
// control loop goroutine is the sole writer of state and current;
// command handlers communicate through the thread-safe queue and a
// small set of loop-directed signals.
type Session struct {
	guildID       string
	textChannelID string

	cfg       Config
	queue     *queue.Queue
	votes     *vote.Coordinator
	admission *admit.Chain
	resolver  Resolver
	transport Transport

	mu          sync.RWMutex
	state       State
	current     *track.Queued
	handle      Handle
	repeat      RepeatMode
	volume      float64
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration

	// lastPlayed and destroyReason are loop-owned: lastPlayed is the
	// track that most recently finished, kept for RepeatOne;
	// destroyReason is set right before the loop returns.
	lastPlayed    *track.Queued
	destroyReason string

	ctrl      chan signalKind
	events    chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	onDestroy func()
}

// New creates a session and starts its control loop. onDestroy runs
// exactly once when the loop exits, after the voice transport has been
// released.
func New(guildID, textChannelID string, cfg Config, resolver Resolver, transport Transport, admission *admit.Chain, onDestroy func()) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		guildID:       guildID,
		textChannelID: textChannelID,
		cfg:           cfg,
		queue:         queue.New(cfg.MaxQueueSize),
		votes:         vote.NewCoordinator(),
		admission:     admission,
		resolver:      resolver,
		transport:     transport,
		state:         StateIdle,
		repeat:        RepeatOff,
		volume:        cfg.DefaultVolume,
		ctrl:          make(chan signalKind, 8),
		events:        make(chan Event, 16),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		onDestroy:     onDestroy,
	}

	go s.run()
	return s
}

// GuildID returns the session identity.
func (s *Session) GuildID() string { return s.guildID }

// TextChannelID returns where status messages are posted.
func (s *Session) TextChannelID() string { return s.textChannelID }

// Queue returns the session's track queue. Queue mutations (remove,
// move, shuffle, clear) act on it directly; they are visible to the
// very next pop of the control loop.
func (s *Session) Queue() *queue.Queue { return s.queue }

// Events returns the session event channel. Closed when the session
// is destroyed.
func (s *Session) Events() <-chan Event { return s.events }

// Done returns a channel closed when the control loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Connect joins or moves the voice transport to a channel.
func (s *Session) Connect(ctx context.Context, voiceChannelID string) error {
	if s.State() == StateDestroyed {
		return ErrDestroyed
	}
	return s.transport.Connect(ctx, voiceChannelID)
}

// Enqueue resolves a query and appends the result to the queue.
// Resolution runs in the caller's goroutine, off the control loop.
func (s *Session) Enqueue(ctx context.Context, query string, requester track.Requester) (track.Queued, error) {
	if s.State() == StateDestroyed {
		return track.Queued{}, ErrDestroyed
	}

	t, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		return track.Queued{}, err
	}

	qt := track.Queued{Track: t, Requester: requester, AddedAt: time.Now()}
	if err := s.admission.Check(qt, s.queue.Snapshot()); err != nil {
		return track.Queued{}, err
	}

	if err := s.queue.Push(qt); err != nil {
		return track.Queued{}, err
	}

	zlog.Debug().Msgf("session: enqueued track: guild=%s track=%s requester=%s queue_size=%d",
		s.guildID, t.Title, requester.DisplayName, s.queue.Size())
	return qt, nil
}

// Pause suspends the current playback.
func (s *Session) Pause() error {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()

	if st == StateDestroyed {
		return ErrDestroyed
	}
	if st != StatePlaying {
		return ErrNotPlaying
	}
	return s.signal(sigPause)
}

// Resume continues paused playback.
func (s *Session) Resume() error {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()

	if st == StateDestroyed {
		return ErrDestroyed
	}
	if st != StatePaused {
		return ErrNotPaused
	}
	return s.signal(sigResume)
}

// Skip aborts the current track; the loop advances as if it finished.
func (s *Session) Skip() error {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()

	switch st {
	case StateDestroyed:
		return ErrDestroyed
	case StatePlaying, StatePaused, StateResolving:
		return s.signal(sigSkip)
	default:
		return ErrNoTrack
	}
}

// VoteSkip registers a skip vote for the current track. When the
// outcome is an immediate skip the track is aborted as by Skip.
func (s *Session) VoteSkip(voterID string, eligible int, privileged, alone bool) (vote.Outcome, error) {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()

	if st == StateDestroyed {
		return vote.Outcome{}, ErrDestroyed
	}
	if st != StatePlaying && st != StatePaused {
		return vote.Outcome{}, ErrNoTrack
	}

	outcome := s.votes.Register(voterID, eligible, privileged, alone)
	if outcome.Result == vote.ResultImmediateSkip {
		if err := s.signal(sigSkip); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// Destroy stops playback and tears the session down.
func (s *Session) Destroy() error {
	if s.State() == StateDestroyed {
		return nil
	}
	return s.signal(sigStop)
}

// SetVolume sets the session volume from a user percentage (1-100).
// Applies immediately to the active transport output and persists for
// subsequent tracks.
func (s *Session) SetVolume(percent int) error {
	if percent < 1 || percent > 100 {
		return ErrInvalidVolume
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDestroyed {
		return ErrDestroyed
	}
	s.volume = float64(percent) / 100
	if s.handle != nil {
		if err := s.handle.SetVolume(s.volume); err != nil {
			zlog.Warn().Msgf("session: failed to set live volume: guild=%s err=%v", s.guildID, err)
		}
	}
	return nil
}

// Volume returns the session volume as a user percentage.
func (s *Session) Volume() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.volume * 100)
}

// SetRepeat sets the repeat mode.
func (s *Session) SetRepeat(mode RepeatMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDestroyed {
		return ErrDestroyed
	}
	s.repeat = mode
	return nil
}

// Repeat returns the current repeat mode.
func (s *Session) Repeat() RepeatMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repeat
}

// State returns the current state. May be a few milliseconds stale
// from the perspective of the control loop.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// NowPlaying returns the track loaded into the transport, if any.
func (s *Session) NowPlaying() (track.Queued, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return track.Queued{}, false
	}
	return *s.current, true
}

// Position returns the elapsed playback position of the current
// track. Undefined (false) while no track is loaded.
func (s *Session) Position() (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.state {
	case StatePlaying:
		return time.Since(s.startedAt) - s.pausedTotal, true
	case StatePaused:
		return s.pausedAt.Sub(s.startedAt) - s.pausedTotal, true
	default:
		return 0, false
	}
}

// SkipVotes returns the number of votes recorded for the current track.
func (s *Session) SkipVotes() int {
	return s.votes.Count()
}

func (s *Session) signal(k signalKind) error {
	select {
	case s.ctrl <- k:
		return nil
	case <-s.ctx.Done():
		return ErrDestroyed
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		// Slow consumer; drop rather than stall the loop.
		zlog.Warn().Msgf("session: event dropped: guild=%s type=%s", s.guildID, e.Type)
	}
}

type loopOutcome int

const (
	outcomeFinished loopOutcome = iota // Natural completion
	outcomeSkipped                     // Explicit or vote skip
	outcomeFailed                      // Recoverable resolution/transport failure
	outcomeStopped                     // Explicit leave or forced stop
	outcomeFatal                       // Unrecoverable transport failure
)

// run is the control loop: the sole writer of state and current.
func (s *Session) run() {
	defer s.finalize()

	zlog.Info().Msgf("session: loop started: guild=%s idle_timeout=%v", s.guildID, s.cfg.IdleTimeout)

	for {
		next, ok := s.pickNext()
		if !ok {
			switch s.waitForWork() {
			case waitWork:
				continue
			case waitTimeout:
				zlog.Info().Msgf("session: idle timeout: guild=%s", s.guildID)
				s.destroyReason = "idle_timeout"
				return
			case waitStop:
				s.destroyReason = "leave"
				return
			}
		}

		resolved, outcome := s.resolveNext(next)
		switch outcome {
		case outcomeStopped:
			s.destroyReason = "leave"
			return
		case outcomeSkipped:
			s.emit(Event{Type: EventTrackSkipped, Track: &next, State: StateIdle})
			s.afterTrack(next, outcomeSkipped)
			continue
		case outcomeFailed:
			s.afterTrack(next, outcomeFailed)
			continue
		}

		outcome = s.playTrack(resolved)
		s.afterTrack(resolved, outcome)

		switch outcome {
		case outcomeStopped:
			s.destroyReason = "leave"
			return
		case outcomeFatal:
			s.destroyReason = "transport_error"
			return
		}
	}
}

type waitResult int

const (
	waitWork waitResult = iota
	waitTimeout
	waitStop
)

// waitForWork blocks in Idle until the queue gains a track, the idle
// timeout fires, or a stop arrives.
func (s *Session) waitForWork() waitResult {
	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-s.queue.Wait():
			return waitWork
		case <-idle.C:
			return waitTimeout
		case k := <-s.ctrl:
			if k == sigStop {
				return waitStop
			}
			// pause/resume/skip with no current track: nothing to do
		case <-s.ctx.Done():
			return waitStop
		}
	}
}

// pickNext chooses the next track per the advance algorithm: RepeatOne
// replays the previous track, otherwise the queue front is popped.
func (s *Session) pickNext() (track.Queued, bool) {
	if s.Repeat() == RepeatOne && s.lastPlayed != nil {
		return *s.lastPlayed, true
	}
	return s.queue.PopFront()
}

type resolveResult struct {
	t   track.Track
	err error
}

// resolveNext refreshes the stream locator for qt off the loop's
// decision path. A skip or stop arriving mid-resolution discards the
// result.
func (s *Session) resolveNext(qt track.Queued) (track.Queued, loopOutcome) {
	s.setState(StateResolving)

	rctx, rcancel := context.WithCancel(s.ctx)
	defer rcancel()

	ch := make(chan resolveResult, 1)
	go func() {
		t, err := s.resolver.Regather(rctx, qt.Track)
		ch <- resolveResult{t: t, err: err}
	}()

	for {
		select {
		case res := <-ch:
			if res.err != nil {
				zlog.Warn().Msgf("session: resolution failed: guild=%s track=%s err=%v", s.guildID, qt.Track.Title, res.err)
				s.emit(Event{Type: EventTrackFailed, Track: &qt, State: StateIdle, Err: res.err})
				return qt, outcomeFailed
			}
			qt.Track = res.t
			return qt, outcomeFinished
		case k := <-s.ctrl:
			switch k {
			case sigStop:
				return qt, outcomeStopped
			case sigSkip:
				rcancel()
				return qt, outcomeSkipped
			}
			// pause/resume while resolving: nothing is playing yet
		case <-s.ctx.Done():
			return qt, outcomeStopped
		}
	}
}

// playTrack drives the transport for one track and consumes control
// signals until the transport's completion notification arrives.
func (s *Session) playTrack(qt track.Queued) loopOutcome {
	s.mu.RLock()
	vol := s.volume
	s.mu.RUnlock()

	handle, err := s.transport.Play(s.ctx, qt.Track.StreamURL, vol)
	if err != nil {
		zlog.Warn().Msgf("session: transport play failed: guild=%s track=%s err=%v", s.guildID, qt.Track.Title, err)
		s.emit(Event{Type: EventTrackFailed, Track: &qt, State: StateIdle, Err: err})
		return outcomeFailed
	}

	s.mu.Lock()
	s.state = StatePlaying
	s.current = &qt
	s.handle = handle
	s.startedAt = time.Now()
	s.pausedAt = time.Time{}
	s.pausedTotal = 0
	s.mu.Unlock()

	s.emit(Event{Type: EventTrackStarted, Track: &qt, State: StatePlaying})
	zlog.Info().Msgf("session: now playing: guild=%s track=%s duration=%s requester=%s",
		s.guildID, qt.Track.Title, track.FormatDuration(qt.Track.DurationSec), qt.Requester.DisplayName)

	var pauseWatch <-chan time.Time

	for {
		select {
		case res := <-handle.Done():
			if res.Err != nil {
				if res.Fatal {
					zlog.Error().Msgf("session: fatal transport error: guild=%s err=%v", s.guildID, res.Err)
					s.emit(Event{Type: EventTrackFailed, Track: &qt, State: StateIdle, Err: res.Err})
					return outcomeFatal
				}
				zlog.Warn().Msgf("session: playback failed: guild=%s track=%s err=%v", s.guildID, qt.Track.Title, res.Err)
				s.emit(Event{Type: EventTrackFailed, Track: &qt, State: StateIdle, Err: res.Err})
				return outcomeFailed
			}
			s.emit(Event{Type: EventTrackEnded, Track: &qt, State: StateIdle})
			return outcomeFinished

		case k := <-s.ctrl:
			switch k {
			case sigPause:
				s.mu.Lock()
				if s.state == StatePlaying {
					if err := handle.Pause(); err != nil {
						zlog.Warn().Msgf("session: pause failed: guild=%s err=%v", s.guildID, err)
					}
					s.state = StatePaused
					s.pausedAt = time.Now()
					if s.cfg.MaxPause > 0 {
						pauseWatch = time.After(s.cfg.MaxPause)
					}
					s.mu.Unlock()
					s.emit(Event{Type: EventStateChanged, Track: &qt, State: StatePaused})
				} else {
					s.mu.Unlock()
				}
			case sigResume:
				s.mu.Lock()
				if s.state == StatePaused {
					if err := handle.Resume(); err != nil {
						zlog.Warn().Msgf("session: resume failed: guild=%s err=%v", s.guildID, err)
					}
					s.state = StatePlaying
					s.pausedTotal += time.Since(s.pausedAt)
					s.pausedAt = time.Time{}
					pauseWatch = nil
					s.mu.Unlock()
					s.emit(Event{Type: EventStateChanged, Track: &qt, State: StatePlaying})
				} else {
					s.mu.Unlock()
				}
			case sigSkip:
				s.stopHandle(handle)
				s.emit(Event{Type: EventTrackSkipped, Track: &qt, State: StateIdle})
				return outcomeSkipped
			case sigStop:
				s.stopHandle(handle)
				return outcomeStopped
			}

		case <-pauseWatch:
			zlog.Info().Msgf("session: max pause exceeded, stopping track: guild=%s track=%s", s.guildID, qt.Track.Title)
			s.stopHandle(handle)
			s.emit(Event{Type: EventTrackSkipped, Track: &qt, State: StateIdle})
			return outcomeSkipped

		case <-s.ctx.Done():
			s.stopHandle(handle)
			return outcomeStopped
		}
	}
}

// stopHandle aborts playback and drains the completion notification so
// it is never observed by a later track.
func (s *Session) stopHandle(h Handle) {
	if err := h.Stop(); err != nil {
		zlog.Warn().Msgf("session: transport stop failed: guild=%s err=%v", s.guildID, err)
	}
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		zlog.Warn().Msgf("session: transport completion never arrived after stop: guild=%s", s.guildID)
	}
}

// afterTrack is the Draining step: release the handle, clear votes,
// record the track for RepeatOne and rotate it for RepeatAll.
func (s *Session) afterTrack(qt track.Queued, outcome loopOutcome) {
	s.mu.Lock()
	s.state = StateDraining
	s.handle = nil
	s.mu.Unlock()

	s.votes.Reset()

	switch outcome {
	case outcomeFinished:
		s.lastPlayed = &qt
		if s.Repeat() == RepeatAll {
			if err := s.queue.Push(qt); err != nil {
				zlog.Warn().Msgf("session: repeat-all requeue dropped: guild=%s track=%s err=%v", s.guildID, qt.Track.Title, err)
			}
		}
	case outcomeSkipped, outcomeFailed:
		// A skipped or failed track is not replayed by RepeatOne.
		s.lastPlayed = nil
	default:
		s.lastPlayed = nil
	}

	s.mu.Lock()
	s.state = StateIdle
	s.current = nil
	s.mu.Unlock()
}

func (s *Session) finalize() {
	reason := s.destroyReason
	if reason == "" {
		reason = "leave"
	}

	s.mu.Lock()
	s.state = StateDestroyed
	s.current = nil
	s.handle = nil
	s.mu.Unlock()

	if err := s.transport.Disconnect(); err != nil {
		zlog.Warn().Msgf("session: disconnect failed: guild=%s err=%v", s.guildID, err)
	}

	s.queue.Clear()
	s.cancel()

	s.emit(Event{Type: EventDestroyed, State: StateDestroyed, Reason: reason})
	close(s.events)
	close(s.done)

	zlog.Info().Msgf("session: destroyed: guild=%s reason=%s", s.guildID, reason)

	if s.onDestroy != nil {
		s.onDestroy()
	}
}
