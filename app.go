package main

import (
	"context"
	"sync"
	"time"

	"aricall/ari"
	"aricall/cdr"

	"golang.org/x/sync/errgroup"
)

const (
	operatorDigit   = "0"
	shutdownTimeout = 5 * time.Second
	storeTimeout    = 5 * time.Second
)

// scheduler runs fn on the event loop after d.
type scheduler interface {
	AfterFunc(d time.Duration, fn func()) *time.Timer
}

type recordStore interface {
	Insert(ctx context.Context, rec cdr.CallRecord) error
}

type runner interface {
	Run(ctx context.Context) error
}

// App answers inbound calls: directory extensions are redirected, everything
// else hears the greeting and may leave a voicemail.
//
// Router handlers and continuation callbacks run on the client's event loop.
// mu guards the call maps against Shutdown, which runs elsewhere.
type App struct {
	router   *ari.Router
	sched    scheduler
	store    recordStore
	dir      *Directory
	settings *Settings
	operator string
	now      func() time.Time

	mu         sync.Mutex
	calls      map[string]*CallContext
	playbacks  map[string]string
	recordings map[string]string
}

// NewApp creates the application. store may be nil to disable call records.
func NewApp(router *ari.Router, sched scheduler, store recordStore, dir *Directory, settings *Settings) (*App, error) {
	a := &App{
		router:     router,
		sched:      sched,
		store:      store,
		dir:        dir,
		settings:   settings,
		now:        time.Now,
		calls:      make(map[string]*CallContext),
		playbacks:  make(map[string]string),
		recordings: make(map[string]string),
	}
	if uri := settings.OperatorURI(); uri != "" {
		endpoint, err := toEndpoint(uri)
		if err != nil {
			return nil, err
		}
		a.operator = endpoint
	}
	return a, nil
}

// Start registers the event handlers.
func (a *App) Start() {
	a.router.OnStasisStart(a.handleStasisStart)
	a.router.OnStasisEnd(a.handleStasisEnd)
	a.router.OnDtmf(a.handleDtmf)
	a.router.OnDestroyed(a.handleDestroyed)
	a.router.OnPlaybackFinished(a.handlePlaybackFinished)
	a.router.OnRecordingFinished(a.handleRecordingFinished)
}

// Run runs client until ctx is canceled, then hangs up the remaining calls
// before stopping the client.
func (a *App) Run(ctx context.Context, client runner) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-gctx.Done():
			return nil
		}
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		a.Shutdown(sctx)
		cancel()
		return nil
	})
	return g.Wait()
}

// Shutdown hangs up every live channel and waits for the commands to
// complete or ctx to end. It must not run on the event loop.
func (a *App) Shutdown(ctx context.Context) {
	var pending []*ari.Continuation[ari.Void]
	for _, ch := range a.router.Channels() {
		if ch.IsDead() {
			continue
		}
		a.setState(ch.ID(), StateCleanup)
		pending = append(pending, ch.Hangup())
	}
	if len(pending) > 0 {
		coreLog.Infof("hanging up %d active calls", len(pending))
	}
	for _, c := range pending {
		if _, err := c.Wait(ctx); err != nil {
			coreLog.Warnf("hangup during shutdown failed: %v", err)
		}
	}
}

// Call returns the context of a tracked call.
func (a *App) Call(channelID string) (*CallContext, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cc, ok := a.calls[channelID]
	return cc, ok
}

func (a *App) handleStasisStart(ch *ari.Channel, inbound bool) {
	log := coreLog.WithField("channel", ch.ID())
	cc := &CallContext{Channel: ch, Inbound: inbound, StartedAt: a.now()}
	a.mu.Lock()
	a.calls[ch.ID()] = cc
	a.mu.Unlock()
	if !inbound {
		log.Infof("originated channel %s entered application", ch.Name())
		return
	}
	log.Infof("incoming call from %s <%s> to %s", ch.CallerName(), ch.CallerNumber(), ch.Extension())

	if endpoint, ok := a.dir.Resolve(ch.Extension()); ok {
		a.redirect(cc, endpoint)
		return
	}

	ch.Ring().OnError(a.logFailure(ch, "ring"))
	timer := a.sched.AfterFunc(a.settings.RingTime(), func() { a.answer(ch.ID()) })
	a.mu.Lock()
	cc.ringTimer = timer
	a.mu.Unlock()
}

func (a *App) handleStasisEnd(ch *ari.Channel) {
	coreLog.WithField("channel", ch.ID()).Debug("channel left application")
}

func (a *App) answer(channelID string) {
	a.mu.Lock()
	cc, ok := a.calls[channelID]
	if !ok || cc.State != StateRinging {
		a.mu.Unlock()
		return
	}
	cc.State = StateAnswered
	cc.ringTimer = nil
	a.mu.Unlock()

	ch := cc.Channel
	ch.Answer().
		OnSuccess(func(ari.Void) { a.greet(cc) }).
		OnError(a.logFailure(ch, "answer"))
}

func (a *App) greet(cc *CallContext) {
	ch := cc.Channel
	if a.state(cc) != StateAnswered {
		return
	}
	// Track the playback before the loop can deliver anything else, since
	// PlaybackFinished may arrive ahead of the play response.
	play := ch.Play(a.settings.Greeting(), a.settings.Language(), ari.Omit, ari.Omit)
	pb := play.Pending()
	a.mu.Lock()
	if cc.State == StateAnswered {
		cc.State = StateGreeting
		cc.Playback = pb
		a.playbacks[pb.ID()] = ch.ID()
	}
	a.mu.Unlock()

	play.OnError(func(err error) {
		a.logFailure(ch, "play greeting")(err)
		a.mu.Lock()
		delete(a.playbacks, pb.ID())
		if cc.Playback == pb {
			cc.Playback = nil
		}
		a.mu.Unlock()
	})
}

func (a *App) handlePlaybackFinished(playbackID string) {
	a.mu.Lock()
	channelID, ok := a.playbacks[playbackID]
	delete(a.playbacks, playbackID)
	cc := a.calls[channelID]
	if !ok || cc == nil || cc.State != StateGreeting {
		a.mu.Unlock()
		return
	}
	cc.Playback = nil
	if !a.settings.Record() {
		cc.State = StateCleanup
		cc.Disposition = "greeted"
		a.mu.Unlock()
		_ = cc.Channel.Close()
		return
	}
	ch := cc.Channel
	name := voicemailName(ch)
	cc.State = StateRecording
	cc.Disposition = "voicemail"
	a.recordings[name] = ch.ID()
	a.mu.Unlock()

	record := ch.Record(name, a.settings.RecordFormat(),
		a.settings.MaxRecordSeconds(), a.settings.MaxSilenceSeconds(),
		ari.IfExistsOverwrite, true, ari.TerminatePound)
	rec := record.Pending()
	a.mu.Lock()
	if cc.State == StateRecording {
		cc.Recording = rec
	}
	a.mu.Unlock()

	record.OnError(func(err error) {
		a.logFailure(ch, "record")(err)
		a.mu.Lock()
		delete(a.recordings, name)
		if cc.Recording == rec {
			cc.Recording = nil
		}
		a.mu.Unlock()
	})
}

func (a *App) handleRecordingFinished(name string, failed bool) {
	a.mu.Lock()
	channelID, ok := a.recordings[name]
	delete(a.recordings, name)
	cc := a.calls[channelID]
	if !ok || cc == nil || cc.State != StateRecording {
		a.mu.Unlock()
		return
	}
	cc.State = StateCleanup
	if failed {
		cc.Disposition = "voicemail failed"
	}
	a.mu.Unlock()

	coreLog.WithField("channel", channelID).Infof("voicemail %s finished", name)
	_ = cc.Channel.Close()
}

func (a *App) handleDtmf(ch *ari.Channel, digit string) {
	if digit != operatorDigit || a.operator == "" {
		return
	}
	a.mu.Lock()
	cc, ok := a.calls[ch.ID()]
	a.mu.Unlock()
	if !ok {
		return
	}
	coreLog.WithField("channel", ch.ID()).Info("caller asked for the operator")
	a.redirect(cc, a.operator)
}

func (a *App) redirect(cc *CallContext, endpoint string) {
	a.mu.Lock()
	if cc.State == StateRedirected || cc.State == StateCleanup {
		a.mu.Unlock()
		return
	}
	cc.stopTimer()
	cc.State = StateRedirected
	cc.Disposition = "redirected"
	pb, rec := cc.Playback, cc.Recording
	cc.Playback, cc.Recording = nil, nil
	a.mu.Unlock()

	ch := cc.Channel
	if pb != nil {
		pb.Stop().OnError(a.logFailure(ch, "stop playback"))
	}
	if rec != nil {
		rec.Stop().OnError(a.logFailure(ch, "stop recording"))
	}
	if callerID := a.settings.CallerID(); callerID != "" {
		ch.SetVar("CALLERID(name)", callerID).OnError(a.logFailure(ch, "set caller id"))
	}
	coreLog.WithField("channel", ch.ID()).Infof("redirecting to %s", endpoint)
	ch.Redirect(endpoint).OnError(func(err error) {
		coreLog.WithField("channel", ch.ID()).Warnf("redirect to %s failed: %v", endpoint, err)
		_ = ch.Close()
	})
}

func (a *App) handleDestroyed(ch *ari.Channel, causeText string) {
	a.mu.Lock()
	cc, ok := a.calls[ch.ID()]
	delete(a.calls, ch.ID())
	for id, owner := range a.playbacks {
		if owner == ch.ID() {
			delete(a.playbacks, id)
		}
	}
	for name, owner := range a.recordings {
		if owner == ch.ID() {
			delete(a.recordings, name)
		}
	}
	if ok {
		cc.stopTimer()
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	log := coreLog.WithField("channel", ch.ID())
	log.Infof("call ended: cause %d (%s)", ch.Cause(), causeText)
	_ = ch.Close()
	if a.store == nil {
		return
	}

	rec := cdr.CallRecord{
		ChannelID:    ch.ID(),
		Name:         ch.Name(),
		Extension:    ch.Extension(),
		CallerNumber: ch.CallerNumber(),
		CallerName:   ch.CallerName(),
		Inbound:      cc.Inbound,
		Disposition:  cc.Disposition,
		Cause:        ch.Cause(),
		CauseText:    causeText,
		StartedAt:    cc.StartedAt,
		EndedAt:      a.now(),
	}
	if cc.Recording != nil {
		rec.Recording = cc.Recording.Name()
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := a.store.Insert(ctx, rec); err != nil {
		log.Warnf("storing call record failed: %v", err)
	}
}

func (a *App) state(cc *CallContext) CallState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cc.State
}

func (a *App) setState(channelID string, state CallState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cc, ok := a.calls[channelID]; ok {
		cc.stopTimer()
		cc.State = state
	}
}

func (a *App) logFailure(ch *ari.Channel, what string) func(error) {
	return func(err error) {
		coreLog.WithField("channel", ch.ID()).Warnf("%s failed: %v", what, err)
	}
}

func voicemailName(ch *ari.Channel) string {
	ext := ch.Extension()
	if ext == "" {
		ext = "unknown"
	}
	return "voicemail/" + ext + "/" + ch.ID()
}
