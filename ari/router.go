package ari

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ErrBadEvent is returned by Dispatch for frames that are not JSON objects.
var ErrBadEvent = errors.New("ari: malformed event")

type routedChannel struct {
	ch *Channel
	ev ChannelEvents
}

// Router demultiplexes the event stream by channel id and applies the
// resulting transitions. It owns the ChannelEvents capability of every
// channel it creates and holds each channel until Asterisk destroys it.
type Router struct {
	t   Transport
	log *logrus.Entry

	mu       sync.Mutex
	channels map[string]routedChannel
	h        handlers
}

type handlers struct {
	stasisStart      func(ch *Channel, inbound bool)
	stasisEnd        func(ch *Channel)
	stateChange      func(ch *Channel)
	dtmf             func(ch *Channel, digit string)
	destroyed        func(ch *Channel, causeText string)
	playbackFinished func(playbackID string)
	recordingDone    func(name string, failed bool)
}

// NewRouter creates a router whose channels issue commands through t.
func NewRouter(t Transport, log *logrus.Entry) *Router {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Router{t: t, log: log, channels: make(map[string]routedChannel)}
}

// NewChannel creates and tracks a channel for local origination through
// Channel.Call or Channel.Create. The channel is forgotten again if the
// origination is rejected, since no ChannelDestroyed will follow.
func (r *Router) NewChannel() *Channel {
	ch, ev := NewChannel(r.t, "")
	ch.rejected = func() { r.forget(ch) }
	r.mu.Lock()
	r.channels[ch.ID()] = routedChannel{ch: ch, ev: ev}
	r.mu.Unlock()
	return ch
}

// forget drops ch unless the id already belongs to another channel.
func (r *Router) forget(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rc, ok := r.channels[ch.ID()]; ok && rc.ch == ch {
		delete(r.channels, ch.ID())
	}
}

// Channel returns the live channel with id.
func (r *Router) Channel(id string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.channels[id]
	return rc.ch, ok
}

// Channels returns all live channels.
func (r *Router) Channels() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, rc := range r.channels {
		out = append(out, rc.ch)
	}
	return out
}

// OnStasisStart is called when a channel enters the application. inbound is
// false for channels originated through this router.
func (r *Router) OnStasisStart(fn func(ch *Channel, inbound bool)) {
	r.mu.Lock()
	r.h.stasisStart = fn
	r.mu.Unlock()
}

func (r *Router) OnStasisEnd(fn func(ch *Channel)) {
	r.mu.Lock()
	r.h.stasisEnd = fn
	r.mu.Unlock()
}

func (r *Router) OnStateChange(fn func(ch *Channel)) {
	r.mu.Lock()
	r.h.stateChange = fn
	r.mu.Unlock()
}

func (r *Router) OnDtmf(fn func(ch *Channel, digit string)) {
	r.mu.Lock()
	r.h.dtmf = fn
	r.mu.Unlock()
}

// OnDestroyed is called after the channel is marked dead and forgotten.
func (r *Router) OnDestroyed(fn func(ch *Channel, causeText string)) {
	r.mu.Lock()
	r.h.destroyed = fn
	r.mu.Unlock()
}

func (r *Router) OnPlaybackFinished(fn func(playbackID string)) {
	r.mu.Lock()
	r.h.playbackFinished = fn
	r.mu.Unlock()
}

// OnRecordingFinished is called when a live recording ends. failed reports a
// RecordingFailed event.
func (r *Router) OnRecordingFinished(fn func(name string, failed bool)) {
	r.mu.Lock()
	r.h.recordingDone = fn
	r.mu.Unlock()
}

// Dispatch routes one event frame. Events for unknown channels are dropped.
func (r *Router) Dispatch(frame []byte) error {
	if !gjson.ValidBytes(frame) {
		return ErrBadEvent
	}
	ev := gjson.ParseBytes(frame)
	if !ev.IsObject() {
		return ErrBadEvent
	}
	typ := ev.Get("type").String()
	h := r.snapshot()
	switch typ {
	case "StasisStart":
		r.stasisStart(ev, h)
	case "StasisEnd":
		if rc, ok := r.lookup(ev); ok && h.stasisEnd != nil {
			h.stasisEnd(rc.ch)
		}
	case "ChannelStateChange":
		if rc, ok := r.lookup(ev); ok {
			rc.ev.StateChanged(ev.Get("channel.state").String())
			if h.stateChange != nil {
				h.stateChange(rc.ch)
			}
		}
	case "ChannelDtmfReceived":
		if rc, ok := r.lookup(ev); ok && h.dtmf != nil {
			h.dtmf(rc.ch, ev.Get("digit").String())
		}
	case "ChannelDestroyed":
		r.destroyed(ev, h)
	case "PlaybackFinished":
		if h.playbackFinished != nil {
			h.playbackFinished(ev.Get("playback.id").String())
		}
	case "RecordingFinished", "RecordingFailed":
		if h.recordingDone != nil {
			h.recordingDone(ev.Get("recording.name").String(), typ == "RecordingFailed")
		}
	default:
		r.log.Debugf("ignoring event %s", typ)
	}
	return nil
}

func (r *Router) stasisStart(ev gjson.Result, h handlers) {
	id := ev.Get("channel.id").String()
	if id == "" {
		return
	}
	r.mu.Lock()
	rc, known := r.channels[id]
	if !known {
		ch, cev := NewChannel(r.t, id)
		rc = routedChannel{ch: ch, ev: cev}
		r.channels[id] = rc
	}
	r.mu.Unlock()

	rc.ev.Started(
		ev.Get("channel.name").String(),
		ev.Get("channel.dialplan.exten").String(),
		ev.Get("channel.caller.number").String(),
		ev.Get("channel.caller.name").String(),
	)
	rc.ev.StateChanged(ev.Get("channel.state").String())
	r.log.WithField("channel", id).Debugf("stasis start (inbound=%t)", !known)
	if h.stasisStart != nil {
		h.stasisStart(rc.ch, !known)
	}
}

func (r *Router) destroyed(ev gjson.Result, h handlers) {
	id := ev.Get("channel.id").String()
	r.mu.Lock()
	rc, ok := r.channels[id]
	delete(r.channels, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	cause := -1
	if c := ev.Get("cause"); c.Exists() {
		cause = int(c.Int())
	}
	rc.ev.Dead(cause)
	if h.destroyed != nil {
		h.destroyed(rc.ch, ev.Get("cause_txt").String())
	}
}

func (r *Router) lookup(ev gjson.Result) (routedChannel, bool) {
	id := ev.Get("channel.id").String()
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.channels[id]
	return rc, ok
}

func (r *Router) snapshot() handlers {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.h
}
