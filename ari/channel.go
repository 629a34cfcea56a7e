package ari

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const channelsPath = "/ari/channels"

// ChannelEvents applies event-driven transitions to a Channel. It is handed
// only to the creator of the channel, normally a Router.
type ChannelEvents interface {
	StateChanged(label string)
	Started(name, extension, callerNumber, callerName string)
	Dead(cause int)
}

// Channel is the local proxy of one Asterisk call leg.
//
// Operations never block; each returns a Continuation that the transport
// resolves. State changes only through ChannelEvents.
type Channel struct {
	id string
	t  Transport
	// rejected runs when Asterisk refuses to originate the channel.
	rejected func()

	mu           sync.RWMutex
	state        State
	dead         bool
	cause        int
	closed       bool
	name         string
	extension    string
	callerNumber string
	callerName   string
}

// NewChannel creates a channel proxy for id and returns the capability to
// mutate it. An empty id is replaced by a fresh UUID.
func NewChannel(t Transport, id string) (*Channel, ChannelEvents) {
	if id == "" {
		id = uuid.NewString()
	}
	ch := &Channel{id: id, t: t, state: StateUnknown, cause: -1}
	return ch, channelEvents{ch}
}

func (c *Channel) ID() string { return c.id }

// State returns the last state reported by Asterisk.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsDead reports whether Asterisk destroyed the channel.
func (c *Channel) IsDead() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dead
}

// Cause returns the Q.850 hangup cause, or -1 while the channel is alive.
func (c *Channel) Cause() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cause
}

func (c *Channel) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Channel) Extension() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.extension
}

func (c *Channel) CallerNumber() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callerNumber
}

func (c *Channel) CallerName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callerName
}

// Close hangs up the channel unless it is already destroyed. Only the first
// call does anything; it is meant to be deferred by the owner.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed || c.dead {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.Hangup()
	return nil
}

func (c *Channel) path(suffix string) string {
	return channelsPath + "/" + c.id + suffix
}

func (c *Channel) simple(m Method, suffix string) *Continuation[Void] {
	return issueVoid(c.t, Command{Method: m, Path: c.path(suffix)})
}

func (c *Channel) Ring() *Continuation[Void]     { return c.simple(MethodPost, "/ring") }
func (c *Channel) RingStop() *Continuation[Void] { return c.simple(MethodDelete, "/ring") }

// Mute mutes audio in dir. DirectionNone, the zero value, mutes both.
func (c *Channel) Mute(dir Direction) *Continuation[Void] {
	return issueVoid(c.t, Command{
		Method: MethodPost,
		Path:   c.path("/mute"),
		Query:  Query{}.AddRaw("direction", muteDirection(dir)),
	})
}

// Unmute reverses Mute. DirectionNone unmutes both.
func (c *Channel) Unmute(dir Direction) *Continuation[Void] {
	return issueVoid(c.t, Command{
		Method: MethodDelete,
		Path:   c.path("/mute"),
		Query:  Query{}.AddRaw("direction", muteDirection(dir)),
	})
}

// muteDirection maps dir to a value the mute resource accepts; it has no
// "none".
func muteDirection(dir Direction) string {
	if dir == DirectionNone {
		return DirectionBoth.String()
	}
	return dir.String()
}

func (c *Channel) Hold() *Continuation[Void]        { return c.simple(MethodPost, "/hold") }
func (c *Channel) Unhold() *Continuation[Void]      { return c.simple(MethodDelete, "/hold") }
func (c *Channel) Silence() *Continuation[Void]     { return c.simple(MethodPost, "/silence") }
func (c *Channel) StopSilence() *Continuation[Void] { return c.simple(MethodDelete, "/silence") }

// StartMoh starts music on hold, optionally from mohClass.
func (c *Channel) StartMoh(mohClass string) *Continuation[Void] {
	return issueVoid(c.t, Command{
		Method: MethodPost,
		Path:   c.path("/moh"),
		Query:  Query{}.AddString("mohClass", mohClass),
	})
}

func (c *Channel) StopMoh() *Continuation[Void] { return c.simple(MethodDelete, "/moh") }
func (c *Channel) Answer() *Continuation[Void]  { return c.simple(MethodPost, "/answer") }
func (c *Channel) Hangup() *Continuation[Void]  { return c.simple(MethodDelete, "") }

// Call originates this channel towards endpoint (e.g. "pjsip/100") and dials
// it at once. The channel enters application when answered. variables are
// set on the new channel, e.g. {"CALLERID(name)": "Alice"}.
func (c *Channel) Call(endpoint, application, callerID string, variables map[string]string) *Continuation[Void] {
	var body []byte
	if len(variables) > 0 {
		raw, err := json.Marshal(variables)
		if err != nil {
			return failed[Void](err)
		}
		body, err = sjson.SetRawBytes(nil, "variables", raw)
		if err != nil {
			return failed[Void](err)
		}
	}
	return c.originate(Command{
		Method: MethodPost,
		Path:   channelsPath,
		Query: Query{}.
			Add("endpoint", endpoint).
			Add("app", application).
			Add("channelId", c.id).
			Add("callerId", callerID).
			AddRaw("timeout", "-1").
			AddRaw("appArgs", "internal"),
		Body: body,
	})
}

// Create originates this channel without dialing; see Dial.
func (c *Channel) Create(endpoint, application string) *Continuation[Void] {
	return c.originate(Command{
		Method: MethodPost,
		Path:   channelsPath + "/create",
		Query: Query{}.
			Add("endpoint", endpoint).
			Add("app", application).
			Add("channelId", c.id).
			AddRaw("appArgs", "internal"),
	})
}

// originate issues cmd and runs the rejected hook if it fails, whatever
// callbacks the caller registers.
func (c *Channel) originate(cmd Command) *Continuation[Void] {
	k := newContinuation[Void]()
	c.t.Send(cmd, func(_ []byte, err error) {
		if err != nil && c.rejected != nil {
			c.rejected()
		}
		k.resolve(Void{}, err)
	})
	return k
}

// Dial dials a channel previously set up with Create.
func (c *Channel) Dial() *Continuation[Void] { return c.simple(MethodPost, "/dial") }

func (c *Channel) Redirect(endpoint string) *Continuation[Void] {
	return issueVoid(c.t, Command{
		Method: MethodPost,
		Path:   c.path("/redirect"),
		Query:  Query{}.Add("endpoint", endpoint),
	})
}

// SendDtmf sends dtmf. Timings in milliseconds; pass Omit to leave one out.
func (c *Channel) SendDtmf(dtmf string, between, duration, before, after int) *Continuation[Void] {
	return issueVoid(c.t, Command{
		Method: MethodPost,
		Path:   c.path("/dtmf"),
		Query: Query{}.
			Add("dtmf", dtmf).
			AddInt("between", between).
			AddInt("duration", duration).
			AddInt("before", before).
			AddInt("after", after),
	})
}

// Play starts media on the channel. The playback id is chosen here, so the
// handle is available from Pending before the command resolves and
// PlaybackFinished can be matched even when it overtakes the response.
func (c *Channel) Play(media, lang string, offsetms, skipms int) *Continuation[*Playback] {
	pb := newPlayback(c.t, "")
	return issueValue(c.t, Command{
		Method: MethodPost,
		Path:   c.path("/play"),
		Query: Query{}.
			Add("media", media).
			AddRaw("playbackId", pb.ID()).
			AddString("lang", lang).
			AddInt("offsetms", offsetms).
			AddInt("skipms", skipms),
	}, pb)
}

// Record records the channel audio into name.format. Durations in seconds;
// pass Omit for no limit. The handle is available from Pending at once.
func (c *Channel) Record(name, format string, maxDurationSeconds, maxSilenceSeconds int,
	ifExists IfExists, beep bool, terminateOn TerminationDtmf) *Continuation[*Recording] {
	beepValue := "false"
	if beep {
		beepValue = "true"
	}
	return issueValue(c.t, Command{
		Method: MethodPost,
		Path:   c.path("/record"),
		Query: Query{}.
			Add("name", name).
			AddRaw("format", format).
			Add("terminateOn", terminateOn.String()).
			AddRaw("beep", beepValue).
			AddString("ifExists", string(ifExists)).
			AddInt("maxDurationSeconds", maxDurationSeconds).
			AddInt("maxSilenceSeconds", maxSilenceSeconds),
	}, newRecording(c.t, name))
}

// SetVar sets a channel variable; an empty value unsets it.
func (c *Channel) SetVar(variable, value string) *Continuation[Void] {
	q := Query{}.Add("variable", variable)
	if value != "" {
		q = q.Add("value", value)
	}
	return issueVoid(c.t, Command{Method: MethodPost, Path: c.path("/variable"), Query: q})
}

// GetVar reads a channel variable.
func (c *Channel) GetVar(variable string) *Continuation[string] {
	body, err := sjson.SetBytes(nil, "variable", variable)
	if err != nil {
		return failed[string](err)
	}
	return issue(c.t, Command{Method: MethodGet, Path: c.path("/variable"), Body: body},
		func(resp []byte) (string, error) {
			return gjson.GetBytes(resp, "value").String(), nil
		})
}

// Snoop starts spying and/or whispering on the channel from app.
func (c *Channel) Snoop(app string, spy, whisper Direction, appArgs, snoopID string) *Continuation[Void] {
	return issueVoid(c.t, Command{
		Method: MethodPost,
		Path:   c.path("/snoop"),
		Query: Query{}.
			AddRaw("app", app).
			AddRaw("spy", spy.String()).
			AddRaw("whisper", whisper.String()).
			AddString("appArgs", appArgs).
			AddString("snoopId", snoopID),
	})
}

// failed returns a continuation already resolved with err.
func failed[T any](err error) *Continuation[T] {
	c := newContinuation[T]()
	var zero T
	c.resolve(zero, err)
	return c
}

type channelEvents struct{ ch *Channel }

func (e channelEvents) StateChanged(label string) {
	s := ParseState(label)
	e.ch.mu.Lock()
	e.ch.state = s
	e.ch.mu.Unlock()
}

func (e channelEvents) Started(name, extension, callerNumber, callerName string) {
	e.ch.mu.Lock()
	defer e.ch.mu.Unlock()
	e.ch.name = name
	e.ch.extension = extension
	e.ch.callerNumber = callerNumber
	e.ch.callerName = callerName
}

func (e channelEvents) Dead(cause int) {
	e.ch.mu.Lock()
	defer e.ch.mu.Unlock()
	e.ch.dead = true
	e.ch.cause = cause
}
