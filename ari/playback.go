package ari

import "github.com/google/uuid"

const (
	playbacksPath  = "/ari/playbacks"
	recordingsPath = "/ari/recordings/live"
)

// Playback is a handle to media playing on a channel.
type Playback struct {
	id string
	t  Transport
}

func newPlayback(t Transport, id string) *Playback {
	if id == "" {
		id = uuid.NewString()
	}
	return &Playback{id: id, t: t}
}

func (p *Playback) ID() string { return p.id }

// Stop stops the playback and removes it from the channel.
func (p *Playback) Stop() *Continuation[Void] {
	return issueVoid(p.t, Command{Method: MethodDelete, Path: playbacksPath + "/" + p.id})
}

// Control applies one of "restart", "pause", "unpause", "reverse" or
// "forward" to the playback.
func (p *Playback) Control(operation string) *Continuation[Void] {
	return issueVoid(p.t, Command{
		Method: MethodPost,
		Path:   playbacksPath + "/" + p.id + "/control",
		Query:  Query{}.AddRaw("operation", operation),
	})
}

// Recording is a handle to a live recording, named by its recording name.
type Recording struct {
	name string
	t    Transport
}

func newRecording(t Transport, name string) *Recording {
	return &Recording{name: name, t: t}
}

func (r *Recording) Name() string { return r.name }

func (r *Recording) path(suffix string) string {
	return recordingsPath + "/" + escape(r.name) + suffix
}

// Stop ends the recording and keeps the file.
func (r *Recording) Stop() *Continuation[Void] {
	return issueVoid(r.t, Command{Method: MethodPost, Path: r.path("/stop")})
}

// Abort ends the recording and discards the file.
func (r *Recording) Abort() *Continuation[Void] {
	return issueVoid(r.t, Command{Method: MethodDelete, Path: r.path("")})
}

func (r *Recording) Pause() *Continuation[Void] {
	return issueVoid(r.t, Command{Method: MethodPost, Path: r.path("/pause")})
}

func (r *Recording) Unpause() *Continuation[Void] {
	return issueVoid(r.t, Command{Method: MethodDelete, Path: r.path("/pause")})
}

func (r *Recording) Mute() *Continuation[Void] {
	return issueVoid(r.t, Command{Method: MethodPost, Path: r.path("/mute")})
}

func (r *Recording) Unmute() *Continuation[Void] {
	return issueVoid(r.t, Command{Method: MethodDelete, Path: r.path("/mute")})
}
