package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"aricall/ari"
	"aricall/cdr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentCommand struct {
	cmd  ari.Command
	done func([]byte, error)
}

// fakeTransport records commands. With auto set every command succeeds as
// soon as it is sent.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentCommand
	auto bool
}

func (f *fakeTransport) Send(cmd ari.Command, done func([]byte, error)) {
	f.mu.Lock()
	f.sent = append(f.sent, sentCommand{cmd: cmd, done: done})
	auto := f.auto
	f.mu.Unlock()
	if auto {
		done(nil, nil)
	}
}

func (f *fakeTransport) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.cmd.String()
	}
	return out
}

func (f *fakeTransport) resolve(t *testing.T, i int, err error) {
	t.Helper()
	f.mu.Lock()
	require.Less(t, i, len(f.sent))
	done := f.sent[i].done
	f.mu.Unlock()
	done(nil, err)
}

type fakeScheduler struct {
	delays []time.Duration
	fns    []func()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) *time.Timer {
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, fn)
	return time.AfterFunc(time.Hour, func() {})
}

type fakeStore struct {
	records []cdr.CallRecord
}

func (s *fakeStore) Insert(_ context.Context, rec cdr.CallRecord) error {
	s.records = append(s.records, rec)
	return nil
}

type appFixture struct {
	app    *App
	router *ari.Router
	ft     *fakeTransport
	sched  *fakeScheduler
	store  *fakeStore
	clock  time.Time
}

func newAppFixture(t *testing.T, settingsINI string) *appFixture {
	t.Helper()
	settings, err := LoadSettings(loadINI(t, "[ari]\nuser = asterisk\n"+settingsINI))
	require.NoError(t, err)

	f := &appFixture{
		ft:    &fakeTransport{},
		sched: &fakeScheduler{},
		store: &fakeStore{},
		clock: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
	}
	f.router = ari.NewRouter(f.ft, nil)
	dir := NewDirectory()
	require.NoError(t, dir.Update("200", "PJSIP/200"))

	f.app, err = NewApp(f.router, f.sched, f.store, dir, settings)
	require.NoError(t, err)
	f.app.now = func() time.Time { return f.clock }
	f.app.Start()
	return f
}

func (f *appFixture) dispatch(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, f.router.Dispatch([]byte(frame)))
}

func stasisStart(id, exten string) string {
	return fmt.Sprintf(`{"type":"StasisStart","channel":{"id":%q,"name":"PJSIP/100-00000001","state":"Ring","caller":{"name":"Alice","number":"100"},"dialplan":{"exten":%q}}}`, id, exten)
}

func destroyed(id string, cause int, text string) string {
	return fmt.Sprintf(`{"type":"ChannelDestroyed","cause":%d,"cause_txt":%q,"channel":{"id":%q}}`, cause, text, id)
}

func TestAppRedirectsDirectoryExtensions(t *testing.T) {
	f := newAppFixture(t, "[app]\ncaller_id = Front Desk\n")
	f.dispatch(t, stasisStart("c1", "200"))

	assert.Equal(t, []string{
		"POST /ari/channels/c1/variable?variable=CALLERID%28name%29&value=Front%20Desk",
		"POST /ari/channels/c1/redirect?endpoint=PJSIP%2F200",
	}, f.ft.commands())
	assert.Empty(t, f.sched.fns)

	cc, ok := f.app.Call("c1")
	require.True(t, ok)
	assert.Equal(t, StateRedirected, cc.State)

	f.dispatch(t, destroyed("c1", 16, "Normal Clearing"))
	require.Len(t, f.store.records, 1)
	assert.Equal(t, "redirected", f.store.records[0].Disposition)
}

func TestAppVoicemailFlow(t *testing.T) {
	f := newAppFixture(t, "")
	f.dispatch(t, stasisStart("c1", "555"))

	require.Equal(t, []string{"POST /ari/channels/c1/ring"}, f.ft.commands())
	require.Len(t, f.sched.fns, 1)
	assert.Equal(t, 2*time.Second, f.sched.delays[0])

	f.sched.fns[0]()
	require.Len(t, f.ft.commands(), 2)
	assert.Equal(t, "POST /ari/channels/c1/answer", f.ft.commands()[1])

	f.ft.resolve(t, 1, nil)
	require.Len(t, f.ft.commands(), 3)
	assert.True(t, strings.HasPrefix(f.ft.commands()[2],
		"POST /ari/channels/c1/play?media=sound%3Ahello-world&playbackId="), f.ft.commands()[2])

	f.ft.resolve(t, 2, nil)
	cc, _ := f.app.Call("c1")
	require.NotNil(t, cc.Playback)
	assert.Equal(t, StateGreeting, cc.State)

	f.dispatch(t, `{"type":"PlaybackFinished","playback":{"id":"`+cc.Playback.ID()+`"}}`)
	require.Len(t, f.ft.commands(), 4)
	assert.Equal(t, "POST /ari/channels/c1/record?name=voicemail%2F555%2Fc1&format=wav&terminateOn=%23"+
		"&beep=true&ifExists=overwrite&maxDurationSeconds=60&maxSilenceSeconds=5", f.ft.commands()[3])
	assert.Equal(t, StateRecording, cc.State)

	f.ft.resolve(t, 3, nil)
	require.NotNil(t, cc.Recording)
	f.dispatch(t, `{"type":"RecordingFinished","recording":{"name":"voicemail/555/c1"}}`)
	require.Len(t, f.ft.commands(), 5)
	assert.Equal(t, "DELETE /ari/channels/c1", f.ft.commands()[4])

	f.dispatch(t, destroyed("c1", 16, "Normal Clearing"))
	assert.Len(t, f.ft.commands(), 5, "a destroyed channel is not hung up again")
	_, ok := f.app.Call("c1")
	assert.False(t, ok)

	require.Len(t, f.store.records, 1)
	assert.Equal(t, cdr.CallRecord{
		ChannelID:    "c1",
		Name:         "PJSIP/100-00000001",
		Extension:    "555",
		CallerNumber: "100",
		CallerName:   "Alice",
		Inbound:      true,
		Disposition:  "voicemail",
		Cause:        16,
		CauseText:    "Normal Clearing",
		Recording:    "voicemail/555/c1",
		StartedAt:    f.clock,
		EndedAt:      f.clock,
	}, f.store.records[0])
}

func TestAppFinishedEventsOvertakeResponses(t *testing.T) {
	f := newAppFixture(t, "")
	f.dispatch(t, stasisStart("c1", "555"))
	f.sched.fns[0]()
	f.ft.resolve(t, 1, nil)
	require.Len(t, f.ft.commands(), 3)

	cc, _ := f.app.Call("c1")
	require.NotNil(t, cc.Playback, "playback is tracked while the play command is in flight")
	assert.Equal(t, StateGreeting, cc.State)
	assert.Contains(t, f.ft.commands()[2], "playbackId="+cc.Playback.ID())

	f.dispatch(t, `{"type":"PlaybackFinished","playback":{"id":"`+cc.Playback.ID()+`"}}`)
	require.Len(t, f.ft.commands(), 4)
	assert.True(t, strings.HasPrefix(f.ft.commands()[3], "POST /ari/channels/c1/record?"), f.ft.commands()[3])
	assert.Equal(t, StateRecording, cc.State)
	require.NotNil(t, cc.Recording)

	f.dispatch(t, `{"type":"RecordingFinished","recording":{"name":"voicemail/555/c1"}}`)
	require.Len(t, f.ft.commands(), 5)
	assert.Equal(t, "DELETE /ari/channels/c1", f.ft.commands()[4])
	assert.Equal(t, StateCleanup, cc.State)

	f.ft.resolve(t, 2, nil)
	f.ft.resolve(t, 3, nil)
	f.ft.resolve(t, 4, nil)
	assert.Len(t, f.ft.commands(), 5, "late responses change nothing")
	assert.Equal(t, StateCleanup, cc.State)

	f.dispatch(t, destroyed("c1", 16, "Normal Clearing"))
	require.Len(t, f.store.records, 1)
	assert.Equal(t, "voicemail/555/c1", f.store.records[0].Recording)
}

func TestAppFailedPlayStopsTracking(t *testing.T) {
	f := newAppFixture(t, "")
	f.dispatch(t, stasisStart("c1", "555"))
	f.sched.fns[0]()
	f.ft.resolve(t, 1, nil)

	cc, _ := f.app.Call("c1")
	require.NotNil(t, cc.Playback)
	playbackID := cc.Playback.ID()
	f.ft.resolve(t, 2, &ari.TransportError{Method: ari.MethodPost, Path: "/ari/channels/c1/play", StatusCode: 404})
	assert.Nil(t, cc.Playback)

	f.dispatch(t, `{"type":"PlaybackFinished","playback":{"id":"`+playbackID+`"}}`)
	assert.Len(t, f.ft.commands(), 3)
}

func TestAppHangsUpAfterGreetingWithoutRecording(t *testing.T) {
	f := newAppFixture(t, "[app]\nrecord = false\n")
	f.dispatch(t, stasisStart("c1", "555"))
	f.sched.fns[0]()
	f.ft.resolve(t, 1, nil)
	f.ft.resolve(t, 2, nil)

	cc, _ := f.app.Call("c1")
	finished := `{"type":"PlaybackFinished","playback":{"id":"` + cc.Playback.ID() + `"}}`
	f.dispatch(t, finished)
	require.Len(t, f.ft.commands(), 4)
	assert.Equal(t, "DELETE /ari/channels/c1", f.ft.commands()[3])
	assert.Equal(t, "greeted", cc.Disposition)
	assert.Nil(t, cc.Playback)

	f.dispatch(t, finished)
	assert.Len(t, f.ft.commands(), 4)
}

func TestAppOperatorDigit(t *testing.T) {
	f := newAppFixture(t, "[app]\noperator_uri = sip:op@pbx\n")
	f.dispatch(t, stasisStart("c1", "555"))
	f.sched.fns[0]()
	f.ft.resolve(t, 1, nil)
	f.ft.resolve(t, 2, nil)
	cc, _ := f.app.Call("c1")
	playbackID := cc.Playback.ID()

	f.dispatch(t, `{"type":"ChannelDtmfReceived","digit":"5","channel":{"id":"c1"}}`)
	assert.Len(t, f.ft.commands(), 3)

	f.dispatch(t, `{"type":"ChannelDtmfReceived","digit":"0","channel":{"id":"c1"}}`)
	assert.Equal(t, []string{
		"DELETE /ari/playbacks/" + playbackID,
		"POST /ari/channels/c1/redirect?endpoint=PJSIP%2Fop%40pbx",
	}, f.ft.commands()[3:])
	assert.Equal(t, StateRedirected, cc.State)

	f.dispatch(t, `{"type":"ChannelDtmfReceived","digit":"0","channel":{"id":"c1"}}`)
	assert.Len(t, f.ft.commands(), 5)
}

func TestAppRedirectFailureHangsUp(t *testing.T) {
	f := newAppFixture(t, "")
	f.dispatch(t, stasisStart("c1", "200"))
	f.ft.resolve(t, 0, fmt.Errorf("404"))

	assert.Equal(t, "DELETE /ari/channels/c1", f.ft.commands()[1])
}

func TestAppCallDestroyedWhileRinging(t *testing.T) {
	f := newAppFixture(t, "")
	f.dispatch(t, stasisStart("c1", "555"))
	f.dispatch(t, destroyed("c1", 19, "No answer"))

	f.sched.fns[0]()
	assert.Equal(t, []string{"POST /ari/channels/c1/ring"}, f.ft.commands())
	require.Len(t, f.store.records, 1)
	assert.Equal(t, 19, f.store.records[0].Cause)
	assert.Empty(t, f.store.records[0].Disposition)
}

func TestAppIgnoresOriginatedChannels(t *testing.T) {
	f := newAppFixture(t, "")
	out := f.router.NewChannel()
	f.dispatch(t, stasisStart(out.ID(), "200"))

	assert.Empty(t, f.ft.commands())
	cc, ok := f.app.Call(out.ID())
	require.True(t, ok)
	assert.False(t, cc.Inbound)
}

func TestNewAppRejectsBadOperator(t *testing.T) {
	settings, err := LoadSettings(loadINI(t, "[ari]\nuser = u\n[app]\noperator_uri = nowhere\n"))
	require.NoError(t, err)
	_, err = NewApp(ari.NewRouter(&fakeTransport{}, nil), &fakeScheduler{}, nil, NewDirectory(), settings)
	assert.Error(t, err)
}

type blockingRunner struct {
	ft          *fakeTransport
	sentAtClose []string
}

func (r *blockingRunner) Run(ctx context.Context) error {
	<-ctx.Done()
	r.sentAtClose = r.ft.commands()
	return nil
}

func TestAppRunHangsUpBeforeStoppingClient(t *testing.T) {
	f := newAppFixture(t, "")
	f.dispatch(t, stasisStart("c1", "200"))
	f.dispatch(t, stasisStart("c2", "555"))
	f.dispatch(t, destroyed("c1", 16, "Normal Clearing"))
	f.ft.auto = true

	ctx, cancel := context.WithCancel(context.Background())
	r := &blockingRunner{ft: f.ft}
	errc := make(chan error, 1)
	go func() { errc <- f.app.Run(ctx, r) }()
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Contains(t, r.sentAtClose, "DELETE /ari/channels/c2")
	assert.NotContains(t, r.sentAtClose, "DELETE /ari/channels/c1")

	cc, _ := f.app.Call("c2")
	assert.Equal(t, StateCleanup, cc.State)
}
