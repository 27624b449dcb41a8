package ipc

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEnvelope(t *testing.T) {
	data, err := EncodeCommand(SetChargeLimit{Value: 80})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"set_charge_limit","payload":{"value":80}}`, string(data))

	cmd, err := DecodeCommand([]byte(`{"kind":"apply_config","payload":{"document":"<FanControlConfig/>"}}`))
	require.NoError(t, err)
	assert.Equal(t, ApplyConfig{Document: "<FanControlConfig/>"}, cmd)

	cmd, err = DecodeCommand([]byte(`{"kind":"get_fan_rpm","payload":{"fan":1}}`))
	require.NoError(t, err)
	assert.Equal(t, GetFanRPM{Fan: 1}, cmd)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `kind=get_temperature`},
		{"unknown kind", `{"kind":"reboot"}`},
		{"wrong payload type", `{"kind":"set_full_blast","payload":{"enabled":"yes"}}`},
		{"charge limit overflow", `{"kind":"set_charge_limit","payload":{"value":300}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.data))
			assert.Error(t, err)
			assert.Nil(t, cmd)
		})
	}

	_, err := DecodeCommand([]byte(`{"kind":"reboot"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = DecodeResponse([]byte(`{"kind":"humidity","payload":{"value":3}}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestResponseEnvelope(t *testing.T) {
	data, err := EncodeResponse(FanRPM{Fan: 0, Value: RPMUnavailable})
	require.NoError(t, err)

	resp, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, FanRPM{Fan: 0, Value: -1}, resp)

	resp, err = DecodeResponse([]byte(`{"kind":"failure","payload":{"command":"set_full_blast","error":"write 0x98 failed"}}`))
	require.NoError(t, err)
	assert.Equal(t, Failure{Command: KindSetFullBlast, Error: "write 0x98 failed"}, resp)
}

func TestFanRPM_Rendering(t *testing.T) {
	assert.Equal(t, "unavailable", FanRPM{Value: -1}.String())
	assert.False(t, FanRPM{Value: -1}.Available())
	assert.Equal(t, "0 RPM", FanRPM{Value: 0}.String())
	assert.True(t, FanRPM{Value: 0}.Available())
	assert.Equal(t, "2450 RPM", FanRPM{Value: 2450}.String())
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	_, ok := m.Snapshot(0)
	assert.False(t, ok)

	m.Handle(Temperature{Fan: 0, Value: 61})
	m.Handle(FanSpeed{Fan: 0, Value: 40})
	m.Handle(FanRPM{Fan: 0, Value: RPMUnavailable})
	m.Handle(Temperature{Fan: 1, Value: 55})
	m.Handle(Ack{Command: KindSetFullBlast})
	m.Handle(Failure{Command: KindSetChargeLimit, Error: "out of range"})

	snap, ok := m.Snapshot(0)
	require.True(t, ok)
	assert.Equal(t, 61, snap.Temperature)
	assert.Equal(t, 40, snap.FanSpeed)
	assert.False(t, snap.HaveRPM)
	assert.Equal(t, "fan 0: 61°C, 40%, unavailable", snap.String())

	m.Handle(FanRPM{Fan: 0, Value: 0})
	snap, _ = m.Snapshot(0)
	assert.Equal(t, "fan 0: 61°C, 40%, 0 RPM", snap.String())

	other, ok := m.Snapshot(1)
	require.True(t, ok)
	assert.Equal(t, 55, other.Temperature)

	f, ok := m.LastFailure()
	require.True(t, ok)
	assert.Equal(t, KindSetChargeLimit, f.Command)
	assert.Equal(t, 1, m.Acks())
}

type fakeSender struct {
	mu    sync.Mutex
	state State
	sent  []Command
	limit int
}

func (f *fakeSender) Send(cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit > 0 && len(f.sent) >= f.limit {
		return ErrQueueFull
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSender) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSender) commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.sent...)
}

func TestPoller_Poll(t *testing.T) {
	s := &fakeSender{state: Disconnected}
	p := NewPoller(s, 1, time.Hour)

	assert.False(t, p.Poll(), "suspended while disconnected")
	assert.Empty(t, s.commands())

	s.state = Connected
	assert.True(t, p.Poll())
	assert.Equal(t, []Command{GetTemperature{Fan: 1}, GetFanSpeed{Fan: 1}, GetFanRPM{Fan: 1}}, s.commands())

	p.SetFan(0)
	s.limit = 4
	assert.False(t, p.Poll())
}

func TestPoller_StartStop(t *testing.T) {
	s := &fakeSender{state: Connected}
	p := NewPoller(s, 0, 10*time.Millisecond)
	p.Start()

	require.Eventually(t, func() bool { return len(s.commands()) >= 6 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()

	n := len(s.commands())
	assert.Equal(t, 0, n%3, "each tick sends a full round")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(s.commands()))
}

type recordingDispatcher struct {
	mu   sync.Mutex
	cmds []Command
}

func (d *recordingDispatcher) Submit(_ context.Context, cmd Command) Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cmds = append(d.cmds, cmd)

	switch c := cmd.(type) {
	case GetTemperature:
		return Temperature{Fan: c.Fan, Value: 40 + c.Fan}
	case GetFanRPM:
		return FanRPM{Fan: c.Fan, Value: RPMUnavailable}
	case SetChargeLimit:
		return Failure{Command: c.CommandKind(), Error: "charge limit not supported"}
	default:
		return Ack{Command: cmd.CommandKind()}
	}
}

func (d *recordingDispatcher) commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.cmds...)
}

func newTestServer(t *testing.T) (*Server, *recordingDispatcher, string) {
	t.Helper()
	d := &recordingDispatcher{}
	srv := NewServer(d)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, d, "ws" + strings.TrimPrefix(ts.URL, "http")
}

type responses struct {
	mu  sync.Mutex
	all []Response
}

func (r *responses) add(resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, resp)
}

func (r *responses) get() []Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Response(nil), r.all...)
}

func TestClientServer_FIFO(t *testing.T) {
	_, d, url := newTestServer(t)
	got := &responses{}

	c := NewClient(ClientConfig{URL: url, OnResponse: got.add})
	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool { return c.State() == Connected }, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Send(GetTemperature{Fan: i}))
	}
	require.NoError(t, c.Send(SetChargeLimit{Value: 10}))

	require.Eventually(t, func() bool { return len(got.get()) == 11 }, 2*time.Second, 5*time.Millisecond)

	all := got.get()
	for i := 0; i < 10; i++ {
		assert.Equal(t, Temperature{Fan: i, Value: 40 + i}, all[i])
	}
	assert.Equal(t, Failure{Command: KindSetChargeLimit, Error: "charge limit not supported"}, all[10])
	assert.Len(t, d.commands(), 11)
}

func TestServer_UndecodableCommand(t *testing.T) {
	_, d, url := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"reboot"}`)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	resp, err := DecodeResponse(data)
	require.NoError(t, err)
	f, ok := resp.(Failure)
	require.True(t, ok)
	assert.Contains(t, f.Error, "unknown message kind")
	assert.Empty(t, d.commands())
}

func TestServer_RevertsFullBlastOnSessionClose(t *testing.T) {
	srv, d, url := newTestServer(t)
	got := &responses{}

	c := NewClient(ClientConfig{URL: url, OnResponse: got.add})
	c.Start(context.Background())
	require.Eventually(t, func() bool { return c.State() == Connected }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Send(SetFullBlast{Enabled: true}))
	require.Eventually(t, func() bool { return len(got.get()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, srv.Sessions())

	c.Close()

	require.Eventually(t, func() bool {
		cmds := d.commands()
		return len(cmds) == 2 && cmds[1] == SetFullBlast{Enabled: false}
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return srv.Sessions() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.Send(GetFanSpeed{}), ErrClosed)
}

func TestServer_NoRevertWhenFullBlastWasCleared(t *testing.T) {
	srv, d, url := newTestServer(t)
	got := &responses{}

	c := NewClient(ClientConfig{URL: url, OnResponse: got.add})
	c.Start(context.Background())
	require.Eventually(t, func() bool { return c.State() == Connected }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Send(SetFullBlast{Enabled: true}))
	require.NoError(t, c.Send(SetFullBlast{Enabled: false}))
	require.Eventually(t, func() bool { return len(got.get()) == 2 }, 2*time.Second, 5*time.Millisecond)

	c.Close()
	require.Eventually(t, func() bool { return srv.Sessions() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, d.commands(), 2)
}

func TestServer_RevertWaitsForLastFullBlastSession(t *testing.T) {
	srv, d, url := newTestServer(t)

	connect := func() (*Client, *responses) {
		got := &responses{}
		c := NewClient(ClientConfig{URL: url, OnResponse: got.add})
		c.Start(context.Background())
		require.Eventually(t, func() bool { return c.State() == Connected }, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, c.Send(SetFullBlast{Enabled: true}))
		require.Eventually(t, func() bool { return len(got.get()) == 1 }, 2*time.Second, 5*time.Millisecond)
		return c, got
	}
	first, _ := connect()
	second, _ := connect()
	require.Equal(t, 2, srv.Sessions())

	// the second session still wants full blast
	first.Close()
	require.Eventually(t, func() bool { return srv.Sessions() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(d.commands()) > 2 }, 100*time.Millisecond, 5*time.Millisecond)

	second.Close()
	require.Eventually(t, func() bool {
		cmds := d.commands()
		return len(cmds) == 3 && cmds[2] == SetFullBlast{Enabled: false}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClient_Reconnects(t *testing.T) {
	srv, _, url := newTestServer(t)
	var connects atomic.Int32
	got := &responses{}

	c := NewClient(ClientConfig{
		URL:        url,
		MinBackoff: 10 * time.Millisecond,
		OnResponse: got.add,
		OnState: func(s State) {
			if s == Connected {
				connects.Add(1)
			}
		},
	})
	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool { return connects.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	srv.CloseAll()
	require.Eventually(t, func() bool { return connects.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.State() == Connected }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Send(GetTemperature{Fan: 1}))
	require.Eventually(t, func() bool { return len(got.get()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_QueueFull(t *testing.T) {
	c := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/ipc", QueueSize: 2})
	require.NoError(t, c.Send(GetTemperature{}))
	require.NoError(t, c.Send(GetFanSpeed{}))
	assert.ErrorIs(t, c.Send(GetFanRPM{}), ErrQueueFull)
	assert.Equal(t, Disconnected, c.State())
	c.Close()
}
