package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"smcpowerd/internal/device"
	"smcpowerd/internal/dispatch"
	"smcpowerd/internal/protocol"
	"smcpowerd/pkg/smc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testDaemon struct {
	srv      *Server
	reg      *smc.TestRegisterIO
	path     string
	modes    chan device.Status
	serveErr chan error
	cancel   context.CancelFunc
}

// startDaemon brings up a full server over a real unix socket, backed by an
// in-memory register client.
func startDaemon(t *testing.T) *testDaemon {
	t.Helper()

	logger := zap.NewNop()
	reg := smc.NewTestRegisterIO()
	controller := device.NewController(reg, logger)
	dispatcher := dispatch.NewDispatcher(controller, logger)

	path := filepath.Join(t.TempDir(), "smcpowerd.sock")
	modes := make(chan device.Status, 8)
	srv := NewServer(Config{SocketPath: path}, dispatcher, modes, logger)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	d := &testDaemon{srv: srv, reg: reg, path: path, modes: modes, serveErr: serveErr, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		d.waitStopped(t)
	})
	return d
}

func (d *testDaemon) waitStopped(t *testing.T) {
	t.Helper()
	select {
	case err := <-d.serveErr:
		require.NoError(t, err)
		// put it back so a second waiter does not hang
		d.serveErr <- err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func (d *testDaemon) dial(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("unix", d.path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn, bufio.NewReader(conn)
}

func request(t *testing.T, conn net.Conn, r *bufio.Reader, raw string) protocol.Response {
	t.Helper()
	_, err := conn.Write([]byte(raw + "\n"))
	require.NoError(t, err)
	return readResponse(t, r)
}

func readResponse(t *testing.T, r *bufio.Reader) protocol.Response {
	t.Helper()
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestServePingRoundTrip(t *testing.T) {
	d := startDaemon(t)
	conn, r := d.dial(t)

	resp := request(t, conn, r, `{"id":"p1","event":"ping"}`)
	assert.True(t, resp.Ok)
	assert.Equal(t, "p1", resp.Id)
	assert.Equal(t, "1", resp.Result["pong"])
}

func TestServeMalformedRequestKeepsConnectionUsable(t *testing.T) {
	d := startDaemon(t)
	conn, r := d.dial(t)

	resp := request(t, conn, r, `this is not json`)
	assert.False(t, resp.Ok)
	assert.Equal(t, protocol.ErrCodeInvalidRequest, resp.Error)

	// the connection survives a bad frame
	resp = request(t, conn, r, `{"id":"p2","event":"ping"}`)
	assert.True(t, resp.Ok)
	assert.Equal(t, "p2", resp.Id)
}

func TestServeChargeThenStatus(t *testing.T) {
	d := startDaemon(t)
	conn, r := d.dial(t)

	resp := request(t, conn, r, `{"id":"c1","event":"charge"}`)
	require.True(t, resp.Ok)
	assert.Equal(t, byte(0x08), d.reg.Registers[smc.KeyChargeOverride])

	resp = request(t, conn, r, `{"id":"s1","event":"status"}`)
	require.True(t, resp.Ok)
	assert.Equal(t, string(device.StatusCharging), resp.Result["status"])
}

func TestServeControlFailureSurfacesErrorCode(t *testing.T) {
	d := startDaemon(t)
	d.reg.FailWriteAt = 1
	conn, r := d.dial(t)

	resp := request(t, conn, r, `{"id":"c1","event":"discharge"}`)
	assert.False(t, resp.Ok)
	assert.Equal(t, protocol.ErrCodeSMCWriteFailed, resp.Error)
}

func TestServePipelinedRequestsAnswerInOrder(t *testing.T) {
	d := startDaemon(t)
	conn, r := d.dial(t)

	_, err := conn.Write([]byte(`{"id":"a","event":"ping"}` + "\n" + `{"id":"b","event":"status"}` + "\n"))
	require.NoError(t, err)

	first := readResponse(t, r)
	second := readResponse(t, r)
	assert.Equal(t, "a", first.Id)
	assert.Equal(t, "b", second.Id)
	assert.Equal(t, protocol.EventStatus, second.Event)
}

func TestServeStopAnswersThenShutsDown(t *testing.T) {
	d := startDaemon(t)
	conn, r := d.dial(t)

	resp := request(t, conn, r, `{"id":"z","event":"stop"}`)
	assert.True(t, resp.Ok)
	assert.Equal(t, "1", resp.Result["stopping"])

	d.waitStopped(t)
	assert.Equal(t, StateStopped, d.srv.State())

	_, err := os.Stat(d.path)
	assert.True(t, os.IsNotExist(err), "socket artifact must be removed")
}

func TestServeStopsOnContextCancel(t *testing.T) {
	d := startDaemon(t)

	d.cancel()
	d.waitStopped(t)
	assert.Equal(t, StateStopped, d.srv.State())
}

func TestServePublishesModes(t *testing.T) {
	d := startDaemon(t)
	conn, r := d.dial(t)

	resp := request(t, conn, r, `{"event":"discharge"}`)
	require.True(t, resp.Ok)

	select {
	case mode := <-d.modes:
		assert.Equal(t, device.StatusDischarging, mode)
	case <-time.After(2 * time.Second):
		t.Fatal("no mode published")
	}
}

func TestProbeRunsOnReactor(t *testing.T) {
	d := startDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := d.srv.Probe(ctx)
	require.NoError(t, err)
	assert.True(t, out.Response.Ok)
	assert.Equal(t, string(device.StatusDefault), out.Response.Result["status"])
}

func TestListenRemovesStaleSocketArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	srv := NewServer(Config{SocketPath: path}, dispatch.NewDispatcher(nil, zap.NewNop()), nil, zap.NewNop())
	require.NoError(t, srv.Listen())
	t.Cleanup(func() { srv.shutdown() })

	assert.Equal(t, StateListening, srv.State())
}

// flakyListener refuses the first n Accept calls, then delegates.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, errors.New("accept: too many open files")
	}
	return l.Listener.Accept()
}

func TestAcceptLoopRetriesTransientErrors(t *testing.T) {
	logger := zap.NewNop()
	reg := smc.NewTestRegisterIO()
	dispatcher := dispatch.NewDispatcher(device.NewController(reg, logger), logger)

	path := filepath.Join(t.TempDir(), "smcpowerd.sock")
	srv := NewServer(Config{SocketPath: path}, dispatcher, nil, logger)
	require.NoError(t, srv.Listen())

	flaky := &flakyListener{Listener: srv.listener}
	flaky.failures.Store(2)
	srv.listener = flaky

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-serveErr:
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop in time")
		}
	})

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	// the daemon still serves after the transient accept failures
	resp := request(t, conn, bufio.NewReader(conn), `{"id":"p1","event":"ping"}`)
	assert.True(t, resp.Ok)
	assert.Equal(t, "p1", resp.Id)
}

func TestListenRejectsOverlongSocketPath(t *testing.T) {
	path := "/tmp/" + strings.Repeat("x", maxSocketPath) + ".sock"
	srv := NewServer(Config{SocketPath: path}, dispatch.NewDispatcher(nil, zap.NewNop()), nil, zap.NewNop())

	err := srv.Listen()
	assert.ErrorIs(t, err, ErrSocketPathTooLong)
}
