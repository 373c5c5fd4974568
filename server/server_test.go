package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/regiscop/decuma/core"
	"github.com/regiscop/decuma/wire"
)

func startTestServer(t *testing.T) (addr string, db *core.Database) {
	t.Helper()
	dir := t.TempDir()
	db, err := core.Open(dir, 1<<20, 64)
	require.NoError(t, err)

	s := New(db, 20*time.Millisecond, 4)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = s.ServeOn(ln)
	}()
	t.Cleanup(func() { _ = s.Close() })

	return ln.Addr().String(), db
}

func TestServerRoundTripInsertAndGet(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	create := core.Request{CreateSeries: &core.CreateSeriesRequest{Path: core.Path{"a"}, Fields: []string{"v"}}}
	require.NoError(t, wire.WriteRequest(conn, create))
	resp, err := wire.ReadResponse(conn)
	require.NoError(t, err)
	require.Nil(t, resp.Err)
	require.NotNil(t, resp.Ack)

	insert := core.Request{Insert: &core.InsertRequest{Path: core.Path{"a"}, T: 1, X: []float64{9}, Conflict: core.Replace}}
	require.NoError(t, wire.WriteRequest(conn, insert))
	resp, err = wire.ReadResponse(conn)
	require.NoError(t, err)
	require.Nil(t, resp.Err)

	get := core.Request{Get: &core.GetRequest{Path: core.Path{"a"}, T: 1, When: core.Exact}}
	require.NoError(t, wire.WriteRequest(conn, get))
	resp, err = wire.ReadResponse(conn)
	require.NoError(t, err)
	require.NotNil(t, resp.Value)
	require.Equal(t, []float64{9}, resp.Value.X)
}

func TestServerEchoAndShutdown(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	echo := core.Request{Echo: &core.EchoRequest{Msg: "hi"}}
	require.NoError(t, wire.WriteRequest(conn, echo))
	resp, err := wire.ReadResponse(conn)
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Echo.Msg)

	shutdown := core.Request{Shutdown: &core.ShutdownRequest{}}
	require.NoError(t, wire.WriteRequest(conn, shutdown))
	resp, err = wire.ReadResponse(conn)
	require.NoError(t, err)
	require.NotNil(t, resp.Ack)

	_, err = wire.ReadRequest(conn)
	require.Error(t, err)
}

// TestServerServesConcurrentConnectionsWithoutLimit guards against a
// regression back to an application-level connection cap: the backlog
// passed to New controls the kernel's pending-connection queue, not how
// many already-accepted connections the server serves at once, so every
// one of several concurrent clients must get a real response.
func TestServerServesConcurrentConnectionsWithoutLimit(t *testing.T) {
	dir := t.TempDir()
	db, err := core.Open(dir, 1<<20, 64)
	require.NoError(t, err)

	s := New(db, 20*time.Millisecond, 1)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.ServeOn(ln) }()
	t.Cleanup(func() { _ = s.Close() })

	const numClients = 5
	conns := make([]net.Conn, numClients)
	for i := range conns {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		defer conn.Close()
		conns[i] = conn
	}

	for _, conn := range conns {
		echo := core.Request{Echo: &core.EchoRequest{Msg: "hi"}}
		require.NoError(t, wire.WriteRequest(conn, echo))
	}
	for _, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		resp, err := wire.ReadResponse(conn)
		require.NoError(t, err, "every accepted connection should be served, not just the first one past the backlog size")
		require.Equal(t, "hi", resp.Echo.Msg)
	}
}
