package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/regiscop/decuma/core"
	"github.com/regiscop/decuma/server"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	db, err := core.Open(dir, 1<<20, 64)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.New(db, 20*time.Millisecond, 8)
	go func() { _ = srv.ServeOn(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return ln.Addr().String()
}

func TestFolderInsertAndGetAll(t *testing.T) {
	addr := startTestServer(t)
	c := New(addr, time.Second)

	f := c.Folder("metrics", "cpu")
	require.NoError(t, f.New([]string{"load"}))
	require.NoError(t, f.Insert(1, []float64{0.1}, core.KeepBoth))
	require.NoError(t, f.Insert(2, []float64{0.2}, core.KeepBoth))

	times, rows, err := f.GetAll(nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, times)
	require.Equal(t, [][]float64{{0.1}, {0.2}}, rows)
}

func TestChildExtendsPath(t *testing.T) {
	addr := startTestServer(t)
	c := New(addr, time.Second)

	root := c.Folder("metrics")
	leaf := root.Child("cpu", "load")
	require.Equal(t, core.Path{"metrics", "cpu", "load"}, leaf.Path())
}

func TestEchoAndTOC(t *testing.T) {
	addr := startTestServer(t)
	c := New(addr, time.Second)

	msg, err := c.Echo("hello")
	require.NoError(t, err)
	require.Equal(t, "hello", msg)

	require.NoError(t, c.Folder("a").New([]string{"v"}))
	root, err := c.TOC()
	require.NoError(t, err)
	_, ok := root.Children["a"]
	require.True(t, ok)
}

func TestGetFieldsErrorsOnMissingSeries(t *testing.T) {
	addr := startTestServer(t)
	c := New(addr, time.Second)

	_, err := c.Folder("missing").GetFields()
	require.Error(t, err)
	derr, ok := err.(*core.Error)
	require.True(t, ok)
	require.Equal(t, core.NotFound, derr.Kind)
}
