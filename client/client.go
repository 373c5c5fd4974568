// Package client is a Go client library for a decuma server: a Client
// bound to a server address, and Folder handles built by chaining path
// segments, mirroring the original Python client's ergonomics.
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/regiscop/decuma/core"
	"github.com/regiscop/decuma/wire"
)

// Client issues one-shot requests against a decuma server: each call
// opens a connection, sends one request, reads one response, and closes.
type Client struct {
	addr    string
	timeout time.Duration
}

// New returns a Client that dials addr for every request, with timeout
// bounding each round trip (zero means no deadline on the exchange;
// dialing then gives up after 10 seconds).
func New(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

// Folder returns a handle to the series or subtree at path.
func (c *Client) Folder(path ...string) *Folder {
	return &Folder{client: c, path: append(core.Path(nil), path...)}
}

func (c *Client) Echo(msg string) (string, error) {
	resp, err := c.do(core.Request{Echo: &core.EchoRequest{Msg: msg}})
	if err != nil {
		return "", err
	}
	return resp.Echo.Msg, nil
}

func (c *Client) ShutdownServer() error {
	_, err := c.do(core.Request{Shutdown: &core.ShutdownRequest{}})
	return err
}

func (c *Client) TOC() (*core.TOCNode, error) {
	resp, err := c.do(core.Request{TOC: &core.TOCRequest{}})
	if err != nil {
		return nil, err
	}
	return resp.TOC.Root, nil
}

func (c *Client) MemoryConsumption() (int, error) {
	resp, err := c.do(core.Request{MemoryConsumption: &core.MemoryConsumptionRequest{}})
	if err != nil {
		return 0, err
	}
	return resp.MemoryConsumption.Bytes, nil
}

func (c *Client) do(req core.Request) (core.Response, error) {
	conn, err := net.DialTimeout("tcp", c.addr, orDefault(c.timeout, 10*time.Second))
	if err != nil {
		return core.Response{}, fmt.Errorf("client: dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := wire.WriteRequest(conn, req); err != nil {
		return core.Response{}, fmt.Errorf("client: send request: %w", err)
	}
	resp, err := wire.ReadResponse(conn)
	if err != nil {
		return core.Response{}, fmt.Errorf("client: read response: %w", err)
	}
	if resp.Err != nil {
		return core.Response{}, &core.Error{Kind: resp.Err.Kind, Msg: resp.Err.Msg}
	}
	return resp, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Folder addresses one path in the series hierarchy. Indexing into it
// with another path segment (via Child) extends the path, the same way
// attribute access extends a path in the original client.
type Folder struct {
	client *Client
	path   core.Path
}

// Child returns a Folder for path appended to this one's path.
func (f *Folder) Child(path ...string) *Folder {
	return &Folder{client: f.client, path: append(append(core.Path(nil), f.path...), path...)}
}

func (f *Folder) Path() core.Path { return f.path }

func (f *Folder) New(fields []string) error {
	_, err := f.client.do(core.Request{CreateSeries: &core.CreateSeriesRequest{Path: f.path, Fields: fields}})
	return err
}

func (f *Folder) Delete() error {
	_, err := f.client.do(core.Request{DeleteSeries: &core.DeleteSeriesRequest{Path: f.path}})
	return err
}

func (f *Folder) MoveTo(dest *Folder) error {
	_, err := f.client.do(core.Request{MoveSeries: &core.MoveSeriesRequest{OldPath: f.path, NewPath: dest.path}})
	return err
}

func (f *Folder) Defragment() error {
	_, err := f.client.do(core.Request{Defragment: &core.DefragmentRequest{Path: f.path}})
	return err
}

func (f *Folder) RenameFields(fields []string) error {
	_, err := f.client.do(core.Request{RenameFields: &core.RenameFieldsRequest{Path: f.path, Fields: fields}})
	return err
}

func (f *Folder) GetFields() ([]string, error) {
	resp, err := f.client.do(core.Request{GetFields: &core.GetFieldsRequest{Path: f.path}})
	if err != nil {
		return nil, err
	}
	return resp.Fields.Fields, nil
}

func (f *Folder) Insert(t int64, x []float64, conflict core.ConflictMode) error {
	_, err := f.client.do(core.Request{Insert: &core.InsertRequest{Path: f.path, T: t, X: x, Conflict: conflict}})
	return err
}

func (f *Folder) Get(t int64, fields []string, when core.WhenMode) (int64, []float64, error) {
	resp, err := f.client.do(core.Request{Get: &core.GetRequest{Path: f.path, T: t, Fields: fields, When: when}})
	if err != nil {
		return 0, nil, err
	}
	return resp.Value.T, resp.Value.X, nil
}

func (f *Folder) GetRange(start, end int64, fields []string) ([]int64, [][]float64, error) {
	resp, err := f.client.do(core.Request{GetRange: &core.GetRangeRequest{Path: f.path, Start: start, End: end, Fields: fields}})
	if err != nil {
		return nil, nil, err
	}
	return resp.Range.T, resp.Range.X, nil
}

func (f *Folder) GetAll(fields []string) ([]int64, [][]float64, error) {
	resp, err := f.client.do(core.Request{GetAll: &core.GetAllRequest{Path: f.path, Fields: fields}})
	if err != nil {
		return nil, nil, err
	}
	return resp.Range.T, resp.Range.X, nil
}
