// Package server accepts TCP connections speaking the wire protocol and
// funnels every decoded request through one dispatch goroutine that owns
// the database exclusively, so core stays free of internal locking.
package server

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/regiscop/decuma/core"
	"github.com/regiscop/decuma/wire"
)

// call pairs one decoded request with the channel its response is
// delivered on, letting many connection goroutines share a single
// dispatch goroutine without the core ever seeing concurrent callers.
type call struct {
	req  core.Request
	resp chan core.Response
}

// Server listens for connections and serializes every request against
// one *core.Database through a single dispatch goroutine. It places no
// cap on how many already-accepted connections it serves concurrently;
// the pending-connection limit lives at the socket layer, not here.
type Server struct {
	db       *core.Database
	patience time.Duration
	backlog  int

	calls chan call

	mu       sync.Mutex
	listener net.Listener
}

// New wires a Server around an already-open database. patience is the
// idle duration after which the dispatch loop opportunistically flushes
// dirty segments (every compactEvery such idle ticks it also compacts the
// register); backlog is the size of the
// OS-level pending-connection queue (the config file's max_clients).
func New(db *core.Database, patience time.Duration, backlog int) *Server {
	return &Server{
		db:       db,
		patience: patience,
		backlog:  backlog,
		calls:    make(chan call),
	}
}

// flushBatch is the number of dirty segments opportunistically committed
// on each idle tick, matching the idle-tick behavior described for the
// dispatch thread.
const flushBatch = 10

// compactEvery counts how many idle ticks pass between register
// compaction passes; compaction rewrites the whole log, so it runs far
// less often than the dirty-segment flush.
const compactEvery = 50

// dispatchLoop is the only goroutine that ever touches s.db. It serves
// requests as they arrive and, when idle past patience, flushes a batch
// of dirty segments so write-back isn't starved under light load.
func (s *Server) dispatchLoop(done <-chan struct{}) {
	ticker := time.NewTicker(s.patience)
	defer ticker.Stop()

	idleTicks := 0
	for {
		select {
		case <-done:
			return
		case c := <-s.calls:
			c.resp <- core.Dispatch(s.db, c.req)
			idleTicks = 0
			ticker.Reset(s.patience)
		case <-ticker.C:
			s.db.CommitDirty(flushBatch)
			idleTicks++
			if idleTicks%compactEvery == 0 {
				if err := s.db.CompactRegister(); err != nil {
					log.Printf("register compaction: %v", err)
				}
			}
		}
	}
}

// ListenAndServe binds addr with the server's configured backlog, accepts
// connections until the listener is closed, and blocks until every
// connection goroutine has exited.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := listenTCPWithBacklog(addr, s.backlog)
	if err != nil {
		return err
	}
	return s.ServeOn(ln)
}

// ServeOn accepts on an already-bound listener, letting tests choose an
// ephemeral port with net.Listen("tcp", "127.0.0.1:0") before the server
// starts serving.
func (s *Server) ServeOn(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	done := make(chan struct{})
	go s.dispatchLoop(done)
	defer close(done)

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections. In-flight connections drain on
// their own as clients disconnect.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	id := uuid.NewString()
	defer conn.Close()
	log.Printf("[%s] connection from %s", id, conn.RemoteAddr())

	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			log.Printf("[%s] connection closed: %v", id, err)
			return
		}

		resp := s.call(req)

		if err := wire.WriteResponse(conn, resp); err != nil {
			log.Printf("[%s] write response: %v", id, err)
			return
		}

		if req.Shutdown != nil {
			return
		}
	}
}

func (s *Server) call(req core.Request) core.Response {
	c := call{req: req, resp: make(chan core.Response, 1)}
	s.calls <- c
	return <-c.resp
}

// listenTCPWithBacklog binds addr and starts listening with an explicit
// backlog. net.Listen gives no way to set this per-socket (it always
// defers to the kernel's somaxconn default), so this drops to the
// syscall package directly to pass the backlog straight to listen(2).
// IPv4 only.
func listenTCPWithBacklog(addr string, backlog int) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("server: resolve %s: %w", addr, err)
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("server: socket: %w", err)
	}

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		_ = syscall.Close(fd)
		return nil, fmt.Errorf("server: setsockopt SO_REUSEADDR: %w", err)
	}

	sa := &syscall.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}

	if err := syscall.Bind(fd, sa); err != nil {
		_ = syscall.Close(fd)
		return nil, fmt.Errorf("server: bind %s: %w", addr, err)
	}
	if err := syscall.Listen(fd, backlog); err != nil {
		_ = syscall.Close(fd)
		return nil, fmt.Errorf("server: listen backlog %d: %w", backlog, err)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("decuma-listener-%s", addr))
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("server: wrap listener fd: %w", err)
	}
	return ln, nil
}
