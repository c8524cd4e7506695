package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaywire/fabric/pkg/core"
	"github.com/relaywire/fabric/pkg/wire"
)

// maxSeq bounds the per-connection request sequence number; 0 is
// reserved for unsolicited/undecodable-request error responses.
const maxSeq = 999999

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithPassword sets the connection-scoped shared secret. Leaving it
// empty means the connection starts already authorized.
func WithPassword(password string) Option {
	return func(c *Connection) { c.password = password }
}

// WithAlwaysAllowLocalhost marks loopback peers as pre-authorized
// regardless of password.
func WithAlwaysAllowLocalhost(allow bool) Option {
	return func(c *Connection) { c.alwaysAllowLocalhost = allow }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) { c.log = l }
}

// Connection owns one TCP peer: it drives the frame codec, correlates
// requests with responses by sequence number, and enforces
// connection-scoped authorization.
type Connection struct {
	conn    net.Conn
	scanner *wire.Scanner
	router  *Router
	log     *slog.Logger

	password             string
	alwaysAllowLocalhost bool

	authMu     sync.Mutex
	authorized bool

	writeMu sync.Mutex

	seqMu  sync.Mutex
	nextNo int

	pendingMu sync.Mutex
	pending   map[int]chan wire.Response

	lastPong atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}

	onCloseMu sync.Mutex
	onClose   []func()
}

// New wraps conn. Call Serve to start reading frames.
func New(conn net.Conn, router *Router, opts ...Option) *Connection {
	c := &Connection{
		conn:    conn,
		scanner: wire.NewScanner(conn),
		router:  router,
		log:     slog.Default(),
		pending: make(map[int]chan wire.Response),
		closed:  make(chan struct{}),
		nextNo:  1 + rand.Intn(maxSeq-1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.authorized = c.password == "" || (c.alwaysAllowLocalhost && isLoopback(conn))
	return c
}

func isLoopback(conn net.Conn) bool {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// OnClose registers fn to run once, after Serve returns and all
// outstanding requests have been failed. Used by the Master registry to
// remove a Worker entry.
func (c *Connection) OnClose(fn func()) {
	c.onCloseMu.Lock()
	defer c.onCloseMu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// LastPongUnix returns the unix second of the last pong received, or 0
// if none has arrived yet.
func (c *Connection) LastPongUnix() int64 {
	return c.lastPong.Load()
}

// RemoteAddr exposes the underlying socket's peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Serve reads and dispatches frames until the connection closes or ctx
// is cancelled. It always returns after cleaning up: failing every
// pending request future with core.ErrSocketClosed and running the
// registered close callbacks.
func (c *Connection) Serve(ctx context.Context) error {
	defer c.teardown()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	for {
		msg, err := c.scanner.Next()
		if err != nil {
			if errors.Is(err, wire.ErrMalformed) || errors.Is(err, wire.ErrUnknownType) {
				c.writeResponse(wire.NewErrorResponse(0, err.Error()))
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch msg.Type {
		case wire.MsgRequest:
			c.handleRequest(ctx, msg.Request)
		case wire.MsgResponse:
			c.handleResponse(msg.Response)
		case wire.MsgPing:
			c.writeMessage(wire.Pong)
		case wire.MsgPong:
			c.lastPong.Store(time.Now().Unix())
		}
	}
}

func (c *Connection) handleRequest(ctx context.Context, req *wire.Request) {
	c.authMu.Lock()
	authorized := c.authorized
	if !authorized {
		if req.Password != "" && req.Password == c.password {
			authorized = true
			c.authorized = true
		}
	}
	c.authMu.Unlock()

	if !authorized {
		c.writeResponse(wire.NewErrorResponse(req.No, core.ErrInvalidPassword.Error()))
		c.conn.Close()
		return
	}

	data, err := c.router.dispatch(ctx, req.Type, req.Data, c)
	if err != nil {
		c.writeResponse(wire.NewErrorResponse(req.No, err.Error()))
		return
	}
	resp, err := wire.NewResponse(req.No, data)
	if err != nil {
		c.writeResponse(wire.NewErrorResponse(req.No, err.Error()))
		return
	}
	c.writeMessage(resp)
}

func (c *Connection) handleResponse(resp *wire.Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.No]
	if ok {
		delete(c.pending, resp.No)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.log.Warn("unsolicited response discarded", "no", resp.No)
		return
	}
	ch <- *resp
}

// SendRequest sends a request of the given type and blocks until the
// matching response arrives, ctx is cancelled, or the connection closes.
func (c *Connection) SendRequest(ctx context.Context, typ string, data any) (json.RawMessage, error) {
	no := c.nextSeq()
	msg, err := wire.NewRequest(no, typ, data)
	if err != nil {
		return nil, err
	}
	msg.Request.Password = c.password

	ch := make(chan wire.Response, 1)
	c.pendingMu.Lock()
	c.pending[no] = ch
	c.pendingMu.Unlock()

	if err := c.writeMessage(msg); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, no)
		c.pendingMu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		return resp.Data, nil
	case <-c.closed:
		return nil, core.ErrSocketClosed
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, no)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

// Send writes a message with no correlation expected (e.g. a server
// pushing an unsolicited ping).
func (c *Connection) Send(msg wire.Message) error {
	return c.writeMessage(msg)
}

func (c *Connection) nextSeq() int {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	no := c.nextNo
	c.nextNo++
	if c.nextNo > maxSeq {
		c.nextNo = 1
	}
	return no
}

func (c *Connection) writeResponse(msg wire.Message) {
	_ = c.writeMessage(msg)
}

func (c *Connection) writeMessage(msg wire.Message) error {
	raw, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(raw)
	return err
}

func (c *Connection) teardown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()

		c.pendingMu.Lock()
		pending := c.pending
		c.pending = make(map[int]chan wire.Response)
		c.pendingMu.Unlock()
		for _, ch := range pending {
			ch <- wire.Response{Error: core.ErrSocketClosed.Error()}
		}

		c.onCloseMu.Lock()
		callbacks := c.onClose
		c.onCloseMu.Unlock()
		for _, fn := range callbacks {
			fn()
		}
	})
}
