package busgate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/busgate/busgate/fragments"
	"github.com/busgate/busgate/transport"
	"github.com/creachadair/taskgroup"
)

// SystemBus connects to the system bus.
func SystemBus(ctx context.Context) (*Conn, error) {
	return Dial(ctx, "/run/dbus/system_bus_socket")
}

// Dial connects to the bus listening on the unix socket at path and
// completes the initial Hello exchange that assigns the connection
// its unique bus name.
func Dial(ctx context.Context, path string) (*Conn, error) {
	t, err := transport.DialUnix(ctx, path)
	if err != nil {
		return nil, err
	}
	ret := &Conn{
		t:     t,
		log:   slog.Default(),
		calls: map[uint32]ReplyFunc{},
		tasks: taskgroup.New(nil),
	}
	ret.tasks.Run(ret.readLoop)

	reply, err := ret.CallSync(ctx, BusService, BusPath, BusService, "Hello", "", nil)
	if err != nil {
		ret.Close()
		return nil, fmt.Errorf("getting bus client ID: %w", err)
	}
	id, ok := reply.Arg(0).(string)
	if !ok {
		ret.Close()
		return nil, errors.New("bus Hello reply carried no client ID")
	}
	ret.clientID = id
	return ret, nil
}

// Conn is a connection to a message bus. It implements [Caller].
type Conn struct {
	t        transport.Transport
	clientID string
	log      *slog.Logger
	tasks    *taskgroup.Group

	// writeMu serializes writes to t, so that messages from
	// concurrent callers cannot interleave on the wire.
	writeMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	calls      map[uint32]ReplyFunc
	lastSerial uint32
}

var _ Caller = (*Conn)(nil)

// LocalName returns the connection's unique bus name.
func (c *Conn) LocalName() string {
	return c.clientID
}

// Close closes the connection. Pending calls fail with
// [net.ErrClosed]. Close blocks until all in-flight reply callbacks
// have returned.
func (c *Conn) Close() error {
	err := c.shutdown()
	c.tasks.Wait()
	return err
}

// shutdown tears the connection down without waiting for callbacks,
// so that it is safe to call from within the read loop.
func (c *Conn) shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pend := c.calls
	c.calls = nil
	c.mu.Unlock()

	for _, fn := range pend {
		c.tasks.Run(func() { fn(Reply{}, net.ErrClosed) })
	}
	return c.t.Close()
}

// Call implements [Caller]. The reply callback runs on its own
// goroutine once the matching return or error message arrives, or
// immediately if the call cannot be sent.
func (c *Conn) Call(dest string, path ObjectPath, iface, member, sig string, args []any, reply ReplyFunc) {
	body, err := marshalBody(sig, args)
	if err != nil {
		c.tasks.Run(func() { reply(Reply{}, err) })
		return
	}
	serial, ok := c.register(reply)
	if !ok {
		c.tasks.Run(func() { reply(Reply{}, net.ErrClosed) })
		return
	}
	hdr := &header{
		Type:        msgTypeCall,
		Serial:      serial,
		Destination: dest,
		Path:        path,
		Interface:   iface,
		Member:      member,
		Signature:   sig,
	}
	if err := c.writeMsg(hdr, body); err != nil {
		if fn := c.unregister(serial); fn != nil {
			c.tasks.Run(func() { fn(Reply{}, err) })
		}
	}
}

// CallSync is [Conn.Call] for callers that want to block: it waits
// for the reply, or for ctx to end. The call itself is not canceled
// when ctx ends; a late reply is discarded.
func (c *Conn) CallSync(ctx context.Context, dest string, path ObjectPath, iface, member, sig string, args []any) (Reply, error) {
	type result struct {
		reply Reply
		err   error
	}
	ch := make(chan result, 1)
	c.Call(dest, path, iface, member, sig, args, func(reply Reply, err error) {
		ch <- result{reply, err}
	})
	select {
	case res := <-ch:
		return res.reply, res.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (c *Conn) register(fn ReplyFunc) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, false
	}
	c.lastSerial++
	c.calls[c.lastSerial] = fn
	return c.lastSerial, true
}

func (c *Conn) unregister(serial uint32) ReplyFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn := c.calls[serial]
	delete(c.calls, serial)
	return fn
}

func (c *Conn) nextSerial() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, false
	}
	c.lastSerial++
	return c.lastSerial, true
}

func (c *Conn) writeMsg(hdr *header, body []byte) error {
	bs, err := marshalMsg(hdr, body)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.t.Write(bs)
	return err
}

func (c *Conn) readLoop() {
	for {
		if err := c.dispatchMsg(); errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// Conn was shut down.
			return
		} else if err != nil {
			// Errors that bubble out here represent a failure to
			// conform to the DBus protocol by the peer, and are fatal
			// to the Conn.
			c.log.Error("bus read error", "err", err)
			c.shutdown()
			return
		}
	}
}

type msg struct {
	*header
	body []byte
}

func (m *msg) Decoder() *fragments.Decoder {
	return &fragments.Decoder{
		Order: m.Order,
		In:    bytes.NewBuffer(m.body),
	}
}

// readMsg reads one complete message from c.t. Must not be called
// concurrently (Conn.dispatchMsg ensures this).
func (c *Conn) readMsg() (*msg, error) {
	dec := &fragments.Decoder{
		Order: fragments.NativeEndian,
		In:    c.t,
	}
	hdr, err := readHeader(dec)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(c.t, int64(hdr.Length)))
	if err != nil {
		return nil, err
	}
	files, err := c.t.GetFiles(int(hdr.NumFDs))
	if err != nil {
		return nil, err
	}
	// The JSON gateway has no way to hand file descriptors to its
	// clients, so any that arrive are dropped.
	for _, f := range files {
		f.Close()
	}
	return &msg{header: hdr, body: body}, nil
}

func (c *Conn) dispatchMsg() error {
	m, err := c.readMsg()
	if err != nil {
		return err
	}
	if err := m.Valid(); err != nil {
		return fmt.Errorf("received invalid header: %w", err)
	}
	switch m.Type {
	case msgTypeReturn:
		c.dispatchReturn(m)
	case msgTypeError:
		c.dispatchErr(m)
	case msgTypeCall:
		// The gateway exports no objects.
		if m.WantReply() {
			c.rejectCall(m)
		}
	case msgTypeSignal:
		// Signal delivery to HTTP clients is out of scope.
	}
	return nil
}

func (c *Conn) dispatchReturn(m *msg) {
	fn := c.unregister(m.ReplySerial)
	if fn == nil {
		// Response to an abandoned call.
		return
	}
	body, err := readBody(m.Decoder(), m.Signature)
	if err != nil {
		c.tasks.Run(func() { fn(Reply{}, fmt.Errorf("decoding reply body: %w", err)) })
		return
	}
	c.tasks.Run(func() { fn(Reply{Sig: m.Signature, Body: body}, nil) })
}

func (c *Conn) dispatchErr(m *msg) {
	fn := c.unregister(m.ReplySerial)
	if fn == nil {
		return
	}
	detail := ""
	if len(m.Signature) > 0 && m.Signature[0] == 's' {
		if s, err := m.Decoder().String(); err == nil {
			detail = s
		}
	}
	callErr := CallError{Name: m.ErrName, Detail: detail}
	c.tasks.Run(func() { fn(Reply{}, callErr) })
}

func (c *Conn) rejectCall(m *msg) {
	serial, ok := c.nextSerial()
	if !ok {
		return
	}
	body, err := marshalBody("s", []any{"no such method"})
	if err != nil {
		return
	}
	hdr := &header{
		Type:        msgTypeError,
		Serial:      serial,
		Destination: m.Sender,
		ReplySerial: m.Serial,
		ErrName:     "org.freedesktop.DBus.Error.UnknownMethod",
		Signature:   "s",
	}
	if err := c.writeMsg(hdr, body); err != nil {
		c.log.Warn("rejecting inbound call", "err", err)
	}
}
