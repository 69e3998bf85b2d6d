// Package bolt implements the client side of the Neo4j Bolt protocol for
// NornicDB and other Bolt 4.x-compatible graph databases.
//
// The package covers the protocol engine: connection handshake and version
// negotiation, chunked message framing, the transaction state machine, and
// pull-based result streaming. PackStream value encoding lives in
// pkg/packstream; typed graph values in pkg/graph.
//
// Protocol Flow:
//
//  1. Handshake: the client sends the magic preamble (0x6060B017) followed by
//     four proposed versions, highest preference first. The server replies
//     with the single version it selected, or all zeroes to reject.
//  2. Authentication: the client sends HELLO with credentials; SUCCESS moves
//     the connection to Ready, FAILURE makes it unusable.
//  3. Queries: RUN carries the query text and parameter map; the server
//     answers SUCCESS with the field names, then streams RECORD messages in
//     response to PULL, ending each batch with SUCCESS carrying either
//     has_more or the final summary.
//  4. Transactions: BEGIN/COMMIT/ROLLBACK bracket explicit transactions;
//     RESET recovers a session after a FAILURE.
//
// A Conn is owned by exactly one logical operation at a time. The pool hands
// out exclusive leases; within a lease, request/response exchange is strictly
// sequential.
package bolt

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/orneryd/nornic-go/pkg/graph"
	"github.com/orneryd/nornic-go/pkg/packstream"
)

// Protocol versions, highest first. These are the four versions proposed
// during the handshake.
const (
	V4_4 uint32 = 0x0404
	V4_3 uint32 = 0x0403
	V4_2 uint32 = 0x0402
	V4_1 uint32 = 0x0401
)

// magic is the Bolt handshake preamble.
var magic = [4]byte{0x60, 0x60, 0xB0, 0x17}

// Message tags.
const (
	MsgHello    byte = 0x01
	MsgGoodbye  byte = 0x02
	MsgReset    byte = 0x0F
	MsgRun      byte = 0x10
	MsgBegin    byte = 0x11
	MsgCommit   byte = 0x12
	MsgRollback byte = 0x13
	MsgDiscard  byte = 0x2F
	MsgPull     byte = 0x3F

	MsgSuccess byte = 0x70
	MsgRecord  byte = 0x71
	MsgIgnored byte = 0x7E
	MsgFailure byte = 0x7F
)

// maxChunkSize is the largest payload a single chunk can carry; the 2-byte
// length header caps it at 65535.
const maxChunkSize = 0xFFFF

// State describes a connection's lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateHandshake
	StateReady
	StateStreaming
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshake:
		return "handshake"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Logger receives protocol-level trace lines. Nil disables logging.
type Logger func(format string, args ...any)

// Options configures a single connection attempt.
type Options struct {
	// Address is the host:port of the Bolt endpoint.
	Address string
	// Username and Password are sent in the HELLO message with the "basic"
	// scheme. An empty username sends scheme "none".
	Username string
	Password string
	// UserAgent identifies the client to the server.
	UserAgent string
	// ConnectTimeout bounds the TCP dial. Zero means no bound.
	ConnectTimeout time.Duration
	// Logger traces sent and received messages when set.
	Logger Logger
}

// Conn is one physical Bolt link: a socket, a negotiated protocol version
// and a connection state. Exactly one logical operation may use a Conn at a
// time; the pool enforces this by ownership transfer on lease.
type Conn struct {
	netConn net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer

	version uint32
	state   State

	server       string // server agent string from the HELLO response
	connectionID string

	log Logger

	// Reusable buffers, one exchange at a time per the lease invariant.
	headerBuf  [2]byte
	messageBuf []byte
	sendBuf    []byte
}

// response is one decoded server message.
type response struct {
	tag    byte
	fields []any
}

// Connect dials the server, negotiates a protocol version and authenticates.
// On return the connection is in Ready state.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	// Disable Nagle's algorithm; Bolt is request/response and small writes
	// must not wait for coalescing.
	if tcpConn, ok := netConn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	c := &Conn{
		netConn:    netConn,
		reader:     bufio.NewReaderSize(netConn, 8192),
		writer:     bufio.NewWriterSize(netConn, 8192),
		state:      StateHandshake,
		log:        opts.Logger,
		messageBuf: make([]byte, 0, 4096),
	}

	if err := c.handshake(ctx); err != nil {
		netConn.Close()
		return nil, err
	}
	if err := c.hello(ctx, opts); err != nil {
		netConn.Close()
		return nil, err
	}
	c.state = StateReady
	return c, nil
}

// handshake writes the magic preamble plus four proposed versions and reads
// back the server's selection.
func (c *Conn) handshake(ctx context.Context) error {
	c.applyDeadline(ctx)

	proposed := []uint32{V4_4, V4_3, V4_2, V4_1}
	buf := make([]byte, 0, 20)
	buf = append(buf, magic[:]...)
	for _, v := range proposed {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	if _, err := c.netConn.Write(buf); err != nil {
		return &ConnectionError{Op: "handshake write", Err: err}
	}

	var chosen [4]byte
	if _, err := io.ReadFull(c.reader, chosen[:]); err != nil {
		return &ConnectionError{Op: "handshake read", Err: err}
	}
	version := binary.BigEndian.Uint32(chosen[:])

	supported := false
	for _, v := range proposed {
		if version == v {
			supported = true
			break
		}
	}
	if version == 0 || !supported {
		c.state = StateFailed
		return &ConnectionError{Op: "handshake", Err: fmt.Errorf("%w: server selected 0x%08X", ErrNoCompatibleVersion, version)}
	}

	c.version = version
	c.logf("handshake: negotiated version %d.%d", version>>8&0xFF, version&0xFF)
	return nil
}

// hello authenticates the link. A FAILURE response is terminal for the
// connection.
func (c *Conn) hello(ctx context.Context, opts Options) error {
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "nornic-go/0.1.0"
	}
	extra := map[string]any{
		"user_agent": userAgent,
	}
	if opts.Username != "" {
		extra["scheme"] = "basic"
		extra["principal"] = opts.Username
		extra["credentials"] = opts.Password
	} else {
		extra["scheme"] = "none"
	}

	resp, err := c.exchange(ctx, MsgHello, extra)
	if err != nil {
		return err
	}
	switch resp.tag {
	case MsgSuccess:
		meta := successMeta(resp)
		if s, ok := meta["server"].(string); ok {
			c.server = s
		}
		if id, ok := meta["connection_id"].(string); ok {
			c.connectionID = id
		}
		return nil
	case MsgFailure:
		code, message := failureDetail(resp)
		c.state = StateFailed
		return &AuthError{Code: code, Message: message}
	default:
		c.state = StateFailed
		return &ProtocolError{Reason: fmt.Sprintf("unexpected response 0x%02X to HELLO", resp.tag)}
	}
}

// Version returns the negotiated protocol version (major<<8 | minor).
func (c *Conn) Version() uint32 { return c.version }

// Server returns the server agent string reported during HELLO.
func (c *Conn) Server() string { return c.server }

// State returns the connection's current lifecycle state.
func (c *Conn) State() State { return c.state }

// Healthy reports whether the connection may be returned to an idle pool.
func (c *Conn) Healthy() bool { return c.state == StateReady }

// markFailed moves the connection to the Failed state. A failed connection
// is never re-leased; the pool closes it on release.
func (c *Conn) markFailed() {
	c.state = StateFailed
}

// Close sends a best-effort GOODBYE and closes the socket.
func (c *Conn) Close() error {
	if c.netConn == nil {
		return nil
	}
	if c.state == StateReady {
		// GOODBYE has no response; failure to send it is irrelevant since
		// the socket is going away regardless.
		_ = c.writeMessage(MsgGoodbye)
		_ = c.writer.Flush()
	}
	c.state = StateDisconnected
	err := c.netConn.Close()
	c.netConn = nil
	return err
}

// applyDeadline maps a context deadline onto the socket. No deadline clears
// any previous one.
func (c *Conn) applyDeadline(ctx context.Context) {
	if deadline, ok := ctx.Deadline(); ok {
		c.netConn.SetDeadline(deadline)
	} else {
		c.netConn.SetDeadline(time.Time{})
	}
}

// exchange sends one request message and reads one response.
func (c *Conn) exchange(ctx context.Context, tag byte, fields ...any) (*response, error) {
	if err := c.send(ctx, tag, fields...); err != nil {
		return nil, err
	}
	return c.receive(ctx)
}

// send frames and writes a single message.
func (c *Conn) send(ctx context.Context, tag byte, fields ...any) error {
	if c.netConn == nil {
		return &ConnectionError{Op: "send", Err: ErrClosed}
	}
	c.applyDeadline(ctx)
	if err := c.writeMessage(tag, fields...); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		c.markFailed()
		return &ConnectionError{Op: "flush", Err: err}
	}
	c.logf("sent message 0x%02X", tag)
	return nil
}

// writeMessage encodes a message structure and writes it as chunks into the
// buffered writer. Messages larger than a single chunk are split; every
// message ends with a zero-length terminator chunk.
func (c *Conn) writeMessage(tag byte, fields ...any) error {
	buf := append(c.sendBuf[:0], byte(0xB0+len(fields)), tag)
	var err error
	for _, f := range fields {
		buf, err = packstream.Append(buf, graph.Dehydrate(f))
		if err != nil {
			return &ProtocolError{Reason: "encode message", Err: err}
		}
	}
	c.sendBuf = buf

	for len(buf) > 0 {
		chunk := buf
		if len(chunk) > maxChunkSize {
			chunk = chunk[:maxChunkSize]
		}
		header := [2]byte{byte(len(chunk) >> 8), byte(len(chunk))}
		if _, err := c.writer.Write(header[:]); err != nil {
			c.markFailed()
			return &ConnectionError{Op: "write", Err: err}
		}
		if _, err := c.writer.Write(chunk); err != nil {
			c.markFailed()
			return &ConnectionError{Op: "write", Err: err}
		}
		buf = buf[len(chunk):]
	}
	if _, err := c.writer.Write([]byte{0, 0}); err != nil {
		c.markFailed()
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// receive reassembles one complete message from chunks and decodes it.
func (c *Conn) receive(ctx context.Context) (*response, error) {
	if c.netConn == nil {
		return nil, &ConnectionError{Op: "receive", Err: ErrClosed}
	}
	c.applyDeadline(ctx)

	// Read chunks until the zero-length terminator.
	c.messageBuf = c.messageBuf[:0]
	for {
		if _, err := io.ReadFull(c.reader, c.headerBuf[:]); err != nil {
			c.markFailed()
			return nil, &ConnectionError{Op: "read", Err: err}
		}
		size := int(c.headerBuf[0])<<8 | int(c.headerBuf[1])
		if size == 0 {
			if len(c.messageBuf) > 0 {
				break
			}
			continue // noop chunk between messages
		}
		oldLen := len(c.messageBuf)
		if cap(c.messageBuf) < oldLen+size {
			grown := make([]byte, oldLen, (oldLen+size)*2)
			copy(grown, c.messageBuf)
			c.messageBuf = grown
		}
		c.messageBuf = c.messageBuf[:oldLen+size]
		if _, err := io.ReadFull(c.reader, c.messageBuf[oldLen:]); err != nil {
			c.markFailed()
			return nil, &ConnectionError{Op: "read", Err: err}
		}
	}

	v, n, err := packstream.Decode(c.messageBuf)
	if err != nil {
		c.markFailed()
		return nil, &ProtocolError{Reason: "decode message", Err: err}
	}
	if n != len(c.messageBuf) {
		c.markFailed()
		return nil, &ProtocolError{Reason: fmt.Sprintf("%d trailing bytes after message", len(c.messageBuf)-n)}
	}
	msg, ok := v.(packstream.Structure)
	if !ok {
		c.markFailed()
		return nil, &ProtocolError{Reason: fmt.Sprintf("message is %T, not a structure", v)}
	}
	c.logf("received message 0x%02X", msg.Tag)
	return &response{tag: msg.Tag, fields: msg.Fields}, nil
}

func (c *Conn) logf(format string, args ...any) {
	if c.log != nil {
		c.log(format, args...)
	}
}

// successMeta extracts the metadata map from a SUCCESS response.
func successMeta(r *response) map[string]any {
	if len(r.fields) > 0 {
		if m, ok := r.fields[0].(map[string]any); ok {
			return m
		}
	}
	return map[string]any{}
}

// failureDetail extracts code and message from a FAILURE response.
func failureDetail(r *response) (string, string) {
	meta := successMeta(r)
	code, _ := meta["code"].(string)
	message, _ := meta["message"].(string)
	return code, message
}
