// Package bolttest provides an in-process Bolt server for driver tests.
//
// The server speaks enough of the Bolt 4.x protocol to exercise a client end
// to end over a real TCP socket: handshake version negotiation, HELLO
// authentication, RUN/PULL/DISCARD streaming with has_more batching, and
// BEGIN/COMMIT/ROLLBACK/RESET session control. Results are canned: register
// a query with On and the server streams its rows.
//
//	srv := bolttest.New(t)
//	srv.On("RETURN 1 AS x", bolttest.Result{
//		Fields: []string{"x"},
//		Rows:   [][]any{{int64(1)}},
//	})
//	conn, err := bolt.Connect(ctx, bolt.Options{Address: srv.Addr()})
package bolttest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/orneryd/nornic-go/pkg/packstream"
)

// Message tags, mirrored from the protocol.
const (
	msgHello    byte = 0x01
	msgGoodbye  byte = 0x02
	msgReset    byte = 0x0F
	msgRun      byte = 0x10
	msgBegin    byte = 0x11
	msgCommit   byte = 0x12
	msgRollback byte = 0x13
	msgDiscard  byte = 0x2F
	msgPull     byte = 0x3F

	msgSuccess byte = 0x70
	msgRecord  byte = 0x71
	msgIgnored byte = 0x7E
	msgFailure byte = 0x7F
)

// Result is a canned query result.
type Result struct {
	Fields []string
	Rows   [][]any
}

// Failure is a canned server failure.
type Failure struct {
	Code    string
	Message string
}

// Server is an in-process Bolt endpoint for tests.
type Server struct {
	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	versions []uint32
	authFail *Failure
	results  map[string]Result
	failures map[string]Failure

	closed      atomic.Bool
	msgCount    atomic.Int64
	bookmarkSeq atomic.Int64
}

// New starts a server on a random loopback port, supporting all Bolt 4.x
// versions. It is shut down automatically when the test finishes.
func New(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("bolttest: listen: %v", err)
	}
	s := &Server{
		ln:       ln,
		versions: []uint32{0x0404, 0x0403, 0x0402, 0x0401},
		results:  make(map[string]Result),
		failures: make(map[string]Failure),
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// SupportVersions restricts the versions the handshake will accept.
func (s *Server) SupportVersions(versions ...uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = versions
}

// RejectAuth makes every HELLO fail with the given code and message.
func (s *Server) RejectAuth(code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authFail = &Failure{Code: code, Message: message}
}

// On registers a canned result for a query string.
func (s *Server) On(query string, result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[query] = result
}

// FailOn makes a query string produce a FAILURE response, after which the
// session ignores everything until RESET.
func (s *Server) FailOn(query string, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[query] = Failure{Code: code, Message: message}
}

// MessageCount returns the number of request messages received across all
// connections. Tests use it to prove that locally rejected operations send
// no bytes.
func (s *Server) MessageCount() int64 { return s.msgCount.Load() }

// Close stops accepting and waits for in-flight connections to finish.
func (s *Server) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.ln.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// session is one client connection's state.
type session struct {
	srv    *Server
	reader *bufio.Reader
	writer *bufio.Writer

	inTx   bool
	failed bool // FAILURE sent; IGNORED until RESET

	fields []string
	rows   [][]any
	cursor int
	open   bool // a result is streamable
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	sess := &session{
		srv:    s,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
	if err := sess.handshake(); err != nil {
		return
	}
	for {
		if err := sess.handleMessage(); err != nil {
			return
		}
	}
}

func (sess *session) handshake() error {
	var buf [20]byte
	if _, err := io.ReadFull(sess.reader, buf[:]); err != nil {
		return err
	}
	if buf[0] != 0x60 || buf[1] != 0x60 || buf[2] != 0xB0 || buf[3] != 0x17 {
		return fmt.Errorf("bad magic %x", buf[:4])
	}

	sess.srv.mu.Lock()
	supported := sess.srv.versions
	sess.srv.mu.Unlock()

	var chosen uint32
	for i := 0; i < 4 && chosen == 0; i++ {
		proposed := uint32(buf[4+i*4])<<24 | uint32(buf[5+i*4])<<16 |
			uint32(buf[6+i*4])<<8 | uint32(buf[7+i*4])
		for _, v := range supported {
			if proposed == v {
				chosen = proposed
				break
			}
		}
	}

	reply := [4]byte{byte(chosen >> 24), byte(chosen >> 16), byte(chosen >> 8), byte(chosen)}
	if _, err := sess.writer.Write(reply[:]); err != nil {
		return err
	}
	if err := sess.writer.Flush(); err != nil {
		return err
	}
	if chosen == 0 {
		return fmt.Errorf("no supported version")
	}
	return nil
}

// handleMessage reads one chunked message and dispatches it.
func (sess *session) handleMessage() error {
	var msg []byte
	var header [2]byte
	for {
		if _, err := io.ReadFull(sess.reader, header[:]); err != nil {
			return err
		}
		size := int(header[0])<<8 | int(header[1])
		if size == 0 {
			if len(msg) > 0 {
				break
			}
			continue
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(sess.reader, chunk); err != nil {
			return err
		}
		msg = append(msg, chunk...)
	}

	v, _, err := packstream.Decode(msg)
	if err != nil {
		return err
	}
	st, ok := v.(packstream.Structure)
	if !ok {
		return fmt.Errorf("message is not a structure")
	}
	sess.srv.msgCount.Add(1)

	switch st.Tag {
	case msgHello:
		return sess.handleHello()
	case msgGoodbye:
		return io.EOF
	case msgRun:
		return sess.handleRun(st.Fields)
	case msgPull:
		return sess.handlePull(st.Fields)
	case msgDiscard:
		return sess.handleDiscard()
	case msgBegin:
		return sess.handleBegin()
	case msgCommit:
		return sess.handleCommit()
	case msgRollback:
		return sess.handleRollback()
	case msgReset:
		sess.failed = false
		sess.inTx = false
		sess.open = false
		return sess.sendSuccess(map[string]any{})
	default:
		return fmt.Errorf("unknown message 0x%02X", st.Tag)
	}
}

func (sess *session) handleHello() error {
	sess.srv.mu.Lock()
	authFail := sess.srv.authFail
	sess.srv.mu.Unlock()
	if authFail != nil {
		return sess.sendFailure(authFail.Code, authFail.Message)
	}
	return sess.sendSuccess(map[string]any{
		"server":        "NornicDB/0.1.0",
		"connection_id": "bolttest-1",
	})
}

func (sess *session) handleRun(fields []any) error {
	if sess.failed {
		return sess.sendIgnored()
	}
	if len(fields) < 1 {
		return sess.sendFailure("Neo.ClientError.Request.Invalid", "RUN without query")
	}
	query, _ := fields[0].(string)

	sess.srv.mu.Lock()
	failure, failing := sess.srv.failures[query]
	result, known := sess.srv.results[query]
	sess.srv.mu.Unlock()

	if failing {
		sess.failed = true
		return sess.sendFailure(failure.Code, failure.Message)
	}
	if !known {
		sess.failed = true
		return sess.sendFailure("Neo.ClientError.Statement.SyntaxError", fmt.Sprintf("unknown query: %s", query))
	}

	sess.fields = result.Fields
	sess.rows = result.Rows
	sess.cursor = 0
	sess.open = true
	return sess.sendSuccess(map[string]any{
		"fields":  result.Fields,
		"t_first": int64(0),
	})
}

func (sess *session) handlePull(fields []any) error {
	if sess.failed {
		return sess.sendIgnored()
	}
	if !sess.open {
		return sess.sendSuccess(map[string]any{})
	}

	n := -1
	if len(fields) > 0 {
		if opts, ok := fields[0].(map[string]any); ok {
			if raw, ok := opts["n"].(int64); ok {
				n = int(raw)
			}
		}
	}

	remaining := len(sess.rows) - sess.cursor
	if n >= 0 && remaining > n {
		remaining = n
	}
	for i := 0; i < remaining; i++ {
		if err := sess.sendMessage(msgRecord, sess.rows[sess.cursor]); err != nil {
			return err
		}
		sess.cursor++
	}

	if sess.cursor < len(sess.rows) {
		return sess.sendSuccess(map[string]any{"has_more": true})
	}
	sess.open = false
	return sess.sendSuccess(map[string]any{
		"bookmark": sess.nextBookmark(),
		"type":     "r",
		"t_last":   int64(0),
		"db":       "neo4j",
	})
}

func (sess *session) handleDiscard() error {
	if sess.failed {
		return sess.sendIgnored()
	}
	sess.open = false
	sess.rows = nil
	sess.cursor = 0
	return sess.sendSuccess(map[string]any{
		"bookmark": sess.nextBookmark(),
		"type":     "r",
	})
}

func (sess *session) handleBegin() error {
	if sess.failed {
		return sess.sendIgnored()
	}
	sess.inTx = true
	return sess.sendSuccess(map[string]any{})
}

func (sess *session) handleCommit() error {
	if sess.failed {
		return sess.sendIgnored()
	}
	if !sess.inTx {
		return sess.sendFailure("Neo.ClientError.Transaction.TransactionNotFound", "no transaction to commit")
	}
	sess.inTx = false
	return sess.sendSuccess(map[string]any{"bookmark": sess.nextBookmark()})
}

func (sess *session) handleRollback() error {
	if sess.failed {
		return sess.sendIgnored()
	}
	sess.inTx = false
	return sess.sendSuccess(map[string]any{})
}

func (sess *session) nextBookmark() string {
	return fmt.Sprintf("bolttest:bookmark:%d", sess.srv.bookmarkSeq.Add(1))
}

func (sess *session) sendSuccess(meta map[string]any) error {
	return sess.sendMessage(msgSuccess, meta)
}

func (sess *session) sendFailure(code, message string) error {
	return sess.sendMessage(msgFailure, map[string]any{"code": code, "message": message})
}

func (sess *session) sendIgnored() error {
	return sess.sendMessage(msgIgnored)
}

// sendMessage encodes and writes one chunked message.
func (sess *session) sendMessage(tag byte, fields ...any) error {
	buf := []byte{byte(0xB0 + len(fields)), tag}
	var err error
	for _, f := range fields {
		buf, err = packstream.Append(buf, f)
		if err != nil {
			return err
		}
	}
	size := len(buf)
	header := [2]byte{byte(size >> 8), byte(size)}
	if _, err := sess.writer.Write(header[:]); err != nil {
		return err
	}
	if _, err := sess.writer.Write(buf); err != nil {
		return err
	}
	if _, err := sess.writer.Write([]byte{0, 0}); err != nil {
		return err
	}
	return sess.writer.Flush()
}
