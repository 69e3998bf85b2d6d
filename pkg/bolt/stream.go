package bolt

import (
	"context"
	"fmt"

	"github.com/orneryd/nornic-go/pkg/graph"
)

// Stream is a pull cursor over one query's results. Records arrive in
// batches: the stream buffers one batch of decoded rows and issues a further
// PULL when the buffer drains and the server has indicated more records.
//
// A stream dropped before exhaustion must be Closed, which sends DISCARD so
// the server abandons the remainder and the connection returns to a clean
// Ready state. A stream that cannot be cleaned up leaves the connection in
// the Failed state, where the pool will evict instead of reuse it.
type Stream struct {
	tx   *Tx
	conn *Conn

	keys      []string
	fetchSize int64

	buf  []graph.Row
	head int

	hasMore   bool
	exhausted bool
	summary   map[string]any
}

// Keys returns the field names declared by the query.
func (s *Stream) Keys() []string { return s.keys }

// Next returns the next record in server-send order. It returns (nil, nil)
// at end of stream, consistently on every call after the terminal summary.
func (s *Stream) Next(ctx context.Context) (*graph.Row, error) {
	for {
		if s.head < len(s.buf) {
			row := s.buf[s.head]
			s.head++
			return &row, nil
		}
		if s.exhausted {
			return nil, nil
		}
		if err := s.fill(ctx); err != nil {
			return nil, err
		}
	}
}

// fill issues one PULL and buffers the resulting batch.
func (s *Stream) fill(ctx context.Context) error {
	if s.tx.state == TxFailed {
		return &TransactionError{State: TxFailed, Op: "pull on"}
	}
	if !s.hasMore || s.exhausted {
		s.exhausted = true
		return nil
	}

	s.buf = s.buf[:0]
	s.head = 0

	if err := s.conn.send(ctx, MsgPull, map[string]any{"n": s.fetchSize}); err != nil {
		return err
	}
	for {
		resp, err := s.conn.receive(ctx)
		if err != nil {
			return err
		}
		switch resp.tag {
		case MsgRecord:
			row, err := s.decodeRecord(resp)
			if err != nil {
				s.conn.markFailed()
				return err
			}
			s.buf = append(s.buf, row)
		case MsgSuccess:
			meta := successMeta(resp)
			if more, ok := meta["has_more"].(bool); ok && more {
				s.hasMore = true
				return nil
			}
			s.finish(meta)
			return nil
		case MsgFailure:
			code, message := failureDetail(resp)
			s.tx.fail()
			return &QueryError{Code: code, Message: message}
		case MsgIgnored:
			s.tx.fail()
			return &TransactionError{State: TxFailed, Op: "pull on"}
		default:
			s.conn.markFailed()
			return &ProtocolError{Reason: fmt.Sprintf("unexpected response 0x%02X to PULL", resp.tag)}
		}
	}
}

// decodeRecord converts a RECORD message into a materialized row.
func (s *Stream) decodeRecord(resp *response) (graph.Row, error) {
	if len(resp.fields) == 0 {
		return graph.Row{}, &ProtocolError{Reason: "RECORD message without values"}
	}
	raw, ok := resp.fields[0].([]any)
	if !ok {
		return graph.Row{}, &ProtocolError{Reason: fmt.Sprintf("RECORD values are %T, not a list", resp.fields[0])}
	}
	if len(raw) != len(s.keys) {
		return graph.Row{}, &ProtocolError{Reason: fmt.Sprintf("RECORD has %d values for %d fields", len(raw), len(s.keys))}
	}
	values := make([]any, len(raw))
	for i, v := range raw {
		hydrated, err := graph.Hydrate(v)
		if err != nil {
			return graph.Row{}, &ProtocolError{Reason: "decode record value", Err: err}
		}
		values[i] = hydrated
	}
	return graph.NewRow(s.keys, values), nil
}

// finish records the terminal summary and releases the streaming state.
func (s *Stream) finish(summary map[string]any) {
	s.exhausted = true
	s.hasMore = false
	s.summary = summary
	s.tx.streamDone(summary)
}

// Summary returns the post-completion metadata (query type, bookmark,
// statistics). Nil until the stream is exhausted.
func (s *Stream) Summary() map[string]any { return s.summary }

// Close discards any unconsumed remainder of the stream. Buffered rows are
// dropped; if the server still holds records, DISCARD is sent so the
// connection comes back to a clean Ready state. A discard that fails leaves
// the connection Failed, forcing pool eviction instead of reuse.
func (s *Stream) Close(ctx context.Context) error {
	if s.exhausted {
		return nil
	}
	s.buf = nil
	s.head = 0

	if s.tx.state == TxFailed {
		// Nothing in flight server-side after a failure.
		s.exhausted = true
		return nil
	}

	resp, err := s.conn.exchange(ctx, MsgDiscard, map[string]any{"n": int64(-1)})
	if err != nil {
		return err
	}
	switch resp.tag {
	case MsgSuccess:
		s.finish(successMeta(resp))
		return nil
	case MsgFailure:
		code, message := failureDetail(resp)
		s.tx.fail()
		return &QueryError{Code: code, Message: message}
	default:
		s.conn.markFailed()
		return &ProtocolError{Reason: fmt.Sprintf("unexpected response 0x%02X to DISCARD", resp.tag)}
	}
}
