package bolt

import (
	"context"
	"fmt"
	"time"
)

// TxState describes a transaction's lifecycle position.
type TxState int

const (
	TxIdle TxState = iota
	TxActive
	TxCommitted
	TxRolledBack
	TxFailed
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TxConfig carries per-transaction options sent in the BEGIN (or, for
// auto-commit queries, the RUN) metadata.
type TxConfig struct {
	// Bookmarks chain this transaction causally after earlier commits.
	Bookmarks []string
	// Timeout asks the server to abort the transaction after this duration.
	Timeout time.Duration
	// Metadata is attached to the transaction server-side.
	Metadata map[string]any
	// FetchSize is the number of records requested per PULL. Zero uses
	// DefaultFetchSize; a negative value pulls everything in one batch.
	FetchSize int
}

// DefaultFetchSize is the PULL batch size used when TxConfig leaves it zero.
const DefaultFetchSize = 1000

// Tx is a unit of work on one exclusively leased connection.
//
// An explicit transaction (Begin) brackets its queries with BEGIN/COMMIT or
// ROLLBACK. An auto-commit transaction (AutoCommit) sends RUN directly and
// completes implicitly when its result stream is exhausted.
//
// Any FAILURE response poisons the transaction: every further operation is
// rejected locally with TransactionError, without contacting the server,
// until Rollback or Reset clears the poison. This mirrors the server, which
// IGNOREs all work on a failed session until it is reset.
type Tx struct {
	conn     *Conn
	cfg      TxConfig
	state    TxState
	explicit bool
	bookmark string
	stream   *Stream
}

// Begin opens an explicit transaction on the connection by sending BEGIN.
func Begin(ctx context.Context, conn *Conn, cfg TxConfig) (*Tx, error) {
	if conn.State() != StateReady {
		return nil, &ConnectionError{Op: "begin", Err: fmt.Errorf("connection is %s", conn.State())}
	}
	tx := &Tx{conn: conn, cfg: cfg, state: TxIdle, explicit: true}

	resp, err := conn.exchange(ctx, MsgBegin, cfg.metadata())
	if err != nil {
		return nil, err
	}
	switch resp.tag {
	case MsgSuccess:
		tx.state = TxActive
		return tx, nil
	case MsgFailure:
		code, message := failureDetail(resp)
		conn.markFailed()
		return nil, &QueryError{Code: code, Message: message}
	default:
		conn.markFailed()
		return nil, &ProtocolError{Reason: fmt.Sprintf("unexpected response 0x%02X to BEGIN", resp.tag)}
	}
}

// AutoCommit prepares an auto-commit transaction. No BEGIN is sent; the
// first Run issues the query directly and the transaction commits implicitly
// once the stream is exhausted.
func AutoCommit(conn *Conn, cfg TxConfig) *Tx {
	return &Tx{conn: conn, cfg: cfg, state: TxIdle, explicit: false}
}

// metadata builds the BEGIN/RUN extra map from the config.
func (cfg TxConfig) metadata() map[string]any {
	meta := map[string]any{}
	if len(cfg.Bookmarks) > 0 {
		meta["bookmarks"] = cfg.Bookmarks
	}
	if ms := cfg.Timeout.Milliseconds(); ms > 0 {
		meta["tx_timeout"] = ms
	}
	if len(cfg.Metadata) > 0 {
		meta["tx_metadata"] = cfg.Metadata
	}
	return meta
}

func (cfg TxConfig) fetchSize() int64 {
	switch {
	case cfg.FetchSize == 0:
		return DefaultFetchSize
	case cfg.FetchSize < 0:
		return -1
	default:
		return int64(cfg.FetchSize)
	}
}

// State returns the transaction's current state.
func (tx *Tx) State() TxState { return tx.state }

// Bookmark returns the server-issued progress token captured on commit (or
// on auto-commit completion). Empty until then.
func (tx *Tx) Bookmark() string { return tx.bookmark }

// Conn exposes the leased connection, for release decisions by the owner.
func (tx *Tx) Conn() *Conn { return tx.conn }

// checkRunnable rejects operations on transactions that can no longer accept
// work. Nothing is sent to the server.
func (tx *Tx) checkRunnable(op string) error {
	switch tx.state {
	case TxCommitted, TxRolledBack, TxFailed:
		return &TransactionError{State: tx.state, Op: op}
	}
	if tx.stream != nil && !tx.stream.exhausted {
		return &TransactionError{State: tx.state, Op: op + " while a result stream is open"}
	}
	return nil
}

// Run submits a query and returns its result stream. The RUN message is
// followed immediately by an initial PULL for the first batch.
func (tx *Tx) Run(ctx context.Context, query string, params map[string]any) (*Stream, error) {
	if err := tx.checkRunnable("run on"); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}

	// Auto-commit queries carry the transaction options in the RUN extra
	// map; explicit transactions already sent them with BEGIN.
	extra := map[string]any{}
	if !tx.explicit {
		extra = tx.cfg.metadata()
	}

	resp, err := tx.conn.exchange(ctx, MsgRun, query, params, extra)
	if err != nil {
		return nil, err
	}
	switch resp.tag {
	case MsgSuccess:
		meta := successMeta(resp)
		keys := fieldNames(meta)
		tx.state = TxActive
		tx.conn.state = StateStreaming
		stream := &Stream{
			tx:        tx,
			conn:      tx.conn,
			keys:      keys,
			fetchSize: tx.cfg.fetchSize(),
			hasMore:   true,
		}
		tx.stream = stream
		if err := stream.fill(ctx); err != nil {
			return nil, err
		}
		return stream, nil
	case MsgFailure:
		code, message := failureDetail(resp)
		tx.fail()
		return nil, &QueryError{Code: code, Message: message}
	case MsgIgnored:
		tx.fail()
		return nil, &TransactionError{State: TxFailed, Op: "run on"}
	default:
		tx.fail()
		return nil, &ProtocolError{Reason: fmt.Sprintf("unexpected response 0x%02X to RUN", resp.tag)}
	}
}

// Commit finishes an explicit transaction and returns the server bookmark.
// An open result stream is discarded first so the connection leaves the
// streaming state.
func (tx *Tx) Commit(ctx context.Context) (string, error) {
	if !tx.explicit {
		return "", &TransactionError{State: tx.state, Op: "commit auto-commit"}
	}
	if tx.state != TxActive {
		return "", &TransactionError{State: tx.state, Op: "commit"}
	}
	if tx.stream != nil && !tx.stream.exhausted {
		if err := tx.stream.Close(ctx); err != nil {
			return "", err
		}
	}

	resp, err := tx.conn.exchange(ctx, MsgCommit)
	if err != nil {
		return "", err
	}
	switch resp.tag {
	case MsgSuccess:
		meta := successMeta(resp)
		if b, ok := meta["bookmark"].(string); ok {
			tx.bookmark = b
		}
		tx.state = TxCommitted
		return tx.bookmark, nil
	case MsgFailure:
		code, message := failureDetail(resp)
		tx.fail()
		return "", &QueryError{Code: code, Message: message}
	default:
		tx.fail()
		return "", &ProtocolError{Reason: fmt.Sprintf("unexpected response 0x%02X to COMMIT", resp.tag)}
	}
}

// Rollback abandons an explicit transaction. On a poisoned transaction it
// sends RESET instead of ROLLBACK — the server ignores everything else until
// the session is reset — and clears the poison.
func (tx *Tx) Rollback(ctx context.Context) error {
	if !tx.explicit {
		return &TransactionError{State: tx.state, Op: "rollback auto-commit"}
	}
	switch tx.state {
	case TxCommitted, TxRolledBack:
		return &TransactionError{State: tx.state, Op: "rollback"}
	case TxFailed:
		return tx.Reset(ctx)
	}
	if tx.stream != nil && !tx.stream.exhausted {
		if err := tx.stream.Close(ctx); err != nil {
			return err
		}
	}

	resp, err := tx.conn.exchange(ctx, MsgRollback)
	if err != nil {
		return err
	}
	switch resp.tag {
	case MsgSuccess:
		tx.state = TxRolledBack
		return nil
	case MsgFailure:
		code, message := failureDetail(resp)
		tx.fail()
		return &QueryError{Code: code, Message: message}
	default:
		tx.fail()
		return &ProtocolError{Reason: fmt.Sprintf("unexpected response 0x%02X to ROLLBACK", resp.tag)}
	}
}

// Reset sends RESET, returning the session to a clean state and clearing
// transaction poisoning. The connection becomes Ready again on success.
// A transaction that already committed or rolled back stays finished.
func (tx *Tx) Reset(ctx context.Context) error {
	switch tx.state {
	case TxCommitted, TxRolledBack:
		return &TransactionError{State: tx.state, Op: "reset"}
	}
	resp, err := tx.conn.exchange(ctx, MsgReset)
	if err != nil {
		return err
	}
	if resp.tag != MsgSuccess {
		code, message := failureDetail(resp)
		tx.conn.markFailed()
		return &QueryError{Code: code, Message: message}
	}
	tx.state = TxRolledBack
	tx.stream = nil
	tx.conn.state = StateReady
	return nil
}

// fail poisons the transaction after a server FAILURE. The connection
// remains in the Failed protocol state until RESET.
func (tx *Tx) fail() {
	tx.state = TxFailed
	tx.conn.markFailed()
}

// streamDone is called by the stream when the terminal summary arrives.
func (tx *Tx) streamDone(summary map[string]any) {
	tx.stream = nil
	tx.conn.state = StateReady
	if b, ok := summary["bookmark"].(string); ok {
		tx.bookmark = b
	}
	if !tx.explicit {
		// Auto-commit completes with its stream.
		tx.state = TxCommitted
	}
}

// fieldNames pulls the declared column names from RUN's SUCCESS metadata.
func fieldNames(meta map[string]any) []string {
	switch fields := meta["fields"].(type) {
	case []string:
		return fields
	case []any:
		out := make([]string, 0, len(fields))
		for _, f := range fields {
			if s, ok := f.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
