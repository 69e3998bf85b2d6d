// Package nornic is the top-level client driver for NornicDB and other
// Bolt-compatible graph databases.
//
// A Graph owns a bounded connection pool. Queries run either as auto-commit
// units of work or inside an explicit transaction:
//
//	g, err := nornic.Open(config.Default())
//	if err != nil { ... }
//	defer g.Close()
//
//	result, err := g.Execute(ctx, nornic.NewQuery(
//		"MATCH (p:Person {name: $name}) RETURN p").Param("name", "Freya"))
//	if err != nil { ... }
//	defer result.Close(ctx)
//
//	for {
//		row, err := result.Next(ctx)
//		if err != nil { ... }
//		if row == nil {
//			break
//		}
//		person, err := row.GetNode("p")
//		...
//	}
//
// Explicit transactions lease one connection for their whole lifetime:
//
//	tx, err := g.Begin(ctx)
//	stream, err := tx.Run(ctx, nornic.NewQuery("CREATE (n:Item) RETURN n"))
//	...
//	bookmark, err := tx.Commit(ctx)
package nornic

import (
	"context"
	"fmt"

	"github.com/orneryd/nornic-go/pkg/bolt"
	"github.com/orneryd/nornic-go/pkg/config"
	"github.com/orneryd/nornic-go/pkg/graph"
	"github.com/orneryd/nornic-go/pkg/pool"
)

// Graph is a handle to one graph database, safe for concurrent use. All
// operations draw connections from its pool; distinct leases proceed fully
// concurrently.
type Graph struct {
	cfg  config.Config
	pool *pool.Pool

	// Logger receives protocol traces when set before first use.
	Logger bolt.Logger
}

// Open validates the configuration and creates the connection pool.
// Connections are dialed lazily on first use.
func Open(cfg config.Config) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr, err := cfg.Address()
	if err != nil {
		return nil, err
	}

	g := &Graph{cfg: cfg}
	g.pool = pool.New(cfg.MaxConnections, func(ctx context.Context) (pool.Conn, error) {
		return bolt.Connect(ctx, bolt.Options{
			Address:        addr,
			Username:       cfg.Username,
			Password:       cfg.Password,
			UserAgent:      cfg.UserAgent,
			ConnectTimeout: cfg.ConnectTimeout,
			Logger:         g.Logger,
		})
	})
	return g, nil
}

// Connect is a convenience constructor from a URI and credentials.
func Connect(uri, username, password string) (*Graph, error) {
	cfg := config.Default()
	cfg.URI = uri
	cfg.Username = username
	cfg.Password = password
	return Open(cfg)
}

// Close drains the pool, closing every connection.
func (g *Graph) Close() error {
	return g.pool.Close()
}

// acquire leases a bolt connection from the pool.
func (g *Graph) acquire(ctx context.Context) (*bolt.Conn, error) {
	c, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	conn, ok := c.(*bolt.Conn)
	if !ok {
		g.pool.Discard(c)
		return nil, fmt.Errorf("nornic: pool returned %T", c)
	}
	return conn, nil
}

// Run executes a query as an auto-commit unit of work and discards its
// result rows. Use it for writes where only success matters.
func (g *Graph) Run(ctx context.Context, q *Query) error {
	result, err := g.Execute(ctx, q)
	if err != nil {
		return err
	}
	return result.Close(ctx)
}

// Execute submits an auto-commit query and returns a streaming result. The
// leased connection returns to the pool when the result is exhausted or
// closed.
func (g *Graph) Execute(ctx context.Context, q *Query) (*Result, error) {
	conn, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx := bolt.AutoCommit(conn, bolt.TxConfig{
		Bookmarks: q.bookmarks,
		FetchSize: g.cfg.FetchSize,
	})
	stream, err := tx.Run(ctx, q.text, q.params)
	if err != nil {
		g.pool.Release(conn)
		return nil, err
	}
	return &Result{graph: g, conn: conn, tx: tx, stream: stream}, nil
}

// Begin opens an explicit transaction on a dedicated connection.
func (g *Graph) Begin(ctx context.Context) (*Tx, error) {
	conn, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	btx, err := bolt.Begin(ctx, conn, bolt.TxConfig{FetchSize: g.cfg.FetchSize})
	if err != nil {
		g.pool.Release(conn)
		return nil, err
	}
	return &Tx{graph: g, conn: conn, tx: btx}, nil
}

// Result is a streaming auto-commit query result. It owns its connection
// lease until exhaustion or Close.
type Result struct {
	graph    *Graph
	conn     *bolt.Conn
	tx       *bolt.Tx
	stream   *bolt.Stream
	released bool
}

// Keys returns the declared field names.
func (r *Result) Keys() []string { return r.stream.Keys() }

// Next returns the next row, or (nil, nil) at end of stream. The connection
// is released back to the pool as soon as the stream is exhausted.
func (r *Result) Next(ctx context.Context) (*graph.Row, error) {
	row, err := r.stream.Next(ctx)
	if err != nil {
		r.release()
		return nil, err
	}
	if row == nil {
		r.release()
	}
	return row, nil
}

// Summary returns the terminal metadata; nil until exhaustion.
func (r *Result) Summary() map[string]any { return r.stream.Summary() }

// Bookmark returns the bookmark issued when the auto-commit query
// completed; empty until then.
func (r *Result) Bookmark() string { return r.tx.Bookmark() }

// Close discards any unconsumed rows and releases the connection. Dropping
// a Result without Close leaks its pool slot until the pool itself closes.
func (r *Result) Close(ctx context.Context) error {
	if r.released {
		return nil
	}
	err := r.stream.Close(ctx)
	r.release()
	return err
}

func (r *Result) release() {
	if !r.released {
		r.released = true
		r.graph.pool.Release(r.conn)
	}
}

// Tx is an explicit transaction holding one leased connection. Commit and
// Rollback release the lease; a transaction abandoned without either leaks
// its pool slot until the pool closes.
type Tx struct {
	graph    *Graph
	conn     *bolt.Conn
	tx       *bolt.Tx
	released bool
}

// Run executes a query inside the transaction. The previous stream must be
// exhausted or closed first; exchanges on one connection never interleave.
func (t *Tx) Run(ctx context.Context, q *Query) (*bolt.Stream, error) {
	return t.tx.Run(ctx, q.text, q.params)
}

// Commit commits the transaction, releases the connection, and returns the
// server bookmark for causal chaining.
func (t *Tx) Commit(ctx context.Context) (string, error) {
	bookmark, err := t.tx.Commit(ctx)
	t.release()
	return bookmark, err
}

// Rollback abandons the transaction and releases the connection. On a
// poisoned transaction this resets the session first.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	t.release()
	return err
}

func (t *Tx) release() {
	if !t.released {
		t.released = true
		t.graph.pool.Release(t.conn)
	}
}
