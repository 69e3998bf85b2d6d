package nornic_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornic-go/pkg/bolt"
	"github.com/orneryd/nornic-go/pkg/bolttest"
	"github.com/orneryd/nornic-go/pkg/config"
	"github.com/orneryd/nornic-go/pkg/nornic"
)

func openGraph(t *testing.T, srv *bolttest.Server) *nornic.Graph {
	t.Helper()
	cfg := config.Default()
	cfg.URI = "bolt://" + srv.Addr()
	g, err := nornic.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestExecute(t *testing.T) {
	srv := bolttest.New(t)
	srv.On("MATCH (p:Person) RETURN p.name AS name", bolttest.Result{
		Fields: []string{"name"},
		Rows:   [][]any{{"Freya"}, {"Odin"}},
	})
	g := openGraph(t, srv)

	ctx := context.Background()
	result, err := g.Execute(ctx, nornic.NewQuery("MATCH (p:Person) RETURN p.name AS name"))
	require.NoError(t, err)
	defer result.Close(ctx)

	assert.Equal(t, []string{"name"}, result.Keys())

	var names []string
	for {
		row, err := result.Next(ctx)
		require.NoError(t, err)
		if row == nil {
			break
		}
		name, err := row.GetString("name")
		require.NoError(t, err)
		names = append(names, name)
	}
	assert.Equal(t, []string{"Freya", "Odin"}, names)
	assert.NotEmpty(t, result.Bookmark())
	assert.NotNil(t, result.Summary())
}

func TestExecuteReleasesConnectionForReuse(t *testing.T) {
	srv := bolttest.New(t)
	srv.On("RETURN 1 AS x", bolttest.Result{
		Fields: []string{"x"},
		Rows:   [][]any{{int64(1)}},
	})

	cfg := config.Default()
	cfg.URI = "bolt://" + srv.Addr()
	cfg.MaxConnections = 1
	g, err := nornic.Open(cfg)
	require.NoError(t, err)
	defer g.Close()

	// With a single-connection pool, sequential queries only work if each
	// result releases its lease.
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Run(ctx, nornic.NewQuery("RETURN 1 AS x")))
	}
}

func TestExecuteQueryError(t *testing.T) {
	srv := bolttest.New(t)
	srv.FailOn("BAD", "Neo.ClientError.Statement.SyntaxError", "bad")
	g := openGraph(t, srv)

	_, err := g.Execute(context.Background(), nornic.NewQuery("BAD"))
	require.Error(t, err)

	var queryErr *bolt.QueryError
	require.True(t, errors.As(err, &queryErr))
	assert.Equal(t, "Neo.ClientError.Statement.SyntaxError", queryErr.Code)
}

func TestTransactionCommit(t *testing.T) {
	srv := bolttest.New(t)
	srv.On("CREATE (n:Item) RETURN n.id AS id", bolttest.Result{
		Fields: []string{"id"},
		Rows:   [][]any{{int64(1)}},
	})
	g := openGraph(t, srv)

	ctx := context.Background()
	tx, err := g.Begin(ctx)
	require.NoError(t, err)

	stream, err := tx.Run(ctx, nornic.NewQuery("CREATE (n:Item) RETURN n.id AS id"))
	require.NoError(t, err)
	for {
		row, err := stream.Next(ctx)
		require.NoError(t, err)
		if row == nil {
			break
		}
	}

	bookmark, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, bookmark)
}

func TestTransactionRollback(t *testing.T) {
	srv := bolttest.New(t)
	g := openGraph(t, srv)

	ctx := context.Background()
	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.URI = "http://wrong-scheme:7687"
	_, err := nornic.Open(cfg)
	assert.Error(t, err)
}

func TestQueryBuilder(t *testing.T) {
	q := nornic.NewQuery("MATCH (n) WHERE n.name = $name RETURN n").
		Param("name", "Tyr").
		Params(map[string]any{"limit": int64(10)}).
		After("bookmark-1", "bookmark-2")
	assert.Equal(t, "MATCH (n) WHERE n.name = $name RETURN n", q.Text())
}
