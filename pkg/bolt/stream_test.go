package bolt_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornic-go/pkg/bolt"
	"github.com/orneryd/nornic-go/pkg/bolttest"
	"github.com/orneryd/nornic-go/pkg/graph"
	"github.com/orneryd/nornic-go/pkg/packstream"
)

func TestStreamOrderAcrossBatches(t *testing.T) {
	srv := bolttest.New(t)
	srv.On("MANY", bolttest.Result{
		Fields: []string{"x"},
		Rows:   countingRows(7),
	})
	conn := dial(t, srv)

	// A batch size smaller than the result forces has_more continuation.
	ctx := context.Background()
	tx := bolt.AutoCommit(conn, bolt.TxConfig{FetchSize: 3})
	stream, err := tx.Run(ctx, "MANY", nil)
	require.NoError(t, err)

	rows := drain(t, ctx, stream)
	require.Len(t, rows, 7)
	for i, row := range rows {
		x, err := row.GetInt("x")
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), x, "rows must arrive in server-send order")
	}

	summary := stream.Summary()
	require.NotNil(t, summary)
	assert.Contains(t, summary, "bookmark")
}

func TestStreamSingleBatchPullAll(t *testing.T) {
	srv := bolttest.New(t)
	srv.On("MANY", bolttest.Result{
		Fields: []string{"x"},
		Rows:   countingRows(50),
	})
	conn := dial(t, srv)

	ctx := context.Background()
	tx := bolt.AutoCommit(conn, bolt.TxConfig{FetchSize: -1})
	stream, err := tx.Run(ctx, "MANY", nil)
	require.NoError(t, err)
	assert.Len(t, drain(t, ctx, stream), 50)
}

func TestStreamEmptyResult(t *testing.T) {
	srv := bolttest.New(t)
	srv.On("NOTHING", bolttest.Result{Fields: []string{"x"}})
	conn := dial(t, srv)

	ctx := context.Background()
	tx := bolt.AutoCommit(conn, bolt.TxConfig{})
	stream, err := tx.Run(ctx, "NOTHING", nil)
	require.NoError(t, err)

	row, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.NotNil(t, stream.Summary())
	assert.Equal(t, bolt.TxCommitted, tx.State())
}

func TestStreamEarlyCloseDiscardsAndRecovers(t *testing.T) {
	srv := bolttest.New(t)
	srv.On("MANY", bolttest.Result{
		Fields: []string{"x"},
		Rows:   countingRows(100),
	})
	srv.On("RETURN 1 AS x", bolttest.Result{
		Fields: []string{"x"},
		Rows:   [][]any{{int64(1)}},
	})
	conn := dial(t, srv)

	ctx := context.Background()
	tx := bolt.AutoCommit(conn, bolt.TxConfig{FetchSize: 2})
	stream, err := tx.Run(ctx, "MANY", nil)
	require.NoError(t, err)

	row, err := stream.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, row)

	// Abandoning the rest sends DISCARD and the connection comes back clean.
	require.NoError(t, stream.Close(ctx))
	assert.True(t, conn.Healthy())
	assert.NotNil(t, stream.Summary())

	next := bolt.AutoCommit(conn, bolt.TxConfig{})
	fresh, err := next.Run(ctx, "RETURN 1 AS x", nil)
	require.NoError(t, err)
	assert.Len(t, drain(t, ctx, fresh), 1)
}

func TestStreamCloseAfterExhaustionIsNoop(t *testing.T) {
	srv := bolttest.New(t)
	srv.On("RETURN 1 AS x", bolttest.Result{
		Fields: []string{"x"},
		Rows:   [][]any{{int64(1)}},
	})
	conn := dial(t, srv)

	ctx := context.Background()
	tx := bolt.AutoCommit(conn, bolt.TxConfig{})
	stream, err := tx.Run(ctx, "RETURN 1 AS x", nil)
	require.NoError(t, err)
	drain(t, ctx, stream)

	before := srv.MessageCount()
	require.NoError(t, stream.Close(ctx))
	assert.Equal(t, before, srv.MessageCount(), "closing an exhausted stream sends nothing")
}

func TestStreamHydratesGraphValues(t *testing.T) {
	srv := bolttest.New(t)
	srv.On("MATCH (n) RETURN n, n.score AS score", bolttest.Result{
		Fields: []string{"n", "score"},
		Rows: [][]any{{
			packstream.Structure{
				Tag: graph.TagNode,
				Fields: []any{
					int64(11),
					[]any{"Person"},
					map[string]any{"name": "Heimdall"},
				},
			},
			2.5,
		}},
	})
	conn := dial(t, srv)

	ctx := context.Background()
	tx := bolt.AutoCommit(conn, bolt.TxConfig{})
	stream, err := tx.Run(ctx, "MATCH (n) RETURN n, n.score AS score", nil)
	require.NoError(t, err)

	rows := drain(t, ctx, stream)
	require.Len(t, rows, 1)

	node, err := rows[0].GetNode("n")
	require.NoError(t, err)
	assert.Equal(t, int64(11), node.ID)
	assert.True(t, node.HasLabel("Person"))
	assert.Equal(t, "Heimdall", node.Props["name"])

	score, err := rows[0].GetFloat("score")
	require.NoError(t, err)
	assert.Equal(t, 2.5, score)
}

func TestStreamRowsOutliveConnection(t *testing.T) {
	srv := bolttest.New(t)
	srv.On("RETURN 1 AS x", bolttest.Result{
		Fields: []string{"x"},
		Rows:   [][]any{{int64(1)}},
	})
	conn := dial(t, srv)

	ctx := context.Background()
	tx := bolt.AutoCommit(conn, bolt.TxConfig{})
	stream, err := tx.Run(ctx, "RETURN 1 AS x", nil)
	require.NoError(t, err)
	rows := drain(t, ctx, stream)
	require.NoError(t, conn.Close())

	// Rows are materialized snapshots.
	x, err := rows[0].GetInt("x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), x)
}

func TestStreamUnknownQueryFails(t *testing.T) {
	srv := bolttest.New(t)
	conn := dial(t, srv)

	ctx := context.Background()
	tx := bolt.AutoCommit(conn, bolt.TxConfig{})
	_, err := tx.Run(ctx, "UNREGISTERED", nil)
	require.Error(t, err)

	var queryErr *bolt.QueryError
	require.True(t, errors.As(err, &queryErr))
	assert.Equal(t, "Neo.ClientError.Statement.SyntaxError", queryErr.Code)
}
