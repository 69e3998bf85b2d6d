package bolt_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornic-go/pkg/bolt"
	"github.com/orneryd/nornic-go/pkg/bolttest"
)

func dial(t *testing.T, srv *bolttest.Server) *bolt.Conn {
	t.Helper()
	conn, err := bolt.Connect(context.Background(), bolt.Options{
		Address:        srv.Addr(),
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnectNegotiatesHighestVersion(t *testing.T) {
	srv := bolttest.New(t)
	conn := dial(t, srv)

	assert.Equal(t, bolt.V4_4, conn.Version())
	assert.Equal(t, bolt.StateReady, conn.State())
	assert.True(t, conn.Healthy())
	assert.Equal(t, "NornicDB/0.1.0", conn.Server())
}

func TestConnectFallsBackToServerVersion(t *testing.T) {
	srv := bolttest.New(t)
	srv.SupportVersions(bolt.V4_3)

	conn := dial(t, srv)
	assert.Equal(t, bolt.V4_3, conn.Version())
}

func TestConnectNoCompatibleVersion(t *testing.T) {
	srv := bolttest.New(t)
	srv.SupportVersions(0x0500) // never proposed by this client

	_, err := bolt.Connect(context.Background(), bolt.Options{Address: srv.Addr()})
	require.Error(t, err)
	assert.ErrorIs(t, err, bolt.ErrNoCompatibleVersion)

	var connErr *bolt.ConnectionError
	assert.True(t, errors.As(err, &connErr))
}

func TestConnectAuthRejected(t *testing.T) {
	srv := bolttest.New(t)
	srv.RejectAuth("Neo.ClientError.Security.Unauthorized", "invalid credentials")

	_, err := bolt.Connect(context.Background(), bolt.Options{
		Address:  srv.Addr(),
		Username: "neo4j",
		Password: "wrong",
	})
	require.Error(t, err)

	var authErr *bolt.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "Neo.ClientError.Security.Unauthorized", authErr.Code)
	assert.Equal(t, "invalid credentials", authErr.Message)
}

func TestConnectDialFailure(t *testing.T) {
	// Grab a free port and close it again so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = bolt.Connect(context.Background(), bolt.Options{
		Address:        addr,
		ConnectTimeout: time.Second,
	})
	require.Error(t, err)

	var connErr *bolt.ConnectionError
	assert.True(t, errors.As(err, &connErr))
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := bolttest.New(t)
	conn := dial(t, srv)

	require.NoError(t, conn.Close())
	assert.Equal(t, bolt.StateDisconnected, conn.State())
	assert.False(t, conn.Healthy())
	assert.NoError(t, conn.Close())
}
