package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/config"
	"github.com/matheus3301/shopchat/internal/lock"
	"github.com/matheus3301/shopchat/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func testParams(t *testing.T) Params {
	t.Helper()
	cfg := config.Default()
	cfg.Server.DataDir = t.TempDir()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	return Params{Config: cfg, Listener: listener, Logger: zap.NewNop()}
}

func TestDaemonLifecycle(t *testing.T) {
	var srv *Server
	app := fxtest.New(t, Module(testParams(t)), fx.NopLogger, fx.Populate(&srv))
	app.RequireStart()
	defer app.RequireStop()

	base := "http://" + srv.Addr().String()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	alice, err := remote.New(base, "alice")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = alice.CreateMessage(ctx, chat.Message{ID: "m-1", SenderID: "alice", RecipientID: "bob", Body: "hi"})
	require.NoError(t, err)

	bob, err := remote.New(base, "bob")
	require.NoError(t, err)
	counts, err := bob.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, counts["alice"])
}

func TestDaemonRefusesHeldDataDir(t *testing.T) {
	p := testParams(t)
	defer func() { _ = p.Listener.Close() }()

	held, err := lock.Acquire(p.Config.Server.DataDir, "other")
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	app := fx.New(Module(p), fx.NopLogger)
	err = app.Err()
	require.Error(t, err)

	var lockErr *lock.LockHeldError
	assert.True(t, errors.As(err, &lockErr))
}
