package rpc

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/fabric/pkg/core"
	"github.com/relaywire/fabric/pkg/wire"
)

func TestConnection_RequestResponseRoundTrip(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	serverRouter := NewRouter()
	serverRouter.Handle("echo", Typed(func(ctx context.Context, data map[string]string, conn *Connection) (any, error) {
		return data, nil
	}))
	server := New(connB, serverRouter)
	client := New(connA, NewRouter())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)
	go client.Serve(ctx)

	raw, err := client.SendRequest(ctx, "echo", map[string]string{"x": "y"})
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "y", got["x"])
}

func TestConnection_UnknownRequestType(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	server := New(connB, NewRouter())
	client := New(connA, NewRouter())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)
	go client.Serve(ctx)

	_, err := client.SendRequest(ctx, "does-not-exist", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown request type")
}

func TestConnection_InvalidPasswordClosesConnection(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	server := New(connB, NewRouter(), WithPassword("secret"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)

	req := wire.Message{Type: wire.MsgRequest, Request: &wire.Request{No: 5, Type: "status"}}
	raw, err := wire.Encode(req)
	require.NoError(t, err)

	go func() { connA.Write(raw) }()

	scanner := wire.NewScanner(connA)
	resp, err := scanner.Next()
	require.NoError(t, err)
	require.NotNil(t, resp.Response)
	assert.Equal(t, 5, resp.Response.No)
	assert.Equal(t, core.ErrInvalidPassword.Error(), resp.Response.Error)
}

func TestConnection_CorrectPasswordAuthorizes(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	router := NewRouter()
	router.Handle("status", Typed(func(ctx context.Context, data map[string]any, conn *Connection) (any, error) {
		return "ok", nil
	}))
	server := New(connB, router, WithPassword("secret"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)

	req := wire.Message{Type: wire.MsgRequest, Request: &wire.Request{No: 1, Type: "status", Password: "secret"}}
	raw, err := wire.Encode(req)
	require.NoError(t, err)
	go func() { connA.Write(raw) }()

	scanner := wire.NewScanner(connA)
	resp, err := scanner.Next()
	require.NoError(t, err)
	assert.Empty(t, resp.Response.Error)
}

func TestConnection_PingIsAnsweredWithPong(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	server := New(connB, NewRouter())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)

	raw, err := wire.Encode(wire.Ping)
	require.NoError(t, err)
	go func() { connA.Write(raw) }()

	scanner := wire.NewScanner(connA)
	msg, err := scanner.Next()
	require.NoError(t, err)
	assert.Equal(t, wire.MsgPong, msg.Type)
}

func TestConnection_TeardownFailsPendingRequests(t *testing.T) {
	connA, connB := net.Pipe()
	connB.Close()

	c := New(connA, NewRouter())
	ch := make(chan wire.Response, 1)
	c.pendingMu.Lock()
	c.pending[42] = ch
	c.pendingMu.Unlock()

	c.teardown()

	select {
	case resp := <-ch:
		assert.Equal(t, core.ErrSocketClosed.Error(), resp.Error)
	case <-time.After(time.Second):
		t.Fatal("pending request was not failed on teardown")
	}
}

func TestConnection_AlwaysAllowLocalhostWithPipeAddrIsNotLoopback(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	c := New(connB, NewRouter(), WithPassword("secret"), WithAlwaysAllowLocalhost(true))
	assert.False(t, c.authorized)
}
