package barrier

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_ReleasesWhenAllReady(t *testing.T) {
	b := NewLocal(3)
	ctx := context.Background()

	var released sync.WaitGroup
	released.Add(3)
	for i := 0; i < 3; i++ {
		go func() {
			defer released.Done()
			assert.NoError(t, b.Wait(ctx))
		}()
	}

	require.NoError(t, b.Ready(ctx))
	require.NoError(t, b.Ready(ctx))

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Wait(short), context.DeadlineExceeded, "barrier must hold until the last node is ready")

	require.NoError(t, b.Ready(ctx))
	released.Wait()

	assert.ErrorIs(t, b.Ready(ctx), ErrOverfull)
	assert.NoError(t, b.Close())
}

func TestLocal_Empty(t *testing.T) {
	assert.NoError(t, NewLocal(0).Wait(context.Background()))
}

// freeAddr reserves a loopback port and releases it for the caller.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestHealth_WaitsForPeers(t *testing.T) {
	addrA := freeAddr(t)

	a := NewHealth(addrA, nil, nil)
	b := NewHealth("127.0.0.1:0", []string{addrA}, nil)
	b.PollInterval = 20 * time.Millisecond
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, b.Ready(ctx))

	done := make(chan error, 1)
	go func() { done <- b.Wait(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Wait returned before peer was ready: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, a.Ready(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after peer became ready")
	}
}

func TestHealth_WaitTimesOut(t *testing.T) {
	h := NewHealth("127.0.0.1:0", []string{freeAddr(t)}, nil)
	h.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
	assert.NoError(t, h.Close())
}

func TestHealth_ReadyBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	h := NewHealth(ln.Addr().String(), nil, nil)
	assert.Error(t, h.Ready(context.Background()))
}
