package cluster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/util/workerpool"
)

// staticPeers is a fixed peer list for tests
type staticPeers struct {
	peers []Peer
}

func (s *staticPeers) Peers() []Peer { return s.peers }

func newTestPool(t *testing.T) *workerpool.WorkerPool {
	t.Helper()
	pool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "test",
		MaxWorkers: 2,
		QueueSize:  16,
		Logger:     zap.NewNop(),
	})
	t.Cleanup(func() { pool.Stop(time.Second) })
	return pool
}

func TestWrap_LocalResultReturned(t *testing.T) {
	b := NewBroadcaster(nil, NewNodeClient(time.Second, zap.NewNop()), newTestPool(t), time.Second, zap.NewNop())

	wrapped := b.Wrap(OpMount, func(ctx context.Context, botID string) (bool, error) {
		return true, nil
	})

	ok, err := wrapped(context.Background(), "bot-a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWrap_LocalErrorSkipsFanOut(t *testing.T) {
	var remoteCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remoteCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	peers := &staticPeers{peers: []Peer{{NodeID: "node-2", APIAddr: strings.TrimPrefix(server.URL, "http://")}}}
	b := NewBroadcaster(peers, NewNodeClient(time.Second, zap.NewNop()), newTestPool(t), time.Second, zap.NewNop())

	wrapped := b.Wrap(OpMount, func(ctx context.Context, botID string) (bool, error) {
		return false, errors.New("context canceled")
	})

	_, err := wrapped(context.Background(), "bot-a")
	assert.Error(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, remoteCalls)
}

func TestWrap_FansOutToAllPeers(t *testing.T) {
	var mu sync.Mutex
	var requests []string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	server1 := httptest.NewServer(handler)
	defer server1.Close()
	server2 := httptest.NewServer(handler)
	defer server2.Close()

	peers := &staticPeers{peers: []Peer{
		{NodeID: "node-2", APIAddr: strings.TrimPrefix(server1.URL, "http://")},
		{NodeID: "node-3", APIAddr: strings.TrimPrefix(server2.URL, "http://")},
	}}
	b := NewBroadcaster(peers, NewNodeClient(time.Second, zap.NewNop()), newTestPool(t), time.Second, zap.NewNop())

	wrapped := b.Wrap(OpUnmount, func(ctx context.Context, botID string) (bool, error) {
		return true, nil
	})

	ok, err := wrapped(context.Background(), "bot-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// Fan-out is asynchronous; wait for both peers to be hit.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := len(requests) == 2
		mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 2)
	for _, path := range requests {
		assert.Equal(t, "/internal/v1/bots/bot-a/unmount", path)
	}
}

func TestNodeClient_NonOKStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewNodeClient(time.Second, zap.NewNop())
	peer := Peer{NodeID: "node-2", APIAddr: strings.TrimPrefix(server.URL, "http://")}

	err := client.Invoke(context.Background(), peer, OpMount, "bot-a")
	assert.Error(t, err)
}

func TestNodeClient_UnreachablePeer(t *testing.T) {
	client := NewNodeClient(200*time.Millisecond, zap.NewNop())
	peer := Peer{NodeID: "node-2", APIAddr: "127.0.0.1:1"}

	err := client.Invoke(context.Background(), peer, OpMount, "bot-a")
	assert.Error(t, err)
}
