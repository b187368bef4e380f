package cluster

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/util/workerpool"
)

// LocalFunc is a node-local lifecycle operation for one bot.
type LocalFunc func(ctx context.Context, botID string) (bool, error)

// Broadcaster turns a node-local lifecycle operation into a
// cluster-wide one by explicit composition: the wrapped function runs
// the local operation synchronously and asks every reachable peer to
// run the same operation fire-and-forget. The wrapped call returns as
// soon as the local execution completes; remote outcomes are not
// awaited and surface only through health aggregation. This trades
// strict consistency for availability.
type Broadcaster struct {
	peers         PeerLister
	client        *NodeClient
	pool          *workerpool.WorkerPool
	remoteTimeout time.Duration
	logger        *zap.Logger
}

// NewBroadcaster creates a broadcaster. peers may be nil in a
// single-node deployment; the wrapped function then degrades to the
// local call.
func NewBroadcaster(peers PeerLister, client *NodeClient, pool *workerpool.WorkerPool, remoteTimeout time.Duration, logger *zap.Logger) *Broadcaster {
	if remoteTimeout <= 0 {
		remoteTimeout = 30 * time.Second
	}
	return &Broadcaster{
		peers:         peers,
		client:        client,
		pool:          pool,
		remoteTimeout: remoteTimeout,
		logger:        logger,
	}
}

// Wrap composes a local operation with cluster-wide fan-out
func (b *Broadcaster) Wrap(op Op, local LocalFunc) LocalFunc {
	return func(ctx context.Context, botID string) (bool, error) {
		ok, err := local(ctx, botID)
		if err != nil {
			return ok, err
		}

		b.fanOut(op, botID)
		return ok, nil
	}
}

// fanOut schedules the operation on every reachable peer. Each remote
// call runs on the worker pool with a detached context so a slow peer
// cannot stall the admin request that triggered the broadcast.
func (b *Broadcaster) fanOut(op Op, botID string) {
	if b.peers == nil {
		return
	}

	for _, peer := range b.peers.Peers() {
		peer := peer
		task := workerpool.Task{
			ID: fmt.Sprintf("%s:%s:%s", op, botID, peer.NodeID),
			Fn: func(taskCtx context.Context) error {
				ctx, cancel := context.WithTimeout(taskCtx, b.remoteTimeout)
				defer cancel()
				return b.client.Invoke(ctx, peer, op, botID)
			},
		}
		if err := b.pool.Submit(task); err != nil {
			b.logger.Warn("Failed to schedule broadcast to peer",
				zap.String("op", string(op)),
				zap.String("bot_id", botID),
				zap.String("peer", peer.NodeID),
				zap.Error(err))
		}
	}
}
