package cluster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Op is a lifecycle operation that can be fanned out to peers.
type Op string

const (
	OpMount   Op = "mount"
	OpUnmount Op = "unmount"
)

// NodeClient invokes lifecycle operations on remote orchestrator nodes
// over their internal HTTP API.
type NodeClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNodeClient creates a node client with a per-call timeout
func NewNodeClient(timeout time.Duration, logger *zap.Logger) *NodeClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NodeClient{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Invoke executes one lifecycle operation for one bot on a peer node.
// The remote node performs the operation locally only; it does not
// re-broadcast.
func (c *NodeClient) Invoke(ctx context.Context, peer Peer, op Op, botID string) error {
	url := fmt.Sprintf("http://%s/internal/v1/bots/%s/%s", peer.APIAddr, botID, op)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for node %s: %w", peer.NodeID, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("node %s unreachable: %w", peer.NodeID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node %s returned status %d for %s %s", peer.NodeID, resp.StatusCode, op, botID)
	}
	return nil
}
