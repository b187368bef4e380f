// Package cluster provides peer membership and cluster-wide fan-out of
// bot lifecycle operations.
package cluster

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// Peer is another orchestrator node reachable over its internal API.
type Peer struct {
	NodeID  string `json:"node_id"`
	APIAddr string `json:"api_addr"`
}

// PeerLister yields the currently reachable peers, excluding this node.
type PeerLister interface {
	Peers() []Peer
}

// MembershipConfig holds gossip membership configuration
type MembershipConfig struct {
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// Membership tracks cluster peers via gossip. Each node advertises its
// internal API address in its node metadata so peers know where to send
// broadcast lifecycle calls.
type Membership struct {
	list   *memberlist.Memberlist
	nodeID string
	meta   Peer
	logger *zap.Logger
}

// NewMembership joins the gossip cluster and starts tracking peers
func NewMembership(cfg *MembershipConfig, nodeID, apiAddr string, logger *zap.Logger) (*Membership, error) {
	m := &Membership{
		nodeID: nodeID,
		meta:   Peer{NodeID: nodeID, APIAddr: apiAddr},
		logger: logger,
	}

	// Configure memberlist
	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = nodeID
	mlConfig.BindPort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = m
	mlConfig.Events = &membershipEventDelegate{membership: m}

	// Create memberlist
	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	m.list = ml

	// Join seed nodes
	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	return m, nil
}

// Peers returns every reachable peer except this node. Peers whose
// metadata cannot be decoded are skipped.
func (m *Membership) Peers() []Peer {
	members := m.list.Members()
	peers := make([]Peer, 0, len(members))
	for _, member := range members {
		if member.Name == m.nodeID {
			continue
		}
		var peer Peer
		if err := json.Unmarshal(member.Meta, &peer); err != nil {
			m.logger.Warn("Skipping peer with undecodable metadata",
				zap.String("node", member.Name),
				zap.Error(err))
			continue
		}
		peers = append(peers, peer)
	}
	return peers
}

// NodeMeta implements memberlist.Delegate
func (m *Membership) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(m.meta)
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (m *Membership) NotifyMsg(data []byte) {}

// GetBroadcasts implements memberlist.Delegate
func (m *Membership) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (m *Membership) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState implements memberlist.Delegate
func (m *Membership) MergeRemoteState(buf []byte, join bool) {}

// Shutdown leaves the cluster
func (m *Membership) Shutdown() error {
	if err := m.list.Leave(time.Second); err != nil {
		m.logger.Warn("Failed to announce leave", zap.Error(err))
	}
	return m.list.Shutdown()
}

// membershipEventDelegate logs membership events
type membershipEventDelegate struct {
	membership *Membership
}

// NotifyJoin is called when a node joins
func (d *membershipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.membership.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()))
}

// NotifyLeave is called when a node leaves
func (d *membershipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.membership.logger.Info("Node left",
		zap.String("node_id", node.Name))
}

// NotifyUpdate is called when a node is updated
func (d *membershipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.membership.logger.Debug("Node updated",
		zap.String("node_id", node.Name))
}
