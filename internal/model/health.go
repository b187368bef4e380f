package model

import "time"

// BotStatus is the health state of a bot on one node.
type BotStatus string

const (
	BotStatusHealthy   BotStatus = "healthy"
	BotStatusUnhealthy BotStatus = "unhealthy"
	BotStatusDisabled  BotStatus = "disabled"
)

// HealthRecord is the per-node, per-bot health counter set. Records
// are owned by the node that produced them; cluster-wide reads merge
// node snapshots without mutating them.
type HealthRecord struct {
	Status        BotStatus `json:"status"`
	ErrorCount    int       `json:"error_count"`
	WarningCount  int       `json:"warning_count"`
	CriticalCount int       `json:"critical_count"`
}

// NodeHealthView is one node's snapshot of the health of every bot it
// tracks. A bot absent from all nodes' views means "no data", never
// "healthy".
type NodeHealthView struct {
	NodeID    string                  `json:"node_id"`
	UpdatedAt time.Time               `json:"updated_at"`
	Bots      map[string]HealthRecord `json:"bots"`
}
