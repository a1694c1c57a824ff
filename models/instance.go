package models

import (
	"time"
)

// PoolStatus is the pool-visible lifecycle status of an instance.
type PoolStatus string

const (
	PoolStatusStarting PoolStatus = "starting"
	PoolStatusIdle     PoolStatus = "idle"
	PoolStatusClaiming PoolStatus = "claiming"
	PoolStatusClaimed  PoolStatus = "claimed"
	PoolStatusCrashed  PoolStatus = "crashed"
	PoolStatusDead     PoolStatus = "dead"
	PoolStatusSleeping PoolStatus = "sleeping"
)

// DeployStatus is the raw deploy status reported by the compute provider.
type DeployStatus string

const (
	DeployStatusSuccess   DeployStatus = "SUCCESS"
	DeployStatusSleeping  DeployStatus = "SLEEPING"
	DeployStatusFailed    DeployStatus = "FAILED"
	DeployStatusCrashed   DeployStatus = "CRASHED"
	DeployStatusRemoved   DeployStatus = "REMOVED"
	DeployStatusSkipped   DeployStatus = "SKIPPED"
	DeployStatusQueued    DeployStatus = "QUEUED"
	DeployStatusWaiting   DeployStatus = "WAITING"
	DeployStatusBuilding  DeployStatus = "BUILDING"
	DeployStatusDeploying DeployStatus = "DEPLOYING"
)

// IsTerminalFailure reports whether the deploy status means the runtime is gone for good.
func (s DeployStatus) IsTerminalFailure() bool {
	switch s {
	case DeployStatusFailed, DeployStatusCrashed, DeployStatusRemoved, DeployStatusSkipped:
		return true
	}
	return false
}

// IsTransient reports whether the deploy status means a deploy is still in flight.
func (s DeployStatus) IsTransient() bool {
	switch s {
	case DeployStatusQueued, DeployStatusWaiting, DeployStatusBuilding, DeployStatusDeploying:
		return true
	}
	return false
}

type Instance struct {
	ID             string     `json:"id"              db:"id"`
	Name           string     `json:"name"            db:"name"`
	URL            *string    `json:"url"             db:"url"`
	Status         PoolStatus `json:"status"          db:"status"`
	AgentName      *string    `json:"agent_name"      db:"agent_name"`
	ConversationID *string    `json:"conversation_id" db:"conversation_id"`
	InviteURL      *string    `json:"invite_url"      db:"invite_url"`
	Instructions   *string    `json:"instructions"    db:"instructions"`
	CreatedAt      time.Time  `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"      db:"updated_at"`
	ClaimedAt      *time.Time `json:"claimed_at"      db:"claimed_at"`
}

// IsClaimed reports whether the instance is bound to a conversation. A claimed
// instance must never be silently deleted by reconciliation.
func (i *Instance) IsClaimed() bool {
	return i.Status == PoolStatusClaimed || i.Status == PoolStatusCrashed ||
		i.ConversationID != nil || i.ClaimedAt != nil
}

// Age returns how long ago the instance row was created.
func (i *Instance) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}

// PoolCounts is the per-status tally exposed on the public counts endpoint.
type PoolCounts struct {
	Starting int `json:"starting" db:"starting"`
	Idle     int `json:"idle"     db:"idle"`
	Claimed  int `json:"claimed"  db:"claimed"`
	Crashed  int `json:"crashed"  db:"crashed"`
}
