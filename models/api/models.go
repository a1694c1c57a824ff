package api

import "time"

// PoolAgentModel is the camel-cased instance projection returned to the
// dashboard and CLI consumers.
type PoolAgentModel struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	URL            *string    `json:"url"`
	Status         string     `json:"status"`
	AgentName      *string    `json:"agentName"`
	ConversationID *string    `json:"conversationId"`
	InviteURL      *string    `json:"inviteUrl"`
	CreatedAt      time.Time  `json:"createdAt"`
	ClaimedAt      *time.Time `json:"claimedAt"`
}

// PoolCountsModel is the public per-status tally.
type PoolCountsModel struct {
	Starting int `json:"starting"`
	Idle     int `json:"idle"`
	Claimed  int `json:"claimed"`
	Crashed  int `json:"crashed"`
}

// PoolAgentsModel groups instances by pool status for the dashboard listing.
type PoolAgentsModel struct {
	Claimed  []*PoolAgentModel `json:"claimed"`
	Crashed  []*PoolAgentModel `json:"crashed"`
	Idle     []*PoolAgentModel `json:"idle"`
	Starting []*PoolAgentModel `json:"starting"`
}

// ClaimResultModel is returned on a successful claim.
type ClaimResultModel struct {
	InstanceID     string     `json:"instanceId"`
	URL            *string    `json:"url"`
	AgentName      *string    `json:"agentName"`
	ConversationID *string    `json:"conversationId"`
	InviteURL      *string    `json:"inviteUrl"`
	ClaimedAt      *time.Time `json:"claimedAt"`
}
