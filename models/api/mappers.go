package api

import "agentpool/models"

// DomainInstanceToAPIPoolAgent converts a domain Instance to its API projection.
func DomainInstanceToAPIPoolAgent(instance *models.Instance) *PoolAgentModel {
	if instance == nil {
		return nil
	}

	return &PoolAgentModel{
		ID:             instance.ID,
		Name:           instance.Name,
		URL:            instance.URL,
		Status:         string(instance.Status),
		AgentName:      instance.AgentName,
		ConversationID: instance.ConversationID,
		InviteURL:      instance.InviteURL,
		CreatedAt:      instance.CreatedAt,
		ClaimedAt:      instance.ClaimedAt,
	}
}

// DomainInstancesToAPIPoolAgents groups instances by pool status for the listing endpoint.
func DomainInstancesToAPIPoolAgents(instances []*models.Instance) *PoolAgentsModel {
	grouped := &PoolAgentsModel{
		Claimed:  []*PoolAgentModel{},
		Crashed:  []*PoolAgentModel{},
		Idle:     []*PoolAgentModel{},
		Starting: []*PoolAgentModel{},
	}

	for _, instance := range instances {
		agent := DomainInstanceToAPIPoolAgent(instance)
		switch instance.Status {
		case models.PoolStatusClaimed:
			grouped.Claimed = append(grouped.Claimed, agent)
		case models.PoolStatusCrashed:
			grouped.Crashed = append(grouped.Crashed, agent)
		case models.PoolStatusIdle:
			grouped.Idle = append(grouped.Idle, agent)
		case models.PoolStatusStarting, models.PoolStatusClaiming:
			grouped.Starting = append(grouped.Starting, agent)
		}
	}

	return grouped
}

// DomainPoolCountsToAPIPoolCounts converts the per-status tally.
func DomainPoolCountsToAPIPoolCounts(counts *models.PoolCounts) *PoolCountsModel {
	if counts == nil {
		return nil
	}

	return &PoolCountsModel{
		Starting: counts.Starting,
		Idle:     counts.Idle,
		Claimed:  counts.Claimed,
		Crashed:  counts.Crashed,
	}
}

// DomainInstanceToAPIClaimResult converts a freshly claimed instance to the claim response.
func DomainInstanceToAPIClaimResult(instance *models.Instance) *ClaimResultModel {
	if instance == nil {
		return nil
	}

	return &ClaimResultModel{
		InstanceID:     instance.ID,
		URL:            instance.URL,
		AgentName:      instance.AgentName,
		ConversationID: instance.ConversationID,
		InviteURL:      instance.InviteURL,
		ClaimedAt:      instance.ClaimedAt,
	}
}
